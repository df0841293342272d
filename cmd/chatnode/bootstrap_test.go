package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xendarboh/chatnode/wire/chatpb"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dataDir := filepath.Join(t.TempDir(), "data")
	cfgPath := filepath.Join(t.TempDir(), "node.toml")
	body := `
[Node]
name = "alice"

[Network]
bind_address = "127.0.0.1:0"

[Storage]
data_dir = "` + dataDir + `"
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0600))
	return cfgPath
}

func TestBuildWiresEveryCollaborator(t *testing.T) {
	n, err := build(writeTestConfig(t), nil)
	require.NoError(t, err)
	defer n.close()

	require.NotEmpty(t, n.identity.PeerID())

	local, err := n.st.GetLocalPeer()
	require.NoError(t, err)
	require.Equal(t, n.identity.PeerID(), local.ID)
	require.Equal(t, "alice", local.Name)
}

func TestBuildReopensExistingIdentityAndStore(t *testing.T) {
	cfgPath := writeTestConfig(t)

	first, err := build(cfgPath, nil)
	require.NoError(t, err)
	peerID := first.identity.PeerID()
	first.close()

	second, err := build(cfgPath, nil)
	require.NoError(t, err)
	defer second.close()
	require.Equal(t, peerID, second.identity.PeerID())
}

func TestBuildWiringSupportsOwnMessageAppendAndRead(t *testing.T) {
	n, err := build(writeTestConfig(t), nil)
	require.NoError(t, err)
	defer n.close()

	payload := (&chatpb.Payload{Text: "hello"}).Marshal()
	_, err = n.manager.AddOwnMessage("msg-1", time.Now().Unix(), payload)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rows, err := n.indexer.GetAllAfter("")
		return err == nil && len(rows) == 1 && rows[0].Text == "hello"
	}, time.Second, 10*time.Millisecond)
}

func TestBuildRejectsMissingConfig(t *testing.T) {
	_, err := build(filepath.Join(t.TempDir(), "missing.toml"), nil)
	require.Error(t, err)
}
