package identity

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStatefilePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "identity.enc")
}

func TestLoadOrCreateGeneratesAndReloadsWithSamePassphrase(t *testing.T) {
	path := newTestStatefilePath(t)

	first, err := LoadOrCreate(path, []byte("hunter2"))
	require.NoError(t, err)
	require.NotEmpty(t, first.PeerID())
	require.Len(t, first.PublicKey(), 32)

	second, err := LoadOrCreate(path, []byte("hunter2"))
	require.NoError(t, err)
	require.Equal(t, first.PeerID(), second.PeerID())
	require.Equal(t, first.PublicKey(), second.PublicKey())
}

func TestLoadOrCreateSigningIsConsistentAcrossReload(t *testing.T) {
	path := newTestStatefilePath(t)

	first, err := LoadOrCreate(path, []byte("hunter2"))
	require.NoError(t, err)
	sig, err := first.Sign([]byte("message"))
	require.NoError(t, err)

	second, err := LoadOrCreate(path, []byte("hunter2"))
	require.NoError(t, err)
	require.True(t, ed25519.Verify(second.PublicKey(), []byte("message"), sig))
}

func TestLoadOrCreateRejectsWrongPassphrase(t *testing.T) {
	path := newTestStatefilePath(t)

	_, err := LoadOrCreate(path, []byte("correct-passphrase"))
	require.NoError(t, err)

	_, err = LoadOrCreate(path, []byte("wrong-passphrase"))
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestLoadOrCreateRejectsCorruptStatefile(t *testing.T) {
	path := newTestStatefilePath(t)

	_, err := LoadOrCreate(path, []byte("hunter2"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("not a real statefile"), 0600))

	_, err = LoadOrCreate(path, []byte("hunter2"))
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestLoadOrCreateRejectsStatefileShorterThanNonce(t *testing.T) {
	path := newTestStatefilePath(t)
	require.NoError(t, os.WriteFile(path, []byte("short"), 0600))

	_, err := LoadOrCreate(path, []byte("hunter2"))
	require.ErrorIs(t, err, ErrAuthFailed)
}
