package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// writeTestConfigWithSweep is writeTestConfig with a caller-chosen bind
// address and sweep interval, for tests that need two real nodes
// talking over loopback on a short sweep cadence.
func writeTestConfigWithSweep(t *testing.T, name, bindAddress, sweepInterval string) string {
	t.Helper()
	dataDir := filepath.Join(t.TempDir(), "data")
	cfgPath := filepath.Join(t.TempDir(), "node.toml")
	body := fmt.Sprintf(`
[Node]
name = "%s"

[Network]
bind_address = "%s"

[Storage]
data_dir = "%s"

[Sync]
sweep_interval = "%s"
`, name, bindAddress, dataDir, sweepInterval)
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0600))
	return cfgPath
}

// TestSweepDialsKnownPeerOnceItBecomesReachable exercises the scenario
// where a peer is seeded into the address book (as bootstrap's
// config-driven peers and add-peer both do) while unreachable, and only
// later starts listening. The periodic sweep, not any event-driven
// path, is what must notice the address is now live and pull the
// peer's backlog down.
func TestSweepDialsKnownPeerOnceItBecomesReachable(t *testing.T) {
	// Reserve a free loopback port and release it immediately, so bob's
	// address book can name alice's eventual address before anything is
	// listening there.
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	aliceAddr := probe.Addr().String()
	require.NoError(t, probe.Close())

	alice, err := build(writeTestConfigWithSweep(t, "alice", aliceAddr, "50ms"), nil)
	require.NoError(t, err)
	defer alice.close()

	bob, err := build(writeTestConfigWithSweep(t, "bob", "127.0.0.1:0", "50ms"), nil)
	require.NoError(t, err)
	defer bob.close()

	// bob learns alice's peer id and address the same way add-peer or a
	// config-seeded Peer entry would, well before alice is reachable.
	bob.addrBook.Set(alice.identity.PeerID(), aliceAddr)

	bob.engine.Run()
	bob.resolver.Run()
	defer func() {
		bob.engine.Stop()
		bob.resolver.Stop()
		bob.pool.Stop()
	}()

	// Let at least one sweep fire against the unreachable address; it
	// must fail quietly rather than ever establishing a session.
	time.Sleep(150 * time.Millisecond)
	require.Empty(t, bob.pool.CurrentPeers())

	for i := 1; i <= 5; i++ {
		_, err := alice.manager.AddOwnMessage(fmt.Sprintf("m%d", i), time.Now().Unix(), []byte("hello"))
		require.NoError(t, err)
	}

	listener, err := net.Listen("tcp", aliceAddr)
	require.NoError(t, err)
	defer listener.Close()

	alice.engine.Run()
	alice.resolver.Run()
	defer func() {
		alice.engine.Stop()
		alice.resolver.Stop()
		alice.pool.Stop()
	}()
	go acceptLoop(alice, listener)

	require.Eventually(t, func() bool {
		r, err := bob.manager.GetOrCreateRepository(alice.identity.PeerID())
		return err == nil && r.GetState() == 5
	}, 3*time.Second, 20*time.Millisecond)

	require.Contains(t, bob.pool.CurrentPeers(), alice.identity.PeerID())
}
