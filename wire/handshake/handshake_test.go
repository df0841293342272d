package handshake

import (
	"crypto/ed25519"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

type staticSigner struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func newStaticSigner(t *testing.T) staticSigner {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return staticSigner{pub: pub, priv: priv}
}

func (s staticSigner) PublicKey() ed25519.PublicKey { return s.pub }
func (s staticSigner) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, msg), nil
}

func TestHandshakeDerivesMatchingKeyAndIdentities(t *testing.T) {
	dialerConn, acceptorConn := net.Pipe()
	defer dialerConn.Close()
	defer acceptorConn.Close()

	dialerSigner := newStaticSigner(t)
	acceptorSigner := newStaticSigner(t)

	type dialOut struct {
		res *Result
		err error
	}
	ch := make(chan dialOut, 1)
	go func() {
		res, err := RunDialer(dialerConn, dialerSigner)
		ch <- dialOut{res, err}
	}()

	acceptRes, acceptErr := RunAcceptor(acceptorConn, acceptorSigner)
	require.NoError(t, acceptErr)

	out := <-ch
	require.NoError(t, out.err)

	require.Equal(t, out.res.SymmetricKey, acceptRes.SymmetricKey)
	require.Equal(t, dialerSigner.pub, acceptRes.RemoteLongTermKey)
	require.Equal(t, acceptorSigner.pub, out.res.RemoteLongTermKey)
	require.Equal(t, out.res.RemotePeerID(), hexOf(acceptorSigner.pub))
}

func hexOf(pub ed25519.PublicKey) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(pub)*2)
	for i, b := range pub {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}

// tamperingConn flips the last byte of every Write, simulating a
// corrupted or forged message on the wire.
type tamperingConn struct {
	net.Conn
}

func (c tamperingConn) Write(p []byte) (int, error) {
	tampered := append([]byte(nil), p...)
	tampered[len(tampered)-1] ^= 0xFF
	return c.Conn.Write(tampered)
}

func TestHandshakeRejectsTamperedSignature(t *testing.T) {
	dialerConn, acceptorConn := net.Pipe()
	defer dialerConn.Close()
	defer acceptorConn.Close()

	dialerSigner := newStaticSigner(t)
	acceptorSigner := newStaticSigner(t)

	// the acceptor's outgoing message (a_pk || A_long_pub || sig_A) is
	// tampered in flight; the dialer must reject it rather than derive
	// a key with an unverified peer.
	go func() {
		_, _ = RunAcceptor(tamperingConn{acceptorConn}, acceptorSigner)
	}()

	_, err := RunDialer(dialerConn, dialerSigner)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrAuthFailed)
}
