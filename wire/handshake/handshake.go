// Package handshake implements the mutually authenticated key-agreement
// exchange run once per raw connection, before any framed traffic:
// an ephemeral X25519 Diffie-Hellman exchange, each side's signature
// over the ephemeral transcript under its long-term Ed25519 key, and
// HKDF-SHA256 derivation of the symmetric key used by wire/cryptoconn.
//
// The message layout and derivation are fixed by the protocol this
// node speaks to every other implementation of it, not by local
// convenience: field order and sizes below must not change.
package handshake

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	x25519KeySize   = 32
	ed25519PubSize  = ed25519.PublicKeySize
	ed25519SigSize  = ed25519.SignatureSize
	symmetricKeySize = 32
	hkdfInfo        = "p2p-chat"
)

// ErrAuthFailed is returned when a peer's signature over the ephemeral
// transcript does not verify.
var ErrAuthFailed = errors.New("handshake: authentication failed")

// Result is what each side learns after a successful handshake.
type Result struct {
	// SymmetricKey is the derived key for the framed AES-GCM cipher.
	SymmetricKey [symmetricKeySize]byte
	// RemoteLongTermKey is the other side's verified Ed25519 public key.
	RemoteLongTermKey ed25519.PublicKey
}

// Signer is the long-term identity: it produces signatures without
// ever exposing the private key itself, so a guarded key (see the
// identity package) never has to leave its owner.
type Signer interface {
	PublicKey() ed25519.PublicKey
	Sign(msg []byte) ([]byte, error)
}

// RemotePeerID is the lowercase hex peer id of the verified remote key.
func (r *Result) RemotePeerID() string {
	return hex.EncodeToString(r.RemoteLongTermKey)
}

func genEphemeral() (priv, pub [x25519KeySize]byte, err error) {
	if _, err = io.ReadFull(rand.Reader, priv[:]); err != nil {
		return
	}
	curve25519.ScalarBaseMult(&pub, &priv)
	return
}

func deriveKey(shared []byte) ([symmetricKeySize]byte, error) {
	var out [symmetricKeySize]byte
	kdf := hkdf.New(sha256.New, shared, nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, out[:]); err != nil {
		return out, fmt.Errorf("handshake: hkdf: %w", err)
	}
	return out, nil
}

// RunDialer performs the dialer D's side of the handshake over conn,
// authenticating with longTerm.
func RunDialer(conn io.ReadWriter, longTerm Signer) (*Result, error) {
	dSk, dPk, err := genEphemeral()
	if err != nil {
		return nil, fmt.Errorf("handshake: ephemeral keygen: %w", err)
	}
	if _, err := conn.Write(dPk[:]); err != nil {
		return nil, fmt.Errorf("handshake: send d_pk: %w", err)
	}

	// a_pk || A_long_pub || sig_A
	aMsg := make([]byte, x25519KeySize+ed25519PubSize+ed25519SigSize)
	if _, err := io.ReadFull(conn, aMsg); err != nil {
		return nil, fmt.Errorf("handshake: read acceptor message: %w", err)
	}
	var aPk [x25519KeySize]byte
	copy(aPk[:], aMsg[:x25519KeySize])
	aLongPub := ed25519.PublicKey(append([]byte(nil), aMsg[x25519KeySize:x25519KeySize+ed25519PubSize]...))
	sigA := aMsg[x25519KeySize+ed25519PubSize:]

	transcript := transcriptOf(dPk[:], aPk[:])
	if !ed25519.Verify(aLongPub, transcript, sigA) {
		return nil, ErrAuthFailed
	}

	dLongPub := longTerm.PublicKey()
	sigD, err := longTerm.Sign(transcript)
	if err != nil {
		return nil, fmt.Errorf("handshake: sign transcript: %w", err)
	}
	dMsg := append(append([]byte(nil), dLongPub...), sigD...)
	if _, err := conn.Write(dMsg); err != nil {
		return nil, fmt.Errorf("handshake: send dialer signature: %w", err)
	}

	shared, err := curve25519.X25519(dSk[:], aPk[:])
	if err != nil {
		return nil, fmt.Errorf("handshake: x25519: %w", err)
	}
	key, err := deriveKey(shared)
	if err != nil {
		return nil, err
	}
	return &Result{SymmetricKey: key, RemoteLongTermKey: aLongPub}, nil
}

// RunAcceptor performs the acceptor A's side of the handshake over conn,
// authenticating with longTerm.
func RunAcceptor(conn io.ReadWriter, longTerm Signer) (*Result, error) {
	var dPk [x25519KeySize]byte
	if _, err := io.ReadFull(conn, dPk[:]); err != nil {
		return nil, fmt.Errorf("handshake: read d_pk: %w", err)
	}

	aSk, aPk, err := genEphemeral()
	if err != nil {
		return nil, fmt.Errorf("handshake: ephemeral keygen: %w", err)
	}
	transcript := transcriptOf(dPk[:], aPk[:])
	aLongPub := longTerm.PublicKey()
	sigA, err := longTerm.Sign(transcript)
	if err != nil {
		return nil, fmt.Errorf("handshake: sign transcript: %w", err)
	}
	aMsg := append(append(append([]byte(nil), aPk[:]...), aLongPub...), sigA...)
	if _, err := conn.Write(aMsg); err != nil {
		return nil, fmt.Errorf("handshake: send acceptor message: %w", err)
	}

	dMsg := make([]byte, ed25519PubSize+ed25519SigSize)
	if _, err := io.ReadFull(conn, dMsg); err != nil {
		return nil, fmt.Errorf("handshake: read dialer signature: %w", err)
	}
	dLongPub := ed25519.PublicKey(append([]byte(nil), dMsg[:ed25519PubSize]...))
	sigD := dMsg[ed25519PubSize:]
	if !ed25519.Verify(dLongPub, transcript, sigD) {
		return nil, ErrAuthFailed
	}

	shared, err := curve25519.X25519(aSk[:], dPk[:])
	if err != nil {
		return nil, fmt.Errorf("handshake: x25519: %w", err)
	}
	key, err := deriveKey(shared)
	if err != nil {
		return nil, err
	}
	return &Result{SymmetricKey: key, RemoteLongTermKey: dLongPub}, nil
}

func transcriptOf(dPk, aPk []byte) []byte {
	t := make([]byte, 0, len(dPk)+len(aPk))
	t = append(t, dPk...)
	t = append(t, aPk...)
	return t
}
