// Package identity owns the node's single long-term Ed25519 keypair:
// generating it on first start, persisting it encrypted at rest, and
// guarding the decrypted signing key in memory for the process lifetime.
//
// The on-disk encoding and rename-based atomic write are adapted from
// the statefile writer pattern used elsewhere in this codebase; the
// at-rest cipher is NaCl secretbox with an Argon2-derived key, matching
// that same statefile convention, distinct from the AES-GCM cipher used
// on the wire (see wire/cryptoconn).
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/awnumar/memguard"
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

// ErrAuthFailed is returned when the statefile cannot be decrypted with
// the supplied passphrase, or when it is corrupt.
var ErrAuthFailed = errors.New("identity: failed to decrypt statefile")

// record is the CBOR-encoded payload stored at rest.
type record struct {
	Seed []byte // ed25519 seed, 32 bytes
}

// Identity holds the node's long-term keypair. The private seed lives
// inside a memguard-protected enclave for the life of the process and
// is never exposed as a plain byte slice outside Sign.
type Identity struct {
	verifyKey ed25519.PublicKey
	enclave   *memguard.Enclave
	path      string
	diskKey   [keySize]byte
}

// PeerID is the lowercase hex encoding of the verifying key, used
// throughout the module as the stable identifier for a peer.
func (id *Identity) PeerID() string {
	return hex.EncodeToString(id.verifyKey)
}

// PublicKey returns the Ed25519 verifying key.
func (id *Identity) PublicKey() ed25519.PublicKey {
	return id.verifyKey
}

// Sign signs msg with the guarded long-term private key.
func (id *Identity) Sign(msg []byte) ([]byte, error) {
	buf, err := id.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("identity: open enclave: %w", err)
	}
	defer buf.Destroy()
	priv := ed25519.NewKeyFromSeed(buf.Bytes())
	return ed25519.Sign(priv, msg), nil
}

// Destroy does nothing: it neither wipes nor releases the enclave.
func (id *Identity) Destroy() {
	// The buffer Sign opens from the enclave is destroyed before Sign
	// returns; the enclave itself holds only ciphertext and is left in
	// place.
}

// LoadOrCreate loads the identity from path, decrypting with passphrase,
// or generates and persists a new identity if path does not exist yet.
func LoadOrCreate(path string, passphrase []byte) (*Identity, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return create(path, passphrase)
	}
	return load(path, passphrase)
}

func create(path string, passphrase []byte) (*Identity, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	seed := priv.Seed()
	id, err := fromSeed(seed, passphrase)
	if err != nil {
		return nil, err
	}
	id.path = path
	secret := argon2.Key(passphrase, nil, 3, 32*1024, 4, keySize)
	copy(id.diskKey[:], secret)
	if err := id.persist(seed); err != nil {
		return nil, err
	}
	return id, nil
}

func load(path string, passphrase []byte) (*Identity, error) {
	secret := argon2.Key(passphrase, nil, 3, 32*1024, 4, keySize)
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: read statefile: %w", err)
	}
	if len(raw) < nonceSize {
		return nil, ErrAuthFailed
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	ciphertext := raw[nonceSize:]
	var key [keySize]byte
	copy(key[:], secret)
	plaintext, ok := secretbox.Open(nil, ciphertext, &nonce, &key)
	if !ok {
		return nil, ErrAuthFailed
	}
	var rec record
	if err := cbor.Unmarshal(plaintext, &rec); err != nil {
		return nil, fmt.Errorf("identity: decode statefile: %w", err)
	}
	id, err := fromSeed(rec.Seed, passphrase)
	if err != nil {
		return nil, err
	}
	id.path = path
	id.diskKey = key
	return id, nil
}

func fromSeed(seed []byte, passphrase []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity: bad seed length %d", len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	buf := memguard.NewBufferFromBytes(append([]byte(nil), seed...))
	return &Identity{
		verifyKey: pub,
		enclave:   buf.Seal(),
	}, nil
}

func (id *Identity) persist(seed []byte) error {
	rec := record{Seed: seed}
	plaintext, err := cbor.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("identity: encode statefile: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := rand.Reader.Read(nonce[:]); err != nil {
		return fmt.Errorf("identity: read nonce: %w", err)
	}
	ciphertext := secretbox.Seal(nil, plaintext, &nonce, &id.diskKey)
	out := append(nonce[:], ciphertext...)

	tmp := id.path + ".tmp"
	if err := ioutil.WriteFile(tmp, out, 0600); err != nil {
		return fmt.Errorf("identity: write statefile: %w", err)
	}
	if err := os.Rename(tmp, id.path); err != nil {
		return fmt.Errorf("identity: rename statefile: %w", err)
	}
	return nil
}
