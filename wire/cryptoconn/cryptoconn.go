// Package cryptoconn wraps a raw duplex byte stream (typically a
// net.Conn, post-handshake) in a framed AES-256-GCM cipher, presenting
// the result as a net.Conn so a multiplexing session can be layered on
// top unmodified.
//
// Frame layout on the wire, one frame per logical Write call:
//
//	u16_be frame_len ; nonce[12] ; ciphertext_and_tag[frame_len-12]
//
// AAD is empty; frame_len is unauthenticated framing only, never
// trusted beyond "how many bytes to read next".
package cryptoconn

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

const nonceSize = 12

// ErrShortFrame is returned when a received frame's length is smaller
// than the nonce, which can never be a legitimately produced frame.
var ErrShortFrame = errors.New("cryptoconn: frame length smaller than nonce size")

// Conn wraps a net.Conn with the framed AES-GCM cipher described above.
// It implements net.Conn.
type Conn struct {
	net.Conn
	aead cipher.AEAD

	plain bytes.Buffer // decrypted plaintext not yet consumed by Read
}

// New wraps conn using sym as the 32-byte AES-256 key for both
// directions (the handshake derives a single shared key; callers that
// want independent per-direction keys can derive two and construct two
// conns layered appropriately, which this module does not need).
func New(conn net.Conn, sym *[32]byte) (*Conn, error) {
	block, err := aes.NewCipher(sym[:])
	if err != nil {
		return nil, fmt.Errorf("cryptoconn: aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptoconn: gcm: %w", err)
	}
	return &Conn{Conn: conn, aead: aead}, nil
}

// Write encrypts p as a single frame and writes it to the underlying
// connection.
func (c *Conn) Write(p []byte) (int, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return 0, fmt.Errorf("cryptoconn: nonce: %w", err)
	}
	ciphertext := c.aead.Seal(nil, nonce[:], p, nil)
	frameLen := nonceSize + len(ciphertext)
	if frameLen > 0xFFFF {
		return 0, fmt.Errorf("cryptoconn: frame too large: %d", frameLen)
	}
	out := make([]byte, 2+frameLen)
	binary.BigEndian.PutUint16(out[:2], uint16(frameLen))
	copy(out[2:2+nonceSize], nonce[:])
	copy(out[2+nonceSize:], ciphertext)
	if _, err := c.Conn.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Read returns decrypted plaintext, possibly spanning or splitting
// frame boundaries: the cipher frames are a network-layer concern only,
// not exposed to the caller as message boundaries.
func (c *Conn) Read(p []byte) (int, error) {
	for c.plain.Len() == 0 {
		if err := c.readOneFrame(); err != nil {
			return 0, err
		}
	}
	return c.plain.Read(p)
}

func (c *Conn) readOneFrame() error {
	lenBuf := make([]byte, 2)
	if _, err := io.ReadFull(c.Conn, lenBuf); err != nil {
		return err
	}
	frameLen := binary.BigEndian.Uint16(lenBuf)
	if int(frameLen) < nonceSize {
		return ErrShortFrame
	}
	frame := make([]byte, frameLen)
	if _, err := io.ReadFull(c.Conn, frame); err != nil {
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	nonce := frame[:nonceSize]
	ciphertext := frame[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("cryptoconn: decryption failed: %w", err)
	}
	c.plain.Write(plaintext)
	return nil
}

// SetDeadline, SetReadDeadline, SetWriteDeadline delegate to the
// wrapped connection; frame boundaries do not interact with deadlines.
func (c *Conn) SetDeadline(t time.Time) error      { return c.Conn.SetDeadline(t) }
func (c *Conn) SetReadDeadline(t time.Time) error  { return c.Conn.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.Conn.SetWriteDeadline(t) }
