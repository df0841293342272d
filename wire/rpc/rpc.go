// Package rpc implements the request/response framing layered on top of
// one multiplexed stream (netmux.Session.OpenStream/AcceptStream): a
// one-byte tag, a four-byte big-endian length, and a ChatMessage body,
// terminated by an EOF sentinel frame.
package rpc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/xendarboh/chatnode/wire/chatpb"
)

const (
	tagRequest  = 0x01
	tagResponse = 0x02

	eofLength = 0xFFFFFFFF

	// MaxBodySize bounds a single frame's body, per the spec's
	// resolution of the EOF-sentinel collision ambiguity: a body at
	// or above 16 MiB is a construction-time error, never sent.
	MaxBodySize = 16 * 1024 * 1024
)

// ErrBodyTooLarge is returned by Write* when a body would be at or
// above MaxBodySize.
var ErrBodyTooLarge = errors.New("rpc: body too large")

// ErrStream reports a malformed frame on the stream.
var ErrStream = errors.New("rpc: malformed frame")

func writeFrame(w io.Writer, tag byte, body []byte) error {
	if len(body) >= MaxBodySize {
		return ErrBodyTooLarge
	}
	hdr := make([]byte, 5)
	hdr[0] = tag
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(body)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return err
		}
	}
	return nil
}

// WriteRequest sends a single request frame; a stream carries exactly
// one request.
func WriteRequest(w io.Writer, msg *chatpb.ChatMessage) error {
	body, err := msg.Marshal()
	if err != nil {
		return err
	}
	return writeFrame(w, tagRequest, body)
}

// WriteResponseChunk sends one response frame (not yet EOF). Callers
// streaming a multi-chunk response (file download) call this once per
// chunk, then WriteEOF.
func WriteResponseChunk(w io.Writer, msg *chatpb.ChatMessage) error {
	body, err := msg.Marshal()
	if err != nil {
		return err
	}
	return writeFrame(w, tagResponse, body)
}

// WriteEOF sends the EOF sentinel: tag 0x02, length 0xFFFFFFFF, no body.
func WriteEOF(w io.Writer) error {
	hdr := make([]byte, 5)
	hdr[0] = tagResponse
	binary.BigEndian.PutUint32(hdr[1:], eofLength)
	_, err := w.Write(hdr)
	return err
}

// ReadRequest reads the single request frame from a freshly accepted
// stream.
func ReadRequest(r io.Reader) (*chatpb.ChatMessage, error) {
	tag, length, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	if tag != tagRequest {
		return nil, fmt.Errorf("%w: expected request tag, got %d", ErrStream, tag)
	}
	if length == eofLength {
		return nil, fmt.Errorf("%w: unexpected EOF sentinel as request", ErrStream)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	msg := &chatpb.ChatMessage{}
	if err := msg.Unmarshal(body); err != nil {
		return nil, err
	}
	return msg, nil
}

// ReadResponseCollect reads response frames until the EOF sentinel,
// returning every frame received in order. Most RPCs produce exactly
// one frame; file downloads produce many.
func ReadResponseCollect(r io.Reader) ([]*chatpb.ChatMessage, error) {
	var out []*chatpb.ChatMessage
	for {
		tag, length, err := readHeader(r)
		if err != nil {
			return nil, err
		}
		if tag != tagResponse {
			return nil, fmt.Errorf("%w: expected response tag, got %d", ErrStream, tag)
		}
		if length == eofLength {
			return out, nil
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}
		msg := &chatpb.ChatMessage{}
		if err := msg.Unmarshal(body); err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
}

// ReadResponseStream reads response frames until the EOF sentinel,
// invoking handle on each in order without buffering the whole
// response in memory; used by file download, which may stream many
// chunks.
func ReadResponseStream(r io.Reader, handle func(*chatpb.ChatMessage) error) error {
	for {
		tag, length, err := readHeader(r)
		if err != nil {
			return err
		}
		if tag != tagResponse {
			return fmt.Errorf("%w: expected response tag, got %d", ErrStream, tag)
		}
		if length == eofLength {
			return nil
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(r, body); err != nil {
			return err
		}
		msg := &chatpb.ChatMessage{}
		if err := msg.Unmarshal(body); err != nil {
			return err
		}
		if err := handle(msg); err != nil {
			return err
		}
	}
}

func readHeader(r io.Reader) (tag byte, length uint32, err error) {
	hdr := make([]byte, 5)
	if _, err = io.ReadFull(r, hdr); err != nil {
		return 0, 0, err
	}
	tag = hdr[0]
	length = binary.BigEndian.Uint32(hdr[1:])
	if length != eofLength && length > MaxBodySize {
		return 0, 0, ErrBodyTooLarge
	}
	return tag, length, nil
}
