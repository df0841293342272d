package rpc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xendarboh/chatnode/wire/chatpb"
)

func TestWriteRequestReadRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := &chatpb.ChatMessage{MessageAccept: &chatpb.MessageAccept{Counter: 5}}
	require.NoError(t, WriteRequest(&buf, want))

	got, err := ReadRequest(&buf)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestReadResponseCollectStopsAtEOF(t *testing.T) {
	var buf bytes.Buffer
	first := &chatpb.ChatMessage{MessageAccept: &chatpb.MessageAccept{Counter: 1}}
	second := &chatpb.ChatMessage{MessageAccept: &chatpb.MessageAccept{Counter: 2}}
	require.NoError(t, WriteResponseChunk(&buf, first))
	require.NoError(t, WriteResponseChunk(&buf, second))
	require.NoError(t, WriteEOF(&buf))

	got, err := ReadResponseCollect(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, first, got[0])
	require.Equal(t, second, got[1])
}

func TestReadResponseStreamInvokesHandleInOrder(t *testing.T) {
	var buf bytes.Buffer
	chunks := []*chatpb.ChatMessage{
		{FileDownloadResponse: &chatpb.FileDownloadResponse{Chunk: []byte("a")}},
		{FileDownloadResponse: &chatpb.FileDownloadResponse{Chunk: []byte("b")}},
		{FileDownloadResponse: &chatpb.FileDownloadResponse{Chunk: []byte("c"), LastChunk: true}},
	}
	for _, c := range chunks {
		require.NoError(t, WriteResponseChunk(&buf, c))
	}
	require.NoError(t, WriteEOF(&buf))

	var seen []byte
	err := ReadResponseStream(&buf, func(m *chatpb.ChatMessage) error {
		seen = append(seen, m.FileDownloadResponse.Chunk...)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), seen)
}

func TestReadRequestRejectsResponseTag(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResponseChunk(&buf, &chatpb.ChatMessage{MessageAccept: &chatpb.MessageAccept{Counter: 1}}))

	_, err := ReadRequest(&buf)
	require.ErrorIs(t, err, ErrStream)
}

func TestWriteRejectsOversizedBody(t *testing.T) {
	var buf bytes.Buffer
	oversized := &chatpb.ChatMessage{FileDownloadResponse: &chatpb.FileDownloadResponse{
		Chunk: make([]byte, MaxBodySize),
	}}
	err := WriteResponseChunk(&buf, oversized)
	require.ErrorIs(t, err, ErrBodyTooLarge)
}
