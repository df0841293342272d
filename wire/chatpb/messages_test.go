package chatpb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPayloadRoundTrip(t *testing.T) {
	p := &Payload{Text: "hello", FileID: "f1", ReplyID: "r1", Mentions: []string{"a", "b"}}
	got, err := UnmarshalPayload(p.Marshal())
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestPayloadZeroValueRoundTripsToEmptyFields(t *testing.T) {
	p := &Payload{}
	got, err := UnmarshalPayload(p.Marshal())
	require.NoError(t, err)
	require.Empty(t, got.Text)
	require.Empty(t, got.FileID)
	require.Empty(t, got.Mentions)
}

func TestChatMessageRoundTripEachVariant(t *testing.T) {
	cases := []*ChatMessage{
		{CompareRequest: &CompareRequest{Entries: []*PeerCounter{{PeerID: "p1", Counter: 4}}}},
		{CompareResponse: &CompareResponse{PeerIDs: []string{"p1", "p2"}}},
		{BatchMessageRequest: &BatchMessageRequest{PeerID: "p1", MyCounter: 9}},
		{BatchMessageResponse: &BatchMessageResponse{
			Messages: []*Message{{ID: "m1", PeerID: "p1", Counter: 1, Order: 2, Timestamp: 3, Payload: []byte("x")}},
			Peer:     &Identity{PeerID: "p1", PublicKey: []byte{1, 2, 3}},
		}},
		{Messages: &Messages{PeerID: "p1", Messages: []*Message{{ID: "m1", Counter: 1}}}},
		{MessageAccept: &MessageAccept{Counter: 7}},
		{FileWantRequest: &FileWantRequest{FileIDs: []string{"f1", "f2"}}},
		{FileWantResponse: &FileWantResponse{FileIDs: []string{"f1"}}},
		{FileDownloadRequest: &FileDownloadRequest{FileID: "f1"}},
		{FileDownloadResponse: &FileDownloadResponse{Ext: "txt", Chunk: []byte("abc"), LastChunk: true}},
	}

	for _, want := range cases {
		buf, err := want.Marshal()
		require.NoError(t, err)

		got := &ChatMessage{}
		require.NoError(t, got.Unmarshal(buf))
		require.Equal(t, want, got)
	}
}

func TestMarshalRequiresOneVariant(t *testing.T) {
	_, err := (&ChatMessage{}).Marshal()
	require.Error(t, err)
}

func TestUnmarshalTruncatedBufferFails(t *testing.T) {
	buf, err := (&ChatMessage{MessageAccept: &MessageAccept{Counter: 300}}).Marshal()
	require.NoError(t, err)

	err = (&ChatMessage{}).Unmarshal(buf[:len(buf)-1])
	require.Error(t, err)
}
