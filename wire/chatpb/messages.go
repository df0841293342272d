package chatpb

import "fmt"

// PeerCounter is one entry of a CompareRequest: "I have this peer_id's
// log up to this counter."
type PeerCounter struct {
	PeerID  string
	Counter uint64
}

func (p *PeerCounter) marshalInto() []byte {
	var buf []byte
	buf = appendString(buf, 1, p.PeerID)
	buf = appendUint64(buf, 2, p.Counter)
	return buf
}

func unmarshalPeerCounter(buf []byte) (*PeerCounter, error) {
	fields, err := parseFields(buf)
	if err != nil {
		return nil, err
	}
	p := &PeerCounter{}
	for _, f := range fields {
		switch f.num {
		case 1:
			p.PeerID = string(f.bytes)
		case 2:
			p.Counter = f.varint
		}
	}
	return p, nil
}

// Identity is the identity record attached when the caller's counter
// was zero, so the remote peer can authenticate future messages.
type Identity struct {
	PeerID    string
	PublicKey []byte
}

func (i *Identity) marshalInto() []byte {
	var buf []byte
	buf = appendString(buf, 1, i.PeerID)
	buf = appendBytes(buf, 2, i.PublicKey)
	return buf
}

func unmarshalIdentity(buf []byte) (*Identity, error) {
	fields, err := parseFields(buf)
	if err != nil {
		return nil, err
	}
	id := &Identity{}
	for _, f := range fields {
		switch f.num {
		case 1:
			id.PeerID = string(f.bytes)
		case 2:
			id.PublicKey = append([]byte(nil), f.bytes...)
		}
	}
	return id, nil
}

// Message is one log entry as carried on the wire.
type Message struct {
	ID        string
	PeerID    string
	Counter   uint64
	Order     uint64
	Timestamp int64
	Payload   []byte
}

func (m *Message) marshalInto() []byte {
	var buf []byte
	buf = appendString(buf, 1, m.ID)
	buf = appendString(buf, 2, m.PeerID)
	buf = appendUint64(buf, 3, m.Counter)
	buf = appendUint64(buf, 4, m.Order)
	buf = appendInt64(buf, 5, m.Timestamp)
	buf = appendBytes(buf, 6, m.Payload)
	return buf
}

func unmarshalMessage(buf []byte) (*Message, error) {
	fields, err := parseFields(buf)
	if err != nil {
		return nil, err
	}
	m := &Message{}
	for _, f := range fields {
		switch f.num {
		case 1:
			m.ID = string(f.bytes)
		case 2:
			m.PeerID = string(f.bytes)
		case 3:
			m.Counter = f.varint
		case 4:
			m.Order = f.varint
		case 5:
			m.Timestamp = int64(f.varint)
		case 6:
			m.Payload = append([]byte(nil), f.bytes...)
		}
	}
	return m, nil
}

// Payload is the decoded structured body of a Message: text plus
// optional file reference, reply reference, and mentions.
type Payload struct {
	Text     string
	FileID   string
	ReplyID  string
	Mentions []string
}

// Marshal encodes p to its standalone wire form (it is not itself a
// ChatMessage variant; it is what Message.Payload holds).
func (p *Payload) Marshal() []byte {
	var buf []byte
	buf = appendString(buf, 1, p.Text)
	buf = appendString(buf, 2, p.FileID)
	buf = appendString(buf, 3, p.ReplyID)
	for _, m := range p.Mentions {
		buf = appendString(buf, 4, m)
	}
	return buf
}

// UnmarshalPayload decodes a Payload from its wire form.
func UnmarshalPayload(buf []byte) (*Payload, error) {
	fields, err := parseFields(buf)
	if err != nil {
		return nil, err
	}
	p := &Payload{}
	for _, f := range fields {
		switch f.num {
		case 1:
			p.Text = string(f.bytes)
		case 2:
			p.FileID = string(f.bytes)
		case 3:
			p.ReplyID = string(f.bytes)
		case 4:
			p.Mentions = append(p.Mentions, string(f.bytes))
		}
	}
	return p, nil
}

// --- variant bodies ---

type CompareRequest struct {
	Entries []*PeerCounter
}

func (r *CompareRequest) marshalInto() []byte {
	var buf []byte
	for _, e := range r.Entries {
		buf = appendMessage(buf, 1, e)
	}
	return buf
}

func unmarshalCompareRequest(buf []byte) (*CompareRequest, error) {
	fields, err := parseFields(buf)
	if err != nil {
		return nil, err
	}
	r := &CompareRequest{}
	for _, f := range fields {
		if f.num == 1 {
			e, err := unmarshalPeerCounter(f.bytes)
			if err != nil {
				return nil, err
			}
			r.Entries = append(r.Entries, e)
		}
	}
	return r, nil
}

type CompareResponse struct {
	PeerIDs []string
}

func (r *CompareResponse) marshalInto() []byte {
	var buf []byte
	for _, p := range r.PeerIDs {
		buf = appendString(buf, 1, p)
	}
	return buf
}

func unmarshalCompareResponse(buf []byte) (*CompareResponse, error) {
	fields, err := parseFields(buf)
	if err != nil {
		return nil, err
	}
	r := &CompareResponse{}
	for _, f := range fields {
		if f.num == 1 {
			r.PeerIDs = append(r.PeerIDs, string(f.bytes))
		}
	}
	return r, nil
}

type BatchMessageRequest struct {
	PeerID    string
	MyCounter uint64
}

func (r *BatchMessageRequest) marshalInto() []byte {
	var buf []byte
	buf = appendString(buf, 1, r.PeerID)
	buf = appendUint64(buf, 2, r.MyCounter)
	return buf
}

func unmarshalBatchMessageRequest(buf []byte) (*BatchMessageRequest, error) {
	fields, err := parseFields(buf)
	if err != nil {
		return nil, err
	}
	r := &BatchMessageRequest{}
	for _, f := range fields {
		switch f.num {
		case 1:
			r.PeerID = string(f.bytes)
		case 2:
			r.MyCounter = f.varint
		}
	}
	return r, nil
}

type BatchMessageResponse struct {
	Messages []*Message
	Peer     *Identity // nil unless caller's counter was 0
}

func (r *BatchMessageResponse) marshalInto() []byte {
	var buf []byte
	for _, m := range r.Messages {
		buf = appendMessage(buf, 1, m)
	}
	if r.Peer != nil {
		buf = appendMessage(buf, 2, r.Peer)
	}
	return buf
}

func unmarshalBatchMessageResponse(buf []byte) (*BatchMessageResponse, error) {
	fields, err := parseFields(buf)
	if err != nil {
		return nil, err
	}
	r := &BatchMessageResponse{}
	for _, f := range fields {
		switch f.num {
		case 1:
			m, err := unmarshalMessage(f.bytes)
			if err != nil {
				return nil, err
			}
			r.Messages = append(r.Messages, m)
		case 2:
			p, err := unmarshalIdentity(f.bytes)
			if err != nil {
				return nil, err
			}
			r.Peer = p
		}
	}
	return r, nil
}

type Messages struct {
	PeerID   string
	Peer     *Identity // nil unless this batch includes counter 1
	Messages []*Message
}

func (r *Messages) marshalInto() []byte {
	var buf []byte
	buf = appendString(buf, 1, r.PeerID)
	if r.Peer != nil {
		buf = appendMessage(buf, 2, r.Peer)
	}
	for _, m := range r.Messages {
		buf = appendMessage(buf, 3, m)
	}
	return buf
}

func unmarshalMessages(buf []byte) (*Messages, error) {
	fields, err := parseFields(buf)
	if err != nil {
		return nil, err
	}
	r := &Messages{}
	for _, f := range fields {
		switch f.num {
		case 1:
			r.PeerID = string(f.bytes)
		case 2:
			p, err := unmarshalIdentity(f.bytes)
			if err != nil {
				return nil, err
			}
			r.Peer = p
		case 3:
			m, err := unmarshalMessage(f.bytes)
			if err != nil {
				return nil, err
			}
			r.Messages = append(r.Messages, m)
		}
	}
	return r, nil
}

type MessageAccept struct {
	Counter uint64
}

func (r *MessageAccept) marshalInto() []byte {
	var buf []byte
	buf = appendUint64(buf, 1, r.Counter)
	return buf
}

func unmarshalMessageAccept(buf []byte) (*MessageAccept, error) {
	fields, err := parseFields(buf)
	if err != nil {
		return nil, err
	}
	r := &MessageAccept{}
	for _, f := range fields {
		if f.num == 1 {
			r.Counter = f.varint
		}
	}
	return r, nil
}

type FileWantRequest struct {
	FileIDs []string
}

func (r *FileWantRequest) marshalInto() []byte {
	var buf []byte
	for _, id := range r.FileIDs {
		buf = appendString(buf, 1, id)
	}
	return buf
}

func unmarshalFileWantRequest(buf []byte) (*FileWantRequest, error) {
	fields, err := parseFields(buf)
	if err != nil {
		return nil, err
	}
	r := &FileWantRequest{}
	for _, f := range fields {
		if f.num == 1 {
			r.FileIDs = append(r.FileIDs, string(f.bytes))
		}
	}
	return r, nil
}

type FileWantResponse struct {
	FileIDs []string
}

func (r *FileWantResponse) marshalInto() []byte {
	var buf []byte
	for _, id := range r.FileIDs {
		buf = appendString(buf, 1, id)
	}
	return buf
}

func unmarshalFileWantResponse(buf []byte) (*FileWantResponse, error) {
	fields, err := parseFields(buf)
	if err != nil {
		return nil, err
	}
	r := &FileWantResponse{}
	for _, f := range fields {
		if f.num == 1 {
			r.FileIDs = append(r.FileIDs, string(f.bytes))
		}
	}
	return r, nil
}

type FileDownloadRequest struct {
	FileID string
}

func (r *FileDownloadRequest) marshalInto() []byte {
	var buf []byte
	buf = appendString(buf, 1, r.FileID)
	return buf
}

func unmarshalFileDownloadRequest(buf []byte) (*FileDownloadRequest, error) {
	fields, err := parseFields(buf)
	if err != nil {
		return nil, err
	}
	r := &FileDownloadRequest{}
	for _, f := range fields {
		if f.num == 1 {
			r.FileID = string(f.bytes)
		}
	}
	return r, nil
}

type FileDownloadResponse struct {
	Ext       string
	Chunk     []byte
	LastChunk bool
}

func (r *FileDownloadResponse) marshalInto() []byte {
	var buf []byte
	buf = appendString(buf, 1, r.Ext)
	buf = appendBytes(buf, 2, r.Chunk)
	buf = appendBool(buf, 3, r.LastChunk)
	return buf
}

func unmarshalFileDownloadResponse(buf []byte) (*FileDownloadResponse, error) {
	fields, err := parseFields(buf)
	if err != nil {
		return nil, err
	}
	r := &FileDownloadResponse{}
	for _, f := range fields {
		switch f.num {
		case 1:
			r.Ext = string(f.bytes)
		case 2:
			r.Chunk = append([]byte(nil), f.bytes...)
		case 3:
			r.LastChunk = f.varint != 0
		}
	}
	return r, nil
}

// ChatMessage is the envelope carried by every request and response
// frame; exactly one of its fields is set.
type ChatMessage struct {
	CompareRequest       *CompareRequest
	CompareResponse      *CompareResponse
	BatchMessageRequest  *BatchMessageRequest
	BatchMessageResponse *BatchMessageResponse
	Messages             *Messages
	MessageAccept        *MessageAccept
	FileWantRequest      *FileWantRequest
	FileWantResponse     *FileWantResponse
	FileDownloadRequest  *FileDownloadRequest
	FileDownloadResponse *FileDownloadResponse
}

// Marshal encodes the envelope to protobuf wire format bytes.
func (c *ChatMessage) Marshal() ([]byte, error) {
	var buf []byte
	switch {
	case c.CompareRequest != nil:
		buf = appendMessage(buf, 1, c.CompareRequest)
	case c.CompareResponse != nil:
		buf = appendMessage(buf, 2, c.CompareResponse)
	case c.BatchMessageRequest != nil:
		buf = appendMessage(buf, 3, c.BatchMessageRequest)
	case c.BatchMessageResponse != nil:
		buf = appendMessage(buf, 4, c.BatchMessageResponse)
	case c.Messages != nil:
		buf = appendMessage(buf, 5, c.Messages)
	case c.MessageAccept != nil:
		buf = appendMessage(buf, 6, c.MessageAccept)
	case c.FileWantRequest != nil:
		buf = appendMessage(buf, 7, c.FileWantRequest)
	case c.FileWantResponse != nil:
		buf = appendMessage(buf, 8, c.FileWantResponse)
	case c.FileDownloadRequest != nil:
		buf = appendMessage(buf, 9, c.FileDownloadRequest)
	case c.FileDownloadResponse != nil:
		buf = appendMessage(buf, 10, c.FileDownloadResponse)
	default:
		return nil, fmt.Errorf("chatpb: ChatMessage has no variant set")
	}
	return buf, nil
}

// Unmarshal decodes buf into c, which must be zero-valued.
func (c *ChatMessage) Unmarshal(buf []byte) error {
	fields, err := parseFields(buf)
	if err != nil {
		return err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			v, err := unmarshalCompareRequest(f.bytes)
			if err != nil {
				return err
			}
			c.CompareRequest = v
		case 2:
			v, err := unmarshalCompareResponse(f.bytes)
			if err != nil {
				return err
			}
			c.CompareResponse = v
		case 3:
			v, err := unmarshalBatchMessageRequest(f.bytes)
			if err != nil {
				return err
			}
			c.BatchMessageRequest = v
		case 4:
			v, err := unmarshalBatchMessageResponse(f.bytes)
			if err != nil {
				return err
			}
			c.BatchMessageResponse = v
		case 5:
			v, err := unmarshalMessages(f.bytes)
			if err != nil {
				return err
			}
			c.Messages = v
		case 6:
			v, err := unmarshalMessageAccept(f.bytes)
			if err != nil {
				return err
			}
			c.MessageAccept = v
		case 7:
			v, err := unmarshalFileWantRequest(f.bytes)
			if err != nil {
				return err
			}
			c.FileWantRequest = v
		case 8:
			v, err := unmarshalFileWantResponse(f.bytes)
			if err != nil {
				return err
			}
			c.FileWantResponse = v
		case 9:
			v, err := unmarshalFileDownloadRequest(f.bytes)
			if err != nil {
				return err
			}
			c.FileDownloadRequest = v
		case 10:
			v, err := unmarshalFileDownloadResponse(f.bytes)
			if err != nil {
				return err
			}
			c.FileDownloadResponse = v
		}
	}
	return nil
}
