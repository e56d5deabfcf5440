package mqpub

import "maps"

// Message represents a standardized message format across all broker providers.
type Message struct {
	// Data represents the message payload as bytes.
	Data []byte

	// Attributes is an arbitrary key value map of string attributes.
	Attributes map[string]string
}

// size is the number of bytes the message counts against a batch's byte limit.
func (m *Message) size() int {
	n := len(m.Data)
	for k, v := range m.Attributes {
		n += len(k) + len(v)
	}
	return n
}

// clone copies the message so later changes by the caller cannot reach a
// batch that is already queued.
func (m *Message) clone() *Message {
	data := make([]byte, len(m.Data))
	copy(data, m.Data)
	return &Message{
		Data:       data,
		Attributes: maps.Clone(m.Attributes),
	}
}
