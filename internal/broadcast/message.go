package broadcast

import (
	"encoding/json"
	"fmt"
)

// Message is the wire envelope for the control channel. A command message
// carries Command/Arguments and optionally ReplyTo+Ticket when the sender
// wants answers; a reply message carries Ticket/Hostname and one of
// Result/Error.
type Message struct {
	ID        string          `json:"id,omitempty"`
	Command   string          `json:"command,omitempty"`
	Arguments map[string]any  `json:"arguments,omitempty"`
	ReplyTo   string          `json:"reply_to,omitempty"`
	Ticket    string          `json:"ticket,omitempty"`
	Clock     uint64          `json:"clock,omitempty"`
	Hostname  string          `json:"hostname,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// IsReply reports whether the envelope is a reply rather than a command.
func (m *Message) IsReply() bool {
	return m.Command == "" && m.Ticket != ""
}

// EncodeMessage serializes an envelope for Publish.
func EncodeMessage(m *Message) ([]byte, error) {
	if m.Command == "" && m.Ticket == "" {
		return nil, fmt.Errorf("encode message: neither command nor ticket set")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// DecodeMessage deserializes and validates an envelope. Transports call
// this before handing a delivery to the consumer callback; failures go to
// the consumer's decode-error callback instead.
func DecodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if m.Command == "" && m.Ticket == "" {
		return nil, fmt.Errorf("decode message: neither command nor ticket set")
	}
	return &m, nil
}
