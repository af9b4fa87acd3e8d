// Package stream delivers ordered transition records from a remote feed to a replay engine
// and serves such feeds.
package stream

import (
	"encoding/json"
	"time"
)

// ProtocolVersion is sent in every handshake
const ProtocolVersion = "1.0"

// MessageType represents the type of stream message
type MessageType uint8

const (
	// Control messages
	MsgHandshake MessageType = iota
	MsgHeartbeat

	// Data messages
	MsgRecord

	// Error messages
	MsgError
)

func (t MessageType) String() string {
	switch t {
	case MsgHandshake:
		return "handshake"
	case MsgHeartbeat:
		return "heartbeat"
	case MsgRecord:
		return "record"
	case MsgError:
		return "error"
	default:
		return "unknown"
	}
}

// Message is the envelope for every frame on the wire
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Data      []byte      `json:"data,omitempty"`
}

// NewMessage creates a new message with the given type and data
func NewMessage(msgType MessageType, data any) (*Message, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().Unix(),
		Data:      dataBytes,
	}, nil
}

// Decode decodes message data into the provided value
func (m *Message) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// encodeMessage builds a framed message ready to send
func encodeMessage(msgType MessageType, data any) ([]byte, error) {
	msg, err := NewMessage(msgType, data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// decodeMessage parses one frame
func decodeMessage(frame []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
