package stream

import "github.com/dd0wney/cluso-subchain/pkg/replay"

// HandshakeRequest is sent by the client when a connection opens
type HandshakeRequest struct {
	ClientID     string   `json:"client_id"`
	FromPosition uint64   `json:"from_position"` // first record the client needs
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
}

// HandshakeResponse is sent by the feed in reply
type HandshakeResponse struct {
	ServerID     string `json:"server_id"`
	HeadPosition uint64 `json:"head_position"`
	Version      string `json:"version"`
	Accepted     bool   `json:"accepted"`
	Fatal        bool   `json:"fatal"` // retrying cannot succeed
	ErrorMessage string `json:"error_message,omitempty"`
}

// HeartbeatMessage keeps an idle connection alive
type HeartbeatMessage struct {
	From         string `json:"from"`
	Sequence     uint64 `json:"sequence"`
	HeadPosition uint64 `json:"head_position"`
}

// RecordMessage carries one transition record
type RecordMessage struct {
	Record replay.Record `json:"record"`
}

// ErrorMessage reports errors
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

// Error codes sent by a feed
const (
	CodeVersion     = "version_mismatch"
	CodeBadRequest  = "bad_request"
	CodeUnavailable = "unavailable"
	CodeTerminated  = "terminated"
)
