package gateway

import "encoding/json"

// FrameType identifies the kind of frame sent over the WebSocket connection.
type FrameType string

const (
	FrameTypeRequest  FrameType = "request"
	FrameTypeResponse FrameType = "response"
	FrameTypeEvent    FrameType = "event"
)

// Event names pushed to clients.
const (
	EventMessageAppended = "message.appended"
	EventTextChunk       = "text.chunk"
)

// Frame is the envelope exchanged between client and server over WebSocket.
// Responses that fail carry Error and Code; Surfaced is set when the failure
// text was also appended to the conversation.
type Frame struct {
	Type     FrameType       `json:"type"`
	ID       uint64          `json:"id,omitempty"`
	Method   string          `json:"method,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Error    string          `json:"error,omitempty"`
	Code     string          `json:"code,omitempty"`
	Surfaced bool            `json:"surfaced,omitempty"`
}
