package ws

import "github.com/kilonzo683/smartwebai-sub002/internal/domain"

// Message types from client to relay
const (
	TypeHello  = "hello"
	TypeSubmit = "submit"
	TypeCancel = "cancel"
)

// Message types from relay to client
const (
	TypeHelloAck = "hello_ack"
	TypeMessage  = "message"
	TypeDelta    = "delta"
	TypeDone     = "done"
	TypeError    = "error"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts"`
	RequestID string `json:"request_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// HelloMessage binds a connection to a conversation.
type HelloMessage struct {
	BaseMessage
	AgentType string `json:"agent_type,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// HelloAckMessage confirms the binding and returns the stored transcript.
type HelloAckMessage struct {
	BaseMessage
	AgentType string           `json:"agent_type"`
	History   []domain.Message `json:"history"`
}

// SubmitMessage sends a user message to the bound conversation.
type SubmitMessage struct {
	BaseMessage
	Content string `json:"content"`
}

// TranscriptMessage announces a message appended to the conversation.
type TranscriptMessage struct {
	BaseMessage
	Message domain.Message `json:"message"`
}

// DeltaMessage carries one content fragment of the streaming reply.
type DeltaMessage struct {
	BaseMessage
	Text string `json:"text"`
}

// DoneMessage carries the completed assistant message.
type DoneMessage struct {
	BaseMessage
	Message domain.Message `json:"message"`
}

// ErrorMessage is sent when a request fails.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes that are not relay error kinds.
const (
	ErrorCodeInvalidMessage  = "invalid_message"
	ErrorCodeSessionRequired = "session_required"
	ErrorCodeInFlight        = "in_flight"
	ErrorCodeInternalError   = "internal_error"
)
