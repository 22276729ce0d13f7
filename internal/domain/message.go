package domain

import (
	"encoding/json"
	"time"
)

// Message is one entry of a conversation transcript.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatMessage is a role-tagged message as it travels on the wire.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// RelayRequest is the inbound body of POST /api/chat.
type RelayRequest struct {
	Messages  []ChatMessage `json:"messages"`
	AgentType string        `json:"agentType"`
}

// ErrorBody is the JSON body returned for every relay failure.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Session represents a persisted conversation.
type Session struct {
	SessionID string          `json:"session_id"`
	UserID    string          `json:"user_id"`
	AgentType AgentType       `json:"agent_type"`
	CreatedAt time.Time       `json:"created_at"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// StoredMessage is a transcript message persisted for a session.
type StoredMessage struct {
	MessageID string    `json:"message_id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Event represents a relay audit event.
type Event struct {
	EventID   string          `json:"event_id"`
	SessionID string          `json:"session_id"`
	Ts        int64           `json:"ts"` // Unix milliseconds
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// RelayStartedPayload is the payload for relay_started.
type RelayStartedPayload struct {
	RequestID string    `json:"request_id"`
	AgentType AgentType `json:"agent_type"`
	Model     string    `json:"model"`
	Messages  int       `json:"messages"`
	OrgID     string    `json:"org_id,omitempty"`
}

// RelayDonePayload is the payload for relay_done and relay_failed.
type RelayDonePayload struct {
	RequestID string `json:"request_id"`
	Model     string `json:"model"`
	LatencyMs int64  `json:"latency_ms"`
	Bytes     int64  `json:"bytes,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
}
