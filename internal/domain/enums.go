// Package domain defines the core domain models for the chat relay.
package domain

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// EventType represents the type of a relay audit event.
type EventType string

const (
	EventTypeRelayStarted EventType = "relay_started"
	EventTypeRelayDone    EventType = "relay_done"
	EventTypeRelayFailed  EventType = "relay_failed"
	EventTypeTurnSaved    EventType = "turn_saved"
)

// PolicyDecision is the outcome of an agent access policy evaluation.
type PolicyDecision string

const (
	PolicyAllow PolicyDecision = "allow"
	PolicyBlock PolicyDecision = "block"
)
