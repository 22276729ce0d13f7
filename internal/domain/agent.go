package domain

import "strings"

// AgentType selects the persona (system prompt) used for a conversation.
type AgentType string

const (
	AgentSecretary AgentType = "secretary"
	AgentSupport   AgentType = "support"
	AgentSocial    AgentType = "social"
	AgentLecturer  AgentType = "lecturer"
)

// AllAgentTypes returns every known agent type in display order.
func AllAgentTypes() []AgentType {
	return []AgentType{AgentSecretary, AgentSupport, AgentSocial, AgentLecturer}
}

// ParseAgentType maps external input onto a known agent type.
// Matching is case-insensitive and ignores surrounding whitespace.
func ParseAgentType(s string) (AgentType, bool) {
	switch AgentType(strings.ToLower(strings.TrimSpace(s))) {
	case AgentSecretary:
		return AgentSecretary, true
	case AgentSupport:
		return AgentSupport, true
	case AgentSocial:
		return AgentSocial, true
	case AgentLecturer:
		return AgentLecturer, true
	}
	return "", false
}

func (a AgentType) String() string {
	return string(a)
}
