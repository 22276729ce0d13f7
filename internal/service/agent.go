package service

import "github.com/kilonzo683/smartwebai-sub002/internal/domain"

// AgentInfo describes an agent persona offered by the relay.
type AgentInfo struct {
	AgentType    domain.AgentType `json:"agent_type"`
	SystemPrompt string           `json:"system_prompt"`
}

// ListAgents returns every agent type with the prompt it resolves to.
func (s *Service) ListAgents() []AgentInfo {
	agents := domain.AllAgentTypes()
	out := make([]AgentInfo, len(agents))
	for i, a := range agents {
		out[i] = AgentInfo{AgentType: a, SystemPrompt: s.prompts.For(a)}
	}
	return out
}
