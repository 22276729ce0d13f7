// Package prompt maps agent types onto their system prompts.
package prompt

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kilonzo683/smartwebai-sub002/internal/domain"
)

const (
	defaultPrompt = "You are a helpful AI assistant for a business workspace. " +
		"Answer clearly and concisely, ask for missing details when a request is ambiguous, " +
		"and never invent facts about the user's organization."

	secretaryPrompt = "You are an AI secretary. You help with scheduling, drafting emails, " +
		"summarising meetings, organising tasks and keeping track of follow-ups. " +
		"Be precise with dates and times and confirm assumptions before committing to them."

	supportPrompt = "You are an AI customer support agent. Resolve customer issues politely " +
		"and efficiently, ask for order or account details when needed, and escalate to a human " +
		"when a request involves refunds, legal matters or account security."

	socialPrompt = "You are an AI social media manager. You write engaging posts, suggest " +
		"hashtags, adapt tone to each platform and keep content on brand. " +
		"Offer variations when asked and respect platform length limits."

	lecturerPrompt = "You are an AI lecturer. Explain concepts step by step, use examples, " +
		"check understanding with short questions, and adapt depth to the learner's level."
)

// Registry resolves system prompts. It is immutable after construction.
type Registry struct {
	defaultPrompt string
	overrides     map[domain.AgentType]string
}

// File is the YAML shape accepted by LoadFile.
type File struct {
	Default string            `yaml:"default"`
	Prompts map[string]string `yaml:"prompts"`
}

// NewRegistry creates a registry with the built-in prompts.
func NewRegistry() *Registry {
	return &Registry{
		defaultPrompt: defaultPrompt,
		overrides:     map[domain.AgentType]string{},
	}
}

// NewRegistryFromFile builds a registry whose prompts are overridden by f.
// Keys that are not known agent types are ignored.
func NewRegistryFromFile(f File) *Registry {
	r := NewRegistry()
	if f.Default != "" {
		r.defaultPrompt = f.Default
	}
	for key, text := range f.Prompts {
		agent, ok := domain.ParseAgentType(key)
		if !ok || text == "" {
			continue
		}
		r.overrides[agent] = text
	}
	return r
}

// LoadFile reads prompt overrides from a YAML file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse prompts file: %w", err)
	}
	return NewRegistryFromFile(f), nil
}

// For returns the system prompt of a known agent type.
func (r *Registry) For(agent domain.AgentType) string {
	if text, ok := r.overrides[agent]; ok {
		return text
	}
	switch agent {
	case domain.AgentSecretary:
		return secretaryPrompt
	case domain.AgentSupport:
		return supportPrompt
	case domain.AgentSocial:
		return socialPrompt
	case domain.AgentLecturer:
		return lecturerPrompt
	default:
		return r.defaultPrompt
	}
}

// Lookup resolves any external key. Unknown keys get the default prompt.
func (r *Registry) Lookup(key string) string {
	agent, ok := domain.ParseAgentType(key)
	if !ok {
		return r.defaultPrompt
	}
	return r.For(agent)
}

// Default returns the prompt used for unknown agent types.
func (r *Registry) Default() string {
	return r.defaultPrompt
}
