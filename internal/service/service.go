// Package service implements the relay's application logic.
package service

import (
	"github.com/rs/zerolog"

	"github.com/kilonzo683/smartwebai-sub002/internal/adapter/llm"
	"github.com/kilonzo683/smartwebai-sub002/internal/config"
	"github.com/kilonzo683/smartwebai-sub002/internal/policy"
	"github.com/kilonzo683/smartwebai-sub002/internal/prompt"
	"github.com/kilonzo683/smartwebai-sub002/internal/ratelimit"
	store "github.com/kilonzo683/smartwebai-sub002/internal/repository"
)

// Service wires the relay's collaborators together.
type Service struct {
	store    store.Store
	provider llm.Provider
	prompts  *prompt.Registry
	policy   *policy.Engine
	limiter  ratelimit.Limiter
	config   *config.Config
	retry    RetryPolicy
	logger   zerolog.Logger
}

// Deps are the collaborators of a Service. Policy and Limiter are optional.
type Deps struct {
	Store    store.Store
	Provider llm.Provider
	Prompts  *prompt.Registry
	Policy   *policy.Engine
	Limiter  ratelimit.Limiter
	Config   *config.Config
	Logger   zerolog.Logger
}

// New creates a Service.
func New(d Deps) *Service {
	limiter := d.Limiter
	if limiter == nil {
		limiter = ratelimit.Noop{}
	}
	prompts := d.Prompts
	if prompts == nil {
		prompts = prompt.NewRegistry()
	}
	return &Service{
		store:    d.Store,
		provider: d.Provider,
		prompts:  prompts,
		policy:   d.Policy,
		limiter:  limiter,
		config:   d.Config,
		retry: RetryPolicy{
			MaxAttempts: d.Config.RetryMaxAttempts,
			BaseDelay:   d.Config.RetryBaseDelay,
		},
		logger: d.Logger,
	}
}
