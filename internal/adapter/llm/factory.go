package llm

import (
	"github.com/rs/zerolog"

	"github.com/kilonzo683/smartwebai-sub002/internal/config"
)

// NewProvider creates the provider selected by the configuration.
// RELAY_MODE=MOCK returns a MockClient; otherwise a real Client.
func NewProvider(cfg *config.Config, logger zerolog.Logger) Provider {
	if cfg.IsMock() {
		logger.Warn().Msg("RELAY_MODE=MOCK detected, using mock completion provider")
		return NewMockClient()
	}
	return NewClient(cfg.UpstreamURL, cfg.UpstreamAPIKey, cfg.UpstreamTimeout)
}
