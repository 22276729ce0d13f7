package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kilonzo683/smartwebai-sub002/internal/adapter/llm"
	"github.com/kilonzo683/smartwebai-sub002/internal/domain"
	"github.com/kilonzo683/smartwebai-sub002/internal/metrics"
	"github.com/kilonzo683/smartwebai-sub002/internal/policy"
)

// RelayCall describes one inbound relay request.
type RelayCall struct {
	Tenant    domain.Tenant
	SessionID string
	Request   domain.RelayRequest
}

// Relay validates the request, attaches the agent's system prompt, and opens
// a streaming completion upstream. The returned Stream yields the provider's
// bytes unmodified and must be closed.
func (s *Service) Relay(ctx context.Context, call RelayCall) (*Stream, error) {
	req := call.Request
	if err := ValidateRelayRequest(req); err != nil {
		return nil, err
	}

	agentLabel := "default"
	if agent, ok := domain.ParseAgentType(req.AgentType); ok {
		agentLabel = string(agent)
	}

	if err := s.authorize(ctx, call.Tenant, agentLabel); err != nil {
		metrics.UpstreamRequests.WithLabelValues(agentLabel, string(domain.KindOf(err))).Inc()
		return nil, err
	}

	messages := make([]domain.ChatMessage, 0, len(req.Messages)+1)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: s.prompts.Lookup(req.AgentType)})
	messages = append(messages, req.Messages...)

	upstreamReq := &llm.CompletionRequest{
		Model:    s.config.UpstreamModel,
		Messages: messages,
		Stream:   true,
		User:     call.Tenant.UserID,
	}

	requestID := "relay_" + uuid.New().String()[:8]
	startTime := time.Now()

	if err := s.recordEvent(ctx, call.SessionID, domain.EventTypeRelayStarted, domain.RelayStartedPayload{
		RequestID: requestID,
		AgentType: domain.AgentType(agentLabel),
		Model:     upstreamReq.Model,
		Messages:  len(messages),
		OrgID:     call.Tenant.OrgID,
	}); err != nil {
		s.logger.Warn().Err(err).Str("request_id", requestID).Msg("failed to record relay_started event")
	}

	var body io.ReadCloser
	attempts, err := s.retry.Do(ctx, func() error {
		var openErr error
		body, openErr = s.provider.OpenStream(ctx, upstreamReq)
		return openErr
	})
	metrics.UpstreamLatency.Observe(time.Since(startTime).Seconds())

	if err != nil {
		re := domain.AsRelayError(err)
		metrics.UpstreamRequests.WithLabelValues(agentLabel, string(re.Kind)).Inc()
		s.logger.Error().
			Err(err).
			Str("request_id", requestID).
			Str("agent_type", agentLabel).
			Int("attempts", attempts).
			Int("upstream_status", re.UpstreamStatus).
			Msg("upstream request failed")

		if recErr := s.recordEvent(ctx, call.SessionID, domain.EventTypeRelayFailed, domain.RelayDonePayload{
			RequestID: requestID,
			Model:     upstreamReq.Model,
			LatencyMs: time.Since(startTime).Milliseconds(),
			Attempts:  attempts,
			Code:      string(re.Kind),
			Error:     re.Error(),
		}); recErr != nil {
			s.logger.Warn().Err(recErr).Str("request_id", requestID).Msg("failed to record relay_failed event")
		}
		return nil, re
	}

	metrics.UpstreamRequests.WithLabelValues(agentLabel, "ok").Inc()

	stream := &Stream{
		RequestID: requestID,
		body:      body,
	}
	stream.onClose = func(n int64) {
		// The inbound request context may already be cancelled here.
		recCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.recordEvent(recCtx, call.SessionID, domain.EventTypeRelayDone, domain.RelayDonePayload{
			RequestID: requestID,
			Model:     upstreamReq.Model,
			LatencyMs: time.Since(startTime).Milliseconds(),
			Bytes:     n,
			Attempts:  attempts,
		}); err != nil {
			s.logger.Warn().Err(err).Str("request_id", requestID).Msg("failed to record relay_done event")
		}
	}
	return stream, nil
}

// ValidateRelayRequest rejects requests that must not reach the provider.
func ValidateRelayRequest(req domain.RelayRequest) error {
	if len(req.Messages) == 0 {
		return domain.NewBadRequest("messages is required")
	}
	if req.AgentType == "" {
		return domain.NewBadRequest("agentType is required")
	}
	for i, m := range req.Messages {
		switch m.Role {
		case domain.RoleUser, domain.RoleAssistant:
		default:
			return domain.NewBadRequest("messages[%d].role must be user or assistant", i)
		}
		if m.Content == "" {
			return domain.NewBadRequest("messages[%d].content is required", i)
		}
	}
	return nil
}

// authorize applies the access policy and the tenant rate limit.
func (s *Service) authorize(ctx context.Context, tenant domain.Tenant, agent string) error {
	if s.policy != nil {
		decision, reason, err := s.policy.Evaluate(ctx, policy.InputFor(tenant, agent))
		if err != nil {
			return domain.NewUpstreamFailure("policy evaluation failed", err)
		}
		if decision == domain.PolicyBlock {
			metrics.PolicyBlocks.WithLabelValues(agent).Inc()
			if reason == "" {
				reason = "blocked by policy"
			}
			return domain.NewForbidden(reason)
		}
	}

	allowed, err := s.limiter.Allow(ctx, tenant.LimitKey())
	if err != nil {
		s.logger.Warn().Err(err).Str("key", tenant.LimitKey()).Msg("rate limiter unavailable, allowing request")
	}
	if !allowed {
		metrics.RateLimitHits.Inc()
		return domain.NewRateLimited(fmt.Sprintf("too many requests for %s", tenant.LimitKey()))
	}
	return nil
}

// ListModels retrieves the list of available models.
func (s *Service) ListModels(ctx context.Context) ([]llm.Model, error) {
	return s.provider.ListModels(ctx)
}

// Stream is an upstream event-stream body. Close may be called from a
// goroutine other than the reader.
type Stream struct {
	RequestID string

	body    io.ReadCloser
	n       atomic.Int64
	once    sync.Once
	onClose func(n int64)
}

// Read reads upstream bytes unmodified.
func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.body.Read(p)
	if n > 0 {
		s.n.Add(int64(n))
		metrics.StreamBytes.Add(float64(n))
	}
	return n, err
}

// Close closes the upstream body and records completion once.
func (s *Stream) Close() error {
	err := s.body.Close()
	s.once.Do(func() {
		if s.onClose != nil {
			s.onClose(s.n.Load())
		}
	})
	return err
}

// BytesRead returns the number of bytes relayed so far.
func (s *Stream) BytesRead() int64 {
	return s.n.Load()
}
