package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilonzo683/smartwebai-sub002/internal/adapter/llm"
	"github.com/kilonzo683/smartwebai-sub002/internal/config"
	"github.com/kilonzo683/smartwebai-sub002/internal/conversation"
	"github.com/kilonzo683/smartwebai-sub002/internal/domain"
	"github.com/kilonzo683/smartwebai-sub002/internal/policy"
	"github.com/kilonzo683/smartwebai-sub002/internal/prompt"
	store "github.com/kilonzo683/smartwebai-sub002/internal/repository"
	"github.com/kilonzo683/smartwebai-sub002/internal/testutil"
)

const okStream = "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n"

// fakeProvider returns scripted errors, then okStream.
type fakeProvider struct {
	mu       sync.Mutex
	errs     []error
	requests []llm.CompletionRequest
}

func (f *fakeProvider) OpenStream(ctx context.Context, req *llm.CompletionRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, *req)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return io.NopCloser(strings.NewReader(okStream)), nil
}

func (f *fakeProvider) ListModels(ctx context.Context) ([]llm.Model, error) {
	return []llm.Model{{ID: "fake"}}, nil
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// endlessProvider streams content until the body is closed.
type endlessProvider struct{}

func (endlessProvider) OpenStream(ctx context.Context, req *llm.CompletionRequest) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	go func() {
		line := []byte("data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n")
		for {
			if _, err := pw.Write(line); err != nil {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	return pr, nil
}

func (endlessProvider) ListModels(ctx context.Context) ([]llm.Model, error) {
	return nil, nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (bool, error) { return false, nil }

func newTestService(t *testing.T, provider llm.Provider, mutate func(*Deps)) (*Service, store.Store) {
	t.Helper()
	db := testutil.NewTestSQLiteStore(t)
	cfg := &config.Config{
		UpstreamModel:    "gpt-test",
		RetryMaxAttempts: 1,
		RetryBaseDelay:   time.Millisecond,
	}
	deps := Deps{
		Store:    db,
		Provider: provider,
		Prompts:  prompt.NewRegistry(),
		Config:   cfg,
		Logger:   zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	return New(deps), db
}

func userRequest(agent string) domain.RelayRequest {
	return domain.RelayRequest{
		AgentType: agent,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleUser, Content: "hello"},
			{Role: domain.RoleAssistant, Content: "hi, how can I help?"},
			{Role: domain.RoleUser, Content: "book a meeting"},
		},
	}
}

func TestRelayPrependsSystemPrompt(t *testing.T) {
	provider := &fakeProvider{}
	svc, _ := newTestService(t, provider, nil)

	stream, err := svc.Relay(context.Background(), RelayCall{Request: userRequest("secretary")})
	require.NoError(t, err)
	raw, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	assert.Equal(t, okStream, string(raw))
	assert.EqualValues(t, len(okStream), stream.BytesRead())

	require.Equal(t, 1, provider.calls())
	sent := provider.requests[0]
	assert.True(t, sent.Stream)
	assert.Equal(t, "gpt-test", sent.Model)
	require.Len(t, sent.Messages, 4)
	assert.Equal(t, domain.RoleSystem, sent.Messages[0].Role)
	assert.Equal(t, prompt.NewRegistry().For(domain.AgentSecretary), sent.Messages[0].Content)
	assert.Equal(t, "book a meeting", sent.Messages[3].Content)
}

func TestRelayUnknownAgentUsesDefaultPrompt(t *testing.T) {
	provider := &fakeProvider{}
	svc, _ := newTestService(t, provider, nil)

	stream, err := svc.Relay(context.Background(), RelayCall{Request: userRequest("unknown-agent")})
	require.NoError(t, err)
	stream.Close()

	assert.Equal(t, prompt.NewRegistry().Default(), provider.requests[0].Messages[0].Content)
}

func TestRelayValidation(t *testing.T) {
	cases := map[string]domain.RelayRequest{
		"no messages":   {AgentType: "support"},
		"no agent type": {Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "x"}}},
		"system role":   {AgentType: "support", Messages: []domain.ChatMessage{{Role: domain.RoleSystem, Content: "x"}}},
		"empty content": {AgentType: "support", Messages: []domain.ChatMessage{{Role: domain.RoleUser}}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			provider := &fakeProvider{}
			svc, _ := newTestService(t, provider, nil)

			_, err := svc.Relay(context.Background(), RelayCall{Request: req})
			require.Error(t, err)
			assert.Equal(t, domain.KindBadRequest, domain.KindOf(err))
			assert.Zero(t, provider.calls())
		})
	}
}

func TestRelayPolicyBlock(t *testing.T) {
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)

	provider := &fakeProvider{}
	svc, _ := newTestService(t, provider, func(d *Deps) { d.Policy = engine })

	_, err = svc.Relay(context.Background(), RelayCall{
		Tenant:  domain.Tenant{OrgID: "o1", Role: "member", Plan: "free"},
		Request: userRequest("social"),
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindForbidden, domain.KindOf(err))
	assert.Zero(t, provider.calls())
}

func TestRelayLocalRateLimit(t *testing.T) {
	provider := &fakeProvider{}
	svc, _ := newTestService(t, provider, func(d *Deps) { d.Limiter = denyLimiter{} })

	_, err := svc.Relay(context.Background(), RelayCall{Request: userRequest("support")})
	require.Error(t, err)
	assert.Equal(t, domain.KindRateLimited, domain.KindOf(err))
	assert.Zero(t, provider.calls())
}

func TestRelayUpstreamErrorsWithoutRetry(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusPaymentRequired, http.StatusBadGateway} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			provider := &fakeProvider{errs: []error{domain.FromUpstreamStatus(status, "")}}
			svc, db := newTestService(t, provider, nil)

			_, err := svc.Relay(context.Background(), RelayCall{SessionID: "s1", Request: userRequest("support")})
			require.Error(t, err)
			assert.Equal(t, domain.FromUpstreamStatus(status, "").Kind, domain.KindOf(err))
			assert.Equal(t, 1, provider.calls())

			events, err := db.GetEvents(context.Background(), "s1", 0, []string{string(domain.EventTypeRelayFailed)}, 10)
			require.NoError(t, err)
			assert.Len(t, events, 1)
		})
	}
}

func TestRelayRetriesRateLimitedOnly(t *testing.T) {
	rateLimited := domain.FromUpstreamStatus(http.StatusTooManyRequests, "")
	provider := &fakeProvider{errs: []error{rateLimited, rateLimited}}
	svc, _ := newTestService(t, provider, func(d *Deps) { d.Config.RetryMaxAttempts = 3 })

	stream, err := svc.Relay(context.Background(), RelayCall{Request: userRequest("support")})
	require.NoError(t, err)
	stream.Close()
	assert.Equal(t, 3, provider.calls())

	quota := domain.FromUpstreamStatus(http.StatusPaymentRequired, "")
	provider = &fakeProvider{errs: []error{quota, quota}}
	svc, _ = newTestService(t, provider, func(d *Deps) { d.Config.RetryMaxAttempts = 3 })

	_, err = svc.Relay(context.Background(), RelayCall{Request: userRequest("support")})
	assert.Equal(t, domain.KindQuotaExhausted, domain.KindOf(err))
	assert.Equal(t, 1, provider.calls())
}

func TestRelayRecordsEvents(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{}
	svc, db := newTestService(t, provider, nil)

	stream, err := svc.Relay(ctx, RelayCall{SessionID: "s1", Request: userRequest("lecturer")})
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, stream)
	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())

	events, err := db.GetEvents(ctx, "s1", 0, nil, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventTypeRelayStarted, events[0].Type)
	assert.Equal(t, domain.EventTypeRelayDone, events[1].Type)
	assert.Contains(t, string(events[1].Payload), `"bytes":`)
}

func TestSaveTurn(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, &fakeProvider{}, nil)

	now := time.Now()
	err := svc.SaveTurn(ctx, "s1", domain.Tenant{UserID: "u1"}, domain.AgentSupport,
		domain.Message{ID: "m1", Role: domain.RoleUser, Content: "hello", Timestamp: now},
		domain.Message{ID: "m2", Role: domain.RoleAssistant, Content: "hi", Timestamp: now},
	)
	require.NoError(t, err)

	messages, err := svc.GetMessages(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, domain.RoleUser, messages[0].Role)
	assert.Equal(t, "hi", messages[1].Content)
}

func TestRetryPolicyHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour}
	attempts, err := p.Do(ctx, func() error { return domain.NewRateLimited("slow down") })
	assert.Equal(t, 1, attempts)
	assert.Equal(t, domain.KindRateLimited, domain.KindOf(err))
}

func TestRelayStreamClosedWhileReading(t *testing.T) {
	svc, db := newTestService(t, endlessProvider{}, nil)
	sess := conversation.NewSession(conversation.OpenerFunc(func(ctx context.Context, req domain.RelayRequest) (io.ReadCloser, error) {
		stream, err := svc.Relay(ctx, RelayCall{SessionID: "s1", Request: req})
		if err != nil {
			return nil, err
		}
		return stream, nil
	}), "support")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	partial, err := sess.Submit(ctx, "hello")
	require.Error(t, err)
	assert.Equal(t, domain.KindUpstreamFailure, domain.KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var done domain.RelayDonePayload
	require.Eventually(t, func() bool {
		events, err := db.GetEvents(context.Background(), "s1", 0, []string{string(domain.EventTypeRelayDone)}, 10)
		if err != nil || len(events) != 1 {
			return false
		}
		return json.Unmarshal(events[0].Payload, &done) == nil
	}, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, done.Bytes, int64(len(partial.Content)))
}
