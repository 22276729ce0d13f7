// Package conversation reconstructs assistant messages from a streamed relay
// response and keeps the transcript of one conversation.
package conversation

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kilonzo683/smartwebai-sub002/internal/domain"
	"github.com/kilonzo683/smartwebai-sub002/internal/stream"
)

// State is the reconstructor state of a session.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

var (
	// ErrInFlight is returned by Submit while a response is still streaming.
	ErrInFlight = errors.New("conversation: a response is already streaming")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("conversation: session closed")

	errIdleTimeout = errors.New("stream idle timeout")
)

const readBufferSize = 4096

// Opener starts a relay request and returns the raw event-stream body.
type Opener interface {
	Open(ctx context.Context, req domain.RelayRequest) (io.ReadCloser, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, req domain.RelayRequest) (io.ReadCloser, error)

func (f OpenerFunc) Open(ctx context.Context, req domain.RelayRequest) (io.ReadCloser, error) {
	return f(ctx, req)
}

// Option configures a Session.
type Option func(*Session)

// WithHistory seeds the transcript with earlier messages.
func WithHistory(messages []domain.Message) Option {
	return func(s *Session) {
		s.transcript = append(s.transcript, messages...)
	}
}

// WithIdleTimeout fails a stream that delivers no bytes for d. Zero disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Session) { s.idleTimeout = d }
}

// WithLogger sets the session logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithOnUpdate registers a hook called whenever a transcript message is
// appended or grows.
func WithOnUpdate(fn func(domain.Message)) Option {
	return func(s *Session) { s.onUpdate = fn }
}

// WithOnDelta registers a hook called with every content fragment.
func WithOnDelta(fn func(text string)) Option {
	return func(s *Session) { s.onDelta = fn }
}

// WithOnMalformed registers a hook called with every stream line skipped as
// malformed. Such lines never fail a submission.
func WithOnMalformed(fn func(line []byte)) Option {
	return func(s *Session) { s.onMalformed = fn }
}

// WithOnError registers a hook called when a submission fails.
func WithOnError(fn func(*domain.RelayError)) Option {
	return func(s *Session) { s.onError = fn }
}

// Session is one conversation with a single agent. At most one submission
// streams at a time. Hooks run on the submitting goroutine and must not call
// Close.
type Session struct {
	opener      Opener
	agentType   string
	idleTimeout time.Duration
	logger      zerolog.Logger

	onUpdate    func(domain.Message)
	onDelta     func(string)
	onError     func(*domain.RelayError)
	onMalformed func([]byte)

	mu         sync.Mutex
	transcript []domain.Message
	state      State
	lastErr    *domain.RelayError
	cancel     context.CancelCauseFunc
	closed     bool
	wg         sync.WaitGroup
}

// NewSession creates an idle session talking to agentType through opener.
func NewSession(opener Opener, agentType string, opts ...Option) *Session {
	s := &Session{
		opener:    opener,
		agentType: agentType,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AgentType returns the agent selector sent with every request.
func (s *Session) AgentType() string {
	return s.agentType
}

// State returns the current reconstructor state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error of the last failed submission, if any.
func (s *Session) Err() *domain.RelayError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Transcript returns a copy of the transcript in insertion order.
func (s *Session) Transcript() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Submit appends a user message, streams the assistant reply into a new
// transcript entry, and returns that entry once the stream ends.
//
// A call made while another submission is streaming returns ErrInFlight and
// changes nothing. On failure the assistant entry is removed if it never
// received content and kept otherwise; the returned error is a
// *domain.RelayError.
func (s *Session) Submit(ctx context.Context, content string) (domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return domain.Message{}, domain.NewBadRequest("message content is empty")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.Message{}, ErrClosed
	}
	if s.state == StateStreaming {
		s.mu.Unlock()
		return domain.Message{}, ErrInFlight
	}
	s.state = StateStreaming
	s.lastErr = nil
	s.wg.Add(1)
	defer s.wg.Done()

	user := newMessage(domain.RoleUser, content)
	s.transcript = append(s.transcript, user)
	req := domain.RelayRequest{Messages: s.history(), AgentType: s.agentType}

	assistant := newMessage(domain.RoleAssistant, "")
	s.transcript = append(s.transcript, assistant)
	idx := len(s.transcript) - 1

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	s.cancel = cancel
	s.mu.Unlock()

	s.notify(user)
	s.notify(assistant)

	err := s.consume(ctx, cancel, req, idx)

	s.mu.Lock()
	s.cancel = nil
	if err != nil {
		return s.fail(idx, err)
	}
	final := s.transcript[idx]
	s.state = StateIdle
	s.mu.Unlock()
	return final, nil
}

// Close aborts any streaming submission, waits for it to return, and rejects
// later submissions.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	if s.cancel != nil {
		s.cancel(ErrClosed)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// history returns the wire form of the transcript. Caller holds mu.
func (s *Session) history() []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(s.transcript))
	for _, m := range s.transcript {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case domain.RoleUser, domain.RoleAssistant:
			out = append(out, domain.ChatMessage{Role: m.Role, Content: m.Content})
		}
	}
	return out
}

func (s *Session) consume(ctx context.Context, cancel context.CancelCauseFunc, req domain.RelayRequest, idx int) error {
	// Armed before Open so a relay that never answers also times out.
	var idle *time.Timer
	if s.idleTimeout > 0 {
		idle = time.AfterFunc(s.idleTimeout, func() { cancel(errIdleTimeout) })
		defer idle.Stop()
	}

	body, err := s.opener.Open(ctx, req)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return abortError(cause)
		}
		return err
	}
	defer body.Close()

	// Unblocks a pending Read on cancellation or idle timeout.
	stop := context.AfterFunc(ctx, func() { body.Close() })
	defer stop()

	dec := stream.NewDecoder(func(text string) { s.appendFragment(idx, text) })
	dec.OnMalformed = func(line []byte) {
		s.logger.Debug().
			Str("code", string(domain.KindParseRecoverable)).
			Int("bytes", len(line)).
			Msg("skipping malformed stream line")
		if s.onMalformed != nil {
			s.onMalformed(line)
		}
	}

	buf := make([]byte, readBufferSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if idle != nil {
				idle.Reset(s.idleTimeout)
			}
			dec.Write(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if cause := context.Cause(ctx); cause != nil {
				return abortError(cause)
			}
			return domain.NewUpstreamFailure("stream read failed", readErr)
		}
	}
	dec.Flush()

	if !dec.Done() {
		s.logger.Debug().Msg("stream ended without terminal marker")
	}
	return nil
}

func (s *Session) appendFragment(idx int, text string) {
	s.mu.Lock()
	s.transcript[idx].Content += text
	msg := s.transcript[idx]
	s.mu.Unlock()

	if s.onDelta != nil {
		s.onDelta(text)
	}
	s.notify(msg)
}

// fail rolls back an empty assistant entry and reports err. Caller holds mu;
// fail releases it.
func (s *Session) fail(idx int, err error) (domain.Message, error) {
	re := domain.AsRelayError(err)
	partial := s.transcript[idx]
	if partial.Content == "" {
		s.transcript = s.transcript[:idx]
	}
	s.state = StateError
	s.lastErr = re
	s.mu.Unlock()

	s.logger.Warn().
		Str("code", string(re.Kind)).
		Int("partial_bytes", len(partial.Content)).
		Err(err).
		Msg("chat stream failed")
	if s.onError != nil {
		s.onError(re)
	}

	s.mu.Lock()
	if s.state == StateError {
		s.state = StateIdle
	}
	s.mu.Unlock()
	return partial, re
}

func (s *Session) notify(msg domain.Message) {
	if s.onUpdate != nil {
		s.onUpdate(msg)
	}
}

func abortError(cause error) *domain.RelayError {
	if errors.Is(cause, errIdleTimeout) {
		return domain.NewUpstreamFailure(errIdleTimeout.Error(), nil)
	}
	return domain.NewUpstreamFailure("stream aborted", cause)
}

func newMessage(role domain.Role, content string) domain.Message {
	return domain.Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}
