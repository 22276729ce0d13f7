// Package ws serves conversations over WebSocket connections.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/kilonzo683/smartwebai-sub002/internal/config"
	"github.com/kilonzo683/smartwebai-sub002/internal/conversation"
	"github.com/kilonzo683/smartwebai-sub002/internal/domain"
	"github.com/kilonzo683/smartwebai-sub002/internal/metrics"
	"github.com/kilonzo683/smartwebai-sub002/internal/service"
)

// ErrorCodeCancelled is sent when the client cancels a streaming reply.
const ErrorCodeCancelled = "cancelled"

const persistTimeout = 5 * time.Second

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *Hub
	service  *service.Service
	sessions *sessionTable
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *Hub, svc *service.Service, logger zerolog.Logger) *Server {
	ctx, stop := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		hub:      h,
		service:  svc,
		sessions: newSessionTable(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
		ctx:    ctx,
		stop:   stop,
	}
}

// RegisterRoutes registers the WebSocket route.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/v1/ws", s.HandleWebSocket)
}

// HealthStatus reports live connection and conversation counts.
func (s *Server) HealthStatus() map[string]interface{} {
	return map[string]interface{}{
		"connections":   s.hub.ConnectionCount(),
		"sessions":      s.hub.SessionCount(),
		"conversations": s.sessions.len(),
	}
}

// Shutdown aborts streaming replies, closes every conversation and waits for
// in-flight submissions to finish.
func (s *Server) Shutdown() {
	s.stop()
	s.sessions.closeAll()
	s.wg.Wait()
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to upgrade websocket")
		return err
	}

	conn := s.hub.NewConnection(ws, domain.TenantFromHeader(c.Request().Header))
	if !s.hub.Register(conn) {
		ws.Close()
		return nil
	}

	ws.SetReadLimit(s.cfg.WSMaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(conn *Connection) {
	defer func() {
		if conn.SessionID != "" {
			s.sessions.release(conn.SessionID)
		}
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.WSReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.WSReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Str("conn_id", conn.ID).Msg("websocket error")
			}
			break
		}

		s.handleMessage(conn, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *Connection) {
	ticker := time.NewTicker(s.cfg.WSPingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WSWriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Debug().Err(err).Str("conn_id", conn.ID).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WSWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches incoming messages to appropriate handlers.
func (s *Server) handleMessage(conn *Connection, data []byte) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch base.Type {
	case TypeHello:
		s.handleHello(conn, data)
	case TypeSubmit:
		s.handleSubmit(conn, data)
	case TypeCancel:
		s.handleCancel(conn, base)
	default:
		s.sendError(conn, base.RequestID, ErrorCodeInvalidMessage, "unknown message type: "+base.Type)
	}
}

// handleHello binds the connection to a conversation, creating it on first use.
func (s *Server) handleHello(conn *Connection, data []byte) {
	var msg HelloMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid hello message")
		return
	}

	sessionID := msg.SessionID
	if sessionID == "" {
		sessionID = "sess_" + uuid.New().String()[:8]
	}

	tenant := conn.Tenant
	if tenant.UserID == "" {
		tenant.UserID = msg.UserID
	}

	if conn.SessionID != sessionID {
		cs, err := s.sessions.acquire(sessionID, func() (*chatSession, error) {
			return s.newChatSession(sessionID, msg.AgentType, tenant)
		})
		if err != nil {
			re := domain.AsRelayError(err)
			s.sendError(conn, msg.RequestID, string(re.Kind), re.ClientMessage())
			return
		}
		if conn.SessionID != "" {
			s.sessions.release(conn.SessionID)
		}
		s.hub.BindSession(conn, cs.id)
	}

	cs := s.sessions.get(sessionID)
	if cs == nil {
		s.sendError(conn, msg.RequestID, ErrorCodeSessionRequired, "session closed")
		return
	}

	ack := HelloAckMessage{
		BaseMessage: BaseMessage{
			Type:      TypeHelloAck,
			Ts:        time.Now().UnixMilli(),
			RequestID: msg.RequestID,
			SessionID: sessionID,
		},
		AgentType: cs.agent.String(),
		History:   cs.conv.Transcript(),
	}
	s.hub.SendJSON(conn, ack)

	s.logger.Info().Str("session_id", sessionID).Str("agent_type", cs.agent.String()).Msg("hello handshake completed")
}

// newChatSession builds a conversation whose replies are relayed in process
// and fanned out to every connection bound to the session.
func (s *Server) newChatSession(sessionID, agentType string, tenant domain.Tenant) (*chatSession, error) {
	agentType = strings.TrimSpace(agentType)
	if agentType == "" {
		return nil, domain.NewBadRequest("agent_type is required")
	}
	agent := domain.AgentType(agentType)
	if parsed, ok := domain.ParseAgentType(agentType); ok {
		agent = parsed
	}

	stored, err := s.service.GetMessages(s.ctx, sessionID, 0)
	if err != nil {
		return nil, domain.NewUpstreamFailure("failed to load transcript", err)
	}
	history := make([]domain.Message, len(stored))
	for i, m := range stored {
		history[i] = domain.Message{ID: m.MessageID, Role: m.Role, Content: m.Content, Timestamp: m.CreatedAt}
	}

	cs := &chatSession{id: sessionID, agent: agent, tenant: tenant}
	cs.conv = conversation.NewSession(s.opener(tenant, sessionID), agent.String(),
		conversation.WithHistory(history),
		conversation.WithIdleTimeout(s.cfg.StreamIdleTimeout),
		conversation.WithLogger(s.logger.With().Str("session_id", sessionID).Logger()),
		conversation.WithOnUpdate(func(m domain.Message) {
			if m.Role != domain.RoleUser {
				return
			}
			s.hub.BroadcastJSON(sessionID, TranscriptMessage{
				BaseMessage: s.base(TypeMessage, cs.currentRequest(), sessionID),
				Message:     m,
			})
		}),
		conversation.WithOnMalformed(func([]byte) { metrics.MalformedLines.Inc() }),
		conversation.WithOnDelta(func(text string) {
			s.hub.BroadcastJSON(sessionID, DeltaMessage{
				BaseMessage: s.base(TypeDelta, cs.currentRequest(), sessionID),
				Text:        text,
			})
		}),
	)
	return cs, nil
}

// opener relays requests through the service without an HTTP hop.
func (s *Server) opener(tenant domain.Tenant, sessionID string) conversation.Opener {
	return conversation.OpenerFunc(func(ctx context.Context, req domain.RelayRequest) (io.ReadCloser, error) {
		stream, err := s.service.Relay(ctx, service.RelayCall{
			Tenant:    tenant,
			SessionID: sessionID,
			Request:   req,
		})
		if err != nil {
			return nil, err
		}
		return stream, nil
	})
}

// handleSubmit streams a reply to the bound conversation.
func (s *Server) handleSubmit(conn *Connection, data []byte) {
	var msg SubmitMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid submit message")
		return
	}

	cs := s.sessions.get(conn.SessionID)
	if conn.SessionID == "" || cs == nil {
		s.sendError(conn, msg.RequestID, ErrorCodeSessionRequired, "must send hello first")
		return
	}

	requestID := msg.RequestID
	if requestID == "" {
		requestID = "req_" + uuid.New().String()[:8]
	}

	ctx, cancel := context.WithCancel(s.ctx)
	if !cs.begin(requestID, cancel) {
		cancel()
		s.sendError(conn, requestID, ErrorCodeInFlight, conversation.ErrInFlight.Error())
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		before := len(cs.conv.Transcript())
		reply, err := cs.conv.Submit(ctx, msg.Content)
		s.persistTurn(cs, before)
		// Free the slot before replying so the client can submit again on done.
		cs.setRequest("", nil)

		if err != nil {
			s.reportSubmitError(cs, requestID, err)
			return
		}
		s.hub.BroadcastJSON(cs.id, DoneMessage{
			BaseMessage: s.base(TypeDone, requestID, cs.id),
			Message:     reply,
		})
	}()
}

func (s *Server) reportSubmitError(cs *chatSession, requestID string, err error) {
	switch {
	case errors.Is(err, conversation.ErrClosed):
		return
	case errors.Is(err, conversation.ErrInFlight):
		s.hub.BroadcastJSON(cs.id, s.errorMessage(requestID, cs.id, ErrorCodeInFlight, err.Error()))
	case errors.Is(err, context.Canceled):
		s.hub.BroadcastJSON(cs.id, s.errorMessage(requestID, cs.id, ErrorCodeCancelled, "reply cancelled"))
	default:
		re := domain.AsRelayError(err)
		s.hub.BroadcastJSON(cs.id, s.errorMessage(requestID, cs.id, string(re.Kind), re.ClientMessage()))
	}
}

// persistTurn saves the messages a submission appended after the first
// before entries. Submissions rejected up front append nothing.
func (s *Server) persistTurn(cs *chatSession, before int) {
	transcript := cs.conv.Transcript()
	if len(transcript) <= before {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.service.SaveTurn(ctx, cs.id, cs.tenant, cs.agent, transcript[before:]...); err != nil {
		s.logger.Warn().Err(err).Str("session_id", cs.id).Msg("failed to persist turn")
	}
}

// handleCancel aborts the streaming reply of the bound conversation.
func (s *Server) handleCancel(conn *Connection, msg BaseMessage) {
	cs := s.sessions.get(conn.SessionID)
	if conn.SessionID == "" || cs == nil {
		s.sendError(conn, msg.RequestID, ErrorCodeSessionRequired, "must send hello first")
		return
	}
	if !cs.abort() {
		s.sendError(conn, msg.RequestID, ErrorCodeInvalidMessage, "nothing to cancel")
	}
}

func (s *Server) base(typ, requestID, sessionID string) BaseMessage {
	return BaseMessage{
		Type:      typ,
		Ts:        time.Now().UnixMilli(),
		RequestID: requestID,
		SessionID: sessionID,
	}
}

func (s *Server) errorMessage(requestID, sessionID, code, message string) ErrorMessage {
	return ErrorMessage{
		BaseMessage: s.base(TypeError, requestID, sessionID),
		Code:        code,
		Message:     message,
	}
}

// sendError sends an error message to a connection.
func (s *Server) sendError(conn *Connection, requestID, code, message string) {
	s.hub.SendJSON(conn, s.errorMessage(requestID, conn.SessionID, code, message))
}
