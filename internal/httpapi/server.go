package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/aili/internal/config"
	"github.com/ent0n29/aili/internal/llm"
	"github.com/ent0n29/aili/internal/observability"
	"github.com/ent0n29/aili/internal/persona"
	"github.com/ent0n29/aili/internal/protocol"
	"github.com/ent0n29/aili/internal/session"
)

// Dialogue runs persona turns. dialogue.Service satisfies it.
type Dialogue interface {
	Chat(ctx context.Context, roleName, youName, query string) (string, error)
	ChatStream(ctx context.Context, roleName, youName, query string, onToken llm.TokenHandler, onComplete llm.CompletionHandler) (string, error)
}

// Info describes the wiring reported by /v1/status.
type Info struct {
	Backends      []string
	MemoryBackend string
	Personas      []string
}

// Server serves the chat HTTP and websocket API over a session manager and a
// dialogue service.
type Server struct {
	cfg      config.Config
	sessions *session.Manager
	dialogue Dialogue
	metrics  *observability.Metrics
	log      *zap.Logger
	info     Info
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, dialogue Dialogue, metrics *observability.Metrics, logger *zap.Logger, info Info) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		dialogue: dialogue,
		metrics:  metrics,
		log:      logger.Named("httpapi"),
		info:     info,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only connect from the same origin unless configured otherwise.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})

	r.Get("/v1/status", s.handleStatus)
	r.Get("/v1/personas", s.handleListPersonas)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Post("/v1/chat", s.handleChat)
	r.Post("/v1/chat/session", s.handleCreateSession)
	r.Post("/v1/chat/session/{id}/end", s.handleEndSession)
	r.Get("/v1/chat/ws", s.handleSessionWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"memory_backend": s.info.MemoryBackend,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.dialogue == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "dialogue service not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

type chatRequest struct {
	RoleName string `json:"role_name"`
	YouName  string `json:"you_name"`
	Query    string `json:"query"`
}

type chatResponse struct {
	RoleName string `json:"role_name"`
	YouName  string `json:"you_name"`
	Answer   string `json:"answer"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.dialogue == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "dialogue service not configured")
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}
	s.applyDefaults(&req.RoleName, &req.YouName)

	answer, err := s.dialogue.Chat(r.Context(), req.RoleName, req.YouName, req.Query)
	if err != nil {
		status, code := classifyError(err)
		s.log.Warn("chat turn failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("role_name", req.RoleName),
			zap.String("you_name", req.YouName),
			zap.String("code", code),
			zap.Error(err),
		)
		respondError(w, status, code, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, chatResponse{RoleName: req.RoleName, YouName: req.YouName, Answer: answer})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.applyDefaults(&req.RoleName, &req.YouName)

	sess := s.sessions.Create(req.RoleName, req.YouName)
	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		RoleName:        sess.RoleName,
		YouName:         sess.YouName,
		Status:          sess.Status,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.dialogue == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "dialogue service not configured")
		return
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if sess.Status != session.StatusActive {
		respondError(w, http.StatusGone, "session_ended", "session has ended")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.ObserveSessionEvent("ws_connected", s.sessions.ActiveCount())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &connection{
		server:   s,
		session:  sess,
		outbound: make(chan any, 256),
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-c.outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.ObserveWSMessage("outbound", string(t))
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	disconnected := false
readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			disconnected = true
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		_ = s.sessions.Touch(sessionID)

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			c.emit(ctx, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Detail:    err.Error(),
			})
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.ObserveWSMessage("inbound", string(t))
		}

		switch msg := parsed.(type) {
		case protocol.ChatRequest:
			c.startTurn(ctx, msg.Query)
		case protocol.ClientControl:
			if msg.Action == "end" {
				_, _ = s.sessions.End(sessionID)
				c.emit(ctx, protocol.SystemEvent{
					Type:      protocol.TypeSystemEvent,
					SessionID: sessionID,
					Code:      "session_ended",
				})
				break readLoop
			}
		}
	}

	if disconnected {
		cancel()
	}
	// A turn still running after an "end" request is allowed to finish.
	c.turns.Wait()
	cancel()
	<-writerDone
	if !disconnected {
		c.drain(conn)
	}
	s.metrics.ObserveSessionEvent("ws_disconnected", s.sessions.ActiveCount())
}

// connection is the per-websocket turn runner. Frames go through outbound so
// only the writer goroutine touches the socket.
type connection struct {
	server   *Server
	session  *session.Session
	outbound chan any
	turns    sync.WaitGroup
}

func (c *connection) startTurn(ctx context.Context, query string) {
	turnID := uuid.NewString()
	sessionID := c.session.ID
	if err := c.server.sessions.StartTurn(sessionID, turnID); err != nil {
		c.emit(ctx, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      "turn_rejected",
			Source:    "gateway",
			Retryable: errors.Is(err, session.ErrTurnInProgress),
			Detail:    err.Error(),
		})
		return
	}

	c.turns.Add(1)
	go func() {
		defer c.turns.Done()
		role, you := c.session.RoleName, c.session.YouName

		onToken := func(_, _, token string, _ bool) error {
			if !c.emit(ctx, protocol.AssistantTextDelta{
				Type:      protocol.TypeAssistantTextDelta,
				SessionID: sessionID,
				TurnID:    turnID,
				RoleName:  role,
				TextDelta: token,
			}) {
				return ctx.Err()
			}
			return nil
		}

		answer, err := c.server.dialogue.ChatStream(ctx, role, you, query, onToken, nil)
		_ = c.server.sessions.FinishTurn(sessionID, turnID, err == nil)
		if err != nil {
			_, code := classifyError(err)
			c.server.log.Warn("stream turn failed",
				zap.String("session_id", sessionID),
				zap.String("turn_id", turnID),
				zap.String("code", code),
				zap.Error(err),
			)
			c.emit(ctx, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				TurnID:    turnID,
				Code:      code,
				Source:    "dialogue",
				Retryable: code == "generation_failed",
				Detail:    err.Error(),
			})
			return
		}
		c.emit(ctx, protocol.AssistantTurnEnd{
			Type:      protocol.TypeAssistantTurnEnd,
			SessionID: sessionID,
			TurnID:    turnID,
			RoleName:  role,
			Answer:    answer,
			Reason:    "completed",
		})
	}()
}

func (c *connection) emit(ctx context.Context, msg any) bool {
	select {
	case <-ctx.Done():
		return false
	case c.outbound <- msg:
		return true
	}
}

// drain writes frames still queued once the writer goroutine has stopped.
func (c *connection) drain(conn *websocket.Conn) {
	for {
		select {
		case msg := <-c.outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Server) applyDefaults(roleName, youName *string) {
	if strings.TrimSpace(*roleName) == "" {
		*roleName = s.cfg.CharacterName
	}
	if strings.TrimSpace(*youName) == "" {
		*youName = s.cfg.YourName
	}
}

// classifyError maps a dialogue failure onto an HTTP status and error code.
func classifyError(err error) (int, string) {
	var notFound *persona.NotFoundError
	var cfgErr *llm.ConfigurationError
	var genErr *llm.GenerationError
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound, "persona_not_found"
	case errors.As(err, &cfgErr):
		return http.StatusInternalServerError, "configuration_error"
	case errors.As(err, &genErr):
		return http.StatusBadGateway, "generation_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "canceled"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ChatRequest:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.AssistantTextDelta:
		return m.Type, true
	case protocol.AssistantTurnEnd:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
