package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/deskd/internal/tracing"
	"github.com/harun/deskd/pkg/conversation"
	"github.com/harun/deskd/pkg/hitl"
	"github.com/harun/deskd/pkg/orchestrator"
)

// secretHeader carries the shared secret on HTTP requests. WebSocket
// clients pass it as a query parameter instead because browsers cannot
// set headers on upgrade requests.
const secretHeader = "X-Deskd-Secret"

// Server is the HTTP surface of the support desk: the customer message
// endpoint, the reviewer approval endpoints, and operational endpoints.
type Server struct {
	host         string
	port         int
	sharedSecret string
	orch         *orchestrator.Orchestrator
	gate         *hitl.Gate
	store        conversation.Store
	hub          *ReviewerHub
	metrics      http.Handler
	echo         *echo.Echo
	upgrader     websocket.Upgrader
	logger       zerolog.Logger
}

// Config holds server configuration.
type Config struct {
	Host         string
	Port         int
	SharedSecret string
	Orchestrator *orchestrator.Orchestrator
	Gate         *hitl.Gate
	Store        conversation.Store
	Hub          *ReviewerHub
	Metrics      http.Handler // optional
	Logger       zerolog.Logger
}

// NewServer creates a gateway server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if cfg.Gate == nil {
		return nil, fmt.Errorf("approval gate is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Hub == nil {
		cfg.Hub = NewReviewerHub(cfg.Logger)
	}

	s := &Server{
		host:         cfg.Host,
		port:         cfg.Port,
		sharedSecret: cfg.SharedSecret,
		orch:         cfg.Orchestrator,
		gate:         cfg.Gate,
		store:        cfg.Store,
		hub:          cfg.Hub,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	s.registerRoutes(e)
	s.echo = e

	return s, nil
}

// Hub returns the reviewer hub so it can be wired as the gate notifier.
func (s *Server) Hub() *ReviewerHub {
	return s.hub
}

func (s *Server) registerRoutes(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics))
	}
	e.GET("/ws", s.handleReviewerSocket)

	api := e.Group("/v1", s.requireSecret)
	api.POST("/threads/:id/messages", s.handleMessage)
	api.POST("/threads/:id/approval", s.handleApproval)
	api.POST("/threads/:id/cancel", s.handleCancel)
	api.GET("/threads/:id", s.handleGetThread)
	api.GET("/approvals", s.handleListApprovals)
}

// requireSecret rejects API requests without the shared secret.
func (s *Server) requireSecret(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.sharedSecret != "" && c.Request().Header.Get(secretHeader) != s.sharedSecret {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		return next(c)
	}
}

// requestContext derives a traced context from the request, honoring a
// caller-provided X-Trace-Id.
func (s *Server) requestContext(c echo.Context, threadID string) context.Context {
	ctx := c.Request().Context()
	traceID := c.Request().Header.Get("X-Trace-Id")
	if traceID == "" {
		traceID = tracing.NewTraceID()
	}
	ctx = tracing.WithTraceID(ctx, traceID)
	return tracing.WithThreadID(ctx, threadID)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// messageRequest is a customer message addressed to a thread.
type messageRequest struct {
	Message string `json:"message"`
}

// messageResponse mirrors the orchestrator's turn result.
type messageResponse struct {
	Kind    string `json:"kind"`
	Answer  string `json:"answer,omitempty"`
	Summary string `json:"summary,omitempty"`
}

func (s *Server) handleMessage(c echo.Context) error {
	threadID := c.Param("id")

	var req messageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}

	ctx := s.requestContext(c, threadID)
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().Msg("Handling customer message")

	result, err := s.orch.HandleTurn(ctx, threadID, req.Message)
	if err != nil {
		if orchestrator.IsBusy(err) {
			return echo.NewHTTPError(http.StatusConflict, "thread is busy, retry shortly")
		}
		logger.Error().Err(err).Msg("Turn failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to handle message")
	}

	return c.JSON(http.StatusOK, messageResponse{
		Kind:    string(result.Kind),
		Answer:  result.Answer,
		Summary: result.Summary,
	})
}

// approvalRequest is a reviewer's verdict on the thread's pending call.
type approvalRequest struct {
	Approve      bool                   `json:"approve"`
	ModifiedArgs map[string]interface{} `json:"modified_args,omitempty"`
	Note         string                 `json:"note,omitempty"`
	Reviewer     string                 `json:"reviewer,omitempty"`
}

func (s *Server) handleApproval(c echo.Context) error {
	threadID := c.Param("id")

	var req approvalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := tracing.WithReviewer(s.requestContext(c, threadID), req.Reviewer)
	logger := tracing.LoggerFromContext(ctx, s.logger)

	err := s.gate.Resume(ctx, threadID, hitl.ApprovalDecision{
		Approve:      req.Approve,
		ModifiedArgs: req.ModifiedArgs,
		Note:         req.Note,
		Reviewer:     req.Reviewer,
	})
	if err != nil {
		if errors.Is(err, hitl.ErrNoPendingApproval) {
			return echo.NewHTTPError(http.StatusNotFound, "no pending approval for thread")
		}
		logger.Error().Err(err).Msg("Approval failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to apply decision")
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "applied"})
}

func (s *Server) handleCancel(c echo.Context) error {
	threadID := c.Param("id")

	if err := s.orch.Cancel(c.Request().Context(), threadID); err != nil {
		if errors.Is(err, conversation.ErrThreadNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "thread not found")
		}
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleGetThread(c echo.Context) error {
	threadID := c.Param("id")

	thread, err := s.store.Load(c.Request().Context(), threadID)
	if err != nil {
		if errors.Is(err, conversation.ErrThreadNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "thread not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load thread")
	}

	return c.JSON(http.StatusOK, thread)
}

// pendingApproval is one entry in the reviewer work queue.
type pendingApproval struct {
	ThreadID string                      `json:"thread_id"`
	Agent    string                      `json:"agent"`
	Pending  *conversation.PendingToolCall `json:"pending"`
	Since    time.Time                   `json:"since"`
}

func (s *Server) handleListApprovals(c echo.Context) error {
	ctx := c.Request().Context()

	ids, err := s.store.ListByStatus(ctx, conversation.StatusAwaitingApproval)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list approvals")
	}

	approvals := make([]pendingApproval, 0, len(ids))
	for _, id := range ids {
		thread, err := s.store.Load(ctx, id)
		if err != nil || thread.Checkpoint == nil || thread.Checkpoint.Pending == nil {
			continue
		}
		approvals = append(approvals, pendingApproval{
			ThreadID: id,
			Agent:    thread.Checkpoint.Agent,
			Pending:  thread.Checkpoint.Pending,
			Since:    thread.Checkpoint.UpdatedAt,
		})
	}

	return c.JSON(http.StatusOK, approvals)
}

func (s *Server) handleReviewerSocket(c echo.Context) error {
	if s.sharedSecret != "" && c.QueryParam("secret") != s.sharedSecret {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return nil
	}

	clientID, _ := gonanoid.New()
	s.hub.Add(clientID, conn)
	s.logger.Info().Str("clientId", clientID).Str("ip", c.RealIP()).Msg("Reviewer connected")

	go s.drainReviewer(clientID, conn)
	return nil
}

// drainReviewer reads until the connection drops. Reviewer consoles are
// push-only; inbound frames are discarded.
func (s *Server) drainReviewer(clientID string, conn *websocket.Conn) {
	defer func() {
		conn.Close()
		s.hub.Remove(clientID)
		s.logger.Info().Str("clientId", clientID).Msg("Reviewer disconnected")
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("clientId", clientID).Msg("WebSocket error")
			}
			return
		}
	}
}

// Start begins serving. It does not block.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.logger.Info().Str("addr", addr).Msg("Starting gateway server")

	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Shutting down gateway server")

	s.hub.Broadcast("server.shutdown", map[string]interface{}{
		"message": "Server is shutting down",
	})
	s.hub.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

// Handler exposes the HTTP handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
