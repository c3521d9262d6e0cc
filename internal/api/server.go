package api

// #region imports
import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/butterfly/go-controller/internal/codec"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/constraint"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/logging"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/metrics"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/orchestrator"
)

// #endregion

// #region server

// Server exposes a session manager over HTTP.
type Server struct {
	sessions     *orchestrator.Manager
	ws           http.Handler
	logger       *zap.Logger
	allowOrigins []string
}

// Option configures a Server.
type Option func(*Server)

// WithWebsocket mounts h at /ws.
func WithWebsocket(h http.Handler) Option {
	return func(s *Server) { s.ws = h }
}

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = logging.OrNop(l) }
}

// WithAllowOrigins restricts CORS to origins. Empty allows any origin.
func WithAllowOrigins(origins []string) Option {
	return func(s *Server) { s.allowOrigins = origins }
}

// New creates a server over sessions.
func New(sessions *orchestrator.Manager, opts ...Option) *Server {
	s := &Server{sessions: sessions, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("api")
	return s
}

// Router builds the gin engine with every route mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), metrics.Middleware(), RequestLogger(s.logger), CORS(s.allowOrigins))

	r.GET("/", s.root)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	if s.ws != nil {
		r.GET("/ws", gin.WrapH(s.ws))
	}

	g := r.Group("/api")
	g.GET("/status", s.status)
	g.POST("/chat", s.chat)
	g.GET("/constraints", s.constraints)
	g.POST("/constraints/feedback", s.feedback)
	g.GET("/personality", s.personality)
	g.POST("/reset", s.reset)
	return r
}

// #endregion

// #region dto

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// FeedbackRequest is the body of POST /api/constraints/feedback.
type FeedbackRequest struct {
	Rule    string `json:"rule" binding:"required"`
	Helpful *bool  `json:"helpful" binding:"required"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

// #endregion

// #region handlers

// session returns the selected session, creating it. Read-only routes use the
// manager's lookups instead so that reads never register sessions.
func (s *Server) session(c *gin.Context) *orchestrator.Session {
	return s.sessions.Get(c.Query("session"))
}

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Butterfly RSI controller - running"})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.sessions.Status(c.Query("session")))
}

func (s *Server) chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	rec, err := s.session(c).ProcessTurn(c.Request.Context(), req.Message)
	if err != nil {
		code, body := turnFailure(err)
		if code >= http.StatusInternalServerError {
			s.logger.Warn("chat failed", zap.Int("status", code), zap.Error(err))
		}
		c.JSON(code, body)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// turnFailure maps a ProcessTurn error onto a status code and body.
func turnFailure(err error) (int, ErrorResponse) {
	var turnErr *orchestrator.TurnError
	switch {
	case errors.Is(err, orchestrator.ErrEmptyMessage):
		return http.StatusBadRequest, ErrorResponse{Error: "message must not be empty"}
	case errors.As(err, &turnErr) && errors.Is(err, codec.ErrGenerationTimeout):
		return http.StatusGatewayTimeout, ErrorResponse{Error: err.Error(), Stage: string(turnErr.Stage)}
	case errors.As(err, &turnErr):
		return http.StatusBadGateway, ErrorResponse{Error: err.Error(), Stage: string(turnErr.Stage)}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: err.Error()}
	}
}

func (s *Server) constraints(c *gin.Context) {
	cs := s.sessions.Constraints(c.Query("session"))
	c.JSON(http.StatusOK, gin.H{"constraints": cs, "count": len(cs)})
}

func (s *Server) personality(c *gin.Context) {
	v := s.sessions.Traits(c.Query("session"))
	c.JSON(http.StatusOK, gin.H{"traits": v, "dominant": v.Dominant().String()})
}

func (s *Server) reset(c *gin.Context) {
	fresh := s.sessions.Reset(c.Request.Context(), c.Query("session"))
	c.JSON(http.StatusOK, gin.H{"message": "Agent reset successfully", "session_id": fresh.ID()})
}

func (s *Server) feedback(c *gin.Context) {
	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	update, err := s.session(c).Feedback(c.Request.Context(), req.Rule, *req.Helpful)
	switch {
	case errors.Is(err, constraint.ErrConstraintNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case err != nil:
		code, body := turnFailure(err)
		c.JSON(code, body)
	default:
		c.JSON(http.StatusOK, gin.H{"update": update})
	}
}

// #endregion
