// Package httpapi serves health probes, a read-only task API and the
// JSON-RPC WebSocket endpoint.
package httpapi

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vinayprograms/taskbot/chat"
	"github.com/vinayprograms/taskbot/errors"
	"github.com/vinayprograms/taskbot/logging"
	"github.com/vinayprograms/taskbot/search"
	"github.com/vinayprograms/taskbot/tasks"
)

// Server is the HTTP surface of the bot.
type Server struct {
	store  *tasks.Store
	index  *search.Index
	ws     http.Handler
	logger *logging.Logger
	router *gin.Engine
	srv    *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithSearch enables the q parameter of /api/tasks.
func WithSearch(idx *search.Index) Option {
	return func(s *Server) {
		s.index = idx
	}
}

// WithWebSocket mounts h at /ws.
func WithWebSocket(h http.Handler) Option {
	return func(s *Server) {
		s.ws = h
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New builds the router.
func New(store *tasks.Store, opts ...Option) *Server {
	s := &Server{store: store, logger: logging.New()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("http")

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.accessLog)

	router.GET("/healthz", s.handleHealth)
	router.GET("/readyz", s.handleReady)

	api := router.Group("/api")
	{
		api.GET("/tasks", s.handleList)
		api.GET("/tasks/status", s.handleStatus)
		api.GET("/tasks/:id", s.handleGet)
	}

	if s.ws != nil {
		router.GET("/ws", gin.WrapH(s.ws))
	}

	s.router = router
	return s
}

// Handler returns the router for tests and custom listeners.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves in the background. It returns once
// the listener is bound.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "listen "+addr)
	}
	s.srv = &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	s.logger.Info("http listening", map[string]interface{}{"addr": ln.Addr().String()})
	go func() {
		if err := s.srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
	return nil
}

// Shutdown stops accepting requests and waits for active ones. Hijacked
// WebSocket connections are closed by their own server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.Debug("request", map[string]interface{}{
		"method":   c.Request.Method,
		"path":     c.FullPath(),
		"status":   c.Writer.Status(),
		"duration": time.Since(start).String(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleReady(c *gin.Context) {
	if err := s.store.PersistError(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "tasks": s.store.Len()})
}

func (s *Server) handleList(c *gin.Context) {
	conv, err := conversationParam(c)
	if err != nil {
		respondError(c, err)
		return
	}
	active := c.Query("active") == "true"

	if q := c.Query("q"); q != "" {
		if s.index == nil {
			respondError(c, errors.New(errors.ErrCodeUnavailable, "search is disabled"))
			return
		}
		found, err := s.index.Search(search.Query{Text: q, Conversation: conv, ActiveOnly: active})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tasks": found})
		return
	}

	list := s.store.List(tasks.Filter{Conversation: conv, ActiveOnly: active})
	if list == nil {
		list = []*tasks.Task{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": list})
}

func (s *Server) handleGet(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, errors.InvalidInput("task id must be a number"))
		return
	}
	t, err := s.store.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// statusSummary splits a conversation's tasks into active and completed.
type statusSummary struct {
	Active    []*tasks.Task `json:"active"`
	Completed []*tasks.Task `json:"completed"`
	Rejected  int           `json:"rejected"`
}

func (s *Server) handleStatus(c *gin.Context) {
	conv, err := conversationParam(c)
	if err != nil {
		respondError(c, err)
		return
	}
	sum := statusSummary{Active: []*tasks.Task{}, Completed: []*tasks.Task{}}
	for _, t := range s.store.List(tasks.Filter{Conversation: conv}) {
		switch t.Status {
		case tasks.StatusCompleted:
			sum.Completed = append(sum.Completed, t)
		case tasks.StatusRejected:
			sum.Rejected++
		default:
			sum.Active = append(sum.Active, t)
		}
	}
	c.JSON(http.StatusOK, sum)
}

func conversationParam(c *gin.Context) (*chat.Address, error) {
	raw := c.Query("conversation")
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, errors.InvalidInput("conversation must be a number")
	}
	addr := chat.Address(v)
	return &addr, nil
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch errors.Code(err) {
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case errors.ErrCodeUnavailable:
		status = http.StatusServiceUnavailable
	}
	e := errors.As(err)
	if e == nil {
		e = errors.Wrap(err, err.Error())
	}
	c.JSON(status, gin.H{"error": e})
}
