// Package statusapi exposes the running loop over a small loopback HTTP API.
package statusapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/haricheung/swordbot/internal/logger"
	"github.com/haricheung/swordbot/internal/loop"
	"github.com/haricheung/swordbot/internal/stats"
	"github.com/haricheung/swordbot/internal/types"
)

// Controller is the part of loop.Loop the API drives.
type Controller interface {
	State() types.GameState
	Status() types.LoopStatus
	Session() string
	Err() error
	Pause() error
	Resume() error
	Stop(ctx context.Context) error
}

// Stats is the part of stats.Collector the API reads.
type Stats interface {
	Current() (stats.Session, bool)
	Cumulative() ([]stats.LevelStats, error)
}

// stopWait bounds how long POST /api/stop waits for the cycle in flight.
const stopWait = 500 * time.Millisecond

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Status  types.LoopStatus `json:"status"`
	Session string           `json:"session,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// StatsResponse is the body of GET /api/stats. Session is null outside a session.
type StatsResponse struct {
	Session *stats.Summary     `json:"session"`
	Levels  []stats.LevelStats `json:"levels"`
}

type handler struct {
	ctl   Controller
	stats Stats
	now   func() time.Time
}

// NewRouter builds the gin engine. st may be nil.
func NewRouter(ctl Controller, st Stats, log *logger.Logger) *gin.Engine {
	if log == nil {
		log = logger.Nop()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLog(log))

	h := &handler{ctl: ctl, stats: st, now: time.Now}
	router.GET("/healthz", healthCheck)
	api := router.Group("/api")
	{
		api.GET("/state", h.state)
		api.GET("/status", h.status)
		api.GET("/stats", h.statsSummary)
		api.POST("/pause", h.pause)
		api.POST("/resume", h.resume)
		api.POST("/stop", h.stop)
	}
	return router
}

func requestLog(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("[API] request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start))
	}
}

func healthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (h *handler) state(c *gin.Context) {
	c.JSON(http.StatusOK, h.ctl.State())
}

func (h *handler) status(c *gin.Context) {
	resp := StatusResponse{Status: h.ctl.Status(), Session: h.ctl.Session()}
	if err := h.ctl.Err(); err != nil {
		resp.Error = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) statsSummary(c *gin.Context) {
	resp := StatsResponse{Levels: []stats.LevelStats{}}
	if h.stats == nil {
		c.JSON(http.StatusOK, resp)
		return
	}
	if s, ok := h.stats.Current(); ok {
		sum := stats.Summarize(s, h.now())
		resp.Session = &sum
	}
	levels, err := h.stats.Cumulative()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "stats_unavailable", err)
		return
	}
	if levels != nil {
		resp.Levels = levels
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) pause(c *gin.Context) {
	h.control(c, h.ctl.Pause())
}

func (h *handler) resume(c *gin.Context) {
	h.control(c, h.ctl.Resume())
}

// stop requests a stop and waits briefly. 202 means the request was taken
// but a cycle is still finishing.
func (h *handler) stop(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), stopWait)
	defer cancel()
	err := h.ctl.Stop(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		c.JSON(http.StatusAccepted, StatusResponse{Status: h.ctl.Status(), Session: h.ctl.Session()})
		return
	}
	h.control(c, err)
}

func (h *handler) control(c *gin.Context, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, StatusResponse{Status: h.ctl.Status(), Session: h.ctl.Session()})
	case errors.Is(err, loop.ErrNotRunning), errors.Is(err, loop.ErrAlreadyRunning):
		respondError(c, http.StatusConflict, "invalid_state", err)
	default:
		respondError(c, http.StatusInternalServerError, "control_failed", err)
	}
}

func respondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}

// Server runs the router on addr until its context ends.
type Server struct {
	addr   string
	router http.Handler
	log    *logger.Logger
}

func New(addr string, ctl Controller, st Stats, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{addr: addr, router: NewRouter(ctl, st, log), log: log}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("[API] listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
