// Package api exposes the session controller over HTTP: JSON endpoints for
// every operation and external signal, a websocket event stream the browser
// shell listens on, and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/bhandras/immersive/internal/feedback"
	"github.com/bhandras/immersive/internal/presentation"
	"github.com/bhandras/immersive/internal/session"
	"github.com/bhandras/immersive/pkg/logger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options configure a Server.
type Options struct {
	AllowedOrigins []string
	// RequestTimeout bounds how long a request waits on the controller.
	// Entry and prompt requests can take as long as the user does.
	RequestTimeout time.Duration
}

const defaultRequestTimeout = 2 * time.Minute

// Server serves the control API.
type Server struct {
	ctrl     *session.Controller
	shell    *Shell
	hub      *Hub
	throttle *feedback.Throttle
	opts     Options

	router *gin.Engine

	mu       sync.Mutex
	sessions map[string]*presentation.Session
	ended    presentation.Ledger

	pumpOnce sync.Once
	stopPump func()
}

// NewServer builds the router. Call Start to begin streaming transitions.
func NewServer(ctrl *session.Controller, shell *Shell, hub *Hub, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	s := &Server{
		ctrl:     ctrl,
		shell:    shell,
		hub:      hub,
		throttle: ctrl.Throttle(),
		opts:     opts,
		sessions: make(map[string]*presentation.Session),
	}
	shell.OnSessionEnded(s.forgetSession)
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start forwards controller transitions to the event stream.
func (s *Server) Start() {
	s.pumpOnce.Do(func() {
		ch, cancel := s.ctrl.Subscribe(64)
		s.stopPump = cancel
		go func() {
			for tr := range ch {
				s.hub.Broadcast(Event{Type: EventTransition, Data: tr})
			}
		}()
	})
}

// Close stops the transition pump and disconnects event clients.
func (s *Server) Close() {
	if s.stopPump != nil {
		s.stopPump()
	}
	s.hub.Close()
}

// Serve runs an HTTP server on addr until ctx ends.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("[api] listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Close()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     s.opts.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !allowsAll(s.opts.AllowedOrigins),
	}))
	router.Use(LoggingMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	v1 := router.Group("/v1")
	{
		v1.GET("/status", s.getStatus)
		v1.GET("/compatibility", s.getCompatibility)
		v1.POST("/compatibility/invalidate", s.postInvalidateCompatibility)

		v1.POST("/entry", s.postEntry)
		v1.POST("/entry/cancel", s.postCancelEntry)
		v1.POST("/exit", s.postExit)
		v1.POST("/reset", s.postReset)
		v1.POST("/back", s.postBack)
		v1.POST("/consent", s.postConsent)

		v1.POST("/presentations", s.postPresentation)
		v1.DELETE("/presentations/:id", s.deletePresentation)

		v1.GET("/prompts", s.getPrompts)
		v1.POST("/prompts/resolve", s.postResolvePrompt)

		v1.GET("/feedback", s.getFeedback)
		v1.POST("/feedback/opt-out", s.postFeedbackOptOut(true))
		v1.POST("/feedback/opt-in", s.postFeedbackOptOut(false))

		signals := v1.Group("/signals")
		signals.POST("/resume", s.postResume)
		signals.POST("/ready", s.postReady)
		signals.POST("/focus", s.postFocus)
		signals.POST("/focus-lost", s.postFocusLost)
		signals.POST("/navigated", s.postNavigated)
		signals.POST("/history", s.postHistory)
		signals.POST("/fullscreen", s.postFullscreen)
		signals.POST("/crash", s.postCrash)

		v1.GET("/events", s.hub.HandleWebSocket)
	}
	return router
}

func (s *Server) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.opts.RequestTimeout)
}

func (s *Server) trackSession(sess *presentation.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := sess.Handle().ID
	// The controller may have ended it before the grant was recorded.
	if s.ended.Ended(id) {
		return
	}
	s.sessions[id] = sess
}

// forgetSession drops a session the controller ended on its own, through
// focus loss, navigation, a renderer crash or reset.
func (s *Server) forgetSession(h presentation.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, h.ID)
	s.ended = s.ended.MarkEnded(h.ID)
}

func (s *Server) trackedSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) takeSession(id string) (*presentation.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	return sess, ok
}

func allowsAll(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// errorStatus maps controller errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrNoUserGesture):
		return http.StatusForbidden
	case errors.Is(err, session.ErrIncompatibleRuntime):
		return http.StatusPreconditionFailed
	case errors.Is(err, session.ErrAlreadyPresenting),
		errors.Is(err, session.ErrTabNotFocused),
		errors.Is(err, session.ErrPromptAlreadyOutstanding),
		errors.Is(err, session.ErrEntryInProgress),
		errors.Is(err, session.ErrEntryCanceled),
		errors.Is(err, session.ErrExitCanceled),
		errors.Is(err, session.ErrNotImmersive):
		return http.StatusConflict
	case errors.Is(err, session.ErrSessionEnded),
		errors.Is(err, session.ErrPageNavigated),
		errors.Is(err, session.ErrRendererCrashed):
		return http.StatusGone
	case errors.Is(err, session.ErrLaunchFailed):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrEntryTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, session.ErrStopped),
		errors.Is(err, session.ErrReset):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(errorStatus(err), gin.H{"error": err.Error()})
}
