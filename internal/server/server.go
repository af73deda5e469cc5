package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lattice-run/cloudcode-gateway/internal/config"
	"github.com/lattice-run/cloudcode-gateway/internal/dispatch"
	"github.com/lattice-run/cloudcode-gateway/internal/logging"
	"github.com/lattice-run/cloudcode-gateway/internal/pool"
	"github.com/lattice-run/cloudcode-gateway/internal/server/handlers"
	"github.com/lattice-run/cloudcode-gateway/internal/usage"
)

// requestBodyLimit bounds the size of an inbound request body.
const requestBodyLimit = 10 << 20 // 10MB

// Server wires the dispatch engine into a gin HTTP surface: a
// Messages-compatible endpoint that actually drives requests, plus
// health/models/account-limits for operators. It deliberately does
// not attempt the broader OpenAI-compatible surface (chat-completions
// request/response shape, image generation) — that collaborator is
// out of scope here and is specified, if at all, only at this
// package's own interface boundary.
type Server struct {
	engine  *gin.Engine
	pool    *pool.Pool
	loop    *dispatch.Loop
	cfg     *config.Config
	tracker *usage.Tracker
}

// New builds a Server over an already-loaded pool and dispatch loop.
// tracker may be nil, in which case a process-local in-memory tracker
// is created so /v1/messages always has somewhere to record counts.
func New(cfg *config.Config, p *pool.Pool, loop *dispatch.Loop, tracker *usage.Tracker) *Server {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.SetTrustedProxies(nil)
	engine.Use(gin.Recovery())

	if tracker == nil {
		tracker = usage.New(nil)
	}

	return &Server{engine: engine, pool: p, loop: loop, cfg: cfg, tracker: tracker}
}

// SetupRoutes registers every route; split from New/Run so tests can
// build a Server and hit its engine directly via httptest.
func (s *Server) SetupRoutes() {
	s.engine.Use(CORSMiddleware())
	s.engine.Use(RequestLoggingMiddleware())
	s.engine.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, requestBodyLimit)
		c.Next()
	})

	healthHandler := handlers.NewHealthHandler(s.pool)
	modelsHandler := handlers.NewModelsHandler()
	accountsHandler := handlers.NewAccountsHandler(s.pool)
	messagesHandler := handlers.NewMessagesHandler(s.loop, s.tracker)
	usageHandler := handlers.NewUsageHandler(s.tracker)

	s.engine.GET("/health", healthHandler.Health)
	s.engine.GET("/account-limits", accountsHandler.AccountLimits)
	s.engine.GET("/usage-history", usageHandler.History)

	v1 := s.engine.Group("/v1")
	v1.Use(APIKeyAuthMiddleware(s.cfg))
	{
		v1.GET("/models", modelsHandler.ListModels)
		v1.POST("/messages", messagesHandler.Messages)
	}

	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    "not_found_error",
				"message": fmt.Sprintf("endpoint %s %s not found", c.Request.Method, c.Request.URL.Path),
			},
		})
	})
}

// Engine exposes the underlying gin engine, e.g. for httptest.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server and blocks until it exits.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.SetupRoutes()
	s.tracker.StartPruning()
	defer s.tracker.Stop()
	logging.Info("[server] listening on %s", addr)

	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	err := httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
