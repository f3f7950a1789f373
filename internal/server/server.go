// Package server exposes the voice shell tools, the agent and the call
// traces over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"ragagent/internal/assistant"
	"ragagent/internal/domain"
	"ragagent/internal/knowledge"
	"ragagent/internal/metrics"
)

const (
	maxBodySize     = 1 << 20 // 1MB
	shutdownTimeout = 5 * time.Second
)

// Runtime is what the HTTP layer needs from the assistant runtime.
type Runtime interface {
	Shell() *assistant.Shell
	Update(ctx context.Context) (knowledge.UpdateResult, error)
	Rebuild(ctx context.Context) (knowledge.BuildResult, error)
	AgentTools() []domain.ToolDefinition
	Stats() knowledge.IndexStats
	Traces() domain.TraceStore
	Metrics() *metrics.Collector
}

type Config struct {
	Runtime Runtime // required
	Host    string
	Port    int
	APIKey  string // when set, /api/v1 requires "Authorization: Bearer <key>"
	Logger  *slog.Logger
}

type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Port == 0 {
		cfg.Port = 8081
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          ErrorHandler(cfg.Logger),
		BodyLimit:             maxBodySize,
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          150 * time.Second, // agent runs call the LLM several times
		IdleTimeout:           120 * time.Second,
	})

	var (
		check   = NewCheckHandler(cfg.Runtime)
		tools   = NewToolHandler(cfg.Runtime, cfg.Logger)
		index   = NewIndexHandler(cfg.Runtime, cfg.Logger)
		traces  = NewTraceHandler(cfg.Runtime.Traces())
		checkGr = app.Group("/check")
		apiv1   = app.Group("/api/v1", bearerAuth(cfg.APIKey))
	)

	checkGr.Get("/healthy", check.HandleHealthy)
	app.Get("/metrics", check.HandleMetrics)

	apiv1.Get("/tools", tools.HandleList)
	apiv1.Post("/tools/:name/invoke", tools.HandleInvoke)
	apiv1.Post("/agent/run", tools.HandleAgentRun)

	apiv1.Get("/index", index.HandleStatus)
	apiv1.Post("/index/update", index.HandleUpdate)
	apiv1.Post("/index/rebuild", index.HandleRebuild)

	apiv1.Get("/traces", traces.HandleList)
	apiv1.Post("/traces", traces.HandleAdd)
	apiv1.Post("/traces/clear", traces.HandleClear)

	return &Server{
		app:    app,
		addr:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		logger: cfg.Logger,
	}
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Addr() string { return s.addr }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			s.logger.Warn("server shutdown", "error", err)
		}
	}()

	s.logger.Info("server started", "addr", s.addr)
	if err := s.app.Listen(s.addr); err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.logger.Info("server stopped")
	return nil
}

func bearerAuth(apiKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if apiKey == "" {
			return c.Next()
		}
		token, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			return ErrUnauthorized()
		}
		return c.Next()
	}
}
