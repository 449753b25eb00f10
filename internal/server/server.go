// Package server exposes the scoring engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/mikeusry/southland-platform-sub000/internal/health"
	"github.com/mikeusry/southland-platform-sub000/internal/metrics"
	"github.com/mikeusry/southland-platform-sub000/internal/models"
	"github.com/mikeusry/southland-platform-sub000/internal/requestid"
)

// Scorer is the engine surface the HTTP handlers call. *engine.Service satisfies it.
type Scorer interface {
	HandleEvent(ctx context.Context, evt models.PixelEvent) (models.ScoringResponse, error)
	HandleBatch(ctx context.Context, events []models.PixelEvent) []models.ScoringResponse
	GetVisitor(ctx context.Context, anonymousID string) (*models.VisitorData, error)
}

// Config holds configuration for the HTTP server.
type Config struct {
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BodyLimit    int
	RateLimit    RateLimitConfig
	Auth         AuthConfig
}

// Server is the public scoring API Fiber application.
type Server struct {
	app    *fiber.App
	logger zerolog.Logger
	config Config
}

// New creates and configures the server. metricsCollector may be nil.
func New(cfg Config, scorer Scorer, checker *health.Checker, metricsCollector *metrics.Metrics, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		BodyLimit:             cfg.BodyLimit,
	})

	s := &Server{
		app:    app,
		logger: logger.With().Str("component", "http_server").Logger(),
		config: cfg,
	}

	s.setupMiddleware(cfg, metricsCollector)
	s.setupRoutes(cfg, NewHandlers(scorer, logger), checker, metricsCollector)

	return s
}

func (s *Server) setupMiddleware(cfg Config, metricsCollector *metrics.Metrics) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(requestid.Middleware())
	s.app.Use(corsMiddleware())

	// Audit log and request counter
	s.app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		err := c.Next()

		if metricsCollector != nil {
			status := c.Response().StatusCode()
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			} else if err != nil {
				status = fiber.StatusInternalServerError
			}
			metricsCollector.RecordHTTP(routeLabel(c), strconv.Itoa(status))
		}

		if isInfraPath(path) {
			return err
		}
		s.logger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Str("ip", c.IP()).
			Str("request_id", requestid.FromFiber(c)).
			Msg("scoring api request")
		return err
	})

	if cfg.RateLimit.RPS > 0 {
		s.app.Use(NewRateLimitMiddleware(cfg.RateLimit))
	}
}

func (s *Server) setupRoutes(cfg Config, h *Handlers, checker *health.Checker, metricsCollector *metrics.Metrics) {
	s.app.Get("/health", health.LivenessHandler())
	if checker != nil {
		s.app.Get("/ready", checker.ReadinessHandler())
	}
	if metricsCollector != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(metricsCollector.Handler()))
	}

	s.app.Post("/event", h.Event)
	s.app.Post("/batch", h.Batch)
	s.app.Get("/visitor/:id", NewAuthMiddleware(cfg.Auth, s.logger), h.Visitor)
}

// Start listens on the configured address. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	s.logger.Info().Str("addr", addr).Msg("Scoring API server starting")
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests until ctx
// expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Scoring API server shutting down")
	return s.app.ShutdownWithContext(ctx)
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

// corsMiddleware allows every origin. Preflight requests get an empty 200.
func corsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
		c.Set(fiber.HeaderAccessControlAllowMethods, "GET, POST, OPTIONS")
		c.Set(fiber.HeaderAccessControlAllowHeaders, "Content-Type")
		if c.Method() == fiber.MethodOptions {
			// SendStatus would fill the empty body with "OK".
			c.Status(fiber.StatusOK)
			return nil
		}
		return c.Next()
	}
}

func errorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		switch code {
		case fiber.StatusNotFound, fiber.StatusMethodNotAllowed:
			return c.Status(fiber.StatusNotFound).SendString("Not found")
		case fiber.StatusInternalServerError:
			logger.Error().
				Err(err).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Str("request_id", requestid.FromFiber(c)).
				Msg("Unhandled error")
			return c.Status(code).JSON(errorBody("Internal server error"))
		default:
			return c.Status(code).JSON(errorBody(fe.Message))
		}
	}
}

func errorBody(msg string) fiber.Map {
	return fiber.Map{"error": msg}
}

func isInfraPath(path string) bool {
	return path == "/health" || path == "/ready" || path == "/metrics"
}

// routeLabel returns the matched route pattern so path parameters do not explode
// metric cardinality.
func routeLabel(c *fiber.Ctx) string {
	if r := c.Route(); r != nil && r.Path != "/" {
		return r.Path
	}
	if c.Path() == "/" {
		return "/"
	}
	return "unmatched"
}
