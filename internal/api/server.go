// Package api is the HTTP surface of the daemon: command dispatch for the
// extension UI plus probe and metrics endpoints.
package api

import (
	"encoding/json"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/tabnap/tabnap/internal/health"
	"github.com/tabnap/tabnap/internal/metrics"
	"github.com/tabnap/tabnap/internal/requestid"
	"github.com/tabnap/tabnap/internal/router"
)

// Config holds API server settings.
type Config struct {
	ListenAddr  string
	CORSOrigins string
}

// Server is the Fiber application serving the command API.
type Server struct {
	app    *fiber.App
	router *router.Router
	logger zerolog.Logger
	config Config
}

// NewServer creates and configures the API server.
func NewServer(
	cfg Config,
	rt *router.Router,
	checker *health.Checker,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	s := &Server{
		app:    app,
		router: rt,
		logger: logger.With().Str("component", "api").Logger(),
		config: cfg,
	}

	s.setupMiddleware(cfg)
	s.setupRoutes(checker, m)
	return s
}

func (s *Server) setupMiddleware(cfg Config) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// Request ID middleware
	s.app.Use(func(c *fiber.Ctx) error {
		_, reqID := requestid.New(c.Context())
		c.Set("X-Request-ID", reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})

	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, X-Request-ID",
			AllowMethods: "GET, POST, OPTIONS",
		}))
	}

	// Audit middleware (log every request, skip noisy probes)
	s.app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		if path == "/healthz" || path == "/readyz" || path == "/metrics" {
			return c.Next()
		}
		s.logger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Str("ip", c.IP()).
			Str("request_id", c.Locals("request_id").(string)).
			Msg("api request")
		return c.Next()
	})
}

func (s *Server) setupRoutes(checker *health.Checker, m *metrics.Metrics) {
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	s.app.Get("/readyz", func(c *fiber.Ctx) error {
		results := checker.RunAll(c.Context())
		ready := true
		for _, status := range results {
			if status == health.StatusDown {
				ready = false
				break
			}
		}
		code := fiber.StatusOK
		if !ready {
			code = fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(fiber.Map{"ready": ready, "checks": results})
	})

	if m != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}

	v1 := s.app.Group("/api/v1")
	v1.Post("/command", s.handleCommand)
	v1.Post("/commands/:name", s.handleNamedCommand)
}

// handleCommand dispatches a full request envelope.
func (s *Server) handleCommand(c *fiber.Ctx) error {
	var req router.Request
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}
	if req.Action == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing action")
	}

	ctx := requestid.WithRequestID(c.Context(), c.Locals("request_id").(string))
	return c.JSON(s.router.Dispatch(ctx, req))
}

// handleNamedCommand dispatches a keybinding command by its registered name.
func (s *Server) handleNamedCommand(c *fiber.Ctx) error {
	name := c.Params("name")
	action, ok := router.CommandAction(name)
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "unknown command: "+name)
	}

	ctx := requestid.WithRequestID(c.Context(), c.Locals("request_id").(string))
	return c.JSON(s.router.Dispatch(ctx, router.Request{Action: action}))
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":7532"
	}
	s.logger.Info().Str("addr", addr).Msg("api server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("api server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

type problem struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func errorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		logger.Error().
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("request failed")

		detail := err.Error()
		if code == fiber.StatusInternalServerError {
			detail = "internal error"
		}
		return c.Status(code).JSON(problem{
			Title:  "request failed",
			Status: code,
			Detail: detail,
		})
	}
}
