// Package server exposes the HTTP API: authentication, project documents,
// tasks, comments, invitations, sharing, and AI insights. Handlers check
// membership and policy before touching the remote document, and every
// write goes through the document store's precondition cycle.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/crewdeck/crewdeck/internal/docstore"
	"github.com/crewdeck/crewdeck/internal/health"
	"github.com/crewdeck/crewdeck/internal/insights"
	"github.com/crewdeck/crewdeck/internal/invite"
	"github.com/crewdeck/crewdeck/internal/metrics"
	"github.com/crewdeck/crewdeck/internal/mirror"
	"github.com/crewdeck/crewdeck/internal/model"
	"github.com/crewdeck/crewdeck/internal/notify"
	"github.com/crewdeck/crewdeck/internal/oauth"
	"github.com/crewdeck/crewdeck/internal/policy"
	"github.com/crewdeck/crewdeck/internal/requestid"
	"github.com/crewdeck/crewdeck/internal/session"
	"github.com/crewdeck/crewdeck/internal/snapshot"
)

// documents is the slice of the document store the handlers use.
type documents interface {
	CreateProject(ctx context.Context, slug string, data snapshot.ProjectData) (model.ContainerRef, error)
	Get(ctx context.Context, container string) (*docstore.Document, error)
	GetFresh(ctx context.Context, container string) (*docstore.Document, error)
	Update(ctx context.Context, container string, data snapshot.ProjectData, sha string) (*docstore.Document, error)
	Apply(ctx context.Context, container string, mutate func(snapshot.ProjectData) (snapshot.ProjectData, error)) (*docstore.Document, error)
	Delete(ctx context.Context, container string) error
	Share(ctx context.Context, container, user string) error
	ShareableLink(container string) string
}

// identityProvider exchanges OAuth codes and verifies identity tokens.
type identityProvider interface {
	Exchange(ctx context.Context, code string) (session.TokenBundle, string, error)
	VerifyIdentity(ctx context.Context, idToken string) (*oauth.Profile, error)
}

// analyzer produces AI project reports.
type analyzer interface {
	Analyze(ctx context.Context, apiKey string, d snapshot.ProjectData) (*insights.Report, error)
}

// Config holds server configuration.
type Config struct {
	ListenAddr  string
	CORSOrigins string
	RateLimit   RateLimitConfig
}

// Deps bundles the collaborators the server wires into its handlers.
type Deps struct {
	Docs     documents
	Mirror   *mirror.Store
	Sessions *session.Store
	Issuer   *session.TokenIssuer
	OAuth    identityProvider
	Invites  *invite.Workflow
	Insights analyzer
	Policy   *policy.Policy
	Checker  *health.Checker
	Metrics  *metrics.Metrics
	Ops      *notify.OpsNotifier
}

// Server is the public API Fiber application.
type Server struct {
	app    *fiber.App
	config Config
	logger zerolog.Logger
}

// New creates and configures the API server.
func New(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	s := &Server{
		app:    app,
		config: cfg,
		logger: logger.With().Str("component", "server").Logger(),
	}

	h := newHandlers(deps, logger)
	s.setupMiddleware(cfg, deps, logger)
	s.setupRoutes(h)
	return s
}

func (s *Server) setupMiddleware(cfg Config, deps Deps, logger zerolog.Logger) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(func(c *fiber.Ctx) error {
		_, reqID := requestid.New(c.Context())
		c.Set("X-Request-ID", reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})

	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, If-Match, X-Request-ID",
			AllowMethods: "GET, POST, PATCH, PUT, DELETE, OPTIONS",
		}))
	}

	if cfg.RateLimit.RPS > 0 {
		s.app.Use(newRateLimitMiddleware(cfg.RateLimit))
	}

	s.app.Use(newAuthMiddleware(deps.Sessions, deps.Issuer, logger))

	// Request log + metrics. Probes are skipped to keep the log quiet.
	s.app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		if isProbePath(path) {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if deps.Metrics != nil {
			route := c.Route().Path
			deps.Metrics.RecordRequest(route, strconv.Itoa(status))
			deps.Metrics.ObserveDuration(route, time.Since(start).Seconds())
		}

		logger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Int("status", status).
			Str("ip", c.IP()).
			Str("request_id", fmt.Sprintf("%v", c.Locals("request_id"))).
			Dur("duration", time.Since(start)).
			Msg("api request")
		return err
	})
}

func (s *Server) setupRoutes(h *handlers) {
	// Probe endpoints bypass auth and rate limiting.
	s.app.Get("/healthz", h.Liveness)
	s.app.Get("/readyz", h.Readiness)

	v1 := s.app.Group("/api/v1")

	v1.Post("/auth/login", h.Login)
	v1.Post("/auth/logout", h.Logout)
	v1.Get("/auth/session", h.SessionInfo)

	v1.Get("/projects", h.ListProjects)
	v1.Post("/projects", h.CreateProject)
	v1.Get("/projects/:id", h.GetProject)
	v1.Patch("/projects/:id", h.UpdateProject)
	v1.Delete("/projects/:id", h.DeleteProject)
	v1.Put("/projects/:id/credentials", h.UpdateCredentials)
	v1.Get("/projects/:id/members", h.ListMembers)
	v1.Delete("/projects/:id/members/:userID", h.RemoveMember)
	v1.Get("/projects/:id/activities", h.ListActivities)
	v1.Post("/projects/:id/share", h.ShareProject)
	v1.Get("/projects/:id/link", h.ShareableLink)

	v1.Post("/projects/:id/tasks", h.CreateTask)
	v1.Patch("/projects/:id/tasks/:taskID", h.UpdateTask)
	v1.Delete("/projects/:id/tasks/:taskID", h.DeleteTask)
	v1.Post("/projects/:id/tasks/:taskID/comments", h.CreateComment)

	v1.Post("/projects/:id/invitations", h.CreateInvitation)
	v1.Get("/projects/:id/invitations", h.ListInvitations)
	v1.Post("/invitations/:id/accept", h.AcceptInvitation)
	v1.Post("/invitations/:id/reject", h.RejectInvitation)

	v1.Post("/projects/:id/insights", h.RunInsights)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8080"
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

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
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
			Msg("unhandled error")

		detail := err.Error()
		if code == fiber.StatusInternalServerError {
			detail = "An internal error occurred"
		}

		return c.Status(code).JSON(ProblemDetail{
			Type:     "internal_error",
			Title:    "Internal Server Error",
			Status:   code,
			Detail:   detail,
			Instance: c.Path(),
		})
	}
}
