package server

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	perrors "github.com/crewdeck/crewdeck/internal/errors"
	"github.com/crewdeck/crewdeck/internal/session"
)

const sessionLocal = "session"

// newAuthMiddleware validates the bearer token and attaches the live session
// to the request. Probe endpoints and the login route stay open.
func newAuthMiddleware(sessions *session.Store, issuer *session.TokenIssuer, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := c.Path()
		if isProbePath(path) || path == "/api/v1/auth/login" {
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return problemResponse(c, fiber.StatusUnauthorized,
				"missing_auth", "Unauthorized",
				"Authorization header is required")
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_auth_scheme", "Unauthorized",
				"Authorization header must use Bearer scheme")
		}

		sessionID, err := issuer.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			logger.Warn().Str("path", path).Str("method", c.Method()).
				Msg("unauthorized request: token verification failed")
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_token", "Unauthorized",
				"Session token is invalid or expired")
		}

		sess := sessions.Get(sessionID)
		if sess == nil {
			return problemResponse(c, fiber.StatusUnauthorized,
				"session_expired", "Unauthorized",
				"Session has expired, please log in again")
		}

		c.Locals(sessionLocal, sess)
		return c.Next()
	}
}

// currentSession returns the session attached by the auth middleware.
func currentSession(c *fiber.Ctx) *session.Session {
	sess, _ := c.Locals(sessionLocal).(*session.Session)
	return sess
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}

// domainProblem maps a workflow or store error onto a Problem Detail,
// carrying any remediation hint attached to the error.
func domainProblem(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	errType := "internal_error"
	title := "Internal Server Error"

	switch {
	case perrors.Is(err, perrors.ErrInvalidInput):
		status, errType, title = fiber.StatusBadRequest, "invalid_input", "Bad Request"
	case perrors.Is(err, perrors.ErrAuthFailure):
		status, errType, title = fiber.StatusUnauthorized, "auth_failure", "Unauthorized"
	case perrors.Is(err, perrors.ErrDenied):
		status, errType, title = fiber.StatusForbidden, "access_denied", "Forbidden"
	case perrors.Is(err, perrors.ErrTaskNotFound):
		status, errType, title = fiber.StatusNotFound, "task_not_found", "Not Found"
	case perrors.Is(err, perrors.ErrNotFound):
		status, errType, title = fiber.StatusNotFound, "not_found", "Not Found"
	case perrors.Is(err, perrors.ErrNoInvitationFound):
		status, errType, title = fiber.StatusNotFound, "no_invitation_found", "Not Found"
	case perrors.Is(err, perrors.ErrConflict):
		status, errType, title = fiber.StatusConflict, "write_conflict", "Conflict"
	case perrors.Is(err, perrors.ErrAlreadyProcessed):
		status, errType, title = fiber.StatusConflict, "already_processed", "Conflict"
	case perrors.Is(err, perrors.ErrOwnerSetupIncomplete):
		status, errType, title = fiber.StatusConflict, "owner_setup_incomplete", "Conflict"
	case perrors.Is(err, perrors.ErrRateLimit):
		status, errType, title = fiber.StatusTooManyRequests, "rate_limit_exceeded", "Too Many Requests"
	case perrors.Is(err, perrors.ErrUnavailable), perrors.Is(err, perrors.ErrTimeout):
		status, errType, title = fiber.StatusServiceUnavailable, "upstream_unavailable", "Service Unavailable"
	}

	detail := err.Error()
	if status == fiber.StatusInternalServerError {
		detail = "An internal error occurred"
	}

	return c.Status(status).JSON(ProblemDetail{
		Type:        errType,
		Title:       title,
		Status:      status,
		Detail:      detail,
		Instance:    c.Path(),
		Remediation: perrors.RemediationFor(err),
	})
}
