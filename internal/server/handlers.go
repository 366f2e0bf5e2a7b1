package server

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	perrors "github.com/crewdeck/crewdeck/internal/errors"
	"github.com/crewdeck/crewdeck/internal/invite"
	"github.com/crewdeck/crewdeck/internal/model"
	"github.com/crewdeck/crewdeck/internal/policy"
	"github.com/crewdeck/crewdeck/internal/session"
)

// handlers holds dependencies for HTTP handlers.
type handlers struct {
	deps      Deps
	logger    zerolog.Logger
	startTime time.Time
}

func newHandlers(deps Deps, logger zerolog.Logger) *handlers {
	return &handlers{
		deps:      deps,
		logger:    logger.With().Str("component", "handlers").Logger(),
		startTime: time.Now(),
	}
}

// Login handles POST /api/v1/auth/login. Two paths: an OAuth authorization
// code, or a bare email for users arriving from an invitation. Either way
// every pending invitation for the email is auto-accepted and the caller
// inherits the inviting project's credential set.
func (h *handlers) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}

	var who invite.Identity
	var tokens session.TokenBundle
	viaOAuth := false

	switch {
	case req.Code != "":
		if h.deps.OAuth == nil {
			return problemResponse(c, fiber.StatusBadRequest,
				"oauth_disabled", "Bad Request",
				"OAuth login is not configured")
		}
		bundle, idToken, err := h.deps.OAuth.Exchange(c.Context(), req.Code)
		if err != nil {
			return domainProblem(c, err)
		}
		profile, err := h.deps.OAuth.VerifyIdentity(c.Context(), idToken)
		if err != nil {
			return domainProblem(c, err)
		}
		who = invite.Identity{UserID: profile.Subject, Email: profile.Email, Name: profile.Name}
		tokens = bundle
		viaOAuth = true

	case req.Email != "":
		// Email-only logins are keyed by the address itself until the user
		// authenticates through OAuth and the memberships are rekeyed.
		who = invite.Identity{UserID: req.Email, Email: req.Email, Name: req.Name}

	default:
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_credentials", "Bad Request",
			"Either code or email is required")
	}

	result, err := h.deps.Invites.LoginByEmail(c.Context(), who)
	if err != nil {
		// An OAuth login stands on its own: a user with no invitations or an
		// unconfigured inviting project still gets a session and can set up
		// projects of their own. Email-only logins exist solely to follow an
		// invitation, so for them these conditions surface to the caller.
		if viaOAuth && (perrors.Is(err, perrors.ErrNoInvitationFound) || perrors.Is(err, perrors.ErrOwnerSetupIncomplete)) {
			result = &invite.LoginResult{}
		} else {
			return domainProblem(c, err)
		}
	}

	params := session.NewParams{
		UserID: who.UserID,
		Email:  who.Email,
		Name:   who.Name,
		Tokens: tokens,
	}
	if result.Inheritance != nil {
		params.CredentialProjectID = result.Inheritance.ProjectID
		params.InheritedCredentials = result.Inheritance.Credentials
	}
	sess := h.deps.Sessions.Create(params)

	token, err := h.deps.Issuer.Issue(sess)
	if err != nil {
		return domainProblem(c, err)
	}

	resp := LoginResponse{
		Token:               token,
		SessionID:           sess.ID,
		UserID:              sess.UserID,
		Email:               sess.Email,
		Name:                sess.Name,
		ExpiresAt:           sess.ExpiresAt,
		AcceptedInvitations: result.Accepted,
		InheritedFrom:       sess.CredentialProjectID,
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

// Logout handles POST /api/v1/auth/logout.
func (h *handlers) Logout(c *fiber.Ctx) error {
	sess := currentSession(c)
	if sess != nil {
		h.deps.Sessions.Delete(sess.ID)
	}
	return c.JSON(fiber.Map{"ok": true})
}

// SessionInfo handles GET /api/v1/auth/session.
func (h *handlers) SessionInfo(c *fiber.Ctx) error {
	sess := currentSession(c)
	return c.JSON(SessionResponse{
		SessionID:     sess.ID,
		UserID:        sess.UserID,
		Email:         sess.Email,
		Name:          sess.Name,
		ExpiresAt:     sess.ExpiresAt,
		InheritedFrom: sess.CredentialProjectID,
		Configured:    sess.HasInheritedConfig(),
	})
}

// Liveness handles GET /healthz.
func (h *handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"uptime": time.Since(h.startTime).String(),
	})
}

// Readiness handles GET /readyz.
func (h *handlers) Readiness(c *fiber.Ctx) error {
	if h.deps.Checker != nil && !h.deps.Checker.IsReady(c.Context()) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not ready"})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}

// requireRole resolves the caller's membership on a project and checks the
// policy for the operation. The membership check runs first so callers
// without access learn nothing about whether the project exists.
func (h *handlers) requireRole(c *fiber.Ctx, projectID string, op policy.Operation) (*model.ProjectMember, error) {
	sess := currentSession(c)
	member, err := h.deps.Mirror.GetUserProjectRole(projectID, sess.UserID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, perrors.ErrDenied
	}
	if !h.deps.Policy.Allows(member.Role, op) {
		return nil, perrors.ErrDenied
	}
	return member, nil
}
