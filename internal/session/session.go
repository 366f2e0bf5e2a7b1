// Package session holds per-login state: the authenticated identity, the
// OAuth token bundle, and the credential context inherited through the
// invitation workflow. Sessions live in process memory only; a restart
// logs everyone out.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	perrors "github.com/crewdeck/crewdeck/internal/errors"
	"github.com/crewdeck/crewdeck/internal/model"
)

// TokenBundle is the OAuth state attached to a session.
type TokenBundle struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope"`
	// ExpiresAt is a unix-milli deadline. Validity checks compare against it
	// directly; they never make a network call.
	ExpiresAt int64 `json:"expires_at"`
}

// Valid reports whether the access token is still usable.
func (t TokenBundle) Valid() bool {
	return t.AccessToken != "" && time.Now().UnixMilli() < t.ExpiresAt
}

// HasScope checks whether the granted-scope string covers the named scope.
// This is a substring check on the grant by design: probing the provider
// for scope status can itself fail on insufficient-read permission.
func (t TokenBundle) HasScope(scope string) bool {
	return strings.Contains(t.Scope, scope)
}

// Session is one authenticated browser session.
type Session struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`

	// CredentialProjectID references the project whose credential set this
	// session inherited. The live value is resolved at time of use so owner
	// rotations propagate to members.
	CredentialProjectID string `json:"credential_project_id,omitempty"`
	// InheritedCredentials is the copy taken at accept time, kept as a
	// fallback for when the referenced project has since been deleted.
	InheritedCredentials *model.CredentialSet `json:"inherited_credentials,omitempty"`

	Tokens    TokenBundle `json:"tokens"`
	CreatedAt int64       `json:"created_at"`
	ExpiresAt int64       `json:"expires_at"`
}

// Expired reports whether the session itself has lapsed.
func (s *Session) Expired() bool {
	return time.Now().UnixMilli() >= s.ExpiresAt
}

// HasInheritedConfig reports whether any credential context reached this
// session through the invitation workflow.
func (s *Session) HasInheritedConfig() bool {
	return s.CredentialProjectID != "" ||
		(s.InheritedCredentials != nil && !s.InheritedCredentials.IsZero())
}

// projectResolver is the slice of the mirror used to resolve live
// credential references.
type projectResolver interface {
	GetProject(id string) (*model.Project, error)
}

// Credentials resolves the session's credential set: the referenced
// project's live value first, the copy taken at accept time as fallback.
func (s *Session) Credentials(resolver projectResolver) (*model.CredentialSet, error) {
	if s.CredentialProjectID != "" {
		project, err := resolver.GetProject(s.CredentialProjectID)
		if err != nil {
			return nil, err
		}
		if project != nil && project.Credentials != nil && !project.Credentials.IsZero() {
			creds := project.Credentials.Clone()
			return &creds, nil
		}
	}
	if s.InheritedCredentials != nil && !s.InheritedCredentials.IsZero() {
		creds := s.InheritedCredentials.Clone()
		return &creds, nil
	}
	return nil, fmt.Errorf("session %s has no credential context: %w", s.ID, perrors.ErrOwnerSetupIncomplete)
}

// HasFeature reports whether the resolved credential set enables a feature
// flag. Missing credentials simply read as disabled.
func (s *Session) HasFeature(resolver projectResolver, feature string) bool {
	creds, err := s.Credentials(resolver)
	if err != nil {
		return false
	}
	return creds.EnabledFeature[feature]
}

// NewParams describes a session to create.
type NewParams struct {
	UserID string
	Email  string
	Name   string

	CredentialProjectID  string
	InheritedCredentials *model.CredentialSet

	Tokens TokenBundle
	TTL    time.Duration
}

func newSession(p NewParams) *Session {
	now := time.Now()
	return &Session{
		ID:                   uuid.NewString(),
		UserID:               p.UserID,
		Email:                p.Email,
		Name:                 p.Name,
		CredentialProjectID:  p.CredentialProjectID,
		InheritedCredentials: p.InheritedCredentials,
		Tokens:               p.Tokens,
		CreatedAt:            now.UnixMilli(),
		ExpiresAt:            now.Add(p.TTL).UnixMilli(),
	}
}
