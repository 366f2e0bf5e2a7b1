// Package oauth talks to the external identity provider: it exchanges
// authorization codes for token bundles and verifies identity tokens.
// Provider failures surface as APIErrors; they never carry provider
// internals into the domain.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/crewdeck/crewdeck/internal/errors"
	"github.com/crewdeck/crewdeck/internal/session"
)

// Config points the client at a provider.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// TokenURL is the code-exchange endpoint.
	TokenURL string
	// VerifyURL validates an identity token and returns profile claims.
	VerifyURL string
}

// Profile is the identity extracted from a verified token.
type Profile struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
}

// Client performs the provider round-trips.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger.With().Str("component", "oauth").Logger(),
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	Scope        string `json:"scope"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Exchange trades an authorization code for a token bundle and the raw
// identity token.
func (c *Client) Exchange(ctx context.Context, code string) (session.TokenBundle, string, error) {
	form := url.Values{
		"code":          {code},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"redirect_uri":  {c.cfg.RedirectURL},
		"grant_type":    {"authorization_code"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return session.TokenBundle{}, "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return session.TokenBundle{}, "", perrors.WrapAPIError("oauth", 0, "code exchange", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Warn().Int("status", resp.StatusCode).Str("body", string(body)).Msg("code exchange rejected")
		return session.TokenBundle{}, "", perrors.NewAPIError("oauth", resp.StatusCode, "code exchange rejected")
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return session.TokenBundle{}, "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return session.TokenBundle{}, "", perrors.NewAPIError("oauth", resp.StatusCode, "token response missing access token")
	}

	bundle := session.TokenBundle{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Scope:        tok.Scope,
		ExpiresAt:    time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second).UnixMilli(),
	}
	return bundle, tok.IDToken, nil
}

// VerifyIdentity validates an identity token with the provider and returns
// the profile it asserts.
func (c *Client) VerifyIdentity(ctx context.Context, idToken string) (*Profile, error) {
	endpoint := c.cfg.VerifyURL + "?id_token=" + url.QueryEscape(idToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build verify request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, perrors.WrapAPIError("oauth", 0, "identity verification", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity token rejected (status %d): %w", resp.StatusCode, perrors.ErrAuthFailure)
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode identity claims: %w", err)
	}
	if profile.Email == "" {
		return nil, fmt.Errorf("identity token asserts no email: %w", perrors.ErrAuthFailure)
	}
	if profile.Subject == "" {
		return nil, fmt.Errorf("identity token asserts no subject: %w", perrors.ErrAuthFailure)
	}
	return &profile, nil
}
