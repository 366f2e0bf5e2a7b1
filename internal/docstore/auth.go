package docstore

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"

	"github.com/crewdeck/crewdeck/pkg/tokenstore"
)

const (
	installationTokenKey = "docstore_installation_token"
	installationTokenTTL = 55 * time.Minute // tokens last 1 hour, refresh at 55 min
)

// AppAuth produces GitHub clients authenticated as an App installation.
// The service holds an RS256 key; short-lived installation tokens are
// cached in the token store.
type AppAuth struct {
	appID          int64
	installationID int64
	privateKey     *rsa.PrivateKey
	tokens         tokenstore.Store
	httpClient     *http.Client
	logger         zerolog.Logger
}

// NewAppAuth loads the PEM key from disk and builds an authenticator.
func NewAppAuth(appID, installationID int64, privateKeyPath string, tokens tokenstore.Store, logger zerolog.Logger) (*AppAuth, error) {
	keyData, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	return NewAppAuthFromKeyBytes(appID, installationID, keyData, tokens, logger)
}

// NewAppAuthFromKeyBytes builds an authenticator from PEM key bytes
// (useful for testing).
func NewAppAuthFromKeyBytes(appID, installationID int64, keyData []byte, tokens tokenstore.Store, logger zerolog.Logger) (*AppAuth, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyData)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return &AppAuth{
		appID:          appID,
		installationID: installationID,
		privateKey:     key,
		tokens:         tokens,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		logger:         logger.With().Str("component", "docstore.auth").Logger(),
	}, nil
}

// generateJWT creates the App-level JWT used to mint installation tokens.
func (a *AppAuth) generateJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		Issuer:    fmt.Sprintf("%d", a.appID),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(a.privateKey)
	if err != nil {
		return "", fmt.Errorf("signing JWT: %w", err)
	}
	return signed, nil
}

type installationTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// installationToken returns a cached or freshly minted installation token.
func (a *AppAuth) installationToken(ctx context.Context) (string, error) {
	tok, err := a.tokens.Get(ctx, installationTokenKey)
	if err == nil {
		a.logger.Debug().Msg("using cached installation token")
		return tok.Value, nil
	}

	a.logger.Info().Msg("minting new installation token")
	jwtToken, err := a.generateJWT()
	if err != nil {
		return "", fmt.Errorf("generating JWT: %w", err)
	}

	url := fmt.Sprintf("https://api.github.com/app/installations/%d/access_tokens", a.installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+jwtToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting installation token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("installation token request failed (status %d): %s", resp.StatusCode, body)
	}

	var tokenResp installationTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}

	if err := a.tokens.Set(ctx, installationTokenKey, tokenResp.Token, installationTokenTTL); err != nil {
		a.logger.Warn().Err(err).Msg("failed to cache installation token")
	}
	return tokenResp.Token, nil
}

// Client returns a github.Client authenticated with an installation token.
func (a *AppAuth) Client(ctx context.Context) (*github.Client, error) {
	token, err := a.installationToken(ctx)
	if err != nil {
		return nil, err
	}
	return github.NewClient(&http.Client{
		Transport: &tokenTransport{token: token, base: http.DefaultTransport},
		Timeout:   30 * time.Second,
	}), nil
}

type tokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", "token "+t.token)
	return t.base.RoundTrip(req2)
}
