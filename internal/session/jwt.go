package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	perrors "github.com/crewdeck/crewdeck/internal/errors"
)

// Claims is the payload of a session bearer token. The token carries only
// the session id; everything else lives server-side in the Store.
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies session bearer tokens with an HS256
// shared secret.
type TokenIssuer struct {
	secret []byte
	issuer string
}

func NewTokenIssuer(secret, issuer string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), issuer: issuer}
}

// Issue mints a bearer token for a session, expiring with it.
func (t *TokenIssuer) Issue(sess *Session) (string, error) {
	claims := Claims{
		SessionID: sess.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   sess.UserID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.UnixMilli(sess.ExpiresAt)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses a bearer token and returns the session id it names.
func (t *TokenIssuer) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithIssuer(t.issuer))
	if err != nil {
		return "", fmt.Errorf("invalid session token: %w", perrors.ErrAuthFailure)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.SessionID == "" {
		return "", fmt.Errorf("malformed session token: %w", perrors.ErrAuthFailure)
	}
	return claims.SessionID, nil
}
