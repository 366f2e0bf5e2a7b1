package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/crewdeck/crewdeck/internal/errors"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		RedirectURL:  "https://app.example.com/callback",
		TokenURL:     srv.URL + "/token",
		VerifyURL:    srv.URL + "/verify",
	}, zerolog.Nop())
}

func TestExchange(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "the-code", r.Form.Get("code"))
		assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		assert.Equal(t, "client-1", r.Form.Get("client_id"))

		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-1",
			"refresh_token": "rt-1",
			"id_token":      "idt-1",
			"scope":         "openid email",
			"expires_in":    3600,
		})
	})

	bundle, idToken, err := client.Exchange(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "at-1", bundle.AccessToken)
	assert.Equal(t, "rt-1", bundle.RefreshToken)
	assert.Equal(t, "idt-1", idToken)
	assert.True(t, bundle.Valid())
	assert.True(t, bundle.HasScope("email"))
}

func TestExchange_ProviderRejection(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	})

	_, _, err := client.Exchange(context.Background(), "bad-code")
	var apiErr *perrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.StatusCode)
	assert.Equal(t, "oauth", apiErr.Service)
}

func TestExchange_MissingAccessToken(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"scope": "email"})
	})

	_, _, err := client.Exchange(context.Background(), "the-code")
	require.Error(t, err)
}

func TestVerifyIdentity(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/verify", r.URL.Path)
		assert.Equal(t, "idt-1", r.URL.Query().Get("id_token"))
		json.NewEncoder(w).Encode(Profile{
			Subject: "sub-1", Email: "a@x.com", Name: "Alice",
		})
	})

	profile, err := client.VerifyIdentity(context.Background(), "idt-1")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", profile.Email)
	assert.Equal(t, "sub-1", profile.Subject)
}

func TestVerifyIdentity_Rejected(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	})

	_, err := client.VerifyIdentity(context.Background(), "forged")
	assert.ErrorIs(t, err, perrors.ErrAuthFailure)
}

func TestVerifyIdentity_IncompleteClaims(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Profile{Subject: "sub-1"})
	})

	_, err := client.VerifyIdentity(context.Background(), "idt-1")
	assert.ErrorIs(t, err, perrors.ErrAuthFailure)
}
