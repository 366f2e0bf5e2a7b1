package session

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/crewdeck/crewdeck/internal/errors"
	"github.com/crewdeck/crewdeck/internal/model"
)

// fakeResolver serves projects from a map, standing in for the mirror.
type fakeResolver struct {
	projects map[string]*model.Project
}

func (f *fakeResolver) GetProject(id string) (*model.Project, error) {
	return f.projects[id], nil
}

func testStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s := NewStore(zerolog.Nop(), opts...)
	t.Cleanup(s.Close)
	return s
}

func TestStore_CreateAndGet(t *testing.T) {
	s := testStore(t)

	sess := s.Create(NewParams{UserID: "user-1", Email: "a@x.com", Name: "Alice"})
	require.NotEmpty(t, sess.ID)

	got := s.Get(sess.ID)
	require.NotNil(t, got)
	assert.Equal(t, "user-1", got.UserID)

	assert.Nil(t, s.Get("unknown"))
}

func TestStore_ExpiredSessionIsGone(t *testing.T) {
	s := testStore(t)

	sess := s.Create(NewParams{UserID: "user-1", TTL: -time.Second})
	assert.Nil(t, s.Get(sess.ID))
}

func TestStore_Delete(t *testing.T) {
	s := testStore(t)

	sess := s.Create(NewParams{UserID: "user-1"})
	s.Delete(sess.ID)
	assert.Nil(t, s.Get(sess.ID))
	s.Delete(sess.ID) // idempotent
}

func TestTokenBundle_ValidityIsAClockComparison(t *testing.T) {
	live := TokenBundle{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour).UnixMilli()}
	assert.True(t, live.Valid())

	stale := TokenBundle{AccessToken: "tok", ExpiresAt: time.Now().Add(-time.Minute).UnixMilli()}
	assert.False(t, stale.Valid())

	missing := TokenBundle{ExpiresAt: time.Now().Add(time.Hour).UnixMilli()}
	assert.False(t, missing.Valid())
}

func TestTokenBundle_HasScope(t *testing.T) {
	tok := TokenBundle{Scope: "openid email https://api.example.com/auth/drive.file"}
	assert.True(t, tok.HasScope("drive.file"))
	assert.True(t, tok.HasScope("email"))
	assert.False(t, tok.HasScope("calendar"))
}

func TestSession_CredentialsResolveLiveReference(t *testing.T) {
	resolver := &fakeResolver{projects: map[string]*model.Project{
		"p1": {ID: "p1", Credentials: &model.CredentialSet{APIKey: "live-key", ClientID: "c", ClientSecret: "s"}},
	}}
	sess := &Session{
		ID:                  "s1",
		CredentialProjectID: "p1",
		InheritedCredentials: &model.CredentialSet{
			APIKey: "stale-copy", ClientID: "c", ClientSecret: "s",
		},
	}

	creds, err := sess.Credentials(resolver)
	require.NoError(t, err)
	assert.Equal(t, "live-key", creds.APIKey)

	// owner rotates: the next resolution sees the new value
	resolver.projects["p1"].Credentials.APIKey = "rotated-key"
	creds, err = sess.Credentials(resolver)
	require.NoError(t, err)
	assert.Equal(t, "rotated-key", creds.APIKey)
}

func TestSession_CredentialsFallBackToCopy(t *testing.T) {
	// referenced project deleted: fall back to the copy taken at accept time
	resolver := &fakeResolver{projects: map[string]*model.Project{}}
	sess := &Session{
		ID:                  "s1",
		CredentialProjectID: "p-gone",
		InheritedCredentials: &model.CredentialSet{
			APIKey: "copied-key", ClientID: "c", ClientSecret: "s",
		},
	}

	creds, err := sess.Credentials(resolver)
	require.NoError(t, err)
	assert.Equal(t, "copied-key", creds.APIKey)
}

func TestSession_CredentialsAbsent(t *testing.T) {
	sess := &Session{ID: "s1"}
	_, err := sess.Credentials(&fakeResolver{})
	assert.ErrorIs(t, err, perrors.ErrOwnerSetupIncomplete)
	assert.False(t, sess.HasInheritedConfig())
}

func TestSession_HasFeature(t *testing.T) {
	resolver := &fakeResolver{projects: map[string]*model.Project{
		"p1": {ID: "p1", Credentials: &model.CredentialSet{
			APIKey: "k", ClientID: "c", ClientSecret: "s",
			EnabledFeature: map[string]bool{"insights": true, "exports": false},
		}},
	}}
	sess := &Session{ID: "s1", CredentialProjectID: "p1"}

	assert.True(t, sess.HasFeature(resolver, "insights"))
	assert.False(t, sess.HasFeature(resolver, "exports"))
	assert.False(t, sess.HasFeature(resolver, "unknown"))
	assert.True(t, sess.HasInheritedConfig())
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	s := testStore(t)
	issuer := NewTokenIssuer("test-secret", "crewdeck")

	sess := s.Create(NewParams{UserID: "user-1", Email: "a@x.com"})
	token, err := issuer.Issue(sess)
	require.NoError(t, err)

	sid, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, sid)
}

func TestTokenIssuer_RejectsBadTokens(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", "crewdeck")

	_, err := issuer.Verify("not-a-token")
	assert.ErrorIs(t, err, perrors.ErrAuthFailure)

	// token signed with a different secret
	other := NewTokenIssuer("other-secret", "crewdeck")
	s := testStore(t)
	sess := s.Create(NewParams{UserID: "user-1"})
	token, err := other.Issue(sess)
	require.NoError(t, err)
	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, perrors.ErrAuthFailure)
}

func TestStore_AdoptInheritance(t *testing.T) {
	s := testStore(t)
	sess := s.Create(NewParams{UserID: "user-1", Email: "a@x.com"})
	require.Empty(t, sess.CredentialProjectID)

	creds := &model.CredentialSet{APIKey: "k", ClientID: "c", ClientSecret: "s"}
	s.AdoptInheritance(sess.ID, "p1", creds)

	got := s.Get(sess.ID)
	require.NotNil(t, got)
	assert.Equal(t, "p1", got.CredentialProjectID)
	assert.True(t, got.HasInheritedConfig())

	// the first credential source sticks; a later accept does not replace it
	s.AdoptInheritance(sess.ID, "p2", nil)
	assert.Equal(t, "p1", s.Get(sess.ID).CredentialProjectID)

	// unknown sessions are a no-op
	s.AdoptInheritance("no-such-session", "p3", creds)
}
