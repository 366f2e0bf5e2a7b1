package invite

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewdeck/crewdeck/internal/docstore"
	perrors "github.com/crewdeck/crewdeck/internal/errors"
	"github.com/crewdeck/crewdeck/internal/metrics"
	"github.com/crewdeck/crewdeck/internal/mirror"
	"github.com/crewdeck/crewdeck/internal/model"
	"github.com/crewdeck/crewdeck/internal/snapshot"
)

// fakeDocs is an in-memory document store keyed by container name.
type fakeDocs struct {
	mu   sync.Mutex
	docs map[string]snapshot.ProjectData

	// failApply, when set, fails every Apply without touching the document.
	failApply error
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{docs: make(map[string]snapshot.ProjectData)}
}

func (f *fakeDocs) put(container string, d snapshot.ProjectData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[container] = d
}

func (f *fakeDocs) get(container string) snapshot.ProjectData {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[container]
}

func (f *fakeDocs) Apply(_ context.Context, container string, mutate func(snapshot.ProjectData) (snapshot.ProjectData, error)) (*docstore.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failApply != nil {
		return nil, f.failApply
	}
	d, ok := f.docs[container]
	if !ok {
		return nil, perrors.ErrNotFound
	}
	next, err := mutate(d)
	if err != nil {
		return nil, err
	}
	f.docs[container] = next
	return &docstore.Document{Data: next}, nil
}

// fakeNotifier records invitation emails and optionally fails.
type fakeNotifier struct {
	sent []string
	fail bool
}

func (f *fakeNotifier) SendInvitation(_ context.Context, inv *model.Invitation, _ string) error {
	if f.fail {
		return errors.New("smtp unreachable")
	}
	f.sent = append(f.sent, inv.Email)
	return nil
}

type fixture struct {
	workflow *Workflow
	mirror   *mirror.Store
	docs     *fakeDocs
	notifier *fakeNotifier
}

func setup(t *testing.T) *fixture {
	t.Helper()
	m, err := mirror.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	docs := newFakeDocs()
	notifier := &fakeNotifier{}
	return &fixture{
		workflow: New(m, docs, notifier, metrics.New(), zerolog.Nop()),
		mirror:   m,
		docs:     docs,
		notifier: notifier,
	}
}

// seedProject creates a project with an owner membership and, when creds
// is non-nil, a configured credential set.
func (f *fixture) seedProject(t *testing.T, id, ownerID string, creds *model.CredentialSet) *model.Project {
	t.Helper()
	p := &model.Project{
		ID:          id,
		Slug:        id,
		Name:        "Project " + id,
		Status:      model.ProjectActive,
		OwnerID:     ownerID,
		Container:   model.ContainerRef{RepoOwner: "test-org", RepoName: "crewdeck-" + id, DocPath: "crewdeck.json"},
		Credentials: creds,
	}
	require.NoError(t, f.mirror.PutProject(p))
	owner := model.ProjectMember{
		ProjectID: p.ID, UserID: ownerID, Role: model.RoleOwner, JoinedAt: 1,
	}
	ownerRow := owner
	require.NoError(t, f.mirror.UpsertMember(&ownerRow))
	f.docs.put(p.Container.RepoName, snapshot.New(*p, owner))
	return p
}

func ownerCreds() *model.CredentialSet {
	return &model.CredentialSet{
		APIKey:       "key-123",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		AIKey:        "ai-1",
	}
}

func TestCreate_PendingInvitationAndProvisionalMembership(t *testing.T) {
	f := setup(t)
	p := f.seedProject(t, "p1", "alice", ownerCreds())

	inv, err := f.workflow.Create(context.Background(), CreateParams{
		ProjectID: p.ID, Email: "bob@y.com", Role: model.RoleMember,
		InvitedBy: "alice", InviterName: "Alice",
	})
	require.NoError(t, err)
	assert.Equal(t, model.InvitePending, inv.Status)

	// provisional membership keyed by the raw email
	member, err := f.mirror.GetUserProjectRole(p.ID, "bob@y.com")
	require.NoError(t, err)
	require.NotNil(t, member)
	assert.Equal(t, model.RoleMember, member.Role)

	// the remote document carries the provisional member too
	doc := f.docs.get(p.Container.RepoName)
	var found bool
	for _, m := range doc.Members {
		if m.UserID == "bob@y.com" {
			found = true
		}
	}
	assert.True(t, found)
	assert.Equal(t, []string{"bob@y.com"}, f.notifier.sent)
}

func TestCreate_RequiresAdminOrOwner(t *testing.T) {
	f := setup(t)
	p := f.seedProject(t, "p1", "alice", nil)
	require.NoError(t, f.mirror.UpsertMember(&model.ProjectMember{
		ProjectID: p.ID, UserID: "carol", Role: model.RoleMember, JoinedAt: 1,
	}))

	_, err := f.workflow.Create(context.Background(), CreateParams{
		ProjectID: p.ID, Email: "bob@y.com", Role: model.RoleMember, InvitedBy: "carol",
	})
	assert.ErrorIs(t, err, perrors.ErrDenied)

	// a stranger is denied the same way
	_, err = f.workflow.Create(context.Background(), CreateParams{
		ProjectID: p.ID, Email: "bob@y.com", Role: model.RoleMember, InvitedBy: "mallory",
	})
	assert.ErrorIs(t, err, perrors.ErrDenied)
}

func TestCreate_RejectsOwnerRole(t *testing.T) {
	f := setup(t)
	p := f.seedProject(t, "p1", "alice", nil)

	_, err := f.workflow.Create(context.Background(), CreateParams{
		ProjectID: p.ID, Email: "bob@y.com", Role: model.RoleOwner, InvitedBy: "alice",
	})
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)
}

func TestCreate_EmailFailureDoesNotFailInvitation(t *testing.T) {
	f := setup(t)
	p := f.seedProject(t, "p1", "alice", nil)
	f.notifier.fail = true

	inv, err := f.workflow.Create(context.Background(), CreateParams{
		ProjectID: p.ID, Email: "bob@y.com", Role: model.RoleMember, InvitedBy: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, model.InvitePending, inv.Status)
}

func TestAccept_ConfirmsMembershipAndCopiesCredentials(t *testing.T) {
	f := setup(t)
	p := f.seedProject(t, "p1", "alice", ownerCreds())
	inv, err := f.workflow.Create(context.Background(), CreateParams{
		ProjectID: p.ID, Email: "bob@y.com", Role: model.RoleMember, InvitedBy: "alice",
	})
	require.NoError(t, err)

	bob := Identity{UserID: "user-bob", Email: "bob@y.com", Name: "Bob"}
	inherited, err := f.workflow.Accept(context.Background(), inv.ID, bob)
	require.NoError(t, err)
	require.NotNil(t, inherited)
	assert.Equal(t, p.ID, inherited.ProjectID)
	assert.Equal(t, "key-123", inherited.Credentials.APIKey)

	// the copy is independent of the project's credential set
	inherited.Credentials.APIKey = "mutated"
	stored, err := f.mirror.GetProject(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "key-123", stored.Credentials.APIKey)

	// provisional membership rekeyed to the real id
	member, err := f.mirror.GetUserProjectRole(p.ID, "user-bob")
	require.NoError(t, err)
	require.NotNil(t, member)
	assert.Equal(t, model.RoleMember, member.Role)
	provisional, err := f.mirror.GetUserProjectRole(p.ID, "bob@y.com")
	require.NoError(t, err)
	assert.Nil(t, provisional)

	// same in the remote document
	doc := f.docs.get(p.Container.RepoName)
	ids := make([]string, 0, len(doc.Members))
	for _, m := range doc.Members {
		ids = append(ids, m.UserID)
	}
	assert.ElementsMatch(t, []string{"alice", "user-bob"}, ids)
}

func TestAccept_SecondAcceptIsAlreadyProcessed(t *testing.T) {
	f := setup(t)
	p := f.seedProject(t, "p1", "alice", nil)
	inv, err := f.workflow.Create(context.Background(), CreateParams{
		ProjectID: p.ID, Email: "bob@y.com", Role: model.RoleMember, InvitedBy: "alice",
	})
	require.NoError(t, err)

	bob := Identity{UserID: "user-bob", Email: "bob@y.com"}
	_, err = f.workflow.Accept(context.Background(), inv.ID, bob)
	require.NoError(t, err)

	_, err = f.workflow.Accept(context.Background(), inv.ID, bob)
	assert.ErrorIs(t, err, perrors.ErrAlreadyProcessed)

	// membership uniqueness: still exactly one row for bob
	members, err := f.mirror.ListMembers(p.ID)
	require.NoError(t, err)
	count := 0
	for _, m := range members {
		if m.UserID == "user-bob" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestAccept_UnknownInvitation(t *testing.T) {
	f := setup(t)
	_, err := f.workflow.Accept(context.Background(), "no-such-id", Identity{UserID: "u", Email: "e"})
	assert.ErrorIs(t, err, perrors.ErrNotFound)
}

func TestLoginByEmail_AutoAcceptsAndInherits(t *testing.T) {
	f := setup(t)
	p := f.seedProject(t, "p1", "alice", ownerCreds())
	inv, err := f.workflow.Create(context.Background(), CreateParams{
		ProjectID: p.ID, Email: "bob@y.com", Role: model.RoleMember, InvitedBy: "alice",
	})
	require.NoError(t, err)

	result, err := f.workflow.LoginByEmail(context.Background(), Identity{
		UserID: "user-bob", Email: "bob@y.com", Name: "Bob",
	})
	require.NoError(t, err)
	require.Len(t, result.Accepted, 1)
	assert.Equal(t, inv.ID, result.Accepted[0].ID)
	require.NotNil(t, result.Inheritance)
	assert.Equal(t, p.ID, result.Inheritance.ProjectID)
	assert.Equal(t, "key-123", result.Inheritance.Credentials.APIKey)

	stored, err := f.mirror.GetInvitation(inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InviteAccepted, stored.Status)
}

func TestLoginByEmail_NoInvitationFound(t *testing.T) {
	f := setup(t)
	f.seedProject(t, "p1", "alice", ownerCreds())

	_, err := f.workflow.LoginByEmail(context.Background(), Identity{
		UserID: "user-eve", Email: "eve@z.com",
	})
	assert.ErrorIs(t, err, perrors.ErrNoInvitationFound)
	assert.NotEmpty(t, perrors.RemediationFor(err))
}

func TestLoginByEmail_OwnerSetupIncomplete(t *testing.T) {
	f := setup(t)
	p := f.seedProject(t, "p1", "alice", nil) // no credential set configured
	_, err := f.workflow.Create(context.Background(), CreateParams{
		ProjectID: p.ID, Email: "bob@y.com", Role: model.RoleMember, InvitedBy: "alice",
	})
	require.NoError(t, err)

	_, err = f.workflow.LoginByEmail(context.Background(), Identity{
		UserID: "user-bob", Email: "bob@y.com",
	})
	assert.ErrorIs(t, err, perrors.ErrOwnerSetupIncomplete)
	assert.NotEmpty(t, perrors.RemediationFor(err))

	// the pending invitation is untouched so a later login can still accept it
	pending, err := f.mirror.PendingInvitationsForEmail("bob@y.com")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestLoginByEmail_InheritsFromOldestConfiguredProject(t *testing.T) {
	f := setup(t)
	bare := f.seedProject(t, "p1", "alice", nil)
	configured := f.seedProject(t, "p2", "dana", &model.CredentialSet{
		APIKey: "dana-key", ClientID: "c", ClientSecret: "s",
	})
	for _, p := range []*model.Project{bare, configured} {
		_, err := f.workflow.Create(context.Background(), CreateParams{
			ProjectID: p.ID, Email: "bob@y.com", Role: model.RoleMember, InvitedBy: p.OwnerID,
		})
		require.NoError(t, err)
	}

	result, err := f.workflow.LoginByEmail(context.Background(), Identity{
		UserID: "user-bob", Email: "bob@y.com",
	})
	require.NoError(t, err)
	assert.Equal(t, configured.ID, result.Inheritance.ProjectID)
	assert.Equal(t, "dana-key", result.Inheritance.Credentials.APIKey)
	// both invitations auto-accepted
	assert.Len(t, result.Accepted, 2)
}

func TestReject_TerminalAndWithdrawsProvisionalMembership(t *testing.T) {
	f := setup(t)
	p := f.seedProject(t, "p1", "alice", nil)
	inv, err := f.workflow.Create(context.Background(), CreateParams{
		ProjectID: p.ID, Email: "bob@y.com", Role: model.RoleMember, InvitedBy: "alice",
	})
	require.NoError(t, err)

	require.NoError(t, f.workflow.Reject(context.Background(), inv.ID))

	stored, err := f.mirror.GetInvitation(inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InviteRejected, stored.Status)

	member, err := f.mirror.GetUserProjectRole(p.ID, "bob@y.com")
	require.NoError(t, err)
	assert.Nil(t, member)

	// terminal: neither reject nor accept may fire again
	assert.ErrorIs(t, f.workflow.Reject(context.Background(), inv.ID), perrors.ErrAlreadyProcessed)
	_, err = f.workflow.Accept(context.Background(), inv.ID, Identity{UserID: "user-bob", Email: "bob@y.com"})
	assert.ErrorIs(t, err, perrors.ErrAlreadyProcessed)
}

func TestLoginByEmail_ConfirmedMemberCanReLogin(t *testing.T) {
	f := setup(t)
	p := f.seedProject(t, "p1", "alice", ownerCreds())
	inv, err := f.workflow.Create(context.Background(), CreateParams{
		ProjectID: p.ID, Email: "bob@y.com", Role: model.RoleMember, InvitedBy: "alice",
	})
	require.NoError(t, err)

	// accepting rekeys the membership from the email to the OAuth subject
	bob := Identity{UserID: "oauth-sub-bob", Email: "bob@y.com", Name: "Bob"}
	_, err = f.workflow.Accept(context.Background(), inv.ID, bob)
	require.NoError(t, err)
	member, err := f.mirror.GetUserProjectRole(p.ID, "oauth-sub-bob")
	require.NoError(t, err)
	require.NotNil(t, member)

	// a fresh login by the same identity must still see the membership and
	// re-inherit the project's credentials
	result, err := f.workflow.LoginByEmail(context.Background(), bob)
	require.NoError(t, err)
	assert.Empty(t, result.Accepted)
	require.NotNil(t, result.Inheritance)
	assert.Equal(t, p.ID, result.Inheritance.ProjectID)
	assert.Equal(t, "key-123", result.Inheritance.Credentials.APIKey)
}

func TestCreate_DocumentFailureLeavesNothingBehind(t *testing.T) {
	f := setup(t)
	p := f.seedProject(t, "p1", "alice", nil)
	f.docs.failApply = errors.New("remote store down")

	_, err := f.workflow.Create(context.Background(), CreateParams{
		ProjectID: p.ID, Email: "bob@y.com", Role: model.RoleMember, InvitedBy: "alice",
	})
	require.Error(t, err)

	// neither a pending invitation nor a provisional membership survives a
	// create the caller was told failed
	pending, err := f.mirror.PendingInvitationsForEmail("bob@y.com")
	require.NoError(t, err)
	assert.Empty(t, pending)
	member, err := f.mirror.GetUserProjectRole(p.ID, "bob@y.com")
	require.NoError(t, err)
	assert.Nil(t, member)
}

func TestAccept_DocumentFailureKeepsInvitationPending(t *testing.T) {
	f := setup(t)
	p := f.seedProject(t, "p1", "alice", nil)
	inv, err := f.workflow.Create(context.Background(), CreateParams{
		ProjectID: p.ID, Email: "bob@y.com", Role: model.RoleMember, InvitedBy: "alice",
	})
	require.NoError(t, err)

	f.docs.failApply = errors.New("remote store down")
	bob := Identity{UserID: "user-bob", Email: "bob@y.com"}
	_, err = f.workflow.Accept(context.Background(), inv.ID, bob)
	require.Error(t, err)

	// the invitation did not turn terminal, so the accept can be retried
	stored, err := f.mirror.GetInvitation(inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InvitePending, stored.Status)

	f.docs.failApply = nil
	_, err = f.workflow.Accept(context.Background(), inv.ID, bob)
	require.NoError(t, err)
	stored, err = f.mirror.GetInvitation(inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InviteAccepted, stored.Status)
}

func TestCreate_MirrorOnlyProjectSkipsDocument(t *testing.T) {
	f := setup(t)
	p := &model.Project{ID: "p-local", Name: "Local", OwnerID: "alice", Status: model.ProjectActive}
	require.NoError(t, f.mirror.PutProject(p))
	require.NoError(t, f.mirror.UpsertMember(&model.ProjectMember{
		ProjectID: p.ID, UserID: "alice", Role: model.RoleOwner, JoinedAt: 1,
	}))

	inv, err := f.workflow.Create(context.Background(), CreateParams{
		ProjectID: p.ID, Email: "bob@y.com", Role: model.RoleMember, InvitedBy: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, model.InvitePending, inv.Status)
}
