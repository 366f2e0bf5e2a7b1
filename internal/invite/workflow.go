// Package invite implements the invitation state machine: pending
// invitations move to accepted or rejected exactly once, provisional
// email-keyed memberships are created before the invitee has ever
// authenticated, and accepting members inherit the inviting project's
// credential set.
package invite

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/crewdeck/crewdeck/internal/docstore"
	perrors "github.com/crewdeck/crewdeck/internal/errors"
	"github.com/crewdeck/crewdeck/internal/metrics"
	"github.com/crewdeck/crewdeck/internal/mirror"
	"github.com/crewdeck/crewdeck/internal/model"
	"github.com/crewdeck/crewdeck/internal/snapshot"
)

// Notifier delivers invitation email. Delivery is best-effort: a send
// failure is logged and never fails the workflow that triggered it.
type Notifier interface {
	SendInvitation(ctx context.Context, inv *model.Invitation, projectName string) error
}

// documentStore is the slice of the document store the workflow needs to
// keep the remote document's member list in step with the mirror.
type documentStore interface {
	Apply(ctx context.Context, container string, mutate func(snapshot.ProjectData) (snapshot.ProjectData, error)) (*docstore.Document, error)
}

// Identity is the authenticated principal accepting an invitation.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// Inheritance reports which project's credential set an accepting member
// picked up. Credentials is a defensive copy; ProjectID is the live
// reference sessions should resolve at time of use.
type Inheritance struct {
	ProjectID   string
	Credentials *model.CredentialSet
}

// LoginResult is the outcome of an email-only login: every pending
// invitation for the email auto-accepted, plus the inherited credentials.
type LoginResult struct {
	Accepted    []*model.Invitation
	Inheritance *Inheritance
}

// CreateParams describes a new invitation.
type CreateParams struct {
	ProjectID string
	Email     string
	Role      model.MemberRole
	// InvitedBy must hold an admin or owner membership on the project.
	InvitedBy   string
	InviterName string
}

// Workflow coordinates invitations across the mirror, the remote document
// store, and the mail collaborator.
type Workflow struct {
	mirror   *mirror.Store
	docs     documentStore
	notifier Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

func New(m *mirror.Store, docs documentStore, notifier Notifier, met *metrics.Metrics, logger zerolog.Logger) *Workflow {
	return &Workflow{
		mirror:   m,
		docs:     docs,
		notifier: notifier,
		metrics:  met,
		logger:   logger.With().Str("component", "invite").Logger(),
	}
}

// Create issues a pending invitation and a provisional membership keyed by
// the raw email. The notification email is best-effort.
func (w *Workflow) Create(ctx context.Context, p CreateParams) (*model.Invitation, error) {
	if p.Role != model.RoleAdmin && p.Role != model.RoleMember {
		return nil, fmt.Errorf("role %q cannot be granted by invitation: %w", p.Role, perrors.ErrInvalidInput)
	}
	if p.Email == "" {
		return nil, fmt.Errorf("invitation email is required: %w", perrors.ErrInvalidInput)
	}

	inviter, err := w.mirror.GetUserProjectRole(p.ProjectID, p.InvitedBy)
	if err != nil {
		return nil, err
	}
	if inviter == nil || (inviter.Role != model.RoleOwner && inviter.Role != model.RoleAdmin) {
		return nil, fmt.Errorf("only owners and admins can invite: %w", perrors.ErrDenied)
	}

	project, err := w.mirror.GetProject(p.ProjectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, fmt.Errorf("project %s: %w", p.ProjectID, perrors.ErrNotFound)
	}

	now := time.Now().UnixMilli()
	inv := &model.Invitation{
		ID:          uuid.NewString(),
		ProjectID:   p.ProjectID,
		Email:       p.Email,
		Role:        p.Role,
		InviterName: p.InviterName,
		Status:      model.InvitePending,
		CreatedAt:   now,
	}
	if err := w.mirror.CreateInvitation(inv); err != nil {
		return nil, err
	}

	// Provisional membership: the email stands in for an identity that has
	// never logged in. Authorization must not read membership existence as
	// proof of authentication.
	provisional := &model.ProjectMember{
		ID:        uuid.NewString(),
		ProjectID: p.ProjectID,
		UserID:    p.Email,
		Role:      p.Role,
		JoinedAt:  now,
	}
	if err := w.mirror.UpsertMember(provisional); err != nil {
		w.compensateCreate(inv, provisional)
		return nil, err
	}

	if err := w.applyToDocument(ctx, project, func(d snapshot.ProjectData) (snapshot.ProjectData, error) {
		d = upsertSnapshotMember(d, *provisional)
		d, _ = snapshot.AddActivity(d, model.Activity{
			ProjectID:   p.ProjectID,
			UserID:      p.InvitedBy,
			Type:        model.ActivityMemberInvited,
			Description: fmt.Sprintf("%s invited %s as %s", p.InviterName, p.Email, p.Role),
			EntityID:    inv.ID,
		})
		return d, nil
	}); err != nil {
		// The caller is told the invitation failed; a pending row left behind
		// would still admit the email on its next login.
		w.compensateCreate(inv, provisional)
		return nil, err
	}

	if w.notifier != nil {
		if err := w.notifier.SendInvitation(ctx, inv, project.Name); err != nil {
			w.logger.Warn().Err(err).Str("email", p.Email).Msg("invitation email failed, invitation stands")
		}
	}

	w.metrics.RecordInvitation("created")
	w.logger.Info().Str("project_id", p.ProjectID).Str("email", p.Email).Str("role", string(p.Role)).
		Msg("invitation created")
	return inv, nil
}

// Accept processes an explicit invitation link. Accepting a non-pending
// invitation returns ErrAlreadyProcessed and changes nothing.
func (w *Workflow) Accept(ctx context.Context, invitationID string, who Identity) (*Inheritance, error) {
	inv, err := w.mirror.GetInvitation(invitationID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, fmt.Errorf("invitation %s: %w", invitationID, perrors.ErrNotFound)
	}
	if inv.Status != model.InvitePending {
		return nil, fmt.Errorf("invitation %s: %w", invitationID, perrors.ErrAlreadyProcessed)
	}

	// Membership lands in both stores before the invitation turns terminal;
	// a failed document write leaves the invitation pending and retryable.
	// Membership writes are idempotent, so losing the transition race only
	// repeats work.
	if err := w.confirmMembership(ctx, inv, who); err != nil {
		return nil, err
	}
	if err := w.mirror.TransitionInvitation(invitationID, model.InviteAccepted); err != nil {
		return nil, err
	}

	w.metrics.RecordInvitation("accepted")
	w.logger.Info().Str("invitation_id", invitationID).Str("user_id", who.UserID).Msg("invitation accepted")

	// Unlike email-only login, an explicit accept goes through even when the
	// project has no credential set yet.
	project, err := w.mirror.GetProject(inv.ProjectID)
	if err != nil {
		return nil, err
	}
	if project == nil || project.Credentials == nil || project.Credentials.IsZero() {
		return nil, nil
	}
	creds := project.Credentials.Clone()
	return &Inheritance{ProjectID: project.ID, Credentials: &creds}, nil
}

// LoginByEmail handles a login with no invitation link. An identity with no
// pending invitation and no membership, provisional or confirmed, is
// rejected with ErrNoInvitationFound; one whose projects all lack a
// credential set is rejected with ErrOwnerSetupIncomplete. Otherwise every
// pending invitation for the email is auto-accepted and the credential set
// of the oldest project holding one is inherited.
func (w *Workflow) LoginByEmail(ctx context.Context, who Identity) (*LoginResult, error) {
	pending, err := w.mirror.PendingInvitationsForEmail(who.Email)
	if err != nil {
		return nil, err
	}
	projects, err := w.mirror.GetProjectsForEmail(who.Email)
	if err != nil {
		return nil, err
	}
	// Accepting rekeys a membership from the email to the accepter's subject,
	// which hides it from the email search. A returning member's projects are
	// found through the subject instead.
	if who.UserID != "" && who.UserID != who.Email {
		confirmed, err := w.mirror.ListProjectsForUser(who.UserID)
		if err != nil {
			return nil, err
		}
		projects = unionProjects(projects, confirmed)
	}
	if len(pending) == 0 && len(projects) == 0 {
		return nil, perrors.WithRemediation(
			fmt.Errorf("email %s: %w", who.Email, perrors.ErrNoInvitationFound),
			"ask a project owner or admin to invite this email address")
	}

	inheritance := w.firstCredentialSource(projects)
	if inheritance == nil {
		return nil, perrors.WithRemediation(
			fmt.Errorf("email %s: %w", who.Email, perrors.ErrOwnerSetupIncomplete),
			"ask your project owner to finish setup and configure credentials")
	}

	result := &LoginResult{Inheritance: inheritance}
	for _, inv := range pending {
		if err := w.confirmMembership(ctx, inv, who); err != nil {
			return nil, err
		}
		if err := w.mirror.TransitionInvitation(inv.ID, model.InviteAccepted); err != nil {
			if perrors.Is(err, perrors.ErrAlreadyProcessed) {
				continue
			}
			return nil, err
		}
		inv.Status = model.InviteAccepted
		result.Accepted = append(result.Accepted, inv)
		w.metrics.RecordInvitation("accepted")
	}

	w.logger.Info().Str("email", who.Email).Int("accepted", len(result.Accepted)).
		Str("credential_project", inheritance.ProjectID).Msg("email login processed")
	return result, nil
}

// Reject declines a pending invitation and withdraws the provisional
// membership it created.
func (w *Workflow) Reject(ctx context.Context, invitationID string) error {
	inv, err := w.mirror.GetInvitation(invitationID)
	if err != nil {
		return err
	}
	if inv == nil {
		return fmt.Errorf("invitation %s: %w", invitationID, perrors.ErrNotFound)
	}

	if err := w.mirror.TransitionInvitation(invitationID, model.InviteRejected); err != nil {
		return err
	}

	if err := w.mirror.RemoveMember(inv.ProjectID, inv.Email); err != nil {
		w.logger.Warn().Err(err).Str("invitation_id", invitationID).Msg("provisional membership cleanup failed")
	}

	project, err := w.mirror.GetProject(inv.ProjectID)
	if err == nil && project != nil {
		if err := w.applyToDocument(ctx, project, func(d snapshot.ProjectData) (snapshot.ProjectData, error) {
			return removeSnapshotMember(d, inv.Email), nil
		}); err != nil {
			w.logger.Warn().Err(err).Str("invitation_id", invitationID).Msg("document membership cleanup failed")
		}
	}

	w.metrics.RecordInvitation("rejected")
	w.logger.Info().Str("invitation_id", invitationID).Msg("invitation rejected")
	return nil
}

// confirmMembership turns the provisional email-keyed membership into a
// real one, creating it if it never existed, in both stores.
func (w *Workflow) confirmMembership(ctx context.Context, inv *model.Invitation, who Identity) error {
	if err := w.mirror.RekeyMember(inv.ProjectID, inv.Email, who.UserID); err != nil {
		return err
	}
	member := &model.ProjectMember{
		ID:        uuid.NewString(),
		ProjectID: inv.ProjectID,
		UserID:    who.UserID,
		Role:      inv.Role,
		JoinedAt:  time.Now().UnixMilli(),
	}
	if err := w.mirror.UpsertMember(member); err != nil {
		return err
	}

	project, err := w.mirror.GetProject(inv.ProjectID)
	if err != nil {
		return err
	}
	if project == nil {
		return fmt.Errorf("project %s: %w", inv.ProjectID, perrors.ErrNotFound)
	}
	return w.applyToDocument(ctx, project, func(d snapshot.ProjectData) (snapshot.ProjectData, error) {
		d = rekeySnapshotMember(d, inv.Email, who.UserID)
		d = upsertSnapshotMember(d, *member)
		d, _ = snapshot.AddActivity(d, model.Activity{
			ProjectID:   inv.ProjectID,
			UserID:      who.UserID,
			Type:        model.ActivityMemberJoined,
			Description: fmt.Sprintf("%s joined as %s", who.Email, inv.Role),
			EntityID:    inv.ID,
		})
		return d, nil
	})
}

// compensateCreate withdraws the invitation row and provisional membership
// after a create that could not complete. Cleanup is best-effort; a leftover
// row is logged for an operator.
func (w *Workflow) compensateCreate(inv *model.Invitation, provisional *model.ProjectMember) {
	if err := w.mirror.DeleteInvitation(inv.ID); err != nil {
		w.logger.Error().Err(err).Str("invitation_id", inv.ID).Msg("failed invitation left behind")
	}
	err := w.mirror.RemoveMember(provisional.ProjectID, provisional.UserID)
	if err != nil && !perrors.Is(err, perrors.ErrNotFound) {
		w.logger.Error().Err(err).Str("project_id", provisional.ProjectID).
			Str("user_id", provisional.UserID).Msg("provisional membership left behind")
	}
}

// unionProjects merges two project lists, dropping duplicates and restoring
// oldest-first order so credential inheritance stays deterministic.
func unionProjects(a, b []*model.Project) []*model.Project {
	seen := make(map[string]bool, len(a))
	merged := make([]*model.Project, 0, len(a)+len(b))
	for _, p := range a {
		seen[p.ID] = true
		merged = append(merged, p)
	}
	for _, p := range b {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		merged = append(merged, p)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].CreatedAt < merged[j].CreatedAt })
	return merged
}

// applyToDocument pushes a mutation to the remote document, skipping
// projects that exist only in the mirror.
func (w *Workflow) applyToDocument(ctx context.Context, project *model.Project, mutate func(snapshot.ProjectData) (snapshot.ProjectData, error)) error {
	if project.Container.IsZero() {
		return nil
	}
	_, err := w.docs.Apply(ctx, project.Container.RepoName, mutate)
	return err
}

// firstCredentialSource returns the credential set of the first listed
// project that has one configured. Projects arrive oldest first.
func (w *Workflow) firstCredentialSource(projects []*model.Project) *Inheritance {
	for _, p := range projects {
		if p.Credentials != nil && !p.Credentials.IsZero() {
			creds := p.Credentials.Clone()
			return &Inheritance{ProjectID: p.ID, Credentials: &creds}
		}
	}
	return nil
}

// --- snapshot membership helpers ---

// upsertSnapshotMember replaces the member with the same UserID or appends.
// An existing owner role is never downgraded.
func upsertSnapshotMember(d snapshot.ProjectData, m model.ProjectMember) snapshot.ProjectData {
	for i, existing := range d.Members {
		if existing.UserID == m.UserID {
			if existing.Role == model.RoleOwner {
				return d
			}
			members := append([]model.ProjectMember(nil), d.Members...)
			m.ID = existing.ID
			m.JoinedAt = existing.JoinedAt
			members[i] = m
			d.Members = members
			return d
		}
	}
	d.Members = append(append([]model.ProjectMember(nil), d.Members...), m)
	return d
}

// rekeySnapshotMember moves a provisional email-keyed membership to the
// real user id. If both rows exist the provisional one is dropped.
func rekeySnapshotMember(d snapshot.ProjectData, email, userID string) snapshot.ProjectData {
	hasReal := false
	for _, m := range d.Members {
		if m.UserID == userID {
			hasReal = true
			break
		}
	}
	members := make([]model.ProjectMember, 0, len(d.Members))
	for _, m := range d.Members {
		if m.UserID == email {
			if hasReal {
				continue
			}
			m.UserID = userID
		}
		members = append(members, m)
	}
	d.Members = members
	return d
}

func removeSnapshotMember(d snapshot.ProjectData, userID string) snapshot.ProjectData {
	members := make([]model.ProjectMember, 0, len(d.Members))
	for _, m := range d.Members {
		if m.UserID == userID {
			continue
		}
		members = append(members, m)
	}
	d.Members = members
	return d
}
