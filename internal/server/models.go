package server

import (
	"github.com/crewdeck/crewdeck/internal/model"
	"github.com/crewdeck/crewdeck/internal/snapshot"
)

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Status      int    `json:"status"`
	Detail      string `json:"detail"`
	Instance    string `json:"instance,omitempty"`
	Remediation string `json:"remediation,omitempty"`
}

// LoginRequest carries either an OAuth authorization code or a bare email.
// Exactly one path is taken: Code wins when both are present.
type LoginRequest struct {
	Code  string `json:"code,omitempty"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// LoginResponse is the session handed back after a successful login.
type LoginResponse struct {
	Token               string              `json:"token"`
	SessionID           string              `json:"session_id"`
	UserID              string              `json:"user_id"`
	Email               string              `json:"email"`
	Name                string              `json:"name,omitempty"`
	ExpiresAt           int64               `json:"expires_at"`
	AcceptedInvitations []*model.Invitation `json:"accepted_invitations,omitempty"`
	InheritedFrom       string              `json:"inherited_from,omitempty"`
}

// SessionResponse describes the authenticated session.
type SessionResponse struct {
	SessionID     string `json:"session_id"`
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	Name          string `json:"name,omitempty"`
	ExpiresAt     int64  `json:"expires_at"`
	InheritedFrom string `json:"inherited_from,omitempty"`
	Configured    bool   `json:"configured"`
}

// CreateProjectRequest creates a project owned by the caller.
type CreateProjectRequest struct {
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Credentials *model.CredentialSet `json:"credentials,omitempty"`
}

// UpdateProjectRequest patches project metadata. Nil fields are unchanged.
type UpdateProjectRequest struct {
	Name        *string              `json:"name,omitempty"`
	Description *string              `json:"description,omitempty"`
	Status      *model.ProjectStatus `json:"status,omitempty"`
}

// ProjectResponse pairs the full document with its write precondition. The
// ETag response header carries the same SHA.
type ProjectResponse struct {
	Data snapshot.ProjectData `json:"data"`
	ETag string               `json:"etag"`
}

// ProjectSummary is one entry in a project listing.
type ProjectSummary struct {
	ID          string              `json:"id"`
	Slug        string              `json:"slug"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Status      model.ProjectStatus `json:"status"`
	OwnerID     string              `json:"owner_id"`
	Role        model.MemberRole    `json:"role"`
	TaskCount   int                 `json:"task_count"`
	UpdatedAt   int64               `json:"updated_at"`
}

// ProjectListResponse wraps a project listing.
type ProjectListResponse struct {
	Projects []ProjectSummary `json:"projects"`
	Total    int              `json:"total"`
}

// CreateTaskRequest creates a task on a project.
type CreateTaskRequest struct {
	Title          string             `json:"title"`
	Description    string             `json:"description,omitempty"`
	Status         model.TaskStatus   `json:"status,omitempty"`
	Priority       model.TaskPriority `json:"priority,omitempty"`
	AssigneeID     string             `json:"assignee_id,omitempty"`
	StartDate      int64              `json:"start_date,omitempty"`
	DueDate        int64              `json:"due_date,omitempty"`
	EstimatedHours float64            `json:"estimated_hours,omitempty"`
	Tags           []string           `json:"tags,omitempty"`
	SprintID       string             `json:"sprint_id,omitempty"`
	Dependencies   []string           `json:"dependencies,omitempty"`
}

// UpdateTaskRequest patches a task. Nil fields are unchanged.
type UpdateTaskRequest struct {
	Title          *string             `json:"title,omitempty"`
	Description    *string             `json:"description,omitempty"`
	Status         *model.TaskStatus   `json:"status,omitempty"`
	Priority       *model.TaskPriority `json:"priority,omitempty"`
	AssigneeID     *string             `json:"assignee_id,omitempty"`
	StartDate      *int64              `json:"start_date,omitempty"`
	DueDate        *int64              `json:"due_date,omitempty"`
	Progress       *int                `json:"progress,omitempty"`
	EstimatedHours *float64            `json:"estimated_hours,omitempty"`
	ActualHours    *float64            `json:"actual_hours,omitempty"`
	Tags           []string            `json:"tags,omitempty"`
	SprintID       *string             `json:"sprint_id,omitempty"`
	Dependencies   []string            `json:"dependencies,omitempty"`
	Position       *int                `json:"position,omitempty"`
}

// CreateCommentRequest appends a comment to a task.
type CreateCommentRequest struct {
	Content   string   `json:"content"`
	Mentions  []string `json:"mentions,omitempty"`
	TaskLinks []string `json:"task_links,omitempty"`
}

// CreateInvitationRequest invites an email into a project.
type CreateInvitationRequest struct {
	Email string           `json:"email"`
	Role  model.MemberRole `json:"role"`
}

// AcceptResponse reports the credential inheritance picked up on accept.
type AcceptResponse struct {
	Status        string               `json:"status"`
	InheritedFrom string               `json:"inherited_from,omitempty"`
	Credentials   *model.CredentialSet `json:"credentials,omitempty"`
}

// ShareRequest grants a collaborator access to the project container.
type ShareRequest struct {
	User string `json:"user"`
}
