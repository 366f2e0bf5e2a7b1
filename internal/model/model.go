// Package model defines the entities shared by the remote document store,
// the local mirror, and the invitation workflow.
package model

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectActive   ProjectStatus = "active"
	ProjectArchived ProjectStatus = "archived"
)

// ContainerRef points at the remote container holding a project's document.
type ContainerRef struct {
	RepoOwner string `json:"repo_owner"`
	RepoName  string `json:"repo_name"`
	DocPath   string `json:"doc_path"`
}

// IsZero reports whether the reference has never been populated, i.e. the
// project exists only in the local mirror.
func (r ContainerRef) IsZero() bool {
	return r.RepoOwner == "" && r.RepoName == ""
}

// CredentialSet is the bundle of integration credentials owned by a project
// creator. Accepting members resolve it by project reference at time of use.
type CredentialSet struct {
	APIKey         string          `json:"api_key"`
	ClientID       string          `json:"client_id"`
	ClientSecret   string          `json:"client_secret"`
	AIKey          string          `json:"ai_key,omitempty"`
	EnabledFeature map[string]bool `json:"enabled_features,omitempty"`
}

// IsZero reports whether no credentials have been configured.
func (c CredentialSet) IsZero() bool {
	return c.APIKey == "" && c.ClientID == "" && c.ClientSecret == "" && c.AIKey == ""
}

// Clone returns an independent copy, including the feature map.
func (c CredentialSet) Clone() CredentialSet {
	out := c
	if c.EnabledFeature != nil {
		out.EnabledFeature = make(map[string]bool, len(c.EnabledFeature))
		for k, v := range c.EnabledFeature {
			out.EnabledFeature[k] = v
		}
	}
	return out
}

// Project is the root entity. Exactly one owner membership is created
// atomically with it.
type Project struct {
	ID            string         `json:"id"`
	Slug          string         `json:"slug"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Status        ProjectStatus  `json:"status"`
	OwnerID       string         `json:"owner_id"`
	AllowedEmails []string       `json:"allowed_emails,omitempty"`
	Container     ContainerRef   `json:"container"`
	Credentials   *CredentialSet `json:"credentials,omitempty"`
	CreatedAt     int64          `json:"created_at"`
	UpdatedAt     int64          `json:"updated_at"`
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
)

// IsValid reports whether s is a known task status.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskTodo, TaskInProgress, TaskDone:
		return true
	}
	return false
}

// TaskPriority orders tasks by urgency.
type TaskPriority string

const (
	PriorityLow      TaskPriority = "low"
	PriorityMedium   TaskPriority = "medium"
	PriorityHigh     TaskPriority = "high"
	PriorityCritical TaskPriority = "critical"
)

// IsValid reports whether p is a known priority.
func (p TaskPriority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Task is a unit of project work. Deleting a task cascades to its comments.
type Task struct {
	ID             string       `json:"id"`
	ProjectID      string       `json:"project_id"`
	Title          string       `json:"title"`
	Description    string       `json:"description,omitempty"`
	Status         TaskStatus   `json:"status"`
	Priority       TaskPriority `json:"priority"`
	AssigneeID     string       `json:"assignee_id,omitempty"`
	CreatorID      string       `json:"creator_id"`
	StartDate      int64        `json:"start_date,omitempty"`
	DueDate        int64        `json:"due_date,omitempty"`
	Progress       int          `json:"progress"`
	EstimatedHours float64      `json:"estimated_hours,omitempty"`
	ActualHours    float64      `json:"actual_hours,omitempty"`
	Tags           []string     `json:"tags,omitempty"`
	Attachments    []string     `json:"attachments,omitempty"`
	SprintID       string       `json:"sprint_id,omitempty"`
	Dependencies   []string     `json:"dependencies,omitempty"`
	Position       int          `json:"position"`
	CreatedAt      int64        `json:"created_at"`
	UpdatedAt      int64        `json:"updated_at"`
}

// MemberRole is the access level of a project member.
type MemberRole string

const (
	RoleOwner  MemberRole = "owner"
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

// IsValid reports whether r is a known role.
func (r MemberRole) IsValid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// ProjectMember links an identity to a project. UserID may be a raw email
// address for a provisional member who has never authenticated.
type ProjectMember struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	UserID    string     `json:"user_id"`
	Role      MemberRole `json:"role"`
	JoinedAt  int64      `json:"joined_at"`
}

// Comment is an append-only note on a task.
type Comment struct {
	ID          string   `json:"id"`
	TaskID      string   `json:"task_id"`
	AuthorID    string   `json:"author_id"`
	Content     string   `json:"content"`
	Mentions    []string `json:"mentions,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
	TaskLinks   []string `json:"task_links,omitempty"`
	CreatedAt   int64    `json:"created_at"`
}

// ActivityType enumerates audit trail event kinds.
type ActivityType string

const (
	ActivityProjectCreated ActivityType = "project_created"
	ActivityTaskCreated    ActivityType = "task_created"
	ActivityTaskUpdated    ActivityType = "task_updated"
	ActivityTaskDeleted    ActivityType = "task_deleted"
	ActivityCommentAdded   ActivityType = "comment_added"
	ActivityMemberJoined   ActivityType = "member_joined"
	ActivityMemberInvited  ActivityType = "member_invited"
	ActivityStatusChanged  ActivityType = "status_changed"
)

// Activity is an append-only audit record. An empty UserID means an
// automated actor.
type Activity struct {
	ID          string            `json:"id"`
	ProjectID   string            `json:"project_id"`
	UserID      string            `json:"user_id,omitempty"`
	Type        ActivityType      `json:"type"`
	Description string            `json:"description"`
	EntityID    string            `json:"entity_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   int64             `json:"created_at"`
}

// InvitationStatus is the state of an invitation. accepted and rejected are
// terminal.
type InvitationStatus string

const (
	InvitePending  InvitationStatus = "pending"
	InviteAccepted InvitationStatus = "accepted"
	InviteRejected InvitationStatus = "rejected"
)

// Terminal reports whether the status permits no further transitions.
func (s InvitationStatus) Terminal() bool {
	return s == InviteAccepted || s == InviteRejected
}

// Invitation invites an email address into a project with a role.
type Invitation struct {
	ID          string           `json:"id"`
	ProjectID   string           `json:"project_id"`
	Email       string           `json:"email"`
	Role        MemberRole       `json:"role"`
	InviterName string           `json:"inviter_name"`
	Status      InvitationStatus `json:"status"`
	CreatedAt   int64            `json:"created_at"`
}

// AISuggestion is an opaque structured-text insight attached to a project.
type AISuggestion struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Kind      string `json:"kind"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

// UsageRecord counts API calls per user. Mirror-only; never part of the
// remote document.
type UsageRecord struct {
	UserID    string `json:"user_id"`
	Calls     int64  `json:"calls"`
	UpdatedAt int64  `json:"updated_at"`
}
