package snapshot

import (
	"time"

	"github.com/google/uuid"

	perrors "github.com/crewdeck/crewdeck/internal/errors"
	"github.com/crewdeck/crewdeck/internal/model"
)

// TaskFields holds the caller-supplied fields for a new task. Validation of
// required fields happens at the API layer before this is called.
type TaskFields struct {
	Title          string
	Description    string
	Status         model.TaskStatus
	Priority       model.TaskPriority
	AssigneeID     string
	CreatorID      string
	StartDate      int64
	DueDate        int64
	EstimatedHours float64
	Tags           []string
	SprintID       string
	Dependencies   []string
}

// TaskPatch carries optional task mutations. Nil fields are left unchanged.
type TaskPatch struct {
	Title          *string
	Description    *string
	Status         *model.TaskStatus
	Priority       *model.TaskPriority
	AssigneeID     *string
	StartDate      *int64
	DueDate        *int64
	Progress       *int
	EstimatedHours *float64
	ActualHours    *float64
	Tags           []string
	Attachments    []string
	SprintID       *string
	Dependencies   []string
	Position       *int
}

// AddTask assigns a fresh id and timestamps and appends to Tasks.
func AddTask(d ProjectData, f TaskFields) (ProjectData, model.Task) {
	now := time.Now().UnixMilli()
	t := model.Task{
		ID:             uuid.New().String(),
		ProjectID:      d.Project.ID,
		Title:          f.Title,
		Description:    f.Description,
		Status:         f.Status,
		Priority:       f.Priority,
		AssigneeID:     f.AssigneeID,
		CreatorID:      f.CreatorID,
		StartDate:      f.StartDate,
		DueDate:        f.DueDate,
		EstimatedHours: f.EstimatedHours,
		Tags:           f.Tags,
		SprintID:       f.SprintID,
		Dependencies:   f.Dependencies,
		Position:       len(d.Tasks),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if t.Status == "" {
		t.Status = model.TaskTodo
	}
	if t.Priority == "" {
		t.Priority = model.PriorityMedium
	}
	out := d.clone()
	out.Tasks = append(out.Tasks, t)
	return out, t
}

// UpdateTask replaces the matching task with a merge of old and new fields
// and a refreshed UpdatedAt. A missing id is a caller error.
func UpdateTask(d ProjectData, taskID string, p TaskPatch) (ProjectData, error) {
	idx := -1
	for i, t := range d.Tasks {
		if t.ID == taskID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return d, perrors.ErrTaskNotFound
	}

	t := d.Tasks[idx]
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.AssigneeID != nil {
		t.AssigneeID = *p.AssigneeID
	}
	if p.StartDate != nil {
		t.StartDate = *p.StartDate
	}
	if p.DueDate != nil {
		t.DueDate = *p.DueDate
	}
	if p.Progress != nil {
		t.Progress = *p.Progress
	}
	if p.EstimatedHours != nil {
		t.EstimatedHours = *p.EstimatedHours
	}
	if p.ActualHours != nil {
		t.ActualHours = *p.ActualHours
	}
	if p.Tags != nil {
		t.Tags = p.Tags
	}
	if p.Attachments != nil {
		t.Attachments = p.Attachments
	}
	if p.SprintID != nil {
		t.SprintID = *p.SprintID
	}
	if p.Dependencies != nil {
		t.Dependencies = p.Dependencies
	}
	if p.Position != nil {
		t.Position = *p.Position
	}
	t.UpdatedAt = time.Now().UnixMilli()

	out := d.clone()
	out.Tasks[idx] = t
	return out, nil
}

// DeleteTask removes the task and every comment referencing it. Dangling
// comments are an invariant violation, so the cascade is unconditional.
func DeleteTask(d ProjectData, taskID string) (ProjectData, error) {
	found := false
	out := d.clone()
	tasks := out.Tasks[:0]
	for _, t := range out.Tasks {
		if t.ID == taskID {
			found = true
			continue
		}
		tasks = append(tasks, t)
	}
	if !found {
		return d, perrors.ErrTaskNotFound
	}
	out.Tasks = tasks

	comments := make([]model.Comment, 0, len(out.Comments))
	for _, c := range out.Comments {
		if c.TaskID == taskID {
			continue
		}
		comments = append(comments, c)
	}
	out.Comments = comments
	return out, nil
}

// AddComment appends a comment with a fresh id and timestamp.
func AddComment(d ProjectData, c model.Comment) (ProjectData, model.Comment) {
	c.ID = uuid.New().String()
	c.CreatedAt = time.Now().UnixMilli()
	out := d.clone()
	out.Comments = append(out.Comments, c)
	return out, c
}

// AddActivity appends an audit record with a fresh id and timestamp.
func AddActivity(d ProjectData, a model.Activity) (ProjectData, model.Activity) {
	a.ID = uuid.New().String()
	a.ProjectID = d.Project.ID
	a.CreatedAt = time.Now().UnixMilli()
	out := d.clone()
	out.Activities = append(out.Activities, a)
	return out, a
}

// AddAISuggestion appends an insight record with a fresh id and timestamp.
func AddAISuggestion(d ProjectData, s model.AISuggestion) (ProjectData, model.AISuggestion) {
	s.ID = uuid.New().String()
	s.ProjectID = d.Project.ID
	s.CreatedAt = time.Now().UnixMilli()
	out := d.clone()
	out.AISuggestions = append(out.AISuggestions, s)
	return out, s
}
