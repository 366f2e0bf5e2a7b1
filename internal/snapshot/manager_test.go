package snapshot

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/crewdeck/crewdeck/internal/errors"
	"github.com/crewdeck/crewdeck/internal/model"
)

func testSnapshot() ProjectData {
	p := model.Project{ID: "p1", Name: "Rollout", OwnerID: "alice@x.com", Status: model.ProjectActive}
	owner := model.ProjectMember{ID: "m1", ProjectID: "p1", UserID: "alice@x.com", Role: model.RoleOwner}
	return New(p, owner)
}

// fingerprint serializes a snapshot so before/after structural equality can
// be asserted without reflect.DeepEqual surprises on nil vs empty slices.
func fingerprint(t *testing.T, d ProjectData) string {
	t.Helper()
	b, err := json.Marshal(d)
	require.NoError(t, err)
	return string(b)
}

func TestAddTask(t *testing.T) {
	s := testSnapshot()
	before := fingerprint(t, s)

	out, task := AddTask(s, TaskFields{Title: "ship it", CreatorID: "alice@x.com"})
	assert.Len(t, out.Tasks, 1)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, model.TaskTodo, task.Status)
	assert.Equal(t, model.PriorityMedium, task.Priority)
	assert.Equal(t, "p1", task.ProjectID)
	assert.Equal(t, 0, task.Position)

	// input snapshot untouched
	assert.Equal(t, before, fingerprint(t, s))
}

func TestUpdateTask(t *testing.T) {
	s := testSnapshot()
	s, task := AddTask(s, TaskFields{Title: "ship it", CreatorID: "alice@x.com"})
	before := fingerprint(t, s)

	done := model.TaskDone
	progress := 100
	out, err := UpdateTask(s, task.ID, TaskPatch{Status: &done, Progress: &progress})
	require.NoError(t, err)

	got, ok := out.TaskByID(task.ID)
	require.True(t, ok)
	assert.Equal(t, model.TaskDone, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "ship it", got.Title)
	assert.GreaterOrEqual(t, got.UpdatedAt, task.UpdatedAt)

	assert.Equal(t, before, fingerprint(t, s))
}

func TestUpdateTask_NotFound(t *testing.T) {
	s := testSnapshot()
	_, err := UpdateTask(s, "nope", TaskPatch{})
	assert.ErrorIs(t, err, perrors.ErrTaskNotFound)
}

func TestDeleteTask_CascadesComments(t *testing.T) {
	s := testSnapshot()
	s, task := AddTask(s, TaskFields{Title: "doomed", CreatorID: "alice@x.com"})
	s, other := AddTask(s, TaskFields{Title: "survivor", CreatorID: "alice@x.com"})
	s, _ = AddComment(s, model.Comment{TaskID: task.ID, AuthorID: "alice@x.com", Content: "one"})
	s, _ = AddComment(s, model.Comment{TaskID: task.ID, AuthorID: "alice@x.com", Content: "two"})
	s, kept := AddComment(s, model.Comment{TaskID: other.ID, AuthorID: "alice@x.com", Content: "keep"})
	before := fingerprint(t, s)

	out, err := DeleteTask(s, task.ID)
	require.NoError(t, err)

	_, ok := out.TaskByID(task.ID)
	assert.False(t, ok)
	require.Len(t, out.Comments, 1)
	assert.Equal(t, kept.ID, out.Comments[0].ID)
	for _, c := range out.Comments {
		assert.NotEqual(t, task.ID, c.TaskID)
	}

	assert.Equal(t, before, fingerprint(t, s))
}

func TestDeleteTask_NotFound(t *testing.T) {
	s := testSnapshot()
	_, err := DeleteTask(s, "missing")
	assert.ErrorIs(t, err, perrors.ErrTaskNotFound)
}

func TestAppendOperations(t *testing.T) {
	s := testSnapshot()
	before := fingerprint(t, s)

	out, act := AddActivity(s, model.Activity{Type: model.ActivityTaskCreated, UserID: "alice@x.com", Description: "created"})
	assert.NotEmpty(t, act.ID)
	assert.Equal(t, "p1", act.ProjectID)
	assert.Len(t, out.Activities, 1)

	out, sug := AddAISuggestion(out, model.AISuggestion{Kind: "risk", Content: "too many criticals"})
	assert.NotEmpty(t, sug.ID)
	assert.Len(t, out.AISuggestions, 1)

	assert.Equal(t, before, fingerprint(t, s))
}

func TestNewSnapshot_OwnerMembership(t *testing.T) {
	s := testSnapshot()
	require.Len(t, s.Members, 1)
	m, ok := s.MemberFor("alice@x.com")
	require.True(t, ok)
	assert.Equal(t, model.RoleOwner, m.Role)
	assert.EqualValues(t, 1, s.Version)
}
