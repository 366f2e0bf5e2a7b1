package mirror

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewdeck/crewdeck/internal/model"
	"github.com/crewdeck/crewdeck/internal/snapshot"
)

func sampleSnapshot(id, name, owner string) snapshot.ProjectData {
	p := model.Project{
		ID:      id,
		Slug:    GenerateSlug(name),
		Name:    name,
		Status:  model.ProjectActive,
		OwnerID: owner,
	}
	d := snapshot.New(p, model.ProjectMember{
		ID: "m-" + id, ProjectID: id, UserID: owner, Role: model.RoleOwner,
	})
	d, _ = snapshot.AddTask(d, snapshot.TaskFields{Title: "first task", CreatorID: owner})
	return d
}

func TestImportSnapshot_ReplacesStaleRows(t *testing.T) {
	s := setupTestStore(t)

	d := sampleSnapshot("proj-1", "Atlas", "user-alice")
	require.NoError(t, s.ImportSnapshot(d))

	// A stale task in the mirror that the document no longer contains.
	require.NoError(t, s.PutTask(&model.Task{
		ID: "stale-task", ProjectID: "proj-1", Title: "gone upstream",
		Status: model.TaskTodo, Priority: model.PriorityLow, CreatorID: "user-alice",
	}))

	require.NoError(t, s.ImportSnapshot(d))

	tasks, err := s.ListTasks("proj-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "first task", tasks[0].Title)
}

func TestRebuild_ReplacesWholeMirror(t *testing.T) {
	s := setupTestStore(t)

	// A project only the mirror knows about; it has no remote document and
	// must not survive a rebuild.
	seedProject(t, s, "Local Only", "user-alice")

	snaps := []snapshot.ProjectData{
		sampleSnapshot("proj-1", "Atlas", "user-alice"),
		sampleSnapshot("proj-2", "Borealis", "user-bob"),
	}
	require.NoError(t, s.Rebuild(snaps))

	all, err := s.ListProjects("")
	require.NoError(t, err)
	require.Len(t, all, 2)

	gone, err := s.GetProjectBySlug("local-only")
	require.NoError(t, err)
	assert.Nil(t, gone)

	m, err := s.GetUserProjectRole("proj-2", "user-bob")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, model.RoleOwner, m.Role)
}
