// Package snapshot holds the whole-document project state and the pure
// functions that produce new snapshots from old ones. Nothing in this
// package performs I/O; persistence is the docstore's job.
package snapshot

import (
	"github.com/crewdeck/crewdeck/internal/model"
)

// ProjectData is the entire persisted state of one project. Every mutation
// is expressed as old snapshot → new snapshot; the remote document is always
// replaced wholesale.
type ProjectData struct {
	Version       int64                 `json:"version"`
	Project       model.Project         `json:"project"`
	Tasks         []model.Task          `json:"tasks"`
	Members       []model.ProjectMember `json:"members"`
	Comments      []model.Comment       `json:"comments"`
	Activities    []model.Activity      `json:"activities"`
	AISuggestions []model.AISuggestion  `json:"ai_suggestions"`
}

// New returns the initial snapshot for a freshly created project, containing
// the owner membership created atomically with it.
func New(p model.Project, owner model.ProjectMember) ProjectData {
	return ProjectData{
		Version:       1,
		Project:       p,
		Tasks:         []model.Task{},
		Members:       []model.ProjectMember{owner},
		Comments:      []model.Comment{},
		Activities:    []model.Activity{},
		AISuggestions: []model.AISuggestion{},
	}
}

// clone produces a structurally independent copy so the manager functions
// never alias the caller's slices.
func (d ProjectData) clone() ProjectData {
	out := d
	out.Tasks = append([]model.Task(nil), d.Tasks...)
	out.Members = append([]model.ProjectMember(nil), d.Members...)
	out.Comments = append([]model.Comment(nil), d.Comments...)
	out.Activities = append([]model.Activity(nil), d.Activities...)
	out.AISuggestions = append([]model.AISuggestion(nil), d.AISuggestions...)
	return out
}

// TaskByID returns the task and true if present.
func (d ProjectData) TaskByID(id string) (model.Task, bool) {
	for _, t := range d.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return model.Task{}, false
}

// MemberFor returns the membership for userID and true if present.
func (d ProjectData) MemberFor(userID string) (model.ProjectMember, bool) {
	for _, m := range d.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return model.ProjectMember{}, false
}
