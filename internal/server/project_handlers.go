package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	perrors "github.com/crewdeck/crewdeck/internal/errors"
	"github.com/crewdeck/crewdeck/internal/invite"
	"github.com/crewdeck/crewdeck/internal/mirror"
	"github.com/crewdeck/crewdeck/internal/model"
	"github.com/crewdeck/crewdeck/internal/policy"
	"github.com/crewdeck/crewdeck/internal/snapshot"
)

// CreateProject handles POST /api/v1/projects. The owner membership is part
// of the initial document, so project and owner exist atomically.
func (h *handlers) CreateProject(c *fiber.Ctx) error {
	sess := currentSession(c)

	var req CreateProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.Name == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_name", "Bad Request",
			"Project name is required")
	}

	now := time.Now().UnixMilli()
	p := model.Project{
		ID:          uuid.NewString(),
		Slug:        mirror.GenerateSlug(req.Name),
		Name:        req.Name,
		Description: req.Description,
		Status:      model.ProjectActive,
		OwnerID:     sess.UserID,
		Credentials: req.Credentials,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	owner := model.ProjectMember{
		ID:        uuid.NewString(),
		ProjectID: p.ID,
		UserID:    sess.UserID,
		Role:      model.RoleOwner,
		JoinedAt:  now,
	}

	data := snapshot.New(p, owner)
	data, _ = snapshot.AddActivity(data, model.Activity{
		ProjectID:   p.ID,
		UserID:      sess.UserID,
		Type:        model.ActivityProjectCreated,
		Description: fmt.Sprintf("created project %q", p.Name),
	})

	ref, err := h.deps.Docs.CreateProject(c.Context(), p.Slug, data)
	if err != nil {
		return domainProblem(c, err)
	}
	data.Project.Container = ref

	if err := h.deps.Mirror.ImportSnapshot(data); err != nil {
		h.logger.Error().Err(err).Str("project_id", p.ID).Msg("mirror import failed after create")
	}
	_ = h.deps.Mirror.RecordUsage(sess.UserID)

	return c.Status(fiber.StatusCreated).JSON(ProjectResponse{Data: data})
}

// ListProjects handles GET /api/v1/projects.
func (h *handlers) ListProjects(c *fiber.Ctx) error {
	sess := currentSession(c)

	projects, err := h.deps.Mirror.ListProjectsForUser(sess.UserID)
	if err != nil {
		return domainProblem(c, err)
	}

	out := make([]ProjectSummary, 0, len(projects))
	for _, p := range projects {
		role := model.MemberRole("")
		if m, err := h.deps.Mirror.GetUserProjectRole(p.ID, sess.UserID); err == nil && m != nil {
			role = m.Role
		}
		tasks, _ := h.deps.Mirror.ListTasks(p.ID)
		out = append(out, ProjectSummary{
			ID:          p.ID,
			Slug:        p.Slug,
			Name:        p.Name,
			Description: p.Description,
			Status:      p.Status,
			OwnerID:     p.OwnerID,
			Role:        role,
			TaskCount:   len(tasks),
			UpdatedAt:   p.UpdatedAt,
		})
	}

	return c.JSON(ProjectListResponse{Projects: out, Total: len(out)})
}

// GetProject handles GET /api/v1/projects/:id. The ETag response header
// carries the document SHA to use as If-Match on a subsequent update.
func (h *handlers) GetProject(c *fiber.Ctx) error {
	projectID := c.Params("id")
	if _, err := h.requireRole(c, projectID, policy.OpProjectRead); err != nil {
		return domainProblem(c, err)
	}

	p, err := h.deps.Mirror.GetProject(projectID)
	if err != nil {
		return domainProblem(c, err)
	}
	if p == nil {
		return domainProblem(c, perrors.ErrNotFound)
	}

	if p.Container.IsZero() {
		data, err := h.snapshotFromMirror(p)
		if err != nil {
			return domainProblem(c, err)
		}
		return c.JSON(ProjectResponse{Data: data})
	}

	doc, err := h.deps.Docs.Get(c.Context(), p.Container.RepoName)
	if err != nil {
		return domainProblem(c, err)
	}
	if doc == nil {
		return domainProblem(c, perrors.ErrNotFound)
	}

	c.Set("ETag", doc.SHA)
	return c.JSON(ProjectResponse{Data: doc.Data, ETag: doc.SHA})
}

// UpdateProject handles PATCH /api/v1/projects/:id. With an If-Match header
// the write carries that SHA as its precondition and a stale value yields
// 409; without one the store retries the read-mutate-write cycle itself.
func (h *handlers) UpdateProject(c *fiber.Ctx) error {
	projectID := c.Params("id")
	if _, err := h.requireRole(c, projectID, policy.OpProjectUpdate); err != nil {
		return domainProblem(c, err)
	}

	var req UpdateProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.Status != nil && *req.Status != model.ProjectActive && *req.Status != model.ProjectArchived {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_status", "Bad Request",
			"Unknown project status: "+string(*req.Status))
	}

	p, err := h.deps.Mirror.GetProject(projectID)
	if err != nil {
		return domainProblem(c, err)
	}
	if p == nil {
		return domainProblem(c, perrors.ErrNotFound)
	}

	mutate := func(d snapshot.ProjectData) (snapshot.ProjectData, error) {
		if req.Name != nil {
			d.Project.Name = *req.Name
		}
		if req.Description != nil {
			d.Project.Description = *req.Description
		}
		if req.Status != nil {
			d.Project.Status = *req.Status
		}
		d.Project.UpdatedAt = time.Now().UnixMilli()
		return d, nil
	}

	if ifMatch := c.Get("If-Match"); ifMatch != "" && !p.Container.IsZero() {
		doc, err := h.deps.Docs.GetFresh(c.Context(), p.Container.RepoName)
		if err != nil {
			return domainProblem(c, err)
		}
		if doc == nil {
			return domainProblem(c, perrors.ErrNotFound)
		}
		next, err := mutate(doc.Data)
		if err != nil {
			return domainProblem(c, err)
		}
		updated, err := h.deps.Docs.Update(c.Context(), p.Container.RepoName, next, ifMatch)
		if err != nil {
			return domainProblem(c, err)
		}
		if err := h.deps.Mirror.ImportSnapshot(updated.Data); err != nil {
			h.logger.Error().Err(err).Str("project_id", projectID).Msg("mirror import failed after update")
		}
		c.Set("ETag", updated.SHA)
		return c.JSON(ProjectResponse{Data: updated.Data, ETag: updated.SHA})
	}

	data, err := h.mutateProject(c, p, mutate)
	if err != nil {
		return domainProblem(c, err)
	}
	return c.JSON(ProjectResponse{Data: data})
}

// DeleteProject handles DELETE /api/v1/projects/:id.
func (h *handlers) DeleteProject(c *fiber.Ctx) error {
	projectID := c.Params("id")
	if _, err := h.requireRole(c, projectID, policy.OpProjectDelete); err != nil {
		return domainProblem(c, err)
	}

	p, err := h.deps.Mirror.GetProject(projectID)
	if err != nil {
		return domainProblem(c, err)
	}
	if p == nil {
		return domainProblem(c, perrors.ErrNotFound)
	}

	if !p.Container.IsZero() {
		if err := h.deps.Docs.Delete(c.Context(), p.Container.RepoName); err != nil {
			return domainProblem(c, err)
		}
	}
	if err := h.deps.Mirror.DeleteProject(projectID); err != nil {
		return domainProblem(c, err)
	}

	h.logger.Info().Str("project_id", projectID).Msg("project deleted")
	return c.SendStatus(fiber.StatusNoContent)
}

// UpdateCredentials handles PUT /api/v1/projects/:id/credentials.
func (h *handlers) UpdateCredentials(c *fiber.Ctx) error {
	projectID := c.Params("id")
	if _, err := h.requireRole(c, projectID, policy.OpCredentialsUpdate); err != nil {
		return domainProblem(c, err)
	}

	var creds model.CredentialSet
	if err := c.BodyParser(&creds); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}

	p, err := h.deps.Mirror.GetProject(projectID)
	if err != nil {
		return domainProblem(c, err)
	}
	if p == nil {
		return domainProblem(c, perrors.ErrNotFound)
	}

	_, err = h.mutateProject(c, p, func(d snapshot.ProjectData) (snapshot.ProjectData, error) {
		cc := creds.Clone()
		d.Project.Credentials = &cc
		d.Project.UpdatedAt = time.Now().UnixMilli()
		return d, nil
	})
	if err != nil {
		return domainProblem(c, err)
	}

	return c.JSON(fiber.Map{"ok": true})
}

// ListMembers handles GET /api/v1/projects/:id/members.
func (h *handlers) ListMembers(c *fiber.Ctx) error {
	projectID := c.Params("id")
	if _, err := h.requireRole(c, projectID, policy.OpProjectRead); err != nil {
		return domainProblem(c, err)
	}

	members, err := h.deps.Mirror.ListMembers(projectID)
	if err != nil {
		return domainProblem(c, err)
	}
	if members == nil {
		members = []*model.ProjectMember{}
	}
	return c.JSON(fiber.Map{"members": members})
}

// RemoveMember handles DELETE /api/v1/projects/:id/members/:userID. The
// owner membership cannot be removed.
func (h *handlers) RemoveMember(c *fiber.Ctx) error {
	projectID := c.Params("id")
	userID := c.Params("userID")
	if _, err := h.requireRole(c, projectID, policy.OpMemberRemove); err != nil {
		return domainProblem(c, err)
	}

	p, err := h.deps.Mirror.GetProject(projectID)
	if err != nil {
		return domainProblem(c, err)
	}
	if p == nil {
		return domainProblem(c, perrors.ErrNotFound)
	}
	if p.OwnerID == userID {
		return problemResponse(c, fiber.StatusBadRequest,
			"cannot_remove_owner", "Bad Request",
			"The project owner cannot be removed")
	}

	_, err = h.mutateProject(c, p, func(d snapshot.ProjectData) (snapshot.ProjectData, error) {
		kept := d.Members[:0:0]
		for _, m := range d.Members {
			if m.UserID != userID {
				kept = append(kept, m)
			}
		}
		d.Members = kept
		return d, nil
	})
	if err != nil {
		return domainProblem(c, err)
	}

	// Import replaces rows wholesale, but a mirror-only membership with no
	// document row would survive it.
	if err := h.deps.Mirror.RemoveMember(projectID, userID); err != nil {
		h.logger.Warn().Err(err).Str("project_id", projectID).Str("user_id", userID).
			Msg("mirror membership removal failed")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ListActivities handles GET /api/v1/projects/:id/activities.
func (h *handlers) ListActivities(c *fiber.Ctx) error {
	projectID := c.Params("id")
	if _, err := h.requireRole(c, projectID, policy.OpProjectRead); err != nil {
		return domainProblem(c, err)
	}

	limit := c.QueryInt("limit", 50)
	activities, err := h.deps.Mirror.ListActivities(projectID, limit)
	if err != nil {
		return domainProblem(c, err)
	}
	if activities == nil {
		activities = []*model.Activity{}
	}
	return c.JSON(fiber.Map{"activities": activities})
}

// ShareProject handles POST /api/v1/projects/:id/share.
func (h *handlers) ShareProject(c *fiber.Ctx) error {
	projectID := c.Params("id")
	if _, err := h.requireRole(c, projectID, policy.OpProjectShare); err != nil {
		return domainProblem(c, err)
	}

	var req ShareRequest
	if err := c.BodyParser(&req); err != nil || req.User == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_user", "Bad Request",
			"User is required")
	}

	p, err := h.deps.Mirror.GetProject(projectID)
	if err != nil {
		return domainProblem(c, err)
	}
	if p == nil {
		return domainProblem(c, perrors.ErrNotFound)
	}
	if p.Container.IsZero() {
		return problemResponse(c, fiber.StatusBadRequest,
			"not_stored_remotely", "Bad Request",
			"Project has no remote container to share")
	}

	if err := h.deps.Docs.Share(c.Context(), p.Container.RepoName, req.User); err != nil {
		return domainProblem(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

// ShareableLink handles GET /api/v1/projects/:id/link.
func (h *handlers) ShareableLink(c *fiber.Ctx) error {
	projectID := c.Params("id")
	if _, err := h.requireRole(c, projectID, policy.OpProjectRead); err != nil {
		return domainProblem(c, err)
	}

	p, err := h.deps.Mirror.GetProject(projectID)
	if err != nil {
		return domainProblem(c, err)
	}
	if p == nil || p.Container.IsZero() {
		return domainProblem(c, perrors.ErrNotFound)
	}

	return c.JSON(fiber.Map{"url": h.deps.Docs.ShareableLink(p.Container.RepoName)})
}

// CreateTask handles POST /api/v1/projects/:id/tasks.
func (h *handlers) CreateTask(c *fiber.Ctx) error {
	projectID := c.Params("id")
	sess := currentSession(c)
	if _, err := h.requireRole(c, projectID, policy.OpTaskWrite); err != nil {
		return domainProblem(c, err)
	}

	var req CreateTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.Title == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_title", "Bad Request",
			"Task title is required")
	}
	if req.Status != "" && !req.Status.IsValid() {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_status", "Bad Request",
			"Unknown task status: "+string(req.Status))
	}
	if req.Priority != "" && !req.Priority.IsValid() {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_priority", "Bad Request",
			"Unknown task priority: "+string(req.Priority))
	}

	p, err := h.deps.Mirror.GetProject(projectID)
	if err != nil {
		return domainProblem(c, err)
	}
	if p == nil {
		return domainProblem(c, perrors.ErrNotFound)
	}

	var created model.Task
	_, err = h.mutateProject(c, p, func(d snapshot.ProjectData) (snapshot.ProjectData, error) {
		d, t := snapshot.AddTask(d, snapshot.TaskFields{
			Title:          req.Title,
			Description:    req.Description,
			Status:         req.Status,
			Priority:       req.Priority,
			AssigneeID:     req.AssigneeID,
			CreatorID:      sess.UserID,
			StartDate:      req.StartDate,
			DueDate:        req.DueDate,
			EstimatedHours: req.EstimatedHours,
			Tags:           req.Tags,
			SprintID:       req.SprintID,
			Dependencies:   req.Dependencies,
		})
		d, _ = snapshot.AddActivity(d, model.Activity{
			ProjectID:   p.ID,
			UserID:      sess.UserID,
			Type:        model.ActivityTaskCreated,
			Description: fmt.Sprintf("created task %q", t.Title),
			EntityID:    t.ID,
		})
		created = t
		return d, nil
	})
	if err != nil {
		return domainProblem(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

// UpdateTask handles PATCH /api/v1/projects/:id/tasks/:taskID.
func (h *handlers) UpdateTask(c *fiber.Ctx) error {
	projectID := c.Params("id")
	taskID := c.Params("taskID")
	sess := currentSession(c)
	if _, err := h.requireRole(c, projectID, policy.OpTaskWrite); err != nil {
		return domainProblem(c, err)
	}

	var req UpdateTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.Status != nil && !req.Status.IsValid() {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_status", "Bad Request",
			"Unknown task status: "+string(*req.Status))
	}
	if req.Priority != nil && !req.Priority.IsValid() {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_priority", "Bad Request",
			"Unknown task priority: "+string(*req.Priority))
	}

	p, err := h.deps.Mirror.GetProject(projectID)
	if err != nil {
		return domainProblem(c, err)
	}
	if p == nil {
		return domainProblem(c, perrors.ErrNotFound)
	}

	patch := snapshot.TaskPatch{
		Title:          req.Title,
		Description:    req.Description,
		Status:         req.Status,
		Priority:       req.Priority,
		AssigneeID:     req.AssigneeID,
		StartDate:      req.StartDate,
		DueDate:        req.DueDate,
		Progress:       req.Progress,
		EstimatedHours: req.EstimatedHours,
		ActualHours:    req.ActualHours,
		Tags:           req.Tags,
		SprintID:       req.SprintID,
		Dependencies:   req.Dependencies,
		Position:       req.Position,
	}

	var updated model.Task
	_, err = h.mutateProject(c, p, func(d snapshot.ProjectData) (snapshot.ProjectData, error) {
		next, err := snapshot.UpdateTask(d, taskID, patch)
		if err != nil {
			return d, err
		}
		t, _ := next.TaskByID(taskID)
		next, _ = snapshot.AddActivity(next, model.Activity{
			ProjectID:   p.ID,
			UserID:      sess.UserID,
			Type:        model.ActivityTaskUpdated,
			Description: fmt.Sprintf("updated task %q", t.Title),
			EntityID:    t.ID,
		})
		updated = t
		return next, nil
	})
	if err != nil {
		return domainProblem(c, err)
	}

	return c.JSON(updated)
}

// DeleteTask handles DELETE /api/v1/projects/:id/tasks/:taskID. Comments on
// the task are removed with it.
func (h *handlers) DeleteTask(c *fiber.Ctx) error {
	projectID := c.Params("id")
	taskID := c.Params("taskID")
	sess := currentSession(c)
	if _, err := h.requireRole(c, projectID, policy.OpTaskDelete); err != nil {
		return domainProblem(c, err)
	}

	p, err := h.deps.Mirror.GetProject(projectID)
	if err != nil {
		return domainProblem(c, err)
	}
	if p == nil {
		return domainProblem(c, perrors.ErrNotFound)
	}

	_, err = h.mutateProject(c, p, func(d snapshot.ProjectData) (snapshot.ProjectData, error) {
		next, err := snapshot.DeleteTask(d, taskID)
		if err != nil {
			return d, err
		}
		next, _ = snapshot.AddActivity(next, model.Activity{
			ProjectID:   p.ID,
			UserID:      sess.UserID,
			Type:        model.ActivityTaskDeleted,
			Description: "deleted task",
			EntityID:    taskID,
		})
		return next, nil
	})
	if err != nil {
		return domainProblem(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// CreateComment handles POST /api/v1/projects/:id/tasks/:taskID/comments.
func (h *handlers) CreateComment(c *fiber.Ctx) error {
	projectID := c.Params("id")
	taskID := c.Params("taskID")
	sess := currentSession(c)
	if _, err := h.requireRole(c, projectID, policy.OpCommentWrite); err != nil {
		return domainProblem(c, err)
	}

	var req CreateCommentRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.Content == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_content", "Bad Request",
			"Comment content is required")
	}

	p, err := h.deps.Mirror.GetProject(projectID)
	if err != nil {
		return domainProblem(c, err)
	}
	if p == nil {
		return domainProblem(c, perrors.ErrNotFound)
	}

	var created model.Comment
	_, err = h.mutateProject(c, p, func(d snapshot.ProjectData) (snapshot.ProjectData, error) {
		if _, ok := d.TaskByID(taskID); !ok {
			return d, perrors.ErrTaskNotFound
		}
		d, cm := snapshot.AddComment(d, model.Comment{
			TaskID:    taskID,
			AuthorID:  sess.UserID,
			Content:   req.Content,
			Mentions:  req.Mentions,
			TaskLinks: req.TaskLinks,
		})
		d, _ = snapshot.AddActivity(d, model.Activity{
			ProjectID:   p.ID,
			UserID:      sess.UserID,
			Type:        model.ActivityCommentAdded,
			Description: "commented on task",
			EntityID:    taskID,
		})
		created = cm
		return d, nil
	})
	if err != nil {
		return domainProblem(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

// CreateInvitation handles POST /api/v1/projects/:id/invitations.
func (h *handlers) CreateInvitation(c *fiber.Ctx) error {
	projectID := c.Params("id")
	sess := currentSession(c)
	if _, err := h.requireRole(c, projectID, policy.OpMemberInvite); err != nil {
		return domainProblem(c, err)
	}

	var req CreateInvitationRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.Email == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_email", "Bad Request",
			"Invitee email is required")
	}

	inv, err := h.deps.Invites.Create(c.Context(), invite.CreateParams{
		ProjectID:   projectID,
		Email:       req.Email,
		Role:        req.Role,
		InvitedBy:   sess.UserID,
		InviterName: sess.Name,
	})
	if err != nil {
		return domainProblem(c, err)
	}

	if h.deps.Ops != nil {
		if p, err := h.deps.Mirror.GetProject(projectID); err == nil && p != nil {
			h.deps.Ops.InvitationCreated(p.Name, inv.Email)
		}
	}
	_ = h.deps.Mirror.RecordUsage(sess.UserID)

	return c.Status(fiber.StatusCreated).JSON(inv)
}

// ListInvitations handles GET /api/v1/projects/:id/invitations.
func (h *handlers) ListInvitations(c *fiber.Ctx) error {
	projectID := c.Params("id")
	if _, err := h.requireRole(c, projectID, policy.OpMemberInvite); err != nil {
		return domainProblem(c, err)
	}

	invs, err := h.deps.Mirror.ListInvitations(projectID)
	if err != nil {
		return domainProblem(c, err)
	}
	if invs == nil {
		invs = []*model.Invitation{}
	}
	return c.JSON(fiber.Map{"invitations": invs})
}

// AcceptInvitation handles POST /api/v1/invitations/:id/accept. The caller
// is the invitee; no project role is required.
func (h *handlers) AcceptInvitation(c *fiber.Ctx) error {
	invitationID := c.Params("id")
	sess := currentSession(c)

	who := invite.Identity{UserID: sess.UserID, Email: sess.Email, Name: sess.Name}
	inh, err := h.deps.Invites.Accept(c.Context(), invitationID, who)
	if err != nil {
		return domainProblem(c, err)
	}

	resp := AcceptResponse{Status: "accepted"}
	if inh != nil {
		resp.InheritedFrom = inh.ProjectID
		resp.Credentials = inh.Credentials
		// A session that has no credential source yet picks this one up.
		h.deps.Sessions.AdoptInheritance(sess.ID, inh.ProjectID, inh.Credentials)
	}

	if h.deps.Ops != nil {
		if inv, err := h.deps.Mirror.GetInvitation(invitationID); err == nil && inv != nil {
			if p, err := h.deps.Mirror.GetProject(inv.ProjectID); err == nil && p != nil {
				h.deps.Ops.MemberJoined(p.Name, inv.Email)
			}
		}
	}

	return c.JSON(resp)
}

// RejectInvitation handles POST /api/v1/invitations/:id/reject.
func (h *handlers) RejectInvitation(c *fiber.Ctx) error {
	invitationID := c.Params("id")
	if err := h.deps.Invites.Reject(c.Context(), invitationID); err != nil {
		return domainProblem(c, err)
	}
	return c.JSON(fiber.Map{"status": "rejected"})
}

// RunInsights handles POST /api/v1/projects/:id/insights. The AI key comes
// from the project's own credential set, falling back to whatever the
// session inherited. A degraded analysis is still a 200; the report says so.
func (h *handlers) RunInsights(c *fiber.Ctx) error {
	projectID := c.Params("id")
	sess := currentSession(c)
	if _, err := h.requireRole(c, projectID, policy.OpInsightsRun); err != nil {
		return domainProblem(c, err)
	}

	p, err := h.deps.Mirror.GetProject(projectID)
	if err != nil {
		return domainProblem(c, err)
	}
	if p == nil {
		return domainProblem(c, perrors.ErrNotFound)
	}

	apiKey := ""
	if p.Credentials != nil {
		apiKey = p.Credentials.AIKey
	}
	if apiKey == "" {
		if creds, err := sess.Credentials(h.deps.Mirror); err == nil && creds != nil {
			apiKey = creds.AIKey
		}
	}
	if apiKey == "" {
		return domainProblem(c, perrors.WithRemediation(perrors.ErrOwnerSetupIncomplete,
			"Ask the project owner to configure an AI key under project credentials."))
	}

	var data snapshot.ProjectData
	if p.Container.IsZero() {
		data, err = h.snapshotFromMirror(p)
		if err != nil {
			return domainProblem(c, err)
		}
	} else {
		doc, err := h.deps.Docs.Get(c.Context(), p.Container.RepoName)
		if err != nil {
			return domainProblem(c, err)
		}
		if doc == nil {
			return domainProblem(c, perrors.ErrNotFound)
		}
		data = doc.Data
	}

	report, err := h.deps.Insights.Analyze(c.Context(), apiKey, data)
	if err != nil {
		return domainProblem(c, err)
	}

	if !report.Unavailable {
		content, merr := json.Marshal(report)
		if merr == nil {
			_, aerr := h.mutateProject(c, p, func(d snapshot.ProjectData) (snapshot.ProjectData, error) {
				d, _ = snapshot.AddAISuggestion(d, model.AISuggestion{
					ProjectID: p.ID,
					Kind:      "analysis",
					Content:   string(content),
				})
				return d, nil
			})
			if aerr != nil {
				h.logger.Warn().Err(aerr).Str("project_id", projectID).
					Msg("failed to persist AI suggestion")
			}
		}
	}
	_ = h.deps.Mirror.RecordUsage(sess.UserID)

	return c.JSON(report)
}

// mutateProject routes a snapshot mutation through the document store when
// the project has a remote container, or straight through the mirror when it
// does not. Either way the mirror ends up matching the result; a mirror
// import failure after a successful remote write is logged, not returned,
// because the mirror can always be rebuilt from the documents.
func (h *handlers) mutateProject(c *fiber.Ctx, p *model.Project, mutate func(snapshot.ProjectData) (snapshot.ProjectData, error)) (snapshot.ProjectData, error) {
	if p.Container.IsZero() {
		d, err := h.snapshotFromMirror(p)
		if err != nil {
			return snapshot.ProjectData{}, err
		}
		next, err := mutate(d)
		if err != nil {
			return snapshot.ProjectData{}, err
		}
		if err := h.deps.Mirror.ImportSnapshot(next); err != nil {
			return snapshot.ProjectData{}, err
		}
		return next, nil
	}

	doc, err := h.deps.Docs.Apply(c.Context(), p.Container.RepoName, mutate)
	if err != nil {
		if perrors.Is(err, perrors.ErrConflict) && h.deps.Ops != nil {
			h.deps.Ops.ConflictExhausted(p.Container.RepoName)
		}
		return snapshot.ProjectData{}, err
	}
	if err := h.deps.Mirror.ImportSnapshot(doc.Data); err != nil {
		h.logger.Error().Err(err).Str("project_id", p.ID).Msg("mirror import failed after write")
	}
	if sess := currentSession(c); sess != nil {
		_ = h.deps.Mirror.RecordUsage(sess.UserID)
	}
	return doc.Data, nil
}

// snapshotFromMirror reassembles a document-shaped snapshot for a project
// that exists only in the mirror.
func (h *handlers) snapshotFromMirror(p *model.Project) (snapshot.ProjectData, error) {
	d := snapshot.ProjectData{Version: 1, Project: *p}

	members, err := h.deps.Mirror.ListMembers(p.ID)
	if err != nil {
		return d, err
	}
	for _, m := range members {
		d.Members = append(d.Members, *m)
	}

	tasks, err := h.deps.Mirror.ListTasks(p.ID)
	if err != nil {
		return d, err
	}
	for _, t := range tasks {
		d.Tasks = append(d.Tasks, *t)
		comments, err := h.deps.Mirror.ListComments(t.ID)
		if err != nil {
			return d, err
		}
		for _, cm := range comments {
			d.Comments = append(d.Comments, *cm)
		}
	}

	activities, err := h.deps.Mirror.ListActivities(p.ID, 0)
	if err != nil {
		return d, err
	}
	for _, a := range activities {
		d.Activities = append(d.Activities, *a)
	}
	return d, nil
}
