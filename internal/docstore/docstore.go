// Package docstore keeps each project as a single JSON document in its own
// remote container. Reads return the document together with the SHA of the
// blob that produced it; writes carry that SHA as a precondition, so a
// write against a stale read fails with ErrConflict instead of silently
// discarding the other writer's changes.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/crewdeck/crewdeck/internal/errors"
	"github.com/crewdeck/crewdeck/internal/metrics"
	"github.com/crewdeck/crewdeck/internal/model"
	"github.com/crewdeck/crewdeck/internal/snapshot"
	"github.com/crewdeck/crewdeck/lru"
)

const (
	// containerPrefix namespaces our containers inside the shared org.
	containerPrefix = "crewdeck-"
	// docPath is the single document each container holds.
	docPath = "crewdeck.json"

	// applyAttempts bounds the read-mutate-write retry loop. Conflicts past
	// this point surface to the caller.
	applyAttempts = 3

	cacheSize = 256
	cacheTTL  = 30 * time.Second
)

// Document is a project snapshot paired with the write precondition for
// the next update.
type Document struct {
	Data snapshot.ProjectData
	SHA  string
}

// ListedProject is one entry from ListProjects.
type ListedProject struct {
	Container string
	Doc       Document
}

// Store reads and writes project documents.
type Store struct {
	remote  remote
	cache   *lru.Cache[string, Document]
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New builds a Store backed by the hosting service under the given org.
func New(auth clientProvider, owner string, m *metrics.Metrics, logger zerolog.Logger) *Store {
	return newWithRemote(newGHRemote(auth, owner), m, logger)
}

func newWithRemote(r remote, m *metrics.Metrics, logger zerolog.Logger) *Store {
	return &Store{
		remote:  r,
		cache:   lru.New[string, Document](cacheSize, lru.WithTTL[string, Document](cacheTTL)),
		metrics: m,
		logger:  logger.With().Str("component", "docstore").Logger(),
	}
}

// ContainerName derives the container name for a project: the prefix, the
// project slug, and the first 8 characters of the project id for uniqueness.
func ContainerName(slug, projectID string) string {
	id := projectID
	if len(id) > 8 {
		id = id[:8]
	}
	return containerPrefix + slug + "-" + id
}

// CreateProject provisions a container and writes the initial document.
// If the document write fails after the container exists, the container is
// torn down again so no orphaned container is left behind.
func (s *Store) CreateProject(ctx context.Context, slug string, data snapshot.ProjectData) (model.ContainerRef, error) {
	name := ContainerName(slug, data.Project.ID)
	ref := model.ContainerRef{RepoOwner: s.remote.Owner(), RepoName: name, DocPath: docPath}
	// The document carries its own container reference so a mirror rebuilt
	// from documents alone still knows where each one lives.
	data.Project.Container = ref

	if err := s.remote.CreateContainer(ctx, name, fmt.Sprintf("Project store for %s", data.Project.Name)); err != nil {
		return model.ContainerRef{}, fmt.Errorf("failed to create container %s: %w", name, err)
	}

	payload, err := marshalDoc(data)
	if err != nil {
		return model.ContainerRef{}, err
	}

	sha, err := s.remote.CreateDoc(ctx, name, docPath, payload, "Initialize project document")
	if err != nil {
		s.logger.Error().Err(err).Str("container", name).
			Msg("document write failed after container creation, tearing container down")
		if delErr := s.remote.DeleteContainer(ctx, name); delErr != nil {
			s.logger.Error().Err(delErr).Str("container", name).
				Msg("container teardown failed, container is orphaned")
		}
		s.metrics.RecordWrite("error")
		return model.ContainerRef{}, fmt.Errorf("failed to write initial document: %w", err)
	}

	s.cache.Put(name, Document{Data: data, SHA: sha})
	s.metrics.RecordWrite("ok")
	s.logger.Info().Str("container", name).Str("project_id", data.Project.ID).Msg("project container created")
	return ref, nil
}

// Get returns the project document, possibly served from a short-lived
// cache. Absent containers or documents return (nil, nil).
func (s *Store) Get(ctx context.Context, container string) (*Document, error) {
	if doc, ok := s.cache.Get(container); ok {
		return &doc, nil
	}
	return s.read(ctx, container)
}

// GetFresh bypasses the cache. Use it before any write: the SHA in a cached
// document may already be stale.
func (s *Store) GetFresh(ctx context.Context, container string) (*Document, error) {
	return s.read(ctx, container)
}

func (s *Store) read(ctx context.Context, container string) (*Document, error) {
	raw, sha, found, err := s.remote.ReadDoc(ctx, container, docPath)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	var data snapshot.ProjectData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode document in %s: %w", container, err)
	}

	doc := Document{Data: data, SHA: sha}
	s.cache.Put(container, doc)
	return &doc, nil
}

// Update replaces the whole document. The sha must come from the read that
// produced data; a stale sha yields ErrConflict and the caller must re-read.
// Each successful write bumps the document's Version; the counter is
// diagnostic, the write precondition stays the blob SHA.
func (s *Store) Update(ctx context.Context, container string, data snapshot.ProjectData, sha string) (*Document, error) {
	data.Version++
	payload, err := marshalDoc(data)
	if err != nil {
		return nil, err
	}

	newSHA, err := s.remote.UpdateDoc(ctx, container, docPath, payload, sha, "Update project document")
	if err != nil {
		s.cache.Delete(container)
		if perrors.Is(err, perrors.ErrConflict) {
			s.metrics.RecordConflict()
			s.metrics.RecordWrite("conflict")
			s.logger.Warn().Str("container", container).Msg("concurrent write detected, precondition failed")
		} else {
			s.metrics.RecordWrite("error")
		}
		return nil, err
	}

	doc := Document{Data: data, SHA: newSHA}
	s.cache.Put(container, doc)
	s.metrics.RecordWrite("ok")
	return &doc, nil
}

// Apply runs a read-mutate-write cycle, retrying with a fresh read when a
// concurrent writer wins the race. Mutations must be pure so a retried
// mutate sees only the freshly read state.
func (s *Store) Apply(ctx context.Context, container string, mutate func(snapshot.ProjectData) (snapshot.ProjectData, error)) (*Document, error) {
	var lastErr error
	for attempt := 1; attempt <= applyAttempts; attempt++ {
		doc, err := s.GetFresh(ctx, container)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, fmt.Errorf("container %s: %w", container, perrors.ErrNotFound)
		}

		next, err := mutate(doc.Data)
		if err != nil {
			return nil, err
		}

		updated, err := s.Update(ctx, container, next, doc.SHA)
		if err == nil {
			return updated, nil
		}
		if !perrors.Is(err, perrors.ErrConflict) {
			return nil, err
		}
		lastErr = err
		s.logger.Debug().Str("container", container).Int("attempt", attempt).Msg("retrying after write conflict")
	}
	return nil, fmt.Errorf("gave up after %d conflicted writes: %w", applyAttempts, lastErr)
}

// List returns every readable project document under our prefix. Containers
// whose document is missing or unreadable are skipped with a warning; one
// bad container must not hide the rest.
func (s *Store) List(ctx context.Context) ([]ListedProject, error) {
	names, err := s.remote.ListContainers(ctx, containerPrefix)
	if err != nil {
		return nil, err
	}

	projects := make([]ListedProject, 0, len(names))
	for _, name := range names {
		doc, err := s.Get(ctx, name)
		if err != nil {
			s.logger.Warn().Err(err).Str("container", name).Msg("skipping unreadable container")
			continue
		}
		if doc == nil {
			s.logger.Warn().Str("container", name).Msg("skipping container with no document")
			continue
		}
		projects = append(projects, ListedProject{Container: name, Doc: *doc})
	}
	return projects, nil
}

// Delete removes a project's container after its document is gone from the
// application's point of view.
func (s *Store) Delete(ctx context.Context, container string) error {
	if !strings.HasPrefix(container, containerPrefix) {
		return fmt.Errorf("refusing to delete container outside our namespace: %s", container)
	}
	if err := s.remote.DeleteContainer(ctx, container); err != nil {
		return err
	}
	s.cache.Delete(container)
	return nil
}

// Share grants a collaborator write access to the container.
func (s *Store) Share(ctx context.Context, container, user string) error {
	return s.remote.AddCollaborator(ctx, container, user)
}

// HasAccess reports whether user is a collaborator on the container.
func (s *Store) HasAccess(ctx context.Context, container, user string) (bool, error) {
	return s.remote.IsCollaborator(ctx, container, user)
}

// ShareableLink returns a browser URL for the container.
func (s *Store) ShareableLink(container string) string {
	return s.remote.ContainerURL(container)
}

func marshalDoc(data snapshot.ProjectData) ([]byte, error) {
	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return append(payload, '\n'), nil
}
