package mirror

import (
	"fmt"

	"github.com/crewdeck/crewdeck/internal/snapshot"
)

// ImportSnapshot writes one project's entire remote document into the
// mirror. Existing rows for the project are replaced so the mirror ends up
// identical to the document; the remote store stays the system of record.
func (s *Store) ImportSnapshot(d snapshot.ProjectData) error {
	existing, err := s.GetProject(d.Project.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		if err := s.DeleteProject(d.Project.ID); err != nil {
			return fmt.Errorf("failed to clear stale mirror rows: %w", err)
		}
	}

	p := d.Project
	if err := s.PutProject(&p); err != nil {
		return err
	}
	for i := range d.Members {
		m := d.Members[i]
		if err := s.UpsertMember(&m); err != nil {
			return err
		}
	}
	for i := range d.Tasks {
		t := d.Tasks[i]
		if err := s.PutTask(&t); err != nil {
			return err
		}
	}
	for i := range d.Comments {
		c := d.Comments[i]
		if err := s.PutComment(p.ID, &c); err != nil {
			return err
		}
	}
	for i := range d.Activities {
		a := d.Activities[i]
		if err := s.AddActivity(&a); err != nil {
			return err
		}
	}
	return nil
}

// Rebuild replaces the whole mirror with the given remote snapshots. A
// snapshot that fails to import aborts the rebuild; the caller decides
// whether a half-built mirror is acceptable.
func (s *Store) Rebuild(snapshots []snapshot.ProjectData) error {
	projects, err := s.ListProjects("")
	if err != nil {
		return err
	}
	for _, p := range projects {
		if err := s.DeleteProject(p.ID); err != nil {
			return fmt.Errorf("failed to clear project %s: %w", p.ID, err)
		}
	}
	for _, d := range snapshots {
		if err := s.ImportSnapshot(d); err != nil {
			return fmt.Errorf("failed to import project %s: %w", d.Project.ID, err)
		}
	}
	s.logger.Info().Int("projects", len(snapshots)).Msg("mirror rebuilt from remote snapshots")
	return nil
}
