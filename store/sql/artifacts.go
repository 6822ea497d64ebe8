package sql

import (
	"context"
	stdsql "database/sql"
	"errors"
	"time"

	"github.com/nexuscluster/nexus/apperr"
	"github.com/nexuscluster/nexus/job"
)

// GetArtifact returns the bytes stored under id.
func (s *Store) GetArtifact(ctx context.Context, id string) ([]byte, error) {
	var m artifactModel
	err := s.idb.NewSelect().Model(&m).Column("data").Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "artifact not found: "+id)
		}
		return nil, apperr.Wrap(apperr.Store, "failed to retrieve artifact", err)
	}
	return m.Data, nil
}

// IsArtifactInUse reports whether any queued job still references id,
// per spec invariant 6: an artifact referenced by a queued job is
// never deleted.
func (s *Store) IsArtifactInUse(ctx context.Context, id string) (bool, error) {
	count, err := s.idb.NewSelect().
		Model((*jobModel)(nil)).
		Where("artifact_id = ?", id).
		Where("status = ?", job.Queued.String()).
		Count(ctx)
	if err != nil {
		return false, apperr.Wrap(apperr.Store, "failed to check artifact usage", err)
	}
	return count > 0, nil
}

// DeleteArtifact removes the artifact row for id.
func (s *Store) DeleteArtifact(ctx context.Context, id string) error {
	_, err := s.idb.NewDelete().Model((*artifactModel)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Store, "failed to delete artifact", err)
	}
	return nil
}

// ListOrphanedArtifacts returns the ids of stored artifacts that no
// queued job references, the set the periodic GC sweep deletes as a
// defense-in-depth backstop for artifacts orphaned by a job moving
// queued -> running rather than being deleted.
func (s *Store) ListOrphanedArtifacts(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.idb.NewSelect().
		Model((*artifactModel)(nil)).
		Column("id").
		Where("id NOT IN (?)", s.idb.NewSelect().
			Model((*jobModel)(nil)).
			Column("artifact_id").
			Where("status = ?", job.Queued.String()).
			Where("artifact_id != ?", ""),
		).
		Scan(ctx, &ids)
	if err != nil {
		return nil, apperr.Wrap(apperr.Store, "failed to list orphaned artifacts", err)
	}
	return ids, nil
}

// DeleteQueuedJob removes a job that is still Queued, and — within the
// same call — deletes its artifact if no other queued job references
// it, mirroring the original core/db.py delete_queued_job sequence.
func (s *Store) DeleteQueuedJob(ctx context.Context, id string) error {
	j, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if j.Status != job.Queued {
		return apperr.New(apperr.InvalidState, "cannot delete job "+id+" with status "+j.Status.String())
	}
	res, err := s.idb.NewDelete().Model((*jobModel)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Store, "failed to delete job", err)
	}
	if !isAffected(res) {
		return apperr.New(apperr.NotFound, "job not found: "+id)
	}
	if j.ArtifactID == "" {
		return nil
	}
	inUse, err := s.IsArtifactInUse(ctx, j.ArtifactID)
	if err != nil {
		return err
	}
	if !inUse {
		return s.DeleteArtifact(ctx, j.ArtifactID)
	}
	return nil
}

// CleanTerminalJobs deletes completed/failed/killed jobs whose
// CompletedAt is at or before before (a zero before disables the time
// filter), supplementing the transactional cleanup path with a
// periodic backstop sweep.
func (s *Store) CleanTerminalJobs(ctx context.Context, before time.Time) (int64, error) {
	q := s.idb.NewDelete().
		Model((*jobModel)(nil)).
		Where("status IN (?, ?, ?)", job.Completed.String(), job.Failed.String(), job.Killed.String())
	if !before.IsZero() {
		q = q.Where("completed_at <= ?", before)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return 0, apperr.Wrap(apperr.Store, "failed to clean terminal jobs", err)
	}
	return getAffected(res), nil
}
