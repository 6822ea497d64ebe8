package sql

import (
	"context"
	stdsql "database/sql"
	"errors"
	"regexp"
	"time"

	"github.com/nexuscluster/nexus/apperr"
	"github.com/nexuscluster/nexus/job"
	"github.com/nexuscluster/nexus/store"
)

// AddJob inserts j in the Queued state, generalizing gqs/sql.Pusher.Push
// to a full job row. A duplicate id surfaces as a Store *apperr.Error
// (job-exists), per spec §4.A's failure semantics.
func (s *Store) AddJob(ctx context.Context, j *job.Job) error {
	if j.Status.IsTerminal() {
		return apperr.New(apperr.Validation, "cannot add job "+j.ID+" with terminal status "+j.Status.String())
	}
	if j.Status != job.Queued {
		j = j.Clone()
		j.Status = job.Queued
	}
	model := fromJob(j)
	_, err := s.idb.NewInsert().Model(model).Exec(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Store, "job already exists or insert failed", err)
	}
	return nil
}

// PutArtifact stores data under id. Writing an existing id is a no-op
// success, matching spec §4.B's "write is idempotent on identical key".
func (s *Store) PutArtifact(ctx context.Context, id string, data []byte) error {
	existing, err := s.GetArtifact(ctx, id)
	if err == nil && existing != nil {
		return nil
	}
	model := &artifactModel{
		ID:        id,
		Size:      len(data),
		Data:      data,
		CreatedAt: time.Now(),
	}
	_, err = s.idb.NewInsert().Model(model).Exec(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Store, "failed to store artifact", err)
	}
	return nil
}

// Claim performs the atomic compare-and-set described in spec §4.A:
// (id, node IS NULL, status = 'queued') -> node = node. It generalizes
// gqs/sql.Puller.Pull's UPDATE ... RETURNING pattern to a single-row,
// single-field transition, since only one job is claimed per call.
func (s *Store) Claim(ctx context.Context, id string, node string) (bool, error) {
	res, err := s.idb.NewUpdate().
		Model((*jobModel)(nil)).
		Set("node = ?", node).
		Where("id = ?", id).
		Where("node IS NULL").
		Where("status = ?", job.Queued.String()).
		Exec(ctx)
	if err != nil {
		return false, apperr.Wrap(apperr.Store, "claim failed", err)
	}
	return isAffected(res), nil
}

// UpdateJob persists every mutable field of j.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	model := fromJob(j)
	res, err := s.idb.NewUpdate().
		Model(model).
		WherePK().
		Exec(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Store, "failed to update job", err)
	}
	if !isAffected(res) {
		return apperr.New(apperr.NotFound, "job not found: "+j.ID)
	}
	return nil
}

// GetJob returns the job identified by id.
func (s *Store) GetJob(ctx context.Context, id string) (*job.Job, error) {
	var m jobModel
	err := s.idb.NewSelect().Model(&m).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "job not found: "+id)
		}
		return nil, apperr.Wrap(apperr.Store, "failed to query job", err)
	}
	return m.toJob(), nil
}

// ListJobs returns jobs matching filter. Regex filtering is applied
// after the SQL fetch, per spec §4.A's explicit portability tradeoff.
func (s *Store) ListJobs(ctx context.Context, filter store.ListFilter) ([]*job.Job, error) {
	var models []jobModel
	q := s.idb.NewSelect().Model(&models)
	if filter.Status != job.Unknown {
		q = q.Where("status = ?", filter.Status.String())
	}
	if err := q.Scan(ctx); err != nil {
		return nil, apperr.Wrap(apperr.Store, "failed to list jobs", err)
	}

	var pattern *regexp.Regexp
	if filter.CommandRegex != "" {
		re, err := regexp.Compile(filter.CommandRegex)
		if err != nil {
			return nil, apperr.Wrap(apperr.Validation, "invalid command_regex", err)
		}
		pattern = re
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j := models[i].toJob()
		if pattern != nil && !pattern.MatchString(j.Command) {
			continue
		}
		if filter.GPUIdx != nil && !containsInt(j.GPUIdxsAssigned, *filter.GPUIdx) {
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
