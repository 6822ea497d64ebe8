// Package store defines the storage contract for the scheduler: the
// jobs, artifacts and per-node GPU blacklist tables, and the
// transactional operations over them.
//
// The package does not mandate a particular SQL dialect. store/sql
// implements these interfaces with github.com/uptrace/bun over SQLite
// (embedded/dev) or PostgreSQL (the realistic replicated backend for a
// multi-node fleet).
//
// Mirroring gqs's Pusher/Puller/Observer/Cleaner split, storage access
// here is partitioned into four narrow interfaces by who calls them:
// Submitter (the API's job/artifact creation path), Claimer (the
// scheduler's atomic claim and the runner's state-transition writes),
// Observer (every read-only path: list/get/status), and Cleaner
// (deletion of queued jobs, orphaned artifacts and blacklist entries).
package store

import (
	"context"
	"time"

	"github.com/nexuscluster/nexus/job"
)

// ListFilter narrows a ListJobs call. A zero Status means no status
// filter. GPUIdx, if non-nil, restricts to jobs whose GPUIdxsAssigned
// contains that index. CommandRegex, if non-empty, is applied after
// the SQL fetch (see spec §4.A: "portability across stores is more
// valuable than pushing it down").
type ListFilter struct {
	Status       job.Status
	GPUIdx       *int
	CommandRegex string
}

// Submitter is the write-side entry point used by the request API to
// create new jobs and accept artifact uploads.
type Submitter interface {
	// AddJob inserts a new job in the Queued state. Returns a
	// *apperr.Error with Kind Validation if j.Status is already
	// terminal, or Store on a duplicate id.
	AddJob(ctx context.Context, j *job.Job) error

	// PutArtifact stores data under id. Writing an id that already
	// exists is a no-op success (idempotent on identical key, per
	// spec §4.B); the caller must not assume the stored bytes match
	// a differing payload under the same id.
	PutArtifact(ctx context.Context, id string, data []byte) error
}

// Claimer is the mutation surface used by the scheduler loop and the
// job runner: the atomic claim primitive and subsequent job-row
// writes. Only the node recorded in Job.Node may call UpdateJob after
// a successful claim.
type Claimer interface {
	// Claim performs the compare-and-set
	// (id, node IS NULL, status = 'queued') -> node = node.
	// It returns false, nil if another node (or a concurrent delete)
	// won the race — not an error.
	Claim(ctx context.Context, id string, node string) (bool, error)

	// UpdateJob persists every mutable field of j by id. Returns a
	// NotFound *apperr.Error if the row no longer exists.
	UpdateJob(ctx context.Context, j *job.Job) error
}

// Observer provides read-only access to jobs, GPUs blacklist state and
// artifact bytes. It never mutates storage.
type Observer interface {
	// GetJob returns the job identified by id, or a NotFound
	// *apperr.Error if absent.
	GetJob(ctx context.Context, id string) (*job.Job, error)

	// ListJobs returns jobs matching filter. No ordering is implied;
	// callers needing priority order should sort the result (see
	// scheduler.SortQueue).
	ListJobs(ctx context.Context, filter ListFilter) ([]*job.Job, error)

	// ListBlacklist returns the blacklisted GPU indices for node.
	ListBlacklist(ctx context.Context, node string) ([]int, error)

	// GetArtifact returns the bytes stored under id, or a NotFound
	// *apperr.Error if absent.
	GetArtifact(ctx context.Context, id string) ([]byte, error)
}

// Cleaner removes rows that are no longer needed: a queued job deleted
// by its submitter, an artifact no longer referenced by any queued
// job, and idempotent blacklist toggles.
type Cleaner interface {
	// DeleteQueuedJob removes a job, returning an InvalidState
	// *apperr.Error if its status is not Queued.
	DeleteQueuedJob(ctx context.Context, id string) error

	// IsArtifactInUse reports whether any queued job still
	// references id.
	IsArtifactInUse(ctx context.Context, id string) (bool, error)

	// DeleteArtifact removes the artifact row for id. It is the
	// caller's responsibility to have confirmed IsArtifactInUse is
	// false inside the same transaction (see spec invariant 6).
	DeleteArtifact(ctx context.Context, id string) error

	// ListOrphanedArtifacts returns the ids of every stored artifact no
	// longer referenced by any queued job. It backstops the inline
	// cleanup DeleteQueuedJob already performs, for artifacts orphaned
	// by a job transitioning queued -> running rather than being
	// deleted outright.
	ListOrphanedArtifacts(ctx context.Context) ([]string, error)

	// AddBlacklist adds gpuIdx to node's blacklist, reporting changed
	// = true iff the row did not already exist.
	AddBlacklist(ctx context.Context, node string, gpuIdx int) (changed bool, err error)

	// RemoveBlacklist removes gpuIdx from node's blacklist, reporting
	// changed = true iff a row was deleted.
	RemoveBlacklist(ctx context.Context, node string, gpuIdx int) (changed bool, err error)

	// CleanTerminalJobs deletes terminal jobs (completed, failed,
	// killed) whose CompletedAt is at or before before, for periodic
	// GC. A zero before disables the time filter.
	CleanTerminalJobs(ctx context.Context, before time.Time) (int64, error)
}

// Store aggregates every facet for callers (such as cmd/nexusd) that
// need the full surface; individual components should depend on the
// narrowest interface they actually use.
type Store interface {
	Submitter
	Claimer
	Observer
	Cleaner

	// WithTx runs fn inside a single transaction, committing on
	// return and rolling back on any error, generalizing the
	// decorator-based transaction management the spec's REDESIGN
	// FLAGS replace with an explicit transactional scope.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
