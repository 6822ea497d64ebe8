// Package sql provides a bun-based SQL storage implementation of the
// store package's interfaces.
//
// It generalizes gqs/sql (which implements Pusher/Puller/Observer/
// Cleaner over a single jobs table with bun) to the richer nexus job
// schema: three tables (jobs, blacklisted_gpus, artifacts), an atomic
// claim primitive instead of a visibility-timeout lease, and
// transactional multi-statement operations (delete-queued-job-then-
// maybe-delete-artifact).
//
// # Concurrency
//
// Claim is implemented as a single UPDATE ... WHERE node IS NULL AND
// status = 'queued' statement; RowsAffected distinguishes a won race
// from a lost one without a separate SELECT, the same pattern
// gqs/sql.Puller.Pull uses for its Pending -> Processing transition.
//
// # Dialects
//
// The package is dialect-agnostic: callers construct the *bun.DB with
// sqlitedialect (embedded, used by every test in this package,
// mirroring gqs/sql's own test harness) or pgdialect (the realistic
// backend for a replicated multi-node deployment) and pass it to New.
//
// # Schema
//
// InitSchema creates all three tables and the indexes Claim, the
// queue-ordering list, and the per-node running lookup depend on. It
// is idempotent and safe to call on every daemon startup.
package sql
