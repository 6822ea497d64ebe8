// Package tracker discovers an external experiment-tracking run URL
// for a job, so the API and notifications can surface a wandb link
// once the job's training process registers one. It generalizes
// integrations/wandb_finder.py's find_wandb_run_by_nexus_id: find a
// run id written into the job's workspace by the wandb client, then
// confirm it exists under the entity and project named by the job's
// WANDB_ENTITY and WANDB_PROJECT. Without WANDB_PROJECT no URL is
// reported; other projects of the entity are not searched.
package tracker

import (
	"context"
	"time"

	"github.com/nexuscluster/nexus/job"
)

// LookupTimeout bounds every tracker query, per spec §6 ("tracker
// lookups have a 2 s API timeout").
const LookupTimeout = 2 * time.Second

// Hook discovers a tracking URL for j. It returns an empty string,
// nil when no run has registered yet — that is not an error.
type Hook interface {
	FindURL(ctx context.Context, j *job.Job) (string, error)
}
