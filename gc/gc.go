// Package gc runs the periodic artifact and terminal-job sweep that
// backstops the transactional cleanup already performed inline by
// DeleteQueuedJob: a defense-in-depth pass in case a crash or a
// direct store mutation leaves an orphaned row behind. It is
// grounded on ClusterCockpit-cc-backend's taskManager package, which
// wraps go-co-op/gocron for exactly this kind of independent periodic
// maintenance job, generalized from its walltime/archive sweeps to
// nexus's job and artifact retention.
package gc

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/nexuscluster/nexus/store"
)

// Config controls how the sweep behaves.
type Config struct {
	// Interval is how often the sweep runs.
	Interval time.Duration
	// TerminalJobTTL is how long a completed/failed/killed job row is
	// kept before the sweep deletes it. Zero disables the time filter
	// (every terminal job is eligible immediately).
	TerminalJobTTL time.Duration
}

// GC owns the gocron scheduler driving the sweep.
type GC struct {
	Store  store.Store
	Config Config
	Log    *slog.Logger

	scheduler gocron.Scheduler
}

func (g *GC) logger() *slog.Logger {
	if g.Log != nil {
		return g.Log
	}
	return slog.Default()
}

// Start registers and starts the periodic sweep job.
func (g *GC) Start() error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	g.scheduler = scheduler

	_, err = scheduler.NewJob(
		gocron.DurationJob(g.Config.Interval),
		gocron.NewTask(g.sweep),
	)
	if err != nil {
		return err
	}
	scheduler.Start()
	return nil
}

// Stop waits for the running sweep (if any) to finish and halts the
// scheduler.
func (g *GC) Stop() error {
	if g.scheduler == nil {
		return nil
	}
	return g.scheduler.Shutdown()
}

func (g *GC) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var before time.Time
	if g.Config.TerminalJobTTL > 0 {
		before = time.Now().Add(-g.Config.TerminalJobTTL)
	}

	n, err := g.Store.CleanTerminalJobs(ctx, before)
	if err != nil {
		g.logger().Error("terminal job sweep failed", "err", err)
	} else if n > 0 {
		g.logger().Info("swept terminal jobs", "count", n)
	}

	g.sweepOrphanedArtifacts(ctx)
}

// sweepOrphanedArtifacts deletes every artifact no queued job
// references anymore, catching the ones left behind when a job moves
// queued -> running rather than being deleted outright (see
// store.Cleaner.ListOrphanedArtifacts).
func (g *GC) sweepOrphanedArtifacts(ctx context.Context) {
	orphaned, err := g.Store.ListOrphanedArtifacts(ctx)
	if err != nil {
		g.logger().Error("orphaned artifact listing failed", "err", err)
		return
	}
	var swept int
	for _, id := range orphaned {
		if err := g.Store.DeleteArtifact(ctx, id); err != nil {
			g.logger().Warn("failed to delete orphaned artifact", "id", id, "err", err)
			continue
		}
		swept++
	}
	if swept > 0 {
		g.logger().Info("swept orphaned artifacts", "count", swept)
	}
}
