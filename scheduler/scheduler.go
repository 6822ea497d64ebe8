// Package scheduler runs the three-phase tick loop that reaps
// finished jobs, refreshes tracker URLs, and claims-and-starts the
// next queued job, one node at a time. It generalizes gqs's Worker
// pull/handle loop (internal.TimerTask driving a periodic action)
// from a generic message queue onto the job lifecycle described in
// spec §4.E, grounded on core/scheduler.py's update loop.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/nexuscluster/nexus/gpuinfo"
	"github.com/nexuscluster/nexus/internal"
	"github.com/nexuscluster/nexus/job"
	"github.com/nexuscluster/nexus/notify"
	"github.com/nexuscluster/nexus/runner"
	"github.com/nexuscluster/nexus/store"
	"github.com/nexuscluster/nexus/tracker"
)

// wandbFreshWindow bounds how long a running job is still eligible for
// tracker URL discovery, per spec §4.E phase 2 ("younger than 720 s").
const wandbFreshWindow = 720 * time.Second

// notifyPoolConcurrency/notifyPoolQueue size the background dispatcher
// that fires Notifier.Notify off the tick's transaction, so a slow
// webhook never holds a Store transaction open; grounded on gqs's
// Worker, whose pull/handle loop this generalizes from a message
// queue onto scheduler-internal notification fan-out.
const (
	notifyPoolConcurrency = 4
	notifyPoolQueue       = 64
)

// notifyJob is one unit of work for the notification dispatcher: a
// point-in-time snapshot of the job plus the action that triggered it.
type notifyJob struct {
	job    *job.Job
	action notify.Action
}

// Scheduler owns the per-node tick loop.
type Scheduler struct {
	internal.Lifecycle

	Store    store.Store
	Runner   *runner.Runner
	GPUs     gpuinfo.Source
	Notifier notify.Hook
	Tracker  tracker.Hook
	Node     string
	Interval time.Duration
	MockGPUs bool
	Log      *slog.Logger

	task       internal.TimerTask
	notifyPool *internal.WorkerPool[notifyJob]
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// Start begins the tick loop; Start returns internal.ErrDoubleStarted
// if already running.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.TryStart(); err != nil {
		return err
	}
	s.notifyPool = internal.NewWorkerPool[notifyJob](notifyPoolConcurrency, notifyPoolQueue, s.logger())
	s.notifyPool.Start(ctx, s.dispatchNotify)
	s.task.Start(ctx, s.tick, s.Interval)
	return nil
}

// Stop gracefully ends the tick loop and the notification dispatcher,
// waiting up to timeout for both to drain.
func (s *Scheduler) Stop(timeout time.Duration) error {
	return s.TryStop(timeout, func() internal.DoneChan {
		return internal.Combine(s.task.Stop(), s.notifyPool.Stop())
	})
}

// dispatchNotify runs on a notifyPool worker goroutine, off the tick's
// transaction; Notifier.Notify is fire-and-log by contract, so a
// failure here only gets logged.
func (s *Scheduler) dispatchNotify(ctx context.Context, n notifyJob) {
	if _, err := s.Notifier.Notify(ctx, n.job, n.action); err != nil {
		s.logger().Warn("notification failed", "job", n.job.ID, "action", n.action, "err", err)
	}
}

// enqueueNotify hands j off to the background dispatcher; j is cloned
// so later mutation by the caller's loop can't race the worker. A
// full queue drops the notification rather than blocking the tick.
func (s *Scheduler) enqueueNotify(j *job.Job, action notify.Action) {
	if s.Notifier == nil {
		return
	}
	if !s.notifyPool.Push(notifyJob{job: j.Clone(), action: action}) {
		s.logger().Warn("notification queue full, dropping notification", "job", j.ID, "action", action)
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if err := s.reapRunningJobs(ctx); err != nil {
		s.logger().Error("reap phase failed", "err", err)
	}
	if err := s.refreshTrackerURLs(ctx); err != nil {
		s.logger().Error("tracker refresh phase failed", "err", err)
	}
	if err := s.startNextQueuedJob(ctx); err != nil {
		s.logger().Error("start phase failed", "err", err)
	}
}

// reapRunningJobs is tick phase 1: advance every job this node owns
// that is no longer alive, or that has been marked for termination.
func (s *Scheduler) reapRunningJobs(ctx context.Context) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		running, err := tx.ListJobs(ctx, store.ListFilter{Status: job.Running})
		if err != nil {
			return err
		}
		for _, j := range running {
			if j.Node != s.Node {
				continue
			}
			alive, err := s.Runner.IsAlive(ctx, j)
			if err != nil {
				s.logger().Warn("is_alive check failed", "job", j.ID, "err", err)
				continue
			}

			var reaped *job.Job
			switch {
			case j.MarkedForKill && alive:
				s.Runner.Kill(ctx, j)
				reaped = s.Runner.Reap(j, true)
			case !alive:
				reaped = s.Runner.Reap(j, false)
			default:
				continue
			}

			if err := tx.UpdateJob(ctx, reaped); err != nil {
				return err
			}
			s.enqueueNotify(reaped, notify.Action(reaped.Status.String()))
			s.Runner.CleanupWorkspace(reaped)
		}
		return nil
	})
}

// refreshTrackerURLs is tick phase 2: discover wandb run URLs for
// jobs that requested the integration and don't have one yet.
func (s *Scheduler) refreshTrackerURLs(ctx context.Context) error {
	if s.Tracker == nil {
		return nil
	}
	return s.Store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		running, err := tx.ListJobs(ctx, store.ListFilter{Status: job.Running})
		if err != nil {
			return err
		}
		now := time.Now()
		for _, j := range running {
			if j.Node != s.Node {
				continue
			}
			if j.WandbURL != "" || !j.HasIntegration("wandb") {
				continue
			}
			if j.StartedAt == nil || now.Sub(*j.StartedAt) >= wandbFreshWindow {
				continue
			}
			url, err := s.Tracker.FindURL(ctx, j)
			if err != nil || url == "" {
				continue
			}
			j.WandbURL = url
			if err := tx.UpdateJob(ctx, j); err != nil {
				return err
			}
			s.enqueueNotify(j, notify.ActionTrackerFound)
		}
		return nil
	})
}

// startNextQueuedJob is tick phase 3: claim and launch the
// highest-priority queued job this node can satisfy locally.
func (s *Scheduler) startNextQueuedJob(ctx context.Context) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		queued, err := tx.ListJobs(ctx, store.ListFilter{Status: job.Queued})
		if err != nil {
			return err
		}
		if len(queued) == 0 {
			return nil
		}
		SortQueue(queued)

		running, err := tx.ListJobs(ctx, store.ListFilter{Status: job.Running})
		if err != nil {
			return err
		}
		var runningHere []gpuinfo.RunningJob
		for _, j := range running {
			if j.Node == s.Node {
				for _, idx := range j.GPUIdxsAssigned {
					runningHere = append(runningHere, gpuinfo.RunningJob{GPUIdx: idx, JobID: j.ID})
				}
			}
		}
		blacklist, err := tx.ListBlacklist(ctx, s.Node)
		if err != nil {
			return err
		}

		for _, j := range queued {
			gpus, err := s.GPUs.List(ctx, runningHere, blacklist)
			if err != nil {
				return err
			}
			chosen, ok := selectGPUs(gpus, j)
			if !ok {
				continue
			}

			claimed, err := tx.Claim(ctx, j.ID, s.Node)
			if err != nil {
				return err
			}
			if !claimed {
				// Another node won the race; the tick stops here per
				// spec §4.E step 3.
				return nil
			}

			started := s.Runner.Start(ctx, j, chosen)
			started.Node = s.Node
			if err := tx.UpdateJob(ctx, started); err != nil {
				return err
			}
			if started.Status == job.Running {
				s.enqueueNotify(started, notify.ActionStarted)
			}
			return nil
		}
		return nil
	})
}

// selectGPUs picks the GPU indices j should run on, honoring
// ignore_blacklist and an explicit gpu_idxs request, per spec §4.E
// step 1-2.
func selectGPUs(gpus []gpuinfo.Info, j *job.Job) ([]int, bool) {
	available := make(map[int]gpuinfo.Info)
	for _, g := range gpus {
		if j.IgnoreBlacklist {
			g.IsBlacklisted = false
		}
		if gpuinfo.Available(g) {
			available[g.Index] = g
		}
	}

	if len(j.GPUIdxs) > 0 {
		for _, idx := range j.GPUIdxs {
			if _, ok := available[idx]; !ok {
				return nil, false
			}
		}
		return append([]int(nil), j.GPUIdxs...), true
	}

	if j.NumGPUs > len(available) {
		return nil, false
	}
	var idxs []int
	for idx := range available {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)
	return idxs[:j.NumGPUs], true
}

// SortQueue orders queued jobs by priority descending, ties by
// created_at ascending, mirroring core/job.py's get_queue.
func SortQueue(jobs []*job.Job) {
	sort.SliceStable(jobs, func(i, k int) bool {
		if jobs[i].Priority != jobs[k].Priority {
			return jobs[i].Priority > jobs[k].Priority
		}
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})
}
