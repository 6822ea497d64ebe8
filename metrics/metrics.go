// Package metrics exposes Prometheus gauges for queue depth, running
// job count, and per-node GPU availability — the supplemental
// observability surface SPEC_FULL.md §4.F adds beyond the distilled
// spec's endpoint list, since nothing in the spec's Non-goals excludes
// it.
package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nexuscluster/nexus/gpuinfo"
	"github.com/nexuscluster/nexus/job"
	"github.com/nexuscluster/nexus/store"
)

// Collector refreshes and exposes the daemon's gauges on demand,
// rather than on a timer, since scraping is already pull-based.
type Collector struct {
	Store store.Store
	GPUs  gpuinfo.Source
	Node  string

	queueDepth   prometheus.Gauge
	runningJobs  *prometheus.GaugeVec
	gpuAvailable *prometheus.GaugeVec
}

// NewCollector registers the daemon's gauges against reg.
func NewCollector(reg prometheus.Registerer, s store.Store, gpus gpuinfo.Source, node string) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		Store: s,
		GPUs:  gpus,
		Node:  node,
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "nexus",
			Name:      "queue_depth",
			Help:      "Number of jobs currently queued cluster-wide.",
		}),
		runningJobs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nexus",
			Name:      "running_jobs",
			Help:      "Number of jobs currently running, by node.",
		}, []string{"node"}),
		gpuAvailable: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nexus",
			Name:      "gpu_available",
			Help:      "Whether a local GPU index is available for scheduling (1) or not (0).",
		}, []string{"node", "gpu_idx"}),
	}
}

// Refresh recomputes every gauge from the current store and GPU
// inventory state. It is called on every scrape via an instrumented
// http.Handler wrapper, so it never drifts from what the API reports.
func (c *Collector) Refresh(ctx context.Context) error {
	queued, err := c.Store.ListJobs(ctx, store.ListFilter{Status: job.Queued})
	if err != nil {
		return err
	}
	c.queueDepth.Set(float64(len(queued)))

	running, err := c.Store.ListJobs(ctx, store.ListFilter{Status: job.Running})
	if err != nil {
		return err
	}
	localRunning := 0
	var runningHere []gpuinfo.RunningJob
	for _, j := range running {
		if j.Node != c.Node {
			continue
		}
		localRunning++
		for _, idx := range j.GPUIdxsAssigned {
			runningHere = append(runningHere, gpuinfo.RunningJob{GPUIdx: idx, JobID: j.ID})
		}
	}
	c.runningJobs.WithLabelValues(c.Node).Set(float64(localRunning))

	blacklist, err := c.Store.ListBlacklist(ctx, c.Node)
	if err != nil {
		return err
	}
	gpus, err := c.GPUs.List(ctx, runningHere, blacklist)
	if err != nil {
		return err
	}
	for _, g := range gpus {
		val := 0.0
		if gpuinfo.Available(g) {
			val = 1.0
		}
		c.gpuAvailable.WithLabelValues(c.Node, strconv.Itoa(g.Index)).Set(val)
	}
	return nil
}
