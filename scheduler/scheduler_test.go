package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nexuscluster/nexus/gpuinfo"
	"github.com/nexuscluster/nexus/job"
)

func TestSortQueueOrdersByPriorityThenCreatedAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &job.Job{ID: "a", Priority: 1, CreatedAt: now}
	b := &job.Job{ID: "b", Priority: 5, CreatedAt: now.Add(time.Minute)}
	c := &job.Job{ID: "c", Priority: 5, CreatedAt: now}

	jobs := []*job.Job{a, b, c}
	SortQueue(jobs)

	assert.Equal(t, []string{"c", "b", "a"}, []string{jobs[0].ID, jobs[1].ID, jobs[2].ID})
}

func TestSelectGPUsHonorsExplicitIndices(t *testing.T) {
	gpus := []gpuinfo.Info{
		{Index: 0},
		{Index: 1, IsBlacklisted: true},
	}
	j := &job.Job{GPUIdxs: []int{0}}

	chosen, ok := selectGPUs(gpus, j)

	assert.True(t, ok)
	assert.Equal(t, []int{0}, chosen)
}

func TestSelectGPUsRejectsExplicitBlacklistedIndex(t *testing.T) {
	gpus := []gpuinfo.Info{{Index: 1, IsBlacklisted: true}}
	j := &job.Job{GPUIdxs: []int{1}}

	_, ok := selectGPUs(gpus, j)

	assert.False(t, ok)
}

func TestSelectGPUsIgnoreBlacklistClearsFlag(t *testing.T) {
	gpus := []gpuinfo.Info{{Index: 1, IsBlacklisted: true}}
	j := &job.Job{GPUIdxs: []int{1}, IgnoreBlacklist: true}

	chosen, ok := selectGPUs(gpus, j)

	assert.True(t, ok)
	assert.Equal(t, []int{1}, chosen)
}

func TestSelectGPUsByCountPicksLowestIndices(t *testing.T) {
	gpus := []gpuinfo.Info{
		{Index: 3},
		{Index: 0},
		{Index: 2},
		{Index: 1, RunningJobID: "other"},
	}
	j := &job.Job{NumGPUs: 2}

	chosen, ok := selectGPUs(gpus, j)

	assert.True(t, ok)
	assert.Equal(t, []int{0, 2}, chosen)
}

func TestSelectGPUsFailsWhenNotEnoughAvailable(t *testing.T) {
	gpus := []gpuinfo.Info{{Index: 0}}
	j := &job.Job{NumGPUs: 2}

	_, ok := selectGPUs(gpus, j)

	assert.False(t, ok)
}
