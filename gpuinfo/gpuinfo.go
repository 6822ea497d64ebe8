// Package gpuinfo reports the GPU inventory of the local node: index,
// name, memory, and whether a CUDA process currently occupies it.
//
// Two Sources exist: Mock, a fixed two-device table for development
// and tests, and Real, which shells out to nvidia-smi. Both are
// grounded on integrations/gpu.py's get_gpus, generalized from a
// free function keyed on a mock_gpus bool into two Source
// implementations selected once at daemon startup.
package gpuinfo

import (
	"context"
)

// Info describes one GPU as observed at a point in time.
type Info struct {
	Index          int
	Name           string
	MemoryTotalMiB int
	MemoryUsedMiB  int
	ProcessCount   int
	IsBlacklisted  bool
	RunningJobID   string // empty if no job currently occupies this GPU
}

// Available reports whether gpu can be assigned to a new job: not
// blacklisted, not already running a job, and with no CUDA process
// using it, mirroring integrations/gpu.py's is_gpu_available exactly.
func Available(gpu Info) bool {
	return !gpu.IsBlacklisted && gpu.RunningJobID == "" && gpu.ProcessCount == 0
}

// RunningJob maps a GPU index to the id of the job currently assigned
// to it, used by Source implementations to populate Info.RunningJobID
// and by the scheduler to decide which indices are free.
type RunningJob struct {
	GPUIdx int
	JobID  string
}

// Source enumerates the GPUs visible on the local node.
type Source interface {
	// List returns the current GPU inventory. running identifies
	// jobs presently occupying a GPU index; blacklisted lists
	// indices excluded from scheduling on this node.
	List(ctx context.Context, running []RunningJob, blacklisted []int) ([]Info, error)
}

func indexRunning(running []RunningJob) map[int]string {
	m := make(map[int]string, len(running))
	for _, r := range running {
		m[r.GPUIdx] = r.JobID
	}
	return m
}

func indexBlacklist(blacklisted []int) map[int]bool {
	m := make(map[int]bool, len(blacklisted))
	for _, idx := range blacklisted {
		m[idx] = true
	}
	return m
}
