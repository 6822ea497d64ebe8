package gpuinfo

import "context"

type mockDevice struct {
	index          int
	name           string
	memoryTotalMiB int
}

// mockDevices mirrors integrations/gpu.py's _get_mock_gpus table
// exactly: two fixed devices, used whenever the daemon runs with
// mock_gpus enabled (development, tests, GPU-less CI).
var mockDevices = []mockDevice{
	{index: 0, name: "Mock GPU 0", memoryTotalMiB: 8192},
	{index: 1, name: "Mock GPU 1", memoryTotalMiB: 16384},
}

// Mock is a Source that reports a fixed two-device inventory without
// touching the host's GPU driver.
type Mock struct{}

func (Mock) List(_ context.Context, running []RunningJob, blacklisted []int) ([]Info, error) {
	runningByIdx := indexRunning(running)
	blacklistedSet := indexBlacklist(blacklisted)

	infos := make([]Info, 0, len(mockDevices))
	for _, d := range mockDevices {
		infos = append(infos, Info{
			Index:          d.index,
			Name:           d.name,
			MemoryTotalMiB: d.memoryTotalMiB,
			MemoryUsedMiB:  0,
			ProcessCount:   0,
			IsBlacklisted:  blacklistedSet[d.index],
			RunningJobID:   runningByIdx[d.index],
		})
	}
	return infos, nil
}
