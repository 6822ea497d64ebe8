package gpuinfo_test

import (
	"context"
	"testing"

	"github.com/nexuscluster/nexus/gpuinfo"
)

func TestMockListsFixedDevices(t *testing.T) {
	infos, err := gpuinfo.Mock{}.List(context.Background(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 mock devices, got %d", len(infos))
	}
	if infos[0].Index != 0 || infos[1].Index != 1 {
		t.Fatalf("unexpected indices: %+v", infos)
	}
}

func TestMockReflectsRunningAndBlacklist(t *testing.T) {
	infos, err := gpuinfo.Mock{}.List(
		context.Background(),
		[]gpuinfo.RunningJob{{GPUIdx: 0, JobID: "abc123"}},
		[]int{1},
	)
	if err != nil {
		t.Fatal(err)
	}
	var gpu0, gpu1 gpuinfo.Info
	for _, g := range infos {
		switch g.Index {
		case 0:
			gpu0 = g
		case 1:
			gpu1 = g
		}
	}
	if gpu0.RunningJobID != "abc123" {
		t.Fatalf("expected gpu 0 to carry the running job id, got %q", gpu0.RunningJobID)
	}
	if !gpu1.IsBlacklisted {
		t.Fatal("expected gpu 1 to be blacklisted")
	}
	if gpuinfo.Available(gpu0) {
		t.Fatal("expected gpu 0 to be unavailable (running job)")
	}
	if gpuinfo.Available(gpu1) {
		t.Fatal("expected gpu 1 to be unavailable (blacklisted)")
	}
}

func TestRealListReportsEmptyInventoryWhenCommandMissing(t *testing.T) {
	// nvidia-smi is not installed in this environment, so Real hits
	// the whole-command-failure path on every run; it must degrade to
	// an empty inventory rather than returning an error.
	infos, err := gpuinfo.Real{}.List(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("expected a graceful empty inventory, got error: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("expected no GPUs reported, got %+v", infos)
	}
}

func TestAvailablePredicate(t *testing.T) {
	free := gpuinfo.Info{Index: 0}
	if !gpuinfo.Available(free) {
		t.Fatal("expected a clean GPU to be available")
	}
	busy := gpuinfo.Info{Index: 0, ProcessCount: 1}
	if gpuinfo.Available(busy) {
		t.Fatal("expected a GPU with an active process to be unavailable")
	}
}
