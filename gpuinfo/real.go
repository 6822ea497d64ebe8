package gpuinfo

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// commandTimeout bounds every nvidia-smi invocation, matching
// integrations/gpu.py's _run_command default of 5 seconds.
const commandTimeout = 5 * time.Second

// Real is a Source backed by the nvidia-smi CLI, grounded on
// integrations/gpu.py's get_gpus/_fetch_gpu_processes/_parse_gpu_line.
type Real struct {
	Log *slog.Logger
}

func (r Real) logger() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

// List reports the local GPU inventory by shelling out to nvidia-smi.
// A whole-command failure (nvidia-smi missing, no driver, timeout) is
// not surfaced as an error: it is logged and treated as an empty
// inventory, so the scheduler simply finds nothing available and the
// API reports an empty list, rather than a node outage cascading into
// every caller of List.
func (r Real) List(ctx context.Context, running []RunningJob, blacklisted []int) ([]Info, error) {
	log := r.logger()

	output, err := runCommand(ctx, commandTimeout,
		"nvidia-smi", "--query-gpu=index,name,memory.total,memory.used", "--format=csv,noheader,nounits")
	if err != nil {
		log.Warn("nvidia-smi query failed, reporting empty inventory", "err", err)
		return nil, nil
	}
	if strings.TrimSpace(output) == "" {
		log.Warn("nvidia-smi returned no output, reporting empty inventory")
		return nil, nil
	}

	processCounts := fetchProcessCounts(ctx, log)

	runningByIdx := indexRunning(running)
	blacklistedSet := indexBlacklist(blacklisted)

	var infos []Info
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		info, err := parseGPULine(line, processCounts, blacklistedSet, runningByIdx)
		if err != nil {
			log.Debug("skipping unparsable nvidia-smi line", "line", line, "err", err)
			continue
		}
		infos = append(infos, info)
	}
	if len(infos) == 0 {
		log.Warn("no GPUs detected on the system")
	}
	return infos, nil
}

func parseGPULine(line string, processCounts map[int]int, blacklisted map[int]bool, running map[int]string) (Info, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 4 {
		return Info{}, fmt.Errorf("expected 4 comma-separated fields, got %d", len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	index, err := strconv.Atoi(fields[0])
	if err != nil {
		return Info{}, fmt.Errorf("bad index %q: %w", fields[0], err)
	}
	total, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return Info{}, fmt.Errorf("bad memory.total %q: %w", fields[2], err)
	}
	used, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return Info{}, fmt.Errorf("bad memory.used %q: %w", fields[3], err)
	}
	return Info{
		Index:          index,
		Name:           fields[1],
		MemoryTotalMiB: int(total),
		MemoryUsedMiB:  int(used),
		ProcessCount:   processCounts[index],
		IsBlacklisted:  blacklisted[index],
		RunningJobID:   running[index],
	}, nil
}

// fetchProcessCounts runs nvidia-smi pmon and tallies active compute
// processes per GPU index, mirroring _fetch_gpu_processes: the first
// two header lines are skipped, and a process column of "-" means no
// process. A pmon failure degrades to an empty count map rather than
// failing the whole List call: per-process counts are informational,
// not required to report the inventory itself.
func fetchProcessCounts(ctx context.Context, log *slog.Logger) map[int]int {
	output, err := runCommand(ctx, commandTimeout, "nvidia-smi", "pmon", "-c", "1")
	if err != nil {
		log.Warn("nvidia-smi pmon failed", "err", err)
		return map[int]int{}
	}

	counts := make(map[int]int)
	scanner := bufio.NewScanner(strings.NewReader(output))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if lineNum <= 2 {
			continue
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[1] == "-" {
			continue
		}
		idx, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		counts[idx]++
	}
	log.Debug("gpu process counts", "counts", counts)
	return counts
}

func runCommand(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(cctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
