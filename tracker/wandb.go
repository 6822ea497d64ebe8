package tracker

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/nexuscluster/nexus/job"
)

// WandbFinder locates a job's W&B run by scanning its workspace for a
// wandb-metadata.json file mentioning the job id, then confirming the
// run exists under the configured entity, mirroring
// find_run_id_from_metadata + check_project_for_run.
type WandbFinder struct {
	Client *http.Client
	Log    *slog.Logger
}

func (w *WandbFinder) client() *http.Client {
	if w.Client != nil {
		return w.Client
	}
	return &http.Client{Timeout: LookupTimeout}
}

func (w *WandbFinder) logger() *slog.Logger {
	if w.Log != nil {
		return w.Log
	}
	return slog.Default()
}

func (w *WandbFinder) FindURL(ctx context.Context, j *job.Job) (string, error) {
	if j.Dir == "" {
		return "", nil
	}
	runID := findRunIDFromMetadata(j.Dir, j.ID)
	if runID == "" {
		return "", nil
	}

	entity := j.Env["WANDB_ENTITY"]
	if entity == "" {
		return "", nil
	}

	ctx, cancel := context.WithTimeout(ctx, LookupTimeout)
	defer cancel()

	project := j.Env["WANDB_PROJECT"]
	if project == "" {
		w.logger().Debug("no WANDB_PROJECT set, cannot disambiguate run", "job", j.ID)
		return "", nil
	}

	url := fmt.Sprintf("https://wandb.ai/%s/%s/runs/%s", entity, project, runID)
	if !w.runExists(ctx, j, entity, project, runID) {
		return "", nil
	}
	return url, nil
}

// runExists confirms the run is reachable via the public W&B API
// before handing back a URL, mirroring check_project_for_run's
// api.run(...) probe.
func (w *WandbFinder) runExists(ctx context.Context, j *job.Job, entity, project, runID string) bool {
	apiURL := fmt.Sprintf("https://api.wandb.ai/%s/%s/runs/%s", entity, project, runID)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, apiURL, nil)
	if err != nil {
		return false
	}
	if key := j.Env["WANDB_API_KEY"]; key != "" {
		req.SetBasicAuth("api", key)
	}
	resp, err := w.client().Do(req)
	if err != nil {
		w.logger().Debug("wandb run lookup failed", "job", j.ID, "run", runID, "err", err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// findRunIDFromMetadata walks dir looking for any wandb-metadata.json
// file whose contents mention nexusJobID, returning the run id
// encoded in its run directory name (wandb stores runs under
// run-<timestamp>-<run_id>, with the metadata file in its files/
// subdirectory).
func findRunIDFromMetadata(dir, nexusJobID string) string {
	var found string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || found != "" {
			return nil
		}
		if d.IsDir() || d.Name() != "wandb-metadata.json" {
			return nil
		}
		if !fileContains(path, nexusJobID) {
			return nil
		}
		parent := filepath.Dir(path)
		if filepath.Base(parent) == "files" {
			parent = filepath.Dir(parent)
		}
		runDir := filepath.Base(parent)
		if idx := strings.LastIndex(runDir, "-"); idx >= 0 {
			found = runDir[idx+1:]
		}
		return nil
	})
	return found
}

func fileContains(path, needle string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if strings.Contains(scanner.Text(), needle) {
			return true
		}
	}
	return false
}
