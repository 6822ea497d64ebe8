// Package runner materialises a job's workspace, launches it inside a
// supervised session, detects when it exits, and cleans up after it.
// It is grounded on core/job.py's async_start_job/is_job_running/
// async_end_job/kill_job/async_cleanup_job_repo, generalized from
// free functions taking a dataclass into methods on a Runner bound to
// a session.Manager and an artifact store.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nexuscluster/nexus/job"
	"github.com/nexuscluster/nexus/session"
)

// ArtifactFetcher is the narrow store slice the runner needs to
// materialise a job's code onto local disk.
type ArtifactFetcher interface {
	GetArtifact(ctx context.Context, id string) ([]byte, error)
}

// Runner starts, reaps and kills jobs on the local node.
type Runner struct {
	Sessions  session.Manager
	Artifacts ArtifactFetcher
	// WorkDir is the parent directory under which per-job workspaces
	// are created. Defaults to os.TempDir() when empty.
	WorkDir string
	Log      *slog.Logger
}

func (r *Runner) logger() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

func (r *Runner) workDir() string {
	if r.WorkDir != "" {
		return r.WorkDir
	}
	return os.TempDir()
}

const pidWaitDelay = 500 * time.Millisecond

var exitCodePattern = regexp.MustCompile(`COMMAND_EXIT_CODE=["']?(\d+)["']?`)

func failJob(j *job.Job, message string) *job.Job {
	out := j.Clone()
	now := time.Now()
	out.Status = job.Failed
	out.ErrorMessage = message
	out.CompletedAt = &now
	return out
}

// Start materialises j's workspace, launches its command on gpuIdxs,
// and returns the transitioned job. On any failure it returns a Failed
// job carrying an ErrorMessage rather than an error, per spec §4.D:
// "If any step fails the runner returns the job with status = failed".
func (r *Runner) Start(ctx context.Context, j *job.Job, gpuIdxs []int) *job.Job {
	log := r.logger()

	dir, err := os.MkdirTemp(r.workDir(), fmt.Sprintf("nexus-job-%s-", j.ID))
	if err != nil {
		log.Error("failed to create job workspace", "job", j.ID, "err", err)
		return failJob(j, "Failed to create job directories")
	}

	repoDir := filepath.Join(dir, "repo")
	if err := os.MkdirAll(repoDir, 0o755); err != nil {
		log.Error("failed to create job repo dir", "job", j.ID, "err", err)
		return failJob(j, "Failed to create job directories")
	}

	archivePath := filepath.Join(dir, "code.tar")
	data, err := r.Artifacts.GetArtifact(ctx, j.ArtifactID)
	if err != nil {
		log.Error("failed to fetch artifact", "job", j.ID, "artifact", j.ArtifactID, "err", err)
		return failJob(j, "Failed to fetch job artifact")
	}
	if err := os.WriteFile(archivePath, data, 0o644); err != nil {
		log.Error("failed to write artifact", "job", j.ID, "err", err)
		return failJob(j, "Failed to create job directories")
	}

	logFile := filepath.Join(dir, "output.log")
	env := buildEnvironment(gpuIdxs, j.Env)

	scriptPath, err := writeRunScript(dir, logFile, repoDir, archivePath, j.Command, j.Jobrc)
	if err != nil {
		log.Error("failed to write job script", "job", j.ID, "err", err)
		return failJob(j, "Failed to create job script")
	}

	sessionName := job.SessionName(j.ID)
	pid, err := r.Sessions.Start(ctx, sessionName, scriptPath, env)
	if err != nil {
		log.Error("failed to launch job process", "job", j.ID, "session", sessionName, "err", err)
		return failJob(j, "Failed to start job")
	}

	out := j.Clone()
	now := time.Now()
	out.Status = job.Running
	out.StartedAt = &now
	out.PID = pid
	out.Dir = dir
	out.SessionName = sessionName
	out.GPUIdxsAssigned = append([]int(nil), gpuIdxs...)
	return out
}

// buildEnvironment inherits the daemon's own environment, pins
// CUDA_VISIBLE_DEVICES to gpuIdxs, then merges jobEnv on top,
// mirroring core/job.py's _build_environment.
func buildEnvironment(gpuIdxs []int, jobEnv map[string]string) []string {
	base := os.Environ()
	merged := make(map[string]string, len(base)+len(jobEnv)+1)
	for _, kv := range base {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	idxStrs := make([]string, len(gpuIdxs))
	for i, idx := range gpuIdxs {
		idxStrs[i] = strconv.Itoa(idx)
	}
	merged["CUDA_VISIBLE_DEVICES"] = strings.Join(idxStrs, ",")
	for k, v := range jobEnv {
		merged[k] = v
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}

// writeRunScript emits the shell wrapper described by spec §4.D step
// 5, mirroring core/job.py's _build_script_content: extract the
// archive into repoDir, cd into it, run the optional jobrc prelude,
// run command, and capture the whole pipeline (stdout+stderr plus a
// trailing exit-code marker) to logFile via `script`.
func writeRunScript(dir, logFile, repoDir, archivePath, command, jobrc string) (string, error) {
	jobrcCmd := ""
	if strings.TrimSpace(jobrc) != "" {
		jobrcCmd = strings.TrimSpace(jobrc) + " && "
	}
	inner := fmt.Sprintf(
		`mkdir -p %s && tar -xf %s -C %s && cd %s && %s%s; echo COMMAND_EXIT_CODE="$?"`,
		shellQuote(repoDir), shellQuote(archivePath), shellQuote(repoDir), shellQuote(repoDir), jobrcCmd, command,
	)
	var buf bytes.Buffer
	buf.WriteString("#!/bin/bash\n")
	buf.WriteString("set -e\n")
	fmt.Fprintf(&buf, "script -q -e -f -c %s %s\n", shellQuote(inner), shellQuote(logFile))

	scriptPath := filepath.Join(dir, "run.sh")
	if err := os.WriteFile(scriptPath, buf.Bytes(), 0o755); err != nil {
		return "", err
	}
	return scriptPath, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// IsAlive reports whether j's process is still running, per spec
// §4.D: probe the recorded pid with signal 0 when known, otherwise
// fall back to the session listing.
func (r *Runner) IsAlive(ctx context.Context, j *job.Job) (bool, error) {
	if j.PID != 0 {
		proc, err := os.FindProcess(j.PID)
		if err != nil {
			return false, nil
		}
		if err := proc.Signal(syscallSig0); err != nil {
			if os.IsPermission(err) {
				return true, nil
			}
			return false, nil
		}
		return true, nil
	}
	return r.Sessions.IsAlive(ctx, job.SessionName(j.ID))
}

// Reap transitions j out of running after it has stopped (or been
// marked for termination), parsing output.log for the exit code per
// spec §4.D.
func (r *Runner) Reap(j *job.Job, killed bool) *job.Job {
	out := j.Clone()
	now := time.Now()
	out.CompletedAt = &now

	if killed {
		out.Status = job.Killed
		out.ErrorMessage = ""
		r.cleanupRepo(j)
		return out
	}

	logPath := filepath.Join(j.Dir, "output.log")
	content, err := os.ReadFile(logPath)
	if err != nil {
		out.Status = job.Failed
		out.ErrorMessage = "No output log found"
		r.cleanupRepo(j)
		return out
	}

	lastLine := lastNonEmptyLine(string(content))
	match := exitCodePattern.FindStringSubmatch(lastLine)
	if match == nil {
		out.Status = job.Failed
		out.ErrorMessage = "Could not find exit code in log"
		r.cleanupRepo(j)
		return out
	}

	code, err := strconv.Atoi(match[1])
	if err != nil {
		out.Status = job.Failed
		out.ErrorMessage = "Could not find exit code in log"
		r.cleanupRepo(j)
		return out
	}

	out.ExitCode = &code
	if code == 0 {
		out.Status = job.Completed
		out.ErrorMessage = ""
	} else {
		out.Status = job.Failed
		out.ErrorMessage = fmt.Sprintf("Job failed with exit code %d", code)
	}
	r.cleanupRepo(j)
	return out
}

func lastNonEmptyLine(content string) string {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return lines[i]
		}
	}
	return ""
}

// cleanupRepo best-effort removes repo/ from j's workspace, per spec
// §4.D step 6: failures are logged, never surfaced.
func (r *Runner) cleanupRepo(j *job.Job) {
	if j.Dir == "" {
		return
	}
	repoDir := filepath.Join(j.Dir, "repo")
	if err := os.RemoveAll(repoDir); err != nil {
		r.logger().Warn("failed to clean up job repo", "job", j.ID, "dir", repoDir, "err", err)
	}
}

// CleanupWorkspace removes the job's entire workspace directory,
// called once the job's final row has been persisted.
func (r *Runner) CleanupWorkspace(j *job.Job) {
	if j.Dir == "" {
		return
	}
	if err := os.RemoveAll(j.Dir); err != nil {
		r.logger().Warn("failed to clean up job workspace", "job", j.ID, "dir", j.Dir, "err", err)
	}
}

// Kill sends SIGKILL to every process plausibly associated with j:
// anything whose command line contains the job workspace path,
// anything whose command line contains the session name, and the
// process group of the recorded pid. Processes are not matched by
// their working directory, so one that only runs inside the workspace
// is reached through the process group alone. None of these are
// allowed to fail the call, per spec §4.D.
func (r *Runner) Kill(ctx context.Context, j *job.Job) {
	sessionName := job.SessionName(j.ID)
	if err := r.Sessions.Kill(ctx, sessionName); err != nil {
		r.logger().Debug("session kill reported an error", "job", j.ID, "err", err)
	}
	if j.Dir != "" {
		killByWorkdir(ctx, j.Dir)
	}
	if j.PID != 0 {
		killProcessGroup(j.PID)
	}
}

