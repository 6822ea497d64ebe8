//go:build unix

package runner

import (
	"context"
	"log/slog"
	"os/exec"
	"syscall"
)

const syscallSig0 = syscall.Signal(0)

// killProcessGroup sends SIGKILL to the process group led by pid,
// mirroring core/job.py's `ps -o pgid=` + `kill -9 -<pgid>` sequence.
// Errors are swallowed: kill(job) must never raise past its call
// boundary, per spec §4.D.
func killProcessGroup(pid int) {
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		return
	}
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}

// killByWorkdir kills every process whose command line references
// workDir, approximating core/job.py's `pkill -9 -f <job_dir>`.
func killByWorkdir(ctx context.Context, workDir string) {
	if err := exec.CommandContext(ctx, "pkill", "-9", "-f", workDir).Run(); err != nil {
		slog.Default().Debug("pkill by workdir reported an error", "dir", workDir, "err", err)
	}
}
