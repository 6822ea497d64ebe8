package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nexuscluster/nexus/apperr"
)

// pidSettleDelay mirrors core/job.py's asyncio.sleep(0.5) between
// launching the screen session and resolving its PID.
const pidSettleDelay = 500 * time.Millisecond

// Screen implements Manager on top of the GNU screen CLI.
type Screen struct {
	Log *slog.Logger
}

func (s Screen) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

func (s Screen) Start(ctx context.Context, name, scriptPath string, env []string) (int, error) {
	absPath, err := absExecutable(scriptPath)
	if err != nil {
		return 0, apperr.Wrap(apperr.Runner, "cannot launch job process", err)
	}

	cmd := exec.CommandContext(ctx, "screen", "-dmS", name, absPath)
	cmd.Env = env
	if err := cmd.Run(); err != nil {
		return 0, apperr.Wrap(apperr.Runner, fmt.Sprintf("screen process for session %s failed to start", name), err)
	}

	select {
	case <-time.After(pidSettleDelay):
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	pid, err := s.resolvePID(ctx, name)
	if err != nil {
		return 0, apperr.Wrap(apperr.Runner, "failed to get pid for session "+name, err)
	}
	return pid, nil
}

// resolvePID prefers screen's own session listing (-ls prints
// "<pid>.<name>\t(...)" per entry) over the pgrep -f fallback, per the
// spec's redesign guidance to trust the session tool's native output
// before grepping the process table.
func (s Screen) resolvePID(ctx context.Context, name string) (int, error) {
	if pid, ok := s.pidFromScreenList(ctx, name); ok {
		return pid, nil
	}
	return pidFromPgrep(ctx, name)
}

func (s Screen) pidFromScreenList(ctx context.Context, name string) (int, bool) {
	out, _ := exec.CommandContext(ctx, "screen", "-ls").Output()
	return parseScreenList(string(out), name)
}

// parseScreenList finds the entry for session name in "screen -ls"
// output and returns the pid from its "<pid>.<name>" field.
func parseScreenList(out, name string) (int, bool) {
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		// Each entry's first field looks like "<pid>.<name>".
		parts := strings.SplitN(fields[0], ".", 2)
		if len(parts) != 2 || parts[1] != name {
			continue
		}
		pid, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		return pid, true
	}
	return 0, false
}

func pidFromPgrep(ctx context.Context, name string) (int, error) {
	out, err := exec.CommandContext(ctx, "pgrep", "-f", name).Output()
	if err != nil {
		return 0, fmt.Errorf("failed to get pid for job in session %s", name)
	}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		return pid, nil
	}
	return 0, fmt.Errorf("failed to get pid for job in session %s", name)
}

func (s Screen) IsAlive(ctx context.Context, name string) (bool, error) {
	out, err := exec.CommandContext(ctx, "screen", "-ls").Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// screen -ls exits non-zero when there are no sessions at all.
			return false, nil
		}
		return false, apperr.Wrap(apperr.Runner, "failed to check session status", err)
	}
	return strings.Contains(string(out), name), nil
}

func (s Screen) Kill(ctx context.Context, name string) error {
	// pkill returns exit status 1 when nothing matched, which is not
	// an error here: killing an already-dead session is a no-op.
	_ = exec.CommandContext(ctx, "pkill", "-9", "-f", name).Run()
	return nil
}

func absExecutable(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("script path does not exist: %s", abs)
	}
	if info.Mode()&0o111 == 0 {
		if err := os.Chmod(abs, 0o755); err != nil {
			return "", fmt.Errorf("script not executable: %s", abs)
		}
	}
	return abs, nil
}
