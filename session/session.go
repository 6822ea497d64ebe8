// Package session manages the detachable terminal sessions a job runs
// in, so a job survives the daemon process restarting. The default
// implementation wraps GNU screen, grounded on
// core/job.py's _launch_screen_process/is_job_running/kill_job.
package session

import "context"

// Manager starts, probes and kills a named detachable session running
// scriptPath. Implementations must be safe to call concurrently for
// distinct names.
type Manager interface {
	// Start launches scriptPath inside a new session called name with
	// env as its environment, and returns the PID of the session's
	// supervising screen process.
	Start(ctx context.Context, name, scriptPath string, env []string) (pid int, err error)

	// IsAlive reports whether a session called name is currently
	// running.
	IsAlive(ctx context.Context, name string) (bool, error)

	// Kill terminates every process associated with name. Killing an
	// already-dead session is not an error.
	Kill(ctx context.Context, name string) error
}
