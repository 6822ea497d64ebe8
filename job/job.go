package job

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
)

// Job is the unit of work scheduled onto the cluster.
//
// Job instances returned by a store.Observer are snapshots; callers
// must go through store.Claimer / store.Cleaner to change state. See
// spec invariants: a Queued job has Node == "" && Pid == 0 && StartedAt
// == nil; a Running job has Node != "" && Pid != 0 && StartedAt != nil
// && ExitCode == nil && CompletedAt == nil; a terminal job always has
// CompletedAt != nil.
type Job struct {
	ID         string `json:"id"`
	Command    string `json:"command"`
	ArtifactID string `json:"artifact_id"`

	Priority        int    `json:"priority"`
	NumGPUs         int    `json:"num_gpus"`
	GPUIdxs         []int  `json:"gpu_idxs,omitempty"`
	IgnoreBlacklist bool   `json:"ignore_blacklist"`
	Node            string `json:"node,omitempty"`
	Status          Status `json:"status"`

	Env  map[string]string `json:"env,omitempty"`
	Jobrc string           `json:"jobrc,omitempty"`

	Integrations          []string          `json:"integrations,omitempty"`
	Notifications         []string          `json:"notifications,omitempty"`
	NotificationMessages  map[string]string `json:"notification_messages,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	PID             int    `json:"pid,omitempty"`
	Dir             string `json:"dir,omitempty"`
	SessionName     string `json:"session_name,omitempty"`
	GPUIdxsAssigned []int  `json:"gpu_idxs_assigned,omitempty"`

	WandbURL      string `json:"wandb_url,omitempty"`
	MarkedForKill bool   `json:"marked_for_kill"`

	ExitCode     *int   `json:"exit_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	User       string `json:"user,omitempty"`
	GitRepoURL string `json:"git_repo_url,omitempty"`
	GitBranch  string `json:"git_branch,omitempty"`
}

// GenerateID returns a 6-character lowercase base58 identifier derived
// from the current time plus randomness, with negligible collision
// probability within a single process.
func GenerateID() (string, error) {
	var seed [4]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(time.Now().Format(time.RFC3339Nano)))
	h.Write(seed[:])
	digest := h.Sum(nil)[:8]
	encoded := base58.Encode(digest)
	if len(encoded) < 6 {
		return "", fmt.Errorf("generate job id: short encoding %q", encoded)
	}
	return toLower(encoded[:6]), nil
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c - 'A' + 'a'
		}
	}
	return string(b)
}

// SessionName returns the detachable-session identifier used to host
// the job's supervisor process: nexus_job_<id>.
func SessionName(id string) string {
	return "nexus_job_" + id
}

// Clone returns a deep-enough copy of j so that callers can mutate the
// result without affecting the original snapshot.
func (j *Job) Clone() *Job {
	c := *j
	c.GPUIdxs = append([]int(nil), j.GPUIdxs...)
	c.GPUIdxsAssigned = append([]int(nil), j.GPUIdxsAssigned...)
	c.Integrations = append([]string(nil), j.Integrations...)
	c.Notifications = append([]string(nil), j.Notifications...)
	if j.Env != nil {
		c.Env = make(map[string]string, len(j.Env))
		for k, v := range j.Env {
			c.Env[k] = v
		}
	}
	if j.NotificationMessages != nil {
		c.NotificationMessages = make(map[string]string, len(j.NotificationMessages))
		for k, v := range j.NotificationMessages {
			c.NotificationMessages[k] = v
		}
	}
	return &c
}

// HasIntegration reports whether name is present in j.Integrations.
func (j *Job) HasIntegration(name string) bool {
	for _, v := range j.Integrations {
		if v == name {
			return true
		}
	}
	return false
}

// HasNotification reports whether channel is present in j.Notifications.
func (j *Job) HasNotification(channel string) bool {
	for _, v := range j.Notifications {
		if v == channel {
			return true
		}
	}
	return false
}
