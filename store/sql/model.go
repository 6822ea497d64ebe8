package sql

import (
	"strconv"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/nexuscluster/nexus/job"
)

// jobModel is the bun row shape for the jobs table, generalizing
// gqs/sql's jobModel from a generic delivery envelope to the full
// nexus job record described in spec §3/§4.A.
type jobModel struct {
	bun.BaseModel `bun:"table:jobs"`

	ID         string `bun:"id,pk"`
	Command    string `bun:"command,notnull"`
	ArtifactID string `bun:"artifact_id,notnull"`

	Priority        int    `bun:"priority,notnull,default:0"`
	NumGPUs         int    `bun:"num_gpus,notnull,default:1"`
	GPUIdxs         string `bun:"gpu_idxs"`
	IgnoreBlacklist bool   `bun:"ignore_blacklist,notnull,default:false"`
	Node            string `bun:"node,nullzero"`
	Status          string `bun:"status,notnull"`

	Env                  map[string]string `bun:"env,type:jsonb"`
	Jobrc                string            `bun:"jobrc"`
	Integrations         string            `bun:"integrations"`
	Notifications        string            `bun:"notifications"`
	NotificationMessages map[string]string `bun:"notification_messages,type:jsonb"`

	CreatedAt   time.Time  `bun:"created_at,notnull"`
	StartedAt   *time.Time `bun:"started_at"`
	CompletedAt *time.Time `bun:"completed_at"`

	PID             int    `bun:"pid"`
	Dir             string `bun:"dir"`
	SessionName     string `bun:"session_name"`
	GPUIdxsAssigned string `bun:"gpu_idxs_assigned"`

	WandbURL      string `bun:"wandb_url"`
	MarkedForKill bool   `bun:"marked_for_kill,notnull,default:false"`

	ExitCode     *int   `bun:"exit_code"`
	ErrorMessage string `bun:"error_message"`

	User       string `bun:"user"`
	GitRepoURL string `bun:"git_repo_url"`
	GitBranch  string `bun:"git_branch"`
}

func joinInts(xs []int) string {
	if len(xs) == 0 {
		return ""
	}
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}

func splitInts(s string) []int {
	if s == "" {
		return nil
	}
	fields := strings.Split(s, ",")
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

func joinStrings(xs []string) string {
	return strings.Join(xs, ",")
}

func splitStrings(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func fromJob(j *job.Job) *jobModel {
	var exitCode *int
	if j.ExitCode != nil {
		v := *j.ExitCode
		exitCode = &v
	}
	return &jobModel{
		ID:                   j.ID,
		Command:              j.Command,
		ArtifactID:           j.ArtifactID,
		Priority:             j.Priority,
		NumGPUs:              j.NumGPUs,
		GPUIdxs:              joinInts(j.GPUIdxs),
		IgnoreBlacklist:      j.IgnoreBlacklist,
		Node:                 j.Node,
		Status:               j.Status.String(),
		Env:                  j.Env,
		Jobrc:                j.Jobrc,
		Integrations:         joinStrings(j.Integrations),
		Notifications:        joinStrings(j.Notifications),
		NotificationMessages: j.NotificationMessages,
		CreatedAt:            j.CreatedAt,
		StartedAt:            j.StartedAt,
		CompletedAt:          j.CompletedAt,
		PID:                  j.PID,
		Dir:                  j.Dir,
		SessionName:          j.SessionName,
		GPUIdxsAssigned:      joinInts(j.GPUIdxsAssigned),
		WandbURL:             j.WandbURL,
		MarkedForKill:        j.MarkedForKill,
		ExitCode:             exitCode,
		ErrorMessage:         j.ErrorMessage,
		User:                 j.User,
		GitRepoURL:           j.GitRepoURL,
		GitBranch:            j.GitBranch,
	}
}

func (m *jobModel) toJob() *job.Job {
	status, _ := job.ParseStatus(m.Status)
	var exitCode *int
	if m.ExitCode != nil {
		v := *m.ExitCode
		exitCode = &v
	}
	return &job.Job{
		ID:                   m.ID,
		Command:              m.Command,
		ArtifactID:           m.ArtifactID,
		Priority:             m.Priority,
		NumGPUs:              m.NumGPUs,
		GPUIdxs:              splitInts(m.GPUIdxs),
		IgnoreBlacklist:      m.IgnoreBlacklist,
		Node:                 m.Node,
		Status:               status,
		Env:                  m.Env,
		Jobrc:                m.Jobrc,
		Integrations:         splitStrings(m.Integrations),
		Notifications:        splitStrings(m.Notifications),
		NotificationMessages: m.NotificationMessages,
		CreatedAt:            m.CreatedAt,
		StartedAt:            m.StartedAt,
		CompletedAt:          m.CompletedAt,
		PID:                  m.PID,
		Dir:                  m.Dir,
		SessionName:          m.SessionName,
		GPUIdxsAssigned:      splitInts(m.GPUIdxsAssigned),
		WandbURL:             m.WandbURL,
		MarkedForKill:        m.MarkedForKill,
		ExitCode:             exitCode,
		ErrorMessage:         m.ErrorMessage,
		User:                 m.User,
		GitRepoURL:           m.GitRepoURL,
		GitBranch:            m.GitBranch,
	}
}

// blacklistModel is the bun row shape for blacklisted_gpus.
type blacklistModel struct {
	bun.BaseModel `bun:"table:blacklisted_gpus"`

	Node   string `bun:"node,pk"`
	GPUIdx int    `bun:"gpu_idx,pk"`
}

// artifactModel is the bun row shape for artifacts.
type artifactModel struct {
	bun.BaseModel `bun:"table:artifacts"`

	ID        string    `bun:"id,pk"`
	Size      int       `bun:"size,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	Data      []byte    `bun:"data,type:blob,notnull"`
}
