package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nexuscluster/nexus/job"
)

type fakeArtifacts struct {
	data map[string][]byte
}

func (f *fakeArtifacts) GetArtifact(_ context.Context, id string) ([]byte, error) {
	data, ok := f.data[id]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

type fakeSessions struct {
	startErr error
	pid      int
	alive    bool
	killed   []string
}

func (f *fakeSessions) Start(_ context.Context, name, scriptPath string, env []string) (int, error) {
	if f.startErr != nil {
		return 0, f.startErr
	}
	return f.pid, nil
}

func (f *fakeSessions) IsAlive(_ context.Context, name string) (bool, error) {
	return f.alive, nil
}

func (f *fakeSessions) Kill(_ context.Context, name string) error {
	f.killed = append(f.killed, name)
	return nil
}

func TestStartMaterialisesWorkspaceAndTransitionsRunning(t *testing.T) {
	dir := t.TempDir()
	r := &Runner{
		Sessions:  &fakeSessions{pid: 4242},
		Artifacts: &fakeArtifacts{data: map[string][]byte{"art-1": []byte("tarbytes")}},
		WorkDir:   dir,
	}
	j := &job.Job{ID: "abc123", Command: "echo hi", ArtifactID: "art-1", Status: job.Queued}

	out := r.Start(context.Background(), j, []int{0, 1})
	if out.Status != job.Running {
		t.Fatalf("expected running, got %v (%s)", out.Status, out.ErrorMessage)
	}
	if out.PID != 4242 {
		t.Fatalf("expected pid 4242, got %d", out.PID)
	}
	if out.SessionName != "nexus_job_abc123" {
		t.Fatalf("unexpected session name %q", out.SessionName)
	}
	if out.Dir == "" {
		t.Fatal("expected workspace dir to be set")
	}
	if _, err := os.Stat(filepath.Join(out.Dir, "code.tar")); err != nil {
		t.Fatalf("expected code.tar to be written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out.Dir, "run.sh")); err != nil {
		t.Fatalf("expected run.sh to be written: %v", err)
	}
}

func TestStartFailsClosedWhenArtifactMissing(t *testing.T) {
	dir := t.TempDir()
	r := &Runner{
		Sessions:  &fakeSessions{},
		Artifacts: &fakeArtifacts{data: map[string][]byte{}},
		WorkDir:   dir,
	}
	j := &job.Job{ID: "missing1", Command: "echo hi", ArtifactID: "nope", Status: job.Queued}

	out := r.Start(context.Background(), j, []int{0})
	if out.Status != job.Failed {
		t.Fatalf("expected failed, got %v", out.Status)
	}
	if out.ErrorMessage == "" {
		t.Fatal("expected an error message")
	}
}

func TestReapParsesSuccessfulExitCode(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "output.log"), "hello\nCOMMAND_EXIT_CODE=\"0\"\n")

	r := &Runner{}
	now := time.Now()
	j := &job.Job{ID: "r1", Status: job.Running, Dir: dir, StartedAt: &now}

	out := r.Reap(j, false)
	if out.Status != job.Completed {
		t.Fatalf("expected completed, got %v (%s)", out.Status, out.ErrorMessage)
	}
	if out.ExitCode == nil || *out.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %v", out.ExitCode)
	}
	if _, err := os.Stat(filepath.Join(dir, "repo")); !os.IsNotExist(err) {
		t.Fatal("expected repo/ to be removed")
	}
}

func TestReapParsesFailingExitCode(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "output.log"), "oops\nCOMMAND_EXIT_CODE=\"1\"\n")

	r := &Runner{}
	j := &job.Job{ID: "r2", Status: job.Running, Dir: dir}

	out := r.Reap(j, false)
	if out.Status != job.Failed {
		t.Fatalf("expected failed, got %v", out.Status)
	}
	if out.ErrorMessage != "Job failed with exit code 1" {
		t.Fatalf("unexpected error message %q", out.ErrorMessage)
	}
}

func TestReapMissingLogFailsWithMessage(t *testing.T) {
	dir := t.TempDir()
	r := &Runner{}
	j := &job.Job{ID: "r3", Status: job.Running, Dir: dir}

	out := r.Reap(j, false)
	if out.Status != job.Failed || out.ErrorMessage != "No output log found" {
		t.Fatalf("unexpected result: %v %q", out.Status, out.ErrorMessage)
	}
}

func TestReapMissingMarkerFailsWithMessage(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "output.log"), "no marker here\n")

	r := &Runner{}
	j := &job.Job{ID: "r4", Status: job.Running, Dir: dir}

	out := r.Reap(j, false)
	if out.Status != job.Failed || out.ErrorMessage != "Could not find exit code in log" {
		t.Fatalf("unexpected result: %v %q", out.Status, out.ErrorMessage)
	}
}

func TestReapKilledOverridesLogContents(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "output.log"), "COMMAND_EXIT_CODE=\"0\"\n")

	r := &Runner{}
	j := &job.Job{ID: "r5", Status: job.Running, Dir: dir}

	out := r.Reap(j, true)
	if out.Status != job.Killed {
		t.Fatalf("expected killed, got %v", out.Status)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
