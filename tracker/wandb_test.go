package tracker

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindRunIDFromMetadataMatchesNexusID(t *testing.T) {
	dir := t.TempDir()
	runDir := filepath.Join(dir, "wandb", "run-20260101_120000-abc123xy")
	filesDir := filepath.Join(runDir, "files")
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		t.Fatal(err)
	}
	metaPath := filepath.Join(filesDir, "wandb-metadata.json")
	if err := os.WriteFile(metaPath, []byte(`{"nexus_job_id":"job42"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	runID := findRunIDFromMetadata(dir, "job42")
	if runID != "abc123xy" {
		t.Fatalf("expected abc123xy, got %q", runID)
	}
}

func TestFindRunIDFromMetadataReturnsEmptyWhenNoMatch(t *testing.T) {
	dir := t.TempDir()
	if findRunIDFromMetadata(dir, "job42") != "" {
		t.Fatal("expected no match in an empty workspace")
	}
}
