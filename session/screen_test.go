package session

import (
	"context"
	"testing"
)

func TestPidFromScreenListParsesEntry(t *testing.T) {
	s := Screen{}
	// We can't spawn a real screen session in CI, but we can exercise
	// the parser against synthetic "screen -ls" style output.
	out := "There is a screen on:\n\t12345.nexus_job_abc123\t(Detached)\n1 Socket in /run/screen/S-user.\n"
	pid, ok := parseScreenList(out, "nexus_job_abc123")
	if !ok || pid != 12345 {
		t.Fatalf("expected pid 12345 for nexus_job_abc123, got %d (found=%v)", pid, ok)
	}
	if _, ok := s.pidFromScreenList(context.Background(), "nexus_job_does_not_exist"); ok {
		t.Fatal("expected no match for a session that is not running")
	}
}
