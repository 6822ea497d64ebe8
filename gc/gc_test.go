package gc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuscluster/nexus/store"
)

// fakeStore exercises only the Cleaner surface sweep actually uses.
type fakeStore struct {
	store.Store

	mu              sync.Mutex
	orphaned        []string
	deletedArtifact []string
	cleanedBefore   time.Time
}

func (f *fakeStore) CleanTerminalJobs(ctx context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanedBefore = before
	return 0, nil
}

func (f *fakeStore) ListOrphanedArtifacts(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.orphaned...), nil
}

func (f *fakeStore) DeleteArtifact(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedArtifact = append(f.deletedArtifact, id)
	return nil
}

func TestSweepDeletesOrphanedArtifacts(t *testing.T) {
	fs := &fakeStore{orphaned: []string{"art1", "art2"}}
	g := &GC{Store: fs, Config: Config{Interval: time.Minute}}

	g.sweep()

	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.ElementsMatch(t, []string{"art1", "art2"}, fs.deletedArtifact)
}

func TestSweepSkipsOrphanCleanupWhenNoneFound(t *testing.T) {
	fs := &fakeStore{}
	g := &GC{Store: fs, Config: Config{Interval: time.Minute}}

	g.sweep()

	assert.Empty(t, fs.deletedArtifact)
}

func TestSweepAppliesTerminalJobTTL(t *testing.T) {
	fs := &fakeStore{}
	g := &GC{Store: fs, Config: Config{Interval: time.Minute, TerminalJobTTL: time.Hour}}

	g.sweep()

	require.False(t, fs.cleanedBefore.IsZero())
	assert.WithinDuration(t, time.Now().Add(-time.Hour), fs.cleanedBefore, 5*time.Second)
}
