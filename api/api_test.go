package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuscluster/nexus/apperr"
	"github.com/nexuscluster/nexus/gpuinfo"
	"github.com/nexuscluster/nexus/job"
	"github.com/nexuscluster/nexus/store"
)

// fakeStore is a minimal in-memory store.Store used to exercise the
// HTTP layer without a real database, mirroring the fakes runner_test
// and sender_test already use for their own narrow interfaces.
type fakeStore struct {
	mu        sync.Mutex
	jobs      map[string]*job.Job
	artifacts map[string][]byte
	blacklist map[string]map[int]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:      map[string]*job.Job{},
		artifacts: map[string][]byte{},
		blacklist: map[string]map[int]bool{},
	}
}

func (f *fakeStore) AddJob(ctx context.Context, j *job.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[j.ID]; ok {
		return apperr.New(apperr.Store, "duplicate job id")
	}
	f.jobs[j.ID] = j.Clone()
	return nil
}

func (f *fakeStore) PutArtifact(ctx context.Context, id string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artifacts[id] = data
	return nil
}

func (f *fakeStore) Claim(ctx context.Context, id string, node string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok || j.Node != "" || j.Status != job.Queued {
		return false, nil
	}
	j.Node = node
	return true, nil
}

func (f *fakeStore) UpdateJob(ctx context.Context, j *job.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[j.ID]; !ok {
		return apperr.New(apperr.NotFound, "job not found")
	}
	f.jobs[j.ID] = j.Clone()
	return nil
}

func (f *fakeStore) GetJob(ctx context.Context, id string) (*job.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "job not found")
	}
	return j.Clone(), nil
}

func (f *fakeStore) ListJobs(ctx context.Context, filter store.ListFilter) ([]*job.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*job.Job
	for _, j := range f.jobs {
		if filter.Status != job.Unknown && j.Status != filter.Status {
			continue
		}
		out = append(out, j.Clone())
	}
	return out, nil
}

func (f *fakeStore) ListBlacklist(ctx context.Context, node string) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for idx := range f.blacklist[node] {
		out = append(out, idx)
	}
	return out, nil
}

func (f *fakeStore) GetArtifact(ctx context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.artifacts[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "artifact not found")
	}
	return data, nil
}

func (f *fakeStore) DeleteQueuedJob(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return apperr.New(apperr.NotFound, "job not found")
	}
	if j.Status != job.Queued {
		return apperr.New(apperr.InvalidState, "job is not queued")
	}
	delete(f.jobs, id)
	return nil
}

func (f *fakeStore) IsArtifactInUse(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.Status == job.Queued && j.ArtifactID == id {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) DeleteArtifact(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.artifacts, id)
	return nil
}

func (f *fakeStore) ListOrphanedArtifacts(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inUse := map[string]bool{}
	for _, j := range f.jobs {
		if j.Status == job.Queued {
			inUse[j.ArtifactID] = true
		}
	}
	var out []string
	for id := range f.artifacts {
		if !inUse[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeStore) AddBlacklist(ctx context.Context, node string, gpuIdx int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blacklist[node] == nil {
		f.blacklist[node] = map[int]bool{}
	}
	if f.blacklist[node][gpuIdx] {
		return false, nil
	}
	f.blacklist[node][gpuIdx] = true
	return true, nil
}

func (f *fakeStore) RemoveBlacklist(ctx context.Context, node string, gpuIdx int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.blacklist[node][gpuIdx] {
		return false, nil
	}
	delete(f.blacklist[node], gpuIdx)
	return true, nil
}

func (f *fakeStore) CleanTerminalJobs(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	return fn(ctx, f)
}

func newTestServer() (*Server, *fakeStore) {
	st := newFakeStore()
	s := &Server{
		Store:  st,
		GPUs:   gpuinfo.Mock{},
		Node:   "node-a",
		APIKey: "secret",
	}
	return s, st
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestCreateJobReturnsQueuedWithShortID(t *testing.T) {
	s, _ := newTestServer()
	rr := doRequest(t, s.Router(), http.MethodPost, "/v1/jobs", createJobRequest{
		Command:    "echo hi",
		ArtifactID: "art1",
		NumGPUs:    1,
	})

	require.Equal(t, http.StatusCreated, rr.Code)
	var got job.Job
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, job.Queued, got.Status)
	assert.Len(t, got.ID, 6)
}

func TestCreateJobRejectsMissingCommand(t *testing.T) {
	s, _ := newTestServer()
	rr := doRequest(t, s.Router(), http.MethodPost, "/v1/jobs", createJobRequest{ArtifactID: "art1"})

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestPatchNonQueuedJobReturns400(t *testing.T) {
	s, st := newTestServer()
	running := &job.Job{ID: "abc123", Status: job.Running, Node: "node-a"}
	require.NoError(t, st.AddJob(context.Background(), running))

	cmd := "new command"
	rr := doRequest(t, s.Router(), http.MethodPatch, "/v1/jobs/abc123", patchJobRequest{Command: &cmd})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDeleteQueuedJobThenGetReturns404(t *testing.T) {
	s, st := newTestServer()
	queued := &job.Job{ID: "abc123", Status: job.Queued, ArtifactID: "art1"}
	require.NoError(t, st.AddJob(context.Background(), queued))

	del := doRequest(t, s.Router(), http.MethodDelete, "/v1/jobs/abc123", nil)
	require.Equal(t, http.StatusNoContent, del.Code)

	get := doRequest(t, s.Router(), http.MethodGet, "/v1/jobs/abc123", nil)
	assert.Equal(t, http.StatusNotFound, get.Code)
}

func TestBlacklistAddIsIdempotent(t *testing.T) {
	s, _ := newTestServer()
	router := s.Router()

	first := doRequest(t, router, http.MethodPut, "/v1/gpus/0/blacklist", nil)
	var firstBody blacklistResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &firstBody))
	assert.True(t, firstBody.Changed)

	second := doRequest(t, router, http.MethodPut, "/v1/gpus/0/blacklist", nil)
	var secondBody blacklistResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &secondBody))
	assert.False(t, secondBody.Changed)
}

func TestUnauthenticatedRequestIsRejected(t *testing.T) {
	s, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHealthRequiresNoAuth(t *testing.T) {
	s, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}
