package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/jobmonitor"
	"github.com/JakeFAU/pagewatch/internal/tracker"
)

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(), http.MethodGet, "/healthz", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_ReadyzReportsTrackedCount(t *testing.T) {
	t.Parallel()

	targets := newFakeTargets()
	targets.targets["https://a.test"] = tracker.NewTarget("https://a.test", time.Hour)
	server := newTestServerWith(targets, newFakeJobs(), nil)

	rec := serve(server, http.MethodGet, "/readyz", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ready","tracked":1}`, rec.Body.String())
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(), http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "# HELP")
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	server := NewServer(
		context.Background(),
		newFakeTargets(),
		newFakeJobs(),
		nil,
		&fakeClock{now: time.Unix(100, 0)},
		Config{AuthEnabled: true, APIKey: "secret"},
		zap.NewNop(),
	)

	rec := serve(server, http.MethodGet, "/v1/targets", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/targets", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(server, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code, "probes stay open")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(), http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec = httptest.NewRecorder()
	newTestServer().Handler().ServeHTTP(rec, req)
	require.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddlewareReturns500(t *testing.T) {
	t.Parallel()

	targets := newFakeTargets()
	targets.panicOnStats = true
	server := newTestServerWith(targets, newFakeJobs(), nil)

	rec := serve(server, http.MethodGet, "/v1/targets/stats", "")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}

func serve(s *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, stringsReader(body))
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func newTestServer() *Server {
	return newTestServerWith(newFakeTargets(), newFakeJobs(), nil)
}

func newTestServerWith(targets TargetService, jobs JobWatcher, statuses tracker.JobService) *Server {
	return NewServer(
		context.Background(),
		targets,
		jobs,
		statuses,
		&fakeClock{now: time.Unix(100, 0)},
		Config{DefaultInterval: time.Hour},
		zap.NewNop(),
	)
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type fakeTargets struct {
	mu           sync.Mutex
	targets      map[string]tracker.TrackedTarget
	trackErr     error
	untrackErr   error
	change       *tracker.ChangeRecord
	checkErr     error
	checkedForce bool
	report       tracker.CycleReport
	history      []tracker.ChangeRecord
	snapshots    []tracker.Snapshot
	lastLimit    int
	panicOnStats bool
}

func newFakeTargets() *fakeTargets {
	return &fakeTargets{targets: make(map[string]tracker.TrackedTarget)}
}

func (f *fakeTargets) Track(_ context.Context, url string, interval time.Duration) (tracker.TrackedTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.trackErr != nil {
		return tracker.TrackedTarget{}, f.trackErr
	}
	if existing, ok := f.targets[url]; ok {
		return existing, nil
	}
	target := tracker.NewTarget(url, interval)
	f.targets[url] = target
	return target, nil
}

func (f *fakeTargets) Untrack(_ context.Context, url string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.untrackErr != nil {
		return false, f.untrackErr
	}
	_, ok := f.targets[url]
	delete(f.targets, url)
	return ok, nil
}

func (f *fakeTargets) List() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	urls := make([]string, 0, len(f.targets))
	for url := range f.targets {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls
}

func (f *fakeTargets) Check(_ context.Context, _ string, force bool) (*tracker.ChangeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkedForce = force
	return f.change, f.checkErr
}

func (f *fakeTargets) CheckAll(_ context.Context, force bool) tracker.CycleReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkedForce = force
	return f.report
}

func (f *fakeTargets) History(_ string, limit int) []tracker.ChangeRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	return f.history
}

func (f *fakeTargets) Snapshots(_ string, limit int) []tracker.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	return f.snapshots
}

func (f *fakeTargets) Stats() tracker.TrackingStats {
	if f.panicOnStats {
		panic("stats exploded")
	}
	return tracker.TrackingStats{TotalTracked: len(f.List())}
}

type fakeJobs struct {
	mu        sync.Mutex
	nextID    string
	submitErr error
	submitted []tracker.JobSpec
	watched   []string
	progress  map[string]jobmonitor.Progress
	result    tracker.JobResult
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{nextID: "job-1", progress: make(map[string]jobmonitor.Progress)}
}

func (f *fakeJobs) Submit(_ context.Context, spec tracker.JobSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, spec)
	return f.nextID, nil
}

func (f *fakeJobs) Watch(
	_ context.Context,
	jobID string,
	_ jobmonitor.Handlers,
	_ time.Duration,
) (tracker.JobResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watched = append(f.watched, jobID)
	result := f.result
	result.JobID = jobID
	return result, nil
}

func (f *fakeJobs) Progress(jobID string) (jobmonitor.Progress, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.progress[jobID]
	return p, ok
}

func (f *fakeJobs) Active() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.progress))
	for id := range f.progress {
		ids = append(ids, id)
	}
	return ids
}

type fakeStatuses struct {
	reports map[string]tracker.JobStatusReport
	err     error
}

// cancelingStatuses also implements tracker.JobCanceler.
type cancelingStatuses struct {
	fakeStatuses
	mu        sync.Mutex
	cancelled []string
	cancelErr error
}

func (f *cancelingStatuses) Cancel(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	if _, ok := f.reports[jobID]; !ok {
		return fmt.Errorf("job %s: %w", jobID, tracker.ErrJobNotFound)
	}
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

func (f *fakeStatuses) Submit(context.Context, tracker.JobSpec) (string, error) {
	return "", nil
}

func (f *fakeStatuses) Status(_ context.Context, jobID string) (tracker.JobStatusReport, error) {
	if f.err != nil {
		return tracker.JobStatusReport{}, f.err
	}
	report, ok := f.reports[jobID]
	if !ok {
		return tracker.JobStatusReport{}, tracker.ErrJobNotFound
	}
	return report, nil
}
