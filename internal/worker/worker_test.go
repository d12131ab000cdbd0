package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/pagewatch/internal/publisher/memory"
	queuemem "github.com/JakeFAU/pagewatch/internal/queue/memory"
	storemem "github.com/JakeFAU/pagewatch/internal/storage/memory"
	"github.com/JakeFAU/pagewatch/internal/tracker"
)

func TestWorker_ProcessJob_SuccessFlow(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobStore := storemem.NewJobStore()
	require.NoError(t, jobStore.CreateJob(ctx, tracker.Job{ID: "job-success", Status: tracker.JobStatusPending}))
	queue := &fakeQueue{items: []tracker.QueueItem{{
		JobID: "job-success",
		Spec:  tracker.JobSpec{Kind: tracker.JobKindBatch, URLs: []string{"https://a.test", "https://b.test"}},
	}}}
	publisher := memory.New()
	fetcher := &fakeFetcher{results: map[string]tracker.FetchResult{
		"https://a.test": {Success: true, Content: "# A"},
		"https://b.test": {Success: true, Content: "# B"},
	}}

	w := New(queue, jobStore, fetcher, publisher, &fakeHasher{hash: "abc123"},
		&fakeClock{now: time.Unix(100, 0)}, Config{Topic: "pages"}, zap.NewNop())
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		job, err := jobStore.GetJob(ctx, "job-success")
		return err == nil && job.Status == tracker.JobStatusCompleted
	}, time.Second, 10*time.Millisecond)

	job, err := jobStore.GetJob(ctx, "job-success")
	require.NoError(t, err)
	assert.Equal(t, 2, job.Total)
	assert.Equal(t, 2, job.Completed)
	assert.Zero(t, job.Failed)
	require.Len(t, job.Items, 2)
	assert.Equal(t, "https://a.test", job.Items[0].IdentityKey)
	assert.Equal(t, "# A", job.Items[0].Payload["markdown"])
	assert.Len(t, publisher.Messages(), 2)
}

func TestWorker_ProcessJob_PartialFailureStillCompletes(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobStore := storemem.NewJobStore()
	require.NoError(t, jobStore.CreateJob(ctx, tracker.Job{ID: "job-1"}))
	queue := &fakeQueue{items: []tracker.QueueItem{{
		JobID: "job-1",
		Spec:  tracker.JobSpec{Kind: tracker.JobKindBatch, URLs: []string{"https://ok.test", "https://bad.test"}},
	}}}
	fetcher := &fakeFetcher{results: map[string]tracker.FetchResult{
		"https://ok.test":  {Success: true, Content: "ok"},
		"https://bad.test": {Success: false, Error: "http 500"},
	}}

	w := New(queue, jobStore, fetcher, nil, &fakeHasher{hash: "h"}, &fakeClock{}, Config{}, nil)
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		job, err := jobStore.GetJob(ctx, "job-1")
		return err == nil && job.Status.IsTerminal()
	}, time.Second, 10*time.Millisecond)

	job, err := jobStore.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, tracker.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.Completed)
	assert.Equal(t, 1, job.Failed)
	assert.Contains(t, job.ErrorText, "http 500")
}

func TestWorker_ProcessJob_AllFailuresMarkJobFailed(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobStore := storemem.NewJobStore()
	require.NoError(t, jobStore.CreateJob(ctx, tracker.Job{ID: "job-1"}))
	queue := &fakeQueue{items: []tracker.QueueItem{{
		JobID: "job-1",
		Spec:  tracker.JobSpec{Kind: tracker.JobKindCrawl, URL: "https://down.test"},
	}}}
	fetcher := &fakeFetcher{errs: map[string]error{"https://down.test": errors.New("dial tcp: refused")}}

	w := New(queue, jobStore, fetcher, nil, &fakeHasher{hash: "h"}, &fakeClock{}, Config{}, nil)
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		job, err := jobStore.GetJob(ctx, "job-1")
		return err == nil && job.Status == tracker.JobStatusFailed
	}, time.Second, 10*time.Millisecond)
}

func TestWorker_ProcessJob_PublishFailureKeepsDocument(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core, logs := observer.New(zap.WarnLevel)
	jobStore := storemem.NewJobStore()
	require.NoError(t, jobStore.CreateJob(ctx, tracker.Job{ID: "job-1"}))
	queue := &fakeQueue{items: []tracker.QueueItem{{
		JobID: "job-1",
		Spec:  tracker.JobSpec{Kind: tracker.JobKindCrawl, URL: "https://a.test"},
	}}}
	publisher := memory.New()
	publisher.FailWith(errors.New("pubsub down"))
	fetcher := &fakeFetcher{results: map[string]tracker.FetchResult{"https://a.test": {Success: true, Content: "a"}}}

	w := New(queue, jobStore, fetcher, publisher, &fakeHasher{hash: "h"}, &fakeClock{}, Config{Topic: "pages"}, zap.New(core))
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		job, err := jobStore.GetJob(ctx, "job-1")
		return err == nil && job.Status.IsTerminal()
	}, time.Second, 10*time.Millisecond)
	job, err := jobStore.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, tracker.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.Completed)
	assert.Zero(t, job.Failed)
	assert.Len(t, job.Items, job.Completed, "every completed url has its document")
	assert.Equal(t, 1, logs.FilterMessage("publish page failed").Len())
}

// cancellingFetcher cancels the job through the store while serving the first URL.
type cancellingFetcher struct {
	store *storemem.JobStore
	jobID string
	mu    sync.Mutex
	urls  []string
}

func (f *cancellingFetcher) Fetch(ctx context.Context, url string) (tracker.FetchResult, error) {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	first := len(f.urls) == 1
	f.mu.Unlock()
	if first {
		if err := f.store.UpdateJob(ctx, f.jobID, tracker.JobUpdate{Status: tracker.JobStatusCancelled, Total: 3}); err != nil {
			return tracker.FetchResult{}, err
		}
	}
	return tracker.FetchResult{Success: true, Content: url}, nil
}

func (f *cancellingFetcher) Fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

func TestWorker_StopsCancelledJob(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobStore := storemem.NewJobStore()
	require.NoError(t, jobStore.CreateJob(ctx, tracker.Job{ID: "job-1", Status: tracker.JobStatusPending}))
	queue := &fakeQueue{items: []tracker.QueueItem{{
		JobID: "job-1",
		Spec:  tracker.JobSpec{Kind: tracker.JobKindBatch, URLs: []string{"https://a.test", "https://b.test", "https://c.test"}},
	}}}
	fetcher := &cancellingFetcher{store: jobStore, jobID: "job-1"}

	w := New(queue, jobStore, fetcher, nil, &fakeHasher{hash: "h"}, &fakeClock{}, Config{}, nil)
	go w.Run(ctx)

	require.Eventually(t, func() bool { return len(fetcher.Fetched()) > 0 }, time.Second, 10*time.Millisecond)
	require.Never(t, func() bool { return len(fetcher.Fetched()) > 1 }, 100*time.Millisecond, 10*time.Millisecond)

	job, err := jobStore.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, tracker.JobStatusCancelled, job.Status)
	assert.Equal(t, []string{"https://a.test"}, fetcher.Fetched())
}

func TestWorker_NoFetcherFailsJob(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobStore := storemem.NewJobStore()
	require.NoError(t, jobStore.CreateJob(ctx, tracker.Job{ID: "job-1"}))
	queue := &fakeQueue{items: []tracker.QueueItem{{JobID: "job-1", Spec: tracker.JobSpec{Kind: tracker.JobKindCrawl, URL: "https://a.test"}}}}

	w := New(queue, jobStore, nil, nil, &fakeHasher{}, &fakeClock{}, Config{}, nil)
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		job, err := jobStore.GetJob(ctx, "job-1")
		return err == nil && job.Status == tracker.JobStatusFailed && job.ErrorText == "no fetcher configured"
	}, time.Second, 10*time.Millisecond)
}

func TestDeriveFinalStatus(t *testing.T) {
	t.Parallel()

	status, errText := deriveFinalStatus(context.Background(), tracker.JobUpdate{})
	assert.Equal(t, tracker.JobStatusFailed, status)
	assert.Equal(t, "no pages were fetched", errText)

	status, _ = deriveFinalStatus(context.Background(), tracker.JobUpdate{Completed: 1})
	assert.Equal(t, tracker.JobStatusCompleted, status)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	status, _ = deriveFinalStatus(ctx, tracker.JobUpdate{Completed: 1})
	assert.Equal(t, tracker.JobStatusCancelled, status)
}

// --- fakes ---

type fakeQueue struct {
	mu    sync.Mutex
	items []tracker.QueueItem
}

func (q *fakeQueue) Enqueue(_ context.Context, job tracker.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, job)
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (tracker.QueueItem, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return tracker.QueueItem{}, fmt.Errorf("queue dequeue context done: %w", ctx.Err())
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

type fakeFetcher struct {
	results map[string]tracker.FetchResult
	errs    map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (tracker.FetchResult, error) {
	if err := f.errs[url]; err != nil {
		return tracker.FetchResult{}, err
	}
	if result, ok := f.results[url]; ok {
		return result, nil
	}
	return tracker.FetchResult{Success: false, Error: "unexpected url"}, nil
}

type fakeHasher struct {
	hash string
}

func (h *fakeHasher) Hash([]byte) (string, error) {
	return h.hash, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func TestWorker_RunReturnsWhenQueueClosed(t *testing.T) {
	t.Parallel()

	q := queuemem.NewQueue(1)
	q.Close()
	w := New(q, nil, nil, nil, nil, nil, Config{}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker kept polling a closed queue")
	}
}
