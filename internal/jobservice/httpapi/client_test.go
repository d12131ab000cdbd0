package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pagewatch/internal/tracker"
)

type noSleep struct{ calls atomic.Int32 }

func (s *noSleep) Sleep(ctx context.Context, _ time.Duration) error {
	s.calls.Add(1)
	return ctx.Err()
}

func newClient(t *testing.T, srv *httptest.Server, sleeper tracker.Sleeper) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: srv.URL + "/", APIKey: "secret"}, srv.Client(), sleeper, nil)
	require.NoError(t, err)
	return c
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, nil, nil)
	require.Error(t, err)
}

func TestSubmitCrawlAndPollStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/crawl":
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "https://a.test", body["url"])
			assert.EqualValues(t, 5, body["limit"])
			_, _ = w.Write([]byte(`{"success":true,"id":"crawl-1"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/crawl/crawl-1":
			_, _ = w.Write([]byte(`{"status":"scraping","total":5,"completed":2,"data":[
				{"markdown":"a","metadata":{"sourceURL":"https://a.test"}},
				{"url":"https://a.test/b","markdown":"b"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newClient(t, srv, &noSleep{})
	id, err := c.Submit(context.Background(), tracker.JobSpec{Kind: tracker.JobKindCrawl, URL: "https://a.test", Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, "crawl-1", id)

	report, err := c.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, tracker.JobStatusRunning, report.Status)
	assert.Equal(t, 5, report.Total)
	assert.Equal(t, 2, report.Completed)
	assert.Nil(t, report.CostUsed)
	require.Len(t, report.Items, 2)
	assert.Equal(t, "https://a.test", report.Items[0].IdentityKey)
	assert.Equal(t, "https://a.test/b", report.Items[1].IdentityKey)
}

func TestBatchStatusUsesBatchEndpointAndFollowsPages(t *testing.T) {
	t.Parallel()

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/batch/scrape":
			_, _ = w.Write([]byte(`{"success":true,"id":"batch-1"}`))
		case "/batch/scrape/batch-1":
			if r.URL.Query().Get("skip") == "1" {
				_, _ = w.Write([]byte(`{"status":"completed","data":[{"url":"https://b.test"}]}`))
				return
			}
			_, _ = w.Write([]byte(`{"status":"completed","total":2,"completed":2,"creditsUsed":4,
				"data":[{"url":"https://a.test"}],"next":"` + srv.URL + `/batch/scrape/batch-1?skip=1"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newClient(t, srv, &noSleep{})
	id, err := c.Submit(context.Background(), tracker.JobSpec{
		Kind: tracker.JobKindBatch,
		URLs: []string{"https://a.test", "https://b.test"},
	})
	require.NoError(t, err)

	report, err := c.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, tracker.JobStatusCompleted, report.Status)
	require.NotNil(t, report.CostUsed)
	assert.Equal(t, 4, *report.CostUsed)
	require.Len(t, report.Items, 2)
	assert.Equal(t, "https://b.test", report.Items[1].IdentityKey)
}

func TestRetriesRateLimitedRequests(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"status":"completed","total":1,"completed":1}`))
	}))
	defer srv.Close()

	sleeper := &noSleep{}
	report, err := newClient(t, srv, sleeper).Status(context.Background(), "crawl-9")
	require.NoError(t, err)
	assert.Equal(t, tracker.JobStatusCompleted, report.Status)
	assert.EqualValues(t, 3, hits.Load())
	assert.EqualValues(t, 2, sleeper.calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newClient(t, srv, &noSleep{}).Submit(context.Background(), tracker.JobSpec{Kind: tracker.JobKindCrawl, URL: "https://a.test"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "bad key", apiErr.Message)
	assert.EqualValues(t, 1, hits.Load())
}

func TestStatusNotFoundMapsToSentinel(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newClient(t, srv, &noSleep{}).Status(context.Background(), "missing")
	require.ErrorIs(t, err, tracker.ErrJobNotFound)
}

func TestSubmitValidatesSpec(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	c := newClient(t, srv, &noSleep{})

	_, err := c.Submit(context.Background(), tracker.JobSpec{Kind: tracker.JobKindCrawl})
	require.Error(t, err)
	_, err = c.Submit(context.Background(), tracker.JobSpec{Kind: tracker.JobKindBatch})
	require.Error(t, err)
	_, err = c.Submit(context.Background(), tracker.JobSpec{Kind: "map", URL: "https://a.test"})
	require.Error(t, err)
}

func TestCancelUsesRememberedKind(t *testing.T) {
	t.Parallel()

	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newClient(t, srv, &noSleep{})
	c.Remember("batch-7", tracker.JobKindBatch)
	require.NoError(t, c.Cancel(context.Background(), "batch-7"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/batch/scrape/batch-7", gotPath)
}

func TestCancelUnknownJob(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"job not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := newClient(t, srv, &noSleep{})
	var _ tracker.JobCanceler = c
	require.ErrorIs(t, c.Cancel(context.Background(), "crawl-9"), tracker.ErrJobNotFound)
}
