package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pagewatch/internal/fetcher/extract"
	"github.com/JakeFAU/pagewatch/internal/tracker"
)

func TestFetcherBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "coverage-agent", RespectRobots: false, Timeout: time.Second}, nil, nil)
	collector := f.buildCollector(&page{}, new(error))
	if collector.UserAgent != "coverage-agent" {
		t.Fatalf("expected user agent override, got %q", collector.UserAgent)
	}
	if !collector.IgnoreRobotsTxt {
		t.Fatal("expected robots txt to be ignored")
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{Headers: http.Header{"X-Trace": {"yes"}}}, nil, nil)
	var result page
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, &result, &fetchErr)
	if hooks.onRequest == nil || hooks.onResponse == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	if collyReq.Headers.Get("X-Trace") != "yes" {
		t.Fatalf("expected header propagation, got %+v", collyReq.Headers)
	}

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	if result.status != http.StatusOK || string(result.body) != "body" {
		t.Fatalf("unexpected result: %+v", result)
	}

	hooks.onError(&colly.Response{StatusCode: http.StatusNotFound}, errors.New("Not Found"))
	if fetchErr == nil || fetchErr.Error() != "http 404: Not Found" {
		t.Fatalf("expected fetchErr set, got %v", fetchErr)
	}
}

func TestFetchReturnsExtractedContent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pagewatch-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><h1>Hello</h1><p>world</p></body></html>`))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "pagewatch-test"}, extract.New(false), nil)
	result, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, "Hello world", result.Content)
}

func TestFetchRevisitsSameURL(t *testing.T) {
	t.Parallel()

	bodies := []string{"first", "second"}
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body>" + bodies[min(calls, 1)] + "</body></html>"))
		calls++
	}))
	defer srv.Close()

	f := New(Config{}, extract.New(false), nil)
	for _, want := range bodies {
		result, err := f.Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
		require.True(t, result.Success, result.Error)
		assert.Equal(t, want, result.Content)
	}
}

type promoteAll struct{}

func (promoteAll) ShouldPromote(int, []byte) bool { return true }

type stubRenderer struct{ calls int }

func (s *stubRenderer) Fetch(context.Context, string) (tracker.FetchResult, error) {
	s.calls++
	return tracker.FetchResult{Success: true, Content: "rendered"}, nil
}

func TestFetchPromotesToRenderer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><div id="root"></div></body></html>`))
	}))
	defer srv.Close()

	renderer := &stubRenderer{}
	f := New(Config{}, extract.New(false), nil).WithPromotion(promoteAll{}, renderer)
	result, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "rendered", result.Content)
	assert.Equal(t, 1, renderer.calls)
}

func TestFetchReportsHTTPErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	result, err := New(Config{}, nil, nil).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "410")
}

func TestFetchHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{}, nil, nil).Fetch(ctx, "http://127.0.0.1:1")
	require.ErrorIs(t, err, context.Canceled)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
