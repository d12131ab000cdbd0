package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func routeObservations(t *testing.T, method, route string) uint64 {
	t.Helper()
	hist, ok := httpRequestDurationSeconds.WithLabelValues(method, route).(prometheus.Histogram)
	require.True(t, ok)
	var m dto.Metric
	require.NoError(t, hist.Write(&m))
	return m.GetHistogram().GetSampleCount()
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Route("/v1", func(r chi.Router) {
		r.Route("/targets", func(r chi.Router) {
			r.Get("/history", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			r.Post("/check", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusAccepted)
			})
		})
		r.Get("/jobs/{job_id}", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	okBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))
	acceptedBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "202"))
	historyBefore := routeObservations(t, "GET", "/v1/targets/history")
	jobBefore := routeObservations(t, "GET", "/v1/jobs/{job_id}")

	for _, req := range []struct{ method, path string }{
		{http.MethodGet, "/v1/targets/history?url=https://a.test"},
		{http.MethodGet, "/v1/targets/history?url=https://b.test"},
		{http.MethodPost, "/v1/targets/check"},
		{http.MethodGet, "/v1/jobs/job-1"},
		{http.MethodGet, "/v1/jobs/job-2"},
	} {
		httpReq, err := http.NewRequest(req.method, ts.URL+req.path, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(httpReq)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
	}

	assert.InDelta(t, 2, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))-okBefore, 0)
	assert.InDelta(t, 1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "202"))-acceptedBefore, 0)
	assert.Equal(t, uint64(2), routeObservations(t, "GET", "/v1/targets/history")-historyBefore)
	assert.Equal(t, uint64(2), routeObservations(t, "GET", "/v1/jobs/{job_id}")-jobBefore,
		"job ids collapse into the route pattern")
}

func TestMiddlewareUnmatchedRouteIsUnknown(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/targets/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	before := routeObservations(t, "GET", "unknown")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, uint64(1), routeObservations(t, "GET", "unknown")-before)
}
