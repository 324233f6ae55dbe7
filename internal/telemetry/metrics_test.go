package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/test", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/teapot", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	okBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))
	teapotBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418"))

	for _, path := range []string{"/test", "/teapot"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
	}

	require.InDelta(t, okBefore+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")), 0.001)
	require.InDelta(t, teapotBefore+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418")), 0.001)
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func TestObserveRenderAndFailures(t *testing.T) {
	before := testutil.ToFloat64(rendersTotal.WithLabelValues("UserCard", "failed"))
	stageBefore := testutil.ToFloat64(renderStageFailuresTotal.WithLabelValues("UserCard", "WaitingForReadySignal"))

	ObserveRender("UserCard", "failed", 1500*time.Millisecond)
	ObserveRenderFailure("UserCard", "WaitingForReadySignal")

	require.InDelta(t, before+1, testutil.ToFloat64(rendersTotal.WithLabelValues("UserCard", "failed")), 0.001)
	require.InDelta(t, stageBefore+1,
		testutil.ToFloat64(renderStageFailuresTotal.WithLabelValues("UserCard", "WaitingForReadySignal")), 0.001)
}

func TestObserveAnalyticsEvent(t *testing.T) {
	before := testutil.ToFloat64(analyticsEventsTotal.WithLabelValues("disabled"))
	ObserveAnalyticsEvent("disabled")
	require.InDelta(t, before+1, testutil.ToFloat64(analyticsEventsTotal.WithLabelValues("disabled")), 0.001)
}

func TestInitTracerProvider(t *testing.T) {
	tp, err := InitTracerProvider(context.Background(), TracingConfig{ServiceName: "naotimes-og-test", SampleRatio: 1})
	require.NoError(t, err)
	require.NotNil(t, tp)

	_, span := Tracer().Start(context.Background(), "test-span")
	require.True(t, span.SpanContext().IsValid())
	span.End()
}
