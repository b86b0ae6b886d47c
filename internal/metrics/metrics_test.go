package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestRouter_ServesMetrics(t *testing.T) {
	Swaps.WithLabelValues(SwapSwapped).Inc()
	QueueDepth.WithLabelValues("embedding").Set(7)

	srv := httptest.NewServer(NewRouter(nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `sercha_indexer_swaps_total{outcome="swapped"}`)
	assert.Contains(t, string(body), `sercha_indexer_queue_depth{lane="embedding"} 7`)
}

func TestRouter_Healthz(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(NewRouter(func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("store unreachable")
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	healthy.Store(false)
	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(DegradedLoads)
	DegradedLoads.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(DegradedLoads))

	before = testutil.ToFloat64(TaskOutcomes.WithLabelValues("embed", OutcomeBuried))
	TaskOutcomes.WithLabelValues("embed", OutcomeBuried).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(TaskOutcomes.WithLabelValues("embed", OutcomeBuried)))
}

func TestStartSpan(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test", attribute.String("k", "v"))
	require.NotNil(t, ctx)
	EndSpan(span, errors.New("boom"))
}
