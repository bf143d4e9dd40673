package metrics

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestRegistryCounters(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Inc(BlocksFetched)
	r.Add(GapsDetected, 3)
	r.Add(GapsDetected, -1) // ignored

	require.Equal(t, int64(1), r.Get(BlocksFetched))
	require.Equal(t, int64(3), r.Get(GapsDetected))
	require.Equal(t, int64(0), r.Get(BlocksFailed))

	snap := r.Snapshot()
	require.Equal(t, int64(1), snap[BlocksFetched])
	require.Equal(t, int64(3), snap[GapsDetected])
}

func TestRegistryUnknownCounterIgnored(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Inc("no_such_counter")
	require.Equal(t, int64(0), r.Get("no_such_counter"))
}

func TestRegistryConcurrentIncrements(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				r.Inc(BlocksProcessed)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(8000), r.Get(BlocksProcessed))
}

func TestSuccessRate(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.Zero(t, r.SuccessRate(APIRequests, APIFailures))

	r.Add(APIRequests, 10)
	r.Add(APIFailures, 2)
	require.InDelta(t, 80.0, r.SuccessRate(APIRequests, APIFailures), 0.001)
}

func TestReset(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Add(BlocksFetched, 5)
	r.Reset()
	require.Equal(t, int64(0), r.Get(BlocksFetched))
}

func TestActiveWorkersGauge(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.IncActiveWorkers()
	r.IncActiveWorkers()
	r.DecActiveWorkers()

	families, err := r.reg.Gather()
	require.NoError(t, err)

	var gauge *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "indexer_active_workers" {
			gauge = mf
		}
	}
	require.NotNil(t, gauge)
	require.Len(t, gauge.GetMetric(), 1)
	require.Equal(t, float64(1), gauge.GetMetric()[0].GetGauge().GetValue())
}

func TestHandlerExposesCounters(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Inc(BlocksProcessed)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	require.Equal(t, 200, rec.Code)
	require.True(t, strings.Contains(body, "indexer_blocks_processed_total 1"), body)
}
