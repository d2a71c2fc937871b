package observability

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogContextAccumulates(t *testing.T) {
	ctx := context.Background()
	ctx = WithCycleID(ctx, "cycle-1")
	ctx = WithModID(ctx, "msu")
	ctx = WithPhase(ctx, "downloading")

	lc := GetContext(ctx)
	assert.Equal(t, "cycle-1", lc.CycleID)
	assert.Equal(t, "msu", lc.ModID)
	assert.Equal(t, "downloading", lc.Phase)

	// Later values override earlier ones without touching other fields.
	lc2 := GetContext(WithPhase(ctx, "installing"))
	assert.Equal(t, "installing", lc2.Phase)
	assert.Equal(t, "msu", lc2.ModID)
}

func TestEmptyContextYieldsNoAttrs(t *testing.T) {
	assert.Empty(t, getLogAttrs(context.Background()))
}

func TestMetricsCountersAndHandler(t *testing.T) {
	m := NewMetrics()
	m.CyclesTotal.Inc()
	m.PackagesTotal.WithLabelValues("installed").Inc()
	m.PackagesTotal.WithLabelValues("failed").Add(2)
	m.DownloadBytes.Add(4096)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.CyclesTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.PackagesTotal.WithLabelValues("failed")))
	assert.Equal(t, float64(4096), testutil.ToFloat64(m.DownloadBytes))

	// The scrape handler serves the dedicated registry.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "modloader_cycles_total")
	assert.Contains(t, rec.Body.String(), "modloader_packages_total")
}
