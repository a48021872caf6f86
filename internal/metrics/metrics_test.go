package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	m := New()

	m.ConnectionsTotal.Inc()
	m.RequestsTotal.WithLabelValues("status").Inc()
	m.RequestsTotal.WithLabelValues("status").Inc()
	m.ProtocolErrors.WithLabelValues("corrupted_frame").Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ConnectionsTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("status")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProtocolErrors.WithLabelValues("corrupted_frame")))
}

func TestWatchCacheAndHandler(t *testing.T) {
	m := New()
	hits, misses := uint64(5), uint64(2)
	m.WatchCache(func() (uint64, uint64) { return hits, misses })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "pingd_status_cache_hits_total 5"), body)
	assert.True(t, strings.Contains(body, "pingd_status_cache_misses_total 2"), body)
}
