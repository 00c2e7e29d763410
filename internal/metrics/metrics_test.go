package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilRegistryIsNoop(t *testing.T) {
	var m *Registry
	m.IncMint("confirmed", "")
	m.IncSession("ready")
	m.IncProbe("contract", "ok")
	m.IncCache("balance", true)
	m.IncReplay()
	m.ObserveInclusion(time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCountersAreExported(t *testing.T) {
	m := New()
	m.IncMint("failed", "Unauthorized")
	m.IncMint("failed", "Unauthorized")
	m.IncCache("balance", false)

	require.Equal(t, 2.0, testutil.ToFloat64(m.mintAttempts.WithLabelValues("failed", "Unauthorized")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `smartmint_reader_cache_total{field="balance",result="miss"} 1`)
}
