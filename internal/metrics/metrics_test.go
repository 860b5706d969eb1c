package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagersDoNotShareRegistry(t *testing.T) {
	first := NewManager()
	second := NewManager()

	first.GetPrometheusMetrics().RecordTransaction("create", "expense")

	assert.Equal(t, 1.0, testutil.ToFloat64(first.GetPrometheusMetrics().TransactionsTotal.WithLabelValues("create", "expense")))
	assert.Equal(t, 0.0, testutil.ToFloat64(second.GetPrometheusMetrics().TransactionsTotal.WithLabelValues("create", "expense")))
}

func TestCurrencyRefreshOnlyUpdatesGaugeOnSuccess(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.RecordCurrencyRefresh("api", true, 160)
	pm.RecordCurrencyRefresh("api", false, 0)

	assert.Equal(t, 160.0, testutil.ToFloat64(pm.CurrencyRatesTracked))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.CurrencyRefreshTotal.WithLabelValues("api", "failure")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := NewManager()
	m.GetPrometheusMetrics().RecordStartupStep("migrate", "success", 2*time.Second)
	m.UpdateSystemMetrics()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `tracker_startup_steps_total{status="success",step="migrate"} 1`))
	assert.Contains(t, body, "tracker_goroutines")
}
