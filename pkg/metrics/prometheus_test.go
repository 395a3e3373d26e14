package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollector_RecordOperation(t *testing.T) {
	m := NewMetricsCollector(nil)

	m.RecordOperation("transfer", OutcomeCommitted, 10*time.Millisecond)
	m.RecordOperation("transfer", OutcomeCommitted, 20*time.Millisecond)
	m.RecordOperation("transfer", OutcomeRejected, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("transfer", OutcomeCommitted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("transfer", OutcomeRejected)))
}

func TestMetricsCollector_Gauges(t *testing.T) {
	m := NewMetricsCollector(nil)

	m.UpdateRoleBalance("bank", 30)
	m.SetBreakerState("gateway", "open")

	assert.Equal(t, 30.0, testutil.ToFloat64(m.roleBalance.WithLabelValues("bank")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.breakerState.WithLabelValues("gateway")))

	m.SetBreakerState("gateway", "closed")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.breakerState.WithLabelValues("gateway")))
}

func TestMetricsCollector_ObserveAmount(t *testing.T) {
	m := NewMetricsCollector(nil)

	// series are per operation kind, however many accounts move money
	for i := int64(1); i <= 50; i++ {
		m.ObserveAmount("transfer", i*100)
	}
	m.ObserveAmount("onboard", 5)

	assert.Equal(t, 2, testutil.CollectAndCount(m.committedAmount))

	srv := httptest.NewServer(m.GetHandler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `ledger_committed_amount_count{operation="transfer"} 50`)
	assert.NotContains(t, string(body), "account_id")
}

func TestMetricsCollector_Handler(t *testing.T) {
	m := NewMetricsCollector(nil)
	m.RecordEvent("nats", false)

	srv := httptest.NewServer(m.NewServer(":0").Handler)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(body), `ledger_events_delivered_total{outcome="error",sink="nats"} 1`))
}
