package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTurnMetrics(t *testing.T) {
	collector := NewCollectorWithRegistry(prometheus.NewRegistry())

	collector.TurnCompleted("chat", "basic", 1, 2*time.Second)
	collector.TurnCompleted("code", "premium", 5, time.Second)
	collector.TurnFailed("chat", "basic", "completion")

	expected := `
		# HELP assistant_turns_total Assistant turns by mode, tier and outcome
		# TYPE assistant_turns_total counter
		assistant_turns_total{mode="chat",status="completion_error",tier="basic"} 1
		assistant_turns_total{mode="chat",status="success",tier="basic"} 1
		assistant_turns_total{mode="code",status="success",tier="premium"} 1
	`
	err := testutil.CollectAndCompare(collector.turnsTotal, strings.NewReader(expected))
	assert.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.creditsCharged.WithLabelValues("basic")))
	assert.Equal(t, 5.0, testutil.ToFloat64(collector.creditsCharged.WithLabelValues("premium")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.completionDuration))
}

func TestSessionAndDenialMetrics(t *testing.T) {
	collector := NewCollectorWithRegistry(prometheus.NewRegistry())

	collector.SessionStarted("chat", "basic")
	collector.SessionEnded("command")
	collector.SessionEnded("command")
	collector.SessionEnded("insufficient_credit")
	collector.Denied("entry")
	collector.Recharged(15)
	collector.Recharged(15)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.sessionsStarted.WithLabelValues("chat", "basic")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.sessionsEnded.WithLabelValues("command")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.sessionsEnded.WithLabelValues("insufficient_credit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.denialsTotal.WithLabelValues("entry")))
	assert.Equal(t, 30.0, testutil.ToFloat64(collector.creditsRecharged))
}

func TestTransportMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewCollectorWithRegistry(registry)

	collector.RecordUpdate("text", 10*time.Millisecond)
	collector.RecordSendError()
	collector.SetQueueDepth(3, 7)
	collector.RecordPayment("applied")

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.updatesTotal.WithLabelValues("text")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.sendErrorsTotal))
	assert.Equal(t, 7.0, testutil.ToFloat64(collector.workerQueueDepth.WithLabelValues("3")))

	families, err := registry.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["payments_processed_total"])
	assert.True(t, names["telegram_update_duration_seconds"])
}

func TestNilCollectorIsNoop(t *testing.T) {
	var collector *Collector
	assert.NotPanics(t, func() {
		collector.SessionStarted("chat", "basic")
		collector.SessionEnded("command")
		collector.TurnCompleted("chat", "basic", 1, time.Second)
		collector.TurnFailed("chat", "basic", "ledger")
		collector.Denied("turn")
		collector.Recharged(1)
		collector.RecordUpdate("text", time.Second)
		collector.RecordSendError()
		collector.SetQueueDepth(0, 1)
		collector.RecordPayment("applied")
	})
}
