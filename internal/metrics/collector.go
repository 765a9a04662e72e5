package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the Prometheus metrics of the bot. A nil *Collector is a
// valid no-op sink.
type Collector struct {
	// Session engine
	turnsTotal         *prometheus.CounterVec
	creditsCharged     *prometheus.CounterVec
	denialsTotal       *prometheus.CounterVec
	completionDuration *prometheus.HistogramVec
	sessionsStarted    *prometheus.CounterVec
	sessionsEnded      *prometheus.CounterVec
	creditsRecharged   prometheus.Counter

	// Transport
	updatesTotal      *prometheus.CounterVec
	updateDuration    *prometheus.HistogramVec
	sendErrorsTotal   prometheus.Counter
	workerQueueDepth  *prometheus.GaugeVec
	paymentsProcessed *prometheus.CounterVec
}

// NewCollector registers on the default registry
func NewCollector() *Collector {
	return NewCollectorWithRegistry(nil)
}

// NewCollectorWithRegistry registers on a custom registry; nil means the default one
func NewCollectorWithRegistry(registry *prometheus.Registry) *Collector {
	var factory promauto.Factory
	if registry == nil {
		factory = promauto.With(prometheus.DefaultRegisterer)
	} else {
		factory = promauto.With(registry)
	}

	return &Collector{
		turnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_turns_total",
				Help: "Assistant turns by mode, tier and outcome",
			},
			[]string{"mode", "tier", "status"},
		),

		creditsCharged: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credits_charged_total",
				Help: "Credits deducted for successful turns",
			},
			[]string{"tier"},
		),

		denialsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_denials_total",
				Help: "Requests denied for insufficient credit",
			},
			[]string{"stage"},
		),

		completionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "completion_duration_seconds",
				Help:    "Time spent waiting for successful completions",
				Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60},
			},
			[]string{"tier"},
		),

		sessionsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessions_started_total",
				Help: "Conversations armed by mode entry",
			},
			[]string{"mode", "tier"},
		),

		sessionsEnded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessions_ended_total",
				Help: "Conversations returned to idle, by reason",
			},
			[]string{"reason"},
		),

		creditsRecharged: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "credits_recharged_total",
				Help: "Credits added by recharges",
			},
		),

		updatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telegram_updates_total",
				Help: "Telegram updates processed by event kind",
			},
			[]string{"kind"},
		),

		updateDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "telegram_update_duration_seconds",
				Help:    "Time spent handling one Telegram update",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),

		sendErrorsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "telegram_send_errors_total",
				Help: "Outbound Telegram messages that failed to send",
			},
		),

		workerQueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "worker_queue_depth",
				Help: "Updates waiting in each worker shard",
			},
			[]string{"worker"},
		),

		paymentsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payments_processed_total",
				Help: "Stripe payments applied to the ledger, by outcome",
			},
			[]string{"status"},
		),
	}
}

func (c *Collector) SessionStarted(mode, tier string) {
	if c == nil {
		return
	}
	c.sessionsStarted.WithLabelValues(mode, tier).Inc()
}

func (c *Collector) SessionEnded(reason string) {
	if c == nil {
		return
	}
	c.sessionsEnded.WithLabelValues(reason).Inc()
}

func (c *Collector) TurnCompleted(mode, tier string, cost int64, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.turnsTotal.WithLabelValues(mode, tier, "success").Inc()
	c.creditsCharged.WithLabelValues(tier).Add(float64(cost))
	c.completionDuration.WithLabelValues(tier).Observe(elapsed.Seconds())
}

// TurnFailed counts a turn that was not charged; reason is the failing stage
func (c *Collector) TurnFailed(mode, tier, reason string) {
	if c == nil {
		return
	}
	c.turnsTotal.WithLabelValues(mode, tier, reason+"_error").Inc()
}

func (c *Collector) Denied(stage string) {
	if c == nil {
		return
	}
	c.denialsTotal.WithLabelValues(stage).Inc()
}

func (c *Collector) Recharged(credits int64) {
	if c == nil {
		return
	}
	c.creditsRecharged.Add(float64(credits))
}

// RecordUpdate counts one handled Telegram update
func (c *Collector) RecordUpdate(kind string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.updatesTotal.WithLabelValues(kind).Inc()
	c.updateDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (c *Collector) RecordSendError() {
	if c == nil {
		return
	}
	c.sendErrorsTotal.Inc()
}

func (c *Collector) SetQueueDepth(worker, depth int) {
	if c == nil {
		return
	}
	c.workerQueueDepth.WithLabelValues(strconv.Itoa(worker)).Set(float64(depth))
}

func (c *Collector) RecordPayment(status string) {
	if c == nil {
		return
	}
	c.paymentsProcessed.WithLabelValues(status).Inc()
}
