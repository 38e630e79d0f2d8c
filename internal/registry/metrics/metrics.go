package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"propledger/internal/registry/models"
)

// Metrics provides observability for the registry.
// Tracks operation outcomes and durations, settlements and outbox delivery.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	OperationDuration *prometheus.HistogramVec
	OperationErrors   *prometheus.CounterVec
	PurchasesSettled  prometheus.Counter
	SettledEther      *prometheus.CounterVec
	EventsPublished   prometheus.Counter
	PublishFailures   prometheus.Counter
	OutboxLag         prometheus.Gauge
}

// New creates registry metrics registered with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "propledger_operation_duration_seconds",
			Help:    "Duration of registry operations by operation and outcome",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation", "outcome"}),
		OperationErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "propledger_operation_errors_total",
			Help: "Registry operation failures by operation and error code",
		}, []string{"operation", "code"}),
		PurchasesSettled: f.NewCounter(prometheus.CounterOpts{
			Name: "propledger_purchases_settled_total",
			Help: "Total number of report purchases settled",
		}),
		SettledEther: f.NewCounterVec(prometheus.CounterOpts{
			Name: "propledger_settled_ether_total",
			Help: "Value distributed by settlement share, in ether (approximate)",
		}, []string{"share"}),
		EventsPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "propledger_outbox_events_published_total",
			Help: "Total number of outbox events delivered",
		}),
		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "propledger_outbox_publish_failures_total",
			Help: "Total number of failed outbox delivery attempts",
		}),
		OutboxLag: f.NewGauge(prometheus.GaugeOpts{
			Name: "propledger_outbox_pending_events",
			Help: "Undelivered events seen by the last outbox poll",
		}),
	}
}

// ObserveOperation records the duration of an operation started at start.
// code is empty on success.
func (m *Metrics) ObserveOperation(op string, start time.Time, code string) {
	if m == nil {
		return
	}
	outcome := "ok"
	if code != "" {
		outcome = "error"
		m.OperationErrors.WithLabelValues(op, code).Inc()
	}
	m.OperationDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}

// RecordSettlement records a settled purchase and its transfers.
func (m *Metrics) RecordSettlement(transfers []models.Transfer) {
	if m == nil {
		return
	}
	m.PurchasesSettled.Inc()
	for _, t := range transfers {
		m.SettledEther.WithLabelValues(string(t.Share)).Add(t.Amount.EtherFloat64())
	}
}

func (m *Metrics) RecordPublished(n int) {
	if m == nil {
		return
	}
	m.EventsPublished.Add(float64(n))
}

func (m *Metrics) RecordPublishFailure() {
	if m == nil {
		return
	}
	m.PublishFailures.Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.OutboxLag.Set(float64(n))
}
