package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "event_voucher"

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	// LeaseOps counts lease operations by op (acquire, renew, release) and outcome.
	LeaseOps *prometheus.CounterVec
	// Claims counts voucher claims by outcome (issued, sold_out, rejected, error).
	Claims *prometheus.CounterVec
	// EnqueueFailures counts after-commit claims whose notification job was lost.
	EnqueueFailures prometheus.Counter
	// Deliveries counts settled delivery attempts by result.
	Deliveries *prometheus.CounterVec
	// SweptLeases counts leases cleared by the sweeper.
	SweptLeases prometheus.Counter
	// QueueDepth reports the last observed job count per status.
	QueueDepth *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		LeaseOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lease_operations_total",
			Help:      "Lease operations by op and outcome.",
		}, []string{"op", "outcome"}),
		Claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voucher_claims_total",
			Help:      "Voucher claims by outcome.",
		}, []string{"outcome"}),
		EnqueueFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_enqueue_failures_total",
			Help:      "Issued vouchers whose notification job could not be enqueued.",
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_deliveries_total",
			Help:      "Notification delivery attempts by result.",
		}, []string{"result"}),
		SweptLeases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_leases_total",
			Help:      "Expired leases cleared by the sweeper.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notification_jobs",
			Help:      "Notification jobs by status at the last poll.",
		}, []string{"status"}),
	}
	m.Registry.MustRegister(
		m.LeaseOps,
		m.Claims,
		m.EnqueueFailures,
		m.Deliveries,
		m.SweptLeases,
		m.QueueDepth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
