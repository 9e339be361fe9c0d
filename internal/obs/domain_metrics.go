package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// TabsOpen tracks the number of open register tabs.
	TabsOpen prometheus.Gauge
	// SessionCommands counts register commands by command name.
	SessionCommands *prometheus.CounterVec
	// SessionPersistFailures counts failed register snapshot writes.
	SessionPersistFailures prometheus.Counter
	// CheckoutTotal counts checkout submissions by outcome.
	CheckoutTotal *prometheus.CounterVec
	// InvoiceRequestDuration records invoicing upstream latency in milliseconds.
	InvoiceRequestDuration *prometheus.HistogramVec
	// RefreshTasksEnqueued counts refresh tasks accepted onto the queue by kind.
	RefreshTasksEnqueued *prometheus.CounterVec
	// RefreshTaskRetries counts failed refresh deliveries that were rescheduled.
	RefreshTaskRetries *prometheus.CounterVec
	// RefreshTasksDeadLettered counts refresh tasks buried after exhausting retries.
	RefreshTasksDeadLettered *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		TabsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tabs_open",
			Help:      "Number of open register tabs.",
		})
		SessionCommands = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_commands_total",
			Help:      "Count of register commands by command name.",
		}, []string{"command"})
		SessionPersistFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_persist_failures_total",
			Help:      "Number of register snapshot writes that failed.",
		})
		CheckoutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_total",
			Help:      "Count of checkout submissions by outcome.",
		}, []string{"result"})
		InvoiceRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invoice_request_duration_ms",
			Help:      "Latency of invoicing upstream calls in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"result"})
		RefreshTasksEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_tasks_enqueued_total",
			Help:      "Refresh tasks accepted onto the queue, by kind.",
		}, []string{"kind"})
		RefreshTaskRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_task_retries_total",
			Help:      "Refresh deliveries that failed and were rescheduled, by kind.",
		}, []string{"kind"})
		RefreshTasksDeadLettered = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_tasks_dead_lettered_total",
			Help:      "Refresh tasks moved to the dead letter list, by kind.",
		}, []string{"kind"})

		mustRegisterCollector(reg, TabsOpen, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Gauge); ok {
				TabsOpen = v
			}
		})
		mustRegisterCollector(reg, SessionCommands, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SessionCommands = v
			}
		})
		mustRegisterCollector(reg, SessionPersistFailures, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				SessionPersistFailures = v
			}
		})
		mustRegisterCollector(reg, CheckoutTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CheckoutTotal = v
			}
		})
		mustRegisterCollector(reg, InvoiceRequestDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				InvoiceRequestDuration = v
			}
		})
		mustRegisterCollector(reg, RefreshTasksEnqueued, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				RefreshTasksEnqueued = v
			}
		})
		mustRegisterCollector(reg, RefreshTaskRetries, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				RefreshTaskRetries = v
			}
		})
		mustRegisterCollector(reg, RefreshTasksDeadLettered, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				RefreshTasksDeadLettered = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
