package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type vaultMetrics struct {
	deposits    *prometheus.CounterVec
	withdrawals *prometheus.CounterVec
	reports     *prometheus.CounterVec
	debtUpdates prometheus.Counter
	events      *prometheus.CounterVec
}

var (
	vaultMetricsOnce sync.Once
	vaultRegistry    *vaultMetrics
)

// VaultMetrics returns the lazily-initialised vault metrics registry.
func VaultMetrics() *vaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &vaultMetrics{
			deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dragonvault",
				Subsystem: "ledger",
				Name:      "deposits_total",
				Help:      "Total deposits segmented by ledger.",
			}, []string{"ledger"}),
			withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dragonvault",
				Subsystem: "ledger",
				Name:      "withdrawals_total",
				Help:      "Total withdrawals segmented by ledger.",
			}, []string{"ledger"}),
			reports: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dragonvault",
				Subsystem: "ledger",
				Name:      "reports_total",
				Help:      "Total strategy reports segmented by ledger.",
			}, []string{"ledger"}),
			debtUpdates: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "dragonvault",
				Subsystem: "ledger",
				Name:      "debt_updates_total",
				Help:      "Total debt rebalances processed by the vault allocator.",
			}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dragonvault",
				Subsystem: "ledger",
				Name:      "events_total",
				Help:      "All emitted ledger events segmented by event type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(
			vaultRegistry.deposits,
			vaultRegistry.withdrawals,
			vaultRegistry.reports,
			vaultRegistry.debtUpdates,
			vaultRegistry.events,
		)
	})
	return vaultRegistry
}

// RecordDeposit counts a completed deposit on the named ledger.
func (m *vaultMetrics) RecordDeposit(ledger string) {
	m.deposits.WithLabelValues(ledger).Inc()
}

// RecordWithdrawal counts a completed withdrawal on the named ledger.
func (m *vaultMetrics) RecordWithdrawal(ledger string) {
	m.withdrawals.WithLabelValues(ledger).Inc()
}

// RecordReport counts a processed report on the named ledger.
func (m *vaultMetrics) RecordReport(ledger string) {
	m.reports.WithLabelValues(ledger).Inc()
}

// RecordDebtUpdate counts a debt rebalance.
func (m *vaultMetrics) RecordDebtUpdate() {
	m.debtUpdates.Inc()
}

// RecordEvent counts a raw emitted event by type.
func (m *vaultMetrics) RecordEvent(eventType string) {
	m.events.WithLabelValues(eventType).Inc()
}
