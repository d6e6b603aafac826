package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type ledgerMetrics struct {
	submissionsCreated *prometheus.CounterVec
	submissionsUpdated prometheus.Counter
	submissionsDeleted prometheus.Counter
	rateLimited        *prometheus.CounterVec
	forbidden          prometheus.Counter
	storageErrors      prometheus.Counter
	reconcileDrift     prometheus.Counter
}

func (m *ledgerMetrics) init(promRegistry prometheus.Registerer) {
	if promRegistry == nil {
		// Unregistered collectors still count; they are just not exported.
		promRegistry = prometheus.NewRegistry()
	}
	promautoFactory := promauto.With(promRegistry)
	m.submissionsCreated = promautoFactory.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_submissions_created_total",
		Help: "submissions accepted into the ledger",
	}, []string{"type"})
	m.submissionsUpdated = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "ledger_submissions_updated_total",
		Help: "submissions edited by their owner or an admin",
	})
	m.submissionsDeleted = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "ledger_submissions_deleted_total",
		Help: "submissions soft-deleted with their points reversed",
	})
	m.rateLimited = promautoFactory.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_rate_limited_total",
		Help: "writes rejected because the daily slot was taken",
	}, []string{"type"})
	m.forbidden = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "ledger_forbidden_total",
		Help: "writes rejected by the ownership check",
	})
	m.storageErrors = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "ledger_storage_errors_total",
		Help: "operations that failed in the storage layer",
	})
	m.reconcileDrift = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "ledger_reconcile_drift_total",
		Help: "member totals found out of step with the ledger",
	})
}
