package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "closer"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	chainReads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_reads_total",
			Help:      "Contract reads by function and result.",
		},
		[]string{"function", "result"},
	)

	transactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Submitted transactions by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	nonCriticalFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "noncritical_failures_total",
			Help:      "Failed best-effort tasks by name.",
		},
		[]string{"task"},
	)

	saleSupply = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sale_total_supply",
		Help:      "Last observed DAO token total supply.",
	})

	unitPrice = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "curve_unit_price",
		Help:      "Bonding curve unit price at the last observed supply.",
	})

	pendingTransactions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_transactions",
		Help:      "Transactions awaiting a receipt.",
	})
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			chainReads,
			transactions,
			nonCriticalFailures,
			saleSupply,
			unitPrice,
			pendingTransactions,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncChainRead(function string, err error) {
	chainReads.WithLabelValues(function, result(err)).Inc()
}

// IncTx counts a transaction outcome: submitted, confirmed, reverted, failed or dropped.
func IncTx(kind, outcome string) {
	transactions.WithLabelValues(kind, outcome).Inc()
}

func IncNonCriticalFailure(task string) {
	nonCriticalFailures.WithLabelValues(task).Inc()
}

// SetSale records the latest supply and the unit price derived from it.
func SetSale(supply, price float64) {
	saleSupply.Set(supply)
	unitPrice.Set(price)
}

func SetPending(n int) {
	pendingTransactions.Set(float64(n))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
