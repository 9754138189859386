package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint")
	})
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(transactions.WithLabelValues("buy", "confirmed"))
	IncTx("buy", "confirmed")
	assert.Equal(t, before+1, testutil.ToFloat64(transactions.WithLabelValues("buy", "confirmed")))

	IncChainRead("totalSupply", errors.New("down"))
	assert.Equal(t, float64(1), testutil.ToFloat64(chainReads.WithLabelValues("totalSupply", "error")))

	IncNonCriticalFailure("referral")
	assert.Equal(t, float64(1), testutil.ToFloat64(nonCriticalFailures.WithLabelValues("referral")))
}

func TestGauges(t *testing.T) {
	SetSale(1000, 202)
	assert.Equal(t, float64(1000), testutil.ToFloat64(saleSupply))
	assert.Equal(t, float64(202), testutil.ToFloat64(unitPrice))

	SetPending(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(pendingTransactions))
}
