package bondingcurve

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestCurrentUnitPrice(t *testing.T) {
	tests := []struct {
		name   string
		curve  Curve
		supply string
		want   string
	}{
		{"round numbers", New(1_000_000, 1_000_000_000, 200), "1000", "202"},
		{"rounded to cents", New(25_000_000, 100_000_000, 250), "2000", "256.26"},
		{"constant curve", New(0, 0, 3.5), "12345", "3.5"},
		{"fractional supply", New(1, 1, 0), "0.5", "12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.curve.CurrentUnitPrice(d(tt.supply))
			require.NoError(t, err)
			assert.True(t, got.Equal(d(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestCurrentUnitPrice_NonPositiveSupply(t *testing.T) {
	c := New(1, 1, 1)

	_, err := c.CurrentUnitPrice(decimal.Zero)
	assert.ErrorIs(t, err, ErrNonPositiveSupply)

	_, err = c.CurrentUnitPrice(d("-5"))
	assert.ErrorIs(t, err, ErrNonPositiveSupply)
}

func TestTotalPrice(t *testing.T) {
	c := New(1_000_000, 1_000_000_000, 200)

	t.Run("ReferenceValue", func(t *testing.T) {
		// 200*1000 + 1e6*(1/1000-1/2000) + 5e8*(1/1000² - 1/2000²) = 200000 + 500 + 375
		got, err := c.TotalPrice(d("1000"), d("1000"))
		require.NoError(t, err)
		assert.Equal(t, "200875", got.String())
	})

	t.Run("ZeroAmount", func(t *testing.T) {
		got, err := c.TotalPrice(d("1000"), decimal.Zero)
		require.NoError(t, err)
		assert.True(t, got.IsZero())
	})

	t.Run("Truncates", func(t *testing.T) {
		got, err := New(0, 0, 1.9).TotalPrice(d("10"), d("1"))
		require.NoError(t, err)
		assert.Equal(t, "1", got.String())
	})

	t.Run("NegativeAmount", func(t *testing.T) {
		_, err := c.TotalPrice(d("1000"), d("-1"))
		assert.ErrorIs(t, err, ErrNegativeAmount)
	})

	t.Run("NonPositiveSupply", func(t *testing.T) {
		_, err := c.TotalPrice(decimal.Zero, d("1"))
		assert.ErrorIs(t, err, ErrNonPositiveSupply)
	})

	t.Run("LargeSupplyKeepsCurveTerms", func(t *testing.T) {
		big := New(1e18, 0, 0)
		got, err := big.TotalPrice(d("1000000000"), d("1000000000"))
		require.NoError(t, err)
		// a·n/(s(s+n)) = 1e18·1e9/(1e9·2e9) = 5e8
		assert.Equal(t, "500000000", got.String())
	})
}

func TestTotalPrice_MonotonicAndNonNegative(t *testing.T) {
	curves := []Curve{
		New(1_000_000, 1_000_000_000, 200),
		New(25_000_000, 100_000_000, 250),
		New(0, 0, 1),
		New(7, 3, 0),
	}
	supplies := []string{"0.1", "1", "37", "1000", "250000"}
	amounts := []string{"0", "0.5", "1", "2", "10", "99", "1000", "50000"}

	for _, c := range curves {
		for _, s := range supplies {
			prev := decimal.Zero
			for _, a := range amounts {
				got, err := c.TotalPrice(d(s), d(a))
				require.NoError(t, err)
				assert.False(t, got.IsNegative(), "negative cost s=%s a=%s", s, a)
				assert.True(t, got.GreaterThanOrEqual(prev), "cost decreased s=%s a=%s: %s < %s", s, a, got, prev)
				prev = got
			}
		}
	}
}

func TestOutOfRange(t *testing.T) {
	c := New(1_000_000, 1_000_000_000, 200)

	for _, supply := range []string{"1e-20000000", "1e900000000", "0.0000000000000000000000000000000000001", "1e60"} {
		t.Run(supply, func(t *testing.T) {
			_, err := c.CurrentUnitPrice(d(supply))
			assert.ErrorIs(t, err, ErrOutOfRange)

			_, err = c.TotalPrice(d(supply), d("1"))
			assert.ErrorIs(t, err, ErrOutOfRange)
		})
	}

	t.Run("Amount", func(t *testing.T) {
		_, err := c.TotalPrice(d("1000"), d("1e900000000"))
		assert.ErrorIs(t, err, ErrOutOfRange)

		_, err = c.TotalPrice(d("1000"), d("1e-20000000"))
		assert.ErrorIs(t, err, ErrOutOfRange)
	})

	t.Run("Boundaries", func(t *testing.T) {
		_, err := c.CurrentUnitPrice(d("1e59"))
		assert.NoError(t, err)

		_, err = c.CurrentUnitPrice(d("0.000000000000000000000000000000000001"))
		assert.NoError(t, err)

		_, err = c.TotalPrice(d("1e59"), d("1e59"))
		assert.NoError(t, err)
	})
}

func TestValidate(t *testing.T) {
	assert.NoError(t, New(1, 2, 3).Validate())
	assert.ErrorIs(t, New(-1, 0, 0).Validate(), ErrNegativeCoeff)
	assert.ErrorIs(t, New(0, 0, -0.01).Validate(), ErrNegativeCoeff)
	assert.ErrorIs(t, New(1e70, 0, 0).Validate(), ErrOutOfRange)
}
