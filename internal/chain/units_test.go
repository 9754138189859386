package chain

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToWei(t *testing.T) {
	wei, err := ToWei(decimal.RequireFromString("1.5"))
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", wei.String())

	_, err = ToWei(decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, ErrNegativeAmount)

	_, err = ToWei(decimal.RequireFromString("0.0000000000000000001"))
	assert.ErrorIs(t, err, ErrTooPrecise)

	huge := decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 260), 0)
	_, err = ToWei(huge)
	assert.ErrorIs(t, err, ErrAmountOverflow)
}

func TestFromWei(t *testing.T) {
	assert.True(t, FromWei(nil).IsZero())
	assert.Equal(t, "0.25", FromWei(big.NewInt(250_000_000_000_000_000)).String())
}

func TestAsUint256(t *testing.T) {
	v, err := asUint256(big.NewInt(42))
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Int64())

	_, err = asUint256("42")
	assert.Error(t, err)

	_, err = asUint256(big.NewInt(-1))
	assert.ErrorIs(t, err, ErrAmountOverflow)
}
