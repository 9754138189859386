package chain

import (
	"errors"
	"fmt"
	"math/big"

	"closer/internal/models"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var (
	ErrNegativeAmount = errors.New("amount must not be negative")
	ErrAmountOverflow = errors.New("amount does not fit in uint256")
	ErrTooPrecise     = errors.New("amount has more than 18 decimals")
)

// ToWei converts a token amount into its 18-decimals integer form.
func ToWei(amount decimal.Decimal) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, ErrNegativeAmount
	}
	wei := amount.Shift(models.TokenDecimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("%w: %s", ErrTooPrecise, amount)
	}
	out := wei.BigInt()
	if _, overflow := uint256.FromBig(out); overflow {
		return nil, ErrAmountOverflow
	}
	return out, nil
}

// FromWei converts an 18-decimals integer into a token amount.
func FromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -models.TokenDecimals)
}

// asUint256 checks that an unpacked value is an unsigned 256-bit integer.
func asUint256(v any) (*big.Int, error) {
	b, ok := v.(*big.Int)
	if !ok || b == nil {
		return nil, fmt.Errorf("unexpected return type %T", v)
	}
	u, overflow := uint256.FromBig(b)
	if overflow || b.Sign() < 0 {
		return nil, ErrAmountOverflow
	}
	return u.ToBig(), nil
}
