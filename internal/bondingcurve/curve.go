// Package bondingcurve prices the token sale along a fixed rational curve
// p(s) = c + a/s² + b/s³ over the current supply s.
package bondingcurve

import (
	"errors"

	"github.com/shopspring/decimal"
)

// divPrecision is the number of fractional digits kept by intermediate divisions.
const divPrecision = 36

// Inputs are bounded so every intermediate stays within a few hundred digits:
// at most maxFraction fractional digits and maxIntDigits integer digits.
const (
	maxFraction  = divPrecision
	maxIntDigits = 60
)

var (
	ErrNonPositiveSupply = errors.New("bondingcurve: supply must be positive")
	ErrNegativeAmount    = errors.New("bondingcurve: amount must not be negative")
	ErrNegativeCoeff     = errors.New("bondingcurve: coefficients must not be negative")
	ErrOutOfRange        = errors.New("bondingcurve: value out of range")
)

// checkRange rejects values whose scale or magnitude would make the curve
// arithmetic unbounded.
func checkRange(d decimal.Decimal) error {
	if d.IsZero() {
		return nil
	}
	exp := int64(d.Exponent())
	if exp < -maxFraction {
		return ErrOutOfRange
	}
	if int64(d.NumDigits())+exp > maxIntDigits {
		return ErrOutOfRange
	}
	return nil
}

var two = decimal.NewFromInt(2)

// Curve holds the fixed coefficients of the sale curve.
type Curve struct {
	A decimal.Decimal `json:"a" yaml:"a"`
	B decimal.Decimal `json:"b" yaml:"b"`
	C decimal.Decimal `json:"c" yaml:"c"`
}

// New builds a curve from float coefficients.
func New(a, b, c float64) Curve {
	return Curve{
		A: decimal.NewFromFloat(a),
		B: decimal.NewFromFloat(b),
		C: decimal.NewFromFloat(c),
	}
}

// Validate rejects negative coefficients; with them the cost is no longer
// monotonic in the purchased amount. Coefficients obey the same range
// bounds as supply and amount.
func (c Curve) Validate() error {
	if c.A.IsNegative() || c.B.IsNegative() || c.C.IsNegative() {
		return ErrNegativeCoeff
	}
	for _, coeff := range []decimal.Decimal{c.A, c.B, c.C} {
		if err := checkRange(coeff); err != nil {
			return err
		}
	}
	return nil
}

// CurrentUnitPrice returns c + a/s² + b/s³ rounded to 2 decimals.
func (c Curve) CurrentUnitPrice(supply decimal.Decimal) (decimal.Decimal, error) {
	if !supply.IsPositive() {
		return decimal.Zero, ErrNonPositiveSupply
	}
	if err := checkRange(supply); err != nil {
		return decimal.Zero, err
	}
	s2 := supply.Mul(supply)
	s3 := s2.Mul(supply)

	price := c.C.
		Add(c.A.DivRound(s2, divPrecision)).
		Add(c.B.DivRound(s3, divPrecision))
	return price.Round(2), nil
}

// TotalPrice returns the cost of buying amount tokens starting at supply:
// the integral of the unit price from s to s+n, truncated to an integer.
//
//	c·n - a·(1/(s+n) - 1/s) - (b/2)·(1/(s+n)² - 1/s²)
//
// Both reciprocal differences are folded over a common denominator so that
// large supplies do not cancel to zero.
func (c Curve) TotalPrice(supply, amount decimal.Decimal) (decimal.Decimal, error) {
	if !supply.IsPositive() {
		return decimal.Zero, ErrNonPositiveSupply
	}
	if amount.IsNegative() {
		return decimal.Zero, ErrNegativeAmount
	}
	if err := checkRange(supply); err != nil {
		return decimal.Zero, err
	}
	if err := checkRange(amount); err != nil {
		return decimal.Zero, err
	}
	if amount.IsZero() {
		return decimal.Zero, nil
	}

	s := supply
	n := amount
	end := s.Add(n)

	// -a·(1/(s+n) - 1/s) = a·n / (s·(s+n))
	aTerm := c.A.Mul(n).DivRound(s.Mul(end), divPrecision)

	// -(b/2)·(1/(s+n)² - 1/s²) = (b/2)·n·(2s+n) / (s²·(s+n)²)
	num := c.B.Mul(n).Mul(two.Mul(s).Add(n))
	den := two.Mul(s.Mul(s)).Mul(end.Mul(end))
	bTerm := num.DivRound(den, divPrecision)

	total := c.C.Mul(n).Add(aTerm).Add(bTerm)
	return total.Truncate(0), nil
}
