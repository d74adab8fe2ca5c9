// Package token describes fungible tokens and converts between human
// amounts and integer base units.
package token

import (
	"errors"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativeAmount = errors.New("token: amount is negative")
	ErrPrecisionLoss  = errors.New("token: amount has more decimals than the token supports")
	ErrAmountTooLarge = errors.New("token: amount does not fit in 256 bits")
)

// MaxBaseUnits is the largest amount an ERC-20 transfer can carry.
var MaxBaseUnits = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// maxBaseDigits is the number of decimal digits in MaxBaseUnits.
const maxBaseDigits = 78

// Meta identifies a token. An empty Contract means the chain's native coin.
type Meta struct {
	Symbol   string `json:"symbol" mapstructure:"symbol" validate:"required"`
	Contract string `json:"contract" mapstructure:"contract"`
	Decimals int32  `json:"decimals" mapstructure:"decimals" validate:"gte=0,lte=36"`
}

func (m Meta) IsNative() bool { return m.Contract == "" }

// SameContract compares contract addresses case-insensitively.
func (m Meta) SameContract(contract string) bool {
	return strings.EqualFold(m.Contract, contract)
}

// ToBaseUnits scales amount by 10^decimals. It fails instead of rounding,
// and for results above MaxBaseUnits. Magnitudes are checked on the digit
// count and exponent before scaling, so "1e20000000" fails without being
// expanded.
func ToBaseUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, ErrNegativeAmount
	}
	if amount.IsZero() {
		return new(big.Int), nil
	}

	exp := int64(amount.Exponent()) + int64(decimals)
	digits := int64(amount.NumDigits())
	if digits+exp > maxBaseDigits {
		return nil, ErrAmountTooLarge
	}
	// more fractional digits than the coefficient has trailing zeros
	if -exp > digits {
		return nil, ErrPrecisionLoss
	}

	scaled := amount.Shift(decimals)
	if !scaled.IsInteger() {
		return nil, ErrPrecisionLoss
	}
	raw := scaled.BigInt()
	if raw.Cmp(MaxBaseUnits) > 0 {
		return nil, ErrAmountTooLarge
	}
	return raw, nil
}

func FromBaseUnits(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}

// Format renders raw for display: trailing zeros trimmed, at least two
// fractional digits ("25.5" -> "25.50", "0.000123" kept as is).
func Format(raw *big.Int, decimals int32) string {
	d := FromBaseUnits(raw, decimals)
	s := d.String()
	dot := strings.IndexByte(s, '.')
	if dot < 0 || len(s)-dot-1 < 2 {
		return d.StringFixed(2)
	}
	return s
}
