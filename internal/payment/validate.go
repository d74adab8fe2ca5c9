package payment

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"paylink.io/internal/token"
	"paylink.io/pkg/xerr"
)

var (
	validate  = validator.New()
	addressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	// plain decimal only: no sign, no exponent, at most 78 digits on
	// either side of the point (uint256 has 78)
	amountRe = regexp.MustCompile(`^[0-9]{1,78}(\.[0-9]{1,78})?$`)
)

// Validate checks req against the single supported token. Checks run in
// order: required fields, amount, token. It has no side effects and can be
// re-run after the payer edits an open amount.
func Validate(req PaymentRequest, supported token.Meta) error {
	if err := validate.Struct(req); err != nil {
		return xerr.Wrap(err, xerr.InvalidFormat, "")
	}

	if _, err := parseAmount(req.Amount); err != nil {
		return xerr.Wrap(err, xerr.InvalidAmount, "")
	}

	if req.TokenSymbol != supported.Symbol {
		return xerr.New(xerr.UnsupportedToken, fmt.Sprintf("unsupported token type %q", req.TokenSymbol))
	}
	if !supported.SameContract(req.TokenContract) {
		return xerr.New(xerr.UnsupportedToken, "token contract does not match "+supported.Symbol)
	}
	if req.TokenDecimals != supported.Decimals {
		return xerr.New(xerr.UnsupportedToken, fmt.Sprintf("%s uses %d decimals", supported.Symbol, supported.Decimals))
	}
	return nil
}

// ParseAmount parses a non-negative decimal amount string.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := parseAmount(s)
	if err != nil {
		return decimal.Zero, xerr.Wrap(err, xerr.InvalidAmount, "")
	}
	return d, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if strings.HasPrefix(s, "-") {
		return decimal.Zero, fmt.Errorf("amount %s is negative", s)
	}
	if !amountRe.MatchString(s) {
		return decimal.Zero, fmt.Errorf("amount %q is not a plain decimal number", s)
	}
	return decimal.NewFromString(s)
}

// IsValidAddress reports whether s looks like a 20-byte hex account address.
func IsValidAddress(s string) bool {
	return addressRe.MatchString(s)
}

// FormatAddress shortens an address for display: 0x1234...abcd.
func FormatAddress(s string) string {
	if len(s) < 10 {
		return s
	}
	return s[:6] + "..." + s[len(s)-4:]
}
