// Package payment encodes, decodes and validates the payment request
// payload exchanged out-of-band through QR codes or text.
package payment

import (
	"paylink.io/internal/token"
)

// SchemaTag marks a JSON object as a payment request. It is the only field
// Decode relies on to tell payment payloads from other QR content.
const SchemaTag = "MOCKUSDC_PAYMENT"

// PaymentRequest is an immutable value; the With* methods return copies.
type PaymentRequest struct {
	SchemaTag     string `json:"type"`
	Recipient     string `json:"to" validate:"required"`
	Amount        string `json:"amount" validate:"required"`
	TokenSymbol   string `json:"token"`
	TokenContract string `json:"contract"`
	TokenDecimals int32  `json:"decimals"`
	Description   string `json:"description,omitempty"`
	CreatedAt     int64  `json:"timestamp"` // epoch ms, ordering only
	ChainID       int64  `json:"chainId"`
}

// IsOpenAmount reports whether the payer chooses the amount ("0").
func (r PaymentRequest) IsOpenAmount() bool {
	d, err := parseAmount(r.Amount)
	return err == nil && d.IsZero()
}

func (r PaymentRequest) WithAmount(amount string) PaymentRequest {
	r.Amount = amount
	return r
}

func (r PaymentRequest) WithDescription(description string) PaymentRequest {
	r.Description = description
	return r
}

// Token returns the token metadata the request names.
func (r PaymentRequest) Token() token.Meta {
	return token.Meta{Symbol: r.TokenSymbol, Contract: r.TokenContract, Decimals: r.TokenDecimals}
}
