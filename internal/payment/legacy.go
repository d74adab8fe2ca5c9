package payment

import (
	"strings"

	"github.com/segmentio/encoding/json"
	"paylink.io/internal/token"
)

const legacyBusinessTag = "payment_request"

type legacyBusinessRequest struct {
	Type        string          `json:"type"`
	Amount      json.RawMessage `json:"amount"` // number or string
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	Recipient   string          `json:"recipient"`
	Timestamp   int64           `json:"timestamp"`
}

// LegacyBusinessRequest adapts the older business QR shape
// {"type":"payment_request","amount":12.5,"currency":"USD","recipient":...}.
// USD amounts are settled in the dollar stablecoin meta; recipients that
// are not account addresses (e.g. e-mails) are not payable and rejected.
func LegacyBusinessRequest(meta token.Meta, chainID int64) Adapter {
	return func(raw string) (string, bool) {
		raw = strings.TrimSpace(raw)
		if !strings.HasPrefix(raw, "{") || !strings.Contains(raw, legacyBusinessTag) {
			return "", false
		}

		var old legacyBusinessRequest
		if err := json.Unmarshal([]byte(raw), &old); err != nil || old.Type != legacyBusinessTag {
			return "", false
		}
		if old.Currency != "" && !strings.EqualFold(old.Currency, "USD") {
			return "", false
		}
		if !IsValidAddress(old.Recipient) {
			return "", false
		}

		amount := strings.Trim(string(old.Amount), `"`)
		if amount == "" || amount == "null" {
			amount = "0"
		}
		req := PaymentRequest{
			SchemaTag:     SchemaTag,
			Recipient:     old.Recipient,
			Amount:        amount,
			TokenSymbol:   meta.Symbol,
			TokenContract: meta.Contract,
			TokenDecimals: meta.Decimals,
			Description:   old.Description,
			CreatedAt:     old.Timestamp,
			ChainID:       chainID,
		}
		b, err := json.Marshal(req)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}
