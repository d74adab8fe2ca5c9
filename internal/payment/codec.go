package payment

import (
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
	"paylink.io/internal/token"
	"paylink.io/pkg/xerr"
)

var nowFunc = time.Now

// Encode builds the wire payload for a request and stamps it with the
// current time.
func Encode(recipient, amount string, meta token.Meta, description string, chainID int64) string {
	req := PaymentRequest{
		SchemaTag:     SchemaTag,
		Recipient:     recipient,
		Amount:        amount,
		TokenSymbol:   meta.Symbol,
		TokenContract: meta.Contract,
		TokenDecimals: meta.Decimals,
		Description:   description,
		CreatedAt:     nowFunc().UnixMilli(),
		ChainID:       chainID,
	}
	// a struct of strings and ints always marshals
	b, _ := json.Marshal(req)
	return string(b)
}

// Decode parses raw. Anything that is not a JSON object carrying SchemaTag
// yields a NotAPaymentPayload error; unknown fields are ignored.
func Decode(raw string) (PaymentRequest, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw[0] != '{' {
		return PaymentRequest{}, xerr.NewErrCode(xerr.NotAPaymentPayload)
	}

	var req PaymentRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return PaymentRequest{}, xerr.Wrap(err, xerr.NotAPaymentPayload, "")
	}
	if req.SchemaTag != SchemaTag {
		return PaymentRequest{}, xerr.NewErrCode(xerr.NotAPaymentPayload)
	}
	return req, nil
}

// Adapter rewrites a legacy payload into the canonical wire form. ok is
// false when the adapter does not recognise raw.
type Adapter func(raw string) (canonical string, ok bool)

// DecodeWith runs adapters in order before Decode; the first one that
// recognises raw wins.
func DecodeWith(raw string, adapters ...Adapter) (PaymentRequest, error) {
	for _, adapt := range adapters {
		if canonical, ok := adapt(raw); ok {
			return Decode(canonical)
		}
	}
	return Decode(raw)
}
