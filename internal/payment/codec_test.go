package payment

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"paylink.io/internal/token"
	"paylink.io/pkg/xerr"
)

var usdc = token.Meta{Symbol: "USDC", Contract: "0x4fCF1784B31630811181f670Aea7A7bEF803eaED", Decimals: 6}

func fixClock(t *testing.T, at time.Time) {
	t.Helper()
	prev := nowFunc
	nowFunc = func() time.Time { return at }
	t.Cleanup(func() { nowFunc = prev })
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	at := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)
	fixClock(t, at)

	tests := []struct {
		name        string
		recipient   string
		amount      string
		description string
	}{
		{name: "fixed amount", recipient: "0x1111111111111111111111111111111111111111", amount: "25.50", description: "Lunch"},
		{name: "open amount", recipient: "0xABC", amount: "0"},
		{name: "unicode memo", recipient: "0x2222222222222222222222222222222222222222", amount: "1", description: "café ☕"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := Encode(tt.recipient, tt.amount, usdc, tt.description, 1328)

			got, err := Decode(raw)
			require.NoError(t, err)
			assert.Equal(t, PaymentRequest{
				SchemaTag:     SchemaTag,
				Recipient:     tt.recipient,
				Amount:        tt.amount,
				TokenSymbol:   "USDC",
				TokenContract: usdc.Contract,
				TokenDecimals: 6,
				Description:   tt.description,
				CreatedAt:     at.UnixMilli(),
				ChainID:       1328,
			}, got)
		})
	}
}

func TestEncode_WireFields(t *testing.T) {
	fixClock(t, time.UnixMilli(1700000000000))

	raw := Encode("0xabc", "5", usdc, "", 1328)

	assert.Contains(t, raw, `"type":"MOCKUSDC_PAYMENT"`)
	assert.Contains(t, raw, `"to":"0xabc"`)
	assert.Contains(t, raw, `"timestamp":1700000000000`)
	assert.Contains(t, raw, `"chainId":1328`)
	assert.NotContains(t, raw, "description", "empty memo is omitted")
}

func TestDecode_NotAPaymentPayload(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "url", raw: "https://example.com/menu"},
		{name: "bare address", raw: "0x1111111111111111111111111111111111111111"},
		{name: "broken json", raw: `{"type":"MOCKUSDC_PAYMENT",`},
		{name: "json array", raw: `[1,2,3]`},
		{name: "other tag", raw: `{"type":"WIFI","ssid":"cafe"}`},
		{name: "no tag", raw: `{"to":"0xabc","amount":"1"}`},
		{name: "wrong field type", raw: `{"type":"MOCKUSDC_PAYMENT","decimals":"six"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.raw)
			require.Error(t, err)
			assert.True(t, xerr.Is(err, xerr.NotAPaymentPayload))
		})
	}
}

func TestDecode_IgnoresUnknownFields(t *testing.T) {
	raw := `  {"type":"MOCKUSDC_PAYMENT","to":"0xabc","amount":"2","token":"USDC","memoV2":{"x":1},"chainId":1328}  `

	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", got.Recipient)
	assert.Equal(t, int64(1328), got.ChainID)
}

func TestDecodeWith_Adapter(t *testing.T) {
	// plain "pay:<address>" links become open-amount requests
	payLink := func(raw string) (string, bool) {
		addr, ok := strings.CutPrefix(raw, "pay:")
		if !ok {
			return "", false
		}
		return Encode(addr, "0", usdc, "", 1328), true
	}

	got, err := DecodeWith("pay:0xabc", payLink)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", got.Recipient)
	assert.True(t, got.IsOpenAmount())

	_, err = DecodeWith("hello", payLink)
	assert.True(t, xerr.Is(err, xerr.NotAPaymentPayload))
}

func TestPaymentRequest_IsImmutableValue(t *testing.T) {
	orig, err := Decode(Encode("0xabc", "0", usdc, "", 1328))
	require.NoError(t, err)

	edited := orig.WithAmount("10").WithDescription("tip")

	assert.Equal(t, "0", orig.Amount)
	assert.Empty(t, orig.Description)
	assert.Equal(t, "10", edited.Amount)
	assert.Equal(t, "tip", edited.Description)
	assert.Equal(t, usdc, edited.Token())
}
