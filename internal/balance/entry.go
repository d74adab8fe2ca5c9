package balance

import (
	"math/big"
	"time"

	"paylink.io/internal/token"
)

// Entry is one token balance of one address. Formatted is always derived
// from RawUnits.
type Entry struct {
	Symbol      string    `json:"symbol"`
	RawUnits    *big.Int  `json:"raw_units"`
	Formatted   string    `json:"formatted"`
	LastUpdated time.Time `json:"last_updated"`
	Stale       bool      `json:"stale"`
}

// Snapshot is what a client shows: best known values, whether they may be
// outdated, and why.
type Snapshot struct {
	Address string  `json:"address"`
	Entries []Entry `json:"entries"`
	Stale   bool    `json:"stale"`
	Err     error   `json:"-"`
}

// Entry returns the entry for symbol.
func (s Snapshot) Entry(symbol string) (Entry, bool) {
	for _, e := range s.Entries {
		if e.Symbol == symbol {
			return e, true
		}
	}
	return Entry{}, false
}

func zeroEntry(t token.Meta) Entry {
	return Entry{
		Symbol:    t.Symbol,
		RawUnits:  new(big.Int),
		Formatted: token.Format(new(big.Int), t.Decimals),
		Stale:     true,
	}
}
