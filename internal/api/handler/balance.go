package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"paylink.io/internal/balance"
	"paylink.io/internal/payment"
	"paylink.io/pkg/common"
	"paylink.io/pkg/xerr"
)

type Balances interface {
	Snapshot(address string) balance.Snapshot
	Refresh(ctx context.Context, address string, force bool) (balance.Snapshot, error)
	Invalidate(address, symbol string)
	NetworkChanged()
	Foreground()
}

type Balance struct {
	cache Balances
}

func NewBalance(cache Balances) *Balance {
	return &Balance{cache: cache}
}

type entryView struct {
	Symbol      string `json:"symbol"`
	RawUnits    string `json:"raw_units"`
	Formatted   string `json:"formatted"`
	LastUpdated int64  `json:"last_updated"`
	Stale       bool   `json:"stale"`
}

type snapshotView struct {
	Address string      `json:"address"`
	Entries []entryView `json:"entries"`
	Stale   bool        `json:"stale"`
	Error   string      `json:"error,omitempty"`
}

func newSnapshotView(s balance.Snapshot) snapshotView {
	v := snapshotView{Address: s.Address, Stale: s.Stale, Entries: make([]entryView, 0, len(s.Entries))}
	for _, e := range s.Entries {
		ev := entryView{Symbol: e.Symbol, Formatted: e.Formatted, Stale: e.Stale, RawUnits: "0"}
		if e.RawUnits != nil {
			ev.RawUnits = e.RawUnits.String()
		}
		if !e.LastUpdated.IsZero() {
			ev.LastUpdated = e.LastUpdated.UnixMilli()
		}
		v.Entries = append(v.Entries, ev)
	}
	if s.Err != nil {
		v.Error = xerr.MapErrMsg(xerr.CodeOf(s.Err))
	}
	return v
}

func (h *Balance) address(c *gin.Context) (string, bool) {
	addr := c.Param("address")
	if !payment.IsValidAddress(addr) {
		common.FailErr(c, xerr.New(xerr.RequestParamsError, "invalid address"))
		return "", false
	}
	return addr, true
}

// Get returns cached balances. refresh=1 re-reads stale data and force=1
// re-reads regardless; a failed read still returns the last known values.
func (h *Balance) Get(c *gin.Context) {
	addr, ok := h.address(c)
	if !ok {
		return
	}

	force := c.Query("force") == "1"
	if !force && c.Query("refresh") != "1" {
		common.Success(c, newSnapshotView(h.cache.Snapshot(addr)))
		return
	}

	snap, err := h.cache.Refresh(c.Request.Context(), addr, force)
	view := newSnapshotView(snap)
	if err != nil && view.Error == "" {
		view.Error = xerr.MapErrMsg(xerr.CacheRefreshFailed)
	}
	common.Success(c, view)
}

func (h *Balance) Invalidate(c *gin.Context) {
	addr, ok := h.address(c)
	if !ok {
		return
	}
	h.cache.Invalidate(addr, c.Query("symbol"))
	common.Success(c, nil)
}

func (h *Balance) NetworkChanged(c *gin.Context) {
	h.cache.NetworkChanged()
	common.Success(c, nil)
}

func (h *Balance) Foreground(c *gin.Context) {
	h.cache.Foreground()
	common.Success(c, nil)
}
