package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"paylink.io/internal/monitor"
	"paylink.io/pkg/common"
	"paylink.io/pkg/xerr"
)

type Monitors interface {
	Start(ctx context.Context, owner string) (*monitor.Session, error)
	StopOwner(owner string) bool
	Latest(owner string) (*monitor.Session, bool)
}

type Monitor struct {
	m Monitors
}

func NewMonitor(m Monitors) *Monitor {
	return &Monitor{m: m}
}

func (h *Monitor) Start(c *gin.Context) {
	s, err := h.m.Start(c.Request.Context(), c.Param("owner"))
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, s.Info())
}

// Get returns the owner's latest session, including a finished one so the
// client can read the matched payment.
func (h *Monitor) Get(c *gin.Context) {
	s, ok := h.m.Latest(c.Param("owner"))
	if !ok {
		common.FailErr(c, xerr.New(xerr.RecordNotFound, "no monitoring session"))
		return
	}
	common.Success(c, s.Info())
}

func (h *Monitor) Stop(c *gin.Context) {
	common.Success(c, gin.H{"stopped": h.m.StopOwner(c.Param("owner"))})
}
