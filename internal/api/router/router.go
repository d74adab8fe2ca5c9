package router

import (
	"github.com/gin-gonic/gin"
	"paylink.io/internal/api/handler"
)

func Payments(api *gin.RouterGroup, h *handler.Payment) {
	payments := api.Group("/payments")
	{
		payments.POST("/request", h.Request)
		payments.POST("/decode", h.Decode)
		payments.POST("/transfer", h.Transfer)
	}
}

func Balances(api *gin.RouterGroup, h *handler.Balance) {
	balances := api.Group("/balances")
	{
		balances.GET("/:address", h.Get)
		balances.POST("/:address/invalidate", h.Invalidate)
	}

	events := api.Group("/events")
	{
		events.POST("/network-changed", h.NetworkChanged)
		events.POST("/foreground", h.Foreground)
	}
}

func Monitor(api *gin.RouterGroup, h *handler.Monitor) {
	mon := api.Group("/monitor")
	{
		mon.POST("/:owner", h.Start)
		mon.GET("/:owner", h.Get)
		mon.DELETE("/:owner", h.Stop)
	}
}
