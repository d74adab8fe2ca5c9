package common

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"paylink.io/pkg/logger"
)

const (
	HeaderRequestID = "X-Request-Id"
	CtxKeyRequestID = logger.RequestIdKey
)

func NewID() string { return uuid.NewString() }

func RequestIDFromGin(c *gin.Context) string {
	return c.GetString(CtxKeyRequestID)
}
