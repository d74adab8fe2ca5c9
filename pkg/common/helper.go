package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"paylink.io/pkg/logger"
	"paylink.io/pkg/xerr"
)

// Response is the envelope of every HTTP reply.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    xerr.OK,
		Message: http.StatusText(http.StatusOK),
		Data:    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{Code: code, Message: message})
}

// FailWith replies with err's code and message and attaches data, for
// outcomes that still carry a payload (stale balances, timed out transfers).
func FailWith(c *gin.Context, err error, data interface{}) {
	code := xerr.CodeOf(err)
	httpStatus := HTTPStatus(code)
	if httpStatus >= http.StatusInternalServerError {
		logger.Error(c, "http error",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("biz_code", code),
			zap.Error(err),
		)
	}
	c.JSON(httpStatus, Response{Code: code, Message: publicMessage(err, code), Data: data})
}

// FailErr is FailWith without data.
func FailErr(c *gin.Context, err error) {
	FailWith(c, err, nil)
}

// HTTPStatus maps a business code onto an HTTP status.
func HTTPStatus(code int) int {
	switch code {
	case xerr.OK:
		return http.StatusOK
	case xerr.RequestParamsError, xerr.NotAPaymentPayload, xerr.InvalidFormat, xerr.InvalidAmount, xerr.UnsupportedToken:
		return http.StatusBadRequest
	case xerr.RecordNotFound:
		return http.StatusNotFound
	case xerr.InsufficientBalance:
		return http.StatusUnprocessableEntity
	case xerr.TransferInProgress:
		return http.StatusConflict
	case xerr.TransferTimedOut:
		return http.StatusAccepted
	case xerr.ChainUnavailable, xerr.CacheRefreshFailed:
		return http.StatusServiceUnavailable
	case xerr.TransferFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage never leaks causes of internal errors.
func publicMessage(err error, code int) string {
	if code == xerr.ServerCommonError {
		return xerr.MapErrMsg(code)
	}
	if ce, ok := err.(*xerr.CodeError); ok {
		return ce.Msg
	}
	return xerr.MapErrMsg(code)
}
