package xerr

import (
	"errors"
	"fmt"
)

// Generic codes.
const (
	OK                 = 200
	ServerCommonError  = 500
	RequestParamsError = 400
	DbError            = 501
	RecordNotFound     = 404
)

// Payload codec.
const (
	NotAPaymentPayload = 1001

	InvalidFormat    = 1101
	InvalidAmount    = 1102
	UnsupportedToken = 1103
)

// Pre-flight checks run before a transfer.
const (
	InsufficientBalance = 1201
	ChainUnavailable    = 1202
)

// Transfer outcomes.
const (
	TransferFailed     = 2001
	TransferTimedOut   = 2002
	TransferInProgress = 2003
)

const (
	CacheRefreshFailed = 3001
	MonitoringFailed   = 4001
)

type CodeError struct {
	Code  int    `json:"code"`
	Msg   string `json:"msg"`
	Cause error  `json:"-"`
}

func (e *CodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ErrCode:%d, Msg:%s, Cause:%v", e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

func (e *CodeError) Unwrap() error { return e.Cause }

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

// Wrap attaches code and msg to cause. A nil cause still yields an error.
func Wrap(cause error, code int, msg string) error {
	if msg == "" {
		msg = MapErrMsg(code)
	}
	return &CodeError{Code: code, Msg: msg, Cause: cause}
}

// CodeOf returns the code of the outermost CodeError in err's chain,
// OK for nil and ServerCommonError for foreign errors.
func CodeOf(err error) int {
	if err == nil {
		return OK
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ServerCommonError
}

// Is reports whether any CodeError in err's chain carries code.
func Is(err error, code int) bool {
	for err != nil {
		var ce *CodeError
		if !errors.As(err, &ce) {
			return false
		}
		if ce.Code == code {
			return true
		}
		err = ce.Cause
	}
	return false
}

func MapErrMsg(code int) string {
	switch code {
	case ServerCommonError:
		return "internal error"
	case RequestParamsError:
		return "invalid request parameters"
	case DbError:
		return "database busy"
	case RecordNotFound:
		return "record not found"
	case NotAPaymentPayload:
		return "not a payment payload"
	case InvalidFormat:
		return "payment request is missing required fields"
	case InvalidAmount:
		return "invalid amount"
	case UnsupportedToken:
		return "unsupported token"
	case InsufficientBalance:
		return "insufficient balance"
	case ChainUnavailable:
		return "network unavailable"
	case TransferFailed:
		return "transfer failed"
	case TransferTimedOut:
		return "transfer status unknown, check history before retrying"
	case TransferInProgress:
		return "transfer already in progress"
	case CacheRefreshFailed:
		return "balance may be outdated"
	case MonitoringFailed:
		return "payment monitoring tick failed"
	default:
		return "unknown error"
	}
}
