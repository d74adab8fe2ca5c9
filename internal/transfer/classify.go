package transfer

import (
	"errors"
	"strings"

	"paylink.io/pkg/xerr"
)

var (
	ErrUserRejected      = errors.New("transfer: rejected by user")
	ErrInsufficientFunds = errors.New("transfer: insufficient funds")
)

var (
	rejectedHints     = []string{"user rejected", "user denied", "action_rejected", "rejected by user"}
	insufficientHints = []string{"insufficient funds", "insufficient balance", "exceeds balance"}
)

func classify(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrUserRejected):
		return ReasonUserRejected
	case errors.Is(err, ErrInsufficientFunds):
		return ReasonInsufficientFunds
	}

	msg := strings.ToLower(err.Error())
	for _, h := range rejectedHints {
		if strings.Contains(msg, h) {
			return ReasonUserRejected
		}
	}
	for _, h := range insufficientHints {
		if strings.Contains(msg, h) {
			return ReasonInsufficientFunds
		}
	}
	return ReasonNetwork
}

func reasonMessage(r Reason) string {
	switch r {
	case ReasonUserRejected:
		return "transaction was cancelled"
	case ReasonInsufficientFunds:
		return "insufficient funds for transfer or gas"
	case ReasonNetwork:
		return "network error, please try again"
	case ReasonCancelled:
		return "request cancelled before the transfer was sent"
	default:
		return xerr.MapErrMsg(xerr.TransferFailed)
	}
}
