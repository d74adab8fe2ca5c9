package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"paylink.io/internal/orchestrator"
	"paylink.io/internal/payment"
	"paylink.io/internal/transfer"
	"paylink.io/pkg/common"
	"paylink.io/pkg/xerr"
)

type Payments interface {
	RequestPayment(recipient, amount, description string) (string, payment.PaymentRequest, error)
	Inspect(scanned string) (payment.PaymentRequest, error)
	BuildOutgoingTransfer(scanned, userAmount string) (orchestrator.Instruction, error)
	ExecuteAndReconcile(ctx context.Context, ins orchestrator.Instruction) orchestrator.Outcome
}

type Payment struct {
	svc Payments
}

func NewPayment(svc Payments) *Payment {
	return &Payment{svc: svc}
}

type requestPaymentReq struct {
	Recipient   string `json:"recipient" binding:"required"`
	Amount      string `json:"amount"`
	Description string `json:"description" binding:"max=140"`
}

type scannedReq struct {
	Payload string `json:"payload" binding:"required"`
}

// IdempotencyKeyHeader is read when the body carries no idempotency_key.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxIdempotencyKeyLen = 128

type transferReq struct {
	Payload string `json:"payload" binding:"required"`
	// Amount is only read for open-amount requests.
	Amount string `json:"amount"`
	// IdempotencyKey is chosen by the client and reused on retries of the
	// same send.
	IdempotencyKey string `json:"idempotency_key" binding:"max=128"`
}

type requestView struct {
	Payload    string                 `json:"payload,omitempty"`
	Request    payment.PaymentRequest `json:"request"`
	OpenAmount bool                   `json:"open_amount"`
}

type attemptView struct {
	Number   int    `json:"number"`
	GasLimit uint64 `json:"gas_limit"`
	Status   string `json:"status"`
	TxHash   string `json:"tx_hash,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type outcomeView struct {
	IdempotencyKey string        `json:"idempotency_key"`
	Status         string        `json:"status"`
	TxHash         string        `json:"tx_hash,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	From           string        `json:"from"`
	To             string        `json:"to"`
	Amount         string        `json:"amount"`
	Token          string        `json:"token"`
	GasFallback    bool          `json:"gas_fallback"`
	Attempts       []attemptView `json:"attempts"`
}

func newOutcomeView(out orchestrator.Outcome) outcomeView {
	v := outcomeView{
		IdempotencyKey: out.Instruction.IdempotencyKey,
		Status:         out.Status.String(),
		TxHash:         out.TxHash,
		Reason:         string(out.Result.Reason),
		From:           out.From,
		To:             out.Instruction.Recipient,
		Amount:         out.Instruction.Amount,
		Token:          out.Instruction.Token.Symbol,
		GasFallback:    out.Result.GasFallback,
		Attempts:       make([]attemptView, 0, len(out.Result.Attempts)),
	}
	for _, a := range out.Result.Attempts {
		v.Attempts = append(v.Attempts, attemptView{
			Number:   a.Number,
			GasLimit: a.GasLimit,
			Status:   a.Status.String(),
			TxHash:   a.TxHash,
			Reason:   string(a.Reason),
		})
	}
	return v
}

// Request encodes a new payment request for display as a QR code.
func (h *Payment) Request(c *gin.Context) {
	var req requestPaymentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailErr(c, xerr.Wrap(err, xerr.RequestParamsError, "invalid request body"))
		return
	}

	raw, pr, err := h.svc.RequestPayment(req.Recipient, req.Amount, req.Description)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, requestView{Payload: raw, Request: pr, OpenAmount: pr.IsOpenAmount()})
}

// Decode shows what a scanned payload asks for.
func (h *Payment) Decode(c *gin.Context) {
	var req scannedReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailErr(c, xerr.Wrap(err, xerr.RequestParamsError, "invalid request body"))
		return
	}

	pr, err := h.svc.Inspect(req.Payload)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, requestView{Request: pr, OpenAmount: pr.IsOpenAmount()})
}

// Transfer pays a scanned request.
func (h *Payment) Transfer(c *gin.Context) {
	var req transferReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailErr(c, xerr.Wrap(err, xerr.RequestParamsError, "invalid request body"))
		return
	}

	key := req.IdempotencyKey
	if key == "" {
		key = c.GetHeader(IdempotencyKeyHeader)
	}
	if len(key) > maxIdempotencyKeyLen {
		common.FailErr(c, xerr.New(xerr.RequestParamsError, "idempotency key too long"))
		return
	}

	ins, err := h.svc.BuildOutgoingTransfer(req.Payload, req.Amount)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	ins = ins.WithIdempotencyKey(key)

	out := h.svc.ExecuteAndReconcile(c.Request.Context(), ins)
	view := newOutcomeView(out)
	if out.Status != transfer.Submitted {
		if out.Err == nil {
			out.Err = xerr.NewErrCode(xerr.TransferFailed)
		}
		common.FailWith(c, out.Err, view)
		return
	}
	common.Success(c, view)
}
