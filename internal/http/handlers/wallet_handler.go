// README: Wallet handlers: top-up requests, ledger, earnings summary and admin review.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"diomy/internal/modules/wallet"
	"diomy/internal/types"
)

type WalletService interface {
	RequestTopUp(ctx context.Context, actorID types.ID, amount int64, method string) (*wallet.Transaction, error)
	ConfirmTopUp(ctx context.Context, id types.ID) (*wallet.Transaction, error)
	RejectTopUp(ctx context.Context, id types.ID) (*wallet.Transaction, error)
	History(ctx context.Context, actorID types.ID, limit int) ([]wallet.Transaction, error)
	Summary(ctx context.Context, actorID types.ID) (wallet.Summary, error)
}

type WalletHandler struct {
	wallet WalletService
}

func NewWalletHandler(svc WalletService) *WalletHandler {
	return &WalletHandler{wallet: svc}
}

type topUpReq struct {
	Amount int64  `json:"amount" binding:"required,gt=0"`
	Method string `json:"method" binding:"required,max=50"`
}

func (h *WalletHandler) TopUp(c *gin.Context) {
	var req topUpReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	tx, err := h.wallet.RequestTopUp(c.Request.Context(), caller(c), req.Amount, req.Method)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, tx)
}

func (h *WalletHandler) Transactions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	txs, err := h.wallet.History(c.Request.Context(), caller(c), limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if txs == nil {
		txs = []wallet.Transaction{}
	}
	writeJSON(c, http.StatusOK, gin.H{"transactions": txs})
}

func (h *WalletHandler) Summary(c *gin.Context) {
	s, err := h.wallet.Summary(c.Request.Context(), caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, s)
}

func (h *WalletHandler) Confirm(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	tx, err := h.wallet.ConfirmTopUp(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, tx)
}

func (h *WalletHandler) Reject(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	tx, err := h.wallet.RejectTopUp(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, tx)
}
