package handler

import (
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/settleio/settlebank/internal/service"
)

// BankHandler exposes the deposit and withdrawal pipelines plus the
// read-only ledger views.
type BankHandler struct {
	svc    *service.BankService
	logger *slog.Logger
}

func NewBankHandler(svc *service.BankService, logger *slog.Logger) *BankHandler {
	return &BankHandler{
		svc:    svc,
		logger: logger.With(slog.String("component", "bank_handler")),
	}
}

type depositRequest struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	MinOut string `json:"min_out,omitempty"`
}

// Deposit handles POST /api/deposits.
func (h *BankHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := parseAddress(req.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	asset, err := parseAddress(req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseBigInt(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var minOut *big.Int
	if req.MinOut != "" {
		if minOut, err = parseBigInt(req.MinOut); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	rec, err := h.svc.Deposit(r.Context(), user, asset, amount, minOut)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransferJSON(rec))
}

type withdrawRequest struct {
	User   string `json:"user"`
	Amount string `json:"amount"`
}

// Withdraw handles POST /api/withdrawals.
func (h *BankHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := parseAddress(req.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseBigInt(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.svc.Withdraw(r.Context(), user, amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransferJSON(rec))
}

// Estimate handles GET /api/estimate?asset=0x..&amount=N.
func (h *BankHandler) Estimate(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAddress(r.URL.Query().Get("asset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseBigInt(r.URL.Query().Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	quote, err := h.svc.EstimateOutput(r.Context(), asset, amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	path := make([]string, len(quote.Path))
	for i, hop := range quote.Path {
		path[i] = hop.Hex()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset":    asset.Hex(),
		"amount":   amount.String(),
		"expected": bigString(quote.Expected),
		"kind":     string(quote.Kind),
		"path":     path,
	})
}

// Balance handles GET /api/balances/{user}.
func (h *BankHandler) Balance(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress(r.PathValue("user"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"user":    user.Hex(),
		"balance": bigString(h.svc.Balance(user)),
	})
}

// Limits handles GET /api/limits/{user}.
func (h *BankHandler) Limits(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress(r.PathValue("user"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st := h.svc.DailyStatus(user)
	writeJSON(w, http.StatusOK, map[string]any{
		"user":             user.Hex(),
		"day":              st.Day,
		"deposits_used":    bigString(st.DepositsUsed),
		"withdrawals_used": bigString(st.WithdrawalsUsed),
		"deposit_limit":    bigString(st.DepositLimit),
		"withdrawal_limit": bigString(st.WithdrawalLimit),
	})
}

// Bank handles GET /api/bank with the aggregate view.
func (h *BankHandler) Bank(w http.ResponseWriter, r *http.Request) {
	total, cap := h.svc.Totals()
	writeJSON(w, http.StatusOK, map[string]any{
		"total_balance": bigString(total),
		"global_cap":    bigString(cap),
		"halted":        h.svc.Halted(),
	})
}
