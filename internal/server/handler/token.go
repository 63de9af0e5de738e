package handler

import (
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/settleio/settlebank/internal/service"
)

// TokenHandler manages the asset registry endpoints.
type TokenHandler struct {
	svc    *service.BankService
	logger *slog.Logger
}

func NewTokenHandler(svc *service.BankService, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{
		svc:    svc,
		logger: logger.With(slog.String("component", "token_handler")),
	}
}

// List handles GET /api/tokens.
func (h *TokenHandler) List(w http.ResponseWriter, r *http.Request) {
	tokens := h.svc.Tokens()
	out := make([]tokenJSON, 0, len(tokens))
	for _, cfg := range tokens {
		out = append(out, toTokenJSON(cfg))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tokens": out,
		"count":  len(out),
	})
}

type registerTokenRequest struct {
	Asset           string `json:"asset"`
	WithdrawalLimit string `json:"withdrawal_limit"`
	DepositLimit    string `json:"deposit_limit"`
	PriceFeed       string `json:"price_feed,omitempty"`
}

// Register handles POST /api/tokens.
func (h *TokenHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	asset, err := parseAddress(req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	withdrawalLimit, depositLimit, err := parseLimits(req.WithdrawalLimit, req.DepositLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var feed common.Address
	if req.PriceFeed != "" {
		if feed, err = parseAddress(req.PriceFeed); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	cfg, err := h.svc.RegisterToken(r.Context(), asset, withdrawalLimit, depositLimit, feed)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTokenJSON(cfg))
}

type updateLimitsRequest struct {
	WithdrawalLimit string `json:"withdrawal_limit"`
	DepositLimit    string `json:"deposit_limit"`
}

// UpdateLimits handles PUT /api/tokens/{asset}/limits.
func (h *TokenHandler) UpdateLimits(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAddress(r.PathValue("asset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req updateLimitsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	withdrawalLimit, depositLimit, err := parseLimits(req.WithdrawalLimit, req.DepositLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.UpdateTokenLimits(r.Context(), asset, withdrawalLimit, depositLimit); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset":            asset.Hex(),
		"withdrawal_limit": withdrawalLimit.String(),
		"deposit_limit":    depositLimit.String(),
	})
}

// parseLimits decodes the two per-operation ceilings. Empty means zero,
// which the registry treats as unlimited.
func parseLimits(withdrawal, deposit string) (*big.Int, *big.Int, error) {
	w := big.NewInt(0)
	d := big.NewInt(0)
	var err error
	if withdrawal != "" {
		if w, err = parseBigInt(withdrawal); err != nil {
			return nil, nil, err
		}
	}
	if deposit != "" {
		if d, err = parseBigInt(deposit); err != nil {
			return nil, nil, err
		}
	}
	return w, d, nil
}
