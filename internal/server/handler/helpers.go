// Package handler implements the HTTP API surface over the bank service.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/settleio/settlebank/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			slog.Error("failed to encode response", slog.String("error", err.Error()))
		}
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps known domain failures onto HTTP status codes and
// falls back to 500 for everything else.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrZeroAmount),
		errors.Is(err, domain.ErrInvalidToken):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTokenNotSupported),
		errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrExceedsDepositLimit),
		errors.Is(err, domain.ErrExceedsWithdrawalLimit),
		errors.Is(err, domain.ErrExceedsDailyDepositLimit),
		errors.Is(err, domain.ErrExceedsDailyWithdrawalLimit),
		errors.Is(err, domain.ErrExceedsBankCap),
		errors.Is(err, domain.ErrSlippageTooHigh),
		errors.Is(err, domain.ErrStalePrice),
		errors.Is(err, domain.ErrSwapFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrHalted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// parseAddress decodes a 0x-prefixed hex address.
func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.New("invalid address: " + s)
	}
	return common.HexToAddress(s), nil
}

// parseBigInt decodes a non-negative base-10 integer amount.
func parseBigInt(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.New("invalid integer amount: " + s)
	}
	if v.Sign() < 0 {
		return nil, errors.New("amount must not be negative")
	}
	return v, nil
}

// parseListOpts reads limit, offset, since, and until query parameters.
func parseListOpts(r *http.Request) domain.ListOpts {
	opts := domain.ListOpts{Limit: defaultListLimit}

	q := r.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			if n > maxListLimit {
				n = maxListLimit
			}
			opts.Limit = n
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			opts.Offset = n
		}
	}
	if raw := q.Get("since"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			opts.Since = &t
		}
	}
	if raw := q.Get("until"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			opts.Until = &t
		}
	}
	return opts
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// transferJSON is the wire shape of a transfer record.
type transferJSON struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	User          string    `json:"user"`
	Asset         string    `json:"asset"`
	RawAmount     string    `json:"raw_amount"`
	SettledAmount string    `json:"settled_amount"`
	Path          string    `json:"path"`
	CreatedAt     time.Time `json:"created_at"`
}

func toTransferJSON(rec *domain.TransferRecord) transferJSON {
	return transferJSON{
		ID:            rec.ID,
		Kind:          string(rec.Kind),
		User:          rec.User.Hex(),
		Asset:         rec.Asset.Hex(),
		RawAmount:     bigString(rec.RawAmount),
		SettledAmount: bigString(rec.SettledAmount),
		Path:          string(rec.Path),
		CreatedAt:     rec.CreatedAt,
	}
}

// tokenJSON is the wire shape of a token configuration.
type tokenJSON struct {
	Asset           string `json:"asset"`
	Symbol          string `json:"symbol"`
	Supported       bool   `json:"supported"`
	Decimals        uint8  `json:"decimals"`
	WithdrawalLimit string `json:"withdrawal_limit"`
	DepositLimit    string `json:"deposit_limit"`
	PriceFeed       string `json:"price_feed,omitempty"`
	LastPrice       string `json:"last_price,omitempty"`
	PriceUpdatedAt  string `json:"price_updated_at,omitempty"`
}

func toTokenJSON(cfg *domain.TokenConfig) tokenJSON {
	out := tokenJSON{
		Asset:           cfg.Asset.Hex(),
		Symbol:          cfg.Symbol,
		Supported:       cfg.Supported,
		Decimals:        cfg.Decimals,
		WithdrawalLimit: bigString(cfg.WithdrawalLimit),
		DepositLimit:    bigString(cfg.DepositLimit),
	}
	if cfg.HasPriceFeed() {
		out.PriceFeed = cfg.PriceFeed.Hex()
		if cfg.LastPrice != nil {
			out.LastPrice = cfg.LastPrice.String()
		}
		if !cfg.PriceUpdatedAt.IsZero() {
			out.PriceUpdatedAt = cfg.PriceUpdatedAt.UTC().Format(time.RFC3339)
		}
	}
	return out
}
