package handler

import (
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/settleio/settlebank/internal/domain"
)

// TokenSource provides the registry views the price endpoints read.
type TokenSource interface {
	Tokens() []*domain.TokenConfig
	Token(asset common.Address) (*domain.TokenConfig, error)
	USDValue(asset common.Address, amount *big.Int) (*big.Int, error)
}

// PriceHandler serves the mirrored oracle snapshots and USD valuations.
type PriceHandler struct {
	tokens TokenSource
	prices domain.PriceCache // optional, registry snapshots serve as fallback
	logger *slog.Logger
}

func NewPriceHandler(tokens TokenSource, prices domain.PriceCache, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{
		tokens: tokens,
		prices: prices,
		logger: logger.With(slog.String("component", "price_handler")),
	}
}

type priceJSON struct {
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// List handles GET /api/prices: the latest snapshot for every asset that
// carries a feed, read from the mirror in one round trip when available.
func (h *PriceHandler) List(w http.ResponseWriter, r *http.Request) {
	cfgs := h.tokens.Tokens()

	feedAssets := make([]common.Address, 0, len(cfgs))
	byAsset := make(map[common.Address]*domain.TokenConfig, len(cfgs))
	for _, cfg := range cfgs {
		if !cfg.HasPriceFeed() {
			continue
		}
		feedAssets = append(feedAssets, cfg.Asset)
		byAsset[cfg.Asset] = cfg
	}

	out := make(map[string]priceJSON, len(feedAssets))
	var mirrored map[common.Address]*big.Int
	if h.prices != nil {
		m, err := h.prices.GetPrices(r.Context(), feedAssets)
		if err != nil {
			h.logger.WarnContext(r.Context(), "price mirror read failed",
				slog.String("error", err.Error()))
		} else {
			mirrored = m
		}
	}
	for _, asset := range feedAssets {
		cfg := byAsset[asset]
		entry := priceJSON{Symbol: cfg.Symbol}
		if price, ok := mirrored[asset]; ok {
			entry.Price = price.String()
		} else if cfg.LastPrice != nil {
			entry.Price = cfg.LastPrice.String()
			entry.UpdatedAt = cfg.PriceUpdatedAt.UTC().Format(time.RFC3339)
		} else {
			continue
		}
		out[asset.Hex()] = entry
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"prices": out,
		"count":  len(out),
	})
}

// Get handles GET /api/prices/{asset}. An optional amount query prices
// that many asset units in 18-decimal USD fixed point.
func (h *PriceHandler) Get(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAddress(r.PathValue("asset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := h.tokens.Token(asset)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := map[string]any{
		"asset":  cfg.Asset.Hex(),
		"symbol": cfg.Symbol,
	}

	var served bool
	if h.prices != nil {
		if price, ts, err := h.prices.GetPrice(r.Context(), asset); err == nil {
			resp["price"] = price.String()
			resp["updated_at"] = ts.UTC().Format(time.RFC3339)
			served = true
		}
	}
	if !served && cfg.LastPrice != nil {
		resp["price"] = cfg.LastPrice.String()
		resp["updated_at"] = cfg.PriceUpdatedAt.UTC().Format(time.RFC3339)
	}

	if raw := r.URL.Query().Get("amount"); raw != "" {
		amount, err := parseBigInt(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		usd, err := h.tokens.USDValue(asset, amount)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		resp["amount"] = amount.String()
		resp["usd_value"] = usd.String()
	}

	writeJSON(w, http.StatusOK, resp)
}
