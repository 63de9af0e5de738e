package handler

import (
	"log/slog"
	"net/http"

	"github.com/settleio/settlebank/internal/domain"
)

// TransferHandler serves the persisted transfer history.
type TransferHandler struct {
	store  domain.TransferStore
	logger *slog.Logger
}

func NewTransferHandler(store domain.TransferStore, logger *slog.Logger) *TransferHandler {
	return &TransferHandler{
		store:  store,
		logger: logger.With(slog.String("component", "transfer_handler")),
	}
}

// List handles GET /api/transfers, optionally filtered by ?user=0x...
func (h *TransferHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "transfer history not configured")
		return
	}

	opts := parseListOpts(r)

	var (
		recs []domain.TransferRecord
		err  error
	)
	if raw := r.URL.Query().Get("user"); raw != "" {
		user, perr := parseAddress(raw)
		if perr != nil {
			writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		recs, err = h.store.ListByUser(r.Context(), user, opts)
	} else {
		recs, err = h.store.List(r.Context(), opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list transfers", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list transfers")
		return
	}

	out := make([]transferJSON, 0, len(recs))
	for i := range recs {
		out = append(out, toTransferJSON(&recs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transfers": out,
		"count":     len(out),
		"limit":     opts.Limit,
		"offset":    opts.Offset,
	})
}
