package handler

import (
	"log/slog"
	"net/http"

	"github.com/settleio/settlebank/internal/service"
)

// AdminHandler exposes the operational halt switch.
type AdminHandler struct {
	svc    *service.BankService
	logger *slog.Logger
}

func NewAdminHandler(svc *service.BankService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		svc:    svc,
		logger: logger.With(slog.String("component", "admin_handler")),
	}
}

// Halt handles POST /api/admin/halt.
func (h *AdminHandler) Halt(w http.ResponseWriter, r *http.Request) {
	h.svc.Halt(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"halted": true})
}

// Resume handles POST /api/admin/resume.
func (h *AdminHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.svc.Resume(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"halted": false})
}

// Status handles GET /api/admin/status.
func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	total, cap := h.svc.Totals()
	writeJSON(w, http.StatusOK, map[string]any{
		"halted":        h.svc.Halted(),
		"total_balance": bigString(total),
		"global_cap":    bigString(cap),
	})
}
