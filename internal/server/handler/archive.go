package handler

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/settleio/settlebank/internal/domain"
)

// ArchiveHandler exposes the cold-storage archives for operator review.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		blobs:  blobs,
		logger: logger.With(slog.String("component", "archive_handler")),
	}
}

// List handles GET /api/admin/archives. An optional prefix query narrows
// the listing; the default covers everything the archiver writes.
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage not configured")
		return
	}

	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = "archive/"
	}

	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "archive listing failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "archive listing failed")
		return
	}

	type objectJSON struct {
		Path         string `json:"path"`
		Size         int64  `json:"size"`
		LastModified string `json:"last_modified,omitempty"`
	}
	objects := make([]objectJSON, 0, len(infos))
	for _, info := range infos {
		obj := objectJSON{Path: info.Path, Size: info.Size}
		if !info.LastModified.IsZero() {
			obj.LastModified = info.LastModified.UTC().Format(time.RFC3339)
		}
		objects = append(objects, obj)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"objects": objects,
		"count":   len(objects),
	})
}

// Download handles GET /api/admin/archives/{key...} and streams one
// archived JSONL object.
func (h *ArchiveHandler) Download(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage not configured")
		return
	}

	key := r.PathValue("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing object key")
		return
	}

	body, err := h.blobs.Get(r.Context(), key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "archive download aborted",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
}
