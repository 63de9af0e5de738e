package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/settleio/settlebank/internal/domain"
)

type stubBlobReader struct {
	infos   []domain.BlobInfo
	objects map[string]string
}

func (s *stubBlobReader) Get(_ context.Context, path string) (io.ReadCloser, error) {
	body, ok := s.objects[path]
	if !ok {
		return nil, fmt.Errorf("stub: get %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (s *stubBlobReader) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for _, info := range s.infos {
		if strings.HasPrefix(info.Path, prefix) {
			out = append(out, info)
		}
	}
	return out, nil
}

func (s *stubBlobReader) Exists(_ context.Context, path string) (bool, error) {
	_, ok := s.objects[path]
	return ok, nil
}

func TestArchiveList(t *testing.T) {
	reader := &stubBlobReader{infos: []domain.BlobInfo{
		{Path: "archive/transfers/2025-01.jsonl", Size: 2048, LastModified: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)},
		{Path: "archive/audit/2025-01.jsonl", Size: 512},
	}}
	h := NewArchiveHandler(reader, slog.New(slog.DiscardHandler))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/archives", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Count   int `json:"count"`
		Objects []struct {
			Path string `json:"path"`
			Size int64  `json:"size"`
		} `json:"objects"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 2 || len(resp.Objects) != 2 {
		t.Fatalf("expected 2 objects, got %+v", resp)
	}
	if resp.Objects[0].Path != "archive/transfers/2025-01.jsonl" || resp.Objects[0].Size != 2048 {
		t.Fatalf("unexpected first object: %+v", resp.Objects[0])
	}
}

func TestArchiveDownload(t *testing.T) {
	reader := &stubBlobReader{objects: map[string]string{
		"archive/transfers/2025-01.jsonl": `{"id":"t1"}` + "\n",
	}}
	h := NewArchiveHandler(reader, slog.New(slog.DiscardHandler))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/archives/archive/transfers/2025-01.jsonl", nil)
	req.SetPathValue("key", "archive/transfers/2025-01.jsonl")
	rec := httptest.NewRecorder()
	h.Download(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), `"id":"t1"`) {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestArchiveDownloadMissingObject(t *testing.T) {
	h := NewArchiveHandler(&stubBlobReader{}, slog.New(slog.DiscardHandler))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/archives/archive/nope.jsonl", nil)
	req.SetPathValue("key", "archive/nope.jsonl")
	rec := httptest.NewRecorder()
	h.Download(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestArchiveEndpointsWithoutStorage(t *testing.T) {
	h := NewArchiveHandler(nil, slog.New(slog.DiscardHandler))

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/admin/archives", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from List, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/admin/archives/x", nil)
	req.SetPathValue("key", "x")
	h.Download(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from Download, got %d", rec.Code)
	}
}
