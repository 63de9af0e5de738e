package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/settleio/settlebank/internal/domain"
)

// Archiver moves aged transfer and audit records to object storage as
// JSONL, partitioned by the year-month of the cutoff. Records are deleted
// from the database only after the upload succeeded and the written object
// was verified to exist.
type Archiver struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	transfers domain.TransferStore
	audit     domain.AuditStore
	logger    *slog.Logger
}

var _ domain.Archiver = (*Archiver)(nil)

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, transfers domain.TransferStore, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		reader:    reader,
		transfers: transfers,
		audit:     audit,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// verifyUpload confirms the object landed before any rows are pruned. A
// missing or unverifiable object leaves the database untouched for the
// next run.
func (a *Archiver) verifyUpload(ctx context.Context, path string) error {
	ok, err := a.reader.Exists(ctx, path)
	if err != nil {
		return fmt.Errorf("verify %s: %w", path, err)
	}
	if !ok {
		return fmt.Errorf("verify %s: object missing after upload", path)
	}
	return nil
}

// ArchiveTransfers uploads all transfers created before the cutoff to
// archive/transfers/YYYY-MM.jsonl, then deletes them. It returns the count
// of archived records.
func (a *Archiver) ArchiveTransfers(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.transfers.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive transfers query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive transfers marshal: %w", err)
	}

	path := archivePath("transfers", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive transfers upload: %w", err)
	}
	if err := a.verifyUpload(ctx, path); err != nil {
		return 0, fmt.Errorf("s3blob: archive transfers %w", err)
	}

	deleted, err := a.transfers.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(records)), fmt.Errorf("s3blob: archive transfers prune: %w", err)
	}

	a.log(ctx, "archive.transfers", path, int64(len(records)), before)
	a.logger.InfoContext(ctx, "transfers archived",
		slog.String("path", path),
		slog.Int("archived", len(records)),
		slog.Int64("pruned", deleted),
	)
	return int64(len(records)), nil
}

// ArchiveAudit uploads all audit entries created before the cutoff to
// archive/audit/YYYY-MM.jsonl, then deletes them.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}
	if err := a.verifyUpload(ctx, path); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit %w", err)
	}

	deleted, err := a.audit.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(entries)), fmt.Errorf("s3blob: archive audit prune: %w", err)
	}

	a.log(ctx, "archive.audit", path, int64(len(entries)), before)
	a.logger.InfoContext(ctx, "audit entries archived",
		slog.String("path", path),
		slog.Int("archived", len(entries)),
		slog.Int64("pruned", deleted),
	)
	return int64(len(entries)), nil
}

// log records the archival in the audit trail; failures here are logged
// but never abort the archival.
func (a *Archiver) log(ctx context.Context, event, path string, count int64, before time.Time) {
	err := a.audit.Log(ctx, event, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	})
	if err != nil {
		a.logger.WarnContext(ctx, "archive audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// archivePath builds the object key, partitioned by year-month of the
// cutoff: archive/transfers/2025-01.jsonl.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serializes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
