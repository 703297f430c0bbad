package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const documentColumns = `id, title, filename, mime_type, type, file_size, is_downloadable, status,
	storage_path, public_url, content, content_preview, metadata_json, created_at, updated_at`

// CreateDocument inserts a new document row. CreatedAt/UpdatedAt default to now.
func (s *Store) CreateDocument(ctx context.Context, d Document) error {
	now := s.now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}
	if d.Status == "" {
		d.Status = StatusProcessing
	}
	if d.Type == "" {
		d.Type = "general"
	}
	meta, err := encodeMetadata(d.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Title, d.Filename, d.MimeType, d.Type, d.FileSize, boolInt(d.IsDownloadable), d.Status,
		d.StoragePath, d.PublicURL, d.Content, d.ContentPreview, meta,
		formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting document %s: %w", d.ID, err)
	}
	return nil
}

// GetDocument returns the document with the given id or ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("loading document %s: %w", id, err)
	}
	return d, nil
}

// ListDocuments returns documents newest first. Content is omitted; ContentPreview is kept.
func (s *Store) ListDocuments(ctx context.Context, limit, offset int) ([]Document, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, filename, mime_type, type, file_size, is_downloadable, status,
			storage_path, public_url, '', content_preview, metadata_json, created_at, updated_at
		FROM documents ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// UpdateDocumentContent stores the extracted text and its preview.
func (s *Store) UpdateDocumentContent(ctx context.Context, id, content, preview string) error {
	return s.updateDocument(ctx, id,
		`UPDATE documents SET content = ?, content_preview = ?, updated_at = ? WHERE id = ?`,
		content, preview, formatTime(s.now()), id)
}

// SetDocumentStatus moves a document to the given lifecycle state.
func (s *Store) SetDocumentStatus(ctx context.Context, id, status string) error {
	return s.updateDocument(ctx, id,
		`UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`,
		status, formatTime(s.now()), id)
}

// MarkDocumentFailed sets status=failed and merges error and failed_at into the metadata.
func (s *Store) MarkDocumentFailed(ctx context.Context, id, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT metadata_json FROM documents WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("loading metadata for %s: %w", id, err)
	}

	meta, err := decodeMetadata(raw)
	if err != nil {
		return err
	}
	now := s.now()
	meta["error"] = reason
	meta["failed_at"] = now.Format(time.RFC3339)
	encoded, err := encodeMetadata(meta)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET status = ?, metadata_json = ?, updated_at = ? WHERE id = ?`,
		StatusFailed, encoded, formatTime(now), id); err != nil {
		return fmt.Errorf("marking document %s failed: %w", id, err)
	}
	return tx.Commit()
}

// DeleteDocument removes the document row. Chunk rows go with it via ON DELETE CASCADE.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	return s.updateDocument(ctx, id, `DELETE FROM documents WHERE id = ?`, id)
}

// ListStaleProcessing returns documents still in processing whose last update is before cutoff.
func (s *Store) ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, filename, mime_type, type, file_size, is_downloadable, status,
			storage_path, public_url, '', content_preview, metadata_json, created_at, updated_at
		FROM documents WHERE status = ? AND updated_at < ? ORDER BY updated_at ASC`,
		StatusProcessing, formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("listing stale documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// CountDocumentsByStatus returns the number of documents per lifecycle state.
func (s *Store) CountDocumentsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting documents: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *Store) updateDocument(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating document %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (Document, error) {
	var d Document
	var downloadable int
	var meta, createdAt, updatedAt string
	if err := r.Scan(&d.ID, &d.Title, &d.Filename, &d.MimeType, &d.Type, &d.FileSize, &downloadable, &d.Status,
		&d.StoragePath, &d.PublicURL, &d.Content, &d.ContentPreview, &meta, &createdAt, &updatedAt); err != nil {
		return Document{}, err
	}
	d.IsDownloadable = downloadable != 0

	var err error
	if d.Metadata, err = decodeMetadata(meta); err != nil {
		return Document{}, err
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return Document{}, err
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Document{}, err
	}
	return d, nil
}

func encodeMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(raw string) (map[string]any, error) {
	m := make(map[string]any)
	if raw == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	if m == nil {
		m = make(map[string]any)
	}
	return m, nil
}

// ClaimDocument takes the processing claim on a document and sets its status
// to processing. Only one token holds the claim at a time; a claim taken
// before staleBefore is considered abandoned and may be taken over.
// Returns ErrDocumentBusy when a live claim exists, ErrNotFound for no row.
func (s *Store) ClaimDocument(ctx context.Context, id, token string, staleBefore time.Time) error {
	now := formatTime(s.now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET claim_token = ?, claimed_at = ?, status = ?, updated_at = ?
		WHERE id = ? AND (claim_token = '' OR claimed_at < ?)`,
		token, now, StatusProcessing, now, id, formatTime(staleBefore))
	if err != nil {
		return fmt.Errorf("claiming document %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("loading document %s: %w", id, err)
	}
	return ErrDocumentBusy
}

// HoldsClaim reports whether token still holds the processing claim on a document.
func (s *Store) HoldsClaim(ctx context.Context, id, token string) (bool, error) {
	var current string
	err := s.db.QueryRowContext(ctx, `SELECT claim_token FROM documents WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading claim for %s: %w", id, err)
	}
	return token != "" && current == token, nil
}

// ReleaseDocument drops the claim if token still holds it. Releasing a claim
// that was taken over is a no-op.
func (s *Store) ReleaseDocument(ctx context.Context, id, token string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE documents SET claim_token = '', claimed_at = '' WHERE id = ? AND claim_token = ?`,
		id, token); err != nil {
		return fmt.Errorf("releasing document %s: %w", id, err)
	}
	return nil
}
