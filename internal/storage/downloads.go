package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RecordDownload increments the download counter of a document.
func (s *Store) RecordDownload(ctx context.Context, documentID string) error {
	now := formatTime(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_downloads (document_id, download_count, last_downloaded_at)
		VALUES (?, 1, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			download_count = download_count + 1,
			last_downloaded_at = excluded.last_downloaded_at`,
		documentID, now)
	if err != nil {
		return fmt.Errorf("recording download of %s: %w", documentID, err)
	}
	return nil
}

// DownloadCount returns how many times a document was downloaded.
func (s *Store) DownloadCount(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT download_count FROM document_downloads WHERE document_id = ?`, documentID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("counting downloads of %s: %w", documentID, err)
	}
	return n, nil
}
