package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// InsertChunks writes all chunk rows for a document in a single transaction.
// Either every row lands or none does.
func (s *Store) InsertChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning chunk insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO document_chunks (id, document_id, chunk_index, content, embedding_id, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	now := formatTime(s.now())
	for _, c := range chunks {
		id := c.ID
		if id == "" {
			id = uuid.NewString()
		}
		meta, err := encodeMetadata(c.Metadata)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, id, c.DocumentID, c.ChunkIndex, c.Content, c.EmbeddingID, meta, now); err != nil {
			return fmt.Errorf("inserting chunk %s: %w", c.EmbeddingID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing chunks: %w", err)
	}
	return nil
}

// DeleteChunks removes every chunk row of a document and returns how many were removed.
func (s *Store) DeleteChunks(ctx context.Context, documentID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, documentID)
	if err != nil {
		return 0, fmt.Errorf("deleting chunks for %s: %w", documentID, err)
	}
	return res.RowsAffected()
}

// ChunkEmbeddingIDs lists the vector ids of a document's chunks in chunk order.
func (s *Store) ChunkEmbeddingIDs(ctx context.Context, documentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT embedding_id FROM document_chunks WHERE document_id = ? ORDER BY chunk_index ASC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("listing embedding ids for %s: %w", documentID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

// ListChunks returns a document's chunks in chunk order.
func (s *Store) ListChunks(ctx context.Context, documentID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, chunk_index, content, embedding_id, metadata_json, created_at
		FROM document_chunks WHERE document_id = ? ORDER BY chunk_index ASC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("listing chunks for %s: %w", documentID, err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var meta, createdAt string
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &c.EmbeddingID, &meta, &createdAt); err != nil {
			return nil, err
		}
		if c.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// CountChunks returns the number of chunk rows stored for a document.
func (s *Store) CountChunks(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_chunks WHERE document_id = ?`, documentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting chunks for %s: %w", documentID, err)
	}
	return n, nil
}

// ChunksByEmbeddingIDs resolves vector ids to chunk text joined with the parent document.
// Ids without a chunk row are simply absent from the result.
func (s *Store) ChunksByEmbeddingIDs(ctx context.Context, ids []string) ([]ResolvedChunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.embedding_id, c.document_id, c.chunk_index, c.content,
			d.id, d.title, d.is_downloadable, d.public_url
		FROM document_chunks c
		LEFT JOIN documents d ON d.id = c.document_id
		WHERE c.embedding_id IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("resolving chunks by embedding id: %w", err)
	}
	defer rows.Close()

	var out []ResolvedChunk
	for rows.Next() {
		var rc ResolvedChunk
		var docID, title, publicURL sql.NullString
		var downloadable sql.NullInt64
		if err := rows.Scan(&rc.EmbeddingID, &rc.DocumentID, &rc.ChunkIndex, &rc.Content,
			&docID, &title, &downloadable, &publicURL); err != nil {
			return nil, fmt.Errorf("scanning resolved chunk: %w", err)
		}
		rc.HasDocument = docID.Valid
		rc.DocumentTitle = title.String
		rc.IsDownloadable = downloadable.Int64 != 0
		rc.PublicURL = publicURL.String
		out = append(out, rc)
	}
	return out, rows.Err()
}
