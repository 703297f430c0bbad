package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

var _ Index = (*SQLiteIndex)(nil)

// SQLiteIndex is a brute-force cosine similarity index over the chunk_vectors
// table. It suits corpora of a few hundred documents; larger deployments use
// a hosted backend.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex wraps a database whose migrations created chunk_vectors.
func NewSQLiteIndex(db *sql.DB) *SQLiteIndex {
	return &SQLiteIndex{db: db}
}

func (s *SQLiteIndex) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunk_vectors (id, embedding, metadata_json, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET embedding = excluded.embedding, metadata_json = excluded.metadata_json`)
	if err != nil {
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata for %s: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, encodeFloat32s(r.Values), string(meta), now); err != nil {
			return fmt.Errorf("upserting vector %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

type idScore struct {
	ID    string
	Score float32
}

// Query scans every stored vector, keeping the topK best in a min-heap, then
// loads metadata for the winners only.
func (s *SQLiteIndex) Query(ctx context.Context, vector []float32, topK int, includeMetadata bool) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM chunk_vectors`)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	var buf []float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning vector row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := cosine(vector, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vector rows: %w", err)
	}
	rows.Close()

	matches := make([]Match, h.Len())
	for i := len(matches) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		matches[i] = Match{ID: item.ID, Score: item.Score}
	}
	if !includeMetadata || len(matches) == 0 {
		return matches, nil
	}

	meta, err := s.loadMetadata(ctx, matches)
	if err != nil {
		return nil, err
	}
	for i := range matches {
		matches[i].Metadata = meta[matches[i].ID]
	}
	return matches, nil
}

func (s *SQLiteIndex) loadMetadata(ctx context.Context, matches []Match) (map[string]*Metadata, error) {
	args := make([]any, len(matches))
	for i, m := range matches {
		args[i] = m.ID
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, metadata_json FROM chunk_vectors WHERE id IN (`+inList(len(args))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("loading vector metadata: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*Metadata, len(matches))
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scanning vector metadata: %w", err)
		}
		var m Metadata
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("decoding metadata for %s: %w", id, err)
		}
		out[id] = &m
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunk_vectors WHERE id IN (`+inList(len(ids))+`)`, args...); err != nil {
		return fmt.Errorf("deleting vectors: %w", err)
	}
	return nil
}

// Count returns the number of stored vectors.
func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunk_vectors`).Scan(&n)
	return n, err
}

func inList(n int) string {
	return "?" + strings.Repeat(",?", n-1)
}

// sortMatches orders matches by descending score, ties by id.
func sortMatches(m []Match) {
	sort.SliceStable(m, func(i, j int) bool {
		if m[i].Score != m[j].Score {
			return m[i].Score > m[j].Score
		}
		return m[i].ID < m[j].ID
	})
}

// encodeFloat32s serializes a vector as little-endian float32s.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes b into buf, growing it only when needed.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine returns the cosine similarity of a and b given a's precomputed norm.
// Vectors of different length score 0.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	if bNormSq == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * math.Sqrt(bNormSq)))
}

// idScoreHeap is a min-heap on Score.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
