package retrieval

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Compile-time check that SQLiteStore implements VectorCache.
var _ VectorCache = (*SQLiteStore)(nil)

// SQLiteStore keeps the most recent index generation in the chunk_vectors
// table. Only one fingerprint is stored at a time.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB. The chunk_vectors table must
// already exist (created via migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Load returns the chunks stored under fingerprint in ordinal order.
func (s *SQLiteStore) Load(ctx context.Context, fingerprint string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ordinal, doc_id, doc_kind, title, text_chunk, start_offset, end_offset, embedding
		FROM chunk_vectors WHERE fingerprint = ? ORDER BY ordinal ASC`, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("querying chunk vectors: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var blob []byte
		if err := rows.Scan(&c.Ordinal, &c.DocID, &c.DocKind, &c.Title, &c.Text, &c.Start, &c.End, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		c.Embedding, err = decodeFloat32s(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for chunk %d: %w", c.Ordinal, err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return chunks, nil
}

// Save replaces every stored generation with the given one in a single
// transaction.
func (s *SQLiteStore) Save(ctx context.Context, fingerprint string, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning save transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_vectors`); err != nil {
		return fmt.Errorf("clearing chunk vectors: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunk_vectors (fingerprint, ordinal, doc_id, doc_kind, title, text_chunk, start_offset, end_offset, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, fingerprint, c.Ordinal, c.DocID, c.DocKind, c.Title, c.Text,
			c.Start, c.End, encodeFloat32s(c.Embedding), now); err != nil {
			return fmt.Errorf("inserting chunk %d: %w", c.Ordinal, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of stored chunks.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunk_vectors").Scan(&count)
	return count, err
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4 (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
