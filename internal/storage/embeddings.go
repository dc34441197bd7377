package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/Veraticus/expensetrack/internal/common"
	"github.com/Veraticus/expensetrack/internal/model"
)

// SaveEmbedding stores an embedding record.
func (s *SQLiteStorage) SaveEmbedding(ctx context.Context, record *model.EmbeddingRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("%w: record", ErrNilParameter)
	}
	if err := validateString(record.ID, "record.ID"); err != nil {
		return err
	}
	if err := validateString(record.UserID, "record.UserID"); err != nil {
		return err
	}
	if len(record.Vector) == 0 {
		return fmt.Errorf("%w: record.Vector", ErrEmptySlice)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO embeddings (id, user_id, text, gl_code, department, vector, verified, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, record.ID, record.UserID, record.Text, record.GLCode, record.Department,
		encodeVector(record.Vector), boolToInt(record.Verified), record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save embedding: %w", err)
	}
	return nil
}

// NearestNeighbor scans the user's verified embeddings and returns the one with
// the highest cosine similarity to vector. Ties resolve to the lowest record ID.
func (s *SQLiteStorage) NearestNeighbor(ctx context.Context, userID string, vector []float32) (*model.Neighbor, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: vector", ErrEmptySlice)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, gl_code, department, vector
		FROM embeddings
		WHERE user_id = ? AND verified = 1
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var best *model.Neighbor
	for rows.Next() {
		var (
			candidate model.Neighbor
			blob      []byte
		)
		if err := rows.Scan(&candidate.RecordID, &candidate.GLCode, &candidate.Department, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		stored := decodeVector(blob)
		if len(stored) != len(vector) {
			continue
		}
		candidate.Similarity = cosine(vector, stored)
		if best == nil || candidate.Similarity > best.Similarity {
			c := candidate
			best = &c
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate embeddings: %w", err)
	}

	if best == nil {
		return nil, fmt.Errorf("no verified embeddings for user %s: %w", userID, common.ErrNotFound)
	}
	return best, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
