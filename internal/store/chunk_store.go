package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/retinalab/gazecap/internal/gaze"
)

// ErrChunkIndexGap is returned when a chunk insert would break the contiguous
// 0-based index sequence for its session.
var ErrChunkIndexGap = errors.New("store: video chunk index is not contiguous")

// ChunkStore provides persistence for video chunks. Chunk records (metadata)
// and chunk payloads (BLOBs) live in the same table but are read separately.
type ChunkStore struct {
	db *sql.DB
}

// NewChunkStore creates a ChunkStore backed by the given database.
func NewChunkStore(db *sql.DB) *ChunkStore {
	return &ChunkStore{db: db}
}

// Insert appends one chunk. The chunk index must be exactly one past the
// session's current highest index (or 0 for the first chunk); anything else
// fails with ErrChunkIndexGap so the stored sequence stays concatenable.
func (s *ChunkStore) Insert(ctx context.Context, chunk *gaze.VideoChunk) error {
	if chunk.ChunkID == "" {
		chunk.ChunkID = uuid.New().String()
	}
	if chunk.ByteSize == 0 {
		chunk.ByteSize = int64(len(chunk.Data))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chunk insert: %w", err)
	}

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(chunk_index) + 1, 0) FROM video_chunks WHERE session_id = ?`,
		chunk.SessionID,
	).Scan(&next); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("query next chunk index: %w", err)
	}
	if chunk.Index != next {
		_ = tx.Rollback()
		return fmt.Errorf("%w: got %d, want %d", ErrChunkIndexGap, chunk.Index, next)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO video_chunks (chunk_id, session_id, chunk_index, system_ts_ms, duration_ms, byte_size, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		chunk.ChunkID, chunk.SessionID, chunk.Index, chunk.SystemTsMs, chunk.DurationMs, chunk.ByteSize, chunk.Data,
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert video chunk: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunk insert: %w", err)
	}
	return nil
}

// RecordsBySession retrieves chunk records (without payloads) for a session,
// ordered by index.
func (s *ChunkStore) RecordsBySession(sessionID string) ([]*gaze.VideoChunk, error) {
	rows, err := s.db.Query(`
		SELECT chunk_id, session_id, chunk_index, system_ts_ms, duration_ms, byte_size
		FROM video_chunks
		WHERE session_id = ?
		ORDER BY chunk_index`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query video chunks: %w", err)
	}
	defer rows.Close()

	var out []*gaze.VideoChunk
	for rows.Next() {
		var c gaze.VideoChunk
		if err := rows.Scan(&c.ChunkID, &c.SessionID, &c.Index, &c.SystemTsMs, &c.DurationMs, &c.ByteSize); err != nil {
			return nil, fmt.Errorf("scan video chunk: %w", err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Data retrieves one chunk's binary payload, or nil if the chunk id is
// unknown.
func (s *ChunkStore) Data(chunkID string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM video_chunks WHERE chunk_id = ?`, chunkID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk data: %w", err)
	}
	return data, nil
}

// PruneOlderThan deletes chunks whose timestamp is before cutoffMs and
// returns the number removed.
func (s *ChunkStore) PruneOlderThan(cutoffMs int64) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM video_chunks WHERE system_ts_ms < ?`, cutoffMs)
	if err != nil {
		return 0, fmt.Errorf("prune video chunks: %w", err)
	}
	return res.RowsAffected()
}
