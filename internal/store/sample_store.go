package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/retinalab/gazecap/internal/gaze"
)

// SampleStore provides append-only persistence for gaze samples.
type SampleStore struct {
	db *sql.DB
}

// NewSampleStore creates a SampleStore backed by the given database.
func NewSampleStore(db *sql.DB) *SampleStore {
	return &SampleStore{db: db}
}

const insertSampleSQL = `
	INSERT INTO gaze_samples (
		session_id, device_ts, system_ts_ms, monotonic_ms,
		raw_x, raw_y, raw_normalized,
		content_x, content_y, page_x, page_y, norm_x, norm_y, in_bounds,
		confidence, left_eye_json, right_eye_json, surface_json
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// Insert appends one sample.
func (s *SampleStore) Insert(sample *gaze.GazeSample) error {
	args, err := sampleArgs(sample)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(insertSampleSQL, args...)
	if err != nil {
		return fmt.Errorf("insert gaze sample: %w", err)
	}
	sample.SampleID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert gaze sample id: %w", err)
	}
	return nil
}

// InsertBatch appends a batch of samples in one transaction, preserving
// arrival order. Either the whole batch commits or none of it does.
func (s *SampleStore) InsertBatch(ctx context.Context, batch []*gaze.GazeSample) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sample batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertSampleSQL)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare sample insert: %w", err)
	}
	defer stmt.Close()

	for _, sample := range batch {
		args, err := sampleArgs(sample)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert gaze sample: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sample batch: %w", err)
	}
	return nil
}

// BySession retrieves samples for a session in storage (arrival) order. A
// non-nil window restricts the result to the monotonic timestamp range, used
// to trim pre-roll and post-roll noise from exports.
func (s *SampleStore) BySession(sessionID string, window *Window) ([]*gaze.GazeSample, error) {
	query := `
		SELECT sample_id, session_id, device_ts, system_ts_ms, monotonic_ms,
		       raw_x, raw_y, raw_normalized,
		       content_x, content_y, page_x, page_y, norm_x, norm_y, in_bounds,
		       confidence, left_eye_json, right_eye_json, surface_json
		FROM gaze_samples
		WHERE session_id = ?`
	args := []any{sessionID}
	if window != nil {
		query += ` AND monotonic_ms >= ? AND monotonic_ms <= ?`
		args = append(args, window.StartMs, window.EndMs)
	}
	query += ` ORDER BY sample_id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query gaze samples: %w", err)
	}
	defer rows.Close()

	var out []*gaze.GazeSample
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of stored samples for a session.
func (s *SampleStore) Count(sessionID string) (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM gaze_samples WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count gaze samples: %w", err)
	}
	return n, nil
}

func sampleArgs(sample *gaze.GazeSample) ([]any, error) {
	leftJSON, err := marshalEye(sample.LeftEye)
	if err != nil {
		return nil, err
	}
	rightJSON, err := marshalEye(sample.RightEye)
	if err != nil {
		return nil, err
	}

	var surfaceJSON any
	if sample.Surface != nil {
		b, err := json.Marshal(sample.Surface)
		if err != nil {
			return nil, fmt.Errorf("marshal surface snapshot: %w", err)
		}
		surfaceJSON = string(b)
	}

	var pageX, pageY any
	if sample.Page != nil {
		pageX, pageY = sample.Page.X, sample.Page.Y
	}

	return []any{
		sample.SessionID,
		nullInt64(sample.DeviceTimestamp),
		sample.SystemTsMs,
		sample.MonotonicMs,
		sample.Raw.X, sample.Raw.Y, sample.RawNormalized,
		sample.Content.X, sample.Content.Y,
		pageX, pageY,
		sample.Norm.X, sample.Norm.Y,
		sample.InBounds,
		sample.Confidence,
		leftJSON, rightJSON, surfaceJSON,
	}, nil
}

func marshalEye(eye *gaze.EyeSample) (any, error) {
	if eye == nil {
		return nil, nil
	}
	b, err := json.Marshal(eye)
	if err != nil {
		return nil, fmt.Errorf("marshal eye sample: %w", err)
	}
	return string(b), nil
}

func scanSample(rows *sql.Rows) (*gaze.GazeSample, error) {
	var (
		sample                        gaze.GazeSample
		deviceTs                      sql.NullInt64
		pageX, pageY                  sql.NullFloat64
		leftJSON, rightJSON, surfJSON sql.NullString
	)

	if err := rows.Scan(
		&sample.SampleID,
		&sample.SessionID,
		&deviceTs,
		&sample.SystemTsMs,
		&sample.MonotonicMs,
		&sample.Raw.X, &sample.Raw.Y, &sample.RawNormalized,
		&sample.Content.X, &sample.Content.Y,
		&pageX, &pageY,
		&sample.Norm.X, &sample.Norm.Y,
		&sample.InBounds,
		&sample.Confidence,
		&leftJSON, &rightJSON, &surfJSON,
	); err != nil {
		return nil, fmt.Errorf("scan gaze sample: %w", err)
	}

	if deviceTs.Valid {
		v := deviceTs.Int64
		sample.DeviceTimestamp = &v
	}
	if pageX.Valid && pageY.Valid {
		sample.Page = &gaze.Point{X: pageX.Float64, Y: pageY.Float64}
	}
	if leftJSON.Valid {
		var eye gaze.EyeSample
		if err := json.Unmarshal([]byte(leftJSON.String), &eye); err != nil {
			return nil, fmt.Errorf("unmarshal left eye: %w", err)
		}
		sample.LeftEye = &eye
	}
	if rightJSON.Valid {
		var eye gaze.EyeSample
		if err := json.Unmarshal([]byte(rightJSON.String), &eye); err != nil {
			return nil, fmt.Errorf("unmarshal right eye: %w", err)
		}
		sample.RightEye = &eye
	}
	if surfJSON.Valid {
		var geom gaze.Geometry
		if err := json.Unmarshal([]byte(surfJSON.String), &geom); err != nil {
			return nil, fmt.Errorf("unmarshal surface snapshot: %w", err)
		}
		sample.Surface = &geom
	}

	return &sample, nil
}
