package store

import (
	"database/sql"
	"fmt"

	"github.com/retinalab/gazecap/internal/gaze"
)

// EventStore provides append-only persistence for session events.
type EventStore struct {
	db *sql.DB
}

// NewEventStore creates an EventStore backed by the given database.
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// Insert appends one event and fills in its auto-assigned id.
func (s *EventStore) Insert(ev *gaze.SessionEvent) error {
	var payload any
	if len(ev.Payload) > 0 {
		payload = string(ev.Payload)
	}

	res, err := s.db.Exec(`
		INSERT INTO session_events (session_id, kind, system_ts_ms, monotonic_ms, payload_json)
		VALUES (?, ?, ?, ?, ?)`,
		ev.SessionID, string(ev.Kind), ev.SystemTsMs, ev.MonotonicMs, payload,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	ev.EventID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert event id: %w", err)
	}
	return nil
}

// BySession retrieves all events for a session in monotonic order. A non-nil
// window restricts the result to events whose monotonic timestamp falls
// inside it.
func (s *EventStore) BySession(sessionID string, window *Window) ([]*gaze.SessionEvent, error) {
	query := `
		SELECT event_id, session_id, kind, system_ts_ms, monotonic_ms, payload_json
		FROM session_events
		WHERE session_id = ?`
	args := []any{sessionID}
	if window != nil {
		query += ` AND monotonic_ms >= ? AND monotonic_ms <= ?`
		args = append(args, window.StartMs, window.EndMs)
	}
	query += ` ORDER BY monotonic_ms, event_id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []*gaze.SessionEvent
	for rows.Next() {
		var (
			ev      gaze.SessionEvent
			kind    string
			payload sql.NullString
		)
		if err := rows.Scan(&ev.EventID, &ev.SessionID, &kind, &ev.SystemTsMs, &ev.MonotonicMs, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = gaze.EventKind(kind)
		if payload.Valid {
			ev.Payload = []byte(payload.String)
		}
		out = append(out, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// RecordingWindow derives the monotonic window bounded by the session's
// recording_start and recording_stop events. The second return is false when
// no recording_start event exists. A missing recording_stop leaves the window
// open-ended.
func (s *EventStore) RecordingWindow(sessionID string) (Window, bool, error) {
	var startMs sql.NullInt64
	err := s.db.QueryRow(`
		SELECT MIN(monotonic_ms) FROM session_events
		WHERE session_id = ? AND kind = ?`,
		sessionID, string(gaze.EventRecordingStart),
	).Scan(&startMs)
	if err != nil {
		return Window{}, false, fmt.Errorf("query recording start: %w", err)
	}
	if !startMs.Valid {
		return Window{}, false, nil
	}

	var stopMs sql.NullInt64
	err = s.db.QueryRow(`
		SELECT MAX(monotonic_ms) FROM session_events
		WHERE session_id = ? AND kind = ?`,
		sessionID, string(gaze.EventRecordingStop),
	).Scan(&stopMs)
	if err != nil {
		return Window{}, false, fmt.Errorf("query recording stop: %w", err)
	}

	w := Window{StartMs: startMs.Int64, EndMs: int64(^uint64(0) >> 1)}
	if stopMs.Valid {
		w.EndMs = stopMs.Int64
	}
	return w, true, nil
}
