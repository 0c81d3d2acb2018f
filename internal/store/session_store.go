// Package store implements the persisted record sets backing the acquisition
// pipeline: sessions, session events, gaze samples, and video chunks, all
// keyed or indexed by session id.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/retinalab/gazecap/internal/gaze"
)

// ErrSessionNotFound is returned when a session id has no stored row.
var ErrSessionNotFound = errors.New("store: session not found")

// SessionStore provides persistence for sessions.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore creates a SessionStore backed by the given database.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Insert creates a new session row. If s.SessionID is empty a new UUID is
// generated.
func (s *SessionStore) Insert(sess *gaze.Session) error {
	if sess.SessionID == "" {
		sess.SessionID = uuid.New().String()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}

	configJSON, err := json.Marshal(sess.Config)
	if err != nil {
		return fmt.Errorf("marshal session config: %w", err)
	}
	displayJSON, err := json.Marshal(sess.Display)
	if err != nil {
		return fmt.Errorf("marshal display bounds: %w", err)
	}
	surfaceJSON, err := json.Marshal(sess.Surface)
	if err != nil {
		return fmt.Errorf("marshal surface geometry: %w", err)
	}

	query := `
		INSERT INTO sessions (
			session_id, participant_id, experiment_type, mode,
			config_json, display_json, surface_json, status,
			started_at_ms, ended_at_ms, duration_ms,
			recording_start_mono_ms, captured_width, captured_height
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.Exec(query,
		sess.SessionID,
		sess.ParticipantID,
		sess.ExperimentType,
		string(sess.Mode),
		string(configJSON),
		string(displayJSON),
		string(surfaceJSON),
		string(sess.Status),
		sess.StartedAt.UnixMilli(),
		nullTimeMs(sess.EndedAt),
		nullInt64(sess.DurationMs),
		nullInt64(sess.RecordingStartMonoMs),
		nullInt(sess.CapturedWidth),
		nullInt(sess.CapturedHeight),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

const sessionColumns = `
	session_id, participant_id, experiment_type, mode,
	config_json, display_json, surface_json, status,
	started_at_ms, ended_at_ms, duration_ms,
	recording_start_mono_ms, captured_width, captured_height
`

// Get retrieves a session by id.
func (s *SessionStore) Get(sessionID string) (*gaze.Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// List retrieves all sessions, most recent first.
func (s *SessionStore) List() ([]*gaze.Session, error) {
	rows, err := s.db.Query(`SELECT ` + sessionColumns + ` FROM sessions ORDER BY started_at_ms DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*gaze.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SetRecordingStart records the monotonic recording-start reference and the
// actual captured extents once the capture stream is live.
func (s *SessionStore) SetRecordingStart(sessionID string, monoMs int64, capturedW, capturedH *int) error {
	res, err := s.db.Exec(`
		UPDATE sessions
		SET recording_start_mono_ms = ?, captured_width = ?, captured_height = ?
		WHERE session_id = ?`,
		monoMs, nullInt(capturedW), nullInt(capturedH), sessionID,
	)
	if err != nil {
		return fmt.Errorf("set recording start: %w", err)
	}
	return requireRow(res)
}

// Finalize sets the terminal status, end time, and duration of a session.
func (s *SessionStore) Finalize(sessionID string, status gaze.SessionStatus, endedAt time.Time, durationMs int64) error {
	res, err := s.db.Exec(`
		UPDATE sessions
		SET status = ?, ended_at_ms = ?, duration_ms = ?
		WHERE session_id = ?`,
		string(status), endedAt.UnixMilli(), durationMs, sessionID,
	)
	if err != nil {
		return fmt.Errorf("finalize session: %w", err)
	}
	return requireRow(res)
}

// SetStatus updates the session lifecycle status.
func (s *SessionStore) SetStatus(sessionID string, status gaze.SessionStatus) error {
	res, err := s.db.Exec(`UPDATE sessions SET status = ? WHERE session_id = ?`, string(status), sessionID)
	if err != nil {
		return fmt.Errorf("set session status: %w", err)
	}
	return requireRow(res)
}

// Delete removes a session. Events, samples, and chunks referencing it are
// removed by the schema's ON DELETE CASCADE.
func (s *SessionStore) Delete(sessionID string) error {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*gaze.Session, error) {
	var (
		sess                       gaze.Session
		mode, status               string
		configJSON                 string
		displayJSON, surfaceJSON   string
		startedAtMs                int64
		endedAtMs, durationMs      sql.NullInt64
		recordingStartMonoMs       sql.NullInt64
		capturedWidth, capturedHgt sql.NullInt64
	)

	if err := row.Scan(
		&sess.SessionID,
		&sess.ParticipantID,
		&sess.ExperimentType,
		&mode,
		&configJSON,
		&displayJSON,
		&surfaceJSON,
		&status,
		&startedAtMs,
		&endedAtMs,
		&durationMs,
		&recordingStartMonoMs,
		&capturedWidth,
		&capturedHgt,
	); err != nil {
		return nil, err
	}

	sess.Mode = gaze.RecordingMode(mode)
	sess.Status = gaze.SessionStatus(status)
	sess.StartedAt = time.UnixMilli(startedAtMs)

	if err := json.Unmarshal([]byte(configJSON), &sess.Config); err != nil {
		return nil, fmt.Errorf("unmarshal session config: %w", err)
	}
	if err := json.Unmarshal([]byte(displayJSON), &sess.Display); err != nil {
		return nil, fmt.Errorf("unmarshal display bounds: %w", err)
	}
	if err := json.Unmarshal([]byte(surfaceJSON), &sess.Surface); err != nil {
		return nil, fmt.Errorf("unmarshal surface geometry: %w", err)
	}

	if endedAtMs.Valid {
		t := time.UnixMilli(endedAtMs.Int64)
		sess.EndedAt = &t
	}
	if durationMs.Valid {
		v := durationMs.Int64
		sess.DurationMs = &v
	}
	if recordingStartMonoMs.Valid {
		v := recordingStartMonoMs.Int64
		sess.RecordingStartMonoMs = &v
	}
	if capturedWidth.Valid {
		v := int(capturedWidth.Int64)
		sess.CapturedWidth = &v
	}
	if capturedHgt.Valid {
		v := int(capturedHgt.Int64)
		sess.CapturedHeight = &v
	}

	return &sess, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTimeMs(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
