// Package gaze defines the domain model for gaze acquisition: sessions,
// samples, events, video chunk records, and the coordinate transforms and
// quality accounting that operate on them.
package gaze

import (
	"encoding/json"
	"time"
)

// RecordingMode selects which spatial region is captured.
type RecordingMode string

const (
	// ModeFullScreen captures the entire display.
	ModeFullScreen RecordingMode = "full-screen"
	// ModeCurrentTab captures the current browsing surface only.
	ModeCurrentTab RecordingMode = "current-tab"
)

// SessionStatus is the lifecycle status of a session.
type SessionStatus string

const (
	SessionRecording SessionStatus = "recording"
	SessionCompleted SessionStatus = "completed"
	SessionError     SessionStatus = "error"
)

// QualityTier is a coarse classification of tracking reliability.
type QualityTier string

const (
	QualityExcellent   QualityTier = "excellent"
	QualityGood        QualityTier = "good"
	QualityPoor        QualityTier = "poor"
	QualityUnavailable QualityTier = "unavailable"
)

// DefaultConfidence is assumed for raw samples that carry no confidence
// score.
const DefaultConfidence = 0.8

// Point is a 2-D position in some spatial frame.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DisplayBounds captures the extents of the physical display in pixels.
type DisplayBounds struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Geometry is a snapshot of the browsing-surface geometry: its position on
// the display, scroll offsets, and inner/outer extents. Only meaningful for
// current-tab sessions.
type Geometry struct {
	ScreenX     float64 `json:"screenX"`
	ScreenY     float64 `json:"screenY"`
	ScrollX     float64 `json:"scrollX"`
	ScrollY     float64 `json:"scrollY"`
	InnerWidth  float64 `json:"innerWidth"`
	InnerHeight float64 `json:"innerHeight"`
	OuterWidth  float64 `json:"outerWidth"`
	OuterHeight float64 `json:"outerHeight"`
}

// SessionConfig holds the capture configuration for one session.
type SessionConfig struct {
	FrameRate       int    `json:"frame_rate"`
	Quality         string `json:"quality"`
	ChunkDurationMs int64  `json:"chunk_duration_ms"`
	VideoFormat     string `json:"video_format"`
}

// Session is one bounded recording/experiment run with a single participant.
// Exactly one session may be active at a time. A session is immutable once
// its status reaches completed.
type Session struct {
	SessionID      string        `json:"session_id"`
	ParticipantID  string        `json:"participant_id"`
	ExperimentType string        `json:"experiment_type"`
	Mode           RecordingMode `json:"mode"`
	Config         SessionConfig `json:"config"`

	// Display and Surface are startup-time reference snapshots of the
	// display and browsing-surface geometry.
	Display DisplayBounds `json:"display"`
	Surface Geometry      `json:"surface"`

	Status     SessionStatus `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	EndedAt    *time.Time    `json:"ended_at,omitempty"`
	DurationMs *int64        `json:"duration_ms,omitempty"`

	// RecordingStartMonoMs is the monotonic timestamp at which capture began,
	// used to bound which samples belong to the active recording window.
	RecordingStartMonoMs *int64 `json:"recording_start_mono_ms,omitempty"`

	// CapturedWidth/CapturedHeight are the actual extents of the captured
	// video content, known once the capture stream is live.
	CapturedWidth  *int `json:"captured_width,omitempty"`
	CapturedHeight *int `json:"captured_height,omitempty"`
}

// RawEye is the wire form of one eye's sub-record as produced by a tracker
// feed. Position is the 3-D eye position in the tracker's user coordinate
// system; nil fields were invalid at the sensor.
type RawEye struct {
	ScreenX   float64  `json:"screenX"`
	ScreenY   float64  `json:"screenY"`
	PositionX *float64 `json:"positionX,omitempty"`
	PositionY *float64 `json:"positionY,omitempty"`
	PositionZ *float64 `json:"positionZ,omitempty"`
	PupilSize *float64 `json:"pupilSize,omitempty"`
	Rotation  *float64 `json:"rotation,omitempty"`
}

// RawSample is a raw positional input from a live source, before coordinate
// enrichment. Coordinates may be absolute display pixels or normalized 0-1,
// flagged by Normalized.
type RawSample struct {
	DeviceTimestamp *int64   `json:"deviceTimeStamp,omitempty"`
	SystemTimestamp *int64   `json:"systemTimestamp,omitempty"`
	Normalized      bool     `json:"normalized,omitempty"`
	ScreenX         float64  `json:"screenX"`
	ScreenY         float64  `json:"screenY"`
	Confidence      *float64 `json:"confidence,omitempty"`
	LeftEye         *RawEye  `json:"leftEye,omitempty"`
	RightEye        *RawEye  `json:"rightEye,omitempty"`
}

// EyeSample is one eye's enriched sub-record within a stored gaze sample.
type EyeSample struct {
	Screen    Point    `json:"screen"`
	Content   Point    `json:"content"`
	PositionX *float64 `json:"position_x,omitempty"`
	PositionY *float64 `json:"position_y,omitempty"`
	PositionZ *float64 `json:"position_z,omitempty"`
	PupilSize *float64 `json:"pupil_size,omitempty"`
	Rotation  *float64 `json:"rotation,omitempty"`
}

// GazeSample is one timestamped, coordinate-enriched estimate of where a
// viewer is looking. Samples are append-only and immutable once stored.
type GazeSample struct {
	SampleID  int64  `json:"sample_id,omitempty"`
	SessionID string `json:"session_id"`

	DeviceTimestamp *int64 `json:"device_timestamp,omitempty"`
	SystemTsMs      int64  `json:"system_ts_ms"`
	MonotonicMs     int64  `json:"monotonic_ms"`

	Raw           Point  `json:"raw"`
	RawNormalized bool   `json:"raw_normalized"`
	Content       Point  `json:"content"`
	Page          *Point `json:"page,omitempty"`
	Norm          Point  `json:"norm"`
	InBounds      bool   `json:"in_bounds"`

	Confidence float64 `json:"confidence"`

	LeftEye  *EyeSample `json:"left_eye,omitempty"`
	RightEye *EyeSample `json:"right_eye,omitempty"`

	// Surface is the browsing-surface geometry at capture time. Only set for
	// current-tab sessions.
	Surface *Geometry `json:"surface,omitempty"`
}

// EventKind enumerates session event types.
type EventKind string

const (
	EventSessionStart      EventKind = "session_start"
	EventSessionStop       EventKind = "session_stop"
	EventRecordingStart    EventKind = "recording_start"
	EventRecordingStop     EventKind = "recording_stop"
	EventUser              EventKind = "user_event"
	EventCalibrationStart  EventKind = "calibration_start"
	EventCalibrationPoint  EventKind = "calibration_point"
	EventCalibrationResult EventKind = "calibration_result"
)

// SessionEvent is one append-only lifecycle or user-interaction event.
type SessionEvent struct {
	EventID     int64           `json:"event_id,omitempty"`
	SessionID   string          `json:"session_id"`
	Kind        EventKind       `json:"kind"`
	SystemTsMs  int64           `json:"system_ts_ms"`
	MonotonicMs int64           `json:"monotonic_ms"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// VideoChunk is one recorded media chunk. Chunks for a session are ordered by
// index, contiguous from 0, and concatenable in order to reconstruct the full
// recording. Data holds the binary payload and is omitted from record-only
// reads.
type VideoChunk struct {
	ChunkID    string `json:"chunk_id"`
	SessionID  string `json:"session_id"`
	Index      int    `json:"index"`
	SystemTsMs int64  `json:"system_ts_ms"`
	DurationMs int64  `json:"duration_ms"`
	ByteSize   int64  `json:"byte_size"`
	Data       []byte `json:"-"`
}

// TrackingStatus is the ephemeral per-adaptor status. It is recomputed on
// every status-affecting event and never persisted.
type TrackingStatus struct {
	Connected bool           `json:"connected"`
	Tracking  bool           `json:"tracking"`
	Quality   QualityTier    `json:"quality"`
	Message   string         `json:"message,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// DerivedMetadata summarises a reconstructed session for export consumers.
type DerivedMetadata struct {
	SampleCount     int      `json:"sample_count"`
	EventCount      int      `json:"event_count"`
	ChunkCount      int      `json:"chunk_count"`
	TotalVideoBytes int64    `json:"total_video_bytes"`
	DurationMs      *int64   `json:"duration_ms,omitempty"`
	AvgConfidence   *float64 `json:"avg_confidence,omitempty"`
}

// SessionData is the full reconstruction of one session for export.
type SessionData struct {
	Session     *Session        `json:"session"`
	Events      []*SessionEvent `json:"events"`
	GazeSamples []*GazeSample   `json:"gaze_samples"`
	VideoChunks []*VideoChunk   `json:"video_chunks"`
	Derived     DerivedMetadata `json:"derived_metadata"`
}
