// Package recorder implements the session/recording orchestrator: the
// lifecycle state machine over screen capture and gaze ingestion, the single
// writer of session state, and the subscription surface for UI observers.
package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/retinalab/gazecap/internal/capture"
	"github.com/retinalab/gazecap/internal/gaze"
	"github.com/retinalab/gazecap/internal/monitoring"
	"github.com/retinalab/gazecap/internal/store"
	"github.com/retinalab/gazecap/internal/timeutil"
)

// Programmer-misuse errors: rejected immediately with a stable kind.
var (
	ErrNotInitialized     = errors.New("recorder: not initialized")
	ErrAlreadyInitialized = errors.New("recorder: already initialized")
	ErrNoActiveSession    = errors.New("recorder: no active session")
	ErrSessionActive      = errors.New("recorder: a session is already active")
	ErrAlreadyRecording   = errors.New("recorder: recording already in progress")
	ErrNotRecording       = errors.New("recorder: not recording")
)

// Status is the orchestrator lifecycle state.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusInitialized Status = "initialized"
	StatusRecording   Status = "recording"
	StatusStopping    Status = "stopping"
	StatusStopped     Status = "stopped"
	StatusError       Status = "error"
)

// GeometryFunc supplies the live browsing-surface geometry at sample-capture
// time. It may return nil when no live reading is available.
type GeometryFunc func() *gaze.Geometry

// State is the snapshot handed to subscribers on every committed change.
type State struct {
	Status      Status             `json:"status"`
	Session     *gaze.Session      `json:"session,omitempty"`
	SampleCount int64              `json:"sample_count"`
	EventCount  int64              `json:"event_count"`
	ChunkCount  int64              `json:"chunk_count"`
	Quality     gaze.QualityReport `json:"quality"`
	LastError   string             `json:"last_error,omitempty"`
}

// Config contains construction parameters for Recorder.
type Config struct {
	// Store is the persisted session store. Required.
	Store *store.Store
	// Capturer is the display-capture device. Required.
	Capturer capture.Capturer
	// Geometry supplies live browsing-surface geometry for current-tab
	// sessions. Optional; the session's startup snapshot is the fallback.
	Geometry GeometryFunc
	// Clock is optional; if nil, the real clock is used.
	Clock timeutil.Clock
	// BufferSize is the sample-buffer flush threshold (default 50).
	BufferSize int
	// FlushInterval is the sample-buffer timer interval (default 1s).
	FlushInterval time.Duration
	// ExpectedRateHz is the assumed tracker sampling rate used for loss
	// estimation before enough samples arrive to measure it (default 60).
	ExpectedRateHz float64
}

// Recorder owns the active session and capture stream. All session mutation
// is serialized through it; adaptors only submit samples.
type Recorder struct {
	st       *store.Store
	capturer capture.Capturer
	geometry GeometryFunc
	clock    timeutil.Clock

	buffer  *gaze.SampleBuffer
	quality *gaze.QualityMonitor

	mu            sync.Mutex
	status        Status
	session       *gaze.Session
	startMono     time.Time
	stream        capture.Stream
	captureCancel context.CancelFunc
	captureDone   chan struct{}
	bufferCancel  context.CancelFunc
	sampleCount   int64
	eventCount    int64
	chunkCount    int64
	lastErr       error

	subMu   sync.Mutex
	subs    map[int]func(State)
	nextSub int
}

// New creates a Recorder in the idle state.
func New(cfg Config) *Recorder {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	r := &Recorder{
		st:       cfg.Store,
		capturer: cfg.Capturer,
		geometry: cfg.Geometry,
		clock:    clock,
		quality:  gaze.NewQualityMonitor(clock, cfg.ExpectedRateHz),
		status:   StatusIdle,
		subs:     make(map[int]func(State)),
	}
	r.buffer = gaze.NewSampleBuffer(gaze.SampleBufferConfig{
		Flush:    r.st.Samples.InsertBatch,
		MaxSize:  cfg.BufferSize,
		Interval: cfg.FlushInterval,
		Clock:    clock,
	})
	return r
}

// Initialize prepares storage and starts the background flush loop.
// Transitions idle to initialized; double initialization is rejected.
func (r *Recorder) Initialize(ctx context.Context) error {
	r.mu.Lock()
	if r.status != StatusIdle {
		r.mu.Unlock()
		return ErrAlreadyInitialized
	}
	if err := r.st.DB.PingContext(ctx); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("storage unavailable: %w", err)
	}

	r.startMono = r.clock.Now()
	bufCtx, cancel := context.WithCancel(context.Background())
	r.bufferCancel = cancel
	go func() {
		if err := r.buffer.Run(bufCtx); err != nil {
			monitoring.Logf("recorder: buffer loop exited: %v", err)
		}
	}()

	r.status = StatusInitialized
	state := r.stateLocked()
	r.mu.Unlock()

	r.notify(state)
	return nil
}

// CreateSessionRequest describes a new session.
type CreateSessionRequest struct {
	ParticipantID  string             `json:"participant_id"`
	ExperimentType string             `json:"experiment_type"`
	Mode           gaze.RecordingMode `json:"mode"`
	Config         gaze.SessionConfig `json:"config"`
	Display        gaze.DisplayBounds `json:"display"`
	Surface        gaze.Geometry      `json:"surface"`
}

// CreateSession persists a new session and emits session_start. Rejected
// unless the orchestrator is exactly in the initialized state with no session
// active.
func (r *Recorder) CreateSession(ctx context.Context, req CreateSessionRequest) (string, error) {
	r.mu.Lock()

	if r.status == StatusIdle {
		r.mu.Unlock()
		return "", ErrNotInitialized
	}
	if r.status != StatusInitialized || r.session != nil {
		r.mu.Unlock()
		return "", ErrSessionActive
	}

	mode := req.Mode
	if mode == "" {
		mode = gaze.ModeFullScreen
	}

	sess := &gaze.Session{
		SessionID:      uuid.New().String(),
		ParticipantID:  req.ParticipantID,
		ExperimentType: req.ExperimentType,
		Mode:           mode,
		Config:         req.Config,
		Display:        req.Display,
		Surface:        req.Surface,
		Status:         gaze.SessionRecording,
		StartedAt:      r.clock.Now(),
	}
	if err := r.st.Sessions.Insert(sess); err != nil {
		r.mu.Unlock()
		return "", fmt.Errorf("persist session: %w", err)
	}
	r.session = sess

	if err := r.insertEventLocked(gaze.EventSessionStart, nil); err != nil {
		r.setErrorLocked(err)
		r.mu.Unlock()
		return sess.SessionID, err
	}

	state := r.stateLocked()
	r.mu.Unlock()
	r.notify(state)
	return sess.SessionID, nil
}

// StartRecording requests display capture, negotiates an encoding, begins
// chunked capture, and records the monotonic recording-start reference.
func (r *Recorder) StartRecording(ctx context.Context) error {
	r.mu.Lock()
	st, err := r.startRecordingLocked(ctx)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.notify(st)
	return nil
}

func (r *Recorder) startRecordingLocked(ctx context.Context) (State, error) {
	if r.session == nil {
		return State{}, ErrNoActiveSession
	}
	if r.status == StatusRecording || r.status == StatusStopping {
		return State{}, ErrAlreadyRecording
	}

	mimeType, err := capture.NegotiateMimeType(r.capturer, r.session.Config.VideoFormat)
	if err != nil {
		return State{}, err
	}

	chunkInterval := time.Duration(r.session.Config.ChunkDurationMs) * time.Millisecond
	if chunkInterval <= 0 {
		chunkInterval = time.Second
	}

	captureCtx, cancel := context.WithCancel(context.Background())
	stream, err := r.capturer.Capture(captureCtx, capture.Request{
		Mode:          r.session.Mode,
		MimeType:      mimeType,
		FrameRate:     r.session.Config.FrameRate,
		ChunkInterval: chunkInterval,
	})
	if err != nil {
		cancel()
		// Capability error: the session stays in its pre-attempt state.
		return State{}, err
	}

	width, height := stream.Bounds()
	monoMs := r.monoNowLocked()
	if err := r.st.Sessions.SetRecordingStart(r.session.SessionID, monoMs, &width, &height); err != nil {
		cancel()
		stream.Close()
		return State{}, fmt.Errorf("persist recording start: %w", err)
	}
	r.session.RecordingStartMonoMs = &monoMs
	r.session.CapturedWidth = &width
	r.session.CapturedHeight = &height

	if err := r.insertEventLocked(gaze.EventRecordingStart, nil); err != nil {
		cancel()
		stream.Close()
		return State{}, err
	}

	r.stream = stream
	r.captureCancel = cancel
	r.captureDone = make(chan struct{})
	go r.consumeChunks(stream, r.session.SessionID, r.captureDone)

	r.status = StatusRecording
	return r.stateLocked(), nil
}

// StopRecording halts capture, drains and persists remaining chunks and
// samples, finalizes the session, and emits recording_stop.
func (r *Recorder) StopRecording(ctx context.Context) error {
	r.mu.Lock()
	if r.status != StatusRecording {
		r.mu.Unlock()
		return ErrNotRecording
	}
	sess := r.session
	stream := r.stream
	cancel := r.captureCancel
	done := r.captureDone
	// Park in stopping so a concurrent stop cannot pass the recording gate
	// while the lock is released for the drain.
	r.status = StatusStopping
	r.mu.Unlock()

	// Release the capture device and wait for the chunk consumer to drain
	// outside the lock.
	cancel()
	stream.Close()
	<-done

	flushErr := r.buffer.Flush(ctx)

	r.mu.Lock()
	if r.session != sess {
		// A concurrent Reset tore the session down during the drain and
		// already owns cleanup.
		r.mu.Unlock()
		return ErrNoActiveSession
	}
	if flushErr != nil {
		// The buffer re-queues failed batches, so a retried stop flushes
		// again. The capture handles stay set; closing them twice is safe.
		r.setErrorLocked(flushErr)
		r.status = StatusRecording
		r.mu.Unlock()
		return flushErr
	}

	endedAt := r.clock.Now()
	durationMs := endedAt.Sub(sess.StartedAt).Milliseconds()
	if err := r.st.Sessions.Finalize(sess.SessionID, gaze.SessionCompleted, endedAt, durationMs); err != nil {
		r.setErrorLocked(err)
		r.status = StatusRecording
		r.mu.Unlock()
		return fmt.Errorf("finalize session: %w", err)
	}
	sess.Status = gaze.SessionCompleted
	sess.EndedAt = &endedAt
	sess.DurationMs = &durationMs

	if err := r.insertEventLocked(gaze.EventRecordingStop, nil); err != nil {
		r.setErrorLocked(err)
		r.status = StatusRecording
		r.mu.Unlock()
		return err
	}

	r.stream = nil
	r.captureCancel = nil
	r.captureDone = nil
	r.status = StatusStopped
	state := r.stateLocked()
	r.mu.Unlock()
	r.notify(state)
	return nil
}

// AddGazeSample ingests one raw sample: coordinate enrichment, buffered
// persistence, quality accounting, and subscriber notification. Ingestion is
// accepted whenever a session exists, recording or not; exports trim to the
// recording window at read time.
func (r *Recorder) AddGazeSample(ctx context.Context, raw gaze.RawSample) (*gaze.GazeSample, error) {
	r.mu.Lock()

	if r.session == nil {
		r.mu.Unlock()
		return nil, ErrNoActiveSession
	}
	sess := r.session

	var geom *gaze.Geometry
	if sess.Mode == gaze.ModeCurrentTab {
		if r.geometry != nil {
			geom = r.geometry()
		}
		if geom == nil {
			// No live reading; fall back to the startup snapshot so content
			// coordinates stay computable.
			snapshot := sess.Surface
			geom = &snapshot
		}
	}

	in := gaze.RawInput{
		X:          raw.ScreenX,
		Y:          raw.ScreenY,
		Normalized: raw.Normalized,
		DisplayW:   sess.Display.Width,
		DisplayH:   sess.Display.Height,
	}
	tf, err := gaze.TransformAll(in, sess.Mode, geom)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}

	confidence := gaze.DefaultConfidence
	if raw.Confidence != nil {
		confidence = *raw.Confidence
	}

	systemTs := r.clock.Now().UnixMilli()
	if raw.SystemTimestamp != nil {
		systemTs = *raw.SystemTimestamp
	}

	sample := &gaze.GazeSample{
		SessionID:       sess.SessionID,
		DeviceTimestamp: raw.DeviceTimestamp,
		SystemTsMs:      systemTs,
		MonotonicMs:     r.monoNowLocked(),
		Raw:             gaze.Point{X: raw.ScreenX, Y: raw.ScreenY},
		RawNormalized:   raw.Normalized,
		Content:         tf.Content,
		Page:            tf.Page,
		Norm:            tf.Norm,
		InBounds:        tf.InBounds,
		Confidence:      confidence,
		Surface:         geom,
	}
	if sess.Mode == gaze.ModeFullScreen {
		sample.Surface = nil
	}

	sample.LeftEye, err = enrichEye(raw.LeftEye, raw.Normalized, sess, geom)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	sample.RightEye, err = enrichEye(raw.RightEye, raw.Normalized, sess, geom)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}

	// Count before the write: at-least-once semantics, counters are not
	// rolled back on persistence failure.
	r.sampleCount++
	r.quality.Observe(confidence)

	if err := r.buffer.Push(ctx, sample); err != nil {
		r.setErrorLocked(err)
		state := r.stateLocked()
		r.mu.Unlock()
		r.notify(state)
		return sample, err
	}

	state := r.stateLocked()
	r.mu.Unlock()
	r.notify(state)
	return sample, nil
}

// AddEvent persists one session event. Payload may be nil or any
// JSON-marshalable value.
func (r *Recorder) AddEvent(ctx context.Context, kind gaze.EventKind, payload any) error {
	r.mu.Lock()

	if r.session == nil {
		r.mu.Unlock()
		return ErrNoActiveSession
	}

	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			r.mu.Unlock()
			return fmt.Errorf("marshal event payload: %w", err)
		}
		raw = b
	}

	if err := r.insertEventLocked(kind, raw); err != nil {
		r.setErrorLocked(err)
		state := r.stateLocked()
		r.mu.Unlock()
		r.notify(state)
		return err
	}

	state := r.stateLocked()
	r.mu.Unlock()
	r.notify(state)
	return nil
}

// Reset forcibly halts any in-progress capture, stops background work, and
// returns to idle. Already-persisted data is untouched.
func (r *Recorder) Reset(ctx context.Context) error {
	r.mu.Lock()
	stream := r.stream
	cancel := r.captureCancel
	done := r.captureDone
	bufferCancel := r.bufferCancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		stream.Close()
		<-done
	}
	if bufferCancel != nil {
		bufferCancel()
		r.buffer.Stop()
	}
	// Best-effort final flush of anything the loop left behind.
	if err := r.buffer.Flush(ctx); err != nil {
		monitoring.Logf("recorder: reset flush failed, %d samples dropped from buffer: %v", r.buffer.Len(), err)
	}

	r.mu.Lock()
	r.stream = nil
	r.captureCancel = nil
	r.captureDone = nil
	r.bufferCancel = nil
	r.session = nil
	r.sampleCount = 0
	r.eventCount = 0
	r.chunkCount = 0
	r.lastErr = nil
	r.quality.Reset()
	r.status = StatusIdle
	state := r.stateLocked()
	r.mu.Unlock()

	r.notify(state)
	return nil
}

// Subscribe registers a callback notified on every committed state change.
// The returned function removes the subscription.
func (r *Recorder) Subscribe(fn func(State)) func() {
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.subMu.Unlock()

	return func() {
		r.subMu.Lock()
		delete(r.subs, id)
		r.subMu.Unlock()
	}
}

// GetState returns a snapshot of the current orchestrator state.
func (r *Recorder) GetState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateLocked()
}

// GetSessionData reconstructs a stored session for export consumers. With
// windowed set, samples are trimmed to the recording window.
func (r *Recorder) GetSessionData(sessionID string, windowed bool) (*gaze.SessionData, error) {
	return r.st.SessionData(sessionID, windowed)
}

// GetVideoChunkData returns one chunk's binary payload, or nil for an
// unknown chunk id.
func (r *Recorder) GetVideoChunkData(chunkID string) ([]byte, error) {
	return r.st.Chunks.Data(chunkID)
}

// FlushSamples forces a synchronous drain of the sample buffer.
func (r *Recorder) FlushSamples(ctx context.Context) error {
	return r.buffer.Flush(ctx)
}

// consumeChunks persists chunks from the capture stream until it closes.
// A failed insert keeps the index counter unchanged so the stored sequence
// stays contiguous; the chunk is lost and the error surfaces as a recoverable
// error state.
func (r *Recorder) consumeChunks(stream capture.Stream, sessionID string, done chan struct{}) {
	defer close(done)

	index := 0
	for chunk := range stream.Chunks() {
		record := &gaze.VideoChunk{
			SessionID:  sessionID,
			Index:      index,
			SystemTsMs: chunk.Timestamp.UnixMilli(),
			DurationMs: chunk.DurationMs,
			Data:       chunk.Data,
		}
		if chunk.Timestamp.IsZero() {
			record.SystemTsMs = r.clock.Now().UnixMilli()
		}

		if err := r.st.Chunks.Insert(context.Background(), record); err != nil {
			monitoring.Logf("recorder: chunk %d persist failed: %v", index, err)
			r.mu.Lock()
			r.setErrorLocked(err)
			state := r.stateLocked()
			r.mu.Unlock()
			r.notify(state)
			continue
		}
		index++

		r.mu.Lock()
		r.chunkCount++
		state := r.stateLocked()
		r.mu.Unlock()
		r.notify(state)
	}
}

// insertEventLocked persists one event and bumps the event counter. Counting
// happens before the write, matching the at-least-once sample counters.
func (r *Recorder) insertEventLocked(kind gaze.EventKind, payload json.RawMessage) error {
	r.eventCount++
	ev := &gaze.SessionEvent{
		SessionID:   r.session.SessionID,
		Kind:        kind,
		SystemTsMs:  r.clock.Now().UnixMilli(),
		MonotonicMs: r.monoNowLocked(),
		Payload:     payload,
	}
	if err := r.st.Events.Insert(ev); err != nil {
		return fmt.Errorf("persist %s event: %w", kind, err)
	}
	return nil
}

// setErrorLocked records a recoverable error. The lifecycle status is left
// alone: an error never downgrades a recording session without an explicit
// stop.
func (r *Recorder) setErrorLocked(err error) {
	r.lastErr = err
}

func (r *Recorder) monoNowLocked() int64 {
	return r.clock.Since(r.startMono).Milliseconds()
}

func (r *Recorder) stateLocked() State {
	s := State{
		Status:      r.status,
		SampleCount: r.sampleCount,
		EventCount:  r.eventCount,
		ChunkCount:  r.chunkCount,
		Quality:     r.quality.Report(),
	}
	if r.session != nil {
		sess := *r.session
		s.Session = &sess
	}
	if r.lastErr != nil {
		s.LastError = r.lastErr.Error()
	}
	return s
}

func (r *Recorder) notify(state State) {
	r.subMu.Lock()
	fns := make([]func(State), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.subMu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

// enrichEye runs the coordinate transforms for one eye sub-record. The
// normalized flag is inherited from the enclosing raw sample.
func enrichEye(raw *gaze.RawEye, normalized bool, sess *gaze.Session, geom *gaze.Geometry) (*gaze.EyeSample, error) {
	if raw == nil {
		return nil, nil
	}

	in := gaze.RawInput{
		X:          raw.ScreenX,
		Y:          raw.ScreenY,
		Normalized: normalized,
		DisplayW:   sess.Display.Width,
		DisplayH:   sess.Display.Height,
	}
	content, err := gaze.ToContent(in, sess.Mode, geom)
	if err != nil {
		return nil, err
	}

	return &gaze.EyeSample{
		Screen:    gaze.Point{X: raw.ScreenX, Y: raw.ScreenY},
		Content:   content,
		PositionX: raw.PositionX,
		PositionY: raw.PositionY,
		PositionZ: raw.PositionZ,
		PupilSize: raw.PupilSize,
		Rotation:  raw.Rotation,
	}, nil
}
