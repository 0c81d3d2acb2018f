// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/retinalab/gazecap/internal/gaze"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// Display returns the standard test display bounds (1920x1080).
func Display() gaze.DisplayBounds {
	return gaze.DisplayBounds{Width: 1920, Height: 1080}
}

// Surface returns a representative current-tab surface geometry: a browser
// window at (100, 50) with a 1200x800 viewport.
func Surface() gaze.Geometry {
	return gaze.Geometry{
		ScreenX:     100,
		ScreenY:     50,
		InnerWidth:  1200,
		InnerHeight: 800,
		OuterWidth:  1280,
		OuterHeight: 900,
	}
}

// SessionConfig returns a typical capture configuration for tests.
func SessionConfig() gaze.SessionConfig {
	return gaze.SessionConfig{
		FrameRate:       30,
		Quality:         "high",
		ChunkDurationMs: 1000,
		VideoFormat:     "video/webm;codecs=vp9",
	}
}

// Session returns a minimal full-screen session fixture with the given ID.
func Session(id string) *gaze.Session {
	return &gaze.Session{
		SessionID:      id,
		ParticipantID:  "p-001",
		ExperimentType: "reading",
		Mode:           gaze.ModeFullScreen,
		Config:         SessionConfig(),
		Display:        Display(),
		Status:         gaze.SessionRecording,
	}
}

// Float64 returns a pointer to v, for building optional sample fields.
func Float64(v float64) *float64 { return &v }

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }
