// Package tracking provides the pluggable gaze-source framework: a uniform
// adaptor interface over interchangeable live sources (socket-fed trackers,
// pointer-simulated gaze, caller-supplied generators) and a manager that
// multiplexes them onto one ingestion funnel.
package tracking

import (
	"context"

	"github.com/retinalab/gazecap/internal/gaze"
)

// EmitFunc delivers one raw sample from an adaptor into the pipeline. It is
// supplied by the Manager at connect time.
type EmitFunc func(raw gaze.RawSample)

// StatusFunc reports adaptor status changes (connect, disconnect, error).
type StatusFunc func(adaptorID string, status gaze.TrackingStatus)

// Adaptor is a pluggable source of live gaze samples. Implementations must
// stop emitting synchronously on Disconnect: no ghost samples after teardown.
type Adaptor interface {
	// ID identifies the adaptor within the manager.
	ID() string

	// Connect establishes the source and begins emitting raw samples through
	// emit. The context governs the adaptor's whole lifetime; cancellation is
	// equivalent to Disconnect.
	Connect(ctx context.Context, emit EmitFunc) error

	// Disconnect stops emission and releases the source. Safe to call when
	// not connected.
	Disconnect(ctx context.Context) error

	// IsConnected reports whether the adaptor currently holds its source.
	IsConnected() bool

	// Status returns the current ephemeral tracking status.
	Status() gaze.TrackingStatus
}

// SampleSource is an adaptor fed by an external wire protocol; its decoder
// turns inbound messages into raw samples and may be replaced by the caller.
type SampleSource interface {
	Adaptor

	// SetDecoder replaces the raw-sample decoder. Must be called before
	// Connect.
	SetDecoder(dec RawDecoder)
}

// SyntheticSource is an adaptor that fabricates samples locally (pointer
// simulation, caller-supplied generators) via a setup/teardown closure.
type SyntheticSource interface {
	Adaptor
}

// sampleConfidence extracts a raw sample's confidence for quality accounting,
// assuming the default for samples that carry none.
func sampleConfidence(raw gaze.RawSample) float64 {
	if raw.Confidence != nil {
		return *raw.Confidence
	}
	return gaze.DefaultConfidence
}
