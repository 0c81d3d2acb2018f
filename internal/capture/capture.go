// Package capture defines the display-capture device boundary: requesting a
// video stream for a spatial region, negotiating a supported encoding, and
// consuming chunked output.
package capture

import (
	"context"
	"errors"
	"time"

	"github.com/retinalab/gazecap/internal/gaze"
)

// Capability errors. The session remains in its pre-attempt state when one of
// these is reported.
var (
	// ErrPermissionDenied is returned when the capture device refuses access.
	ErrPermissionDenied = errors.New("capture: permission denied")

	// ErrUnsupportedType is returned when no candidate encoding is supported.
	ErrUnsupportedType = errors.New("capture: no supported media type")

	// ErrUnsupportedMode is returned when the device cannot capture the
	// requested region.
	ErrUnsupportedMode = errors.New("capture: unsupported capture mode")
)

// fallbackTypes is the encoding priority list tried after the session's
// preferred format.
var fallbackTypes = []string{
	"video/webm;codecs=vp9",
	"video/webm;codecs=vp8",
	"video/webm",
	"video/mp4",
}

// Request describes one capture acquisition.
type Request struct {
	// Mode selects the captured region.
	Mode gaze.RecordingMode
	// MimeType is the preferred encoding; the fallback priority list is tried
	// when it is empty or unsupported.
	MimeType string
	// FrameRate in frames per second; 0 lets the device choose.
	FrameRate int
	// ChunkInterval is how often the device emits a chunk.
	ChunkInterval time.Duration
}

// Chunk is one piece of encoded media from a live capture stream.
type Chunk struct {
	Data       []byte
	DurationMs int64
	Timestamp  time.Time
}

// Stream is a live capture in progress. Closing it releases the underlying
// device; the chunk channel is closed once the final chunk has been emitted.
type Stream interface {
	// Chunks delivers encoded chunks in order.
	Chunks() <-chan Chunk
	// MimeType is the encoding actually negotiated.
	MimeType() string
	// Bounds returns the captured content extents in pixels.
	Bounds() (width, height int)
	// Close stops the capture and releases the device. Safe to call more than
	// once.
	Close() error
}

// Capturer is a display-capture device.
type Capturer interface {
	// Supports reports whether the device can encode the given media type.
	Supports(mimeType string) bool
	// Capture requests and acquires a stream. Permission denial and
	// unsupported constraints surface as capability errors.
	Capture(ctx context.Context, req Request) (Stream, error)
}

// NegotiateMimeType picks the first supported encoding, trying preferred
// first and then the fallback priority list.
func NegotiateMimeType(c Capturer, preferred string) (string, error) {
	if preferred != "" && c.Supports(preferred) {
		return preferred, nil
	}
	for _, mt := range fallbackTypes {
		if c.Supports(mt) {
			return mt, nil
		}
	}
	return "", ErrUnsupportedType
}
