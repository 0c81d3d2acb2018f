package capture

import (
	"context"
	"sync"
	"time"

	"github.com/retinalab/gazecap/internal/gaze"
	"github.com/retinalab/gazecap/internal/timeutil"
)

// MockCapturer implements Capturer without real display hardware. It is used
// by tests and by dev mode, with configurable behaviour for permission
// denial, supported encodings, and chunk emission.
type MockCapturer struct {
	mu sync.Mutex

	// SupportedTypes lists encodings Supports accepts. Empty means the full
	// fallback list is accepted.
	SupportedTypes []string

	// DenyPermission makes Capture fail with ErrPermissionDenied.
	DenyPermission bool

	// RejectModes lists recording modes Capture refuses.
	RejectModes []gaze.RecordingMode

	// Width/Height are the reported captured extents. Zero values default to
	// 1920x1080.
	Width, Height int

	// ChunkPayload is the synthetic chunk body. Defaults to "mock-chunk".
	ChunkPayload []byte

	// EmitInterval is how often the stream emits a chunk on its own; 0
	// disables automatic emission (tests drive EmitChunk manually).
	EmitInterval time.Duration

	// Clock is optional; if nil, the real clock is used.
	Clock timeutil.Clock

	streams []*MockStream
}

// Supports reports whether mimeType is in SupportedTypes.
func (m *MockCapturer) Supports(mimeType string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.SupportedTypes) == 0 {
		for _, mt := range fallbackTypes {
			if mt == mimeType {
				return true
			}
		}
		return false
	}
	for _, mt := range m.SupportedTypes {
		if mt == mimeType {
			return true
		}
	}
	return false
}

// Capture acquires a mock stream, honouring the configured failure modes.
func (m *MockCapturer) Capture(ctx context.Context, req Request) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.DenyPermission {
		return nil, ErrPermissionDenied
	}
	for _, mode := range m.RejectModes {
		if mode == req.Mode {
			return nil, ErrUnsupportedMode
		}
	}

	clock := m.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	width, height := m.Width, m.Height
	if width == 0 {
		width = 1920
	}
	if height == 0 {
		height = 1080
	}
	payload := m.ChunkPayload
	if payload == nil {
		payload = []byte("mock-chunk")
	}

	s := &MockStream{
		mimeType: req.MimeType,
		width:    width,
		height:   height,
		ch:       make(chan Chunk, 16),
		closed:   make(chan struct{}),
	}

	if m.EmitInterval > 0 {
		interval := m.EmitInterval
		go func() {
			ticker := clock.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-s.closed:
					return
				case now := <-ticker.C():
					s.EmitChunk(Chunk{Data: payload, DurationMs: interval.Milliseconds(), Timestamp: now})
				}
			}
		}()
	}

	m.streams = append(m.streams, s)
	return s, nil
}

// Streams returns every stream this capturer has handed out.
func (m *MockCapturer) Streams() []*MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockStream, len(m.streams))
	copy(out, m.streams)
	return out
}

// MockStream is the Stream returned by MockCapturer.
type MockStream struct {
	mimeType string
	width    int
	height   int

	mu       sync.Mutex
	ch       chan Chunk
	closed   chan struct{}
	isClosed bool
}

// Chunks delivers chunks pushed via EmitChunk.
func (s *MockStream) Chunks() <-chan Chunk {
	return s.ch
}

// MimeType returns the requested encoding.
func (s *MockStream) MimeType() string {
	return s.mimeType
}

// Bounds returns the configured captured extents.
func (s *MockStream) Bounds() (int, int) {
	return s.width, s.height
}

// EmitChunk pushes one chunk to the consumer. Chunks emitted after Close are
// dropped.
func (s *MockStream) EmitChunk(c Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosed {
		return
	}
	select {
	case s.ch <- c:
	default:
	}
}

// Close stops the stream and closes the chunk channel.
func (s *MockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosed {
		return nil
	}
	s.isClosed = true
	close(s.closed)
	close(s.ch)
	return nil
}
