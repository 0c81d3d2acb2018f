package gaze

import (
	"context"
	"sync"
	"time"

	"github.com/retinalab/gazecap/internal/monitoring"
	"github.com/retinalab/gazecap/internal/timeutil"
)

// FlushFunc receives an ordered batch of samples for persistence. It must
// not retain the slice past its return.
type FlushFunc func(ctx context.Context, batch []*GazeSample) error

// SampleBufferConfig contains configuration for SampleBuffer.
type SampleBufferConfig struct {
	// Flush is invoked with each drained batch. Required.
	Flush FlushFunc
	// MaxSize triggers an immediate flush when the buffer reaches this many
	// samples. Defaults to 50.
	MaxSize int
	// Interval is how often the background loop flushes regardless of size.
	// Defaults to 1s.
	Interval time.Duration
	// Clock is optional; if nil, the real clock is used.
	Clock timeutil.Clock
}

// SampleBuffer accumulates enriched gaze samples in arrival order and flushes
// them on a size threshold or timer interval. A failed flush re-queues the
// batch at the front so no already-captured data is dropped.
type SampleBuffer struct {
	flush    FlushFunc
	maxSize  int
	interval time.Duration
	clock    timeutil.Clock

	mu      sync.Mutex
	pending []*GazeSample
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSampleBuffer creates a SampleBuffer. Run must be called to start the
// timer-driven flushing loop; Push and Flush work without it.
func NewSampleBuffer(cfg SampleBufferConfig) *SampleBuffer {
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = 50
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SampleBuffer{
		flush:    cfg.Flush,
		maxSize:  maxSize,
		interval: interval,
		clock:    clock,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Push appends a sample. If the size threshold is reached the buffer flushes
// synchronously and returns any flush error; the batch is retained for retry
// on failure.
func (b *SampleBuffer) Push(ctx context.Context, s *GazeSample) error {
	b.mu.Lock()
	b.pending = append(b.pending, s)
	full := len(b.pending) >= b.maxSize
	b.mu.Unlock()

	if full {
		return b.Flush(ctx)
	}
	return nil
}

// Len returns the number of samples currently buffered.
func (b *SampleBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush drains the buffer through the flush function. On failure the batch is
// re-queued at the front, preserving arrival order relative to samples pushed
// during the flush.
func (b *SampleBuffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	if err := b.flush(ctx, batch); err != nil {
		b.mu.Lock()
		b.pending = append(batch, b.pending...)
		b.mu.Unlock()
		return err
	}
	return nil
}

// Run starts the periodic flushing loop. It blocks until the context is
// cancelled or Stop is called, performing a final flush on the way out.
func (b *SampleBuffer) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	stopCh := b.stopCh
	b.mu.Unlock()

	defer func() {
		close(b.doneCh)
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	ticker := b.clock.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.finalFlush()
			return nil
		case <-stopCh:
			b.finalFlush()
			return nil
		case <-ticker.C():
			if err := b.Flush(ctx); err != nil {
				monitoring.Logf("sample buffer: flush failed, batch retained: %v", err)
			}
		}
	}
}

// Stop requests the loop to stop and waits for its final flush. Safe to call
// multiple times.
func (b *SampleBuffer) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	select {
	case <-b.stopCh:
	default:
		close(b.stopCh)
	}
	doneCh := b.doneCh
	b.mu.Unlock()

	<-doneCh
}

func (b *SampleBuffer) finalFlush() {
	if err := b.Flush(context.Background()); err != nil {
		monitoring.Logf("sample buffer: final flush failed, %d samples retained: %v", b.Len(), err)
	}
}
