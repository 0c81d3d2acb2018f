package gaze

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectFlush records flushed batches for inspection.
type collectFlush struct {
	mu      sync.Mutex
	batches [][]*GazeSample
	fail    bool
}

func (c *collectFlush) flush(ctx context.Context, batch []*GazeSample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("disk on fire")
	}
	copied := make([]*GazeSample, len(batch))
	copy(copied, batch)
	c.batches = append(c.batches, copied)
	return nil
}

func (c *collectFlush) setFail(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = fail
}

func (c *collectFlush) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

func sampleN(n int) *GazeSample {
	return &GazeSample{SessionID: "s1", MonotonicMs: int64(n)}
}

func TestBufferFlushesAtThreshold(t *testing.T) {
	t.Parallel()

	sink := &collectFlush{}
	buf := NewSampleBuffer(SampleBufferConfig{Flush: sink.flush, MaxSize: 3})

	ctx := context.Background()
	require.NoError(t, buf.Push(ctx, sampleN(0)))
	require.NoError(t, buf.Push(ctx, sampleN(1)))
	assert.Equal(t, 2, buf.Len(), "below threshold nothing is flushed")

	require.NoError(t, buf.Push(ctx, sampleN(2)))
	assert.Equal(t, 0, buf.Len())
	require.Len(t, sink.batches, 1)
	assert.Len(t, sink.batches[0], 3)
}

func TestBufferPreservesOrder(t *testing.T) {
	t.Parallel()

	sink := &collectFlush{}
	buf := NewSampleBuffer(SampleBufferConfig{Flush: sink.flush, MaxSize: 100})

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, buf.Push(ctx, sampleN(i)))
	}
	require.NoError(t, buf.Flush(ctx))

	require.Len(t, sink.batches, 1)
	for i, s := range sink.batches[0] {
		assert.Equal(t, int64(i), s.MonotonicMs)
	}
}

func TestBufferRetainsBatchOnFlushFailure(t *testing.T) {
	t.Parallel()

	sink := &collectFlush{}
	sink.setFail(true)
	buf := NewSampleBuffer(SampleBufferConfig{Flush: sink.flush, MaxSize: 2})

	ctx := context.Background()
	require.NoError(t, buf.Push(ctx, sampleN(0)))
	err := buf.Push(ctx, sampleN(1))
	require.Error(t, err)
	assert.Equal(t, 2, buf.Len(), "failed batch must be re-queued")

	// recovery flush delivers the retained samples in their original order
	sink.setFail(false)
	require.NoError(t, buf.Flush(ctx))
	assert.Equal(t, 0, buf.Len())
	require.Len(t, sink.batches, 1)
	assert.Equal(t, int64(0), sink.batches[0][0].MonotonicMs)
	assert.Equal(t, int64(1), sink.batches[0][1].MonotonicMs)
}

func TestBufferRunFinalFlush(t *testing.T) {
	t.Parallel()

	sink := &collectFlush{}
	buf := NewSampleBuffer(SampleBufferConfig{
		Flush:    sink.flush,
		MaxSize:  100,
		Interval: time.Hour, // never fires during the test
	})

	ctx := context.Background()
	require.NoError(t, buf.Push(ctx, sampleN(0)))
	require.NoError(t, buf.Push(ctx, sampleN(1)))

	done := make(chan struct{})
	go func() {
		buf.Run(ctx)
		close(done)
	}()

	// give the loop a moment to start, then stop it
	time.Sleep(10 * time.Millisecond)
	buf.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after Stop")
	}

	assert.Equal(t, 2, sink.total(), "Stop must flush remaining samples")
}
