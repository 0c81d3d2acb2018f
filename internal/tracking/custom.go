package tracking

import (
	"context"
	"errors"
	"sync"

	"github.com/retinalab/gazecap/internal/gaze"
)

// SetupFunc starts a caller-supplied sample source. It should begin emitting
// through emit and return a teardown that stops emission; the teardown is
// invoked on Disconnect.
type SetupFunc func(ctx context.Context, emit EmitFunc) (teardown func(), err error)

// CustomAdaptor wraps an arbitrary caller-supplied source behind the Adaptor
// interface. Anything that can call an EmitFunc can feed the pipeline: replay
// from a file, a bespoke device SDK, a test generator.
type CustomAdaptor struct {
	id      string
	setup   SetupFunc
	quality *gaze.QualityMonitor

	mu        sync.Mutex
	connected bool
	teardown  func()
}

// NewCustomAdaptor wraps setup as an adaptor with the given ID.
func NewCustomAdaptor(id string, setup SetupFunc) *CustomAdaptor {
	if id == "" {
		id = "custom"
	}
	return &CustomAdaptor{id: id, setup: setup, quality: gaze.NewQualityMonitor(nil, 0)}
}

func (c *CustomAdaptor) ID() string { return c.id }

func (c *CustomAdaptor) Connect(ctx context.Context, emit EmitFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return errors.New("custom adaptor already connected")
	}
	if c.setup == nil {
		return errors.New("custom adaptor has no setup function")
	}
	c.quality.Reset()
	teardown, err := c.setup(ctx, func(raw gaze.RawSample) {
		c.quality.Observe(sampleConfidence(raw))
		emit(raw)
	})
	if err != nil {
		return err
	}
	c.connected = true
	c.teardown = teardown
	return nil
}

func (c *CustomAdaptor) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	teardown := c.teardown
	c.connected = false
	c.teardown = nil
	c.mu.Unlock()

	if teardown != nil {
		teardown()
	}
	return nil
}

func (c *CustomAdaptor) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *CustomAdaptor) Status() gaze.TrackingStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := gaze.TrackingStatus{
		Connected: c.connected,
		Tracking:  c.connected,
		Quality:   gaze.QualityUnavailable,
		Metadata:  map[string]any{"source": "custom"},
	}
	if c.connected {
		st.Quality = c.quality.Report().Tier
	}
	return st
}
