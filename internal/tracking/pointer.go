package tracking

import (
	"context"
	"errors"
	"sync"

	"github.com/retinalab/gazecap/internal/gaze"
	"github.com/retinalab/gazecap/internal/timeutil"
)

// PointerAdaptorConfig configures a PointerAdaptor.
type PointerAdaptorConfig struct {
	// ID is the adaptor identity within the manager. Defaults to "pointer".
	ID string

	// Sim shapes the synthetic signal (jitter, blink dropout). Nil means a
	// passthrough with no noise.
	Sim *PointerSim

	// Filter, if set, smooths positions before emission. Useful together
	// with Sim to exercise the full noisy-signal pipeline.
	Filter *gaze.PointFilter

	// Clock supplies systemTimestamp values; defaults to the real clock.
	Clock timeutil.Clock
}

// PointerAdaptor fabricates gaze samples from pointer positions pushed in via
// Move. It stands in for a physical tracker during development and demos: the
// pointer position is treated as ground-truth gaze, optionally degraded by a
// PointerSim to mimic sensor noise and blinks.
type PointerAdaptor struct {
	cfg     PointerAdaptorConfig
	quality *gaze.QualityMonitor

	mu        sync.Mutex
	connected bool
	emit      EmitFunc
	emitted   int64
	dropped   int64
}

// NewPointerAdaptor returns an unconnected pointer adaptor.
func NewPointerAdaptor(cfg PointerAdaptorConfig) *PointerAdaptor {
	if cfg.ID == "" {
		cfg.ID = "pointer"
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &PointerAdaptor{cfg: cfg, quality: gaze.NewQualityMonitor(cfg.Clock, 0)}
}

func (p *PointerAdaptor) ID() string { return p.cfg.ID }

func (p *PointerAdaptor) Connect(ctx context.Context, emit EmitFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		return errors.New("pointer adaptor already connected")
	}
	p.connected = true
	p.emit = emit
	p.emitted = 0
	p.dropped = 0
	p.quality.Reset()

	// Emission stops when the manager cancels the run context.
	go func() {
		<-ctx.Done()
		p.mu.Lock()
		p.connected = false
		p.emit = nil
		p.mu.Unlock()
	}()
	return nil
}

func (p *PointerAdaptor) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	p.emit = nil
	return nil
}

func (p *PointerAdaptor) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *PointerAdaptor) Status() gaze.TrackingStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := gaze.TrackingStatus{
		Connected: p.connected,
		Tracking:  p.connected,
		Quality:   gaze.QualityUnavailable,
		Metadata: map[string]any{
			"source":  "pointer",
			"emitted": p.emitted,
			"dropped": p.dropped,
		},
	}
	if p.connected {
		st.Quality = p.quality.Report().Tier
	}
	return st
}

// Move pushes one pointer position, in display pixels, through the simulator
// and into the pipeline. Positions arriving while disconnected are dropped.
func (p *PointerAdaptor) Move(x, y float64) {
	p.mu.Lock()
	emit := p.emit
	if emit == nil {
		p.mu.Unlock()
		return
	}
	px, py, visible := x, y, true
	if p.cfg.Sim != nil {
		px, py, visible = p.cfg.Sim.Apply(x, y)
	}
	if !visible {
		p.dropped++
		p.mu.Unlock()
		return
	}
	p.emitted++
	now := p.cfg.Clock.Now().UnixMilli()
	if p.cfg.Filter != nil {
		fp := p.cfg.Filter.Filter(float64(now)/1000, gaze.Point{X: px, Y: py})
		px, py = fp.X, fp.Y
	}
	conf := 1.0
	if p.cfg.Sim != nil {
		conf = p.cfg.Sim.Confidence()
	}
	p.quality.Observe(conf)
	p.mu.Unlock()

	emit(gaze.RawSample{
		SystemTimestamp: &now,
		ScreenX:         px,
		ScreenY:         py,
		Confidence:      &conf,
	})
}
