package tracking

import (
	"context"
	"fmt"
	"sync"

	"github.com/retinalab/gazecap/internal/gaze"
	"github.com/retinalab/gazecap/internal/monitoring"
)

// Ingestor receives raw samples funneled from all connected adaptors. The
// recorder satisfies this.
type Ingestor interface {
	AddGazeSample(ctx context.Context, raw gaze.RawSample) (*gaze.GazeSample, error)
}

// Manager owns the set of connected adaptors and funnels their emissions into
// a single ingestion path. Registering an adaptor under an ID that is already
// connected disconnects the old one first, so at most one source per ID is
// ever live.
type Manager struct {
	ingest   Ingestor
	onStatus StatusFunc

	mu       sync.Mutex
	adaptors map[string]Adaptor
	cancels  map[string]context.CancelFunc
	observer func(raw gaze.RawSample)
}

// NewManager returns a Manager that forwards samples to ingest. onStatus may
// be nil.
func NewManager(ingest Ingestor, onStatus StatusFunc) *Manager {
	return &Manager{
		ingest:   ingest,
		onStatus: onStatus,
		adaptors: make(map[string]Adaptor),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// SetObserver installs a tap that sees every raw sample passing through the
// funnel, after ingestion. Used for live debugging streams. Pass nil to
// remove.
func (m *Manager) SetObserver(fn func(raw gaze.RawSample)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = fn
}

// Connect registers and connects an adaptor. If an adaptor with the same ID
// is already connected it is disconnected and replaced.
func (m *Manager) Connect(ctx context.Context, a Adaptor) error {
	id := a.ID()

	m.mu.Lock()
	prev, had := m.adaptors[id]
	prevCancel := m.cancels[id]
	m.mu.Unlock()

	if had {
		monitoring.Logf("tracking: replacing adaptor %q", id)
		if prevCancel != nil {
			prevCancel()
		}
		if err := prev.Disconnect(ctx); err != nil {
			monitoring.Logf("tracking: disconnect %q during replace: %v", id, err)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	emit := func(raw gaze.RawSample) {
		m.funnel(runCtx, id, raw)
	}

	if err := a.Connect(runCtx, emit); err != nil {
		cancel()
		m.reportStatus(id, gaze.TrackingStatus{
			Connected: false,
			Quality:   gaze.QualityUnavailable,
			Message:   err.Error(),
		})
		return fmt.Errorf("connect adaptor %q: %w", id, err)
	}

	m.mu.Lock()
	m.adaptors[id] = a
	m.cancels[id] = cancel
	m.mu.Unlock()

	m.reportStatus(id, a.Status())
	return nil
}

// Disconnect stops the adaptor with the given ID and removes it. Unknown IDs
// are a no-op.
func (m *Manager) Disconnect(ctx context.Context, id string) error {
	m.mu.Lock()
	a, ok := m.adaptors[id]
	cancel := m.cancels[id]
	delete(m.adaptors, id)
	delete(m.cancels, id)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	err := a.Disconnect(ctx)
	m.reportStatus(id, gaze.TrackingStatus{
		Connected: false,
		Quality:   gaze.QualityUnavailable,
	})
	if err != nil {
		return fmt.Errorf("disconnect adaptor %q: %w", id, err)
	}
	return nil
}

// DisconnectAll tears down every connected adaptor concurrently and waits for
// all of them to stop.
func (m *Manager) DisconnectAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.adaptors))
	for id := range m.adaptors {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := m.Disconnect(ctx, id); err != nil {
				monitoring.Logf("tracking: disconnect %q: %v", id, err)
			}
		}(id)
	}
	wg.Wait()
}

// Adaptor returns the connected adaptor with the given ID, if any.
func (m *Manager) Adaptor(id string) (Adaptor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.adaptors[id]
	return a, ok
}

// IDs lists the IDs of all connected adaptors.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.adaptors))
	for id := range m.adaptors {
		ids = append(ids, id)
	}
	return ids
}

// Status reports per-adaptor tracking status for every connected adaptor.
func (m *Manager) Status() map[string]gaze.TrackingStatus {
	m.mu.Lock()
	adaptors := make(map[string]Adaptor, len(m.adaptors))
	for id, a := range m.adaptors {
		adaptors[id] = a
	}
	m.mu.Unlock()

	out := make(map[string]gaze.TrackingStatus, len(adaptors))
	for id, a := range adaptors {
		out[id] = a.Status()
	}
	return out
}

// funnel is the single ingestion path. Every adaptor's emissions pass through
// here in emission order.
func (m *Manager) funnel(ctx context.Context, id string, raw gaze.RawSample) {
	if _, err := m.ingest.AddGazeSample(ctx, raw); err != nil {
		// Samples arriving with no session are routine (source warms up
		// before the session exists); anything else is worth a line.
		monitoring.Logf("tracking: ingest from %q: %v", id, err)
	}
	m.mu.Lock()
	obs := m.observer
	m.mu.Unlock()
	if obs != nil {
		obs(raw)
	}
}

func (m *Manager) reportStatus(id string, status gaze.TrackingStatus) {
	if m.onStatus != nil {
		m.onStatus(id, status)
	}
}
