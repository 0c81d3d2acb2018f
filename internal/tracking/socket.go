package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/retinalab/gazecap/internal/gaze"
	"github.com/retinalab/gazecap/internal/monitoring"
	"github.com/retinalab/gazecap/internal/timeutil"
)

const (
	socketDialTimeout  = 10 * time.Second
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// controlMessage is the JSON control envelope exchanged with a tracker
// server: start/stop commands outbound, occasionally echoed back as acks.
type controlMessage struct {
	Type      string              `json:"type"`
	SessionID string              `json:"sessionId,omitempty"`
	Config    map[string]any      `json:"config,omitempty"`
	Geometry  *gaze.Geometry      `json:"geometry,omitempty"`
	Display   *gaze.DisplayBounds `json:"display,omitempty"`
}

// SocketAdaptorConfig configures a SocketAdaptor.
type SocketAdaptorConfig struct {
	// ID is the adaptor identity within the manager. Defaults to "socket".
	ID string

	// URL is the tracker server websocket endpoint, e.g. ws://localhost:8765.
	URL string

	// SessionID, if set, is included in the start_tracking control message so
	// the server can tag its own logs.
	SessionID string

	// TrackerConfig is passed through verbatim in the start_tracking message.
	TrackerConfig map[string]any

	// Decoder converts inbound messages to raw samples. Defaults to
	// DecodeTrackerSample.
	Decoder RawDecoder

	// Reconnect enables automatic redial with exponential backoff after an
	// unexpected drop. The start_tracking message is re-sent on each
	// successful redial.
	Reconnect bool

	// Filter, if set, smooths decoded screen coordinates before emission.
	Filter *gaze.PointFilter

	// Clock drives backoff waits and quality accounting; defaults to the
	// real clock.
	Clock timeutil.Clock
}

// SocketAdaptor streams gaze samples from a websocket tracker server. It
// sends a start_tracking control message on connect and stop_tracking on
// disconnect, and optionally redials with backoff when the stream drops.
type SocketAdaptor struct {
	cfg     SocketAdaptorConfig
	quality *gaze.QualityMonitor

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	tracking  bool
	lastErr   string
	stop      context.CancelFunc
	done      chan struct{}
}

// NewSocketAdaptor returns an unconnected socket adaptor.
func NewSocketAdaptor(cfg SocketAdaptorConfig) *SocketAdaptor {
	if cfg.ID == "" {
		cfg.ID = "socket"
	}
	if cfg.Decoder == nil {
		cfg.Decoder = DecodeTrackerSample
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &SocketAdaptor{cfg: cfg, quality: gaze.NewQualityMonitor(cfg.Clock, 0)}
}

func (s *SocketAdaptor) ID() string { return s.cfg.ID }

// SetDecoder replaces the inbound decoder. Must be called before Connect.
func (s *SocketAdaptor) SetDecoder(dec RawDecoder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dec != nil {
		s.cfg.Decoder = dec
	}
}

// Connect dials the tracker server, sends start_tracking, and begins reading
// samples into emit until the context is cancelled or Disconnect is called.
func (s *SocketAdaptor) Connect(ctx context.Context, emit EmitFunc) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return errors.New("socket adaptor already connected")
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.stop = cancel
	s.done = done
	s.mu.Unlock()

	conn, err := s.dial(runCtx)
	if err != nil {
		cancel()
		close(done)
		s.setError(err)
		return err
	}

	s.quality.Reset()
	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.tracking = true
	s.lastErr = ""
	s.mu.Unlock()

	go s.readLoop(runCtx, emit, done)
	return nil
}

// Disconnect sends stop_tracking, closes the connection, and waits for the
// read loop to exit.
func (s *SocketAdaptor) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil
	}
	conn := s.conn
	stop := s.stop
	done := s.done
	s.connected = false
	s.tracking = false
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		stopMsg := controlMessage{Type: "stop_tracking", SessionID: s.cfg.SessionID}
		wctx, wcancel := context.WithTimeout(ctx, 2*time.Second)
		if err := wsjson.Write(wctx, conn, stopMsg); err != nil {
			monitoring.Logf("tracking: %s: stop_tracking send: %v", s.cfg.ID, err)
		}
		wcancel()
	}
	if stop != nil {
		stop()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "disconnect")
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *SocketAdaptor) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *SocketAdaptor) Status() gaze.TrackingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := gaze.TrackingStatus{
		Connected: s.connected,
		Tracking:  s.tracking,
		Quality:   gaze.QualityUnavailable,
		Message:   s.lastErr,
		Metadata:  map[string]any{"url": s.cfg.URL},
	}
	if s.connected {
		st.Quality = s.quality.Report().Tier
	}
	return st
}

// dial establishes the websocket and performs the start_tracking handshake.
func (s *SocketAdaptor) dial(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, socketDialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dctx, s.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(1 << 20)

	start := controlMessage{
		Type:      "start_tracking",
		SessionID: s.cfg.SessionID,
		Config:    s.cfg.TrackerConfig,
	}
	if err := wsjson.Write(dctx, conn, start); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return nil, err
	}
	return conn, nil
}

// readLoop pumps inbound messages through the decoder into emit. On an
// unexpected drop it optionally redials with exponential backoff.
func (s *SocketAdaptor) readLoop(ctx context.Context, emit EmitFunc, done chan struct{}) {
	defer close(done)

	delay := reconnectBaseDelay
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		err := s.pump(ctx, conn, emit)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			monitoring.Logf("tracking: %s: stream dropped: %v", s.cfg.ID, err)
			s.setError(err)
		}
		if !s.cfg.Reconnect {
			s.mu.Lock()
			s.connected = false
			s.tracking = false
			s.conn = nil
			s.mu.Unlock()
			return
		}

		for {
			// Wait and teardown race: Disconnect must not block on a
			// backoff window.
			timer := s.cfg.Clock.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C():
			}
			conn, err := s.dial(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				monitoring.Logf("tracking: %s: redial: %v", s.cfg.ID, err)
				delay = nextBackoffDelay(delay)
				continue
			}
			s.mu.Lock()
			s.conn = conn
			s.connected = true
			s.tracking = true
			s.lastErr = ""
			s.mu.Unlock()
			delay = reconnectBaseDelay
			monitoring.Logf("tracking: %s: reconnected to %s", s.cfg.ID, s.cfg.URL)
			break
		}
	}
}

// nextBackoffDelay doubles a redial delay up to the cap.
func nextBackoffDelay(delay time.Duration) time.Duration {
	delay *= 2
	if delay > reconnectMaxDelay {
		delay = reconnectMaxDelay
	}
	return delay
}

// pump reads until the connection fails or the context ends.
func (s *SocketAdaptor) pump(ctx context.Context, conn *websocket.Conn, emit EmitFunc) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		samples, err := s.cfg.Decoder(data)
		if err != nil {
			monitoring.Logf("tracking: %s: decode: %v", s.cfg.ID, err)
			continue
		}
		for _, raw := range samples {
			if s.cfg.Filter != nil {
				ts := s.cfg.Clock.Now().UnixMilli()
				if raw.SystemTimestamp != nil {
					ts = *raw.SystemTimestamp
				}
				p := s.cfg.Filter.Filter(float64(ts)/1000, gaze.Point{X: raw.ScreenX, Y: raw.ScreenY})
				raw.ScreenX, raw.ScreenY = p.X, p.Y
			}
			s.quality.Observe(sampleConfidence(raw))
			emit(raw)
		}
	}
}

func (s *SocketAdaptor) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err.Error()
}
