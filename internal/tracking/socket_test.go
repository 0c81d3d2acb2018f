package tracking

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retinalab/gazecap/internal/gaze"
	"github.com/retinalab/gazecap/internal/timeutil"
)

// trackerServer is a minimal in-process tracker: it records control messages
// and pushes whatever frames the test scripts.
type trackerServer struct {
	srv      *httptest.Server
	controls chan controlMessage
	frames   chan string
	drops    chan struct{}
	done     chan struct{}
}

func newTrackerServer(t *testing.T) *trackerServer {
	t.Helper()
	ts := &trackerServer{
		controls: make(chan controlMessage, 8),
		frames:   make(chan string, 8),
		drops:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()

		// reader: forward control messages to the test
		go func() {
			for {
				var ctrl controlMessage
				if err := wsjson.Read(ctx, conn, &ctrl); err != nil {
					return
				}
				ts.controls <- ctrl
			}
		}()

		// writer: push scripted frames, or kill the connection on demand
		for {
			select {
			case frame := <-ts.frames:
				if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
					return
				}
			case <-ts.drops:
				return
			case <-ts.done:
				return
			}
		}
	}))
	t.Cleanup(ts.srv.Close)
	t.Cleanup(func() { close(ts.done) })
	return ts
}

func (ts *trackerServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func waitControl(t *testing.T, ts *trackerServer) controlMessage {
	t.Helper()
	select {
	case ctrl := <-ts.controls:
		return ctrl
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for control message")
		return controlMessage{}
	}
}

func TestSocketAdaptorStreamsSamples(t *testing.T) {
	t.Parallel()

	ts := newTrackerServer(t)
	s := NewSocketAdaptor(SocketAdaptorConfig{
		URL:           ts.url(),
		SessionID:     "sess-42",
		TrackerConfig: map[string]any{"rate": 60},
	})
	assert.Equal(t, "socket", s.ID())

	emitted := make(chan gaze.RawSample, 16)
	require.NoError(t, s.Connect(context.Background(), func(raw gaze.RawSample) {
		emitted <- raw
	}))
	require.True(t, s.IsConnected())

	start := waitControl(t, ts)
	assert.Equal(t, "start_tracking", start.Type)
	assert.Equal(t, "sess-42", start.SessionID)
	assert.Equal(t, float64(60), start.Config["rate"])

	// an ack must be swallowed, a real frame must come through
	ts.frames <- `{"status": "tracking started"}`
	ts.frames <- `{"screenX": 100.5, "screenY": 200.25, "confidence": 0.9}`

	select {
	case raw := <-emitted:
		assert.Equal(t, 100.5, raw.ScreenX)
		assert.Equal(t, 200.25, raw.ScreenY)
		require.NotNil(t, raw.Confidence)
		assert.Equal(t, 0.9, *raw.Confidence)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for emitted sample")
	}
	assert.Empty(t, emitted, "ack must not be emitted as a sample")
	assert.NotEqual(t, gaze.QualityUnavailable, s.Status().Quality,
		"tier derived from the live stream while connected")

	require.NoError(t, s.Disconnect(context.Background()))
	assert.False(t, s.IsConnected())
	assert.Equal(t, gaze.QualityUnavailable, s.Status().Quality)

	stop := waitControl(t, ts)
	assert.Equal(t, "stop_tracking", stop.Type)
	assert.Equal(t, "sess-42", stop.SessionID)
}

func TestSocketAdaptorConnectFailure(t *testing.T) {
	t.Parallel()

	s := NewSocketAdaptor(SocketAdaptorConfig{URL: "ws://127.0.0.1:1"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := s.Connect(ctx, func(gaze.RawSample) {})
	require.Error(t, err)
	assert.False(t, s.IsConnected())
	assert.NotEmpty(t, s.Status().Message)
}

func TestSocketAdaptorRejectsDoubleConnect(t *testing.T) {
	t.Parallel()

	ts := newTrackerServer(t)
	s := NewSocketAdaptor(SocketAdaptorConfig{URL: ts.url()})

	require.NoError(t, s.Connect(context.Background(), func(gaze.RawSample) {}))
	defer s.Disconnect(context.Background())

	assert.Error(t, s.Connect(context.Background(), func(gaze.RawSample) {}))
}

func TestSocketAdaptorDisconnectWhenNotConnected(t *testing.T) {
	t.Parallel()

	s := NewSocketAdaptor(SocketAdaptorConfig{URL: "ws://127.0.0.1:1"})
	assert.NoError(t, s.Disconnect(context.Background()))
}

func TestSocketAdaptorReconnectsAfterDrop(t *testing.T) {
	t.Parallel()

	ts := newTrackerServer(t)
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	s := NewSocketAdaptor(SocketAdaptorConfig{
		URL:       ts.url(),
		SessionID: "sess-7",
		Reconnect: true,
		Clock:     clock,
	})

	emitted := make(chan gaze.RawSample, 16)
	require.NoError(t, s.Connect(context.Background(), func(raw gaze.RawSample) {
		emitted <- raw
	}))
	defer s.Disconnect(context.Background())

	start := waitControl(t, ts)
	require.Equal(t, "start_tracking", start.Type)

	// kill the server side of the connection; the adaptor should back off
	// and redial with a fresh handshake
	ts.drops <- struct{}{}

	deadline := time.After(5 * time.Second)
	var again controlMessage
redial:
	for {
		clock.Advance(reconnectBaseDelay)
		select {
		case again = <-ts.controls:
			break redial
		case <-deadline:
			t.Fatal("timed out waiting for redial handshake")
		case <-time.After(5 * time.Millisecond):
		}
	}
	assert.Equal(t, "start_tracking", again.Type)
	assert.Equal(t, "sess-7", again.SessionID)

	// the reconnected stream carries samples again
	ts.frames <- `{"screenX": 5, "screenY": 6, "confidence": 0.9}`
	select {
	case raw := <-emitted:
		assert.Equal(t, 5.0, raw.ScreenX)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for post-reconnect sample")
	}
	assert.True(t, s.IsConnected())
}

func TestSocketAdaptorDisconnectDuringBackoff(t *testing.T) {
	t.Parallel()

	ts := newTrackerServer(t)
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	s := NewSocketAdaptor(SocketAdaptorConfig{
		URL:       ts.url(),
		Reconnect: true,
		Clock:     clock,
	})

	require.NoError(t, s.Connect(context.Background(), func(gaze.RawSample) {}))
	waitControl(t, ts)

	ts.drops <- struct{}{}

	// wait for the adaptor to notice the drop and park in backoff
	deadline := time.After(2 * time.Second)
	for s.Status().Message == "" {
		select {
		case <-deadline:
			t.Fatal("adaptor never recorded the stream drop")
		case <-time.After(time.Millisecond):
		}
	}

	// the mock clock never fires the backoff timer, so teardown must not
	// wait out the delay
	dctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Disconnect(dctx))
	assert.False(t, s.IsConnected())
}

func TestNextBackoffDelayGrowth(t *testing.T) {
	t.Parallel()

	var seen []time.Duration
	d := reconnectBaseDelay
	for i := 0; i < 7; i++ {
		seen = append(seen, d)
		d = nextBackoffDelay(d)
	}
	assert.Equal(t, []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}, seen)
}

func TestSocketAdaptorFilterSmoothsStream(t *testing.T) {
	t.Parallel()

	ts := newTrackerServer(t)
	s := NewSocketAdaptor(SocketAdaptorConfig{
		URL:    ts.url(),
		Filter: gaze.NewPointFilter(1.0, 0, 1.0),
	})

	emitted := make(chan gaze.RawSample, 16)
	require.NoError(t, s.Connect(context.Background(), func(raw gaze.RawSample) {
		emitted <- raw
	}))
	defer s.Disconnect(context.Background())
	waitControl(t, ts)

	ts.frames <- `{"screenX": 100, "screenY": 100, "systemTimestamp": 1700000000000}`
	ts.frames <- `{"screenX": 200, "screenY": 100, "systemTimestamp": 1700000000016}`

	recv := func() gaze.RawSample {
		select {
		case raw := <-emitted:
			return raw
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for emitted sample")
			return gaze.RawSample{}
		}
	}
	first, second := recv(), recv()
	assert.Equal(t, 100.0, first.ScreenX, "first sample passes through")
	assert.Greater(t, second.ScreenX, 100.0)
	assert.Less(t, second.ScreenX, 200.0, "jump attenuated toward the previous position")
	assert.Equal(t, 100.0, second.ScreenY)
}
