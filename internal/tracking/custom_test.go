package tracking

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retinalab/gazecap/internal/gaze"
)

func TestCustomAdaptorLifecycle(t *testing.T) {
	t.Parallel()

	var emitted []gaze.RawSample
	tornDown := false

	var emit EmitFunc
	a := NewCustomAdaptor("replay", func(_ context.Context, e EmitFunc) (func(), error) {
		emit = e
		return func() { tornDown = true }, nil
	})
	assert.Equal(t, "replay", a.ID())
	assert.False(t, a.IsConnected())

	require.NoError(t, a.Connect(context.Background(), func(raw gaze.RawSample) {
		emitted = append(emitted, raw)
	}))
	require.True(t, a.IsConnected())
	assert.True(t, a.Status().Tracking)

	emit(gaze.RawSample{ScreenX: 11, ScreenY: 22})
	require.Len(t, emitted, 1)
	assert.Equal(t, 11.0, emitted[0].ScreenX)

	require.NoError(t, a.Disconnect(context.Background()))
	assert.True(t, tornDown)
	assert.False(t, a.IsConnected())
}

func TestCustomAdaptorConnectErrors(t *testing.T) {
	t.Parallel()

	t.Run("setup_failure", func(t *testing.T) {
		t.Parallel()
		a := NewCustomAdaptor("bad", func(context.Context, EmitFunc) (func(), error) {
			return nil, errors.New("device not found")
		})
		err := a.Connect(context.Background(), func(gaze.RawSample) {})
		assert.ErrorContains(t, err, "device not found")
		assert.False(t, a.IsConnected())
	})

	t.Run("double_connect", func(t *testing.T) {
		t.Parallel()
		a := NewCustomAdaptor("dup", func(context.Context, EmitFunc) (func(), error) {
			return func() {}, nil
		})
		require.NoError(t, a.Connect(context.Background(), func(gaze.RawSample) {}))
		assert.Error(t, a.Connect(context.Background(), func(gaze.RawSample) {}))
	})

	t.Run("nil_setup", func(t *testing.T) {
		t.Parallel()
		a := NewCustomAdaptor("", nil)
		assert.Equal(t, "custom", a.ID())
		assert.Error(t, a.Connect(context.Background(), func(gaze.RawSample) {}))
	})
}

func TestCustomAdaptorTracksStreamQuality(t *testing.T) {
	t.Parallel()

	var source EmitFunc
	a := NewCustomAdaptor("replay", func(_ context.Context, emit EmitFunc) (func(), error) {
		source = emit
		return func() {}, nil
	})
	require.NoError(t, a.Connect(context.Background(), func(gaze.RawSample) {}))

	conf := 0.95
	for i := 0; i < 3; i++ {
		source(gaze.RawSample{ScreenX: 10, ScreenY: 10, Confidence: &conf})
	}
	assert.NotEqual(t, gaze.QualityUnavailable, a.Status().Quality)

	require.NoError(t, a.Disconnect(context.Background()))
	assert.Equal(t, gaze.QualityUnavailable, a.Status().Quality)
}
