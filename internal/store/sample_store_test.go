package store

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retinalab/gazecap/internal/gaze"
	"github.com/retinalab/gazecap/internal/testutil"
)

func insertTestSession(t *testing.T, st *Store) string {
	t.Helper()
	sess := testutil.Session("")
	require.NoError(t, st.Sessions.Insert(sess))
	return sess.SessionID
}

func TestSampleRoundTrip(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	sid := insertTestSession(t, st)

	page := gaze.Point{X: 500, Y: 700}
	in := &gaze.GazeSample{
		SessionID:       sid,
		DeviceTimestamp: testutil.Int64(123456789),
		SystemTsMs:      1700000000000,
		MonotonicMs:     250,
		Raw:             gaze.Point{X: 600, Y: 350},
		Content:         gaze.Point{X: 500, Y: 300},
		Page:            &page,
		Norm:            gaze.Point{X: 0.417, Y: 0.375},
		InBounds:        true,
		Confidence:      0.92,
		LeftEye: &gaze.EyeSample{
			Screen:    gaze.Point{X: 598, Y: 349},
			Content:   gaze.Point{X: 498, Y: 299},
			PupilSize: testutil.Float64(3.4),
		},
		Surface: &gaze.Geometry{ScreenX: 100, ScreenY: 50, InnerWidth: 1200, InnerHeight: 800},
	}
	require.NoError(t, st.Samples.Insert(in))
	assert.NotZero(t, in.SampleID)

	out, err := st.Samples.BySession(sid, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	if diff := cmp.Diff(in, out[0]); diff != "" {
		t.Errorf("sample mismatch (-want +got):\n%s", diff)
	}
}

func TestSampleBatchIsAtomic(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	sid := insertTestSession(t, st)

	batch := make([]*gaze.GazeSample, 5)
	for i := range batch {
		batch[i] = &gaze.GazeSample{
			SessionID:   sid,
			MonotonicMs: int64(i * 16),
			Raw:         gaze.Point{X: float64(i), Y: float64(i)},
		}
	}
	require.NoError(t, st.Samples.InsertBatch(context.Background(), batch))

	n, err := st.Samples.Count(sid)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	// a batch containing a row that violates the session foreign key must
	// leave nothing behind
	bad := []*gaze.GazeSample{
		{SessionID: sid, MonotonicMs: 100},
		{SessionID: "no-such-session", MonotonicMs: 116},
	}
	require.Error(t, st.Samples.InsertBatch(context.Background(), bad))

	n, err = st.Samples.Count(sid)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n, "failed batch must not partially commit")
}

func TestSampleWindowTrimming(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	sid := insertTestSession(t, st)

	for _, ms := range []int64{10, 100, 200, 300, 900} {
		require.NoError(t, st.Samples.Insert(&gaze.GazeSample{SessionID: sid, MonotonicMs: ms}))
	}

	out, err := st.Samples.BySession(sid, &Window{StartMs: 100, EndMs: 300})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, int64(100), out[0].MonotonicMs)
	assert.Equal(t, int64(300), out[2].MonotonicMs)
}

func TestSampleOrderPreserved(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	sid := insertTestSession(t, st)

	// monotonic timestamps deliberately out of order; storage order wins
	for _, ms := range []int64{50, 20, 90} {
		require.NoError(t, st.Samples.Insert(&gaze.GazeSample{SessionID: sid, MonotonicMs: ms}))
	}

	out, err := st.Samples.BySession(sid, nil)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, int64(50), out[0].MonotonicMs)
	assert.Equal(t, int64(20), out[1].MonotonicMs)
	assert.Equal(t, int64(90), out[2].MonotonicMs)
}
