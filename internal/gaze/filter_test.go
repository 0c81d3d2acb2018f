package gaze

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOneEuroFirstSamplePassesThrough(t *testing.T) {
	t.Parallel()

	f := NewOneEuroFilter(1, 0.01, 1)
	assert.Equal(t, 42.0, f.Filter(0, 42))
}

func TestOneEuroSmoothsJitter(t *testing.T) {
	t.Parallel()

	f := NewOneEuroFilter(1, 0, 1)
	rng := rand.New(rand.NewSource(1))

	// noisy signal around a constant value; smoothed output should have
	// lower deviation from the true value than the raw input
	const trueVal = 100.0
	var rawDev, outDev float64
	for i := 1; i <= 200; i++ {
		tm := float64(i) / 60
		noise := rng.NormFloat64() * 5
		out := f.Filter(tm, trueVal+noise)
		rawDev += math.Abs(noise)
		outDev += math.Abs(out - trueVal)
	}
	assert.Less(t, outDev, rawDev, "filtered deviation should be below raw deviation")
}

func TestOneEuroTracksFastMovement(t *testing.T) {
	t.Parallel()

	// high beta opens the cutoff during fast movement so lag stays small
	f := NewOneEuroFilter(1, 1.0, 1)
	var out float64
	for i := 0; i <= 60; i++ {
		tm := float64(i) / 60
		out = f.Filter(tm, float64(i)*20) // 1200 units/s sweep
	}
	assert.InDelta(t, 1200, out, 100)
}

func TestPointFilterSmoothsBothAxes(t *testing.T) {
	t.Parallel()

	f := NewPointFilter(1, 0.01, 1)
	p := f.Filter(0, Point{X: 10, Y: 20})
	assert.Equal(t, Point{X: 10, Y: 20}, p)

	p = f.Filter(1.0/60, Point{X: 12, Y: 22})
	assert.Greater(t, p.X, 10.0)
	assert.Less(t, p.X, 12.0)
	assert.Greater(t, p.Y, 20.0)
	assert.Less(t, p.Y, 22.0)
}

func TestIVTFixationCentroid(t *testing.T) {
	t.Parallel()

	f := NewIVTFilter(100) // units per second

	// four samples clustered within the velocity threshold form one fixation
	p := f.Filter(0.000, Point{X: 100, Y: 100})
	assert.Equal(t, Point{X: 100, Y: 100}, p)

	f.Filter(0.016, Point{X: 101, Y: 100})
	f.Filter(0.032, Point{X: 100, Y: 101})
	p = f.Filter(0.048, Point{X: 99, Y: 99})

	assert.InDelta(t, 100, p.X, 1)
	assert.InDelta(t, 100, p.Y, 1)
}

func TestIVTSaccadeStartsNewFixation(t *testing.T) {
	t.Parallel()

	f := NewIVTFilter(100)
	f.Filter(0.000, Point{X: 100, Y: 100})
	f.Filter(0.016, Point{X: 100, Y: 100})

	// a 500-unit jump in 16ms is far above threshold velocity
	p := f.Filter(0.032, Point{X: 600, Y: 100})
	assert.Equal(t, Point{X: 600, Y: 100}, p, "saccade target becomes the new fixation")

	// settle at the new location
	p = f.Filter(0.048, Point{X: 601, Y: 100})
	assert.InDelta(t, 600.5, p.X, 0.01)
}

func TestIVTNonAdvancingTimeReturnsCurrentFixation(t *testing.T) {
	t.Parallel()

	f := NewIVTFilter(100)
	f.Filter(1.0, Point{X: 50, Y: 50})
	p := f.Filter(1.0, Point{X: 500, Y: 500})
	assert.Equal(t, Point{X: 50, Y: 50}, p)
}
