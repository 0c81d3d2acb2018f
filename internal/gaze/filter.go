package gaze

import "math"

// OneEuroFilter smooths a noisy 1-D signal with speed-adaptive cutoff: low
// jitter at rest, low lag during fast movement. Not safe for concurrent use;
// run one filter per axis per source.
type OneEuroFilter struct {
	minCutoff float64
	beta      float64
	dCutoff   float64

	tPrev  float64
	xPrev  float64
	dxPrev float64
	primed bool
}

// NewOneEuroFilter creates a filter. minCutoff sets baseline smoothing, beta
// controls how strongly the cutoff opens with signal speed, dCutoff smooths
// the derivative estimate.
func NewOneEuroFilter(minCutoff, beta, dCutoff float64) *OneEuroFilter {
	if minCutoff <= 0 {
		minCutoff = 1
	}
	if dCutoff <= 0 {
		dCutoff = 1
	}
	return &OneEuroFilter{minCutoff: minCutoff, beta: beta, dCutoff: dCutoff}
}

// Filter returns the smoothed value of x sampled at time t (seconds). The
// first sample passes through unchanged.
func (f *OneEuroFilter) Filter(t, x float64) float64 {
	if !f.primed {
		f.tPrev, f.xPrev = t, x
		f.primed = true
		return x
	}

	te := t - f.tPrev
	if te <= 0 {
		return f.xPrev
	}

	ad := smoothingFactor(te, f.dCutoff)
	dx := (x - f.xPrev) / te
	dxHat := ad*dx + (1-ad)*f.dxPrev

	cutoff := f.minCutoff + f.beta*math.Abs(dxHat)
	a := smoothingFactor(te, cutoff)
	xHat := a*x + (1-a)*f.xPrev

	f.xPrev = xHat
	f.dxPrev = dxHat
	f.tPrev = t
	return xHat
}

func smoothingFactor(te, cutoff float64) float64 {
	r := 2 * math.Pi * cutoff * te
	return r / (r + 1)
}

// PointFilter smooths a 2-D gaze point with one OneEuroFilter per axis.
type PointFilter struct {
	x *OneEuroFilter
	y *OneEuroFilter
}

// NewPointFilter creates a 2-D smoothing filter with shared parameters.
func NewPointFilter(minCutoff, beta, dCutoff float64) *PointFilter {
	return &PointFilter{
		x: NewOneEuroFilter(minCutoff, beta, dCutoff),
		y: NewOneEuroFilter(minCutoff, beta, dCutoff),
	}
}

// Filter returns the smoothed point at time t (seconds).
func (f *PointFilter) Filter(t float64, p Point) Point {
	return Point{X: f.x.Filter(t, p.X), Y: f.y.Filter(t, p.Y)}
}

// IVTFilter is a velocity-threshold (I-VT) fixation filter: while point
// velocity stays below the threshold the output is the running centroid of
// the current fixation; a faster movement starts a new fixation at the raw
// point.
type IVTFilter struct {
	vThreshold float64

	tPrev    float64
	n        int
	sumX     float64
	sumY     float64
	fixation Point
	primed   bool
}

// NewIVTFilter creates an I-VT filter. vThreshold is in coordinate units per
// second.
func NewIVTFilter(vThreshold float64) *IVTFilter {
	if vThreshold <= 0 {
		vThreshold = 1
	}
	return &IVTFilter{vThreshold: vThreshold}
}

// Filter returns the current fixation point for a sample at time t (seconds).
func (f *IVTFilter) Filter(t float64, p Point) Point {
	if !f.primed {
		f.restart(t, p)
		return p
	}

	dt := t - f.tPrev
	if dt <= 0 {
		return f.fixation
	}

	v := math.Hypot(p.X-f.fixation.X, p.Y-f.fixation.Y) / dt
	if v >= f.vThreshold {
		f.restart(t, p)
		return f.fixation
	}

	f.n++
	f.sumX += p.X
	f.sumY += p.Y
	f.fixation = Point{X: f.sumX / float64(f.n), Y: f.sumY / float64(f.n)}
	f.tPrev = t
	return f.fixation
}

func (f *IVTFilter) restart(t float64, p Point) {
	f.tPrev = t
	f.n = 1
	f.sumX, f.sumY = p.X, p.Y
	f.fixation = p
	f.primed = true
}
