package tracking

import (
	"math/rand"
)

// PointerSim degrades a perfect pointer signal so it behaves like a real
// sensor: gaussian jitter around the true position, periodic blink dropout
// where samples vanish for a short burst, and a confidence value that dips
// around blinks.
type PointerSim struct {
	// JitterPx is the standard deviation of positional noise in pixels.
	JitterPx float64

	// BlinkEvery is the mean number of samples between blink onsets. Zero
	// disables blinks.
	BlinkEvery int

	// BlinkLen is the number of consecutive samples suppressed per blink.
	BlinkLen int

	// Rand is the noise source; defaults to the shared global source.
	Rand *rand.Rand

	blinkLeft int
	sinceLast int
}

// DefaultPointerSim returns simulation parameters tuned to look plausibly
// like a consumer eye tracker at 60 Hz.
func DefaultPointerSim() *PointerSim {
	return &PointerSim{
		JitterPx:   8,
		BlinkEvery: 180,
		BlinkLen:   9,
	}
}

// Apply runs one pointer position through the simulator. It returns the
// jittered position and whether the sample is visible (false during a blink).
func (s *PointerSim) Apply(x, y float64) (float64, float64, bool) {
	if s.blinkLeft > 0 {
		s.blinkLeft--
		return x, y, false
	}
	if s.BlinkEvery > 0 {
		s.sinceLast++
		if s.sinceLast >= s.BlinkEvery && s.float64() < 0.1 {
			s.blinkLeft = s.BlinkLen
			s.sinceLast = 0
			return x, y, false
		}
	}
	if s.JitterPx > 0 {
		x += s.normFloat64() * s.JitterPx
		y += s.normFloat64() * s.JitterPx
	}
	return x, y, true
}

// Confidence reports the confidence to attach to the next visible sample.
// Samples emitted shortly after a blink carry reduced confidence, matching
// how trackers report eyelid reacquisition.
func (s *PointerSim) Confidence() float64 {
	if s.sinceLast < 5 {
		return 0.6
	}
	return 0.95
}

func (s *PointerSim) float64() float64 {
	if s.Rand != nil {
		return s.Rand.Float64()
	}
	return rand.Float64()
}

func (s *PointerSim) normFloat64() float64 {
	if s.Rand != nil {
		return s.Rand.NormFloat64()
	}
	return rand.NormFloat64()
}
