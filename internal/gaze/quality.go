package gaze

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/retinalab/gazecap/internal/timeutil"
)

// intervalWindow is the number of inter-sample intervals used to estimate the
// current sampling rate.
const intervalWindow = 10

// defaultSampleRateHz is assumed when no expected rate is configured, so loss
// estimation has a denominator from the start.
const defaultSampleRateHz = 60.0

// QualityReport is a snapshot of live tracking quality metrics.
type QualityReport struct {
	Tier           QualityTier `json:"tier"`
	SampleRateHz   float64     `json:"sample_rate_hz"`
	AvgConfidence  float64     `json:"avg_confidence"`
	HighConfidence int         `json:"high_confidence"`
	MedConfidence  int         `json:"med_confidence"`
	LowConfidence  int         `json:"low_confidence"`
	LossRate       float64     `json:"loss_rate"`
	SampleCount    int64       `json:"sample_count"`
}

// QualityMonitor derives live quality metrics from the sample stream: a
// sliding-window sampling-rate estimate, a running confidence average with a
// three-bucket histogram, and a data-loss estimate.
type QualityMonitor struct {
	clock        timeutil.Clock
	expectedRate float64

	mu             sync.Mutex
	intervals      []float64 // seconds, ring of at most intervalWindow
	lastArrival    time.Time
	firstArrival   time.Time
	count          int64
	confidenceSum  float64
	high, med, low int
}

// NewQualityMonitor creates a QualityMonitor. A nil clock means real time.
// expectedRateHz is the assumed tracker sampling rate used as the loss
// denominator until enough samples arrive to measure the rate; zero or
// negative means 60.
func NewQualityMonitor(clock timeutil.Clock, expectedRateHz float64) *QualityMonitor {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if expectedRateHz <= 0 {
		expectedRateHz = defaultSampleRateHz
	}
	return &QualityMonitor{clock: clock, expectedRate: expectedRateHz}
}

// Observe records one sample arrival with its confidence score.
func (q *QualityMonitor) Observe(confidence float64) {
	now := q.clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		q.firstArrival = now
	} else {
		dt := now.Sub(q.lastArrival).Seconds()
		if dt > 0 {
			q.intervals = append(q.intervals, dt)
			if len(q.intervals) > intervalWindow {
				q.intervals = q.intervals[1:]
			}
		}
	}
	q.lastArrival = now

	q.count++
	q.confidenceSum += confidence
	switch {
	case confidence > 0.8:
		q.high++
	case confidence >= 0.5:
		q.med++
	default:
		q.low++
	}
}

// Reset clears all accumulated metrics.
func (q *QualityMonitor) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.intervals = nil
	q.lastArrival = time.Time{}
	q.firstArrival = time.Time{}
	q.count = 0
	q.confidenceSum = 0
	q.high, q.med, q.low = 0, 0, 0
}

// SampleRateHz estimates the current sampling rate from the interval window.
// Returns 0 until at least one interval has been observed.
func (q *QualityMonitor) SampleRateHz() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sampleRateLocked()
}

func (q *QualityMonitor) sampleRateLocked() float64 {
	if len(q.intervals) == 0 {
		return 0
	}
	mean := stat.Mean(q.intervals, nil)
	if mean <= 0 {
		return 0
	}
	return 1 / mean
}

// LossRate estimates the data-loss rate as max(0, 1 - observed/expected),
// where expected is elapsed time times the configured device sampling rate.
func (q *QualityMonitor) LossRate() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lossRateLocked()
}

func (q *QualityMonitor) lossRateLocked() float64 {
	if q.count == 0 {
		return 0
	}
	elapsed := q.lastArrival.Sub(q.firstArrival).Seconds()
	if elapsed <= 0 {
		return 0
	}
	expected := elapsed * q.expectedRate
	if expected <= 0 {
		return 0
	}
	loss := 1 - float64(q.count)/expected
	if loss < 0 {
		return 0
	}
	return loss
}

// Report returns a consistent snapshot of all quality metrics.
func (q *QualityMonitor) Report() QualityReport {
	q.mu.Lock()
	defer q.mu.Unlock()

	r := QualityReport{
		SampleRateHz:   q.sampleRateLocked(),
		HighConfidence: q.high,
		MedConfidence:  q.med,
		LowConfidence:  q.low,
		LossRate:       q.lossRateLocked(),
		SampleCount:    q.count,
	}
	if q.count > 0 {
		r.AvgConfidence = q.confidenceSum / float64(q.count)
	}
	r.Tier = classifyTier(r)
	return r
}

// classifyTier maps the metric snapshot onto a coarse quality tier.
func classifyTier(r QualityReport) QualityTier {
	switch {
	case r.SampleCount == 0:
		return QualityUnavailable
	case r.AvgConfidence > 0.8 && r.LossRate < 0.1:
		return QualityExcellent
	case r.AvgConfidence >= 0.5 && r.LossRate < 0.3:
		return QualityGood
	default:
		return QualityPoor
	}
}
