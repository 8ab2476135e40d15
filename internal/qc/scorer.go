package qc

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/tritonminingco/open-ocean-mapper/internal/sounding"
)

// ErrUnavailable signals that the anomaly model cannot score right now
// (service down, timeout, not configured). The engine treats it as
// "model absent": the deterministic path carries the record.
var ErrUnavailable = errors.New("anomaly model unavailable")

// AnomalyScorer is the narrow boundary to the external inference
// service. Score returns a normality score in [0,1]: 1.0 means the
// record looks nominal against its local window, 0.0 certainly
// anomalous. Implementations must respect ctx deadlines.
type AnomalyScorer interface {
	Score(ctx context.Context, rec sounding.SoundingRecord, window []sounding.SoundingRecord) (float64, error)
}

// scoreWithTimeout wraps a scorer call in the configured deadline and
// folds every failure mode into ErrUnavailable.
func scoreWithTimeout(ctx context.Context, s AnomalyScorer, timeout time.Duration,
	rec sounding.SoundingRecord, window []sounding.SoundingRecord) (float64, error) {
	if s == nil {
		return 0, ErrUnavailable
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	v, err := s.Score(ctx, rec, window)
	if err != nil {
		return 0, errors.Join(ErrUnavailable, err)
	}
	if math.IsNaN(v) {
		return 0, ErrUnavailable
	}
	return clamp01(v), nil
}

// DepthJumpScorer is the deterministic stand-in used when no inference
// service is configured but a model-path score is still wanted (tests,
// offline runs). It scores by the depth jump against the window median:
// a 200 m jump is fully anomalous.
type DepthJumpScorer struct{}

func (DepthJumpScorer) Score(_ context.Context, rec sounding.SoundingRecord, window []sounding.SoundingRecord) (float64, error) {
	if len(window) == 0 {
		return 1.0, nil
	}
	sum := 0.0
	n := 0
	for i := range window {
		if window[i].Invalid {
			continue
		}
		sum += window[i].Depth
		n++
	}
	if n == 0 {
		return 1.0, nil
	}
	jump := math.Abs(rec.Depth - sum/float64(n))
	return clamp01(1.0 - jump/200.0), nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
