package qc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tritonminingco/open-ocean-mapper/internal/httputil"
	"github.com/tritonminingco/open-ocean-mapper/internal/sounding"
)

// helper to build a dataset of n clean records on a gentle slope
func makeDataset(n int) *sounding.Dataset {
	ds := &sounding.Dataset{Meta: sounding.Meta{Sensor: sounding.SensorMBES}}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		ds.Records = append(ds.Records, sounding.SoundingRecord{
			Time:  base.Add(time.Duration(i) * time.Second),
			Lat:   10.0 + float64(i)*1e-4,
			Lon:   -45.0,
			Depth: 1000 + float64(i),
		})
	}
	return ds
}

func TestSkipModeMarksBypassed(t *testing.T) {
	ds := makeDataset(10)
	eng := NewEngine(Config{Mode: ModeSkip})
	sum, err := eng.Annotate(context.Background(), ds)
	if err != nil {
		t.Fatalf("annotate failed: %v", err)
	}
	if sum.Flagged != 0 {
		t.Fatalf("skip mode flagged %d records", sum.Flagged)
	}
	for i, a := range ds.Annotations {
		if !a.Passed || !a.Bypassed {
			t.Fatalf("record %d: want passed+bypassed, got %+v", i, a)
		}
	}
}

// A zero-value Config behaves like auto mode; clean records must pass
// instead of arriving uniformly flagged.
func TestZeroConfigDefaultsToAuto(t *testing.T) {
	ds := makeDataset(10)
	sum, err := NewEngine(Config{}).Annotate(context.Background(), ds)
	if err != nil {
		t.Fatalf("annotate failed: %v", err)
	}
	if sum.Mode != ModeAuto {
		t.Fatalf("summary mode = %q, want %q", sum.Mode, ModeAuto)
	}
	if sum.Flagged != 0 {
		t.Fatalf("zero config flagged %d clean records", sum.Flagged)
	}
	for i, a := range ds.Annotations {
		if !a.Passed || a.Bypassed {
			t.Fatalf("record %d: %+v", i, a)
		}
	}
}

// Auto mode on the same records must be distinguishable from skip: all
// pass but nothing carries the bypass marker.
func TestAutoModeDistinguishableFromSkip(t *testing.T) {
	ds := makeDataset(10)
	eng := NewEngine(Config{Mode: ModeAuto})
	if _, err := eng.Annotate(context.Background(), ds); err != nil {
		t.Fatalf("annotate failed: %v", err)
	}
	for i, a := range ds.Annotations {
		if !a.Passed {
			t.Fatalf("clean record %d failed auto mode: %+v", i, a)
		}
		if a.Bypassed {
			t.Fatalf("auto mode must not set the bypass marker")
		}
	}
}

func TestRuleViolationsLowerScore(t *testing.T) {
	ds := makeDataset(10)
	ds.Records[3].Depth = 99999 // beyond any plausible ocean depth
	eng := NewEngine(Config{Mode: ModeAuto})
	sum, err := eng.Annotate(context.Background(), ds)
	if err != nil {
		t.Fatalf("annotate failed: %v", err)
	}
	a := ds.Annotations[3]
	if a.Passed {
		t.Fatalf("implausible depth passed QC: %+v", a)
	}
	found := false
	for _, c := range a.RuleCodes {
		if c == "depth_range_check" {
			found = true
		}
	}
	if !found {
		t.Fatalf("depth_range_check not triggered, codes=%v", a.RuleCodes)
	}
	if sum.RuleHits["depth_range_check"] != 1 {
		t.Fatalf("summary rule hits wrong: %v", sum.RuleHits)
	}
}

func TestTimestampMonotonicity(t *testing.T) {
	ds := makeDataset(5)
	ds.Records[2].Time = ds.Records[0].Time.Add(-time.Minute)
	eng := NewEngine(Config{Mode: ModeManual})
	sum, err := eng.Annotate(context.Background(), ds)
	if err != nil {
		t.Fatalf("annotate failed: %v", err)
	}
	if sum.RuleHits["timestamp_monotonic_check"] == 0 {
		t.Fatalf("out-of-order timestamp not flagged: %v", sum.RuleHits)
	}
}

func TestManualModeRejectsNothing(t *testing.T) {
	ds := makeDataset(10)
	ds.Records[3].Depth = 99999
	eng := NewEngine(Config{Mode: ModeManual})
	if _, err := eng.Annotate(context.Background(), ds); err != nil {
		t.Fatalf("annotate failed: %v", err)
	}
	if !ds.Annotations[3].Passed {
		t.Fatalf("manual mode must not auto-reject")
	}
	if ds.Annotations[3].Score >= 0.5 {
		t.Fatalf("score should still reflect the violation, got %v", ds.Annotations[3].Score)
	}
}

type failingScorer struct{}

func (failingScorer) Score(context.Context, sounding.SoundingRecord, []sounding.SoundingRecord) (float64, error) {
	return 0, errors.New("connection refused")
}

type slowScorer struct{}

func (slowScorer) Score(ctx context.Context, _ sounding.SoundingRecord, _ []sounding.SoundingRecord) (float64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(time.Minute):
		return 1, nil
	}
}

// The model must never be a single point of failure: scoring errors and
// timeouts fall back to the deterministic path.
func TestScorerUnavailableFallsBackToRules(t *testing.T) {
	for name, scorer := range map[string]AnomalyScorer{
		"failing": failingScorer{},
		"slow":    slowScorer{},
	} {
		ds := makeDataset(6)
		eng := NewEngine(Config{Mode: ModeAuto, Scorer: scorer, ScoreTimeout: 50 * time.Millisecond})
		sum, err := eng.Annotate(context.Background(), ds)
		if err != nil {
			t.Fatalf("%s: annotate failed: %v", name, err)
		}
		if sum.ModelActive {
			t.Fatalf("%s: model reported active despite failures", name)
		}
		if sum.ModelOutages != 6 {
			t.Fatalf("%s: want 6 outages, got %d", name, sum.ModelOutages)
		}
		for i, a := range ds.Annotations {
			if !a.Passed || a.AnomalyScore != nil {
				t.Fatalf("%s: record %d should pass on rules alone: %+v", name, i, a)
			}
		}
	}
}

func TestCompositeWeighting(t *testing.T) {
	ds := makeDataset(6)
	eng := NewEngine(Config{Mode: ModeAuto, Scorer: DepthJumpScorer{}, RuleWeight: 0.7})
	sum, err := eng.Annotate(context.Background(), ds)
	if err != nil {
		t.Fatalf("annotate failed: %v", err)
	}
	if !sum.ModelActive {
		t.Fatalf("stub scorer should be active")
	}
	for i, a := range ds.Annotations {
		if a.AnomalyScore == nil {
			t.Fatalf("record %d missing anomaly score", i)
		}
		if a.Score < 0 || a.Score > 1 {
			t.Fatalf("composite score outside [0,1]: %v", a.Score)
		}
	}
}

func TestHTTPScorer(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, `{"score":0.83}`)
	s := NewHTTPScorer("http://model.internal/score", mock)
	v, err := s.Score(context.Background(), sounding.SoundingRecord{Lat: 1, Lon: 2, Depth: 100}, nil)
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if v != 0.83 {
		t.Fatalf("score = %v, want 0.83", v)
	}
	if mock.RequestCount() != 1 {
		t.Fatalf("expected one request")
	}
}

func TestHTTPScorerBadStatusIsUnavailable(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(503, "overloaded")
	s := NewHTTPScorer("http://model.internal/score", mock)
	_, err := scoreWithTimeout(context.Background(), s, time.Second, sounding.SoundingRecord{}, nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}

func TestAnnotationCancellation(t *testing.T) {
	ds := makeDataset(100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	eng := NewEngine(Config{Mode: ModeAuto})
	if _, err := eng.Annotate(ctx, ds); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
