package qc

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/tritonminingco/open-ocean-mapper/internal/monitoring"
	"github.com/tritonminingco/open-ocean-mapper/internal/sounding"
)

// Mode selects how the engine treats its scores.
type Mode string

const (
	// ModeAuto runs both paths and applies the pass threshold.
	ModeAuto Mode = "auto"
	// ModeManual computes scores but rejects nothing; a downstream
	// consumer decides.
	ModeManual Mode = "manual"
	// ModeSkip bypasses scoring entirely. Every record passes carrying
	// the Bypassed marker, which provenance must surface: skipped QC is
	// never silently equivalent to passed QC.
	ModeSkip Mode = "skip"
)

// Config holds the engine knobs for one job. Zero values fall back to
// the documented defaults.
type Config struct {
	Mode      Mode
	Threshold float64 // pass threshold for composite score (default 0.5)
	// RuleWeight is the deterministic share of the composite score
	// (default 0.7); the anomaly score carries the remainder when the
	// model path is active.
	RuleWeight   float64
	Scorer       AnomalyScorer
	ScoreTimeout time.Duration // per-record model deadline (default 2s)
	WindowRadius int           // local window for the model (default 5)
	Workers      int           // default GOMAXPROCS
}

func (c Config) mode() Mode {
	if c.Mode == "" {
		return ModeAuto
	}
	return c.Mode
}

func (c Config) threshold() float64 {
	if c.Threshold == 0 {
		return 0.5
	}
	return c.Threshold
}

func (c Config) ruleWeight() float64 {
	if c.RuleWeight <= 0 || c.RuleWeight > 1 {
		return 0.7
	}
	return c.RuleWeight
}

func (c Config) scoreTimeout() time.Duration {
	if c.ScoreTimeout <= 0 {
		return 2 * time.Second
	}
	return c.ScoreTimeout
}

func (c Config) windowRadius() int {
	if c.WindowRadius <= 0 {
		return 5
	}
	return c.WindowRadius
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Summary aggregates one annotation pass for provenance and reporting.
type Summary struct {
	Mode         Mode
	Records      int
	Flagged      int // records below threshold (auto mode) or invalid
	RuleHits     map[string]int
	MeanScore    float64
	ScoreStddev  float64
	ModelActive  bool // at least one record scored through the model
	ModelOutages int  // records where the model was unavailable
}

// Engine evaluates the rule set and the anomaly model over a dataset.
type Engine struct {
	rules []Rule
	cfg   Config
}

// NewEngine builds an engine with the default rule set.
func NewEngine(cfg Config) *Engine {
	return &Engine{rules: DefaultRules(), cfg: cfg}
}

// Annotate attaches a QCAnnotation to every record in order. Rule
// evaluation is index-independent, so records are scored across a
// bounded worker pool and merged by index; the output never depends on
// scheduling order.
func (e *Engine) Annotate(ctx context.Context, ds *sounding.Dataset) (*Summary, error) {
	n := len(ds.Records)
	sum := &Summary{Mode: e.cfg.mode(), Records: n, RuleHits: make(map[string]int)}
	ds.Annotations = make([]sounding.QCAnnotation, n)

	if e.cfg.mode() == ModeSkip {
		for i := range ds.Annotations {
			ds.Annotations[i] = sounding.QCAnnotation{Score: 1.0, Passed: true, Bypassed: true}
		}
		monitoring.Logf("qc: bypassed for %d records (mode=skip)", n)
		return sum, nil
	}

	type outage struct{ count int }
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		outages outage
		active  bool
	)
	workers := e.cfg.workers()
	if workers > n && n > 0 {
		workers = n
	}
	chunk := (n + workers - 1) / workers
	var firstErr error
	for w := 0; w < workers; w++ {
		lo, hi := w*chunk, (w+1)*chunk
		if hi > n {
			hi = n
		}
		if lo >= hi {
			break
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			localOutages := 0
			localActive := false
			for i := lo; i < hi; i++ {
				if err := ctx.Err(); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
				ann, modelRan, modelErr := e.annotateOne(ctx, ds, i)
				ds.Annotations[i] = ann
				if modelRan {
					localActive = true
				}
				if modelErr {
					localOutages++
				}
			}
			mu.Lock()
			outages.count += localOutages
			active = active || localActive
			mu.Unlock()
		}(lo, hi)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	scores := make([]float64, 0, n)
	for i := range ds.Annotations {
		a := &ds.Annotations[i]
		scores = append(scores, a.Score)
		if !a.Passed {
			sum.Flagged++
		}
		for _, code := range a.RuleCodes {
			sum.RuleHits[code]++
		}
	}
	if len(scores) > 0 {
		sum.MeanScore = stat.Mean(scores, nil)
		sum.ScoreStddev = stat.StdDev(scores, nil)
	}
	sum.ModelActive = active
	sum.ModelOutages = outages.count
	monitoring.Logf("qc: annotated %d records (mode=%s, flagged=%d, mean=%.3f, model_active=%v)",
		n, e.cfg.mode(), sum.Flagged, sum.MeanScore, active)
	return sum, nil
}

// annotateOne scores a single record: deterministic rules first, then
// the optional model path, combined per the configured weights.
func (e *Engine) annotateOne(ctx context.Context, ds *sounding.Dataset, i int) (sounding.QCAnnotation, bool, bool) {
	var ann sounding.QCAnnotation
	severity := 0.0
	for _, rule := range e.rules {
		if rule.Check(i, ds) {
			ann.RuleCodes = append(ann.RuleCodes, rule.Code)
			severity += rule.Severity
		}
	}
	if severity > 1 {
		severity = 1
	}
	ruleScore := 1 - severity

	modelRan, modelErr := false, false
	score := ruleScore
	if e.cfg.Scorer != nil {
		window := recordWindow(ds, i, e.cfg.windowRadius())
		v, err := scoreWithTimeout(ctx, e.cfg.Scorer, e.cfg.scoreTimeout(), ds.Records[i], window)
		if err != nil {
			// Model outage is never fatal: composite falls back to the
			// deterministic score alone.
			if !errors.Is(err, ErrUnavailable) {
				monitoring.Logf("qc: scorer error treated as unavailable: %v", err)
			}
			modelErr = true
		} else {
			modelRan = true
			ann.AnomalyScore = &v
			w := e.cfg.ruleWeight()
			score = clamp01(w*ruleScore + (1-w)*v)
		}
	}
	ann.Score = score

	switch e.cfg.mode() {
	case ModeAuto:
		ann.Passed = score >= e.cfg.threshold() && !ds.Records[i].Invalid
	case ModeManual:
		// Scores computed, no automatic rejection.
		ann.Passed = !ds.Records[i].Invalid
	}
	return ann, modelRan, modelErr
}

func recordWindow(ds *sounding.Dataset, i, radius int) []sounding.SoundingRecord {
	lo, hi := i-radius, i+radius+1
	if lo < 0 {
		lo = 0
	}
	if hi > len(ds.Records) {
		hi = len(ds.Records)
	}
	window := make([]sounding.SoundingRecord, 0, hi-lo-1)
	for j := lo; j < hi; j++ {
		if j != i {
			window = append(window, ds.Records[j])
		}
	}
	return window
}
