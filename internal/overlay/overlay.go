// Package overlay runs pluggable annotators over a finished grid and
// merges their layers under distinct keys. Annotators never mutate the
// grid's elevation or uncertainty; a failing or panicking plugin is
// recorded and isolated, the rest still run.
package overlay

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tritonminingco/open-ocean-mapper/internal/grid"
	"github.com/tritonminingco/open-ocean-mapper/internal/monitoring"
)

// Layer is one annotator's output, aligned cell-for-cell to the grid.
// Legend optionally maps class codes in Values to human-readable names.
type Layer struct {
	Values []float64
	Units  string
	Legend map[int]string
}

// Config is passed through to every annotator.
type Config struct {
	Params map[string]float64
}

// Annotator is the plugin contract. Apply must treat the grid as
// read-only and return a layer matching its shape.
type Annotator interface {
	Name() string
	Apply(ctx context.Context, g *grid.Grid, cfg Config) (Layer, error)
}

// OverlayError records one plugin's failure without aborting the run.
type OverlayError struct {
	Plugin string
	Err    error
}

func (e *OverlayError) Error() string {
	return fmt.Sprintf("overlay plugin %q failed: %v", e.Plugin, e.Err)
}

func (e *OverlayError) Unwrap() error { return e.Err }

// Result is the merged output keyed by plugin name, plus the failures
// that occurred along the way.
type Result struct {
	Layers   map[string]Layer
	Failures []*OverlayError
}

var (
	regMu    sync.RWMutex
	registry = map[string]Annotator{}
)

// Register adds a plugin to the global registry. Duplicate names are a
// programming error.
func Register(a Annotator) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := registry[a.Name()]; dup {
		panic("overlay: duplicate plugin " + a.Name())
	}
	registry[a.Name()] = a
}

// Registered returns the registered plugin names, sorted.
func Registered() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve maps configured plugin names to annotators, rejecting unknown
// names and duplicates at setup time rather than mid-run.
func Resolve(names []string) ([]Annotator, error) {
	regMu.RLock()
	defer regMu.RUnlock()
	seen := map[string]bool{}
	out := make([]Annotator, 0, len(names))
	for _, n := range names {
		if seen[n] {
			return nil, fmt.Errorf("overlay: plugin %q configured twice, keys would collide", n)
		}
		seen[n] = true
		a, ok := registry[n]
		if !ok {
			return nil, fmt.Errorf("overlay: unknown plugin %q (have %v)", n, Registered())
		}
		out = append(out, a)
	}
	return out, nil
}

// Run executes the annotators concurrently, each writing its own key.
// Panics inside a plugin become OverlayErrors like any other failure.
func Run(ctx context.Context, g *grid.Grid, annotators []Annotator, cfg Config) *Result {
	res := &Result{Layers: make(map[string]Layer, len(annotators))}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, a := range annotators {
		wg.Add(1)
		go func(a Annotator) {
			defer wg.Done()
			layer, err := applyOne(ctx, a, g, cfg)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failures = append(res.Failures, &OverlayError{Plugin: a.Name(), Err: err})
				return
			}
			res.Layers[a.Name()] = layer
		}(a)
	}
	wg.Wait()
	sort.Slice(res.Failures, func(i, j int) bool { return res.Failures[i].Plugin < res.Failures[j].Plugin })
	for _, f := range res.Failures {
		monitoring.Logf("overlay: %v", f)
	}
	return res
}

func applyOne(ctx context.Context, a Annotator, g *grid.Grid, cfg Config) (layer Layer, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	layer, err = a.Apply(ctx, g, cfg)
	if err != nil {
		return Layer{}, err
	}
	if len(layer.Values) != g.Width*g.Height {
		return Layer{}, fmt.Errorf("layer shape %d does not match grid %dx%d",
			len(layer.Values), g.Width, g.Height)
	}
	return layer, nil
}
