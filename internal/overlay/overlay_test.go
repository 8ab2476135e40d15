package overlay

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/tritonminingco/open-ocean-mapper/internal/grid"
)

func testGrid() *grid.Grid {
	g := &grid.Grid{CellSize: 10, Width: 3, Height: 3, CRS: "epsg:32631"}
	g.Elevation = []float64{
		100, 110, 120,
		100, 110, 120,
		100, 110, 120,
	}
	g.Uncertainty = make([]float64, 9)
	g.Count = []int32{1, 2, 3, 1, 2, 3, 1, 2, 3}
	g.Filled = make([]bool, 9)
	return g
}

type errPlugin struct{}

func (errPlugin) Name() string { return "errplugin" }
func (errPlugin) Apply(context.Context, *grid.Grid, Config) (Layer, error) {
	return Layer{}, errors.New("backend unreachable")
}

type panicPlugin struct{}

func (panicPlugin) Name() string { return "panicplugin" }
func (panicPlugin) Apply(context.Context, *grid.Grid, Config) (Layer, error) {
	panic("index out of range")
}

type shortPlugin struct{}

func (shortPlugin) Name() string { return "shortplugin" }
func (shortPlugin) Apply(_ context.Context, g *grid.Grid, _ Config) (Layer, error) {
	return Layer{Values: make([]float64, 2)}, nil
}

func TestResolveRejectsUnknownAndDuplicate(t *testing.T) {
	if _, err := Resolve([]string{"slope", "does-not-exist"}); err == nil {
		t.Fatalf("unknown plugin accepted")
	}
	if _, err := Resolve([]string{"slope", "slope"}); err == nil {
		t.Fatalf("duplicate plugin accepted, keys would collide")
	}
	as, err := Resolve([]string{"deepseaguard", "slope", "density"})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(as) != 3 {
		t.Fatalf("want 3 annotators, got %d", len(as))
	}
}

// One plugin failing, one panicking, one returning a wrong shape: every
// failure is recorded, and the healthy plugin still delivers.
func TestFailuresIsolated(t *testing.T) {
	as := []Annotator{errPlugin{}, panicPlugin{}, shortPlugin{}, density{}}
	res := Run(context.Background(), testGrid(), as, Config{})
	if len(res.Failures) != 3 {
		t.Fatalf("want 3 failures, got %d: %v", len(res.Failures), res.Failures)
	}
	if _, ok := res.Layers["density"]; !ok {
		t.Fatalf("healthy plugin lost its layer")
	}
	for _, f := range res.Failures {
		if f.Plugin == "" || f.Err == nil {
			t.Fatalf("failure missing plugin name or cause: %+v", f)
		}
	}
}

func TestDeepSeaGuardClasses(t *testing.T) {
	g := testGrid()
	g.Elevation[0] = 50    // shelf
	g.Elevation[1] = 500   // slope band
	g.Elevation[2] = 3000  // abyssal
	g.Elevation[3] = 7000  // hadal
	g.Elevation[4] = math.NaN()
	layer, err := deepSeaGuard{}.Apply(context.Background(), g, Config{})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	want := []float64{habitatShelf, habitatSlope, habitatAbyssal, habitatHadal, habitatUnknown}
	for i, w := range want {
		if layer.Values[i] != w {
			t.Fatalf("cell %d class %v, want %v", i, layer.Values[i], w)
		}
	}
	if layer.Legend[habitatAbyssal] != "abyssal_plume_risk" {
		t.Fatalf("legend missing plume-risk band")
	}
}

func TestSlopeOnUniformRamp(t *testing.T) {
	// Elevation rises 10 m per 10 m cell eastward: gradient magnitude 1.
	layer, err := slope{}.Apply(context.Background(), testGrid(), Config{})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	for i, v := range layer.Values {
		if math.Abs(v-1) > 1e-9 {
			t.Fatalf("cell %d slope %v, want 1", i, v)
		}
	}
}

func TestSlopeIsolatedCellIsNaN(t *testing.T) {
	g := testGrid()
	for i := range g.Elevation {
		if i != 4 {
			g.Elevation[i] = math.NaN()
		}
	}
	layer, err := slope{}.Apply(context.Background(), g, Config{})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if !math.IsNaN(layer.Values[4]) {
		t.Fatalf("isolated cell should have no defined slope")
	}
	if !math.IsNaN(layer.Values[0]) {
		t.Fatalf("no-data cell should stay NaN")
	}
}

func TestDensityMirrorsCounts(t *testing.T) {
	g := testGrid()
	layer, err := density{}.Apply(context.Background(), g, Config{})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	for i, c := range g.Count {
		if layer.Values[i] != float64(c) {
			t.Fatalf("cell %d density %v, want %d", i, layer.Values[i], c)
		}
	}
}

// Annotators must not touch the base grid.
func TestPluginsLeaveGridIntact(t *testing.T) {
	g := testGrid()
	before := append([]float64(nil), g.Elevation...)
	as, err := Resolve([]string{"deepseaguard", "slope", "density"})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	res := Run(context.Background(), g, as, Config{})
	if len(res.Failures) != 0 {
		t.Fatalf("unexpected failures: %v", res.Failures)
	}
	for i := range before {
		if g.Elevation[i] != before[i] {
			t.Fatalf("plugin mutated elevation at %d", i)
		}
	}
}
