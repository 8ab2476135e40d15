package overlay

import (
	"context"
	"math"

	"github.com/tritonminingco/open-ocean-mapper/internal/grid"
)

func init() {
	Register(deepSeaGuard{})
	Register(slope{})
	Register(density{})
}

// Habitat classes assigned by the deepseaguard plugin.
const (
	habitatUnknown = iota
	habitatShelf       // < 200 m
	habitatSlope       // 200 - 1000 m
	habitatAbyssal     // 1000 - 6000 m
	habitatHadal       // > 6000 m
)

// deepSeaGuard classifies each cell into a habitat band by depth and
// flags the bands where sediment plumes from seabed activity are a
// concern. Classes are encoded as integers with a legend.
type deepSeaGuard struct{}

func (deepSeaGuard) Name() string { return "deepseaguard" }

func (deepSeaGuard) Apply(_ context.Context, g *grid.Grid, _ Config) (Layer, error) {
	vals := make([]float64, len(g.Elevation))
	for i, d := range g.Elevation {
		switch {
		case math.IsNaN(d):
			vals[i] = habitatUnknown
		case d < 200:
			vals[i] = habitatShelf
		case d < 1000:
			vals[i] = habitatSlope
		case d < 6000:
			vals[i] = habitatAbyssal
		default:
			vals[i] = habitatHadal
		}
	}
	return Layer{
		Values: vals,
		Units:  "class",
		Legend: map[int]string{
			habitatUnknown: "unknown",
			habitatShelf:   "shelf",
			habitatSlope:   "slope",
			habitatAbyssal: "abyssal_plume_risk",
			habitatHadal:   "hadal",
		},
	}, nil
}

// slope computes the gradient magnitude of the elevation surface by
// central differences, in metres per metre. Cells next to no-data fall
// back to one-sided differences; isolated cells get NaN.
type slope struct{}

func (slope) Name() string { return "slope" }

func (slope) Apply(_ context.Context, g *grid.Grid, _ Config) (Layer, error) {
	vals := make([]float64, len(g.Elevation))
	at := func(col, row int) float64 {
		if col < 0 || col >= g.Width || row < 0 || row >= g.Height {
			return math.NaN()
		}
		return g.Elevation[g.Index(col, row)]
	}
	for row := 0; row < g.Height; row++ {
		for col := 0; col < g.Width; col++ {
			i := g.Index(col, row)
			if math.IsNaN(g.Elevation[i]) {
				vals[i] = math.NaN()
				continue
			}
			dx := diff(at(col-1, row), g.Elevation[i], at(col+1, row), g.CellSize)
			dy := diff(at(col, row-1), g.Elevation[i], at(col, row+1), g.CellSize)
			if math.IsNaN(dx) && math.IsNaN(dy) {
				vals[i] = math.NaN()
				continue
			}
			if math.IsNaN(dx) {
				dx = 0
			}
			if math.IsNaN(dy) {
				dy = 0
			}
			vals[i] = math.Hypot(dx, dy)
		}
	}
	return Layer{Values: vals, Units: "m/m"}, nil
}

// diff picks central, forward or backward difference depending on which
// neighbours carry data.
func diff(prev, cur, next, h float64) float64 {
	switch {
	case !math.IsNaN(prev) && !math.IsNaN(next):
		return (next - prev) / (2 * h)
	case !math.IsNaN(next):
		return (next - cur) / h
	case !math.IsNaN(prev):
		return (cur - prev) / h
	default:
		return math.NaN()
	}
}

// density reports contributing soundings per cell, straight off the
// grid's count plane. Gap-filled cells show 0, which is the honest
// answer.
type density struct{}

func (density) Name() string { return "density" }

func (density) Apply(_ context.Context, g *grid.Grid, _ Config) (Layer, error) {
	vals := make([]float64, len(g.Count))
	for i, c := range g.Count {
		vals[i] = float64(c)
	}
	return Layer{Values: vals, Units: "soundings/cell"}, nil
}
