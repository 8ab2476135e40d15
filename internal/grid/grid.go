// Package grid bins projected soundings into a regular elevation
// raster with per-cell uncertainty. Points are assigned to their
// nearest cell center; populated cells reduce their samples with one of
// the configured methods. Results are independent of input record
// order: every cell sorts its samples deterministically before
// reducing.
package grid

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/tritonminingco/open-ocean-mapper/internal/monitoring"
	"github.com/tritonminingco/open-ocean-mapper/internal/sounding"
)

// Method selects the per-cell reduction.
type Method string

const (
	MethodMean   Method = "mean"
	MethodMedian Method = "median"
	MethodIDW    Method = "idw"
)

// ParseMethod validates a method name from configuration.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodMean, MethodMedian, MethodIDW:
		return Method(s), nil
	case "":
		return MethodMean, nil
	default:
		return "", fmt.Errorf("grid: unknown gridding method %q", s)
	}
}

// Config controls one gridding pass.
type Config struct {
	CellSizeM       float64
	Method          Method
	IDWPower        float64 // exponent for idw, default 2
	MaxGapCells     int     // 0 disables gap filling
	MinUncertaintyM float64 // floor for single-sample cells, never zero
	MaxCells        int     // ceiling on Width*Height, default 1<<24
}

func (c Config) idwPower() float64 {
	if c.IDWPower <= 0 {
		return 2
	}
	return c.IDWPower
}

func (c Config) minUncertainty() float64 {
	if c.MinUncertaintyM <= 0 {
		return 0.25
	}
	return c.MinUncertaintyM
}

func (c Config) maxCells() int {
	if c.MaxCells <= 0 {
		return 1 << 24
	}
	return c.MaxCells
}

// Grid is the derived raster. Elevation and Uncertainty share shape;
// cells with Count 0 hold NaN unless gap filling marked them Filled.
// Row 0 is the southernmost row (minimum Y).
type Grid struct {
	CellSize         float64
	OriginX, OriginY float64 // center of cell (0, 0)
	Width, Height    int
	CRS              string

	Elevation   []float64 // depth metres positive down, NaN = no-data
	Uncertainty []float64
	Count       []int32
	Filled      []bool // true for cells populated by gap filling only
}

// Index converts (col, row) to the flat array offset.
func (g *Grid) Index(col, row int) int { return row*g.Width + col }

// CellCenter returns the planar coordinate of a cell's center.
func (g *Grid) CellCenter(col, row int) (x, y float64) {
	return g.OriginX + float64(col)*g.CellSize, g.OriginY + float64(row)*g.CellSize
}

// NoData reports whether a cell carries no elevation value.
func (g *Grid) NoData(col, row int) bool {
	return math.IsNaN(g.Elevation[g.Index(col, row)])
}

type sample struct {
	v    float64 // depth
	x, y float64 // planar position, kept for idw distances
}

// Build grids the dataset's valid projected records. Cancellation is
// checked between rows so a long pass over a large raster aborts
// promptly.
func Build(ctx context.Context, ds *sounding.Dataset, cfg Config) (*Grid, error) {
	if cfg.CellSizeM <= 0 {
		return nil, fmt.Errorf("grid: cell size must be > 0, got %v", cfg.CellSizeM)
	}
	method, err := ParseMethod(string(cfg.Method))
	if err != nil {
		return nil, err
	}

	minX, minY := math.MaxFloat64, math.MaxFloat64
	maxX, maxY := -math.MaxFloat64, -math.MaxFloat64
	n := 0
	for i := range ds.Records {
		r := &ds.Records[i]
		if r.Invalid {
			continue
		}
		if !r.Projected {
			return nil, fmt.Errorf("grid: record %d not projected, run reprojection first", i)
		}
		minX = math.Min(minX, r.X)
		maxX = math.Max(maxX, r.X)
		minY = math.Min(minY, r.Y)
		maxY = math.Max(maxY, r.Y)
		n++
	}
	if n == 0 {
		return nil, fmt.Errorf("grid: no valid records to grid")
	}

	g := &Grid{
		CellSize: cfg.CellSizeM,
		OriginX:  minX,
		OriginY:  minY,
		CRS:      ds.Meta.CRS,
		Width:    int(math.Round((maxX-minX)/cfg.CellSizeM)) + 1,
		Height:   int(math.Round((maxY-minY)/cfg.CellSizeM)) + 1,
	}
	// A stray point far from the survey would otherwise demand an
	// allocation sized by the full extent. Per-axis checks first so the
	// product cannot overflow.
	if g.Width > cfg.maxCells() || g.Height > cfg.maxCells() || g.Width*g.Height > cfg.maxCells() {
		return nil, fmt.Errorf("grid: extent %dx%d cells at %.2f m exceeds the %d-cell limit; increase cell_size_m",
			g.Width, g.Height, cfg.CellSizeM, cfg.maxCells())
	}
	cells := g.Width * g.Height
	g.Elevation = make([]float64, cells)
	g.Uncertainty = make([]float64, cells)
	g.Count = make([]int32, cells)
	g.Filled = make([]bool, cells)
	for i := range g.Elevation {
		g.Elevation[i] = math.NaN()
	}

	// Nearest-cell assignment: round to the closest cell center.
	buckets := make([][]sample, cells)
	for i := range ds.Records {
		r := &ds.Records[i]
		if r.Invalid {
			continue
		}
		col := int(math.Round((r.X - g.OriginX) / g.CellSize))
		row := int(math.Round((r.Y - g.OriginY) / g.CellSize))
		if col < 0 || col >= g.Width || row < 0 || row >= g.Height {
			continue
		}
		idx := g.Index(col, row)
		buckets[idx] = append(buckets[idx], sample{v: r.Depth, x: r.X, y: r.Y})
	}

	for row := 0; row < g.Height; row++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for col := 0; col < g.Width; col++ {
			idx := g.Index(col, row)
			s := buckets[idx]
			if len(s) == 0 {
				continue
			}
			// Deterministic reduction order regardless of record order.
			sort.Slice(s, func(a, b int) bool {
				if s[a].v != s[b].v {
					return s[a].v < s[b].v
				}
				if s[a].x != s[b].x {
					return s[a].x < s[b].x
				}
				return s[a].y < s[b].y
			})
			cx, cy := g.CellCenter(col, row)
			g.Elevation[idx] = reduce(method, s, cx, cy, cfg.idwPower())
			g.Uncertainty[idx] = uncertainty(s, cfg.minUncertainty())
			g.Count[idx] = int32(len(s))
		}
	}

	if cfg.MaxGapCells > 0 {
		if err := fillGaps(ctx, g, cfg.MaxGapCells, cfg.minUncertainty()); err != nil {
			return nil, err
		}
	}
	monitoring.Logf("grid: %dx%d cells at %.2f m (%s), %d points binned",
		g.Width, g.Height, g.CellSize, method, n)
	return g, nil
}

func reduce(m Method, s []sample, cx, cy, power float64) float64 {
	switch m {
	case MethodMedian:
		if len(s)%2 == 1 {
			return s[len(s)/2].v
		}
		return (s[len(s)/2-1].v + s[len(s)/2].v) / 2
	case MethodIDW:
		var num, den float64
		for _, p := range s {
			d := math.Hypot(p.x-cx, p.y-cy)
			// A point on the exact cell center would blow up 1/d^p.
			w := 1 / (math.Pow(d, power) + 1e-9)
			num += w * p.v
			den += w
		}
		return num / den
	default: // mean
		vs := values(s)
		return stat.Mean(vs, nil)
	}
}

// uncertainty is the sample standard deviation of the contributing
// depths, in metres, floored so a single sample never reports zero.
func uncertainty(s []sample, floor float64) float64 {
	if len(s) < 2 {
		return floor
	}
	u := stat.StdDev(values(s), nil)
	return math.Max(u, floor)
}

func values(s []sample) []float64 {
	vs := make([]float64, len(s))
	for i := range s {
		vs[i] = s[i].v
	}
	return vs
}

// fillGaps interpolates small holes from populated neighbours within
// maxGap cells (Chebyshev distance). Wider no-data spans are left
// untouched: fabricating bathymetry in unsurveyed areas is worse than a
// hole. Filled cells keep Count 0 and are marked Filled.
func fillGaps(ctx context.Context, g *Grid, maxGap int, floor float64) error {
	filled := make([]float64, 0, 16)
	type fill struct {
		idx int
		v   float64
		u   float64
	}
	var fills []fill
	for row := 0; row < g.Height; row++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for col := 0; col < g.Width; col++ {
			idx := g.Index(col, row)
			if g.Count[idx] > 0 {
				continue
			}
			filled = filled[:0]
			var maxU float64
			for dr := -maxGap; dr <= maxGap; dr++ {
				for dc := -maxGap; dc <= maxGap; dc++ {
					nc, nr := col+dc, row+dr
					if nc < 0 || nc >= g.Width || nr < 0 || nr >= g.Height {
						continue
					}
					nidx := g.Index(nc, nr)
					if g.Count[nidx] == 0 {
						continue
					}
					filled = append(filled, g.Elevation[nidx])
					maxU = math.Max(maxU, g.Uncertainty[nidx])
				}
			}
			if len(filled) == 0 {
				continue
			}
			fills = append(fills, fill{idx: idx, v: stat.Mean(filled, nil), u: math.Max(maxU, floor)})
		}
	}
	// Applied after the scan so filled cells never feed other fills.
	for _, f := range fills {
		g.Elevation[f.idx] = f.v
		g.Uncertainty[f.idx] = f.u
		g.Filled[f.idx] = true
	}
	return nil
}
