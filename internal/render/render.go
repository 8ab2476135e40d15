// Package render produces PNG heatmaps of a gridded raster for quick
// visual inspection of a conversion run. These are diagnostic plots,
// not deliverables: the exported NetCDF/GeoTIFF/BAG artifacts remain
// the product of record.
package render

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/tritonminingco/open-ocean-mapper/internal/grid"
	"github.com/tritonminingco/open-ocean-mapper/internal/overlay"
)

// gridXYZ adapts one value plane of a Grid to plotter.GridXYZ.
// Row 0 of the grid is the southernmost row, which matches the
// plot's bottom-up Y axis, so no flipping is needed here.
type gridXYZ struct {
	g    *grid.Grid
	vals []float64
}

func (d gridXYZ) Dims() (c, r int) { return d.g.Width, d.g.Height }
func (d gridXYZ) Z(c, r int) float64 {
	return d.vals[d.g.Index(c, r)]
}
func (d gridXYZ) X(c int) float64 {
	x, _ := d.g.CellCenter(c, 0)
	return x
}
func (d gridXYZ) Y(r int) float64 {
	_, y := d.g.CellCenter(0, r)
	return y
}

// Heatmap renders one value plane to a PNG at path. No-data cells
// (NaN) are left unpainted. The plane must have Width*Height values.
func Heatmap(g *grid.Grid, vals []float64, title, units, path string) error {
	if g == nil || g.Width == 0 || g.Height == 0 {
		return fmt.Errorf("render: empty grid")
	}
	if len(vals) != g.Width*g.Height {
		return fmt.Errorf("render: plane has %d values, grid needs %d", len(vals), g.Width*g.Height)
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if math.IsInf(lo, 1) {
		return fmt.Errorf("render: plane %q has no data", title)
	}
	if lo == hi {
		// HeatMap needs a non-degenerate range.
		hi = lo + 1
	}

	// NewHeatMap leaves NaN cells transparent, which is exactly what
	// no-data cells should look like.
	hm := plotter.NewHeatMap(gridXYZ{g: g, vals: vals}, palette.Heat(12, 255))
	hm.Min, hm.Max = lo, hi

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = fmt.Sprintf("Easting (m, %s)", g.CRS)
	p.Y.Label.Text = fmt.Sprintf("Northing (m, %s)", g.CRS)
	if units != "" {
		p.Title.Text = fmt.Sprintf("%s (%s)", title, units)
	}
	p.Add(hm)

	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("render: save %s: %w", filepath.Base(path), err)
	}
	return nil
}

// WriteJobPlots renders the elevation and uncertainty planes plus one
// heatmap per overlay layer into dir, named after the job. Returns the
// paths written, sorted.
func WriteJobPlots(g *grid.Grid, layers map[string]overlay.Layer, dir, jobID string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("render: create output dir: %w", err)
	}

	type plane struct {
		name  string
		units string
		vals  []float64
	}
	planes := []plane{
		{name: "elevation", units: "m down", vals: g.Elevation},
		{name: "uncertainty", units: "m", vals: g.Uncertainty},
	}
	var names []string
	for name := range layers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		planes = append(planes, plane{name: name, units: layers[name].Units, vals: layers[name].Values})
	}

	var written []string
	for _, pl := range planes {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.png", jobID, pl.name))
		if err := Heatmap(g, pl.vals, pl.name, pl.units, path); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}
