// Package export serializes a finished grid, its overlay layers, and
// job provenance into one of the supported artifact formats. NetCDF is
// a self-contained classic (CDF-1) binary, GeoTIFF a georeferenced
// float32 raster, and BAG a staging container pending a real HDF5
// encoder. Features a format cannot carry are recorded in provenance,
// never silently dropped.
package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tritonminingco/open-ocean-mapper/internal/grid"
	"github.com/tritonminingco/open-ocean-mapper/internal/monitoring"
	"github.com/tritonminingco/open-ocean-mapper/internal/overlay"
	"github.com/tritonminingco/open-ocean-mapper/internal/sounding"
)

// Format identifies an output format.
type Format string

const (
	FormatNetCDF  Format = "netcdf"
	FormatBAG     Format = "bag"
	FormatGeoTIFF Format = "geotiff"
)

// ParseFormat validates a format name from configuration.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatNetCDF, FormatBAG, FormatGeoTIFF:
		return Format(s), nil
	case "":
		return FormatNetCDF, nil
	default:
		return "", fmt.Errorf("export: unknown output format %q", s)
	}
}

// ExportError is stage-fatal: the artifact could not be produced.
type ExportError struct {
	Format Format
	Msg    string
	Err    error
}

func (e *ExportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("export to %s failed: %s: %v", e.Format, e.Msg, e.Err)
	}
	return fmt.Sprintf("export to %s failed: %s", e.Format, e.Msg)
}

func (e *ExportError) Unwrap() error { return e.Err }

// Provenance is the processing-history block embedded in every
// artifact. Notes accumulate anything a format had to omit.
type Provenance struct {
	JobID       string          `json:"job_id"`
	Source      string          `json:"source"`
	Sensor      string          `json:"sensor"`
	GeneratedAt time.Time       `json:"generated_at"`
	Converter   string          `json:"converter"`
	CRS         string          `json:"crs"`
	Bounds      sounding.Bounds `json:"bounds"`
	QCMode      string          `json:"qc_mode"`
	QCBypassed  bool            `json:"qc_bypassed"`
	Anonymized  bool            `json:"anonymized"`
	Overlays    []string        `json:"overlays,omitempty"`
	Warnings    []string        `json:"warnings,omitempty"`
	Notes       []string        `json:"notes,omitempty"`
}

// AddNote appends an omission or caveat to the processing history.
func (p *Provenance) AddNote(format string, a ...any) {
	p.Notes = append(p.Notes, fmt.Sprintf(format, a...))
}

// Artifact describes one exported file. Read-only once returned.
type Artifact struct {
	Path       string
	Format     Format
	SHA256     string
	Size       int64
	Provenance Provenance
}

// Export writes the artifact for the requested format into dir and
// returns its descriptor. The provenance is copied; exporters may add
// omission notes to the copy, which ends up inside both the artifact
// and the returned descriptor.
func Export(ctx context.Context, g *grid.Grid, overlays *overlay.Result, prov Provenance, format Format, dir string) (*Artifact, error) {
	f, err := ParseFormat(string(format))
	if err != nil {
		return nil, &ExportError{Format: format, Msg: "bad format", Err: err}
	}
	if g == nil || g.Width <= 0 || g.Height <= 0 {
		return nil, &ExportError{Format: f, Msg: "empty grid"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := fmt.Sprintf("%s_%s.%s", sanitizeName(prov.Source), prov.JobID, extension(f))
	path := filepath.Join(dir, name)

	var werr error
	switch f {
	case FormatNetCDF:
		werr = writeNetCDF(ctx, path, g, overlays, &prov)
	case FormatGeoTIFF:
		werr = writeGeoTIFF(ctx, path, g, overlays, &prov)
	case FormatBAG:
		werr = writeBAG(ctx, path, g, overlays, &prov)
	}
	if werr != nil {
		if _, ok := werr.(*ExportError); ok {
			return nil, werr
		}
		return nil, &ExportError{Format: f, Msg: "write failed", Err: werr}
	}

	sum, size, err := checksumFile(path)
	if err != nil {
		return nil, &ExportError{Format: f, Msg: "checksum failed", Err: err}
	}
	monitoring.Logf("export: wrote %s (%d bytes, sha256 %.12s)", path, size, sum)
	return &Artifact{Path: path, Format: f, SHA256: sum, Size: size, Provenance: prov}, nil
}

func extension(f Format) string {
	switch f {
	case FormatGeoTIFF:
		return "tif"
	case FormatBAG:
		return "bag"
	default:
		return "nc"
	}
}

func sanitizeName(s string) string {
	if s == "" {
		return "survey"
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		case r == '.':
			// drop the source extension separator
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func checksumFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// sortedLayerNames gives exporters a stable iteration order over
// overlay layers.
func sortedLayerNames(overlays *overlay.Result) []string {
	if overlays == nil {
		return nil
	}
	names := make([]string, 0, len(overlays.Layers))
	for n := range overlays.Layers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
