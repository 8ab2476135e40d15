package export

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/tritonminingco/open-ocean-mapper/internal/grid"
	"github.com/tritonminingco/open-ocean-mapper/internal/overlay"
)

// TIFF field types.
const (
	tiffASCII  = 2
	tiffShort  = 3
	tiffLong   = 4
	tiffDouble = 12
)

// Band order in the planar GeoTIFF.
var geotiffBands = []string{"elevation", "uncertainty", "density"}

// writeGeoTIFF emits a little-endian planar float32 GeoTIFF with three
// bands (elevation, uncertainty, density), georeferenced through
// ModelPixelScale/ModelTiepoint and a GeoKey directory. TIFF rasters
// are top-down, so grid rows are flipped on the way out. Overlay layers
// other than density cannot be represented and are noted in provenance.
func writeGeoTIFF(ctx context.Context, path string, g *grid.Grid, overlays *overlay.Result, prov *Provenance) error {
	bands := make([][]byte, len(geotiffBands))
	bands[0] = bandBytes(g, g.Elevation)
	bands[1] = bandBytes(g, g.Uncertainty)
	density := make([]float64, len(g.Count))
	for i, c := range g.Count {
		density[i] = float64(c)
	}
	for _, name := range sortedLayerNames(overlays) {
		if name == "density" {
			density = overlays.Layers[name].Values
			continue
		}
		prov.AddNote("overlay %s omitted by format geotiff", name)
	}
	bands[2] = bandBytes(g, density)
	if err := ctx.Err(); err != nil {
		return err
	}

	bandSize := uint32(g.Width * g.Height * 4)
	stripOffsets := make([]uint32, len(bands))
	off := uint32(8) // after the TIFF header
	for i := range bands {
		stripOffsets[i] = off
		off += bandSize
	}

	// External tag payloads live between the strips and the IFD.
	epsg := epsgCode(prov.CRS)
	geoKeys := []uint16{
		1, 1, 0, 3, // version, revision, minor, key count
		1024, 0, 1, 1, // GTModelType: projected
		1025, 0, 1, 2, // GTRasterType: pixel is point (origins are cell centers)
		3072, 0, 1, uint16(epsg),
	}
	pixelScale := []float64{g.CellSize, g.CellSize, 0}
	// Raster (0,0) is the top-left sample: the grid's northernmost row.
	tiepoint := []float64{0, 0, 0, g.OriginX, g.OriginY + float64(g.Height-1)*g.CellSize, 0}

	ext := &extWriter{start: off}
	bitsOff := ext.shorts([]uint16{32, 32, 32})
	stripOffOff := ext.longs(stripOffsets)
	stripCntOff := ext.longs([]uint32{bandSize, bandSize, bandSize})
	formatOff := ext.shorts([]uint16{3, 3, 3}) // IEEE float
	scaleOff := ext.doubles(pixelScale)
	tieOff := ext.doubles(tiepoint)
	geoOff := ext.shorts(geoKeys)
	ifdOffset := ext.pos()

	entries := []ifdEntry{
		{256, tiffLong, 1, uint32(g.Width)},
		{257, tiffLong, 1, uint32(g.Height)},
		{258, tiffShort, 3, bitsOff},
		{259, tiffShort, 1, 1}, // uncompressed
		{262, tiffShort, 1, 1}, // black is zero
		{273, tiffLong, 3, stripOffOff},
		{277, tiffShort, 1, 3},
		{278, tiffLong, 1, uint32(g.Height)},
		{279, tiffLong, 3, stripCntOff},
		{284, tiffShort, 1, 2}, // planar
		{339, tiffShort, 3, formatOff},
		{33550, tiffDouble, 3, scaleOff},
		{33922, tiffDouble, 6, tieOff},
		{34735, tiffShort, uint32(len(geoKeys)), geoOff},
		{42113, tiffASCII, 4, inlineASCII("nan")},
	}

	var buf bytes.Buffer
	buf.WriteString("II")
	le16(&buf, 42)
	le32(&buf, ifdOffset)
	for _, b := range bands {
		buf.Write(b)
	}
	buf.Write(ext.buf.Bytes())
	le16(&buf, uint16(len(entries)))
	for _, e := range entries {
		le16(&buf, e.tag)
		le16(&buf, e.typ)
		le32(&buf, e.count)
		le32(&buf, e.value)
	}
	le32(&buf, 0) // no next IFD
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

type ifdEntry struct {
	tag, typ uint16
	count    uint32
	value    uint32
}

// bandBytes serializes one plane as little-endian float32, flipping
// rows so row 0 of the file is the northernmost.
func bandBytes(g *grid.Grid, vals []float64) []byte {
	out := make([]byte, 0, g.Width*g.Height*4)
	var b [4]byte
	for row := g.Height - 1; row >= 0; row-- {
		for col := 0; col < g.Width; col++ {
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(float32(vals[g.Index(col, row)])))
			out = append(out, b[:]...)
		}
	}
	return out
}

// extWriter accumulates external tag payloads, handing back the file
// offset of each.
type extWriter struct {
	buf   bytes.Buffer
	start uint32
}

func (w *extWriter) pos() uint32 { return w.start + uint32(w.buf.Len()) }

func (w *extWriter) shorts(vs []uint16) uint32 {
	at := w.pos()
	for _, v := range vs {
		le16(&w.buf, v)
	}
	return at
}

func (w *extWriter) longs(vs []uint32) uint32 {
	at := w.pos()
	for _, v := range vs {
		le32(&w.buf, v)
	}
	return at
}

func (w *extWriter) doubles(vs []float64) uint32 {
	at := w.pos()
	for _, v := range vs {
		binary.Write(&w.buf, binary.LittleEndian, v)
	}
	return at
}

func le16(buf *bytes.Buffer, v uint16) {
	binary.Write(buf, binary.LittleEndian, v)
}

func le32(buf *bytes.Buffer, v uint32) {
	binary.Write(buf, binary.LittleEndian, v)
}

func inlineASCII(s string) uint32 {
	var b [4]byte
	copy(b[:], s)
	return binary.LittleEndian.Uint32(b[:])
}

// epsgCode extracts the numeric code from identifiers like
// "epsg:32631"; unknown identifiers map to 32767 (user-defined).
func epsgCode(crs string) int {
	s := strings.TrimPrefix(strings.ToLower(crs), "epsg:")
	if n, err := strconv.Atoi(s); err == nil && n > 0 && n < 65535 {
		return n
	}
	return 32767
}

// GeoTIFFFile is the decoded view used by round-trip tests and
// compliance checks. Bands are flipped back to the grid's south-up row
// order.
type GeoTIFFFile struct {
	Width, Height    int
	CellSize         float64
	OriginX, OriginY float64
	EPSG             int
	Bands            map[string][]float64
}

// ReadGeoTIFF decodes a planar float32 GeoTIFF written by this package.
func ReadGeoTIFF(path string) (*GeoTIFFFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) < 8 || string(raw[:2]) != "II" || binary.LittleEndian.Uint16(raw[2:]) != 42 {
		return nil, fmt.Errorf("geotiff: bad header in %s", path)
	}
	ifd := binary.LittleEndian.Uint32(raw[4:])
	if int(ifd)+2 > len(raw) {
		return nil, fmt.Errorf("geotiff: IFD offset out of range")
	}
	n := int(binary.LittleEndian.Uint16(raw[ifd:]))
	tags := map[uint16]ifdEntry{}
	for i := 0; i < n; i++ {
		e := raw[int(ifd)+2+i*12:]
		tags[binary.LittleEndian.Uint16(e)] = ifdEntry{
			tag:   binary.LittleEndian.Uint16(e),
			typ:   binary.LittleEndian.Uint16(e[2:]),
			count: binary.LittleEndian.Uint32(e[4:]),
			value: binary.LittleEndian.Uint32(e[8:]),
		}
	}

	f := &GeoTIFFFile{Bands: map[string][]float64{}}
	f.Width = int(tags[256].value)
	f.Height = int(tags[257].value)
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("geotiff: missing image dimensions")
	}

	scale := readDoubles(raw, tags[33550])
	tie := readDoubles(raw, tags[33922])
	if len(scale) < 2 || len(tie) < 6 {
		return nil, fmt.Errorf("geotiff: missing georeferencing tags")
	}
	f.CellSize = scale[0]
	f.OriginX = tie[3]
	f.OriginY = tie[4] - float64(f.Height-1)*f.CellSize

	keys := readShorts(raw, tags[34735])
	for i := 4; i+3 < len(keys); i += 4 {
		if keys[i] == 3072 {
			f.EPSG = int(keys[i+3])
		}
	}

	offsets := readLongs(raw, tags[273])
	counts := readLongs(raw, tags[279])
	if len(offsets) != len(geotiffBands) || len(counts) != len(offsets) {
		return nil, fmt.Errorf("geotiff: expected %d planar strips, got %d", len(geotiffBands), len(offsets))
	}
	for bi, name := range geotiffBands {
		start, size := int(offsets[bi]), int(counts[bi])
		if start+size > len(raw) || size != f.Width*f.Height*4 {
			return nil, fmt.Errorf("geotiff: band %s strip out of range", name)
		}
		vals := make([]float64, f.Width*f.Height)
		for row := 0; row < f.Height; row++ {
			srcRow := f.Height - 1 - row
			for col := 0; col < f.Width; col++ {
				bits := binary.LittleEndian.Uint32(raw[start+(srcRow*f.Width+col)*4:])
				vals[row*f.Width+col] = float64(math.Float32frombits(bits))
			}
		}
		f.Bands[name] = vals
	}
	return f, nil
}

func readDoubles(raw []byte, e ifdEntry) []float64 {
	if e.count == 0 {
		return nil
	}
	out := make([]float64, e.count)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[int(e.value)+i*8:]))
	}
	return out
}

func readLongs(raw []byte, e ifdEntry) []uint32 {
	if e.count == 0 {
		return nil
	}
	if e.count == 1 {
		return []uint32{e.value}
	}
	out := make([]uint32, e.count)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[int(e.value)+i*4:])
	}
	return out
}

func readShorts(raw []byte, e ifdEntry) []uint16 {
	if e.count == 0 {
		return nil
	}
	out := make([]uint16, e.count)
	if e.count <= 2 {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], e.value)
		for i := range out {
			out[i] = binary.LittleEndian.Uint16(b[i*2:])
		}
		return out
	}
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(raw[int(e.value)+i*2:])
	}
	return out
}
