package export

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/tritonminingco/open-ocean-mapper/internal/grid"
	"github.com/tritonminingco/open-ocean-mapper/internal/overlay"
)

// Classic netCDF (CDF-1) constants. The format is big-endian with every
// section padded to 4-byte boundaries.
const (
	ncDimensionTag = 0x0A
	ncVariableTag  = 0x0B
	ncAttributeTag = 0x0C

	ncTypeChar   = 2
	ncTypeInt    = 4
	ncTypeDouble = 6
)

type ncAttr struct {
	name string
	// exactly one of these is set
	str     string
	doubles []float64
	ints    []int32
}

type ncVarDef struct {
	name  string
	typ   uint32
	attrs []ncAttr
	// payload, one of
	doubles []float64
	ints    []int32
}

// writeNetCDF emits a self-contained CDF-1 file: dims y/x, variables
// elevation/uncertainty/count plus one variable per overlay layer, and
// the full provenance block as global attributes. No-data cells are
// written as NaN doubles, declared via the missing_value attribute.
func writeNetCDF(ctx context.Context, path string, g *grid.Grid, overlays *overlay.Result, prov *Provenance) error {
	vars := []ncVarDef{
		{
			name: "elevation", typ: ncTypeDouble, doubles: g.Elevation,
			attrs: []ncAttr{
				{name: "units", str: "m"},
				{name: "positive", str: "down"},
				{name: "long_name", str: "water depth below datum"},
				{name: "missing_value", doubles: []float64{nan()}},
			},
		},
		{
			name: "uncertainty", typ: ncTypeDouble, doubles: g.Uncertainty,
			attrs: []ncAttr{
				{name: "units", str: "m"},
				{name: "long_name", str: "depth uncertainty, one standard deviation"},
			},
		},
		{
			name: "count", typ: ncTypeInt, ints: g.Count,
			attrs: []ncAttr{{name: "long_name", str: "contributing soundings per cell"}},
		},
	}
	for _, name := range sortedLayerNames(overlays) {
		layer := overlays.Layers[name]
		vars = append(vars, ncVarDef{
			name: "overlay_" + name, typ: ncTypeDouble, doubles: layer.Values,
			attrs: []ncAttr{
				{name: "units", str: layer.Units},
				{name: "missing_value", doubles: []float64{nan()}},
			},
		})
	}

	gatts := []ncAttr{
		{name: "Conventions", str: "CF-1.6"},
		{name: "title", str: "bathymetric surface: " + prov.Source},
		{name: "source", str: prov.Source},
		{name: "sensor", str: prov.Sensor},
		{name: "converter", str: prov.Converter},
		{name: "job_id", str: prov.JobID},
		{name: "generated_at", str: prov.GeneratedAt.UTC().Format(time.RFC3339)},
		{name: "crs", str: prov.CRS},
		{name: "qc_mode", str: prov.QCMode},
		{name: "qc_bypassed", ints: []int32{boolInt(prov.QCBypassed)}},
		{name: "anonymized", ints: []int32{boolInt(prov.Anonymized)}},
		{name: "cell_size_m", doubles: []float64{g.CellSize}},
		{name: "origin_x", doubles: []float64{g.OriginX}},
		{name: "origin_y", doubles: []float64{g.OriginY}},
		{name: "geospatial_lat_min", doubles: []float64{prov.Bounds.MinLat}},
		{name: "geospatial_lat_max", doubles: []float64{prov.Bounds.MaxLat}},
		{name: "geospatial_lon_min", doubles: []float64{prov.Bounds.MinLon}},
		{name: "geospatial_lon_max", doubles: []float64{prov.Bounds.MaxLon}},
	}
	if len(prov.Overlays) > 0 {
		gatts = append(gatts, ncAttr{name: "overlays", str: strings.Join(prov.Overlays, ",")})
	}
	if len(prov.Notes) > 0 {
		gatts = append(gatts, ncAttr{name: "processing_notes", str: strings.Join(prov.Notes, "; ")})
	}

	// The header length does not depend on the begin offsets (fixed
	// 4-byte fields), so serialize once to measure, then again for real.
	dims := [][2]any{{"y", g.Height}, {"x", g.Width}}
	probe := ncHeader(dims, gatts, vars, make([]uint32, len(vars)))
	begins := make([]uint32, len(vars))
	off := uint32(len(probe))
	for i := range vars {
		begins[i] = off
		off += ncVSize(&vars[i], g)
	}

	var buf bytes.Buffer
	buf.Write(ncHeader(dims, gatts, vars, begins))
	for i := range vars {
		if err := ctx.Err(); err != nil {
			return err
		}
		v := &vars[i]
		if v.typ == ncTypeDouble {
			if len(v.doubles) != g.Width*g.Height {
				return &ExportError{Format: FormatNetCDF,
					Msg: fmt.Sprintf("variable %s shape %d != grid %d", v.name, len(v.doubles), g.Width*g.Height)}
			}
			for _, d := range v.doubles {
				binary.Write(&buf, binary.BigEndian, d)
			}
		} else {
			for _, n := range v.ints {
				binary.Write(&buf, binary.BigEndian, n)
			}
			ncPad(&buf)
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func ncVSize(v *ncVarDef, g *grid.Grid) uint32 {
	cells := uint32(g.Width * g.Height)
	if v.typ == ncTypeDouble {
		return cells * 8
	}
	return pad4(cells * 4)
}

func ncHeader(dims [][2]any, gatts []ncAttr, vars []ncVarDef, begins []uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("CDF\x01")
	be32(&buf, 0) // numrecs: no record dimension

	be32(&buf, ncDimensionTag)
	be32(&buf, uint32(len(dims)))
	for _, d := range dims {
		ncName(&buf, d[0].(string))
		be32(&buf, uint32(d[1].(int)))
	}

	ncAttrList(&buf, gatts)

	be32(&buf, ncVariableTag)
	be32(&buf, uint32(len(vars)))
	for i := range vars {
		v := &vars[i]
		ncName(&buf, v.name)
		be32(&buf, 2) // rank: (y, x)
		be32(&buf, 0)
		be32(&buf, 1)
		ncAttrList(&buf, v.attrs)
		be32(&buf, v.typ)
		// vsize; ReadNetCDF recomputes it from the dims.
		be32(&buf, 0)
		be32(&buf, begins[i])
	}
	return buf.Bytes()
}

func ncAttrList(buf *bytes.Buffer, attrs []ncAttr) {
	if len(attrs) == 0 {
		be32(buf, 0)
		be32(buf, 0)
		return
	}
	be32(buf, ncAttributeTag)
	be32(buf, uint32(len(attrs)))
	for _, a := range attrs {
		ncName(buf, a.name)
		switch {
		case len(a.doubles) > 0:
			be32(buf, ncTypeDouble)
			be32(buf, uint32(len(a.doubles)))
			for _, d := range a.doubles {
				binary.Write(buf, binary.BigEndian, d)
			}
		case len(a.ints) > 0:
			be32(buf, ncTypeInt)
			be32(buf, uint32(len(a.ints)))
			for _, n := range a.ints {
				binary.Write(buf, binary.BigEndian, n)
			}
			ncPad(buf)
		default:
			be32(buf, ncTypeChar)
			be32(buf, uint32(len(a.str)))
			buf.WriteString(a.str)
			ncPad(buf)
		}
	}
}

func ncName(buf *bytes.Buffer, s string) {
	be32(buf, uint32(len(s)))
	buf.WriteString(s)
	ncPad(buf)
}

func ncPad(buf *bytes.Buffer) {
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
}

func be32(buf *bytes.Buffer, v uint32) {
	binary.Write(buf, binary.BigEndian, v)
}

func pad4(n uint32) uint32 { return (n + 3) &^ 3 }

func nan() float64 { return math.NaN() }

func f64be(b []byte) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// NetCDFFile is the decoded view of a classic file, enough for
// round-trip verification and compliance checks.
type NetCDFFile struct {
	Dims  map[string]int
	Attrs map[string]NCValue
	Vars  map[string]NCVariable
}

// NCValue is one attribute value.
type NCValue struct {
	Str     string
	Doubles []float64
	Ints    []int32
}

// NCVariable is one decoded variable with its data plane.
type NCVariable struct {
	Attrs   map[string]NCValue
	Doubles []float64
	Ints    []int32
}

// ReadNetCDF decodes a CDF-1 file written by this package.
func ReadNetCDF(path string) (*NetCDFFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r := &ncReader{buf: raw}
	if string(r.take(4)) != "CDF\x01" {
		return nil, fmt.Errorf("netcdf: bad magic in %s", path)
	}
	r.u32() // numrecs

	f := &NetCDFFile{Dims: map[string]int{}, Attrs: map[string]NCValue{}, Vars: map[string]NCVariable{}}
	var dimSizes []int
	if tag := r.u32(); tag != ncDimensionTag && tag != 0 {
		return nil, fmt.Errorf("netcdf: expected dim list, got tag %#x", tag)
	}
	for n := r.u32(); n > 0; n-- {
		name := r.name()
		size := int(r.u32())
		f.Dims[name] = size
		dimSizes = append(dimSizes, size)
	}

	attrs, err := r.attrList()
	if err != nil {
		return nil, err
	}
	f.Attrs = attrs

	if tag := r.u32(); tag != ncVariableTag && tag != 0 {
		return nil, fmt.Errorf("netcdf: expected var list, got tag %#x", tag)
	}
	for n := r.u32(); n > 0; n-- {
		name := r.name()
		cells := 1
		for rank := r.u32(); rank > 0; rank-- {
			id := int(r.u32())
			if id < 0 || id >= len(dimSizes) {
				return nil, fmt.Errorf("netcdf: variable %s references unknown dim %d", name, id)
			}
			cells *= dimSizes[id]
		}
		vattrs, err := r.attrList()
		if err != nil {
			return nil, err
		}
		typ := r.u32()
		r.u32() // vsize, recomputed
		begin := int(r.u32())
		v := NCVariable{Attrs: vattrs}
		switch typ {
		case ncTypeDouble:
			if begin+cells*8 > len(raw) {
				return nil, fmt.Errorf("netcdf: variable %s data out of range", name)
			}
			v.Doubles = make([]float64, cells)
			for i := 0; i < cells; i++ {
				v.Doubles[i] = f64be(raw[begin+i*8:])
			}
		case ncTypeInt:
			if begin+cells*4 > len(raw) {
				return nil, fmt.Errorf("netcdf: variable %s data out of range", name)
			}
			v.Ints = make([]int32, cells)
			for i := 0; i < cells; i++ {
				v.Ints[i] = int32(binary.BigEndian.Uint32(raw[begin+i*4:]))
			}
		default:
			return nil, fmt.Errorf("netcdf: variable %s has unsupported type %d", name, typ)
		}
		f.Vars[name] = v
	}
	return f, nil
}

type ncReader struct {
	buf []byte
	off int
}

func (r *ncReader) take(n int) []byte {
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *ncReader) u32() uint32 {
	return binary.BigEndian.Uint32(r.take(4))
}

func (r *ncReader) name() string {
	n := int(r.u32())
	s := string(r.take(n))
	r.off = int(pad4(uint32(r.off)))
	return s
}

func (r *ncReader) attrList() (map[string]NCValue, error) {
	out := map[string]NCValue{}
	tag := r.u32()
	n := r.u32()
	if tag == 0 || n == 0 {
		return out, nil
	}
	if tag != ncAttributeTag {
		return nil, fmt.Errorf("netcdf: expected attr list, got tag %#x", tag)
	}
	for ; n > 0; n-- {
		name := r.name()
		typ := r.u32()
		count := int(r.u32())
		var v NCValue
		switch typ {
		case ncTypeChar:
			v.Str = string(r.take(count))
			r.off = int(pad4(uint32(r.off)))
		case ncTypeDouble:
			v.Doubles = make([]float64, count)
			for i := 0; i < count; i++ {
				v.Doubles[i] = f64be(r.take(8))
			}
		case ncTypeInt:
			v.Ints = make([]int32, count)
			for i := 0; i < count; i++ {
				v.Ints[i] = int32(r.u32())
			}
			r.off = int(pad4(uint32(r.off)))
		default:
			return nil, fmt.Errorf("netcdf: attribute %s has unsupported type %d", name, typ)
		}
		out[name] = v
	}
	return out, nil
}
