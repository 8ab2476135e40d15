package formats

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tritonminingco/open-ocean-mapper/internal/sounding"
)

// canonical column names used across all delimited variants.
const (
	colTimestamp = "timestamp"
	colLatitude  = "latitude"
	colLongitude = "longitude"
	colDepth     = "depth"
	colElevation = "elevation"
	colBeamAngle = "beam_angle"
	colQuality   = "quality"
	colIntensity = "intensity"
	colVesselID  = "vessel_id"
	colHeading   = "heading"
	colPitch     = "pitch"
	colRoll      = "roll"
	colVelocity  = "velocity"
)

// columnAliases maps lower-cased header names to canonical columns.
// Shared by every variant; variants may extend it.
var columnAliases = map[string]string{
	"time": colTimestamp, "datetime": colTimestamp, "utc": colTimestamp,
	"lat": colLatitude, "y": colLatitude, "northing": colLatitude,
	"lon": colLongitude, "lng": colLongitude, "x": colLongitude, "easting": colLongitude,
	"z": colDepth,
	"beam": colBeamAngle, "angle": colBeamAngle,
	"qual": colQuality, "quality_factor": colQuality,
	"backscatter": colIntensity, "int": colIntensity,
	"alt": colElevation, "altitude": colElevation, "height": colElevation,
	"vessel": colVesselID, "vessel_name": colVesselID, "platform_id": colVesselID,
	"hdg": colHeading, "course": colHeading,
	"speed": colVelocity, "sog": colVelocity,
}

// rowDecoder lets a variant translate one canonical row into a record
// after the shared fields (time, position, depth) have been set.
type rowDecoder func(row map[string]string, rec *sounding.SoundingRecord) error

// tableSpec describes one delimited-text sensor variant.
type tableSpec struct {
	sensor   sounding.SensorType
	required []string // canonical columns that must be present in the header
	decode   rowDecoder
}

// parseTable reads a delimited file (comma or tab, chosen from the
// header line) into a canonical dataset. Records that fail field-level
// validation are retained flagged invalid; only a header-level problem
// or a file with zero parseable records is fatal.
func parseTable(ctx context.Context, r io.Reader, name string, spec tableSpec) (*sounding.Dataset, error) {
	br := bufio.NewReader(r)
	headerLine, err := br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, &EncodingError{Name: name, Offset: 0, Msg: err.Error()}
	}
	if !utf8.ValidString(headerLine) {
		return nil, &EncodingError{Name: name, Offset: invalidUTF8Offset(headerLine), Msg: "header is not valid UTF-8"}
	}
	headerLine = strings.TrimRight(headerLine, "\r\n")
	if strings.TrimSpace(headerLine) == "" {
		return nil, &FormatError{Name: name, Line: 1, Msg: "empty header line"}
	}

	comma := ','
	if strings.Count(headerLine, "\t") > strings.Count(headerLine, ",") {
		comma = '\t'
	}

	// Map header positions to canonical column names.
	rawCols := strings.Split(headerLine, string(comma))
	cols := make([]string, len(rawCols))
	for i, c := range rawCols {
		c = strings.ToLower(strings.TrimSpace(c))
		if canon, ok := columnAliases[c]; ok {
			c = canon
		}
		cols[i] = c
	}
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[c] = true
	}
	var missing []string
	for _, req := range spec.required {
		if !have[req] {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return nil, &FormatError{Name: name, Line: 1, Msg: "missing required columns: " + strings.Join(missing, ", ")}
	}

	cr := csv.NewReader(br)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	ds := &sounding.Dataset{Meta: sounding.Meta{
		Sensor:     spec.sensor,
		SourceName: name,
		CRS:        "wgs84",
	}}

	line := 1
	for {
		if line%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				// A malformed row is a per-record problem, not a file-fatal one.
				ds.Records = append(ds.Records, invalidRow(perr.Error()))
				continue
			}
			return nil, &EncodingError{Name: name, Offset: -1, Msg: err.Error()}
		}
		row := make(map[string]string, len(cols))
		for i, f := range fields {
			if i < len(cols) {
				row[cols[i]] = strings.TrimSpace(f)
			}
		}
		rec := decodeRow(row, spec)
		if ds.Meta.VesselID == "" && rec.VesselID != "" {
			ds.Meta.VesselID = rec.VesselID
		}
		ds.Records = append(ds.Records, rec)
	}

	if parseable := countParseable(ds); parseable == 0 {
		return nil, &FormatError{Name: name, Msg: "no parseable records"}
	}
	ds.RecomputeBounds()
	return ds, nil
}

func invalidRow(reason string) sounding.SoundingRecord {
	var rec sounding.SoundingRecord
	rec.MarkInvalid(reason)
	return rec
}

func countParseable(ds *sounding.Dataset) int {
	n := 0
	for i := range ds.Records {
		if !ds.Records[i].Invalid {
			n++
		}
	}
	return n
}

// decodeRow builds one record from a canonical row. Field failures mark
// the record invalid rather than aborting the parse.
func decodeRow(row map[string]string, spec tableSpec) sounding.SoundingRecord {
	var rec sounding.SoundingRecord
	rec.Raw = make(map[string]string)

	if ts, ok := row[colTimestamp]; ok && ts != "" {
		t, err := parseTime(ts)
		if err != nil {
			rec.MarkInvalid("bad timestamp " + strconv.Quote(ts))
		} else {
			rec.Time = t
		}
	}

	var err error
	if rec.Lat, err = parseFloatField(row, colLatitude); err != nil {
		rec.MarkInvalid(err.Error())
	}
	if rec.Lon, err = parseFloatField(row, colLongitude); err != nil {
		rec.MarkInvalid(err.Error())
	}

	// LiDAR carries elevation above sea level; the canonical model wants
	// depth positive down.
	if _, usesElevation := row[colElevation]; usesElevation && spec.sensor == sounding.SensorLiDAR {
		elev, eerr := parseFloatField(row, colElevation)
		if eerr != nil {
			rec.MarkInvalid(eerr.Error())
		} else {
			rec.Depth = -elev
			rec.Raw["elevation"] = row[colElevation]
		}
	} else if rec.Depth, err = parseFloatField(row, colDepth); err != nil {
		rec.MarkInvalid(err.Error())
	}

	if v, ok := row[colBeamAngle]; ok && v != "" {
		if f, ferr := strconv.ParseFloat(v, 64); ferr == nil {
			rec.BeamAngleDeg = sounding.Float64Ptr(f)
		} else {
			rec.MarkInvalid("bad beam_angle " + strconv.Quote(v))
		}
	}
	if v, ok := row[colQuality]; ok && v != "" {
		if f, ferr := strconv.ParseFloat(v, 64); ferr == nil {
			rec.Quality = sounding.Float64Ptr(f)
		}
	}
	if v, ok := row[colIntensity]; ok && v != "" {
		if f, ferr := strconv.ParseFloat(v, 64); ferr == nil {
			rec.Intensity = sounding.Float64Ptr(f)
		}
	}
	rec.VesselID = row[colVesselID]

	if spec.decode != nil {
		if derr := spec.decode(row, &rec); derr != nil {
			rec.MarkInvalid(derr.Error())
		}
	}

	// Preserve columns the canonical model has no slot for.
	for k, v := range row {
		switch k {
		case colTimestamp, colLatitude, colLongitude, colDepth, colBeamAngle,
			colQuality, colIntensity, colVesselID:
		default:
			if v != "" {
				rec.Raw[k] = v
			}
		}
	}

	if !rec.Invalid {
		rec.CheckBounds() // tags invalid on violation, never drops
	}
	return rec
}

func parseFloatField(row map[string]string, col string) (float64, error) {
	v, ok := row[col]
	if !ok || v == "" {
		return 0, errors.New("missing " + col)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.New("bad " + col + " " + strconv.Quote(v))
	}
	return f, nil
}

// parseTime accepts RFC3339, a space-separated variant, and fractional
// unix seconds, matching the source recorders seen in the field.
func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		sec := int64(secs)
		nanos := int64((secs - float64(sec)) * 1e9)
		return time.Unix(sec, nanos).UTC(), nil
	}
	return time.Time{}, errors.New("unrecognised timestamp layout")
}

func invalidUTF8Offset(s string) int64 {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			return int64(i)
		}
		i += size
	}
	return -1
}
