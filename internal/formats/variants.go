package formats

import (
	"context"
	"errors"
	"io"
	"strconv"

	"github.com/tritonminingco/open-ocean-mapper/internal/sounding"
)

// tableParser is the delimited-text implementation shared by all
// current variants; binary recorders would implement Parser directly.
type tableParser struct {
	spec tableSpec
}

func (p *tableParser) Sensor() sounding.SensorType { return p.spec.sensor }

func (p *tableParser) Parse(ctx context.Context, r io.Reader, name string) (*sounding.Dataset, error) {
	return parseTable(ctx, r, name, p.spec)
}

func init() {
	// Multi-beam echo sounder: fan of beams per ping, beam geometry is
	// part of the record, not optional metadata.
	Register(&tableParser{spec: tableSpec{
		sensor:   sounding.SensorMBES,
		required: []string{colTimestamp, colLatitude, colLongitude, colDepth},
		decode: func(row map[string]string, rec *sounding.SoundingRecord) error {
			if v, ok := row[colBeamAngle]; ok && v != "" && rec.BeamAngleDeg != nil {
				if *rec.BeamAngleDeg < -90 || *rec.BeamAngleDeg > 90 {
					return errors.New("beam_angle " + v + " out of range [-90,90]")
				}
			}
			return nil
		},
	}})

	// Single-beam echo sounder: one nadir beam, optional transducer
	// frequency preserved as raw metadata.
	Register(&tableParser{spec: tableSpec{
		sensor:   sounding.SensorSBES,
		required: []string{colTimestamp, colLatitude, colLongitude, colDepth},
	}})

	// Topo-bathy LiDAR: elevation above sea level, negated to canonical
	// depth by the shared decoder.
	Register(&tableParser{spec: tableSpec{
		sensor:   sounding.SensorLiDAR,
		required: []string{colTimestamp, colLatitude, colLongitude, colElevation},
	}})

	// AUV telemetry: navigation plus attitude; attitude is folded into
	// VesselMotion so QC can use it for consistency checks.
	Register(&tableParser{spec: tableSpec{
		sensor:   sounding.SensorAUV,
		required: []string{colTimestamp, colLatitude, colLongitude, colDepth},
		decode:   decodeMotion,
	}})

	// Generic single-beam: the minimal canonical columns only.
	Register(&tableParser{spec: tableSpec{
		sensor:   sounding.SensorSinglebeam,
		required: []string{colTimestamp, colLatitude, colLongitude, colDepth},
	}})
}

func decodeMotion(row map[string]string, rec *sounding.SoundingRecord) error {
	var m sounding.VesselMotion
	got := false
	set := func(col string, dst *float64) error {
		v, ok := row[col]
		if !ok || v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.New("bad " + col + " " + strconv.Quote(v))
		}
		*dst = f
		got = true
		return nil
	}
	for _, c := range []struct {
		col string
		dst *float64
	}{
		{colHeading, &m.HeadingDeg},
		{colPitch, &m.PitchDeg},
		{colRoll, &m.RollDeg},
		{colVelocity, &m.VelocityMps},
	} {
		if err := set(c.col, c.dst); err != nil {
			return err
		}
	}
	if got {
		rec.Motion = &m
	}
	return nil
}
