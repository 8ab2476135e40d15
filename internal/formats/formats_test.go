package formats

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tritonminingco/open-ocean-mapper/internal/sounding"
)

const mbesCSV = `timestamp,latitude,longitude,depth,beam_angle,quality,vessel_id
2025-06-01T12:00:00Z,10.5,-45.2,1500.3,12.5,87,RV-ATLANTIS
2025-06-01T12:00:01Z,10.5001,-45.2001,1501.1,-8.0,91,RV-ATLANTIS
2025-06-01T12:00:02Z,10.5002,-45.2002,1499.7,0.0,88,RV-ATLANTIS
`

func TestParseMBES(t *testing.T) {
	ds, err := Parse(context.Background(), strings.NewReader(mbesCSV), "survey.csv", sounding.SensorMBES)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got := len(ds.Records); got != 3 {
		t.Fatalf("expected 3 records, got %d", got)
	}
	r := ds.Records[0]
	if r.Depth != 1500.3 || r.Lat != 10.5 {
		t.Fatalf("unexpected first record: %+v", r)
	}
	if r.BeamAngleDeg == nil || *r.BeamAngleDeg != 12.5 {
		t.Fatalf("beam angle not decoded")
	}
	if ds.Meta.VesselID != "RV-ATLANTIS" {
		t.Fatalf("vessel id not captured, got %q", ds.Meta.VesselID)
	}
	if ds.Meta.Bounds.MinDepth != 1499.7 || ds.Meta.Bounds.MaxDepth != 1501.1 {
		t.Fatalf("bounds wrong: %+v", ds.Meta.Bounds)
	}
}

// A latitude of 95 violates the canonical invariant; the record must be
// retained flagged invalid, never dropped.
func TestParseRetainsInvalidLatitude(t *testing.T) {
	csv := "timestamp,latitude,longitude,depth\n" +
		"2025-06-01T12:00:00Z,95.0,10.0,100\n" +
		"2025-06-01T12:00:01Z,45.0,10.0,101\n"
	ds, err := Parse(context.Background(), strings.NewReader(csv), "bad.csv", sounding.SensorSinglebeam)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(ds.Records) != 2 {
		t.Fatalf("invalid record was dropped: %d records", len(ds.Records))
	}
	if !ds.Records[0].Invalid {
		t.Fatalf("record with latitude=95 not flagged invalid")
	}
	if !strings.Contains(ds.Records[0].InvalidReason, "latitude") {
		t.Fatalf("unexpected reason %q", ds.Records[0].InvalidReason)
	}
	if ds.Records[1].Invalid {
		t.Fatalf("valid record wrongly flagged")
	}
	if ds.ValidCount() != 1 {
		t.Fatalf("ValidCount = %d, want 1", ds.ValidCount())
	}
}

func TestParseZeroRecordsIsFatal(t *testing.T) {
	csv := "timestamp,latitude,longitude,depth\nnot-a-time,bogus,bogus,bogus\n"
	_, err := Parse(context.Background(), strings.NewReader(csv), "empty.csv", sounding.SensorSinglebeam)
	var ferr *FormatError
	if !errors.As(err, &ferr) {
		t.Fatalf("expected FormatError for zero parseable records, got %v", err)
	}
}

func TestParseMissingColumns(t *testing.T) {
	csv := "timestamp,latitude\n2025-06-01T12:00:00Z,10\n"
	_, err := Parse(context.Background(), strings.NewReader(csv), "short.csv", sounding.SensorMBES)
	var ferr *FormatError
	if !errors.As(err, &ferr) {
		t.Fatalf("expected FormatError, got %v", err)
	}
	if !strings.Contains(ferr.Msg, "longitude") || !strings.Contains(ferr.Msg, "depth") {
		t.Fatalf("missing columns not named: %v", ferr)
	}
}

func TestLiDARElevationNegatedToDepth(t *testing.T) {
	csv := "timestamp,latitude,longitude,elevation\n2025-06-01T12:00:00Z,60.0,5.0,-42.5\n"
	ds, err := Parse(context.Background(), strings.NewReader(csv), "cloud.csv", sounding.SensorLiDAR)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if ds.Records[0].Depth != 42.5 {
		t.Fatalf("elevation -42.5 should become depth 42.5, got %v", ds.Records[0].Depth)
	}
	if ds.Records[0].Raw["elevation"] != "-42.5" {
		t.Fatalf("raw elevation not preserved")
	}
}

func TestAUVMotionDecoded(t *testing.T) {
	csv := "timestamp,latitude,longitude,depth,heading,pitch,roll,velocity\n" +
		"2025-06-01T12:00:00Z,12.0,33.0,250,181.5,-2.0,0.5,1.8\n"
	ds, err := Parse(context.Background(), strings.NewReader(csv), "auv.csv", sounding.SensorAUV)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	m := ds.Records[0].Motion
	if m == nil || m.HeadingDeg != 181.5 || m.VelocityMps != 1.8 {
		t.Fatalf("motion not decoded: %+v", m)
	}
}

func TestSniffFallback(t *testing.T) {
	cases := []struct {
		header string
		want   sounding.SensorType
	}{
		{"timestamp,latitude,longitude,elevation,intensity", sounding.SensorLiDAR},
		{"timestamp,latitude,longitude,depth,heading,pitch,roll", sounding.SensorAUV},
		{"timestamp,latitude,longitude,depth,beam_angle", sounding.SensorMBES},
		{"timestamp,latitude,longitude,depth", sounding.SensorSinglebeam},
	}
	for _, tc := range cases {
		if got := sniffHeader(tc.header); got != tc.want {
			t.Errorf("sniff(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}

func TestSniffedParse(t *testing.T) {
	ds, err := Parse(context.Background(), strings.NewReader(mbesCSV), "survey.csv", sounding.SensorUnknown)
	if err != nil {
		t.Fatalf("sniffed parse failed: %v", err)
	}
	if ds.Meta.Sensor != sounding.SensorMBES {
		t.Fatalf("sniffed sensor = %q, want mbes", ds.Meta.Sensor)
	}
}

func TestTabSeparated(t *testing.T) {
	tsv := "timestamp\tlat\tlon\tdepth\n2025-06-01T12:00:00Z\t1.0\t2.0\t3.0\n"
	ds, err := Parse(context.Background(), strings.NewReader(tsv), "survey.txt", sounding.SensorSinglebeam)
	if err != nil {
		t.Fatalf("tsv parse failed: %v", err)
	}
	if ds.Records[0].Lon != 2.0 {
		t.Fatalf("alias columns not mapped for tsv")
	}
}

func TestUnixTimestamps(t *testing.T) {
	csv := "timestamp,latitude,longitude,depth\n1717243200.5,1,2,3\n"
	ds, err := Parse(context.Background(), strings.NewReader(csv), "unix.csv", sounding.SensorSinglebeam)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if ds.Records[0].Time.Unix() != 1717243200 {
		t.Fatalf("unix timestamp not decoded: %v", ds.Records[0].Time)
	}
}
