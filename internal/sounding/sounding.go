// Package sounding defines the canonical point model shared by every
// pipeline stage: one SoundingRecord per depth observation, an immutable
// QCAnnotation per record, and the Dataset that carries both through a
// single conversion job.
package sounding

import (
	"fmt"
	"math"
	"time"
)

// SensorType discriminates the format parser variant used for a dataset.
type SensorType string

const (
	SensorMBES       SensorType = "mbes"
	SensorSBES       SensorType = "sbes"
	SensorLiDAR      SensorType = "lidar"
	SensorAUV        SensorType = "auv"
	SensorSinglebeam SensorType = "singlebeam"
	SensorUnknown    SensorType = ""
)

// ValidSensorTypes lists the recognised sensor types in registry order.
func ValidSensorTypes() []SensorType {
	return []SensorType{SensorMBES, SensorSBES, SensorLiDAR, SensorAUV, SensorSinglebeam}
}

// VesselMotion holds optional platform attitude at observation time.
type VesselMotion struct {
	HeadingDeg  float64 `json:"heading_deg"`
	PitchDeg    float64 `json:"pitch_deg"`
	RollDeg     float64 `json:"roll_deg"`
	VelocityMps float64 `json:"velocity_mps"`
}

// SoundingRecord is one depth observation in the canonical model.
// Lat/Lon are WGS84 decimal degrees until reprojection, after which
// X/Y carry planar coordinates in the target CRS and Projected is set.
// Depth is metres, positive down.
type SoundingRecord struct {
	Time     time.Time
	Lat, Lon float64
	Depth    float64

	// Planar coordinates, populated by the reprojector.
	X, Y      float64
	Projected bool

	BeamAngleDeg *float64
	Quality      *float64 // signal quality 0..100
	Intensity    *float64 // backscatter, dB
	Motion       *VesselMotion

	// VesselID is cleared of identity by the anonymizer; empty before
	// anonymization means the source file carried no vessel field.
	VesselID string

	// Raw preserves format-specific fields as opaque side metadata.
	Raw map[string]string

	// Invalid marks records that failed field-level validation. Invalid
	// records are retained, never dropped, so downstream stages and the
	// job error summary can account for them.
	Invalid       bool
	InvalidReason string
}

// MarkInvalid flags the record without discarding it. The first reason
// wins; later failures are appended.
func (r *SoundingRecord) MarkInvalid(reason string) {
	if r.Invalid {
		r.InvalidReason = r.InvalidReason + "; " + reason
		return
	}
	r.Invalid = true
	r.InvalidReason = reason
}

// CheckBounds enforces the canonical invariants: latitude in [-90,90],
// longitude in [-180,180], depth >= 0. Violations mark the record
// invalid and are reported back for the job error summary.
func (r *SoundingRecord) CheckBounds() error {
	switch {
	case math.IsNaN(r.Lat) || r.Lat < -90 || r.Lat > 90:
		r.MarkInvalid(fmt.Sprintf("latitude %v out of range [-90,90]", r.Lat))
	case math.IsNaN(r.Lon) || r.Lon < -180 || r.Lon > 180:
		r.MarkInvalid(fmt.Sprintf("longitude %v out of range [-180,180]", r.Lon))
	case math.IsNaN(r.Depth) || r.Depth < 0:
		r.MarkInvalid(fmt.Sprintf("depth %v must be >= 0", r.Depth))
	default:
		return nil
	}
	return fmt.Errorf("record invalid: %s", r.InvalidReason)
}

// QCAnnotation is attached per record by the QC engine and is immutable
// once computed; downstream stages read but never overwrite it.
type QCAnnotation struct {
	Score        float64  // composite score in [0,1]
	RuleCodes    []string // triggered rule codes, in rule registry order
	AnomalyScore *float64 // model score, present only when the model path ran
	Passed       bool
	Bypassed     bool // true when qc_mode=skip; visible in provenance
}

// Bounds is the geodetic extent of a dataset.
type Bounds struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
	MinDepth       float64
	MaxDepth       float64
}

// Meta is dataset-level metadata carried alongside the records.
type Meta struct {
	Sensor     SensorType
	SourceName string
	VesselID   string
	Bounds     Bounds
	CRS        string // "wgs84" until reprojection
	Anonymized bool
}

// Dataset is the ordered sequence of records with aligned annotations.
// A Dataset is exclusively owned by one pipeline run for its duration.
type Dataset struct {
	Records     []SoundingRecord
	Annotations []QCAnnotation
	Meta        Meta
}

// ValidCount returns the number of records not flagged invalid.
func (d *Dataset) ValidCount() int {
	n := 0
	for i := range d.Records {
		if !d.Records[i].Invalid {
			n++
		}
	}
	return n
}

// Annotated reports whether QC annotations are present for every record.
func (d *Dataset) Annotated() bool {
	return len(d.Annotations) == len(d.Records) && len(d.Records) > 0
}

// RecomputeBounds refreshes Meta.Bounds from the valid records.
func (d *Dataset) RecomputeBounds() {
	b := Bounds{
		MinLat: math.MaxFloat64, MaxLat: -math.MaxFloat64,
		MinLon: math.MaxFloat64, MaxLon: -math.MaxFloat64,
		MinDepth: math.MaxFloat64, MaxDepth: -math.MaxFloat64,
	}
	seen := false
	for i := range d.Records {
		r := &d.Records[i]
		if r.Invalid {
			continue
		}
		seen = true
		b.MinLat = math.Min(b.MinLat, r.Lat)
		b.MaxLat = math.Max(b.MaxLat, r.Lat)
		b.MinLon = math.Min(b.MinLon, r.Lon)
		b.MaxLon = math.Max(b.MaxLon, r.Lon)
		b.MinDepth = math.Min(b.MinDepth, r.Depth)
		b.MaxDepth = math.Max(b.MaxDepth, r.Depth)
	}
	if !seen {
		b = Bounds{}
	}
	d.Meta.Bounds = b
}

// Float64Ptr is a convenience for optional fields.
func Float64Ptr(v float64) *float64 { return &v }
