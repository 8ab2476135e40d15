// Package qc scores and flags canonical sounding records. The
// deterministic rule set is the semantics of record; the anomaly model
// is an enrichment consumed through a narrow scoring boundary and the
// engine functions identically with it absent.
package qc

import (
	"math"
	"sort"

	"github.com/tritonminingco/open-ocean-mapper/internal/sounding"
)

// Rule is one deterministic check. Check returns true when the record
// at index i violates the rule; Severity weighs the violation into the
// composite score.
type Rule struct {
	Code     string
	Severity float64
	Check    func(i int, ds *sounding.Dataset) bool
}

// Plausible ocean depth ceiling in metres; beyond Challenger Deep with
// margin.
const maxPlausibleDepth = 11500.0

// windowRadius is the neighbourhood used by the consistency check.
const windowRadius = 5

// DefaultRules returns the standard rule set in evaluation order. Rule
// codes follow the survey QC vocabulary so reports stay comparable
// across toolchains.
func DefaultRules() []Rule {
	return []Rule{
		{
			Code: "record_invalid_check", Severity: 1.0,
			Check: func(i int, ds *sounding.Dataset) bool {
				return ds.Records[i].Invalid
			},
		},
		{
			Code: "latitude_range_check", Severity: 1.0,
			Check: func(i int, ds *sounding.Dataset) bool {
				lat := ds.Records[i].Lat
				return math.IsNaN(lat) || lat < -90 || lat > 90
			},
		},
		{
			Code: "longitude_range_check", Severity: 1.0,
			Check: func(i int, ds *sounding.Dataset) bool {
				lon := ds.Records[i].Lon
				return math.IsNaN(lon) || lon < -180 || lon > 180
			},
		},
		{
			Code: "depth_range_check", Severity: 1.0,
			Check: func(i int, ds *sounding.Dataset) bool {
				d := ds.Records[i].Depth
				return math.IsNaN(d) || d < 0 || d > maxPlausibleDepth
			},
		},
		{
			Code: "beam_angle_range_check", Severity: 0.8,
			Check: func(i int, ds *sounding.Dataset) bool {
				b := ds.Records[i].BeamAngleDeg
				return b != nil && (*b < -90 || *b > 90)
			},
		},
		{
			Code: "quality_floor_check", Severity: 0.4,
			Check: func(i int, ds *sounding.Dataset) bool {
				q := ds.Records[i].Quality
				return q != nil && (*q < 0 || *q > 100)
			},
		},
		{
			Code: "timestamp_monotonic_check", Severity: 0.4,
			Check: func(i int, ds *sounding.Dataset) bool {
				if i == 0 {
					return false
				}
				cur, prev := ds.Records[i].Time, ds.Records[i-1].Time
				if cur.IsZero() || prev.IsZero() {
					return false
				}
				return cur.Before(prev)
			},
		},
		{
			// Outer beams at abyssal depth imply slant ranges the
			// transducer cannot resolve; flag the combination.
			Code: "beam_depth_consistency_check", Severity: 0.6,
			Check: func(i int, ds *sounding.Dataset) bool {
				r := &ds.Records[i]
				return r.BeamAngleDeg != nil && math.Abs(*r.BeamAngleDeg) > 75 && r.Depth > 6000
			},
		},
		{
			Code: "depth_consistency_check", Severity: 0.6,
			Check: func(i int, ds *sounding.Dataset) bool {
				med, ok := windowMedianDepth(ds, i, windowRadius)
				if !ok {
					return false
				}
				return math.Abs(ds.Records[i].Depth-med) > 500
			},
		},
		{
			Code: "motion_range_check", Severity: 0.5,
			Check: func(i int, ds *sounding.Dataset) bool {
				m := ds.Records[i].Motion
				if m == nil {
					return false
				}
				return m.HeadingDeg < 0 || m.HeadingDeg >= 360 ||
					math.Abs(m.PitchDeg) > 45 || math.Abs(m.RollDeg) > 60 ||
					m.VelocityMps < 0 || m.VelocityMps > 20
			},
		},
	}
}

// windowMedianDepth returns the median depth of valid neighbours within
// radius of i, excluding i itself. ok is false when fewer than three
// neighbours exist; a consistency call needs some context to judge.
func windowMedianDepth(ds *sounding.Dataset, i, radius int) (float64, bool) {
	lo, hi := i-radius, i+radius
	if lo < 0 {
		lo = 0
	}
	if hi >= len(ds.Records) {
		hi = len(ds.Records) - 1
	}
	depths := make([]float64, 0, hi-lo)
	for j := lo; j <= hi; j++ {
		if j == i || ds.Records[j].Invalid {
			continue
		}
		depths = append(depths, ds.Records[j].Depth)
	}
	if len(depths) < 3 {
		return 0, false
	}
	sort.Float64s(depths)
	n := len(depths)
	if n%2 == 1 {
		return depths[n/2], true
	}
	return (depths[n/2-1] + depths[n/2]) / 2, true
}
