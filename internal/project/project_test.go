package project

import (
	"math"
	"strings"
	"testing"

	"github.com/tritonminingco/open-ocean-mapper/internal/sounding"
)

func dsFrom(points ...[2]float64) *sounding.Dataset {
	ds := &sounding.Dataset{}
	for _, p := range points {
		ds.Records = append(ds.Records, sounding.SoundingRecord{Lat: p[0], Lon: p[1], Depth: 100})
	}
	return ds
}

// Reference value: UTM zone 31N at the zone origin crossing. Equator at
// the central meridian (3°E) must land on (500000, 0).
func TestUTMCentralMeridian(t *testing.T) {
	x, y, err := (utm{zone: 31}).Forward(0, 3)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	if math.Abs(x-500000) > 0.01 || math.Abs(y) > 0.01 {
		t.Fatalf("central meridian: got (%.2f, %.2f), want (500000, 0)", x, y)
	}
}

// Spot check against published UTM coordinates: 52°N 7°E is zone 32,
// easting ~363385.7, northing ~5763302.
func TestUTMKnownPoint(t *testing.T) {
	x, y, err := (utm{zone: 32}).Forward(52, 7)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	if math.Abs(x-363385.7) > 1.0 {
		t.Fatalf("easting %.1f, want ~363385.7", x)
	}
	if math.Abs(y-5763302) > 2.0 {
		t.Fatalf("northing %.1f, want ~5763302", y)
	}
}

func TestWebMercatorEquator(t *testing.T) {
	x, y, err := (webMercator{}).Forward(0, 90)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	want := wgs84A * math.Pi / 2
	if math.Abs(x-want) > 0.01 || math.Abs(y) > 0.01 {
		t.Fatalf("got (%.1f, %.1f), want (%.1f, 0)", x, y, want)
	}
}

func TestPolarPointsFlaggedNotClipped(t *testing.T) {
	ds := dsFrom([2]float64{89.5, 10}, [2]float64{45, 10})
	res, err := Reproject(ds, "epsg:3857")
	if err != nil {
		t.Fatalf("reproject failed: %v", err)
	}
	if res.Failed != 1 {
		t.Fatalf("want 1 failed record, got %d", res.Failed)
	}
	if !ds.Records[0].Invalid {
		t.Fatalf("polar record not flagged invalid")
	}
	if !strings.Contains(ds.Records[0].InvalidReason, "latitude") {
		t.Fatalf("unexpected reason: %s", ds.Records[0].InvalidReason)
	}
	if !ds.Records[1].Projected {
		t.Fatalf("valid record not projected")
	}
}

func TestAutoUTMPicksCentroidZone(t *testing.T) {
	ds := dsFrom([2]float64{52, 7.1}, [2]float64{52.01, 7.2})
	crs, err := Resolve("auto-utm", ds)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if crs.ID() != "epsg:32632" {
		t.Fatalf("centroid at 7°E should pick zone 32N, got %s", crs.ID())
	}

	south := dsFrom([2]float64{-40, 7.1})
	crs, err = Resolve("auto-utm", south)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if crs.ID() != "epsg:32732" {
		t.Fatalf("southern centroid should pick 327xx, got %s", crs.ID())
	}
}

// A survey straddling ±180 must be unwrapped, not projected as a
// 359-degree-wide monster.
func TestAntimeridianUnwrap(t *testing.T) {
	ds := dsFrom([2]float64{-17, 179.9}, [2]float64{-17, -179.9})
	if !unwrapAntimeridian(ds) {
		t.Fatalf("antimeridian crossing not detected")
	}
	res, err := Reproject(ds, "auto-utm")
	if err != nil {
		t.Fatalf("reproject failed: %v", err)
	}
	if res.Failed != 0 {
		t.Fatalf("unwrapped survey should project cleanly, %d failed", res.Failed)
	}
	// Both points sit near the zone 1/60 boundary; after unwrapping they
	// must land within ~25 km of each other, not half the world apart.
	dx := ds.Records[0].X - ds.Records[1].X
	dy := ds.Records[0].Y - ds.Records[1].Y
	if d := math.Hypot(dx, dy); d > 25000 {
		t.Fatalf("antimeridian neighbours %.0f m apart after projection", d)
	}
}

func TestNoUnwrapForOrdinarySurvey(t *testing.T) {
	ds := dsFrom([2]float64{10, -120}, [2]float64{10, 60})
	// Span is 180°, genuinely wide; unwrapping would not shrink it.
	if unwrapAntimeridian(ds) {
		t.Fatalf("wide survey wrongly treated as antimeridian crossing")
	}
}

func TestUnsupportedCRS(t *testing.T) {
	if _, err := Resolve("epsg:99999", dsFrom([2]float64{0, 0})); err == nil {
		t.Fatalf("unsupported CRS accepted")
	}
}

func TestInvalidRecordsSkipped(t *testing.T) {
	ds := dsFrom([2]float64{45, 10})
	var bad sounding.SoundingRecord
	bad.MarkInvalid("parser said no")
	ds.Records = append(ds.Records, bad)
	res, err := Reproject(ds, "epsg:32632")
	if err != nil {
		t.Fatalf("reproject failed: %v", err)
	}
	if res.Failed != 0 {
		t.Fatalf("already-invalid records must not count as projection failures")
	}
	if ds.Records[1].Projected {
		t.Fatalf("invalid record should not be projected")
	}
}
