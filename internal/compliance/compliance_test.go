package compliance

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"testing"
	"time"

	"github.com/tritonminingco/open-ocean-mapper/internal/export"
	"github.com/tritonminingco/open-ocean-mapper/internal/grid"
	"github.com/tritonminingco/open-ocean-mapper/internal/httputil"
	"github.com/tritonminingco/open-ocean-mapper/internal/sounding"
)

func exportedArtifact(t *testing.T) *export.Artifact {
	t.Helper()
	g := &grid.Grid{CellSize: 10, OriginX: 500000, OriginY: 5700000, Width: 2, Height: 2, CRS: "epsg:32631"}
	g.Elevation = []float64{100, 110, math.NaN(), 120}
	g.Uncertainty = []float64{0.25, 0.8, 0, 0.25}
	g.Count = []int32{1, 3, 0, 1}
	g.Filled = make([]bool, 4)
	prov := export.Provenance{
		JobID:       "ab12cd34",
		Source:      "survey_0001.csv",
		Sensor:      "mbes",
		GeneratedAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Converter:   "oomapper/1.0",
		CRS:         "epsg:32631",
		Bounds:      sounding.Bounds{MinLat: 51.4, MaxLat: 51.5, MinLon: 2.9, MaxLon: 3.0},
		QCMode:      "auto",
		Anonymized:  true,
	}
	art, err := export.Export(context.Background(), g, nil, prov, export.FormatNetCDF, t.TempDir())
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	return art
}

func TestValidatePasses(t *testing.T) {
	rep := Validate(exportedArtifact(t))
	if !rep.OK {
		t.Fatalf("valid artifact rejected: %v", rep.Problems)
	}
}

func TestValidateCatchesMissingFields(t *testing.T) {
	art := exportedArtifact(t)
	art.Provenance.JobID = ""
	art.Provenance.CRS = ""
	rep := Validate(art)
	if rep.OK || len(rep.Problems) != 2 {
		t.Fatalf("want 2 problems, got %v", rep.Problems)
	}
}

func TestValidateCatchesChecksumMismatch(t *testing.T) {
	art := exportedArtifact(t)
	if err := os.WriteFile(art.Path, []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}
	rep := Validate(art)
	if rep.OK {
		t.Fatalf("tampered artifact passed validation")
	}
}

func TestValidateCatchesBadBounds(t *testing.T) {
	art := exportedArtifact(t)
	art.Provenance.Bounds.MinLat = 60
	art.Provenance.Bounds.MaxLat = 50
	if rep := Validate(art); rep.OK {
		t.Fatalf("inverted bounds passed validation")
	}
}

// Parity is the defining contract of dry run: the staged bytes must be
// identical whether or not transmission would follow.
func TestDryRunParity(t *testing.T) {
	art := exportedArtifact(t)
	dry, err := StagePackage(art, t.TempDir(), true)
	if err != nil {
		t.Fatalf("dry-run staging failed: %v", err)
	}
	wet, err := StagePackage(art, t.TempDir(), false)
	if err != nil {
		t.Fatalf("staging failed: %v", err)
	}
	a, err := os.ReadFile(dry.Path)
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(wet.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("dry-run package differs from submission package (%d vs %d bytes)", len(a), len(b))
	}
	if dry.SHA256 != wet.SHA256 {
		t.Fatalf("package checksums differ across dry run")
	}
	if !dry.DryRun || wet.DryRun {
		t.Fatalf("dry-run flags wrong: %v %v", dry.DryRun, wet.DryRun)
	}
}

func TestPackageContents(t *testing.T) {
	art := exportedArtifact(t)
	pkg, err := StagePackage(art, t.TempDir(), true)
	if err != nil {
		t.Fatalf("staging failed: %v", err)
	}
	zr, err := zip.OpenReader(pkg.Path)
	if err != nil {
		t.Fatalf("package unreadable: %v", err)
	}
	defer zr.Close()

	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	for _, want := range []string{"manifest.json", "payload.json"} {
		if !names[want] {
			t.Fatalf("package missing %s, has %v", want, names)
		}
	}
	if len(zr.File) != 3 {
		t.Fatalf("want 3 entries, got %d", len(zr.File))
	}

	var pay payload
	for _, f := range zr.File {
		if f.Name != "payload.json" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		if err := json.NewDecoder(rc).Decode(&pay); err != nil {
			t.Fatalf("payload unparseable: %v", err)
		}
		rc.Close()
	}
	if pay.SurveyID != "ab12cd34" || pay.ChecksumSHA256 != art.SHA256 {
		t.Fatalf("payload wrong: %+v", pay)
	}
	if !pay.Anonymized || pay.QCMode != "auto" {
		t.Fatalf("processing flags lost: %+v", pay)
	}
}

func TestStageRefusesInvalidArtifact(t *testing.T) {
	art := exportedArtifact(t)
	art.Provenance.Sensor = ""
	if _, err := StagePackage(art, t.TempDir(), true); err == nil {
		t.Fatalf("unsubmittable artifact staged")
	}
}

func TestHTTPSubmitter(t *testing.T) {
	art := exportedArtifact(t)
	pkg, err := StagePackage(art, t.TempDir(), false)
	if err != nil {
		t.Fatal(err)
	}
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, `{"submission_id":"SUB-9","accepted_at":"2026-03-14T10:00:00Z"}`)
	rec, err := NewHTTPSubmitter("http://registry.example/intake", mock).Submit(context.Background(), pkg)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if rec.SubmissionID != "SUB-9" {
		t.Fatalf("receipt = %+v", rec)
	}
	if mock.Requests[0].Header.Get("X-Package-SHA256") != pkg.SHA256 {
		t.Fatalf("package checksum header missing")
	}
}

func TestHTTPSubmitterRejectsDryRun(t *testing.T) {
	art := exportedArtifact(t)
	pkg, err := StagePackage(art, t.TempDir(), true)
	if err != nil {
		t.Fatal(err)
	}
	_, err = NewHTTPSubmitter("http://registry.example/intake", httputil.NewMockHTTPClient()).
		Submit(context.Background(), pkg)
	if err == nil {
		t.Fatalf("dry-run package transmitted")
	}
	if _, ok := err.(*SubmissionError); !ok {
		t.Fatalf("want *SubmissionError, got %T", err)
	}
}

func TestHTTPSubmitterServerError(t *testing.T) {
	art := exportedArtifact(t)
	pkg, err := StagePackage(art, t.TempDir(), false)
	if err != nil {
		t.Fatal(err)
	}
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(500, "intake offline")
	_, err = NewHTTPSubmitter("http://registry.example/intake", mock).Submit(context.Background(), pkg)
	var serr *SubmissionError
	if !errors.As(err, &serr) {
		t.Fatalf("want *SubmissionError, got %v", err)
	}
}
