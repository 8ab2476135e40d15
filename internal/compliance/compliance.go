// Package compliance prepares exported artifacts for the external
// mapping registry: validation of required metadata, deterministic
// submission packaging, and a pluggable submitter. Staging a dry run
// produces bytes identical to a real submission's pre-transmission
// package; only the final transmission differs.
package compliance

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tritonminingco/open-ocean-mapper/internal/export"
	"github.com/tritonminingco/open-ocean-mapper/internal/httputil"
	"github.com/tritonminingco/open-ocean-mapper/internal/monitoring"
)

// Report is the outcome of pre-submission validation. Problems is empty
// when the artifact is submittable.
type Report struct {
	OK       bool
	Problems []string
}

func (r *Report) problem(format string, a ...any) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, a...))
}

// Validate checks required-field presence, coordinate conformance, and
// checksum integrity of an exported artifact.
func Validate(art *export.Artifact) *Report {
	rep := &Report{}
	p := art.Provenance
	if p.JobID == "" {
		rep.problem("missing job id")
	}
	if p.Source == "" {
		rep.problem("missing source name")
	}
	if p.Sensor == "" {
		rep.problem("missing sensor type")
	}
	if p.GeneratedAt.IsZero() {
		rep.problem("missing generation timestamp")
	}
	if p.CRS == "" {
		rep.problem("missing CRS")
	}
	if _, err := export.ParseFormat(string(art.Format)); err != nil || art.Format == "" {
		rep.problem("unknown artifact format %q", art.Format)
	}
	b := p.Bounds
	switch {
	case b.MinLat > b.MaxLat || b.MinLon > b.MaxLon:
		rep.problem("inverted survey bounds")
	case b.MinLat < -90 || b.MaxLat > 90 || b.MinLon < -180 || b.MaxLon > 180:
		rep.problem("survey bounds outside geodetic range")
	}

	if art.Path == "" {
		rep.problem("missing artifact path")
	} else if sum, err := fileSHA256(art.Path); err != nil {
		rep.problem("artifact unreadable: %v", err)
	} else if sum != art.SHA256 {
		rep.problem("checksum mismatch: artifact on disk does not match descriptor")
	}

	rep.OK = len(rep.Problems) == 0
	return rep
}

// payload is the registry submission body, mirroring the fields the
// Seabed 2030 intake expects.
type payload struct {
	SurveyID       string   `json:"survey_id"`
	Format         string   `json:"format"`
	ChecksumSHA256 string   `json:"checksum_sha256"`
	GeneratedAt    string   `json:"generated_at"`
	Sensor         string   `json:"sensor"`
	CRS            string   `json:"crs"`
	BoundsMinLat   float64  `json:"bounds_min_lat"`
	BoundsMaxLat   float64  `json:"bounds_max_lat"`
	BoundsMinLon   float64  `json:"bounds_min_lon"`
	BoundsMaxLon   float64  `json:"bounds_max_lon"`
	Anonymized     bool     `json:"anonymized"`
	QCMode         string   `json:"qc_mode"`
	QCBypassed     bool     `json:"qc_bypassed"`
	Notes          []string `json:"notes,omitempty"`
}

// manifest lists the package contents with their checksums.
type manifest struct {
	Generator string            `json:"generator"`
	CreatedAt string            `json:"created_at"`
	Files     map[string]string `json:"files"` // name -> sha256
}

// Package is one staged submission. DryRun records intent only; the
// bytes on disk are identical either way.
type Package struct {
	Path   string
	SHA256 string
	Size   int64
	DryRun bool
}

// SubmissionError is fatal to the submission attempt only; the staged
// package and artifact remain valid for a retry.
type SubmissionError struct {
	Endpoint string
	Msg      string
	Err      error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("submission to %s failed: %s: %v", e.Endpoint, e.Msg, e.Err)
	}
	return fmt.Sprintf("submission to %s failed: %s", e.Endpoint, e.Msg)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// StagePackage builds the submission zip (payload.json, manifest.json,
// artifact) in dir. Every filesystem timestamp inside the archive comes
// from the artifact's provenance, so repeated staging of the same
// artifact is byte-identical, dry run or not.
func StagePackage(art *export.Artifact, dir string, dryRun bool) (*Package, error) {
	rep := Validate(art)
	if !rep.OK {
		return nil, fmt.Errorf("compliance: artifact not submittable: %v", rep.Problems)
	}

	artBytes, err := os.ReadFile(art.Path)
	if err != nil {
		return nil, err
	}
	p := art.Provenance
	pay, err := json.MarshalIndent(payload{
		SurveyID:       p.JobID,
		Format:         string(art.Format),
		ChecksumSHA256: art.SHA256,
		GeneratedAt:    p.GeneratedAt.UTC().Format(time.RFC3339),
		Sensor:         p.Sensor,
		CRS:            p.CRS,
		BoundsMinLat:   p.Bounds.MinLat,
		BoundsMaxLat:   p.Bounds.MaxLat,
		BoundsMinLon:   p.Bounds.MinLon,
		BoundsMaxLon:   p.Bounds.MaxLon,
		Anonymized:     p.Anonymized,
		QCMode:         p.QCMode,
		QCBypassed:     p.QCBypassed,
		Notes:          p.Notes,
	}, "", "  ")
	if err != nil {
		return nil, err
	}

	artName := filepath.Base(art.Path)
	man, err := json.MarshalIndent(manifest{
		Generator: p.Converter,
		CreatedAt: p.GeneratedAt.UTC().Format(time.RFC3339),
		Files: map[string]string{
			"payload.json": sha256Hex(pay),
			artName:        art.SHA256,
		},
	}, "", "  ")
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range []struct {
		name string
		data []byte
	}{
		{"manifest.json", man},
		{"payload.json", pay},
		{artName, artBytes},
	} {
		hdr := &zip.FileHeader{Name: f.name, Method: zip.Deflate, Modified: p.GeneratedAt.UTC()}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(f.data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, fmt.Sprintf("submission_%s.zip", p.JobID))
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return nil, err
	}
	monitoring.Logf("compliance: staged %s (%d bytes, dry_run=%v)", path, buf.Len(), dryRun)
	return &Package{
		Path:   path,
		SHA256: sha256Hex(buf.Bytes()),
		Size:   int64(buf.Len()),
		DryRun: dryRun,
	}, nil
}

// Receipt acknowledges an accepted submission.
type Receipt struct {
	SubmissionID string `json:"submission_id"`
	AcceptedAt   string `json:"accepted_at"`
}

// Submitter transmits a staged package. Out-of-process by design; the
// core never uploads on its own.
type Submitter interface {
	Submit(ctx context.Context, pkg *Package) (*Receipt, error)
}

// HTTPSubmitter posts staged packages to a registry intake endpoint.
type HTTPSubmitter struct {
	URL    string
	Client httputil.HTTPClient
}

// NewHTTPSubmitter builds a submitter; client may be nil for the
// standard one.
func NewHTTPSubmitter(url string, client httputil.HTTPClient) *HTTPSubmitter {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &HTTPSubmitter{URL: url, Client: client}
}

// Submit uploads the package. A dry-run package is never transmitted.
func (s *HTTPSubmitter) Submit(ctx context.Context, pkg *Package) (*Receipt, error) {
	if pkg.DryRun {
		return nil, &SubmissionError{Endpoint: s.URL, Msg: "refusing to transmit a dry-run package"}
	}
	f, err := os.Open(pkg.Path)
	if err != nil {
		return nil, &SubmissionError{Endpoint: s.URL, Msg: "package unreadable", Err: err}
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, f)
	if err != nil {
		return nil, &SubmissionError{Endpoint: s.URL, Msg: "bad request", Err: err}
	}
	req.Header.Set("Content-Type", "application/zip")
	req.Header.Set("X-Package-SHA256", pkg.SHA256)

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, &SubmissionError{Endpoint: s.URL, Msg: "transport", Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &SubmissionError{Endpoint: s.URL,
			Msg: fmt.Sprintf("registry answered %d: %.200s", resp.StatusCode, body)}
	}
	var rec Receipt
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, &SubmissionError{Endpoint: s.URL, Msg: "unparseable receipt", Err: err}
	}
	monitoring.Logf("compliance: submission %s accepted as %s", pkg.Path, rec.SubmissionID)
	return &rec, nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
