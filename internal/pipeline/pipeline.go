// Package pipeline orchestrates one conversion job end to end: parse,
// QC, anonymize, reproject, grid, overlay, export, compliance staging.
// Stages run as an explicit state machine; every stage leaves a record
// in the result, skipped stages included, so provenance shows exactly
// what a given artifact went through.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tritonminingco/open-ocean-mapper/internal/anonymize"
	"github.com/tritonminingco/open-ocean-mapper/internal/catalog"
	"github.com/tritonminingco/open-ocean-mapper/internal/compliance"
	"github.com/tritonminingco/open-ocean-mapper/internal/config"
	"github.com/tritonminingco/open-ocean-mapper/internal/export"
	"github.com/tritonminingco/open-ocean-mapper/internal/formats"
	"github.com/tritonminingco/open-ocean-mapper/internal/grid"
	"github.com/tritonminingco/open-ocean-mapper/internal/monitoring"
	"github.com/tritonminingco/open-ocean-mapper/internal/overlay"
	"github.com/tritonminingco/open-ocean-mapper/internal/project"
	"github.com/tritonminingco/open-ocean-mapper/internal/qc"
	"github.com/tritonminingco/open-ocean-mapper/internal/sounding"
	"github.com/tritonminingco/open-ocean-mapper/internal/version"
)

// ConverterVersion is stamped into every artifact's provenance.
var ConverterVersion = version.Converter()

// Stage names the pipeline steps in execution order.
type Stage string

const (
	StageParse      Stage = "parse"
	StageQC         Stage = "qc"
	StageAnonymize  Stage = "anonymize"
	StageReproject  Stage = "reproject"
	StageGrid       Stage = "grid"
	StageOverlay    Stage = "overlay"
	StageExport     Stage = "export"
	StageCompliance Stage = "compliance"
)

// Status of one executed stage.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// StageRecord is the provenance entry for one stage.
type StageRecord struct {
	Stage    Stage
	Status   Status
	Duration time.Duration
	Detail   string
}

// PipelineError is a stage-fatal failure. LastCompleted names the last
// stage that finished, so callers know how far the job got.
type PipelineError struct {
	Stage         Stage
	LastCompleted Stage
	Err           error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline failed at %s (last completed: %s): %v", e.Stage, e.LastCompleted, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// ErrorSummary accumulates per-record problems that did not stop the
// job. A job with a non-empty summary completed with warnings.
type ErrorSummary struct {
	InvalidRecords     int
	QCFlagged          int
	QCDropped          int // strict mode only
	ProjectionFailures int
	ModelOutages       int
	OverlayFailures    []string
	Warnings           []string
}

// Empty reports whether the job completed without warnings.
func (s *ErrorSummary) Empty() bool {
	return s.InvalidRecords == 0 && s.QCFlagged == 0 && s.QCDropped == 0 &&
		s.ProjectionFailures == 0 && s.ModelOutages == 0 &&
		len(s.OverlayFailures) == 0 && len(s.Warnings) == 0
}

// Result is the outcome of one successful run. Dataset and Overlays
// are retained so callers can drive diagnostics (plots, QC reports)
// without re-running stages.
type Result struct {
	JobID     string
	Artifact  *export.Artifact
	Package   *compliance.Package
	Grid      *grid.Grid
	Dataset   *sounding.Dataset
	Overlays  map[string]overlay.Layer
	QCSummary *qc.Summary
	Stages    []StageRecord
	Summary   ErrorSummary
}

// run tracks the state machine for one job.
type run struct {
	res  *Result
	last Stage
}

func (r *run) record(stage Stage, status Status, d time.Duration, detail string) {
	r.res.Stages = append(r.res.Stages, StageRecord{Stage: stage, Status: status, Duration: d, Detail: detail})
	if status != StatusFailed {
		r.last = stage
	}
}

func (r *run) fail(stage Stage, d time.Duration, err error) error {
	r.record(stage, StatusFailed, d, err.Error())
	return &PipelineError{Stage: stage, LastCompleted: r.last, Err: err}
}

// Run executes the whole pipeline for one input file. Per-record
// problems accumulate in the result's ErrorSummary; stage-fatal errors
// return a *PipelineError alongside the partial result.
func Run(ctx context.Context, inputPath string, cfg *config.JobConfig) (*Result, error) {
	if cfg == nil {
		cfg = config.Empty()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	jobID := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	r := &run{res: &Result{JobID: jobID}}
	monitoring.Logf("pipeline: job %s starting on %s", jobID, inputPath)

	// Parse
	start := time.Now()
	ds, err := parseInput(ctx, inputPath, cfg)
	if err != nil {
		return r.res, r.fail(StageParse, time.Since(start), err)
	}
	r.res.Dataset = ds
	r.res.Summary.InvalidRecords = len(ds.Records) - ds.ValidCount()
	r.record(StageParse, StatusCompleted, time.Since(start),
		fmt.Sprintf("%d records (%d invalid), sensor %s", len(ds.Records), r.res.Summary.InvalidRecords, ds.Meta.Sensor))

	// QC
	start = time.Now()
	qcSum, err := runQC(ctx, ds, cfg)
	if err != nil {
		return r.res, r.fail(StageQC, time.Since(start), err)
	}
	r.res.QCSummary = qcSum
	r.res.Summary.QCFlagged = qcSum.Flagged
	r.res.Summary.ModelOutages = qcSum.ModelOutages
	if qcSum.Mode == qc.ModeSkip {
		r.record(StageQC, StatusSkipped, time.Since(start), "qc bypassed")
	} else {
		dropped := applyStrictPolicy(ds, cfg)
		r.res.Summary.QCDropped = dropped
		detail := fmt.Sprintf("mode %s, %d flagged", qcSum.Mode, qcSum.Flagged)
		if dropped > 0 {
			detail += fmt.Sprintf(", %d dropped (strict)", dropped)
		}
		r.record(StageQC, StatusCompleted, time.Since(start), detail)
	}

	// Anonymize
	start = time.Now()
	if !cfg.GetAnonymize() {
		r.record(StageAnonymize, StatusSkipped, time.Since(start), "anonymization disabled")
	} else {
		err := anonymize.Apply(ds, anonymize.Config{
			Salt:           cfg.GetAnonymizationSalt(),
			JitterRadiusM:  cfg.GetJitterRadiusM(),
			Seed:           cfg.GetAnonymizationSeed(),
			ScrubRawFields: cfg.ScrubFields,
		})
		if err != nil {
			return r.res, r.fail(StageAnonymize, time.Since(start), err)
		}
		r.record(StageAnonymize, StatusCompleted, time.Since(start),
			fmt.Sprintf("jitter radius %.1f m", cfg.GetJitterRadiusM()))
	}

	// Reproject
	start = time.Now()
	projRes, err := project.Reproject(ds, cfg.GetTargetCRS())
	if err != nil {
		return r.res, r.fail(StageReproject, time.Since(start), err)
	}
	r.res.Summary.ProjectionFailures = projRes.Failed
	r.record(StageReproject, StatusCompleted, time.Since(start),
		fmt.Sprintf("crs %s, %d outside domain", projRes.CRS, projRes.Failed))

	// Grid
	start = time.Now()
	g, err := grid.Build(ctx, ds, grid.Config{
		CellSizeM:       cfg.GetCellSizeM(),
		Method:          grid.Method(cfg.GetGriddingMethod()),
		IDWPower:        cfg.GetIDWPower(),
		MaxGapCells:     cfg.GetMaxGapCells(),
		MinUncertaintyM: cfg.GetMinUncertaintyM(),
	})
	if err != nil {
		return r.res, r.fail(StageGrid, time.Since(start), err)
	}
	r.res.Grid = g
	r.record(StageGrid, StatusCompleted, time.Since(start),
		fmt.Sprintf("%dx%d cells at %.2f m", g.Width, g.Height, g.CellSize))

	// Overlay
	start = time.Now()
	var overlays *overlay.Result
	if len(cfg.OverlayPlugins) == 0 {
		r.record(StageOverlay, StatusSkipped, time.Since(start), "no plugins configured")
	} else {
		annotators, err := overlay.Resolve(cfg.OverlayPlugins)
		if err != nil {
			// Misconfiguration, not a plugin runtime failure.
			return r.res, r.fail(StageOverlay, time.Since(start), err)
		}
		overlays = overlay.Run(ctx, g, annotators, overlay.Config{})
		r.res.Overlays = overlays.Layers
		for _, f := range overlays.Failures {
			r.res.Summary.OverlayFailures = append(r.res.Summary.OverlayFailures, f.Error())
		}
		r.record(StageOverlay, StatusCompleted, time.Since(start),
			fmt.Sprintf("%d layers, %d failures", len(overlays.Layers), len(overlays.Failures)))
	}

	// Export
	start = time.Now()
	prov := buildProvenance(jobID, ds, cfg, r.res, overlays)
	art, err := export.Export(ctx, g, overlays, prov, export.Format(cfg.GetOutputFormat()), cfg.GetOutputDir())
	if err != nil {
		return r.res, r.fail(StageExport, time.Since(start), err)
	}
	r.res.Artifact = art
	r.record(StageExport, StatusCompleted, time.Since(start),
		fmt.Sprintf("%s (%d bytes)", filepath.Base(art.Path), art.Size))

	// Compliance: validate and stage, dry run. Transmission is external.
	start = time.Now()
	if rep := compliance.Validate(art); !rep.OK {
		return r.res, r.fail(StageCompliance, time.Since(start),
			fmt.Errorf("artifact failed validation: %v", rep.Problems))
	}
	pkg, err := compliance.StagePackage(art, cfg.GetOutputDir(), true)
	if err != nil {
		return r.res, r.fail(StageCompliance, time.Since(start), err)
	}
	r.res.Package = pkg
	r.record(StageCompliance, StatusCompleted, time.Since(start),
		fmt.Sprintf("staged %s (dry run)", filepath.Base(pkg.Path)))

	recordInCatalog(cfg, r.res, ds)

	if r.res.Summary.Empty() {
		monitoring.Logf("pipeline: job %s completed", jobID)
	} else {
		monitoring.Logf("pipeline: job %s completed with warnings (%d invalid, %d flagged, %d projection failures)",
			jobID, r.res.Summary.InvalidRecords, r.res.Summary.QCFlagged, r.res.Summary.ProjectionFailures)
	}
	return r.res, nil
}

func parseInput(ctx context.Context, inputPath string, cfg *config.JobConfig) (*sounding.Dataset, error) {
	f, err := os.Open(inputPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return formats.Parse(ctx, f, filepath.Base(inputPath), sounding.SensorType(cfg.GetSensorType()))
}

func runQC(ctx context.Context, ds *sounding.Dataset, cfg *config.JobConfig) (*qc.Summary, error) {
	var scorer qc.AnomalyScorer
	if url := cfg.GetModelURL(); url != "" {
		scorer = qc.NewHTTPScorer(url, nil)
	} else {
		// Bundled heuristic stands in until an inference service is
		// configured.
		scorer = qc.DepthJumpScorer{}
	}
	eng := qc.NewEngine(qc.Config{
		Mode:         qc.Mode(cfg.GetQCMode()),
		Threshold:    cfg.GetQCThreshold(),
		RuleWeight:   cfg.GetRuleWeight(),
		Scorer:       scorer,
		ScoreTimeout: cfg.GetModelTimeout(),
	})
	return eng.Annotate(ctx, ds)
}

// applyStrictPolicy marks below-threshold records invalid so they stop
// contributing downstream. Default policy retains them flagged.
func applyStrictPolicy(ds *sounding.Dataset, cfg *config.JobConfig) int {
	if !cfg.GetStrictDropInvalid() {
		return 0
	}
	dropped := 0
	for i := range ds.Annotations {
		if !ds.Annotations[i].Passed && !ds.Records[i].Invalid {
			ds.Records[i].MarkInvalid("qc composite score below threshold")
			dropped++
		}
	}
	return dropped
}

func buildProvenance(jobID string, ds *sounding.Dataset, cfg *config.JobConfig, res *Result, overlays *overlay.Result) export.Provenance {
	prov := export.Provenance{
		JobID:       jobID,
		Source:      ds.Meta.SourceName,
		Sensor:      string(ds.Meta.Sensor),
		GeneratedAt: time.Now().UTC(),
		Converter:   ConverterVersion,
		CRS:         ds.Meta.CRS,
		Bounds:      ds.Meta.Bounds,
		QCMode:      cfg.GetQCMode(),
		QCBypassed:  cfg.GetQCMode() == string(qc.ModeSkip),
		Anonymized:  ds.Meta.Anonymized,
	}
	if overlays != nil {
		for name := range overlays.Layers {
			prov.Overlays = append(prov.Overlays, name)
		}
		sort.Strings(prov.Overlays)
	}
	if prov.QCBypassed {
		prov.AddNote("qc bypassed by configuration")
	}
	s := &res.Summary
	if s.InvalidRecords > 0 {
		prov.Warnings = append(prov.Warnings, fmt.Sprintf("%d records invalid at parse", s.InvalidRecords))
	}
	if s.QCDropped > 0 {
		prov.Warnings = append(prov.Warnings, fmt.Sprintf("%d records dropped by strict qc policy", s.QCDropped))
	}
	if s.ProjectionFailures > 0 {
		prov.Warnings = append(prov.Warnings, fmt.Sprintf("%d records outside projection domain", s.ProjectionFailures))
	}
	for _, f := range s.OverlayFailures {
		prov.Warnings = append(prov.Warnings, f)
	}
	return prov
}

// recordInCatalog persists the run when a catalog is configured.
// Catalog trouble is a warning, never a job failure.
func recordInCatalog(cfg *config.JobConfig, res *Result, ds *sounding.Dataset) {
	path := cfg.GetCatalogPath()
	if path == "" {
		return
	}
	c, err := catalog.Open(path)
	if err != nil {
		res.Summary.Warnings = append(res.Summary.Warnings, fmt.Sprintf("catalog unavailable: %v", err))
		return
	}
	defer c.Close()
	err = c.RecordJob(catalog.JobRow{
		JobID:       res.JobID,
		Source:      ds.Meta.SourceName,
		Sensor:      string(ds.Meta.Sensor),
		Format:      string(res.Artifact.Format),
		QCMode:      cfg.GetQCMode(),
		Anonymized:  ds.Meta.Anonymized,
		RecordCount: len(ds.Records),
		ValidCount:  ds.ValidCount(),
		CreatedAt:   res.Artifact.Provenance.GeneratedAt,
	})
	if err == nil {
		err = c.RecordArtifact(catalog.ArtifactRow{
			JobID:  res.JobID,
			Path:   res.Artifact.Path,
			Format: string(res.Artifact.Format),
			SHA256: res.Artifact.SHA256,
			Size:   res.Artifact.Size,
		})
	}
	if err == nil {
		err = c.SaveGridSnapshot(res.JobID, res.Grid)
	}
	if err != nil {
		res.Summary.Warnings = append(res.Summary.Warnings, fmt.Sprintf("catalog write failed: %v", err))
	}
}
