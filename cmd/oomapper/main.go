// Command oomapper converts one raw ocean-sensor survey into a
// submission-ready bathymetric artifact.
//
// Usage:
//
//	oomapper [flags] <input-file>
//
// The job configuration comes from -config; individual flags override
// specific fields. By default the run stages a dry-run submission
// package next to the artifact. Pass -submit-url to stage a live
// package and transmit it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tritonminingco/open-ocean-mapper/internal/compliance"
	"github.com/tritonminingco/open-ocean-mapper/internal/config"
	"github.com/tritonminingco/open-ocean-mapper/internal/pipeline"
	"github.com/tritonminingco/open-ocean-mapper/internal/render"
	"github.com/tritonminingco/open-ocean-mapper/internal/report"
)

var (
	configPath = flag.String("config", "", "job configuration file (.json, .yaml or .yml)")
	sensor     = flag.String("sensor", "", "override sensor type (mbes|sbes|lidar|auv|singlebeam)")
	format     = flag.String("format", "", "override output format (netcdf|geotiff|bag)")
	outputDir  = flag.String("output", "", "override output directory")
	qcMode     = flag.String("qc-mode", "", "override qc mode (auto|manual|skip)")
	plotsDir   = flag.String("plots", "", "write diagnostic heatmap PNGs to this directory")
	qcReport   = flag.String("qc-report", "", "write an HTML QC report to this path")
	submitURL  = flag.String("submit-url", "", "stage a live package and POST it to this endpoint")
)

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <input-file>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}
	input := flag.Arg(0)

	cfg := config.Empty()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
	}
	if *sensor != "" {
		cfg = cfg.WithSensorType(*sensor)
	}
	if *format != "" {
		cfg = cfg.WithOutputFormat(*format)
	}
	if *outputDir != "" {
		cfg = cfg.WithOutputDir(*outputDir)
	}
	if *qcMode != "" {
		cfg = cfg.WithQCMode(*qcMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := pipeline.Run(ctx, input, cfg)
	if res != nil {
		printStages(res)
	}
	if err != nil {
		log.Fatalf("conversion failed: %v", err)
	}

	fmt.Printf("job %s: %s (%d bytes, sha256 %s)\n",
		res.JobID, res.Artifact.Path, res.Artifact.Size, res.Artifact.SHA256[:12])
	fmt.Printf("staged package: %s (dry run)\n", res.Package.Path)
	printSummary(res)

	if *plotsDir != "" {
		paths, err := render.WriteJobPlots(res.Grid, res.Overlays, *plotsDir, res.JobID)
		if err != nil {
			log.Fatalf("plots: %v", err)
		}
		for _, p := range paths {
			fmt.Printf("plot: %s\n", p)
		}
	}

	if *qcReport != "" {
		if err := report.WriteQCReport(res.Dataset, res.QCSummary, *qcReport); err != nil {
			log.Fatalf("qc report: %v", err)
		}
		fmt.Printf("qc report: %s\n", *qcReport)
	}

	if *submitURL != "" {
		pkg, err := compliance.StagePackage(res.Artifact, cfg.GetOutputDir(), false)
		if err != nil {
			log.Fatalf("submission staging: %v", err)
		}
		receipt, err := compliance.NewHTTPSubmitter(*submitURL, nil).Submit(ctx, pkg)
		if err != nil {
			log.Fatalf("submission: %v", err)
		}
		fmt.Printf("submitted: id=%s accepted_at=%s\n", receipt.SubmissionID, receipt.AcceptedAt)
	}
}

func printStages(res *pipeline.Result) {
	for _, sr := range res.Stages {
		line := fmt.Sprintf("%-10s %-9s %s", sr.Stage, sr.Status, sr.Duration.Round(time.Millisecond))
		if sr.Detail != "" {
			line += "  " + sr.Detail
		}
		fmt.Println(line)
	}
}

func printSummary(res *pipeline.Result) {
	s := &res.Summary
	if s.Empty() {
		return
	}
	fmt.Println("completed with warnings:")
	if s.InvalidRecords > 0 {
		fmt.Printf("  %d records invalid at parse\n", s.InvalidRecords)
	}
	if s.QCFlagged > 0 {
		fmt.Printf("  %d records flagged by qc\n", s.QCFlagged)
	}
	if s.QCDropped > 0 {
		fmt.Printf("  %d records dropped (strict policy)\n", s.QCDropped)
	}
	if s.ProjectionFailures > 0 {
		fmt.Printf("  %d records outside projection domain\n", s.ProjectionFailures)
	}
	if s.ModelOutages > 0 {
		fmt.Printf("  %d records scored without the anomaly model\n", s.ModelOutages)
	}
	for _, f := range s.OverlayFailures {
		fmt.Printf("  overlay: %s\n", f)
	}
	for _, w := range s.Warnings {
		fmt.Printf("  %s\n", w)
	}
}
