// Package report renders a standalone HTML quality-control report for a
// conversion run using go-echarts: a composite score histogram and a
// per-rule hit breakdown. Like the render package this is a diagnostic
// surface; nothing downstream consumes it.
package report

import (
	"fmt"
	"os"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/tritonminingco/open-ocean-mapper/internal/qc"
	"github.com/tritonminingco/open-ocean-mapper/internal/sounding"
)

const scoreBins = 10

// WriteQCReport writes the report page to path. The dataset must carry
// the annotations produced by the QC engine; a bypassed run still
// renders, with the bypass called out in the subtitle.
func WriteQCReport(ds *sounding.Dataset, sum *qc.Summary, path string) error {
	if ds == nil || sum == nil {
		return fmt.Errorf("report: nil dataset or summary")
	}
	if len(ds.Annotations) != len(ds.Records) {
		return fmt.Errorf("report: %d annotations for %d records, run qc first",
			len(ds.Annotations), len(ds.Records))
	}

	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("QC Report - %s", ds.Meta.SourceName)
	page.AddCharts(scoreHistogram(ds, sum), ruleBreakdown(sum))

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create %s: %w", path, err)
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		return fmt.Errorf("report: render: %w", err)
	}
	return nil
}

// scoreHistogram buckets composite scores into fixed-width bins over
// [0, 1]. Scores of exactly 1.0 land in the top bin.
func scoreHistogram(ds *sounding.Dataset, sum *qc.Summary) *charts.Bar {
	counts := make([]int, scoreBins)
	for i := range ds.Annotations {
		bin := int(ds.Annotations[i].Score * scoreBins)
		if bin >= scoreBins {
			bin = scoreBins - 1
		}
		if bin < 0 {
			bin = 0
		}
		counts[bin]++
	}

	x := make([]string, scoreBins)
	y := make([]opts.BarData, scoreBins)
	for i := 0; i < scoreBins; i++ {
		x[i] = fmt.Sprintf("%.1f-%.1f", float64(i)/scoreBins, float64(i+1)/scoreBins)
		y[i] = opts.BarData{Value: counts[i]}
	}

	subtitle := fmt.Sprintf("source=%s sensor=%s records=%d flagged=%d mean=%.3f stddev=%.3f",
		ds.Meta.SourceName, ds.Meta.Sensor, sum.Records, sum.Flagged, sum.MeanScore, sum.ScoreStddev)
	if sum.Mode == qc.ModeSkip {
		subtitle += " (qc bypassed)"
	}
	if sum.ModelOutages > 0 {
		subtitle += fmt.Sprintf(" model_outages=%d", sum.ModelOutages)
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Composite Score Distribution", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "score"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "records"}),
	)
	bar.SetXAxis(x).
		AddSeries("scores", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}

// ruleBreakdown charts hit counts per rule code, sorted by code so the
// axis is stable between runs.
func ruleBreakdown(sum *qc.Summary) *charts.Bar {
	codes := make([]string, 0, len(sum.RuleHits))
	for code := range sum.RuleHits {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	y := make([]opts.BarData, len(codes))
	for i, code := range codes {
		y[i] = opts.BarData{Value: sum.RuleHits[code]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Rule Hits",
			Subtitle: fmt.Sprintf("mode=%s rules_triggered=%d", sum.Mode, len(codes)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "records"}),
	)
	bar.SetXAxis(codes).
		AddSeries("hits", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}
