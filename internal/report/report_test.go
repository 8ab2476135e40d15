package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tritonminingco/open-ocean-mapper/internal/qc"
	"github.com/tritonminingco/open-ocean-mapper/internal/sounding"
)

func annotatedDataset(n int) (*sounding.Dataset, *qc.Summary) {
	ds := &sounding.Dataset{
		Records:     make([]sounding.SoundingRecord, n),
		Annotations: make([]sounding.QCAnnotation, n),
		Meta:        sounding.Meta{Sensor: sounding.SensorMBES, SourceName: "survey_0001.csv"},
	}
	sum := &qc.Summary{Mode: qc.ModeAuto, Records: n, RuleHits: map[string]int{}}
	for i := range ds.Annotations {
		score := float64(i) / float64(n)
		passed := score >= 0.7
		ds.Annotations[i] = sounding.QCAnnotation{Score: score, Passed: passed}
		if !passed {
			sum.Flagged++
			ds.Annotations[i].RuleCodes = []string{"depth_range"}
			sum.RuleHits["depth_range"]++
		}
		if i%5 == 0 {
			ds.Annotations[i].RuleCodes = append(ds.Annotations[i].RuleCodes, "beam_angle")
			sum.RuleHits["beam_angle"]++
		}
	}
	return ds, sum
}

func TestWriteQCReport(t *testing.T) {
	ds, sum := annotatedDataset(50)
	path := filepath.Join(t.TempDir(), "qc.html")
	require.NoError(t, WriteQCReport(ds, sum, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	html := string(raw)
	for _, want := range []string{"echarts", "Composite Score Distribution", "Rule Hits", "depth_range", "beam_angle", "survey_0001.csv"} {
		require.Contains(t, html, want)
	}
}

func TestBypassedRunCalledOut(t *testing.T) {
	ds, _ := annotatedDataset(10)
	for i := range ds.Annotations {
		ds.Annotations[i] = sounding.QCAnnotation{Score: 1, Passed: true, Bypassed: true}
	}
	sum := &qc.Summary{Mode: qc.ModeSkip, Records: 10, RuleHits: map[string]int{}}
	path := filepath.Join(t.TempDir(), "qc.html")
	require.NoError(t, WriteQCReport(ds, sum, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(raw), "qc bypassed"), "bypass not visible in report")
}

func TestMismatchedAnnotationsRejected(t *testing.T) {
	ds, sum := annotatedDataset(10)
	ds.Annotations = ds.Annotations[:5]
	err := WriteQCReport(ds, sum, filepath.Join(t.TempDir(), "qc.html"))
	require.Error(t, err)
}
