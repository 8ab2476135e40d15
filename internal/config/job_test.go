package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	c := Empty()
	if c.GetOutputFormat() != "netcdf" {
		t.Errorf("default output_format = %s", c.GetOutputFormat())
	}
	if c.GetQCMode() != "auto" {
		t.Errorf("default qc_mode = %s", c.GetQCMode())
	}
	if c.GetQCThreshold() != 0.5 {
		t.Errorf("default qc_threshold = %v", c.GetQCThreshold())
	}
	if c.GetRuleWeight() != 0.7 {
		t.Errorf("default rule_weight = %v", c.GetRuleWeight())
	}
	if c.GetModelTimeout() != 2*time.Second {
		t.Errorf("default model_timeout = %v", c.GetModelTimeout())
	}
	if !c.GetAnonymize() {
		t.Errorf("anonymization should default on")
	}
	if c.GetJitterRadiusM() != 50 {
		t.Errorf("default jitter_radius_m = %v", c.GetJitterRadiusM())
	}
	if c.GetCellSizeM() != 10 {
		t.Errorf("default cell_size_m = %v", c.GetCellSizeM())
	}
	if c.GetGriddingMethod() != "mean" {
		t.Errorf("default gridding_method = %s", c.GetGriddingMethod())
	}
	if c.GetMaxGapCells() != 0 {
		t.Errorf("gap filling should default off")
	}
	if c.GetMinUncertaintyM() != 0.25 {
		t.Errorf("default min_uncertainty_m = %v", c.GetMinUncertaintyM())
	}
	if c.GetTargetCRS() != "auto-utm" {
		t.Errorf("default target_crs = %s", c.GetTargetCRS())
	}
	if c.GetStrictDropInvalid() {
		t.Errorf("strict mode should default off")
	}
}

func TestLoadJSONPartial(t *testing.T) {
	path := writeConfig(t, "job.json", `{
		"sensor_type": "mbes",
		"output_format": "geotiff",
		"anonymization_salt": "s3cr3t",
		"cell_size_m": 25,
		"qc_threshold": 0.8
	}`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if c.GetSensorType() != "mbes" || c.GetOutputFormat() != "geotiff" {
		t.Fatalf("explicit values lost: %+v", c)
	}
	if c.GetCellSizeM() != 25 || c.GetQCThreshold() != 0.8 {
		t.Fatalf("numeric values lost")
	}
	// Omitted fields keep defaults.
	if c.GetQCMode() != "auto" || c.GetGriddingMethod() != "mean" {
		t.Fatalf("defaults not applied for omitted fields")
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "job.yaml", `
sensor_type: lidar
output_format: bag
anonymize: false
gridding_method: idw
idw_power: 3
overlay_plugins:
  - slope
  - density
model_timeout: 500ms
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if c.GetSensorType() != "lidar" || c.GetOutputFormat() != "bag" {
		t.Fatalf("values lost: %+v", c)
	}
	if c.GetAnonymize() {
		t.Fatalf("explicit anonymize=false ignored")
	}
	if c.GetIDWPower() != 3 {
		t.Fatalf("idw_power = %v", c.GetIDWPower())
	}
	if len(c.OverlayPlugins) != 2 || c.OverlayPlugins[0] != "slope" {
		t.Fatalf("overlay_plugins = %v", c.OverlayPlugins)
	}
	if c.GetModelTimeout() != 500*time.Millisecond {
		t.Fatalf("model_timeout = %v", c.GetModelTimeout())
	}
}

func TestValidateRejections(t *testing.T) {
	cases := map[string]*JobConfig{
		"bad format":       {OutputFormat: ptrString("shapefile")},
		"bad qc mode":      {QCMode: ptrString("sometimes")},
		"threshold range":  {QCThreshold: ptrFloat64(1.5)},
		"weight range":     {RuleWeight: ptrFloat64(-0.1)},
		"bad timeout":      {ModelTimeout: ptrString("soonish")},
		"negative jitter":  {JitterRadiusM: ptrFloat64(-1)},
		"zero cell":        {CellSizeM: ptrFloat64(0)},
		"bad method":       {GriddingMethod: ptrString("kriging")},
		"bad idw power":    {IDWPower: ptrFloat64(0)},
		"negative gap":     {MaxGapCells: ptrInt(-1)},
		"zero uncertainty": {MinUncertaintyM: ptrFloat64(0)},
		"salt required":    {Anonymize: ptrBool(true)},
	}
	for name, cfg := range cases {
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: invalid config accepted", name)
		}
	}
}

func TestAnonymizeOffNeedsNoSalt(t *testing.T) {
	cfg := &JobConfig{Anonymize: ptrBool(false)}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("anonymize=false should not require a salt: %v", err)
	}
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := writeConfig(t, "job.toml", `sensor_type = "mbes"`)
	if _, err := Load(path); err == nil {
		t.Fatalf("unknown extension accepted")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, "job.json", `{"qc_mode": "yolo"}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("invalid qc_mode accepted at load")
	}
}

func TestWithBuildersCopy(t *testing.T) {
	base := Empty()
	mod := base.WithQCMode("skip").WithOutputFormat("geotiff").WithCellSize(5).WithMaxGapCells(2)
	if base.QCMode != nil || base.OutputFormat != nil || base.MaxGapCells != nil {
		t.Fatalf("builders mutated the base config")
	}
	if mod.GetQCMode() != "skip" || mod.GetOutputFormat() != "geotiff" || mod.GetCellSizeM() != 5 {
		t.Fatalf("builder values lost: %+v", mod)
	}
	if mod.GetMaxGapCells() != 2 {
		t.Fatalf("max_gap_cells lost: %+v", mod)
	}
}
