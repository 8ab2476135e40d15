// Package config holds the immutable per-job configuration. A JobConfig
// is loaded once from a JSON or YAML file, validated, and then threaded
// through the pipeline unchanged. Fields are pointers so partial
// configs are safe: the Get* methods provide fallback defaults for
// anything the file omits.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// JobConfig is the root configuration for one conversion job.
type JobConfig struct {
	// Input / output
	SensorType   *string `json:"sensor_type,omitempty" yaml:"sensor_type,omitempty"`
	OutputFormat *string `json:"output_format,omitempty" yaml:"output_format,omitempty"` // netcdf | bag | geotiff
	OutputDir    *string `json:"output_dir,omitempty" yaml:"output_dir,omitempty"`
	CatalogPath  *string `json:"catalog_path,omitempty" yaml:"catalog_path,omitempty"`

	// Anonymization
	Anonymize         *bool    `json:"anonymize,omitempty" yaml:"anonymize,omitempty"`
	JitterRadiusM     *float64 `json:"jitter_radius_m,omitempty" yaml:"jitter_radius_m,omitempty"`
	AnonymizationSalt *string  `json:"anonymization_salt,omitempty" yaml:"anonymization_salt,omitempty"`
	AnonymizationSeed *string  `json:"anonymization_seed,omitempty" yaml:"anonymization_seed,omitempty"`
	ScrubFields       []string `json:"scrub_fields,omitempty" yaml:"scrub_fields,omitempty"`

	// Quality control
	QCMode            *string  `json:"qc_mode,omitempty" yaml:"qc_mode,omitempty"` // auto | manual | skip
	QCThreshold       *float64 `json:"qc_threshold,omitempty" yaml:"qc_threshold,omitempty"`
	StrictDropInvalid *bool    `json:"strict_drop_invalid,omitempty" yaml:"strict_drop_invalid,omitempty"`
	RuleWeight        *float64 `json:"rule_weight,omitempty" yaml:"rule_weight,omitempty"`
	ModelURL          *string  `json:"model_url,omitempty" yaml:"model_url,omitempty"`
	ModelTimeout      *string  `json:"model_timeout,omitempty" yaml:"model_timeout,omitempty"` // duration string like "2s"

	// Gridding
	CellSizeM       *float64 `json:"cell_size_m,omitempty" yaml:"cell_size_m,omitempty"`
	GriddingMethod  *string  `json:"gridding_method,omitempty" yaml:"gridding_method,omitempty"` // mean | median | idw
	IDWPower        *float64 `json:"idw_power,omitempty" yaml:"idw_power,omitempty"`
	MaxGapCells     *int     `json:"max_gap_cells,omitempty" yaml:"max_gap_cells,omitempty"`
	MinUncertaintyM *float64 `json:"min_uncertainty_m,omitempty" yaml:"min_uncertainty_m,omitempty"`

	// Overlays and projection
	OverlayPlugins []string `json:"overlay_plugins,omitempty" yaml:"overlay_plugins,omitempty"`
	TargetCRS      *string  `json:"target_crs,omitempty" yaml:"target_crs,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// Empty returns a JobConfig with every field unset; the Get* methods
// then answer pure defaults.
func Empty() *JobConfig {
	return &JobConfig{}
}

// Load reads a JobConfig from a .json, .yaml or .yml file. Fields
// omitted from the file keep their defaults, so partial configs are
// safe.
func Load(path string) (*JobConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("config file must be .json, .yaml or .yml, got %q", ext)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that every set field carries a usable value.
func (c *JobConfig) Validate() error {
	if c.OutputFormat != nil {
		switch *c.OutputFormat {
		case "netcdf", "bag", "geotiff":
		default:
			return fmt.Errorf("output_format must be netcdf, bag or geotiff, got %q", *c.OutputFormat)
		}
	}
	if c.QCMode != nil {
		switch *c.QCMode {
		case "auto", "manual", "skip":
		default:
			return fmt.Errorf("qc_mode must be auto, manual or skip, got %q", *c.QCMode)
		}
	}
	if c.QCThreshold != nil && (*c.QCThreshold < 0 || *c.QCThreshold > 1) {
		return fmt.Errorf("qc_threshold must be between 0 and 1, got %f", *c.QCThreshold)
	}
	if c.RuleWeight != nil && (*c.RuleWeight < 0 || *c.RuleWeight > 1) {
		return fmt.Errorf("rule_weight must be between 0 and 1, got %f", *c.RuleWeight)
	}
	if c.ModelTimeout != nil && *c.ModelTimeout != "" {
		if _, err := time.ParseDuration(*c.ModelTimeout); err != nil {
			return fmt.Errorf("invalid model_timeout '%s': %w", *c.ModelTimeout, err)
		}
	}
	if c.JitterRadiusM != nil && *c.JitterRadiusM < 0 {
		return fmt.Errorf("jitter_radius_m must be non-negative, got %f", *c.JitterRadiusM)
	}
	if c.GetAnonymize() && c.GetAnonymizationSalt() == "" {
		return fmt.Errorf("anonymization_salt is required when anonymize is enabled")
	}
	if c.CellSizeM != nil && *c.CellSizeM <= 0 {
		return fmt.Errorf("cell_size_m must be positive, got %f", *c.CellSizeM)
	}
	if c.GriddingMethod != nil {
		switch *c.GriddingMethod {
		case "mean", "median", "idw":
		default:
			return fmt.Errorf("gridding_method must be mean, median or idw, got %q", *c.GriddingMethod)
		}
	}
	if c.IDWPower != nil && *c.IDWPower <= 0 {
		return fmt.Errorf("idw_power must be positive, got %f", *c.IDWPower)
	}
	if c.MaxGapCells != nil && *c.MaxGapCells < 0 {
		return fmt.Errorf("max_gap_cells must be non-negative, got %d", *c.MaxGapCells)
	}
	if c.MinUncertaintyM != nil && *c.MinUncertaintyM <= 0 {
		return fmt.Errorf("min_uncertainty_m must be positive, got %f", *c.MinUncertaintyM)
	}
	return nil
}

// GetSensorType returns the sensor_type value or empty (sniff from the
// input).
func (c *JobConfig) GetSensorType() string {
	if c.SensorType == nil {
		return ""
	}
	return *c.SensorType
}

// GetOutputFormat returns the output_format value or the default.
func (c *JobConfig) GetOutputFormat() string {
	if c.OutputFormat == nil {
		return "netcdf"
	}
	return *c.OutputFormat
}

// GetOutputDir returns the output_dir value or the default.
func (c *JobConfig) GetOutputDir() string {
	if c.OutputDir == nil || *c.OutputDir == "" {
		return "."
	}
	return *c.OutputDir
}

// GetCatalogPath returns the catalog_path value or empty (catalog
// disabled).
func (c *JobConfig) GetCatalogPath() string {
	if c.CatalogPath == nil {
		return ""
	}
	return *c.CatalogPath
}

// GetAnonymize returns the anonymize value or the default.
func (c *JobConfig) GetAnonymize() bool {
	if c.Anonymize == nil {
		return true // anonymization on unless explicitly disabled
	}
	return *c.Anonymize
}

// GetJitterRadiusM returns the jitter_radius_m value or the default.
func (c *JobConfig) GetJitterRadiusM() float64 {
	if c.JitterRadiusM == nil {
		return 50.0
	}
	return *c.JitterRadiusM
}

// GetAnonymizationSalt returns the anonymization_salt value or empty.
func (c *JobConfig) GetAnonymizationSalt() string {
	if c.AnonymizationSalt == nil {
		return ""
	}
	return *c.AnonymizationSalt
}

// GetAnonymizationSeed returns the anonymization_seed value or empty
// (fresh offsets every run).
func (c *JobConfig) GetAnonymizationSeed() string {
	if c.AnonymizationSeed == nil {
		return ""
	}
	return *c.AnonymizationSeed
}

// GetQCMode returns the qc_mode value or the default.
func (c *JobConfig) GetQCMode() string {
	if c.QCMode == nil {
		return "auto"
	}
	return *c.QCMode
}

// GetQCThreshold returns the qc_threshold value or the default.
func (c *JobConfig) GetQCThreshold() float64 {
	if c.QCThreshold == nil {
		return 0.5
	}
	return *c.QCThreshold
}

// GetStrictDropInvalid returns the strict_drop_invalid value or the
// default.
func (c *JobConfig) GetStrictDropInvalid() bool {
	if c.StrictDropInvalid == nil {
		return false // default: retain flagged records
	}
	return *c.StrictDropInvalid
}

// GetRuleWeight returns the rule_weight value or the default.
func (c *JobConfig) GetRuleWeight() float64 {
	if c.RuleWeight == nil {
		return 0.7
	}
	return *c.RuleWeight
}

// GetModelURL returns the model_url value or empty (stub scorer).
func (c *JobConfig) GetModelURL() string {
	if c.ModelURL == nil {
		return ""
	}
	return *c.ModelURL
}

// GetModelTimeout parses and returns the ModelTimeout as a
// time.Duration.
func (c *JobConfig) GetModelTimeout() time.Duration {
	if c.ModelTimeout == nil || *c.ModelTimeout == "" {
		return 2 * time.Second
	}
	d, err := time.ParseDuration(*c.ModelTimeout)
	if err != nil {
		return 2 * time.Second // default on parse error
	}
	return d
}

// GetCellSizeM returns the cell_size_m value or the default.
func (c *JobConfig) GetCellSizeM() float64 {
	if c.CellSizeM == nil {
		return 10.0
	}
	return *c.CellSizeM
}

// GetGriddingMethod returns the gridding_method value or the default.
func (c *JobConfig) GetGriddingMethod() string {
	if c.GriddingMethod == nil {
		return "mean"
	}
	return *c.GriddingMethod
}

// GetIDWPower returns the idw_power value or the default.
func (c *JobConfig) GetIDWPower() float64 {
	if c.IDWPower == nil {
		return 2.0
	}
	return *c.IDWPower
}

// GetMaxGapCells returns the max_gap_cells value or the default.
func (c *JobConfig) GetMaxGapCells() int {
	if c.MaxGapCells == nil {
		return 0 // default: no interpolation across unsurveyed cells
	}
	return *c.MaxGapCells
}

// GetMinUncertaintyM returns the min_uncertainty_m value or the default.
func (c *JobConfig) GetMinUncertaintyM() float64 {
	if c.MinUncertaintyM == nil {
		return 0.25
	}
	return *c.MinUncertaintyM
}

// GetTargetCRS returns the target_crs value or the default.
func (c *JobConfig) GetTargetCRS() string {
	if c.TargetCRS == nil || *c.TargetCRS == "" {
		return "auto-utm"
	}
	return *c.TargetCRS
}

// WithOutputFormat returns a copy with output_format set.
func (c *JobConfig) WithOutputFormat(f string) *JobConfig {
	out := *c
	out.OutputFormat = ptrString(f)
	return &out
}

// WithQCMode returns a copy with qc_mode set.
func (c *JobConfig) WithQCMode(m string) *JobConfig {
	out := *c
	out.QCMode = ptrString(m)
	return &out
}

// WithAnonymization returns a copy with the anonymization trio set.
func (c *JobConfig) WithAnonymization(salt string, radiusM float64) *JobConfig {
	out := *c
	out.Anonymize = ptrBool(true)
	out.AnonymizationSalt = ptrString(salt)
	out.JitterRadiusM = ptrFloat64(radiusM)
	return &out
}

// WithCellSize returns a copy with cell_size_m set.
func (c *JobConfig) WithCellSize(m float64) *JobConfig {
	out := *c
	out.CellSizeM = ptrFloat64(m)
	return &out
}

// WithMaxGapCells returns a copy with max_gap_cells set.
func (c *JobConfig) WithMaxGapCells(n int) *JobConfig {
	out := *c
	out.MaxGapCells = ptrInt(n)
	return &out
}

// WithOutputDir returns a copy with output_dir set.
func (c *JobConfig) WithOutputDir(dir string) *JobConfig {
	out := *c
	out.OutputDir = ptrString(dir)
	return &out
}

// WithSensorType returns a copy with sensor_type set.
func (c *JobConfig) WithSensorType(s string) *JobConfig {
	out := *c
	out.SensorType = ptrString(s)
	return &out
}
