package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/ili.report/internal/ili"
	"github.com/banshee-data/ili.report/internal/ili/align"
	"github.com/banshee-data/ili.report/internal/ili/cluster"
	"github.com/banshee-data/ili.report/internal/ili/growth"
	"github.com/banshee-data/ili.report/internal/ili/match"
	"github.com/banshee-data/ili.report/internal/ili/pipeline"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.yaml"

// TuningConfig holds every reconciliation parameter. Nil fields fall back to
// the defaults returned by the Get* accessors, so partial files are safe.
// Keys are flat so each one maps onto a single ILI_ environment variable.
type TuningConfig struct {
	// Alignment
	LandmarkTypes  []string `json:"landmark_types,omitempty" koanf:"landmark_types"`
	AnchorType     *string  `json:"anchor_type,omitempty" koanf:"anchor_type"`
	MaxSpacingDiff *float64 `json:"max_spacing_diff,omitempty" koanf:"max_spacing_diff"`
	OutOfRange     *string  `json:"out_of_range,omitempty" koanf:"out_of_range"` // "extrapolate" or "reject"

	// Matching gates and cost
	DistTol        *float64 `json:"dist_tol,omitempty" koanf:"dist_tol"`   // feet
	ClockTol       *float64 `json:"clock_tol,omitempty" koanf:"clock_tol"` // degrees
	CostThreshold  *float64 `json:"cost_threshold,omitempty" koanf:"cost_threshold"`
	WeightDistance *float64 `json:"weight_distance,omitempty" koanf:"weight_distance"`
	WeightClock    *float64 `json:"weight_clock,omitempty" koanf:"weight_clock"`
	WeightDepth    *float64 `json:"weight_depth,omitempty" koanf:"weight_depth"`
	WeightSize     *float64 `json:"weight_size,omitempty" koanf:"weight_size"`
	TypePenalty    *float64 `json:"type_penalty,omitempty" koanf:"type_penalty"`

	// Match confidence
	SigmaDistance             *float64 `json:"sigma_distance,omitempty" koanf:"sigma_distance"`
	SigmaClock                *float64 `json:"sigma_clock,omitempty" koanf:"sigma_clock"`
	SigmaDepth                *float64 `json:"sigma_depth,omitempty" koanf:"sigma_depth"`
	TypeMismatchFactor        *float64 `json:"type_mismatch_factor,omitempty" koanf:"type_mismatch_factor"`
	OrientationMismatchFactor *float64 `json:"orientation_mismatch_factor,omitempty" koanf:"orientation_mismatch_factor"`
	ConfidenceAlpha           *float64 `json:"confidence_alpha,omitempty" koanf:"confidence_alpha"`
	ConfidenceBeta            *float64 `json:"confidence_beta,omitempty" koanf:"confidence_beta"`
	ConfidenceGamma           *float64 `json:"confidence_gamma,omitempty" koanf:"confidence_gamma"`
	NoRunnerUpMargin          *float64 `json:"no_runner_up_margin,omitempty" koanf:"no_runner_up_margin"`
	Parallelism               *int     `json:"parallelism,omitempty" koanf:"parallelism"`

	// Growth and severity
	CriticalDepth         *float64 `json:"critical_depth,omitempty" koanf:"critical_depth"` // percent wall thickness
	ForecastYears         *float64 `json:"forecast_years,omitempty" koanf:"forecast_years"`
	SeverityWeightRate    *float64 `json:"severity_weight_rate,omitempty" koanf:"severity_weight_rate"`
	SeverityWeightDepth   *float64 `json:"severity_weight_depth,omitempty" koanf:"severity_weight_depth"`
	SeverityWeightLife    *float64 `json:"severity_weight_life,omitempty" koanf:"severity_weight_life"`
	AccelerationThreshold *float64 `json:"acceleration_threshold,omitempty" koanf:"acceleration_threshold"`
	PowerLawOffset        *float64 `json:"power_law_offset,omitempty" koanf:"power_law_offset"`

	// Clustering (optional stage)
	Clustering        *bool    `json:"clustering,omitempty" koanf:"clustering"`
	ClusterEpsilon    *float64 `json:"cluster_epsilon,omitempty" koanf:"cluster_epsilon"` // feet
	ClusterMinSamples *int     `json:"cluster_min_samples,omitempty" koanf:"cluster_min_samples"`
	ClusterMode       *string  `json:"cluster_mode,omitempty" koanf:"cluster_mode"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated from
// the stage defaults.
func DefaultTuningConfig() *TuningConfig {
	ap := align.DefaultParams()
	mp := match.DefaultParams()
	gp := growth.DefaultParams()
	cp := cluster.DefaultParams()

	types := make([]string, len(ap.LandmarkTypes))
	for i, t := range ap.LandmarkTypes {
		types[i] = string(t)
	}

	return &TuningConfig{
		LandmarkTypes:  types,
		AnchorType:     ptrString(string(ap.AnchorType)),
		MaxSpacingDiff: ptrFloat64(ap.MaxSpacingDiff),
		OutOfRange:     ptrString(string(ap.OutOfRange)),

		DistTol:        ptrFloat64(mp.DistTol),
		ClockTol:       ptrFloat64(mp.ClockTol),
		CostThreshold:  ptrFloat64(mp.CostThreshold),
		WeightDistance: ptrFloat64(mp.Weights.Distance),
		WeightClock:    ptrFloat64(mp.Weights.Clock),
		WeightDepth:    ptrFloat64(mp.Weights.Depth),
		WeightSize:     ptrFloat64(mp.Weights.Size),
		TypePenalty:    ptrFloat64(mp.Weights.TypePenalty),

		SigmaDistance:             ptrFloat64(mp.SigmaDistance),
		SigmaClock:                ptrFloat64(mp.SigmaClock),
		SigmaDepth:                ptrFloat64(mp.SigmaDepth),
		TypeMismatchFactor:        ptrFloat64(mp.TypeMismatchFactor),
		OrientationMismatchFactor: ptrFloat64(mp.OrientationMismatchFactor),
		ConfidenceAlpha:           ptrFloat64(mp.Alpha),
		ConfidenceBeta:            ptrFloat64(mp.Beta),
		ConfidenceGamma:           ptrFloat64(mp.Gamma),
		NoRunnerUpMargin:          ptrFloat64(mp.NoRunnerUpMargin),
		Parallelism:               ptrInt(mp.Parallelism),

		CriticalDepth:         ptrFloat64(gp.CriticalDepth),
		ForecastYears:         ptrFloat64(gp.ForecastYears),
		SeverityWeightRate:    ptrFloat64(gp.Weights.Rate),
		SeverityWeightDepth:   ptrFloat64(gp.Weights.Depth),
		SeverityWeightLife:    ptrFloat64(gp.Weights.Life),
		AccelerationThreshold: ptrFloat64(gp.AccelerationThreshold),
		PowerLawOffset:        ptrFloat64(gp.PowerLawOffset),

		Clustering:        ptrBool(false),
		ClusterEpsilon:    ptrFloat64(cp.Epsilon),
		ClusterMinSamples: ptrInt(cp.MinSamples),
		ClusterMode:       ptrString(string(cp.Mode)),
	}
}

// LoadTuningConfig loads a TuningConfig from a YAML or JSON file.
// The file must have a .yaml, .yml or .json extension and be under 1MB.
// Environment variables are not consulted; see Load for layering.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath, err := checkConfigFile(path)
	if err != nil {
		return nil, err
	}

	k, err := newKoanf(cleanPath)
	if err != nil {
		return nil, err
	}
	cfg, err := unmarshal(k)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/ili/pipeline/
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func checkConfigFile(path string) (string, error) {
	cleanPath := filepath.Clean(path)
	switch ext := filepath.Ext(cleanPath); ext {
	case ".yaml", ".yml", ".json":
	default:
		return "", fmt.Errorf("config file must have .yaml, .yml or .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return "", fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}
	return cleanPath, nil
}

// Validate checks that the configuration values are usable.
func (c *TuningConfig) Validate() error {
	for _, s := range c.LandmarkTypes {
		if !ili.IsLandmarkType(ili.FeatureType(s)) {
			return fmt.Errorf("landmark_types: %q is not a landmark type", s)
		}
	}
	if c.AnchorType != nil && !ili.IsLandmarkType(ili.FeatureType(*c.AnchorType)) {
		return fmt.Errorf("anchor_type: %q is not a landmark type", *c.AnchorType)
	}
	if v := c.GetMaxSpacingDiff(); v <= 0 || v > 1 {
		return fmt.Errorf("max_spacing_diff must be in (0, 1], got %f", v)
	}
	switch align.OutOfRangePolicy(c.GetOutOfRange()) {
	case align.Extrapolate, align.Reject:
	default:
		return fmt.Errorf("out_of_range must be %q or %q, got %q", align.Extrapolate, align.Reject, c.GetOutOfRange())
	}

	if c.GetDistTol() <= 0 {
		return fmt.Errorf("dist_tol must be positive, got %f", c.GetDistTol())
	}
	if v := c.GetClockTol(); v <= 0 || v > 180 {
		return fmt.Errorf("clock_tol must be in (0, 180], got %f", v)
	}
	if c.GetCostThreshold() <= 0 {
		return fmt.Errorf("cost_threshold must be positive, got %f", c.GetCostThreshold())
	}
	for name, v := range map[string]float64{
		"weight_distance":  c.GetWeightDistance(),
		"weight_clock":     c.GetWeightClock(),
		"weight_depth":     c.GetWeightDepth(),
		"weight_size":      c.GetWeightSize(),
		"type_penalty":     c.GetTypePenalty(),
		"confidence_alpha": c.GetConfidenceAlpha(),
		"confidence_beta":  c.GetConfidenceBeta(),
		"confidence_gamma": c.GetConfidenceGamma(),
	} {
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", name, v)
		}
	}
	if c.GetSigmaDistance() <= 0 || c.GetSigmaClock() <= 0 || c.GetSigmaDepth() <= 0 {
		return fmt.Errorf("sigma_distance, sigma_clock and sigma_depth must be positive")
	}
	for name, v := range map[string]float64{
		"type_mismatch_factor":        c.GetTypeMismatchFactor(),
		"orientation_mismatch_factor": c.GetOrientationMismatchFactor(),
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, v)
		}
	}
	if c.GetParallelism() < 1 {
		return fmt.Errorf("parallelism must be at least 1, got %d", c.GetParallelism())
	}

	if v := c.GetCriticalDepth(); v <= 0 || v > 100 {
		return fmt.Errorf("critical_depth must be in (0, 100], got %f", v)
	}
	if c.GetForecastYears() < 0 {
		return fmt.Errorf("forecast_years must be non-negative, got %f", c.GetForecastYears())
	}
	wr, wd, wl := c.GetSeverityWeightRate(), c.GetSeverityWeightDepth(), c.GetSeverityWeightLife()
	if wr < 0 || wd < 0 || wl < 0 || wr+wd+wl <= 0 {
		return fmt.Errorf("severity weights must be non-negative with a positive sum")
	}
	if c.GetAccelerationThreshold() < 0 {
		return fmt.Errorf("acceleration_threshold must be non-negative, got %f", c.GetAccelerationThreshold())
	}
	if c.GetPowerLawOffset() <= 0 {
		return fmt.Errorf("power_law_offset must be positive, got %f", c.GetPowerLawOffset())
	}

	if c.GetClusterEpsilon() <= 0 {
		return fmt.Errorf("cluster_epsilon must be positive, got %f", c.GetClusterEpsilon())
	}
	if c.GetClusterMinSamples() < 1 {
		return fmt.Errorf("cluster_min_samples must be at least 1, got %d", c.GetClusterMinSamples())
	}
	switch cluster.Mode(c.GetClusterMode()) {
	case cluster.Mode1D, cluster.Mode2D:
	default:
		return fmt.Errorf("cluster_mode must be %q or %q, got %q", cluster.Mode1D, cluster.Mode2D, c.GetClusterMode())
	}
	return nil
}

// GetLandmarkTypes returns the control-point types used for alignment.
func (c *TuningConfig) GetLandmarkTypes() []ili.FeatureType {
	if len(c.LandmarkTypes) == 0 {
		return append([]ili.FeatureType(nil), ili.LandmarkTypes...)
	}
	out := make([]ili.FeatureType, len(c.LandmarkTypes))
	for i, s := range c.LandmarkTypes {
		out[i] = ili.FeatureType(strings.TrimSpace(s))
	}
	return out
}

func (c *TuningConfig) GetAnchorType() ili.FeatureType {
	if c.AnchorType == nil {
		return ili.GirthWeld
	}
	return ili.FeatureType(*c.AnchorType)
}

func (c *TuningConfig) GetMaxSpacingDiff() float64 {
	if c.MaxSpacingDiff == nil {
		return 0.20 // default
	}
	return *c.MaxSpacingDiff
}

func (c *TuningConfig) GetOutOfRange() string {
	if c.OutOfRange == nil {
		return string(align.Extrapolate)
	}
	return *c.OutOfRange
}

func (c *TuningConfig) GetDistTol() float64 {
	if c.DistTol == nil {
		return 10.0 // default
	}
	return *c.DistTol
}

func (c *TuningConfig) GetClockTol() float64 {
	if c.ClockTol == nil {
		return 15.0 // default
	}
	return *c.ClockTol
}

func (c *TuningConfig) GetCostThreshold() float64 {
	if c.CostThreshold == nil {
		return 15.0 // default
	}
	return *c.CostThreshold
}

func (c *TuningConfig) GetWeightDistance() float64 {
	if c.WeightDistance == nil {
		return 1.0 // default
	}
	return *c.WeightDistance
}

func (c *TuningConfig) GetWeightClock() float64 {
	if c.WeightClock == nil {
		return 0.5 // default
	}
	return *c.WeightClock
}

func (c *TuningConfig) GetWeightDepth() float64 {
	if c.WeightDepth == nil {
		return 0.1 // default
	}
	return *c.WeightDepth
}

func (c *TuningConfig) GetWeightSize() float64 {
	if c.WeightSize == nil {
		return 0.05 // default
	}
	return *c.WeightSize
}

func (c *TuningConfig) GetTypePenalty() float64 {
	if c.TypePenalty == nil {
		return 10.0 // default
	}
	return *c.TypePenalty
}

func (c *TuningConfig) GetSigmaDistance() float64 {
	if c.SigmaDistance == nil {
		return 5.0 // default
	}
	return *c.SigmaDistance
}

func (c *TuningConfig) GetSigmaClock() float64 {
	if c.SigmaClock == nil {
		return 15.0 // default
	}
	return *c.SigmaClock
}

func (c *TuningConfig) GetSigmaDepth() float64 {
	if c.SigmaDepth == nil {
		return 10.0 // default
	}
	return *c.SigmaDepth
}

func (c *TuningConfig) GetTypeMismatchFactor() float64 {
	if c.TypeMismatchFactor == nil {
		return 0.5 // default
	}
	return *c.TypeMismatchFactor
}

func (c *TuningConfig) GetOrientationMismatchFactor() float64 {
	if c.OrientationMismatchFactor == nil {
		return 0.5 // default
	}
	return *c.OrientationMismatchFactor
}

func (c *TuningConfig) GetConfidenceAlpha() float64 {
	if c.ConfidenceAlpha == nil {
		return 0.3 // default
	}
	return *c.ConfidenceAlpha
}

func (c *TuningConfig) GetConfidenceBeta() float64 {
	if c.ConfidenceBeta == nil {
		return 0.5 // default
	}
	return *c.ConfidenceBeta
}

func (c *TuningConfig) GetConfidenceGamma() float64 {
	if c.ConfidenceGamma == nil {
		return 0.05 // default
	}
	return *c.ConfidenceGamma
}

func (c *TuningConfig) GetNoRunnerUpMargin() float64 {
	if c.NoRunnerUpMargin == nil {
		return 10.0 // default
	}
	return *c.NoRunnerUpMargin
}

func (c *TuningConfig) GetParallelism() int {
	if c.Parallelism == nil {
		return 4 // default
	}
	return *c.Parallelism
}

func (c *TuningConfig) GetCriticalDepth() float64 {
	if c.CriticalDepth == nil {
		return 80.0 // default
	}
	return *c.CriticalDepth
}

func (c *TuningConfig) GetForecastYears() float64 {
	if c.ForecastYears == nil {
		return 5.0 // default
	}
	return *c.ForecastYears
}

func (c *TuningConfig) GetSeverityWeightRate() float64 {
	if c.SeverityWeightRate == nil {
		return 0.40 // default
	}
	return *c.SeverityWeightRate
}

func (c *TuningConfig) GetSeverityWeightDepth() float64 {
	if c.SeverityWeightDepth == nil {
		return 0.35 // default
	}
	return *c.SeverityWeightDepth
}

func (c *TuningConfig) GetSeverityWeightLife() float64 {
	if c.SeverityWeightLife == nil {
		return 0.25 // default
	}
	return *c.SeverityWeightLife
}

func (c *TuningConfig) GetAccelerationThreshold() float64 {
	if c.AccelerationThreshold == nil {
		return 50.0 // default
	}
	return *c.AccelerationThreshold
}

func (c *TuningConfig) GetPowerLawOffset() float64 {
	if c.PowerLawOffset == nil {
		return 1.0 // default
	}
	return *c.PowerLawOffset
}

func (c *TuningConfig) GetClustering() bool {
	if c.Clustering == nil {
		return false // default
	}
	return *c.Clustering
}

func (c *TuningConfig) GetClusterEpsilon() float64 {
	if c.ClusterEpsilon == nil {
		return cluster.DefaultEpsilon
	}
	return *c.ClusterEpsilon
}

func (c *TuningConfig) GetClusterMinSamples() int {
	if c.ClusterMinSamples == nil {
		return cluster.DefaultMinSamples
	}
	return *c.ClusterMinSamples
}

func (c *TuningConfig) GetClusterMode() string {
	if c.ClusterMode == nil {
		return string(cluster.Mode1D)
	}
	return *c.ClusterMode
}

// AlignParams builds the alignment stage parameters.
func (c *TuningConfig) AlignParams() align.Params {
	return align.Params{
		LandmarkTypes:  c.GetLandmarkTypes(),
		AnchorType:     c.GetAnchorType(),
		MaxSpacingDiff: c.GetMaxSpacingDiff(),
		OutOfRange:     align.OutOfRangePolicy(c.GetOutOfRange()),
	}
}

// MatchParams builds the matcher parameters.
func (c *TuningConfig) MatchParams() match.Params {
	return match.Params{
		DistTol:       c.GetDistTol(),
		ClockTol:      c.GetClockTol(),
		CostThreshold: c.GetCostThreshold(),
		Weights: match.Weights{
			Distance:    c.GetWeightDistance(),
			Clock:       c.GetWeightClock(),
			Depth:       c.GetWeightDepth(),
			Size:        c.GetWeightSize(),
			TypePenalty: c.GetTypePenalty(),
		},
		SigmaDistance:             c.GetSigmaDistance(),
		SigmaClock:                c.GetSigmaClock(),
		SigmaDepth:                c.GetSigmaDepth(),
		TypeMismatchFactor:        c.GetTypeMismatchFactor(),
		OrientationMismatchFactor: c.GetOrientationMismatchFactor(),
		Alpha:                     c.GetConfidenceAlpha(),
		Beta:                      c.GetConfidenceBeta(),
		Gamma:                     c.GetConfidenceGamma(),
		NoRunnerUpMargin:          c.GetNoRunnerUpMargin(),
		Parallelism:               c.GetParallelism(),
	}
}

// GrowthParams builds the growth engine parameters. The survey interval is
// left unset; the pipeline derives it from survey times.
func (c *TuningConfig) GrowthParams() growth.Params {
	return growth.Params{
		CriticalDepth: c.GetCriticalDepth(),
		ForecastYears: c.GetForecastYears(),
		Weights: growth.Weights{
			Rate:  c.GetSeverityWeightRate(),
			Depth: c.GetSeverityWeightDepth(),
			Life:  c.GetSeverityWeightLife(),
		},
		AccelerationThreshold: c.GetAccelerationThreshold(),
		PowerLawOffset:        c.GetPowerLawOffset(),
	}
}

// ClusterParams builds the DBSCAN parameters.
func (c *TuningConfig) ClusterParams() cluster.Params {
	return cluster.Params{
		Epsilon:    c.GetClusterEpsilon(),
		MinSamples: c.GetClusterMinSamples(),
		Mode:       cluster.Mode(c.GetClusterMode()),
	}
}

// PipelineConfig bundles every stage's parameters.
func (c *TuningConfig) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		Align:      c.AlignParams(),
		Match:      c.MatchParams(),
		Growth:     c.GrowthParams(),
		Cluster:    c.ClusterParams(),
		Clustering: c.GetClustering(),
	}
}
