package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/ili.report/internal/ili"
	"github.com/banshee-data/ili.report/internal/ili/align"
	"github.com/banshee-data/ili.report/internal/ili/cluster"
	"github.com/banshee-data/ili.report/internal/ili/pipeline"
)

func TestDefaultTuningConfig(t *testing.T) {
	cfg := DefaultTuningConfig()

	if cfg.DistTol == nil || *cfg.DistTol != 10.0 {
		t.Errorf("Expected DistTol 10, got %v", cfg.DistTol)
	}
	if cfg.ClockTol == nil || *cfg.ClockTol != 15.0 {
		t.Errorf("Expected ClockTol 15, got %v", cfg.ClockTol)
	}
	if cfg.CostThreshold == nil || *cfg.CostThreshold != 15.0 {
		t.Errorf("Expected CostThreshold 15, got %v", cfg.CostThreshold)
	}
	if cfg.CriticalDepth == nil || *cfg.CriticalDepth != 80.0 {
		t.Errorf("Expected CriticalDepth 80, got %v", cfg.CriticalDepth)
	}
	if cfg.ForecastYears == nil || *cfg.ForecastYears != 5.0 {
		t.Errorf("Expected ForecastYears 5, got %v", cfg.ForecastYears)
	}
	if cfg.Clustering == nil || *cfg.Clustering {
		t.Errorf("Expected Clustering false, got %v", cfg.Clustering)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestEmptyConfigMatchesStageDefaults(t *testing.T) {
	got := EmptyTuningConfig().PipelineConfig()
	want := pipeline.DefaultConfig()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("empty config builds non-default pipeline config (-want +got):\n%s", diff)
	}

	// A fully populated config must build the same thing.
	if diff := cmp.Diff(want, DefaultTuningConfig().PipelineConfig()); diff != "" {
		t.Errorf("DefaultTuningConfig builds non-default pipeline config (-want +got):\n%s", diff)
	}
}

func TestDefaultsFileMatchesCode(t *testing.T) {
	fromFile := MustLoadDefaultConfig()
	if diff := cmp.Diff(DefaultTuningConfig(), fromFile); diff != "" {
		t.Errorf("%s drifted from DefaultTuningConfig (-code +file):\n%s", DefaultConfigPath, diff)
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("partial yaml keeps defaults", func(t *testing.T) {
		path := filepath.Join(tmpDir, "partial.yaml")
		content := "dist_tol: 12.5\nclustering: true\ncluster_mode: 2d\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		cfg, err := LoadTuningConfig(path)
		if err != nil {
			t.Fatalf("LoadTuningConfig failed: %v", err)
		}
		if cfg.GetDistTol() != 12.5 {
			t.Errorf("GetDistTol() = %f, want 12.5", cfg.GetDistTol())
		}
		if cfg.GetClockTol() != 15.0 {
			t.Errorf("GetClockTol() = %f, want default 15", cfg.GetClockTol())
		}
		pc := cfg.PipelineConfig()
		if !pc.Clustering || pc.Cluster.Mode != cluster.Mode2D {
			t.Errorf("clustering not enabled in 2d mode: %+v", pc.Cluster)
		}
	})

	t.Run("json accepted", func(t *testing.T) {
		path := filepath.Join(tmpDir, "tuning.json")
		content := `{"out_of_range": "reject", "landmark_types": ["girth_weld", "valve"], "parallelism": 2}`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		cfg, err := LoadTuningConfig(path)
		if err != nil {
			t.Fatalf("LoadTuningConfig failed: %v", err)
		}
		ap := cfg.AlignParams()
		if ap.OutOfRange != align.Reject {
			t.Errorf("OutOfRange = %q, want reject", ap.OutOfRange)
		}
		if diff := cmp.Diff([]ili.FeatureType{ili.GirthWeld, ili.Valve}, ap.LandmarkTypes); diff != "" {
			t.Errorf("LandmarkTypes mismatch (-want +got):\n%s", diff)
		}
		if cfg.MatchParams().Parallelism != 2 {
			t.Errorf("Parallelism = %d, want 2", cfg.MatchParams().Parallelism)
		}
	})

	t.Run("bad extension", func(t *testing.T) {
		path := filepath.Join(tmpDir, "tuning.txt")
		if err := os.WriteFile(path, []byte("dist_tol: 1"), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}
		if _, err := LoadTuningConfig(path); err == nil {
			t.Error("expected error for .txt extension")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadTuningConfig(filepath.Join(tmpDir, "nope.yaml")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("invalid value", func(t *testing.T) {
		path := filepath.Join(tmpDir, "invalid.yaml")
		if err := os.WriteFile(path, []byte("cost_threshold: -1\n"), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}
		_, err := LoadTuningConfig(path)
		if err == nil || !strings.Contains(err.Error(), "cost_threshold") {
			t.Errorf("expected cost_threshold validation error, got %v", err)
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *TuningConfig
		wantErr string
	}{
		{"empty is valid", EmptyTuningConfig(), ""},
		{"unknown landmark", &TuningConfig{LandmarkTypes: []string{"metal_loss"}}, "landmark_types"},
		{"bad anchor", &TuningConfig{AnchorType: ptrString("dent")}, "anchor_type"},
		{"bad policy", &TuningConfig{OutOfRange: ptrString("clamp")}, "out_of_range"},
		{"spacing above one", &TuningConfig{MaxSpacingDiff: ptrFloat64(1.5)}, "max_spacing_diff"},
		{"zero dist tol", &TuningConfig{DistTol: ptrFloat64(0)}, "dist_tol"},
		{"clock tol too wide", &TuningConfig{ClockTol: ptrFloat64(200)}, "clock_tol"},
		{"negative weight", &TuningConfig{WeightClock: ptrFloat64(-0.1)}, "weight_clock"},
		{"zero sigma", &TuningConfig{SigmaDepth: ptrFloat64(0)}, "sigma"},
		{"factor above one", &TuningConfig{TypeMismatchFactor: ptrFloat64(2)}, "type_mismatch_factor"},
		{"zero parallelism", &TuningConfig{Parallelism: ptrInt(0)}, "parallelism"},
		{"critical depth above 100", &TuningConfig{CriticalDepth: ptrFloat64(120)}, "critical_depth"},
		{"all severity weights zero", &TuningConfig{
			SeverityWeightRate:  ptrFloat64(0),
			SeverityWeightDepth: ptrFloat64(0),
			SeverityWeightLife:  ptrFloat64(0),
		}, "severity weights"},
		{"zero power law offset", &TuningConfig{PowerLawOffset: ptrFloat64(0)}, "power_law_offset"},
		{"zero epsilon", &TuningConfig{ClusterEpsilon: ptrFloat64(0)}, "cluster_epsilon"},
		{"zero min samples", &TuningConfig{ClusterMinSamples: ptrInt(0)}, "cluster_min_samples"},
		{"bad cluster mode", &TuningConfig{ClusterMode: ptrString("3d")}, "cluster_mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
