package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment override, e.g. ILI_DIST_TOL.
	EnvPrefix = "ILI_"
	// EnvConfigPath names the file Load reads when no path is given.
	EnvConfigPath = EnvPrefix + "CONFIG"
)

// Load builds a TuningConfig by layering, lowest precedence first:
//  1. built-in defaults (the Get* accessors)
//  2. the file at path, or at $ILI_CONFIG when path is empty
//  3. ILI_* environment variables
//
// Keys are flat, so ILI_COST_THRESHOLD overrides cost_threshold. List
// values such as ILI_LANDMARK_TYPES are comma separated.
func Load(path string) (*TuningConfig, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	var k *koanf.Koanf
	if path != "" {
		cleanPath, err := checkConfigFile(path)
		if err != nil {
			return nil, err
		}
		if k, err = newKoanf(cleanPath); err != nil {
			return nil, err
		}
	} else {
		k = koanf.New(".")
	}

	if err := k.Load(envProvider(), nil); err != nil {
		return nil, fmt.Errorf("failed to read %s* environment: %w", EnvPrefix, err)
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

// newKoanf loads one file. The YAML parser also accepts JSON documents.
func newKoanf(path string) (*koanf.Koanf, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return k, nil
}

func envProvider() *env.Env {
	return env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, interface{}) {
		if key == EnvConfigPath {
			return "", nil
		}
		key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
		if key == "landmark_types" {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return key, parts
		}
		return key, value
	})
}

func unmarshal(k *koanf.Koanf) (*TuningConfig, error) {
	cfg := EmptyTuningConfig()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return cfg, nil
}
