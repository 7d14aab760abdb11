package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads a simulation file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
//
// Defaults are applied; validation is left to Validate.
func LoadConfig(path string) (*SimulationConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration data.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*SimulationConfig, error) {
	var cfg SimulationConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	var seconds int
	var rest string
	if n, _ := fmt.Sscanf(s, "%d%s", &seconds, &rest); n == 1 {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ApplyDefaults fills in request methods and names.
func ApplyDefaults(cfg *SimulationConfig) {
	if cfg.Protocol.Timeout == 0 {
		cfg.Protocol.Timeout = Duration(30 * time.Second)
	}
	for name, sc := range cfg.Scenarios {
		if sc == nil {
			continue
		}
		applyStepDefaults(name, sc.Steps)
	}
}

func applyStepDefaults(scenario string, steps []StepConfig) {
	for i := range steps {
		st := &steps[i]
		switch {
		case st.Request != nil:
			if st.Request.Method == "" {
				st.Request.Method = http.MethodGet
			}
			st.Request.Method = strings.ToUpper(st.Request.Method)
			if st.Request.Name == "" {
				st.Request.Name = fmt.Sprintf("%s_request_%d", scenario, i+1)
			}
		case st.Repeat != nil:
			applyStepDefaults(scenario, st.Repeat.Steps)
		case st.If != nil:
			applyStepDefaults(scenario, st.If.Then)
			applyStepDefaults(scenario, st.If.Else)
		case st.Group != nil:
			applyStepDefaults(scenario, st.Group.Steps)
		case st.Once != nil:
			applyStepDefaults(scenario, st.Once.Steps)
		}
	}
}
