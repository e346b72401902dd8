package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// maxConfigSize caps config files at 1MB.
	maxConfigSize = 1 << 20

	envPrefix = "CONDUCTORD_"
)

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "conductord", "config.yaml")
}

// Load reads configuration from the given YAML file (if it exists) and the
// environment, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		data, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if data != nil {
			if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	// CONDUCTORD_ENGINE_MAX_GATE_RETRIES -> engine.max_gate_retries
	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	expandPaths(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns a configuration with all defaults applied and no file or
// environment input.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	expandPaths(&cfg)
	return &cfg
}

// readConfigFile loads the file after basic safety checks. A missing file is
// not an error; conductord runs fine on defaults.
func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat config file %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	return data, nil
}

// envTransform maps CONDUCTORD_SECTION_FIELD_NAME to section.field_name.
// Only the first underscore separates the section; the rest stay as-is so
// multi-word keys like max_gate_retries survive.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	parts := strings.SplitN(key, "_", 2)
	if len(parts) == 1 {
		return parts[0]
	}
	section, rest := parts[0], parts[1]
	// The pattern store has one extra level of nesting.
	if section == "patternstore" {
		for _, sub := range []string{"chromem", "qdrant", "fallback", "retention"} {
			if strings.HasPrefix(rest, sub+"_") {
				return section + "." + sub + "." + strings.TrimPrefix(rest, sub+"_")
			}
		}
	}
	return section + "." + rest
}

// expandPaths resolves leading ~ in configured paths.
func expandPaths(cfg *Config) {
	cfg.Engine.DataDir = expandHome(cfg.Engine.DataDir)
	cfg.PatternStore.Chromem.Path = expandHome(cfg.PatternStore.Chromem.Path)
	cfg.PatternStore.Fallback.WALPath = expandHome(cfg.PatternStore.Fallback.WALPath)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
