package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix marks environment variables that override the file
	EnvPrefix = "MAXIMIZE_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// sections are the top-level keys holding nested fields
var sections = map[string]bool{
	"sampler":  true,
	"model":    true,
	"parallel": true,
	"output":   true,
}

// Load reads the YAML file at path, then applies MAXIMIZE_* environment overrides.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (MAXIMIZE_SAMPLER_MAX_TRIES, MAXIMIZE_SEED, ...)
//  2. YAML config file
//  3. Default()
//
// An empty path loads defaults and the environment only.
//
// # Environment Variable Mapping
//
// The prefix is stripped and the rest split on the first underscore when it names a
// section:
//
//	MAXIMIZE_SAMPLER_MAX_TRIES -> sampler.max_tries
//	MAXIMIZE_PARALLEL_NATS_URL -> parallel.nats_url
//	MAXIMIZE_LOG_LEVEL         -> log_level
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Read is Load without validation, for callers that adjust the result first.
// The caller must run Validate before using the configuration.
func Read(path string) (*Config, error) {
	var content []byte
	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
		}
		content, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return load(content, true)
}

// Parse reads a YAML (or JSON) document without environment overrides.
// The server uses it for submitted run configurations.
func Parse(content []byte) (*Config, error) {
	if len(content) > maxConfigFileSize {
		return nil, fmt.Errorf("config too large: %d bytes (max %d)", len(content), maxConfigFileSize)
	}
	cfg, err := load(content, false)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func load(content []byte, withEnv bool) (*Config, error) {
	k := koanf.New(".")

	if len(content) > 0 {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if withEnv {
		if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
			return nil, fmt.Errorf("failed to load environment variables: %w", err)
		}
	}

	// Keys absent from every source keep their default
	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// envKey maps MAXIMIZE_SECTION_FIELD_NAME to section.field_name
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 2 && sections[parts[0]] {
		return parts[0] + "." + parts[1]
	}
	return lower
}
