// Package config loads server settings from an optional YAML file and then
// from the environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcules/model-registry/internal/features"
	"github.com/mcules/model-registry/internal/legacy"
	"github.com/mcules/model-registry/internal/predict"
	"github.com/mcules/model-registry/internal/registry"
)

// PathEnv names the YAML file to read before environment overrides.
const PathEnv = "MODELREG_CONFIG"

type Config struct {
	ModelRoot      string  `yaml:"model_root"`
	LegacyRoot     string  `yaml:"legacy_root"`
	LegacyFallback bool    `yaml:"legacy_fallback"`
	Threshold      float64 `yaml:"decision_threshold"`
	CacheSize      int     `yaml:"cache_size"`
	ScoreTimeoutMs int     `yaml:"score_timeout_ms"`
	HTTPAddr       string  `yaml:"http_addr"`
	GRPCAddr       string  `yaml:"grpc_addr"`
	PoliciesDBPath string  `yaml:"policies_db_path"`
	// WarmIntervalSeconds of 0 disables periodic warming; pointer changes
	// are still picked up by the file watch.
	WarmIntervalSeconds int    `yaml:"warm_interval_seconds"`
	ActivitySize        int    `yaml:"activity_size"`
	LogLevel            int    `yaml:"log_level"`
	LogDev              bool   `yaml:"log_dev"`
	DefaultFamily       string `yaml:"default_family"`

	DefaultConstraints features.Constraints `yaml:"default_constraints"`
	LegacyFiles        map[string]string    `yaml:"legacy_files"`
}

func Default() Config {
	return Config{
		ModelRoot:           "models",
		LegacyRoot:          "models",
		LegacyFallback:      true,
		Threshold:           predict.DefaultThreshold,
		CacheSize:           registry.DefaultCacheSize,
		ScoreTimeoutMs:      2000,
		HTTPAddr:            ":8080",
		GRPCAddr:            ":9090",
		PoliciesDBPath:      "policies.db",
		WarmIntervalSeconds: 30,
		ActivitySize:        300,
		DefaultFamily:       "xgb",
		DefaultConstraints:  maps.Clone(features.DefaultConstraints),
		LegacyFiles:         maps.Clone(legacy.DefaultFiles),
	}
}

// Load reads the file named by MODELREG_CONFIG, if set, then applies the
// environment and validates the result.
func Load() (Config, error) {
	return LoadFrom(os.Getenv(PathEnv), os.LookupEnv)
}

// LoadFrom is Load with an explicit file path and environment lookup.
func LoadFrom(path string, lookup func(string) (string, bool)) (Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		// Maps in the file replace the defaults instead of merging into them.
		defaults := c
		c.DefaultConstraints, c.LegacyFiles = nil, nil
		if err := yaml.Unmarshal(b, &c); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		if c.DefaultConstraints == nil {
			c.DefaultConstraints = defaults.DefaultConstraints
		}
		if c.LegacyFiles == nil {
			c.LegacyFiles = defaults.LegacyFiles
		}
	}

	env := envReader{lookup: lookup}
	c.ModelRoot = env.str("MODEL_ROOT", c.ModelRoot)
	c.LegacyRoot = env.str("LEGACY_ROOT", c.LegacyRoot)
	c.LegacyFallback = env.boolean("LEGACY_FALLBACK", c.LegacyFallback)
	c.Threshold = env.float("DECISION_THRESHOLD", c.Threshold)
	c.CacheSize = env.integer("CACHE_SIZE", c.CacheSize)
	c.ScoreTimeoutMs = env.integer("SCORE_TIMEOUT_MS", c.ScoreTimeoutMs)
	c.HTTPAddr = env.str("HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = env.str("GRPC_ADDR", c.GRPCAddr)
	c.PoliciesDBPath = env.str("POLICIES_DB_PATH", c.PoliciesDBPath)
	c.WarmIntervalSeconds = env.integer("WARM_INTERVAL_SECONDS", c.WarmIntervalSeconds)
	c.LogLevel = env.integer("LOG_LEVEL", c.LogLevel)
	c.LogDev = env.boolean("LOG_DEV", c.LogDev)

	if err := errors.Join(env.errs...); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ModelRoot) == "" {
		errs = append(errs, errors.New("model_root must not be empty"))
	}
	// Predictors treat a zero threshold as unset, so it cannot be configured.
	if c.Threshold <= 0 || c.Threshold > 1 {
		errs = append(errs, fmt.Errorf("decision_threshold %v out of range (0,1]", c.Threshold))
	}
	if c.CacheSize <= 0 {
		errs = append(errs, fmt.Errorf("cache_size must be positive, got %d", c.CacheSize))
	}
	if c.ScoreTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("score_timeout_ms must not be negative, got %d", c.ScoreTimeoutMs))
	}
	if c.WarmIntervalSeconds < 0 {
		errs = append(errs, fmt.Errorf("warm_interval_seconds must not be negative, got %d", c.WarmIntervalSeconds))
	}
	for name, b := range c.DefaultConstraints {
		if b.Min != nil && b.Max != nil && *b.Min > *b.Max {
			errs = append(errs, fmt.Errorf("default constraint %q: min > max", name))
		}
	}
	return errors.Join(errs...)
}

func (c Config) ScoreTimeout() time.Duration {
	return time.Duration(c.ScoreTimeoutMs) * time.Millisecond
}

func (c Config) WarmInterval() time.Duration {
	return time.Duration(c.WarmIntervalSeconds) * time.Second
}

// envReader collects parse errors instead of silently keeping defaults.
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(k string) (string, bool) {
	v, ok := e.lookup(k)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) str(k, def string) string {
	if v, ok := e.get(k); ok {
		return v
	}
	return def
}

func (e *envReader) integer(k string, def int) int {
	v, ok := e.get(k)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return n
}

func (e *envReader) float(k string, def float64) float64 {
	v, ok := e.get(k)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return f
}

func (e *envReader) boolean(k string, def bool) bool {
	v, ok := e.get(k)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return b
}
