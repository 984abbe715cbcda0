// Package config loads skyguard settings in three layers: built-in defaults,
// an optional YAML file, then SKYGUARD_* environment variables. Command-line
// flags are applied on top by the cmd package.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix marks environment variables read by Load.
	EnvPrefix = "SKYGUARD_"
	// ConfigPathEnvVar overrides the config file location.
	ConfigPathEnvVar = "SKYGUARD_CONFIG"
	// DefaultConfigPath is used when ConfigPathEnvVar is unset.
	DefaultConfigPath = "skyguard.yaml"
)

// Config is the merged application configuration.
type Config struct {
	Scan     ScanConfig     `koanf:"scan"`
	Detector DetectorConfig `koanf:"detector"`
	Output   OutputConfig   `koanf:"output"`
	Motion   MotionConfig   `koanf:"motion"`
	Database DatabaseConfig `koanf:"database"`
	Logging  LoggingConfig  `koanf:"logging"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

// ScanConfig controls frame sampling and worker fan-out.
type ScanConfig struct {
	NthFrame int  `koanf:"nth_frame" validate:"min=1"`
	Engines  int  `koanf:"engines" validate:"min=1,max=64"`
	Persist  bool `koanf:"persist"`
}

// DetectorConfig describes the external detector process.
type DetectorConfig struct {
	Command       []string      `koanf:"command" validate:"min=1,dive,required"`
	Model         string        `koanf:"model" validate:"required"`
	Conf          float64       `koanf:"conf" validate:"gte=0,lte=1"`
	IoU           float64       `koanf:"iou" validate:"gte=0,lte=1"`
	TargetClasses []string      `koanf:"target_classes" validate:"dive,required"`
	ReadTimeout   time.Duration `koanf:"read_timeout" validate:"gte=0"`
}

// OutputConfig names the files written by a scan. An empty JSON path skips
// the JSON export.
type OutputConfig struct {
	CSV  string `koanf:"csv" validate:"required"`
	JSON string `koanf:"json"`
}

// MotionConfig tunes the motion estimator.
type MotionConfig struct {
	MaxDt float64 `koanf:"max_dt" validate:"gt=0"`
}

// DatabaseConfig holds the PostgreSQL connection string. When empty the
// POSTGRES_* variables are consulted, see DatabaseURL.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Scan: ScanConfig{
			NthFrame: 10,
			Engines:  1,
		},
		Detector: DetectorConfig{
			Command:     []string{"python3", "-u", "python/detect.py"},
			Model:       "yolov8n.pt",
			Conf:        0.35,
			IoU:         0.45,
			ReadTimeout: 30 * time.Second,
		},
		Output: OutputConfig{
			CSV:  "detections.csv",
			JSON: "detections.json",
		},
		Motion: MotionConfig{
			MaxDt: 1.0,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
		},
	}
}

// Load merges defaults, the config file and the environment, then validates
// the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional unless explicitly named)
	path, explicit := configPath()
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	// Layer 3: environment
	// SKYGUARD_SCAN_NTH_FRAME -> scan.nth_frame
	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func configPath() (string, bool) {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p, true
	}
	return DefaultConfigPath, false
}

// envTransformFunc maps SKYGUARD_SECTION_SOME_KEY to section.some_key.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if key == "config" {
		return ""
	}
	section, rest, found := strings.Cut(key, "_")
	if !found {
		return key
	}
	return section + "." + rest
}

// sliceConfigPaths lists the fields that arrive as plain strings from the
// environment, each with its separator.
var sliceConfigPaths = map[string]func(string) []string{
	"detector.command":        strings.Fields,
	"detector.target_classes": splitComma,
}

func splitComma(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// processSliceFields converts string values to slices for known slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for path, split := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		if err := k.Set(path, split(strVal)); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks every field constraint and reports all failures at once.
func (c *Config) Validate() error {
	err := getValidator().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// DatabaseURL returns the configured connection string, falling back to the
// POSTGRES_* environment variables and finally to a local default.
func (c *Config) DatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	return "postgres://localhost:5432/skyguard"
}
