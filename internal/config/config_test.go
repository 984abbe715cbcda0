package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// isolate points the loader at an empty directory so a skyguard.yaml next to
// the test binary cannot leak in.
func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
	t.Setenv(ConfigPathEnvVar, "")
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := Default()
	if cfg.Scan != want.Scan || cfg.Output != want.Output || cfg.Motion != want.Motion || cfg.Logging != want.Logging {
		t.Errorf("Load() = %+v, want defaults %+v", cfg, want)
	}
	if !reflect.DeepEqual(cfg.Detector.Command, want.Detector.Command) || cfg.Detector.Model != want.Detector.Model {
		t.Errorf("detector = %+v, want %+v", cfg.Detector, want.Detector)
	}
	if cfg.Detector.ReadTimeout != want.Detector.ReadTimeout || len(cfg.Detector.TargetClasses) != 0 {
		t.Errorf("detector = %+v, want %+v", cfg.Detector, want.Detector)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	isolate(t)

	path := filepath.Join(t.TempDir(), "custom.yaml")
	yaml := `
scan:
  nth_frame: 5
  engines: 4
detector:
  command: "python3 detect.py"
  conf: 0.5
  target_classes: [drone, bird]
motion:
  max_dt: 2.5
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("SKYGUARD_SCAN_ENGINES", "8")
	t.Setenv("SKYGUARD_DETECTOR_READ_TIMEOUT", "5s")
	t.Setenv("SKYGUARD_LOGGING_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Scan.NthFrame != 5 {
		t.Errorf("file value lost: nth_frame = %d", cfg.Scan.NthFrame)
	}
	if cfg.Scan.Engines != 8 {
		t.Errorf("env should override file: engines = %d", cfg.Scan.Engines)
	}
	if !reflect.DeepEqual(cfg.Detector.Command, []string{"python3", "detect.py"}) {
		t.Errorf("command = %q", cfg.Detector.Command)
	}
	if !reflect.DeepEqual(cfg.Detector.TargetClasses, []string{"drone", "bird"}) {
		t.Errorf("target classes = %q", cfg.Detector.TargetClasses)
	}
	if cfg.Detector.Conf != 0.5 || cfg.Detector.Model != "yolov8n.pt" {
		t.Errorf("detector = %+v", cfg.Detector)
	}
	if cfg.Detector.ReadTimeout != 5*time.Second {
		t.Errorf("read timeout = %v", cfg.Detector.ReadTimeout)
	}
	if cfg.Motion.MaxDt != 2.5 || cfg.Logging.Level != "debug" {
		t.Errorf("motion/logging = %+v %+v", cfg.Motion, cfg.Logging)
	}
}

func TestLoadEnvSlices(t *testing.T) {
	isolate(t)
	t.Setenv("SKYGUARD_DETECTOR_TARGET_CLASSES", " drone, ,airplane ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(cfg.Detector.TargetClasses, []string{"drone", "airplane"}) {
		t.Errorf("target classes = %q", cfg.Detector.TargetClasses)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	isolate(t)
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "nope.yaml"))

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	isolate(t)
	t.Setenv("SKYGUARD_SCAN_NTH_FRAME", "0")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "NthFrame") {
		t.Fatalf("expected NthFrame validation error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"Defaults", func(c *Config) {}, ""},
		{"Zero Engines", func(c *Config) { c.Scan.Engines = 0 }, "Engines"},
		{"Conf Above One", func(c *Config) { c.Detector.Conf = 1.5 }, "Conf"},
		{"Empty Command", func(c *Config) { c.Detector.Command = nil }, "Command"},
		{"Blank Target Class", func(c *Config) { c.Detector.TargetClasses = []string{""} }, "TargetClasses"},
		{"Zero MaxDt", func(c *Config) { c.Motion.MaxDt = 0 }, "MaxDt"},
		{"Bad Log Format", func(c *Config) { c.Logging.Format = "xml" }, "Format"},
		{"Missing CSV", func(c *Config) { c.Output.CSV = "" }, "CSV"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDatabaseURL(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "")

	cfg := Default()
	if got := cfg.DatabaseURL(); got != "postgres://localhost:5432/skyguard" {
		t.Errorf("default DatabaseURL = %q", got)
	}

	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "u")
	t.Setenv("POSTGRES_PASSWORD", "p")
	t.Setenv("POSTGRES_DB", "sky")
	t.Setenv("POSTGRES_PORT", "")
	if got := cfg.DatabaseURL(); got != "postgres://u:p@db:5432/sky" {
		t.Errorf("env DatabaseURL = %q", got)
	}

	cfg.Database.URL = "postgres://explicit/db"
	if got := cfg.DatabaseURL(); got != "postgres://explicit/db" {
		t.Errorf("explicit DatabaseURL = %q", got)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := map[string]string{
		"SKYGUARD_SCAN_NTH_FRAME":   "scan.nth_frame",
		"SKYGUARD_DATABASE_URL":     "database.url",
		"SKYGUARD_METRICS_ADDR":     "metrics.addr",
		"SKYGUARD_CONFIG":           "",
		"SKYGUARD_DETECTOR_IOU":     "detector.iou",
		"SKYGUARD_MOTION_MAX_DT":    "motion.max_dt",
		"SKYGUARD_OUTPUT_JSON":      "output.json",
		"SKYGUARD_LOGGING_FORMAT":   "logging.format",
		"SKYGUARD_SCAN_PERSIST":     "scan.persist",
		"SKYGUARD_DETECTOR_COMMAND": "detector.command",
	}
	for in, want := range tests {
		if got := envTransformFunc(in); got != want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", in, got, want)
		}
	}
}
