package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
scheduler:
  worker_count: 6
logging:
  level: "debug"
  format: "console"
datastore:
  dsn: "postgres://localhost/tagwatch"
object_store:
  bucket: "screenshots"
`
	path := createTempConfig(t, content)
	defer os.Remove(path)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Scheduler.WorkerCount != 6 {
		t.Errorf("Scheduler.WorkerCount = %d, want %d", cfg.Scheduler.WorkerCount, 6)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "console" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "console")
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := createTempConfig(t, minimalConfig())
	defer os.Remove(path)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Scheduler.WorkerCount != defaultWorkerCount {
		t.Errorf("Scheduler.WorkerCount = %d, want default %d", cfg.Scheduler.WorkerCount, defaultWorkerCount)
	}
	if cfg.Scheduler.Phase1TimeoutMs != defaultPhase1TimeoutMs {
		t.Errorf("Scheduler.Phase1TimeoutMs = %d, want default %d", cfg.Scheduler.Phase1TimeoutMs, defaultPhase1TimeoutMs)
	}
	if cfg.Scheduler.Phase2TimeoutMs != defaultPhase2TimeoutMs {
		t.Errorf("Scheduler.Phase2TimeoutMs = %d, want default %d", cfg.Scheduler.Phase2TimeoutMs, defaultPhase2TimeoutMs)
	}
	if cfg.Logging.Level != defaultLogLevel {
		t.Errorf("Logging.Level = %q, want default %q", cfg.Logging.Level, defaultLogLevel)
	}
	if cfg.Browser.PoolSize != cfg.Scheduler.WorkerCount {
		t.Errorf("Browser.PoolSize = %d, want it to default to WorkerCount %d", cfg.Browser.PoolSize, cfg.Scheduler.WorkerCount)
	}
	if cfg.Lock.Path != defaultLockPath {
		t.Errorf("Lock.Path = %q, want default %q", cfg.Lock.Path, defaultLockPath)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	path := createTempConfig(t, minimalConfig())
	defer os.Remove(path)

	os.Setenv("TAGWATCH_WORKER_COUNT", "9")
	os.Setenv("TAGWATCH_LOG_LEVEL", "debug")
	defer func() {
		os.Unsetenv("TAGWATCH_WORKER_COUNT")
		os.Unsetenv("TAGWATCH_LOG_LEVEL")
	}()

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Scheduler.WorkerCount != 9 {
		t.Errorf("Scheduler.WorkerCount = %d, want %d (from env)", cfg.Scheduler.WorkerCount, 9)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q (from env)", cfg.Logging.Level, "debug")
	}
}

func TestLoad_InvalidWorkerCount(t *testing.T) {
	tests := []struct {
		name  string
		count int
	}{
		{"negative", -1},
		{"too high", 99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := `
scheduler:
  worker_count: ` + itoa(tt.count) + `
datastore:
  dsn: "postgres://localhost/tagwatch"
object_store:
  bucket: "screenshots"
`
			path := createTempConfig(t, content)
			defer os.Remove(path)

			_, err := Load(path)
			if err == nil {
				t.Errorf("Load() expected error for worker_count %d, got nil", tt.count)
			}
		})
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	content := minimalConfig() + "logging:\n  level: \"invalid\"\n"
	path := createTempConfig(t, content)
	defer os.Remove(path)

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid log level, got nil")
	}
}

func TestLoad_MissingDSN(t *testing.T) {
	content := `
object_store:
  bucket: "screenshots"
`
	path := createTempConfig(t, content)
	defer os.Remove(path)

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for missing datastore DSN, got nil")
	}
}

func TestLoad_MissingBucket(t *testing.T) {
	content := `
datastore:
  dsn: "postgres://localhost/tagwatch"
`
	path := createTempConfig(t, content)
	defer os.Remove(path)

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for missing object store bucket, got nil")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() expected error for non-existent file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	content := `
scheduler:
  worker_count: [invalid yaml
`
	path := createTempConfig(t, content)
	defer os.Remove(path)

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestPhase2HardDeadline(t *testing.T) {
	cfg := &Config{Scheduler: SchedulerConfig{Phase2TimeoutMs: 60000}}
	if got, want := cfg.Phase2HardDeadline().Seconds(), 90.0; got != want {
		t.Errorf("Phase2HardDeadline() = %vs, want %vs", got, want)
	}
}

// Helper functions

func minimalConfig() string {
	return `
datastore:
  dsn: "postgres://localhost/tagwatch"
object_store:
  bucket: "screenshots"
`
}

func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create temp config: %v", err)
	}
	return path
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	if i < 0 {
		return "-" + itoa(-i)
	}
	result := ""
	for i > 0 {
		result = string(rune('0'+i%10)) + result
		i /= 10
	}
	return result
}
