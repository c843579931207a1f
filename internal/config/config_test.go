package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/jeffypooo/resgraph/internal/metrics"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "resgraph.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	opts := cfg.Options()
	if opts.Interval != time.Second {
		t.Errorf("interval = %s, want 1s", opts.Interval)
	}
	if opts.MaxDiskThroughput != 200*1024*1024 {
		t.Errorf("throughput = %v, want 200 MiB/s", opts.MaxDiskThroughput)
	}
	if opts.CPUMode != metrics.CPUModeCarried {
		t.Errorf("cpu mode = %s", opts.CPUMode)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
interval_ms: 250
max_disk_throughput_bytes_per_sec: 1048576
cpu_mode: blocking
log_level: debug
history_limit: 10
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Interval() != 250*time.Millisecond {
		t.Errorf("interval = %s", cfg.Interval())
	}
	if cfg.MaxDiskThroughputBytesPerSec != 1048576 {
		t.Errorf("throughput = %v", cfg.MaxDiskThroughputBytesPerSec)
	}
	if cfg.Options().CPUMode != metrics.CPUModeBlocking {
		t.Errorf("cpu mode = %s", cfg.CPUMode)
	}
	if cfg.Level() != log.DEBUG {
		t.Errorf("level = %v", cfg.Level())
	}
	if cfg.Listen != ":8080" {
		t.Errorf("listen = %q, want default", cfg.Listen)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RESGRAPH_INTERVAL", "2s")
	t.Setenv("RESGRAPH_MAX_DISK_THROUGHPUT", "5000")
	t.Setenv("RESGRAPH_LISTEN", "127.0.0.1:9000")

	cfg, err := Load(writeFile(t, "interval_ms: 100\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Interval() != 2*time.Second {
		t.Errorf("interval = %s, want 2s", cfg.Interval())
	}
	if cfg.MaxDiskThroughputBytesPerSec != 5000 {
		t.Errorf("throughput = %v", cfg.MaxDiskThroughputBytesPerSec)
	}
	if cfg.Listen != "127.0.0.1:9000" {
		t.Errorf("listen = %q", cfg.Listen)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero interval", "interval_ms: 0\n"},
		{"negative throughput", "max_disk_throughput_bytes_per_sec: -1\n"},
		{"unknown cpu mode", "cpu_mode: sometimes\n"},
		{"unknown log level", "log_level: loud\n"},
		{"bad yaml", "interval_ms: [1, 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeFile(t, tt.body)); err == nil {
				t.Error("Load() succeeded, want error")
			}
		})
	}
}
