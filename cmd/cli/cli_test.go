package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/jeffypooo/resgraph/internal/metrics"
)

type stubSource struct{}

func (stubSource) DiskDevices(ctx context.Context) ([]string, error) {
	return []string{"/dev/sda", "sda1"}, nil
}

func (stubSource) CPUTicks(ctx context.Context) (metrics.CPUTicks, error) {
	return metrics.CPUTicks{}, nil
}

func (stubSource) Memory(ctx context.Context) (uint64, uint64, error) {
	return 4096 * 1024 * 1024, 1024 * 1024 * 1024, nil
}

func (stubSource) DiskCounters(ctx context.Context, device string) (uint64, uint64, error) {
	return 0, 0, nil
}

func runCLI(t *testing.T, ctx context.Context, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	orig := newSource
	newSource = func() metrics.Source { return stubSource{} }
	t.Cleanup(func() { newSource = orig })
	t.Setenv("RESGRAPH_INTERVAL", "10ms")

	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cfg := filepath.Join(t.TempDir(), "missing.yaml")
	cmd.SetArgs(append(args, "--config", cfg))
	return &out, cmd.ExecuteContext(ctx)
}

func TestSampleCommandPrintsCount(t *testing.T) {
	out, err := runCLI(t, context.Background(), "sample", "-n", "3")
	if err != nil {
		t.Fatalf("sample error = %v", err)
	}

	lines := bufio.NewScanner(out)
	var n int
	for lines.Scan() {
		var s metrics.Sample
		if err := json.Unmarshal(lines.Bytes(), &s); err != nil {
			t.Fatalf("line %d is not a sample: %v", n, err)
		}
		if s.Tick != uint64(n) {
			t.Errorf("line %d tick = %d", n, s.Tick)
		}
		if s.MemoryUsedMB != 3072 {
			t.Errorf("line %d memory = %d, want 3072", n, s.MemoryUsedMB)
		}
		n++
	}
	if n != 3 {
		t.Errorf("printed %d samples, want 3", n)
	}
}

func TestSampleCommandHugeCount(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// the count must not size any allocation
	out, err := runCLI(t, ctx, "sample", "-n", "1099511627776")
	if err != nil {
		t.Fatalf("sample error = %v", err)
	}
	if out.Len() == 0 {
		t.Error("no samples printed before the context ended")
	}
}

func TestDisksCommand(t *testing.T) {
	out, err := runCLI(t, context.Background(), "disks")
	if err != nil {
		t.Fatalf("disks error = %v", err)
	}
	var disks []metrics.DiskState
	if err := json.Unmarshal(out.Bytes(), &disks); err != nil {
		t.Fatalf("output is not a disk list: %v\n%s", err, out.String())
	}
	if len(disks) != 1 || disks[0].DiskID != "sda" {
		t.Errorf("disks = %+v, want only sda", disks)
	}
}
