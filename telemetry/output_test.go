package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFrameStatsFromLoad(t *testing.T) {
	fs := FrameStatsFromLoad(3, 1500, 4, []int{10, 20, 0})
	if fs.Frame != 3 || fs.TickUS != 1500 {
		t.Errorf("got %+v", fs)
	}
	if fs.NumWorkers != 4 || fs.ActiveWorkers != 3 {
		t.Errorf("worker counts = %d/%d, want 4/3", fs.NumWorkers, fs.ActiveWorkers)
	}
	if fs.TotalParticles != 30 {
		t.Errorf("TotalParticles = %d, want 30", fs.TotalParticles)
	}
	if fs.WorkerLoad != "10;20;0" {
		t.Errorf("WorkerLoad = %q, want %q", fs.WorkerLoad, "10;20;0")
	}
}

func TestOutputManagerNilWhenDirEmpty(t *testing.T) {
	om, err := NewOutputManager("")
	if err != nil || om != nil {
		t.Fatalf("NewOutputManager(\"\") = (%v, %v), want (nil, nil)", om, err)
	}
	// All methods must be safe no-ops on a nil manager.
	if err := om.WriteFrame(FrameStats{}); err != nil {
		t.Errorf("WriteFrame on nil manager: %v", err)
	}
	if err := om.WritePerf(PerfStats{}, 0); err != nil {
		t.Errorf("WritePerf on nil manager: %v", err)
	}
	if err := om.Close(); err != nil {
		t.Errorf("Close on nil manager: %v", err)
	}
	if got := om.Dir(); got != "" {
		t.Errorf("Dir() = %q, want empty", got)
	}
}

func TestOutputManagerWritesFrameCSV(t *testing.T) {
	dir := t.TempDir()
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatalf("NewOutputManager: %v", err)
	}
	defer om.Close()

	if err := om.WriteFrame(FrameStatsFromLoad(1, 100, 2, []int{5, 5})); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if err := om.WriteFrame(FrameStatsFromLoad(2, 110, 2, []int{6, 4})); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	om.Close()

	data, err := os.ReadFile(filepath.Join(dir, "frames.csv"))
	if err != nil {
		t.Fatalf("reading frames.csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("frames.csv has %d lines, want 3 (header + 2 rows)", len(lines))
	}
	if !strings.Contains(lines[0], "frame") {
		t.Errorf("header missing frame column: %q", lines[0])
	}
}
