package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/pthm-cable/pbfcluster/config"
)

// FrameStats is a flat, CSV-friendly record of one coordinator frame: how
// long it took, how many worker ranks were active, and how many particles
// each owned at gather time. WorkerLoad is a semicolon-joined list of
// per-worker N_local in rank order, so the whole record stays one CSV row.
type FrameStats struct {
	Frame          int64  `csv:"frame"`
	TickUS         int64  `csv:"tick_us"`
	NumWorkers     int    `csv:"num_workers"`
	ActiveWorkers  int    `csv:"active_workers"`
	TotalParticles int    `csv:"total_particles"`
	WorkerLoad     string `csv:"worker_load"`
}

// FrameStatsFromLoad builds a FrameStats from the per-active-worker particle
// counts gathered this frame.
func FrameStatsFromLoad(frame int64, tickUS int64, numWorkers int, loads []int) FrameStats {
	parts := make([]string, len(loads))
	total := 0
	for i, n := range loads {
		parts[i] = strconv.Itoa(n)
		total += n
	}
	return FrameStats{
		Frame:          frame,
		TickUS:         tickUS,
		NumWorkers:     numWorkers,
		ActiveWorkers:  len(loads),
		TotalParticles: total,
		WorkerLoad:     strings.Join(parts, ";"),
	}
}

// OutputManager handles structured run output with CSV logging.
type OutputManager struct {
	dir       string
	frameFile *os.File
	perfFile  *os.File

	frameHeaderWritten bool
	perfHeaderWritten  bool
}

// NewOutputManager creates a new output manager and initializes the output directory.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}

	framePath := filepath.Join(dir, "frames.csv")
	f, err := os.Create(framePath)
	if err != nil {
		return nil, fmt.Errorf("creating frames.csv: %w", err)
	}
	om.frameFile = f

	perfPath := filepath.Join(dir, "perf.csv")
	f, err = os.Create(perfPath)
	if err != nil {
		om.frameFile.Close()
		return nil, fmt.Errorf("creating perf.csv: %w", err)
	}
	om.perfFile = f

	return om, nil
}

// WriteConfig saves the current configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	configPath := filepath.Join(om.dir, "config.yaml")
	return cfg.WriteYAML(configPath)
}

// WriteFrame writes a frame stats record to frames.csv.
func (om *OutputManager) WriteFrame(stats FrameStats) error {
	if om == nil {
		return nil
	}

	records := []FrameStats{stats}

	if !om.frameHeaderWritten {
		if err := gocsv.Marshal(records, om.frameFile); err != nil {
			return fmt.Errorf("writing frame stats: %w", err)
		}
		om.frameHeaderWritten = true
	} else {
		if err := gocsv.MarshalWithoutHeaders(records, om.frameFile); err != nil {
			return fmt.Errorf("writing frame stats: %w", err)
		}
	}

	return nil
}

// WritePerf writes a performance stats record to perf.csv.
func (om *OutputManager) WritePerf(stats PerfStats, windowEnd int32) error {
	if om == nil {
		return nil
	}

	csvRecord := stats.ToCSV(windowEnd)
	records := []PerfStatsCSV{csvRecord}

	if !om.perfHeaderWritten {
		if err := gocsv.Marshal(records, om.perfFile); err != nil {
			return fmt.Errorf("writing perf: %w", err)
		}
		om.perfHeaderWritten = true
	} else {
		if err := gocsv.MarshalWithoutHeaders(records, om.perfFile); err != nil {
			return fmt.Errorf("writing perf: %w", err)
		}
	}

	return nil
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close flushes and closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}

	var firstErr error

	if om.frameFile != nil {
		if err := om.frameFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if om.perfFile != nil {
		if err := om.perfFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
