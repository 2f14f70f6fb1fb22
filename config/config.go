// Package config provides configuration loading and access for the cluster.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all cluster configuration parameters.
type Config struct {
	Domain    DomainConfig    `yaml:"domain"`
	Physics   PhysicsConfig   `yaml:"physics"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	Mover     MoverConfig     `yaml:"mover"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Derived values computed after loading.
	Derived DerivedConfig `yaml:"-"`
}

// DomainConfig describes the global axis-aligned simulation box.
type DomainConfig struct {
	MinX float64 `yaml:"min_x"`
	MinY float64 `yaml:"min_y"`
	MaxX float64 `yaml:"max_x"`
	MaxY float64 `yaml:"max_y"`
}

// PhysicsConfig holds the PBF tunable defaults.
type PhysicsConfig struct {
	Gravity         float64 `yaml:"gravity"`
	RestDensity     float64 `yaml:"rest_density"`
	SmoothingRadius float64 `yaml:"smoothing_radius"`
	K               float64 `yaml:"k"`
	DQ              float64 `yaml:"dq"`
	Viscosity       float64 `yaml:"viscosity"`
	DT              float64 `yaml:"dt"`
	VMax            float64 `yaml:"v_max"`
	JacobiIters     int     `yaml:"jacobi_iters"`
}

// ClusterConfig holds cluster topology and pipeline sizing.
type ClusterConfig struct {
	Workers         int     `yaml:"workers"`
	StepsPerFrame   int     `yaml:"steps_per_frame"`
	CapacityFactor  float64 `yaml:"capacity_factor"`
	ParticlesPerRow int     `yaml:"particles_per_row"`
}

// MoverConfig holds the default mover obstacle state (center and radius).
type MoverConfig struct {
	CenterX float64 `yaml:"center_x"`
	CenterY float64 `yaml:"center_y"`
	Radius  float64 `yaml:"radius"`
}

// TelemetryConfig holds telemetry/perf knobs.
type TelemetryConfig struct {
	PerfWindow int `yaml:"perf_window"`
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	HaloBand float64 // smoothing radius, repeated here for call-site clarity
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.computeDerived()
	return cfg, nil
}

// Validate checks the configuration errors that are fatal at init: a
// malformed domain, too few ranks, and a halo band that does not fit inside
// a single worker's slab.
func (c *Config) Validate() error {
	if c.Domain.MaxX <= c.Domain.MinX || c.Domain.MaxY <= c.Domain.MinY {
		return fmt.Errorf("config: domain box is degenerate or inverted: %+v", c.Domain)
	}
	if c.Cluster.Workers < 2 {
		return fmt.Errorf("config: need at least 2 worker ranks, got %d", c.Cluster.Workers)
	}
	width := c.Domain.MaxX - c.Domain.MinX
	minSlab := 2.5 * c.Physics.SmoothingRadius
	if width/float64(c.Cluster.Workers) < minSlab {
		return fmt.Errorf("config: %d workers over width %g gives slabs narrower than 2.5*h (%g)", c.Cluster.Workers, width, minSlab)
	}
	return nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.HaloBand = c.Physics.SmoothingRadius
}

// WriteYAML saves the configuration to path as YAML.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
