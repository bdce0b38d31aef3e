// Package config loads and saves the engine configuration from YAML files and provides defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// BackendType names a compute backend implementation.
type BackendType string

const (
	// BackendSoftware runs the kernels on the CPU.
	BackendSoftware BackendType = "software"

	// BackendWebGPU runs the kernels through WebGPU.
	BackendWebGPU BackendType = "webgpu"
)

// Config represents the engine configuration loaded from YAML.
type Config struct {
	// Render holds the defaults applied to a fresh RenderState.
	Render struct {
		// ViewSize is the edge length in pixels of the square output image.
		ViewSize int `yaml:"viewSize"`

		// Step is the ray-march step length in voxels.
		Step float32 `yaml:"step"`

		// Kernel is the name of the kernel selected at startup.
		Kernel string `yaml:"kernel"`

		// Background is the RGB background color in [0, 1].
		Background [3]float32 `yaml:"background"`

		// LinearSampling enables trilinear volume sampling.
		LinearSampling bool `yaml:"linearSampling"`

		// AlphaPower is the opacity accumulation exponent.
		AlphaPower float32 `yaml:"alphaPower"`
	} `yaml:"render"`

	// Shaders configures custom kernel discovery.
	Shaders struct {
		// Directories are searched recursively for user kernel files.
		Directories []string `yaml:"directories"`

		// Watch recompiles the kernel program when a user kernel file changes.
		Watch bool `yaml:"watch"`
	} `yaml:"shaders"`

	// Backend selects and tunes the compute backend.
	Backend struct {
		// Type is either "software" or "webgpu".
		Type BackendType `yaml:"type"`

		// Workers is the worker pool size of the software backend.
		Workers int `yaml:"workers"`

		// ForceFallbackAdapter asks WebGPU for a CPU adapter.
		ForceFallbackAdapter bool `yaml:"forceFallbackAdapter"`
	} `yaml:"backend"`

	// Log configures the engine logger.
	Log struct {
		// Level is one of debug, info, warn, error.
		Level string `yaml:"level"`
	} `yaml:"log"`

	// ScaleBar configures the calibrated scale bar drawn onto rendered images.
	ScaleBar struct {
		// Length of the bar in physical units. Zero disables the bar.
		Length float32 `yaml:"length"`

		// Unit is the label suffix, for example "µm".
		Unit string `yaml:"unit"`

		// VoxelSpacing is the default physical size of a voxel along x, y and z when the dataset carries none.
		VoxelSpacing [3]float32 `yaml:"voxelSpacing"`
	} `yaml:"scaleBar"`
}

// Default returns a configuration with default values.
func Default() *Config {
	cfg := &Config{}

	cfg.Render.ViewSize = 512
	cfg.Render.Step = 1.0
	cfg.Render.Kernel = "preset_ftb"
	cfg.Render.Background = [3]float32{0, 0, 0}
	cfg.Render.LinearSampling = true
	cfg.Render.AlphaPower = 2.0

	cfg.Shaders.Directories = nil
	cfg.Shaders.Watch = false

	cfg.Backend.Type = BackendSoftware
	cfg.Backend.Workers = max(runtime.NumCPU()-1, 1)

	cfg.Log.Level = "info"

	cfg.ScaleBar.Length = 0
	cfg.ScaleBar.Unit = "µm"
	cfg.ScaleBar.VoxelSpacing = [3]float32{1, 1, 1}

	return cfg
}

// Load loads configuration from a YAML file.
// If the file does not exist, the default configuration is returned.
//
// Parameters:
//   - path: the YAML file to read
//
// Returns:
//   - *Config: the loaded configuration merged over the defaults
//   - error: an error if the file exists but cannot be read, parsed or validated
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file, creating the parent directory if needed.
//
// Parameters:
//   - path: the destination file
//   - cfg: the configuration to write
//
// Returns:
//   - error: an error if the file cannot be written
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// Validate checks value ranges that would otherwise surface as rendering faults.
//
// Returns:
//   - error: the first violation found, or nil
func (c *Config) Validate() error {
	if c.Render.ViewSize <= 0 {
		return fmt.Errorf("render.viewSize must be positive, got %d", c.Render.ViewSize)
	}
	if c.Render.Step <= 0 {
		return fmt.Errorf("render.step must be positive, got %g", c.Render.Step)
	}
	switch c.Backend.Type {
	case BackendSoftware, BackendWebGPU:
	default:
		return fmt.Errorf("backend.type must be %q or %q, got %q", BackendSoftware, BackendWebGPU, c.Backend.Type)
	}
	if c.Backend.Workers < 1 {
		return fmt.Errorf("backend.workers must be at least 1, got %d", c.Backend.Workers)
	}
	for i, s := range c.ScaleBar.VoxelSpacing {
		if s <= 0 {
			return fmt.Errorf("scaleBar.voxelSpacing[%d] must be positive, got %g", i, s)
		}
	}
	return nil
}
