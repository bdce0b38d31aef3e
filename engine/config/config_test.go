package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "engine.yaml")
	cfg := Default()
	cfg.Render.ViewSize = 256
	cfg.Render.Kernel = "preset_mip"
	cfg.Shaders.Directories = []string{"/tmp/kernels"}
	cfg.Backend.Type = BackendWebGPU

	require.NoError(t, Save(path, cfg))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("render:\n  viewSize: 128\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.Render.ViewSize)
	assert.Equal(t, Default().Render.Kernel, cfg.Render.Kernel)
	assert.Equal(t, BackendSoftware, cfg.Backend.Type)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"view size", func(c *Config) { c.Render.ViewSize = 0 }},
		{"step", func(c *Config) { c.Render.Step = -1 }},
		{"backend", func(c *Config) { c.Backend.Type = "metal" }},
		{"workers", func(c *Config) { c.Backend.Workers = 0 }},
		{"spacing", func(c *Config) { c.ScaleBar.VoxelSpacing[2] = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("render: [unterminated"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}
