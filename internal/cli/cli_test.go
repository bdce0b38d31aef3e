package cli

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-volume/common"
	"github.com/Carmen-Shannon/oxy-volume/engine/config"
	rs "github.com/Carmen-Shannon/oxy-volume/engine/render_state"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/backend/software"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePhantom(t *testing.T) {
	tests := []struct {
		in      string
		want    [4]int
		wantErr bool
	}{
		{"64x64x32", [4]int{64, 64, 32, 4}, false},
		{"8X4x2x1", [4]int{8, 4, 2, 1}, false},
		{"8x4", [4]int{}, true},
		{"8x4x0", [4]int{}, true},
		{"8x4x2x5", [4]int{}, true},
		{"axbxc", [4]int{}, true},
	}
	for _, tt := range tests {
		got, err := ParsePhantom(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestOpenSourceMissingDirectory(t *testing.T) {
	_, err := OpenSource(t.TempDir()+"/absent", "", [3]float32{})
	assert.Error(t, err)
}

func TestLoadAndRenderPhantom(t *testing.T) {
	cfg := config.Default()
	cfg.Render.ViewSize = 24
	cfg.Render.LinearSampling = false

	b := software.NewSoftwareBackend(software.WithWorkers(2))
	defer b.Release()
	reg, err := NewRegistry(b, cfg)
	require.NoError(t, err)
	defer reg.Release()

	src, err := OpenSource("", "12x12x6x2", [3]float32{})
	require.NoError(t, err)
	v, err := LoadVolume(b, reg, src, true)
	require.NoError(t, err)
	defer v.Release()
	assert.Equal(t, common.Extent3D{Width: 12, Height: 12, Depth: 6}, v.Extent())

	r, err := renderer.NewRenderer(b, reg, append(RenderOptions(cfg), renderer.WithVolume(v))...)
	require.NoError(t, err)
	defer r.Release()

	assert.False(t, r.State().Options.Has(rs.OptionLinearSampling))
	assert.Equal(t, "preset_ftb", r.State().Kernel)

	img, err := r.Render(0, false)
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, 24, img.Bounds().Dx())
}
