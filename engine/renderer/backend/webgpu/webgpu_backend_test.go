package webgpu

import (
	"image"
	"testing"

	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/backend"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewportLetterbox(t *testing.T) {
	x, y, w, h := viewport(800, 600, image.Pt(512, 512))
	assert.InDelta(t, 100, x, 1e-3)
	assert.InDelta(t, 0, y, 1e-3)
	assert.InDelta(t, 600, w, 1e-3)
	assert.InDelta(t, 600, h, 1e-3)

	x, y, w, h = viewport(400, 1000, image.Pt(200, 200))
	assert.InDelta(t, 0, x, 1e-3)
	assert.InDelta(t, 300, y, 1e-3)
	assert.InDelta(t, 400, w, 1e-3)
	assert.InDelta(t, 400, h, 1e-3)
}

func TestBufferUsage(t *testing.T) {
	got := bufferUsage(backend.BufferUsageStorage | backend.BufferUsageCopySrc)
	assert.Equal(t, wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc, got)
	assert.Equal(t, wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst,
		bufferUsage(backend.BufferUsageUniform|backend.BufferUsageCopyDst))
}

func TestLayoutEntry(t *testing.T) {
	tests := []struct {
		name  string
		in    backend.BindingLayout
		check func(t *testing.T, e wgpu.BindGroupLayoutEntry)
	}{
		{
			name: "uniform keeps min size",
			in:   backend.BindingLayout{Binding: 2, Kind: backend.KindUniformBuffer, MinSize: 240},
			check: func(t *testing.T, e wgpu.BindGroupLayoutEntry) {
				assert.Equal(t, wgpu.BufferBindingTypeUniform, e.Buffer.Type)
				assert.Equal(t, uint64(240), e.Buffer.MinBindingSize)
			},
		},
		{
			name: "sampled volume",
			in:   backend.BindingLayout{Binding: 0, Kind: backend.KindSampledTexture3D},
			check: func(t *testing.T, e wgpu.BindGroupLayoutEntry) {
				assert.Equal(t, wgpu.TextureSampleTypeFloat, e.Texture.SampleType)
				assert.Equal(t, wgpu.TextureViewDimension3D, e.Texture.ViewDimension)
			},
		},
		{
			name: "storage volume",
			in:   backend.BindingLayout{Binding: 0, Kind: backend.KindStorageTexture3D},
			check: func(t *testing.T, e wgpu.BindGroupLayoutEntry) {
				assert.Equal(t, wgpu.StorageTextureAccessWriteOnly, e.StorageTexture.Access)
				assert.Equal(t, wgpu.TextureFormatRGBA8Unorm, e.StorageTexture.Format)
			},
		},
		{
			name: "sampler",
			in:   backend.BindingLayout{Binding: 1, Kind: backend.KindSampler},
			check: func(t *testing.T, e wgpu.BindGroupLayoutEntry) {
				assert.Equal(t, wgpu.SamplerBindingTypeFiltering, e.Sampler.Type)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := layoutEntry(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.in.Binding, e.Binding)
			assert.Equal(t, wgpu.ShaderStageCompute, e.Visibility)
			tt.check(t, e)
		})
	}

	_, err := layoutEntry(backend.BindingLayout{Kind: backend.ResourceKind(99)})
	assert.Error(t, err)
}
