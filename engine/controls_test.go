package engine

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-volume/common"
	rs "github.com/Carmen-Shannon/oxy-volume/engine/render_state"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-volume/engine/window"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func newState() *rs.RenderState {
	s := rs.NewRenderState()
	s.SetVolumeDimensions(common.Extent3D{Width: 32, Height: 32, Depth: 16})
	return s
}

var kernels = []shader.Kernel{{Name: "preset_ftb"}, {Name: "preset_btf"}, {Name: "preset_mip"}}

func TestOptionKeysToggle(t *testing.T) {
	tests := []struct {
		key uint32
		opt rs.RenderOption
	}{
		{common.KeyA, rs.OptionAdaptiveStep},
		{common.KeyB, rs.OptionBoundingBox},
		{common.KeyF, rs.OptionFlip},
		{common.KeyL, rs.OptionLinearSampling},
		{common.KeyM, rs.OptionMPR},
		{common.KeyP, rs.OptionPlaneMode},
		{common.KeyS, rs.OptionShading},
		{common.KeyT, rs.OptionCropToggle},
	}
	for _, tt := range tests {
		s := newState()
		before := s.Options.Has(tt.opt)
		assert.Equal(t, actionRender, applyKey(s, kernels, tt.key, false))
		assert.Equal(t, !before, s.Options.Has(tt.opt), tt.opt.String())
		applyKey(s, kernels, tt.key, false)
		assert.Equal(t, before, s.Options.Has(tt.opt), tt.opt.String())
	}
}

func TestSliceKeysClamp(t *testing.T) {
	s := newState()
	top := s.SliceMax()

	applyKey(s, kernels, common.KeyPageUp, false)
	assert.Equal(t, top, s.Slice())

	applyKey(s, kernels, common.KeyPageDown, false)
	assert.Equal(t, top-1, s.Slice())
	applyKey(s, kernels, common.KeyPageDown, true)
	assert.Equal(t, top-11, s.Slice())

	for range top {
		applyKey(s, kernels, common.KeyPageDown, true)
	}
	assert.Equal(t, 0, s.Slice())
}

func TestRotateKeys(t *testing.T) {
	s := newState()
	applyKey(s, kernels, common.KeyRight, false)
	assert.False(t, s.Orientation().ApproxEqualThreshold(mgl32.QuatIdent(), 1e-4))

	applyKey(s, kernels, common.KeyLeft, false)
	assert.True(t, s.Orientation().ApproxEqualThreshold(mgl32.QuatIdent(), 1e-4))

	applyKey(s, kernels, common.KeyLeft, true)
	angles := s.EulerAngles()
	assert.InDelta(t, 5, angles[2], 0.01)
}

func TestCropKeyLocksAndUnlocks(t *testing.T) {
	s := newState()
	s.SetSlice(7)
	applyKey(s, kernels, common.KeyC, false)
	assert.True(t, s.Options.Has(rs.OptionCropLock))
	assert.Equal(t, 7, s.CropSlice())

	applyKey(s, kernels, common.KeyC, false)
	assert.False(t, s.Options.Has(rs.OptionCropLock))
}

func TestZoomKeysClamp(t *testing.T) {
	s := newState()
	applyKey(s, kernels, common.KeyEqual, false)
	assert.InDelta(t, 1.1, s.Scale, 1e-5)
	applyKey(s, kernels, common.KeyMinus, false)
	assert.InDelta(t, 1.0, s.Scale, 1e-5)

	for range 200 {
		applyKey(s, kernels, common.KeyMinus, false)
	}
	assert.Equal(t, float32(minScale), s.Scale)
}

func TestKernelKeyCycles(t *testing.T) {
	s := newState()
	assert.Equal(t, "preset_ftb", s.Kernel)
	applyKey(s, kernels, common.KeyK, false)
	assert.Equal(t, "preset_btf", s.Kernel)
	applyKey(s, kernels, common.KeyK, false)
	applyKey(s, kernels, common.KeyK, false)
	assert.Equal(t, "preset_ftb", s.Kernel)

	assert.Equal(t, "preset_ftb", nextKernel(kernels, "gone"))
	assert.Equal(t, "gone", nextKernel(nil, "gone"))
}

func TestResetKey(t *testing.T) {
	s := newState()
	s.Rotate(0.4, 0.2, 0)
	s.Scale = 3
	s.Translation = [2]float32{5, 6}
	s.SetSlice(2)

	assert.Equal(t, actionRender, applyKey(s, kernels, common.KeyR, false))
	assert.True(t, s.Orientation().ApproxEqualThreshold(mgl32.QuatIdent(), 1e-6))
	assert.Equal(t, float32(1), s.Scale)
	assert.Equal(t, [2]float32{}, s.Translation)
	assert.Equal(t, s.SliceMax(), s.Slice())
}

func TestNonStateKeys(t *testing.T) {
	s := newState()
	assert.Equal(t, actionSaveSession, applyKey(s, kernels, common.KeyX, false))
	assert.Equal(t, actionQuit, applyKey(s, kernels, common.KeyEsc, false))
	assert.Equal(t, actionNone, applyKey(s, kernels, 'Q', false))
}

func TestDrag(t *testing.T) {
	s := newState()
	s.ViewSize = 512

	assert.False(t, drag(s, window.MouseButtonLeft, 0, 0, 256))
	assert.True(t, drag(s, window.MouseButtonRight, 10, -4, 256))
	assert.Equal(t, [2]float32{20, -8}, s.Translation)

	assert.True(t, drag(s, window.MouseButtonLeft, 30, 0, 256))
	assert.False(t, s.Orientation().ApproxEqualThreshold(mgl32.QuatIdent(), 1e-4))

	assert.False(t, drag(s, window.MouseButtonMiddle, 3, 3, 256))
}
