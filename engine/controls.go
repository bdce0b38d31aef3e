package engine

import (
	"math"

	"github.com/Carmen-Shannon/oxy-volume/common"
	rs "github.com/Carmen-Shannon/oxy-volume/engine/render_state"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-volume/engine/window"
)

// Control tuning.
const (
	rotateStep    = 5 * math.Pi / 180
	dragRadians   = 0.01
	zoomFactor    = 1.1
	minScale      = 0.05
	maxScale      = 64
	fastSliceStep = 10
)

// action is what the viewer has to do after an input event changed the state.
type action int

const (
	actionNone action = iota
	actionRender
	actionSaveSession
	actionQuit
)

// optionKeys maps the toggle keys to the option they flip.
var optionKeys = map[uint32]rs.RenderOption{
	common.KeyA: rs.OptionAdaptiveStep,
	common.KeyB: rs.OptionBoundingBox,
	common.KeyF: rs.OptionFlip,
	common.KeyL: rs.OptionLinearSampling,
	common.KeyM: rs.OptionMPR,
	common.KeyP: rs.OptionPlaneMode,
	common.KeyS: rs.OptionShading,
	common.KeyT: rs.OptionCropToggle,
}

// applyKey updates s for a key press.
//
// Parameters:
//   - s: the render state to mutate
//   - kernels: the selectable kernels, for cycling with K
//   - key: the key code
//   - shift: whether a shift key is held
//
// Returns:
//   - action: what the caller should do next
func applyKey(s *rs.RenderState, kernels []shader.Kernel, key uint32, shift bool) action {
	if opt, ok := optionKeys[key]; ok {
		s.Options = s.Options.Toggle(opt)
		return actionRender
	}

	sliceStep := 1
	if shift {
		sliceStep = fastSliceStep
	}

	switch key {
	case common.KeyUp:
		s.Rotate(-rotateStep, 0, 0)
	case common.KeyDown:
		s.Rotate(rotateStep, 0, 0)
	case common.KeyLeft:
		if shift {
			s.Rotate(0, 0, rotateStep)
		} else {
			s.Rotate(0, -rotateStep, 0)
		}
	case common.KeyRight:
		if shift {
			s.Rotate(0, 0, -rotateStep)
		} else {
			s.Rotate(0, rotateStep, 0)
		}
	case common.KeyPageUp:
		s.SetSlice(s.Slice() + sliceStep)
	case common.KeyPageDown:
		s.SetSlice(s.Slice() - sliceStep)
	case common.KeyEqual:
		zoom(s, 1)
	case common.KeyMinus:
		zoom(s, -1)
	case common.KeyC:
		if s.Options.Has(rs.OptionCropLock) {
			s.UnlockCrop()
		} else {
			s.LockCrop()
		}
	case common.KeyK:
		s.Kernel = nextKernel(kernels, s.Kernel)
	case common.KeyR:
		s.ResetOrientation()
		s.Scale = 1
		s.Translation = [2]float32{}
		s.SetSlice(s.SliceMax())
	case common.KeyX:
		return actionSaveSession
	case common.KeyEsc:
		return actionQuit
	default:
		return actionNone
	}
	return actionRender
}

// zoom scales s by zoomFactor per notch, clamped to [minScale, maxScale].
func zoom(s *rs.RenderState, notches float32) {
	f := float32(math.Pow(zoomFactor, float64(notches)))
	s.Scale = common.Clamp(s.Scale*f, minScale, maxScale)
}

// nextKernel returns the kernel after current in kernels, wrapping around. An unknown
// current name selects the first kernel.
func nextKernel(kernels []shader.Kernel, current string) string {
	if len(kernels) == 0 {
		return current
	}
	for i, k := range kernels {
		if k.Name == current {
			return kernels[(i+1)%len(kernels)].Name
		}
	}
	return kernels[0].Name
}

// drag applies a pointer drag of dx, dy window pixels. The left button rotates, the right
// button pans; pan distances are converted from window pixels to output pixels.
//
// Parameters:
//   - s: the render state to mutate
//   - button: the held button
//   - dx, dy: the pointer movement in window pixels
//   - windowSize: the shorter window edge, used to convert pan distances
//
// Returns:
//   - bool: true if the state changed
func drag(s *rs.RenderState, button window.MouseButton, dx, dy float32, windowSize int) bool {
	if dx == 0 && dy == 0 {
		return false
	}
	switch button {
	case window.MouseButtonLeft:
		s.Rotate(dy*dragRadians, dx*dragRadians, 0)
	case window.MouseButtonRight:
		k := float32(1)
		if windowSize > 0 {
			k = float32(s.ViewSize) / float32(windowSize)
		}
		s.Translation[0] += dx * k
		s.Translation[1] += dy * k
	default:
		return false
	}
	return true
}
