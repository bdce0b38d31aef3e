package webgpu

import (
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/backend"
	"github.com/cogentcore/webgpu/wgpu"
)

// WebGPUBackendOption is a functional option used to configure the webgpu backend.
type WebGPUBackendOption func(*webgpuBackend)

// WithSurfaceDescriptor makes the backend create a surface from desc and request an
// adapter compatible with it. Without a descriptor the backend runs headless.
//
// Parameters:
//   - desc: the platform surface descriptor, typically from the window
//
// Returns:
//   - WebGPUBackendOption: a function that sets the surface descriptor
func WithSurfaceDescriptor(desc *wgpu.SurfaceDescriptor) WebGPUBackendOption {
	return func(b *webgpuBackend) {
		b.surfaceDescriptor = desc
	}
}

// WithForceFallbackAdapter requests the software fallback adapter of the driver.
func WithForceFallbackAdapter(force bool) WebGPUBackendOption {
	return func(b *webgpuBackend) {
		b.forceFallbackAdapter = force
	}
}

// WithRequiredLimits raises the requested device limits above the WebGPU defaults. Fields
// below the defaults are ignored.
//
// Parameters:
//   - limits: the minimum limits to request
//
// Returns:
//   - WebGPUBackendOption: a function that sets the requested limits
func WithRequiredLimits(limits backend.Limits) WebGPUBackendOption {
	return func(b *webgpuBackend) {
		b.requiredLimits = &limits
	}
}

// WithDeviceLabel sets the device label shown in driver diagnostics.
func WithDeviceLabel(label string) WebGPUBackendOption {
	return func(b *webgpuBackend) {
		if label != "" {
			b.label = label
		}
	}
}
