package cli

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-volume/engine/config"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/backend"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/backend/software"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/backend/webgpu"
)

// NewHeadlessBackend creates the backend named by the configuration without a window
// surface.
//
// Parameters:
//   - cfg: the configuration
//
// Returns:
//   - backend.Backend: the backend
//   - error: an error if the WebGPU device cannot be created or the type is unknown
func NewHeadlessBackend(cfg *config.Config) (backend.Backend, error) {
	switch cfg.Backend.Type {
	case config.BackendSoftware:
		return software.NewSoftwareBackend(software.WithWorkers(cfg.Backend.Workers)), nil
	case config.BackendWebGPU:
		return webgpu.NewWebGPUBackend(webgpu.WithForceFallbackAdapter(cfg.Backend.ForceFallbackAdapter))
	default:
		return nil, fmt.Errorf("unknown backend type %q", cfg.Backend.Type)
	}
}
