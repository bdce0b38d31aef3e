package software

import "github.com/Carmen-Shannon/oxy-volume/engine/renderer/backend"

// SoftwareBackendOption is a functional option used to configure the software backend.
type SoftwareBackendOption func(*softwareBackend)

// WithLimits overrides the reported device limits. Tests use it to emulate small devices.
//
// Parameters:
//   - limits: the limits to report and enforce
//
// Returns:
//   - SoftwareBackendOption: a function that sets the limits
func WithLimits(limits backend.Limits) SoftwareBackendOption {
	return func(b *softwareBackend) {
		b.limits = limits
	}
}

// WithWorkers sets the size of the worker pool. Values <= 0 keep the default of one
// worker per CPU.
func WithWorkers(n int) SoftwareBackendOption {
	return func(b *softwareBackend) {
		if n > 0 {
			b.workers = n
		}
	}
}
