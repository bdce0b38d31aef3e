package binding_cache

import "github.com/Carmen-Shannon/oxy-volume/engine/renderer/backend"

// BindingCacheOption is a functional option used to configure a BindingCache during construction.
type BindingCacheOption func(*bindingCache)

// WithSlotUsage sets the buffer usage of a slot. Slots without an explicit usage are
// allocated as uniform blocks.
//
// Parameters:
//   - slot: the binding slot
//   - usage: the buffer usage, CopyDst is always added
//
// Returns:
//   - BindingCacheOption: a function that sets the slot usage
func WithSlotUsage(slot uint32, usage backend.BufferUsage) BindingCacheOption {
	return func(c *bindingCache) {
		c.usage[slot] = usage
	}
}

// WithLayout derives slot usages from a program's binding declarations.
//
// Parameters:
//   - layout: the program layout
//
// Returns:
//   - BindingCacheOption: a function that sets the usage of every buffer slot in layout
func WithLayout(layout []backend.BindingLayout) BindingCacheOption {
	return func(c *bindingCache) {
		for _, l := range layout {
			switch l.Kind {
			case backend.KindStorageBuffer, backend.KindReadOnlyStorageBuffer:
				c.usage[l.Binding] = backend.BufferUsageStorage
			case backend.KindUniformBuffer:
				c.usage[l.Binding] = backend.BufferUsageUniform
			}
		}
	}
}

// WithWriteHistory sets how many recent uploads Writes keeps. Zero disables the history.
func WithWriteHistory(n int) BindingCacheOption {
	return func(c *bindingCache) {
		c.historyCap = n
	}
}
