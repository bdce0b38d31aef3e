// Package binding_cache maps logical binding slots to device resources and re-uploads a
// slot only when its content changed.
package binding_cache

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Carmen-Shannon/oxy-volume/common"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/backend"
)

// ErrSlotKind is returned when a slot is bound with a different kind of resource than before.
var ErrSlotKind = errors.New("slot already holds a different resource kind")

// SlotState is the per-slot state of the cache.
type SlotState int

const (
	// SlotEmpty has no resource yet.
	SlotEmpty SlotState = iota
	// SlotClean holds a resource matching the last bound value.
	SlotClean
	// SlotDirty holds a resource that must be refreshed by the next bind.
	SlotDirty
)

func (s SlotState) String() string {
	switch s {
	case SlotEmpty:
		return "empty"
	case SlotClean:
		return "clean"
	case SlotDirty:
		return "dirty"
	default:
		return fmt.Sprintf("SlotState(%d)", int(s))
	}
}

type slotKind int

const (
	kindNone slotKind = iota
	kindBuffer
	kindTexture
	kindSampler
	kindOutput
)

// slot is one cache entry.
type slot struct {
	state SlotState
	kind  slotKind

	buffer backend.Buffer
	last   []byte

	texture backend.Texture

	sampler backend.Sampler
	filter  common.FilterMode

	outputSize int
}

// bindingCache is the unexported implementation of BindingCache.
type bindingCache struct {
	// label is a debug label used for resource names.
	label   string
	backend backend.Backend

	slots map[uint32]*slot
	// usage holds per-slot buffer usage overrides; slots without one are uniform blocks.
	usage map[uint32]backend.BufferUsage

	generation uint64
	writes     []BufferWrite
	historyCap int
	stats      Stats
}

// BindingCache owns the buffers, samplers and texture references bound to a program's
// slots. Byte values are compared against the last upload so unchanged values cost
// nothing; textures and samplers use explicit invalidation through MarkDirty.
//
// A BindingCache is not safe for concurrent use. It is driven by the goroutine running a
// render or ingest call.
type BindingCache interface {
	// Label returns the debug label for this cache.
	//
	// Returns:
	//   - string: the debug label
	Label() string

	// Bind uploads value into the slot's buffer if the slot is empty, dirty, or its last
	// written value differs byte for byte. A size change reallocates the buffer.
	//
	// Parameters:
	//   - slot: the binding slot
	//   - value: the bytes to bind
	//
	// Returns:
	//   - bool: true if an upload was issued
	//   - error: an error if allocation or upload failed
	Bind(slot uint32, value []byte) (bool, error)

	// Write uploads value unconditionally, reallocating on size change. Used for streamed
	// data that is rarely equal between calls.
	//
	// Parameters:
	//   - slot: the binding slot
	//   - value: the bytes to write
	//
	// Returns:
	//   - error: an error if allocation or upload failed
	Write(slot uint32, value []byte) error

	// BindTexture attaches a texture. The call is honored only when the slot is empty or
	// dirty; otherwise the previous texture stays bound.
	//
	// Parameters:
	//   - slot: the binding slot
	//   - tex: the texture, owned by the caller
	//
	// Returns:
	//   - error: an error if the slot holds another resource kind
	BindTexture(slot uint32, tex backend.Texture) error

	// BindSampler attaches a sampler with the given filter. The call is honored only when
	// the slot is empty or dirty, and the sampler is recreated only if the filter changed.
	//
	// Parameters:
	//   - slot: the binding slot
	//   - filter: the filter mode
	//
	// Returns:
	//   - error: an error if sampler creation failed
	BindSampler(slot uint32, filter common.FilterMode) error

	// BindOutputSurface ensures the slot holds a size x size pixel buffer of packed RGBA8
	// values. The buffer is reused while size is unchanged.
	//
	// Parameters:
	//   - slot: the binding slot
	//   - size: the edge length in pixels
	//
	// Returns:
	//   - backend.Buffer: the pixel buffer
	//   - error: an error if allocation failed
	BindOutputSurface(slot uint32, size int) (backend.Buffer, error)

	// MarkDirty flags a bound slot so the next bind call refreshes it. It issues no
	// device work; marking an empty slot has no effect.
	//
	// Parameters:
	//   - slot: the binding slot
	MarkDirty(slot uint32)

	// State returns the state of a slot.
	//
	// Parameters:
	//   - slot: the binding slot
	//
	// Returns:
	//   - SlotState: the slot state
	State(slot uint32) SlotState

	// Buffer returns the buffer bound to a slot, or nil.
	//
	// Parameters:
	//   - slot: the binding slot
	//
	// Returns:
	//   - backend.Buffer: the buffer or nil
	Buffer(slot uint32) backend.Buffer

	// Bindings returns the current resource set, sorted by slot. Its generation changes
	// only when a slot's resource identity changes.
	//
	// Returns:
	//   - backend.Bindings: the resource set
	Bindings() backend.Bindings

	// Writes returns the recent upload history, oldest first.
	//
	// Returns:
	//   - []BufferWrite: the recorded writes
	Writes() []BufferWrite

	// Stats returns the operation counters.
	//
	// Returns:
	//   - Stats: the counters
	Stats() Stats

	// Release frees every buffer and sampler owned by the cache. Textures belong to the
	// caller and are only dropped.
	Release()
}

// Compile-time check that bindingCache implements BindingCache
var _ BindingCache = &bindingCache{}

// NewBindingCache creates a BindingCache on the given backend.
//
// Parameters:
//   - b: the backend that allocates resources
//   - label: a debug label
//   - options: a variadic list of options to configure the cache
//
// Returns:
//   - BindingCache: a new cache with every slot empty
func NewBindingCache(b backend.Backend, label string, options ...BindingCacheOption) BindingCache {
	c := &bindingCache{
		label:      label,
		backend:    b,
		slots:      make(map[uint32]*slot),
		usage:      make(map[uint32]backend.BufferUsage),
		historyCap: 64,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

func (c *bindingCache) Label() string {
	return c.label
}

func (c *bindingCache) entry(i uint32, kind slotKind) (*slot, error) {
	s, ok := c.slots[i]
	if !ok {
		s = &slot{kind: kind}
		c.slots[i] = s
	}
	if s.kind == kindNone {
		s.kind = kind
	}
	if s.kind != kind {
		return nil, fmt.Errorf("%s slot %d: %w", c.label, i, ErrSlotKind)
	}
	return s, nil
}

func (c *bindingCache) bufferUsage(i uint32) backend.BufferUsage {
	if u, ok := c.usage[i]; ok {
		return u | backend.BufferUsageCopyDst
	}
	return backend.BufferUsageUniform | backend.BufferUsageCopyDst
}

// ensureBuffer makes sure s holds a buffer of exactly size bytes.
func (c *bindingCache) ensureBuffer(i uint32, s *slot, size uint64, usage backend.BufferUsage) (bool, error) {
	if s.buffer != nil && s.buffer.Size() == size {
		return false, nil
	}
	if s.buffer != nil {
		s.buffer.Release()
		s.buffer = nil
	}
	buf, err := c.backend.CreateBuffer(backend.BufferDescriptor{
		Label: fmt.Sprintf("%s slot %d", c.label, i),
		Size:  size,
		Usage: usage,
	})
	if err != nil {
		s.state = SlotEmpty
		s.last = nil
		return false, fmt.Errorf("allocate %s slot %d (%d bytes): %w", c.label, i, size, err)
	}
	s.buffer = buf
	c.generation++
	c.stats.Allocations++
	common.Logger().Debug("binding cache allocated buffer", "cache", c.label, "slot", i, "size", size)
	return true, nil
}

func (c *bindingCache) upload(i uint32, s *slot, value []byte, realloc bool) error {
	if err := c.backend.WriteBuffer(s.buffer, 0, value); err != nil {
		s.state = SlotDirty
		return fmt.Errorf("upload %s slot %d: %w", c.label, i, err)
	}
	c.stats.Uploads++
	c.record(BufferWrite{Slot: i, Data: common.CloneBytes(value), Realloc: realloc})
	return nil
}

func (c *bindingCache) record(w BufferWrite) {
	if c.historyCap <= 0 {
		return
	}
	if len(c.writes) == c.historyCap {
		c.writes = slices.Delete(c.writes, 0, 1)
	}
	c.writes = append(c.writes, w)
}

func (c *bindingCache) Bind(i uint32, value []byte) (bool, error) {
	if len(value) == 0 {
		return false, fmt.Errorf("%s slot %d: empty value", c.label, i)
	}
	s, err := c.entry(i, kindBuffer)
	if err != nil {
		return false, err
	}
	if s.state == SlotClean && common.BytesEqual(s.last, value) {
		c.stats.Skipped++
		return false, nil
	}
	realloc, err := c.ensureBuffer(i, s, uint64(len(value)), c.bufferUsage(i))
	if err != nil {
		return false, err
	}
	if err := c.upload(i, s, value, realloc); err != nil {
		return false, err
	}
	s.last = common.CloneBytes(value)
	s.state = SlotClean
	return true, nil
}

func (c *bindingCache) Write(i uint32, value []byte) error {
	if len(value) == 0 {
		return fmt.Errorf("%s slot %d: empty value", c.label, i)
	}
	s, err := c.entry(i, kindBuffer)
	if err != nil {
		return err
	}
	realloc, err := c.ensureBuffer(i, s, uint64(len(value)), c.bufferUsage(i))
	if err != nil {
		return err
	}
	if err := c.upload(i, s, value, realloc); err != nil {
		return err
	}
	// streamed slots never answer Bind from memory
	s.last = nil
	s.state = SlotClean
	return nil
}

func (c *bindingCache) BindTexture(i uint32, tex backend.Texture) error {
	s, err := c.entry(i, kindTexture)
	if err != nil {
		return err
	}
	if s.state == SlotClean {
		return nil
	}
	if s.texture != tex {
		c.generation++
	}
	s.texture = tex
	s.state = SlotClean
	c.stats.TextureRebinds++
	common.Logger().Debug("binding cache bound texture", "cache", c.label, "slot", i)
	return nil
}

func (c *bindingCache) BindSampler(i uint32, filter common.FilterMode) error {
	s, err := c.entry(i, kindSampler)
	if err != nil {
		return err
	}
	if s.state == SlotClean {
		return nil
	}
	if s.sampler != nil && s.filter == filter {
		s.state = SlotClean
		return nil
	}
	smp, err := c.backend.CreateSampler(filter)
	if err != nil {
		return fmt.Errorf("create %s sampler slot %d: %w", c.label, i, err)
	}
	if s.sampler != nil {
		s.sampler.Release()
	}
	s.sampler = smp
	s.filter = filter
	s.state = SlotClean
	c.generation++
	c.stats.Allocations++
	common.Logger().Debug("binding cache created sampler", "cache", c.label, "slot", i, "filter", filter.String())
	return nil
}

func (c *bindingCache) BindOutputSurface(i uint32, size int) (backend.Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%s slot %d: invalid output size %d", c.label, i, size)
	}
	s, err := c.entry(i, kindOutput)
	if err != nil {
		return nil, err
	}
	if s.state == SlotClean && s.outputSize == size {
		return s.buffer, nil
	}
	if s.buffer != nil {
		s.buffer.Release()
		s.buffer = nil
	}
	usage := backend.BufferUsageStorage | backend.BufferUsageCopySrc | backend.BufferUsageCopyDst
	if _, err := c.ensureBuffer(i, s, uint64(size)*uint64(size)*4, usage); err != nil {
		return nil, err
	}
	s.outputSize = size
	s.state = SlotClean
	return s.buffer, nil
}

func (c *bindingCache) MarkDirty(i uint32) {
	s, ok := c.slots[i]
	if !ok || s.state == SlotEmpty {
		return
	}
	s.state = SlotDirty
}

func (c *bindingCache) State(i uint32) SlotState {
	if s, ok := c.slots[i]; ok {
		return s.state
	}
	return SlotEmpty
}

func (c *bindingCache) Buffer(i uint32) backend.Buffer {
	if s, ok := c.slots[i]; ok {
		return s.buffer
	}
	return nil
}

func (c *bindingCache) Bindings() backend.Bindings {
	keys := make([]uint32, 0, len(c.slots))
	for k := range c.slots {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := backend.Bindings{Generation: c.generation, Entries: make([]backend.Binding, 0, len(keys))}
	for _, k := range keys {
		s := c.slots[k]
		b := backend.Binding{Slot: k}
		switch s.kind {
		case kindBuffer, kindOutput:
			if s.buffer == nil {
				continue
			}
			b.Buffer = s.buffer
		case kindTexture:
			if s.texture == nil {
				continue
			}
			b.Texture = s.texture
		case kindSampler:
			if s.sampler == nil {
				continue
			}
			b.Sampler = s.sampler
		default:
			continue
		}
		out.Entries = append(out.Entries, b)
	}
	return out
}

func (c *bindingCache) Writes() []BufferWrite {
	return slices.Clone(c.writes)
}

func (c *bindingCache) Stats() Stats {
	return c.stats
}

func (c *bindingCache) Release() {
	for i, s := range c.slots {
		if s.buffer != nil {
			s.buffer.Release()
		}
		if s.sampler != nil {
			s.sampler.Release()
		}
		delete(c.slots, i)
	}
	c.writes = nil
	c.generation++
}
