package binding_cache

// BufferWrite describes a single buffer upload issued by the cache, targeting a slot at a
// given byte offset.
type BufferWrite struct {
	Slot   uint32
	Offset uint64
	Data   []byte
	// Realloc is set when the upload followed a fresh allocation.
	Realloc bool
}

// Stats counts the device operations issued by a cache.
type Stats struct {
	// Uploads is the number of buffer writes.
	Uploads int
	// Skipped is the number of Bind calls answered from the last-written value.
	Skipped int
	// Allocations is the number of buffers, samplers created.
	Allocations int
	// TextureRebinds is the number of honored texture binds.
	TextureRebinds int
}
