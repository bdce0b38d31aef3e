// Package backend defines the compute device abstraction the volume renderer runs on.
// Implementations live in the software and webgpu subpackages.
package backend

import (
	"errors"

	"github.com/Carmen-Shannon/oxy-volume/common"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/pipeline"
)

var (
	// ErrUnsupportedEntryPoint is returned when a pipeline names an entry point the backend cannot run.
	ErrUnsupportedEntryPoint = errors.New("unsupported entry point")
	// ErrResourceReleased is returned when a released resource is used.
	ErrResourceReleased = errors.New("resource released")
	// ErrMissingBinding is returned by Dispatch when a slot the program declares has no resource.
	ErrMissingBinding = errors.New("missing binding")
)

// Type identifies a backend implementation.
type Type string

const (
	// TypeSoftware selects the CPU backend.
	TypeSoftware Type = "software"
	// TypeWebGPU selects the wgpu-native backend.
	TypeWebGPU Type = "webgpu"
)

// Limits reports the resource limits of a device.
type Limits struct {
	MaxBufferSize               uint64
	MaxStorageBufferBindingSize uint64
	MaxTextureDimension3D       uint32
}

// BufferUsage is a bitset of the ways a buffer may be bound or copied.
type BufferUsage uint32

const (
	// BufferUsageUniform allows binding as a uniform block.
	BufferUsageUniform BufferUsage = 1 << iota
	// BufferUsageStorage allows binding as a storage array.
	BufferUsageStorage
	// BufferUsageCopySrc allows reading the buffer back.
	BufferUsageCopySrc
	// BufferUsageCopyDst allows writing the buffer from the host.
	BufferUsageCopyDst
)

// ResourceKind classifies one declared binding of a program.
type ResourceKind int

const (
	KindUniformBuffer ResourceKind = iota
	KindStorageBuffer
	KindReadOnlyStorageBuffer
	KindSampledTexture3D
	KindStorageTexture3D
	KindSampler
)

func (k ResourceKind) String() string {
	switch k {
	case KindUniformBuffer:
		return "uniform"
	case KindStorageBuffer:
		return "storage"
	case KindReadOnlyStorageBuffer:
		return "read-only-storage"
	case KindSampledTexture3D:
		return "texture_3d"
	case KindStorageTexture3D:
		return "texture_storage_3d"
	case KindSampler:
		return "sampler"
	default:
		return "unknown"
	}
}

// BindingLayout describes a @group(0) @binding(n) declaration of a program.
type BindingLayout struct {
	Binding uint32
	Name    string
	Kind    ResourceKind
	// MinSize is the minimum byte size of a buffer binding, 0 for runtime-sized arrays.
	MinSize uint64
}

// EntryPoint is a compute entry point of a program.
type EntryPoint struct {
	Name          string
	WorkgroupSize [3]uint32
}

// BufferDescriptor describes a buffer to create.
type BufferDescriptor struct {
	Label string
	Size  uint64
	Usage BufferUsage
}

// TextureDescriptor describes a volume texture to create. Volume textures are always
// RGBA8 unorm and usable both as a sampled texture and as a write-only storage texture.
type TextureDescriptor struct {
	Label string
	Size  common.Extent3D
}

// ProgramDescriptor describes a compilation unit.
type ProgramDescriptor struct {
	Label       string
	Source      string
	EntryPoints []EntryPoint
	Layout      []BindingLayout
	// FastMath requests relaxed floating point. Backends without such a switch ignore it.
	FastMath bool
}

// Buffer is a device buffer.
type Buffer interface {
	Label() string
	Size() uint64
	Usage() BufferUsage
	Release()
}

// Texture is a device 3D texture.
type Texture interface {
	Label() string
	Extent() common.Extent3D
	Release()
}

// Sampler is a device sampler.
type Sampler interface {
	Filter() common.FilterMode
	Release()
}

// Program is a compiled compilation unit exposing one or more entry points.
type Program interface {
	Label() string
	EntryPoints() []EntryPoint
	Layout() []BindingLayout
	Release()
}

// Binding attaches one resource to a slot. Exactly one of Buffer, Texture or Sampler is set.
type Binding struct {
	Slot    uint32
	Buffer  Buffer
	Texture Texture
	Sampler Sampler
}

// Bindings is the resource set of a dispatch. Generation changes whenever any slot's
// resource identity changes, so backends may cache derived objects by it.
type Bindings struct {
	Generation uint64
	Entries    []Binding
}

// Lookup returns the binding of slot.
func (b Bindings) Lookup(slot uint32) (Binding, bool) {
	for _, e := range b.Entries {
		if e.Slot == slot {
			return e, true
		}
	}
	return Binding{}, false
}

// Backend is a compute device able to run the volume kernels.
type Backend interface {
	// Name returns a human readable backend name.
	Name() string

	// Limits returns the device limits.
	//
	// Returns:
	//   - Limits: the limits
	Limits() Limits

	// CreateBuffer allocates a zeroed buffer.
	//
	// Parameters:
	//   - desc: the buffer descriptor
	//
	// Returns:
	//   - Buffer: the new buffer
	//   - error: an error if the size exceeds the device limit or allocation fails
	CreateBuffer(desc BufferDescriptor) (Buffer, error)

	// WriteBuffer queues a host-to-device copy into buf at offset.
	//
	// Parameters:
	//   - buf: the destination buffer
	//   - offset: the byte offset in buf
	//   - data: the bytes to copy
	//
	// Returns:
	//   - error: an error if the write is out of range or buf was released
	WriteBuffer(buf Buffer, offset uint64, data []byte) error

	// ReadBuffer waits for outstanding work and copies the contents of buf to the host.
	//
	// Parameters:
	//   - buf: a buffer created with BufferUsageCopySrc
	//
	// Returns:
	//   - []byte: a copy of the buffer contents
	//   - error: an error if the readback fails
	ReadBuffer(buf Buffer) ([]byte, error)

	// CreateVolumeTexture allocates a zeroed RGBA8 3D texture.
	//
	// Parameters:
	//   - desc: the texture descriptor
	//
	// Returns:
	//   - Texture: the new texture
	//   - error: an error if allocation fails
	CreateVolumeTexture(desc TextureDescriptor) (Texture, error)

	// CreateSampler creates a clamp-to-edge sampler with the given filter.
	CreateSampler(filter common.FilterMode) (Sampler, error)

	// CreateProgram compiles a compilation unit.
	//
	// Parameters:
	//   - desc: the program descriptor
	//
	// Returns:
	//   - Program: the compiled program
	//   - error: an error if compilation fails
	CreateProgram(desc ProgramDescriptor) (Program, error)

	// CreatePipeline builds the device pipeline for p's entry point in program and stores
	// the handle on p.
	//
	// Parameters:
	//   - p: the pipeline record, its entry point must exist in program
	//   - program: the compiled program
	//
	// Returns:
	//   - error: ErrUnsupportedEntryPoint or a device error
	CreatePipeline(p pipeline.Pipeline, program Program) error

	// Dispatch records and submits one compute dispatch.
	//
	// Parameters:
	//   - p: a pipeline built by CreatePipeline
	//   - bindings: the resource set
	//   - workgroups: the workgroup counts in x, y and z
	//   - wait: block until the device finished the work
	//
	// Returns:
	//   - error: an error if submission failed
	Dispatch(p pipeline.Pipeline, bindings Bindings, workgroups [3]uint32, wait bool) error

	// WaitIdle blocks until all submitted work has finished.
	WaitIdle() error

	// Release frees the device.
	Release()
}
