package pipeline

import "github.com/Carmen-Shannon/oxy-volume/common"

// pipeline is the implementation of the Pipeline interface.
// It holds the backend handle of one compute entry point together with the data needed
// to size its dispatches.
type pipeline struct {
	// pipelineKey is the unique identifier for this pipeline, used for caching and lookups
	pipelineKey string
	// entryPoint is the compute function the pipeline runs
	entryPoint string
	// workgroupSize is the @workgroup_size of the entry point
	workgroupSize [3]uint32
	// programGeneration is the registry generation of the program the pipeline was built from
	programGeneration uint64

	// handle is the backend-owned pipeline object, nil until the backend built it
	handle any
	// release frees handle, may be nil
	release func()
}

// Pipeline defines the interface for a compute pipeline record. The backend builds the
// device object and stores it with SetHandle; callers only ever pass the record back to
// the backend.
type Pipeline interface {
	// PipelineKey returns the unique key associated with this pipeline, used for caching and lookups.
	//
	// Returns:
	//   - string: the unique key for this pipeline
	PipelineKey() string

	// EntryPoint returns the name of the compute function.
	//
	// Returns:
	//   - string: the entry point name
	EntryPoint() string

	// WorkgroupSize returns the workgroup dimensions of the entry point.
	//
	// Returns:
	//   - [3]uint32: the x, y and z workgroup size
	WorkgroupSize() [3]uint32

	// ProgramGeneration returns the generation of the program this pipeline belongs to.
	//
	// Returns:
	//   - uint64: the program generation
	ProgramGeneration() uint64

	// Handle returns the backend pipeline object.
	// Note: The caller is responsible for type asserting the returned value.
	//
	// Returns:
	//   - any: the backend object, or nil if not built
	Handle() any

	// SetHandle stores the backend pipeline object and the function that frees it.
	//
	// Parameters:
	//   - handle: the backend object
	//   - release: frees handle, may be nil
	SetHandle(handle any, release func())

	// Workgroups returns the workgroup counts needed to cover a grid of invocations.
	//
	// Parameters:
	//   - x, y, z: the invocation grid
	//
	// Returns:
	//   - [3]uint32: the workgroup counts
	Workgroups(x, y, z int) [3]uint32

	// Release frees the backend handle.
	Release()
}

var _ Pipeline = &pipeline{}

// NewPipeline is the entry point to create a new Pipeline record.
//
// Parameters:
//   - pipelineKey: the unique key for this pipeline
//   - opts: a variadic list of PipelineBuilderOption functions to configure the pipeline
//
// Returns:
//   - Pipeline: a new Pipeline with the key as its entry point unless overridden
func NewPipeline(pipelineKey string, opts ...PipelineBuilderOption) Pipeline {
	p := &pipeline{
		pipelineKey:   pipelineKey,
		entryPoint:    pipelineKey,
		workgroupSize: [3]uint32{1, 1, 1},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *pipeline) PipelineKey() string {
	return p.pipelineKey
}

func (p *pipeline) EntryPoint() string {
	return p.entryPoint
}

func (p *pipeline) WorkgroupSize() [3]uint32 {
	return p.workgroupSize
}

func (p *pipeline) ProgramGeneration() uint64 {
	return p.programGeneration
}

func (p *pipeline) Handle() any {
	return p.handle
}

func (p *pipeline) SetHandle(handle any, release func()) {
	p.Release()
	p.handle = handle
	p.release = release
}

func (p *pipeline) Workgroups(x, y, z int) [3]uint32 {
	return [3]uint32{
		common.Warps(x, int(p.workgroupSize[0])),
		common.Warps(y, int(p.workgroupSize[1])),
		common.Warps(z, int(p.workgroupSize[2])),
	}
}

func (p *pipeline) Release() {
	if p.release != nil {
		p.release()
	}
	p.handle = nil
	p.release = nil
}
