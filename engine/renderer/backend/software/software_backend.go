// Package software implements the compute backend on the CPU. Kernels are Go functions
// registered by entry point name and run in parallel row bands on a worker pool.
package software

import (
	"fmt"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-volume/common"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/backend"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/pipeline"
)

// maxBands caps how many tasks one dispatch is split into.
const maxBands = 64

type buffer struct {
	label    string
	usage    backend.BufferUsage
	data     []byte
	released bool
}

func (b *buffer) Label() string              { return b.label }
func (b *buffer) Size() uint64               { return uint64(len(b.data)) }
func (b *buffer) Usage() backend.BufferUsage { return b.usage }
func (b *buffer) Release()                   { b.released = true }

type texture struct {
	label    string
	extent   common.Extent3D
	data     []byte
	released bool
}

func (t *texture) Label() string           { return t.label }
func (t *texture) Extent() common.Extent3D { return t.extent }
func (t *texture) Release()                { t.released = true }

type sampler struct {
	filter common.FilterMode
}

func (s *sampler) Filter() common.FilterMode { return s.filter }
func (s *sampler) Release()                  {}

type program struct {
	label    string
	entries  []backend.EntryPoint
	layout   []backend.BindingLayout
	released bool
}

func (p *program) Label() string                     { return p.label }
func (p *program) EntryPoints() []backend.EntryPoint { return p.entries }
func (p *program) Layout() []backend.BindingLayout   { return p.layout }
func (p *program) Release()                          { p.released = true }

// compiledKernel is the pipeline handle of the software backend.
type compiledKernel struct {
	name    string
	prepare kernelFunc
	program *program
}

// softwareBackend is the implementation of the backend.Backend interface on the CPU.
type softwareBackend struct {
	mu      sync.Mutex
	limits  backend.Limits
	workers int
	pool    worker.DynamicWorkerPool
	kernels map[string]kernelFunc

	released bool
}

var _ backend.Backend = &softwareBackend{}

// NewSoftwareBackend creates a CPU backend.
//
// Parameters:
//   - options: variadic list of SoftwareBackendOption functions
//
// Returns:
//   - backend.Backend: the backend
func NewSoftwareBackend(options ...SoftwareBackendOption) backend.Backend {
	b := &softwareBackend{
		limits: backend.Limits{
			MaxBufferSize:               1 << 30,
			MaxStorageBufferBindingSize: 1 << 30,
			MaxTextureDimension3D:       2048,
		},
		workers: runtime.NumCPU(),
		kernels: builtinKernels(),
	}
	for _, opt := range options {
		opt(b)
	}
	b.pool = worker.NewDynamicWorkerPool(b.workers, 256, 1*time.Second)
	return b
}

func (b *softwareBackend) Name() string {
	return "software"
}

func (b *softwareBackend) Limits() backend.Limits {
	return b.limits
}

func (b *softwareBackend) CreateBuffer(desc backend.BufferDescriptor) (backend.Buffer, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("buffer %q: zero size", desc.Label)
	}
	if desc.Size > b.limits.MaxBufferSize {
		return nil, fmt.Errorf("buffer %q: %d bytes exceeds the %d byte limit", desc.Label, desc.Size, b.limits.MaxBufferSize)
	}
	return &buffer{label: desc.Label, usage: desc.Usage, data: make([]byte, desc.Size)}, nil
}

func (b *softwareBackend) WriteBuffer(buf backend.Buffer, offset uint64, data []byte) error {
	sb, ok := buf.(*buffer)
	if !ok {
		return fmt.Errorf("write buffer: foreign buffer %T", buf)
	}
	if sb.released {
		return fmt.Errorf("write buffer %q: %w", sb.label, backend.ErrResourceReleased)
	}
	if offset+uint64(len(data)) > uint64(len(sb.data)) {
		return fmt.Errorf("write buffer %q: %d bytes at offset %d overflows %d", sb.label, len(data), offset, len(sb.data))
	}
	copy(sb.data[offset:], data)
	return nil
}

func (b *softwareBackend) ReadBuffer(buf backend.Buffer) ([]byte, error) {
	sb, ok := buf.(*buffer)
	if !ok {
		return nil, fmt.Errorf("read buffer: foreign buffer %T", buf)
	}
	if sb.released {
		return nil, fmt.Errorf("read buffer %q: %w", sb.label, backend.ErrResourceReleased)
	}
	return common.CloneBytes(sb.data), nil
}

func (b *softwareBackend) CreateVolumeTexture(desc backend.TextureDescriptor) (backend.Texture, error) {
	e := desc.Size
	if e.Width <= 0 || e.Height <= 0 || e.Depth <= 0 {
		return nil, fmt.Errorf("texture %q: empty extent %dx%dx%d", desc.Label, e.Width, e.Height, e.Depth)
	}
	limit := int(b.limits.MaxTextureDimension3D)
	if e.Width > limit || e.Height > limit || e.Depth > limit {
		return nil, fmt.Errorf("texture %q: extent %dx%dx%d exceeds %d", desc.Label, e.Width, e.Height, e.Depth, limit)
	}
	size := uint64(e.Voxels()) * 4
	if size > b.limits.MaxBufferSize {
		return nil, fmt.Errorf("texture %q: %d bytes exceeds the %d byte limit", desc.Label, size, b.limits.MaxBufferSize)
	}
	return &texture{label: desc.Label, extent: e, data: make([]byte, size)}, nil
}

func (b *softwareBackend) CreateSampler(filter common.FilterMode) (backend.Sampler, error) {
	return &sampler{filter: filter}, nil
}

func (b *softwareBackend) CreateProgram(desc backend.ProgramDescriptor) (backend.Program, error) {
	if len(desc.EntryPoints) == 0 {
		return nil, fmt.Errorf("program %q: no entry points", desc.Label)
	}
	return &program{
		label:   desc.Label,
		entries: slices.Clone(desc.EntryPoints),
		layout:  slices.Clone(desc.Layout),
	}, nil
}

func (b *softwareBackend) CreatePipeline(p pipeline.Pipeline, prog backend.Program) error {
	sp, ok := prog.(*program)
	if !ok {
		return fmt.Errorf("create pipeline %q: foreign program %T", p.PipelineKey(), prog)
	}
	if sp.released {
		return fmt.Errorf("create pipeline %q: %w", p.PipelineKey(), backend.ErrResourceReleased)
	}
	name := p.EntryPoint()
	if !slices.ContainsFunc(sp.entries, func(e backend.EntryPoint) bool { return e.Name == name }) {
		return fmt.Errorf("create pipeline %q: entry point %q not in program %q: %w", p.PipelineKey(), name, sp.label, backend.ErrUnsupportedEntryPoint)
	}
	fn, ok := b.kernels[name]
	if !ok {
		return fmt.Errorf("create pipeline %q: no software kernel for %q: %w", p.PipelineKey(), name, backend.ErrUnsupportedEntryPoint)
	}
	p.SetHandle(&compiledKernel{name: name, prepare: fn, program: sp}, nil)
	return nil
}

// Dispatch runs the kernel over the invocation grid. The software backend always
// finishes the work before returning, so wait has no effect.
func (b *softwareBackend) Dispatch(p pipeline.Pipeline, bindings backend.Bindings, workgroups [3]uint32, wait bool) error {
	b.mu.Lock()
	released := b.released
	b.mu.Unlock()
	if released {
		return fmt.Errorf("dispatch %q: %w", p.PipelineKey(), backend.ErrResourceReleased)
	}

	k, ok := p.Handle().(*compiledKernel)
	if !ok || k == nil {
		return fmt.Errorf("dispatch %q: pipeline not built", p.PipelineKey())
	}
	if k.program.released {
		return fmt.Errorf("dispatch %q: %w", p.PipelineKey(), backend.ErrResourceReleased)
	}
	for _, l := range k.program.layout {
		if _, ok := bindings.Lookup(l.Binding); !ok {
			return fmt.Errorf("dispatch %q: slot %d (%s): %w", p.PipelineKey(), l.Binding, l.Name, backend.ErrMissingBinding)
		}
	}

	invoke, err := k.prepare(resources{bindings: bindings})
	if err != nil {
		return fmt.Errorf("dispatch %q: %w", p.PipelineKey(), err)
	}

	size := p.WorkgroupSize()
	gx := int(workgroups[0] * size[0])
	gy := int(workgroups[1] * size[1])
	gz := int(workgroups[2] * size[2])
	rows := gy * gz
	if gx == 0 || rows == 0 {
		return nil
	}

	bands := min(rows, maxBands)
	per := (rows + bands - 1) / bands
	var wg sync.WaitGroup
	for band := 0; band < bands; band++ {
		start := band * per
		end := min(start+per, rows)
		if start >= end {
			break
		}
		wg.Add(1)
		b.pool.SubmitTask(worker.Task{
			ID: band,
			Do: func() (any, error) {
				defer wg.Done()
				for r := start; r < end; r++ {
					y, z := uint32(r%gy), uint32(r/gy)
					for x := 0; x < gx; x++ {
						invoke(uint32(x), y, z)
					}
				}
				return nil, nil
			},
		})
	}
	wg.Wait()
	return nil
}

func (b *softwareBackend) WaitIdle() error {
	return nil
}

func (b *softwareBackend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return
	}
	b.released = true
	b.pool.Stop()
}

// resources resolves the bindings of a dispatch into backend objects.
type resources struct {
	bindings backend.Bindings
}

func (r resources) buffer(slot uint32) (*buffer, error) {
	e, ok := r.bindings.Lookup(slot)
	if !ok || e.Buffer == nil {
		return nil, fmt.Errorf("slot %d: %w", slot, backend.ErrMissingBinding)
	}
	b, ok := e.Buffer.(*buffer)
	if !ok {
		return nil, fmt.Errorf("slot %d: foreign buffer %T", slot, e.Buffer)
	}
	if b.released {
		return nil, fmt.Errorf("slot %d: %w", slot, backend.ErrResourceReleased)
	}
	return b, nil
}

func (r resources) texture(slot uint32) (*texture, error) {
	e, ok := r.bindings.Lookup(slot)
	if !ok || e.Texture == nil {
		return nil, fmt.Errorf("slot %d: %w", slot, backend.ErrMissingBinding)
	}
	t, ok := e.Texture.(*texture)
	if !ok {
		return nil, fmt.Errorf("slot %d: foreign texture %T", slot, e.Texture)
	}
	if t.released {
		return nil, fmt.Errorf("slot %d: %w", slot, backend.ErrResourceReleased)
	}
	return t, nil
}

func (r resources) sampler(slot uint32) (common.FilterMode, error) {
	e, ok := r.bindings.Lookup(slot)
	if !ok || e.Sampler == nil {
		return common.FilterNearest, fmt.Errorf("slot %d: %w", slot, backend.ErrMissingBinding)
	}
	return e.Sampler.Filter(), nil
}

// Texels returns a copy of the RGBA8 voxels of a texture created by the software backend,
// laid out x fastest, then y, then z.
//
// Parameters:
//   - t: a texture of this backend
//
// Returns:
//   - []byte: the voxel bytes
//   - error: an error for foreign or released textures
func Texels(t backend.Texture) ([]byte, error) {
	st, ok := t.(*texture)
	if !ok {
		return nil, fmt.Errorf("texels: foreign texture %T", t)
	}
	if st.released {
		return nil, fmt.Errorf("texels %q: %w", st.label, backend.ErrResourceReleased)
	}
	return common.CloneBytes(st.data), nil
}
