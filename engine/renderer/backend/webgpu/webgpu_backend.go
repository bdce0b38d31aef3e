// Package webgpu implements the compute backend on wgpu-native through the cogentcore
// bindings. Bind group layouts are built explicitly from the parsed program layout, so a
// program and every pipeline created from it share one layout.
package webgpu

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"

	"github.com/Carmen-Shannon/oxy-volume/common"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/backend"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/pipeline"
	"github.com/cogentcore/webgpu/wgpu"
)

type gpuBuffer struct {
	label    string
	size     uint64
	usage    backend.BufferUsage
	buffer   *wgpu.Buffer
	staging  *wgpu.Buffer
	released bool
}

func (b *gpuBuffer) Label() string              { return b.label }
func (b *gpuBuffer) Size() uint64               { return b.size }
func (b *gpuBuffer) Usage() backend.BufferUsage { return b.usage }

func (b *gpuBuffer) Release() {
	if b.released {
		return
	}
	b.released = true
	if b.staging != nil {
		b.staging.Release()
		b.staging = nil
	}
	b.buffer.Release()
}

type gpuTexture struct {
	label    string
	extent   common.Extent3D
	texture  *wgpu.Texture
	view     *wgpu.TextureView
	released bool
}

func (t *gpuTexture) Label() string           { return t.label }
func (t *gpuTexture) Extent() common.Extent3D { return t.extent }

func (t *gpuTexture) Release() {
	if t.released {
		return
	}
	t.released = true
	t.view.Release()
	t.texture.Release()
}

type gpuSampler struct {
	filter  common.FilterMode
	sampler *wgpu.Sampler
}

func (s *gpuSampler) Filter() common.FilterMode { return s.filter }
func (s *gpuSampler) Release()                  { s.sampler.Release() }

type gpuProgram struct {
	label          string
	entries        []backend.EntryPoint
	layout         []backend.BindingLayout
	module         *wgpu.ShaderModule
	bindGroup      *wgpu.BindGroupLayout
	pipelineLayout *wgpu.PipelineLayout
	released       bool
}

func (p *gpuProgram) Label() string                     { return p.label }
func (p *gpuProgram) EntryPoints() []backend.EntryPoint { return p.entries }
func (p *gpuProgram) Layout() []backend.BindingLayout   { return p.layout }

func (p *gpuProgram) Release() {
	if p.released {
		return
	}
	p.released = true
	p.pipelineLayout.Release()
	p.bindGroup.Release()
	p.module.Release()
}

// computePipeline is the pipeline handle of the webgpu backend. The bind group is cached
// for the bindings generation it was built from.
type computePipeline struct {
	pipeline   *wgpu.ComputePipeline
	program    *gpuProgram
	bindGroup  *wgpu.BindGroup
	generation uint64
}

func (c *computePipeline) release() {
	if c.bindGroup != nil {
		c.bindGroup.Release()
		c.bindGroup = nil
	}
	c.pipeline.Release()
}

// webgpuBackend is the implementation of the Backend interface.
type webgpuBackend struct {
	mu     sync.Mutex
	label  string
	limits backend.Limits

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	surface  *wgpu.Surface

	surfaceDescriptor    *wgpu.SurfaceDescriptor
	forceFallbackAdapter bool
	requiredLimits       *backend.Limits

	released bool
}

// Backend is the wgpu-native compute backend. Besides running the volume kernels it can
// present finished frames to the window surface it was created for.
type Backend interface {
	backend.Backend

	// NewPresenter creates a Presenter drawing to the backend's window surface.
	//
	// Parameters:
	//   - width: the surface width in pixels
	//   - height: the surface height in pixels
	//
	// Returns:
	//   - Presenter: the presenter
	//   - error: an error if the backend was created without a surface descriptor
	NewPresenter(width, height int) (Presenter, error)
}

var _ Backend = &webgpuBackend{}

// ErrNoSurface is returned by NewPresenter for a headless backend.
var ErrNoSurface = errors.New("backend has no surface")

// NewWebGPUBackend bootstraps a wgpu instance, adapter, device and queue. The calling
// goroutine is locked to its OS thread, as the native driver requires.
//
// Parameters:
//   - options: variadic list of WebGPUBackendOption functions
//
// Returns:
//   - Backend: the backend
//   - error: an error if no adapter or device is available
func NewWebGPUBackend(options ...WebGPUBackendOption) (Backend, error) {
	runtime.LockOSThread()
	b := &webgpuBackend{
		label: "Volume Device",
	}
	for _, opt := range options {
		opt(b)
	}

	b.instance = wgpu.CreateInstance(nil)
	if b.surfaceDescriptor != nil {
		b.surface = b.instance.CreateSurface(b.surfaceDescriptor)
	}

	a, err := b.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: b.forceFallbackAdapter,
		CompatibleSurface:    b.surface,
	})
	if err != nil {
		b.instance.Release()
		return nil, fmt.Errorf("request adapter: %w", err)
	}
	b.adapter = a

	limits := wgpu.DefaultLimits()
	if b.requiredLimits != nil {
		limits.MaxBufferSize = max(limits.MaxBufferSize, b.requiredLimits.MaxBufferSize)
		limits.MaxStorageBufferBindingSize = max(limits.MaxStorageBufferBindingSize, b.requiredLimits.MaxStorageBufferBindingSize)
		limits.MaxTextureDimension3D = max(limits.MaxTextureDimension3D, b.requiredLimits.MaxTextureDimension3D)
	}

	d, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: b.label,
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: limits,
		},
	})
	if err != nil {
		a.Release()
		b.instance.Release()
		return nil, fmt.Errorf("request device: %w", err)
	}
	b.device = d
	b.queue = d.GetQueue()
	b.limits = backend.Limits{
		MaxBufferSize:               limits.MaxBufferSize,
		MaxStorageBufferBindingSize: limits.MaxStorageBufferBindingSize,
		MaxTextureDimension3D:       limits.MaxTextureDimension3D,
	}

	common.Logger().Info("webgpu: device ready",
		"max_buffer", b.limits.MaxBufferSize,
		"max_storage_binding", b.limits.MaxStorageBufferBindingSize,
		"max_texture_3d", b.limits.MaxTextureDimension3D)
	return b, nil
}

func (b *webgpuBackend) Name() string {
	return "webgpu"
}

func (b *webgpuBackend) Limits() backend.Limits {
	return b.limits
}

// bufferUsage maps backend usage bits to wgpu usage bits.
func bufferUsage(u backend.BufferUsage) wgpu.BufferUsage {
	var usage wgpu.BufferUsage
	if u&backend.BufferUsageUniform != 0 {
		usage |= wgpu.BufferUsageUniform
	}
	if u&backend.BufferUsageStorage != 0 {
		usage |= wgpu.BufferUsageStorage
	}
	if u&backend.BufferUsageCopySrc != 0 {
		usage |= wgpu.BufferUsageCopySrc
	}
	if u&backend.BufferUsageCopyDst != 0 {
		usage |= wgpu.BufferUsageCopyDst
	}
	return usage
}

func (b *webgpuBackend) CreateBuffer(desc backend.BufferDescriptor) (backend.Buffer, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("buffer %q: zero size", desc.Label)
	}
	if desc.Size > b.limits.MaxBufferSize {
		return nil, fmt.Errorf("buffer %q: %d bytes exceeds the %d byte limit", desc.Label, desc.Size, b.limits.MaxBufferSize)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// copies and mapped ranges work in 4 byte units
	size := (desc.Size + 3) &^ 3
	buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: desc.Label,
		Size:  size,
		Usage: bufferUsage(desc.Usage),
	})
	if err != nil {
		return nil, fmt.Errorf("buffer %q: %w", desc.Label, err)
	}
	return &gpuBuffer{label: desc.Label, size: desc.Size, usage: desc.Usage, buffer: buf}, nil
}

func (b *webgpuBackend) WriteBuffer(buf backend.Buffer, offset uint64, data []byte) error {
	gb, ok := buf.(*gpuBuffer)
	if !ok {
		return fmt.Errorf("write buffer: foreign buffer %T", buf)
	}
	if gb.released {
		return fmt.Errorf("write buffer %q: %w", gb.label, backend.ErrResourceReleased)
	}
	if offset+uint64(len(data)) > gb.size {
		return fmt.Errorf("write buffer %q: %d bytes at offset %d overflows %d", gb.label, len(data), offset, gb.size)
	}
	if len(data) == 0 {
		return nil
	}
	if len(data)%4 != 0 {
		padded := make([]byte, (len(data)+3)&^3)
		copy(padded, data)
		data = padded
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue.WriteBuffer(gb.buffer, offset, data)
	return nil
}

// ReadBuffer copies buf into a staging buffer kept alongside it, maps the staging buffer
// and blocks on the device until the map completes.
func (b *webgpuBackend) ReadBuffer(buf backend.Buffer) ([]byte, error) {
	gb, ok := buf.(*gpuBuffer)
	if !ok {
		return nil, fmt.Errorf("read buffer: foreign buffer %T", buf)
	}
	if gb.released {
		return nil, fmt.Errorf("read buffer %q: %w", gb.label, backend.ErrResourceReleased)
	}
	if gb.usage&backend.BufferUsageCopySrc == 0 {
		return nil, fmt.Errorf("read buffer %q: buffer lacks copy source usage", gb.label)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	size := (gb.size + 3) &^ 3
	if gb.staging == nil {
		staging, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: gb.label + " Staging",
			Size:  size,
			Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			return nil, fmt.Errorf("read buffer %q: %w", gb.label, err)
		}
		gb.staging = staging
	}

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("read buffer %q: %w", gb.label, err)
	}
	encoder.CopyBufferToBuffer(gb.buffer, 0, gb.staging, 0, size)
	commandBuffer, err := encoder.Finish(nil)
	if err != nil {
		encoder.Release()
		return nil, fmt.Errorf("read buffer %q: %w", gb.label, err)
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()
	encoder.Release()

	var status wgpu.BufferMapAsyncStatus
	err = gb.staging.MapAsync(wgpu.MapModeRead, 0, size, func(s wgpu.BufferMapAsyncStatus) {
		status = s
	})
	if err != nil {
		return nil, fmt.Errorf("read buffer %q: %w", gb.label, err)
	}
	b.device.Poll(true, nil)
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, fmt.Errorf("read buffer %q: map failed with status %v", gb.label, status)
	}

	mapped := gb.staging.GetMappedRange(0, uint(size))
	out := make([]byte, gb.size)
	copy(out, mapped)
	gb.staging.Unmap()
	return out, nil
}

func (b *webgpuBackend) CreateVolumeTexture(desc backend.TextureDescriptor) (backend.Texture, error) {
	e := desc.Size
	if e.Width <= 0 || e.Height <= 0 || e.Depth <= 0 {
		return nil, fmt.Errorf("texture %q: empty extent %dx%dx%d", desc.Label, e.Width, e.Height, e.Depth)
	}
	limit := int(b.limits.MaxTextureDimension3D)
	if e.Width > limit || e.Height > limit || e.Depth > limit {
		return nil, fmt.Errorf("texture %q: extent %dx%dx%d exceeds %d", desc.Label, e.Width, e.Height, e.Depth, limit)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tex, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:     desc.Label,
		Usage:     wgpu.TextureUsageTextureBinding | wgpu.TextureUsageStorageBinding | wgpu.TextureUsageCopyDst,
		Dimension: wgpu.TextureDimension3D,
		Size: wgpu.Extent3D{
			Width:              uint32(e.Width),
			Height:             uint32(e.Height),
			DepthOrArrayLayers: uint32(e.Depth),
		},
		Format:        wgpu.TextureFormatRGBA8Unorm,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("texture %q: %w", desc.Label, err)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, fmt.Errorf("texture %q: %w", desc.Label, err)
	}
	return &gpuTexture{label: desc.Label, extent: e, texture: tex, view: view}, nil
}

func (b *webgpuBackend) CreateSampler(filter common.FilterMode) (backend.Sampler, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	mode := wgpu.FilterModeNearest
	if filter == common.FilterLinear {
		mode = wgpu.FilterModeLinear
	}
	s, err := b.device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         "Volume Sampler",
		AddressModeU:  wgpu.AddressModeClampToEdge,
		AddressModeV:  wgpu.AddressModeClampToEdge,
		AddressModeW:  wgpu.AddressModeClampToEdge,
		MagFilter:     mode,
		MinFilter:     mode,
		MipmapFilter:  wgpu.MipmapFilterModeNearest,
		LodMinClamp:   0,
		LodMaxClamp:   32,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("sampler: %w", err)
	}
	return &gpuSampler{filter: filter, sampler: s}, nil
}

// layoutEntry translates one parsed declaration into a bind group layout entry.
func layoutEntry(l backend.BindingLayout) (wgpu.BindGroupLayoutEntry, error) {
	entry := wgpu.BindGroupLayoutEntry{
		Binding:    l.Binding,
		Visibility: wgpu.ShaderStageCompute,
	}
	switch l.Kind {
	case backend.KindUniformBuffer:
		entry.Buffer.Type = wgpu.BufferBindingTypeUniform
		entry.Buffer.MinBindingSize = l.MinSize
	case backend.KindStorageBuffer:
		entry.Buffer.Type = wgpu.BufferBindingTypeStorage
		entry.Buffer.MinBindingSize = l.MinSize
	case backend.KindReadOnlyStorageBuffer:
		entry.Buffer.Type = wgpu.BufferBindingTypeReadOnlyStorage
		entry.Buffer.MinBindingSize = l.MinSize
	case backend.KindSampledTexture3D:
		entry.Texture.SampleType = wgpu.TextureSampleTypeFloat
		entry.Texture.ViewDimension = wgpu.TextureViewDimension3D
	case backend.KindStorageTexture3D:
		entry.StorageTexture.Access = wgpu.StorageTextureAccessWriteOnly
		entry.StorageTexture.Format = wgpu.TextureFormatRGBA8Unorm
		entry.StorageTexture.ViewDimension = wgpu.TextureViewDimension3D
	case backend.KindSampler:
		entry.Sampler.Type = wgpu.SamplerBindingTypeFiltering
	default:
		return entry, fmt.Errorf("binding %d: unsupported kind %s", l.Binding, l.Kind)
	}
	return entry, nil
}

func (b *webgpuBackend) CreateProgram(desc backend.ProgramDescriptor) (backend.Program, error) {
	if len(desc.EntryPoints) == 0 {
		return nil, fmt.Errorf("program %q: no entry points", desc.Label)
	}
	entries := make([]wgpu.BindGroupLayoutEntry, 0, len(desc.Layout))
	for _, l := range desc.Layout {
		e, err := layoutEntry(l)
		if err != nil {
			return nil, fmt.Errorf("program %q: %w", desc.Label, err)
		}
		entries = append(entries, e)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	module, err := b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: desc.Label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: desc.Source,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", desc.Label, err)
	}

	bgl, err := b.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   desc.Label + " Bind Group Layout",
		Entries: entries,
	})
	if err != nil {
		module.Release()
		return nil, fmt.Errorf("program %q: failed to create bind group layout: %w", desc.Label, err)
	}

	layout, err := b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            desc.Label,
		BindGroupLayouts: []*wgpu.BindGroupLayout{bgl},
	})
	if err != nil {
		bgl.Release()
		module.Release()
		return nil, fmt.Errorf("program %q: %w", desc.Label, err)
	}

	return &gpuProgram{
		label:          desc.Label,
		entries:        slices.Clone(desc.EntryPoints),
		layout:         slices.Clone(desc.Layout),
		module:         module,
		bindGroup:      bgl,
		pipelineLayout: layout,
	}, nil
}

func (b *webgpuBackend) CreatePipeline(p pipeline.Pipeline, prog backend.Program) error {
	gp, ok := prog.(*gpuProgram)
	if !ok {
		return fmt.Errorf("create pipeline %q: foreign program %T", p.PipelineKey(), prog)
	}
	if gp.released {
		return fmt.Errorf("create pipeline %q: %w", p.PipelineKey(), backend.ErrResourceReleased)
	}
	name := p.EntryPoint()
	if !slices.ContainsFunc(gp.entries, func(e backend.EntryPoint) bool { return e.Name == name }) {
		return fmt.Errorf("create pipeline %q: entry point %q not in program %q: %w", p.PipelineKey(), name, gp.label, backend.ErrUnsupportedEntryPoint)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	created, err := b.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  p.PipelineKey() + " Compute Pipeline",
		Layout: gp.pipelineLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     gp.module,
			EntryPoint: name,
		},
	})
	if err != nil {
		return fmt.Errorf("create pipeline %q: %w", p.PipelineKey(), err)
	}

	cp := &computePipeline{pipeline: created, program: gp}
	p.SetHandle(cp, cp.release)
	return nil
}

// bindGroup returns the bind group of cp for bindings, rebuilding it only when the
// bindings generation moved.
func (b *webgpuBackend) bindGroup(key string, cp *computePipeline, bindings backend.Bindings) (*wgpu.BindGroup, error) {
	if cp.bindGroup != nil && cp.generation == bindings.Generation {
		return cp.bindGroup, nil
	}

	entries := make([]wgpu.BindGroupEntry, 0, len(cp.program.layout))
	for _, l := range cp.program.layout {
		bound, ok := bindings.Lookup(l.Binding)
		if !ok {
			return nil, fmt.Errorf("slot %d (%s): %w", l.Binding, l.Name, backend.ErrMissingBinding)
		}
		entry := wgpu.BindGroupEntry{Binding: l.Binding}
		switch l.Kind {
		case backend.KindSampledTexture3D, backend.KindStorageTexture3D:
			t, ok := bound.Texture.(*gpuTexture)
			if !ok || t == nil {
				return nil, fmt.Errorf("slot %d: expected a texture: %w", l.Binding, backend.ErrMissingBinding)
			}
			if t.released {
				return nil, fmt.Errorf("slot %d: %w", l.Binding, backend.ErrResourceReleased)
			}
			entry.TextureView = t.view
		case backend.KindSampler:
			s, ok := bound.Sampler.(*gpuSampler)
			if !ok || s == nil {
				return nil, fmt.Errorf("slot %d: expected a sampler: %w", l.Binding, backend.ErrMissingBinding)
			}
			entry.Sampler = s.sampler
		default:
			buf, ok := bound.Buffer.(*gpuBuffer)
			if !ok || buf == nil {
				return nil, fmt.Errorf("slot %d: expected a buffer: %w", l.Binding, backend.ErrMissingBinding)
			}
			if buf.released {
				return nil, fmt.Errorf("slot %d: %w", l.Binding, backend.ErrResourceReleased)
			}
			entry.Buffer = buf.buffer
			entry.Offset = 0
			entry.Size = wgpu.WholeSize
		}
		entries = append(entries, entry)
	}

	bg, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   key + " Bind Group",
		Layout:  cp.program.bindGroup,
		Entries: entries,
	})
	if err != nil {
		return nil, err
	}
	if cp.bindGroup != nil {
		cp.bindGroup.Release()
	}
	cp.bindGroup = bg
	cp.generation = bindings.Generation
	common.Logger().Debug("webgpu: rebuilt bind group", "pipeline", key, "generation", bindings.Generation)
	return bg, nil
}

func (b *webgpuBackend) Dispatch(p pipeline.Pipeline, bindings backend.Bindings, workgroups [3]uint32, wait bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return fmt.Errorf("dispatch %q: %w", p.PipelineKey(), backend.ErrResourceReleased)
	}
	cp, ok := p.Handle().(*computePipeline)
	if !ok || cp == nil {
		return fmt.Errorf("dispatch %q: pipeline not built", p.PipelineKey())
	}
	if cp.program.released {
		return fmt.Errorf("dispatch %q: %w", p.PipelineKey(), backend.ErrResourceReleased)
	}
	bg, err := b.bindGroup(p.PipelineKey(), cp, bindings)
	if err != nil {
		return fmt.Errorf("dispatch %q: %w", p.PipelineKey(), err)
	}

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("dispatch %q: %w", p.PipelineKey(), err)
	}
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(cp.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.DispatchWorkgroups(workgroups[0], workgroups[1], workgroups[2])
	pass.End()

	commandBuffer, err := encoder.Finish(nil)
	if err != nil {
		encoder.Release()
		return fmt.Errorf("dispatch %q: %w", p.PipelineKey(), err)
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()
	encoder.Release()

	if wait {
		b.device.Poll(true, nil)
	}
	return nil
}

func (b *webgpuBackend) WaitIdle() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return backend.ErrResourceReleased
	}
	b.device.Poll(true, nil)
	return nil
}

func (b *webgpuBackend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return
	}
	b.released = true
	b.device.Release()
	b.adapter.Release()
	if b.surface != nil {
		b.surface.Release()
	}
	b.instance.Release()
}
