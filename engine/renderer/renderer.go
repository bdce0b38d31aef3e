// Package renderer turns a RenderState, a set of tone curves and a volume texture into an
// image by running the selected ray-march kernel.
package renderer

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/Carmen-Shannon/oxy-volume/common"
	rs "github.com/Carmen-Shannon/oxy-volume/engine/render_state"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/backend"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/binding_cache"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-volume/engine/tone_curve"
	"github.com/Carmen-Shannon/oxy-volume/engine/volume"
)

// overlayEntry is the entry point of the point marker pass.
const overlayEntry = "overlay_points"

// ErrNoData is returned by RenderOrError when no volume is loaded.
var ErrNoData = errors.New("no volume loaded")

// KernelFallbackFunc is notified when the requested kernel could not be used and another
// kernel rendered the frame instead.
//
// Parameters:
//   - requested: the kernel name the state asked for
//   - used: the kernel that was run
//   - reason: the pipeline error, nil when the name is simply not registered
type KernelFallbackFunc func(requested string, used shader.Kernel, reason error)

// renderer is the implementation of the Renderer interface.
type renderer struct {
	mu *sync.Mutex

	backend  backend.Backend
	registry shader.ShaderRegistry
	cache    binding_cache.BindingCache

	// pipelineCache holds the pipelines built from the program of registry generation
	// programGeneration, keyed by entry point.
	pipelineCache     map[string]pipeline.Pipeline
	programGeneration uint64
	// failedPipelines holds the entry points whose pipeline could not be built from the
	// current program.
	failedPipelines map[string]error

	// active is the kernel the last frame ran; reported names a kernel whose fallback was
	// already announced.
	active   string
	reported string

	state    *rs.RenderState
	curves   *tone_curve.Set
	vol      volume.Volume
	scaleBar ScaleBar

	volumeChanged bool
	filter        common.FilterMode
	lutVersion    uint64
	lutBound      bool

	onFallback KernelFallbackFunc
	historyCap int
	released   bool
}

// Renderer renders one frame at a time from the current RenderState, tone curves and
// volume. Calls are serialized; the state and curves are read only while Render runs, so
// the caller may mutate them between frames.
type Renderer interface {
	// Render runs the active kernel over a targetSize x targetSize output and decodes the
	// pixels. Slots whose values did not change since the previous frame are not re-uploaded.
	// When no volume is set Render returns (nil, nil). A failed submission is logged and
	// returns no image.
	//
	// Parameters:
	//   - targetSize: the output edge length in pixels, <= 0 uses the state's ViewSize
	//   - drawScaleBar: whether to composite the configured scale bar
	//
	// Returns:
	//   - *image.RGBA: the frame
	//   - error: a pipeline, submission or readback error
	Render(targetSize int, drawScaleBar bool) (*image.RGBA, error)

	// RenderOrError is Render with the empty state reported as ErrNoData.
	RenderOrError(targetSize int, drawScaleBar bool) (*image.RGBA, error)

	// SetVolume replaces the rendered volume and updates the state's dimensions. The
	// texture slot is invalidated so the next frame binds the new texture. nil clears it.
	//
	// Parameters:
	//   - v: the volume, owned by the caller
	SetVolume(v volume.Volume)

	// Volume returns the rendered volume, nil when none is set.
	Volume() volume.Volume

	// SetState replaces the render state.
	SetState(s *rs.RenderState)

	// State returns the render state the next frame reads.
	State() *rs.RenderState

	// SetToneCurves replaces the tone curve set.
	SetToneCurves(set *tone_curve.Set)

	// ToneCurves returns the tone curve set the next frame reads.
	ToneCurves() *tone_curve.Set

	// SetScaleBar configures the calibrated scale bar. A zero Length disables it.
	SetScaleBar(bar ScaleBar)

	// ScaleBar returns the configured scale bar.
	ScaleBar() ScaleBar

	// SetKernelFallbackHandler registers fn to be notified on kernel fallback. The handler
	// runs once per requested kernel until that kernel renders or the program changes.
	SetKernelFallbackHandler(fn KernelFallbackFunc)

	// ActiveKernel returns the name of the kernel the last frame ran, which differs from
	// State().Kernel after a fallback. It is empty before the first frame.
	ActiveKernel() string

	// Registry returns the shader registry kernels are selected from.
	Registry() shader.ShaderRegistry

	// Pipeline returns the cached pipeline of an entry point, nil when none was built.
	//
	// Parameters:
	//   - key: the entry point name
	//
	// Returns:
	//   - pipeline.Pipeline: the pipeline or nil
	Pipeline(key string) pipeline.Pipeline

	// Pipelines returns a copy of the pipeline cache.
	Pipelines() map[string]pipeline.Pipeline

	// Stats returns the binding cache upload counters.
	Stats() binding_cache.Stats

	// Release frees the pipelines and every cached binding. The volume, the registry and
	// the backend are owned by the caller.
	Release()
}

var _ Renderer = &renderer{}

// NewRenderer creates a Renderer dispatching on b with kernels from registry. The
// registry's built-in program is loaded if that has not happened yet.
//
// Parameters:
//   - b: the backend
//   - registry: the shader registry, created on b
//   - options: variadic list of RendererBuilderOption functions
//
// Returns:
//   - Renderer: the renderer
//   - error: an error if the built-in kernels cannot be loaded
func NewRenderer(b backend.Backend, registry shader.ShaderRegistry, options ...RendererBuilderOption) (Renderer, error) {
	if b == nil || registry == nil {
		return nil, errors.New("renderer: backend and registry are required")
	}
	if err := registry.Load(); err != nil {
		return nil, fmt.Errorf("renderer: %w", err)
	}

	r := &renderer{
		mu:              &sync.Mutex{},
		backend:         b,
		registry:        registry,
		pipelineCache:   make(map[string]pipeline.Pipeline),
		failedPipelines: make(map[string]error),
		historyCap:      32,
	}
	for _, opt := range options {
		opt(r)
	}
	if r.state == nil {
		r.state = rs.NewRenderState(rs.WithKernel(registry.DefaultKernel().Name))
	}
	if r.curves == nil {
		r.curves = tone_curve.NewSet()
	}
	if r.vol != nil {
		r.state.SetVolumeDimensions(r.vol.Extent())
	}

	r.cache = binding_cache.NewBindingCache(b, "RayMarch",
		binding_cache.WithLayout(registry.Program().Layout()),
		binding_cache.WithWriteHistory(r.historyCap))
	return r, nil
}

func (r *renderer) Render(targetSize int, drawScaleBar bool) (*image.RGBA, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released {
		return nil, fmt.Errorf("render: %w", backend.ErrResourceReleased)
	}
	if r.vol == nil {
		return nil, nil
	}
	size := targetSize
	if size <= 0 {
		size = r.state.ViewSize
	}
	if size <= 0 {
		return nil, fmt.Errorf("render: invalid output size %d", size)
	}

	main, err := r.resolveKernel()
	if err != nil {
		return nil, err
	}
	params := r.state.GPUParams(size)
	params.Channels = uint32(r.vol.Channels())
	out, err := r.bindFrame(&params, size)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}

	if err := r.dispatch(main, size); err != nil {
		return nil, err
	}
	if r.state.Options.Has(rs.OptionPointOverlay) && len(r.state.Points()) > 0 {
		r.dispatchOverlay(size)
	}

	data, err := r.backend.ReadBuffer(out)
	if err != nil {
		common.Logger().Error("renderer: readback failed", "error", err)
		return nil, fmt.Errorf("render: %w", err)
	}
	img, err := decodePixels(data, size)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}

	if drawScaleBar && r.scaleBar.Length > 0 {
		if err := r.drawScaleBar(img, params); err != nil {
			common.Logger().Warn("renderer: scale bar skipped", "error", err)
		}
	}
	return img, nil
}

func (r *renderer) RenderOrError(targetSize int, drawScaleBar bool) (*image.RGBA, error) {
	img, err := r.Render(targetSize, drawScaleBar)
	if err == nil && img == nil {
		return nil, ErrNoData
	}
	return img, err
}

// resolveKernel selects the state's kernel and returns its pipeline, falling back to the
// default kernel when the name is unknown or its pipeline cannot be built. The state is
// left untouched; the handler hears about each fallback once.
func (r *renderer) resolveKernel() (pipeline.Pipeline, error) {
	r.syncProgram()

	requested := r.state.Kernel
	k, ok := r.registry.SelectKernel(requested)
	if !ok {
		r.fallback(requested, k, nil)
	}

	p, err := r.pipelineFor(k.Name, k.WorkgroupSize)
	if err == nil {
		if ok {
			r.reported = ""
		}
		r.active = k.Name
		return p, nil
	}
	def := r.registry.DefaultKernel()
	if k.Name == def.Name {
		return nil, fmt.Errorf("render: %w", err)
	}
	r.fallback(requested, def, err)
	p, err = r.pipelineFor(def.Name, def.WorkgroupSize)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	r.active = def.Name
	return p, nil
}

// fallback logs and notifies the handler unless requested was already reported.
func (r *renderer) fallback(requested string, used shader.Kernel, reason error) {
	if r.reported == requested {
		return
	}
	r.reported = requested
	common.Logger().Warn("renderer: kernel fallback", "requested", requested, "using", used.Name, "error", reason)
	if r.onFallback != nil {
		r.onFallback(requested, used, reason)
	}
}

// syncProgram drops every cached pipeline once the registry activated another program.
func (r *renderer) syncProgram() {
	gen := r.registry.Generation()
	if gen == r.programGeneration {
		return
	}
	r.releasePipelines()
	clear(r.failedPipelines)
	r.reported = ""
	r.programGeneration = gen
}

func (r *renderer) releasePipelines() {
	for key, p := range r.pipelineCache {
		p.Release()
		delete(r.pipelineCache, key)
	}
}

// pipelineFor returns the cached pipeline of an entry point, building it on demand.
func (r *renderer) pipelineFor(entry string, size [3]uint32) (pipeline.Pipeline, error) {
	if p, ok := r.pipelineCache[entry]; ok {
		return p, nil
	}
	if err, ok := r.failedPipelines[entry]; ok {
		return nil, err
	}
	prog := r.registry.Program()
	if prog == nil {
		return nil, errors.New("no program loaded")
	}
	p := pipeline.NewPipeline(entry,
		pipeline.WithWorkgroupSize(size),
		pipeline.WithProgramGeneration(r.programGeneration))
	if err := r.backend.CreatePipeline(p, prog); err != nil {
		r.failedPipelines[entry] = err
		return nil, err
	}
	r.pipelineCache[entry] = p
	common.Logger().Debug("renderer: built pipeline", "entry", entry, "generation", r.programGeneration)
	return p, nil
}

// bindFrame pushes every slot of the render program through the binding cache.
func (r *renderer) bindFrame(params *rs.RenderParams, size int) (backend.Buffer, error) {
	if _, err := r.cache.Bind(rs.SlotParams, params.Marshal()); err != nil {
		return nil, err
	}

	if v := r.curves.Version(); !r.lutBound || v != r.lutVersion {
		if _, err := r.cache.Bind(rs.SlotToneLUT, r.curves.Bytes()); err != nil {
			return nil, err
		}
		r.lutVersion, r.lutBound = v, true
	}

	if r.volumeChanged {
		r.cache.MarkDirty(rs.SlotVolume)
		r.volumeChanged = false
	}
	if err := r.cache.BindTexture(rs.SlotVolume, r.vol.Texture()); err != nil {
		return nil, err
	}

	filter := common.FilterNearest
	if r.state.Options.Has(rs.OptionLinearSampling) {
		filter = common.FilterLinear
	}
	if filter != r.filter {
		r.cache.MarkDirty(rs.SlotSampler)
		r.filter = filter
	}
	if err := r.cache.BindSampler(rs.SlotSampler, filter); err != nil {
		return nil, err
	}

	out, err := r.cache.BindOutputSurface(rs.SlotOutput, size)
	if err != nil {
		return nil, err
	}
	if _, err := r.cache.Bind(rs.SlotPoints, r.state.PointsBytes()); err != nil {
		return nil, err
	}
	overlay := r.state.PointOverlayParams()
	if _, err := r.cache.Bind(rs.SlotOverlay, overlay.Marshal()); err != nil {
		return nil, err
	}
	return out, nil
}

// dispatch submits the main kernel. A pipeline whose program was released underneath it
// is rebuilt once before the submission counts as failed.
func (r *renderer) dispatch(p pipeline.Pipeline, size int) error {
	entry, wg := p.EntryPoint(), p.WorkgroupSize()
	err := r.backend.Dispatch(p, r.cache.Bindings(), p.Workgroups(size, size, 1), false)
	if errors.Is(err, backend.ErrResourceReleased) {
		common.Logger().Warn("renderer: rebuilding pipeline", "entry", entry)
		r.releasePipelines()
		if p, err = r.pipelineFor(entry, wg); err == nil {
			err = r.backend.Dispatch(p, r.cache.Bindings(), p.Workgroups(size, size, 1), false)
		}
	}
	if err != nil {
		common.Logger().Error("renderer: submission failed", "entry", entry, "error", err)
		return fmt.Errorf("render: %w", err)
	}
	return nil
}

// dispatchOverlay draws the point markers. Failures only cost the markers.
func (r *renderer) dispatchOverlay(size int) {
	var wg [3]uint32
	found := false
	for _, e := range r.registry.Program().EntryPoints() {
		if e.Name == overlayEntry {
			wg, found = e.WorkgroupSize, true
		}
	}
	if !found {
		common.Logger().Warn("renderer: program has no point overlay kernel")
		return
	}
	p, err := r.pipelineFor(overlayEntry, wg)
	if err == nil {
		err = r.backend.Dispatch(p, r.cache.Bindings(), p.Workgroups(size, size, 1), false)
	}
	if err != nil {
		common.Logger().Warn("renderer: point overlay skipped", "error", err)
	}
}

// decodePixels unpacks the kernel's u32 pixels, stored as R, G, B, A bytes in little
// endian order, into an opaque image.
func decodePixels(data []byte, size int) (*image.RGBA, error) {
	n := size * size * 4
	if len(data) < n {
		return nil, fmt.Errorf("output buffer holds %d bytes, want %d", len(data), n)
	}
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	copy(img.Pix, data[:n])
	for i := 3; i < n; i += 4 {
		img.Pix[i] = 0xff
	}
	return img, nil
}

func (r *renderer) SetVolume(v volume.Volume) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v == r.vol {
		return
	}
	r.vol = v
	r.volumeChanged = true
	if v != nil {
		r.state.SetVolumeDimensions(v.Extent())
	}
}

func (r *renderer) Volume() volume.Volume {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vol
}

func (r *renderer) SetState(s *rs.RenderState) {
	if s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
	if r.vol != nil && s.Dimensions() != r.vol.Extent() {
		s.SetVolumeDimensions(r.vol.Extent())
	}
}

func (r *renderer) State() *rs.RenderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *renderer) SetToneCurves(set *tone_curve.Set) {
	if set == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.curves = set
	r.lutBound = false
}

func (r *renderer) ToneCurves() *tone_curve.Set {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.curves
}

func (r *renderer) SetScaleBar(bar ScaleBar) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scaleBar = bar
}

func (r *renderer) ScaleBar() ScaleBar {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scaleBar
}

func (r *renderer) SetKernelFallbackHandler(fn KernelFallbackFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFallback = fn
}

func (r *renderer) ActiveKernel() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *renderer) Registry() shader.ShaderRegistry {
	return r.registry
}

func (r *renderer) Pipeline(key string) pipeline.Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipelineCache[key]
}

func (r *renderer) Pipelines() map[string]pipeline.Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]pipeline.Pipeline, len(r.pipelineCache))
	for k, p := range r.pipelineCache {
		out[k] = p
	}
	return out
}

func (r *renderer) Stats() binding_cache.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Stats()
}

func (r *renderer) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return
	}
	r.released = true
	r.releasePipelines()
	r.cache.Release()
}
