package webgpu

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
)

// blitSource draws a full screen triangle sampling the frame texture.
const blitSource = `
@group(0) @binding(0) var frame: texture_2d<f32>;
@group(0) @binding(1) var frame_sampler: sampler;

struct VertexOut {
    @builtin(position) position: vec4<f32>,
    @location(0) uv: vec2<f32>,
};

@vertex
fn vs_main(@builtin(vertex_index) i: u32) -> VertexOut {
    var out: VertexOut;
    let uv = vec2<f32>(f32((i << 1u) & 2u), f32(i & 2u));
    out.position = vec4<f32>(uv * vec2<f32>(2.0, -2.0) + vec2<f32>(-1.0, 1.0), 0.0, 1.0);
    out.uv = uv;
    return out;
}

@fragment
fn fs_main(in: VertexOut) -> @location(0) vec4<f32> {
    return textureSample(frame, frame_sampler, in.uv);
}
`

// presenter is the implementation of the Presenter interface.
type presenter struct {
	mu      sync.Mutex
	backend *webgpuBackend

	format      wgpu.TextureFormat
	width       int
	height      int
	presentMode wgpu.PresentMode
	clear       wgpu.Color

	module    *wgpu.ShaderModule
	layout    *wgpu.BindGroupLayout
	pipeline  *wgpu.RenderPipeline
	sampler   *wgpu.Sampler
	frame     *wgpu.Texture
	frameView *wgpu.TextureView
	frameSize image.Point
	bindGroup *wgpu.BindGroup
}

// Presenter draws rendered frames to the window surface, letterboxed to keep their
// aspect ratio.
type Presenter interface {
	// Configure reconfigures the surface after the window was resized.
	//
	// Parameters:
	//   - width: the new surface width in pixels
	//   - height: the new surface height in pixels
	Configure(width, height int)

	// SetVSync switches between FIFO and immediate presentation. Takes effect on the next Configure.
	SetVSync(vsync bool)

	// SetClearColor sets the color of the letterbox bars.
	SetClearColor(c color.Color)

	// Present uploads img and presents it.
	//
	// Parameters:
	//   - img: the frame, its origin must be (0, 0)
	//
	// Returns:
	//   - error: an error if the surface texture could not be acquired or drawn
	Present(img *image.RGBA) error

	// Release frees the presenter's device objects.
	Release()
}

var _ Presenter = &presenter{}

func (b *webgpuBackend) NewPresenter(width, height int) (Presenter, error) {
	if b.surface == nil {
		return nil, ErrNoSurface
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	capabilities := b.surface.GetCapabilities(b.adapter)
	if len(capabilities.Formats) == 0 {
		return nil, fmt.Errorf("presenter: surface reports no formats")
	}
	p := &presenter{
		backend:     b,
		format:      capabilities.Formats[0],
		presentMode: wgpu.PresentModeFifo,
		clear:       wgpu.Color{R: 0, G: 0, B: 0, A: 1},
	}
	// frames hold display values already, so a non sRGB target avoids a second encode
	for _, f := range capabilities.Formats {
		if f == wgpu.TextureFormatBGRA8Unorm || f == wgpu.TextureFormatRGBA8Unorm {
			p.format = f
			break
		}
	}

	if err := p.createPipeline(); err != nil {
		p.releaseLocked()
		return nil, err
	}
	p.configureLocked(width, height)
	return p, nil
}

func (p *presenter) createPipeline() error {
	device := p.backend.device
	var err error

	p.module, err = device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: "Present Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: blitSource,
		},
	})
	if err != nil {
		return fmt.Errorf("presenter: %w", err)
	}

	p.layout, err = device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Present Bind Group Layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageFragment,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeFloat,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageFragment,
				Sampler: wgpu.SamplerBindingLayout{
					Type: wgpu.SamplerBindingTypeFiltering,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("presenter: failed to create bind group layout: %w", err)
	}

	pipelineLayout, err := device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "Present",
		BindGroupLayouts: []*wgpu.BindGroupLayout{p.layout},
	})
	if err != nil {
		return fmt.Errorf("presenter: %w", err)
	}
	defer pipelineLayout.Release()

	p.pipeline, err = device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  "Present Render Pipeline",
		Layout: pipelineLayout,
		Vertex: wgpu.VertexState{
			Module:     p.module,
			EntryPoint: "vs_main",
		},
		Fragment: &wgpu.FragmentState{
			Module:     p.module,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{
				{
					Format:    p.format,
					WriteMask: wgpu.ColorWriteMaskAll,
				},
			},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return fmt.Errorf("presenter: %w", err)
	}

	p.sampler, err = device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         "Present Sampler",
		AddressModeU:  wgpu.AddressModeClampToEdge,
		AddressModeV:  wgpu.AddressModeClampToEdge,
		AddressModeW:  wgpu.AddressModeClampToEdge,
		MagFilter:     wgpu.FilterModeLinear,
		MinFilter:     wgpu.FilterModeLinear,
		MipmapFilter:  wgpu.MipmapFilterModeNearest,
		LodMaxClamp:   32,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return fmt.Errorf("presenter: %w", err)
	}
	return nil
}

func (p *presenter) Configure(width, height int) {
	p.backend.mu.Lock()
	defer p.backend.mu.Unlock()
	p.configureLocked(width, height)
}

func (p *presenter) configureLocked(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	b := p.backend
	capabilities := b.surface.GetCapabilities(b.adapter)
	b.surface.Configure(b.adapter, b.device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      p.format,
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: p.presentMode,
		AlphaMode:   capabilities.AlphaModes[0],
	})
	p.width, p.height = width, height
}

func (p *presenter) SetVSync(vsync bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if vsync {
		p.presentMode = wgpu.PresentModeFifo
	} else {
		p.presentMode = wgpu.PresentModeImmediate
	}
}

func (p *presenter) SetClearColor(c color.Color) {
	r, g, b, a := c.RGBA()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clear = wgpu.Color{
		R: float64(r) / 0xffff,
		G: float64(g) / 0xffff,
		B: float64(b) / 0xffff,
		A: float64(a) / 0xffff,
	}
}

// ensureFrame (re)creates the frame texture and its bind group for size.
func (p *presenter) ensureFrame(size image.Point) error {
	if p.frame != nil && p.frameSize == size {
		return nil
	}
	p.releaseFrame()

	device := p.backend.device
	tex, err := device.CreateTexture(&wgpu.TextureDescriptor{
		Label:     "Present Frame",
		Usage:     wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
		Dimension: wgpu.TextureDimension2D,
		Size: wgpu.Extent3D{
			Width:              uint32(size.X),
			Height:             uint32(size.Y),
			DepthOrArrayLayers: 1,
		},
		Format:        wgpu.TextureFormatRGBA8Unorm,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return err
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return err
	}
	bg, err := device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Present Bind Group",
		Layout: p.layout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, TextureView: view},
			{Binding: 1, Sampler: p.sampler},
		},
	})
	if err != nil {
		view.Release()
		tex.Release()
		return err
	}
	p.frame, p.frameView, p.bindGroup, p.frameSize = tex, view, bg, size
	return nil
}

func (p *presenter) releaseFrame() {
	if p.bindGroup != nil {
		p.bindGroup.Release()
		p.bindGroup = nil
	}
	if p.frameView != nil {
		p.frameView.Release()
		p.frameView = nil
	}
	if p.frame != nil {
		p.frame.Release()
		p.frame = nil
	}
}

// viewport returns the largest rectangle of the surface with the frame's aspect ratio.
func viewport(surfaceW, surfaceH int, frame image.Point) (x, y, w, h float32) {
	sw, sh := float32(surfaceW), float32(surfaceH)
	fw, fh := float32(frame.X), float32(frame.Y)
	scale := min(sw/fw, sh/fh)
	w, h = fw*scale, fh*scale
	return (sw - w) / 2, (sh - h) / 2, w, h
}

func (p *presenter) Present(img *image.RGBA) error {
	if img == nil || img.Rect.Empty() {
		return nil
	}
	size := img.Rect.Size()
	if img.Rect.Min != (image.Point{}) {
		return fmt.Errorf("present: frame origin %v is not zero", img.Rect.Min)
	}

	b := p.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()

	if b.released {
		return fmt.Errorf("present: device released")
	}
	if err := p.ensureFrame(size); err != nil {
		return fmt.Errorf("present: %w", err)
	}

	b.queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  p.frame,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{},
			Aspect:   wgpu.TextureAspectAll,
		},
		img.Pix,
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  uint32(img.Stride),
			RowsPerImage: uint32(size.Y),
		},
		&wgpu.Extent3D{
			Width:              uint32(size.X),
			Height:             uint32(size.Y),
			DepthOrArrayLayers: 1,
		},
	)

	surfaceTexture, err := b.surface.GetCurrentTexture()
	if err != nil {
		return fmt.Errorf("present: %w", err)
	}
	defer surfaceTexture.Release()
	view, err := surfaceTexture.CreateView(nil)
	if err != nil {
		return fmt.Errorf("present: %w", err)
	}
	defer view.Release()

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("present: %w", err)
	}
	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:       view,
				LoadOp:     wgpu.LoadOpClear,
				StoreOp:    wgpu.StoreOpStore,
				ClearValue: p.clear,
			},
		},
	})
	x, y, w, h := viewport(p.width, p.height, size)
	pass.SetViewport(x, y, w, h, 0, 1)
	pass.SetPipeline(p.pipeline)
	pass.SetBindGroup(0, p.bindGroup, nil)
	pass.Draw(3, 1, 0, 0)
	pass.End()

	commandBuffer, err := encoder.Finish(nil)
	if err != nil {
		encoder.Release()
		return fmt.Errorf("present: %w", err)
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()
	encoder.Release()

	b.surface.Present()
	return nil
}

func (p *presenter) Release() {
	p.backend.mu.Lock()
	defer p.backend.mu.Unlock()
	p.releaseLocked()
}

func (p *presenter) releaseLocked() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseFrame()
	if p.sampler != nil {
		p.sampler.Release()
		p.sampler = nil
	}
	if p.pipeline != nil {
		p.pipeline.Release()
		p.pipeline = nil
	}
	if p.layout != nil {
		p.layout.Release()
		p.layout = nil
	}
	if p.module != nil {
		p.module.Release()
		p.module = nil
	}
}
