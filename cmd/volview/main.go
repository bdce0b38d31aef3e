// Command volview shows a volume in a window.
//
// The volume is a directory of TIFF slices or, without -input, a synthetic phantom.
// Frames are presented through WebGPU; with backend.type set to software the kernels
// still run on the CPU.
//
//	volview -input stack/ -session view.yaml
package main

import (
	"errors"
	"flag"
	"log"
	"os"
	"runtime"

	"github.com/Carmen-Shannon/oxy-volume/common"
	"github.com/Carmen-Shannon/oxy-volume/engine"
	"github.com/Carmen-Shannon/oxy-volume/engine/config"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/backend"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/backend/software"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/backend/webgpu"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-volume/engine/session"
	"github.com/Carmen-Shannon/oxy-volume/engine/window"
	"github.com/Carmen-Shannon/oxy-volume/internal/cli"
)

func init() {
	// GLFW and the surface must stay on the main thread.
	runtime.LockOSThread()
}

func main() {
	configPath := flag.String("config", "oxy-volume.yaml", "Configuration file (defaults are used when it does not exist)")
	input := flag.String("input", "", "Directory of TIFF slices, sorted by name")
	phantom := flag.String("phantom", "128x128x64x4", "Synthetic volume WxHxD[xC] used when -input is empty")
	sessionPath := flag.String("session", "", "Session file restored at startup and written by the X key")
	autoRange := flag.Bool("auto-range", true, "Estimate display ranges from the data")
	profile := flag.Bool("profile", false, "Log frame statistics every second")
	fpsLimit := flag.Float64("fps", 60, "Render frame rate cap, 0 for uncapped")
	width := flag.Int("width", 900, "Initial window width")
	height := flag.Int("height", 900, "Initial window height")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cli.SetupLogger(cfg.Log.Level)

	win, err := window.NewWindow(
		window.WithTitle("oxy-volume"),
		window.WithSize(*width, *height),
	)
	if err != nil {
		log.Fatalf("Failed to create window: %v", err)
	}

	gpu, err := webgpu.NewWebGPUBackend(
		webgpu.WithSurfaceDescriptor(win.SurfaceDescriptor()),
		webgpu.WithForceFallbackAdapter(cfg.Backend.ForceFallbackAdapter),
	)
	if err != nil {
		log.Fatalf("Failed to create WebGPU backend: %v", err)
	}
	defer gpu.Release()

	var compute backend.Backend = gpu
	if cfg.Backend.Type == config.BackendSoftware {
		sw := software.NewSoftwareBackend(software.WithWorkers(cfg.Backend.Workers))
		defer sw.Release()
		compute = sw
	}

	reg, err := cli.NewRegistry(compute, cfg)
	if err != nil {
		log.Fatalf("Failed to load kernels: %v", err)
	}
	defer reg.Release()

	src, err := cli.OpenSource(*input, *phantom, cfg.ScaleBar.VoxelSpacing)
	if err != nil {
		log.Fatalf("Failed to open input: %v", err)
	}
	vol, err := cli.LoadVolume(compute, reg, src, *autoRange)
	if err != nil {
		log.Fatalf("Failed to load volume: %v", err)
	}
	defer vol.Release()

	options := append(cli.RenderOptions(cfg),
		renderer.WithVolume(vol),
		renderer.WithKernelFallbackHandler(func(requested string, used shader.Kernel, reason error) {
			common.Logger().Warn("kernel unavailable", "requested", requested, "using", used.Name, "reason", reason)
		}),
	)
	r, err := renderer.NewRenderer(compute, reg, options...)
	if err != nil {
		log.Fatalf("Failed to create renderer: %v", err)
	}
	defer r.Release()

	if *sessionPath != "" {
		snap, err := session.Load(*sessionPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			log.Fatalf("Failed to load session: %v", err)
		default:
			if _, err := snap.Apply(r); err != nil {
				log.Fatalf("Failed to apply session: %v", err)
			}
		}
	}

	viewerOptions := []engine.ViewerBuilderOption{
		engine.WithProfiling(*profile),
		engine.WithRenderFrameLimit(*fpsLimit),
		engine.WithSessionPath(*sessionPath),
	}
	if cfg.Shaders.Watch && len(cfg.Shaders.Directories) > 0 {
		w, err := shader.NewWatcher(reg)
		if err != nil {
			log.Fatalf("Failed to watch kernel directories: %v", err)
		}
		viewerOptions = append(viewerOptions, engine.WithShaderWatcher(w))
	}

	v, err := engine.NewViewer(win, gpu, r, viewerOptions...)
	if err != nil {
		log.Fatalf("Failed to create viewer: %v", err)
	}
	v.Run()
}
