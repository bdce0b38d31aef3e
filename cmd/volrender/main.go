// Command volrender renders a volume to a PNG file without opening a window.
//
// The volume is a directory of TIFF slices or, without -input, a synthetic phantom.
//
//	volrender -input stack/ -out view.png -size 768 -kernel preset_mip
//	volrender -phantom 128x128x64 -session view.yaml -out view.png
package main

import (
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/Carmen-Shannon/oxy-volume/common"
	"github.com/Carmen-Shannon/oxy-volume/engine/config"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-volume/engine/session"
	"github.com/Carmen-Shannon/oxy-volume/internal/cli"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/gg"
)

func main() {
	configPath := flag.String("config", "oxy-volume.yaml", "Configuration file (defaults are used when it does not exist)")
	input := flag.String("input", "", "Directory of TIFF slices, sorted by name")
	phantom := flag.String("phantom", "128x128x64x4", "Synthetic volume WxHxD[xC] used when -input is empty")
	out := flag.String("out", "render.png", "Output PNG file")
	size := flag.Int("size", 0, "Output edge length in pixels (default: render.viewSize)")
	kernel := flag.String("kernel", "", "Kernel name (default: render.kernel)")
	backendType := flag.String("backend", "", "Backend type, software or webgpu (default: backend.type)")
	rotate := flag.String("rotate", "", "Rotation in degrees about x,y,z applied before rendering")
	sessionIn := flag.String("session", "", "Session file to restore before rendering")
	sessionOut := flag.String("save-session", "", "Write the session used for the render to this file")
	autoRange := flag.Bool("auto-range", true, "Estimate display ranges from the data")
	scaleBar := flag.Bool("scale-bar", true, "Draw the scale bar when scaleBar.length is set")
	listKernels := flag.Bool("list-kernels", false, "List the available kernels and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *backendType != "" {
		cfg.Backend.Type = config.BackendType(*backendType)
	}
	if *kernel != "" {
		cfg.Render.Kernel = *kernel
	}
	cli.SetupLogger(cfg.Log.Level)

	b, err := cli.NewHeadlessBackend(cfg)
	if err != nil {
		log.Fatalf("Failed to create backend: %v", err)
	}
	defer b.Release()

	reg, err := cli.NewRegistry(b, cfg)
	if err != nil {
		log.Fatalf("Failed to load kernels: %v", err)
	}
	defer reg.Release()

	if *listKernels {
		printKernels(reg)
		return
	}

	src, err := cli.OpenSource(*input, *phantom, cfg.ScaleBar.VoxelSpacing)
	if err != nil {
		log.Fatalf("Failed to open input: %v", err)
	}
	start := time.Now()
	vol, err := cli.LoadVolume(b, reg, src, *autoRange)
	if err != nil {
		log.Fatalf("Failed to load volume: %v", err)
	}
	defer vol.Release()
	common.Logger().Info("ingest finished", "elapsed", time.Since(start))

	options := append(cli.RenderOptions(cfg),
		renderer.WithVolume(vol),
		renderer.WithKernelFallbackHandler(func(requested string, used shader.Kernel, reason error) {
			log.Printf("kernel %q unavailable, rendered with %q (%v)", requested, used.Name, reason)
		}),
	)
	r, err := renderer.NewRenderer(b, reg, options...)
	if err != nil {
		log.Fatalf("Failed to create renderer: %v", err)
	}
	defer r.Release()

	if *sessionIn != "" {
		snap, err := session.Load(*sessionIn)
		if err != nil {
			log.Fatalf("Failed to load session: %v", err)
		}
		if _, err := snap.Apply(r); err != nil {
			log.Fatalf("Failed to apply session: %v", err)
		}
	}
	if *rotate != "" {
		angles, err := parseAngles(*rotate)
		if err != nil {
			log.Fatalf("Invalid -rotate: %v", err)
		}
		r.State().Rotate(angles[0], angles[1], angles[2])
	}

	start = time.Now()
	img, err := r.RenderOrError(*size, *scaleBar)
	if err != nil {
		log.Fatalf("Render failed: %v", err)
	}
	common.Logger().Info("render finished", "elapsed", time.Since(start), "kernel", r.ActiveKernel())

	dc := gg.NewContextForImage(img)
	defer dc.Close()
	if err := dc.SavePNG(*out); err != nil {
		log.Fatalf("Failed to write %s: %v", *out, err)
	}

	if *sessionOut != "" {
		if err := session.Save(*sessionOut, session.Capture(r)); err != nil {
			log.Fatalf("Failed to save session: %v", err)
		}
	}
}

// parseAngles parses "x,y,z" degrees into radians.
func parseAngles(s string) ([3]float32, error) {
	var out [3]float32
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return out, strconv.ErrSyntax
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return out, err
		}
		out[i] = mgl32.DegToRad(float32(v))
	}
	return out, nil
}

func printKernels(reg shader.ShaderRegistry) {
	for _, k := range reg.Kernels() {
		kind := "user"
		if k.Builtin() {
			kind = "builtin"
		}
		fmt.Printf("%-24s %-8s %s\n", k.Name, kind, k.Description)
	}
}
