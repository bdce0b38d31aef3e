// Package cli holds the setup shared by the volrender and volview commands: logging,
// kernel registry, dataset selection, ingestion and the render state defaults taken from
// the configuration.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/Carmen-Shannon/oxy-volume/common"
	"github.com/Carmen-Shannon/oxy-volume/engine/config"
	rs "github.com/Carmen-Shannon/oxy-volume/engine/render_state"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/backend"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-volume/engine/volume"
)

// displayRangeSlices bounds the number of slices read to estimate display ranges.
const displayRangeSlices = 16

// Display range quantiles.
const (
	lowQuantile  = 0.005
	highQuantile = 0.999
)

// SetupLogger installs a text logger on stderr at the given level.
//
// Parameters:
//   - level: one of debug, info, warn, error
func SetupLogger(level string) {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: common.ParseLogLevel(level)})
	common.SetLogger(slog.New(h))
}

// NewRegistry creates a kernel registry over the embedded kernels and the configured
// user directories, and compiles the user kernels if there are any. A failed compile is
// logged and leaves the built-in kernels active.
//
// Parameters:
//   - b: the backend
//   - cfg: the configuration
//
// Returns:
//   - shader.ShaderRegistry: the loaded registry
//   - error: an error if the built-in kernels cannot be loaded
func NewRegistry(b backend.Backend, cfg *config.Config) (shader.ShaderRegistry, error) {
	reg := shader.NewShaderRegistry(b)
	if err := reg.Discover(shader.BuiltinFS(), cfg.Shaders.Directories...); err != nil {
		reg.Release()
		return nil, err
	}
	if err := reg.Load(); err != nil {
		reg.Release()
		return nil, err
	}
	if len(cfg.Shaders.Directories) > 0 {
		if err := reg.Compile(); err != nil {
			common.Logger().Warn("user kernels disabled", "error", err)
		}
	}
	return reg, nil
}

// ParsePhantom parses a phantom size of the form WxHxD or WxHxDxC.
//
// Parameters:
//   - s: the size string
//
// Returns:
//   - [4]int: width, height, depth and channel count (default 4)
//   - error: a parse error
func ParsePhantom(s string) ([4]int, error) {
	parts := strings.Split(strings.ToLower(s), "x")
	if len(parts) != 3 && len(parts) != 4 {
		return [4]int{}, fmt.Errorf("phantom %q: want WxHxD or WxHxDxC", s)
	}
	out := [4]int{0, 0, 0, volume.MaxChannels}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			return [4]int{}, fmt.Errorf("phantom %q: invalid size %q", s, p)
		}
		out[i] = n
	}
	if out[3] > volume.MaxChannels {
		return [4]int{}, fmt.Errorf("phantom %q: at most %d channels", s, volume.MaxChannels)
	}
	return out, nil
}

// OpenSource opens the TIFF stack in dir, or a phantom of the given size when dir is empty.
//
// Parameters:
//   - dir: a directory of TIFF slices, or ""
//   - phantom: the phantom size used when dir is empty
//   - spacing: the voxel spacing of the TIFF stack
//
// Returns:
//   - volume.SliceSource: the source
//   - error: an error if the stack cannot be opened or the phantom size is invalid
func OpenSource(dir, phantom string, spacing [3]float32) (volume.SliceSource, error) {
	if dir != "" {
		return volume.NewTIFFStackSource(dir, spacing)
	}
	size, err := ParsePhantom(phantom)
	if err != nil {
		return nil, err
	}
	return volume.NewPhantomSource(size[0], size[1], size[2], size[3]), nil
}

// LoadVolume estimates display ranges for src and ingests it into a new volume, logging
// progress at Debug.
//
// Parameters:
//   - b: the backend
//   - reg: the loaded registry, for its ingest program
//   - src: the dataset
//   - autoRange: estimate display ranges from the data instead of using the source's
//
// Returns:
//   - volume.Volume: the volume
//   - error: a decode, allocation or submission error
func LoadVolume(b backend.Backend, reg shader.ShaderRegistry, src volume.SliceSource, autoRange bool) (volume.Volume, error) {
	desc := src.Descriptor()
	if autoRange {
		ranges, err := volume.SourceDisplayRanges(src, displayRangeSlices, lowQuantile, highQuantile)
		if err != nil {
			return nil, err
		}
		desc.Ranges = ranges
	}

	progress := func(done, total int) {
		common.Logger().Debug("ingest", "slice", done, "of", total)
	}
	v, err := volume.Load(b, reg.IngestProgram(), src, desc, volume.WithProgress(progress))
	if err != nil {
		return nil, err
	}
	e := v.Extent()
	common.Logger().Info("volume loaded",
		"label", v.Label(), "width", e.Width, "height", e.Height, "depth", e.Depth, "channels", v.Channels())
	return v, nil
}

// RenderOptions returns the renderer options derived from the configuration: the initial
// render state and the scale bar.
//
// Parameters:
//   - cfg: the configuration
//
// Returns:
//   - []renderer.RendererBuilderOption: the options
func RenderOptions(cfg *config.Config) []renderer.RendererBuilderOption {
	opts := rs.RenderOption(0)
	if cfg.Render.LinearSampling {
		opts |= rs.OptionLinearSampling
	}
	state := rs.NewRenderState(
		rs.WithViewSize(cfg.Render.ViewSize),
		rs.WithStep(cfg.Render.Step),
		rs.WithKernel(cfg.Render.Kernel),
		rs.WithBackground(cfg.Render.Background),
		rs.WithAlphaPower(cfg.Render.AlphaPower),
		rs.WithOptions(opts),
	)
	return []renderer.RendererBuilderOption{
		renderer.WithState(state),
		renderer.WithScaleBar(renderer.ScaleBar{Length: cfg.ScaleBar.Length, Unit: cfg.ScaleBar.Unit}),
	}
}
