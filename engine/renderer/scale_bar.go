package renderer

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"strconv"
	"sync"

	rs "github.com/Carmen-Shannon/oxy-volume/engine/render_state"
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/gg"
	"github.com/gogpu/gg/text"
	"golang.org/x/image/font/gofont/goregular"
)

// ScaleBar is a calibrated length drawn in the lower left corner of a frame.
type ScaleBar struct {
	// Length is the bar length in the volume's spacing unit. Zero disables the bar.
	Length float32 `yaml:"length"`

	// Unit is appended to the label, e.g. "µm".
	Unit string `yaml:"unit"`
}

// Label returns the text drawn above the bar.
func (b ScaleBar) Label() string {
	l := strconv.FormatFloat(float64(b.Length), 'g', 4, 32)
	if b.Unit == "" {
		return l
	}
	return l + " " + b.Unit
}

var (
	fontOnce   sync.Once
	fontSource *text.FontSource
	fontErr    error
)

func labelFont(size float64) (text.Face, error) {
	fontOnce.Do(func() {
		fontSource, fontErr = text.NewFontSource(goregular.TTF)
	})
	if fontErr != nil {
		return nil, fontErr
	}
	return fontSource.Face(size), nil
}

// PixelsPerVoxelX returns the on-screen length of one voxel step along the volume's x
// axis, which is the scale times the length of the projected x basis vector.
//
// Parameters:
//   - params: the parameter block the frame was rendered with
//
// Returns:
//   - float32: the length in output pixels
func PixelsPerVoxelX(params rs.RenderParams) float32 {
	if params.Dims[0] <= 0 {
		return 0
	}
	proj := rs.NewProjection(params)
	c := mgl32.Vec3{0.5, 0.5, 0.5}
	x0, y0, _ := proj.Project(c)
	x1, y1, _ := proj.Project(c.Add(mgl32.Vec3{1 / params.Dims[0], 0, 0}))
	return math32.Hypot(x1-x0, y1-y0)
}

// scaleBarPixels converts the bar length to output pixels for the given voxel spacing.
func scaleBarPixels(bar ScaleBar, params rs.RenderParams, spacingX float32) float32 {
	if spacingX <= 0 {
		spacingX = 1
	}
	return bar.Length / spacingX * PixelsPerVoxelX(params)
}

// drawScaleBar composites the bar and its label onto img with gg.
func (r *renderer) drawScaleBar(img *image.RGBA, params rs.RenderParams) error {
	size := img.Bounds().Dx()
	length := float64(scaleBarPixels(r.scaleBar, params, r.vol.Spacing()[0]))
	margin := float64(size) / 20
	if length < 2 || length > float64(size)-2*margin {
		return fmt.Errorf("bar of %.1f px does not fit a %d px frame", length, size)
	}

	dc := gg.NewContextForImage(img)
	defer dc.Close()

	bg := params.Background
	if 0.299*bg[0]+0.587*bg[1]+0.114*bg[2] > 0.5 {
		dc.SetRGB(0, 0, 0)
	} else {
		dc.SetRGB(1, 1, 1)
	}
	width := max(2, float64(size)/200)
	y := float64(size) - margin
	dc.SetLineWidth(width)
	dc.DrawLine(margin, y, margin+length, y)
	if err := dc.Stroke(); err != nil {
		return err
	}

	face, err := labelFont(max(10, float64(size)/40))
	if err != nil {
		return err
	}
	dc.SetFont(face)
	label := r.scaleBar.Label()
	w, _ := dc.MeasureString(label)
	dc.DrawString(label, margin+(length-w)/2, y-width-4)

	out := dc.Image()
	if out == nil {
		return errors.New("scale bar canvas is empty")
	}
	if rgba, ok := out.(*image.RGBA); ok && len(rgba.Pix) == len(img.Pix) {
		copy(img.Pix, rgba.Pix)
		return nil
	}
	draw.Draw(img, img.Bounds(), out, image.Point{}, draw.Src)
	return nil
}
