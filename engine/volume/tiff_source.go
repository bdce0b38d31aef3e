package volume

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Carmen-Shannon/oxy-volume/common"
	"golang.org/x/image/tiff"
)

// tiffStackSource reads a directory of single-page TIFF files, one file per z layer in
// lexical file name order.
type tiffStackSource struct {
	files []string
	desc  Descriptor
}

// NewTIFFStackSource scans dir for *.tif and *.tiff files and decodes the first one to
// learn the slice size and channel count. Grayscale images give one channel, color
// images give three.
//
// Parameters:
//   - dir: the directory holding the slices
//   - spacing: the voxel size along x, y and z, zero components default to 1
//
// Returns:
//   - SliceSource: the source
//   - error: an error if the directory holds no readable TIFF
func NewTIFFStackSource(dir string, spacing [3]float32) (SliceSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("tiff stack: %w", err)
	}
	var files []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".tif" || ext == ".tiff") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("tiff stack: no TIFF files in %s", dir)
	}
	slices.Sort(files)

	first, err := decodeTIFF(files[0])
	if err != nil {
		return nil, err
	}
	s := samplesOf(first)
	desc := Descriptor{
		Label:    filepath.Base(dir),
		Width:    s.Width,
		Height:   s.Height,
		Depth:    len(files),
		Channels: len(s.Channels),
	}
	for i := range desc.Spacing {
		desc.Spacing[i] = common.Coalesce(spacing[i], 1)
	}
	r := fullRange
	if _, ok := first.(*image.Gray); ok {
		r = rangeOf(0, 255)
	}
	for range desc.Channels {
		desc.Ranges = append(desc.Ranges, r)
	}
	common.Logger().Debug("volume: tiff stack",
		"dir", dir, "slices", len(files), "width", s.Width, "height", s.Height, "channels", desc.Channels)
	return &tiffStackSource{files: files, desc: desc}, nil
}

func (t *tiffStackSource) Descriptor() Descriptor {
	return t.desc
}

func (t *tiffStackSource) Slice(z int) (Slice, error) {
	if z < 0 || z >= len(t.files) {
		return Slice{}, fmt.Errorf("tiff stack: slice %d outside depth %d", z, len(t.files))
	}
	img, err := decodeTIFF(t.files[z])
	if err != nil {
		return Slice{}, err
	}
	s := samplesOf(img)
	if s.Width != t.desc.Width || s.Height != t.desc.Height {
		return Slice{}, fmt.Errorf("tiff stack: %s is %dx%d, want %dx%d",
			t.files[z], s.Width, s.Height, t.desc.Width, t.desc.Height)
	}
	if len(s.Channels) != t.desc.Channels {
		return Slice{}, fmt.Errorf("tiff stack: %s has %d channels, want %d", t.files[z], len(s.Channels), t.desc.Channels)
	}
	return s, nil
}

func decodeTIFF(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tiff stack: %w", err)
	}
	defer f.Close()
	img, err := tiff.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("tiff stack: %s: %w", path, err)
	}
	return img, nil
}

// samplesOf extracts 16 bit samples from a decoded image. 8 bit data keeps its 0..255
// values so display ranges stay in the file's own units.
func samplesOf(img image.Image) Slice {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	n := w * h

	switch src := img.(type) {
	case *image.Gray16:
		plane := make([]uint16, n)
		for y := range h {
			for x := range w {
				plane[y*w+x] = src.Gray16At(b.Min.X+x, b.Min.Y+y).Y
			}
		}
		return Slice{Width: w, Height: h, Channels: [][]uint16{plane}}
	case *image.Gray:
		plane := make([]uint16, n)
		for y := range h {
			for x := range w {
				plane[y*w+x] = uint16(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
		return Slice{Width: w, Height: h, Channels: [][]uint16{plane}}
	}

	planes := [][]uint16{make([]uint16, n), make([]uint16, n), make([]uint16, n)}
	for y := range h {
		for x := range w {
			c := color.NRGBA64Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
			i := y*w + x
			planes[0][i], planes[1][i], planes[2][i] = c.R, c.G, c.B
		}
	}
	return Slice{Width: w, Height: h, Channels: planes}
}
