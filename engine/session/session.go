// Package session saves and restores the user-visible state of a render: camera, crop,
// trim, options, kernel choice, tone curves, point markers and the scale bar.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Carmen-Shannon/oxy-volume/common"
	rs "github.com/Carmen-Shannon/oxy-volume/engine/render_state"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer"
	"github.com/Carmen-Shannon/oxy-volume/engine/tone_curve"
	"github.com/go-gl/mathgl/mgl32"
	"gopkg.in/yaml.v3"
)

// Version is the snapshot format written by Save.
const Version = 1

// CurveSnapshot is one channel's tone curve.
type CurveSnapshot struct {
	Mode   string                    `yaml:"mode"`
	Points []tone_curve.ControlPoint `yaml:"points"`
}

// TrimSnapshot is the per-axis trim window.
type TrimSnapshot struct {
	X [2]float32 `yaml:"x"`
	Y [2]float32 `yaml:"y"`
	Z [2]float32 `yaml:"z"`
}

// Snapshot is the YAML document written by Save. Quaternions are stored as x, y, z, w.
type Snapshot struct {
	Version int    `yaml:"version"`
	Volume  string `yaml:"volume,omitempty"`

	Kernel  string   `yaml:"kernel"`
	Options []string `yaml:"options"`

	Orientation     [4]float32   `yaml:"orientation"`
	CropOrientation [4]float32   `yaml:"cropOrientation"`
	Scale           float32      `yaml:"scale"`
	ZScale          float32      `yaml:"zScale"`
	Translation     [2]float32   `yaml:"translation"`
	Slice           int          `yaml:"slice"`
	CropSlice       int          `yaml:"cropSlice"`
	Trim            TrimSnapshot `yaml:"trim"`

	IntensityRatio [4]float32    `yaml:"intensityRatio"`
	ChannelColors  [4][3]float32 `yaml:"channelColors"`
	Background     [3]float32    `yaml:"background"`
	Light          float32       `yaml:"light"`
	Shade          float32       `yaml:"shade"`
	AlphaPower     float32       `yaml:"alphaPower"`
	Step           float32       `yaml:"step"`
	ViewSize       int           `yaml:"viewSize"`

	Points      [][3]float32 `yaml:"points,omitempty"`
	Selected    int          `yaml:"selected"`
	PointRadius float32      `yaml:"pointRadius"`

	Curves   []CurveSnapshot   `yaml:"curves"`
	ScaleBar renderer.ScaleBar `yaml:"scaleBar"`
}

func quatToArray(q mgl32.Quat) [4]float32 {
	return [4]float32{q.V[0], q.V[1], q.V[2], q.W}
}

func arrayToQuat(a [4]float32) mgl32.Quat {
	q := mgl32.Quat{W: a[3], V: mgl32.Vec3{a[0], a[1], a[2]}}
	if q.Len() == 0 {
		return mgl32.QuatIdent()
	}
	return q.Normalize()
}

// Capture records the renderer's current state, tone curves and scale bar.
//
// Parameters:
//   - r: the renderer
//
// Returns:
//   - *Snapshot: the snapshot
func Capture(r renderer.Renderer) *Snapshot {
	s := r.State()
	snap := &Snapshot{
		Version:         Version,
		Kernel:          s.Kernel,
		Options:         s.Options.Names(),
		Orientation:     quatToArray(s.Orientation()),
		CropOrientation: quatToArray(s.CropOrientation()),
		Scale:           s.Scale,
		ZScale:          s.ZScale(),
		Translation:     s.Translation,
		Slice:           s.Slice(),
		CropSlice:       s.CropSlice(),
		Trim: TrimSnapshot{
			X: [2]float32{s.Trim.XMin, s.Trim.XMax},
			Y: [2]float32{s.Trim.YMin, s.Trim.YMax},
			Z: [2]float32{s.Trim.ZMin, s.Trim.ZMax},
		},
		IntensityRatio: s.IntensityRatio,
		ChannelColors:  s.ChannelColors,
		Background:     s.Background,
		Light:          s.Light,
		Shade:          s.Shade,
		AlphaPower:     s.AlphaPower,
		Step:           s.Step,
		ViewSize:       s.ViewSize,
		Selected:       s.Selected(),
		PointRadius:    s.PointRadius,
		ScaleBar:       r.ScaleBar(),
	}
	if v := r.Volume(); v != nil {
		snap.Volume = v.Label()
	}
	for _, p := range s.Points() {
		snap.Points = append(snap.Points, [3]float32{p[0], p[1], p[2]})
	}
	curves := r.ToneCurves()
	for ch := range tone_curve.Channels {
		c := curves.Curve(ch)
		snap.Curves = append(snap.Curves, CurveSnapshot{Mode: c.Mode().String(), Points: c.Points()})
	}
	return snap
}

// Apply restores the snapshot into the renderer's state, tone curves and scale bar. The
// volume dimensions are kept; slices are clamped against the maxima of the loaded volume
// after the z-scale is applied. A kernel that is no longer registered is replaced by the
// default kernel.
//
// Parameters:
//   - r: the renderer
//
// Returns:
//   - bool: false when the snapshot's kernel was substituted
//   - error: an error if the snapshot holds unknown option or interpolation names
func (snap *Snapshot) Apply(r renderer.Renderer) (bool, error) {
	opts, err := rs.ParseRenderOptions(snap.Options)
	if err != nil {
		return false, fmt.Errorf("apply session: %w", err)
	}
	curves := make([]tone_curve.ToneCurve, 0, len(snap.Curves))
	for ch, c := range snap.Curves {
		mode, err := tone_curve.ParseInterpolationMode(c.Mode)
		if err != nil {
			return false, fmt.Errorf("apply session: curve %d: %w", ch, err)
		}
		curves = append(curves, tone_curve.NewToneCurve(tone_curve.WithPoints(c.Points...), tone_curve.WithMode(mode)))
	}

	s := r.State()
	s.Options = opts
	s.SetOrientation(arrayToQuat(snap.Orientation))
	s.SetCropOrientation(arrayToQuat(snap.CropOrientation))
	s.Scale = common.Coalesce(snap.Scale, 1)
	s.SetZScale(common.Coalesce(snap.ZScale, 1))
	s.Translation = snap.Translation
	s.SetSlice(snap.Slice)
	s.SetCropSlice(snap.CropSlice)
	s.Trim = rs.TrimBounds{
		XMin: snap.Trim.X[0], XMax: snap.Trim.X[1],
		YMin: snap.Trim.Y[0], YMax: snap.Trim.Y[1],
		ZMin: snap.Trim.Z[0], ZMax: snap.Trim.Z[1],
	}.Clamped()
	s.IntensityRatio = snap.IntensityRatio
	s.ChannelColors = snap.ChannelColors
	s.Background = snap.Background
	s.Light = snap.Light
	s.Shade = snap.Shade
	s.AlphaPower = snap.AlphaPower
	s.Step = common.Coalesce(snap.Step, 1)
	if snap.ViewSize > 0 {
		s.ViewSize = snap.ViewSize
	}
	s.PointRadius = snap.PointRadius

	s.ClearPoints()
	for _, p := range snap.Points {
		s.AddPoint(mgl32.Vec3{p[0], p[1], p[2]})
	}
	s.SelectPoint(snap.Selected)

	set := r.ToneCurves()
	for ch, c := range curves {
		if ch < tone_curve.Channels {
			set.SetCurve(ch, c)
		}
	}
	r.SetToneCurves(set)
	r.SetScaleBar(snap.ScaleBar)

	k, ok := r.Registry().SelectKernel(snap.Kernel)
	s.Kernel = k.Name
	if !ok {
		common.Logger().Warn("session: kernel not installed, using default", "kernel", snap.Kernel, "default", k.Name)
	}
	return ok, nil
}

// Save writes the snapshot to a YAML file, creating the parent directory if needed.
//
// Parameters:
//   - path: the destination file
//   - snap: the snapshot
//
// Returns:
//   - error: an error if the file cannot be written
func Save(path string, snap *Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating session directory: %w", err)
	}
	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("error marshaling session: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing session file: %w", err)
	}
	return nil
}

// Load reads a snapshot written by Save.
//
// Parameters:
//   - path: the session file
//
// Returns:
//   - *Snapshot: the snapshot
//   - error: an error if the file cannot be read or was written by a newer version
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading session file: %w", err)
	}
	snap := &Snapshot{}
	if err := yaml.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("error parsing session file: %w", err)
	}
	if snap.Version > Version {
		return nil, fmt.Errorf("session file %s: %w", path, ErrNewerVersion)
	}
	return snap, nil
}

// ErrNewerVersion is returned by Load for snapshots written by a newer format.
var ErrNewerVersion = errors.New("written by a newer version")
