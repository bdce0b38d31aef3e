package volume

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-volume/common"
	rs "github.com/Carmen-Shannon/oxy-volume/engine/render_state"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/backend"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/binding_cache"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/pipeline"
)

// writeSliceEntry is the entry point of the ingest program.
const writeSliceEntry = "write_slice"

// rowsPerTask is the number of rows one conversion task interleaves.
const rowsPerTask = 32

// ErrIngestorReleased is returned by calls on a released Ingestor.
var ErrIngestorReleased = errors.New("ingestor released")

// ProgressFunc is called after each slice was submitted. done counts submitted slices.
type ProgressFunc func(done, total int)

// ingestor is the implementation of the Ingestor interface.
type ingestor struct {
	backend  backend.Backend
	program  backend.Program
	volume   Volume
	cache    binding_cache.BindingCache
	pipeline pipeline.Pipeline
	pool     worker.DynamicWorkerPool
	workers  int
	progress ProgressFunc

	released bool
}

// Ingestor streams slices into a Volume through the write_slice kernel. Each slice is
// submitted without waiting, so the device converts slice N while the caller decodes
// slice N+1. An Ingestor is not safe for concurrent use.
type Ingestor interface {
	// WriteSlice rescales one layer of raw samples into the volume texture using the
	// display ranges and submits the kernel without waiting.
	//
	// Parameters:
	//   - z: the layer index
	//   - channels: one plane of width*height samples per channel, at most 4
	//   - ranges: the display range per channel; missing entries use the volume's ranges
	//
	// Returns:
	//   - error: a validation or submission error
	WriteSlice(z int, channels [][]uint16, ranges []common.DisplayRange) error

	// Ingest writes every slice of src in z order, resampling slices whose size differs
	// from the volume, and calls the progress callback after each submission.
	//
	// Parameters:
	//   - src: the slice source
	//
	// Returns:
	//   - error: the first decode or submission error
	Ingest(src SliceSource) error

	// Finish blocks until all submitted slices have been written.
	//
	// Returns:
	//   - error: an error if the device wait failed
	Finish() error

	// Release frees the ingest buffers and the worker pool. The volume is kept.
	Release()
}

var _ Ingestor = &ingestor{}

// NewIngestor creates an Ingestor writing into v with the write_slice kernel of program.
//
// Parameters:
//   - b: the backend owning v
//   - program: the ingest program, from ShaderRegistry.IngestProgram
//   - v: the destination volume
//   - options: variadic list of IngestorOption functions
//
// Returns:
//   - Ingestor: the ingestor
//   - error: an error if the program lacks write_slice or the pipeline cannot be built
func NewIngestor(b backend.Backend, program backend.Program, v Volume, options ...IngestorOption) (Ingestor, error) {
	if program == nil {
		return nil, errors.New("ingestor: no ingest program")
	}
	if v == nil || v.Texture() == nil {
		return nil, errors.New("ingestor: no volume")
	}

	var size [3]uint32
	found := false
	for _, e := range program.EntryPoints() {
		if e.Name == writeSliceEntry {
			size, found = e.WorkgroupSize, true
		}
	}
	if !found {
		return nil, fmt.Errorf("ingestor: program %q has no %s entry point: %w", program.Label(), writeSliceEntry, backend.ErrUnsupportedEntryPoint)
	}

	in := &ingestor{
		backend: b,
		program: program,
		volume:  v,
		workers: runtime.NumCPU(),
	}
	for _, opt := range options {
		opt(in)
	}

	in.pipeline = pipeline.NewPipeline(writeSliceEntry, pipeline.WithWorkgroupSize(size))
	if err := b.CreatePipeline(in.pipeline, program); err != nil {
		return nil, fmt.Errorf("ingestor: %w", err)
	}
	in.cache = binding_cache.NewBindingCache(b, "Ingest", binding_cache.WithLayout(program.Layout()))
	in.pool = worker.NewDynamicWorkerPool(in.workers, 64, time.Second)
	return in, nil
}

func (in *ingestor) WriteSlice(z int, channels [][]uint16, ranges []common.DisplayRange) error {
	if in.released {
		return ErrIngestorReleased
	}
	e := in.volume.Extent()
	if z < 0 || z >= e.Depth {
		return fmt.Errorf("write slice: z %d outside depth %d", z, e.Depth)
	}
	s := Slice{Width: e.Width, Height: e.Height, Channels: channels}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("write slice %d: %w", z, err)
	}

	params := rs.SliceParams{
		Width:    uint32(e.Width),
		Height:   uint32(e.Height),
		Z:        uint32(z),
		Channels: uint32(len(channels)),
	}
	for ch := range channels {
		r := in.volume.Range(ch)
		if ch < len(ranges) {
			r = ranges[ch]
		}
		params.RangeMin[ch] = r.Min
		params.RangeMax[ch] = r.Max
	}

	if err := in.cache.BindTexture(rs.SlotIngestVolume, in.volume.Texture()); err != nil {
		return fmt.Errorf("write slice %d: %w", z, err)
	}
	if _, err := in.cache.Bind(rs.SlotIngestSlice, params.Marshal()); err != nil {
		return fmt.Errorf("write slice %d: %w", z, err)
	}
	if err := in.cache.Write(rs.SlotIngestSamples, in.interleave(s)); err != nil {
		return fmt.Errorf("write slice %d: %w", z, err)
	}

	groups := in.pipeline.Workgroups(e.Width, e.Height, 1)
	if err := in.backend.Dispatch(in.pipeline, in.cache.Bindings(), groups, false); err != nil {
		common.Logger().Error("volume: slice submission failed", "z", z, "error", err)
		return fmt.Errorf("write slice %d: %w", z, err)
	}
	return nil
}

// interleave converts the channel planes of s into the vec4<f32> per voxel layout the
// kernel reads. Row bands are converted in parallel on the worker pool.
func (in *ingestor) interleave(s Slice) []byte {
	n := s.Width * s.Height
	out := make([]float32, n*MaxChannels)

	var wg sync.WaitGroup
	for start := 0; start < s.Height; start += rowsPerTask {
		end := min(start+rowsPerTask, s.Height)
		wg.Add(1)
		in.pool.SubmitTask(worker.Task{
			ID: start,
			Do: func() (any, error) {
				defer wg.Done()
				for i := start * s.Width; i < end*s.Width; i++ {
					for ch, plane := range s.Channels {
						out[i*MaxChannels+ch] = float32(plane[i])
					}
				}
				return nil, nil
			},
		})
	}
	wg.Wait()
	return common.Float32sToBytes(out)
}

func (in *ingestor) Ingest(src SliceSource) error {
	if in.released {
		return ErrIngestorReleased
	}
	desc := src.Descriptor()
	e := in.volume.Extent()
	total := min(desc.Depth, e.Depth)
	if desc.Depth != e.Depth {
		common.Logger().Warn("volume: source depth differs from volume", "source", desc.Depth, "volume", e.Depth)
	}

	for z := range total {
		s, err := src.Slice(z)
		if err != nil {
			return fmt.Errorf("ingest slice %d: %w", z, err)
		}
		s = s.Resample(e.Width, e.Height)
		if err := in.WriteSlice(z, s.Channels, nil); err != nil {
			return err
		}
		if in.progress != nil {
			in.progress(z+1, total)
		}
	}
	common.Logger().Debug("volume: slices submitted", "count", total)
	return nil
}

func (in *ingestor) Finish() error {
	if in.released {
		return ErrIngestorReleased
	}
	return in.backend.WaitIdle()
}

func (in *ingestor) Release() {
	if in.released {
		return
	}
	in.released = true
	in.pool.Stop()
	in.cache.Release()
	in.pipeline.Release()
}
