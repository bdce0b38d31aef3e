package volume

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-volume/common"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/backend"
)

// Load allocates a volume for desc and streams every slice of src into it. When the
// device refuses the allocation with a downsize ratio, the XY size is scaled by that ratio
// and the allocation is retried once; slices are resampled to the smaller size on ingest.
//
// Parameters:
//   - b: the backend to allocate on
//   - program: the ingest program, from ShaderRegistry.IngestProgram
//   - src: the slice source
//   - desc: the descriptor to allocate, normally src.Descriptor() with display ranges filled in
//   - options: variadic list of IngestorOption functions
//
// Returns:
//   - Volume: the filled volume
//   - error: an allocation, decode or submission error
func Load(b backend.Backend, program backend.Program, src SliceSource, desc Descriptor, options ...IngestorOption) (Volume, error) {
	v, err := AllocateVolume(b, desc)
	var allocErr *AllocationError
	if errors.As(err, &allocErr) && allocErr.DownsizeRatio > 0 {
		scaled := desc.Scaled(allocErr.DownsizeRatio)
		common.Logger().Warn("volume: downsizing to fit the device",
			"reason", allocErr.Reason,
			"ratio", allocErr.DownsizeRatio,
			"width", scaled.Width, "height", scaled.Height)
		v, err = AllocateVolume(b, scaled)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", common.Coalesce(desc.Label, "volume"), err)
	}

	in, err := NewIngestor(b, program, v, options...)
	if err != nil {
		v.Release()
		return nil, err
	}
	defer in.Release()

	if err := in.Ingest(src); err != nil {
		v.Release()
		return nil, err
	}
	if err := in.Finish(); err != nil {
		v.Release()
		return nil, err
	}
	return v, nil
}
