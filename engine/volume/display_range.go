package volume

import (
	"slices"

	"github.com/Carmen-Shannon/oxy-volume/common"
	"gonum.org/v1/gonum/stat"
)

func rangeOf(lo, hi float32) common.DisplayRange {
	return common.DisplayRange{Min: lo, Max: hi}
}

// AutoDisplayRange picks a display range from the empirical quantiles of samples, so a few
// saturated or dead voxels do not compress the visible contrast.
//
// Parameters:
//   - samples: raw channel samples, any order
//   - low: the lower quantile, e.g. 0.001
//   - high: the upper quantile, e.g. 0.999
//
// Returns:
//   - common.DisplayRange: the range, zero when samples is empty
func AutoDisplayRange(samples []uint16, low, high float64) common.DisplayRange {
	if len(samples) == 0 {
		return common.DisplayRange{}
	}
	low = min(max(low, 0), 1)
	high = min(max(high, low), 1)

	x := make([]float64, len(samples))
	for i, v := range samples {
		x[i] = float64(v)
	}
	slices.Sort(x)
	return rangeOf(
		float32(stat.Quantile(low, stat.Empirical, x, nil)),
		float32(stat.Quantile(high, stat.Empirical, x, nil)),
	)
}

// SourceDisplayRanges estimates per-channel display ranges from a subset of slices of src.
// At most maxSlices evenly spaced slices are read.
//
// Parameters:
//   - src: the dataset
//   - maxSlices: the slice budget, <= 0 reads every slice
//   - low, high: the quantiles passed to AutoDisplayRange
//
// Returns:
//   - []common.DisplayRange: one range per channel
//   - error: the first decode error
func SourceDisplayRanges(src SliceSource, maxSlices int, low, high float64) ([]common.DisplayRange, error) {
	desc := src.Descriptor()
	step := 1
	if maxSlices > 0 && desc.Depth > maxSlices {
		step = desc.Depth / maxSlices
	}
	samples := make([][]uint16, desc.Channels)
	for z := 0; z < desc.Depth; z += step {
		s, err := src.Slice(z)
		if err != nil {
			return nil, err
		}
		for ch := 0; ch < desc.Channels && ch < len(s.Channels); ch++ {
			samples[ch] = append(samples[ch], s.Channels[ch]...)
		}
	}
	out := make([]common.DisplayRange, desc.Channels)
	for ch := range out {
		out[ch] = AutoDisplayRange(samples[ch], low, high)
	}
	return out, nil
}
