package common

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/chewxy/math32"
)

// SliceToBytes converts any slice to a byte slice for GPU buffer uploads.
// Uses unsafe pointer operations to create a view into the original data.
// WARNING: The returned slice shares memory with the input - do not modify.
//
// Parameters:
//   - data: source slice of any type
//
// Returns:
//   - []byte: byte slice view of the input data, or nil if input is empty
func SliceToBytes[T any](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	var zero T
	size := unsafe.Sizeof(zero)
	totalBytes := int(size) * len(data)
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), totalBytes)
}

// Float32sToBytes packs float32 values into a freshly allocated little-endian byte slice.
// Unlike SliceToBytes the result does not alias the input, so it is safe to keep as a
// last-written value.
//
// Parameters:
//   - values: the values to pack
//
// Returns:
//   - []byte: 4*len(values) bytes
func Float32sToBytes(values []float32) []byte {
	buf := make([]byte, len(values)*4)
	PutFloat32s(buf, values)
	return buf
}

// PutFloat32s writes float32 values into buf in little-endian order starting at offset 0.
//
// Parameters:
//   - buf: destination, at least 4*len(values) bytes
//   - values: the values to write
func PutFloat32s(buf []byte, values []float32) {
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
}

// BytesToFloat32s decodes little-endian float32 values from buf. Trailing bytes that do
// not form a whole value are ignored.
//
// Parameters:
//   - buf: source bytes
//
// Returns:
//   - []float32: decoded values
func BytesToFloat32s(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

// Float32At reads the little-endian float32 stored at byte offset off.
func Float32At(buf []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
}

// Uint32At reads the little-endian uint32 stored at byte offset off.
func Uint32At(buf []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(buf[off:])
}

// Warps returns the number of workgroups of the given size needed to cover n invocations.
//
// Parameters:
//   - n: total invocations along one axis
//   - threads: workgroup size along that axis
//
// Returns:
//   - uint32: ceil(n / threads), at least 1
func Warps(n, threads int) uint32 {
	if threads <= 0 {
		threads = 1
	}
	w := (n + threads - 1) / threads
	if w < 1 {
		w = 1
	}
	return uint32(w)
}

// Clamp restricts v to [lo, hi].
func Clamp(v, lo, hi float32) float32 {
	return math32.Max(lo, math32.Min(hi, v))
}

// ClampInt restricts v to [lo, hi].
func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
