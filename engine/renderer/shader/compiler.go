package shader

import (
	"fmt"

	"github.com/gogpu/naga"
)

// Compiler validates and translates one WGSL compilation unit.
type Compiler interface {
	// Compile translates the source.
	//
	// Parameters:
	//   - label: a name for the unit used in error messages
	//   - source: the complete WGSL unit
	//   - fastMath: whether relaxed floating point is requested
	//
	// Returns:
	//   - []byte: the compiled module, in the compiler's output format
	//   - error: the compiler diagnostic when the source is rejected
	Compile(label, source string, fastMath bool) ([]byte, error)
}

// nagaCompiler compiles WGSL to SPIR-V with the pure Go naga front end. WGSL has no
// fast-math switch, so the flag only travels on to the backend through the program descriptor.
type nagaCompiler struct{}

var _ Compiler = &nagaCompiler{}

// NewNagaCompiler returns a Compiler backed by naga.
func NewNagaCompiler() Compiler {
	return &nagaCompiler{}
}

func (c *nagaCompiler) Compile(label, source string, fastMath bool) (out []byte, err error) {
	// naga panics on some malformed inputs instead of returning an error
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%s: compiler panic: %v", label, r)
		}
	}()

	spirv, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", label, err)
	}
	return spirv, nil
}
