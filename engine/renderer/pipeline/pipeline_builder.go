package pipeline

// PipelineBuilderOption is a functional option used to configure a Pipeline during construction.
type PipelineBuilderOption func(*pipeline)

// WithEntryPoint sets the compute function name when it differs from the pipeline key.
//
// Parameters:
//   - name: the entry point name
//
// Returns:
//   - PipelineBuilderOption: a function that sets the entry point
func WithEntryPoint(name string) PipelineBuilderOption {
	return func(p *pipeline) {
		p.entryPoint = name
	}
}

// WithWorkgroupSize sets the workgroup dimensions. Zero components are treated as 1.
//
// Parameters:
//   - size: the x, y and z workgroup size
//
// Returns:
//   - PipelineBuilderOption: a function that sets the workgroup size
func WithWorkgroupSize(size [3]uint32) PipelineBuilderOption {
	return func(p *pipeline) {
		for i, v := range size {
			p.workgroupSize[i] = max(v, 1)
		}
	}
}

// WithProgramGeneration records the program generation the pipeline is built from.
func WithProgramGeneration(gen uint64) PipelineBuilderOption {
	return func(p *pipeline) {
		p.programGeneration = gen
	}
}
