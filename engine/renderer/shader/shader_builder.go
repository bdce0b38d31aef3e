package shader

// ShaderRegistryOption is a functional option for configuring a ShaderRegistry.
type ShaderRegistryOption func(*shaderRegistry)

// WithCompiler replaces the naga compiler.
//
// Parameters:
//   - c: the compiler
//
// Returns:
//   - ShaderRegistryOption: a function that applies the compiler to a registry
func WithCompiler(c Compiler) ShaderRegistryOption {
	return func(r *shaderRegistry) {
		if c != nil {
			r.compiler = c
		}
	}
}

// WithFastMath sets the fast-math flag carried by every program descriptor. Defaults to true.
func WithFastMath(enabled bool) ShaderRegistryOption {
	return func(r *shaderRegistry) {
		r.fastMath = enabled
	}
}

// WithLabel sets the label prefix of the programs the registry creates.
func WithLabel(label string) ShaderRegistryOption {
	return func(r *shaderRegistry) {
		if label != "" {
			r.label = label
		}
	}
}
