package shader

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/backend"
)

// typeLayout is the byte size and alignment of a WGSL type in the uniform/storage address
// spaces, used to compute BindingLayout.MinSize.
type typeLayout struct {
	size  uint64
	align uint64
}

// structField is one member of a parsed struct. Builtin members never occur in buffer
// structs but are tolerated so shader I/O structs do not break the layout pass.
type structField struct {
	name      string
	typeName  string
	isBuiltin bool
}

// structDecl is a struct block found in a kernel unit.
type structDecl struct {
	name   string
	fields []structField
}

// primitiveLayouts maps the WGSL scalar, vector and matrix types a parameter block
// may contain to their byte size and alignment.
//
// Reference: https://www.w3.org/TR/WGSL/#alignment-and-size
var primitiveLayouts = map[string]typeLayout{
	"f32":  {4, 4},
	"i32":  {4, 4},
	"u32":  {4, 4},
	"f16":  {2, 2},
	"bool": {4, 4},

	"vec2<f32>": {8, 8},
	"vec2f":     {8, 8},
	"vec3<f32>": {12, 16},
	"vec3f":     {12, 16},
	"vec4<f32>": {16, 16},
	"vec4f":     {16, 16},
	"vec2<i32>": {8, 8},
	"vec2i":     {8, 8},
	"vec3<i32>": {12, 16},
	"vec3i":     {12, 16},
	"vec4<i32>": {16, 16},
	"vec4i":     {16, 16},
	"vec2<u32>": {8, 8},
	"vec2u":     {8, 8},
	"vec3<u32>": {12, 16},
	"vec3u":     {12, 16},
	"vec4<u32>": {16, 16},
	"vec4u":     {16, 16},

	"mat3x3<f32>": {48, 16},
	"mat4x4<f32>": {64, 16},

	"atomic<u32>": {4, 4},
	"atomic<i32>": {4, 4},
}

// roundUpAlign rounds value up to the next multiple of alignment.
// Alignment must be a power of two.
func roundUpAlign(alignment, value uint64) uint64 {
	if alignment == 0 {
		return value
	}
	return (value + alignment - 1) &^ (alignment - 1)
}

// resolveTypeLayout resolves a WGSL type name to its size and alignment using primitives
// and previously-computed struct layouts. A runtime-sized array resolves to one element
// stride.
//
// Parameters:
//   - typeName: the WGSL type name to resolve, e.g. "f32", "RenderParams", "array<vec4<f32>, 256>"
//   - knownTypes: a map of already-resolved type names to their layouts
//
// Returns:
//   - typeLayout: the resolved layout
//   - bool: true if the type could be resolved
func resolveTypeLayout(typeName string, knownTypes map[string]typeLayout) (typeLayout, bool) {
	if layout, ok := primitiveLayouts[typeName]; ok {
		return layout, true
	}
	if layout, ok := knownTypes[typeName]; ok {
		return layout, true
	}

	inner, ok := strings.CutPrefix(typeName, "array<")
	if !ok || !strings.HasSuffix(inner, ">") {
		return typeLayout{}, false
	}
	inner = inner[:len(inner)-1]

	// the element type may itself be parameterized, so split at the last top level comma
	parts := splitAtTopLevelCommas(inner)
	elemLayout, ok := resolveTypeLayout(strings.TrimSpace(parts[0]), knownTypes)
	if !ok {
		return typeLayout{}, false
	}
	stride := roundUpAlign(elemLayout.align, elemLayout.size)
	if len(parts) == 1 {
		return typeLayout{stride, elemLayout.align}, true
	}

	count, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return typeLayout{}, false
	}
	return typeLayout{count * stride, elemLayout.align}, true
}

// computeStructLayout computes the byte size and alignment of a single WGSL struct: each
// field is placed at the next aligned offset and the total size is rounded up to the
// largest field alignment. A trailing runtime-sized array contributes nothing to the size.
//
// Parameters:
//   - ps: the parsed struct whose layout to compute
//   - knownTypes: a map of already-resolved type names to their layouts
//
// Returns:
//   - typeLayout: the computed layout
//   - bool: true if all fields could be resolved
func computeStructLayout(ps structDecl, knownTypes map[string]typeLayout) (typeLayout, bool) {
	offset := uint64(0)
	maxAlign := uint64(1)

	for _, field := range ps.fields {
		if field.isBuiltin {
			continue
		}
		fieldLayout, ok := resolveTypeLayout(field.typeName, knownTypes)
		if !ok {
			return typeLayout{}, false
		}
		if fieldLayout.align > maxAlign {
			maxAlign = fieldLayout.align
		}
		offset = roundUpAlign(fieldLayout.align, offset)
		if isRuntimeArray(field.typeName) {
			break
		}
		offset += fieldLayout.size
	}

	return typeLayout{roundUpAlign(maxAlign, offset), maxAlign}, true
}

// computeStructSizes computes the layout of all parsed structs, resolving structs that
// embed other structs over as many passes as needed.
func computeStructSizes(structs []structDecl) map[string]typeLayout {
	resolved := make(map[string]typeLayout, len(structs))
	remaining := append([]structDecl(nil), structs...)

	for len(remaining) > 0 {
		next := remaining[:0]
		for _, ps := range remaining {
			if layout, ok := computeStructLayout(ps, resolved); ok {
				resolved[ps.name] = layout
			} else {
				next = append(next, ps)
			}
		}
		if len(next) == len(remaining) {
			break
		}
		remaining = next
	}

	return resolved
}

// classifyResource maps a parsed declaration to the resource kind the backends bind.
// Only the resources the volume programs use are accepted: uniform and storage buffers,
// sampled and write-only storage 3D textures, and filtering samplers.
//
// Parameters:
//   - addressSpace: the address space qualifier (e.g. "uniform", "storage, read_write"), empty for handle types
//   - typeName: the WGSL type string (e.g. "RenderParams", "texture_3d<f32>", "sampler")
//
// Returns:
//   - backend.ResourceKind: the resource kind
//   - error: an error for unsupported declarations
func classifyResource(addressSpace, typeName string) (backend.ResourceKind, error) {
	switch {
	case addressSpace == "uniform":
		return backend.KindUniformBuffer, nil
	case strings.HasPrefix(addressSpace, "storage"):
		if strings.Contains(addressSpace, "read_write") {
			return backend.KindStorageBuffer, nil
		}
		return backend.KindReadOnlyStorageBuffer, nil
	case addressSpace != "":
		return 0, fmt.Errorf("unsupported address space %q", addressSpace)
	}

	base, params := splitTypeParams(typeName)
	switch base {
	case "sampler":
		return backend.KindSampler, nil
	case "texture_3d":
		if params != "f32" {
			return 0, fmt.Errorf("unsupported sample type %q", params)
		}
		return backend.KindSampledTexture3D, nil
	case "texture_storage_3d":
		format, access, _ := strings.Cut(params, ",")
		if strings.TrimSpace(format) != "rgba8unorm" || strings.TrimSpace(access) != "write" {
			return 0, fmt.Errorf("unsupported storage texture %q", typeName)
		}
		return backend.KindStorageTexture3D, nil
	default:
		return 0, fmt.Errorf("unsupported resource type %q", typeName)
	}
}

// splitTypeParams splits a WGSL parameterized type into its base name and parameter string.
// For "texture_3d<f32>" returns ("texture_3d", "f32").
// For "sampler" (no params) returns ("sampler", "").
func splitTypeParams(typeName string) (base string, params string) {
	before, after, ok := strings.Cut(typeName, "<")
	if !ok {
		return typeName, ""
	}
	return before, strings.TrimSpace(strings.TrimSuffix(after, ">"))
}

// stripComments removes both single-line (//) and block (/* */) comments from WGSL source.
func stripComments(source string) string {
	return stripLineComments(stripBlockComments(source))
}

// stripLineComments removes single-line // comments from WGSL source
func stripLineComments(source string) string {
	var sb strings.Builder
	sb.Grow(len(source))
	for line := range strings.SplitSeq(source, "\n") {
		if idx := strings.Index(line, "//"); idx >= 0 {
			line = line[:idx]
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// stripBlockComments removes block comments (/* ... */) from WGSL source,
// handling nested block comments per the WGSL specification
func stripBlockComments(source string) string {
	var sb strings.Builder
	sb.Grow(len(source))
	depth := 0
	for i := 0; i < len(source); i++ {
		if i+1 < len(source) {
			switch {
			case source[i] == '/' && source[i+1] == '*':
				depth++
				i++
				continue
			case source[i] == '*' && source[i+1] == '/' && depth > 0:
				depth--
				i++
				continue
			}
		}
		if depth == 0 {
			sb.WriteByte(source[i])
		}
	}
	return sb.String()
}

// splitAtTopLevelCommas splits a string at commas that are not nested inside angle brackets,
// so array<vec4<f32>, 4> stays one field type.
func splitAtTopLevelCommas(s string) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<':
			depth++
		case '>':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}
