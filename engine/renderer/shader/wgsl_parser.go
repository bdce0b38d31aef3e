package shader

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/backend"
)

var (
	// structBlockRegex matches struct declarations and captures the name and body
	structBlockRegex = regexp.MustCompile(`struct\s+(\w+)\s*\{([^}]*)\}`)

	// builtinRegex matches @builtin(...) attributes
	builtinRegex = regexp.MustCompile(`@builtin\(\w+\)`)

	// fieldRegex matches a struct field line: optional attributes, name, colon, type.
	// The type capture (.+) is greedy to handle parameterized types like array<T, N>.
	fieldRegex = regexp.MustCompile(`(?:(?:@\w+\([^)]*\)\s*)*)*\s*(\w+)\s*:\s*(.+)`)

	// computeEntryRegex matches every compute entry point, kernel or auxiliary, and
	// captures its workgroup size arguments and name
	computeEntryRegex = regexp.MustCompile(`@compute\s+@workgroup_size\(([^)]*)\)\s*fn\s+(\w+)`)

	// bindGroupDeclRegex captures group, binding, optional address space, variable name, and type
	// from declarations like: @group(0) @binding(2) var<uniform> params: RenderParams;
	// or handle types: @group(0) @binding(0) var volume: texture_3d<f32>;
	bindGroupDeclRegex = regexp.MustCompile(`@group\((\d+)\)\s*@binding\((\d+)\)\s*var(?:<([^>]*)>)?\s+(\w+)\s*:\s*([^;]+?)\s*;`)
)

// parseEntryPoints extracts every @compute entry point of a compilation unit with its
// workgroup size. Omitted workgroup dimensions default to 1.
//
// Parameters:
//   - source: the WGSL source with includes resolved
//
// Returns:
//   - []backend.EntryPoint: the entry points in source order
func parseEntryPoints(source string) []backend.EntryPoint {
	cleaned := stripComments(source)
	matches := computeEntryRegex.FindAllStringSubmatch(cleaned, -1)
	out := make([]backend.EntryPoint, 0, len(matches))
	for _, m := range matches {
		out = append(out, backend.EntryPoint{
			Name:          m[2],
			WorkgroupSize: parseWorkgroupArgs(m[1]),
		})
	}
	return out
}

// parseBindingLayouts extracts the @group(0) resource declarations of a compilation unit,
// sorted by binding index. Buffer bindings carry the byte size of their bound type so the
// backend can validate buffers before a dispatch.
//
// Parameters:
//   - source: the WGSL source with includes resolved
//
// Returns:
//   - []backend.BindingLayout: the declared bindings
//   - error: an error if a declaration uses a group other than 0, repeats a binding
//     index, or binds a type the backends do not support
func parseBindingLayouts(source string) ([]backend.BindingLayout, error) {
	cleaned := stripComments(source)
	structSizes := computeStructSizes(parseStructBlocks(cleaned))

	seen := make(map[uint32]string)
	var out []backend.BindingLayout
	for _, match := range bindGroupDeclRegex.FindAllStringSubmatch(cleaned, -1) {
		group, _ := strconv.Atoi(match[1])
		binding, _ := strconv.ParseUint(match[2], 10, 32)
		addressSpace := strings.TrimSpace(match[3])
		name := strings.TrimSpace(match[4])
		typeName := strings.TrimSpace(match[5])

		if group != 0 {
			return nil, fmt.Errorf("binding %q: only @group(0) is supported, got %d", name, group)
		}
		if prev, ok := seen[uint32(binding)]; ok {
			return nil, fmt.Errorf("binding %d declared twice (%q and %q)", binding, prev, name)
		}
		seen[uint32(binding)] = name

		kind, err := classifyResource(addressSpace, typeName)
		if err != nil {
			return nil, fmt.Errorf("binding %q: %w", name, err)
		}
		layout := backend.BindingLayout{
			Binding: uint32(binding),
			Name:    name,
			Kind:    kind,
		}
		if addressSpace != "" && !isRuntimeArray(typeName) {
			if l, ok := resolveTypeLayout(typeName, structSizes); ok {
				layout.MinSize = l.size
			}
		}
		out = append(out, layout)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Binding < out[j].Binding
	})
	return out, nil
}

// parseStructBlocks finds all struct { ... } blocks in the cleaned WGSL source
// and parses their fields
//
// Parameters:
//   - source: WGSL source with comments already stripped
//
// Returns:
//   - []structDecl: all struct blocks found in the source
func parseStructBlocks(source string) []structDecl {
	matches := structBlockRegex.FindAllStringSubmatch(source, -1)
	structs := make([]structDecl, 0, len(matches))

	for _, match := range matches {
		structs = append(structs, structDecl{
			name:   match[1],
			fields: parseStructFields(match[2]),
		})
	}

	return structs
}

// parseStructFields parses the body of a struct block into individual fields
func parseStructFields(body string) []structField {
	lines := splitAtTopLevelCommas(body)
	fields := make([]structField, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fm := fieldRegex.FindStringSubmatch(line)
		if fm == nil {
			continue
		}
		fields = append(fields, structField{
			name:      fm[1],
			typeName:  strings.TrimSpace(fm[2]),
			isBuiltin: builtinRegex.MatchString(line),
		})
	}

	return fields
}

func isRuntimeArray(typeName string) bool {
	return strings.HasPrefix(typeName, "array<") && !strings.Contains(typeName, ",")
}
