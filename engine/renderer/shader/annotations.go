// annotations.go defines the kernel metadata tags and the parser that extracts them.
// A kernel is a compute entry point with the fixed signature
//
//	@compute @workgroup_size(...) fn <name>(@builtin(global_invocation_id) <id>: vec3<u32>)
//
// preceded by line comments carrying its tags:
//
//	// Author: <who wrote it>
//	// Description: <what it does>
//	// Label: <display name>
//
// Tags are collected from the comment lines between the previous kernel signature (or the
// start of the file) and the signature itself, so a single-kernel file may keep its header
// at the top while multi-kernel files tag each kernel separately.
package shader

import (
	"regexp"
	"strconv"
	"strings"
)

// TagKey names one metadata tag.
type TagKey string

const (
	// TagAuthor names who wrote the kernel.
	TagAuthor TagKey = "Author"

	// TagDescription is a one-line description shown next to the label.
	TagDescription TagKey = "Description"

	// TagLabel is the display name of the kernel.
	TagLabel TagKey = "Label"
)

// requiredTags lists the tags every registered kernel must carry.
var requiredTags = []TagKey{TagAuthor, TagDescription, TagLabel}

var (
	// kernelSignatureRegex matches the fixed kernel entry signature and captures the
	// workgroup size arguments and the function name.
	kernelSignatureRegex = regexp.MustCompile(`@compute\s+@workgroup_size\(([^)]*)\)\s*fn\s+(\w+)\s*\(\s*@builtin\(global_invocation_id\)\s+\w+\s*:\s*vec3<u32>\s*\)`)

	// tagLineRegex matches "// Key: value" comment lines.
	tagLineRegex = regexp.MustCompile(`^\s*//\s*(Author|Description|Label)\s*:\s*(.*?)\s*$`)
)

// kernelDecl is one kernel signature found in a source together with its tags.
type kernelDecl struct {
	name          string
	workgroupSize [3]uint32
	tags          map[TagKey]string
}

// complete reports whether every required tag is present and non-empty.
func (d kernelDecl) complete() bool {
	for _, k := range requiredTags {
		if d.tags[k] == "" {
			return false
		}
	}
	return true
}

// missing returns the required tags the declaration lacks, for diagnostics.
func (d kernelDecl) missing() []string {
	var out []string
	for _, k := range requiredTags {
		if d.tags[k] == "" {
			out = append(out, string(k))
		}
	}
	return out
}

// parseKernelDecls finds every kernel signature in source and attaches the tags written
// above it. Block comments are stripped first so a commented-out kernel is not detected.
//
// Parameters:
//   - source: the WGSL source with includes already resolved
//
// Returns:
//   - []kernelDecl: the kernels in source order, complete or not
func parseKernelDecls(source string) []kernelDecl {
	cleaned := stripBlockComments(source)
	matches := kernelSignatureRegex.FindAllStringSubmatchIndex(cleaned, -1)
	decls := make([]kernelDecl, 0, len(matches))

	prev := 0
	for _, m := range matches {
		start := m[0]
		// a signature on a commented-out line does not count
		lineStart := strings.LastIndexByte(cleaned[:start], '\n') + 1
		if strings.Contains(cleaned[lineStart:start], "//") {
			continue
		}

		decls = append(decls, kernelDecl{
			name:          cleaned[m[4]:m[5]],
			workgroupSize: parseWorkgroupArgs(cleaned[m[2]:m[3]]),
			tags:          parseTags(cleaned[prev:start]),
		})
		prev = m[1]
	}
	return decls
}

// parseTags collects tag lines from a region of source. The last occurrence of a tag wins.
func parseTags(region string) map[TagKey]string {
	tags := make(map[TagKey]string, len(requiredTags))
	for line := range strings.SplitSeq(region, "\n") {
		if m := tagLineRegex.FindStringSubmatch(line); m != nil {
			tags[TagKey(m[1])] = m[2]
		}
	}
	return tags
}

// parseWorkgroupArgs parses the comma separated arguments of @workgroup_size.
// Omitted or non-literal dimensions default to 1.
func parseWorkgroupArgs(args string) [3]uint32 {
	result := [3]uint32{1, 1, 1}
	for i, part := range strings.SplitN(args, ",", 3) {
		v, err := strconv.ParseUint(strings.TrimSpace(part), 10, 32)
		if err != nil || v == 0 {
			continue
		}
		result[i] = uint32(v)
	}
	return result
}
