// pre_processor.go resolves #include directives in kernel sources. Resolution is a single
// textual pass: each `#include "name"` line is replaced by the raw contents of the sibling
// file with that name in the same directory. Included text is not scanned again, so an
// include inside an included file is left for the compiler to reject. A directive naming
// a file that does not exist is dropped and logged at Debug.
package shader

import (
	"path"
	"regexp"
	"strings"

	"github.com/Carmen-Shannon/oxy-volume/common"
)

// includeRegex matches an include directive line and captures the file name.
var includeRegex = regexp.MustCompile(`^\s*#include\s+"([^"]+)"\s*$`)

// sourceFile is one discovered .wgsl file.
type sourceFile struct {
	// root identifies the directory tree the file came from, "builtin" or a user directory.
	root string

	// path is the slash separated path relative to root.
	path string

	// raw is the file contents before include resolution.
	raw string

	// resolved is raw with includes substituted.
	resolved string
}

// dir returns the directory of the file relative to its root.
func (f *sourceFile) dir() string {
	return path.Dir(f.path)
}

// preProcessor resolves includes against the files of one directory tree.
type preProcessor struct {
	// siblings maps a directory to the raw contents of its files keyed by base name.
	siblings map[string]map[string]string
}

// newPreProcessor indexes files by directory for include lookup.
//
// Parameters:
//   - files: every file of one root
//
// Returns:
//   - *preProcessor: the pre-processor for that root
func newPreProcessor(files []*sourceFile) *preProcessor {
	p := &preProcessor{siblings: make(map[string]map[string]string)}
	for _, f := range files {
		d := f.dir()
		if p.siblings[d] == nil {
			p.siblings[d] = make(map[string]string)
		}
		p.siblings[d][path.Base(f.path)] = f.raw
	}
	return p
}

// Process resolves the include directives of f and stores the result on f.
//
// Parameters:
//   - f: the file to process
//
// Returns:
//   - string: the resolved source
func (p *preProcessor) Process(f *sourceFile) string {
	lines := strings.Split(f.raw, "\n")
	out := make([]string, 0, len(lines))
	dir := p.siblings[f.dir()]

	for i, line := range lines {
		m := includeRegex.FindStringSubmatch(line)
		if m == nil {
			out = append(out, line)
			continue
		}
		src, ok := dir[m[1]]
		if !ok {
			common.Logger().Debug("shader: dropping unresolved include",
				"root", f.root, "file", f.path, "line", i+1, "include", m[1])
			continue
		}
		out = append(out, src)
	}

	f.resolved = strings.Join(out, "\n")
	return f.resolved
}
