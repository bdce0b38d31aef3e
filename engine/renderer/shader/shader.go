// Package shader discovers, validates and compiles the ray-march kernels. Built-in kernels
// ship embedded in the binary; user kernels are .wgsl files in configured directories and
// are appended to the built-in unit so they share its declarations.
package shader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/Carmen-Shannon/oxy-volume/common"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/backend"
)

var (
	// ErrCompileFailed is returned when the combined kernel unit is rejected. The default
	// program stays active and user kernels are disabled until the next successful compile.
	ErrCompileFailed = errors.New("kernel compilation failed")

	// ErrNoKernels is returned when the built-in unit declares no tagged kernel.
	ErrNoKernels = errors.New("no kernels")
)

const (
	// BuiltinRoot is the Kernel.Root of kernels shipped with the binary.
	BuiltinRoot = "builtin"

	builtinUnit = "builtin.wgsl"
	ingestUnit  = "ingest.wgsl"
)

// Kernel is the metadata of one selectable ray-march kernel.
type Kernel struct {
	// Name is the entry point name, unique across the registry.
	Name string

	// Label is the display name.
	Label string

	Author      string
	Description string

	// Root is BuiltinRoot or the user directory the kernel was found in.
	Root string

	// Path is the file path relative to Root.
	Path string

	// WorkgroupSize is the declared @workgroup_size.
	WorkgroupSize [3]uint32
}

// Builtin reports whether the kernel ships with the binary.
func (k Kernel) Builtin() bool {
	return k.Root == BuiltinRoot
}

// userSource is a user file whose kernels all passed the metadata gate.
type userSource struct {
	file    *sourceFile
	kernels []Kernel
}

// shaderRegistry is the implementation of the ShaderRegistry interface.
type shaderRegistry struct {
	mu sync.RWMutex

	backend  backend.Backend
	compiler Compiler
	fastMath bool
	label    string

	builtinFS fs.FS
	userDirs  []string

	builtinSource  string
	ingestSource   string
	builtinKernels []Kernel
	candidates     []userSource

	defaultProgram backend.Program
	ingestProgram  backend.Program
	program        backend.Program
	kernels        []Kernel
	userEnabled    bool
	generation     uint64
	lastErr        error
}

// ShaderRegistry owns the kernel sources, the compiled program and the kernel list the
// renderer selects from.
type ShaderRegistry interface {
	// Discover walks the built-in tree and every user directory for .wgsl files, resolves
	// their includes and runs the metadata gate over user files. User files whose kernels
	// are missing a tag, or reuse an already registered name, are skipped and logged at
	// Debug. A user directory that cannot be read is logged at Warn and ignored.
	// Discover does not compile; call Compile to activate newly accepted kernels.
	//
	// Parameters:
	//   - builtin: the built-in tree, nil for the embedded kernels
	//   - userDirs: directories searched recursively for user kernels
	//
	// Returns:
	//   - error: an error if the built-in tree lacks the built-in unit
	Discover(builtin fs.FS, userDirs ...string) error

	// Load creates the default program and the ingest program from the built-in units.
	// The built-in units ship validated and are not passed through the Compiler, so the
	// default program never depends on a compile that can fail at runtime. Load runs at
	// most once; later calls return nil. Discover with the embedded tree is
	// implied when Discover was never called.
	//
	// Returns:
	//   - error: an error if the built-in kernels cannot be compiled
	Load() error

	// Compile concatenates the built-in unit and every accepted user source into one unit
	// and compiles it once. On failure the default program is reactivated, user kernels
	// are disabled and an error wrapping ErrCompileFailed is returned.
	//
	// Returns:
	//   - error: nil on success
	Compile() error

	// Refresh re-runs Discover with the previous arguments, then Compile.
	//
	// Returns:
	//   - error: the Discover or Compile error
	Refresh() error

	// SelectKernel looks up a kernel by name. When the name is not registered it returns
	// the default kernel (the first built-in) and false so the caller can notify the user.
	//
	// Parameters:
	//   - name: the entry point name
	//
	// Returns:
	//   - Kernel: the kernel to use
	//   - bool: false when the default was substituted
	SelectKernel(name string) (Kernel, bool)

	// DefaultKernel returns the kernel SelectKernel falls back to.
	DefaultKernel() Kernel

	// Kernels returns the selectable kernels, built-in first.
	Kernels() []Kernel

	// Candidates returns the user kernels accepted by the last Discover, whether or not
	// they are compiled into the active program.
	Candidates() []Kernel

	// Program returns the active render program, nil before Load.
	Program() backend.Program

	// IngestProgram returns the program exposing the write_slice kernel, nil before Load.
	IngestProgram() backend.Program

	// Generation changes whenever the active program changes.
	Generation() uint64

	// UserKernelsEnabled reports whether the active program includes user kernels.
	UserKernelsEnabled() bool

	// LastError returns the error of the most recent Compile, nil after a success.
	LastError() error

	// UserDirs returns the user directories passed to the last Discover.
	UserDirs() []string

	// Release frees every program.
	Release()
}

var _ ShaderRegistry = &shaderRegistry{}

// NewShaderRegistry creates a registry compiling programs for the given backend.
//
// Parameters:
//   - b: the backend programs are created on
//   - options: variadic list of ShaderRegistryOption functions
//
// Returns:
//   - ShaderRegistry: the registry
func NewShaderRegistry(b backend.Backend, options ...ShaderRegistryOption) ShaderRegistry {
	if b == nil {
		panic("shader: registry requires a backend")
	}
	r := &shaderRegistry{
		backend:  b,
		compiler: NewNagaCompiler(),
		fastMath: true,
		label:    "volume-kernels",
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

func (r *shaderRegistry) Discover(builtin fs.FS, userDirs ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.discoverLocked(builtin, userDirs)
}

func (r *shaderRegistry) discoverLocked(builtin fs.FS, userDirs []string) error {
	if builtin == nil {
		builtin = BuiltinFS()
	}

	files, err := collectSources(builtin, BuiltinRoot)
	if err != nil {
		return fmt.Errorf("discover built-in kernels: %w", err)
	}
	pp := newPreProcessor(files)
	var unit, ingest *sourceFile
	for _, f := range files {
		pp.Process(f)
		switch f.path {
		case builtinUnit:
			unit = f
		case ingestUnit:
			ingest = f
		}
	}
	if unit == nil {
		return fmt.Errorf("discover built-in kernels: %s not found", builtinUnit)
	}

	builtinKernels := kernelsOf(unit, parseKernelDecls(unit.resolved), nil)
	taken := make(map[string]bool)
	for _, e := range parseEntryPoints(unit.resolved) {
		taken[e.Name] = true
	}

	var candidates []userSource
	for _, dir := range userDirs {
		userFiles, err := collectSources(os.DirFS(dir), dir)
		if err != nil {
			common.Logger().Warn("shader: skipping user kernel directory", "dir", dir, "error", err)
			continue
		}
		upp := newPreProcessor(userFiles)
		for _, f := range userFiles {
			if src, ok := acceptUserFile(f, upp, taken); ok {
				candidates = append(candidates, src)
			}
		}
	}

	r.builtinFS = builtin
	r.userDirs = slices.Clone(userDirs)
	r.builtinSource = unit.resolved
	r.builtinKernels = builtinKernels
	r.candidates = candidates
	if ingest != nil {
		r.ingestSource = ingest.resolved
	}

	common.Logger().Info("shader: discovered kernels",
		"builtin", len(builtinKernels), "user", len(r.candidateKernels()))
	return nil
}

// acceptUserFile runs the metadata gate over one user file. Every kernel in the file must
// be fully tagged and uniquely named, otherwise the whole file is skipped.
func acceptUserFile(f *sourceFile, pp *preProcessor, taken map[string]bool) (userSource, bool) {
	resolved := pp.Process(f)
	decls := parseKernelDecls(resolved)
	if len(decls) == 0 {
		common.Logger().Debug("shader: skipping file without kernel signature", "root", f.root, "file", f.path)
		return userSource{}, false
	}
	seen := make(map[string]bool, len(decls))
	for _, d := range decls {
		if !d.complete() {
			common.Logger().Debug("shader: skipping kernel with missing tags",
				"root", f.root, "file", f.path, "kernel", d.name, "missing", strings.Join(d.missing(), ","))
			return userSource{}, false
		}
		if taken[d.name] || seen[d.name] {
			common.Logger().Debug("shader: skipping duplicate kernel", "root", f.root, "file", f.path, "kernel", d.name)
			return userSource{}, false
		}
		seen[d.name] = true
	}
	for name := range seen {
		taken[name] = true
	}
	return userSource{file: f, kernels: kernelsOf(f, decls, nil)}, true
}

// kernelsOf converts the complete declarations of f to Kernels, appending to dst.
func kernelsOf(f *sourceFile, decls []kernelDecl, dst []Kernel) []Kernel {
	for _, d := range decls {
		if !d.complete() {
			continue
		}
		dst = append(dst, Kernel{
			Name:          d.name,
			Label:         d.tags[TagLabel],
			Author:        d.tags[TagAuthor],
			Description:   d.tags[TagDescription],
			Root:          f.root,
			Path:          f.path,
			WorkgroupSize: d.workgroupSize,
		})
	}
	return dst
}

// collectSources reads every .wgsl file below the root of fsys in lexical order.
func collectSources(fsys fs.FS, root string) ([]*sourceFile, error) {
	var files []*sourceFile
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != ".wgsl" {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		files = append(files, &sourceFile{root: root, path: p, raw: string(data)})
		return nil
	})
	return files, err
}

func (r *shaderRegistry) candidateKernels() []Kernel {
	var out []Kernel
	for _, c := range r.candidates {
		out = append(out, c.kernels...)
	}
	return out
}

func (r *shaderRegistry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked()
}

func (r *shaderRegistry) loadLocked() error {
	if r.defaultProgram != nil {
		return nil
	}
	if r.builtinSource == "" {
		if err := r.discoverLocked(r.builtinFS, r.userDirs); err != nil {
			return err
		}
	}
	if len(r.builtinKernels) == 0 {
		return fmt.Errorf("load built-in kernels: %w", ErrNoKernels)
	}

	prog, err := r.createProgram(r.label+"-default", r.builtinSource)
	if err != nil {
		return fmt.Errorf("load built-in kernels: %w", err)
	}
	if r.ingestSource != "" {
		ingest, err := r.createProgram(r.label+"-ingest", r.ingestSource)
		if err != nil {
			prog.Release()
			return fmt.Errorf("load ingest kernel: %w", err)
		}
		r.ingestProgram = ingest
	}

	r.defaultProgram = prog
	r.program = prog
	r.kernels = slices.Clone(r.builtinKernels)
	r.userEnabled = false
	r.generation++
	common.Logger().Info("shader: loaded default program", "kernels", len(r.kernels), "generation", r.generation)
	return nil
}

// build compiles a unit and creates the backend program from it.
func (r *shaderRegistry) build(label, source string) (backend.Program, error) {
	if _, err := r.compiler.Compile(label, source, r.fastMath); err != nil {
		return nil, err
	}
	return r.createProgram(label, source)
}

// createProgram creates the backend program of a unit without running the compiler.
func (r *shaderRegistry) createProgram(label, source string) (backend.Program, error) {
	layout, err := parseBindingLayouts(source)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", label, err)
	}
	prog, err := r.backend.CreateProgram(backend.ProgramDescriptor{
		Label:       label,
		Source:      source,
		EntryPoints: parseEntryPoints(source),
		Layout:      layout,
		FastMath:    r.fastMath,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", label, err)
	}
	return prog, nil
}

func (r *shaderRegistry) Compile() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.loadLocked(); err != nil {
		return err
	}
	if len(r.candidates) == 0 {
		r.activateDefault()
		r.lastErr = nil
		return nil
	}

	var sb strings.Builder
	sb.WriteString(r.builtinSource)
	for _, c := range r.candidates {
		fmt.Fprintf(&sb, "\n// %s/%s\n", c.file.root, c.file.path)
		sb.WriteString(c.file.resolved)
	}

	prog, err := r.build(r.label, sb.String())
	if err != nil {
		r.activateDefault()
		r.lastErr = fmt.Errorf("%w: %v", ErrCompileFailed, err)
		common.Logger().Warn("shader: user kernels disabled after failed compile", "error", err)
		return r.lastErr
	}

	if r.program != nil && r.program != r.defaultProgram {
		r.program.Release()
	}
	r.program = prog
	r.kernels = append(slices.Clone(r.builtinKernels), r.candidateKernels()...)
	r.userEnabled = true
	r.lastErr = nil
	r.generation++
	common.Logger().Info("shader: compiled kernels", "kernels", len(r.kernels), "generation", r.generation)
	return nil
}

// activateDefault switches back to the default program and the built-in kernel list.
func (r *shaderRegistry) activateDefault() {
	r.userEnabled = false
	r.kernels = slices.Clone(r.builtinKernels)
	if r.program == r.defaultProgram {
		return
	}
	if r.program != nil {
		r.program.Release()
	}
	r.program = r.defaultProgram
	r.generation++
}

func (r *shaderRegistry) Refresh() error {
	r.mu.Lock()
	err := r.discoverLocked(r.builtinFS, r.userDirs)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.Compile()
}

func (r *shaderRegistry) SelectKernel(name string) (Kernel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, k := range r.kernels {
		if k.Name == name {
			return k, true
		}
	}
	return r.defaultKernelLocked(), false
}

func (r *shaderRegistry) DefaultKernel() Kernel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultKernelLocked()
}

func (r *shaderRegistry) defaultKernelLocked() Kernel {
	if len(r.builtinKernels) == 0 {
		return Kernel{}
	}
	return r.builtinKernels[0]
}

func (r *shaderRegistry) Kernels() []Kernel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.kernels)
}

func (r *shaderRegistry) Candidates() []Kernel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.candidateKernels()
}

func (r *shaderRegistry) Program() backend.Program {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.program
}

func (r *shaderRegistry) IngestProgram() backend.Program {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ingestProgram
}

func (r *shaderRegistry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

func (r *shaderRegistry) UserKernelsEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.userEnabled
}

func (r *shaderRegistry) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

func (r *shaderRegistry) UserDirs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.userDirs)
}

func (r *shaderRegistry) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil && r.program != r.defaultProgram {
		r.program.Release()
	}
	if r.defaultProgram != nil {
		r.defaultProgram.Release()
	}
	if r.ingestProgram != nil {
		r.ingestProgram.Release()
	}
	r.program, r.defaultProgram, r.ingestProgram = nil, nil, nil
	r.kernels = nil
}
