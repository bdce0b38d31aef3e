package shader

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/Carmen-Shannon/oxy-volume/engine/render_state"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/backend"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/backend/software"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCompiler rejects any unit containing the token BROKEN.
type fakeCompiler struct {
	calls   int
	sources []string
}

func (c *fakeCompiler) Compile(label, source string, fastMath bool) ([]byte, error) {
	c.calls++
	c.sources = append(c.sources, source)
	if strings.Contains(source, "BROKEN") {
		return nil, errors.New(label + ": unexpected token BROKEN")
	}
	return []byte{0x03, 0x02, 0x23, 0x07}, nil
}

const userKernel = `// Author: Jane Doe
// Description: Renders the first channel as grey.
// Label: Grey
@compute @workgroup_size(8, 8, 1)
fn user_grey(@builtin(global_invocation_id) gid: vec3<u32>) {
    render_pixel(gid, MODE_MIP);
}
`

func newTestRegistry(t *testing.T, c Compiler) ShaderRegistry {
	t.Helper()
	b := software.NewSoftwareBackend(software.WithWorkers(2))
	t.Cleanup(b.Release)
	r := NewShaderRegistry(b, WithCompiler(c))
	t.Cleanup(r.Release)
	return r
}

func writeKernel(t *testing.T, dir, name, source string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(source), 0o644))
}

func kernelNames(ks []Kernel) []string {
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = k.Name
	}
	return out
}

func TestLoadBuiltin(t *testing.T) {
	c := &fakeCompiler{}
	r := newTestRegistry(t, c)
	require.NoError(t, r.Load())

	assert.Equal(t, []string{"preset_ftb", "preset_btf", "preset_mip"}, kernelNames(r.Kernels()))
	assert.Equal(t, 0, c.calls, "built-in units are not recompiled")
	assert.Equal(t, uint64(1), r.Generation())
	assert.False(t, r.UserKernelsEnabled())

	for _, k := range r.Kernels() {
		assert.True(t, k.Builtin())
		assert.Equal(t, [3]uint32{8, 8, 1}, k.WorkgroupSize)
		assert.NotEmpty(t, k.Label)
	}

	prog := r.Program()
	require.NotNil(t, prog)
	var entries []string
	for _, e := range prog.EntryPoints() {
		entries = append(entries, e.Name)
	}
	assert.Contains(t, entries, "overlay_points")

	layout := prog.Layout()
	require.Len(t, layout, 7)
	want := map[uint32]struct {
		kind backend.ResourceKind
		size uint64
	}{
		render_state.SlotVolume:  {backend.KindSampledTexture3D, 0},
		render_state.SlotSampler: {backend.KindSampler, 0},
		render_state.SlotParams:  {backend.KindUniformBuffer, render_state.RenderParamsSize},
		render_state.SlotToneLUT: {backend.KindReadOnlyStorageBuffer, 4096},
		render_state.SlotOutput:  {backend.KindStorageBuffer, 0},
		render_state.SlotPoints:  {backend.KindReadOnlyStorageBuffer, 0},
		render_state.SlotOverlay: {backend.KindUniformBuffer, render_state.PointOverlaySize},
	}
	for _, l := range layout {
		w, ok := want[l.Binding]
		require.True(t, ok, "unexpected binding %d", l.Binding)
		assert.Equal(t, w.kind, l.Kind, l.Name)
		assert.Equal(t, w.size, l.MinSize, l.Name)
	}

	ingest := r.IngestProgram()
	require.NotNil(t, ingest)
	require.Len(t, ingest.EntryPoints(), 1)
	assert.Equal(t, "write_slice", ingest.EntryPoints()[0].Name)
	il := ingest.Layout()
	require.Len(t, il, 3)
	assert.Equal(t, backend.KindStorageTexture3D, il[render_state.SlotIngestVolume].Kind)
	assert.Equal(t, uint64(render_state.SliceParamsSize), il[render_state.SlotIngestSlice].MinSize)
	assert.Equal(t, backend.KindReadOnlyStorageBuffer, il[render_state.SlotIngestSamples].Kind)
}

func TestMetadataGating(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   bool
	}{
		{"all tags", userKernel, true},
		{"missing author", strings.Replace(userKernel, "// Author: Jane Doe\n", "", 1), false},
		{"missing description", strings.Replace(userKernel, "// Description: Renders the first channel as grey.\n", "", 1), false},
		{"missing label", strings.Replace(userKernel, "// Label: Grey\n", "", 1), false},
		{"empty label", strings.Replace(userKernel, "// Label: Grey", "// Label:", 1), false},
		{"wrong signature", strings.Replace(userKernel, "vec3<u32>", "vec2<u32>", 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeKernel(t, dir, "grey.wgsl", tt.source)

			r := newTestRegistry(t, &fakeCompiler{})
			require.NoError(t, r.Discover(nil, dir))
			require.NoError(t, r.Compile())

			assert.Equal(t, tt.want, contains(kernelNames(r.Kernels()), "user_grey"))
			assert.Equal(t, tt.want, contains(kernelNames(r.Candidates()), "user_grey"))
		})
	}
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func TestCompileUserKernels(t *testing.T) {
	dir := t.TempDir()
	writeKernel(t, dir, "nested/grey.wgsl", userKernel)

	c := &fakeCompiler{}
	r := newTestRegistry(t, c)
	require.NoError(t, r.Discover(nil, dir))
	require.NoError(t, r.Load())
	gen := r.Generation()

	require.NoError(t, r.Compile())
	assert.Equal(t, 1, c.calls, "one compiler invocation per compile")
	assert.Contains(t, c.sources[0], "fn preset_ftb", "built-in unit leads the compilation unit")
	assert.Contains(t, c.sources[0], "fn user_grey")
	assert.True(t, r.UserKernelsEnabled())
	assert.Greater(t, r.Generation(), gen)

	k, ok := r.SelectKernel("user_grey")
	require.True(t, ok)
	assert.Equal(t, "Grey", k.Label)
	assert.Equal(t, "Jane Doe", k.Author)
	assert.Equal(t, dir, k.Root)
	assert.Equal(t, "nested/grey.wgsl", k.Path)
	assert.False(t, k.Builtin())
}

func TestCompileFailureFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	broken := strings.Replace(userKernel, "render_pixel(gid, MODE_MIP);", "BROKEN", 1)
	writeKernel(t, dir, "grey.wgsl", broken)

	r := newTestRegistry(t, &fakeCompiler{})
	require.NoError(t, r.Discover(nil, dir))
	require.NoError(t, r.Load())
	def := r.Program()

	err := r.Compile()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCompileFailed)
	assert.ErrorIs(t, r.LastError(), ErrCompileFailed)
	assert.Same(t, def, r.Program())
	assert.False(t, r.UserKernelsEnabled())
	assert.Equal(t, []string{"preset_ftb", "preset_btf", "preset_mip"}, kernelNames(r.Kernels()))

	for _, name := range []string{"preset_ftb", "preset_btf", "preset_mip"} {
		_, ok := r.SelectKernel(name)
		assert.True(t, ok, name)
	}
	k, ok := r.SelectKernel("user_grey")
	assert.False(t, ok)
	assert.Equal(t, "preset_ftb", k.Name)

	// fixing the file and refreshing re-enables user kernels
	writeKernel(t, dir, "grey.wgsl", userKernel)
	gen := r.Generation()
	require.NoError(t, r.Refresh())
	assert.NoError(t, r.LastError())
	assert.True(t, r.UserKernelsEnabled())
	assert.Greater(t, r.Generation(), gen)
	_, ok = r.SelectKernel("user_grey")
	assert.True(t, ok)
}

func TestCompileFailureBeforeLoadIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	writeKernel(t, dir, "grey.wgsl", strings.Replace(userKernel, "MODE_MIP", "BROKEN", 1))

	r := newTestRegistry(t, &fakeCompiler{})
	require.NoError(t, r.Discover(nil, dir))
	require.ErrorIs(t, r.Compile(), ErrCompileFailed)
	require.NotNil(t, r.Program())
	assert.Len(t, r.Kernels(), 3)
}

func TestDuplicateKernelSkipped(t *testing.T) {
	dir := t.TempDir()
	writeKernel(t, dir, "a.wgsl", userKernel)
	writeKernel(t, dir, "b.wgsl", userKernel)
	writeKernel(t, dir, "c.wgsl", strings.Replace(userKernel, "user_grey", "preset_mip", 1))

	r := newTestRegistry(t, &fakeCompiler{})
	require.NoError(t, r.Discover(nil, dir))

	cands := r.Candidates()
	require.Len(t, cands, 1)
	assert.Equal(t, "a.wgsl", cands[0].Path)
}

func TestSelectKernelFallback(t *testing.T) {
	r := newTestRegistry(t, &fakeCompiler{})
	require.NoError(t, r.Load())

	k, ok := r.SelectKernel("preset_mip")
	assert.True(t, ok)
	assert.Equal(t, "preset_mip", k.Name)

	k, ok = r.SelectKernel("removed_kernel")
	assert.False(t, ok)
	assert.Equal(t, r.DefaultKernel(), k)
	assert.Equal(t, "preset_ftb", k.Name)
}

func TestDiscoverSkipsMissingUserDir(t *testing.T) {
	r := newTestRegistry(t, &fakeCompiler{})
	require.NoError(t, r.Discover(nil, filepath.Join(t.TempDir(), "missing")))
	assert.Empty(t, r.Candidates())
}

func TestDiscoverRequiresBuiltinUnit(t *testing.T) {
	r := newTestRegistry(t, &fakeCompiler{})
	err := r.Discover(fstest.MapFS{"other.wgsl": {Data: []byte("")}})
	require.Error(t, err)
}

func TestIncludeIsSinglePass(t *testing.T) {
	files := []*sourceFile{
		{root: "r", path: "k/a.wgsl", raw: "#include \"b.wgsl\"\n#include \"missing.wgsl\"\nfn a() {}"},
		{root: "r", path: "k/b.wgsl", raw: "#include \"c.wgsl\"\nfn b() {}"},
		{root: "r", path: "k/c.wgsl", raw: "fn c() {}"},
		{root: "r", path: "other/d.wgsl", raw: "fn d() {}"},
	}
	pp := newPreProcessor(files)
	got := pp.Process(files[0])

	assert.Equal(t, "#include \"c.wgsl\"\nfn b() {}\nfn a() {}", got)
	assert.Equal(t, got, files[0].resolved)

	// includes resolve against siblings only
	f := &sourceFile{root: "r", path: "k/e.wgsl", raw: "#include \"d.wgsl\"\nfn e() {}"}
	assert.Equal(t, "fn e() {}", pp.Process(f))
}

func TestParseKernelDecls(t *testing.T) {
	src := `// Author: A
// Description: first
// Label: One
@compute @workgroup_size(16)
fn one(@builtin(global_invocation_id) id: vec3<u32>) {}

/*
@compute @workgroup_size(8, 8)
fn hidden(@builtin(global_invocation_id) id: vec3<u32>) {}
*/

// Label: Two
@compute @workgroup_size(4, 2, 2)
fn two(@builtin(global_invocation_id) id: vec3<u32>) {}
`
	decls := parseKernelDecls(src)
	require.Len(t, decls, 2)

	assert.Equal(t, "one", decls[0].name)
	assert.Equal(t, [3]uint32{16, 1, 1}, decls[0].workgroupSize)
	assert.True(t, decls[0].complete())

	assert.Equal(t, "two", decls[1].name)
	assert.Equal(t, [3]uint32{4, 2, 2}, decls[1].workgroupSize)
	assert.False(t, decls[1].complete(), "tags of the previous kernel do not carry over")
	assert.Equal(t, []string{"Author", "Description"}, decls[1].missing())
}

func TestParseBindingLayoutsRejectsUnsupported(t *testing.T) {
	_, err := parseBindingLayouts("@group(1) @binding(0) var<uniform> p: vec4<f32>;")
	assert.Error(t, err)

	_, err = parseBindingLayouts("@group(0) @binding(0) var t: texture_2d<f32>;")
	assert.Error(t, err)

	_, err = parseBindingLayouts("@group(0) @binding(0) var<uniform> a: f32;\n@group(0) @binding(0) var<uniform> b: f32;")
	assert.Error(t, err)
}

func TestStructLayout(t *testing.T) {
	src := `struct Inner { a: vec3<f32>, b: f32, }
struct Outer { x: f32, inner: Inner, list: array<vec4<f32>, 2>, }
@group(0) @binding(0) var<uniform> o: Outer;`
	layout, err := parseBindingLayouts(src)
	require.NoError(t, err)
	require.Len(t, layout, 1)
	// x at 0, inner aligned to 16 (size 16), list at 32 (size 32)
	assert.Equal(t, uint64(64), layout[0].MinSize)
}

func TestNagaRejectsMalformedSource(t *testing.T) {
	_, err := NewNagaCompiler().Compile("broken", "fn broken( {", true)
	assert.Error(t, err)
}
