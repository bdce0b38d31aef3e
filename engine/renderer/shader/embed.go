package shader

import (
	"embed"
	"io/fs"
)

//go:embed shaders/*.wgsl
var builtinShaders embed.FS

// BuiltinFS returns the embedded built-in kernel tree.
func BuiltinFS() fs.FS {
	sub, err := fs.Sub(builtinShaders, "shaders")
	if err != nil {
		panic(err)
	}
	return sub
}
