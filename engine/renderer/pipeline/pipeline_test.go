package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPipelineDefaults(t *testing.T) {
	p := NewPipeline("preset_mip")
	assert.Equal(t, "preset_mip", p.EntryPoint())
	assert.Equal(t, [3]uint32{1, 1, 1}, p.WorkgroupSize())
	assert.Nil(t, p.Handle())
}

func TestWorkgroups(t *testing.T) {
	p := NewPipeline("k", WithWorkgroupSize([3]uint32{8, 8, 0}), WithEntryPoint("main"))
	assert.Equal(t, "main", p.EntryPoint())
	assert.Equal(t, [3]uint32{8, 8, 1}, p.WorkgroupSize())
	assert.Equal(t, [3]uint32{64, 2, 3}, p.Workgroups(512, 9, 3))
}

func TestSetHandleReleasesPrevious(t *testing.T) {
	released := 0
	p := NewPipeline("k", WithProgramGeneration(4))
	p.SetHandle("first", func() { released++ })
	p.SetHandle("second", func() { released++ })
	assert.Equal(t, 1, released)
	assert.Equal(t, "second", p.Handle())
	assert.Equal(t, uint64(4), p.ProgramGeneration())

	p.Release()
	assert.Equal(t, 2, released)
	assert.Nil(t, p.Handle())
}
