package contexts

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkgraph/vkgraph/types/shapes"
)

type nullContext struct{ config string }

func (c *nullContext) Name() string        { return "null" }
func (c *nullContext) Description() string { return "discards everything" }
func (c *nullContext) AllocateBuffer(shape shapes.Shape) (Buffer, error) { return nil, nil }
func (c *nullContext) BufferShape(buffer Buffer) (shapes.Shape, error) {
	return shapes.Invalid(), nil
}
func (c *nullContext) BufferFinalize(buffer Buffer) error           { return nil }
func (c *nullContext) CopyToDevice(buffer Buffer, flat any) error   { return nil }
func (c *nullContext) CopyFromDevice(buffer Buffer, flat any) error { return nil }
func (c *nullContext) ResetStream()                                 {}
func (c *nullContext) Record(cmd Command) error                     { return nil }
func (c *nullContext) Submit() error                                { return nil }
func (c *nullContext) Finalize()                                    {}

func TestRegistryAndConfig(t *testing.T) {
	Register("null", func(config string) Context { return &nullContext{config: config} })

	c := NewWithConfig("null:opt1,opt2")
	require.Equal(t, "null", c.Name())
	assert.Equal(t, "opt1,opt2", c.(*nullContext).config)

	// Everything after the first ":" is opaque to the registry.
	c = NewWithConfig("null:a:b")
	assert.Equal(t, "a:b", c.(*nullContext).config)

	require.Panics(t, func() { NewWithConfig("no_such_context:") })
}

func TestWorkgroupsFor(t *testing.T) {
	assert.Equal(t, [3]uint32{1, 1, 1}, WorkgroupsFor(shapes.Make(dtypes.Float32, 1)))
	assert.Equal(t, [3]uint32{1, 1, 1}, WorkgroupsFor(shapes.Make(dtypes.Float32, 64)))
	assert.Equal(t, [3]uint32{2, 1, 1}, WorkgroupsFor(shapes.Make(dtypes.Float32, 65)))
	assert.Equal(t, [3]uint32{4, 1, 1}, WorkgroupsFor(shapes.Make(dtypes.Float32, 16, 16)))
}

func TestCommandStrings(t *testing.T) {
	dispatch := &Dispatch{Kernel: "neg", Buffers: make([]Buffer, 2), Groups: [3]uint32{2, 1, 1}}
	assert.Equal(t, `Dispatch{kernel="neg", buffers=2, groups=[2 1 1]}`, dispatch.String())
	dispatch.Push = []float64{0.5}
	assert.Contains(t, dispatch.String(), "push=[0.5]")
	assert.Equal(t, "Copy{}", (&CopyCommand{}).String())
}
