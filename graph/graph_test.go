/*
 *	Copyright 2024 The vkgraph Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package graph_test

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkgraph/vkgraph/contexts"
	_ "github.com/vkgraph/vkgraph/contexts/hostcpu"
	"github.com/vkgraph/vkgraph/graph"
	"github.com/vkgraph/vkgraph/nodes"
	"github.com/vkgraph/vkgraph/types/shapes"
)

// recContext is a stub execution context that only records: it lets the tests
// observe the exact command stream an Encode produces, without running anything.
type recContext struct {
	commands    []contexts.Command
	submissions int
	finalized   bool
}

type recBuffer struct {
	shape shapes.Shape
}

func init() {
	contexts.Register("rec", func(config string) contexts.Context { return &recContext{} })
}

func (c *recContext) Name() string        { return "rec" }
func (c *recContext) Description() string { return "recording stub context" }

func (c *recContext) AllocateBuffer(shape shapes.Shape) (contexts.Buffer, error) {
	return &recBuffer{shape: shape}, nil
}

func (c *recContext) BufferShape(buffer contexts.Buffer) (shapes.Shape, error) {
	b, ok := buffer.(*recBuffer)
	if !ok {
		return shapes.Invalid(), errors.Errorf("not a rec buffer")
	}
	return b.shape, nil
}

func (c *recContext) BufferFinalize(buffer contexts.Buffer) error { return nil }
func (c *recContext) CopyToDevice(buffer contexts.Buffer, flat any) error {
	return nil
}
func (c *recContext) CopyFromDevice(buffer contexts.Buffer, flat any) error {
	return nil
}

func (c *recContext) ResetStream() { c.commands = c.commands[:0] }
func (c *recContext) Record(cmd contexts.Command) error {
	c.commands = append(c.commands, cmd)
	return nil
}
func (c *recContext) Submit() error {
	c.submissions++
	return nil
}
func (c *recContext) Finalize() { c.finalized = true }

func TestValueTable(t *testing.T) {
	g := graph.New(graph.Config{Context: "cpu:"})
	defer g.Finalize()

	// Handles are assigned in add order, starting at zero.
	refInt := g.AddScalarInt(42)
	refFloat := g.AddScalarFloat(0.5)
	refBool := g.AddScalarBool(true)
	refTensor, err := g.AddInputTensor(dtypes.Float32, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, graph.ValueRef(0), refInt)
	assert.Equal(t, graph.ValueRef(1), refFloat)
	assert.Equal(t, graph.ValueRef(2), refBool)
	assert.Equal(t, graph.ValueRef(3), refTensor)
	assert.Equal(t, 4, g.NumValues())

	assert.Equal(t, int64(42), g.Value(refInt).Int())
	assert.Equal(t, 0.5, g.Value(refFloat).Float())
	assert.Equal(t, true, g.Value(refBool).Bool())
	tensor := g.Value(refTensor).Tensor()
	assert.True(t, tensor.Shape().Equal(shapes.Make(dtypes.Float32, 2, 3)))
	assert.Equal(t, []graph.ValueRef{refTensor}, g.Inputs())

	// Wrong-variant access and out-of-range handles panic.
	require.Panics(t, func() { g.Value(refInt).Tensor() })
	require.Panics(t, func() { g.Value(refTensor).Float() })
	require.Panics(t, func() { g.Value(99) })
	require.Panics(t, func() { g.Value(graph.InvalidValueRef) })
}

func TestEncodeOrder(t *testing.T) {
	g := graph.New(graph.Config{Context: "rec:"})
	defer g.Finalize()
	rec := g.Context().(*recContext)

	in, err := g.AddInputTensor(dtypes.Float32, 4)
	require.NoError(t, err)
	tmp, err := g.AddTensor(dtypes.Float32, 4)
	require.NoError(t, err)
	out, err := g.AddOutputTensor(dtypes.Float32, 4)
	require.NoError(t, err)
	g.AddNode(nodes.Neg(g, in, tmp))
	g.AddNode(nodes.Copy(g, tmp, out))

	// Expected stream: input upload, the two nodes in add order, output
	// download.
	require.NoError(t, g.Encode())
	require.Len(t, rec.commands, 4)
	assert.IsType(t, &contexts.CopyCommand{}, rec.commands[0])
	dispatch := rec.commands[1].(*contexts.Dispatch)
	assert.Equal(t, "neg", dispatch.Kernel)
	assert.Equal(t, contexts.WorkgroupsFor(shapes.Make(dtypes.Float32, 4)), dispatch.Groups)
	assert.IsType(t, &contexts.CopyCommand{}, rec.commands[2])
	assert.IsType(t, &contexts.CopyCommand{}, rec.commands[3])

	// Encode always re-derives the full stream, never appends to a stale one.
	require.NoError(t, g.Encode())
	require.Len(t, rec.commands, 4)

	// A node added after Encode invalidates the stream until re-encoded.
	g.AddNode(nodes.Neg(g, tmp, out))
	require.Panics(t, func() { _ = g.Execute() })
	require.NoError(t, g.Encode())
	require.Len(t, rec.commands, 5)

	require.NoError(t, g.Execute())
	require.NoError(t, g.Execute())
	assert.Equal(t, 2, rec.submissions)
}

func TestExecuteBeforeEncodePanics(t *testing.T) {
	g := graph.New(graph.Config{Context: "rec:"})
	defer g.Finalize()
	require.Panics(t, func() { _ = g.Execute() })
}

// flakyNode fails its first failures encodes and records nothing.
type flakyNode struct {
	graph.NodeBase
	failures int
}

func (n *flakyNode) Encode(g *graph.ComputeGraph) error {
	if n.failures > 0 {
		n.failures--
		return errors.Errorf("transient encode failure")
	}
	return nil
}

func TestEncodeFailureRecovers(t *testing.T) {
	g := graph.New(graph.Config{Context: "rec:"})
	defer g.Finalize()
	rec := g.Context().(*recContext)

	_, err := g.AddInputTensor(dtypes.Int32, 2)
	require.NoError(t, err)
	g.AddNode(&flakyNode{failures: 1})

	// The failed Encode discards the partial stream and drops the graph back
	// to building.
	err = g.Encode()
	require.ErrorContains(t, err, "encoding node #0")
	assert.Empty(t, rec.commands)
	require.Panics(t, func() { _ = g.Execute() })

	require.NoError(t, g.Encode())
	require.Len(t, rec.commands, 1) // Just the input upload.
	require.NoError(t, g.Execute())
}

func TestCopyRoundTrip(t *testing.T) {
	g := graph.New(graph.Config{Context: "cpu:"})
	defer g.Finalize()

	in, err := g.AddInputTensor(dtypes.Int32, 2, 2)
	require.NoError(t, err)
	out, err := g.AddOutputTensor(dtypes.Int32, 2, 2)
	require.NoError(t, err)
	g.AddNode(nodes.Copy(g, in, out))
	require.NoError(t, g.Encode())

	require.NoError(t, g.CopyIntoInput(in, []int32{1, -2, 3, -4}))
	require.NoError(t, g.Execute())
	got := make([]int32, 4)
	require.NoError(t, g.CopyFromOutput(out, got))
	assert.Equal(t, []int32{1, -2, 3, -4}, got)

	// The encoded stream is reusable: new input data, same commands.
	require.NoError(t, g.CopyIntoInput(in, []int32{5, 6, 7, 8}))
	require.NoError(t, g.Execute())
	require.NoError(t, g.CopyFromOutput(out, got))
	assert.Equal(t, []int32{5, 6, 7, 8}, got)
}

func TestNegGraph(t *testing.T) {
	g := graph.New(graph.Config{Context: "cpu:"})
	defer g.Finalize()

	in, err := g.AddInputTensor(dtypes.Float32, 4)
	require.NoError(t, err)
	out, err := g.AddOutputTensor(dtypes.Float32, 4)
	require.NoError(t, err)
	g.AddNode(nodes.Neg(g, in, out))
	require.NoError(t, g.Encode())
	require.NoError(t, g.CopyIntoInput(in, []float32{1, 2, 3, 4}))
	require.NoError(t, g.Execute())
	got := make([]float32, 4)
	require.NoError(t, g.CopyFromOutput(out, got))
	assert.Equal(t, []float32{-1, -2, -3, -4}, got)
}

func TestStagingMembership(t *testing.T) {
	g := graph.New(graph.Config{Context: "cpu:"})
	defer g.Finalize()

	in, err := g.AddInputTensor(dtypes.Float32, 2)
	require.NoError(t, err)
	tmp, err := g.AddTensor(dtypes.Float32, 2)
	require.NoError(t, err)
	out, err := g.AddOutputTensor(dtypes.Float32, 2)
	require.NoError(t, err)

	// Staging is only valid through registered inputs/outputs, in the right
	// direction.
	require.Panics(t, func() { _ = g.CopyIntoInput(tmp, []float32{1, 2}) })
	require.Panics(t, func() { _ = g.CopyIntoInput(out, []float32{1, 2}) })
	require.Panics(t, func() { _ = g.CopyFromOutput(in, make([]float32, 2)) })
	require.Panics(t, func() { _ = g.CopyFromOutput(tmp, make([]float32, 2)) })
}

func TestAllocationFailure(t *testing.T) {
	// Budget fits exactly one input tensor (device + staging storage).
	g := graph.New(graph.Config{Context: "cpu:maxmem=32"})
	defer g.Finalize()

	first, err := g.AddInputTensor(dtypes.Float32, 4)
	require.NoError(t, err)

	ref, err := g.AddInputTensor(dtypes.Float32, 4)
	require.ErrorContains(t, err, "out of device memory")
	assert.Equal(t, graph.InvalidValueRef, ref)

	// The failed add left no trace: the graph is still fully usable.
	assert.Equal(t, 1, g.NumValues())
	assert.Equal(t, []graph.ValueRef{first}, g.Inputs())
	g.AddNode(nodes.Neg(g, first, first))
	require.NoError(t, g.Encode())
}

func TestFinalize(t *testing.T) {
	g := graph.New(graph.Config{Context: "cpu:"})
	_, err := g.AddInputTensor(dtypes.Float32, 4)
	require.NoError(t, err)

	g.Finalize()
	g.Finalize() // Idempotent.
	require.Panics(t, func() { g.Value(0) })
	require.Panics(t, func() { g.Context() })
	require.Panics(t, func() { _ = g.Encode() })
}

func TestDetach(t *testing.T) {
	g := graph.New(graph.Config{Context: "cpu:"})
	context := g.Detach()
	require.NotNil(t, context)
	defer context.Finalize()

	// The graph shell is dead, the context lives on under the new owner.
	require.Panics(t, func() { g.Context() })
	require.Panics(t, func() { g.Detach() })
	buffer, err := context.AllocateBuffer(shapes.Make(dtypes.Float32, 2))
	require.NoError(t, err)
	require.NoError(t, context.BufferFinalize(buffer))
}
