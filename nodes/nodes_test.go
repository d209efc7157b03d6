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

package nodes_test

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/vkgraph/vkgraph/contexts/hostcpu"
	"github.com/vkgraph/vkgraph/graph"
	"github.com/vkgraph/vkgraph/nodes"
)

func newTestGraph(t *testing.T) *graph.ComputeGraph {
	g := graph.New(graph.Config{Context: "cpu:"})
	t.Cleanup(g.Finalize)
	return g
}

// run encodes and executes the graph, staging flat in and the result out.
func run(t *testing.T, g *graph.ComputeGraph, inputs map[graph.ValueRef]any, out graph.ValueRef, result any) {
	require.NoError(t, g.Encode())
	for ref, flat := range inputs {
		require.NoError(t, g.CopyIntoInput(ref, flat))
	}
	require.NoError(t, g.Execute())
	require.NoError(t, g.CopyFromOutput(out, result))
}

func TestConstructorValidation(t *testing.T) {
	g := newTestGraph(t)
	a, err := g.AddInputTensor(dtypes.Float32, 4)
	require.NoError(t, err)
	b, err := g.AddInputTensor(dtypes.Float32, 2, 2)
	require.NoError(t, err)
	other, err := g.AddInputTensor(dtypes.Float64, 4)
	require.NoError(t, err)
	scalar := g.AddScalarFloat(2)
	intScalar := g.AddScalarInt(2)

	// Same element count is not enough: dimensions and dtype must agree.
	require.Panics(t, func() { nodes.Copy(g, a, b) })
	require.Panics(t, func() { nodes.Neg(g, a, other) })
	require.Panics(t, func() { nodes.Add(g, a, a, b) })

	// Scalar handles where tensors are expected, and vice versa.
	require.Panics(t, func() { nodes.Neg(g, scalar, a) })
	require.Panics(t, func() { nodes.Scale(g, a, intScalar, a) })
	require.Panics(t, func() { nodes.Scale(g, a, b, a) })

	// A nil node is rejected outright.
	require.Panics(t, func() { g.AddNode(nil) })
}

func TestAddAndMul(t *testing.T) {
	g := newTestGraph(t)
	lhs, err := g.AddInputTensor(dtypes.Int32, 4)
	require.NoError(t, err)
	rhs, err := g.AddInputTensor(dtypes.Int32, 4)
	require.NoError(t, err)
	sum, err := g.AddOutputTensor(dtypes.Int32, 4)
	require.NoError(t, err)
	product, err := g.AddOutputTensor(dtypes.Int32, 4)
	require.NoError(t, err)
	g.AddNode(nodes.Add(g, lhs, rhs, sum))
	g.AddNode(nodes.Mul(g, lhs, rhs, product))

	require.NoError(t, g.Encode())
	require.NoError(t, g.CopyIntoInput(lhs, []int32{1, -2, 3, -4}))
	require.NoError(t, g.CopyIntoInput(rhs, []int32{10, 20, 30, 40}))
	require.NoError(t, g.Execute())

	got := make([]int32, 4)
	require.NoError(t, g.CopyFromOutput(sum, got))
	assert.Equal(t, []int32{11, 18, 33, 36}, got)
	require.NoError(t, g.CopyFromOutput(product, got))
	assert.Equal(t, []int32{10, -40, 90, -160}, got)
}

func TestScale(t *testing.T) {
	g := newTestGraph(t)
	in, err := g.AddInputTensor(dtypes.Float64, 3)
	require.NoError(t, err)
	factor := g.AddScalarFloat(-0.5)
	out, err := g.AddOutputTensor(dtypes.Float64, 3)
	require.NoError(t, err)
	g.AddNode(nodes.Scale(g, in, factor, out))

	got := make([]float64, 3)
	run(t, g, map[graph.ValueRef]any{in: []float64{2, 4, 8}}, out, got)
	assert.Equal(t, []float64{-1, -2, -4}, got)
}

func TestChainedNodes(t *testing.T) {
	// out = -(in + in) * 2, through intermediate tensors without staging.
	g := newTestGraph(t)
	in := must.M1(g.AddInputTensor(dtypes.Float32, 4))
	doubled := must.M1(g.AddTensor(dtypes.Float32, 4))
	negated := must.M1(g.AddTensor(dtypes.Float32, 4))
	factor := g.AddScalarFloat(2)
	out := must.M1(g.AddOutputTensor(dtypes.Float32, 4))

	g.AddNode(nodes.Add(g, in, in, doubled))
	g.AddNode(nodes.Neg(g, doubled, negated))
	g.AddNode(nodes.Scale(g, negated, factor, out))

	got := make([]float32, 4)
	run(t, g, map[graph.ValueRef]any{in: []float32{1, 2, 3, 4}}, out, got)
	assert.Equal(t, []float32{-4, -8, -12, -16}, got)
}

func TestNodeInputsOutputs(t *testing.T) {
	g := newTestGraph(t)
	lhs := must.M1(g.AddInputTensor(dtypes.Float32, 2))
	rhs := must.M1(g.AddInputTensor(dtypes.Float32, 2))
	out := must.M1(g.AddOutputTensor(dtypes.Float32, 2))

	node := nodes.Add(g, lhs, rhs, out)
	assert.Equal(t, []graph.ValueRef{lhs, rhs}, node.Inputs())
	assert.Equal(t, []graph.ValueRef{out}, node.Outputs())
}
