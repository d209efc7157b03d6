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

// Package nodes provides a minimal operator library for vkgraph compute
// graphs: whole-tensor copy, elementwise negation, addition, multiplication
// and scaling by a scalar.
//
// Node constructors validate their value references against the graph --
// tensor-ness, dtype and shape agreement -- and panic on violations, so that
// a malformed node can never be added to a graph. Encode itself only fails on
// resource errors from the context.
package nodes

import (
	"github.com/gomlx/exceptions"

	"github.com/vkgraph/vkgraph/contexts"
	"github.com/vkgraph/vkgraph/graph"
)

// tensorOf resolves ref and checks it holds a tensor. Panics otherwise.
func tensorOf(g *graph.ComputeGraph, ref graph.ValueRef) *graph.Tensor {
	return g.Value(ref).Tensor()
}

// assertSameShape panics unless all tensors share one shape (dtype included).
func assertSameShape(op string, tensors ...*graph.Tensor) {
	shape := tensors[0].Shape()
	for _, tensor := range tensors[1:] {
		if !tensor.Shape().Equal(shape) {
			exceptions.Panicf("nodes.%s: mismatching tensor shapes %s and %s", op, shape, tensor.Shape())
		}
	}
}

// CopyNode copies its input tensor into its output tensor unchanged.
type CopyNode struct {
	graph.NodeBase
}

// Copy returns a node copying the tensor at from into the tensor at to.
// Both must be tensors of the same shape.
func Copy(g *graph.ComputeGraph, from, to graph.ValueRef) *CopyNode {
	assertSameShape("Copy", tensorOf(g, from), tensorOf(g, to))
	return &CopyNode{NodeBase: graph.MakeNodeBase([]graph.ValueRef{from}, []graph.ValueRef{to})}
}

// Encode implements graph.OpNode.
func (n *CopyNode) Encode(g *graph.ComputeGraph) error {
	from := g.Value(n.Inputs()[0]).Tensor()
	to := g.Value(n.Outputs()[0]).Tensor()
	return g.Context().Record(&contexts.CopyCommand{Src: from.Device(), Dst: to.Device()})
}

// NegNode computes elementwise negation.
type NegNode struct {
	graph.NodeBase
}

// Neg returns a node computing the elementwise negation of the tensor at in
// into the tensor at out. Both must be tensors of the same shape.
func Neg(g *graph.ComputeGraph, in, out graph.ValueRef) *NegNode {
	assertSameShape("Neg", tensorOf(g, in), tensorOf(g, out))
	return &NegNode{NodeBase: graph.MakeNodeBase([]graph.ValueRef{in}, []graph.ValueRef{out})}
}

// Encode implements graph.OpNode.
func (n *NegNode) Encode(g *graph.ComputeGraph) error {
	in := g.Value(n.Inputs()[0]).Tensor()
	out := g.Value(n.Outputs()[0]).Tensor()
	return g.Context().Record(&contexts.Dispatch{
		Kernel:  "neg",
		Buffers: []contexts.Buffer{in.Device(), out.Device()},
		Groups:  contexts.WorkgroupsFor(out.Shape()),
	})
}

// binaryNode dispatches one of the built-in elementwise binary kernels.
type binaryNode struct {
	graph.NodeBase
	kernel string
}

func newBinaryNode(g *graph.ComputeGraph, kernel string, opName string, lhs, rhs, out graph.ValueRef) *binaryNode {
	assertSameShape(opName, tensorOf(g, lhs), tensorOf(g, rhs), tensorOf(g, out))
	return &binaryNode{
		NodeBase: graph.MakeNodeBase([]graph.ValueRef{lhs, rhs}, []graph.ValueRef{out}),
		kernel:   kernel,
	}
}

// Encode implements graph.OpNode.
func (n *binaryNode) Encode(g *graph.ComputeGraph) error {
	lhs := g.Value(n.Inputs()[0]).Tensor()
	rhs := g.Value(n.Inputs()[1]).Tensor()
	out := g.Value(n.Outputs()[0]).Tensor()
	return g.Context().Record(&contexts.Dispatch{
		Kernel:  n.kernel,
		Buffers: []contexts.Buffer{lhs.Device(), rhs.Device(), out.Device()},
		Groups:  contexts.WorkgroupsFor(out.Shape()),
	})
}

// Add returns a node computing the elementwise sum of the tensors at lhs and
// rhs into the tensor at out. All three must share one shape.
func Add(g *graph.ComputeGraph, lhs, rhs, out graph.ValueRef) graph.OpNode {
	return newBinaryNode(g, "add", "Add", lhs, rhs, out)
}

// Mul returns a node computing the elementwise product of the tensors at lhs
// and rhs into the tensor at out. All three must share one shape.
func Mul(g *graph.ComputeGraph, lhs, rhs, out graph.ValueRef) graph.OpNode {
	return newBinaryNode(g, "mul", "Mul", lhs, rhs, out)
}

// ScaleNode multiplies a tensor elementwise by a scalar graph value, passed
// to the kernel as a push constant.
type ScaleNode struct {
	graph.NodeBase
}

// Scale returns a node computing out = in * factor, where factor is the
// handle of a Float scalar value in the graph. The tensors must share one
// shape.
func Scale(g *graph.ComputeGraph, in, factor, out graph.ValueRef) *ScaleNode {
	assertSameShape("Scale", tensorOf(g, in), tensorOf(g, out))
	if g.Value(factor).Kind() != graph.KindFloat {
		exceptions.Panicf("nodes.Scale: factor (ValueRef %d) must be a Float scalar value, got %s", factor, g.Value(factor).Kind())
	}
	return &ScaleNode{NodeBase: graph.MakeNodeBase([]graph.ValueRef{in, factor}, []graph.ValueRef{out})}
}

// Encode implements graph.OpNode.
func (n *ScaleNode) Encode(g *graph.ComputeGraph) error {
	in := g.Value(n.Inputs()[0]).Tensor()
	factor := g.Value(n.Inputs()[1]).Float()
	out := g.Value(n.Outputs()[0]).Tensor()
	return g.Context().Record(&contexts.Dispatch{
		Kernel:  "scale",
		Buffers: []contexts.Buffer{in.Device(), out.Device()},
		Push:    []float64{factor},
		Groups:  contexts.WorkgroupsFor(out.Shape()),
	})
}
