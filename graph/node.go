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

package graph

import "slices"

// OpNode is one unit of work in a ComputeGraph: a fixed list of input and
// output value references, plus the capability of appending the hardware
// commands that produce its outputs from its inputs to the graph's command
// stream.
//
// Concrete nodes are provided by an operator library (see package nodes for a
// minimal one). There is deliberately no default Encode: a node type that
// doesn't implement it isn't an OpNode.
type OpNode interface {
	// Inputs are the value references the node reads. Fixed at construction.
	Inputs() []ValueRef

	// Outputs are the value references the node writes. Fixed at construction.
	Outputs() []ValueRef

	// Encode resolves the node's references through graph.Value() and appends
	// the commands for one dispatch (or a small bounded number of them) to the
	// context's command stream.
	//
	// Nodes must not retain pointers obtained from the value table across
	// calls: only the ValueRef handles are stable.
	Encode(graph *ComputeGraph) error
}

// NodeBase holds the input/output reference lists of an OpNode, for embedding
// in concrete node types. It intentionally does not implement Encode.
type NodeBase struct {
	inputs, outputs []ValueRef
}

// MakeNodeBase returns a NodeBase with copies of the given reference lists.
func MakeNodeBase(inputs, outputs []ValueRef) NodeBase {
	return NodeBase{inputs: slices.Clone(inputs), outputs: slices.Clone(outputs)}
}

// Inputs are the value references the node reads.
func (n *NodeBase) Inputs() []ValueRef { return n.inputs }

// Outputs are the value references the node writes.
func (n *NodeBase) Outputs() []ValueRef { return n.outputs }
