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

// Package graph is the core package for vkgraph: a compute-graph engine for
// hardware accelerators. A ComputeGraph holds a table of typed values
// (tensors and scalars) addressed by opaque ValueRef handles, and an ordered
// list of operation nodes referencing those values. Once built, the graph is
// encoded into the execution context's command stream and the stream is
// submitted to the hardware queue -- repeatedly, without re-issuing commands.
//
// The main elements in the package are:
//
//   - ComputeGraph: owns all values and nodes, plus exactly one execution
//     context (see package contexts) for its whole lifetime. It is built with
//     AddInputTensor/AddOutputTensor/AddNode, run with Encode then Execute,
//     and fed through CopyIntoInput/CopyFromOutput.
//
//   - Value: a tagged variant over tensors and scalars, addressed by ValueRef.
//
//   - OpNode: a unit of work that knows how to translate its input/output
//     references into hardware commands. Concrete nodes come from an operator
//     library; see package nodes for a minimal one.
//
// A typical lifecycle:
//
//	g := graph.New(graph.Config{})
//	defer g.Finalize()
//	in := must.M1(g.AddInputTensor(dtypes.Float32, 4))
//	out := must.M1(g.AddOutputTensor(dtypes.Float32, 4))
//	g.AddNode(nodes.Neg(g, in, out))
//	must.M(g.Encode())
//	must.M(g.CopyIntoInput(in, []float32{1, 2, 3, 4}))
//	must.M(g.Execute())
//	result := make([]float32, 4)
//	must.M(g.CopyFromOutput(out, result))
//
// ## Error handling
//
// Usage errors -- out-of-range handles, executing before encoding, staging
// through a value that is not a registered input/output, using a finalized
// graph -- panic with a stack trace (see github.com/gomlx/exceptions).
// Resource errors -- device allocation, host/device copies, queue submission,
// and op-node contract violations surfaced during encoding -- are returned as
// errors; the graph remains structurally valid and the call can be retried or
// the graph abandoned.
//
// ## Concurrency
//
// A ComputeGraph is not safe for concurrent use: building and encoding are
// single-threaded by contract, and callers must serialize all access to one
// graph instance. All synchronization with the hardware is delegated to the
// owned execution context; Execute is the only call that blocks on it.
package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/vkgraph/vkgraph/contexts"
	"github.com/vkgraph/vkgraph/types/shapes"
)

// Config bundles the options a ComputeGraph is constructed with.
//
// The graph itself only reads Context to pick the execution-context
// constructor; everything after the ":" is forwarded opaquely to it
// (queue selection, pool sizing and whatever else the context recognizes).
type Config struct {
	// Context selects and configures the execution context, in the
	// "<name>:<config>" format of contexts.NewWithConfig. Empty selects the
	// process default (VKGRAPH_CONTEXT, contexts.DefaultConfig, or the first
	// registered context, in that order).
	Context string
}

// phase of the encode/execute state machine.
type phase int

const (
	phaseBuilding phase = iota
	phaseEncoded
	phaseExecuted
)

// ComputeGraph owns a value table, an ordered node list and one execution
// context, and drives the encode-then-execute protocol. See the package
// documentation for the lifecycle.
//
// A ComputeGraph must not be copied; ownership of the context is exclusive
// and transferable only through Detach.
type ComputeGraph struct {
	config  Config
	context contexts.Context

	values []*Value
	nodes  []OpNode

	// inputs and outputs list the value slots designated as host staging
	// points, in registration order.
	inputs, outputs []ValueRef

	phase     phase
	finalized bool
}

// New constructs a ComputeGraph from the given configuration, creating the
// execution context the graph will exclusively own. It panics if the
// configured context name is not registered.
func New(config Config) *ComputeGraph {
	var context contexts.Context
	if config.Context == "" {
		context = contexts.New()
	} else {
		context = contexts.NewWithConfig(config.Context)
	}
	return &ComputeGraph{
		config:  config,
		context: context,
	}
}

// AssertValid panics if the graph is nil or was finalized.
func (g *ComputeGraph) AssertValid() {
	if g == nil {
		exceptions.Panicf("ComputeGraph is nil")
	}
	if g.finalized {
		exceptions.Panicf("ComputeGraph used after Finalize or Detach")
	}
}

// Context returns the execution context owned by the graph. The caller may
// not finalize it or share it with another graph.
func (g *ComputeGraph) Context() contexts.Context {
	g.AssertValid()
	return g.context
}

// Config the graph was constructed with.
func (g *ComputeGraph) Config() Config { return g.config }

//
// Accessors
//

// Value resolves a ValueRef to the Value it addresses. An out-of-range handle
// is a programming error and panics.
func (g *ComputeGraph) Value(ref ValueRef) *Value {
	g.AssertValid()
	if ref < 0 || int(ref) >= len(g.values) {
		exceptions.Panicf("invalid ValueRef %d: value table has %d entries", ref, len(g.values))
	}
	return g.values[ref]
}

// NumValues returns the number of values in the graph's value table.
func (g *ComputeGraph) NumValues() int { return len(g.values) }

// NumNodes returns the number of operation nodes added so far.
func (g *ComputeGraph) NumNodes() int { return len(g.nodes) }

// Inputs returns a copy of the graph-input handle list, in registration order.
func (g *ComputeGraph) Inputs() []ValueRef { return slices.Clone(g.inputs) }

// Outputs returns a copy of the graph-output handle list, in registration order.
func (g *ComputeGraph) Outputs() []ValueRef { return slices.Clone(g.outputs) }

//
// Graph Building
//

// addValue appends a value to the table and returns its handle.
func (g *ComputeGraph) addValue(value *Value) ValueRef {
	ref := ValueRef(len(g.values))
	g.values = append(g.values, value)
	g.phase = phaseBuilding
	return ref
}

// addTensorValue allocates device storage (and optionally a staging buffer)
// for a new tensor value. On allocation failure the graph is left unchanged.
func (g *ComputeGraph) addTensorValue(dtype dtypes.DType, sizes []int, withStaging bool) (ValueRef, error) {
	g.AssertValid()
	shape := shapes.Make(dtype, sizes...)
	device, err := g.context.AllocateBuffer(shape)
	if err != nil {
		return InvalidValueRef, errors.WithMessagef(err, "allocating device storage for tensor %s", shape)
	}
	tensor := &Tensor{shape: shape, device: device}
	if withStaging {
		tensor.staging, err = g.context.AllocateBuffer(shape)
		if err != nil {
			_ = g.context.BufferFinalize(device)
			return InvalidValueRef, errors.WithMessagef(err, "allocating staging storage for tensor %s", shape)
		}
	}
	return g.addValue(&Value{kind: KindTensor, tensor: tensor}), nil
}

// AddInputTensor allocates a new tensor value with the given dtype and
// dimensions, registers it as a graph input and returns its handle.
// Device allocation failure is returned as an error, leaving the graph
// unchanged; invalid sizes or dtype panic.
func (g *ComputeGraph) AddInputTensor(dtype dtypes.DType, sizes ...int) (ValueRef, error) {
	ref, err := g.addTensorValue(dtype, sizes, true)
	if err != nil {
		return InvalidValueRef, err
	}
	g.inputs = append(g.inputs, ref)
	return ref, nil
}

// AddOutputTensor is identical to AddInputTensor, but registers the new
// tensor as a graph output instead.
func (g *ComputeGraph) AddOutputTensor(dtype dtypes.DType, sizes ...int) (ValueRef, error) {
	ref, err := g.addTensorValue(dtype, sizes, true)
	if err != nil {
		return InvalidValueRef, err
	}
	g.outputs = append(g.outputs, ref)
	return ref, nil
}

// AddTensor allocates an intermediate tensor value: device storage only, not
// registered for host staging.
func (g *ComputeGraph) AddTensor(dtype dtypes.DType, sizes ...int) (ValueRef, error) {
	return g.addTensorValue(dtype, sizes, false)
}

// AddScalarInt appends an int scalar value and returns its handle.
func (g *ComputeGraph) AddScalarInt(value int64) ValueRef {
	g.AssertValid()
	return g.addValue(&Value{kind: KindInt, scalarInt: value})
}

// AddScalarFloat appends a float scalar value and returns its handle.
func (g *ComputeGraph) AddScalarFloat(value float64) ValueRef {
	g.AssertValid()
	return g.addValue(&Value{kind: KindFloat, scalarFloat: value})
}

// AddScalarBool appends a bool scalar value and returns its handle.
func (g *ComputeGraph) AddScalarBool(value bool) ValueRef {
	g.AssertValid()
	return g.addValue(&Value{kind: KindBool, scalarBool: value})
}

// AddNode transfers ownership of a fully-constructed node into the graph,
// appended at the end of the node list. Nodes are encoded strictly in the
// order they were added; the caller is responsible for add order respecting
// data dependencies (producer before consumer).
//
// Adding a node after Encode drops the graph back to the building phase: the
// previously encoded stream is stale and a new Encode is required before the
// next Execute.
func (g *ComputeGraph) AddNode(node OpNode) {
	g.AssertValid()
	if node == nil {
		exceptions.Panicf("AddNode: node is nil")
	}
	for _, ref := range node.Inputs() {
		_ = g.Value(ref) // Range-checks; panics on an invalid handle.
	}
	for _, ref := range node.Outputs() {
		_ = g.Value(ref)
	}
	g.nodes = append(g.nodes, node)
	g.phase = phaseBuilding
}

//
// Graph Execution
//

// Encode translates the node list into the context's command stream: staging
// uploads for the graph inputs, then each node in add order, then staging
// downloads for the graph outputs. It always re-derives the whole stream --
// there is no incremental encode.
//
// On failure the partially recorded stream is discarded and the graph drops
// back to the building phase; the node list is untouched.
func (g *ComputeGraph) Encode() error {
	g.AssertValid()
	g.context.ResetStream()
	err := g.encode()
	if err != nil {
		g.context.ResetStream()
		g.phase = phaseBuilding
		return err
	}
	g.phase = phaseEncoded
	return nil
}

func (g *ComputeGraph) encode() error {
	for _, ref := range g.inputs {
		tensor := g.Value(ref).Tensor()
		err := g.context.Record(&contexts.CopyCommand{Src: tensor.staging, Dst: tensor.device})
		if err != nil {
			return errors.WithMessagef(err, "recording staging upload for input %d", ref)
		}
	}
	for ii, node := range g.nodes {
		if err := node.Encode(g); err != nil {
			return errors.WithMessagef(err, "encoding node #%d", ii)
		}
	}
	for _, ref := range g.outputs {
		tensor := g.Value(ref).Tensor()
		err := g.context.Record(&contexts.CopyCommand{Src: tensor.device, Dst: tensor.staging})
		if err != nil {
			return errors.WithMessagef(err, "recording staging download for output %d", ref)
		}
	}
	return nil
}

// Execute submits the encoded command stream to the context's hardware queue
// and blocks until the work is fenced. Calling Execute before Encode is a
// usage error and panics. Submission failure is returned as an error and
// leaves the stream encoded, so the caller may retry.
//
// The stream stays valid: Execute may be called repeatedly without
// re-encoding.
func (g *ComputeGraph) Execute() error {
	g.AssertValid()
	if g.phase < phaseEncoded {
		exceptions.Panicf("ComputeGraph.Execute() called before Encode()")
	}
	if err := g.context.Submit(); err != nil {
		return errors.WithMessage(err, "executing graph")
	}
	g.phase = phaseExecuted
	return nil
}

//
// Input/Output
//

// CopyIntoInput copies host data into the staging storage of a registered
// graph input. The flat slice must be of the Go type matching the tensor's
// dtype with exactly one element per tensor element. It must be called before
// Execute for the data to be visible to that execution.
//
// A handle not registered through AddInputTensor is a usage error and panics.
func (g *ComputeGraph) CopyIntoInput(ref ValueRef, flat any) error {
	g.AssertValid()
	if !slices.Contains(g.inputs, ref) {
		exceptions.Panicf("CopyIntoInput: ValueRef %d is not a registered graph input", ref)
	}
	tensor := g.Value(ref).Tensor()
	err := g.context.CopyToDevice(tensor.staging, flat)
	return errors.WithMessagef(err, "staging data into input %d", ref)
}

// CopyFromOutput copies the staging storage of a registered graph output into
// host data, under the same flat-slice requirements as CopyIntoInput. Valid
// results are observable only after Execute returned.
//
// A handle not registered through AddOutputTensor is a usage error and panics.
func (g *ComputeGraph) CopyFromOutput(ref ValueRef, flat any) error {
	g.AssertValid()
	if !slices.Contains(g.outputs, ref) {
		exceptions.Panicf("CopyFromOutput: ValueRef %d is not a registered graph output", ref)
	}
	tensor := g.Value(ref).Tensor()
	err := g.context.CopyFromDevice(tensor.staging, flat)
	return errors.WithMessagef(err, "reading data from output %d", ref)
}

//
// Lifecycle
//

// Finalize releases the values, the nodes and the execution context as one
// unit and leaves the graph unusable: any further call panics. It is
// idempotent.
func (g *ComputeGraph) Finalize() {
	if g == nil || g.finalized {
		return
	}
	for _, value := range g.values {
		if !value.IsTensor() {
			continue
		}
		tensor := value.tensor
		_ = g.context.BufferFinalize(tensor.device)
		if tensor.staging != nil {
			_ = g.context.BufferFinalize(tensor.staging)
		}
	}
	g.values = nil
	g.nodes = nil
	g.inputs = nil
	g.outputs = nil
	g.context.Finalize()
	g.context = nil
	g.finalized = true
}

// Detach transfers the execution context out of the graph -- the move
// analogue: exclusive ownership passes to the caller, exactly once, and the
// graph shell is left finalized and unusable. The context's buffers stay
// allocated; releasing them becomes the new owner's responsibility.
func (g *ComputeGraph) Detach() contexts.Context {
	g.AssertValid()
	context := g.context
	g.context = nil
	g.values = nil
	g.nodes = nil
	g.inputs = nil
	g.outputs = nil
	g.finalized = true
	return context
}

// String converts the graph to a multi-line string, for debugging.
func (g *ComputeGraph) String() string {
	if g == nil || g.finalized {
		return "ComputeGraph: finalized"
	}
	parts := []string{fmt.Sprintf("ComputeGraph: %d values, %d nodes, %d inputs, %d outputs",
		len(g.values), len(g.nodes), len(g.inputs), len(g.outputs))}
	for ii, value := range g.values {
		parts = append(parts, fmt.Sprintf("#%d\t%s", ii, value))
	}
	return strings.Join(parts, "\n")
}
