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

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/vkgraph/vkgraph/contexts"
	"github.com/vkgraph/vkgraph/types/shapes"
)

// ValueRef is an opaque handle identifying a Value within one ComputeGraph:
// an index into the graph's value table. Handles are assigned monotonically
// and never reused for the graph's lifetime; they are the only way nodes and
// callers address values -- no pointers into the value table are stable
// across the build phase.
type ValueRef int32

// InvalidValueRef represents an invalid (or non-existent) value handle.
const InvalidValueRef = ValueRef(-1)

// ValueKind tags the variant held by a Value.
type ValueKind uint8

const (
	KindNone ValueKind = iota
	KindTensor
	KindInt
	KindFloat
	KindBool
)

// String implements fmt.Stringer.
func (k ValueKind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindTensor:
		return "Tensor"
	case KindInt:
		return "Int"
	case KindFloat:
		return "Float"
	case KindBool:
		return "Bool"
	}
	return fmt.Sprintf("ValueKind(%d)", k)
}

// Value is a tagged variant over the types a ComputeGraph can hold: a tensor
// or a scalar (int, float or bool). Values are created only through the
// graph-building calls and live for the graph's entire lifetime.
//
// Accessing the wrong variant (e.g. Tensor() on an Int value) is a
// programming error and panics.
type Value struct {
	kind ValueKind

	tensor *Tensor

	scalarInt   int64
	scalarFloat float64
	scalarBool  bool
}

// Kind returns the variant tag of the value.
func (v *Value) Kind() ValueKind { return v.kind }

// IsTensor returns whether the value holds a tensor.
func (v *Value) IsTensor() bool { return v.kind == KindTensor }

// IsScalar returns whether the value holds one of the scalar variants.
func (v *Value) IsScalar() bool {
	return v.kind == KindInt || v.kind == KindFloat || v.kind == KindBool
}

// Tensor returns the tensor held by the value. It panics if the value holds
// a different variant.
func (v *Value) Tensor() *Tensor {
	if v.kind != KindTensor {
		exceptions.Panicf("Value holds a %s, not a Tensor", v.kind)
	}
	return v.tensor
}

// Int returns the int scalar held by the value, panicking on a different variant.
func (v *Value) Int() int64 {
	if v.kind != KindInt {
		exceptions.Panicf("Value holds a %s, not an Int", v.kind)
	}
	return v.scalarInt
}

// Float returns the float scalar held by the value, panicking on a different variant.
func (v *Value) Float() float64 {
	if v.kind != KindFloat {
		exceptions.Panicf("Value holds a %s, not a Float", v.kind)
	}
	return v.scalarFloat
}

// Bool returns the bool scalar held by the value, panicking on a different variant.
func (v *Value) Bool() bool {
	if v.kind != KindBool {
		exceptions.Panicf("Value holds a %s, not a Bool", v.kind)
	}
	return v.scalarBool
}

// String implements fmt.Stringer.
func (v *Value) String() string {
	switch v.kind {
	case KindTensor:
		return fmt.Sprintf("Tensor%s", v.tensor.Shape())
	case KindInt:
		return fmt.Sprintf("Int(%d)", v.scalarInt)
	case KindFloat:
		return fmt.Sprintf("Float(%g)", v.scalarFloat)
	case KindBool:
		return fmt.Sprintf("Bool(%v)", v.scalarBool)
	}
	return "None"
}

// Tensor is a device-resident tensor value: a shape plus the opaque device
// buffer backing it. Tensors registered as graph inputs or outputs also carry
// a staging buffer used for host transfers.
//
// The memory layout of the device buffer is owned by the execution context;
// the graph only tracks the handle.
type Tensor struct {
	shape   shapes.Shape
	device  contexts.Buffer
	staging contexts.Buffer // nil for intermediate tensors
}

// Shape of the tensor. Tensor implements shapes.HasShape.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor's elements.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Device returns the device buffer backing the tensor, for binding to
// dispatch commands.
func (t *Tensor) Device() contexts.Buffer { return t.device }

// HasStaging returns whether the tensor carries a staging buffer, which is
// the case exactly for graph input and output tensors.
func (t *Tensor) HasStaging() bool { return t.staging != nil }
