package hostcpu

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/vkgraph/vkgraph/contexts"
)

func init() {
	RegisterKernel("neg", execNeg)
	RegisterKernel("scale", execScale)
}

// execNeg executes elementwise negation: bindings are [input, output].
func execNeg(c *Context, dispatch *contexts.Dispatch) error {
	buffers, err := c.dispatchBuffers(dispatch, 2)
	if err != nil {
		return err
	}
	if err := checkElementwiseBindings(dispatch, buffers); err != nil {
		return err
	}
	input, output := buffers[0], buffers[1]
	switch input.shape.DType {
	case dtypes.Int8:
		execNegGeneric[int8](input.flat.([]int8), output.flat.([]int8))
	case dtypes.Int16:
		execNegGeneric[int16](input.flat.([]int16), output.flat.([]int16))
	case dtypes.Int32:
		execNegGeneric[int32](input.flat.([]int32), output.flat.([]int32))
	case dtypes.Int64:
		execNegGeneric[int64](input.flat.([]int64), output.flat.([]int64))
	case dtypes.Uint8:
		execNegGeneric[uint8](input.flat.([]uint8), output.flat.([]uint8))
	case dtypes.Uint16:
		execNegGeneric[uint16](input.flat.([]uint16), output.flat.([]uint16))
	case dtypes.Uint32:
		execNegGeneric[uint32](input.flat.([]uint32), output.flat.([]uint32))
	case dtypes.Uint64:
		execNegGeneric[uint64](input.flat.([]uint64), output.flat.([]uint64))
	case dtypes.Float32:
		execNegGeneric[float32](input.flat.([]float32), output.flat.([]float32))
	case dtypes.Float64:
		execNegGeneric[float64](input.flat.([]float64), output.flat.([]float64))
	case dtypes.Float16:
		execNegF16(input, output)
	case dtypes.BFloat16:
		execNegBF16(input, output)
	default:
		return errors.Errorf("unsupported dtype %s for kernel %q", input.shape.DType, dispatch.Kernel)
	}
	return nil
}

func execNegGeneric[T podNumericConstraints](inputs, outputs []T) {
	for ii, input := range inputs {
		outputs[ii] = -input
	}
}

// execScale executes elementwise multiplication by a push-constant factor:
// bindings are [input, output], push constants are [factor].
func execScale(c *Context, dispatch *contexts.Dispatch) error {
	buffers, err := c.dispatchBuffers(dispatch, 2)
	if err != nil {
		return err
	}
	if err := checkElementwiseBindings(dispatch, buffers); err != nil {
		return err
	}
	if len(dispatch.Push) != 1 {
		return errors.Errorf("kernel %q takes 1 push constant, got %d", dispatch.Kernel, len(dispatch.Push))
	}
	input, output := buffers[0], buffers[1]
	factor := dispatch.Push[0]
	switch input.shape.DType {
	case dtypes.Int8:
		execScaleGeneric[int8](input.flat.([]int8), output.flat.([]int8), factor)
	case dtypes.Int16:
		execScaleGeneric[int16](input.flat.([]int16), output.flat.([]int16), factor)
	case dtypes.Int32:
		execScaleGeneric[int32](input.flat.([]int32), output.flat.([]int32), factor)
	case dtypes.Int64:
		execScaleGeneric[int64](input.flat.([]int64), output.flat.([]int64), factor)
	case dtypes.Uint8:
		execScaleGeneric[uint8](input.flat.([]uint8), output.flat.([]uint8), factor)
	case dtypes.Uint16:
		execScaleGeneric[uint16](input.flat.([]uint16), output.flat.([]uint16), factor)
	case dtypes.Uint32:
		execScaleGeneric[uint32](input.flat.([]uint32), output.flat.([]uint32), factor)
	case dtypes.Uint64:
		execScaleGeneric[uint64](input.flat.([]uint64), output.flat.([]uint64), factor)
	case dtypes.Float32:
		execScaleGeneric[float32](input.flat.([]float32), output.flat.([]float32), factor)
	case dtypes.Float64:
		execScaleGeneric[float64](input.flat.([]float64), output.flat.([]float64), factor)
	case dtypes.Float16:
		execScaleF16(input, output, factor)
	case dtypes.BFloat16:
		execScaleBF16(input, output, factor)
	default:
		return errors.Errorf("unsupported dtype %s for kernel %q", input.shape.DType, dispatch.Kernel)
	}
	return nil
}

func execScaleGeneric[T podNumericConstraints](inputs, outputs []T, factor float64) {
	f := T(factor)
	for ii, input := range inputs {
		outputs[ii] = input * f
	}
}
