package hostcpu

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/vkgraph/vkgraph/contexts"
)

func init() {
	RegisterKernel("add", makeBinaryKernel("add",
		func(lhs, rhs int64) int64 { return lhs + rhs },
		func(lhs, rhs uint64) uint64 { return lhs + rhs },
		func(lhs, rhs float64) float64 { return lhs + rhs }))
	RegisterKernel("mul", makeBinaryKernel("mul",
		func(lhs, rhs int64) int64 { return lhs * rhs },
		func(lhs, rhs uint64) uint64 { return lhs * rhs },
		func(lhs, rhs float64) float64 { return lhs * rhs }))
}

// makeBinaryKernel builds an elementwise binary kernel from the widest-type
// implementations of the operation: bindings are [lhs, rhs, output], all of
// one shape. There is no broadcasting: shape agreement is the node builders'
// responsibility.
func makeBinaryKernel(name string, intFn func(lhs, rhs int64) int64, uintFn func(lhs, rhs uint64) uint64, floatFn func(lhs, rhs float64) float64) Kernel {
	return func(c *Context, dispatch *contexts.Dispatch) error {
		buffers, err := c.dispatchBuffers(dispatch, 3)
		if err != nil {
			return err
		}
		if err := checkElementwiseBindings(dispatch, buffers); err != nil {
			return err
		}
		lhs, rhs, output := buffers[0], buffers[1], buffers[2]
		switch lhs.shape.DType {
		case dtypes.Int8:
			execBinaryInt[int8](lhs.flat.([]int8), rhs.flat.([]int8), output.flat.([]int8), intFn)
		case dtypes.Int16:
			execBinaryInt[int16](lhs.flat.([]int16), rhs.flat.([]int16), output.flat.([]int16), intFn)
		case dtypes.Int32:
			execBinaryInt[int32](lhs.flat.([]int32), rhs.flat.([]int32), output.flat.([]int32), intFn)
		case dtypes.Int64:
			execBinaryInt[int64](lhs.flat.([]int64), rhs.flat.([]int64), output.flat.([]int64), intFn)
		case dtypes.Uint8:
			execBinaryUint[uint8](lhs.flat.([]uint8), rhs.flat.([]uint8), output.flat.([]uint8), uintFn)
		case dtypes.Uint16:
			execBinaryUint[uint16](lhs.flat.([]uint16), rhs.flat.([]uint16), output.flat.([]uint16), uintFn)
		case dtypes.Uint32:
			execBinaryUint[uint32](lhs.flat.([]uint32), rhs.flat.([]uint32), output.flat.([]uint32), uintFn)
		case dtypes.Uint64:
			execBinaryUint[uint64](lhs.flat.([]uint64), rhs.flat.([]uint64), output.flat.([]uint64), uintFn)
		case dtypes.Float32:
			execBinaryFloat[float32](lhs.flat.([]float32), rhs.flat.([]float32), output.flat.([]float32), floatFn)
		case dtypes.Float64:
			execBinaryFloat[float64](lhs.flat.([]float64), rhs.flat.([]float64), output.flat.([]float64), floatFn)
		case dtypes.Float16:
			execBinaryF16(lhs, rhs, output, floatFn)
		case dtypes.BFloat16:
			execBinaryBF16(lhs, rhs, output, floatFn)
		default:
			return errors.Errorf("unsupported dtype %s for kernel %q", lhs.shape.DType, name)
		}
		return nil
	}
}

type podSignedConstraints interface {
	int8 | int16 | int32 | int64
}

type podUnsignedConstraints interface {
	uint8 | uint16 | uint32 | uint64
}

type podFloatConstraints interface {
	float32 | float64
}

func execBinaryInt[T podSignedConstraints](lhs, rhs, outputs []T, fn func(lhs, rhs int64) int64) {
	for ii := range outputs {
		outputs[ii] = T(fn(int64(lhs[ii]), int64(rhs[ii])))
	}
}

func execBinaryUint[T podUnsignedConstraints](lhs, rhs, outputs []T, fn func(lhs, rhs uint64) uint64) {
	for ii := range outputs {
		outputs[ii] = T(fn(uint64(lhs[ii]), uint64(rhs[ii])))
	}
}

func execBinaryFloat[T podFloatConstraints](lhs, rhs, outputs []T, fn func(lhs, rhs float64) float64) {
	for ii := range outputs {
		outputs[ii] = T(fn(float64(lhs[ii]), float64(rhs[ii])))
	}
}
