package hostcpu

import (
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// Float16 and BFloat16 kernels work by converting through float32/float64.
// Slow, but these dtypes are supported for completeness, not speed.

func execNegF16(input, output *Buffer) {
	inputs := input.flat.([]float16.Float16)
	outputs := output.flat.([]float16.Float16)
	for ii, value := range inputs {
		outputs[ii] = float16.Fromfloat32(-value.Float32())
	}
}

func execNegBF16(input, output *Buffer) {
	inputs := input.flat.([]bfloat16.BFloat16)
	outputs := output.flat.([]bfloat16.BFloat16)
	for ii, value := range inputs {
		outputs[ii] = bfloat16.FromFloat32(-value.Float32())
	}
}

func execScaleF16(input, output *Buffer, factor float64) {
	inputs := input.flat.([]float16.Float16)
	outputs := output.flat.([]float16.Float16)
	for ii, value := range inputs {
		outputs[ii] = float16.Fromfloat32(float32(float64(value.Float32()) * factor))
	}
}

func execScaleBF16(input, output *Buffer, factor float64) {
	inputs := input.flat.([]bfloat16.BFloat16)
	outputs := output.flat.([]bfloat16.BFloat16)
	for ii, value := range inputs {
		outputs[ii] = bfloat16.FromFloat32(float32(float64(value.Float32()) * factor))
	}
}

func execBinaryF16(lhs, rhs, output *Buffer, fn func(lhs, rhs float64) float64) {
	lhsFlat := lhs.flat.([]float16.Float16)
	rhsFlat := rhs.flat.([]float16.Float16)
	outputs := output.flat.([]float16.Float16)
	for ii := range outputs {
		outputs[ii] = float16.Fromfloat32(float32(fn(float64(lhsFlat[ii].Float32()), float64(rhsFlat[ii].Float32()))))
	}
}

func execBinaryBF16(lhs, rhs, output *Buffer, fn func(lhs, rhs float64) float64) {
	lhsFlat := lhs.flat.([]bfloat16.BFloat16)
	rhsFlat := rhs.flat.([]bfloat16.BFloat16)
	outputs := output.flat.([]bfloat16.BFloat16)
	for ii := range outputs {
		outputs[ii] = bfloat16.FromFloat32(float32(fn(float64(lhsFlat[ii].Float32()), float64(rhsFlat[ii].Float32()))))
	}
}
