package hostcpu

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/vkgraph/vkgraph/contexts"
)

// supportedDTypes enumerates the dtypes this context can allocate and compute on.
var supportedDTypes = map[dtypes.DType]bool{
	dtypes.Bool:     true,
	dtypes.Int8:     true,
	dtypes.Int16:    true,
	dtypes.Int32:    true,
	dtypes.Int64:    true,
	dtypes.Uint8:    true,
	dtypes.Uint16:   true,
	dtypes.Uint32:   true,
	dtypes.Uint64:   true,
	dtypes.Float32:  true,
	dtypes.Float64:  true,
	dtypes.Float16:  true,
	dtypes.BFloat16: true,
}

// Kernel executes one dispatch command on the context.
//
// Kernels receive the dispatch with its buffers already resolved; they are
// responsible for checking bindings and dtypes and returning a descriptive
// error on mismatch.
type Kernel func(c *Context, dispatch *contexts.Dispatch) error

// kernels is the registry of named kernels, populated by init() functions.
var kernels = make(map[string]Kernel)

// RegisterKernel adds a kernel under the given name.
// Registering the same name twice is a programming error and panics.
func RegisterKernel(name string, kernel Kernel) {
	if _, found := kernels[name]; found {
		exceptions.Panicf("hostcpu: kernel %q registered twice", name)
	}
	kernels[name] = kernel
}

// runCommand interprets one recorded command. Called from the queue goroutine.
func (c *Context) runCommand(cmd contexts.Command) error {
	switch cmd := cmd.(type) {
	case *contexts.CopyCommand:
		return c.runCopy(cmd)
	case *contexts.Dispatch:
		kernel, found := kernels[cmd.Kernel]
		if !found {
			return errors.Errorf("unknown kernel %q", cmd.Kernel)
		}
		return kernel(c, cmd)
	default:
		return errors.Errorf("unsupported command type %T", cmd)
	}
}

// runCopy copies Src into Dst. Both must be live buffers of the same shape.
func (c *Context) runCopy(cmd *contexts.CopyCommand) error {
	src, err := c.checkBuffer(cmd.Src)
	if err != nil {
		return errors.WithMessage(err, "copy source")
	}
	dst, err := c.checkBuffer(cmd.Dst)
	if err != nil {
		return errors.WithMessage(err, "copy destination")
	}
	if !src.shape.Equal(dst.shape) {
		return errors.Errorf("copy between mismatching shapes %s and %s", src.shape, dst.shape)
	}
	copyFlat(dst.flat, src.flat)
	return nil
}

// dispatchBuffers resolves the dispatch bindings to live buffers, checking the
// binding count against what the kernel declares.
func (c *Context) dispatchBuffers(dispatch *contexts.Dispatch, want int) ([]*Buffer, error) {
	if len(dispatch.Buffers) != want {
		return nil, errors.Errorf("kernel %q takes %d buffer bindings, got %d", dispatch.Kernel, want, len(dispatch.Buffers))
	}
	buffers := make([]*Buffer, want)
	for ii, binding := range dispatch.Buffers {
		buf, err := c.checkBuffer(binding)
		if err != nil {
			return nil, errors.WithMessagef(err, "kernel %q binding #%d", dispatch.Kernel, ii)
		}
		buffers[ii] = buf
	}
	return buffers, nil
}

// checkElementwiseBindings verifies that all bound buffers share one shape,
// the usual contract of the built-in elementwise kernels.
func checkElementwiseBindings(dispatch *contexts.Dispatch, buffers []*Buffer) error {
	shape := buffers[0].shape
	for ii, buf := range buffers[1:] {
		if !buf.shape.Equal(shape) {
			return errors.Errorf("kernel %q binding #%d has shape %s, want %s", dispatch.Kernel, ii+1, buf.shape, shape)
		}
	}
	return nil
}

// podNumericConstraints are the Go plain-old-data numeric types.
// Float16 and BFloat16 are not included: they are specialized types handled
// by conversion in kernels_float16.go.
type podNumericConstraints interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64
}
