package hostcpu

import (
	"reflect"
	"sync"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/vkgraph/vkgraph/contexts"
	"github.com/vkgraph/vkgraph/types/shapes"
)

// Buffer for the hostcpu context holds a shape and a reference to the flat data.
//
// As with real device memory, a freshly allocated buffer has unspecified
// contents: buffers are recycled through pools and are not zeroed.
type Buffer struct {
	shape shapes.Shape
	valid bool

	// flat is always a slice of the underlying data type (shape.DType).
	flat any
}

type bufferPoolKey struct {
	dtype  dtypes.DType
	length int
}

// getBufferPool for given dtype/length.
func (c *Context) getBufferPool(dtype dtypes.DType, length int) *sync.Pool {
	key := bufferPoolKey{dtype: dtype, length: length}
	poolInterface, ok := c.bufferPools.Load(key)
	if !ok {
		poolInterface, _ = c.bufferPools.LoadOrStore(key, &sync.Pool{
			New: func() interface{} {
				return &Buffer{
					flat:  reflect.MakeSlice(reflect.SliceOf(dtype.GoType()), length, length).Interface(),
					shape: shapes.Make(dtype, length),
				}
			},
		})
	}
	return poolInterface.(*sync.Pool)
}

// getBuffer from the context pool of buffers.
func (c *Context) getBuffer(dtype dtypes.DType, length int) *Buffer {
	pool := c.getBufferPool(dtype, length)
	buf := pool.Get().(*Buffer)
	buf.valid = true
	return buf
}

// putBuffer back into the context pool of buffers.
// After this any references to buffer should be dropped.
func (c *Context) putBuffer(buffer *Buffer) {
	if buffer == nil || !buffer.shape.Ok() {
		return
	}
	buffer.valid = false
	pool := c.getBufferPool(buffer.shape.DType, buffer.shape.Size())
	pool.Put(buffer)
}

// copyFlat assumes both flat slices are of the same underlying type and length.
func copyFlat(flatDst, flatSrc any) {
	reflect.Copy(reflect.ValueOf(flatDst), reflect.ValueOf(flatSrc))
}

// AllocateBuffer allocates "device" storage for the given shape, from the pool
// when possible. If a maxmem budget is configured and the allocation would
// exceed it, it returns an out-of-memory error and nothing is allocated.
func (c *Context) AllocateBuffer(shape shapes.Shape) (contexts.Buffer, error) {
	c.assertValid()
	if !shape.Ok() {
		return nil, errors.Errorf("hostcpu[%s]: cannot allocate a buffer for an invalid shape", c.id)
	}
	if !supportedDTypes[shape.DType] {
		return nil, errors.Errorf("hostcpu[%s]: dtype %s is not supported", c.id, shape.DType)
	}
	nbytes := uint64(shape.Memory())
	c.mu.Lock()
	if c.maxMem > 0 && c.allocated+nbytes > c.maxMem {
		allocated := c.allocated
		c.mu.Unlock()
		return nil, errors.Errorf("hostcpu[%s]: out of device memory allocating %d bytes for shape %s (%d of %d bytes in use)",
			c.id, nbytes, shape, allocated, c.maxMem)
	}
	c.allocated += nbytes
	live := c.allocated
	c.mu.Unlock()

	buffer := c.getBuffer(shape.DType, shape.Size())
	buffer.shape = shape.Clone()
	c.logAllocation(nbytes, live)
	return buffer, nil
}

// checkBuffer casts a contexts.Buffer back to a live hostcpu buffer.
func (c *Context) checkBuffer(buffer contexts.Buffer) (*Buffer, error) {
	buf, ok := buffer.(*Buffer)
	if !ok {
		return nil, errors.Errorf("buffer is not a %q context buffer", ContextName)
	}
	if !buf.valid {
		return nil, errors.Errorf("buffer (shape=%s) was already finalized", buf.shape)
	}
	return buf, nil
}

// BufferShape returns the shape the buffer was allocated with.
func (c *Context) BufferShape(buffer contexts.Buffer) (shapes.Shape, error) {
	buf, err := c.checkBuffer(buffer)
	if err != nil {
		return shapes.Invalid(), err
	}
	return buf.shape, nil
}

// BufferFinalize returns the buffer to the pool and releases its budget share.
// A finalized buffer must never be used again.
func (c *Context) BufferFinalize(buffer contexts.Buffer) error {
	buf, err := c.checkBuffer(buffer)
	if err != nil {
		return errors.WithMessage(err, "BufferFinalize")
	}
	c.mu.Lock()
	nbytes := uint64(buf.shape.Memory())
	if c.allocated >= nbytes {
		c.allocated -= nbytes
	}
	c.mu.Unlock()
	c.putBuffer(buf)
	return nil
}

// checkFlat verifies that flat is a slice of the Go type matching shape's
// DType with exactly shape.Size() elements.
func checkFlat(flat any, shape shapes.Shape) error {
	flatType := reflect.TypeOf(flat)
	if flatType == nil || flatType.Kind() != reflect.Slice {
		return errors.Errorf("flat data must be a slice, got %T", flat)
	}
	if dtypes.FromGoType(flatType.Elem()) != shape.DType {
		return errors.Errorf("flat data type (%s) does not match buffer DType (%s)", flatType.Elem(), shape.DType)
	}
	if got := reflect.ValueOf(flat).Len(); got != shape.Size() {
		return errors.Errorf("flat data has %d elements, buffer shape %s requires %d", got, shape, shape.Size())
	}
	return nil
}

// CopyToDevice copies the host flat slice into the buffer.
func (c *Context) CopyToDevice(buffer contexts.Buffer, flat any) error {
	c.assertValid()
	buf, err := c.checkBuffer(buffer)
	if err != nil {
		return errors.WithMessage(err, "CopyToDevice")
	}
	if err := checkFlat(flat, buf.shape); err != nil {
		return errors.WithMessage(err, "CopyToDevice")
	}
	copyFlat(buf.flat, flat)
	return nil
}

// CopyFromDevice copies the buffer's contents into the host flat slice.
func (c *Context) CopyFromDevice(buffer contexts.Buffer, flat any) error {
	c.assertValid()
	buf, err := c.checkBuffer(buffer)
	if err != nil {
		return errors.WithMessage(err, "CopyFromDevice")
	}
	if err := checkFlat(flat, buf.shape); err != nil {
		return errors.WithMessage(err, "CopyFromDevice")
	}
	copyFlat(flat, buf.flat)
	return nil
}
