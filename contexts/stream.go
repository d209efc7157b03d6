package contexts

import (
	"fmt"
	"strings"

	"github.com/vkgraph/vkgraph/types/shapes"
)

// LocalGroupSize is the assumed 1-D workgroup local size used to derive
// dispatch group counts from element counts.
const LocalGroupSize = 64

// Command is one unit of recorded work in a context's command stream.
//
// The set is closed: a stream is a sequence of kernel dispatches and
// device-to-device copies, and every context implementation interprets both.
type Command interface {
	// String prints a descriptive representation of the command.
	String() string

	isCommand()
}

// Dispatch describes one compute-kernel dispatch: the kernel to select, the
// device buffers bound to it (outputs last, by convention of the built-in
// kernels), scalar push constants and the workgroup counts.
type Dispatch struct {
	// Kernel is the name the executing context resolves to an actual kernel.
	Kernel string

	// Buffers bound to the dispatch, in kernel-defined order.
	Buffers []Buffer

	// Push constants: small scalar parameters passed by value.
	Push []float64

	// Groups are the workgroup counts on each of the 3 dispatch axes.
	Groups [3]uint32
}

func (d *Dispatch) isCommand() {}

// String implements fmt.Stringer.
func (d *Dispatch) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Dispatch{kernel=%q, buffers=%d, groups=[%d %d %d]",
		d.Kernel, len(d.Buffers), d.Groups[0], d.Groups[1], d.Groups[2])
	if len(d.Push) > 0 {
		fmt.Fprintf(&sb, ", push=%v", d.Push)
	}
	sb.WriteString("}")
	return sb.String()
}

// CopyCommand describes a whole-buffer device copy from Src to Dst.
// Both buffers must have the same shape.
type CopyCommand struct {
	Src, Dst Buffer
}

func (c *CopyCommand) isCommand() {}

// String implements fmt.Stringer.
func (c *CopyCommand) String() string {
	return "Copy{}"
}

// WorkgroupsFor derives the dispatch group counts for an elementwise kernel
// over a value of the given shape: the element count divided into 1-D local
// groups of LocalGroupSize.
func WorkgroupsFor(shape shapes.Shape) [3]uint32 {
	size := shape.Size()
	groups := (size + LocalGroupSize - 1) / LocalGroupSize
	return [3]uint32{uint32(groups), 1, 1}
}
