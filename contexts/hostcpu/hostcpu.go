// Package hostcpu implements a reference, in-process execution context for
// vkgraph. "Device" buffers are backed by host memory and kernels run on the
// CPU, so it is not fast, but it is fully portable and needs no hardware.
//
// It supports the most popular dtypes, including Float16 and BFloat16.
package hostcpu

import (
	"strconv"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/vkgraph/vkgraph/contexts"
)

// ContextName to be used in VKGRAPH_CONTEXT to specify this execution context.
const ContextName = "cpu"

// Registers New() as the constructor for the "cpu" execution context.
func init() {
	contexts.Register(ContextName, New)
}

// New constructs a new host-CPU execution context.
//
// The config string is a comma-separated list of "key=value" options.
// Recognized options:
//
//   - "maxmem=<bytes>": byte budget for live buffer allocations; exceeding it
//     makes AllocateBuffer return an out-of-memory error. Default is unlimited.
//
// Unknown options panic: a typo in a config is a usage error.
func New(config string) contexts.Context {
	c := &Context{
		id:      uuid.NewString(),
		queueCh: make(chan *submission),
	}
	for _, option := range strings.Split(config, ",") {
		if option == "" {
			continue
		}
		key, value, _ := strings.Cut(option, "=")
		switch key {
		case "maxmem":
			maxMem, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				exceptions.Panicf("hostcpu: invalid maxmem value %q in config %q", value, config)
			}
			c.maxMem = maxMem
		default:
			exceptions.Panicf("hostcpu: unknown option %q in config %q", key, config)
		}
	}
	go c.queueLoop()
	klog.V(1).Infof("hostcpu[%s]: context created (maxmem=%d)", c.id, c.maxMem)
	return c
}

// Context implements contexts.Context backed by host memory.
//
// It is exclusively owned by one graph; concurrent use from multiple
// goroutines must be serialized by the caller, matching the graph's contract.
type Context struct {
	id     string
	maxMem uint64

	// bufferPools is a map to pools of buffers that can be reused.
	// The underlying type is map[bufferPoolKey]*sync.Pool.
	bufferPools sync.Map

	mu        sync.Mutex
	allocated uint64
	stream    []contexts.Command
	finalized bool

	queueCh chan *submission
}

// Compile-time check:
var _ contexts.Context = (*Context)(nil)

// submission carries one assembled command stream to the queue goroutine.
// The fence is signalled with the first command error, or nil on completion.
type submission struct {
	commands []contexts.Command
	fence    chan error
}

// Name returns the short name of the context implementation.
func (c *Context) Name() string { return ContextName }

// Description is a longer description of the Context that can be used to pretty-print.
func (c *Context) Description() string {
	return "Host CPU reference execution context"
}

// String implements fmt.Stringer.
func (c *Context) String() string { return ContextName }

// assertValid panics if the context has been finalized.
func (c *Context) assertValid() {
	c.mu.Lock()
	finalized := c.finalized
	c.mu.Unlock()
	if finalized {
		exceptions.Panicf("hostcpu[%s]: context used after Finalize", c.id)
	}
}

// ResetStream discards all recorded commands, starting a fresh stream.
func (c *Context) ResetStream() {
	c.assertValid()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stream = c.stream[:0]
}

// Record appends one command to the in-flight stream.
func (c *Context) Record(cmd contexts.Command) error {
	c.assertValid()
	if cmd == nil {
		return errors.Errorf("hostcpu[%s]: cannot record a nil command", c.id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stream = append(c.stream, cmd)
	klog.V(2).Infof("hostcpu[%s]: recorded %s", c.id, cmd)
	return nil
}

// Submit submits the assembled stream to the queue goroutine and blocks until
// all commands completed or the first one failed. The stream remains recorded,
// so it can be submitted again without re-encoding.
func (c *Context) Submit() error {
	c.assertValid()
	c.mu.Lock()
	commands := make([]contexts.Command, len(c.stream))
	copy(commands, c.stream)
	c.mu.Unlock()

	fence := make(chan error, 1)
	c.queueCh <- &submission{commands: commands, fence: fence}
	err := <-fence
	if err != nil {
		return errors.WithMessagef(err, "hostcpu[%s]: submission of %d commands failed", c.id, len(commands))
	}
	klog.V(1).Infof("hostcpu[%s]: submitted %d commands", c.id, len(commands))
	return nil
}

// queueLoop is the "hardware queue": it executes submissions strictly in
// order, one at a time, and signals each submission's fence when done.
func (c *Context) queueLoop() {
	for sub := range c.queueCh {
		var err error
		for ii, cmd := range sub.commands {
			err = c.runCommand(cmd)
			if err != nil {
				err = errors.WithMessagef(err, "command #%d (%s)", ii, cmd)
				break
			}
		}
		sub.fence <- err
	}
}

// Finalize releases all associated resources immediately and makes the
// context invalid. Any use afterwards panics.
func (c *Context) Finalize() {
	c.mu.Lock()
	if c.finalized {
		c.mu.Unlock()
		return
	}
	c.finalized = true
	c.stream = nil
	c.allocated = 0
	c.mu.Unlock()
	close(c.queueCh)
	c.bufferPools.Clear()
	klog.V(1).Infof("hostcpu[%s]: context finalized", c.id)
}

// logAllocation emits a V(2) line for an accepted allocation.
func (c *Context) logAllocation(nbytes uint64, live uint64) {
	if klog.V(2).Enabled() {
		klog.Infof("hostcpu[%s]: allocated %s (%s live)", c.id, humanize.Bytes(nbytes), humanize.Bytes(live))
	}
}
