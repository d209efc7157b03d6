// Package contexts defines the interface an accelerator execution context needs
// to implement to back a vkgraph compute graph.
//
// A Context owns the hardware queue, command-stream recording and device memory
// for exactly one graph: graphs create their context at construction and hold it
// exclusively for their whole lifetime.
//
// To simplify error handling, usage errors (unknown context names, use after
// Finalize) are expected to throw (panic) with a stack trace, while resource
// errors (allocation, submission) are returned as errors.
// See package github.com/gomlx/exceptions.
package contexts

import (
	"os"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/vkgraph/vkgraph/types/shapes"
)

// Buffer represents device-resident storage allocated by a Context.
// It is opaque to the graph: only the Context that allocated it can interpret it.
type Buffer any

// Context is the API an execution context implementation needs to provide.
//
// It bundles device memory management, command-stream recording and queue
// submission. A Context records exactly one command stream at a time; the
// stream is reusable, so a graph encoded once can be submitted repeatedly.
type Context interface {
	// Name returns the short name of the context implementation. E.g.: "cpu".
	Name() string

	// Description is a longer description of the Context that can be used to pretty-print.
	Description() string

	// AllocateBuffer allocates device-resident storage for the given shape.
	// Allocation failure (e.g. out of device memory) is a recoverable error.
	AllocateBuffer(shape shapes.Shape) (Buffer, error)

	// BufferShape returns the shape the buffer was allocated with.
	BufferShape(buffer Buffer) (shapes.Shape, error)

	// BufferFinalize releases the buffer's storage immediately.
	// A finalized buffer must never be used again.
	BufferFinalize(buffer Buffer) error

	// CopyToDevice copies the host flat slice into the buffer. The slice must be
	// of the Go type corresponding to the buffer's DType and hold exactly
	// shape.Size() elements.
	CopyToDevice(buffer Buffer, flat any) error

	// CopyFromDevice copies the buffer's contents into the host flat slice,
	// under the same type and length requirements as CopyToDevice.
	CopyFromDevice(buffer Buffer, flat any) error

	// ResetStream discards all recorded commands, starting a fresh stream.
	ResetStream()

	// Record appends one command to the in-flight stream.
	Record(cmd Command) error

	// Submit submits the assembled stream to the hardware queue and blocks until
	// the work is fenced. The stream remains valid for repeat submission.
	Submit() error

	// Finalize releases all associated resources immediately and makes the
	// context invalid.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a new Context.
type Constructor func(config string) Context

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register a context implementation with the given name, and a constructor that
// takes a configuration string passed along opaquely.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// DefaultConfig is the context configuration to use if none is specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// VKGRAPH_CONTEXT is the environment variable with the default context
// configuration to use.
//
// The format of config is "<context_name>:<context_configuration>".
// The "<context_name>" is the name of a registered context (e.g.: "cpu") and
// "<context_configuration>" is implementation specific.
const VKGRAPH_CONTEXT = "VKGRAPH_CONTEXT"

// New returns a new Context built from the default configuration.
//
// The default is:
//
// 1. The environment VKGRAPH_CONTEXT is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered context is used with an empty configuration.
//
// It panics if no context was registered.
func New() Context {
	config, found := os.LookupEnv(VKGRAPH_CONTEXT)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig takes a configuration string formatted as
// "<context_name>:<context_configuration>" and returns the corresponding
// Context. The "<context_configuration>" part is passed to the constructor
// unparsed.
func NewWithConfig(config string) Context {
	if len(registeredConstructors) == 0 {
		exceptions.Panicf(`no registered execution contexts for vkgraph -- maybe import the reference one with import _ "github.com/vkgraph/vkgraph/contexts/hostcpu"?`)
	}
	contextName := firstRegistered
	contextConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		contextName = config[:idx]
		contextConfig = config[idx+1:]
	}
	constructor, found := registeredConstructors[contextName]
	if !found {
		exceptions.Panicf("can't find execution context %q for configuration %q given", contextName, config)
	}
	return constructor(contextConfig)
}
