package vm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/chazu/tensorvm/memory"
	"github.com/chazu/tensorvm/object"
	"github.com/chazu/tensorvm/value"
)

// ---------------------------------------------------------------------------
// Custom calls
// ---------------------------------------------------------------------------

// CustomCallHandler is a native function reachable through CUSCALL.
// operands is the opaque payload encoded in the instruction; args are
// borrowed for the duration of the call. The handler returns an owned
// result, or an empty Ref to push null.
type CustomCallHandler func(ctx *KernelContext, operands []byte, args []object.Ref[value.Value]) (object.Ref[value.Value], error)

// CustomCallRegistry maps names to native handlers. Modules copy the
// handlers they declare out of the registry when they are loaded.
type CustomCallRegistry struct {
	mu       sync.RWMutex
	handlers map[string]CustomCallHandler
}

// NewCustomCallRegistry creates an empty registry.
func NewCustomCallRegistry() *CustomCallRegistry {
	return &CustomCallRegistry{handlers: make(map[string]CustomCallHandler)}
}

// Register adds a handler. Names are unique.
func (r *CustomCallRegistry) Register(name string, h CustomCallHandler) error {
	if name == "" || h == nil {
		return fmt.Errorf("%w: custom call needs a name and a handler", ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateCustomCall, name)
	}
	r.handlers[name] = h
	log.Debugf("registered custom call %q", name)
	return nil
}

// Lookup returns the handler registered under name.
func (r *CustomCallRegistry) Lookup(name string) (CustomCallHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered names in sorted order.
func (r *CustomCallRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// invokeCustomCall runs h, turning a panic into an error.
func invokeCustomCall(name string, h CustomCallHandler, ctx *KernelContext, operands []byte,
	args []object.Ref[value.Value]) (result object.Ref[value.Value], err error) {
	defer func() {
		if r := recover(); r != nil {
			result.Release()
			err = fmt.Errorf("%w: %q: %v", ErrNativePanic, name, r)
		}
	}()
	return h(ctx, operands, args)
}

// ---------------------------------------------------------------------------
// KernelContext
// ---------------------------------------------------------------------------

// KernelContext is shared by every native handler invoked from one module.
type KernelContext struct {
	model  *Model
	module *Module
}

// Model returns the model the calling module belongs to.
func (c *KernelContext) Model() *Model { return c.model }

// Module returns the calling module.
func (c *KernelContext) Module() *Module { return c.module }

// Space returns the model's address space.
func (c *KernelContext) Space() *memory.Space { return c.model.space }

// AllocHostBuffer allocates a mapped host buffer.
func (c *KernelContext) AllocHostBuffer(size int) (object.Ref[*value.HostBuffer], error) {
	return c.model.AllocHostBuffer(size)
}

// AllocHostTensor allocates a contiguous tensor over a mapped host buffer.
func (c *KernelContext) AllocHostTensor(dtype value.Datatype, shape []int) (object.Ref[*value.Tensor], error) {
	return c.model.AllocHostTensor(dtype, shape)
}

// ---------------------------------------------------------------------------
// Tensor prefix
// ---------------------------------------------------------------------------

// TensorDispatcher executes TENSOR-prefixed instructions. operands reads the
// instruction's payload; the dispatcher pops inputs from and pushes results
// to stack.
type TensorDispatcher interface {
	DispatchTensor(ctx *KernelContext, funct uint16, operands *BytecodeReader, stack *EvalStack) error
}

// TensorDispatcherFunc adapts a function to TensorDispatcher.
type TensorDispatcherFunc func(ctx *KernelContext, funct uint16, operands *BytecodeReader, stack *EvalStack) error

func (f TensorDispatcherFunc) DispatchTensor(ctx *KernelContext, funct uint16, operands *BytecodeReader, stack *EvalStack) error {
	return f(ctx, funct, operands, stack)
}
