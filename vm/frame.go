package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// CallFrame: one function activation
// ---------------------------------------------------------------------------

// CallFrame holds the arguments and local fields of one activation, and the
// pc to resume the caller at.
type CallFrame struct {
	ret    int
	args   []Entry
	fields []Entry
}

// ReturnAddress returns the caller's resume pc.
func (f *CallFrame) ReturnAddress() int {
	return f.ret
}

// NumArgs returns the argument count.
func (f *CallFrame) NumArgs() int {
	return len(f.args)
}

// NumFields returns the current field count.
func (f *CallFrame) NumFields() int {
	return len(f.fields)
}

// BindArgs takes ownership of args as the frame's argument list.
func (f *CallFrame) BindArgs(args []Entry) {
	f.args = args
}

// Arg returns argument i, borrowed. The argument count is fixed by the
// callee's arity, so an out-of-range index is a programming error and
// panics.
func (f *CallFrame) Arg(i int) Entry {
	if i < 0 || i >= len(f.args) {
		panic(fmt.Sprintf("vm: argument %d out of range (%d arguments)", i, len(f.args)))
	}
	return f.args[i]
}

// Field returns field i, borrowed.
func (f *CallFrame) Field(i int) (Entry, error) {
	if i < 0 || i >= len(f.fields) {
		return Entry{}, fmt.Errorf("%w: field %d of %d", ErrResultOutOfRange, i, len(f.fields))
	}
	return f.fields[i], nil
}

// SetField stores e at index i, taking ownership of it. The field list
// grows to i+1 entries when needed; new slots hold the zero entry.
func (f *CallFrame) SetField(i int, e Entry) {
	if i < 0 {
		panic(fmt.Sprintf("vm: negative field index %d", i))
	}
	if i >= len(f.fields) {
		f.fields = append(f.fields, make([]Entry, i+1-len(f.fields))...)
	}
	f.fields[i].Release()
	f.fields[i] = e
}

func (f *CallFrame) release() {
	for i := range f.args {
		f.args[i].Release()
	}
	for i := range f.fields {
		f.fields[i].Release()
	}
	f.args, f.fields = nil, nil
}

// ---------------------------------------------------------------------------
// FrameStack
// ---------------------------------------------------------------------------

// FrameStack is the activation stack of one invocation.
type FrameStack struct {
	frames []*CallFrame
}

// NewFrameStack creates an empty frame stack.
func NewFrameStack() *FrameStack {
	return &FrameStack{frames: make([]*CallFrame, 0, 4)}
}

// Push creates a frame returning to ret and makes it current.
func (s *FrameStack) Push(ret int) *CallFrame {
	f := &CallFrame{ret: ret}
	s.frames = append(s.frames, f)
	return f
}

// Pop removes the current frame, releases its entries and returns its
// return address.
func (s *FrameStack) Pop() (int, error) {
	n := len(s.frames)
	if n == 0 {
		return 0, ErrStackUnderflow
	}
	f := s.frames[n-1]
	s.frames[n-1] = nil
	s.frames = s.frames[:n-1]
	f.release()
	return f.ret, nil
}

// Top returns the current frame.
func (s *FrameStack) Top() (*CallFrame, error) {
	n := len(s.frames)
	if n == 0 {
		return nil, ErrStackUnderflow
	}
	return s.frames[n-1], nil
}

// Len returns the number of live frames.
func (s *FrameStack) Len() int {
	return len(s.frames)
}

// Clear pops every frame.
func (s *FrameStack) Clear() {
	for len(s.frames) > 0 {
		s.Pop()
	}
}
