package vm

import (
	"github.com/chazu/tensorvm/object"
)

// ---------------------------------------------------------------------------
// EvalStack: operand stack of one invocation
// ---------------------------------------------------------------------------

// DefaultStackCapacity is the initial slot count of an evaluation stack.
const DefaultStackCapacity = 64

// EvalStack is a growable LIFO of entries. It is owned by a single
// invocation and is not safe for concurrent use.
type EvalStack struct {
	entries []Entry
}

// NewEvalStack creates a stack with room for capacity entries.
func NewEvalStack(capacity int) *EvalStack {
	if capacity <= 0 {
		capacity = DefaultStackCapacity
	}
	return &EvalStack{entries: make([]Entry, 0, capacity)}
}

// Push appends e, taking ownership of its object reference. The backing
// store grows by half again when full.
func (s *EvalStack) Push(e Entry) {
	if len(s.entries) == cap(s.entries) {
		grown := make([]Entry, len(s.entries), cap(s.entries)+cap(s.entries)/2+1)
		copy(grown, s.entries)
		s.entries = grown
	}
	s.entries = append(s.entries, e)
}

// Pop removes and returns the top entry. The caller owns the result.
func (s *EvalStack) Pop() (Entry, error) {
	n := len(s.entries)
	if n == 0 {
		return Entry{}, ErrStackUnderflow
	}
	e := s.entries[n-1]
	s.entries[n-1] = Entry{}
	s.entries = s.entries[:n-1]
	return e, nil
}

// Peek returns the top entry without removing it. The result is borrowed.
func (s *EvalStack) Peek() (Entry, error) {
	n := len(s.entries)
	if n == 0 {
		return Entry{}, ErrStackUnderflow
	}
	return s.entries[n-1], nil
}

// Len returns the number of entries.
func (s *EvalStack) Len() int {
	return len(s.entries)
}

// Cap returns the current capacity.
func (s *EvalStack) Cap() int {
	return cap(s.entries)
}

// Clear releases every entry.
func (s *EvalStack) Clear() {
	for i := range s.entries {
		s.entries[i].Release()
	}
	s.entries = s.entries[:0]
}

// PopInt pops an integer entry.
func (s *EvalStack) PopInt() (int64, error) {
	e, err := s.Pop()
	if err != nil {
		return 0, err
	}
	if !e.IsInt() {
		err := e.mismatch(EntryInt)
		e.Release()
		return 0, err
	}
	return e.i, nil
}

// PopShape pops a shape entry.
func (s *EvalStack) PopShape() ([]int, error) {
	e, err := s.Pop()
	if err != nil {
		return nil, err
	}
	if !e.IsShape() {
		err := e.mismatch(EntryShape)
		e.Release()
		return nil, err
	}
	return e.shape, nil
}

// PopObject pops an object entry and returns its reference.
func (s *EvalStack) PopObject() (object.Ref[object.Object], error) {
	e, err := s.Pop()
	if err != nil {
		return object.Ref[object.Object]{}, err
	}
	return e.TakeObject()
}
