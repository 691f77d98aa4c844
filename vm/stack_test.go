package vm

import (
	"errors"
	"testing"

	"github.com/chazu/tensorvm/object"
	"github.com/chazu/tensorvm/value"
)

// ---------------------------------------------------------------------------
// EvalStack
// ---------------------------------------------------------------------------

func TestEvalStackLIFO(t *testing.T) {
	s := NewEvalStack(4)
	s.Push(IntEntry(1))
	s.Push(FloatEntry(2.5))
	s.Push(ShapeEntry([]int{2, 3}))

	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
	dims, err := s.PopShape()
	if err != nil || len(dims) != 2 || dims[1] != 3 {
		t.Errorf("PopShape() = %v, %v", dims, err)
	}
	e, err := s.Pop()
	if err != nil {
		t.Fatal(err)
	}
	if f, err := e.Float(); err != nil || f != 2.5 {
		t.Errorf("Float() = %v, %v", f, err)
	}
	if v, err := s.PopInt(); err != nil || v != 1 {
		t.Errorf("PopInt() = %d, %v", v, err)
	}
}

func TestEvalStackUnderflow(t *testing.T) {
	s := NewEvalStack(0)
	if _, err := s.Pop(); !errors.Is(err, ErrStackUnderflow) {
		t.Errorf("Pop on empty stack: err = %v", err)
	}
	if _, err := s.Peek(); !errors.Is(err, ErrStackUnderflow) {
		t.Errorf("Peek on empty stack: err = %v", err)
	}
	if s.Cap() != DefaultStackCapacity {
		t.Errorf("Cap() = %d, want default %d", s.Cap(), DefaultStackCapacity)
	}
}

func TestEvalStackGrowth(t *testing.T) {
	s := NewEvalStack(2)
	for i := 0; i < 100; i++ {
		s.Push(IntEntry(int64(i)))
	}
	if s.Len() != 100 {
		t.Fatalf("Len() = %d, want 100", s.Len())
	}
	for i := 99; i >= 0; i-- {
		v, err := s.PopInt()
		if err != nil || v != int64(i) {
			t.Fatalf("PopInt() = %d, %v, want %d", v, err, i)
		}
	}
}

func TestEvalStackTypedPops(t *testing.T) {
	s := NewEvalStack(4)

	s.Push(FloatEntry(1))
	if _, err := s.PopInt(); !errors.Is(err, ErrIllegalInstruction) {
		t.Errorf("PopInt on float: err = %v", err)
	}
	s.Push(IntEntry(1))
	if _, err := s.PopShape(); !errors.Is(err, ErrIllegalInstruction) {
		t.Errorf("PopShape on int: err = %v", err)
	}
	s.Push(IntEntry(1))
	if _, err := s.PopObject(); !errors.Is(err, ErrIllegalInstruction) {
		t.Errorf("PopObject on int: err = %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("failed pops left %d entries", s.Len())
	}
}

func TestEvalStackClearReleasesObjects(t *testing.T) {
	r := value.IntScalar(7)
	extra := r.Clone()
	defer extra.Release()

	s := NewEvalStack(4)
	s.Push(ObjectEntry(r))
	if n := object.RefCount(extra.Get()); n != 2 {
		t.Fatalf("refcount = %d, want 2", n)
	}
	s.Clear()
	if n := object.RefCount(extra.Get()); n != 1 {
		t.Errorf("refcount after Clear = %d, want 1", n)
	}
}

// ---------------------------------------------------------------------------
// Entry
// ---------------------------------------------------------------------------

func TestEntryAccessors(t *testing.T) {
	tests := []struct {
		name string
		e    Entry
		kind EntryKind
	}{
		{"int", IntEntry(-1), EntryInt},
		{"float", FloatEntry(0.5), EntryFloat},
		{"shape", ShapeEntry([]int{1}), EntryShape},
		{"object", ObjectEntry(value.IntScalar(1)), EntryObject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := tt.e
			defer e.Release()
			if e.Kind() != tt.kind {
				t.Errorf("Kind() = %s, want %s", e.Kind(), tt.kind)
			}
			_, errInt := e.Int()
			if (errInt == nil) != (tt.kind == EntryInt) {
				t.Errorf("Int() err = %v", errInt)
			}
			_, errObj := e.Object()
			if (errObj == nil) != (tt.kind == EntryObject) {
				t.Errorf("Object() err = %v", errObj)
			}
		})
	}
}

func TestEntryNarrowing(t *testing.T) {
	e := IntEntry(0x1_FF80)
	if v, _ := e.I1(); v != -128 {
		t.Errorf("I1() = %d", v)
	}
	if v, _ := e.U1(); v != 0x80 {
		t.Errorf("U1() = %d", v)
	}
	if v, _ := e.I2(); v != -128 {
		t.Errorf("I2() = %d", v)
	}
	if v, _ := e.U2(); v != 0xFF80 {
		t.Errorf("U2() = %d", v)
	}
	if v, _ := IntEntry(-1).U4(); v != 0xFFFFFFFF {
		t.Errorf("U4() = %d", v)
	}
	if v, _ := IntEntry(-1).Uint(); v != ^uint64(0) {
		t.Errorf("Uint() = %d", v)
	}
}

func TestEntryShapeIsCopied(t *testing.T) {
	dims := []int{2, 2}
	e := ShapeEntry(dims)
	dims[0] = 9
	got, _ := e.Shape()
	if got[0] != 2 {
		t.Errorf("shape aliased its input: %v", got)
	}
}

// ---------------------------------------------------------------------------
// Frames
// ---------------------------------------------------------------------------

func TestFrameFieldsAutoExtend(t *testing.T) {
	fs := NewFrameStack()
	f := fs.Push(10)

	if _, err := f.Field(0); !errors.Is(err, ErrResultOutOfRange) {
		t.Errorf("Field on empty frame: err = %v", err)
	}
	f.SetField(3, IntEntry(42))
	if f.NumFields() != 4 {
		t.Fatalf("NumFields() = %d, want 4", f.NumFields())
	}
	e, err := f.Field(3)
	if v, _ := e.Int(); err != nil || v != 42 {
		t.Errorf("Field(3) = %v, %v", e, err)
	}
	e, err = f.Field(1)
	if err != nil || !e.IsInt() {
		t.Errorf("gap field = %v, %v", e, err)
	}
}

func TestFrameSetFieldReleasesPrevious(t *testing.T) {
	r := value.IntScalar(1)
	keep := r.Clone()
	defer keep.Release()

	fs := NewFrameStack()
	f := fs.Push(0)
	f.SetField(0, ObjectEntry(r))
	f.SetField(0, IntEntry(2))
	if n := object.RefCount(keep.Get()); n != 1 {
		t.Errorf("refcount = %d, want 1", n)
	}
}

func TestFrameStackPop(t *testing.T) {
	fs := NewFrameStack()
	fs.Push(7)
	fs.Push(11).BindArgs([]Entry{IntEntry(1)})

	top, err := fs.Top()
	if err != nil || top.ReturnAddress() != 11 || top.NumArgs() != 1 {
		t.Fatalf("Top() = %+v, %v", top, err)
	}
	if ret, err := fs.Pop(); err != nil || ret != 11 {
		t.Errorf("Pop() = %d, %v", ret, err)
	}
	if ret, err := fs.Pop(); err != nil || ret != 7 {
		t.Errorf("Pop() = %d, %v", ret, err)
	}
	if _, err := fs.Pop(); !errors.Is(err, ErrStackUnderflow) {
		t.Errorf("Pop on empty frame stack: err = %v", err)
	}
	if _, err := fs.Top(); !errors.Is(err, ErrStackUnderflow) {
		t.Errorf("Top on empty frame stack: err = %v", err)
	}
}

func TestFrameArgOutOfRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Arg(1) on a one-argument frame did not panic")
		}
	}()
	fs := NewFrameStack()
	fs.Push(0).BindArgs([]Entry{IntEntry(1)})
	top, _ := fs.Top()
	top.Arg(1)
}
