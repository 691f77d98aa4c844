package vm

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/chazu/tensorvm/object"
)

// EntryKind tags the active variant of an Entry.
type EntryKind uint8

const (
	EntryInt EntryKind = iota
	EntryFloat
	EntryShape
	EntryObject
)

func (k EntryKind) String() string {
	switch k {
	case EntryInt:
		return "int"
	case EntryFloat:
		return "float"
	case EntryShape:
		return "shape"
	case EntryObject:
		return "object"
	}
	return "EntryKind(" + strconv.Itoa(int(k)) + ")"
}

// Entry is one evaluation stack slot: a pointer-width integer, a float32, a
// dimension list or an object reference. The zero Entry is the integer 0.
//
// An object Entry owns one reference. Entries popped from the stack pass
// that ownership to the caller, who must Release them or push them again.
type Entry struct {
	kind  EntryKind
	i     int64
	f     float32
	shape []int
	obj   object.Ref[object.Object]
}

// IntEntry returns an integer entry.
func IntEntry(v int64) Entry { return Entry{kind: EntryInt, i: v} }

// FloatEntry returns a float entry.
func FloatEntry(v float32) Entry { return Entry{kind: EntryFloat, f: v} }

// ShapeEntry returns a shape entry. dims is copied.
func ShapeEntry(dims []int) Entry { return Entry{kind: EntryShape, shape: slices.Clone(dims)} }

// ObjectEntry moves r into an entry.
func ObjectEntry[T object.Object](r object.Ref[T]) Entry {
	return Entry{kind: EntryObject, obj: r.Erase()}
}

// Kind reports which variant e holds.
func (e Entry) Kind() EntryKind { return e.kind }

// IsInt reports whether e holds an integer.
func (e Entry) IsInt() bool { return e.kind == EntryInt }

// IsFloat reports whether e holds a float.
func (e Entry) IsFloat() bool { return e.kind == EntryFloat }

// IsShape reports whether e holds a shape.
func (e Entry) IsShape() bool { return e.kind == EntryShape }

// IsObject reports whether e holds an object reference.
func (e Entry) IsObject() bool { return e.kind == EntryObject }

func (e Entry) mismatch(want EntryKind) error {
	return fmt.Errorf("%w: expected %s entry, got %s", ErrIllegalInstruction, want, e.kind)
}

// Int returns the integer payload.
func (e Entry) Int() (int64, error) {
	if e.kind != EntryInt {
		return 0, e.mismatch(EntryInt)
	}
	return e.i, nil
}

// Uint returns the integer payload reinterpreted as unsigned.
func (e Entry) Uint() (uint64, error) {
	v, err := e.Int()
	return uint64(v), err
}

// Float returns the float payload.
func (e Entry) Float() (float32, error) {
	if e.kind != EntryFloat {
		return 0, e.mismatch(EntryFloat)
	}
	return e.f, nil
}

// Shape returns the dimension payload. The slice is borrowed.
func (e Entry) Shape() ([]int, error) {
	if e.kind != EntryShape {
		return nil, e.mismatch(EntryShape)
	}
	return e.shape, nil
}

// Object returns the referenced object, borrowed from the entry.
func (e Entry) Object() (object.Object, error) {
	if e.kind != EntryObject {
		return nil, e.mismatch(EntryObject)
	}
	return e.obj.Get(), nil
}

// TakeObject moves the object reference out of an object entry.
func (e *Entry) TakeObject() (object.Ref[object.Object], error) {
	if e.kind != EntryObject {
		return object.Ref[object.Object]{}, e.mismatch(EntryObject)
	}
	r := e.obj.Take()
	*e = Entry{}
	return r, nil
}

// ---------------------------------------------------------------------------
// Narrowing views of the integer variant
// ---------------------------------------------------------------------------

func (e Entry) I1() (int8, error)   { v, err := e.Int(); return int8(v), err }
func (e Entry) I2() (int16, error)  { v, err := e.Int(); return int16(v), err }
func (e Entry) I4() (int32, error)  { v, err := e.Int(); return int32(v), err }
func (e Entry) U1() (uint8, error)  { v, err := e.Int(); return uint8(v), err }
func (e Entry) U2() (uint16, error) { v, err := e.Int(); return uint16(v), err }
func (e Entry) U4() (uint32, error) { v, err := e.Int(); return uint32(v), err }

// ---------------------------------------------------------------------------
// Ownership
// ---------------------------------------------------------------------------

// Clone returns a copy that holds its own object reference.
func (e Entry) Clone() Entry {
	switch e.kind {
	case EntryObject:
		return Entry{kind: EntryObject, obj: e.obj.Clone()}
	case EntryShape:
		return Entry{kind: EntryShape, shape: slices.Clone(e.shape)}
	}
	return e
}

// Release drops the object reference of an object entry.
func (e *Entry) Release() {
	if e.kind == EntryObject {
		e.obj.Release()
	}
	*e = Entry{}
}

func (e Entry) String() string {
	switch e.kind {
	case EntryInt:
		return strconv.FormatInt(e.i, 10)
	case EntryFloat:
		return strconv.FormatFloat(float64(e.f), 'g', -1, 32)
	case EntryShape:
		return fmt.Sprint(e.shape)
	case EntryObject:
		if e.obj.Empty() {
			return "<empty>"
		}
		return "<" + e.obj.Get().Kind().Name + ">"
	}
	return "?"
}
