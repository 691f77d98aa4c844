package value

import (
	"fmt"

	"github.com/chazu/tensorvm/object"
)

// Tuple is an immutable sequence of values. Fields are fixed at
// construction, so a tuple can never reach itself and plain reference
// counting is enough to reclaim it.
type Tuple struct {
	object.Header
	fields []object.Ref[Value]
}

// NewTuple takes ownership of fields.
func NewTuple(fields []object.Ref[Value]) object.Ref[*Tuple] {
	return object.New(&Tuple{fields: fields})
}

func (t *Tuple) Kind() *object.Kind { return KindTuple }
func (t *Tuple) Len() int           { return len(t.fields) }

// Field returns field i, borrowed.
func (t *Tuple) Field(i int) (Value, error) {
	if i < 0 || i >= len(t.fields) {
		return nil, fmt.Errorf("%w: field %d of %d-tuple", ErrResultOutOfRange, i, len(t.fields))
	}
	return t.fields[i].Get(), nil
}

// Destroy releases every field.
func (t *Tuple) Destroy() {
	for i := range t.fields {
		t.fields[i].Release()
	}
}

// CopyTo copies field by field into a tuple of the same arity.
func (t *Tuple) CopyTo(dest Value) error {
	d, ok := dest.(*Tuple)
	if !ok {
		return fmt.Errorf("%w: copy tuple into %s", ErrNotSupported, dest.Kind().Name)
	}
	if len(d.fields) != len(t.fields) {
		return fmt.Errorf("%w: copy %d-tuple into %d-tuple", ErrShapeMismatch, len(t.fields), len(d.fields))
	}
	for i := range t.fields {
		if err := t.fields[i].Get().CopyTo(d.fields[i].Get()); err != nil {
			return fmt.Errorf("tuple field %d: %w", i, err)
		}
	}
	return nil
}
