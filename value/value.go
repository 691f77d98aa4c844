package value

import (
	"github.com/chazu/tensorvm/object"
)

var (
	KindValue  = object.DefineKind("value", object.KindObject)
	KindTensor = object.DefineKind("tensor", KindValue)
	KindTuple  = object.DefineKind("tuple", KindValue)
	KindScalar = object.DefineKind("scalar", KindValue)
)

// Value is anything a function accepts or returns: tensors, tuples and
// scalars.
type Value interface {
	object.Object

	// CopyTo copies the contents of the receiver into dest, which must have
	// a compatible datatype and shape.
	CopyTo(dest Value) error
}

// ValueRef moves a typed value handle into a Ref[Value].
func ValueRef[T Value](r object.Ref[T]) object.Ref[Value] {
	if r.Empty() {
		return object.Ref[Value]{}
	}
	var v Value = r.Detach()
	return object.Adopt(v)
}
