package object

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrInvalidArgument is returned when a handle is downcast to a kind the
// object does not belong to.
var ErrInvalidArgument = errors.New("invalid argument")

// ---------------------------------------------------------------------------
// Object: the universal heap entity
// ---------------------------------------------------------------------------

// Object is implemented by every heap value. Concrete types embed Header,
// which supplies the reference count and identity equality.
type Object interface {
	Kind() *Kind
	Equals(other Object) bool
	header() *Header
}

// Destroyer is implemented by objects that own resources which must be
// released when the last reference goes away.
type Destroyer interface {
	Destroy()
}

// Header carries the atomic reference count. Embed it by value.
type Header struct {
	refs atomic.Int32
}

func (h *Header) header() *Header { return h }

// Equals compares by identity. Value-like kinds override it.
func (h *Header) Equals(other Object) bool {
	return other != nil && other.header() == h
}

// RefCount returns the current strong reference count of o.
func RefCount(o Object) int32 {
	return o.header().refs.Load()
}

// IsA reports whether o's kind is k or derives from it.
func IsA(o Object, k *Kind) bool {
	return o != nil && o.Kind().IsA(k)
}

func retain(o Object) {
	o.header().refs.Add(1)
}

// release drops one reference and destroys o on the 1 -> 0 transition.
// It reports whether this call destroyed the object.
func release(o Object) bool {
	n := o.header().refs.Add(-1)
	switch {
	case n == 0:
		if d, ok := o.(Destroyer); ok {
			d.Destroy()
		}
		return true
	case n < 0:
		panic(fmt.Sprintf("object: %s released more often than retained", o.Kind().Name))
	}
	return false
}

// ---------------------------------------------------------------------------
// Ref: owning smart handle
// ---------------------------------------------------------------------------

// Ref owns one strong reference to an object. The zero Ref is empty.
//
// Copying a Ref struct does not add a reference; use Clone for that and Take
// to move ownership explicitly. Every owning Ref must eventually be Released
// or Detached.
type Ref[T Object] struct {
	obj   T
	valid bool
}

// New takes a freshly constructed object, sets its count to one and returns
// the owning handle.
func New[T Object](obj T) Ref[T] {
	h := obj.header()
	if !h.refs.CompareAndSwap(0, 1) {
		panic(fmt.Sprintf("object: %s constructed twice", obj.Kind().Name))
	}
	return Ref[T]{obj: obj, valid: true}
}

// Retain returns a new owning handle to an object the caller only borrows.
func Retain[T Object](obj T) Ref[T] {
	retain(obj)
	return Ref[T]{obj: obj, valid: true}
}

// TryRetain is Retain for objects reached through a registry that holds no
// reference. It fails once the count has dropped to zero.
func TryRetain[T Object](obj T) (Ref[T], bool) {
	h := obj.header()
	for {
		n := h.refs.Load()
		if n <= 0 {
			return Ref[T]{}, false
		}
		if h.refs.CompareAndSwap(n, n+1) {
			return Ref[T]{obj: obj, valid: true}, true
		}
	}
}

// Adopt wraps obj in a handle without touching its count. It is the inverse
// of Detach.
func Adopt[T Object](obj T) Ref[T] {
	return Ref[T]{obj: obj, valid: true}
}

// Get returns the referenced object. The result is borrowed.
func (r Ref[T]) Get() T {
	return r.obj
}

// Empty reports whether r holds no reference.
func (r Ref[T]) Empty() bool {
	return !r.valid
}

// Clone adds a reference and returns a second owning handle.
func (r Ref[T]) Clone() Ref[T] {
	if !r.valid {
		return Ref[T]{}
	}
	retain(r.obj)
	return r
}

// Take moves ownership out of r, leaving it empty.
func (r *Ref[T]) Take() Ref[T] {
	out := *r
	*r = Ref[T]{}
	return out
}

// Release drops the reference held by r and empties it. It reports whether
// the object was destroyed by this call.
func (r *Ref[T]) Release() bool {
	if !r.valid {
		return false
	}
	obj := r.obj
	*r = Ref[T]{}
	return release(obj)
}

// Detach empties r and returns the object without releasing it. The caller
// becomes responsible for the reference.
func (r *Ref[T]) Detach() T {
	obj := r.obj
	*r = Ref[T]{}
	return obj
}

// Is reports whether the referenced object is of kind k.
func (r Ref[T]) Is(k *Kind) bool {
	return r.valid && r.obj.Kind().IsA(k)
}

// Erase moves r into an untyped handle.
func (r *Ref[T]) Erase() Ref[Object] {
	if !r.valid {
		return Ref[Object]{}
	}
	obj := r.Detach()
	return Ref[Object]{obj: obj, valid: true}
}

// ---------------------------------------------------------------------------
// Downcasts
// ---------------------------------------------------------------------------

// As returns a new handle of type U sharing ownership with r. It fails with
// ErrInvalidArgument when the object is not a U.
func As[U Object, T Object](r Ref[T]) (Ref[U], error) {
	u, err := downcast[U](r)
	if err != nil {
		return Ref[U]{}, err
	}
	retain(u)
	return Ref[U]{obj: u, valid: true}, nil
}

// Into moves r into a handle of type U. On failure r keeps its reference.
func Into[U Object, T Object](r *Ref[T]) (Ref[U], error) {
	u, err := downcast[U](*r)
	if err != nil {
		return Ref[U]{}, err
	}
	*r = Ref[T]{}
	return Ref[U]{obj: u, valid: true}, nil
}

func downcast[U Object, T Object](r Ref[T]) (U, error) {
	var zero U
	if !r.valid {
		return zero, fmt.Errorf("%w: empty handle", ErrInvalidArgument)
	}
	u, ok := any(r.obj).(U)
	if !ok {
		return zero, fmt.Errorf("%w: %s is not a %T", ErrInvalidArgument, r.obj.Kind().Name, zero)
	}
	return u, nil
}
