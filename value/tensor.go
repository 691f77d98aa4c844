package value

import (
	"fmt"
	"slices"

	"github.com/chazu/tensorvm/object"
)

// Tensor is a strided view over a buffer slice. Strides are counted in
// elements.
type Tensor struct {
	object.Header
	dtype   object.Ref[Datatype]
	shape   []int
	strides []int
	length  int
	buffer  BufferSlice
}

// NewTensor assembles a tensor view. dtype is borrowed; buffer is owned by
// the tensor from here on, also when an error is returned. Nil strides mean
// row-major.
func NewTensor(dtype Datatype, shape, strides []int, buffer BufferSlice) (object.Ref[*Tensor], error) {
	if strides == nil {
		strides = DefaultStrides(shape)
	}
	length, err := checkLayout(dtype, shape, strides, buffer.SizeBytes())
	if err != nil {
		buffer.Release()
		return object.Ref[*Tensor]{}, err
	}
	t := &Tensor{
		dtype:   object.Retain(dtype),
		shape:   slices.Clone(shape),
		strides: slices.Clone(strides),
		length:  length,
		buffer:  buffer,
	}
	return object.New(t), nil
}

// NewHostTensor wraps data as a contiguous tensor.
func NewHostTensor(dtype Datatype, shape []int, data []byte) (object.Ref[*Tensor], error) {
	return NewTensor(dtype, shape, nil, WholeBuffer(BufferRef(NewHostBuffer(data))))
}

// AllocHostTensor allocates a zeroed contiguous host tensor.
func AllocHostTensor(dtype Datatype, shape []int) (object.Ref[*Tensor], error) {
	size, err := ContiguousBytes(dtype.SizeBytes(), shape)
	if err != nil {
		return object.Ref[*Tensor]{}, err
	}
	return NewHostTensor(dtype, shape, make([]byte, size))
}

// checkLayout validates a view and returns its element count.
func checkLayout(dtype Datatype, shape, strides []int, available int) (int, error) {
	length, err := ElementCount(shape)
	if err != nil {
		return 0, err
	}
	need, err := ByteLength(dtype.SizeBytes(), shape, strides)
	if err != nil {
		return 0, err
	}
	if need > available {
		return 0, fmt.Errorf("%w: view needs %d bytes, buffer has %d", ErrShapeMismatch, need, available)
	}
	return length, nil
}

func (t *Tensor) Kind() *object.Kind { return KindTensor }

// Datatype returns the element type. The tensor keeps its reference.
func (t *Tensor) Datatype() Datatype { return t.dtype.Get() }

// Shape returns the extents, outermost first.
func (t *Tensor) Shape() []int { return t.shape }

// Strides returns the per-dimension strides in elements.
func (t *Tensor) Strides() []int { return t.strides }

// Length returns the element count.
func (t *Tensor) Length() int { return t.length }

// Buffer returns the viewed range. The tensor keeps ownership.
func (t *Tensor) Buffer() BufferSlice { return t.buffer }

// IsContiguous reports whether the strides are the row-major strides of the
// shape.
func (t *Tensor) IsContiguous() bool {
	return slices.Equal(t.strides, DefaultStrides(t.shape))
}

// Destroy releases the datatype and the buffer reference.
func (t *Tensor) Destroy() {
	t.buffer.Release()
	t.dtype.Release()
}

// HostBytes returns the bytes backing the view, starting at its first
// element.
func (t *Tensor) HostBytes() ([]byte, error) {
	data, ok := t.buffer.Host()
	if !ok {
		return nil, fmt.Errorf("%w: tensor buffer is not host-addressable", ErrNotSupported)
	}
	return data, nil
}

// ToHost returns a tensor whose buffer lives in host memory: the receiver
// itself when it already does, otherwise a contiguous copy.
func (t *Tensor) ToHost() (object.Ref[*Tensor], error) {
	if _, ok := t.buffer.Host(); ok {
		return object.Retain(t), nil
	}
	copier, ok := t.buffer.Buffer().(HostCopier)
	if !ok {
		return object.Ref[*Tensor]{}, fmt.Errorf("%w: %s cannot be materialized on host",
			ErrNotSupported, t.buffer.Buffer().Kind().Name)
	}
	data, err := copier.CopyToHost()
	if err != nil {
		return object.Ref[*Tensor]{}, err
	}
	slice, err := NewBufferSlice(BufferRef(NewHostBuffer(data)), t.buffer.Start(), t.buffer.SizeBytes())
	if err != nil {
		return object.Ref[*Tensor]{}, err
	}
	return NewTensor(t.Datatype(), t.shape, t.strides, slice)
}

// CopyTo copies elements into a tensor of the same datatype and shape, or
// into a scalar when the tensor has exactly one element.
func (t *Tensor) CopyTo(dest Value) error {
	src, err := t.HostBytes()
	if err != nil {
		return err
	}
	elem := t.Datatype().SizeBytes()

	switch d := dest.(type) {
	case *Tensor:
		if !d.Datatype().Equals(t.Datatype()) {
			return fmt.Errorf("%w: copy %s into %s", ErrDatatypeMismatch, t.Datatype(), d.Datatype())
		}
		if !slices.Equal(d.shape, t.shape) {
			return fmt.Errorf("%w: copy %v into %v", ErrShapeMismatch, t.shape, d.shape)
		}
		dst, err := d.HostBytes()
		if err != nil {
			return err
		}
		if t.IsContiguous() && d.IsContiguous() {
			copy(dst[:t.length*elem], src[:t.length*elem])
			return nil
		}
		forEachIndex(t.shape, func(idx []int) {
			so := offsetOf(idx, t.strides) * elem
			do := offsetOf(idx, d.strides) * elem
			copy(dst[do:do+elem], src[so:so+elem])
		})
		return nil

	case *Scalar:
		if t.length != 1 {
			return fmt.Errorf("%w: %d-element tensor into scalar", ErrShapeMismatch, t.length)
		}
		if !d.Datatype().Equals(t.Datatype()) {
			return fmt.Errorf("%w: copy %s into %s", ErrDatatypeMismatch, t.Datatype(), d.Datatype())
		}
		d.bits = decodeBits(t.Datatype().TypeCode(), src[:elem])
		return nil
	}
	return fmt.Errorf("%w: copy tensor into %s", ErrNotSupported, dest.Kind().Name)
}

// ElementBytes returns the bytes of the element at idx.
func (t *Tensor) ElementBytes(idx ...int) ([]byte, error) {
	if len(idx) != len(t.shape) {
		return nil, fmt.Errorf("%w: index rank %d for shape %v", ErrShapeMismatch, len(idx), t.shape)
	}
	for i, x := range idx {
		if x < 0 || x >= t.shape[i] {
			return nil, fmt.Errorf("%w: index %v for shape %v", ErrResultOutOfRange, idx, t.shape)
		}
	}
	data, err := t.HostBytes()
	if err != nil {
		return nil, err
	}
	elem := t.Datatype().SizeBytes()
	off := offsetOf(idx, t.strides) * elem
	return data[off : off+elem], nil
}

func offsetOf(idx, strides []int) int {
	off := 0
	for i, x := range idx {
		off += x * strides[i]
	}
	return off
}

// forEachIndex visits every index of shape in row-major order.
func forEachIndex(shape []int, fn func(idx []int)) {
	if Product(shape) == 0 {
		return
	}
	idx := make([]int, len(shape))
	for {
		fn(idx)
		i := len(shape) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < shape[i] {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return
		}
	}
}
