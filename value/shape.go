package value

import (
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"
)

// Dim is one dimension of a Shape. UnknownDim marks a dimension whose extent
// is only known at run time.
type Dim int64

const UnknownDim Dim = -1

// ShapeKind classifies a Shape.
type ShapeKind uint8

const (
	ShapeInvalid ShapeKind = iota
	ShapeUnranked
	ShapeHasUnknownDim
	ShapeFixed
)

func (k ShapeKind) String() string {
	switch k {
	case ShapeUnranked:
		return "unranked"
	case ShapeHasUnknownDim:
		return "has_unknown_dim"
	case ShapeFixed:
		return "fixed"
	default:
		return "invalid"
	}
}

// Shape is a declared dimension sequence as it appears in function
// signatures. Runtime tensors always carry concrete []int dimensions.
type Shape struct {
	kind ShapeKind
	dims []Dim
}

// NewShape builds a ranked shape.
func NewShape(dims ...Dim) Shape {
	s := Shape{dims: append([]Dim(nil), dims...)}
	s.update()
	return s
}

// FixedShape builds a shape from concrete extents.
func FixedShape(dims ...int) Shape {
	s := Shape{dims: make([]Dim, len(dims))}
	for i, d := range dims {
		s.dims[i] = Dim(d)
	}
	s.update()
	return s
}

// UnrankedShape returns a shape whose rank is unknown.
func UnrankedShape() Shape { return Shape{kind: ShapeUnranked} }

// InvalidShape returns the error sentinel shape.
func InvalidShape() Shape { return Shape{kind: ShapeInvalid} }

func (s *Shape) update() {
	s.kind = ShapeFixed
	for _, d := range s.dims {
		switch {
		case d == UnknownDim:
			s.kind = ShapeHasUnknownDim
		case d < 0:
			s.kind = ShapeInvalid
			return
		}
	}
}

func (s Shape) Kind() ShapeKind { return s.kind }
func (s Shape) IsFixed() bool   { return s.kind == ShapeFixed }
func (s Shape) IsInvalid() bool { return s.kind == ShapeInvalid }

// IsRanked holds for fixed shapes and shapes with unknown dimensions.
func (s Shape) IsRanked() bool {
	return s.kind == ShapeFixed || s.kind == ShapeHasUnknownDim
}

// Rank returns the number of dimensions; it is meaningful only when ranked.
func (s Shape) Rank() int { return len(s.dims) }

// Dims returns a copy of the dimension list.
func (s Shape) Dims() []Dim { return append([]Dim(nil), s.dims...) }

// Dim returns dimension i.
func (s Shape) Dim(i int) (Dim, error) {
	if i < 0 || i >= len(s.dims) {
		return 0, fmt.Errorf("%w: dim %d of %s shape", ErrResultOutOfRange, i, s)
	}
	return s.dims[i], nil
}

// SetDim replaces dimension i and recomputes the kind.
func (s *Shape) SetDim(i int, d Dim) error {
	if i < 0 || i >= len(s.dims) {
		return fmt.Errorf("%w: dim %d of %s shape", ErrResultOutOfRange, i, s)
	}
	s.dims[i] = d
	s.update()
	return nil
}

// Concrete returns the extents of a fixed shape.
func (s Shape) Concrete() ([]int, error) {
	if !s.IsFixed() {
		return nil, fmt.Errorf("%w: %s shape has no concrete extents", ErrShapeMismatch, s.kind)
	}
	out := make([]int, len(s.dims))
	for i, d := range s.dims {
		out[i] = int(d)
	}
	return out, nil
}

// Accepts reports whether concrete extents satisfy the declared shape.
func (s Shape) Accepts(dims []int) bool {
	switch s.kind {
	case ShapeUnranked:
		return true
	case ShapeInvalid:
		return false
	}
	if len(dims) != len(s.dims) {
		return false
	}
	for i, d := range s.dims {
		if d != UnknownDim && int(d) != dims[i] {
			return false
		}
	}
	return true
}

// String implements the Stringer interface.
func (s Shape) String() string {
	switch s.kind {
	case ShapeUnranked:
		return "[*]"
	case ShapeInvalid:
		return "[invalid]"
	}
	parts := make([]string, len(s.dims))
	for i, d := range s.dims {
		if d == UnknownDim {
			parts[i] = "?"
		} else {
			parts[i] = strconv.FormatInt(int64(d), 10)
		}
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// ---------------------------------------------------------------------------
// Concrete dimension helpers
// ---------------------------------------------------------------------------

// Product returns the element count of a concrete shape. The empty shape
// (a scalar) has one element. Callers validate dims with ElementCount first.
func Product(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}

// ElementCount is Product with validation: extents must be non-negative and
// the count must fit in an int.
func ElementCount(dims []int) (int, error) {
	for _, d := range dims {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative extent in %v", ErrShapeMismatch, dims)
		}
		if d == 0 {
			return 0, nil
		}
	}
	n := 1
	for _, d := range dims {
		var ok bool
		if n, ok = mulInt(n, d); !ok {
			return 0, fmt.Errorf("%w: element count of %v overflows", ErrResultOutOfRange, dims)
		}
	}
	return n, nil
}

// ContiguousBytes returns the byte size of a row-major buffer holding dims.
func ContiguousBytes(elemSize int, dims []int) (int, error) {
	n, err := ElementCount(dims)
	if err != nil {
		return 0, err
	}
	size, ok := mulInt(n, elemSize)
	if !ok {
		return 0, fmt.Errorf("%w: %v elements of %d bytes overflow", ErrResultOutOfRange, dims, elemSize)
	}
	return size, nil
}

// DefaultStrides returns the row-major element strides of dims.
func DefaultStrides(dims []int) []int {
	strides := make([]int, len(dims))
	acc := 1
	for i := len(dims) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= dims[i]
	}
	return strides
}

// ByteLength returns the number of bytes a strided view over dims touches
// for elements of elemSize bytes. Extents and strides must be non-negative.
func ByteLength(elemSize int, dims, strides []int) (int, error) {
	if len(dims) != len(strides) {
		return 0, fmt.Errorf("%w: %d strides for rank %d", ErrShapeMismatch, len(strides), len(dims))
	}
	if len(dims) == 0 {
		return elemSize, nil
	}
	for i, d := range dims {
		if d < 0 || strides[i] < 0 {
			return 0, fmt.Errorf("%w: negative extent or stride in %v/%v", ErrShapeMismatch, dims, strides)
		}
		if d == 0 {
			return 0, nil
		}
	}
	span := 0
	for i, d := range dims {
		step, ok := mulInt(d-1, strides[i])
		if ok {
			span, ok = addInt(span, step)
		}
		if !ok {
			return 0, fmt.Errorf("%w: view %v/%v overflows", ErrResultOutOfRange, dims, strides)
		}
	}
	elems, ok := addInt(span, 1)
	if ok {
		span, ok = mulInt(elems, elemSize)
	}
	if !ok {
		return 0, fmt.Errorf("%w: view %v/%v overflows", ErrResultOutOfRange, dims, strides)
	}
	return span, nil
}

// mulInt and addInt operate on non-negative ints and report whether the
// result fits.
func mulInt(a, b int) (int, bool) {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 || lo > math.MaxInt {
		return 0, false
	}
	return int(lo), true
}

func addInt(a, b int) (int, bool) {
	sum, carry := bits.Add64(uint64(a), uint64(b), 0)
	if carry != 0 || sum > math.MaxInt {
		return 0, false
	}
	return int(sum), true
}
