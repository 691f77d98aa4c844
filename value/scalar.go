package value

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/chazu/tensorvm/object"
)

// Scalar is a single primitive value. Scalars compare by contents.
type Scalar struct {
	object.Header
	dtype *PrimType
	bits  uint64 // little-endian element bits, zero-extended
}

// NewScalar builds a scalar of a primitive type from raw element bits.
func NewScalar(code TypeCode, bits uint64) (object.Ref[*Scalar], error) {
	p, ok := Prim(code)
	if !ok {
		return object.Ref[*Scalar]{}, fmt.Errorf("%w: %s is not a scalar type", ErrDatatypeMismatch, code)
	}
	return object.New(&Scalar{dtype: p, bits: truncateBits(code, bits)}), nil
}

// IntScalar builds an int64 scalar.
func IntScalar(v int64) object.Ref[*Scalar] {
	return object.New(&Scalar{dtype: MustPrim(Int64), bits: uint64(v)})
}

// FloatScalar builds a float32 scalar.
func FloatScalar(v float32) object.Ref[*Scalar] {
	return object.New(&Scalar{dtype: MustPrim(Float32), bits: uint64(math.Float32bits(v))})
}

func (s *Scalar) Kind() *object.Kind { return KindScalar }
func (s *Scalar) Datatype() Datatype { return s.dtype }
func (s *Scalar) TypeCode() TypeCode { return s.dtype.code }
func (s *Scalar) Bits() uint64       { return s.bits }
func (s *Scalar) IsFloat() bool      { return s.dtype.code.IsFloat() }

func (s *Scalar) Equals(other object.Object) bool {
	o, ok := other.(*Scalar)
	return ok && o.dtype.code == s.dtype.code && o.bits == s.bits
}

// Int returns the value as a signed integer, sign-extending signed codes and
// truncating floats.
func (s *Scalar) Int() int64 {
	return BitsToInt(s.dtype.code, s.bits)
}

// Float returns the value as a float32.
func (s *Scalar) Float() float32 {
	return BitsToFloat(s.dtype.code, s.bits)
}

// Bytes returns the little-endian element encoding.
func (s *Scalar) Bytes() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, s.bits)
	return buf[:s.dtype.SizeBytes()]
}

// CopyTo copies into a scalar or one-element tensor of the same datatype.
func (s *Scalar) CopyTo(dest Value) error {
	switch d := dest.(type) {
	case *Scalar:
		if d.dtype.code != s.dtype.code {
			return fmt.Errorf("%w: copy %s into %s", ErrDatatypeMismatch, s.dtype, d.dtype)
		}
		d.bits = s.bits
		return nil
	case *Tensor:
		if !d.Datatype().Equals(s.dtype) {
			return fmt.Errorf("%w: copy %s into %s", ErrDatatypeMismatch, s.dtype, d.Datatype())
		}
		if d.Length() != 1 {
			return fmt.Errorf("%w: scalar into %v tensor", ErrShapeMismatch, d.Shape())
		}
		dst, err := d.HostBytes()
		if err != nil {
			return err
		}
		copy(dst, s.Bytes())
		return nil
	}
	return fmt.Errorf("%w: copy scalar into %s", ErrNotSupported, dest.Kind().Name)
}

func (s *Scalar) String() string {
	if s.IsFloat() {
		return fmt.Sprintf("%s(%g)", s.dtype, s.Float())
	}
	return fmt.Sprintf("%s(%d)", s.dtype, s.Int())
}

// ---------------------------------------------------------------------------
// Element bit helpers
// ---------------------------------------------------------------------------

func truncateBits(code TypeCode, bits uint64) uint64 {
	switch code.Size() {
	case 1:
		return bits & 0xFF
	case 2:
		return bits & 0xFFFF
	case 4:
		return bits & 0xFFFFFFFF
	}
	return bits
}

func decodeBits(code TypeCode, b []byte) uint64 {
	switch code.Size() {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	}
	return binary.LittleEndian.Uint64(b)
}

// DecodeElement reads one element of type code from the front of b.
func DecodeElement(code TypeCode, b []byte) (uint64, error) {
	if !code.IsPrimitive() {
		return 0, fmt.Errorf("%w: %s is not a scalar type", ErrDatatypeMismatch, code)
	}
	if len(b) < code.Size() {
		return 0, fmt.Errorf("%w: %d bytes for %s", ErrResultOutOfRange, len(b), code)
	}
	return decodeBits(code, b), nil
}

// BitsToInt interprets element bits of code as a signed integer.
func BitsToInt(code TypeCode, bits uint64) int64 {
	switch code {
	case Int8:
		return int64(int8(bits))
	case Int16:
		return int64(int16(bits))
	case Int32:
		return int64(int32(bits))
	case Float16, BFloat16, Float32, Float64:
		return int64(BitsToFloat(code, bits))
	}
	return int64(bits)
}

// BitsToFloat interprets element bits of code as a float32.
func BitsToFloat(code TypeCode, bits uint64) float32 {
	switch code {
	case Float16:
		return Float16ToFloat32(uint16(bits))
	case BFloat16:
		return BFloat16ToFloat32(uint16(bits))
	case Float32:
		return math.Float32frombits(uint32(bits))
	case Float64:
		return float32(math.Float64frombits(bits))
	}
	if code.IsSigned() {
		return float32(BitsToInt(code, bits))
	}
	return float32(bits)
}
