// Package value implements the tensor value model of the runtime: element
// datatypes, shapes, buffers and the value objects (tensors, tuples,
// scalars) that bytecode operands reference.
package value

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/chazu/tensorvm/object"
)

var (
	ErrDatatypeMismatch  = errors.New("datatype mismatch")
	ErrShapeMismatch     = errors.New("shape mismatch")
	ErrResultOutOfRange  = errors.New("result out of range")
	ErrNotSupported      = errors.New("not supported")
	ErrMalformedDatatype = errors.New("malformed datatype descriptor")
)

// ---------------------------------------------------------------------------
// TypeCode
// ---------------------------------------------------------------------------

// TypeCode identifies the binary representation of an element.
type TypeCode uint8

const (
	Boolean   TypeCode = 0x00
	Utf8Char  TypeCode = 0x01
	Int8      TypeCode = 0x02
	Int16     TypeCode = 0x03
	Int32     TypeCode = 0x04
	Int64     TypeCode = 0x05
	UInt8     TypeCode = 0x06
	UInt16    TypeCode = 0x07
	UInt32    TypeCode = 0x08
	UInt64    TypeCode = 0x09
	Float16   TypeCode = 0x0A
	Float32   TypeCode = 0x0B
	Float64   TypeCode = 0x0C
	BFloat16  TypeCode = 0x0D
	Pointer   TypeCode = 0xF0
	ValueCode TypeCode = 0xF1
)

// PointerSize is the width of an address on the runtime's host.
const PointerSize = 8

type typeCodeInfo struct {
	name   string
	size   int
	signed bool
	float  bool
}

var typeCodeTable = map[TypeCode]typeCodeInfo{
	Boolean:  {"bool", 1, false, false},
	Utf8Char: {"utf8char", 1, false, false},
	Int8:     {"int8", 1, true, false},
	Int16:    {"int16", 2, true, false},
	Int32:    {"int32", 4, true, false},
	Int64:    {"int64", 8, true, false},
	UInt8:    {"uint8", 1, false, false},
	UInt16:   {"uint16", 2, false, false},
	UInt32:   {"uint32", 4, false, false},
	UInt64:   {"uint64", 8, false, false},
	Float16:  {"float16", 2, true, true},
	Float32:  {"float32", 4, true, true},
	Float64:  {"float64", 8, true, true},
	BFloat16: {"bfloat16", 2, true, true},
}

// IsPrimitive reports whether c names a fixed-width primitive type.
func (c TypeCode) IsPrimitive() bool {
	_, ok := typeCodeTable[c]
	return ok
}

// IsFloat reports whether c is one of the floating point codes.
func (c TypeCode) IsFloat() bool {
	return typeCodeTable[c].float
}

// IsSigned reports whether c is a signed integer or float code.
func (c TypeCode) IsSigned() bool {
	return typeCodeTable[c].signed
}

// Size returns the byte width of a primitive code, PointerSize for pointers
// and 0 for value types (whose size lives in the descriptor).
func (c TypeCode) Size() int {
	if c == Pointer {
		return PointerSize
	}
	return typeCodeTable[c].size
}

// String implements the Stringer interface.
func (c TypeCode) String() string {
	switch c {
	case Pointer:
		return "pointer"
	case ValueCode:
		return "valuetype"
	}
	if info, ok := typeCodeTable[c]; ok {
		return info.name
	}
	return fmt.Sprintf("typecode(0x%02X)", uint8(c))
}

// ---------------------------------------------------------------------------
// Datatype kinds
// ---------------------------------------------------------------------------

var (
	KindDatatype    = object.DefineKind("datatype", object.KindObject)
	KindPrimType    = object.DefineKind("prim_type", KindDatatype)
	KindPointerType = object.DefineKind("pointer_type", KindDatatype)
	KindValueType   = object.DefineKind("value_type", KindDatatype)
)

// Datatype describes the element type of a tensor or scalar. TypeCode and
// SizeBytes never change after construction.
type Datatype interface {
	object.Object
	TypeCode() TypeCode
	SizeBytes() int
	String() string
}

// PrimType is a fixed-width primitive element type. Instances are
// process-wide singletons obtained through Prim.
type PrimType struct {
	object.Header
	code TypeCode
}

func (p *PrimType) Kind() *object.Kind { return KindPrimType }
func (p *PrimType) TypeCode() TypeCode { return p.code }
func (p *PrimType) SizeBytes() int     { return p.code.Size() }
func (p *PrimType) String() string     { return p.code.String() }

func (p *PrimType) Equals(other object.Object) bool {
	o, ok := other.(*PrimType)
	return ok && o.code == p.code
}

var primTypes = func() map[TypeCode]*PrimType {
	m := make(map[TypeCode]*PrimType, len(typeCodeTable))
	for code := range typeCodeTable {
		r := object.New(&PrimType{code: code})
		// The table keeps its reference forever.
		m[code] = r.Detach()
	}
	return m
}()

// Prim returns the singleton for a primitive type code.
func Prim(code TypeCode) (*PrimType, bool) {
	p, ok := primTypes[code]
	return p, ok
}

// MustPrim is Prim for codes known to be primitive.
func MustPrim(code TypeCode) *PrimType {
	p, ok := primTypes[code]
	if !ok {
		panic(fmt.Sprintf("value: %s is not a primitive type", code))
	}
	return p
}

// PointerType is a pointer to an element datatype.
type PointerType struct {
	object.Header
	elem object.Ref[Datatype]
}

// NewPointerType builds a pointer to elem. elem is borrowed.
func NewPointerType(elem Datatype) object.Ref[*PointerType] {
	return object.New(&PointerType{elem: object.Retain(elem)})
}

func (p *PointerType) Kind() *object.Kind { return KindPointerType }
func (p *PointerType) TypeCode() TypeCode { return Pointer }
func (p *PointerType) SizeBytes() int     { return PointerSize }
func (p *PointerType) Elem() Datatype     { return p.elem.Get() }
func (p *PointerType) String() string     { return "*" + p.elem.Get().String() }
func (p *PointerType) Destroy()           { p.elem.Release() }

func (p *PointerType) Equals(other object.Object) bool {
	o, ok := other.(*PointerType)
	return ok && o.elem.Get().Equals(p.elem.Get())
}

// ValueType is an opaque element type identified by a UUID.
type ValueType struct {
	object.Header
	id   uuid.UUID
	size int
}

// NewValueType builds an opaque value type of the given byte size.
func NewValueType(id uuid.UUID, size int) object.Ref[*ValueType] {
	return object.New(&ValueType{id: id, size: size})
}

func (v *ValueType) Kind() *object.Kind { return KindValueType }
func (v *ValueType) TypeCode() TypeCode { return ValueCode }
func (v *ValueType) SizeBytes() int     { return v.size }
func (v *ValueType) UUID() uuid.UUID    { return v.id }
func (v *ValueType) String() string     { return fmt.Sprintf("valuetype(%s, %d)", v.id, v.size) }

func (v *ValueType) Equals(other object.Object) bool {
	o, ok := other.(*ValueType)
	return ok && o.id == v.id && o.size == v.size
}

// DatatypeRef moves a typed datatype handle into a Ref[Datatype].
func DatatypeRef[T Datatype](r object.Ref[T]) object.Ref[Datatype] {
	if r.Empty() {
		return object.Ref[Datatype]{}
	}
	var dt Datatype = r.Detach()
	return object.Adopt(dt)
}

// ---------------------------------------------------------------------------
// Descriptor encoding
// ---------------------------------------------------------------------------

// AppendDatatype appends the binary descriptor of dt to buf.
//
// Layout: one type code byte; pointers follow with the element descriptor;
// value types follow with 16 UUID bytes and a little-endian u32 size.
func AppendDatatype(buf []byte, dt Datatype) []byte {
	buf = append(buf, byte(dt.TypeCode()))
	switch t := dt.(type) {
	case *PointerType:
		buf = AppendDatatype(buf, t.Elem())
	case *ValueType:
		buf = append(buf, t.id[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(t.size))
	}
	return buf
}

// MaxPointerDepth bounds how many pointer levels a descriptor may nest.
const MaxPointerDepth = 8

// DecodeDatatype parses a descriptor from the front of data and returns the
// datatype together with the number of bytes consumed.
func DecodeDatatype(data []byte) (object.Ref[Datatype], int, error) {
	return decodeDatatype(data, 0)
}

func decodeDatatype(data []byte, depth int) (object.Ref[Datatype], int, error) {
	if len(data) < 1 {
		return object.Ref[Datatype]{}, 0, fmt.Errorf("%w: empty descriptor", ErrMalformedDatatype)
	}
	code := TypeCode(data[0])
	switch code {
	case Pointer:
		if depth == MaxPointerDepth {
			return object.Ref[Datatype]{}, 0, fmt.Errorf("%w: pointers nested deeper than %d", ErrMalformedDatatype, MaxPointerDepth)
		}
		elem, n, err := decodeDatatype(data[1:], depth+1)
		if err != nil {
			return object.Ref[Datatype]{}, 0, err
		}
		p := NewPointerType(elem.Get())
		elem.Release()
		return DatatypeRef(p), n + 1, nil

	case ValueCode:
		if len(data) < 1+16+4 {
			return object.Ref[Datatype]{}, 0, fmt.Errorf("%w: truncated value type", ErrMalformedDatatype)
		}
		id, err := uuid.FromBytes(data[1:17])
		if err != nil {
			return object.Ref[Datatype]{}, 0, fmt.Errorf("%w: %v", ErrMalformedDatatype, err)
		}
		size := binary.LittleEndian.Uint32(data[17:21])
		return DatatypeRef(NewValueType(id, int(size))), 21, nil
	}

	p, ok := Prim(code)
	if !ok {
		return object.Ref[Datatype]{}, 0, fmt.Errorf("%w: unknown type code 0x%02X", ErrDatatypeMismatch, uint8(code))
	}
	var dt Datatype = p
	return object.Retain(dt), 1, nil
}
