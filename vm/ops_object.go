package vm

import (
	"fmt"

	"github.com/chazu/tensorvm/object"
	"github.com/chazu/tensorvm/value"
)

// LDSHAPE / LDSTRIDES: pop rank, then rank values with the last dimension on
// top.
func (in *invocation) opLdShape() error {
	v, err := in.popInt()
	if err != nil {
		return err
	}
	rank, err := toCount(v)
	if err != nil {
		return err
	}
	if rank > in.stack.Len() {
		return fmt.Errorf("%w: rank %d with %d values on the stack", ErrStackUnderflow, rank, in.stack.Len())
	}
	dims := make([]int, rank)
	for i := rank - 1; i >= 0; i-- {
		d, err := in.popInt()
		if err != nil {
			return err
		}
		if dims[i], err = toCount(d); err != nil {
			return err
		}
	}
	in.push(Entry{kind: EntryShape, shape: dims})
	return nil
}

// LDTUPLE: pop count, then count values with the last field on top.
func (in *invocation) opLdTuple() error {
	v, err := in.popInt()
	if err != nil {
		return err
	}
	n, err := toCount(v)
	if err != nil {
		return err
	}
	fields, err := in.popValues(n)
	if err != nil {
		return err
	}
	in.push(ObjectEntry(value.NewTuple(fields)))
	return nil
}

// LDTUPLE_ELEM: pop index, pop tuple, push the field.
func (in *invocation) opLdTupleElem() error {
	v, err := in.popInt()
	if err != nil {
		return err
	}
	idx, err := toCount(v)
	if err != nil {
		return err
	}
	obj, err := in.popObject()
	if err != nil {
		return err
	}
	defer obj.Release()

	t, ok := obj.Get().(*value.Tuple)
	if !ok {
		return fmt.Errorf("%w: %s is not a tuple", ErrInvalidArgument, obj.Get().Kind().Name)
	}
	field, err := t.Field(idx)
	if err != nil {
		return err
	}
	in.push(ObjectEntry(object.Retain(field)))
	return nil
}

// LDDATATYPE: pop address, decode the descriptor stored there.
func (in *invocation) opLdDatatype() error {
	addr, err := in.popAddress()
	if err != nil {
		return err
	}
	data, err := in.model.space.Tail(addr)
	if err != nil {
		return err
	}
	dt, _, err := value.DecodeDatatype(data)
	if err != nil {
		return err
	}
	in.push(ObjectEntry(dt))
	return nil
}

// LDTENSOR: pop datatype, shape, strides and address, and push a tensor
// viewing that memory without copying. Rank-0 strides select row-major
// strides.
func (in *invocation) opLdTensor() error {
	obj, err := in.popObject()
	if err != nil {
		return err
	}
	defer obj.Release()
	dt, ok := obj.Get().(value.Datatype)
	if !ok {
		return fmt.Errorf("%w: %s is not a datatype", ErrInvalidArgument, obj.Get().Kind().Name)
	}

	shape, err := in.stack.PopShape()
	if err != nil {
		return err
	}
	strides, err := in.stack.PopShape()
	if err != nil {
		return err
	}
	addr, err := in.popAddress()
	if err != nil {
		return err
	}

	if len(strides) == 0 && len(shape) > 0 {
		strides = value.DefaultStrides(shape)
	}
	if len(strides) != len(shape) {
		return fmt.Errorf("%w: %d strides for rank %d", value.ErrShapeMismatch, len(strides), len(shape))
	}

	if _, err := value.ElementCount(shape); err != nil {
		return err
	}
	size, err := value.ByteLength(dt.SizeBytes(), shape, strides)
	if err != nil {
		return err
	}
	buf, err := in.model.bufferAt(addr, size)
	if err != nil {
		return err
	}
	t, err := value.NewTensor(dt, shape, strides, buf)
	if err != nil {
		return err
	}
	in.push(ObjectEntry(t))
	return nil
}

// scalarCodes are the element types LDSCALAR can produce.
var scalarCodes = map[value.TypeCode]bool{
	value.Boolean:  true,
	value.Int8:     true,
	value.Int16:    true,
	value.Int32:    true,
	value.Int64:    true,
	value.UInt8:    true,
	value.UInt16:   true,
	value.UInt32:   true,
	value.UInt64:   true,
	value.Float16:  true,
	value.BFloat16: true,
	value.Float32:  true,
}

// LDSCALAR code: pop a tensor (or scalar) and push its first element.
func (in *invocation) opLdScalar(code value.TypeCode) error {
	if err := in.code.Err(); err != nil {
		return err
	}
	if !scalarCodes[code] {
		return fmt.Errorf("%w: %s cannot be loaded as a scalar", value.ErrDatatypeMismatch, code)
	}

	obj, err := in.popObject()
	if err != nil {
		return err
	}
	defer obj.Release()

	var bits uint64
	switch v := obj.Get().(type) {
	case *value.Tensor:
		if have := v.Datatype().TypeCode(); have != code {
			return fmt.Errorf("%w: requested %s from a %s tensor", value.ErrDatatypeMismatch, code, have)
		}
		host, err := v.ToHost()
		if err != nil {
			return err
		}
		defer host.Release()
		data, err := host.Get().HostBytes()
		if err != nil {
			return err
		}
		if bits, err = value.DecodeElement(code, data); err != nil {
			return err
		}
	case *value.Scalar:
		if v.TypeCode() != code {
			return fmt.Errorf("%w: requested %s from a %s scalar", value.ErrDatatypeMismatch, code, v.TypeCode())
		}
		bits = v.Bits()
	default:
		return fmt.Errorf("%w: %s is not a tensor", ErrInvalidArgument, obj.Get().Kind().Name)
	}

	if code.IsFloat() {
		in.push(FloatEntry(value.BitsToFloat(code, bits)))
	} else {
		in.push(IntEntry(value.BitsToInt(code, bits)))
	}
	return nil
}
