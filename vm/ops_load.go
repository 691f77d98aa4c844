package vm

import (
	"fmt"
	"math"

	"fortio.org/safecast"

	"github.com/chazu/tensorvm/value"
)

// ---------------------------------------------------------------------------
// Stack and constants
// ---------------------------------------------------------------------------

func (in *invocation) opDup() error {
	e, err := in.stack.Peek()
	if err != nil {
		return err
	}
	in.push(e.Clone())
	return nil
}

func (in *invocation) opPop() error {
	e, err := in.stack.Pop()
	if err != nil {
		return err
	}
	e.Release()
	return nil
}

func (in *invocation) opConst(op Opcode) error {
	r := in.code
	switch op {
	case OpLdNull, OpLdcI4_0:
		in.push(IntEntry(0))
	case OpLdcI4_1:
		in.push(IntEntry(1))
	case OpLdcI4:
		in.push(IntEntry(int64(r.ReadInt32())))
	case OpLdcI8:
		in.push(IntEntry(r.ReadInt64()))
	case OpLdcR4:
		in.push(FloatEntry(r.ReadFloat32()))
	}
	return r.Err()
}

// ---------------------------------------------------------------------------
// Checked narrowing of popped integers
// ---------------------------------------------------------------------------

// toCount narrows v to a non-negative count or index.
func toCount(v int64) (int, error) {
	n, err := safecast.Convert[uint32](v)
	if err != nil {
		return 0, fmt.Errorf("%w: %d is not a valid count or index", ErrResultOutOfRange, v)
	}
	return int(n), nil
}

// toOffset narrows v to a non-negative byte offset.
func toOffset(v int64) (uint64, error) {
	n, err := safecast.Convert[uint64](v)
	if err != nil {
		return 0, fmt.Errorf("%w: negative offset %d", ErrResultOutOfRange, v)
	}
	return n, nil
}

func (in *invocation) popAddress() (uint64, error) {
	v, err := in.popInt()
	return uint64(v), err
}

// asFloat reads an integer or float entry as a float32.
func asFloat(e Entry) (float32, error) {
	switch e.Kind() {
	case EntryFloat:
		return e.f, nil
	case EntryInt:
		return float32(e.i), nil
	}
	return 0, e.mismatch(EntryFloat)
}

// ---------------------------------------------------------------------------
// Indirect and element access
// ---------------------------------------------------------------------------

type elemRepr uint8

const (
	reprInt elemRepr = iota
	reprBF16
	reprF32
)

type memAccess struct {
	width  int
	signed bool
	repr   elemRepr
}

// Load tables are indexed from LDIND_I1 / LDELEM_I1, store tables from
// STIND_I1 / STELEM_I1.
var loadAccess = [...]memAccess{
	{1, true, reprInt}, {2, true, reprInt}, {4, true, reprInt}, {8, true, reprInt},
	{1, false, reprInt}, {2, false, reprInt}, {4, false, reprInt}, {8, false, reprInt},
	{2, false, reprBF16}, {4, false, reprF32},
}

var storeAccess = [...]memAccess{
	{1, true, reprInt}, {2, true, reprInt}, {4, true, reprInt}, {8, true, reprInt},
	{2, false, reprBF16}, {4, false, reprF32},
}

func (in *invocation) load(addr uint64, acc memAccess) (Entry, error) {
	raw, err := in.model.space.Load(addr, acc.width)
	if err != nil {
		return Entry{}, err
	}
	switch acc.repr {
	case reprBF16:
		return FloatEntry(value.BFloat16ToFloat32(uint16(raw))), nil
	case reprF32:
		return FloatEntry(math.Float32frombits(uint32(raw))), nil
	}
	if acc.signed {
		switch acc.width {
		case 1:
			return IntEntry(int64(int8(raw))), nil
		case 2:
			return IntEntry(int64(int16(raw))), nil
		case 4:
			return IntEntry(int64(int32(raw))), nil
		}
	}
	return IntEntry(int64(raw)), nil
}

func (in *invocation) store(addr uint64, acc memAccess, e Entry) error {
	space := in.model.space
	switch acc.repr {
	case reprBF16:
		f, err := asFloat(e)
		if err != nil {
			return err
		}
		return space.Store(addr, 2, uint64(value.Float32ToBFloat16(f)))
	case reprF32:
		f, err := asFloat(e)
		if err != nil {
			return err
		}
		return space.StoreFloat32(addr, f)
	}
	v, err := e.Int()
	if err != nil {
		return err
	}
	return space.Store(addr, acc.width, uint64(v))
}

// LDIND: pop address, push value.
func (in *invocation) opLdInd(op Opcode) error {
	addr, err := in.popAddress()
	if err != nil {
		return err
	}
	e, err := in.load(addr, loadAccess[op-OpLdIndI1])
	if err != nil {
		return err
	}
	in.push(e)
	return nil
}

// STIND: pop value, pop address.
func (in *invocation) opStInd(op Opcode) error {
	v, err := in.stack.Pop()
	if err != nil {
		return err
	}
	defer v.Release()
	addr, err := in.popAddress()
	if err != nil {
		return err
	}
	return in.store(addr, storeAccess[op-OpStIndI1], v)
}

func (in *invocation) elemAddress(width int) (uint64, error) {
	off, err := in.popInt()
	if err != nil {
		return 0, err
	}
	idx, err := toOffset(off)
	if err != nil {
		return 0, err
	}
	addr, err := in.popAddress()
	if err != nil {
		return 0, err
	}
	return addr + idx*uint64(width), nil
}

// LDELEM: pop element offset, pop address, push value.
func (in *invocation) opLdElem(op Opcode) error {
	acc := loadAccess[op-OpLdElemI1]
	addr, err := in.elemAddress(acc.width)
	if err != nil {
		return err
	}
	e, err := in.load(addr, acc)
	if err != nil {
		return err
	}
	in.push(e)
	return nil
}

// STELEM: pop value, pop element offset, pop address.
func (in *invocation) opStElem(op Opcode) error {
	acc := storeAccess[op-OpStElemI1]
	v, err := in.stack.Pop()
	if err != nil {
		return err
	}
	defer v.Release()
	addr, err := in.elemAddress(acc.width)
	if err != nil {
		return err
	}
	return in.store(addr, acc, v)
}

// LEA_GP: push register + immediate offset.
func (in *invocation) opLeaGP() error {
	reg := in.code.ReadUint8()
	off := in.code.ReadInt32()
	if err := in.code.Err(); err != nil {
		return err
	}
	base, err := in.module.Register(int(reg))
	if err != nil {
		return err
	}
	in.push(IntEntry(int64(base) + int64(off)))
	return nil
}

// ---------------------------------------------------------------------------
// Arguments and locals
// ---------------------------------------------------------------------------

func (in *invocation) opLdArg(i int) error {
	f, err := in.frames.Top()
	if err != nil {
		return err
	}
	if i >= f.NumArgs() {
		return fmt.Errorf("%w: argument %d of %d", ErrResultOutOfRange, i, f.NumArgs())
	}
	in.push(f.Arg(i).Clone())
	return nil
}

func (in *invocation) opLdLocal(i int) error {
	f, err := in.frames.Top()
	if err != nil {
		return err
	}
	e, err := f.Field(i)
	if err != nil {
		return err
	}
	in.push(e.Clone())
	return nil
}

func (in *invocation) opStLocal(i int) error {
	f, err := in.frames.Top()
	if err != nil {
		return err
	}
	e, err := in.stack.Pop()
	if err != nil {
		return err
	}
	f.SetField(i, e)
	return nil
}
