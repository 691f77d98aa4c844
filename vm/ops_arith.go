package vm

import (
	"fmt"
	"math"

	"github.com/chazu/tensorvm/value"
)

// The arithmetic domain is chosen by the left operand's tag: integer when it
// is an integer entry, float32 otherwise. A float right operand is truncated
// in the integer domain; an integer right operand is widened in the float
// domain.

// popOperands pops the right operand, then the left one.
func (in *invocation) popOperands() (Entry, Entry, error) {
	r, err := in.stack.Pop()
	if err != nil {
		return Entry{}, Entry{}, err
	}
	l, err := in.stack.Pop()
	if err != nil {
		r.Release()
		return Entry{}, Entry{}, err
	}
	if !isNumeric(l) || !isNumeric(r) {
		err := fmt.Errorf("%w: arithmetic on %s and %s entries", ErrIllegalInstruction, l.Kind(), r.Kind())
		l.Release()
		r.Release()
		return Entry{}, Entry{}, err
	}
	return l, r, nil
}

func isNumeric(e Entry) bool {
	return e.kind == EntryInt || e.kind == EntryFloat
}

func intOperand(e Entry) int64 {
	if e.kind == EntryFloat {
		return int64(e.f)
	}
	return e.i
}

func floatOperand(e Entry) float32 {
	if e.kind == EntryInt {
		return float32(e.i)
	}
	return e.f
}

// ---------------------------------------------------------------------------
// Unary
// ---------------------------------------------------------------------------

func (in *invocation) opUnary(op Opcode) error {
	e, err := in.stack.Pop()
	if err != nil {
		return err
	}
	switch {
	case e.kind == EntryInt && op == OpNeg:
		in.push(IntEntry(-e.i))
	case e.kind == EntryInt && op == OpNot:
		in.push(IntEntry(^e.i))
	case e.kind == EntryFloat && op == OpNeg:
		in.push(FloatEntry(-e.f))
	default:
		err := fmt.Errorf("%w: %s on %s entry", ErrIllegalInstruction, op, e.Kind())
		e.Release()
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Binary
// ---------------------------------------------------------------------------

func (in *invocation) opBinary(op Opcode) error {
	l, r, err := in.popOperands()
	if err != nil {
		return err
	}
	if l.kind == EntryInt {
		v, err := intBinary(op, l.i, intOperand(r))
		if err != nil {
			return err
		}
		in.push(IntEntry(v))
		return nil
	}
	v, err := floatBinary(op, l.f, floatOperand(r))
	if err != nil {
		return err
	}
	in.push(FloatEntry(v))
	return nil
}

func intBinary(op Opcode, a, b int64) (int64, error) {
	switch op {
	case OpAdd:
		return a + b, nil
	case OpSub:
		return a - b, nil
	case OpMul:
		return a * b, nil
	case OpDiv, OpDivU, OpRem, OpRemU:
		if b == 0 {
			return 0, ErrDivideByZero
		}
		switch op {
		case OpDiv:
			return a / b, nil
		case OpDivU:
			return int64(uint64(a) / uint64(b)), nil
		case OpRem:
			return a % b, nil
		}
		return int64(uint64(a) % uint64(b)), nil
	case OpAnd:
		return a & b, nil
	case OpOr:
		return a | b, nil
	case OpXor:
		return a ^ b, nil
	case OpShl:
		return a << (uint64(b) & 63), nil
	case OpShr:
		return a >> (uint64(b) & 63), nil
	case OpShrU:
		return int64(uint64(a) >> (uint64(b) & 63)), nil
	}
	return 0, fmt.Errorf("%w: %s is not a binary operator", ErrIllegalInstruction, op)
}

func floatBinary(op Opcode, a, b float32) (float32, error) {
	switch op {
	case OpAdd:
		return a + b, nil
	case OpSub:
		return a - b, nil
	case OpMul:
		return a * b, nil
	case OpDiv, OpDivU:
		return a / b, nil
	case OpRem, OpRemU:
		return float32(math.Mod(float64(a), float64(b))), nil
	}
	return 0, fmt.Errorf("%w: %s on float operands", ErrIllegalInstruction, op)
}

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

func (in *invocation) opCompare(op Opcode) error {
	l, r, err := in.popOperands()
	if err != nil {
		return err
	}
	var ok bool
	if l.kind == EntryInt {
		ok = intCompare(op, l.i, intOperand(r))
	} else {
		ok = floatCompare(op, l.f, floatOperand(r))
	}
	if ok {
		in.push(IntEntry(1))
	} else {
		in.push(IntEntry(0))
	}
	return nil
}

func intCompare(op Opcode, a, b int64) bool {
	ua, ub := uint64(a), uint64(b)
	switch op {
	case OpClt:
		return a < b
	case OpCltU:
		return ua < ub
	case OpCle:
		return a <= b
	case OpCleU:
		return ua <= ub
	case OpCeq:
		return a == b
	case OpCge:
		return a >= b
	case OpCgeU:
		return ua >= ub
	case OpCgt:
		return a > b
	case OpCgtU:
		return ua > ub
	}
	return a != b
}

func floatCompare(op Opcode, a, b float32) bool {
	switch op {
	case OpClt, OpCltU:
		return a < b
	case OpCle, OpCleU:
		return a <= b
	case OpCeq:
		return a == b
	case OpCge, OpCgeU:
		return a >= b
	case OpCgt, OpCgtU:
		return a > b
	}
	return a != b
}

// ---------------------------------------------------------------------------
// Conversion
// ---------------------------------------------------------------------------

func (in *invocation) opConv(op Opcode) error {
	e, err := in.stack.Pop()
	if err != nil {
		return err
	}
	if !isNumeric(e) {
		err := fmt.Errorf("%w: %s on %s entry", ErrIllegalInstruction, op, e.Kind())
		e.Release()
		return err
	}

	switch op {
	case OpConvBR2:
		in.push(FloatEntry(value.BFloat16ToFloat32(value.Float32ToBFloat16(floatOperand(e)))))
		return nil
	case OpConvR4:
		in.push(FloatEntry(floatOperand(e)))
		return nil
	}

	x := intOperand(e)
	switch op {
	case OpConvI1:
		x = int64(int8(x))
	case OpConvI2:
		x = int64(int16(x))
	case OpConvI4:
		x = int64(int32(x))
	case OpConvU1:
		x = int64(uint8(x))
	case OpConvU2:
		x = int64(uint16(x))
	case OpConvU4:
		x = int64(uint32(x))
	}
	in.push(IntEntry(x))
	return nil
}
