package vm

import (
	"encoding/binary"
	"math"
)

// ---------------------------------------------------------------------------
// BytecodeBuilder: Helper for constructing bytecode
// ---------------------------------------------------------------------------

// BytecodeBuilder helps construct bytecode sequences.
type BytecodeBuilder struct {
	bytes []byte
}

// NewBytecodeBuilder creates a new bytecode builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{
		bytes: make([]byte, 0, 64),
	}
}

// Bytes returns the constructed bytecode.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length.
func (b *BytecodeBuilder) Len() int {
	return len(b.bytes)
}

// Emit appends an opcode with no operands.
func (b *BytecodeBuilder) Emit(op Opcode) {
	b.bytes = append(b.bytes, byte(op))
}

// EmitRaw appends raw bytes to the bytecode.
func (b *BytecodeBuilder) EmitRaw(data ...byte) {
	b.bytes = append(b.bytes, data...)
}

// EmitByte appends an opcode with a single byte operand.
func (b *BytecodeBuilder) EmitByte(op Opcode, operand byte) {
	b.bytes = append(b.bytes, byte(op), operand)
}

// EmitUint16 appends an opcode with a 16-bit operand (little-endian).
func (b *BytecodeBuilder) EmitUint16(op Opcode, operand uint16) {
	b.bytes = append(b.bytes, byte(op))
	b.bytes = binary.LittleEndian.AppendUint16(b.bytes, operand)
}

// EmitInt32 appends an opcode with a 32-bit operand (little-endian).
func (b *BytecodeBuilder) EmitInt32(op Opcode, operand int32) {
	b.bytes = append(b.bytes, byte(op))
	b.bytes = binary.LittleEndian.AppendUint32(b.bytes, uint32(operand))
}

// EmitInt64 appends an opcode with a 64-bit operand.
func (b *BytecodeBuilder) EmitInt64(op Opcode, operand int64) {
	b.bytes = append(b.bytes, byte(op))
	b.bytes = binary.LittleEndian.AppendUint64(b.bytes, uint64(operand))
}

// EmitFloat32 appends an opcode with a float32 operand.
func (b *BytecodeBuilder) EmitFloat32(op Opcode, operand float32) {
	b.bytes = append(b.bytes, byte(op))
	b.bytes = binary.LittleEndian.AppendUint32(b.bytes, math.Float32bits(operand))
}

// EmitLdcI4 pushes an int32 constant, using the short forms for 0 and 1.
func (b *BytecodeBuilder) EmitLdcI4(v int32) {
	switch v {
	case 0:
		b.Emit(OpLdcI4_0)
	case 1:
		b.Emit(OpLdcI4_1)
	default:
		b.EmitInt32(OpLdcI4, v)
	}
}

// EmitLdArg pushes argument i, using LDARG_0..LDARG_5 where possible.
func (b *BytecodeBuilder) EmitLdArg(i uint16) {
	if i <= 5 {
		b.Emit(OpLdArg0 + Opcode(i))
		return
	}
	b.EmitUint16(OpLdArg, i)
}

// EmitLeaGP appends a LEA_GP instruction.
func (b *BytecodeBuilder) EmitLeaGP(reg uint8, offset int32) {
	b.bytes = append(b.bytes, byte(OpLeaGP), reg)
	b.bytes = binary.LittleEndian.AppendUint32(b.bytes, uint32(offset))
}

// EmitCall appends a CALL instruction.
func (b *BytecodeBuilder) EmitCall(argc uint16, target int32) {
	b.bytes = append(b.bytes, byte(OpCall))
	b.bytes = binary.LittleEndian.AppendUint16(b.bytes, argc)
	b.bytes = binary.LittleEndian.AppendUint32(b.bytes, uint32(target))
}

// EmitCusCall appends a CUSCALL instruction: handler name, opaque payload
// handed to the handler, and argument count.
func (b *BytecodeBuilder) EmitCusCall(name string, payload []byte, argc uint16) {
	b.bytes = append(b.bytes, byte(OpCusCall))
	b.bytes = binary.LittleEndian.AppendUint16(b.bytes, uint16(len(name)))
	b.bytes = append(b.bytes, name...)
	b.bytes = binary.LittleEndian.AppendUint32(b.bytes, uint32(len(payload)))
	b.bytes = append(b.bytes, payload...)
	b.bytes = binary.LittleEndian.AppendUint16(b.bytes, argc)
}

// EmitTensor appends a TENSOR-prefixed instruction.
func (b *BytecodeBuilder) EmitTensor(funct uint16, payload []byte) {
	b.bytes = append(b.bytes, byte(OpTensor))
	b.bytes = binary.LittleEndian.AppendUint16(b.bytes, funct)
	b.bytes = binary.LittleEndian.AppendUint32(b.bytes, uint32(len(payload)))
	b.bytes = append(b.bytes, payload...)
}

// ---------------------------------------------------------------------------
// Label management for branches
// ---------------------------------------------------------------------------

// Label represents a branch target that may not be known yet. Branch offsets
// are relative to the first byte of the branch instruction.
type Label struct {
	resolved bool
	position int
	refs     []labelRef
}

type labelRef struct {
	inst    int // start of the branch instruction
	operand int // position of the 32-bit offset
}

// NewLabel creates an unresolved label.
func (b *BytecodeBuilder) NewLabel() *Label {
	return &Label{refs: make([]labelRef, 0, 2)}
}

// Mark resolves a label to the current position.
func (b *BytecodeBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)

	for _, ref := range label.refs {
		offset := int32(label.position - ref.inst)
		binary.LittleEndian.PutUint32(b.bytes[ref.operand:], uint32(offset))
	}
	label.refs = nil
}

// EmitBranch emits a BR, BR_TRUE or BR_FALSE to a label.
func (b *BytecodeBuilder) EmitBranch(op Opcode, label *Label) {
	inst := len(b.bytes)
	if label.resolved {
		b.EmitInt32(op, int32(label.position-inst))
		return
	}
	b.bytes = append(b.bytes, byte(op))
	label.refs = append(label.refs, labelRef{inst: inst, operand: len(b.bytes)})
	b.bytes = append(b.bytes, 0, 0, 0, 0)
}

// EmitBranchOffset emits a branch with a literal relative offset.
func (b *BytecodeBuilder) EmitBranchOffset(op Opcode, offset int32) {
	b.EmitInt32(op, offset)
}
