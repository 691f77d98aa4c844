package vm

import (
	"fmt"
	"strings"

	"github.com/chazu/tensorvm/value"
)

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction disassembles a single instruction at the reader's
// position and advances the reader. Truncated operands are reported in the
// output and leave the reader's error set.
func DisassembleInstruction(r *BytecodeReader) string {
	pos := r.Position()
	op := r.ReadOpcode()
	info := op.Info()

	var text string
	switch op {
	case OpLdcI4:
		text = fmt.Sprintf("%s %d", info.Name, r.ReadInt32())

	case OpLdcI8:
		text = fmt.Sprintf("%s %d", info.Name, r.ReadInt64())

	case OpLdcR4:
		text = fmt.Sprintf("%s %g", info.Name, r.ReadFloat32())

	case OpLeaGP:
		reg := r.ReadUint8()
		off := r.ReadInt32()
		text = fmt.Sprintf("%s r%d, %d", info.Name, reg, off)

	case OpLdArg, OpLdLocal, OpStLocal, OpExtCall:
		text = fmt.Sprintf("%s %d", info.Name, r.ReadUint16())

	case OpBr, OpBrTrue, OpBrFalse:
		offset := r.ReadInt32()
		text = fmt.Sprintf("%s %d (-> %04d)", info.Name, offset, pos+int(offset))

	case OpCall:
		argc := r.ReadUint16()
		target := r.ReadInt32()
		text = fmt.Sprintf("%s argc=%d target=%d", info.Name, argc, target)

	case OpCusCall:
		name := r.ReadBytes(int(r.ReadUint16()))
		payload := r.ReadBytes(int(r.ReadUint32()))
		argc := r.ReadUint16()
		text = fmt.Sprintf("%s %q payload=%d argc=%d", info.Name, name, len(payload), argc)

	case OpLdScalar:
		text = fmt.Sprintf("%s %s", info.Name, value.TypeCode(r.ReadUint8()))

	case OpTensor:
		funct := r.ReadUint16()
		payload := r.ReadBytes(int(r.ReadUint32()))
		text = fmt.Sprintf("%s funct=%d payload=%d", info.Name, funct, len(payload))

	default:
		r.Skip(info.OperandBytes)
		text = info.Name
	}

	if err := r.Err(); err != nil {
		return fmt.Sprintf("%04d  %s <truncated>", pos, info.Name)
	}
	return fmt.Sprintf("%04d  %s", pos, text)
}

// Disassemble returns a full disassembly of bytecode.
func Disassemble(bc []byte) string {
	r := NewBytecodeReader(bc)
	var sb strings.Builder
	for r.HasMore() && r.Err() == nil {
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(DisassembleInstruction(r))
	}
	return sb.String()
}
