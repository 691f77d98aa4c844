package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
type Opcode byte

// Stack Operations
const (
	OpNop Opcode = 0x00 // no operation
	OpDup Opcode = 0x01 // duplicate top of stack
	OpPop Opcode = 0x02 // discard top of stack
)

// Constants
const (
	OpLdNull  Opcode = 0x10 // push null pointer (integer 0)
	OpLdcI4   Opcode = 0x11 // push 32-bit signed integer
	OpLdcI4_0 Opcode = 0x12 // push 0
	OpLdcI4_1 Opcode = 0x13 // push 1
	OpLdcR4   Opcode = 0x14 // push float32
	OpLdcI8   Opcode = 0x15 // push 64-bit signed integer
)

// Indirect Loads: pop address, push value
const (
	OpLdIndI1  Opcode = 0x20
	OpLdIndI2  Opcode = 0x21
	OpLdIndI4  Opcode = 0x22
	OpLdIndI   Opcode = 0x23 // pointer width
	OpLdIndU1  Opcode = 0x24
	OpLdIndU2  Opcode = 0x25
	OpLdIndU4  Opcode = 0x26
	OpLdIndU   Opcode = 0x27 // pointer width
	OpLdIndBR2 Opcode = 0x28 // bfloat16
	OpLdIndR4  Opcode = 0x29
)

// Indirect Stores: pop value, pop address
const (
	OpStIndI1  Opcode = 0x30
	OpStIndI2  Opcode = 0x31
	OpStIndI4  Opcode = 0x32
	OpStIndI   Opcode = 0x33
	OpStIndBR2 Opcode = 0x34
	OpStIndR4  Opcode = 0x35
	OpLeaGP    Opcode = 0x36 // push register + offset (8-bit register, 32-bit offset)
)

// Element Loads/Stores: address and element offset from the stack
const (
	OpLdElemI1  Opcode = 0x40
	OpLdElemI2  Opcode = 0x41
	OpLdElemI4  Opcode = 0x42
	OpLdElemI   Opcode = 0x43
	OpLdElemU1  Opcode = 0x44
	OpLdElemU2  Opcode = 0x45
	OpLdElemU4  Opcode = 0x46
	OpLdElemU   Opcode = 0x47
	OpLdElemBR2 Opcode = 0x48
	OpLdElemR4  Opcode = 0x49
	OpStElemI1  Opcode = 0x4A
	OpStElemI2  Opcode = 0x4B
	OpStElemI4  Opcode = 0x4C
	OpStElemI   Opcode = 0x4D
	OpStElemBR2 Opcode = 0x4E
	OpStElemR4  Opcode = 0x4F
)

// Arguments and Locals
const (
	OpLdArg   Opcode = 0x50 // push argument (16-bit index)
	OpLdArg0  Opcode = 0x51
	OpLdArg1  Opcode = 0x52
	OpLdArg2  Opcode = 0x53
	OpLdArg3  Opcode = 0x54
	OpLdArg4  Opcode = 0x55
	OpLdArg5  Opcode = 0x56
	OpLdLocal Opcode = 0x57 // push field (16-bit index)
	OpStLocal Opcode = 0x58 // pop into field (16-bit index)
)

// Arithmetic
const (
	OpNeg  Opcode = 0x60
	OpAdd  Opcode = 0x61
	OpSub  Opcode = 0x62
	OpMul  Opcode = 0x63
	OpDiv  Opcode = 0x64
	OpDivU Opcode = 0x65
	OpRem  Opcode = 0x66
	OpRemU Opcode = 0x67
	OpAnd  Opcode = 0x68
	OpOr   Opcode = 0x69
	OpXor  Opcode = 0x6A
	OpNot  Opcode = 0x6B
	OpShl  Opcode = 0x6C
	OpShr  Opcode = 0x6D
	OpShrU Opcode = 0x6E
)

// Comparisons: push 1 or 0
const (
	OpClt  Opcode = 0x70
	OpCltU Opcode = 0x71
	OpCle  Opcode = 0x72
	OpCleU Opcode = 0x73
	OpCeq  Opcode = 0x74
	OpCge  Opcode = 0x75
	OpCgeU Opcode = 0x76
	OpCgt  Opcode = 0x77
	OpCgtU Opcode = 0x78
	OpCne  Opcode = 0x79
)

// Conversions
const (
	OpConvI1  Opcode = 0x80
	OpConvI2  Opcode = 0x81
	OpConvI4  Opcode = 0x82
	OpConvI   Opcode = 0x83
	OpConvU1  Opcode = 0x84
	OpConvU2  Opcode = 0x85
	OpConvU4  Opcode = 0x86
	OpConvU   Opcode = 0x87
	OpConvBR2 Opcode = 0x88
	OpConvR4  Opcode = 0x89
)

// Control Flow
const (
	OpBr      Opcode = 0x90 // unconditional branch (32-bit offset)
	OpBrTrue  Opcode = 0x91 // pop, branch if nonzero (32-bit offset)
	OpBrFalse Opcode = 0x92 // pop, branch if zero (32-bit offset)
	OpRet     Opcode = 0x93 // pop frame, halt when none remain
	OpCall    Opcode = 0x94 // in-bytecode call (16-bit argc, 32-bit target); unsupported
	OpExtCall Opcode = 0x95 // call function by module/function id (16-bit argc)
	OpCusCall Opcode = 0x96 // call native handler by name (variable)
	OpThrow   Opcode = 0x97 // unsupported
	OpBreak   Opcode = 0x98 // unsupported
)

// Objects
const (
	OpLdShape     Opcode = 0xA0 // pop rank and dims, push shape
	OpLdStrides   Opcode = 0xA1 // pop rank and strides, push shape
	OpLdTuple     Opcode = 0xA2 // pop count and fields, push tuple
	OpLdTupleElem Opcode = 0xA3 // pop index and tuple, push field
	OpLdDatatype  Opcode = 0xA4 // pop address, push decoded datatype
	OpLdTensor    Opcode = 0xA5 // pop datatype, shape, strides, address; push tensor
	OpLdScalar    Opcode = 0xA6 // pop tensor, push first element (8-bit type code)
)

// OpTensor switches decoding to the tensor-function operand reader
// (16-bit function id, 32-bit payload length, payload).
const OpTensor Opcode = 0xFF

// VariableOperands marks opcodes whose operand length is encoded in the
// instruction stream.
const VariableOperands = -1

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name         string // human-readable name
	OperandBytes int    // number of operand bytes, or VariableOperands
	StackEffect  int    // net effect on stack (-1 = variable)
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	// Stack
	OpNop: {"NOP", 0, 0},
	OpDup: {"DUP", 0, 1},
	OpPop: {"POP", 0, -1},

	// Constants
	OpLdNull:  {"LDNULL", 0, 1},
	OpLdcI4:   {"LDC_I4", 4, 1},
	OpLdcI4_0: {"LDC_I4_0", 0, 1},
	OpLdcI4_1: {"LDC_I4_1", 0, 1},
	OpLdcR4:   {"LDC_R4", 4, 1},
	OpLdcI8:   {"LDC_I8", 8, 1},

	// Indirect loads
	OpLdIndI1:  {"LDIND_I1", 0, 0},
	OpLdIndI2:  {"LDIND_I2", 0, 0},
	OpLdIndI4:  {"LDIND_I4", 0, 0},
	OpLdIndI:   {"LDIND_I", 0, 0},
	OpLdIndU1:  {"LDIND_U1", 0, 0},
	OpLdIndU2:  {"LDIND_U2", 0, 0},
	OpLdIndU4:  {"LDIND_U4", 0, 0},
	OpLdIndU:   {"LDIND_U", 0, 0},
	OpLdIndBR2: {"LDIND_BR2", 0, 0},
	OpLdIndR4:  {"LDIND_R4", 0, 0},

	// Indirect stores
	OpStIndI1:  {"STIND_I1", 0, -2},
	OpStIndI2:  {"STIND_I2", 0, -2},
	OpStIndI4:  {"STIND_I4", 0, -2},
	OpStIndI:   {"STIND_I", 0, -2},
	OpStIndBR2: {"STIND_BR2", 0, -2},
	OpStIndR4:  {"STIND_R4", 0, -2},
	OpLeaGP:    {"LEA_GP", 5, 1},

	// Element access
	OpLdElemI1:  {"LDELEM_I1", 0, -1},
	OpLdElemI2:  {"LDELEM_I2", 0, -1},
	OpLdElemI4:  {"LDELEM_I4", 0, -1},
	OpLdElemI:   {"LDELEM_I", 0, -1},
	OpLdElemU1:  {"LDELEM_U1", 0, -1},
	OpLdElemU2:  {"LDELEM_U2", 0, -1},
	OpLdElemU4:  {"LDELEM_U4", 0, -1},
	OpLdElemU:   {"LDELEM_U", 0, -1},
	OpLdElemBR2: {"LDELEM_BR2", 0, -1},
	OpLdElemR4:  {"LDELEM_R4", 0, -1},
	OpStElemI1:  {"STELEM_I1", 0, -3},
	OpStElemI2:  {"STELEM_I2", 0, -3},
	OpStElemI4:  {"STELEM_I4", 0, -3},
	OpStElemI:   {"STELEM_I", 0, -3},
	OpStElemBR2: {"STELEM_BR2", 0, -3},
	OpStElemR4:  {"STELEM_R4", 0, -3},

	// Arguments and locals
	OpLdArg:   {"LDARG", 2, 1},
	OpLdArg0:  {"LDARG_0", 0, 1},
	OpLdArg1:  {"LDARG_1", 0, 1},
	OpLdArg2:  {"LDARG_2", 0, 1},
	OpLdArg3:  {"LDARG_3", 0, 1},
	OpLdArg4:  {"LDARG_4", 0, 1},
	OpLdArg5:  {"LDARG_5", 0, 1},
	OpLdLocal: {"LDLOCAL", 2, 1},
	OpStLocal: {"STLOCAL", 2, -1},

	// Arithmetic
	OpNeg:  {"NEG", 0, 0},
	OpAdd:  {"ADD", 0, -1},
	OpSub:  {"SUB", 0, -1},
	OpMul:  {"MUL", 0, -1},
	OpDiv:  {"DIV", 0, -1},
	OpDivU: {"DIV_U", 0, -1},
	OpRem:  {"REM", 0, -1},
	OpRemU: {"REM_U", 0, -1},
	OpAnd:  {"AND", 0, -1},
	OpOr:   {"OR", 0, -1},
	OpXor:  {"XOR", 0, -1},
	OpNot:  {"NOT", 0, 0},
	OpShl:  {"SHL", 0, -1},
	OpShr:  {"SHR", 0, -1},
	OpShrU: {"SHR_U", 0, -1},

	// Comparisons
	OpClt:  {"CLT", 0, -1},
	OpCltU: {"CLT_U", 0, -1},
	OpCle:  {"CLE", 0, -1},
	OpCleU: {"CLE_U", 0, -1},
	OpCeq:  {"CEQ", 0, -1},
	OpCge:  {"CGE", 0, -1},
	OpCgeU: {"CGE_U", 0, -1},
	OpCgt:  {"CGT", 0, -1},
	OpCgtU: {"CGT_U", 0, -1},
	OpCne:  {"CNE", 0, -1},

	// Conversions
	OpConvI1:  {"CONV_I1", 0, 0},
	OpConvI2:  {"CONV_I2", 0, 0},
	OpConvI4:  {"CONV_I4", 0, 0},
	OpConvI:   {"CONV_I", 0, 0},
	OpConvU1:  {"CONV_U1", 0, 0},
	OpConvU2:  {"CONV_U2", 0, 0},
	OpConvU4:  {"CONV_U4", 0, 0},
	OpConvU:   {"CONV_U", 0, 0},
	OpConvBR2: {"CONV_BR2", 0, 0},
	OpConvR4:  {"CONV_R4", 0, 0},

	// Control flow
	OpBr:      {"BR", 4, 0},
	OpBrTrue:  {"BR_TRUE", 4, -1},
	OpBrFalse: {"BR_FALSE", 4, -1},
	OpRet:     {"RET", 0, 0},
	OpCall:    {"CALL", 6, -1},
	OpExtCall: {"EXTCALL", 2, -1},
	OpCusCall: {"CUSCALL", VariableOperands, -1},
	OpThrow:   {"THROW", 0, 0},
	OpBreak:   {"BREAK", 0, 0},

	// Objects
	OpLdShape:     {"LDSHAPE", 0, -1},
	OpLdStrides:   {"LDSTRIDES", 0, -1},
	OpLdTuple:     {"LDTUPLE", 0, -1},
	OpLdTupleElem: {"LDTUPLE_ELEM", 0, -1},
	OpLdDatatype:  {"LDDATATYPE", 0, 0},
	OpLdTensor:    {"LDTENSOR", 0, -3},
	OpLdScalar:    {"LDSCALAR", 1, 0},

	OpTensor: {"TENSOR", VariableOperands, -1},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op)), OperandBytes: 0, StackEffect: 0}
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// OperandBytes returns the number of operand bytes for an opcode.
func (op Opcode) OperandBytes() int {
	return op.Info().OperandBytes
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}
