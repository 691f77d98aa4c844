package vm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Bytecode reader
// ---------------------------------------------------------------------------

// BytecodeReader reads bytecode for interpretation or disassembly. Reading
// past the end yields zero values and latches an error that Err reports.
type BytecodeReader struct {
	bytes []byte
	pos   int
	err   error
}

// NewBytecodeReader creates a reader for bytecode.
func NewBytecodeReader(bc []byte) *BytecodeReader {
	return &BytecodeReader{bytes: bc, pos: 0}
}

// Position returns the current read position.
func (r *BytecodeReader) Position() int {
	return r.pos
}

// Len returns the length of the underlying code.
func (r *BytecodeReader) Len() int {
	return len(r.bytes)
}

// HasMore returns true if there are more bytes to read.
func (r *BytecodeReader) HasMore() bool {
	return r.pos < len(r.bytes)
}

// Err returns the first decoding error.
func (r *BytecodeReader) Err() error {
	return r.err
}

func (r *BytecodeReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.pos+n > len(r.bytes) {
		r.err = fmt.Errorf("%w: truncated operand at %d (need %d bytes, have %d)",
			ErrIllegalInstruction, r.pos, n, len(r.bytes)-r.pos)
		return false
	}
	return true
}

// ReadOpcode reads and returns the next opcode.
func (r *BytecodeReader) ReadOpcode() Opcode {
	return Opcode(r.ReadUint8())
}

// ReadUint8 reads a single byte operand.
func (r *BytecodeReader) ReadUint8() uint8 {
	if !r.need(1) {
		return 0
	}
	b := r.bytes[r.pos]
	r.pos++
	return b
}

// ReadUint16 reads a 16-bit operand (little-endian).
func (r *BytecodeReader) ReadUint16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.bytes[r.pos:])
	r.pos += 2
	return v
}

// ReadUint32 reads an unsigned 32-bit operand.
func (r *BytecodeReader) ReadUint32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.bytes[r.pos:])
	r.pos += 4
	return v
}

// ReadInt32 reads a signed 32-bit operand.
func (r *BytecodeReader) ReadInt32() int32 {
	return int32(r.ReadUint32())
}

// ReadInt64 reads a signed 64-bit operand.
func (r *BytecodeReader) ReadInt64() int64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.bytes[r.pos:])
	r.pos += 8
	return int64(v)
}

// ReadFloat32 reads a float32 operand.
func (r *BytecodeReader) ReadFloat32() float32 {
	return math.Float32frombits(r.ReadUint32())
}

// ReadBytes returns the next n bytes without copying.
func (r *BytecodeReader) ReadBytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	b := r.bytes[r.pos : r.pos+n]
	r.pos += n
	return b
}

// Skip advances the position by n bytes.
func (r *BytecodeReader) Skip(n int) {
	if r.need(n) {
		r.pos += n
	}
}

// Seek sets the read position.
func (r *BytecodeReader) Seek(pos int) {
	r.pos = pos
}
