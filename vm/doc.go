// Package vm implements the stackvm runtime.
//
// This package contains:
//   - Opcode table, bytecode builder, reader and disassembler
//   - Tagged stack entries, the evaluation stack and call frames
//   - Model, module and function loading from container files
//   - The dispatch loop and its instruction handlers
//   - Custom-call registration and tensor-prefix dispatch
//   - An opcode profiler with optional SQLite persistence
package vm
