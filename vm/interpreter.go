package vm

import (
	"fmt"
	"time"

	"github.com/chazu/tensorvm/object"
	"github.com/chazu/tensorvm/value"
)

// ---------------------------------------------------------------------------
// invocation: execution state of one Function.Invoke
// ---------------------------------------------------------------------------

// invocation owns the stacks and program counter of a single call. It is
// never shared between goroutines.
type invocation struct {
	fn       *Function
	module   *Module
	model    *Model
	stack    *EvalStack
	frames   *FrameStack
	code     *BytecodeReader
	depth    int
	trace    bool
	profiler *Profiler
}

func newInvocation(f *Function, depth int) *invocation {
	model := f.module.model
	return &invocation{
		fn:       f,
		module:   f.module,
		model:    model,
		stack:    NewEvalStack(model.opts.StackCapacity),
		frames:   NewFrameStack(),
		code:     NewBytecodeReader(f.text),
		depth:    depth,
		trace:    model.opts.Trace,
		profiler: model.profiler,
	}
}

// close releases whatever is left on the stacks. After a failure both are
// discarded as a whole.
func (in *invocation) close() {
	in.stack.Clear()
	in.frames.Clear()
}

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

// run executes from the function's first instruction until the outermost
// frame returns or an instruction fails.
func (in *invocation) run() error {
	r := in.code
	for {
		pc := r.Position()
		if !r.HasMore() {
			return fmt.Errorf("%w: execution ran past the end of the function at %04d", ErrIllegalInstruction, pc)
		}
		if in.trace {
			in.traceInstruction(pc)
		}

		op := r.ReadOpcode()
		var start time.Time
		if in.profiler != nil {
			start = time.Now()
		}

		halt, err := in.step(op, pc)
		if err == nil {
			err = r.Err()
		}

		if in.profiler != nil {
			in.profiler.RecordOpcode(op, time.Since(start))
		}
		if err != nil {
			return fmt.Errorf("%s at %04d: %w", op, pc, err)
		}
		if halt {
			return nil
		}
	}
}

func (in *invocation) traceInstruction(pc int) {
	tr := NewBytecodeReader(in.fn.text)
	tr.Seek(pc)
	top := "-"
	if e, err := in.stack.Peek(); err == nil {
		top = e.String()
	}
	log.Debugf("%s %s  [depth=%d top=%s]", in.fn, DisassembleInstruction(tr), in.stack.Len(), top)
}

// step executes one decoded opcode. It reports true when the outermost
// frame has returned.
func (in *invocation) step(op Opcode, pc int) (bool, error) {
	switch op {
	// Stack
	case OpNop:
		return false, nil
	case OpDup:
		return false, in.opDup()
	case OpPop:
		return false, in.opPop()

	// Constants
	case OpLdNull, OpLdcI4, OpLdcI4_0, OpLdcI4_1, OpLdcR4, OpLdcI8:
		return false, in.opConst(op)

	// Memory
	case OpLdIndI1, OpLdIndI2, OpLdIndI4, OpLdIndI, OpLdIndU1, OpLdIndU2, OpLdIndU4, OpLdIndU,
		OpLdIndBR2, OpLdIndR4:
		return false, in.opLdInd(op)
	case OpStIndI1, OpStIndI2, OpStIndI4, OpStIndI, OpStIndBR2, OpStIndR4:
		return false, in.opStInd(op)
	case OpLdElemI1, OpLdElemI2, OpLdElemI4, OpLdElemI, OpLdElemU1, OpLdElemU2, OpLdElemU4, OpLdElemU,
		OpLdElemBR2, OpLdElemR4:
		return false, in.opLdElem(op)
	case OpStElemI1, OpStElemI2, OpStElemI4, OpStElemI, OpStElemBR2, OpStElemR4:
		return false, in.opStElem(op)
	case OpLeaGP:
		return false, in.opLeaGP()

	// Arguments and locals
	case OpLdArg:
		return false, in.opLdArg(int(in.code.ReadUint16()))
	case OpLdArg0, OpLdArg1, OpLdArg2, OpLdArg3, OpLdArg4, OpLdArg5:
		return false, in.opLdArg(int(op - OpLdArg0))
	case OpLdLocal:
		return false, in.opLdLocal(int(in.code.ReadUint16()))
	case OpStLocal:
		return false, in.opStLocal(int(in.code.ReadUint16()))

	// Arithmetic, comparison, conversion
	case OpNeg, OpNot:
		return false, in.opUnary(op)
	case OpAdd, OpSub, OpMul, OpDiv, OpDivU, OpRem, OpRemU, OpAnd, OpOr, OpXor, OpShl, OpShr, OpShrU:
		return false, in.opBinary(op)
	case OpClt, OpCltU, OpCle, OpCleU, OpCeq, OpCge, OpCgeU, OpCgt, OpCgtU, OpCne:
		return false, in.opCompare(op)
	case OpConvI1, OpConvI2, OpConvI4, OpConvI, OpConvU1, OpConvU2, OpConvU4, OpConvU, OpConvBR2, OpConvR4:
		return false, in.opConv(op)

	// Control
	case OpBr, OpBrTrue, OpBrFalse:
		return false, in.opBranch(op, pc)
	case OpRet:
		return in.opRet()
	case OpExtCall:
		return false, in.opExtCall()
	case OpCusCall:
		return false, in.opCusCall(pc)
	case OpCall, OpThrow, OpBreak:
		return false, in.opUnsupported(op)

	// Objects
	case OpLdShape, OpLdStrides:
		return false, in.opLdShape()
	case OpLdTuple:
		return false, in.opLdTuple()
	case OpLdTupleElem:
		return false, in.opLdTupleElem()
	case OpLdDatatype:
		return false, in.opLdDatatype()
	case OpLdTensor:
		return false, in.opLdTensor()
	case OpLdScalar:
		return false, in.opLdScalar(value.TypeCode(in.code.ReadUint8()))

	case OpTensor:
		return false, in.opTensor()
	}
	return false, fmt.Errorf("%w: unknown opcode 0x%02X", ErrIllegalInstruction, byte(op))
}

// ---------------------------------------------------------------------------
// Result
// ---------------------------------------------------------------------------

// result pops the final stack entry as the invocation's value.
func (in *invocation) result() (object.Ref[value.Value], error) {
	var none object.Ref[value.Value]
	e, err := in.stack.Pop()
	if err != nil {
		return none, fmt.Errorf("%w: no result on the stack", err)
	}
	switch e.Kind() {
	case EntryInt:
		return value.ValueRef(value.IntScalar(e.i)), nil
	case EntryFloat:
		return value.ValueRef(value.FloatScalar(e.f)), nil
	case EntryObject:
		obj, _ := e.TakeObject()
		v, err := object.Into[value.Value](&obj)
		if err != nil {
			obj.Release()
			return none, fmt.Errorf("%w: result is not a value: %v", ErrIllegalInstruction, err)
		}
		return v, nil
	}
	return none, fmt.Errorf("%w: result is a %s entry", ErrIllegalInstruction, e.Kind())
}

// ---------------------------------------------------------------------------
// Stack helpers
// ---------------------------------------------------------------------------

func (in *invocation) push(e Entry) { in.stack.Push(e) }

func (in *invocation) popInt() (int64, error) { return in.stack.PopInt() }

func (in *invocation) popObject() (object.Ref[object.Object], error) { return in.stack.PopObject() }

// popObjects pops n object entries and returns them in push order.
func (in *invocation) popObjects(n int) ([]object.Ref[object.Object], error) {
	if n > in.stack.Len() {
		return nil, fmt.Errorf("%w: %d values requested, %d on the stack", ErrStackUnderflow, n, in.stack.Len())
	}
	out := make([]object.Ref[object.Object], n)
	for i := n - 1; i >= 0; i-- {
		r, err := in.stack.PopObject()
		if err != nil {
			for j := i + 1; j < n; j++ {
				out[j].Release()
			}
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

// popValues pops n value objects in push order.
func (in *invocation) popValues(n int) ([]object.Ref[value.Value], error) {
	objs, err := in.popObjects(n)
	if err != nil {
		return nil, err
	}
	vals := make([]object.Ref[value.Value], n)
	for i := range objs {
		v, err := object.Into[value.Value](&objs[i])
		if err != nil {
			releaseAll(vals[:i])
			for j := i; j < n; j++ {
				objs[j].Release()
			}
			return nil, fmt.Errorf("%w: argument %d: %v", ErrInvalidArgument, i, err)
		}
		vals[i] = v
	}
	return vals, nil
}

func releaseAll[T object.Object](refs []object.Ref[T]) {
	for i := range refs {
		refs[i].Release()
	}
}
