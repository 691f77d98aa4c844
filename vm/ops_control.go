package vm

import (
	"fmt"

	"github.com/chazu/tensorvm/object"
	"github.com/chazu/tensorvm/value"
)

// ---------------------------------------------------------------------------
// Branches and return
// ---------------------------------------------------------------------------

// jump moves the pc to target, which must lie inside the function.
func (in *invocation) jump(target int) error {
	if target < 0 || target >= len(in.fn.text) {
		return fmt.Errorf("%w: %d outside [0, %d)", ErrIllegalBranchTarget, target, len(in.fn.text))
	}
	in.code.Seek(target)
	return nil
}

// BR, BR_TRUE, BR_FALSE: offsets are relative to the branch instruction.
func (in *invocation) opBranch(op Opcode, pc int) error {
	offset := in.code.ReadInt32()
	if err := in.code.Err(); err != nil {
		return err
	}
	if op != OpBr {
		cond, err := in.popInt()
		if err != nil {
			return err
		}
		if (cond != 0) != (op == OpBrTrue) {
			return nil
		}
	}
	return in.jump(pc + int(offset))
}

// RET pops the current frame. Execution halts when no frame is left.
func (in *invocation) opRet() (bool, error) {
	ret, err := in.frames.Pop()
	if err != nil {
		return false, err
	}
	if in.frames.Len() == 0 {
		return true, nil
	}
	return false, in.jump(ret)
}

// CALL, THROW and BREAK decode but do not execute.
func (in *invocation) opUnsupported(op Opcode) error {
	if op == OpCall {
		in.code.ReadUint16()
		in.code.ReadInt32()
		if err := in.code.Err(); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %s", ErrNotSupported, op)
}

// ---------------------------------------------------------------------------
// External and custom calls
// ---------------------------------------------------------------------------

// EXTCALL argc: stack is [args..., function id, module id].
func (in *invocation) opExtCall() error {
	argc := int(in.code.ReadUint16())
	if err := in.code.Err(); err != nil {
		return err
	}

	mid, err := in.popInt()
	if err != nil {
		return err
	}
	fid, err := in.popInt()
	if err != nil {
		return err
	}
	moduleID, err := toCount(mid)
	if err != nil {
		return err
	}
	functionID, err := toCount(fid)
	if err != nil {
		return err
	}
	mod, err := in.model.Module(moduleID)
	if err != nil {
		return err
	}
	target, err := mod.Function(functionID)
	if err != nil {
		return err
	}

	args, err := in.popValues(argc)
	if err != nil {
		return err
	}
	defer releaseAll(args)

	result, err := target.invoke(args, object.Ref[value.Value]{}, in.depth+1)
	if err != nil {
		return err
	}
	in.push(ObjectEntry(result))
	return nil
}

// CUSCALL name, payload, argc: pops argc values and hands them to the
// native handler registered under name.
func (in *invocation) opCusCall(pc int) error {
	r := in.code
	name := r.ReadBytes(int(r.ReadUint16()))
	payload := r.ReadBytes(int(r.ReadUint32()))
	argc := int(r.ReadUint16())
	if err := r.Err(); err != nil {
		return err
	}

	call, err := in.module.resolveCustomCall(in.fn.Entry()+pc, name)
	if err != nil {
		return err
	}

	args, err := in.popValues(argc)
	if err != nil {
		return err
	}
	defer releaseAll(args)

	result, err := invokeCustomCall(call.name, call.handler, in.module.kctx, payload, args)
	if err != nil {
		return fmt.Errorf("custom call %q: %w", call.name, err)
	}
	if result.Empty() {
		in.push(IntEntry(0))
		return nil
	}
	in.push(ObjectEntry(result))
	return nil
}

// ---------------------------------------------------------------------------
// Tensor prefix
// ---------------------------------------------------------------------------

// TENSOR funct, payload: decoding of the payload belongs to the dispatcher.
func (in *invocation) opTensor() (err error) {
	r := in.code
	funct := r.ReadUint16()
	payload := r.ReadBytes(int(r.ReadUint32()))
	if err := r.Err(); err != nil {
		return err
	}

	d := in.model.opts.Tensor
	if d == nil {
		return fmt.Errorf("%w: no tensor dispatcher for function %d", ErrNotSupported, funct)
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: tensor function %d: %v", ErrNativePanic, funct, p)
		}
	}()
	return d.DispatchTensor(in.module.kctx, funct, NewBytecodeReader(payload), in.stack)
}
