package vm

import (
	"errors"

	"github.com/tliron/commonlog"

	"github.com/chazu/tensorvm/object"
	"github.com/chazu/tensorvm/value"
)

var log = commonlog.GetLogger("tensorvm.vm")

// Runtime errors. Handlers wrap these with fmt.Errorf so callers can match
// them with errors.Is.
var (
	ErrIllegalInstruction  = errors.New("stackvm: illegal instruction")
	ErrIllegalBranchTarget = errors.New("stackvm: illegal branch target")
	ErrStackOverflow       = errors.New("stackvm: stack overflow")
	ErrStackUnderflow      = errors.New("stackvm: stack underflow")
	ErrUnknownCustomCall   = errors.New("stackvm: unknown custom call")
	ErrDuplicateCustomCall = errors.New("stackvm: duplicate custom call")
	ErrNotEnoughMemory     = errors.New("not enough memory")
	ErrDivideByZero        = errors.New("divide by zero")
	ErrArityMismatch       = errors.New("argument count does not match function arity")
	ErrNativePanic         = errors.New("native handler panicked")
)

// Shared with the value and object packages, so a range or argument error
// matches the same sentinel whichever layer raised it.
var (
	ErrNotSupported     = value.ErrNotSupported
	ErrResultOutOfRange = value.ErrResultOutOfRange
	ErrInvalidArgument  = object.ErrInvalidArgument
)
