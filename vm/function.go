package vm

import (
	"fmt"

	"github.com/chazu/tensorvm/container"
	"github.com/chazu/tensorvm/object"
	"github.com/chazu/tensorvm/value"
)

// ---------------------------------------------------------------------------
// Function: an invocable range of a module's .text
// ---------------------------------------------------------------------------

// Function is one entry of a module's function table. A Function holds no
// execution state; every Invoke builds its own stacks, so one Function may be
// invoked from several goroutines at once.
type Function struct {
	module *Module
	id     int
	meta   container.FunctionMeta
	text   []byte
}

// Module returns the module whose function table holds f.
func (f *Function) Module() *Module { return f.module }

// ID returns f's index in the function table.
func (f *Function) ID() int { return f.id }

// Name returns the function's declared name.
func (f *Function) Name() string { return f.meta.Name }

// Arity returns the number of parameters f takes.
func (f *Function) Arity() int { return f.meta.Arity() }

// Entry returns the offset of f's first instruction in the module text.
func (f *Function) Entry() int { return int(f.meta.Entry) }

// Text returns f's bytecode, from its entry to the end of its body.
func (f *Function) Text() []byte { return f.text }

// String returns module.function.
func (f *Function) String() string {
	return f.module.name + "." + f.meta.Name
}

// Invoke runs the function with params bound as the arguments of its first
// call frame. params and ret are borrowed.
//
// When ret is non-empty the result is copied into it and a new reference to
// ret is returned; otherwise the result itself is returned. Integer and float
// results are boxed into scalars.
func (f *Function) Invoke(params []object.Ref[value.Value], ret object.Ref[value.Value]) (object.Ref[value.Value], error) {
	return f.invoke(params, ret, 0)
}

func (f *Function) invoke(params []object.Ref[value.Value], ret object.Ref[value.Value], depth int) (object.Ref[value.Value], error) {
	var none object.Ref[value.Value]

	if len(params) != f.Arity() {
		return none, fmt.Errorf("%s: %w: takes %d, got %d", f, ErrArityMismatch, f.Arity(), len(params))
	}
	if depth >= f.module.model.opts.MaxCallDepth {
		return none, fmt.Errorf("%s: %w: call depth %d", f, ErrStackOverflow, depth)
	}

	args := make([]Entry, 0, len(params))
	for i, p := range params {
		e, err := f.bindParam(i, p)
		if err != nil {
			for j := range args {
				args[j].Release()
			}
			return none, fmt.Errorf("%s: parameter %d: %w", f, i, err)
		}
		args = append(args, e)
	}

	in := newInvocation(f, depth)
	defer in.close()
	in.frames.Push(len(f.text)).BindArgs(args)

	if p := f.module.model.profiler; p != nil {
		p.RecordInvocation(f)
	}

	if err := in.run(); err != nil {
		return none, fmt.Errorf("%s: %w", f, err)
	}
	result, err := in.result()
	if err != nil {
		return none, fmt.Errorf("%s: %w", f, err)
	}

	if ret.Empty() {
		return result, nil
	}
	err = result.Get().CopyTo(ret.Get())
	result.Release()
	if err != nil {
		return none, fmt.Errorf("%s: copying result: %w", f, err)
	}
	return ret.Clone(), nil
}

// bindParam checks p against the declared signature and converts it to a
// stack entry. Scalars bind as integer or float entries.
func (f *Function) bindParam(i int, p object.Ref[value.Value]) (Entry, error) {
	if p.Empty() {
		return Entry{}, fmt.Errorf("%w: empty parameter", ErrInvalidArgument)
	}
	v := p.Get()
	if err := checkParam(f.meta.Params[i], v); err != nil {
		return Entry{}, err
	}
	if s, ok := v.(*value.Scalar); ok {
		if s.IsFloat() {
			return FloatEntry(s.Float()), nil
		}
		return IntEntry(s.Int()), nil
	}
	return ObjectEntry(p.Clone()), nil
}

func checkParam(pm container.ParamMeta, v value.Value) error {
	var (
		code  value.TypeCode
		shape []int
	)
	switch t := v.(type) {
	case *value.Tensor:
		code, shape = t.Datatype().TypeCode(), t.Shape()
	case *value.Scalar:
		code, shape = t.TypeCode(), []int{}
	default:
		if pm.DType != nil || pm.Shape != nil {
			return fmt.Errorf("%w: %s parameter cannot satisfy a typed signature",
				value.ErrDatatypeMismatch, v.Kind().Name)
		}
		return nil
	}

	if pm.DType != nil && value.TypeCode(*pm.DType) != code {
		return fmt.Errorf("%w: want %s, got %s", value.ErrDatatypeMismatch, value.TypeCode(*pm.DType), code)
	}
	if pm.Shape != nil {
		dims := make([]value.Dim, len(pm.Shape))
		for i, d := range pm.Shape {
			dims[i] = value.Dim(d)
		}
		declared := value.NewShape(dims...)
		if !declared.Accepts(shape) {
			return fmt.Errorf("%w: want %s, got %v", value.ErrShapeMismatch, declared, shape)
		}
	}
	return nil
}
