package vm

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/chazu/tensorvm/container"
	"github.com/chazu/tensorvm/object"
	"github.com/chazu/tensorvm/value"
)

// ---------------------------------------------------------------------------
// Model construction helpers
// ---------------------------------------------------------------------------

type testFunc struct {
	name   string
	code   []byte
	params []container.ParamMeta
}

type testModule struct {
	name  string
	funcs []testFunc
	rdata []byte
	calls []string
	regs  []container.RegisterInit
}

// buildContainer lays every module's functions out back to back in .text.
func buildContainer(t *testing.T, mods ...testModule) []byte {
	t.Helper()
	w := container.NewWriter()
	for _, tm := range mods {
		var text []byte
		meta := &container.ModuleMeta{CustomCalls: tm.calls, Registers: tm.regs}
		for _, f := range tm.funcs {
			meta.Functions = append(meta.Functions, container.FunctionMeta{
				Name:     f.name,
				Entry:    uint32(len(text)),
				TextSize: uint32(len(f.code)),
				Params:   f.params,
			})
			text = append(text, f.code...)
		}
		m := w.AddModule(container.KindStackVM, tm.name)
		m.AddSection(container.SectionText, text)
		m.AddSection(container.SectionRData, tm.rdata)
		if err := m.SetMeta(meta); err != nil {
			t.Fatalf("SetMeta: %v", err)
		}
	}
	return w.Bytes()
}

func loadModel(t *testing.T, opts Options, mods ...testModule) *Model {
	t.Helper()
	m, err := LoadModel(buildContainer(t, mods...), opts)
	if err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	return m
}

// untyped returns n parameters without dtype or shape constraints.
func untyped(n int) []container.ParamMeta {
	return make([]container.ParamMeta, n)
}

// singleFunction loads a one-module model holding code as function "f".
func singleFunction(t *testing.T, code []byte, arity int) *Function {
	t.Helper()
	return functionWith(t, DefaultOptions(), testModule{
		name:  "main",
		funcs: []testFunc{{name: "f", code: code, params: untyped(arity)}},
	})
}

func functionWith(t *testing.T, opts Options, mod testModule) *Function {
	t.Helper()
	m := loadModel(t, opts, mod)
	f, err := m.modules[0].Function(0)
	if err != nil {
		t.Fatalf("Function: %v", err)
	}
	return f
}

// ---------------------------------------------------------------------------
// Value helpers
// ---------------------------------------------------------------------------

func intParams(vs ...int64) []object.Ref[value.Value] {
	out := make([]object.Ref[value.Value], len(vs))
	for i, v := range vs {
		out[i] = value.ValueRef(value.IntScalar(v))
	}
	return out
}

func release(refs []object.Ref[value.Value]) {
	for i := range refs {
		refs[i].Release()
	}
}

func invoke(t *testing.T, f *Function, params ...object.Ref[value.Value]) (object.Ref[value.Value], error) {
	t.Helper()
	return f.Invoke(params, object.Ref[value.Value]{})
}

// invokeInt invokes f with integer parameters and unboxes the result.
func invokeInt(t *testing.T, f *Function, args ...int64) int64 {
	t.Helper()
	params := intParams(args...)
	defer release(params)
	r, err := f.Invoke(params, object.Ref[value.Value]{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	defer r.Release()
	s, ok := r.Get().(*value.Scalar)
	if !ok || s.IsFloat() {
		t.Fatalf("result = %v, want an integer scalar", r.Get())
	}
	return s.Int()
}

func invokeFloat(t *testing.T, f *Function) float32 {
	t.Helper()
	r, err := f.Invoke(nil, object.Ref[value.Value]{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	defer r.Release()
	s, ok := r.Get().(*value.Scalar)
	if !ok || !s.IsFloat() {
		t.Fatalf("result = %v, want a float scalar", r.Get())
	}
	return s.Float()
}

func f32Tensor(t *testing.T, shape []int, vals ...float32) object.Ref[*value.Tensor] {
	t.Helper()
	data := make([]byte, 0, 4*len(vals))
	for _, v := range vals {
		data = appendF32(data, v)
	}
	r, err := value.NewHostTensor(value.MustPrim(value.Float32), shape, data)
	if err != nil {
		t.Fatalf("NewHostTensor: %v", err)
	}
	return r
}

func appendF32(b []byte, v float32) []byte {
	return binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
}
