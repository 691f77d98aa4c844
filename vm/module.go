package vm

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/chazu/tensorvm/container"
)

// MaxGeneralRegs is the size of a module's register file.
const MaxGeneralRegs = 8

// ---------------------------------------------------------------------------
// Module: one stackvm code unit
// ---------------------------------------------------------------------------

// Module is an initialized stackvm module: its sections, registers, custom
// call table and functions.
//
// Registers are not locked. Concurrent invocations that change registers of
// the same module race.
type Module struct {
	model *Model
	id    int
	name  string

	text      []byte
	rdata     []byte
	rdataBase uint64
	regs      [MaxGeneralRegs]uint64

	meta        *container.ModuleMeta
	functions   []*Function
	byName      map[string]*Function
	customCalls map[string]CustomCallHandler
	resolved    *lru.Cache[int, resolvedCall]
	kctx        *KernelContext
}

type resolvedCall struct {
	name    string
	handler CustomCallHandler
}

func newModule(model *Model, id int, cm *container.Module) (*Module, error) {
	if cm.Kind != container.KindStackVM {
		return nil, fmt.Errorf("%w: module kind %q", ErrNotSupported, cm.Kind)
	}

	text, ok := cm.Section(container.SectionText)
	if !ok {
		return nil, fmt.Errorf("%w: %s", container.ErrSectionNotFound, container.SectionText)
	}
	rdata, ok := cm.Section(container.SectionRData)
	if !ok {
		return nil, fmt.Errorf("%w: %s", container.ErrSectionNotFound, container.SectionRData)
	}
	meta, err := cm.Meta()
	if err != nil {
		return nil, err
	}

	cache, err := lru.New[int, resolvedCall](model.opts.ResolutionCacheSize)
	if err != nil {
		return nil, fmt.Errorf("%w: resolution cache: %v", ErrInvalidArgument, err)
	}

	m := &Module{
		model:       model,
		id:          id,
		name:        cm.Name,
		text:        text.Data,
		rdata:       rdata.Data,
		meta:        meta,
		byName:      make(map[string]*Function, len(meta.Functions)),
		customCalls: make(map[string]CustomCallHandler, len(meta.CustomCalls)),
		resolved:    cache,
	}
	m.kctx = &KernelContext{model: model, module: m}

	m.rdataBase = model.space.MapReadOnly(m.rdata)
	m.regs[0] = m.rdataBase
	for _, r := range meta.Registers {
		if int(r.ID) >= MaxGeneralRegs {
			return nil, fmt.Errorf("%w: register %d", ErrResultOutOfRange, r.ID)
		}
		if r.Offset > uint64(len(m.rdata)) {
			return nil, fmt.Errorf("%w: register %d offset %d beyond %d bytes of %s",
				ErrResultOutOfRange, r.ID, r.Offset, len(m.rdata), container.SectionRData)
		}
		m.regs[r.ID] = m.rdataBase + r.Offset
	}

	for _, name := range meta.CustomCalls {
		if _, dup := m.customCalls[name]; dup {
			return nil, fmt.Errorf("%w: %q declared twice", ErrDuplicateCustomCall, name)
		}
		h, ok := model.calls.Lookup(name)
		if !ok {
			log.Debugf("module %q: custom call %q has no registered handler", m.name, name)
		}
		m.customCalls[name] = h
	}

	for i := range meta.Functions {
		f, err := m.CreateFunction(i)
		if err != nil {
			return nil, err
		}
		m.functions = append(m.functions, f)
		m.byName[f.Name()] = f
	}

	log.Infof("loaded module %q: %d functions, %d bytes of text, %d bytes of rdata at %#x",
		m.name, len(m.functions), len(m.text), len(m.rdata), m.rdataBase)
	return m, nil
}

// Model returns the model that loaded m.
func (m *Module) Model() *Model { return m.model }

// ID returns m's index in the container.
func (m *Module) ID() int { return m.id }

// Name returns the module name from the container.
func (m *Module) Name() string { return m.name }

// Text returns the whole .text section.
func (m *Module) Text() []byte { return m.text }

// RDataBase returns the address .rdata is mapped at.
func (m *Module) RDataBase() uint64 { return m.rdataBase }

// Meta returns the decoded module metadata.
func (m *Module) Meta() *container.ModuleMeta { return m.meta }

// KernelContext returns the context passed to m's custom call handlers.
func (m *Module) KernelContext() *KernelContext { return m.kctx }

// Functions returns the function table in declaration order.
func (m *Module) Functions() []*Function { return m.functions }

// CreateFunction builds a new function object for entry id of the function
// table.
func (m *Module) CreateFunction(id int) (*Function, error) {
	if id < 0 || id >= len(m.meta.Functions) {
		return nil, fmt.Errorf("%w: function %d of %d in module %q",
			ErrResultOutOfRange, id, len(m.meta.Functions), m.name)
	}
	fm := m.meta.Functions[id]
	start, end := uint64(fm.Entry), uint64(fm.Entry)+uint64(fm.TextSize)
	if end > uint64(len(m.text)) {
		return nil, fmt.Errorf("%w: function %q spans [%d, %d) of %d-byte %s",
			ErrResultOutOfRange, fm.Name, start, end, len(m.text), container.SectionText)
	}
	return &Function{
		module: m,
		id:     id,
		meta:   fm,
		text:   m.text[start:end:end],
	}, nil
}

// Function returns the function with the given id.
func (m *Module) Function(id int) (*Function, error) {
	if id < 0 || id >= len(m.functions) {
		return nil, fmt.Errorf("%w: function %d of %d in module %q",
			ErrResultOutOfRange, id, len(m.functions), m.name)
	}
	return m.functions[id], nil
}

// FunctionByName looks a function up by name.
func (m *Module) FunctionByName(name string) (*Function, bool) {
	f, ok := m.byName[name]
	return f, ok
}

// ---------------------------------------------------------------------------
// Registers
// ---------------------------------------------------------------------------

// Register reads general register id.
func (m *Module) Register(id int) (uint64, error) {
	if id < 0 || id >= MaxGeneralRegs {
		return 0, fmt.Errorf("%w: register %d", ErrResultOutOfRange, id)
	}
	return m.regs[id], nil
}

// SetRegister writes general register id.
func (m *Module) SetRegister(id int, v uint64) error {
	if id < 0 || id >= MaxGeneralRegs {
		return fmt.Errorf("%w: register %d", ErrResultOutOfRange, id)
	}
	m.regs[id] = v
	return nil
}

// ---------------------------------------------------------------------------
// Custom-call resolution
// ---------------------------------------------------------------------------

// resolveCustomCall finds the handler of the CUSCALL at text offset pc.
// Resolutions are cached by offset; a cached call skips the name lookup.
func (m *Module) resolveCustomCall(pc int, name []byte) (resolvedCall, error) {
	if rc, ok := m.resolved.Get(pc); ok {
		return rc, nil
	}
	n := string(name)
	h, ok := m.customCalls[n]
	if !ok || h == nil {
		return resolvedCall{}, fmt.Errorf("%w: %q", ErrUnknownCustomCall, n)
	}
	log.Debugf("module %q: resolved custom call %q at %04d", m.name, n, pc)
	rc := resolvedCall{name: n, handler: h}
	m.resolved.Add(pc, rc)
	return rc, nil
}
