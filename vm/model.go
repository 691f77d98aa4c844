package vm

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/chazu/tensorvm/container"
	"github.com/chazu/tensorvm/memory"
	"github.com/chazu/tensorvm/object"
	"github.com/chazu/tensorvm/value"
)

// ---------------------------------------------------------------------------
// Model: a loaded container
// ---------------------------------------------------------------------------

// Model owns the modules of one container, the address space their data is
// mapped into and the handlers they call out to.
type Model struct {
	space    *memory.Space
	modules  []*Module
	byName   map[string]*Module
	header   container.Header
	opts     Options
	calls    *CustomCallRegistry
	profiler *Profiler

	hostBytes atomic.Int64
}

// LoadModel parses a model file and initializes every module.
func LoadModel(data []byte, opts Options) (*Model, error) {
	c, err := container.Parse(data)
	if err != nil {
		return nil, err
	}
	return NewModel(c, opts)
}

// LoadModelFile reads and loads a model file.
func LoadModelFile(path string, opts Options) (*Model, error) {
	c, err := container.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewModel(c, opts)
}

// NewModel initializes the modules of a parsed container. Module ids are
// their positions in the container.
func NewModel(c *container.Model, opts Options) (*Model, error) {
	opts.normalize()
	m := &Model{
		space:  memory.NewSpace(),
		byName: make(map[string]*Module, len(c.Modules)),
		header: c.Header,
		opts:   opts,
		calls:  opts.CustomCalls,
	}
	if m.calls == nil {
		m.calls = NewCustomCallRegistry()
	}
	if opts.Profile {
		m.profiler = NewProfiler()
	}

	for i, cm := range c.Modules {
		mod, err := newModule(m, i, cm)
		if err != nil {
			return nil, fmt.Errorf("module %d (%s): %w", i, cm.Name, err)
		}
		m.modules = append(m.modules, mod)
		m.byName[mod.name] = mod
	}
	log.Infof("loaded model: %d modules", len(m.modules))
	return m, nil
}

// Modules returns the loaded modules in id order.
func (m *Model) Modules() []*Module { return m.modules }

// Module returns the module with the given id.
func (m *Model) Module(id int) (*Module, error) {
	if id < 0 || id >= len(m.modules) {
		return nil, fmt.Errorf("%w: module %d of %d", ErrResultOutOfRange, id, len(m.modules))
	}
	return m.modules[id], nil
}

// ModuleByName looks a module up by name.
func (m *Model) ModuleByName(name string) (*Module, bool) {
	mod, ok := m.byName[name]
	return mod, ok
}

// Entry returns the entry function named by the container header.
func (m *Model) Entry() (*Function, error) {
	mod, err := m.Module(int(m.header.EntryModule))
	if err != nil {
		return nil, err
	}
	return mod.Function(int(m.header.EntryFunction))
}

// Space returns the address space bytecode addresses refer to.
func (m *Model) Space() *memory.Space { return m.space }

// Options returns the normalized options.
func (m *Model) Options() Options { return m.opts }

// CustomCalls returns the registry modules resolve custom calls against.
func (m *Model) CustomCalls() *CustomCallRegistry { return m.calls }

// Profiler returns the opcode profiler, or nil when profiling is off.
func (m *Model) Profiler() *Profiler { return m.profiler }

// SaveProfile stores the profiler's statistics in the configured profile
// database and returns the new run id.
func (m *Model) SaveProfile() (uuid.UUID, error) {
	if m.profiler == nil {
		return uuid.Nil, fmt.Errorf("%w: profiling is disabled", ErrNotSupported)
	}
	if m.opts.ProfileDatabase == "" {
		return uuid.Nil, fmt.Errorf("%w: no profile database configured", ErrInvalidArgument)
	}
	store, err := OpenProfileStore(m.opts.ProfileDatabase)
	if err != nil {
		return uuid.Nil, err
	}
	defer store.Close()
	return store.Save(m.profiler.Stats())
}

// ---------------------------------------------------------------------------
// Host memory
// ---------------------------------------------------------------------------

// HostBytes returns the bytes of live host buffers allocated by the model.
func (m *Model) HostBytes() int64 { return m.hostBytes.Load() }

// AllocHostBuffer allocates a zeroed buffer and maps it into the address
// space. The mapping is removed when the last reference is released.
func (m *Model) AllocHostBuffer(size int) (object.Ref[*value.HostBuffer], error) {
	if size < 0 {
		return object.Ref[*value.HostBuffer]{}, fmt.Errorf("%w: buffer size %d", ErrInvalidArgument, size)
	}
	n := int64(size)
	if total := m.hostBytes.Add(n); m.opts.HostMemoryLimit > 0 && total > m.opts.HostMemoryLimit {
		m.hostBytes.Add(-n)
		return object.Ref[*value.HostBuffer]{}, fmt.Errorf("%w: %d bytes requested, %d of %d in use",
			ErrNotEnoughMemory, size, total-n, m.opts.HostMemoryLimit)
	}

	data := make([]byte, size)
	addr := m.space.Map(data)
	buf := value.NewMappedHostBuffer(data, addr, func() {
		if err := m.space.Unmap(addr); err != nil {
			log.Warningf("unmapping host buffer: %s", err)
		}
		m.hostBytes.Add(-n)
	})
	if err := m.space.SetOwner(addr, buf.Get()); err != nil {
		buf.Release()
		return object.Ref[*value.HostBuffer]{}, err
	}
	return buf, nil
}

// bufferAt returns a view of n bytes at addr. Ranges inside a host buffer
// retain that buffer so the mapping stays valid for the life of the view.
// Other mappings, such as module data, live as long as the model.
func (m *Model) bufferAt(addr uint64, n int) (value.BufferSlice, error) {
	mp, err := m.space.Resolve(addr, n)
	if err != nil {
		return value.BufferSlice{}, err
	}
	off := int(addr - mp.Base)
	if hb, ok := mp.Owner.(*value.HostBuffer); ok {
		ref, ok := object.TryRetain(hb)
		if !ok {
			return value.BufferSlice{}, fmt.Errorf("%w: buffer at 0x%x is being released", memory.ErrInvalidMemoryLocation, mp.Base)
		}
		return value.NewBufferSlice(value.BufferRef(ref), off, n)
	}
	raw := value.NewMappedHostBuffer(mp.Data[off:off+n], addr, nil)
	return value.WholeBuffer(value.BufferRef(raw)), nil
}

// AllocHostTensor allocates a contiguous tensor over a fresh host buffer.
func (m *Model) AllocHostTensor(dtype value.Datatype, shape []int) (object.Ref[*value.Tensor], error) {
	size, err := value.ContiguousBytes(dtype.SizeBytes(), shape)
	if err != nil {
		return object.Ref[*value.Tensor]{}, err
	}
	buf, err := m.AllocHostBuffer(size)
	if err != nil {
		return object.Ref[*value.Tensor]{}, err
	}
	return value.NewTensor(dtype, shape, nil, value.WholeBuffer(value.BufferRef(buf)))
}
