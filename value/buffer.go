package value

import (
	"fmt"

	"github.com/chazu/tensorvm/object"
)

var (
	KindBuffer     = object.DefineKind("buffer", object.KindObject)
	KindHostBuffer = object.DefineKind("host_buffer", KindBuffer)
)

// Buffer is a physical allocation shared by one or more tensor views.
type Buffer interface {
	object.Object
	SizeBytes() int

	// Host returns the host-addressable bytes, or false when the buffer lives
	// somewhere the host cannot address directly.
	Host() ([]byte, bool)
}

// HostCopier is implemented by non-host buffers that can be materialized
// into host memory.
type HostCopier interface {
	CopyToHost() ([]byte, error)
}

// ---------------------------------------------------------------------------
// HostBuffer
// ---------------------------------------------------------------------------

// HostBuffer is a buffer in host memory. When mapped into an address space
// it remembers its base address, and its release hook runs when the last
// reference goes away.
type HostBuffer struct {
	object.Header
	data      []byte
	addr      uint64
	onRelease func()
}

// NewHostBuffer wraps data without copying.
func NewHostBuffer(data []byte) object.Ref[*HostBuffer] {
	return object.New(&HostBuffer{data: data})
}

// NewMappedHostBuffer wraps data that is mapped at addr. onRelease runs once,
// when the buffer is destroyed.
func NewMappedHostBuffer(data []byte, addr uint64, onRelease func()) object.Ref[*HostBuffer] {
	return object.New(&HostBuffer{data: data, addr: addr, onRelease: onRelease})
}

func (b *HostBuffer) Kind() *object.Kind   { return KindHostBuffer }
func (b *HostBuffer) SizeBytes() int       { return len(b.data) }
func (b *HostBuffer) Host() ([]byte, bool) { return b.data, true }
func (b *HostBuffer) Bytes() []byte        { return b.data }

// Address returns the mapped base address, or 0 if the buffer is unmapped.
func (b *HostBuffer) Address() uint64 { return b.addr }

func (b *HostBuffer) Destroy() {
	if b.onRelease != nil {
		b.onRelease()
	}
}

// BufferRef moves a typed buffer handle into a Ref[Buffer].
func BufferRef[T Buffer](r object.Ref[T]) object.Ref[Buffer] {
	if r.Empty() {
		return object.Ref[Buffer]{}
	}
	var b Buffer = r.Detach()
	return object.Adopt(b)
}

// ---------------------------------------------------------------------------
// BufferSlice
// ---------------------------------------------------------------------------

// BufferSlice is a byte range of a buffer. It owns one reference to the
// buffer.
type BufferSlice struct {
	buffer object.Ref[Buffer]
	start  int
	size   int
}

// NewBufferSlice takes ownership of buf and describes [start, start+size).
// On error buf is released.
func NewBufferSlice(buf object.Ref[Buffer], start, size int) (BufferSlice, error) {
	total := buf.Get().SizeBytes()
	if start < 0 || size < 0 || start+size > total {
		buf.Release()
		return BufferSlice{}, fmt.Errorf("%w: slice [%d, %d) of %d-byte buffer",
			ErrResultOutOfRange, start, start+size, total)
	}
	return BufferSlice{buffer: buf, start: start, size: size}, nil
}

// WholeBuffer takes ownership of buf and spans all of it.
func WholeBuffer(buf object.Ref[Buffer]) BufferSlice {
	return BufferSlice{buffer: buf, size: buf.Get().SizeBytes()}
}

// Buffer returns the underlying buffer without retaining it.
func (s BufferSlice) Buffer() Buffer { return s.buffer.Get() }

// Start returns the byte offset of the slice within its buffer.
func (s BufferSlice) Start() int { return s.start }

// SizeBytes returns the slice length in bytes.
func (s BufferSlice) SizeBytes() int { return s.size }

// IsEmpty reports whether the slice holds no buffer.
func (s BufferSlice) IsEmpty() bool { return s.buffer.Empty() }

// Host returns the slice bytes if the buffer is host-addressable.
func (s BufferSlice) Host() ([]byte, bool) {
	if s.buffer.Empty() {
		return nil, false
	}
	data, ok := s.buffer.Get().Host()
	if !ok {
		return nil, false
	}
	return data[s.start : s.start+s.size], true
}

// Address returns the mapped address of the first slice byte, or 0.
func (s BufferSlice) Address() uint64 {
	hb, ok := s.buffer.Get().(*HostBuffer)
	if !ok || hb.addr == 0 {
		return 0
	}
	return hb.addr + uint64(s.start)
}

// Clone returns a second slice sharing the buffer.
func (s BufferSlice) Clone() BufferSlice {
	return BufferSlice{buffer: s.buffer.Clone(), start: s.start, size: s.size}
}

// Release drops the slice's buffer reference.
func (s *BufferSlice) Release() {
	s.buffer.Release()
}
