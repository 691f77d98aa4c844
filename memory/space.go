// Package memory implements the linear host address space that bytecode
// addresses refer to. Go code cannot dereference arbitrary integers, so
// every byte range the runtime exposes to bytecode (read-only data
// sections, host buffers) is mapped here at a page-aligned base address.
package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

var (
	ErrBadAddress            = errors.New("bad address")
	ErrInvalidMemoryLocation = errors.New("invalid memory location")
)

const (
	// PageSize is the mapping granularity. Page zero is never mapped so
	// that address 0 always faults.
	PageSize = 4096

	firstBase = PageSize
)

type region struct {
	base     uint64
	data     []byte
	readOnly bool
	owner    any
}

func (r region) end() uint64 { return r.base + uint64(len(r.data)) }

// Space is a set of non-overlapping mapped regions. It is safe for
// concurrent use; the bytes inside a region are not synchronized.
type Space struct {
	mu      sync.RWMutex
	regions []region // sorted by base
	next    uint64
}

// NewSpace returns an empty address space.
func NewSpace() *Space {
	return &Space{next: firstBase}
}

// Map places data at a fresh page-aligned address and returns it. The bytes
// are shared, not copied.
func (s *Space) Map(data []byte) uint64 {
	return s.mapRegion(data, false)
}

// MapReadOnly is Map for data that bytecode may load but never store to.
func (s *Space) MapReadOnly(data []byte) uint64 {
	return s.mapRegion(data, true)
}

func (s *Space) mapRegion(data []byte, readOnly bool) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := s.next
	pages := (uint64(len(data)) + PageSize - 1) / PageSize
	if pages == 0 {
		pages = 1
	}
	// Leave one guard page between regions.
	s.next = base + (pages+1)*PageSize
	s.regions = append(s.regions, region{base: base, data: data, readOnly: readOnly})
	return base
}

// SetOwner attaches an owner token to the region starting at base. Resolve
// hands it back so callers can reference the object that owns the bytes.
func (s *Space) SetOwner(base uint64, owner any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.regions), func(i int) bool { return s.regions[i].base >= base })
	if i == len(s.regions) || s.regions[i].base != base {
		return fmt.Errorf("%w: no region at %#x", ErrInvalidMemoryLocation, base)
	}
	s.regions[i].owner = owner
	return nil
}

// Unmap removes the region starting at base.
func (s *Space) Unmap(base uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.regions), func(i int) bool { return s.regions[i].base >= base })
	if i == len(s.regions) || s.regions[i].base != base {
		return fmt.Errorf("%w: no region at %#x", ErrInvalidMemoryLocation, base)
	}
	s.regions = append(s.regions[:i], s.regions[i+1:]...)
	return nil
}

// Regions returns the number of mapped regions.
func (s *Space) Regions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.regions)
}

// Mapping describes the region an address resolved to.
type Mapping struct {
	Base     uint64
	Data     []byte // the whole region
	ReadOnly bool
	Owner    any // nil unless set with SetOwner
}

// Resolve returns the region holding [addr, addr+n).
func (s *Space) Resolve(addr uint64, n int) (Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, err := s.find(addr, n)
	if err != nil {
		return Mapping{}, err
	}
	return Mapping{Base: r.base, Data: r.data, ReadOnly: r.readOnly, Owner: r.owner}, nil
}

// Slice returns the n bytes at addr. The range must lie inside one region.
func (s *Space) Slice(addr uint64, n int) ([]byte, error) {
	b, _, err := s.slice(addr, n)
	return b, err
}

func (s *Space) slice(addr uint64, n int) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, err := s.find(addr, n)
	if err != nil {
		return nil, false, err
	}
	off := addr - r.base
	return r.data[off : off+uint64(n)], r.readOnly, nil
}

// find locates the region holding [addr, addr+n). The caller holds mu.
func (s *Space) find(addr uint64, n int) (region, error) {
	if addr == 0 {
		return region{}, ErrBadAddress
	}
	if n < 0 {
		return region{}, fmt.Errorf("%w: negative length %d", ErrInvalidMemoryLocation, n)
	}
	i := sort.Search(len(s.regions), func(i int) bool { return s.regions[i].end() > addr })
	if i == len(s.regions) || s.regions[i].base > addr {
		return region{}, fmt.Errorf("%w: %#x is not mapped", ErrInvalidMemoryLocation, addr)
	}
	r := s.regions[i]
	if addr-r.base+uint64(n) > uint64(len(r.data)) {
		return region{}, fmt.Errorf("%w: [%#x, %#x) crosses end of region at %#x",
			ErrInvalidMemoryLocation, addr, addr+uint64(n), r.end())
	}
	return r, nil
}

// Tail returns every byte from addr to the end of its region.
func (s *Space) Tail(addr uint64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, err := s.find(addr, 0)
	if err != nil {
		return nil, err
	}
	return r.data[addr-r.base:], nil
}

// ---------------------------------------------------------------------------
// Fixed-width access
// ---------------------------------------------------------------------------

// Load reads a little-endian unsigned value of width 1, 2, 4 or 8 bytes.
func (s *Space) Load(addr uint64, width int) (uint64, error) {
	b, err := s.Slice(addr, width)
	if err != nil {
		return 0, err
	}
	switch width {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	case 8:
		return binary.LittleEndian.Uint64(b), nil
	}
	return 0, fmt.Errorf("%w: unsupported width %d", ErrInvalidMemoryLocation, width)
}

// Store writes the low width bytes of v little-endian.
func (s *Space) Store(addr uint64, width int, v uint64) error {
	b, readOnly, err := s.slice(addr, width)
	if err != nil {
		return err
	}
	if readOnly {
		return fmt.Errorf("%w: %#x is read-only", ErrInvalidMemoryLocation, addr)
	}
	switch width {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(b, v)
	default:
		return fmt.Errorf("%w: unsupported width %d", ErrInvalidMemoryLocation, width)
	}
	return nil
}

// LoadFloat32 reads an IEEE single at addr.
func (s *Space) LoadFloat32(addr uint64) (float32, error) {
	v, err := s.Load(addr, 4)
	return math.Float32frombits(uint32(v)), err
}

// StoreFloat32 writes an IEEE single at addr.
func (s *Space) StoreFloat32(addr uint64, f float32) error {
	return s.Store(addr, 4, uint64(math.Float32bits(f)))
}
