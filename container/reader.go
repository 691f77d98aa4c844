package container

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// Reader parses a model file held in memory. Section data aliases the input
// bytes.
type Reader struct {
	data   []byte
	offset int
	header Header
}

// NewReader creates a reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Parse reads a complete model from data.
func Parse(data []byte) (*Model, error) {
	return NewReader(data).ReadModel()
}

// Read reads a complete model from r.
func Read(r io.Reader) (*Model, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read model data: %w", err)
	}
	return Parse(data)
}

// ReadFile reads a complete model from a file.
func ReadFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return Parse(data)
}

// ---------------------------------------------------------------------------
// Header
// ---------------------------------------------------------------------------

// ReadHeader reads and validates the header, including the body checksum.
func (r *Reader) ReadHeader() (*Header, error) {
	if len(r.data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidModelIdentifier, len(r.data))
	}
	r.offset = 0

	magic := string(r.data[0:4])
	if magic != string(Magic[:]) {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidModelIdentifier, magic)
	}
	r.offset = 4

	version, _ := r.readUint32()
	if version != Version {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrInvalidModelVersion, Version, version)
	}
	flags, _ := r.readUint32()
	checksum, _ := r.readUint32()
	moduleCount, _ := r.readUint32()
	entryModule, _ := r.readUint32()
	entryFunction, _ := r.readUint32()

	if sum := crc32.ChecksumIEEE(r.data[HeaderSize:]); sum != checksum {
		return nil, fmt.Errorf("%w: header says %08x, body hashes to %08x", ErrInvalidModelChecksum, checksum, sum)
	}

	r.header = Header{
		Magic:         magic,
		Version:       version,
		Flags:         flags,
		Checksum:      checksum,
		ModuleCount:   moduleCount,
		EntryModule:   entryModule,
		EntryFunction: entryFunction,
	}
	return &r.header, nil
}

// ---------------------------------------------------------------------------
// Body
// ---------------------------------------------------------------------------

// ReadModel reads the header and every module.
func (r *Reader) ReadModel() (*Model, error) {
	h, err := r.ReadHeader()
	if err != nil {
		return nil, err
	}

	if uint64(h.ModuleCount) > uint64(r.remaining()/minModuleSize) {
		return nil, fmt.Errorf("%w: %d modules declared in %d bytes", ErrUnexpectedEOF, h.ModuleCount, r.remaining())
	}
	m := &Model{Header: *h, Modules: make([]*Module, 0, h.ModuleCount)}
	for i := uint32(0); i < h.ModuleCount; i++ {
		mod, err := r.readModule()
		if err != nil {
			return nil, fmt.Errorf("module %d: %w", i, err)
		}
		m.Modules = append(m.Modules, mod)
	}
	log.Debugf("parsed model: %d modules, %d bytes", len(m.Modules), len(r.data))
	return m, nil
}

func (r *Reader) readModule() (*Module, error) {
	kind, err := r.readString()
	if err != nil {
		return nil, fmt.Errorf("failed to read kind: %w", err)
	}
	name, err := r.readString()
	if err != nil {
		return nil, fmt.Errorf("failed to read name: %w", err)
	}
	count, err := r.readUint32()
	if err != nil {
		return nil, fmt.Errorf("failed to read section count: %w", err)
	}

	if uint64(count) > uint64(r.remaining()/minSectionSize) {
		return nil, fmt.Errorf("%w: %d sections declared in %d bytes", ErrUnexpectedEOF, count, r.remaining())
	}
	mod := &Module{Kind: kind, Name: name, Sections: make([]Section, 0, count)}
	for i := uint32(0); i < count; i++ {
		secName, err := r.readString()
		if err != nil {
			return nil, fmt.Errorf("section %d name: %w", i, err)
		}
		flags, err := r.readUint32()
		if err != nil {
			return nil, fmt.Errorf("section %s flags: %w", secName, err)
		}
		size, err := r.readUint32()
		if err != nil {
			return nil, fmt.Errorf("section %s size: %w", secName, err)
		}
		data, err := r.readBytes(int(size))
		if err != nil {
			return nil, fmt.Errorf("section %s data: %w", secName, err)
		}
		mod.Sections = append(mod.Sections, Section{Name: secName, Flags: flags, Data: data})
	}
	return mod, nil
}

// Smallest encodings of a module (kind, name, section count) and of a
// section (name, flags, size). Declared counts are checked against them
// before anything is allocated.
const (
	minModuleSize  = 12
	minSectionSize = 12
)

func (r *Reader) remaining() int {
	return len(r.data) - r.offset
}

func (r *Reader) readUint32() (uint32, error) {
	if r.offset+4 > len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint32(r.data[r.offset:])
	r.offset += 4
	return v, nil
}

func (r *Reader) readBytes(n int) ([]byte, error) {
	if n < 0 || r.offset+n > len(r.data) {
		return nil, ErrUnexpectedEOF
	}
	data := r.data[r.offset : r.offset+n]
	r.offset += n
	return data, nil
}

// readString reads a [length:32 | utf8 bytes] string.
func (r *Reader) readString() (string, error) {
	n, err := r.readUint32()
	if err != nil {
		return "", err
	}
	b, err := r.readBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
