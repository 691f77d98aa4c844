// Package container reads and writes tensorvm model files.
//
// A model file is a fixed header followed by a table of modules. Each module
// carries a kind string, a name and a list of named sections. The stackvm
// runtime needs three of them:
//
//	.text   instruction bytes for all functions of the module
//	.rdata  read-only data addressed by bytecode
//	.meta   canonical CBOR: function table, custom-call names, register presets
package container

import (
	"errors"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("tensorvm.container")

// ---------------------------------------------------------------------------
// Format constants
// ---------------------------------------------------------------------------

// Magic identifies a tensorvm model file.
var Magic = [4]byte{'T', 'V', 'M', 'M'}

// Version is the model format version.
// v1: initial format
// v2: parameter signatures in .meta
const Version uint32 = 2

// HeaderSize is magic(4) + version(4) + flags(4) + checksum(4) +
// moduleCount(4) + entryModule(4) + entryFunction(4).
const HeaderSize = 28

// Header flags
const (
	FlagNone      uint32 = 0
	FlagDebugInfo uint32 = 1 << 0 // reserved for source maps
)

// Well-known section names.
const (
	SectionText  = ".text"
	SectionRData = ".rdata"
	SectionMeta  = ".meta"
)

// KindStackVM is the module kind executed by the stackvm runtime.
const KindStackVM = "stackvm"

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	ErrInvalidModelIdentifier = errors.New("invalid model identifier")
	ErrInvalidModelChecksum   = errors.New("invalid model checksum")
	ErrInvalidModelVersion    = errors.New("invalid model version")
	ErrSectionNotFound        = errors.New("section not found")
	ErrUnexpectedEOF          = errors.New("unexpected end of model data")
	ErrCorruptMeta            = errors.New("corrupt module metadata")
)

// ---------------------------------------------------------------------------
// In-memory model
// ---------------------------------------------------------------------------

// Header is the parsed file header.
type Header struct {
	Magic         string
	Version       uint32
	Flags         uint32
	Checksum      uint32
	ModuleCount   uint32
	EntryModule   uint32
	EntryFunction uint32
}

// Section is a named byte range of a module.
type Section struct {
	Name  string
	Flags uint32
	Data  []byte
}

// Module is one module of a model file.
type Module struct {
	Kind     string
	Name     string
	Sections []Section
}

// Model is a parsed model file.
type Model struct {
	Header  Header
	Modules []*Module
}

// Section returns the named section.
func (m *Module) Section(name string) (*Section, bool) {
	for i := range m.Sections {
		if m.Sections[i].Name == name {
			return &m.Sections[i], true
		}
	}
	return nil, false
}

// AddSection appends a section and returns the module for chaining.
func (m *Module) AddSection(name string, data []byte) *Module {
	m.Sections = append(m.Sections, Section{Name: name, Data: data})
	return m
}
