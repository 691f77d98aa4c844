package container

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ModuleMeta is the decoded .meta section of a stackvm module.
type ModuleMeta struct {
	Functions   []FunctionMeta `cbor:"functions"`
	CustomCalls []string       `cbor:"custom_calls,omitempty"`
	Registers   []RegisterInit `cbor:"registers,omitempty"`
}

// FunctionMeta locates a function inside .text and declares its signature.
type FunctionMeta struct {
	Name     string      `cbor:"name"`
	Entry    uint32      `cbor:"entry"`
	TextSize uint32      `cbor:"text_size"`
	Params   []ParamMeta `cbor:"params,omitempty"`
}

// Arity is the declared parameter count.
func (f FunctionMeta) Arity() int { return len(f.Params) }

// ParamMeta declares one parameter. A nil DType or Shape leaves that part
// unchecked; -1 in Shape marks an unknown dimension.
type ParamMeta struct {
	Name  string  `cbor:"name,omitempty"`
	DType *uint8  `cbor:"dtype,omitempty"`
	Shape []int64 `cbor:"shape,omitempty"`
}

// RegisterInit presets general register ID to the .rdata base plus Offset.
type RegisterInit struct {
	ID     uint8  `cbor:"id"`
	Offset uint64 `cbor:"offset"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("container: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalMeta serializes module metadata to canonical CBOR.
func MarshalMeta(m *ModuleMeta) ([]byte, error) {
	return cborEncMode.Marshal(m)
}

// UnmarshalMeta deserializes module metadata.
func UnmarshalMeta(data []byte) (*ModuleMeta, error) {
	var m ModuleMeta
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptMeta, err)
	}
	return &m, nil
}

// Meta decodes the module's .meta section.
func (m *Module) Meta() (*ModuleMeta, error) {
	sec, ok := m.Section(SectionMeta)
	if !ok {
		return nil, fmt.Errorf("%w: %s in module %q", ErrSectionNotFound, SectionMeta, m.Name)
	}
	return UnmarshalMeta(sec.Data)
}

// SetMeta encodes meta into the module's .meta section, replacing any
// existing one.
func (m *Module) SetMeta(meta *ModuleMeta) error {
	data, err := MarshalMeta(meta)
	if err != nil {
		return err
	}
	if sec, ok := m.Section(SectionMeta); ok {
		sec.Data = data
		return nil
	}
	m.AddSection(SectionMeta, data)
	return nil
}
