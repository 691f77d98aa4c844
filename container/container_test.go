package container

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"path/filepath"
	"testing"
)

// reseal recomputes the body checksum after a test edits the body.
func reseal(data []byte) []byte {
	binary.LittleEndian.PutUint32(data[12:], crc32.ChecksumIEEE(data[HeaderSize:]))
	return data
}

func sampleWriter(t *testing.T) *Writer {
	t.Helper()
	w := NewWriter()
	m := w.AddModule(KindStackVM, "main")
	m.AddSection(SectionText, []byte{0x00, 0x93})
	m.AddSection(SectionRData, []byte{1, 2, 3, 4})
	f32 := uint8(0x0B)
	err := m.SetMeta(&ModuleMeta{
		Functions: []FunctionMeta{
			{Name: "entry", Entry: 0, TextSize: 2, Params: []ParamMeta{{Name: "x", DType: &f32, Shape: []int64{-1, 4}}}},
		},
		CustomCalls: []string{"my.kernel"},
		Registers:   []RegisterInit{{ID: 1, Offset: 2}},
	})
	if err != nil {
		t.Fatal(err)
	}
	w.SetEntry(0, 0)
	return w
}

func TestRoundTrip(t *testing.T) {
	data := sampleWriter(t).Bytes()

	model, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if model.Header.Version != Version || model.Header.ModuleCount != 1 {
		t.Errorf("header = %+v", model.Header)
	}
	mod := model.Modules[0]
	if mod.Kind != KindStackVM || mod.Name != "main" {
		t.Errorf("module = %s/%s", mod.Kind, mod.Name)
	}
	text, ok := mod.Section(SectionText)
	if !ok || !bytes.Equal(text.Data, []byte{0x00, 0x93}) {
		t.Errorf(".text = %v, %v", text, ok)
	}

	meta, err := mod.Meta()
	if err != nil {
		t.Fatalf("Meta: %v", err)
	}
	if len(meta.Functions) != 1 || meta.Functions[0].Arity() != 1 {
		t.Fatalf("functions = %+v", meta.Functions)
	}
	p := meta.Functions[0].Params[0]
	if p.DType == nil || *p.DType != 0x0B || len(p.Shape) != 2 || p.Shape[0] != -1 {
		t.Errorf("param = %+v", p)
	}
	if len(meta.CustomCalls) != 1 || meta.CustomCalls[0] != "my.kernel" {
		t.Errorf("custom calls = %v", meta.CustomCalls)
	}
	if len(meta.Registers) != 1 || meta.Registers[0].ID != 1 {
		t.Errorf("registers = %v", meta.Registers)
	}
}

func TestMetaIsCanonical(t *testing.T) {
	a := sampleWriter(t).Bytes()
	b := sampleWriter(t).Bytes()
	if !bytes.Equal(a, b) {
		t.Error("encoding the same model twice produced different bytes")
	}
}

func TestParseErrors(t *testing.T) {
	good := sampleWriter(t).Bytes()

	badMagic := append([]byte(nil), good...)
	badMagic[0] = 'X'

	badVersion := append([]byte(nil), good...)
	badVersion[4] = 99

	badBody := append([]byte(nil), good...)
	badBody[len(badBody)-1] ^= 0xFF

	// A checksummed empty body that declares 2^32-1 modules.
	hugeModules := NewWriter().Bytes()
	binary.LittleEndian.PutUint32(hugeModules[16:], 0xFFFFFFFF)

	// One module "m" of kind "k" whose section count claims 2^32-1 entries.
	w := NewWriter()
	w.AddModule("k", "m")
	hugeSections := w.Bytes()
	binary.LittleEndian.PutUint32(hugeSections[HeaderSize+4+1+4+1:], 0xFFFFFFFF)
	reseal(hugeSections)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrInvalidModelIdentifier},
		{"short", good[:10], ErrInvalidModelIdentifier},
		{"magic", badMagic, ErrInvalidModelIdentifier},
		{"version", badVersion, ErrInvalidModelVersion},
		{"checksum", badBody, ErrInvalidModelChecksum},
		{"module count", hugeModules, ErrUnexpectedEOF},
		{"section count", hugeSections, ErrUnexpectedEOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTruncatedModule(t *testing.T) {
	w := NewWriter()
	w.AddModule(KindStackVM, "m").AddSection(SectionText, make([]byte, 64))
	data := w.Bytes()

	// Claim two modules and fix up nothing else: the checksum still covers
	// the body, so only the module table read fails.
	data[16] = 2
	_, err := Parse(data)
	if !errors.Is(err, ErrUnexpectedEOF) {
		t.Errorf("err = %v, want ErrUnexpectedEOF", err)
	}
}

func TestMissingMeta(t *testing.T) {
	m := &Module{Name: "bare"}
	if _, err := m.Meta(); !errors.Is(err, ErrSectionNotFound) {
		t.Errorf("err = %v, want ErrSectionNotFound", err)
	}
	if _, err := UnmarshalMeta([]byte{0xFF, 0x00}); !errors.Is(err, ErrCorruptMeta) {
		t.Errorf("err = %v, want ErrCorruptMeta", err)
	}
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.tvm")
	if err := sampleWriter(t).WriteFile(path); err != nil {
		t.Fatal(err)
	}
	model, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(model.Modules) != 1 {
		t.Errorf("modules = %d", len(model.Modules))
	}

	var buf bytes.Buffer
	if _, err := sampleWriter(t).WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(&buf); err != nil {
		t.Errorf("Read: %v", err)
	}
}
