package container

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
)

// Writer assembles a model file.
type Writer struct {
	flags         uint32
	entryModule   uint32
	entryFunction uint32
	modules       []*Module
}

// NewWriter creates an empty model writer.
func NewWriter() *Writer {
	return &Writer{flags: FlagNone}
}

// AddModule appends a module and returns it for section population.
func (w *Writer) AddModule(kind, name string) *Module {
	m := &Module{Kind: kind, Name: name}
	w.modules = append(w.modules, m)
	return m
}

// SetEntry records the entry function.
func (w *Writer) SetEntry(module, function uint32) {
	w.entryModule = module
	w.entryFunction = function
}

// SetFlags sets the header flags.
func (w *Writer) SetFlags(flags uint32) {
	w.flags = flags
}

// Bytes serializes the model.
func (w *Writer) Bytes() []byte {
	var body bytes.Buffer
	for _, m := range w.modules {
		writeString(&body, m.Kind)
		writeString(&body, m.Name)
		writeUint32(&body, uint32(len(m.Sections)))
		for _, s := range m.Sections {
			writeString(&body, s.Name)
			writeUint32(&body, s.Flags)
			writeUint32(&body, uint32(len(s.Data)))
			body.Write(s.Data)
		}
	}

	out := make([]byte, HeaderSize, HeaderSize+body.Len())
	copy(out[0:4], Magic[:])
	binary.LittleEndian.PutUint32(out[4:], Version)
	binary.LittleEndian.PutUint32(out[8:], w.flags)
	binary.LittleEndian.PutUint32(out[12:], crc32.ChecksumIEEE(body.Bytes()))
	binary.LittleEndian.PutUint32(out[16:], uint32(len(w.modules)))
	binary.LittleEndian.PutUint32(out[20:], w.entryModule)
	binary.LittleEndian.PutUint32(out[24:], w.entryFunction)
	return append(out, body.Bytes()...)
}

// WriteTo implements io.WriterTo.
func (w *Writer) WriteTo(dst io.Writer) (int64, error) {
	n, err := dst.Write(w.Bytes())
	return int64(n), err
}

// WriteFile writes the model to path.
func (w *Writer) WriteFile(path string) error {
	return os.WriteFile(path, w.Bytes(), 0644)
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}
