package value

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/chazu/tensorvm/object"
)

func f32Bytes(vals ...float32) []byte {
	buf := make([]byte, 0, 4*len(vals))
	for _, v := range vals {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return buf
}

// ---------------------------------------------------------------------------
// Datatypes
// ---------------------------------------------------------------------------

func TestPrimSingletons(t *testing.T) {
	a, ok := Prim(Float32)
	if !ok {
		t.Fatal("float32 not registered")
	}
	if a != MustPrim(Float32) {
		t.Error("Prim should return the same singleton")
	}
	if a.SizeBytes() != 4 || a.TypeCode() != Float32 {
		t.Errorf("float32 = (%d, %s)", a.SizeBytes(), a.TypeCode())
	}
	if _, ok := Prim(Pointer); ok {
		t.Error("pointer is not a primitive")
	}
	if !a.Kind().IsA(KindDatatype) {
		t.Error("prim type should be a datatype")
	}
}

func TestTypeCodeSizes(t *testing.T) {
	tests := []struct {
		code TypeCode
		size int
	}{
		{Boolean, 1}, {Int16, 2}, {UInt32, 4}, {Int64, 8},
		{Float16, 2}, {BFloat16, 2}, {Float64, 8}, {Pointer, PointerSize},
	}
	for _, tc := range tests {
		if got := tc.code.Size(); got != tc.size {
			t.Errorf("%s.Size() = %d, want %d", tc.code, got, tc.size)
		}
	}
}

func TestDatatypeDescriptorRoundTrip(t *testing.T) {
	id := uuid.MustParse("6f0b3c2e-9d11-4c55-a2a4-2f3c7b8e9d01")
	vt := NewValueType(id, 24)
	ptr := NewPointerType(vt.Get())
	defer vt.Release()
	defer ptr.Release()

	buf := AppendDatatype(nil, ptr.Get())
	if len(buf) != 1+1+16+4 {
		t.Fatalf("descriptor length = %d", len(buf))
	}

	dt, n, err := DecodeDatatype(buf)
	if err != nil {
		t.Fatalf("DecodeDatatype: %v", err)
	}
	defer dt.Release()
	if n != len(buf) {
		t.Errorf("consumed %d of %d bytes", n, len(buf))
	}
	if !dt.Get().Equals(ptr.Get()) {
		t.Errorf("decoded %s, want %s", dt.Get(), ptr.Get())
	}
	got := dt.Get().(*PointerType).Elem().(*ValueType)
	if got.UUID() != id || got.SizeBytes() != 24 {
		t.Errorf("value type = %s", got)
	}
}

func TestDecodeDatatypeErrors(t *testing.T) {
	if _, _, err := DecodeDatatype(nil); !errors.Is(err, ErrMalformedDatatype) {
		t.Errorf("empty: err = %v", err)
	}
	if _, _, err := DecodeDatatype([]byte{0x7E}); !errors.Is(err, ErrDatatypeMismatch) {
		t.Errorf("unknown code: err = %v", err)
	}
	if _, _, err := DecodeDatatype([]byte{byte(ValueCode), 1, 2}); !errors.Is(err, ErrMalformedDatatype) {
		t.Errorf("truncated value type: err = %v", err)
	}
}

func TestDecodeDatatypePointerDepth(t *testing.T) {
	nested := func(levels int) []byte {
		return append(bytes.Repeat([]byte{byte(Pointer)}, levels), byte(Float32))
	}

	dt, n, err := DecodeDatatype(nested(MaxPointerDepth))
	if err != nil {
		t.Fatalf("%d levels: %v", MaxPointerDepth, err)
	}
	dt.Release()
	if n != MaxPointerDepth+1 {
		t.Errorf("consumed %d bytes, want %d", n, MaxPointerDepth+1)
	}

	for _, levels := range []int{MaxPointerDepth + 1, 1 << 20} {
		if _, _, err := DecodeDatatype(nested(levels)); !errors.Is(err, ErrMalformedDatatype) {
			t.Errorf("%d levels: err = %v, want ErrMalformedDatatype", levels, err)
		}
	}
}

// ---------------------------------------------------------------------------
// Shapes
// ---------------------------------------------------------------------------

func TestShapeKinds(t *testing.T) {
	s := NewShape(2, UnknownDim, 4)
	if s.Kind() != ShapeHasUnknownDim || !s.IsRanked() {
		t.Fatalf("kind = %s", s.Kind())
	}
	if err := s.SetDim(1, 3); err != nil {
		t.Fatal(err)
	}
	if !s.IsFixed() {
		t.Errorf("after SetDim kind = %s, want fixed", s.Kind())
	}
	if err := s.SetDim(0, -7); err != nil {
		t.Fatal(err)
	}
	if !s.IsInvalid() || s.IsRanked() {
		t.Errorf("negative dim kind = %s, want invalid", s.Kind())
	}
	if UnrankedShape().IsRanked() {
		t.Error("unranked shape reported ranked")
	}
	if err := s.SetDim(5, 1); !errors.Is(err, ErrResultOutOfRange) {
		t.Errorf("SetDim out of range: err = %v", err)
	}
}

func TestShapeAccepts(t *testing.T) {
	decl := NewShape(UnknownDim, 3)
	if !decl.Accepts([]int{8, 3}) {
		t.Error("should accept [8,3]")
	}
	if decl.Accepts([]int{8, 4}) || decl.Accepts([]int{3}) {
		t.Error("should reject mismatched extents")
	}
	if !UnrankedShape().Accepts([]int{1, 2, 3}) {
		t.Error("unranked accepts everything")
	}
}

func TestByteLength(t *testing.T) {
	tests := []struct {
		name    string
		elem    int
		dims    []int
		strides []int
		want    int
		wantErr error
	}{
		{"contiguous 2x2 f32", 4, []int{2, 2}, []int{2, 1}, 16, nil},
		{"column of 2x3", 4, []int{2}, []int{3}, 16, nil},
		{"empty", 4, []int{0, 5}, []int{5, 1}, 0, nil},
		{"scalar", 2, nil, nil, 2, nil},
		{"rank mismatch", 4, []int{2}, nil, 0, ErrShapeMismatch},
		{"negative stride", 4, []int{2}, []int{-1}, 0, ErrShapeMismatch},
		{"span overflow", 4, []int{1 << 32, 1 << 32}, []int{1 << 32, 1}, 0, ErrResultOutOfRange},
		{"bytes overflow", 8, []int{1 << 62}, []int{1}, 0, ErrResultOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ByteLength(tt.elem, tt.dims, tt.strides)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ByteLength = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestElementCount(t *testing.T) {
	if n, err := ElementCount([]int{2, 3, 4}); err != nil || n != 24 {
		t.Errorf("ElementCount([2 3 4]) = %d, %v", n, err)
	}
	if n, err := ElementCount(nil); err != nil || n != 1 {
		t.Errorf("ElementCount(scalar) = %d, %v", n, err)
	}
	if n, err := ElementCount([]int{1 << 40, 0, 1 << 40}); err != nil || n != 0 {
		t.Errorf("ElementCount with a zero extent = %d, %v", n, err)
	}
	if _, err := ElementCount([]int{65536, 65536, 65536, 65536}); !errors.Is(err, ErrResultOutOfRange) {
		t.Errorf("2^64 elements: err = %v", err)
	}
	if _, err := ElementCount([]int{2, -1}); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("negative extent: err = %v", err)
	}
	if _, err := ContiguousBytes(4, []int{1 << 31, 1 << 31}); !errors.Is(err, ErrResultOutOfRange) {
		t.Errorf("ContiguousBytes overflow: err = %v", err)
	}
}

func TestNewTensorRejectsOverflowingShape(t *testing.T) {
	f32 := MustPrim(Float32)
	shape := []int{65536, 65536, 65536, 65536}
	_, err := NewTensor(f32, shape, DefaultStrides(shape), WholeBuffer(BufferRef(NewHostBuffer(make([]byte, 8)))))
	if !errors.Is(err, ErrResultOutOfRange) {
		t.Errorf("err = %v, want ErrResultOutOfRange", err)
	}
}

// ---------------------------------------------------------------------------
// Tensors
// ---------------------------------------------------------------------------

func TestTensorBasics(t *testing.T) {
	tr, err := NewHostTensor(MustPrim(Float32), []int{2, 2}, f32Bytes(1, 2, 3, 4))
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Release()
	ten := tr.Get()
	if ten.Length() != 4 {
		t.Errorf("length = %d, want 4", ten.Length())
	}
	if !ten.IsContiguous() {
		t.Error("default strides should be contiguous")
	}
	b, err := ten.ElementBytes(1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := math.Float32frombits(binary.LittleEndian.Uint32(b)); got != 3 {
		t.Errorf("[1,0] = %g, want 3", got)
	}
}

func TestNewTensorRejectsBadLayout(t *testing.T) {
	var destroyed bool
	buf := NewMappedHostBuffer(make([]byte, 8), 0, func() { destroyed = true })
	_, err := NewTensor(MustPrim(Float32), []int{2, 2}, nil, WholeBuffer(BufferRef(buf)))
	if !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("err = %v, want ErrShapeMismatch", err)
	}
	if !destroyed {
		t.Error("buffer should be released when construction fails")
	}

	buf2 := NewHostBuffer(make([]byte, 64))
	_, err = NewTensor(MustPrim(Float32), []int{2, 2}, []int{1}, WholeBuffer(BufferRef(buf2)))
	if !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("stride rank: err = %v, want ErrShapeMismatch", err)
	}
}

func TestTensorReleaseFreesBuffer(t *testing.T) {
	var released int
	buf := NewMappedHostBuffer(make([]byte, 16), 0x1000, func() { released++ })
	tr, err := NewTensor(MustPrim(Float32), []int{4}, nil, WholeBuffer(BufferRef(buf)))
	if err != nil {
		t.Fatal(err)
	}
	if tr.Get().Buffer().Address() != 0x1000 {
		t.Errorf("address = %#x", tr.Get().Buffer().Address())
	}
	view := tr.Clone()
	tr.Release()
	if released != 0 {
		t.Fatal("buffer released while a view is alive")
	}
	view.Release()
	if released != 1 {
		t.Errorf("released = %d, want 1", released)
	}
}

func TestTensorStridedCopy(t *testing.T) {
	f32 := MustPrim(Float32)
	// 2x3 matrix; view its transpose (3x2) through strides.
	src, err := NewHostTensor(f32, []int{2, 3}, f32Bytes(1, 2, 3, 4, 5, 6))
	if err != nil {
		t.Fatal(err)
	}
	defer src.Release()

	slice := src.Get().Buffer().Clone()
	transposed, err := NewTensor(f32, []int{3, 2}, []int{1, 3}, slice)
	if err != nil {
		t.Fatal(err)
	}
	defer transposed.Release()
	if transposed.Get().IsContiguous() {
		t.Error("transposed view should not be contiguous")
	}

	dst, err := AllocHostTensor(f32, []int{3, 2})
	if err != nil {
		t.Fatal(err)
	}
	defer dst.Release()

	if err := transposed.Get().CopyTo(dst.Get()); err != nil {
		t.Fatal(err)
	}
	data, _ := dst.Get().HostBytes()
	want := f32Bytes(1, 4, 2, 5, 3, 6)
	if string(data) != string(want) {
		t.Errorf("copied %v, want %v", data, want)
	}
}

func TestTensorCopyMismatch(t *testing.T) {
	a, _ := AllocHostTensor(MustPrim(Float32), []int{2})
	b, _ := AllocHostTensor(MustPrim(Int32), []int{2})
	c, _ := AllocHostTensor(MustPrim(Float32), []int{3})
	defer a.Release()
	defer b.Release()
	defer c.Release()

	if err := a.Get().CopyTo(b.Get()); !errors.Is(err, ErrDatatypeMismatch) {
		t.Errorf("dtype: err = %v", err)
	}
	if err := a.Get().CopyTo(c.Get()); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("shape: err = %v", err)
	}
}

var kindTestDeviceBuffer = object.DefineKind("test.device_buffer", KindBuffer)

type deviceBuffer struct {
	object.Header
	data []byte
}

func (d *deviceBuffer) Kind() *object.Kind          { return kindTestDeviceBuffer }
func (d *deviceBuffer) SizeBytes() int              { return len(d.data) }
func (d *deviceBuffer) Host() ([]byte, bool)        { return nil, false }
func (d *deviceBuffer) CopyToHost() ([]byte, error) { return append([]byte(nil), d.data...), nil }

func TestTensorToHost(t *testing.T) {
	dev := object.New(&deviceBuffer{data: f32Bytes(9, 8)})
	tr, err := NewTensor(MustPrim(Float32), []int{2}, nil, WholeBuffer(BufferRef(dev)))
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Release()

	if _, err := tr.Get().HostBytes(); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("device tensor HostBytes err = %v", err)
	}

	host, err := tr.Get().ToHost()
	if err != nil {
		t.Fatal(err)
	}
	defer host.Release()
	if host.Get() == tr.Get() {
		t.Error("device tensor should be copied")
	}
	data, err := host.Get().HostBytes()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(f32Bytes(9, 8)) {
		t.Errorf("host data = %v", data)
	}

	again, err := host.Get().ToHost()
	if err != nil {
		t.Fatal(err)
	}
	if again.Get() != host.Get() {
		t.Error("host tensor should materialize to itself")
	}
	again.Release()
}

// ---------------------------------------------------------------------------
// Scalars and tuples
// ---------------------------------------------------------------------------

func TestScalarEquality(t *testing.T) {
	a := IntScalar(42)
	b := IntScalar(42)
	c := FloatScalar(42)
	defer a.Release()
	defer b.Release()
	defer c.Release()

	if !a.Get().Equals(b.Get()) {
		t.Error("equal ints should compare equal")
	}
	if a.Get().Equals(c.Get()) {
		t.Error("int and float scalars should differ")
	}
}

func TestScalarHalfPrecision(t *testing.T) {
	s, err := NewScalar(Float16, uint64(Float32ToFloat16(1.5)))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Release()
	if got := s.Get().Float(); got != 1.5 {
		t.Errorf("float16 = %g, want 1.5", got)
	}
	if got := BFloat16ToFloat32(Float32ToBFloat16(-2.25)); got != -2.25 {
		t.Errorf("bfloat16 round trip = %g", got)
	}
}

func TestScalarSignExtension(t *testing.T) {
	s, err := NewScalar(Int8, 0xFF)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Release()
	if s.Get().Int() != -1 {
		t.Errorf("int8 0xFF = %d, want -1", s.Get().Int())
	}
	u, _ := NewScalar(UInt8, 0x1FF)
	defer u.Release()
	if u.Get().Int() != 0xFF {
		t.Errorf("uint8 truncation = %d, want 255", u.Get().Int())
	}
}

func TestScalarCopyIntoTensor(t *testing.T) {
	s := IntScalar(-3)
	defer s.Release()
	dst, _ := AllocHostTensor(MustPrim(Int64), []int{1})
	defer dst.Release()

	if err := s.Get().CopyTo(dst.Get()); err != nil {
		t.Fatal(err)
	}
	data, _ := dst.Get().HostBytes()
	if int64(binary.LittleEndian.Uint64(data)) != -3 {
		t.Errorf("tensor holds %v", data)
	}

	back := IntScalar(0)
	defer back.Release()
	if err := dst.Get().CopyTo(back.Get()); err != nil {
		t.Fatal(err)
	}
	if back.Get().Int() != -3 {
		t.Errorf("copied back %d", back.Get().Int())
	}
}

func TestTupleFieldsAndCopy(t *testing.T) {
	src := NewTuple([]object.Ref[Value]{ValueRef(IntScalar(1)), ValueRef(FloatScalar(2))})
	dst := NewTuple([]object.Ref[Value]{ValueRef(IntScalar(0)), ValueRef(FloatScalar(0))})
	defer src.Release()
	defer dst.Release()

	if err := src.Get().CopyTo(dst.Get()); err != nil {
		t.Fatal(err)
	}
	f, err := dst.Get().Field(1)
	if err != nil {
		t.Fatal(err)
	}
	if f.(*Scalar).Float() != 2 {
		t.Errorf("field 1 = %v", f)
	}
	if _, err := dst.Get().Field(2); !errors.Is(err, ErrResultOutOfRange) {
		t.Errorf("Field(2) err = %v", err)
	}
}

func TestTupleReleasesFields(t *testing.T) {
	field := IntScalar(5)
	keep := field.Clone()
	tup := NewTuple([]object.Ref[Value]{ValueRef(field)})
	if object.RefCount(keep.Get()) != 2 {
		t.Fatalf("count = %d, want 2", object.RefCount(keep.Get()))
	}
	tup.Release()
	if object.RefCount(keep.Get()) != 1 {
		t.Errorf("count after tuple release = %d, want 1", object.RefCount(keep.Get()))
	}
	keep.Release()
}
