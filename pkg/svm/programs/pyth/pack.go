package pyth

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	bin "github.com/gagliardetto/binary"
)

var (
	// ErrShortBuffer is returned when a buffer cannot hold a whole record.
	ErrShortBuffer = errors.New("buffer shorter than record")

	// ErrUnknownTag is returned when an enumerated field holds a value
	// outside its tag set.
	ErrUnknownTag = errors.New("unknown enum tag")
)

// Packer is implemented by every fixed-length record.
type Packer interface {
	// Len returns the record's encoded length in bytes.
	Len() int

	// PackInto writes exactly Len() bytes at the start of dst.
	PackInto(dst []byte) error
}

// Record is the constraint satisfied by a pointer to a fixed-length record
// type T that can both pack and unpack itself.
type Record[T any] interface {
	*T
	Packer

	// UnpackFrom fills the record from the first Len() bytes of src.
	UnpackFrom(src []byte) error
}

// recordLen returns the encoded length of T.
func recordLen[T any, P Record[T]]() int {
	var zero T
	return P(&zero).Len()
}

// Unpack decodes a T from the start of src. On failure the zero value is
// returned.
func Unpack[T any, P Record[T]](src []byte) (T, error) {
	var v T
	n := P(&v).Len()
	if len(src) < n {
		return v, fmt.Errorf("%w: %T needs %d bytes, have %d", ErrShortBuffer, v, n, len(src))
	}
	if err := P(&v).UnpackFrom(src[:n]); err != nil {
		var zero T
		return zero, fmt.Errorf("unpack %T: %w", zero, err)
	}
	return v, nil
}

// Pack encodes v into the start of dst.
func Pack(v Packer, dst []byte) error {
	if len(dst) < v.Len() {
		return fmt.Errorf("%w: %T needs %d bytes, have %d", ErrShortBuffer, v, v.Len(), len(dst))
	}
	return v.PackInto(dst[:v.Len()])
}

// PackToVec allocates exactly v.Len() bytes and packs v into them.
func PackToVec(v Packer) ([]byte, error) {
	buf := make([]byte, v.Len())
	if err := v.PackInto(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// UnpackMany decodes count back-to-back records from src.
func UnpackMany[T any, P Record[T]](count int, src []byte) ([]T, error) {
	n := recordLen[T, P]()
	if count < 0 || len(src) < count*n {
		return nil, fmt.Errorf("%w: %d records of %d bytes, have %d", ErrShortBuffer, count, n, len(src))
	}
	out := make([]T, count)
	for i := range out {
		if err := P(&out[i]).UnpackFrom(src[i*n : (i+1)*n]); err != nil {
			return nil, fmt.Errorf("unpack record %d: %w", i, err)
		}
	}
	return out, nil
}

// PackMany encodes items back-to-back into dst.
func PackMany[T any, P Record[T]](items []T, dst []byte) error {
	n := recordLen[T, P]()
	if len(dst) < len(items)*n {
		return fmt.Errorf("%w: %d records of %d bytes, have %d", ErrShortBuffer, len(items), n, len(dst))
	}
	for i := range items {
		if err := P(&items[i]).PackInto(dst[i*n : (i+1)*n]); err != nil {
			return fmt.Errorf("pack record %d: %w", i, err)
		}
	}
	return nil
}

// fieldReader reads little-endian fields in declaration order and keeps the
// first error, so record decoders can read every field and check once.
type fieldReader struct {
	dec *bin.Decoder
	err error
}

func newFieldReader(src []byte) *fieldReader {
	return &fieldReader{dec: bin.NewBinDecoder(src)}
}

func (r *fieldReader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint32(binary.LittleEndian)
	r.err = err
	return v
}

func (r *fieldReader) i32() int32 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadInt32(binary.LittleEndian)
	r.err = err
	return v
}

func (r *fieldReader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint64(binary.LittleEndian)
	r.err = err
	return v
}

func (r *fieldReader) i64() int64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadInt64(binary.LittleEndian)
	r.err = err
	return v
}

func (r *fieldReader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	v, err := r.dec.ReadNBytes(n)
	r.err = err
	return v
}

// record decodes a nested record from the next Len() bytes.
func (r *fieldReader) record(v interface {
	Len() int
	UnpackFrom([]byte) error
}) {
	b := r.bytes(v.Len())
	if r.err != nil {
		return
	}
	r.err = v.UnpackFrom(b)
}

// tag reads a 4-byte enum tag and rejects values above limit.
func (r *fieldReader) tag(name string, limit uint32) uint32 {
	v := r.u32()
	if r.err == nil && v > limit {
		r.err = fmt.Errorf("%w: %s=%d", ErrUnknownTag, name, v)
	}
	return v
}

// sliceWriter is an io.Writer over a fixed destination slice.
type sliceWriter struct {
	dst []byte
	off int
}

func (w *sliceWriter) Write(p []byte) (int, error) {
	if w.off+len(p) > len(w.dst) {
		return 0, io.ErrShortWrite
	}
	n := copy(w.dst[w.off:], p)
	w.off += n
	return n, nil
}

// fieldWriter writes little-endian fields in declaration order.
type fieldWriter struct {
	w   *sliceWriter
	enc *bin.Encoder
	err error
}

func newFieldWriter(dst []byte) *fieldWriter {
	w := &sliceWriter{dst: dst}
	return &fieldWriter{w: w, enc: bin.NewBinEncoder(w)}
}

func (w *fieldWriter) u32(v uint32) {
	if w.err == nil {
		w.err = w.enc.WriteUint32(v, binary.LittleEndian)
	}
}

func (w *fieldWriter) i32(v int32) {
	if w.err == nil {
		w.err = w.enc.WriteInt32(v, binary.LittleEndian)
	}
}

func (w *fieldWriter) u64(v uint64) {
	if w.err == nil {
		w.err = w.enc.WriteUint64(v, binary.LittleEndian)
	}
}

func (w *fieldWriter) i64(v int64) {
	if w.err == nil {
		w.err = w.enc.WriteInt64(v, binary.LittleEndian)
	}
}

func (w *fieldWriter) bytes(b []byte) {
	if w.err == nil {
		w.err = w.enc.WriteBytes(b, false)
	}
}

// record packs a nested record into the next Len() bytes.
func (w *fieldWriter) record(v Packer) {
	if w.err != nil {
		return
	}
	n := v.Len()
	if w.w.off+n > len(w.w.dst) {
		w.err = io.ErrShortWrite
		return
	}
	w.err = v.PackInto(w.w.dst[w.w.off : w.w.off+n])
	w.w.off += n
}
