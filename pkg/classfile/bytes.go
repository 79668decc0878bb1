package classfile

import (
	"encoding/binary"
	"fmt"
)

// byteReader is a bounds-checked big-endian cursor over class data. Every
// length is checked against the remaining input before anything is allocated.
type byteReader struct {
	data []byte
	off  int
}

func (r *byteReader) remaining() int { return len(r.data) - r.off }

func (r *byteReader) errorf(err error, format string, args ...any) *FormatError {
	return newFormatError(r.off, err, format, args...)
}

func (r *byteReader) need(n int, format string, args ...any) error {
	if n < 0 || r.remaining() < n {
		return r.errorf(ErrTruncated, "reading "+format, args...)
	}
	return nil
}

func (r *byteReader) u1(format string, args ...any) (uint8, error) {
	if err := r.need(1, format, args...); err != nil {
		return 0, err
	}
	v := r.data[r.off]
	r.off++
	return v, nil
}

func (r *byteReader) u2(format string, args ...any) (uint16, error) {
	if err := r.need(2, format, args...); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v, nil
}

func (r *byteReader) u4(format string, args ...any) (uint32, error) {
	if err := r.need(4, format, args...); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v, nil
}

// bytes returns a copy of the next n bytes.
func (r *byteReader) bytes(n int, format string, args ...any) ([]byte, error) {
	if err := r.need(n, format, args...); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, r.data[r.off:r.off+n])
	r.off += n
	return b, nil
}

// byteWriter accumulates big-endian class data.
type byteWriter struct {
	buf []byte
}

func (w *byteWriter) u1(v uint8)   { w.buf = append(w.buf, v) }
func (w *byteWriter) u2(v uint16)  { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *byteWriter) u4(v uint32)  { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *byteWriter) u8(v uint64)  { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }
func (w *byteWriter) raw(b []byte) { w.buf = append(w.buf, b...) }

func (w *byteWriter) count(n int, what string) error {
	if n > 0xFFFF {
		return fmt.Errorf("%s count %d exceeds u2 range", what, n)
	}
	w.u2(uint16(n))
	return nil
}
