package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Errors
var (
	ErrShortRead   = errors.New("packet: short read")
	ErrInvalidSize = errors.New("packet: invalid length")
)

// Reader decodes a frame body. Every read method returns ErrShortRead
// (wrapped with the field offset) when the frame ends early, and leaves
// the read position unchanged in that case.
type Reader struct {
	buf []byte
	off int
}

// NewReader returns a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{buf: data}
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %d at offset %d", ErrInvalidSize, n, r.off)
	}
	if len(r.buf)-r.off < n {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortRead, n, r.off, len(r.buf)-r.off)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// ReadByte reads one byte.
func (r *Reader) ReadByte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadBool reads a one-byte boolean. Any non-zero value is true.
func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	return b != 0, err
}

// ReadShort reads an int16.
func (r *Reader) ReadShort() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

// ReadUint16 reads a uint16.
func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadInt reads an int32.
func (r *Reader) ReadInt() (int32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

// ReadLong reads an int64.
func (r *Reader) ReadLong() (int64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

// ReadString reads a uint16 length-prefixed string.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadUint16()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n))
	if err != nil {
		r.off -= 2
		return "", err
	}
	return string(b), nil
}

// ReadFixed reads exactly n raw bytes into a new slice.
func (r *Reader) ReadFixed(n int) ([]byte, error) {
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// ReadInto fills dst with raw bytes.
func (r *Reader) ReadInto(dst []byte) error {
	b, err := r.take(len(dst))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

// ReadBlob reads an int32 length followed by that many bytes.
func (r *Reader) ReadBlob() ([]byte, error) {
	n, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	b, err := r.ReadFixed(int(n))
	if err != nil {
		r.off -= 4
		return nil, err
	}
	return b, nil
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

// Offset returns the current read position.
func (r *Reader) Offset() int {
	return r.off
}
