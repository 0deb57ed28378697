// Package wire implements the length-prefixed binary codec and message
// types exchanged between nodes on the gossip/session stream.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Size is the integer type used to represent lengths on the wire: two
// bytes, so no length-prefixed field or vector can exceed 65535.
type Size = uint16

// MaxMessageSize is the nominal bound on a message exchanged over a
// session stream; the codec does not check it.
const MaxMessageSize = 64 * 1024

// Hard caps on bounded-vector fields, enforced both when encoding (a
// caller that exceeds them has a bug) and when decoding (a peer that
// exceeds them is misbehaving).
const (
	AddressLimit   = 16
	RefRemoteLimit = 1024
	InventoryLimit = 2973
)

// Error wraps codec failures; Is/As-compatible sentinels below let
// callers distinguish failure kinds without string matching.
var (
	ErrUnexpectedEOF     = io.ErrUnexpectedEOF
	ErrInvalidSize       = errors.New("wire: invalid size")
	ErrInvalidFilterSize = errors.New("wire: invalid filter size")
	ErrUnknownAddrType   = errors.New("wire: unknown address type")
	ErrUnknownMsgType    = errors.New("wire: unknown message type")
	ErrBoundExceeded     = errors.New("wire: bounded vector limit exceeded")
	ErrInvalidUTF8       = errors.New("wire: invalid utf-8 string")
)

// Encoder is implemented by anything that can serialize itself onto the
// wire, returning the number of bytes written.
type Encoder interface {
	Encode(w io.Writer) (int, error)
}

// Decoder is implemented by anything that can deserialize itself from
// the wire.
type Decoder interface {
	Decode(r io.Reader) error
}

// Encode serializes v into a freshly allocated byte slice.
func Encode(v Encoder) []byte {
	var buf sizingBuffer
	if _, err := v.Encode(&buf); err != nil {
		// Encoding into an in-memory buffer never fails.
		panic(fmt.Sprintf("wire: in-memory encode failed: %v", err))
	}
	return buf.bytes
}

// Decode deserializes v from data.
func Decode(data []byte, v Decoder) error {
	return v.Decode(newReader(data))
}

// sizingBuffer is a minimal io.Writer appending to an in-memory slice,
// used instead of bytes.Buffer so Encode has no allocation-profile
// surprises for callers that pre-size it.
type sizingBuffer struct{ bytes []byte }

func (b *sizingBuffer) Write(p []byte) (int, error) {
	b.bytes = append(b.bytes, p...)
	return len(p), nil
}

func newReader(data []byte) *byteReader { return &byteReader{data: data} }

// byteReader is a minimal io.Reader over a fixed slice, reporting
// io.ErrUnexpectedEOF (rather than io.EOF) on a short read, matching the
// codec's convention that a short message is a protocol error rather
// than a normal end-of-stream.
type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.ErrUnexpectedEOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

func readFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// PutUint8 / ReadUint8 etc. are the primitive big-endian codecs every
// composite type in this package is built from.

func PutUint8(w io.Writer, v uint8) (int, error) {
	return w.Write([]byte{v})
}

func ReadUint8(r io.Reader) (uint8, error) {
	var b [1]byte
	if err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func PutUint16(w io.Writer, v uint16) (int, error) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return w.Write(b[:])
}

func ReadUint16(r io.Reader) (uint16, error) {
	var b [2]byte
	if err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func PutUint32(w io.Writer, v uint32) (int, error) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return w.Write(b[:])
}

func ReadUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func PutUint64(w io.Writer, v uint64) (int, error) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return w.Write(b[:])
}

func ReadUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// PutBytes writes a fixed-length byte array verbatim, with no length
// prefix (the length is implied by the field's type, e.g. a NodeId or
// Signature).
func PutBytes(w io.Writer, b []byte) (int, error) {
	return w.Write(b)
}

// ReadBytes reads exactly len(b) bytes into b.
func ReadBytes(r io.Reader, b []byte) error {
	return readFull(r, b)
}

// PutString writes a string prefixed by a single length byte, so
// strings are capped at 255 bytes (aliases, hostnames).
func PutString(w io.Writer, s string) (int, error) {
	if len(s) > 0xff {
		return 0, fmt.Errorf("%w: string length %d exceeds 255", ErrInvalidSize, len(s))
	}
	n, err := PutUint8(w, uint8(len(s)))
	if err != nil {
		return n, err
	}
	m, err := w.Write([]byte(s))
	return n + m, err
}

// ReadString reads a single-byte-length-prefixed string.
func ReadString(r io.Reader) (string, error) {
	n, err := ReadUint8(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if err := readFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// PutVarBytes writes a Size-length-prefixed byte slice (used for
// multihash-encoded object ids, which vary by algorithm).
func PutVarBytes(w io.Writer, b []byte) (int, error) {
	if len(b) > 0xffff {
		return 0, fmt.Errorf("%w: byte slice length %d exceeds %d", ErrInvalidSize, len(b), 0xffff)
	}
	n, err := PutUint16(w, uint16(len(b)))
	if err != nil {
		return n, err
	}
	m, err := w.Write(b)
	return n + m, err
}

// ReadVarBytes reads a Size-length-prefixed byte slice.
func ReadVarBytes(r io.Reader) ([]byte, error) {
	n, err := ReadUint16(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if err := readFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// EncodeSlice writes a Size-prefixed sequence of items, failing if the
// slice exceeds limit. limit of 0 means unbounded.
func EncodeSlice[T Encoder](w io.Writer, items []T, limit int) (int, error) {
	if limit > 0 && len(items) > limit {
		return 0, fmt.Errorf("%w: %d items exceeds limit %d", ErrBoundExceeded, len(items), limit)
	}
	n, err := PutUint16(w, uint16(len(items)))
	if err != nil {
		return n, err
	}
	for _, item := range items {
		m, err := item.Encode(w)
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// DecodeSlice reads a Size-prefixed sequence of items constructed by
// factory, failing if the encoded length exceeds limit.
func DecodeSlice[T Decoder](r io.Reader, limit int, factory func() T) ([]T, error) {
	n, err := ReadUint16(r)
	if err != nil {
		return nil, err
	}
	if limit > 0 && int(n) > limit {
		return nil, fmt.Errorf("%w: %d items exceeds limit %d", ErrBoundExceeded, n, limit)
	}
	items := make([]T, 0, n)
	for i := uint16(0); i < n; i++ {
		item := factory()
		if err := item.Decode(r); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
