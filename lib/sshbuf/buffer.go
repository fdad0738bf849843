// Package sshbuf implements the expandable read/write-positioned byte buffer
// used throughout the SSH transport. It exposes the typed codecs of RFC 4251
// section 5: bytes, big-endian integers, booleans, length-prefixed strings
// and multiple-precision integers.
package sshbuf

import (
	"encoding/binary"
	"fmt"

	"github.com/go-sshd/go-sshd/lib/util"
)

// DefaultSize is the initial capacity of a freshly allocated buffer.
const DefaultSize = 256

// HeaderGap is the number of bytes reserved in front of an outgoing packet
// payload so the encoder can prepend the length field and padding-length
// byte in place.
const HeaderGap = 5

// Buffer is an expandable byte buffer with independent read and write
// positions. Reads never advance past the write position; writes grow the
// underlying array as needed. A Buffer is not safe for concurrent use.
type Buffer struct {
	data []byte
	rpos int
	wpos int
}

// New creates an empty buffer with the default capacity.
func New() *Buffer {
	return &Buffer{data: make([]byte, DefaultSize)}
}

// NewSize creates an empty buffer with at least the given capacity.
func NewSize(size int) *Buffer {
	if size < DefaultSize {
		size = DefaultSize
	}
	return &Buffer{data: make([]byte, size)}
}

// Wrap creates a buffer over the given bytes, readable from the start.
// The slice is used directly, not copied.
func Wrap(data []byte) *Buffer {
	return &Buffer{data: data, wpos: len(data)}
}

// NewPacketBuffer creates a buffer prepared for an outgoing packet with the
// given command byte: the header gap is reserved and the command is the
// first payload byte.
func NewPacketBuffer(cmd byte) *Buffer {
	b := New()
	b.rpos = HeaderGap
	b.wpos = HeaderGap
	b.PutByte(cmd)
	return b
}

// Array returns the underlying byte array. Mutations through the returned
// slice are visible to the buffer; the codec relies on this for in-place
// encryption.
func (b *Buffer) Array() []byte {
	return b.data
}

// Rpos returns the current read position.
func (b *Buffer) Rpos() int {
	return b.rpos
}

// SetRpos moves the read position.
func (b *Buffer) SetRpos(pos int) {
	b.rpos = pos
}

// Wpos returns the current write position.
func (b *Buffer) Wpos() int {
	return b.wpos
}

// SetWpos moves the write position, growing the array if needed.
func (b *Buffer) SetWpos(pos int) {
	b.ensureCapacity(pos - b.wpos)
	b.wpos = pos
}

// Available returns the number of readable bytes (wpos - rpos).
func (b *Buffer) Available() int {
	return b.wpos - b.rpos
}

// Clear resets both positions to zero.
func (b *Buffer) Clear() {
	b.rpos = 0
	b.wpos = 0
}

// Compact drops already-read bytes and rebases the positions so the next
// unread byte sits at index zero.
func (b *Buffer) Compact() {
	if b.rpos == 0 {
		return
	}
	n := copy(b.data, b.data[b.rpos:b.wpos])
	b.rpos = 0
	b.wpos = n
}

// CompactData returns a copy of the readable region without consuming it.
func (b *Buffer) CompactData() []byte {
	out := make([]byte, b.Available())
	copy(out, b.data[b.rpos:b.wpos])
	return out
}

// ensureCapacity grows the underlying array so that n more bytes can be
// written at wpos.
func (b *Buffer) ensureCapacity(n int) {
	if n <= 0 || b.wpos+n <= len(b.data) {
		return
	}
	size := len(b.data) * 2
	if size == 0 {
		size = DefaultSize
	}
	for size < b.wpos+n {
		size *= 2
	}
	grown := make([]byte, size)
	copy(grown, b.data)
	b.data = grown
}

// ensureAvailable reports an underflow error unless n bytes are readable.
func (b *Buffer) ensureAvailable(n int) error {
	if b.Available() < n {
		return fmt.Errorf("need %d bytes, have %d: %w", n, b.Available(), util.ErrUnderflow)
	}
	return nil
}

// PutByte appends a single byte.
func (b *Buffer) PutByte(v byte) {
	b.ensureCapacity(1)
	b.data[b.wpos] = v
	b.wpos++
}

// GetByte reads a single byte.
func (b *Buffer) GetByte() (byte, error) {
	if err := b.ensureAvailable(1); err != nil {
		return 0, err
	}
	v := b.data[b.rpos]
	b.rpos++
	return v, nil
}

// PutBoolean appends a boolean as a single byte (0 or 1).
func (b *Buffer) PutBoolean(v bool) {
	if v {
		b.PutByte(1)
	} else {
		b.PutByte(0)
	}
}

// GetBoolean reads a boolean. Any non-zero byte is true per RFC 4251.
func (b *Buffer) GetBoolean() (bool, error) {
	v, err := b.GetByte()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// PutUint32 appends a big-endian uint32.
func (b *Buffer) PutUint32(v uint32) {
	b.ensureCapacity(4)
	binary.BigEndian.PutUint32(b.data[b.wpos:], v)
	b.wpos += 4
}

// GetUint32 reads a big-endian uint32.
func (b *Buffer) GetUint32() (uint32, error) {
	if err := b.ensureAvailable(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(b.data[b.rpos:])
	b.rpos += 4
	return v, nil
}

// PutUint64 appends a big-endian uint64.
func (b *Buffer) PutUint64(v uint64) {
	b.ensureCapacity(8)
	binary.BigEndian.PutUint64(b.data[b.wpos:], v)
	b.wpos += 8
}

// GetUint64 reads a big-endian uint64.
func (b *Buffer) GetUint64() (uint64, error) {
	if err := b.ensureAvailable(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(b.data[b.rpos:])
	b.rpos += 8
	return v, nil
}

// PutString appends a uint32-length-prefixed string.
func (b *Buffer) PutString(s string) {
	b.PutUint32(uint32(len(s)))
	b.PutRawBytes([]byte(s))
}

// GetString reads a uint32-length-prefixed string.
func (b *Buffer) GetString() (string, error) {
	v, err := b.GetBytes()
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// PutBytes appends a uint32-length-prefixed byte run.
func (b *Buffer) PutBytes(v []byte) {
	b.PutUint32(uint32(len(v)))
	b.PutRawBytes(v)
}

// GetBytes reads a uint32-length-prefixed byte run.
func (b *Buffer) GetBytes() ([]byte, error) {
	n, err := b.GetUint32()
	if err != nil {
		return nil, err
	}
	if err := b.ensureAvailable(int(n)); err != nil {
		return nil, err
	}
	v := make([]byte, n)
	copy(v, b.data[b.rpos:])
	b.rpos += int(n)
	return v, nil
}

// PutRawBytes appends bytes without a length prefix.
func (b *Buffer) PutRawBytes(v []byte) {
	b.ensureCapacity(len(v))
	copy(b.data[b.wpos:], v)
	b.wpos += len(v)
}

// GetRawBytes reads exactly len(dst) bytes into dst.
func (b *Buffer) GetRawBytes(dst []byte) error {
	if err := b.ensureAvailable(len(dst)); err != nil {
		return err
	}
	copy(dst, b.data[b.rpos:])
	b.rpos += len(dst)
	return nil
}

// PutMPInt appends a multiple-precision integer per RFC 4251 section 5:
// stripped of leading zeros, with one zero byte re-added when the most
// significant bit is set, so the value always reads as non-negative.
func (b *Buffer) PutMPInt(v []byte) {
	i := 0
	for i < len(v) && v[i] == 0 {
		i++
	}
	v = v[i:]
	if len(v) == 0 {
		b.PutUint32(0)
		return
	}
	if v[0]&0x80 != 0 {
		b.PutUint32(uint32(len(v) + 1))
		b.PutByte(0)
	} else {
		b.PutUint32(uint32(len(v)))
	}
	b.PutRawBytes(v)
}

// GetMPInt reads a multiple-precision integer, returning its magnitude bytes.
func (b *Buffer) GetMPInt() ([]byte, error) {
	return b.GetBytes()
}

// PutBuffer appends the readable region of another buffer, consuming it.
func (b *Buffer) PutBuffer(other *Buffer) {
	b.PutRawBytes(other.data[other.rpos:other.wpos])
	other.rpos = other.wpos
}
