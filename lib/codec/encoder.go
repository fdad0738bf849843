// Package codec implements the stateful SSH-2 binary packet framing: length
// and padding computation, compression, MAC and cipher application, and the
// per-direction sequence, byte and packet counters.
//
// An Encoder or Decoder must only be driven under the session's encode or
// decode lock respectively; the counters are readable concurrently for the
// rekey triggers.
package codec

import (
	"fmt"
	"sync/atomic"

	"github.com/go-sshd/go-sshd/lib/factory"
	"github.com/go-sshd/go-sshd/lib/protocol"
	"github.com/go-sshd/go-sshd/lib/sshbuf"
	"github.com/go-sshd/go-sshd/lib/util"
)

// Encoder frames outgoing packets. The zero state (no cipher, no MAC, no
// compression) is the pre-NEWKEYS cleartext mode with an 8-byte block size.
type Encoder struct {
	cipher      factory.Cipher
	mac         factory.Mac
	compression factory.Compression
	blockSize   int
	seq         uint32
	bytes       atomic.Int64
	packets     atomic.Int64

	random factory.Random
	authed func() bool
}

// NewEncoder creates an Encoder in cleartext mode. The authed callback gates
// delayed compression.
func NewEncoder(random factory.Random, authed func() bool) *Encoder {
	return &Encoder{
		blockSize: protocol.MinBlockSize,
		random:    random,
		authed:    authed,
	}
}

// Encode frames the readable region of buf in place: compression, length
// and padding header, random padding, MAC, encryption. On return the
// buffer's readable region is the complete wire packet. The returned buffer
// is buf unless the required header gap was missing, in which case the
// payload was copied into a fresh buffer.
func (e *Encoder) Encode(buf *sshbuf.Buffer) (*sshbuf.Buffer, error) {
	// The packet header is written in front of the payload; callers should
	// build packets with sshbuf.NewPacketBuffer to reserve the gap.
	if buf.Rpos() < sshbuf.HeaderGap {
		nb := sshbuf.New()
		nb.SetWpos(sshbuf.HeaderGap)
		nb.SetRpos(sshbuf.HeaderGap)
		nb.PutBuffer(buf)
		nb.SetRpos(sshbuf.HeaderGap)
		buf = nb
	}

	length := buf.Available()
	off := buf.Rpos() - sshbuf.HeaderGap

	if e.compression != nil && !factory.IsNoneCompression(e.compression) &&
		(e.authed() || !e.compression.Delayed()) {
		if err := e.compression.Compress(buf); err != nil {
			return nil, util.NewSshErrorWithCause(util.DisconnectCompressionError,
				"compressing packet", err)
		}
		length = buf.Available()
	}

	// pad so that (length_field + 4) is a multiple of the block size, with
	// at least MinPaddingLength bytes of padding.
	bsize := e.blockSize
	oldLen := length
	length += sshbuf.HeaderGap
	pad := (-length) & (bsize - 1)
	if pad < bsize {
		pad += bsize
	}
	length = length + pad - 4

	buf.SetWpos(off)
	buf.PutUint32(uint32(length))
	buf.PutByte(byte(pad))
	buf.SetWpos(off + oldLen + sshbuf.HeaderGap + pad)
	data := buf.Array()
	e.random.Fill(data[buf.Wpos()-pad : buf.Wpos()])

	if e.mac != nil {
		macSize := e.mac.BlockSize()
		end := buf.Wpos()
		buf.SetWpos(end + macSize)
		e.mac.UpdateUint32(e.seq)
		e.mac.Update(buf.Array()[off:end])
		e.mac.Sum(buf.Array()[end : end+macSize])
	}

	if e.cipher != nil {
		if err := e.cipher.Update(buf.Array()[off : off+length+4]); err != nil {
			return nil, fmt.Errorf("encrypting packet: %w", err)
		}
	}

	e.seq++
	e.packets.Add(1)
	e.bytes.Add(int64(length))

	buf.SetRpos(off)
	return buf, nil
}

// InstallKeys swaps in freshly derived algorithms. The byte and packet
// counters restart; the sequence counter continues per RFC 4253 section 7.3.
func (e *Encoder) InstallKeys(c factory.Cipher, m factory.Mac, comp factory.Compression) {
	e.cipher = c
	e.mac = m
	e.compression = comp
	e.blockSize = blockSizeOf(c)
	e.bytes.Store(0)
	e.packets.Store(0)
}

// Seq returns the next outgoing sequence number.
func (e *Encoder) Seq() uint32 {
	return e.seq
}

// BytesCount returns the bytes framed since the last key install.
func (e *Encoder) BytesCount() int64 {
	return e.bytes.Load()
}

// PacketsCount returns the packets framed since the last key install.
func (e *Encoder) PacketsCount() int64 {
	return e.packets.Load()
}

// BlockSize returns the current framing block size.
func (e *Encoder) BlockSize() int {
	return e.blockSize
}

// MacSize returns the current MAC output size, zero before NEWKEYS.
func (e *Encoder) MacSize() int {
	if e.mac == nil {
		return 0
	}
	return e.mac.BlockSize()
}

func blockSizeOf(c factory.Cipher) int {
	if c == nil {
		return protocol.MinBlockSize
	}
	if bs := c.BlockSize(); bs > protocol.MinBlockSize {
		return bs
	}
	return protocol.MinBlockSize
}
