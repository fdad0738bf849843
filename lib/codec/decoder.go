package codec

import (
	"crypto/subtle"
	"fmt"
	"sync/atomic"

	"github.com/go-sshd/go-sshd/lib/factory"
	"github.com/go-sshd/go-sshd/lib/protocol"
	"github.com/go-sshd/go-sshd/lib/sshbuf"
	"github.com/go-sshd/go-sshd/lib/util"
)

// decoder phases.
const (
	phaseHeader = iota // waiting for the first cipher block
	phaseBody          // waiting for the packet body and MAC
)

// Decoder accumulates incoming bytes and emits decoded packet payloads. The
// zero state (no cipher, no MAC, no compression) is the pre-NEWKEYS
// cleartext mode with an 8-byte block size.
type Decoder struct {
	cipher      factory.Cipher
	mac         factory.Mac
	macResult   []byte
	compression factory.Compression
	blockSize   int
	seq         uint32
	bytes       atomic.Int64
	packets     atomic.Int64

	buffer       *sshbuf.Buffer // accumulating wire bytes
	uncompressed *sshbuf.Buffer // scratch for decompression, reused
	phase        int
	packetLength int

	authed func() bool
}

// NewDecoder creates a Decoder in cleartext mode. The authed callback gates
// delayed compression.
func NewDecoder(authed func() bool) *Decoder {
	return &Decoder{
		blockSize: protocol.MinBlockSize,
		buffer:    sshbuf.New(),
		authed:    authed,
	}
}

// Buffer exposes the accumulating decoder buffer so the identification
// exchange can scan it before packet framing starts.
func (d *Decoder) Buffer() *sshbuf.Buffer {
	return d.buffer
}

// Append adds newly arrived wire bytes to the decoder buffer.
func (d *Decoder) Append(data []byte) {
	d.buffer.PutRawBytes(data)
}

// Decode runs the two-phase framing state machine over the accumulated
// bytes, calling emit once per complete packet with a buffer positioned at
// the command byte. The emitted buffer is only valid during the call.
// Decode returns when a partial packet remains (waiting for more data) or
// when emit or the framing fails.
func (d *Decoder) Decode(emit func(*sshbuf.Buffer) error) error {
	for {
		switch d.phase {
		case phaseHeader:
			if d.buffer.Available() <= d.blockSize {
				return nil
			}
			data := d.buffer.Array()
			if d.cipher != nil {
				if err := d.cipher.Update(data[:d.blockSize]); err != nil {
					return fmt.Errorf("decrypting packet header: %w", err)
				}
			}
			length, err := d.buffer.GetUint32()
			if err != nil {
				return err
			}
			if length < protocol.MinPacketLength || length > protocol.MaxPacketLength {
				return util.NewSshErrorWithCause(util.DisconnectProtocolError,
					fmt.Sprintf("invalid packet length: %d", length), util.ErrProtocol)
			}
			if (int(length)+4)%d.blockSize != 0 {
				return util.NewSshErrorWithCause(util.DisconnectProtocolError,
					fmt.Sprintf("packet length %d not aligned to cipher block size %d",
						length, d.blockSize),
					util.ErrProtocol)
			}
			d.packetLength = int(length)
			d.phase = phaseBody

		case phaseBody:
			macSize := 0
			if d.mac != nil {
				macSize = d.mac.BlockSize()
			}
			if d.buffer.Available() < d.packetLength+macSize {
				return nil
			}
			data := d.buffer.Array()
			if d.cipher != nil {
				rest := data[d.blockSize : d.packetLength+4]
				if err := d.cipher.Update(rest); err != nil {
					return fmt.Errorf("decrypting packet body: %w", err)
				}
			}
			if d.mac != nil {
				d.mac.UpdateUint32(d.seq)
				d.mac.Update(data[:d.packetLength+4])
				d.mac.Sum(d.macResult)
				received := data[d.packetLength+4 : d.packetLength+4+macSize]
				if subtle.ConstantTimeCompare(d.macResult, received) != 1 {
					return util.NewSshErrorWithCause(util.DisconnectMacError,
						fmt.Sprintf("MAC mismatch on packet %d", d.seq), util.ErrMacMismatch)
				}
			}
			d.seq++

			pad, err := d.buffer.GetByte()
			if err != nil {
				return err
			}
			// The payload length is packet_length - padding_length - 1 per
			// RFC 4253 section 6; a padding value that leaves it negative
			// is malformed even when the MAC verifies.
			if int(pad) >= d.packetLength {
				return util.NewSshErrorWithCause(util.DisconnectProtocolError,
					fmt.Sprintf("padding length %d exceeds packet length %d",
						pad, d.packetLength),
					util.ErrProtocol)
			}
			wpos := d.buffer.Wpos()
			var packet *sshbuf.Buffer
			if d.compression != nil && !factory.IsNoneCompression(d.compression) &&
				(d.authed() || !d.compression.Delayed()) {
				if d.uncompressed == nil {
					d.uncompressed = sshbuf.New()
				} else {
					d.uncompressed.Clear()
				}
				d.buffer.SetWpos(d.buffer.Rpos() + d.packetLength - 1 - int(pad))
				if err := d.compression.Uncompress(d.buffer, d.uncompressed); err != nil {
					return util.NewSshErrorWithCause(util.DisconnectCompressionError,
						"decompressing packet", err)
				}
				packet = d.uncompressed
			} else {
				d.buffer.SetWpos(d.packetLength + 4 - int(pad))
				packet = d.buffer
			}

			d.packets.Add(1)
			d.bytes.Add(int64(packet.Available()))

			if err := emit(packet); err != nil {
				return err
			}

			d.buffer.SetRpos(d.packetLength + 4 + macSize)
			d.buffer.SetWpos(wpos)
			d.buffer.Compact()
			d.phase = phaseHeader
		}
	}
}

// InstallKeys swaps in freshly derived algorithms. The byte and packet
// counters restart; the sequence counter continues per RFC 4253 section 7.3.
func (d *Decoder) InstallKeys(c factory.Cipher, m factory.Mac, comp factory.Compression) {
	d.cipher = c
	d.mac = m
	d.compression = comp
	d.blockSize = blockSizeOf(c)
	if m != nil {
		d.macResult = make([]byte, m.BlockSize())
	} else {
		d.macResult = nil
	}
	d.bytes.Store(0)
	d.packets.Store(0)
}

// Seq returns the next expected incoming sequence number.
func (d *Decoder) Seq() uint32 {
	return d.seq
}

// BytesCount returns the payload bytes decoded since the last key install.
func (d *Decoder) BytesCount() int64 {
	return d.bytes.Load()
}

// PacketsCount returns the packets decoded since the last key install.
func (d *Decoder) PacketsCount() int64 {
	return d.packets.Load()
}

// BlockSize returns the current framing block size.
func (d *Decoder) BlockSize() int {
	return d.blockSize
}

// MacSize returns the current MAC output size, zero before NEWKEYS.
func (d *Decoder) MacSize() int {
	if d.mac == nil {
		return 0
	}
	return d.mac.BlockSize()
}
