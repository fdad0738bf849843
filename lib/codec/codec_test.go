package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/go-sshd/go-sshd/lib/factory"
	"github.com/go-sshd/go-sshd/lib/protocol"
	"github.com/go-sshd/go-sshd/lib/sshbuf"
	"github.com/go-sshd/go-sshd/lib/util"
)

// testRandom is deterministic so encoded packets are reproducible.
type testRandom byte

func (r testRandom) Fill(p []byte) {
	for i := range p {
		p[i] = byte(r)
	}
}

func notAuthed() bool { return false }

// suite builds a matched cipher/MAC pair for one direction of each side,
// keyed with fixed material.
func suite(t *testing.T, cipherName, macName string, mode factory.CipherMode) (factory.Cipher, factory.Mac) {
	t.Helper()
	var c factory.Cipher
	var m factory.Mac
	if cipherName != "" {
		var ok bool
		c, ok = factory.Create(factory.BuiltinCiphers(), cipherName)
		if !ok {
			t.Fatalf("unknown cipher %q", cipherName)
		}
		key := bytes.Repeat([]byte{0x11}, c.KeySize())
		iv := bytes.Repeat([]byte{0x22}, c.IVSize())
		if err := c.Init(mode, key, iv); err != nil {
			t.Fatal(err)
		}
	}
	if macName != "" {
		var ok bool
		m, ok = factory.Create(factory.BuiltinMacs(), macName)
		if !ok {
			t.Fatalf("unknown mac %q", macName)
		}
		if err := m.Init(bytes.Repeat([]byte{0x33}, m.KeySize())); err != nil {
			t.Fatal(err)
		}
	}
	return c, m
}

func compression(t *testing.T, name string, mode factory.CompressionMode) factory.Compression {
	t.Helper()
	if name == "" {
		return nil
	}
	comp, ok := factory.Create(factory.BuiltinCompressions(), name)
	if !ok {
		t.Fatalf("unknown compression %q", name)
	}
	if err := comp.Init(mode); err != nil {
		t.Fatal(err)
	}
	return comp
}

func payloadPacket(payload []byte) *sshbuf.Buffer {
	buf := sshbuf.NewPacketBuffer(payload[0])
	buf.PutRawBytes(payload[1:])
	return buf
}

func TestCodec_RoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		cipher string
		mac    string
		comp   string
	}{
		{"cleartext", "", "", ""},
		{"aes128-ctr hmac-sha2-256", "aes128-ctr", "hmac-sha2-256", ""},
		{"aes256-ctr hmac-sha1", "aes256-ctr", "hmac-sha1", ""},
		{"aes128-cbc hmac-sha1-96", "aes128-cbc", "hmac-sha1-96", ""},
		{"blowfish-cbc hmac-md5", "blowfish-cbc", "hmac-md5", ""},
		{"cast128-cbc hmac-sha2-512", "cast128-cbc", "hmac-sha2-512", ""},
		{"with zlib", "aes128-ctr", "hmac-sha2-256", "zlib"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := NewEncoder(testRandom(0x55), notAuthed)
			dec := NewDecoder(notAuthed)

			encCipher, encMac := suite(t, tt.cipher, tt.mac, factory.Encrypt)
			decCipher, decMac := suite(t, tt.cipher, tt.mac, factory.Decrypt)
			if tt.cipher != "" || tt.mac != "" || tt.comp != "" {
				enc.InstallKeys(encCipher, encMac, compression(t, tt.comp, factory.Deflate))
				dec.InstallKeys(decCipher, decMac, compression(t, tt.comp, factory.Inflate))
			}

			payloads := [][]byte{
				{90, 0, 0, 0, 1, 'x'},
				append([]byte{94}, bytes.Repeat([]byte{0xEE}, 1024)...),
				{2},
			}

			for i, payload := range payloads {
				encSeqBefore := enc.Seq()
				encoded, err := enc.Encode(payloadPacket(payload))
				if err != nil {
					t.Fatalf("packet %d: encode: %v", i, err)
				}
				if enc.Seq() != encSeqBefore+1 {
					t.Fatalf("packet %d: egress seq advanced by %d", i, enc.Seq()-encSeqBefore)
				}

				decSeqBefore := dec.Seq()
				dec.Append(encoded.CompactData())

				var got []byte
				err = dec.Decode(func(p *sshbuf.Buffer) error {
					got = p.CompactData()
					return nil
				})
				if err != nil {
					t.Fatalf("packet %d: decode: %v", i, err)
				}
				if !bytes.Equal(got, payload) {
					t.Fatalf("packet %d: round trip = %x, want %x", i, got, payload)
				}
				if dec.Seq() != decSeqBefore+1 {
					t.Fatalf("packet %d: ingress seq advanced by %d", i, dec.Seq()-decSeqBefore)
				}
			}
		})
	}
}

func TestCodec_PaddingInvariant(t *testing.T) {
	for size := 1; size <= 64; size++ {
		// Fresh pair per size so the CTR keystreams stay aligned.
		enc := NewEncoder(testRandom(0), notAuthed)
		c, _ := suite(t, "aes128-ctr", "", factory.Encrypt)
		enc.InstallKeys(c, nil, nil)

		payload := append([]byte{90}, bytes.Repeat([]byte{1}, size-1)...)
		encoded, err := enc.Encode(payloadPacket(payload))
		if err != nil {
			t.Fatal(err)
		}
		// Decrypt what we just encrypted to inspect the header.
		dc, _ := suite(t, "aes128-ctr", "", factory.Decrypt)
		wire := encoded.CompactData()
		if err := dc.Update(wire); err != nil {
			t.Fatal(err)
		}
		length := int(wire[0])<<24 | int(wire[1])<<16 | int(wire[2])<<8 | int(wire[3])
		pad := int(wire[4])
		if pad < protocol.MinPaddingLength {
			t.Fatalf("size %d: pad = %d < 4", size, pad)
		}
		if (length+4)%16 != 0 {
			t.Fatalf("size %d: total %d not block aligned", size, length+4)
		}
		if length < protocol.MinPacketLength {
			t.Fatalf("size %d: length %d below minimum", size, length)
		}
	}
}

func TestCodec_MacTamperDetection(t *testing.T) {
	enc := NewEncoder(testRandom(0x55), notAuthed)
	dec := NewDecoder(notAuthed)
	encCipher, encMac := suite(t, "aes128-ctr", "hmac-sha2-256", factory.Encrypt)
	decCipher, decMac := suite(t, "aes128-ctr", "hmac-sha2-256", factory.Decrypt)
	enc.InstallKeys(encCipher, encMac, nil)
	dec.InstallKeys(decCipher, decMac, nil)

	payload := append([]byte{94}, bytes.Repeat([]byte{0xAA}, 1023)...)
	encoded, err := enc.Encode(payloadPacket(payload))
	if err != nil {
		t.Fatal(err)
	}

	wire := encoded.CompactData()
	// Flip one ciphertext bit inside the MAC-covered region.
	wire[100] ^= 0x01

	dec.Append(wire)
	err = dec.Decode(func(*sshbuf.Buffer) error {
		t.Fatal("tampered packet was emitted")
		return nil
	})
	if !errors.Is(err, util.ErrMacMismatch) {
		t.Fatalf("err = %v, want ErrMacMismatch", err)
	}
	var sshErr *util.SshError
	if !errors.As(err, &sshErr) || sshErr.Code != util.DisconnectMacError {
		t.Fatalf("disconnect code = %v, want MAC_ERROR (5)", err)
	}
}

func TestCodec_LengthBounds(t *testing.T) {
	tests := []struct {
		name   string
		length uint32
	}{
		{"below minimum", 4},
		{"zero", 0},
		{"above maximum", protocol.MaxPacketLength + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := NewDecoder(notAuthed)
			header := sshbuf.New()
			header.PutUint32(tt.length)
			header.PutRawBytes(bytes.Repeat([]byte{0}, 12))

			dec.Append(header.CompactData())
			err := dec.Decode(func(*sshbuf.Buffer) error { return nil })
			if !errors.Is(err, util.ErrProtocol) {
				t.Fatalf("err = %v, want ErrProtocol", err)
			}
		})
	}
}

func TestCodec_RejectsUnalignedLength(t *testing.T) {
	// In-range length fields that are not a multiple of the cipher block
	// size must fail cleanly, not slice past the first decrypted block.
	encCipher, _ := suite(t, "aes128-ctr", "", factory.Encrypt)
	decCipher, _ := suite(t, "aes128-ctr", "", factory.Decrypt)

	dec := NewDecoder(notAuthed)
	dec.InstallKeys(decCipher, nil, nil)

	// Length 8 passes the range check but (8+4) is not a multiple of the
	// 16-byte block size.
	wire := sshbuf.New()
	wire.PutUint32(8)
	wire.PutRawBytes(bytes.Repeat([]byte{0}, 28))
	data := wire.CompactData()
	if err := encCipher.Update(data); err != nil {
		t.Fatal(err)
	}

	dec.Append(data)
	err := dec.Decode(func(*sshbuf.Buffer) error {
		t.Fatal("malformed packet was emitted")
		return nil
	})
	if !errors.Is(err, util.ErrProtocol) {
		t.Fatalf("err = %v, want ErrProtocol", err)
	}
	var sshErr *util.SshError
	if !errors.As(err, &sshErr) || sshErr.Code != util.DisconnectProtocolError {
		t.Fatalf("disconnect code = %v, want PROTOCOL_ERROR (2)", err)
	}
}

func TestCodec_RejectsOversizedPadding(t *testing.T) {
	// A padding length that consumes the whole packet leaves a negative
	// payload length and must be rejected even though the framing and MAC
	// are otherwise valid.
	dec := NewDecoder(notAuthed)

	wire := sshbuf.New()
	wire.PutUint32(12)      // packet_length, block aligned (12+4 = 16)
	wire.PutByte(12)        // padding_length >= packet_length
	wire.PutRawBytes(bytes.Repeat([]byte{0}, 11))

	dec.Append(wire.CompactData())
	err := dec.Decode(func(*sshbuf.Buffer) error {
		t.Fatal("malformed packet was emitted")
		return nil
	})
	if !errors.Is(err, util.ErrProtocol) {
		t.Fatalf("err = %v, want ErrProtocol", err)
	}
	var sshErr *util.SshError
	if !errors.As(err, &sshErr) || sshErr.Code != util.DisconnectProtocolError {
		t.Fatalf("disconnect code = %v, want PROTOCOL_ERROR (2)", err)
	}
}

func TestCodec_PartialPacketWaits(t *testing.T) {
	enc := NewEncoder(testRandom(1), notAuthed)
	dec := NewDecoder(notAuthed)

	payload := append([]byte{90}, bytes.Repeat([]byte{7}, 100)...)
	encoded, err := enc.Encode(payloadPacket(payload))
	if err != nil {
		t.Fatal(err)
	}
	wire := encoded.CompactData()

	emitted := 0
	// Feed one byte at a time; the packet must only surface once complete.
	for _, b := range wire {
		dec.Append([]byte{b})
		if err := dec.Decode(func(p *sshbuf.Buffer) error {
			emitted++
			if !bytes.Equal(p.CompactData(), payload) {
				t.Fatal("payload mismatch")
			}
			return nil
		}); err != nil {
			t.Fatal(err)
		}
	}
	if emitted != 1 {
		t.Fatalf("packet emitted %d times", emitted)
	}
}

func TestCodec_CountersResetOnInstall(t *testing.T) {
	enc := NewEncoder(testRandom(1), notAuthed)
	if _, err := enc.Encode(payloadPacket([]byte{90, 1, 2, 3})); err != nil {
		t.Fatal(err)
	}
	if enc.BytesCount() == 0 || enc.PacketsCount() != 1 {
		t.Fatalf("counters = %d bytes / %d packets", enc.BytesCount(), enc.PacketsCount())
	}
	seqBefore := enc.Seq()

	c, m := suite(t, "aes128-ctr", "hmac-sha2-256", factory.Encrypt)
	enc.InstallKeys(c, m, nil)

	if enc.BytesCount() != 0 || enc.PacketsCount() != 0 {
		t.Fatal("byte/packet counters survived key install")
	}
	if enc.Seq() != seqBefore {
		t.Fatalf("sequence counter reset on key install: %d != %d", enc.Seq(), seqBefore)
	}
}

func TestCodec_DelayedCompressionGatesOnAuth(t *testing.T) {
	authed := false
	authedFn := func() bool { return authed }

	enc := NewEncoder(testRandom(1), authedFn)
	dec := NewDecoder(authedFn)
	enc.InstallKeys(nil, nil, compression(t, "zlib@openssh.com", factory.Deflate))
	dec.InstallKeys(nil, nil, compression(t, "zlib@openssh.com", factory.Inflate))

	roundTrip := func(payload []byte) []byte {
		t.Helper()
		encoded, err := enc.Encode(payloadPacket(payload))
		if err != nil {
			t.Fatal(err)
		}
		dec.Append(encoded.CompactData())
		var got []byte
		if err := dec.Decode(func(p *sshbuf.Buffer) error {
			got = p.CompactData()
			return nil
		}); err != nil {
			t.Fatal(err)
		}
		return got
	}

	// Pre-auth packets bypass the delayed compressor entirely.
	pre := append([]byte{50}, bytes.Repeat([]byte{'a'}, 200)...)
	if !bytes.Equal(roundTrip(pre), pre) {
		t.Fatal("pre-auth round trip failed")
	}

	authed = true
	post := append([]byte{94}, bytes.Repeat([]byte{'b'}, 200)...)
	if !bytes.Equal(roundTrip(post), post) {
		t.Fatal("post-auth round trip failed")
	}
}
