package protocol

import (
	"fmt"

	"github.com/go-sshd/go-sshd/lib/sshbuf"
	"github.com/go-sshd/go-sshd/lib/util"
)

// Slot identifies one of the ten KEXINIT negotiation slots, in wire order
// per RFC 4253 section 7.1.
type Slot int

const (
	// SlotKexAlgorithms is the key exchange algorithm list.
	SlotKexAlgorithms Slot = iota
	// SlotServerHostKey is the server host key algorithm list.
	SlotServerHostKey
	// SlotCipherC2S is the client-to-server cipher list.
	SlotCipherC2S
	// SlotCipherS2C is the server-to-client cipher list.
	SlotCipherS2C
	// SlotMacC2S is the client-to-server MAC list.
	SlotMacC2S
	// SlotMacS2C is the server-to-client MAC list.
	SlotMacS2C
	// SlotCompC2S is the client-to-server compression list.
	SlotCompC2S
	// SlotCompS2C is the server-to-client compression list.
	SlotCompS2C
	// SlotLangC2S is the client-to-server language list.
	SlotLangC2S
	// SlotLangS2C is the server-to-client language list.
	SlotLangS2C

	// NumSlots is the number of negotiation slots.
	NumSlots = 10
)

// String returns the RFC 4253 field name of the slot.
func (s Slot) String() string {
	switch s {
	case SlotKexAlgorithms:
		return "kex_algorithms"
	case SlotServerHostKey:
		return "server_host_key_algorithms"
	case SlotCipherC2S:
		return "encryption_algorithms_client_to_server"
	case SlotCipherS2C:
		return "encryption_algorithms_server_to_client"
	case SlotMacC2S:
		return "mac_algorithms_client_to_server"
	case SlotMacS2C:
		return "mac_algorithms_server_to_client"
	case SlotCompC2S:
		return "compression_algorithms_client_to_server"
	case SlotCompS2C:
		return "compression_algorithms_server_to_client"
	case SlotLangC2S:
		return "languages_client_to_server"
	case SlotLangS2C:
		return "languages_server_to_client"
	default:
		return "unknown"
	}
}

// IsLanguage returns true for the two language slots, which are allowed to
// fail negotiation.
func (s Slot) IsLanguage() bool {
	return s == SlotLangC2S || s == SlotLangS2C
}

// Proposal holds one comma-separated candidate list per slot, in preference
// order.
type Proposal [NumSlots]string

// CookieSource fills a byte slice with random data. The session's PRNG
// satisfies this.
type CookieSource interface {
	Fill(p []byte)
}

// WriteKexInit appends a complete SSH_MSG_KEXINIT to the packet buffer:
// opcode, 16 random cookie bytes, the ten name-lists, the
// first-kex-packet-follows flag (false) and the reserved uint32.
// It returns the exact payload bytes, which the caller must retain for the
// exchange hash.
func WriteKexInit(buf *sshbuf.Buffer, proposal Proposal, random CookieSource) []byte {
	start := buf.Wpos()
	buf.PutByte(MsgKexInit)

	cookie := make([]byte, CookieSize)
	random.Fill(cookie)
	buf.PutRawBytes(cookie)

	for slot := Slot(0); slot < NumSlots; slot++ {
		buf.PutString(proposal[slot])
	}
	buf.PutBoolean(false) // first kex packet follows
	buf.PutUint32(0)      // reserved

	payload := make([]byte, buf.Wpos()-start)
	copy(payload, buf.Array()[start:buf.Wpos()])
	return payload
}

// ParseKexInit reads a SSH_MSG_KEXINIT body from the buffer. The read
// position must sit just past the opcode byte. It returns the remote
// proposal together with the reassembled full payload (opcode included),
// which the key exchange needs for the exchange hash.
func ParseKexInit(buf *sshbuf.Buffer) (Proposal, []byte, error) {
	var proposal Proposal

	// Reassemble the payload before consuming the body.
	payload := make([]byte, buf.Available()+1)
	payload[0] = MsgKexInit
	copy(payload[1:], buf.Array()[buf.Rpos():buf.Wpos()])
	size := 1 + CookieSize

	cookie := make([]byte, CookieSize)
	if err := buf.GetRawBytes(cookie); err != nil {
		return proposal, nil, fmt.Errorf("reading cookie: %w", err)
	}

	for slot := Slot(0); slot < NumSlots; slot++ {
		start := buf.Rpos()
		value, err := buf.GetString()
		if err != nil {
			return proposal, nil, fmt.Errorf("reading %s: %w", slot, err)
		}
		proposal[slot] = value
		size += buf.Rpos() - start
	}

	if _, err := buf.GetBoolean(); err != nil {
		return proposal, nil, fmt.Errorf("reading first-kex-packet-follows: %w", err)
	}
	size++
	reserved, err := buf.GetUint32()
	if err != nil {
		return proposal, nil, fmt.Errorf("reading reserved field: %w", err)
	}
	size += 4
	_ = reserved // non-zero is tolerated per RFC 4253

	return proposal, payload[:size], nil
}

// Validate checks that every cryptographic slot carries at least one
// candidate. Language slots may be empty.
func (p Proposal) Validate() error {
	for slot := Slot(0); slot < NumSlots; slot++ {
		if p[slot] == "" && !slot.IsLanguage() {
			return util.NewSshErrorWithCause(util.DisconnectKeyExchangeFailed,
				fmt.Sprintf("empty proposal for %s", slot), util.ErrKexFailure)
		}
	}
	return nil
}
