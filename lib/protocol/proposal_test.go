package protocol

import (
	"bytes"
	"testing"

	"github.com/go-sshd/go-sshd/lib/sshbuf"
)

// fixedRandom fills with a repeating byte so cookie bytes are predictable.
type fixedRandom byte

func (r fixedRandom) Fill(p []byte) {
	for i := range p {
		p[i] = byte(r)
	}
}

func TestKexInit_WriteParseRoundTrip(t *testing.T) {
	proposal := testProposal()
	proposal[SlotLangC2S] = "en"

	buf := sshbuf.New()
	buf.SetWpos(sshbuf.HeaderGap)
	buf.SetRpos(sshbuf.HeaderGap)
	payload := WriteKexInit(buf, proposal, fixedRandom(0xAB))

	if payload[0] != MsgKexInit {
		t.Fatalf("payload opcode = %d, want %d", payload[0], MsgKexInit)
	}
	for _, c := range payload[1 : 1+CookieSize] {
		if c != 0xAB {
			t.Fatalf("cookie byte = %#x, want 0xAB", c)
		}
	}

	// The buffer content past the header gap is exactly the payload.
	wire := buf.Array()[sshbuf.HeaderGap:buf.Wpos()]
	if !bytes.Equal(wire, payload) {
		t.Fatal("returned payload differs from buffer content")
	}

	// Parse expects the read position just past the opcode.
	parseBuf := sshbuf.Wrap(payload)
	if _, err := parseBuf.GetByte(); err != nil {
		t.Fatal(err)
	}
	parsed, reassembled, err := ParseKexInit(parseBuf)
	if err != nil {
		t.Fatal(err)
	}
	if parsed != proposal {
		t.Fatalf("parsed proposal = %v, want %v", parsed, proposal)
	}
	if !bytes.Equal(reassembled, payload) {
		t.Fatal("reassembled payload differs from original")
	}
}

func TestParseKexInit_Truncated(t *testing.T) {
	buf := sshbuf.Wrap([]byte{1, 2, 3})
	if _, _, err := ParseKexInit(buf); err == nil {
		t.Fatal("expected error on truncated KEXINIT")
	}
}

func TestProposal_Validate(t *testing.T) {
	good := testProposal()
	if err := good.Validate(); err != nil {
		t.Fatalf("valid proposal rejected: %v", err)
	}

	bad := testProposal()
	bad[SlotMacC2S] = ""
	if err := bad.Validate(); err == nil {
		t.Fatal("empty MAC slot accepted")
	}
}
