package kex

import (
	"bytes"
	"testing"

	"github.com/go-sshd/go-sshd/lib/factory"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateUnknown, "UNKNOWN"},
		{StateInit, "INIT"},
		{StateRun, "RUN"},
		{StateKeys, "KEYS"},
		{StateDone, "DONE"},
		{State(99), "INVALID"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestDeriveKeys_DeterministicAndDistinct(t *testing.T) {
	k := []byte{0x01, 0x02, 0x03, 0x04}
	h := bytes.Repeat([]byte{0x5A}, 32)
	sid := bytes.Repeat([]byte{0xC3}, 32)

	first := DeriveKeys(factory.NewSHA256(), k, h, sid)
	second := DeriveKeys(factory.NewSHA256(), k, h, sid)

	pairs := [][2][]byte{
		{first.IVClientToServer, second.IVClientToServer},
		{first.IVServerToClient, second.IVServerToClient},
		{first.EncClientToServer, second.EncClientToServer},
		{first.EncServerToClient, second.EncServerToClient},
		{first.MacClientToServer, second.MacClientToServer},
		{first.MacServerToClient, second.MacServerToClient},
	}
	for i, pair := range pairs {
		if !bytes.Equal(pair[0], pair[1]) {
			t.Fatalf("key %d not deterministic", i)
		}
		if len(pair[0]) != 32 {
			t.Fatalf("key %d length = %d, want digest size 32", i, len(pair[0]))
		}
	}

	// Every letter derives a different key.
	all := [][]byte{
		first.IVClientToServer, first.IVServerToClient,
		first.EncClientToServer, first.EncServerToClient,
		first.MacClientToServer, first.MacServerToClient,
	}
	for i := range all {
		for j := i + 1; j < len(all); j++ {
			if bytes.Equal(all[i], all[j]) {
				t.Fatalf("keys %d and %d are identical", i, j)
			}
		}
	}
}

func TestDeriveKeys_SessionIDChangesKeys(t *testing.T) {
	k := []byte{9, 9, 9}
	h := bytes.Repeat([]byte{1}, 32)
	a := DeriveKeys(factory.NewSHA256(), k, h, bytes.Repeat([]byte{2}, 32))
	b := DeriveKeys(factory.NewSHA256(), k, h, bytes.Repeat([]byte{3}, 32))
	if bytes.Equal(a.EncClientToServer, b.EncClientToServer) {
		t.Fatal("different session ids derived the same key")
	}
}

func TestResizeKey(t *testing.T) {
	k := []byte{0x10, 0x20}
	h := bytes.Repeat([]byte{0x30}, 20)
	short := bytes.Repeat([]byte{0x40}, 20)

	resized := ResizeKey(append([]byte(nil), short...), 64, factory.NewSHA1(), k, h)
	if len(resized) < 64 {
		t.Fatalf("resized length = %d, want >= 64", len(resized))
	}
	if !bytes.Equal(resized[:20], short) {
		t.Fatal("resize did not preserve the original prefix")
	}

	// Already long enough: unchanged.
	same := ResizeKey(append([]byte(nil), short...), 16, factory.NewSHA1(), k, h)
	if !bytes.Equal(same, short) {
		t.Fatal("resize modified a sufficient key")
	}

	// Extension is deterministic.
	again := ResizeKey(append([]byte(nil), short...), 64, factory.NewSHA1(), k, h)
	if !bytes.Equal(resized, again) {
		t.Fatal("resize not deterministic")
	}
}
