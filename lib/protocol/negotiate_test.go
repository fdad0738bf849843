package protocol

import (
	"errors"
	"testing"

	"github.com/go-sshd/go-sshd/lib/util"
)

func TestPickFirstCommon(t *testing.T) {
	tests := []struct {
		name        string
		preferences string
		offers      string
		want        string
	}{
		{"client preference wins", "aes128-ctr,aes256-ctr", "aes256-ctr,aes128-ctr", "aes128-ctr"},
		{"single match", "a,b,c", "c", "c"},
		{"no match", "a,b", "c,d", ""},
		{"empty preferences", "", "a", ""},
		{"empty offers", "a", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PickFirstCommon(tt.preferences, tt.offers); got != tt.want {
				t.Fatalf("PickFirstCommon(%q, %q) = %q, want %q",
					tt.preferences, tt.offers, got, tt.want)
			}
		})
	}
}

func testProposal() Proposal {
	var p Proposal
	p[SlotKexAlgorithms] = "kex-a,kex-b"
	p[SlotServerHostKey] = "ssh-rsa"
	p[SlotCipherC2S] = "aes128-ctr,aes256-ctr"
	p[SlotCipherS2C] = "aes128-ctr,aes256-ctr"
	p[SlotMacC2S] = "hmac-sha2-256"
	p[SlotMacS2C] = "hmac-sha2-256"
	p[SlotCompC2S] = "none"
	p[SlotCompS2C] = "none"
	return p
}

func TestNegotiate_ClientPreferenceWins(t *testing.T) {
	client := testProposal()
	server := testProposal()
	client[SlotCipherC2S] = "aes128-ctr,aes256-ctr"
	server[SlotCipherC2S] = "aes256-ctr,aes128-ctr"

	result, err := Negotiate(client, server)
	if err != nil {
		t.Fatal(err)
	}
	if result[SlotCipherC2S] != "aes128-ctr" {
		t.Fatalf("negotiated c2s cipher = %q, want aes128-ctr", result[SlotCipherC2S])
	}
}

func TestNegotiate_LanguageSlotsMayBeEmpty(t *testing.T) {
	client := testProposal()
	server := testProposal()

	result, err := Negotiate(client, server)
	if err != nil {
		t.Fatal(err)
	}
	if result[SlotLangC2S] != "" || result[SlotLangS2C] != "" {
		t.Fatalf("language slots = %q/%q, want empty",
			result[SlotLangC2S], result[SlotLangS2C])
	}
}

func TestNegotiate_NoCommonCipherIsFatal(t *testing.T) {
	client := testProposal()
	server := testProposal()
	client[SlotCipherS2C] = "aes128-ctr"
	server[SlotCipherS2C] = "aes256-cbc"

	_, err := Negotiate(client, server)
	if !errors.Is(err, util.ErrKexFailure) {
		t.Fatalf("err = %v, want ErrKexFailure", err)
	}

	var sshErr *util.SshError
	if !errors.As(err, &sshErr) || sshErr.Code != util.DisconnectKeyExchangeFailed {
		t.Fatalf("disconnect code = %v, want KEY_EXCHANGE_FAILED", err)
	}
}
