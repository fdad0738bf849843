package protocol

import (
	"fmt"
	"strings"

	"github.com/go-sshd/go-sshd/lib/util"
)

// PickFirstCommon returns the first name in preferences that also appears in
// offers. Both arguments are comma-separated name-lists. Returns "" when no
// common name exists.
func PickFirstCommon(preferences, offers string) string {
	if preferences == "" || offers == "" {
		return ""
	}
	offered := strings.Split(offers, ",")
	for _, pref := range strings.Split(preferences, ",") {
		for _, off := range offered {
			if pref == off {
				return pref
			}
		}
	}
	return ""
}

// Negotiate computes the agreed algorithm for every slot, client preference
// winning per RFC 4253 section 7.1. Failure to agree on a cryptographic slot
// is a key exchange failure; the language slots fall back to the empty
// string.
func Negotiate(client, server Proposal) (Proposal, error) {
	var result Proposal
	for slot := Slot(0); slot < NumSlots; slot++ {
		guess := PickFirstCommon(client[slot], server[slot])
		if guess == "" && !slot.IsLanguage() {
			return result, util.NewSshErrorWithCause(util.DisconnectKeyExchangeFailed,
				fmt.Sprintf("unable to negotiate %s (client: %s / server: %s)",
					slot, client[slot], server[slot]),
				util.ErrKexFailure)
		}
		result[slot] = guess
	}
	return result, nil
}

// JoinNames comma-joins a name list preserving order, for building proposal
// slots from factory name lists.
func JoinNames(names []string) string {
	return strings.Join(names, ",")
}
