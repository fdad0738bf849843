// Package protocol implements the SSH-2 transport wire vocabulary: message
// numbers, disconnect reason codes, the KEXINIT proposal slots, algorithm
// negotiation and the identification exchange.
// See RFC 4250, RFC 4251 and RFC 4253.
package protocol

// SSH transport-layer message numbers per RFC 4250 section 4.1.
const (
	MsgDisconnect     = 1
	MsgIgnore         = 2
	MsgUnimplemented  = 3
	MsgDebug          = 4
	MsgServiceRequest = 5
	MsgServiceAccept  = 6
	MsgKexInit        = 20
	MsgNewKeys        = 21
)

// Boundaries of the KEX-method-specific message range per RFC 4250.
// Messages in [MsgKexFirst, MsgKexLast] belong to the running key exchange.
const (
	MsgKexFirst = 30
	MsgKexLast  = 49
)

// User authentication message numbers per RFC 4252 section 6. Only the
// envelope matters to the transport: MsgUserauthSuccess is what flips the
// delayed-compression gate.
const (
	MsgUserauthRequest = 50
	MsgUserauthFailure = 51
	MsgUserauthSuccess = 52
	MsgUserauthBanner  = 53
)

// Connection protocol message numbers per RFC 4254 section 9. The transport
// recognizes the global-request replies for the request/response rendezvous.
const (
	MsgGlobalRequest  = 80
	MsgRequestSuccess = 81
	MsgRequestFailure = 82
)

// Well-known service names per RFC 4252 / RFC 4254.
const (
	ServiceUserAuth   = "ssh-userauth"
	ServiceConnection = "ssh-connection"
)

// Wire limits per RFC 4253.
const (
	// CookieSize is the size of the random KEXINIT cookie.
	CookieSize = 16

	// MinPacketLength is the smallest legal value of the packet length field.
	MinPacketLength = 5

	// MaxPacketLength is the largest packet length accepted by the decoder.
	MaxPacketLength = 256 * 1024

	// MinPaddingLength is the smallest legal padding length.
	MinPaddingLength = 4

	// MinBlockSize is the framing block size used when no cipher is
	// installed, and the floor for any negotiated cipher block size.
	MinBlockSize = 8

	// MaxIdentificationLine is the maximum length of one identification
	// line, excluding the CRLF terminator.
	MaxIdentificationLine = 255

	// MaxIdentificationScan is the maximum number of bytes a client will
	// scan through pre-banner lines before giving up.
	MaxIdentificationScan = 16 * 1024
)

// VersionPrefix is the identification prefix for protocol version 2.0.
const VersionPrefix = "SSH-2.0-"

// MessageName returns a human-readable name for a transport message number,
// for logging.
func MessageName(cmd byte) string {
	switch cmd {
	case MsgDisconnect:
		return "SSH_MSG_DISCONNECT"
	case MsgIgnore:
		return "SSH_MSG_IGNORE"
	case MsgUnimplemented:
		return "SSH_MSG_UNIMPLEMENTED"
	case MsgDebug:
		return "SSH_MSG_DEBUG"
	case MsgServiceRequest:
		return "SSH_MSG_SERVICE_REQUEST"
	case MsgServiceAccept:
		return "SSH_MSG_SERVICE_ACCEPT"
	case MsgKexInit:
		return "SSH_MSG_KEXINIT"
	case MsgNewKeys:
		return "SSH_MSG_NEWKEYS"
	default:
		if cmd >= MsgKexFirst && cmd <= MsgKexLast {
			return "SSH_MSG_KEX_SPECIFIC"
		}
		return "SSH_MSG_UNKNOWN"
	}
}
