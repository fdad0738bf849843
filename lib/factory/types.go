// Package factory defines the algorithm capabilities consumed by the SSH
// transport (ciphers, MACs, compression, digests, PRNG, key exchange) and
// the named-factory manager that resolves them during negotiation.
//
// The transport never constructs a concrete algorithm directly: everything
// is looked up by its negotiated wire name through the Manager, so embedders
// can extend or restrict the algorithm set without touching the session
// core.
package factory

import (
	"github.com/go-sshd/go-sshd/lib/sshbuf"
)

// CipherMode selects the direction a cipher instance is initialized for.
type CipherMode int

const (
	// Encrypt initializes the cipher for the sending direction.
	Encrypt CipherMode = iota
	// Decrypt initializes the cipher for the receiving direction.
	Decrypt
)

// Cipher is a block or stream cipher operating in place on packet bytes.
type Cipher interface {
	// Name returns the SSH wire name (e.g. "aes128-ctr").
	Name() string

	// BlockSize returns the cipher block size in bytes.
	BlockSize() int

	// IVSize returns the initialization vector size in bytes.
	IVSize() int

	// KeySize returns the encryption key size in bytes.
	KeySize() int

	// Init prepares the cipher with the derived key and IV for the given
	// direction. Must be called exactly once before Update.
	Init(mode CipherMode, key, iv []byte) error

	// Update transforms the given bytes in place.
	Update(data []byte) error
}

// Mac computes the per-packet integrity code over the sequence number and
// the unencrypted packet bytes.
type Mac interface {
	// Name returns the SSH wire name (e.g. "hmac-sha2-256").
	Name() string

	// BlockSize returns the size of the MAC output on the wire. Truncated
	// MACs (e.g. hmac-sha1-96) report the truncated size.
	BlockSize() int

	// KeySize returns the integrity key size in bytes.
	KeySize() int

	// Init keys the MAC. Must be called exactly once before use.
	Init(key []byte) error

	// UpdateUint32 feeds a big-endian uint32, used for the sequence number.
	UpdateUint32(v uint32)

	// Update feeds packet bytes.
	Update(data []byte)

	// Sum writes the finished MAC into dst (len(dst) >= BlockSize) and
	// resets the MAC for the next packet.
	Sum(dst []byte)
}

// CompressionMode selects the direction a compression instance is
// initialized for.
type CompressionMode int

const (
	// Deflate initializes the compressor for outgoing packets.
	Deflate CompressionMode = iota
	// Inflate initializes the compressor for incoming packets.
	Inflate
)

// Compression is the per-direction payload transform negotiated in the
// compression slots. Implementations keep stream state across packets.
type Compression interface {
	// Name returns the SSH wire name (e.g. "zlib@openssh.com").
	Name() string

	// Delayed returns true when the algorithm only activates after user
	// authentication succeeds (the "@openssh.com" delayed variant).
	Delayed() bool

	// Init prepares the stream state for the given direction.
	Init(mode CompressionMode) error

	// Compress replaces the readable region of buf with its compressed
	// form.
	Compress(buf *sshbuf.Buffer) error

	// Uncompress reads the readable region of src and appends the
	// decompressed bytes to dst.
	Uncompress(src, dst *sshbuf.Buffer) error
}

// Digest is a cryptographic hash used for key derivation and exchange
// hashes.
type Digest interface {
	// Name returns the algorithm name (e.g. "sha256").
	Name() string

	// Size returns the digest length in bytes.
	Size() int

	// Update feeds bytes into the hash.
	Update(data []byte)

	// Digest returns the hash of everything fed since the last call and
	// resets the state.
	Digest() []byte
}

// Random is the pseudo random generator used for cookies and padding.
type Random interface {
	// Fill overwrites p with random bytes.
	Fill(p []byte)
}

// KexInfo carries the session identity data a key exchange needs to build
// the exchange hash.
type KexInfo struct {
	// ServerVersion is the server's identification string, without CRLF.
	ServerVersion string

	// ClientVersion is the client's identification string, without CRLF.
	ClientVersion string

	// ServerKexInit is the full payload of the server's SSH_MSG_KEXINIT.
	ServerKexInit []byte

	// ClientKexInit is the full payload of the client's SSH_MSG_KEXINIT.
	ClientKexInit []byte
}

// PacketConn lets a key exchange send its method-specific messages through
// the session. Buffers must be built with sshbuf.NewPacketBuffer.
type PacketConn interface {
	// SendKexPacket encodes and writes one packet. Key exchange messages
	// bypass the pending-packet queue.
	SendKexPacket(buf *sshbuf.Buffer) error
}

// KeyExchange drives one key exchange algorithm. The mathematics (DH, ECDH)
// live behind this capability; the transport only routes the method-specific
// messages [30..49] and harvests K, H and the hash algorithm at the end.
type KeyExchange interface {
	// Name returns the SSH wire name (e.g. "diffie-hellman-group14-sha1").
	Name() string

	// Init starts the exchange with the identity data. Either side may send
	// its first method-specific message from here via conn.
	Init(conn PacketConn, info KexInfo) error

	// Next processes one method-specific message, the buffer positioned at
	// the opcode byte. It returns true when the exchange is complete.
	Next(buf *sshbuf.Buffer) (bool, error)

	// K returns the shared secret as mpint magnitude bytes.
	K() []byte

	// H returns the exchange hash.
	H() []byte

	// Hash returns a fresh Digest of the exchange hash algorithm, used for
	// key derivation.
	Hash() Digest
}

// Named is a named factory for an algorithm capability. Create returns a
// fresh, uninitialized instance.
type Named[T any] struct {
	// Name is the SSH wire name the factory is negotiated under.
	Name string

	// Create constructs a new instance.
	Create func() T
}

// Names returns the factory names in preference order.
func Names[T any](factories []Named[T]) []string {
	names := make([]string, len(factories))
	for i, f := range factories {
		names[i] = f.Name
	}
	return names
}

// Create constructs an instance from the factory with the given name, or
// returns false when no factory matches.
func Create[T any](factories []Named[T], name string) (T, bool) {
	for _, f := range factories {
		if f.Name == name {
			return f.Create(), true
		}
	}
	var zero T
	return zero, false
}
