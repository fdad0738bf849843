package kex

import (
	"fmt"

	"github.com/go-sshd/go-sshd/lib/factory"
	"github.com/go-sshd/go-sshd/lib/protocol"
	"github.com/go-sshd/go-sshd/lib/sshbuf"
	"github.com/go-sshd/go-sshd/lib/util"
)

// Keys holds the six derived session keys per RFC 4253 section 7.2. The
// derivation letters bind to directions as: A = client-to-server IV,
// B = server-to-client IV, C = client-to-server encryption key,
// D = server-to-client encryption key, E = client-to-server integrity key,
// F = server-to-client integrity key.
type Keys struct {
	IVClientToServer  []byte // 'A'
	IVServerToClient  []byte // 'B'
	EncClientToServer []byte // 'C'
	EncServerToClient []byte // 'D'
	MacClientToServer []byte // 'E'
	MacServerToClient []byte // 'F'
}

// DeriveKeys computes the six session keys by hashing
// K || H || letter || sessionID for each letter 'A'..'F'.
func DeriveKeys(dig factory.Digest, k, h, sessionID []byte) Keys {
	seed := sshbuf.New()
	seed.PutMPInt(k)
	seed.PutRawBytes(h)
	letterPos := seed.Wpos()
	seed.PutByte('A')
	seed.PutRawBytes(sessionID)

	next := func() []byte {
		dig.Update(seed.Array()[:seed.Wpos()])
		out := dig.Digest()
		seed.Array()[letterPos]++
		return out
	}

	return Keys{
		IVClientToServer:  next(),
		IVServerToClient:  next(),
		EncClientToServer: next(),
		EncServerToClient: next(),
		MacClientToServer: next(),
		MacServerToClient: next(),
	}
}

// ResizeKey extends a derived key to the needed length by iterated hashing:
// key = key || HASH(K || H || key), per RFC 4253 section 7.2.
func ResizeKey(key []byte, needed int, dig factory.Digest, k, h []byte) []byte {
	for len(key) < needed {
		buf := sshbuf.New()
		buf.PutMPInt(k)
		buf.PutRawBytes(h)
		buf.PutRawBytes(key)
		dig.Update(buf.Array()[:buf.Wpos()])
		key = append(key, dig.Digest()...)
	}
	return key
}

// Suite is one direction's freshly keyed algorithm set, ready for
// installation into the codec.
type Suite struct {
	Cipher      factory.Cipher
	Mac         factory.Mac
	Compression factory.Compression
}

// NewKeysResult carries both directions' suites after a completed exchange.
type NewKeysResult struct {
	In  Suite // algorithms for the receiving direction
	Out Suite // algorithms for the sending direction
}

// BuildSuites derives the session keys from the finished exchange and
// constructs both directions' cipher suites from the negotiated algorithm
// names. The sending side cipher is initialized in Encrypt mode and the
// receiving side in Decrypt mode, with the direction binding decided by the
// server flag.
func BuildSuites(manager *factory.Manager, negotiated protocol.Proposal,
	server bool, kx factory.KeyExchange, sessionID []byte) (NewKeysResult, error) {

	var result NewKeysResult
	k := kx.K()
	h := kx.H()
	dig := kx.Hash()

	keys := DeriveKeys(dig, k, h, sessionID)

	build := func(cipherName, macName, compName string, iv, enc, mac []byte,
		cipherMode factory.CipherMode, compMode factory.CompressionMode) (Suite, error) {

		var s Suite
		c, ok := factory.Create(manager.CipherFactories(), cipherName)
		if !ok {
			return s, util.NewSshErrorWithCause(util.DisconnectKeyExchangeFailed,
				fmt.Sprintf("unknown negotiated cipher: %s", cipherName), util.ErrKexFailure)
		}
		enc = ResizeKey(enc, c.KeySize(), dig, k, h)
		iv = ResizeKey(iv, c.IVSize(), dig, k, h)
		if err := c.Init(cipherMode, enc, iv); err != nil {
			return s, err
		}
		s.Cipher = c

		m, ok := factory.Create(manager.MacFactories(), macName)
		if !ok {
			return s, util.NewSshErrorWithCause(util.DisconnectKeyExchangeFailed,
				fmt.Sprintf("unknown negotiated MAC: %s", macName), util.ErrKexFailure)
		}
		mac = ResizeKey(mac, m.KeySize(), dig, k, h)
		if err := m.Init(mac); err != nil {
			return s, err
		}
		s.Mac = m

		comp, ok := factory.Create(manager.CompressionFactories(), compName)
		if !ok {
			return s, util.NewSshErrorWithCause(util.DisconnectKeyExchangeFailed,
				fmt.Sprintf("unknown negotiated compression: %s", compName), util.ErrKexFailure)
		}
		if err := comp.Init(compMode); err != nil {
			return s, err
		}
		s.Compression = comp
		return s, nil
	}

	c2s, err := build(
		negotiated[protocol.SlotCipherC2S],
		negotiated[protocol.SlotMacC2S],
		negotiated[protocol.SlotCompC2S],
		keys.IVClientToServer, keys.EncClientToServer, keys.MacClientToServer,
		pickMode(server, factory.Decrypt, factory.Encrypt),
		pickCompMode(server, factory.Inflate, factory.Deflate))
	if err != nil {
		return result, err
	}
	s2c, err := build(
		negotiated[protocol.SlotCipherS2C],
		negotiated[protocol.SlotMacS2C],
		negotiated[protocol.SlotCompS2C],
		keys.IVServerToClient, keys.EncServerToClient, keys.MacServerToClient,
		pickMode(server, factory.Encrypt, factory.Decrypt),
		pickCompMode(server, factory.Deflate, factory.Inflate))
	if err != nil {
		return result, err
	}

	if server {
		result.In = c2s
		result.Out = s2c
	} else {
		result.In = s2c
		result.Out = c2s
	}
	return result, nil
}

func pickMode(server bool, ifServer, ifClient factory.CipherMode) factory.CipherMode {
	if server {
		return ifServer
	}
	return ifClient
}

func pickCompMode(server bool, ifServer, ifClient factory.CompressionMode) factory.CompressionMode {
	if server {
		return ifServer
	}
	return ifClient
}
