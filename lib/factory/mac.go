package factory

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"hash"
)

// hmacMac wraps a stdlib HMAC. outSize below the hash size yields a
// truncated MAC (e.g. hmac-sha1-96).
type hmacMac struct {
	name    string
	keySize int
	outSize int
	newHash func() hash.Hash
	mac     hash.Hash
	word    [4]byte
}

func (m *hmacMac) Name() string   { return m.name }
func (m *hmacMac) BlockSize() int { return m.outSize }
func (m *hmacMac) KeySize() int   { return m.keySize }

func (m *hmacMac) Init(key []byte) error {
	if len(key) < m.keySize {
		return fmt.Errorf("%s: short key (%d bytes)", m.name, len(key))
	}
	m.mac = hmac.New(m.newHash, key[:m.keySize])
	return nil
}

func (m *hmacMac) UpdateUint32(v uint32) {
	binary.BigEndian.PutUint32(m.word[:], v)
	m.mac.Write(m.word[:])
}

func (m *hmacMac) Update(data []byte) {
	m.mac.Write(data)
}

func (m *hmacMac) Sum(dst []byte) {
	sum := m.mac.Sum(nil)
	copy(dst, sum[:m.outSize])
	m.mac.Reset()
}

// BuiltinMacs returns the built-in MAC factories in preference order:
// the SHA-2 family first, then the legacy SHA-1 and MD5 variants.
func BuiltinMacs() []Named[Mac] {
	return []Named[Mac]{
		{Name: "hmac-sha2-256", Create: func() Mac {
			return &hmacMac{name: "hmac-sha2-256", keySize: 32, outSize: 32, newHash: sha256.New}
		}},
		{Name: "hmac-sha2-512", Create: func() Mac {
			return &hmacMac{name: "hmac-sha2-512", keySize: 64, outSize: 64, newHash: sha512.New}
		}},
		{Name: "hmac-sha1", Create: func() Mac {
			return &hmacMac{name: "hmac-sha1", keySize: 20, outSize: 20, newHash: sha1.New}
		}},
		{Name: "hmac-sha1-96", Create: func() Mac {
			return &hmacMac{name: "hmac-sha1-96", keySize: 20, outSize: 12, newHash: sha1.New}
		}},
		{Name: "hmac-md5", Create: func() Mac {
			return &hmacMac{name: "hmac-md5", keySize: 16, outSize: 16, newHash: md5.New}
		}},
	}
}
