package factory

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
)

// stdDigest wraps a stdlib hash.Hash as a resettable Digest.
type stdDigest struct {
	name string
	h    hash.Hash
}

func (d *stdDigest) Name() string { return d.name }
func (d *stdDigest) Size() int    { return d.h.Size() }

func (d *stdDigest) Update(data []byte) {
	d.h.Write(data)
}

func (d *stdDigest) Digest() []byte {
	sum := d.h.Sum(nil)
	d.h.Reset()
	return sum
}

// NewSHA1 returns a SHA-1 digest.
func NewSHA1() Digest { return &stdDigest{name: "sha1", h: sha1.New()} }

// NewSHA256 returns a SHA-256 digest.
func NewSHA256() Digest { return &stdDigest{name: "sha256", h: sha256.New()} }

// NewSHA512 returns a SHA-512 digest.
func NewSHA512() Digest { return &stdDigest{name: "sha512", h: sha512.New()} }

// BuiltinDigests returns the built-in digest factories.
func BuiltinDigests() []Named[Digest] {
	return []Named[Digest]{
		{Name: "sha256", Create: NewSHA256},
		{Name: "sha512", Create: NewSHA512},
		{Name: "sha1", Create: NewSHA1},
	}
}
