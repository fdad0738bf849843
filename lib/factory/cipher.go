package factory

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/blowfish"
	"golang.org/x/crypto/cast5"
)

// blockCipherBuilder constructs the underlying block cipher from a key.
type blockCipherBuilder func(key []byte) (cipher.Block, error)

// streamCipher runs a block cipher in CTR mode. CTR is symmetric, so the
// same transform serves both directions.
type streamCipher struct {
	name      string
	keySize   int
	ivSize    int
	blockSize int
	builder   blockCipherBuilder
	stream    cipher.Stream
}

func (c *streamCipher) Name() string    { return c.name }
func (c *streamCipher) BlockSize() int  { return c.blockSize }
func (c *streamCipher) IVSize() int     { return c.ivSize }
func (c *streamCipher) KeySize() int    { return c.keySize }

func (c *streamCipher) Init(mode CipherMode, key, iv []byte) error {
	if len(key) < c.keySize || len(iv) < c.ivSize {
		return fmt.Errorf("%s: short key material (key=%d iv=%d)", c.name, len(key), len(iv))
	}
	block, err := c.builder(key[:c.keySize])
	if err != nil {
		return fmt.Errorf("%s: %w", c.name, err)
	}
	c.stream = cipher.NewCTR(block, iv[:c.ivSize])
	return nil
}

func (c *streamCipher) Update(data []byte) error {
	if c.stream == nil {
		return fmt.Errorf("%s: cipher not initialized", c.name)
	}
	c.stream.XORKeyStream(data, data)
	return nil
}

// cbcCipher runs a block cipher in CBC mode; the direction decides between
// the encrypter and decrypter block modes.
type cbcCipher struct {
	name      string
	keySize   int
	ivSize    int
	blockSize int
	builder   blockCipherBuilder
	mode      cipher.BlockMode
}

func (c *cbcCipher) Name() string    { return c.name }
func (c *cbcCipher) BlockSize() int  { return c.blockSize }
func (c *cbcCipher) IVSize() int     { return c.ivSize }
func (c *cbcCipher) KeySize() int    { return c.keySize }

func (c *cbcCipher) Init(mode CipherMode, key, iv []byte) error {
	if len(key) < c.keySize || len(iv) < c.ivSize {
		return fmt.Errorf("%s: short key material (key=%d iv=%d)", c.name, len(key), len(iv))
	}
	block, err := c.builder(key[:c.keySize])
	if err != nil {
		return fmt.Errorf("%s: %w", c.name, err)
	}
	if mode == Encrypt {
		c.mode = cipher.NewCBCEncrypter(block, iv[:c.ivSize])
	} else {
		c.mode = cipher.NewCBCDecrypter(block, iv[:c.ivSize])
	}
	return nil
}

func (c *cbcCipher) Update(data []byte) error {
	if c.mode == nil {
		return fmt.Errorf("%s: cipher not initialized", c.name)
	}
	if len(data)%c.blockSize != 0 {
		return fmt.Errorf("%s: data not block aligned (%d bytes)", c.name, len(data))
	}
	c.mode.CryptBlocks(data, data)
	return nil
}

func aesBuilder(key []byte) (cipher.Block, error) {
	return aes.NewCipher(key)
}

func blowfishBuilder(key []byte) (cipher.Block, error) {
	return blowfish.NewCipher(key)
}

func cast5Builder(key []byte) (cipher.Block, error) {
	return cast5.NewCipher(key)
}

// BuiltinCiphers returns the built-in cipher factories in preference order:
// AES-CTR first, then AES-CBC, then the legacy block ciphers.
func BuiltinCiphers() []Named[Cipher] {
	return []Named[Cipher]{
		{Name: "aes128-ctr", Create: func() Cipher {
			return &streamCipher{name: "aes128-ctr", keySize: 16, ivSize: 16, blockSize: 16, builder: aesBuilder}
		}},
		{Name: "aes192-ctr", Create: func() Cipher {
			return &streamCipher{name: "aes192-ctr", keySize: 24, ivSize: 16, blockSize: 16, builder: aesBuilder}
		}},
		{Name: "aes256-ctr", Create: func() Cipher {
			return &streamCipher{name: "aes256-ctr", keySize: 32, ivSize: 16, blockSize: 16, builder: aesBuilder}
		}},
		{Name: "aes128-cbc", Create: func() Cipher {
			return &cbcCipher{name: "aes128-cbc", keySize: 16, ivSize: 16, blockSize: 16, builder: aesBuilder}
		}},
		{Name: "aes256-cbc", Create: func() Cipher {
			return &cbcCipher{name: "aes256-cbc", keySize: 32, ivSize: 16, blockSize: 16, builder: aesBuilder}
		}},
		{Name: "blowfish-cbc", Create: func() Cipher {
			return &cbcCipher{name: "blowfish-cbc", keySize: 16, ivSize: 8, blockSize: 8, builder: blowfishBuilder}
		}},
		{Name: "cast128-cbc", Create: func() Cipher {
			return &cbcCipher{name: "cast128-cbc", keySize: 16, ivSize: 8, blockSize: 8, builder: cast5Builder}
		}},
	}
}
