package factory

import (
	"crypto/rand"
	"fmt"
)

// cryptoRandom is a Random backed by crypto/rand.
type cryptoRandom struct{}

func (cryptoRandom) Fill(p []byte) {
	if _, err := rand.Read(p); err != nil {
		// crypto/rand failure means the platform entropy source is gone;
		// there is no way to continue safely.
		panic(fmt.Sprintf("system random source failed: %v", err))
	}
}

// CryptoRandomFactory returns the default PRNG factory, backed by the
// platform CSPRNG.
func CryptoRandomFactory() Named[Random] {
	return Named[Random]{
		Name:   "default",
		Create: func() Random { return cryptoRandom{} },
	}
}
