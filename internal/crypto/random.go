package crypto

import (
	"crypto/rand"
	"fmt"
)

// RandomBytes returns n uniform random bytes from the CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("csprng: %w", err)
	}
	return b, nil
}

// RandomNonce returns a fresh nonce of the given size.
func RandomNonce(size int) ([]byte, error) { return RandomBytes(size) }
