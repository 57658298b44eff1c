package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// labelPrefix namespaces every derived key in this codebase.
const labelPrefix = "sonet/"

// HKDFExtract computes PRK = HMAC-SHA256(salt, ikm) per RFC 5869.
func HKDFExtract(salt, ikm []byte) []byte {
	return hkdf.Extract(sha256.New, ikm, salt)
}

// HKDFExpand expands prk into length bytes of output keyed by info.
func HKDFExpand(prk, info []byte, length int) ([]byte, error) {
	okm := make([]byte, length)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, info), okm); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return okm, nil
}

// DeriveKey is the labelled convenience over HKDF. The info string is
// "sonet/" || label || 0x00 || context so distinct labels can never collide.
func DeriveKey(ikm []byte, label string, context []byte, length int) ([]byte, error) {
	info := make([]byte, 0, len(labelPrefix)+len(label)+1+len(context))
	info = append(info, labelPrefix...)
	info = append(info, label...)
	info = append(info, 0x00)
	info = append(info, context...)

	okm := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, nil, info), okm); err != nil {
		return nil, fmt.Errorf("derive %q: %w", label, err)
	}
	return okm, nil
}
