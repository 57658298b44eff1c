package store

import (
	"crypto/rand"
	"encoding/json"

	"sonet/internal/crypto"
)

// sealedRecord is the at-rest form of any record containing key material:
// JSON encrypted under an Argon2id KEK derived from the server passphrase.
type sealedRecord struct {
	Salt  []byte `json:"salt"`
	Nonce []byte `json:"nonce"`
	Blob  []byte `json:"blob"`
}

// sealRecord marshals v and encrypts it with the passphrase.
func sealRecord(passphrase string, v any) (sealedRecord, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return sealedRecord{}, err
	}
	salt := make([]byte, crypto.SaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return sealedRecord{}, err
	}
	nonce, blob, err := crypto.EncryptSecret(passphrase, plain, salt)
	if err != nil {
		return sealedRecord{}, err
	}
	return sealedRecord{Salt: salt, Nonce: nonce, Blob: blob}, nil
}

// openRecord decrypts and unmarshals into out.
func openRecord(passphrase string, rec sealedRecord, out any) error {
	plain, err := crypto.DecryptSecret(passphrase, rec.Salt, rec.Nonce, rec.Blob)
	if err != nil {
		return err
	}
	return json.Unmarshal(plain, out)
}
