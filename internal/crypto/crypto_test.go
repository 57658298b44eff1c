package crypto_test

import (
	"bytes"
	"errors"
	"testing"

	"sonet/internal/crypto"
	"sonet/internal/domain"
)

func TestAEAD_RoundTripSymmetricAlgorithms(t *testing.T) {
	for _, alg := range []string{crypto.AlgAES256GCM, crypto.AlgChaCha20Poly1305} {
		key, err := crypto.RandomBytes(32)
		if err != nil {
			t.Fatalf("RandomBytes: %v", err)
		}
		nonce, _ := crypto.RandomNonce(crypto.NonceSize)
		aad := []byte("chat-1")
		plaintext := []byte("the quick brown fox")

		ct, tag, err := crypto.Seal(alg, key, nonce, aad, plaintext)
		if err != nil {
			t.Fatalf("%s Seal: %v", alg, err)
		}
		if len(tag) != crypto.TagSize {
			t.Fatalf("%s tag size = %d", alg, len(tag))
		}
		pt, err := crypto.Open(alg, key, nonce, aad, ct, tag)
		if err != nil {
			t.Fatalf("%s Open: %v", alg, err)
		}
		if !bytes.Equal(pt, plaintext) {
			t.Fatalf("%s round trip mismatch", alg)
		}
	}
}

func TestAEAD_OpenFailuresAreNeutral(t *testing.T) {
	key, _ := crypto.RandomBytes(32)
	nonce, _ := crypto.RandomNonce(crypto.NonceSize)
	ct, tag, err := crypto.Seal(crypto.AlgChaCha20Poly1305, key, nonce, []byte("aad"), []byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	cases := map[string]func() ([]byte, error){
		"bad ciphertext": func() ([]byte, error) {
			bad := append([]byte(nil), ct...)
			bad[0] ^= 1
			return crypto.Open(crypto.AlgChaCha20Poly1305, key, nonce, []byte("aad"), bad, tag)
		},
		"bad tag": func() ([]byte, error) {
			bad := append([]byte(nil), tag...)
			bad[0] ^= 1
			return crypto.Open(crypto.AlgChaCha20Poly1305, key, nonce, []byte("aad"), ct, bad)
		},
		"bad aad": func() ([]byte, error) {
			return crypto.Open(crypto.AlgChaCha20Poly1305, key, nonce, []byte("other"), ct, tag)
		},
		"bad nonce": func() ([]byte, error) {
			return crypto.Open(crypto.AlgChaCha20Poly1305, key, []byte("short"), []byte("aad"), ct, tag)
		},
	}
	for name, fn := range cases {
		if _, err := fn(); !errors.Is(err, domain.ErrAuthFail) {
			t.Errorf("%s: err = %v, want ErrAuthFail", name, err)
		}
	}
}

func TestHybrid_RoundTrip(t *testing.T) {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	nonce, _ := crypto.RandomNonce(crypto.NonceSize)

	eph, ct, tag, err := crypto.SealHybrid(pub, nonce, []byte("ctx"), []byte("wrapped secret"))
	if err != nil {
		t.Fatalf("SealHybrid: %v", err)
	}
	pt, err := crypto.OpenHybrid(priv, eph, nonce, []byte("ctx"), ct, tag)
	if err != nil {
		t.Fatalf("OpenHybrid: %v", err)
	}
	if string(pt) != "wrapped secret" {
		t.Fatalf("got %q", pt)
	}

	// The wrong private key cannot open it.
	otherPriv, _, _ := crypto.GenerateX25519()
	if _, err := crypto.OpenHybrid(otherPriv, eph, nonce, []byte("ctx"), ct, tag); !errors.Is(err, domain.ErrAuthFail) {
		t.Fatalf("wrong key err = %v, want ErrAuthFail", err)
	}
}

func TestHKDF_Deterministic(t *testing.T) {
	ikm := bytes.Repeat([]byte{0x0b}, 22)
	salt := []byte{0x00, 0x01, 0x02}

	prk1 := crypto.HKDFExtract(salt, ikm)
	prk2 := crypto.HKDFExtract(salt, ikm)
	if !bytes.Equal(prk1, prk2) {
		t.Fatal("extract not deterministic")
	}

	okm1, err := crypto.HKDFExpand(prk1, []byte("info"), 42)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	okm2, _ := crypto.HKDFExpand(prk1, []byte("info"), 42)
	if !bytes.Equal(okm1, okm2) || len(okm1) != 42 {
		t.Fatal("expand not deterministic")
	}
}

func TestDeriveKey_LabelSeparation(t *testing.T) {
	ikm := bytes.Repeat([]byte{0x42}, 32)

	a, err := crypto.DeriveKey(ikm, "msg", []byte("ctx"), 32)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	b, _ := crypto.DeriveKey(ikm, "chain", []byte("ctx"), 32)
	c, _ := crypto.DeriveKey(ikm, "msg", []byte("other"), 32)
	d, _ := crypto.DeriveKey(ikm, "msg", []byte("ctx"), 32)

	if bytes.Equal(a, b) {
		t.Fatal("labels do not separate")
	}
	if bytes.Equal(a, c) {
		t.Fatal("contexts do not separate")
	}
	if !bytes.Equal(a, d) {
		t.Fatal("derivation not deterministic")
	}
}

func TestEd25519_SignVerify(t *testing.T) {
	priv, pub, err := crypto.GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519: %v", err)
	}
	msg := []byte("attest me")
	sig := crypto.SignEd25519(priv, msg)
	if !crypto.VerifyEd25519(pub, msg, sig) {
		t.Fatal("valid signature rejected")
	}
	if crypto.VerifyEd25519(pub, []byte("attest mE"), sig) {
		t.Fatal("forged message accepted")
	}
}

func TestX25519_SharedSecretAgreement(t *testing.T) {
	aPriv, aPub, _ := crypto.GenerateX25519()
	bPriv, bPub, _ := crypto.GenerateX25519()

	s1, err := crypto.DH(aPriv, bPub)
	if err != nil {
		t.Fatalf("DH: %v", err)
	}
	s2, err := crypto.DH(bPriv, aPub)
	if err != nil {
		t.Fatalf("DH: %v", err)
	}
	if !bytes.Equal(s1[:], s2[:]) {
		t.Fatal("shared secrets disagree")
	}
}

func TestEncryptSecret_WrongPassphraseFails(t *testing.T) {
	salt, _ := crypto.RandomBytes(crypto.SaltBytes)
	plaintext := append([]byte(nil), "at-rest secret"...)

	nonce, ct, err := crypto.EncryptSecret("correct horse", plaintext, salt)
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}
	pt, err := crypto.DecryptSecret("correct horse", salt, nonce, ct)
	if err != nil {
		t.Fatalf("DecryptSecret: %v", err)
	}
	if string(pt) != "at-rest secret" {
		t.Fatalf("got %q", pt)
	}
	if _, err := crypto.DecryptSecret("wrong", salt, nonce, ct); !errors.Is(err, domain.ErrAuthFail) {
		t.Fatalf("wrong passphrase err = %v, want ErrAuthFail", err)
	}
}

func TestFingerprint_ShortAndStable(t *testing.T) {
	fp1 := crypto.Fingerprint([]byte("key material"))
	fp2 := crypto.Fingerprint([]byte("key material"))
	if fp1 != fp2 {
		t.Fatal("fingerprint not stable")
	}
	if len(fp1) != 20 {
		t.Fatalf("fingerprint length = %d, want 20 hex chars", len(fp1))
	}
}
