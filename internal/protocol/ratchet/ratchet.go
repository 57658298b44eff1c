package ratchet

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"sonet/internal/crypto"
	"sonet/internal/domain"
	"sonet/internal/util/memzero"
)

const (
	aeadKeySize = chacha20poly1305.KeySize
	nonceSize   = chacha20poly1305.NonceSize

	// MaxSkippedKeys bounds the skipped-message-key store; oldest entries
	// are evicted on overflow.
	MaxSkippedKeys = 1000
	// MaxMessagesPerChain forces a DH ratchet step once a sending chain has
	// carried this many messages.
	MaxMessagesPerChain = 1000
	// RekeyInterval forces a DH ratchet step on the first send after this
	// much time since the last step.
	RekeyInterval = 24 * time.Hour
)

var (
	errChainUninitialised = errors.New("ratchet chain key uninitialised")
	errStateUninitialised = errors.New("ratchet state uninitialised")
)

// InitAsInitiator initialises the state for the first sender of a direct
// chat, deriving only the send chain key from the shared root and the
// peer's identity key.
func InitAsInitiator(
	root []byte,
	peerIdentity domain.X25519Public,
	now time.Time,
) (domain.RatchetState, error) {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.RatchetState{}, err
	}

	// Single DH: EK_A · IK_B
	dh, err := crypto.DH(priv, peerIdentity)
	if err != nil {
		return domain.RatchetState{}, err
	}
	newRoot, sendCK := kdfRK(root, dh[:])
	memzero.Zero(dh[:])

	return domain.RatchetState{
		RootKey:                 newRoot,
		DiffieHellmanPrivate:    priv,
		DiffieHellmanPublic:     pub,
		PeerDiffieHellmanPublic: peerIdentity,
		SendChainKey:            sendCK,
		SkippedKeys:             make(map[string][]byte),
		LastRatchetAt:           now,
	}, nil
}

// InitAsResponder initialises the state for the receiving side, deriving
// only the receive chain key from the shared root and the sender's current
// ratchet public key.
//
// The identity keypair doubles as the initial ratchet keypair: the sender
// ratchets against our identity key until we publish a fresh one, so our
// first DH step must use the identity private.
func InitAsResponder(
	root []byte,
	ourIdentityPriv domain.X25519Private,
	ourIdentityPub domain.X25519Public,
	senderRatchetPub domain.X25519Public,
	now time.Time,
) (domain.RatchetState, error) {
	// Single DH: IK_B · EK_A
	dh, err := crypto.DH(ourIdentityPriv, senderRatchetPub)
	if err != nil {
		return domain.RatchetState{}, err
	}
	newRoot, recvCK := kdfRK(root, dh[:])
	memzero.Zero(dh[:])

	return domain.RatchetState{
		RootKey:                 newRoot,
		DiffieHellmanPrivate:    ourIdentityPriv,
		DiffieHellmanPublic:     ourIdentityPub,
		PeerDiffieHellmanPublic: senderRatchetPub,
		ReceiveChainKey:         recvCK,
		SkippedKeys:             make(map[string][]byte),
		LastRatchetAt:           now,
	}, nil
}

// NeedsRekey reports whether policy forces a DH step before the next send.
func NeedsRekey(st *domain.RatchetState, now time.Time) bool {
	if st.Compromised {
		return true
	}
	if st.MessagesSinceRekey >= MaxMessagesPerChain {
		return true
	}
	return !st.LastRatchetAt.IsZero() && now.Sub(st.LastRatchetAt) >= RekeyInterval
}

// MarkCompromised zeroizes the send and receive chain keys and every
// skipped message key, and forces a fresh DH ratchet step on the next send.
// The root key and the current ratchet keypair are not cleared.
func MarkCompromised(st *domain.RatchetState) {
	memzero.Zero(st.SendChainKey)
	memzero.Zero(st.ReceiveChainKey)
	for _, mk := range st.SkippedKeys {
		memzero.Zero(mk)
	}
	st.SendChainKey = nil
	st.SkippedKeys = make(map[string][]byte)
	st.SkippedOrder = nil
	st.Compromised = true
}

// Encrypt encrypts plaintext under the send chain, performing a DH ratchet
// step first when the chain is uninitialised or the rekey policy demands it.
func Encrypt(
	st *domain.RatchetState,
	ad, plaintext []byte,
	now time.Time,
) (domain.RatchetHeader, []byte, error) {
	if st == nil {
		return domain.RatchetHeader{}, nil, errStateUninitialised
	}

	if st.SendChainKey == nil || NeedsRekey(st, now) {
		if err := senderRatchetStep(st, now); err != nil {
			return domain.RatchetHeader{}, nil, err
		}
	}

	mk, err := kdfCKSend(st)
	if err != nil {
		return domain.RatchetHeader{}, nil, err
	}

	header := domain.RatchetHeader{
		DiffieHellmanPublicKey: st.DiffieHellmanPublic.Slice(),
		PreviousChainLength:    st.PreviousChainLength,
		MessageIndex:           st.SendMessageIndex,
	}
	ct, err := seal(mk, header, ad, plaintext)
	memzero.Zero(mk)
	if err != nil {
		return domain.RatchetHeader{}, nil, err
	}

	st.SendMessageIndex++
	st.MessagesSinceRekey++
	return header, ct, nil
}

// Decrypt decrypts ciphertext, handling skipped keys and ratchet steps.
//
// The state is only committed after a successful open: an authentication
// failure leaves st exactly as it was.
func Decrypt(
	st *domain.RatchetState,
	ad []byte,
	header domain.RatchetHeader,
	ciphertext []byte,
) ([]byte, error) {
	if st == nil {
		return nil, errStateUninitialised
	}

	scratch := Clone(st)
	pt, err := decryptInto(&scratch, ad, header, ciphertext)
	if err != nil {
		return nil, err
	}
	*st = scratch
	return pt, nil
}

func decryptInto(
	st *domain.RatchetState,
	ad []byte,
	header domain.RatchetHeader,
	ciphertext []byte,
) ([]byte, error) {
	// Try skipped messages first.
	var peer domain.X25519Public
	copy(peer[:], header.DiffieHellmanPublicKey)

	if mk, ok := takeSkipped(st, peer, header.MessageIndex); ok {
		pt, err := open(mk, header, ad, ciphertext)
		memzero.Zero(mk)
		if err != nil {
			return nil, err
		}
		return pt, nil
	}

	// New ratchet step?
	if !st.PeerDiffieHellmanPublic.Equal(peer) {
		// Cache any keys remaining in the old receiving chain.
		skipUntil(st, header.PreviousChainLength)

		dh, err := crypto.DH(st.DiffieHellmanPrivate, peer)
		if err != nil {
			return nil, err
		}
		newRoot, recvCK := kdfRK(st.RootKey, dh[:])
		memzero.Zero(dh[:])

		priv, pub, err := crypto.GenerateX25519()
		if err != nil {
			return nil, err
		}
		dh2, err := crypto.DH(priv, peer)
		if err != nil {
			return nil, err
		}
		rk2, sendCK := kdfRK(newRoot, dh2[:])
		memzero.Zero(dh2[:])
		memzero.Zero(st.SendChainKey)

		st.PreviousChainLength = st.SendMessageIndex
		st.SendMessageIndex, st.ReceiveMessageIndex = 0, 0
		st.RootKey = rk2
		st.DiffieHellmanPrivate, st.DiffieHellmanPublic = priv, pub
		st.PeerDiffieHellmanPublic = peer
		st.SendChainKey, st.ReceiveChainKey = sendCK, recvCK
		st.MessagesSinceRekey = 0
		st.LastRatchetAt = time.Now()
	}

	// Cache keys between our position and the message's position.
	skipUntil(st, header.MessageIndex)

	mk, err := kdfCKRecv(st)
	if err != nil {
		return nil, err
	}
	pt, err := open(mk, header, ad, ciphertext)
	memzero.Zero(mk)
	if err != nil {
		return nil, err
	}
	st.ReceiveMessageIndex++
	return pt, nil
}

// Clone deep-copies a state so callers can trial-decrypt without mutation.
func Clone(st *domain.RatchetState) domain.RatchetState {
	out := *st
	out.RootKey = append([]byte(nil), st.RootKey...)
	out.SendChainKey = append([]byte(nil), st.SendChainKey...)
	out.ReceiveChainKey = append([]byte(nil), st.ReceiveChainKey...)
	if st.SendChainKey == nil {
		out.SendChainKey = nil
	}
	if st.ReceiveChainKey == nil {
		out.ReceiveChainKey = nil
	}
	out.SkippedKeys = make(map[string][]byte, len(st.SkippedKeys))
	for k, v := range st.SkippedKeys {
		out.SkippedKeys[k] = append([]byte(nil), v...)
	}
	out.SkippedOrder = append([]string(nil), st.SkippedOrder...)
	return out
}

// senderRatchetStep rotates our DH keypair and re-derives the sending chain
// against the peer's current ratchet key.
func senderRatchetStep(st *domain.RatchetState, now time.Time) error {
	st.PreviousChainLength = st.SendMessageIndex
	st.SendMessageIndex = 0

	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return err
	}
	dh, err := crypto.DH(priv, st.PeerDiffieHellmanPublic)
	if err != nil {
		return err
	}
	newRoot, sendCK := kdfRK(st.RootKey, dh[:])
	memzero.Zero(dh[:])
	memzero.Zero(st.SendChainKey)

	st.RootKey = newRoot
	st.DiffieHellmanPrivate, st.DiffieHellmanPublic = priv, pub
	st.SendChainKey = sendCK
	st.MessagesSinceRekey = 0
	st.LastRatchetAt = now
	st.Compromised = false
	return nil
}

// --- KDF helpers ---

// kdfRK derives a new root key and chain key from the DH output.
func kdfRK(root, dh []byte) (newRoot, ck []byte) {
	hk := hkdf.New(sha256.New, dh, root, []byte("sonet/rk"))
	newRoot = make([]byte, 32)
	ck = make([]byte, 32)
	io.ReadFull(hk, newRoot)
	io.ReadFull(hk, ck)
	return
}

// kdfCKSend advances the send-chain key, returning the next message key.
func kdfCKSend(st *domain.RatchetState) ([]byte, error) {
	if st.SendChainKey == nil {
		return nil, errChainUninitialised
	}
	mk, next, err := kdfCK(st.SendChainKey, st.SendMessageIndex)
	if err != nil {
		return nil, err
	}
	memzero.Zero(st.SendChainKey)
	st.SendChainKey = next
	return mk, nil
}

// kdfCKRecv advances the receive-chain key, returning the next message key.
func kdfCKRecv(st *domain.RatchetState) ([]byte, error) {
	if st.ReceiveChainKey == nil {
		return nil, errChainUninitialised
	}
	mk, next, err := kdfCK(st.ReceiveChainKey, st.ReceiveMessageIndex)
	if err != nil {
		return nil, err
	}
	memzero.Zero(st.ReceiveChainKey)
	st.ReceiveChainKey = next
	return mk, nil
}

// kdfCK splits one chain step into (message key, next chain key).
func kdfCK(ck []byte, n uint32) (mk, next []byte, err error) {
	var ctx [4]byte
	binary.LittleEndian.PutUint32(ctx[:], n)
	mk, err = crypto.DeriveKey(ck, "msg", ctx[:], 32)
	if err != nil {
		return nil, nil, err
	}
	next, err = crypto.DeriveKey(ck, "chain", nil, 32)
	if err != nil {
		return nil, nil, err
	}
	return mk, next, nil
}

// --- AEAD helpers ---

// Nonce derives the deterministic nonce LE64(n) || LE32(0). Chain keys
// never produce two message keys for the same n, so (key, nonce) pairs are
// unique.
func Nonce(n uint32) []byte {
	nonce := make([]byte, nonceSize)
	binary.LittleEndian.PutUint64(nonce[:8], uint64(n))
	return nonce
}

// seal encrypts plaintext with ChaCha20-Poly1305 using the serialized
// header appended to ad as associated data.
func seal(mk []byte, header domain.RatchetHeader, ad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(mk[:aeadKeySize])
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, Nonce(header.MessageIndex), plaintext, append(ad, headerBytes(header)...)), nil
}

// open decrypts ciphertext, mapping any failure to the neutral AuthFail.
func open(mk []byte, header domain.RatchetHeader, ad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(mk[:aeadKeySize])
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, Nonce(header.MessageIndex), ciphertext, append(ad, headerBytes(header)...))
	if err != nil {
		return nil, domain.ErrAuthFail
	}
	return pt, nil
}

// headerBytes serializes DHPub || PN || N big-endian.
func headerBytes(h domain.RatchetHeader) []byte {
	var tmp [4]byte
	out := append([]byte{}, h.DiffieHellmanPublicKey...)
	binary.BigEndian.PutUint32(tmp[:], h.PreviousChainLength)
	out = append(out, tmp[:]...)
	binary.BigEndian.PutUint32(tmp[:], h.MessageIndex)
	return append(out, tmp[:]...)
}

// --- Skipped-key bookkeeping ---

// skipUntil derives and stores skipped message keys up to pn, evicting the
// oldest entries once the store is full.
func skipUntil(st *domain.RatchetState, pn uint32) {
	if st.ReceiveChainKey == nil {
		return
	}
	for st.ReceiveMessageIndex < pn {
		mk, err := kdfCKRecv(st)
		if err != nil {
			return
		}
		for len(st.SkippedOrder) >= MaxSkippedKeys {
			oldest := st.SkippedOrder[0]
			st.SkippedOrder = st.SkippedOrder[1:]
			memzero.Zero(st.SkippedKeys[oldest])
			delete(st.SkippedKeys, oldest)
		}
		key := skippedKeyID(st.PeerDiffieHellmanPublic, st.ReceiveMessageIndex)
		st.SkippedKeys[key] = mk
		st.SkippedOrder = append(st.SkippedOrder, key)
		st.ReceiveMessageIndex++
	}
}

// takeSkipped removes and returns a cached skipped key, if present.
func takeSkipped(st *domain.RatchetState, peer domain.X25519Public, n uint32) ([]byte, bool) {
	key := skippedKeyID(peer, n)
	mk, ok := st.SkippedKeys[key]
	if !ok {
		return nil, false
	}
	delete(st.SkippedKeys, key)
	for i, k := range st.SkippedOrder {
		if k == key {
			st.SkippedOrder = append(st.SkippedOrder[:i], st.SkippedOrder[i+1:]...)
			break
		}
	}
	return mk, true
}

// skippedKeyID yields a unique map key from peerDHPub || n.
func skippedKeyID(pub domain.X25519Public, n uint32) string {
	var buf [36]byte
	copy(buf[:32], pub[:])
	binary.BigEndian.PutUint32(buf[32:], n)
	return string(buf[:])
}
