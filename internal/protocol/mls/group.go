package mls

import (
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"sonet/internal/crypto"
	"sonet/internal/domain"
	"sonet/internal/util/memzero"
)

const (
	epochSecretSize = 32
	nonceSize       = chacha20poly1305.NonceSize
)

// CreateGroup initialises a single-member tree for the creator and derives
// the first epoch secret.
func CreateGroup(
	groupID domain.ChatID,
	suite domain.CipherSuite,
	creator domain.KeyPackage,
	extensions map[string]string,
	now time.Time,
) (domain.GroupState, error) {
	seed, err := crypto.RandomBytes(epochSecretSize)
	if err != nil {
		return domain.GroupState{}, err
	}

	st := domain.GroupState{
		GroupID: groupID,
		Epoch:   0,
		Suite:   suite,
		Leaves: []domain.LeafNode{{
			Index:      0,
			UserID:     creator.UserID,
			RatchetKey: creator.RatchetKey,
			SigningKey: creator.SigningKey,
		}},
		Extensions:     extensions,
		SenderCounters: make(map[uint32]uint32),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	st.TreeHash = treeHash(st.Leaves)
	st.TranscriptHash = advanceTranscript(nil, domain.Commit{
		GroupID: groupID, Epoch: 0, Op: domain.CommitAdd, LeafIndex: 0, TreeHash: st.TreeHash,
	})
	st.EpochSecret, err = crypto.DeriveKey(seed, "mls/epoch", st.TranscriptHash, epochSecretSize)
	memzero.Zero(seed)
	if err != nil {
		return domain.GroupState{}, err
	}
	if err := deriveSenderSecret(&st); err != nil {
		return domain.GroupState{}, err
	}
	return st, nil
}

// AddMember inserts kp at the leftmost free slot and advances the epoch.
// It returns the Commit for existing members and the Welcome bundle for
// the newcomer. Adds beyond the member cap fail with ErrGroupFull.
func AddMember(
	st *domain.GroupState,
	kp domain.KeyPackage,
	now time.Time,
) (domain.Commit, domain.Welcome, error) {
	if st.MemberCount()+1 > domain.MaxGroupMembers {
		return domain.Commit{}, domain.Welcome{}, fmt.Errorf(
			"group %s at %d members: %w", st.GroupID, st.MemberCount(), domain.ErrGroupFull)
	}
	if _, ok := leafForUser(st.Leaves, kp.UserID); ok {
		return domain.Commit{}, domain.Welcome{}, fmt.Errorf(
			"%w: %s already a member", domain.ErrInvalidArgument, kp.UserID)
	}

	idx := leftmostFreeLeaf(st.Leaves)
	leaf := domain.LeafNode{
		Index:      idx,
		UserID:     kp.UserID,
		RatchetKey: kp.RatchetKey,
		SigningKey: kp.SigningKey,
	}
	if int(idx) == len(st.Leaves) {
		st.Leaves = append(st.Leaves, leaf)
	} else {
		st.Leaves[idx] = leaf
	}

	commit, err := advanceEpoch(st, domain.CommitAdd, idx, nil, now)
	if err != nil {
		return domain.Commit{}, domain.Welcome{}, err
	}

	// Welcome: current epoch secret encrypted to the newcomer's init key.
	nonce, err := crypto.RandomNonce(nonceSize)
	if err != nil {
		return domain.Commit{}, domain.Welcome{}, err
	}
	eph, ct, tag, err := crypto.SealHybrid(kp.InitKey, nonce, []byte(st.GroupID), st.EpochSecret)
	if err != nil {
		return domain.Commit{}, domain.Welcome{}, err
	}
	welcome := domain.Welcome{
		GroupID:         st.GroupID,
		Epoch:           st.Epoch,
		Suite:           st.Suite,
		EphemeralKey:    eph,
		Nonce:           nonce,
		EncryptedSecret: append(ct, tag...),
	}
	return commit, welcome, nil
}

// RemoveMember blanks the leaf and advances the epoch with fresh entropy so
// the removed member cannot derive future epoch secrets.
func RemoveMember(
	st *domain.GroupState,
	leafIndex uint32,
	now time.Time,
) (domain.Commit, error) {
	if int(leafIndex) >= len(st.Leaves) || st.Leaves[leafIndex].Blank {
		return domain.Commit{}, fmt.Errorf("leaf %d: %w", leafIndex, domain.ErrNotFound)
	}
	st.Leaves[leafIndex] = domain.LeafNode{Index: leafIndex, Blank: true}

	commitSecret, err := crypto.RandomBytes(epochSecretSize)
	if err != nil {
		return domain.Commit{}, err
	}
	defer memzero.Zero(commitSecret)
	return advanceEpoch(st, domain.CommitRemove, leafIndex, commitSecret, now)
}

// RemoveMemberByUser resolves uid's leaf and removes it.
func RemoveMemberByUser(st *domain.GroupState, uid domain.UserID, now time.Time) (domain.Commit, error) {
	idx, ok := leafForUser(st.Leaves, uid)
	if !ok {
		return domain.Commit{}, fmt.Errorf("member %s: %w", uid, domain.ErrNotFound)
	}
	return RemoveMember(st, idx, now)
}

// UpdateGroup refreshes a member's leaf ratchet key and advances the epoch.
func UpdateGroup(
	st *domain.GroupState,
	uid domain.UserID,
	extensions map[string]string,
	now time.Time,
) (domain.Commit, error) {
	idx, ok := leafForUser(st.Leaves, uid)
	if !ok {
		return domain.Commit{}, fmt.Errorf("member %s: %w", uid, domain.ErrNotFound)
	}
	_, pub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.Commit{}, err
	}
	st.Leaves[idx].RatchetKey = pub
	for k, v := range extensions {
		if st.Extensions == nil {
			st.Extensions = make(map[string]string)
		}
		st.Extensions[k] = v
	}
	return advanceEpoch(st, domain.CommitUpdate, idx, nil, now)
}

// EncryptMessage seals plaintext under the epoch's sender secret for the
// member at leaf. The nonce is deterministic over (leaf, counter) so it can
// never repeat within an epoch.
func EncryptMessage(
	st *domain.GroupState,
	uid domain.UserID,
	aad, plaintext []byte,
) (leaf uint32, counter uint32, ct, tag []byte, err error) {
	idx, ok := leafForUser(st.Leaves, uid)
	if !ok {
		return 0, 0, nil, nil, fmt.Errorf("member %s: %w", uid, domain.ErrPermissionDenied)
	}
	if st.SenderCounters == nil {
		st.SenderCounters = make(map[uint32]uint32)
	}
	counter = st.SenderCounters[idx]

	mk, err := messageKey(st, idx, counter)
	if err != nil {
		return 0, 0, nil, nil, err
	}
	ct, tag, err = crypto.Seal(crypto.AlgChaCha20Poly1305, mk, Nonce(idx, counter), aad, plaintext)
	memzero.Zero(mk)
	if err != nil {
		return 0, 0, nil, nil, err
	}
	st.SenderCounters[idx] = counter + 1
	return idx, counter, ct, tag, nil
}

// DecryptMessage opens a ciphertext sealed in the current epoch. A stale
// epoch or any integrity failure yields the neutral AuthFail; state is
// never mutated.
func DecryptMessage(
	st *domain.GroupState,
	epoch uint64,
	leaf, counter uint32,
	aad, ct, tag []byte,
) ([]byte, error) {
	if epoch != st.Epoch {
		return nil, domain.ErrAuthFail
	}
	if int(leaf) >= len(st.Leaves) || st.Leaves[leaf].Blank {
		return nil, domain.ErrAuthFail
	}
	mk, err := messageKey(st, leaf, counter)
	if err != nil {
		return nil, err
	}
	pt, err := crypto.Open(crypto.AlgChaCha20Poly1305, mk, Nonce(leaf, counter), aad, ct, tag)
	memzero.Zero(mk)
	return pt, err
}

// OpenWelcome recovers the epoch secret from a Welcome with the newcomer's
// init private key.
func OpenWelcome(w domain.Welcome, initPriv domain.X25519Private) ([]byte, error) {
	if len(w.EncryptedSecret) < crypto.TagSize {
		return nil, domain.ErrAuthFail
	}
	split := len(w.EncryptedSecret) - crypto.TagSize
	return crypto.OpenHybrid(
		initPriv, w.EphemeralKey, w.Nonce, []byte(w.GroupID),
		w.EncryptedSecret[:split], w.EncryptedSecret[split:],
	)
}

// SizeStatus classifies the group against the membership policy bands.
func SizeStatus(st *domain.GroupState) domain.GroupSizeStatus {
	return domain.SizeStatusFor(st.MemberCount())
}

// --- epoch plumbing ---

// advanceEpoch bumps the epoch, folds the commit into the transcript and
// re-derives the epoch and sender secrets. commitSecret, when present, is
// extra entropy mixed in so prior epoch holders cannot follow.
func advanceEpoch(
	st *domain.GroupState,
	op domain.CommitOp,
	leafIndex uint32,
	commitSecret []byte,
	now time.Time,
) (domain.Commit, error) {
	st.Epoch++
	st.TreeHash = treeHash(st.Leaves)
	commit := domain.Commit{
		GroupID:   st.GroupID,
		Epoch:     st.Epoch,
		Op:        op,
		LeafIndex: leafIndex,
		TreeHash:  st.TreeHash,
	}
	st.TranscriptHash = advanceTranscript(st.TranscriptHash, commit)

	ikm := st.EpochSecret
	if len(commitSecret) > 0 {
		ikm = crypto.HKDFExtract(st.EpochSecret, commitSecret)
	}
	next, err := crypto.DeriveKey(ikm, "mls/epoch", st.TranscriptHash, epochSecretSize)
	if err != nil {
		return domain.Commit{}, err
	}
	memzero.Zero(st.EpochSecret)
	st.EpochSecret = next
	if err := deriveSenderSecret(st); err != nil {
		return domain.Commit{}, err
	}
	st.SenderCounters = make(map[uint32]uint32)
	st.UpdatedAt = now
	return commit, nil
}

// deriveSenderSecret refreshes the message-protection secret for the epoch.
func deriveSenderSecret(st *domain.GroupState) error {
	s, err := crypto.DeriveKey(st.EpochSecret, "mls/sender", []byte(st.GroupID), epochSecretSize)
	if err != nil {
		return err
	}
	memzero.Zero(st.SenderSecret)
	st.SenderSecret = s
	return nil
}

// messageKey derives the AEAD key for one (leaf, counter) slot.
func messageKey(st *domain.GroupState, leaf, counter uint32) ([]byte, error) {
	var ctx [8]byte
	binary.BigEndian.PutUint32(ctx[:4], leaf)
	binary.BigEndian.PutUint32(ctx[4:], counter)
	return crypto.DeriveKey(st.SenderSecret, "mls/msg", ctx[:], 32)
}

// Nonce is the deterministic LE32(leaf) || LE64(counter) message nonce.
func Nonce(leaf, counter uint32) []byte {
	nonce := make([]byte, nonceSize)
	binary.LittleEndian.PutUint32(nonce[:4], leaf)
	binary.LittleEndian.PutUint64(nonce[4:], uint64(counter))
	return nonce
}
