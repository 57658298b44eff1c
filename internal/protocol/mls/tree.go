package mls

import (
	"crypto/sha256"
	"encoding/binary"

	"sonet/internal/domain"
)

// leftmostFreeLeaf returns the index of the first blank leaf, or len(leaves)
// if the tree must grow.
func leftmostFreeLeaf(leaves []domain.LeafNode) uint32 {
	for i := range leaves {
		if leaves[i].Blank {
			return uint32(i)
		}
	}
	return uint32(len(leaves))
}

// leafForUser returns the occupied leaf index for uid.
func leafForUser(leaves []domain.LeafNode, uid domain.UserID) (uint32, bool) {
	for i := range leaves {
		if !leaves[i].Blank && leaves[i].UserID == uid {
			return uint32(i), true
		}
	}
	return 0, false
}

// treeHash computes the hash of the canonical tree serialization. The
// serialization is position-prefixed so moving a leaf always changes the
// hash.
func treeHash(leaves []domain.LeafNode) []byte {
	h := sha256.New()
	var idx [4]byte
	for i := range leaves {
		binary.BigEndian.PutUint32(idx[:], leaves[i].Index)
		h.Write(idx[:])
		if leaves[i].Blank {
			h.Write([]byte{0})
			continue
		}
		h.Write([]byte{1})
		uid := []byte(leaves[i].UserID)
		binary.Write(h, binary.BigEndian, uint32(len(uid)))
		h.Write(uid)
		h.Write(leaves[i].RatchetKey.Slice())
		h.Write(leaves[i].SigningKey.Slice())
	}
	return h.Sum(nil)
}

// commitBytes is the canonical serialization hashed into the transcript.
func commitBytes(c domain.Commit) []byte {
	out := make([]byte, 0, len(c.GroupID)+1+16+len(c.TreeHash))
	out = append(out, c.GroupID...)
	out = append(out, 0x00)
	out = append(out, c.Op...)
	out = append(out, 0x00)
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], c.Epoch)
	out = append(out, n[:]...)
	var leaf [4]byte
	binary.BigEndian.PutUint32(leaf[:], c.LeafIndex)
	out = append(out, leaf[:]...)
	out = append(out, c.TreeHash...)
	return out
}

// advanceTranscript folds a commit into the running transcript hash.
func advanceTranscript(prev []byte, c domain.Commit) []byte {
	h := sha256.New()
	h.Write(prev)
	h.Write(commitBytes(c))
	return h.Sum(nil)
}
