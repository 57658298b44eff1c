package types

import "time"

// CipherSuite names an MLS cipher suite.
type CipherSuite string

const (
	// SuiteX25519ChaCha is MLS_128_DHKEMX25519_CHACHA20POLY1305_SHA256_Ed25519.
	SuiteX25519ChaCha CipherSuite = "MLS_128_DHKEMX25519_CHACHA20POLY1305_SHA256_Ed25519"
	// SuiteX25519AES is MLS_128_DHKEMX25519_AES128GCM_SHA256_Ed25519.
	SuiteX25519AES CipherSuite = "MLS_128_DHKEMX25519_AES128GCM_SHA256_Ed25519"
)

// KeyPackage is the public material a prospective member publishes so a
// group can add them.
type KeyPackage struct {
	UserID     UserID        `json:"user_id"`
	InitKey    X25519Public  `json:"init_key"`
	RatchetKey X25519Public  `json:"ratchet_key"`
	SigningKey Ed25519Public `json:"signing_key"`
	Signature  []byte        `json:"signature"`
}

// LeafNode is one member slot in the ratchet tree. A blank leaf marks a
// removed member whose slot may be reused.
type LeafNode struct {
	Index      uint32        `json:"index"`
	UserID     UserID        `json:"user_id,omitempty"`
	RatchetKey X25519Public  `json:"ratchet_key,omitempty"`
	SigningKey Ed25519Public `json:"signing_key,omitempty"`
	Blank      bool          `json:"blank,omitempty"`
}

// GroupState is the minimal per-group MLS state: the left-balanced tree,
// the epoch secrets and the transcript hashes. Epoch increases with every
// tree mutation.
type GroupState struct {
	GroupID        ChatID      `json:"group_id"`
	Epoch          uint64      `json:"epoch"`
	Suite          CipherSuite `json:"cipher_suite"`
	Leaves         []LeafNode  `json:"leaves"`
	EpochSecret    []byte      `json:"epoch_secret"`
	SenderSecret   []byte      `json:"sender_secret"`
	TreeHash       []byte      `json:"tree_hash"`
	TranscriptHash []byte      `json:"transcript_hash"`
	// SenderCounters tracks the next message counter per leaf within the
	// current epoch; reset on every epoch change.
	SenderCounters map[uint32]uint32 `json:"sender_counters,omitempty"`
	Extensions     map[string]string `json:"extensions,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// MemberCount returns the number of occupied leaves.
func (g *GroupState) MemberCount() int {
	n := 0
	for i := range g.Leaves {
		if !g.Leaves[i].Blank {
			n++
		}
	}
	return n
}

// CommitOp names the mutation a Commit carries.
type CommitOp string

const (
	CommitAdd    CommitOp = "add"
	CommitRemove CommitOp = "remove"
	CommitUpdate CommitOp = "update"
)

// Commit announces an epoch transition to existing members.
type Commit struct {
	GroupID   ChatID   `json:"group_id"`
	Epoch     uint64   `json:"epoch"`
	Op        CommitOp `json:"op"`
	LeafIndex uint32   `json:"leaf_index"`
	TreeHash  []byte   `json:"tree_hash"`
}

// Welcome carries the current group secret to a newcomer, encrypted to
// their init key.
type Welcome struct {
	GroupID         ChatID       `json:"group_id"`
	Epoch           uint64       `json:"epoch"`
	Suite           CipherSuite  `json:"cipher_suite"`
	EphemeralKey    X25519Public `json:"ephemeral_key"`
	Nonce           []byte       `json:"nonce"`
	EncryptedSecret []byte       `json:"encrypted_secret"`
}
