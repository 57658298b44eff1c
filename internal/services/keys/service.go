package keys

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sonet/internal/crypto"
	"sonet/internal/domain"
	"sonet/internal/util/memzero"
)

// Session key issuance policy.
const (
	DefaultSessionTTL         = 24 * time.Hour
	DefaultSessionMaxMessages = 1000
)

// Service implements domain.Keys over the identity and session-key stores.
type Service struct {
	identities domain.IdentityStore
	sessions   domain.SessionKeyStore
	now        func() time.Time
}

// New constructs the service.
func New(identities domain.IdentityStore, sessions domain.SessionKeyStore) *Service {
	return &Service{identities: identities, sessions: sessions, now: time.Now}
}

// RegisterIdentity generates and persists a fresh identity for uid. An
// existing identity is returned unchanged, so registration is idempotent.
func (s *Service) RegisterIdentity(ctx context.Context, uid domain.UserID) (domain.PublicIdentity, error) {
	if uid == "" {
		return domain.PublicIdentity{}, fmt.Errorf("%w: empty user id", domain.ErrInvalidArgument)
	}
	if pub, ok, err := s.identities.LoadPublic(ctx, uid); err != nil {
		return domain.PublicIdentity{}, err
	} else if ok {
		return pub, nil
	}

	xPriv, xPub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.PublicIdentity{}, err
	}
	edPriv, edPub, err := crypto.GenerateEd25519()
	if err != nil {
		return domain.PublicIdentity{}, err
	}
	id := domain.Identity{UserID: uid, XPub: xPub, XPriv: xPriv, EdPub: edPub, EdPriv: edPriv}
	if err := s.identities.Save(ctx, id); err != nil {
		return domain.PublicIdentity{}, err
	}
	return id.Public(), nil
}

// PublicIdentity returns the shareable half of a registered identity.
func (s *Service) PublicIdentity(ctx context.Context, uid domain.UserID) (domain.PublicIdentity, bool, error) {
	return s.identities.LoadPublic(ctx, uid)
}

// IdentityFingerprint returns the short fingerprint of uid's X25519 key.
func (s *Service) IdentityFingerprint(ctx context.Context, uid domain.UserID) (domain.Fingerprint, error) {
	pub, ok, err := s.identities.LoadPublic(ctx, uid)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("identity %s: %w", uid, domain.ErrNotFound)
	}
	return crypto.Fingerprint(pub.XPub.Slice()), nil
}

// SignFor signs msg with uid's Ed25519 identity key.
func (s *Service) SignFor(ctx context.Context, uid domain.UserID, msg []byte) ([]byte, error) {
	id, ok, err := s.identities.Load(ctx, uid)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("identity %s: %w", uid, domain.ErrNotFound)
	}
	sig := crypto.SignEd25519(id.EdPriv, msg)
	memzero.Zero(id.EdPriv[:])
	memzero.Zero(id.XPriv[:])
	return sig, nil
}

// DirectRoot derives the shared root key for a direct chat from the two
// participants' identity keys. Both orderings of (a, b) produce the same
// root.
func (s *Service) DirectRoot(ctx context.Context, chatID domain.ChatID, a, b domain.UserID) ([]byte, error) {
	idA, ok, err := s.identities.Load(ctx, a)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("identity %s: %w", a, domain.ErrNotFound)
	}
	pubB, ok, err := s.identities.LoadPublic(ctx, b)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("identity %s: %w", b, domain.ErrNotFound)
	}

	shared, err := crypto.DH(idA.XPriv, pubB.XPub)
	if err != nil {
		return nil, err
	}
	root, err := crypto.DeriveKey(shared[:], "root", []byte(chatID), 32)
	memzero.Zero(shared[:])
	memzero.Zero(idA.XPriv[:])
	if err != nil {
		return nil, err
	}
	return root, nil
}

// IssueSessionKey mints a fresh session key for (chat, user).
func (s *Service) IssueSessionKey(ctx context.Context, chatID domain.ChatID, uid domain.UserID, algorithm string) (domain.SessionKey, error) {
	if algorithm == "" {
		algorithm = crypto.AlgChaCha20Poly1305
	}
	material, err := crypto.RandomBytes(32)
	if err != nil {
		return domain.SessionKey{}, err
	}
	now := s.now()
	key := domain.SessionKey{
		SessionID:   domain.SessionID(uuid.NewString()),
		ChatID:      chatID,
		UserID:      uid,
		Algorithm:   algorithm,
		Key:         material,
		CreatedAt:   now,
		ExpiresAt:   now.Add(DefaultSessionTTL),
		MaxMessages: DefaultSessionMaxMessages,
	}
	if err := s.sessions.Put(ctx, key); err != nil {
		return domain.SessionKey{}, err
	}
	return key, nil
}

// ActiveSessionKey returns a key usable for encryption, minting one when
// none is live.
func (s *Service) ActiveSessionKey(ctx context.Context, chatID domain.ChatID, uid domain.UserID) (domain.SessionKey, error) {
	if key, ok, err := s.sessions.Active(ctx, chatID, uid); err != nil {
		return domain.SessionKey{}, err
	} else if ok {
		return key, nil
	}
	return s.IssueSessionKey(ctx, chatID, uid, "")
}

// IdentityKeypair exposes uid's X25519 identity keypair for ratchet
// responder bootstrap.
func (s *Service) IdentityKeypair(ctx context.Context, uid domain.UserID) (domain.X25519Private, domain.X25519Public, error) {
	id, ok, err := s.identities.Load(ctx, uid)
	if err != nil {
		return domain.X25519Private{}, domain.X25519Public{}, err
	}
	if !ok {
		return domain.X25519Private{}, domain.X25519Public{}, fmt.Errorf("identity %s: %w", uid, domain.ErrNotFound)
	}
	memzero.Zero(id.EdPriv[:])
	return id.XPriv, id.XPub, nil
}

// UseSessionKey returns the active key, minting one when needed, and counts
// one encryption against it.
func (s *Service) UseSessionKey(ctx context.Context, chatID domain.ChatID, uid domain.UserID) (domain.SessionKey, error) {
	key, err := s.ActiveSessionKey(ctx, chatID, uid)
	if err != nil {
		return domain.SessionKey{}, err
	}
	if err := s.sessions.IncrementUse(ctx, key.SessionID); err != nil {
		return domain.SessionKey{}, err
	}
	key.MessageCount++
	return key, nil
}

// RotateSessionKey mints a replacement; the previous key stays available
// for decryption until evicted.
func (s *Service) RotateSessionKey(ctx context.Context, chatID domain.ChatID, uid domain.UserID) (domain.SessionKey, error) {
	if old, ok, err := s.sessions.Active(ctx, chatID, uid); err == nil && ok {
		// Expire the old key for encryption immediately.
		old.ExpiresAt = s.now()
		if err := s.sessions.Put(ctx, old); err != nil {
			return domain.SessionKey{}, err
		}
	}
	return s.IssueSessionKey(ctx, chatID, uid, "")
}

// Compile-time assertion that Service implements domain.Keys.
var _ domain.Keys = (*Service)(nil)
