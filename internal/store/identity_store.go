package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"sonet/internal/domain"
	"sonet/internal/util/memzero"
)

const identitiesFile = "identities.json"

// identityOnDisk keeps public halves readable while private halves stay
// sealed under the server passphrase.
type identityOnDisk struct {
	Version int                  `json:"version"` // 1
	Public  domain.PublicIdentity `json:"public"`
	Sealed  sealedRecord         `json:"sealed"`
}

type identitiesOnDisk struct {
	Version    int                              `json:"version"` // 1
	Identities map[domain.UserID]identityOnDisk `json:"identities"`
}

// sealedIdentity is the encrypted private payload.
type sealedIdentity struct {
	XPriv  []byte `json:"xpriv"`
	EdPriv []byte `json:"edpriv"`
}

// IdentityFileStore persists long-term user identities.
type IdentityFileStore struct {
	mu         sync.Mutex
	dir        string
	passphrase string
}

// NewIdentityFileStore writes under dir, sealing private keys with
// passphrase.
func NewIdentityFileStore(dir, passphrase string) *IdentityFileStore {
	return &IdentityFileStore{dir: dir, passphrase: passphrase}
}

func (s *IdentityFileStore) path() string { return filepath.Join(s.dir, identitiesFile) }

func (s *IdentityFileStore) load() (identitiesOnDisk, error) {
	disk := identitiesOnDisk{Version: 1, Identities: make(map[domain.UserID]identityOnDisk)}
	if err := readJSON(s.path(), &disk); err != nil {
		return disk, err
	}
	if disk.Version != 1 {
		return disk, fmt.Errorf("unsupported identities version %d", disk.Version)
	}
	if disk.Identities == nil {
		disk.Identities = make(map[domain.UserID]identityOnDisk)
	}
	return disk, nil
}

// Save persists id. An existing identity for the user is replaced.
func (s *IdentityFileStore) Save(ctx context.Context, id domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	disk, err := s.load()
	if err != nil {
		return err
	}
	sealed, err := sealRecord(s.passphrase, sealedIdentity{
		XPriv:  id.XPriv.Slice(),
		EdPriv: id.EdPriv.Slice(),
	})
	if err != nil {
		return err
	}
	disk.Identities[id.UserID] = identityOnDisk{
		Version: 1,
		Public:  id.Public(),
		Sealed:  sealed,
	}
	return writeJSON(s.path(), disk, 0o600)
}

// Load returns the full identity including decrypted private halves.
func (s *IdentityFileStore) Load(ctx context.Context, uid domain.UserID) (domain.Identity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	disk, err := s.load()
	if err != nil {
		return domain.Identity{}, false, err
	}
	rec, ok := disk.Identities[uid]
	if !ok {
		return domain.Identity{}, false, nil
	}
	var priv sealedIdentity
	if err := openRecord(s.passphrase, rec.Sealed, &priv); err != nil {
		return domain.Identity{}, false, err
	}
	if len(priv.XPriv) != 32 || len(priv.EdPriv) != 64 {
		return domain.Identity{}, false, fmt.Errorf("bad key sizes for %s", uid)
	}

	id := domain.Identity{
		UserID: uid,
		XPub:   rec.Public.XPub,
		EdPub:  rec.Public.EdPub,
	}
	copy(id.XPriv[:], priv.XPriv)
	copy(id.EdPriv[:], priv.EdPriv)
	memzero.Zero(priv.XPriv)
	memzero.Zero(priv.EdPriv)
	return id, true, nil
}

// LoadPublic returns only the shareable half, with no decryption.
func (s *IdentityFileStore) LoadPublic(ctx context.Context, uid domain.UserID) (domain.PublicIdentity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	disk, err := s.load()
	if err != nil {
		return domain.PublicIdentity{}, false, err
	}
	rec, ok := disk.Identities[uid]
	if !ok {
		return domain.PublicIdentity{}, false, nil
	}
	return rec.Public, true, nil
}

var _ domain.IdentityStore = (*IdentityFileStore)(nil)
