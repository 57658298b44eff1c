package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"sonet/internal/crypto"
	"sonet/internal/domain"
	"sonet/internal/protocol/mls"
	"sonet/internal/protocol/ratchet"
)

// encrypt produces the on-wire envelope and descriptor for one message,
// holding the chat's crypto mutex for the minimum interval.
func (s *Service) encrypt(ctx context.Context, chat *domain.Chat, sender domain.UserID, plaintext []byte) (domain.EncryptedEnvelope, *domain.EncryptionDescriptor, error) {
	sessionKey, err := s.keys.UseSessionKey(ctx, chat.ID, sender)
	if err != nil {
		return domain.EncryptedEnvelope{}, nil, err
	}

	var env domain.EncryptedEnvelope
	switch chat.Kind {
	case domain.ChatDirect:
		env, err = s.encryptDirect(ctx, chat, sender, plaintext)
	case domain.ChatGroup:
		env, err = s.encryptGroup(ctx, chat, sender, plaintext)
	default:
		err = fmt.Errorf("%w: chat kind %q", domain.ErrInvalidArgument, chat.Kind)
	}
	if err != nil {
		return domain.EncryptedEnvelope{}, nil, err
	}
	env.SessionID = sessionKey.SessionID

	ctBytes, err := crypto.B64Decode(env.Ciphertext)
	if err != nil {
		return domain.EncryptedEnvelope{}, nil, fmt.Errorf("%w: envelope ciphertext", domain.ErrInternal)
	}
	sig, err := s.keys.SignFor(ctx, sender, ctBytes)
	if err != nil {
		return domain.EncryptedEnvelope{}, nil, err
	}
	senderFP, err := s.keys.IdentityFingerprint(ctx, sender)
	if err != nil {
		return domain.EncryptedEnvelope{}, nil, err
	}

	nonce, err := crypto.B64Decode(env.Nonce)
	if err != nil {
		return domain.EncryptedEnvelope{}, nil, fmt.Errorf("%w: envelope nonce", domain.ErrInternal)
	}
	desc := &domain.EncryptionDescriptor{
		Level:                 domain.LevelEndToEnd,
		Algorithm:             env.Algorithm,
		KeyID:                 sessionKey.SessionID.String(),
		Nonce:                 nonce,
		Signature:             sig,
		SessionKeyFingerprint: crypto.Fingerprint(sessionKey.Key),
		SenderFingerprint:     senderFP,
		PerfectForwardSecrecy: true,
	}
	return env, desc, nil
}

// encryptDirect runs the sender's Double Ratchet, bootstrapping it on first
// contact. State persists before the message leaves the lock so a crash
// cannot reuse a chain position.
func (s *Service) encryptDirect(ctx context.Context, chat *domain.Chat, sender domain.UserID, plaintext []byte) (domain.EncryptedEnvelope, error) {
	peer, err := directPeer(chat, sender)
	if err != nil {
		return domain.EncryptedEnvelope{}, err
	}

	mu := s.chatLock(chat.ID)
	mu.Lock()
	defer mu.Unlock()

	conv, found, err := s.ratchets.Load(ctx, chat.ID, sender)
	if err != nil {
		return domain.EncryptedEnvelope{}, err
	}
	if !found {
		root, err := s.keys.DirectRoot(ctx, chat.ID, sender, peer)
		if err != nil {
			return domain.EncryptedEnvelope{}, err
		}
		peerPub, ok, err := s.keys.PublicIdentity(ctx, peer)
		if err != nil {
			return domain.EncryptedEnvelope{}, err
		}
		if !ok {
			return domain.EncryptedEnvelope{}, fmt.Errorf("identity %s: %w", peer, domain.ErrNotFound)
		}
		state, err := ratchet.InitAsInitiator(root, peerPub.XPub, s.now())
		if err != nil {
			return domain.EncryptedEnvelope{}, err
		}
		conv = domain.Conversation{ChatID: chat.ID, UserID: sender, Peer: peer, State: state}
	}

	header, ct, err := ratchet.Encrypt(&conv.State, []byte(chat.ID), plaintext, s.now())
	if err != nil {
		return domain.EncryptedEnvelope{}, err
	}
	if err := s.ratchets.Save(ctx, conv); err != nil {
		return domain.EncryptedEnvelope{}, err
	}

	split := len(ct) - crypto.TagSize
	return domain.EncryptedEnvelope{
		Algorithm:  crypto.AlgChaCha20Poly1305,
		Nonce:      crypto.B64(ratchet.Nonce(header.MessageIndex)),
		Ciphertext: crypto.B64(ct[:split]),
		Tag:        crypto.B64(ct[split:]),
		AAD:        chat.ID.String(),
		Header:     &header,
	}, nil
}

// decryptDirect opens a direct-chat envelope with the recipient's ratchet,
// bootstrapping the responder state on first contact.
func (s *Service) decryptDirect(ctx context.Context, chatID domain.ChatID, recipient, sender domain.UserID, env domain.EncryptedEnvelope) ([]byte, error) {
	if env.Header == nil {
		return nil, domain.ErrAuthFail
	}

	mu := s.chatLock(chatID)
	mu.Lock()
	defer mu.Unlock()

	conv, found, err := s.ratchets.Load(ctx, chatID, recipient)
	if err != nil {
		return nil, err
	}
	if !found {
		root, err := s.keys.DirectRoot(ctx, chatID, recipient, sender)
		if err != nil {
			return nil, err
		}
		priv, pub, err := s.keys.IdentityKeypair(ctx, recipient)
		if err != nil {
			return nil, err
		}
		var senderPub domain.X25519Public
		copy(senderPub[:], env.Header.DiffieHellmanPublicKey)
		state, err := ratchet.InitAsResponder(root, priv, pub, senderPub, s.now())
		if err != nil {
			return nil, err
		}
		conv = domain.Conversation{ChatID: chatID, UserID: recipient, Peer: sender, State: state}
	}

	ct, err := crypto.B64Decode(env.Ciphertext)
	if err != nil {
		return nil, domain.ErrAuthFail
	}
	tag, err := crypto.B64Decode(env.Tag)
	if err != nil {
		return nil, domain.ErrAuthFail
	}
	pt, err := ratchet.Decrypt(&conv.State, []byte(env.AAD), *env.Header, append(ct, tag...))
	if err != nil {
		return nil, err
	}
	if err := s.ratchets.Save(ctx, conv); err != nil {
		return nil, err
	}
	return pt, nil
}

// encryptGroup seals under the group's current epoch.
func (s *Service) encryptGroup(ctx context.Context, chat *domain.Chat, sender domain.UserID, plaintext []byte) (domain.EncryptedEnvelope, error) {
	mu := s.chatLock(chat.ID)
	mu.Lock()
	defer mu.Unlock()

	st, found, err := s.groups.Load(ctx, chat.ID)
	if err != nil {
		return domain.EncryptedEnvelope{}, err
	}
	if !found {
		return domain.EncryptedEnvelope{}, fmt.Errorf("group state %s: %w", chat.ID, domain.ErrNotFound)
	}

	leaf, counter, ct, tag, err := mls.EncryptMessage(&st, sender, []byte(chat.ID), plaintext)
	if err != nil {
		return domain.EncryptedEnvelope{}, err
	}
	if err := s.groups.Save(ctx, st); err != nil {
		return domain.EncryptedEnvelope{}, err
	}

	return domain.EncryptedEnvelope{
		Algorithm:  crypto.AlgChaCha20Poly1305,
		Nonce:      crypto.B64(mls.Nonce(leaf, counter)),
		Ciphertext: crypto.B64(ct),
		Tag:        crypto.B64(tag),
		AAD:        chat.ID.String(),
		Epoch:      st.Epoch,
		SenderLeaf: leaf,
		Counter:    counter,
	}, nil
}

// initGroup builds the MLS state for a fresh group chat.
func (s *Service) initGroup(ctx context.Context, chat *domain.Chat, creator domain.UserID) error {
	if creator == "" {
		creator = chat.ParticipantIDs[0]
	}
	kp, err := s.keyPackage(ctx, creator)
	if err != nil {
		return err
	}
	st, err := mls.CreateGroup(chat.ID, domain.SuiteX25519ChaCha, kp, nil, s.now())
	if err != nil {
		return err
	}
	for _, uid := range chat.ParticipantIDs {
		if uid == creator {
			continue
		}
		member, err := s.keyPackage(ctx, uid)
		if err != nil {
			return err
		}
		if _, _, err := mls.AddMember(&st, member, s.now()); err != nil {
			return err
		}
	}
	return s.groups.Save(ctx, st)
}

// keyPackage assembles the MLS key package for a registered user.
func (s *Service) keyPackage(ctx context.Context, uid domain.UserID) (domain.KeyPackage, error) {
	pub, ok, err := s.keys.PublicIdentity(ctx, uid)
	if err != nil {
		return domain.KeyPackage{}, err
	}
	if !ok {
		return domain.KeyPackage{}, fmt.Errorf("identity %s: %w", uid, domain.ErrNotFound)
	}
	_, ratchetPub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.KeyPackage{}, err
	}
	kp := domain.KeyPackage{
		UserID:     uid,
		InitKey:    pub.XPub,
		RatchetKey: ratchetPub,
		SigningKey: pub.EdPub,
	}
	kp.Signature, err = s.keys.SignFor(ctx, uid, kp.InitKey.Slice())
	if err != nil {
		return domain.KeyPackage{}, err
	}
	return kp, nil
}

func directPeer(chat *domain.Chat, sender domain.UserID) (domain.UserID, error) {
	for _, uid := range chat.ParticipantIDs {
		if uid != sender {
			return uid, nil
		}
	}
	return "", fmt.Errorf("%w: no peer in direct chat %s", domain.ErrInternal, chat.ID)
}

// cipherContent is the stored form of an encrypted payload.
func cipherContent(env domain.EncryptedEnvelope) string {
	return crypto.B64(mustJSON(env))
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err) // static types; cannot fail
	}
	return b
}
