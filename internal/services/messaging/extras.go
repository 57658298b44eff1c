package messaging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"

	"sonet/internal/domain"
	"sonet/internal/protocol/mls"
)

// EditMessage replaces a message's content, recording the edit history and
// re-indexing.
func (s *Service) EditMessage(ctx context.Context, chatID domain.ChatID, id domain.MessageID, editor domain.UserID, content string) (domain.Message, error) {
	if content == "" {
		return domain.Message{}, fmt.Errorf("%w: empty content", domain.ErrInvalidArgument)
	}
	if int64(len(content)) > s.cfg.MaxContentBytes {
		return domain.Message{}, fmt.Errorf("content %d bytes: %w", len(content), domain.ErrTooLarge)
	}
	chat, err := s.chats.Get(ctx, chatID)
	if err != nil {
		return domain.Message{}, err
	}
	current, err := s.messages.Get(ctx, chatID, id)
	if err != nil {
		return domain.Message{}, err
	}
	if current.SenderID != editor {
		return domain.Message{}, fmt.Errorf("%w: only the sender may edit", domain.ErrPermissionDenied)
	}
	if current.Status == domain.StatusDeleted {
		return domain.Message{}, fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
	}

	// The replacement content is sealed like any fresh send.
	env, desc, err := s.encrypt(ctx, &chat, editor, []byte(content))
	if err != nil {
		return domain.Message{}, err
	}
	now := s.now()
	sum := sha256.Sum256([]byte(content))

	updated, err := s.messages.Update(ctx, chatID, id, func(m *domain.Message) error {
		m.Content = cipherContent(env)
		m.Encryption = desc
		m.EditHistory = append(m.EditHistory, domain.EditRecord{
			EditedAt:    now,
			ContentHash: hex.EncodeToString(sum[:]),
		})
		m.LastEditedAt = &now
		return nil
	})
	if err != nil {
		return domain.Message{}, err
	}

	if err := s.indexer.Update(ctx, id, content); err != nil {
		s.log.Warn("re-index after edit failed",
			zap.String("message", id.String()), zap.Error(err))
	}
	s.pub.Publish(ctx, s.event(domain.EventMessageEdited, chatID, editor, map[string]any{
		"message_id": id.String(),
		"content":    content,
	}))
	return updated, nil
}

// DeleteMessage soft-deletes and removes the message from the index before
// any later search can observe it.
func (s *Service) DeleteMessage(ctx context.Context, chatID domain.ChatID, id domain.MessageID, requester domain.UserID) error {
	if _, err := s.messages.Delete(ctx, chatID, id, requester); err != nil {
		return err
	}
	if err := s.indexer.Remove(ctx, id); err != nil {
		return err
	}
	s.pub.Publish(ctx, s.event(domain.EventMessageDeleted, chatID, requester, map[string]any{
		"message_id": id.String(),
	}))
	return nil
}

// AddReaction records one user's emoji on a message, once.
func (s *Service) AddReaction(ctx context.Context, chatID domain.ChatID, id domain.MessageID, uid domain.UserID, emoji string) error {
	if emoji == "" {
		return fmt.Errorf("%w: empty emoji", domain.ErrInvalidArgument)
	}
	if err := s.requireParticipant(ctx, chatID, uid); err != nil {
		return err
	}
	now := s.now()
	_, err := s.messages.Update(ctx, chatID, id, func(m *domain.Message) error {
		for _, r := range m.Reactions {
			if r.UserID == uid && r.Emoji == emoji {
				return nil // already reacted
			}
		}
		m.Reactions = append(m.Reactions, domain.Reaction{UserID: uid, Emoji: emoji, CreatedAt: now})
		return nil
	})
	if err != nil {
		return err
	}
	s.pub.Publish(ctx, s.event(domain.EventMessageEdited, chatID, uid, map[string]any{
		"message_id":     id.String(),
		"reaction_added": emoji,
	}))
	return nil
}

// RemoveReaction removes one user's emoji from a message.
func (s *Service) RemoveReaction(ctx context.Context, chatID domain.ChatID, id domain.MessageID, uid domain.UserID, emoji string) error {
	_, err := s.messages.Update(ctx, chatID, id, func(m *domain.Message) error {
		for i, r := range m.Reactions {
			if r.UserID == uid && r.Emoji == emoji {
				m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.pub.Publish(ctx, s.event(domain.EventMessageEdited, chatID, uid, map[string]any{
		"message_id":       id.String(),
		"reaction_removed": emoji,
	}))
	return nil
}

// MarkRead records a read receipt, at most one per (user, device), and
// advances the delivery status.
func (s *Service) MarkRead(ctx context.Context, chatID domain.ChatID, id domain.MessageID, uid domain.UserID, device domain.DeviceID) error {
	if err := s.requireParticipant(ctx, chatID, uid); err != nil {
		return err
	}
	now := s.now()
	_, err := s.messages.Update(ctx, chatID, id, func(m *domain.Message) error {
		for _, r := range m.ReadReceipts {
			if r.UserID == uid && r.DeviceID == device {
				return nil // receipt already recorded
			}
		}
		m.ReadReceipts = append(m.ReadReceipts, domain.ReadReceipt{UserID: uid, DeviceID: device, ReadAt: now})
		// Walk the status DAG as far as it allows.
		if m.Status.CanTransition(domain.StatusDelivered) {
			m.Status = domain.StatusDelivered
		}
		if m.Status.CanTransition(domain.StatusRead) {
			m.Status = domain.StatusRead
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.pub.Publish(ctx, s.event(domain.EventMessageRead, chatID, uid, map[string]any{
		"message_id": id.String(),
		"device_id":  device.String(),
	}))
	return nil
}

// AddParticipant grows a group chat, advancing the MLS epoch.
func (s *Service) AddParticipant(ctx context.Context, chatID domain.ChatID, actor, uid domain.UserID) error {
	chat, err := s.chats.Get(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.Kind != domain.ChatGroup {
		return fmt.Errorf("%w: membership of a direct chat is fixed", domain.ErrInvalidArgument)
	}
	if !chat.HasParticipant(actor) {
		return fmt.Errorf("%w: %s is not a participant", domain.ErrPermissionDenied, actor)
	}
	if chat.HasParticipant(uid) {
		return nil
	}
	if len(chat.ParticipantIDs)+1 > s.cfg.GroupMemberLimit {
		return fmt.Errorf("group %s at %d members: %w", chatID, len(chat.ParticipantIDs), domain.ErrGroupFull)
	}
	if _, err := s.keys.RegisterIdentity(ctx, uid); err != nil {
		return err
	}

	mu := s.chatLock(chatID)
	mu.Lock()
	st, found, err := s.groups.Load(ctx, chatID)
	if err == nil && !found {
		err = fmt.Errorf("group state %s: %w", chatID, domain.ErrNotFound)
	}
	if err != nil {
		mu.Unlock()
		return err
	}
	kp, err := s.keyPackage(ctx, uid)
	if err != nil {
		mu.Unlock()
		return err
	}
	if _, _, err := mls.AddMember(&st, kp, s.now()); err != nil {
		mu.Unlock()
		return err
	}
	if err := s.groups.Save(ctx, st); err != nil {
		mu.Unlock()
		return err
	}
	mu.Unlock()

	if _, err := s.chats.Update(ctx, chatID, func(c *domain.Chat) error {
		c.ParticipantIDs = append(c.ParticipantIDs, uid)
		return nil
	}); err != nil {
		return err
	}
	s.pub.Publish(ctx, s.event(domain.EventParticipantAdded, chatID, actor, map[string]any{
		"user_id": uid.String(),
		"epoch":   st.Epoch,
	}))
	return nil
}

// RemoveParticipant shrinks a group chat, advancing the MLS epoch so the
// removed member cannot read future messages, and detaches their
// subscriptions.
func (s *Service) RemoveParticipant(ctx context.Context, chatID domain.ChatID, actor, uid domain.UserID) error {
	chat, err := s.chats.Get(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.Kind != domain.ChatGroup {
		return fmt.Errorf("%w: membership of a direct chat is fixed", domain.ErrInvalidArgument)
	}
	if !chat.HasParticipant(actor) {
		return fmt.Errorf("%w: %s is not a participant", domain.ErrPermissionDenied, actor)
	}
	if !chat.HasParticipant(uid) {
		return fmt.Errorf("participant %s: %w", uid, domain.ErrNotFound)
	}

	mu := s.chatLock(chatID)
	mu.Lock()
	st, found, err := s.groups.Load(ctx, chatID)
	if err == nil && !found {
		err = fmt.Errorf("group state %s: %w", chatID, domain.ErrNotFound)
	}
	if err != nil {
		mu.Unlock()
		return err
	}
	if _, err := mls.RemoveMemberByUser(&st, uid, s.now()); err != nil {
		mu.Unlock()
		return err
	}
	if err := s.groups.Save(ctx, st); err != nil {
		mu.Unlock()
		return err
	}
	mu.Unlock()

	if _, err := s.chats.Update(ctx, chatID, func(c *domain.Chat) error {
		for i, p := range c.ParticipantIDs {
			if p == uid {
				c.ParticipantIDs = append(c.ParticipantIDs[:i], c.ParticipantIDs[i+1:]...)
				break
			}
		}
		return nil
	}); err != nil {
		return err
	}
	if revoker, ok := s.pub.(subscriptionRevoker); ok {
		revoker.UnsubscribeUser(chatID, uid)
	}
	s.pub.Publish(ctx, s.event(domain.EventParticipantRemoved, chatID, actor, map[string]any{
		"user_id": uid.String(),
		"epoch":   st.Epoch,
	}))
	return nil
}

// SearchMessages runs a participant-scoped query against the index.
func (s *Service) SearchMessages(ctx context.Context, requester domain.UserID, q domain.SearchQuery) ([]domain.SearchResult, error) {
	if q.Filters.ChatID != "" {
		if err := s.requireParticipant(ctx, q.Filters.ChatID, requester); err != nil {
			return nil, err
		}
	}
	results, err := s.indexer.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	// Never leak hits from chats the requester cannot read.
	chats, err := s.chats.ListForUser(ctx, requester)
	if err != nil {
		return nil, err
	}
	readable := make(map[domain.ChatID]struct{}, len(chats))
	for _, c := range chats {
		readable[c.ID] = struct{}{}
	}
	filtered := results[:0]
	for _, r := range results {
		if _, ok := readable[r.ChatID]; ok {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// requireParticipant loads the chat and checks membership.
func (s *Service) requireParticipant(ctx context.Context, chatID domain.ChatID, uid domain.UserID) error {
	chat, err := s.chats.Get(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(uid) {
		return fmt.Errorf("%w: %s is not a participant", domain.ErrPermissionDenied, uid)
	}
	return nil
}
