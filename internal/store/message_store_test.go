package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sonet/internal/domain"
)

func appendN(t *testing.T, log *MessageLog, chatID domain.ChatID, n int) []domain.Message {
	t.Helper()
	out := make([]domain.Message, 0, n)
	for i := 0; i < n; i++ {
		m, err := log.Append(context.Background(), chatID, domain.Message{
			SenderID: "alice",
			Type:     domain.MessageText,
			Content:  fmt.Sprintf("m%d", i),
		})
		require.NoError(t, err)
		out = append(out, m)
	}
	return out
}

func TestMessageLog_AppendOrdering(t *testing.T) {
	log := NewMessageLog()
	msgs := appendN(t, log, "c1", 10)

	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt),
			"created_at must be monotonic per chat")
	}

	page, err := log.Page(context.Background(), "c1", "", 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 10)
	// Newest first: reversing yields append order.
	for i, m := range page.Messages {
		assert.Equal(t, msgs[len(msgs)-1-i].ID, m.ID)
	}
}

func TestMessageLog_PaginationIsConsistentPrefix(t *testing.T) {
	log := NewMessageLog()
	msgs := appendN(t, log, "c1", 25)

	var seen []domain.MessageID
	cursor := domain.MessageID("")
	for {
		page, err := log.Page(context.Background(), "c1", cursor, 10)
		require.NoError(t, err)
		for _, m := range page.Messages {
			seen = append(seen, m.ID)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = domain.MessageID(page.NextCursor)
	}

	require.Len(t, seen, 25)
	for i, id := range seen {
		assert.Equal(t, msgs[len(msgs)-1-i].ID, id)
	}
}

func TestMessageLog_StatusDAG(t *testing.T) {
	log := NewMessageLog()
	ctx := context.Background()
	m := appendN(t, log, "c1", 1)[0]
	require.Equal(t, domain.StatusPending, m.Status)

	set := func(st domain.MessageStatus) error {
		_, err := log.Update(ctx, "c1", m.ID, func(msg *domain.Message) error {
			msg.Status = st
			return nil
		})
		return err
	}

	require.NoError(t, set(domain.StatusSent))
	require.NoError(t, set(domain.StatusDelivered))

	// Backwards moves are rejected.
	err := set(domain.StatusSent)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	// pending→failed only from pending.
	err = set(domain.StatusFailed)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	require.NoError(t, set(domain.StatusRead))
	// Any state may be deleted.
	require.NoError(t, set(domain.StatusDeleted))
}

func TestMessageLog_SoftDelete(t *testing.T) {
	log := NewMessageLog()
	ctx := context.Background()
	m := appendN(t, log, "c1", 1)[0]

	_, err := log.Delete(ctx, "c1", m.ID, "mallory")
	require.ErrorIs(t, err, domain.ErrPermissionDenied)

	del, err := log.Delete(ctx, "c1", m.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeleted, del.Status)
	assert.Empty(t, del.Content)

	// Envelope retained.
	got, err := log.Get(ctx, "c1", m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, domain.StatusDeleted, got.Status)
}

func TestMessageLog_UnknownChat(t *testing.T) {
	log := NewMessageLog()
	_, err := log.Page(context.Background(), "nope", "", 10)
	require.ErrorIs(t, err, domain.ErrChatNotFound)
}

func TestChatFileStore_CreateIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := NewChatFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	chat := domain.Chat{
		ID:             "c1",
		Kind:           domain.ChatDirect,
		ParticipantIDs: []domain.UserID{"alice", "bob"},
	}
	created, fresh, err := s.Create(ctx, chat)
	require.NoError(t, err)
	require.True(t, fresh)

	// Same participants in any order dedup to the first chat.
	again, fresh, err := s.Create(ctx, domain.Chat{
		ID:             "c2",
		Kind:           domain.ChatDirect,
		ParticipantIDs: []domain.UserID{"bob", "alice"},
	})
	require.NoError(t, err)
	assert.False(t, fresh)
	assert.Equal(t, created.ID, again.ID)

	// Snapshot survives a reload.
	s2, err := NewChatFileStore(dir)
	require.NoError(t, err)
	got, err := s2.Get(ctx, "c1")
	require.NoError(t, err)
	assert.ElementsMatch(t, chat.ParticipantIDs, got.ParticipantIDs)
}

func TestRatchetFileStore_SealedRoundTrip(t *testing.T) {
	s := NewRatchetFileStore(t.TempDir(), "passphrase")
	ctx := context.Background()

	conv := domain.Conversation{
		ChatID: "c1",
		UserID: "alice",
		Peer:   "bob",
		State: domain.RatchetState{
			RootKey:          []byte("0123456789abcdef0123456789abcdef"),
			SendMessageIndex: 7,
			SkippedKeys:      map[string][]byte{"k": []byte("v")},
			LastRatchetAt:    time.Now().UTC(),
		},
	}
	require.NoError(t, s.Save(ctx, conv))

	got, ok, err := s.Load(ctx, "c1", "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, conv.State.RootKey, got.State.RootKey)
	assert.Equal(t, uint32(7), got.State.SendMessageIndex)

	// Wrong passphrase cannot read the state.
	bad := NewRatchetFileStore(s.dir, "wrong")
	_, _, err = bad.Load(ctx, "c1", "alice")
	require.ErrorIs(t, err, domain.ErrAuthFail)

	require.NoError(t, s.Delete(ctx, "c1", "alice"))
	_, ok, err = s.Load(ctx, "c1", "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionKeys_ExpiryAndExhaustion(t *testing.T) {
	s := NewSessionKeys()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Put(ctx, domain.SessionKey{
		SessionID:   "s1",
		ChatID:      "c1",
		UserID:      "alice",
		Algorithm:   "ChaCha20-Poly1305",
		Key:         make([]byte, 32),
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
		MaxMessages: 2,
	}))

	k, ok, err := s.Active(ctx, "c1", "alice")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.IncrementUse(ctx, k.SessionID))
	require.NoError(t, s.IncrementUse(ctx, k.SessionID))

	// Exhausted: no longer active for encryption...
	_, ok, err = s.Active(ctx, "c1", "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	// ...but still available for decryption until evicted.
	_, ok, err = s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Evict(ctx, "s1"))
	_, ok, err = s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}
