package messaging_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sonet/internal/crypto"
	"sonet/internal/domain"
	"sonet/internal/index"
	"sonet/internal/services/keys"
	"sonet/internal/services/messaging"
	"sonet/internal/store"
)

// --- in-memory fakes for the sealed file stores ---

type memPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *memPublisher) Publish(ctx context.Context, ev domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *memPublisher) byType(t domain.EventType) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type memRatchets struct {
	mu sync.Mutex
	m  map[string]domain.Conversation
}

func newMemRatchets() *memRatchets { return &memRatchets{m: make(map[string]domain.Conversation)} }

func rkey(chatID domain.ChatID, uid domain.UserID) string {
	return chatID.String() + "|" + uid.String()
}

func (s *memRatchets) Load(ctx context.Context, chatID domain.ChatID, uid domain.UserID) (domain.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.m[rkey(chatID, uid)]
	return c, ok, nil
}

func (s *memRatchets) Save(ctx context.Context, conv domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[rkey(conv.ChatID, conv.UserID)] = conv
	return nil
}

func (s *memRatchets) Delete(ctx context.Context, chatID domain.ChatID, uid domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, rkey(chatID, uid))
	return nil
}

type memGroups struct {
	mu sync.Mutex
	m  map[domain.ChatID]domain.GroupState
}

func newMemGroups() *memGroups { return &memGroups{m: make(map[domain.ChatID]domain.GroupState)} }

func (s *memGroups) Load(ctx context.Context, id domain.ChatID) (domain.GroupState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.m[id]
	return st, ok, nil
}

func (s *memGroups) Save(ctx context.Context, st domain.GroupState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[st.GroupID] = st
	return nil
}

func (s *memGroups) Delete(ctx context.Context, id domain.ChatID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
	return nil
}

type memIdentities struct {
	mu sync.Mutex
	m  map[domain.UserID]domain.Identity
}

func newMemIdentities() *memIdentities { return &memIdentities{m: make(map[domain.UserID]domain.Identity)} }

func (s *memIdentities) Save(ctx context.Context, id domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[id.UserID] = id
	return nil
}

func (s *memIdentities) Load(ctx context.Context, uid domain.UserID) (domain.Identity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.m[uid]
	return id, ok, nil
}

func (s *memIdentities) LoadPublic(ctx context.Context, uid domain.UserID) (domain.PublicIdentity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.m[uid]
	return id.Public(), ok, nil
}

// --- fixture ---

type fixture struct {
	svc      *messaging.Service
	pub      *memPublisher
	ratchets *memRatchets
	groups   *memGroups
	idx      *index.Index
}

func newFixture(t *testing.T, cfg messaging.Config) *fixture {
	t.Helper()

	chats, err := store.NewChatFileStore(t.TempDir())
	require.NoError(t, err)

	idxCfg := index.DefaultConfig()
	idxCfg.BatchInterval = time.Hour // tests drive commits via Flush
	idx := index.New(idxCfg, nil, nil)
	idx.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		idx.Stop(ctx)
	})

	pub := &memPublisher{}
	ratchets := newMemRatchets()
	groups := newMemGroups()
	keySvc := keys.New(newMemIdentities(), store.NewSessionKeys())

	svc := messaging.New(cfg, chats, store.NewMessageLog(), ratchets, groups,
		keySvc, idx, pub, nil, nil, nil)
	return &fixture{svc: svc, pub: pub, ratchets: ratchets, groups: groups, idx: idx}
}

func createDirect(t *testing.T, f *fixture, a, b domain.UserID) domain.Chat {
	t.Helper()
	chat, err := f.svc.CreateChat(context.Background(), domain.CreateChatRequest{
		Kind:           domain.ChatDirect,
		CreatorID:      a,
		ParticipantIDs: []domain.UserID{a, b},
	})
	require.NoError(t, err)
	return chat
}

// --- tests ---

func TestSendMessage_DirectEncryptedDelivery(t *testing.T) {
	f := newFixture(t, messaging.DefaultConfig())
	ctx := context.Background()
	chat := createDirect(t, f, "alice", "bob")

	msg, err := f.svc.SendMessage(ctx, domain.SendMessageRequest{
		ChatID:   chat.ID,
		SenderID: "alice",
		Content:  "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, msg.Status)

	// Stored content is ciphertext, never the plaintext.
	assert.NotContains(t, msg.Content, "hello")
	require.NotNil(t, msg.Encryption)
	assert.True(t, msg.Encryption.Valid())
	assert.Equal(t, domain.LevelEndToEnd, msg.Encryption.Level)
	assert.NotEmpty(t, msg.Encryption.KeyID)
	assert.NotEmpty(t, msg.Encryption.SessionKeyFingerprint)

	// Exactly one message in the chat log.
	page, err := f.svc.GetMessages(ctx, "alice", chat.ID, "", 50)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)

	// Bob's stream event carries the decrypted content.
	events := f.pub.byType(domain.EventNewMessage)
	require.Len(t, events, 1)
	assert.Equal(t, "hello", events[0].Data["content"])
	assert.Equal(t, chat.ID, events[0].ChatID)

	// Bob's receiving chain advanced by one.
	conv, ok, err := f.ratchets.Load(ctx, chat.ID, "bob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(1), conv.State.ReceiveMessageIndex)
}

func TestSendMessage_MultipleMessagesAdvanceChains(t *testing.T) {
	f := newFixture(t, messaging.DefaultConfig())
	ctx := context.Background()
	chat := createDirect(t, f, "alice", "bob")

	for _, text := range []string{"m1", "m2", "m3"} {
		_, err := f.svc.SendMessage(ctx, domain.SendMessageRequest{
			ChatID: chat.ID, SenderID: "alice", Content: text,
		})
		require.NoError(t, err)
	}

	events := f.pub.byType(domain.EventNewMessage)
	require.Len(t, events, 3)
	assert.Equal(t, "m3", events[2].Data["content"])

	conv, ok, err := f.ratchets.Load(ctx, chat.ID, "bob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(3), conv.State.ReceiveMessageIndex)
	assert.Empty(t, conv.State.SkippedKeys)
}

func TestSendMessage_ValidationCodes(t *testing.T) {
	cfg := messaging.DefaultConfig()
	cfg.MaxContentBytes = 64
	f := newFixture(t, cfg)
	ctx := context.Background()
	chat := createDirect(t, f, "alice", "bob")

	cases := []struct {
		name string
		req  domain.SendMessageRequest
		code int
	}{
		{"missing fields", domain.SendMessageRequest{ChatID: chat.ID, SenderID: "alice"}, domain.CodeMissingFields},
		{"not participant", domain.SendMessageRequest{ChatID: chat.ID, SenderID: "mallory", Content: "x"}, domain.CodeNotParticipant},
		{"chat not found", domain.SendMessageRequest{ChatID: "nope", SenderID: "alice", Content: "x"}, domain.CodeChatNotFound},
		{"too large", domain.SendMessageRequest{ChatID: chat.ID, SenderID: "alice", Content: string(make([]byte, 65))}, domain.CodeTooLarge},
	}
	for _, tc := range cases {
		_, err := f.svc.SendMessage(ctx, tc.req)
		require.Error(t, err, tc.name)
		assert.Equal(t, tc.code, domain.StatusCode(err), tc.name)
	}
}

func TestCreateChat_IdempotentOnParticipants(t *testing.T) {
	f := newFixture(t, messaging.DefaultConfig())
	ctx := context.Background()

	first := createDirect(t, f, "alice", "bob")
	second, err := f.svc.CreateChat(ctx, domain.CreateChatRequest{
		Kind:           domain.ChatDirect,
		CreatorID:      "bob",
		ParticipantIDs: []domain.UserID{"bob", "alice"},
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Only one CHAT_CREATED event for the pair.
	assert.Len(t, f.pub.byType(domain.EventChatCreated), 1)
}

func TestCreateChat_ParticipantValidation(t *testing.T) {
	cfg := messaging.DefaultConfig()
	cfg.GroupMemberLimit = 5
	f := newFixture(t, cfg)
	ctx := context.Background()

	_, err := f.svc.CreateChat(ctx, domain.CreateChatRequest{
		Kind:           domain.ChatDirect,
		ParticipantIDs: []domain.UserID{"a", "b", "c"},
	})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = f.svc.CreateChat(ctx, domain.CreateChatRequest{
		Kind:           domain.ChatGroup,
		ParticipantIDs: []domain.UserID{"a"},
	})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = f.svc.CreateChat(ctx, domain.CreateChatRequest{
		Kind:           domain.ChatGroup,
		ParticipantIDs: []domain.UserID{"a", "b", "c", "d", "e", "f"},
	})
	require.ErrorIs(t, err, domain.ErrGroupFull)
	assert.Equal(t, domain.CodeGroupFull, domain.StatusCode(err))
}

func TestGroupChat_SendAndMembership(t *testing.T) {
	cfg := messaging.DefaultConfig()
	cfg.GroupMemberLimit = 4
	f := newFixture(t, cfg)
	ctx := context.Background()

	chat, err := f.svc.CreateChat(ctx, domain.CreateChatRequest{
		Kind:           domain.ChatGroup,
		CreatorID:      "u0",
		ParticipantIDs: []domain.UserID{"u0", "u1", "u2"},
		Name:           "team",
	})
	require.NoError(t, err)

	st, ok, err := f.groups.Load(ctx, chat.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, st.MemberCount())

	msg, err := f.svc.SendMessage(ctx, domain.SendMessageRequest{
		ChatID: chat.ID, SenderID: "u1", Content: "gm",
	})
	require.NoError(t, err)
	assert.NotContains(t, msg.Content, "gm")

	events := f.pub.byType(domain.EventNewMessage)
	require.Len(t, events, 1)
	assert.Equal(t, "gm", events[0].Data["content"])

	// Fourth member fits; fifth exceeds the advertised limit.
	require.NoError(t, f.svc.AddParticipant(ctx, chat.ID, "u0", "u3"))
	err = f.svc.AddParticipant(ctx, chat.ID, "u0", "u4")
	require.ErrorIs(t, err, domain.ErrGroupFull)

	st, _, _ = f.groups.Load(ctx, chat.ID)
	assert.Equal(t, 4, st.MemberCount(), "failed add must not change the group")

	// Removal advances the epoch and shrinks membership.
	epochBefore := st.Epoch
	require.NoError(t, f.svc.RemoveParticipant(ctx, chat.ID, "u0", "u2"))
	st, _, _ = f.groups.Load(ctx, chat.ID)
	assert.Equal(t, 3, st.MemberCount())
	assert.Greater(t, st.Epoch, epochBefore)
	require.Len(t, f.pub.byType(domain.EventParticipantRemoved), 1)
}

func TestEditDeleteAndSearch(t *testing.T) {
	f := newFixture(t, messaging.DefaultConfig())
	ctx := context.Background()
	chat := createDirect(t, f, "alice", "bob")

	var ids []domain.MessageID
	for _, text := range []string{"hello world", "goodbye", "hello there"} {
		m, err := f.svc.SendMessage(ctx, domain.SendMessageRequest{
			ChatID: chat.ID, SenderID: "alice", Content: text,
		})
		require.NoError(t, err)
		ids = append(ids, m.ID)
		time.Sleep(2 * time.Millisecond) // distinct timestamps for recency
	}
	f.idx.Flush(ctx)

	results, err := f.svc.SearchMessages(ctx, "alice", domain.SearchQuery{Query: "hello"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, ids[2], results[0].MessageID, "newest hello first")
	assert.Equal(t, ids[0], results[1].MessageID)
	for _, r := range results {
		assert.NotZero(t, r.Score)
	}

	// A non-participant sees nothing.
	none, err := f.svc.SearchMessages(ctx, "mallory", domain.SearchQuery{Query: "hello"})
	require.NoError(t, err)
	assert.Empty(t, none)

	// Deleting removes the hit before the next query.
	require.NoError(t, f.svc.DeleteMessage(ctx, chat.ID, ids[2], "alice"))
	results, err = f.svc.SearchMessages(ctx, "alice", domain.SearchQuery{Query: "hello"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ids[0], results[0].MessageID)

	// Edits re-index and append history.
	edited, err := f.svc.EditMessage(ctx, chat.ID, ids[1], "alice", "farewell note")
	require.NoError(t, err)
	require.Len(t, edited.EditHistory, 1)
	require.NotNil(t, edited.LastEditedAt)

	results, err = f.svc.SearchMessages(ctx, "alice", domain.SearchQuery{Query: "farewell"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ids[1], results[0].MessageID)
}

func TestMarkRead_DedupAndStatus(t *testing.T) {
	f := newFixture(t, messaging.DefaultConfig())
	ctx := context.Background()
	chat := createDirect(t, f, "alice", "bob")

	m, err := f.svc.SendMessage(ctx, domain.SendMessageRequest{
		ChatID: chat.ID, SenderID: "alice", Content: "read me",
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.MarkRead(ctx, chat.ID, m.ID, "bob", "phone"))
	require.NoError(t, f.svc.MarkRead(ctx, chat.ID, m.ID, "bob", "phone"))
	require.NoError(t, f.svc.MarkRead(ctx, chat.ID, m.ID, "bob", "laptop"))

	page, err := f.svc.GetMessages(ctx, "bob", chat.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	got := page.Messages[0]
	assert.Len(t, got.ReadReceipts, 2, "one receipt per (user, device)")
	assert.Equal(t, domain.StatusRead, got.Status)
}

func TestReactions(t *testing.T) {
	f := newFixture(t, messaging.DefaultConfig())
	ctx := context.Background()
	chat := createDirect(t, f, "alice", "bob")

	m, err := f.svc.SendMessage(ctx, domain.SendMessageRequest{
		ChatID: chat.ID, SenderID: "alice", Content: "react to me",
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.AddReaction(ctx, chat.ID, m.ID, "bob", "👍"))
	require.NoError(t, f.svc.AddReaction(ctx, chat.ID, m.ID, "bob", "👍")) // idempotent
	page, _ := f.svc.GetMessages(ctx, "bob", chat.ID, "", 10)
	require.Len(t, page.Messages[0].Reactions, 1)

	require.NoError(t, f.svc.RemoveReaction(ctx, chat.ID, m.ID, "bob", "👍"))
	page, _ = f.svc.GetMessages(ctx, "bob", chat.ID, "", 10)
	assert.Empty(t, page.Messages[0].Reactions)
}

func TestCapabilities(t *testing.T) {
	cfg := messaging.DefaultConfig()
	cfg.GroupMemberLimit = 300
	f := newFixture(t, cfg)

	caps := f.svc.Capabilities()
	assert.Equal(t, 300, caps.MaxGroupMembers)
	assert.Equal(t, int64(10<<20), caps.MaxContentBytes)
	assert.Contains(t, caps.Algorithms, crypto.AlgChaCha20Poly1305)
}
