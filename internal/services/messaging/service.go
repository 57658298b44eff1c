package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sonet/internal/crypto"
	"sonet/internal/domain"
	"sonet/internal/metrics"
)

// Config bounds the service's inputs and advertised capabilities.
type Config struct {
	MaxContentBytes int64
	// GroupMemberLimit is the advertised practical cap; never above the
	// protocol's hard limit.
	GroupMemberLimit int
	SemanticSearch   bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxContentBytes:  10 << 20,
		GroupMemberLimit: domain.MaxGroupMembers,
		SemanticSearch:   true,
	}
}

// TypingSink receives validated typing updates; the hub implements it.
type TypingSink interface {
	SetTyping(chatID domain.ChatID, uid domain.UserID, device domain.DeviceID, activity domain.TypingActivity, typing bool)
}

// subscriptionRevoker detaches a removed participant's connections.
type subscriptionRevoker interface {
	UnsubscribeUser(chatID domain.ChatID, uid domain.UserID)
}

// Service implements domain.Messaging.
type Service struct {
	cfg Config
	log *zap.Logger
	met *metrics.Registry

	chats    domain.ChatStore
	messages domain.MessageStore
	ratchets domain.RatchetStore
	groups   domain.GroupStore
	keys     domain.Keys
	indexer  domain.Indexer
	pub      domain.Publisher
	typing   TypingSink

	// one crypto mutex per chat; never held across hub or indexer calls
	locksMu sync.Mutex
	locks   map[domain.ChatID]*sync.Mutex

	now func() time.Time
}

// New constructs the service. typing may be nil in non-realtime tests.
func New(
	cfg Config,
	chats domain.ChatStore,
	messages domain.MessageStore,
	ratchets domain.RatchetStore,
	groups domain.GroupStore,
	keySvc domain.Keys,
	indexer domain.Indexer,
	pub domain.Publisher,
	typing TypingSink,
	logger *zap.Logger,
	met *metrics.Registry,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if met == nil {
		met = metrics.New("test")
	}
	if cfg.MaxContentBytes <= 0 {
		cfg.MaxContentBytes = 10 << 20
	}
	if cfg.GroupMemberLimit <= 0 || cfg.GroupMemberLimit > domain.MaxGroupMembers {
		cfg.GroupMemberLimit = domain.MaxGroupMembers
	}
	return &Service{
		cfg:      cfg,
		log:      logger.Named("messaging"),
		met:      met,
		chats:    chats,
		messages: messages,
		ratchets: ratchets,
		groups:   groups,
		keys:     keySvc,
		indexer:  indexer,
		pub:      pub,
		typing:   typing,
		locks:    make(map[domain.ChatID]*sync.Mutex),
		now:      time.Now,
	}
}

// chatLock returns the mutex guarding one chat's crypto state.
func (s *Service) chatLock(id domain.ChatID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu := s.locks[id]
	if mu == nil {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	return mu
}

// Capabilities reports the negotiated limits to clients.
func (s *Service) Capabilities() domain.ServerCapabilities {
	return domain.ServerCapabilities{
		MaxGroupMembers: s.cfg.GroupMemberLimit,
		MaxContentBytes: s.cfg.MaxContentBytes,
		Algorithms:      crypto.Algorithms(),
		SemanticSearch:  s.cfg.SemanticSearch,
	}
}

// SendMessage validates, encrypts, stores, indexes and fans out one
// message.
func (s *Service) SendMessage(ctx context.Context, req domain.SendMessageRequest) (domain.Message, error) {
	started := s.now()

	if req.ChatID == "" || req.SenderID == "" || req.Content == "" {
		return domain.Message{}, fmt.Errorf("%w: chat_id, sender_id and content are required", domain.ErrInvalidArgument)
	}
	if int64(len(req.Content)) > s.cfg.MaxContentBytes {
		return domain.Message{}, fmt.Errorf("content %d bytes: %w", len(req.Content), domain.ErrTooLarge)
	}
	chat, err := s.chats.Get(ctx, req.ChatID)
	if err != nil {
		return domain.Message{}, err
	}
	if !chat.HasParticipant(req.SenderID) {
		return domain.Message{}, fmt.Errorf("%w: %s is not a participant of %s", domain.ErrPermissionDenied, req.SenderID, req.ChatID)
	}
	if req.ReplyToMessageID != "" {
		if _, err := s.messages.Get(ctx, req.ChatID, req.ReplyToMessageID); err != nil {
			return domain.Message{}, fmt.Errorf("reply target: %w", err)
		}
	}
	msgType := req.Type
	if msgType == "" {
		msgType = domain.MessageText
	}

	// Encrypt for the recipient set under the chat's crypto lock.
	env, desc, err := s.encrypt(ctx, &chat, req.SenderID, []byte(req.Content))
	if err != nil {
		return domain.Message{}, err
	}

	msg := domain.Message{
		ID:               domain.MessageID(uuid.NewString()),
		SenderID:         req.SenderID,
		Type:             msgType,
		Status:           domain.StatusSent,
		Priority:         domain.PriorityNormal,
		Content:          cipherContent(env),
		Encryption:       desc,
		ReplyToMessageID: req.ReplyToMessageID,
		ThreadID:         req.ThreadID,
	}
	stored, err := s.messages.Append(ctx, req.ChatID, msg)
	if err != nil {
		return domain.Message{}, err
	}

	// The server mediates delivery, so the plaintext is indexable here.
	if err := s.indexer.Index(ctx, domain.IndexDoc{
		MessageID:      stored.ID,
		ChatID:         stored.ChatID,
		UserID:         stored.SenderID,
		Content:        req.Content,
		Type:           stored.Type,
		ThreadID:       stored.ThreadID,
		Timestamp:      stored.CreatedAt,
		HasAttachments: len(stored.Attachments) > 0,
	}); err != nil {
		s.log.Warn("index enqueue failed", zap.String("message", stored.ID.String()), zap.Error(err))
	}

	s.fanOut(ctx, &chat, &stored, req.Content, env)

	s.met.MessagesSent.Inc()
	s.met.SendLatency.Observe(s.now().Sub(started).Seconds())
	return stored, nil
}

// fanOut advances recipient ratchets and publishes the NEW_MESSAGE event.
func (s *Service) fanOut(ctx context.Context, chat *domain.Chat, msg *domain.Message, plaintext string, env domain.EncryptedEnvelope) {
	if chat.Kind == domain.ChatDirect {
		for _, uid := range chat.ParticipantIDs {
			if uid == msg.SenderID {
				continue
			}
			if _, err := s.decryptDirect(ctx, chat.ID, uid, msg.SenderID, env); err != nil {
				s.met.DecryptFailures.Inc()
				s.log.Warn("recipient decrypt failed",
					zap.String("chat", chat.ID.String()),
					zap.String("recipient", uid.String()),
					zap.Uint32("n", env.Header.MessageIndex))
				failed := s.event(domain.EventMessageDelivered, chat.ID, msg.SenderID, map[string]any{
					"message_id": msg.ID.String(),
					"status":     string(domain.StatusFailed),
					"reason":     "decrypt failed",
				})
				failed.TargetUserID = uid
				s.pub.Publish(ctx, failed)
				continue
			}
		}
	}

	ev := s.event(domain.EventNewMessage, chat.ID, msg.SenderID, map[string]any{
		"message_id": msg.ID.String(),
		"type":       string(msg.Type),
		"content":    plaintext,
		"created_at": msg.CreatedAt.UnixMilli(),
	})
	if msg.ThreadID != "" {
		ev.Data["thread_id"] = msg.ThreadID
	}
	if msg.ReplyToMessageID != "" {
		ev.Data["reply_to_message_id"] = msg.ReplyToMessageID.String()
	}
	s.pub.Publish(ctx, ev)
}

// GetMessages pages a chat's log for a participant.
func (s *Service) GetMessages(ctx context.Context, requester domain.UserID, chatID domain.ChatID, cursor domain.MessageID, limit int) (domain.MessagePage, error) {
	chat, err := s.chats.Get(ctx, chatID)
	if err != nil {
		return domain.MessagePage{}, err
	}
	if !chat.HasParticipant(requester) {
		return domain.MessagePage{}, fmt.Errorf("%w: %s is not a participant", domain.ErrPermissionDenied, requester)
	}
	return s.messages.Page(ctx, chatID, cursor, limit)
}

// CreateChat validates the participant set, creates the chat idempotently
// and initialises its crypto state.
func (s *Service) CreateChat(ctx context.Context, req domain.CreateChatRequest) (domain.Chat, error) {
	participants := dedupUsers(req.ParticipantIDs)
	if req.CreatorID != "" && !containsUser(participants, req.CreatorID) {
		participants = append(participants, req.CreatorID)
	}

	switch req.Kind {
	case domain.ChatDirect:
		if len(participants) != 2 {
			return domain.Chat{}, fmt.Errorf("%w: direct chat needs exactly two participants", domain.ErrInvalidArgument)
		}
	case domain.ChatGroup:
		if len(participants) < domain.MinChatParticipants {
			return domain.Chat{}, fmt.Errorf("%w: group needs at least %d participants", domain.ErrInvalidArgument, domain.MinChatParticipants)
		}
		if len(participants) > s.cfg.GroupMemberLimit {
			return domain.Chat{}, fmt.Errorf("%d participants: %w", len(participants), domain.ErrGroupFull)
		}
	default:
		return domain.Chat{}, fmt.Errorf("%w: unknown chat kind %q", domain.ErrInvalidArgument, req.Kind)
	}

	chat := domain.Chat{
		ID:             domain.ChatID(uuid.NewString()),
		Kind:           req.Kind,
		Name:           req.Name,
		ParticipantIDs: participants,
	}
	created, fresh, err := s.chats.Create(ctx, chat)
	if err != nil {
		return domain.Chat{}, err
	}
	if !fresh {
		return created, nil
	}

	// Every participant needs an identity before any ratchet can seed.
	for _, uid := range participants {
		if _, err := s.keys.RegisterIdentity(ctx, uid); err != nil {
			return domain.Chat{}, fmt.Errorf("register identity %s: %w", uid, err)
		}
	}
	if created.Kind == domain.ChatGroup {
		if err := s.initGroup(ctx, &created, req.CreatorID); err != nil {
			return domain.Chat{}, err
		}
	}

	s.pub.Publish(ctx, s.event(domain.EventChatCreated, created.ID, req.CreatorID, map[string]any{
		"kind":         string(created.Kind),
		"name":         created.Name,
		"participants": userStrings(created.ParticipantIDs),
	}))
	return created, nil
}

// GetChats lists the caller's chats.
func (s *Service) GetChats(ctx context.Context, requester domain.UserID) ([]domain.Chat, error) {
	if requester == "" {
		return nil, fmt.Errorf("%w: empty requester", domain.ErrInvalidArgument)
	}
	return s.chats.ListForUser(ctx, requester)
}

// SetTyping validates the participant and forwards to the hub. Repeated
// true updates refresh the indicator rather than duplicating it.
func (s *Service) SetTyping(ctx context.Context, chatID domain.ChatID, uid domain.UserID, typing bool) error {
	chat, err := s.chats.Get(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(uid) {
		return fmt.Errorf("%w: %s is not a participant", domain.ErrPermissionDenied, uid)
	}
	if s.typing != nil {
		s.typing.SetTyping(chatID, uid, "", domain.ActivityTyping, typing)
	}
	return nil
}

// event stamps a wire envelope.
func (s *Service) event(t domain.EventType, chatID domain.ChatID, uid domain.UserID, data map[string]any) domain.Event {
	return domain.Event{
		EventID:   uuid.NewString(),
		Type:      t,
		ChatID:    chatID,
		UserID:    uid,
		Data:      data,
		Timestamp: s.now().UnixMilli(),
	}
}

// --- small helpers ---

func dedupUsers(ids []domain.UserID) []domain.UserID {
	seen := make(map[domain.UserID]struct{}, len(ids))
	out := make([]domain.UserID, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func containsUser(ids []domain.UserID, uid domain.UserID) bool {
	for _, id := range ids {
		if id == uid {
			return true
		}
	}
	return false
}

func userStrings(ids []domain.UserID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

var _ domain.Messaging = (*Service)(nil)
