package hub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/alitto/pond"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sonet/internal/domain"
	"sonet/internal/metrics"
)

// Config tunes connection lifecycle, fan-out and typing behavior.
type Config struct {
	AuthTimeout         time.Duration
	PingInterval        time.Duration
	PongTimeout         time.Duration
	WriteTimeout        time.Duration
	SendQueueSize       int
	MaxFrameBytes       int64
	MessageRateLimit    int // messages per minute
	BanAfterViolations  int
	TypingTimeout       time.Duration
	TypingFlushInterval time.Duration
	FanoutWorkers       int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		AuthTimeout:         15 * time.Second,
		PingInterval:        30 * time.Second,
		PongTimeout:         75 * time.Second,
		WriteTimeout:        10 * time.Second,
		SendQueueSize:       256,
		MaxFrameBytes:       1 << 20,
		MessageRateLimit:    60,
		BanAfterViolations:  1000,
		TypingTimeout:       6 * time.Second,
		TypingFlushInterval: time.Second,
	}
}

// Handlers are the orchestrator callbacks for inbound stream frames.
type Handlers struct {
	SendMessage func(ctx context.Context, req domain.SendMessageRequest) (domain.Message, error)
	ReadReceipt func(ctx context.Context, chatID domain.ChatID, id domain.MessageID, uid domain.UserID, device domain.DeviceID) error
}

// Hub owns the connections table, subscriptions and typing state.
type Hub struct {
	cfg      Config
	log      *zap.Logger
	met      *metrics.Registry
	auth     domain.AuthFunc
	chats    domain.ChatResolver
	notifier domain.Notifier
	handlers Handlers

	mu     sync.RWMutex
	conns  map[domain.ConnectionID]*Conn
	byUser map[domain.UserID]map[domain.ConnectionID]*Conn
	subs   map[domain.ChatID]map[domain.ConnectionID]*Conn

	typingMu sync.Mutex
	typing   map[domain.ChatID]*typingState

	pool     *pond.WorkerPool
	upgrader websocket.Upgrader
	stop     chan struct{}
	done     chan struct{}
	now      func() time.Time
}

// New builds a hub. Call Start to launch background maintenance and
// Shutdown to drain.
func New(
	cfg Config,
	auth domain.AuthFunc,
	chats domain.ChatResolver,
	notifier domain.Notifier,
	logger *zap.Logger,
	met *metrics.Registry,
) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if met == nil {
		met = metrics.New("test")
	}
	workers := cfg.FanoutWorkers
	if workers <= 0 {
		workers = 4
	}
	h := &Hub{
		cfg:      cfg,
		log:      logger.Named("hub"),
		met:      met,
		auth:     auth,
		chats:    chats,
		notifier: notifier,
		conns:    make(map[domain.ConnectionID]*Conn),
		byUser:   make(map[domain.UserID]map[domain.ConnectionID]*Conn),
		subs:     make(map[domain.ChatID]map[domain.ConnectionID]*Conn),
		typing:   make(map[domain.ChatID]*typingState),
		pool:     pond.New(workers, 1024),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true }, // TLS terminates upstream
	}
	return h
}

// SetHandlers wires the orchestrator callbacks; must be called before
// serving traffic.
func (h *Hub) SetHandlers(hs Handlers) { h.handlers = hs }

// Start launches the typing flusher.
func (h *Hub) Start() {
	go h.typingLoop()
}

// Shutdown closes every connection and stops background work.
func (h *Hub) Shutdown(ctx context.Context) {
	close(h.stop)
	select {
	case <-h.done:
	case <-ctx.Done():
	}

	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.close(domain.ConnDisconnected, "server shutdown")
	}
	h.pool.StopAndWait()
}

// ServeHTTP upgrades the request and runs the connection's pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("upgrade failed", zap.Error(err))
		return
	}
	c := newConn(h, ws)
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	h.met.ActiveConnections.Inc()

	go c.writePump()
	go c.readPump()
}

// --- registry ---

// bindUser indexes an authenticated connection under its user.
func (h *Hub) bindUser(c *Conn, uid domain.UserID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.byUser[uid]
	if m == nil {
		m = make(map[domain.ConnectionID]*Conn)
		h.byUser[uid] = m
	}
	m[c.id] = c
}

// drop removes a connection from every index. Called once per connection
// from its close path.
func (h *Hub) drop(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	if uid := c.userID(); uid != "" {
		if m := h.byUser[uid]; m != nil {
			delete(m, c.id)
			if len(m) == 0 {
				delete(h.byUser, uid)
			}
		}
	}
	for chatID := range c.subscriptions() {
		if m := h.subs[chatID]; m != nil {
			delete(m, c.id)
			if len(m) == 0 {
				delete(h.subs, chatID)
			}
		}
	}
	h.mu.Unlock()
	h.met.ActiveConnections.Dec()
}

// subscribe adds the connection to a chat's subscriber set after checking
// the user participates.
func (h *Hub) subscribe(ctx context.Context, c *Conn, chatID domain.ChatID) error {
	chat, err := h.chats.Get(ctx, chatID)
	if err != nil {
		return err
	}
	uid := c.userID()
	if !chat.HasParticipant(uid) {
		return domain.ErrPermissionDenied
	}

	h.mu.Lock()
	m := h.subs[chatID]
	if m == nil {
		m = make(map[domain.ConnectionID]*Conn)
		h.subs[chatID] = m
	}
	m[c.id] = c
	h.mu.Unlock()
	c.addSubscription(chatID)
	return nil
}

// unsubscribe removes the connection from a chat's subscriber set.
func (h *Hub) unsubscribe(c *Conn, chatID domain.ChatID) {
	h.mu.Lock()
	if m := h.subs[chatID]; m != nil {
		delete(m, c.id)
		if len(m) == 0 {
			delete(h.subs, chatID)
		}
	}
	h.mu.Unlock()
	c.removeSubscription(chatID)
}

// UnsubscribeUser detaches every connection of uid from chatID; used when a
// participant is removed.
func (h *Hub) UnsubscribeUser(chatID domain.ChatID, uid domain.UserID) {
	h.mu.RLock()
	var targets []*Conn
	for _, c := range h.byUser[uid] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		h.unsubscribe(c, chatID)
	}
}

// ConnectionsFor returns snapshots of uid's live connections.
func (h *Hub) ConnectionsFor(uid domain.UserID) []domain.ConnectionInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.ConnectionInfo, 0, len(h.byUser[uid]))
	for _, c := range h.byUser[uid] {
		out = append(out, c.info())
	}
	return out
}

// --- fan-out ---

// Publish resolves recipients and enqueues the event on each of their
// connections, in caller order. For a single (chat, connection) pair events
// are therefore delivered in publish order.
func (h *Hub) Publish(ctx context.Context, ev domain.Event) {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = h.now().UnixMilli()
	}

	targets, offline := h.resolve(ctx, &ev)
	for _, c := range targets {
		h.deliver(c, ev)
	}

	// Offline recipients of message events go to the push notifier.
	if h.notifier != nil && ev.Type == domain.EventNewMessage {
		for _, uid := range offline {
			uid := uid
			h.pool.Submit(func() {
				nctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := h.notifier.Notify(nctx, uid, "New message"); err != nil {
					h.log.Debug("push notify failed", zap.String("user", uid.String()), zap.Error(err))
					return
				}
				h.met.PushNotified.Inc()
			})
		}
	}
}

// resolve returns the target connections for an event, plus participant
// user ids with no live connection.
func (h *Hub) resolve(ctx context.Context, ev *domain.Event) (targets []*Conn, offline []domain.UserID) {
	if ev.TargetUserID != "" {
		h.mu.RLock()
		for _, c := range h.byUser[ev.TargetUserID] {
			targets = append(targets, c)
		}
		h.mu.RUnlock()
		if len(targets) == 0 {
			offline = append(offline, ev.TargetUserID)
		}
		return targets, offline
	}
	if ev.ChatID == "" {
		return nil, nil
	}

	chat, err := h.chats.Get(ctx, ev.ChatID)
	if err != nil {
		h.log.Warn("publish to unknown chat", zap.String("chat", ev.ChatID.String()))
		return nil, nil
	}

	// Chat-keyed events go to every live connection of every participant;
	// the subscriber set only narrows the typing-coalescing path
	// (publishToSubscribers).
	h.mu.RLock()
	for _, uid := range chat.ParticipantIDs {
		conns := h.byUser[uid]
		if len(conns) == 0 {
			offline = append(offline, uid)
			continue
		}
		for _, c := range conns {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	return targets, offline
}

// deliver enqueues ev on one connection, applying the backpressure policy.
func (h *Hub) deliver(c *Conn, ev domain.Event) {
	if c.enqueue(ev) {
		h.met.EventsFanned.WithLabelValues(string(ev.Type)).Inc()
		return
	}
	if ev.Droppable() {
		h.met.EventsDropped.WithLabelValues(string(ev.Type)).Inc()
		return
	}
	// Message events are never silently dropped: the slow consumer is
	// closed and re-syncs from the store on reconnect.
	h.met.SlowConsumerCloses.Inc()
	h.log.Warn("closing slow consumer",
		zap.String("conn", c.id.String()),
		zap.String("user", c.userID().String()))
	c.close(domain.ConnDisconnected, "send queue overflow")
}

// NewEvent builds a wire envelope with id and timestamp filled in.
func NewEvent(t domain.EventType, chatID domain.ChatID, uid domain.UserID, data map[string]any) domain.Event {
	return domain.Event{
		EventID:   uuid.NewString(),
		Type:      t,
		ChatID:    chatID,
		UserID:    uid,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
}

var _ domain.Publisher = (*Hub)(nil)
