package hub

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"sonet/internal/domain"
)

// Conn is one live websocket session.
type Conn struct {
	id  domain.ConnectionID
	hub *Hub
	ws  *websocket.Conn
	log *zap.Logger

	send      chan domain.Event
	done      chan struct{}
	closeOnce sync.Once

	limiter *rate.Limiter

	mu         sync.Mutex
	status     domain.ConnectionStatus
	uid        domain.UserID
	device     domain.DeviceID
	presence   domain.OnlineStatus
	subs       map[domain.ChatID]struct{}
	violations int

	msgsIn, msgsOut   atomic.Uint64
	bytesIn, bytesOut atomic.Uint64
}

func newConn(h *Hub, ws *websocket.Conn) *Conn {
	id := domain.ConnectionID(uuid.NewString())
	perSecond := rate.Limit(float64(h.cfg.MessageRateLimit) / 60.0)
	return &Conn{
		id:       id,
		hub:      h,
		ws:       ws,
		log:      h.log.With(zap.String("conn", id.String())),
		send:     make(chan domain.Event, h.cfg.SendQueueSize),
		done:     make(chan struct{}),
		limiter:  rate.NewLimiter(perSecond, h.cfg.MessageRateLimit),
		status:   domain.ConnConnected,
		presence: domain.Offline,
		subs:     make(map[domain.ChatID]struct{}),
	}
}

// --- state accessors ---

func (c *Conn) userID() domain.UserID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uid
}

func (c *Conn) currentStatus() domain.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Conn) subscriptions() map[domain.ChatID]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[domain.ChatID]struct{}, len(c.subs))
	for id := range c.subs {
		out[id] = struct{}{}
	}
	return out
}

func (c *Conn) addSubscription(id domain.ChatID) {
	c.mu.Lock()
	c.subs[id] = struct{}{}
	c.mu.Unlock()
}

func (c *Conn) removeSubscription(id domain.ChatID) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

func (c *Conn) info() domain.ConnectionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := make([]domain.ChatID, 0, len(c.subs))
	for id := range c.subs {
		subs = append(subs, id)
	}
	return domain.ConnectionInfo{
		ConnectionID: c.id,
		UserID:       c.uid,
		DeviceID:     c.device,
		Status:       c.status,
		Presence:     c.presence,
		MessagesIn:   c.msgsIn.Load(),
		MessagesOut:  c.msgsOut.Load(),
		BytesIn:      c.bytesIn.Load(),
		BytesOut:     c.bytesOut.Load(),
		Subscribed:   subs,
	}
}

// enqueue offers ev to the send queue without blocking.
func (c *Conn) enqueue(ev domain.Event) bool {
	select {
	case <-c.done:
		return true // closing; nothing to deliver, nothing to shed
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// flushAndClose gives the write pump a moment to drain queued frames (the
// final ERROR in particular) before tearing down.
func (c *Conn) flushAndClose(final domain.ConnectionStatus, reason string) {
	for i := 0; i < 50 && len(c.send) > 0; i++ {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	c.close(final, reason)
}

// close tears the connection down exactly once. Closing the socket cancels
// any in-flight read or write.
func (c *Conn) close(final domain.ConnectionStatus, reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.status = domain.ConnDisconnecting
		c.mu.Unlock()

		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason), deadline)
		_ = c.ws.Close()
		close(c.done)

		c.mu.Lock()
		c.status = final
		c.presence = domain.Offline
		c.mu.Unlock()
		c.hub.drop(c)
	})
}

// --- pumps ---

// readPump parses inbound frames and dispatches them. It owns the read
// side of the socket.
func (c *Conn) readPump() {
	defer c.close(domain.ConnDisconnected, "read loop exit")

	c.ws.SetReadLimit(c.hub.cfg.MaxFrameBytes)
	// Until authenticated the deadline doubles as the idle-eviction timer.
	_ = c.ws.SetReadDeadline(time.Now().Add(c.hub.cfg.AuthTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.hub.cfg.PongTimeout))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		c.msgsIn.Add(1)
		c.bytesIn.Add(uint64(len(raw)))

		var ev domain.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.sendError("malformed frame")
			continue
		}

		if c.currentStatus() != domain.ConnAuthenticated {
			if !c.handleAuth(&ev) {
				return
			}
			_ = c.ws.SetReadDeadline(time.Now().Add(c.hub.cfg.PongTimeout))
			continue
		}
		if !c.dispatch(&ev) {
			return
		}
	}
}

// writePump serialises outbound frames and keepalive pings. It owns the
// write side of the socket.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-c.send:
			if !c.writeEvent(ev) {
				c.close(domain.ConnDisconnected, "write failure")
				return
			}
			c.msgsOut.Add(1)
		case <-ticker.C:
			deadline := time.Now().Add(c.hub.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.close(domain.ConnDisconnecting, "ping failure")
				return
			}
		case <-c.done:
			return
		}
	}
}

// writeEvent writes one frame, retrying once on a transient error.
func (c *Conn) writeEvent(ev domain.Event) bool {
	raw, err := json.Marshal(ev)
	if err != nil {
		c.log.Error("marshal outbound event", zap.Error(err))
		return true // skip the frame, keep the connection
	}
	for attempt := 0; attempt < 2; attempt++ {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
		if err := c.ws.WriteMessage(websocket.TextMessage, raw); err == nil {
			c.bytesOut.Add(uint64(len(raw)))
			return true
		} else if websocket.IsUnexpectedCloseError(err) {
			return false
		}
	}
	return false
}

// --- inbound handling ---

// handleAuth processes the mandatory first frame.
func (c *Conn) handleAuth(ev *domain.Event) bool {
	if ev.Type != domain.EventAuth {
		c.sendError("expected AUTH frame")
		c.flushAndClose(domain.ConnFailed, "missing auth")
		return false
	}
	req := domain.AuthRequest{
		UserID:       domain.UserID(str(ev.Data, "user_id")),
		SessionToken: str(ev.Data, "session_token"),
		DeviceID:     domain.DeviceID(str(ev.Data, "device_id")),
		Platform:     str(ev.Data, "platform"),
		AppVersion:   str(ev.Data, "app_version"),
	}
	if req.UserID == "" || req.SessionToken == "" {
		c.sendError("missing credentials")
		c.flushAndClose(domain.ConnFailed, "missing credentials")
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.hub.cfg.AuthTimeout)
	ok := c.hub.auth(ctx, req.UserID, req.SessionToken)
	cancel()
	if !ok {
		c.hub.met.AuthFailures.Inc()
		c.sendError("authentication failed")
		c.flushAndClose(domain.ConnFailed, "authentication failed")
		return false
	}

	c.mu.Lock()
	c.status = domain.ConnAuthenticated
	c.uid = req.UserID
	c.device = req.DeviceID
	c.presence = domain.Online
	c.mu.Unlock()
	c.hub.bindUser(c, req.UserID)

	c.enqueue(NewEvent(domain.EventAuthOK, "", req.UserID, nil))
	// Presence fans to all of the user's connections, this one included; it
	// is droppable.
	presence := NewEvent(domain.EventOnlineStatusChanged, "", req.UserID,
		map[string]any{"online_status": string(domain.Online)})
	presence.TargetUserID = req.UserID
	c.hub.Publish(context.Background(), presence)
	return true
}

// dispatch routes one authenticated frame. Returning false closes the
// connection.
func (c *Conn) dispatch(ev *domain.Event) bool {
	ctx := context.Background()
	switch ev.Type {
	case domain.EventPing:
		c.enqueue(NewEvent(domain.EventPong, "", c.userID(), nil))

	case domain.EventSubscribe:
		chatID := domain.ChatID(str(ev.Data, "chat_id"))
		if chatID == "" {
			chatID = ev.ChatID
		}
		if err := c.hub.subscribe(ctx, c, chatID); err != nil {
			c.sendError("subscribe " + chatID.String() + ": " + err.Error())
		}

	case domain.EventUnsubscribe:
		chatID := domain.ChatID(str(ev.Data, "chat_id"))
		if chatID == "" {
			chatID = ev.ChatID
		}
		c.hub.unsubscribe(c, chatID)

	case domain.EventTyping, domain.EventTypingStarted, domain.EventTypingStopped:
		typing := ev.Type == domain.EventTypingStarted
		if ev.Type == domain.EventTyping {
			typing, _ = ev.Data["is_typing"].(bool)
		}
		activity := domain.TypingActivity(str(ev.Data, "activity"))
		if activity == "" {
			activity = domain.ActivityTyping
		}
		c.hub.SetTyping(ev.ChatID, c.userID(), c.device, activity, typing)

	case domain.EventReadReceipt, domain.EventMessageRead:
		if c.hub.handlers.ReadReceipt == nil {
			return true
		}
		id := domain.MessageID(str(ev.Data, "message_id"))
		if err := c.hub.handlers.ReadReceipt(ctx, ev.ChatID, id, c.userID(), c.device); err != nil {
			c.sendError("read receipt: " + err.Error())
		}

	case domain.EventNewMessage:
		return c.handleSend(ctx, ev)

	default:
		// One malformed frame is tolerated and reported; the client may
		// be newer than the server.
		c.sendError("unsupported frame type " + string(ev.Type))
	}
	return true
}

// handleSend applies the rate limit, then forwards to the orchestrator.
func (c *Conn) handleSend(ctx context.Context, ev *domain.Event) bool {
	if !c.limiter.Allow() {
		c.hub.met.RateLimited.Inc()
		c.mu.Lock()
		c.violations++
		banned := c.hub.cfg.BanAfterViolations > 0 && c.violations >= c.hub.cfg.BanAfterViolations
		c.mu.Unlock()
		if banned {
			c.hub.met.Bans.Inc()
			c.close(domain.ConnBanned, "rate limit violations")
			return false
		}
		c.enqueue(errorEvent(domain.CodeRateLimited, "rate limited"))
		return true
	}
	if c.hub.handlers.SendMessage == nil {
		c.sendError("sends not accepted on this stream")
		return true
	}

	req := domain.SendMessageRequest{
		ChatID:           ev.ChatID,
		SenderID:         c.userID(),
		Content:          str(ev.Data, "content"),
		Type:             domain.MessageType(str(ev.Data, "type")),
		ReplyToMessageID: domain.MessageID(str(ev.Data, "reply_to_message_id")),
		ThreadID:         str(ev.Data, "thread_id"),
	}
	if _, err := c.hub.handlers.SendMessage(ctx, req); err != nil {
		c.enqueue(errorEvent(domain.StatusCode(err), err.Error()))
	}
	return true
}

// sendError emits an ERROR envelope without closing the connection.
func (c *Conn) sendError(reason string) {
	c.enqueue(NewEvent(domain.EventError, "", "", map[string]any{"reason": reason}))
}

func errorEvent(code int, reason string) domain.Event {
	return NewEvent(domain.EventError, "", "", map[string]any{
		"code":   code,
		"reason": reason,
	})
}

// str pulls a string field out of an event payload.
func str(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	s, _ := data[key].(string)
	return s
}
