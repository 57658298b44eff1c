package hub

import (
	"time"

	"github.com/google/uuid"

	"sonet/internal/domain"
)

// typingState is the per-chat aggregation of transient activity
// indicators, deduplicated by user.
type typingState struct {
	indicators map[domain.UserID]*domain.TypingIndicator
	dirty      bool
	lastEmit   time.Time
}

// SetTyping records or clears a user's activity in a chat. Emission to
// subscribers is coalesced by the typing loop, at most once per flush
// interval per chat.
func (h *Hub) SetTyping(chatID domain.ChatID, uid domain.UserID, device domain.DeviceID, activity domain.TypingActivity, typing bool) {
	if chatID == "" || uid == "" {
		return
	}
	now := h.now()

	h.typingMu.Lock()
	defer h.typingMu.Unlock()

	st := h.typing[chatID]
	if st == nil {
		if !typing {
			return
		}
		st = &typingState{indicators: make(map[domain.UserID]*domain.TypingIndicator)}
		h.typing[chatID] = st
	}

	if !typing {
		if _, active := st.indicators[uid]; active {
			delete(st.indicators, uid)
			st.dirty = true
		}
		return
	}

	if ind := st.indicators[uid]; ind != nil {
		// Refreshing an active indicator is idempotent apart from its
		// lifetime; no re-emit needed unless the activity changed.
		if ind.Activity != activity {
			ind.Activity = activity
			st.dirty = true
		}
		ind.LastUpdate = now
		ind.ExpiresAt = now.Add(h.cfg.TypingTimeout)
		return
	}
	st.indicators[uid] = &domain.TypingIndicator{
		TypingID:   uuid.NewString(),
		UserID:     uid,
		ChatID:     chatID,
		Activity:   activity,
		DeviceID:   device,
		StartedAt:  now,
		LastUpdate: now,
		ExpiresAt:  now.Add(h.cfg.TypingTimeout),
	}
	st.dirty = true
}

// TypingIn returns the unexpired indicators for a chat.
func (h *Hub) TypingIn(chatID domain.ChatID) []domain.TypingIndicator {
	now := h.now()
	h.typingMu.Lock()
	defer h.typingMu.Unlock()

	st := h.typing[chatID]
	if st == nil {
		return nil
	}
	out := make([]domain.TypingIndicator, 0, len(st.indicators))
	for _, ind := range st.indicators {
		if !ind.Expired(now) {
			out = append(out, *ind)
		}
	}
	return out
}

// typingLoop expires stale indicators and emits coalesced per-chat state.
func (h *Hub) typingLoop() {
	defer close(h.done)
	interval := h.cfg.TypingFlushInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.flushTyping()
		case <-h.stop:
			return
		}
	}
}

// flushTyping runs one sweep: drop expired indicators, then publish one
// ChatTypingState per dirty chat.
func (h *Hub) flushTyping() {
	now := h.now()
	type emit struct {
		chatID domain.ChatID
		state  domain.ChatTypingState
	}
	var emits []emit

	h.typingMu.Lock()
	for chatID, st := range h.typing {
		for uid, ind := range st.indicators {
			if ind.Expired(now) {
				delete(st.indicators, uid)
				st.dirty = true
			}
		}
		if len(st.indicators) == 0 && !st.dirty {
			delete(h.typing, chatID)
			continue
		}
		if !st.dirty || now.Sub(st.lastEmit) < h.cfg.TypingFlushInterval {
			continue
		}
		active := make([]domain.TypingIndicator, 0, len(st.indicators))
		for _, ind := range st.indicators {
			active = append(active, *ind)
		}
		emits = append(emits, emit{chatID, domain.ChatTypingState{
			ChatID:    chatID,
			Active:    active,
			UpdatedAt: now,
		}})
		st.dirty = false
		st.lastEmit = now
		if len(st.indicators) == 0 {
			delete(h.typing, chatID)
		}
	}
	h.typingMu.Unlock()

	for _, e := range emits {
		eventType := domain.EventTypingStarted
		if len(e.state.Active) == 0 {
			eventType = domain.EventTypingStopped
		}
		ev := NewEvent(eventType, e.chatID, "", map[string]any{
			"typing_state": e.state,
		})
		h.publishToSubscribers(e.chatID, ev)
	}
}

// publishToSubscribers delivers directly to a chat's subscriber set,
// skipping participant resolution; used for transient events.
func (h *Hub) publishToSubscribers(chatID domain.ChatID, ev domain.Event) {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.subs[chatID]))
	for _, c := range h.subs[chatID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		h.deliver(c, ev)
	}
}
