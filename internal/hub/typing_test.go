package hub_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sonet/internal/domain"
	"sonet/internal/hub"
)

func TestTyping_DeduplicatesByUser(t *testing.T) {
	f := newFixture(t, hub.DefaultConfig())

	f.h.SetTyping("c1", "alice", "phone", domain.ActivityTyping, true)
	f.h.SetTyping("c1", "alice", "phone", domain.ActivityTyping, true)
	f.h.SetTyping("c1", "alice", "laptop", domain.ActivityTyping, true)

	// One indicator per (user, chat), however many devices refresh it.
	active := f.h.TypingIn("c1")
	require.Len(t, active, 1)
	assert.Equal(t, domain.UserID("alice"), active[0].UserID)

	f.h.SetTyping("c1", "bob", "phone", domain.ActivityRecordingAudio, true)
	assert.Len(t, f.h.TypingIn("c1"), 2)

	f.h.SetTyping("c1", "alice", "phone", domain.ActivityTyping, false)
	active = f.h.TypingIn("c1")
	require.Len(t, active, 1)
	assert.Equal(t, domain.UserID("bob"), active[0].UserID)
}

func TestTyping_IndicatorsExpire(t *testing.T) {
	cfg := hub.DefaultConfig()
	cfg.TypingTimeout = 60 * time.Millisecond
	cfg.TypingFlushInterval = 20 * time.Millisecond
	f := newFixture(t, cfg)

	f.h.SetTyping("c1", "alice", "phone", domain.ActivityTyping, true)
	require.Len(t, f.h.TypingIn("c1"), 1)

	assert.Eventually(t, func() bool {
		return len(f.h.TypingIn("c1")) == 0
	}, 2*time.Second, 10*time.Millisecond, "expired indicators must not appear in queries")
}

func TestTyping_CoalescedEmissionToSubscribers(t *testing.T) {
	cfg := hub.DefaultConfig()
	cfg.TypingTimeout = 5 * time.Second
	cfg.TypingFlushInterval = 30 * time.Millisecond
	f := newFixture(t, cfg)

	bob := authed(t, f, "bob", "phone")
	subscribe(t, bob, "c1")

	f.h.SetTyping("c1", "alice", "phone", domain.ActivityTyping, true)

	ev := readUntil(t, bob, domain.EventTypingStarted)
	assert.Equal(t, domain.ChatID("c1"), ev.ChatID)
	require.NotNil(t, ev.Data["typing_state"])

	f.h.SetTyping("c1", "alice", "phone", domain.ActivityTyping, false)
	ev = readUntil(t, bob, domain.EventTypingStopped)
	assert.Equal(t, domain.ChatID("c1"), ev.ChatID)
}
