package ratchet_test

import (
	"bytes"
	"testing"
	"time"

	"sonet/internal/crypto"
	"sonet/internal/domain"
	"sonet/internal/protocol/ratchet"
)

// makeIdentity returns a fresh X25519 identity pair.
func makeIdentity(t *testing.T) (priv domain.X25519Private, pub domain.X25519Public) {
	t.Helper()
	p, P, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	return p, P
}

// makePair wires an initiator and responder sharing a root key.
func makePair(t *testing.T) (a, b domain.RatchetState) {
	t.Helper()
	rk := bytes.Repeat([]byte{0x42}, 32)
	now := time.Now()

	bPriv, bPub := makeIdentity(t)

	aState, err := ratchet.InitAsInitiator(rk, bPub, now)
	if err != nil {
		t.Fatalf("InitAsInitiator: %v", err)
	}
	bState, err := ratchet.InitAsResponder(rk, bPriv, bPub, aState.DiffieHellmanPublic, now)
	if err != nil {
		t.Fatalf("InitAsResponder: %v", err)
	}
	return aState, bState
}

func TestDoubleRatchet_OneRoundTrip(t *testing.T) {
	aState, bState := makePair(t)

	header, ct, err := ratchet.Encrypt(&aState, nil, []byte("hi"), time.Now())
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	pt, err := ratchet.Decrypt(&bState, nil, header, ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(pt) != "hi" {
		t.Fatalf("got %q, want %q", pt, "hi")
	}
	if bState.ReceiveMessageIndex != 1 {
		t.Fatalf("receive index = %d, want 1", bState.ReceiveMessageIndex)
	}
}

func TestDoubleRatchet_PingPong(t *testing.T) {
	aState, bState := makePair(t)
	now := time.Now()

	send, recv := &aState, &bState
	for i := 0; i < 40; i++ {
		msg := []byte{byte(i)}
		header, ct, err := ratchet.Encrypt(send, nil, msg, now)
		if err != nil {
			t.Fatalf("#%d Encrypt: %v", i, err)
		}
		pt, err := ratchet.Decrypt(recv, nil, header, ct)
		if err != nil {
			t.Fatalf("#%d Decrypt: %v", i, err)
		}
		if !bytes.Equal(pt, msg) {
			t.Fatalf("#%d: got %v, want %v", i, pt, msg)
		}
		send, recv = recv, send
	}
}

func TestDoubleRatchet_OutOfOrder(t *testing.T) {
	aState, bState := makePair(t)
	now := time.Now()

	type sealed struct {
		header domain.RatchetHeader
		ct     []byte
	}
	var msgs []sealed
	for _, s := range []string{"m1", "m2", "m3"} {
		h, ct, err := ratchet.Encrypt(&aState, nil, []byte(s), now)
		if err != nil {
			t.Fatalf("Encrypt %s: %v", s, err)
		}
		msgs = append(msgs, sealed{h, ct})
	}

	// Deliver m1, m3, m2.
	for _, i := range []int{0, 2, 1} {
		pt, err := ratchet.Decrypt(&bState, nil, msgs[i].header, msgs[i].ct)
		if err != nil {
			t.Fatalf("Decrypt #%d: %v", i, err)
		}
		want := []string{"m1", "m2", "m3"}[i]
		if string(pt) != want {
			t.Fatalf("got %q, want %q", pt, want)
		}
	}

	if n := len(bState.SkippedKeys); n != 0 {
		t.Fatalf("skipped keys left after full delivery: %d", n)
	}
}

func TestDoubleRatchet_SkippedKeysBounded(t *testing.T) {
	aState, bState := makePair(t)
	now := time.Now()

	// Send many messages, deliver only the last; the gap must stay capped.
	var lastHeader domain.RatchetHeader
	var lastCT []byte
	const gap = ratchet.MaxSkippedKeys + 50
	for i := 0; i < gap+1; i++ {
		h, ct, err := ratchet.Encrypt(&aState, nil, []byte("x"), now)
		if err != nil {
			t.Fatalf("Encrypt #%d: %v", i, err)
		}
		lastHeader, lastCT = h, ct
	}
	if _, err := ratchet.Decrypt(&bState, nil, lastHeader, lastCT); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if n := len(bState.SkippedKeys); n > ratchet.MaxSkippedKeys {
		t.Fatalf("skipped keys %d exceeds bound %d", n, ratchet.MaxSkippedKeys)
	}
	if len(bState.SkippedOrder) != len(bState.SkippedKeys) {
		t.Fatalf("order/key bookkeeping diverged: %d vs %d",
			len(bState.SkippedOrder), len(bState.SkippedKeys))
	}
}

func TestDoubleRatchet_AuthFailLeavesStateUntouched(t *testing.T) {
	aState, bState := makePair(t)

	header, ct, err := ratchet.Encrypt(&aState, nil, []byte("hello"), time.Now())
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	before := ratchet.Clone(&bState)
	tampered := append([]byte(nil), ct...)
	tampered[0] ^= 0xff

	if _, err := ratchet.Decrypt(&bState, nil, header, tampered); err == nil {
		t.Fatal("tampered ciphertext decrypted")
	}
	if bState.ReceiveMessageIndex != before.ReceiveMessageIndex {
		t.Fatal("receive index advanced on AuthFail")
	}
	if !bytes.Equal(bState.ReceiveChainKey, before.ReceiveChainKey) {
		t.Fatal("receive chain mutated on AuthFail")
	}

	// The original message must still decrypt.
	pt, err := ratchet.Decrypt(&bState, nil, header, ct)
	if err != nil {
		t.Fatalf("Decrypt after failed attempt: %v", err)
	}
	if string(pt) != "hello" {
		t.Fatalf("got %q", pt)
	}
}

func TestDoubleRatchet_ReplayRejected(t *testing.T) {
	aState, bState := makePair(t)

	header, ct, err := ratchet.Encrypt(&aState, nil, []byte("once"), time.Now())
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := ratchet.Decrypt(&bState, nil, header, ct); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}

	// The message key was consumed and discarded; the same ciphertext can
	// never decrypt again from the surviving state.
	if _, err := ratchet.Decrypt(&bState, nil, header, ct); err == nil {
		t.Fatal("replayed ciphertext decrypted")
	}
	if bState.ReceiveMessageIndex != 1 {
		t.Fatalf("replay mutated state: Nr = %d", bState.ReceiveMessageIndex)
	}
}

func TestDoubleRatchet_RekeyAfterInterval(t *testing.T) {
	aState, bState := makePair(t)
	now := time.Now()

	h1, ct1, err := ratchet.Encrypt(&aState, nil, []byte("a"), now)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := ratchet.Decrypt(&bState, nil, h1, ct1); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	pubBefore := aState.DiffieHellmanPublic

	// Next send past the rekey interval must rotate the ratchet key.
	later := now.Add(ratchet.RekeyInterval + time.Minute)
	h2, ct2, err := ratchet.Encrypt(&aState, nil, []byte("b"), later)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if aState.DiffieHellmanPublic.Equal(pubBefore) {
		t.Fatal("ratchet key not rotated after interval")
	}
	if pt, err := ratchet.Decrypt(&bState, nil, h2, ct2); err != nil || string(pt) != "b" {
		t.Fatalf("Decrypt after rekey: %v %q", err, pt)
	}
}

func TestDoubleRatchet_CompromiseRecovery(t *testing.T) {
	aState, bState := makePair(t)
	now := time.Now()

	h1, ct1, err := ratchet.Encrypt(&aState, nil, []byte("pre"), now)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := ratchet.Decrypt(&bState, nil, h1, ct1); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}

	ratchet.MarkCompromised(&aState)
	if aState.SendChainKey != nil {
		t.Fatal("send chain not zeroized")
	}

	h2, ct2, err := ratchet.Encrypt(&aState, nil, []byte("post"), now)
	if err != nil {
		t.Fatalf("Encrypt after compromise: %v", err)
	}
	if aState.Compromised {
		t.Fatal("compromise flag not cleared by ratchet step")
	}
	if pt, err := ratchet.Decrypt(&bState, nil, h2, ct2); err != nil || string(pt) != "post" {
		t.Fatalf("Decrypt after compromise rekey: %v %q", err, pt)
	}
}
