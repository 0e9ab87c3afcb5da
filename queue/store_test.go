package queue

import (
	"testing"

	"github.com/lgabp1/zdt-gocan-driver/transport"
)

func messageWithSeq(seq byte) transport.Message {
	return transport.Message{ID: 0x101, Data: []byte{seq}}
}

func TestStorePushEvictsOldest(t *testing.T) {
	store := NewStore(nil)
	key := Key{Transport: "virtual", Channel: "q0", ID: 0x101}

	for seq := byte(0); seq < 15; seq++ {
		store.Push(key, messageWithSeq(seq), 10)
	}
	if got := store.Len(key); got != 10 {
		t.Fatalf("expected 10 buffered messages, got %d", got)
	}
	if got := store.Dropped(key); got != 5 {
		t.Fatalf("expected 5 dropped messages, got %d", got)
	}
	for seq := byte(5); seq < 15; seq++ {
		msg, ok := store.PopFront(key)
		if !ok {
			t.Fatalf("expected message %d", seq)
		}
		if msg.Data[0] != seq {
			t.Fatalf("expected sequence %d, got %d", seq, msg.Data[0])
		}
	}
	if _, ok := store.PopFront(key); ok {
		t.Fatalf("expected empty FIFO")
	}
}

func TestStorePopFrontOrdering(t *testing.T) {
	store := NewStore(nil)
	key := Key{Transport: "virtual", Channel: "q1", ID: 0x200}

	for seq := byte(0); seq < 5; seq++ {
		store.Push(key, messageWithSeq(seq), 10)
	}
	for seq := byte(0); seq < 5; seq++ {
		msg, ok := store.PopFront(key)
		if !ok {
			t.Fatalf("expected message %d", seq)
		}
		if msg.Data[0] != seq {
			t.Fatalf("expected sequence %d, got %d", seq, msg.Data[0])
		}
	}
}

func TestStorePopFrontEmpty(t *testing.T) {
	store := NewStore(nil)
	if _, ok := store.PopFront(Key{Transport: "virtual", Channel: "q2", ID: 1}); ok {
		t.Fatalf("expected no message for unknown key")
	}
}

func TestStoreIsolation(t *testing.T) {
	store := NewStore(nil)
	key5 := Key{Transport: "virtual", Channel: "q3", ID: 5}
	key6 := Key{Transport: "virtual", Channel: "q3", ID: 6}
	otherChannel := Key{Transport: "virtual", Channel: "q4", ID: 5}

	store.Push(key5, transport.Message{ID: 5}, 10)
	store.Push(key5, transport.Message{ID: 5}, 10)

	if got := store.Len(key5); got != 2 {
		t.Fatalf("expected 2 messages for key5, got %d", got)
	}
	if got := store.Len(key6); got != 0 {
		t.Fatalf("expected empty FIFO for key6, got %d", got)
	}
	if got := store.Len(otherChannel); got != 0 {
		t.Fatalf("expected empty FIFO for other channel, got %d", got)
	}
}

func TestStoreClearInPlace(t *testing.T) {
	store := NewStore(nil)
	key := Key{Transport: "virtual", Channel: "q5", ID: 0x42}

	store.Push(key, transport.Message{ID: 0x42}, 10)
	store.Clear(key)
	if got := store.Len(key); got != 0 {
		t.Fatalf("expected cleared FIFO, got %d messages", got)
	}

	// Cleared FIFOs stay registered and accept new messages.
	store.Push(key, messageWithSeq(7), 10)
	msg, ok := store.PopFront(key)
	if !ok || msg.Data[0] != 7 {
		t.Fatalf("expected message 7 after clear, got %v ok=%v", msg, ok)
	}

	// Clearing an unknown key is a no-op.
	store.Clear(Key{Transport: "virtual", Channel: "q5", ID: 0x43})
}

func TestStoreClearAll(t *testing.T) {
	store := NewStore(nil)
	a := Key{Transport: "virtual", Channel: "q6", ID: 1}
	b := Key{Transport: "virtual", Channel: "q6", ID: 2}

	store.Push(a, transport.Message{ID: 1}, 10)
	store.Push(b, transport.Message{ID: 2}, 10)
	store.ClearAll()

	if store.Len(a) != 0 || store.Len(b) != 0 {
		t.Fatalf("expected all FIFOs removed")
	}
}

func TestStoreDefaultMaxSize(t *testing.T) {
	store := NewStore(nil)
	key := Key{Transport: "virtual", Channel: "q7", ID: 9}

	for seq := byte(0); seq < 20; seq++ {
		store.Push(key, messageWithSeq(seq), 0)
	}
	if got := store.Len(key); got != DefaultMaxSize {
		t.Fatalf("expected default bound %d, got %d", DefaultMaxSize, got)
	}
}
