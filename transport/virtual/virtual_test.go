package virtual

import (
	"errors"
	"testing"
	"time"

	"github.com/lgabp1/zdt-gocan-driver/transport"
)

func TestBroadcastSkipsSender(t *testing.T) {
	a := Join("vtest0")
	defer a.Shutdown()
	b := Join("vtest0")
	defer b.Shutdown()

	msg := transport.Message{ID: 0x101, Data: []byte{1, 2, 3}, Extended: true}
	if err := a.Send(msg, 0); err != nil {
		t.Fatalf("send: %v", err)
	}

	got, ok, err := b.Receive(time.Second)
	if err != nil || !ok {
		t.Fatalf("receive: ok=%v err=%v", ok, err)
	}
	if got.ID != msg.ID || !got.Extended || len(got.Data) != 3 || got.Data[2] != 3 {
		t.Fatalf("unexpected message %+v", got)
	}

	// The sender never sees its own frames.
	if _, ok, err := a.Receive(20 * time.Millisecond); ok || err != nil {
		t.Fatalf("expected empty window for sender, ok=%v err=%v", ok, err)
	}
}

func TestReceiveTimeout(t *testing.T) {
	ep := Join("vtest1")
	defer ep.Shutdown()

	start := time.Now()
	_, ok, err := ep.Receive(50 * time.Millisecond)
	if ok || err != nil {
		t.Fatalf("expected timeout, ok=%v err=%v", ok, err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("receive returned after %v, before the window elapsed", elapsed)
	}
}

func TestShutdownDetaches(t *testing.T) {
	ep := Join("vtest2")
	if got := Endpoints("vtest2"); got != 1 {
		t.Fatalf("expected 1 endpoint, got %d", got)
	}
	if err := ep.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if got := Endpoints("vtest2"); got != 0 {
		t.Fatalf("expected 0 endpoints after shutdown, got %d", got)
	}
	if err := ep.Shutdown(); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	if err := ep.Send(transport.Message{ID: 1}, 0); !errors.Is(err, transport.ErrBusClosed) {
		t.Fatalf("expected ErrBusClosed, got %v", err)
	}
	if _, _, err := ep.Receive(time.Second); !errors.Is(err, transport.ErrBusClosed) {
		t.Fatalf("expected ErrBusClosed on receive, got %v", err)
	}
}

func TestRegisteredWithTransport(t *testing.T) {
	bus, err := transport.Open("virtual", "vtest3", transport.Config{Bitrate: 500000})
	if err != nil {
		t.Fatalf("open virtual: %v", err)
	}
	defer bus.Shutdown()
	if got := Endpoints("vtest3"); got != 1 {
		t.Fatalf("expected 1 endpoint, got %d", got)
	}
}

func TestSenderDataCopied(t *testing.T) {
	a := Join("vtest4")
	defer a.Shutdown()
	b := Join("vtest4")
	defer b.Shutdown()

	payload := []byte{0xAA}
	if err := a.Send(transport.Message{ID: 2, Data: payload}, 0); err != nil {
		t.Fatalf("send: %v", err)
	}
	payload[0] = 0x55

	got, ok, err := b.Receive(time.Second)
	if err != nil || !ok {
		t.Fatalf("receive: ok=%v err=%v", ok, err)
	}
	if got.Data[0] != 0xAA {
		t.Fatalf("payload aliased, got 0x%X", got.Data[0])
	}
}
