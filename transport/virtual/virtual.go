// Package virtual provides an in-memory CAN bus for tests and simulations.
// Endpoints joined to the same channel name exchange messages; a sender never
// receives its own frames.
package virtual

import (
	"sync"
	"time"

	"github.com/lgabp1/zdt-gocan-driver/transport"
)

func init() {
	transport.Register("virtual", func(channel string, _ transport.Config) (transport.Bus, error) {
		return Join(channel), nil
	})
}

// endpointBuffer is the per-endpoint receive capacity. Frames arriving at a
// full endpoint are dropped, mirroring a controller overrun.
const endpointBuffer = 64

type segment struct {
	mu        sync.Mutex
	endpoints map[*Endpoint]struct{}
}

var (
	segmentsMu sync.Mutex
	segments   = make(map[string]*segment)
)

func segmentFor(channel string) *segment {
	segmentsMu.Lock()
	defer segmentsMu.Unlock()
	seg, ok := segments[channel]
	if !ok {
		seg = &segment{endpoints: make(map[*Endpoint]struct{})}
		segments[channel] = seg
	}
	return seg
}

// Endpoints reports how many endpoints are currently attached to a channel.
func Endpoints(channel string) int {
	seg := segmentFor(channel)
	seg.mu.Lock()
	defer seg.mu.Unlock()
	return len(seg.endpoints)
}

// Join attaches a new endpoint to the named channel, creating the channel on
// first use.
func Join(channel string) *Endpoint {
	seg := segmentFor(channel)
	ep := &Endpoint{
		segment: seg,
		ch:      make(chan transport.Message, endpointBuffer),
		closed:  make(chan struct{}),
	}
	seg.mu.Lock()
	seg.endpoints[ep] = struct{}{}
	seg.mu.Unlock()
	return ep
}

// Endpoint is a single attachment to a virtual channel.
type Endpoint struct {
	segment *segment
	ch      chan transport.Message

	mu     sync.Mutex
	dead   bool
	closed chan struct{}
}

// Send broadcasts the message to every other endpoint on the channel.
func (e *Endpoint) Send(msg transport.Message, _ time.Duration) error {
	e.mu.Lock()
	if e.dead {
		e.mu.Unlock()
		return transport.ErrBusClosed
	}
	e.mu.Unlock()

	e.segment.mu.Lock()
	targets := make([]*Endpoint, 0, len(e.segment.endpoints))
	for ep := range e.segment.endpoints {
		if ep != e {
			targets = append(targets, ep)
		}
	}
	e.segment.mu.Unlock()

	copied := msg
	copied.Data = append([]byte(nil), msg.Data...)
	for _, target := range targets {
		select {
		case target.ch <- copied:
		case <-target.closed:
		default:
			// receiver overrun, frame lost
		}
	}
	return nil
}

// Receive waits up to timeout for the next message. A timeout <= 0 blocks
// until a message arrives or the endpoint shuts down.
func (e *Endpoint) Receive(timeout time.Duration) (transport.Message, bool, error) {
	if timeout <= 0 {
		select {
		case msg := <-e.ch:
			return msg, true, nil
		case <-e.closed:
			return transport.Message{}, false, transport.ErrBusClosed
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-e.ch:
		return msg, true, nil
	case <-e.closed:
		return transport.Message{}, false, transport.ErrBusClosed
	case <-timer.C:
		return transport.Message{}, false, nil
	}
}

// Shutdown detaches the endpoint from its channel. Safe to call twice.
func (e *Endpoint) Shutdown() error {
	e.mu.Lock()
	if e.dead {
		e.mu.Unlock()
		return nil
	}
	e.dead = true
	close(e.closed)
	e.mu.Unlock()

	e.segment.mu.Lock()
	delete(e.segment.endpoints, e)
	e.segment.mu.Unlock()
	return nil
}
