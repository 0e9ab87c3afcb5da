// Package queue holds received CAN frames in bounded per-identifier FIFOs.
package queue

import (
	"sync"

	"github.com/lgabp1/zdt-gocan-driver/telemetry"
	"github.com/lgabp1/zdt-gocan-driver/transport"
)

// DefaultMaxSize bounds a FIFO when no explicit limit is configured.
const DefaultMaxSize = 10

// Key identifies one logical message stream on one physical connection.
type Key struct {
	Transport string
	Channel   string
	ID        uint32
}

type fifo struct {
	msgs    []transport.Message
	dropped uint64
}

// Store maps queue keys to bounded FIFOs of received messages.
//
// FIFOs are created lazily on the first push for a key and persist (empty)
// after Clear; ClearAll removes every entry. All operations are atomic.
type Store struct {
	mu        sync.Mutex
	fifos     map[Key]*fifo
	collector telemetry.Collector
}

// NewStore creates an empty store. A nil collector disables telemetry.
func NewStore(collector telemetry.Collector) *Store {
	if collector == nil {
		collector = telemetry.Noop()
	}
	return &Store{fifos: make(map[Key]*fifo), collector: collector}
}

// Push appends a message to the FIFO for key, evicting the oldest entry first
// when the FIFO would exceed maxSize. A maxSize <= 0 uses DefaultMaxSize.
func (s *Store) Push(key Key, msg transport.Message, maxSize int) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	s.mu.Lock()
	q, ok := s.fifos[key]
	if !ok {
		q = &fifo{}
		s.fifos[key] = q
	}
	q.msgs = append(q.msgs, msg)
	evicted := false
	if len(q.msgs) > maxSize {
		copy(q.msgs, q.msgs[1:])
		q.msgs = q.msgs[:len(q.msgs)-1]
		q.dropped++
		evicted = true
	}
	occupancy := len(q.msgs)
	s.mu.Unlock()

	if evicted {
		s.collector.IncFrameDropped(key.Transport, key.Channel, key.ID)
	}
	s.collector.SetFIFOOccupancy(key.Transport, key.Channel, key.ID, occupancy)
}

// PopFront removes and returns the oldest message for key, if any.
func (s *Store) PopFront(key Key) (transport.Message, bool) {
	s.mu.Lock()
	q, ok := s.fifos[key]
	if !ok || len(q.msgs) == 0 {
		s.mu.Unlock()
		return transport.Message{}, false
	}
	msg := q.msgs[0]
	copy(q.msgs, q.msgs[1:])
	q.msgs = q.msgs[:len(q.msgs)-1]
	occupancy := len(q.msgs)
	s.mu.Unlock()

	s.collector.SetFIFOOccupancy(key.Transport, key.Channel, key.ID, occupancy)
	return msg, true
}

// Len reports the number of buffered messages for key.
func (s *Store) Len(key Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.fifos[key]
	if !ok {
		return 0
	}
	return len(q.msgs)
}

// Dropped reports how many messages have been evicted from the FIFO for key.
func (s *Store) Dropped(key Key) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.fifos[key]
	if !ok {
		return 0
	}
	return q.dropped
}

// Clear empties the FIFOs for the given keys in place. FIFOs stay registered
// so later pushes reuse them.
func (s *Store) Clear(keys ...Key) {
	s.mu.Lock()
	cleared := make([]Key, 0, len(keys))
	for _, key := range keys {
		if q, ok := s.fifos[key]; ok {
			q.msgs = q.msgs[:0]
			cleared = append(cleared, key)
		}
	}
	s.mu.Unlock()

	for _, key := range cleared {
		s.collector.SetFIFOOccupancy(key.Transport, key.Channel, key.ID, 0)
	}
}

// ClearAll removes every FIFO from the store.
func (s *Store) ClearAll() {
	s.mu.Lock()
	keys := make([]Key, 0, len(s.fifos))
	for key := range s.fifos {
		keys = append(keys, key)
	}
	s.fifos = make(map[Key]*fifo)
	s.mu.Unlock()

	for _, key := range keys {
		s.collector.SetFIFOOccupancy(key.Transport, key.Channel, key.ID, 0)
	}
}
