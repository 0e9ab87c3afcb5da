// Package registry shares open CAN bus handles across driver instances and
// runs one receiver loop per open connection.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lgabp1/zdt-gocan-driver/queue"
	"github.com/lgabp1/zdt-gocan-driver/telemetry"
	"github.com/lgabp1/zdt-gocan-driver/transport"
)

// DefaultPollTimeout bounds how long the receiver loop blocks on the bus
// before rechecking its stop flag.
const DefaultPollTimeout = time.Second

var (
	// ErrNotOpen is returned when a connection key was never opened.
	ErrNotOpen = errors.New("connection not open")
	// ErrBusUnavailable is returned when the handle for a key has been closed.
	ErrBusUnavailable = errors.New("bus handle unavailable")
)

// ConnectionKey identifies one physical bus link.
type ConnectionKey struct {
	Transport string
	Channel   string
}

func (k ConnectionKey) String() string {
	return k.Transport + "/" + k.Channel
}

type entry struct {
	bus  transport.Bus
	stop chan struct{}
	done sync.WaitGroup
}

// Registry owns the process-wide table of open bus handles. All driver
// instances addressing the same physical link share one entry and therefore
// one receiver loop.
type Registry struct {
	store     *queue.Store
	logger    zerolog.Logger
	collector telemetry.Collector

	mu          sync.Mutex
	entries     map[ConnectionKey]*entry
	pollTimeout time.Duration
}

// New creates an empty registry filing received frames into store. A nil
// collector disables telemetry.
func New(store *queue.Store, logger zerolog.Logger, collector telemetry.Collector) *Registry {
	if collector == nil {
		collector = telemetry.Noop()
	}
	return &Registry{
		store:       store,
		logger:      logger,
		collector:   collector,
		entries:     make(map[ConnectionKey]*entry),
		pollTimeout: DefaultPollTimeout,
	}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the shared process-wide registry.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = New(queue.NewStore(nil), zerolog.Nop(), nil)
	})
	return defaultRegistry
}

// Store returns the queue store receiving frames from this registry's loops.
func (r *Registry) Store() *queue.Store {
	return r.store
}

// Collector returns the telemetry collector shared by this registry.
func (r *Registry) Collector() telemetry.Collector {
	return r.collector
}

// SetPollTimeout adjusts the receive window of subsequently started loops.
func (r *Registry) SetPollTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d > 0 {
		r.pollTimeout = d
	}
}

// Open returns immediately if a live handle exists for key; otherwise it opens
// the transport and starts the receiver loop. Frames received on the link are
// filed under (key, frame id) with maxQueueSize bounding each FIFO.
func (r *Registry) Open(key ConnectionKey, cfg transport.Config, maxQueueSize int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok && e.bus != nil {
		return nil
	}
	bus, err := transport.Open(key.Transport, key.Channel, cfg)
	if err != nil {
		return err
	}
	e := &entry{bus: bus, stop: make(chan struct{})}
	r.entries[key] = e
	e.done.Add(1)
	go r.run(key, bus, e.stop, &e.done, maxQueueSize, r.pollTimeout)
	r.logger.Debug().Str("connection", key.String()).Msg("bus opened")
	return nil
}

// Close stops the receiver loop for key, waits for it to exit, then shuts the
// handle down. Closing a key that is not open is a no-op. The handle is
// cleared for every instance sharing the key (last close wins).
func (r *Registry) Close(key ConnectionKey) error {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok || e.bus == nil {
		r.mu.Unlock()
		return nil
	}
	bus := e.bus
	e.bus = nil
	r.mu.Unlock()

	close(e.stop)
	e.done.Wait()
	if err := bus.Shutdown(); err != nil {
		return fmt.Errorf("shutdown %s: %w", key, err)
	}
	r.logger.Debug().Str("connection", key.String()).Msg("bus closed")
	return nil
}

// CloseAll closes every open connection, returning the first error.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	keys := make([]ConnectionKey, 0, len(r.entries))
	for key := range r.entries {
		keys = append(keys, key)
	}
	r.mu.Unlock()

	var first error
	for _, key := range keys {
		if err := r.Close(key); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Send forwards msg to the handle for key.
func (r *Registry) Send(key ConnectionKey, msg transport.Message, timeout time.Duration) error {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotOpen, key)
	}
	bus := e.bus
	r.mu.Unlock()
	if bus == nil {
		return fmt.Errorf("%w: %s", ErrBusUnavailable, key)
	}
	return bus.Send(msg, timeout)
}

// IsOpen reports whether a live handle exists for key.
func (r *Registry) IsOpen(key ConnectionKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	return ok && e.bus != nil
}

// run drains incoming traffic into the queue store until stopped. A receive
// error ends the iteration and is retried on the next pass; the loop never
// terminates on a single bad frame.
func (r *Registry) run(key ConnectionKey, bus transport.Bus, stop chan struct{}, done *sync.WaitGroup, maxQueueSize int, pollTimeout time.Duration) {
	defer done.Done()
	for {
		select {
		case <-stop:
			return
		default:
		}
		msg, ok, err := bus.Receive(pollTimeout)
		if err != nil {
			if errors.Is(err, transport.ErrBusClosed) {
				return
			}
			r.logger.Debug().Err(err).Str("connection", key.String()).Msg("receive failed")
			select {
			case <-stop:
				return
			case <-time.After(pollTimeout):
			}
			continue
		}
		if !ok {
			continue
		}
		r.logger.Debug().
			Str("connection", key.String()).
			Uint32("id", msg.ID).
			Int("len", len(msg.Data)).
			Msg("message received")
		r.store.Push(queue.Key{Transport: key.Transport, Channel: key.Channel, ID: msg.ID}, msg, maxQueueSize)
		r.collector.IncFrameReceived(key.Transport, key.Channel)
	}
}
