// Package driver exposes the public CAN driver API: lifecycle, send, timed
// receive and queue clearing. Instances constructed with the same transport
// and channel share one physical bus handle and one receiver loop.
package driver

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lgabp1/zdt-gocan-driver/queue"
	"github.com/lgabp1/zdt-gocan-driver/registry"
	"github.com/lgabp1/zdt-gocan-driver/transport"
)

const (
	// DefaultMaxQueueSize bounds each per-identifier FIFO.
	DefaultMaxQueueSize = 10
	// DefaultCheckFrequency is the receive poll rate in checks per second.
	DefaultCheckFrequency = 100.0
)

var (
	// ErrNotOpen is returned by Send when the connection was never opened.
	ErrNotOpen = registry.ErrNotOpen
	// ErrBusUnavailable is returned by Send after the shared handle was closed.
	ErrBusUnavailable = registry.ErrBusUnavailable
	// ErrInvalidCheckFrequency rejects non-positive poll rates.
	ErrInvalidCheckFrequency = errors.New("check frequency must be positive")
)

// Driver multiplexes one physical CAN connection across per-identifier
// message queues.
type Driver struct {
	key      registry.ConnectionKey
	cfg      transport.Config
	maxQueue int
	reg      *registry.Registry
	logger   zerolog.Logger
}

// Option adjusts driver construction.
type Option func(*Driver)

// WithLogger attaches a logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

// WithRegistry binds the driver to a specific registry instead of the shared
// default. Instances must use the same registry to share a bus handle.
func WithRegistry(reg *registry.Registry) Option {
	return func(d *Driver) { d.reg = reg }
}

// WithMaxQueueSize overrides the per-identifier FIFO bound.
func WithMaxQueueSize(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.maxQueue = n
		}
	}
}

// WithTransportConfig replaces the full transport configuration, for FD buses
// or transports that need more than a bitrate.
func WithTransportConfig(cfg transport.Config) Option {
	return func(d *Driver) { d.cfg = cfg }
}

// New creates a driver for the given transport name, channel and bitrate.
func New(transportName, channel string, bitrate int, opts ...Option) *Driver {
	d := &Driver{
		key:      registry.ConnectionKey{Transport: transportName, Channel: channel},
		cfg:      transport.Config{Bitrate: bitrate},
		maxQueue: DefaultMaxQueueSize,
		reg:      registry.Default(),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger.Debug().Str("connection", d.key.String()).Msg("driver instance created")
	return d
}

// Key returns the connection key the driver addresses.
func (d *Driver) Key() registry.ConnectionKey {
	return d.key
}

// Open attaches the driver to the shared bus handle for its connection key,
// opening the transport and starting the receiver loop if no other instance
// has done so yet. Opening an already open connection is a no-op.
func (d *Driver) Open() error {
	return d.reg.Open(d.key, d.cfg, d.maxQueue)
}

// Close stops the receiver loop, waits for it to exit and shuts the shared
// handle down. Closing an already closed driver is a no-op.
func (d *Driver) Close() error {
	return d.reg.Close(d.key)
}

// Send transmits msg, blocking at most timeout. A transport-level failure is
// absorbed: it is logged at info level and reported as false without error.
// Sending on a connection that was never opened returns ErrNotOpen; sending
// after the shared handle was closed returns ErrBusUnavailable.
func (d *Driver) Send(msg transport.Message, timeout time.Duration) (bool, error) {
	err := d.reg.Send(d.key, msg, timeout)
	if err == nil {
		d.logger.Debug().
			Uint32("id", msg.ID).
			Int("len", len(msg.Data)).
			Msg("message sent")
		return true, nil
	}
	if errors.Is(err, ErrNotOpen) || errors.Is(err, ErrBusUnavailable) {
		return false, err
	}
	d.logger.Info().
		Err(err).
		Uint32("id", msg.ID).
		Dur("timeout", timeout).
		Msg("message send failed")
	d.reg.Collector().IncSendFailure(d.key.Transport, d.key.Channel)
	return false, nil
}

// ReceiveFrom returns the oldest buffered message for id, polling the queue
// store checkFrequency times per second. A timeout <= 0 blocks until a
// message arrives; otherwise polling stops at the deadline and the elapsed
// window is reported as ok=false without error.
func (d *Driver) ReceiveFrom(id uint32, timeout time.Duration, checkFrequency float64) (transport.Message, bool, error) {
	if checkFrequency <= 0 {
		return transport.Message{}, false, fmt.Errorf("%w, got %v", ErrInvalidCheckFrequency, checkFrequency)
	}
	interval := time.Duration(float64(time.Second) / checkFrequency)
	if interval <= 0 {
		interval = time.Nanosecond
	}
	key := d.queueKey(id)

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if msg, ok := d.reg.Store().PopFront(key); ok {
			return msg, true, nil
		}
		sleep := interval
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return transport.Message{}, false, nil
			}
			if remaining < sleep {
				sleep = remaining
			}
		}
		time.Sleep(sleep)
	}
}

// ClearFIFO empties queues in the store. With no identifiers every FIFO is
// removed; with identifiers only the matching queues of this connection are
// cleared in place.
func (d *Driver) ClearFIFO(ids ...uint32) {
	store := d.reg.Store()
	if len(ids) == 0 {
		store.ClearAll()
		return
	}
	keys := make([]queue.Key, len(ids))
	for i, id := range ids {
		keys[i] = d.queueKey(id)
	}
	store.Clear(keys...)
}

// QueueLen reports how many messages are buffered for id.
func (d *Driver) QueueLen(id uint32) int {
	return d.reg.Store().Len(d.queueKey(id))
}

// QueueDropped reports how many messages have been evicted from the FIFO
// for id since it was created.
func (d *Driver) QueueDropped(id uint32) uint64 {
	return d.reg.Store().Dropped(d.queueKey(id))
}

func (d *Driver) queueKey(id uint32) queue.Key {
	return queue.Key{Transport: d.key.Transport, Channel: d.key.Channel, ID: id}
}
