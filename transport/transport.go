package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Message is a single CAN frame as seen by consumers of the driver.
//
// ID carries the arbitration identifier (11-bit standard or 29-bit extended),
// Data the payload bytes. FD marks CAN FD frames on transports that support
// flexible data rate.
type Message struct {
	ID       uint32
	Data     []byte
	Extended bool
	FD       bool
}

// Config carries the physical parameters handed to a transport when a
// connection is opened. Transports that configure their bitrate out of band
// (for example SocketCAN, where the link speed is set via ip link) may ignore
// the bitrate fields.
type Config struct {
	Bitrate     int
	DataBitrate int
	FD          bool
	ReceiveOwn  bool
}

// Bus is one open connection to a physical or virtual CAN link.
//
// Implementations must be safe for concurrent use: the driver sends from
// caller goroutines while a background loop blocks in Receive.
type Bus interface {
	// Send transmits a message, blocking at most timeout. A timeout <= 0
	// lets the transport apply its own default.
	Send(msg Message, timeout time.Duration) error

	// Receive waits up to timeout for the next incoming message. It returns
	// ok=false without error when the window elapses with no traffic.
	Receive(timeout time.Duration) (msg Message, ok bool, err error)

	// Shutdown releases the underlying resource. Send and Receive must fail
	// on a shut-down bus rather than block forever.
	Shutdown() error
}

// Factory opens a bus on the named channel.
type Factory func(channel string, cfg Config) (Bus, error)

// ErrUnknownTransport is returned by Open for unregistered transport names.
var ErrUnknownTransport = errors.New("unknown transport")

// ErrBusClosed indicates the bus has been shut down.
var ErrBusClosed = errors.New("bus closed")

var (
	factoriesMu sync.Mutex
	factories   = make(map[string]Factory)
)

// Register makes a transport implementation available under the given name.
// Implementations usually call this from an init function.
func Register(name string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

// Open creates a new bus using the transport registered under name.
func Open(name, channel string, cfg Config) (Bus, error) {
	factoriesMu.Lock()
	factory, ok := factories[name]
	factoriesMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownTransport, name)
	}
	bus, err := factory(channel, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s bus on %s: %w", name, channel, err)
	}
	return bus, nil
}
