//go:build linux

// Package socketcan connects the driver to a Linux SocketCAN interface such
// as can0 or vcan0. The link bitrate is configured on the interface itself
// (ip link set), so the bitrate fields of the transport config are ignored.
package socketcan

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.einride.tech/can/pkg/socketcan"

	"github.com/lgabp1/zdt-gocan-driver/transport"
)

func init() {
	transport.Register("socketcan", func(channel string, cfg transport.Config) (transport.Bus, error) {
		return Dial(channel, cfg)
	})
}

// Linux can_frame wire layout (16 bytes, little-endian id word).
const (
	frameSize  = 16
	canEffFlag = 0x80000000
	canRtrFlag = 0x40000000
	canEffMask = 0x1FFFFFFF
	canSffMask = 0x7FF
)

var errFDNotSupported = errors.New("socketcan: CAN FD frames not supported on classic socket")

// Dial opens a raw CAN socket bound to the named interface.
func Dial(channel string, _ transport.Config) (*Bus, error) {
	conn, err := socketcan.DialContext(context.Background(), "can", channel)
	if err != nil {
		return nil, fmt.Errorf("dial socketcan %s: %w", channel, err)
	}
	return &Bus{channel: channel, conn: conn}, nil
}

// Bus is a SocketCAN connection.
type Bus struct {
	channel string

	mu   sync.Mutex
	conn net.Conn
	dead bool
}

// Send writes one classic CAN frame, blocking at most timeout.
func (b *Bus) Send(msg transport.Message, timeout time.Duration) error {
	if msg.FD {
		return errFDNotSupported
	}
	if len(msg.Data) > 8 {
		return fmt.Errorf("socketcan: payload length %d exceeds 8 bytes", len(msg.Data))
	}
	buf := make([]byte, frameSize)
	id := msg.ID
	if msg.Extended {
		id = (id & canEffMask) | canEffFlag
	} else {
		id &= canSffMask
	}
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = byte(len(msg.Data))
	copy(buf[8:], msg.Data)

	conn, err := b.connection()
	if err != nil {
		return err
	}
	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("socketcan %s: set write deadline: %w", b.channel, err)
		}
	}
	if _, err := conn.Write(buf); err != nil {
		return fmt.Errorf("socketcan %s: write frame: %w", b.channel, err)
	}
	return nil
}

// Receive reads the next frame, waiting at most timeout. An elapsed window
// yields ok=false without error.
func (b *Bus) Receive(timeout time.Duration) (transport.Message, bool, error) {
	conn, err := b.connection()
	if err != nil {
		return transport.Message{}, false, err
	}
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return transport.Message{}, false, fmt.Errorf("socketcan %s: set read deadline: %w", b.channel, err)
		}
	}
	buf := make([]byte, frameSize)
	n, err := conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return transport.Message{}, false, nil
		}
		return transport.Message{}, false, fmt.Errorf("socketcan %s: read frame: %w", b.channel, err)
	}
	if n < frameSize {
		return transport.Message{}, false, fmt.Errorf("socketcan %s: short frame: %d bytes", b.channel, n)
	}

	id := binary.LittleEndian.Uint32(buf[0:4])
	if id&canRtrFlag != 0 {
		// remote frames carry no payload, skip
		return transport.Message{}, false, nil
	}
	msg := transport.Message{Extended: id&canEffFlag != 0}
	if msg.Extended {
		msg.ID = id & canEffMask
	} else {
		msg.ID = id & canSffMask
	}
	length := int(buf[4])
	if length > 8 {
		length = 8
	}
	msg.Data = append([]byte(nil), buf[8:8+length]...)
	return msg, true, nil
}

// Shutdown closes the socket. Safe to call twice.
func (b *Bus) Shutdown() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dead {
		return nil
	}
	b.dead = true
	if b.conn == nil {
		return nil
	}
	if err := b.conn.Close(); err != nil {
		return fmt.Errorf("socketcan %s: close: %w", b.channel, err)
	}
	return nil
}

func (b *Bus) connection() (net.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dead || b.conn == nil {
		return nil, transport.ErrBusClosed
	}
	return b.conn, nil
}
