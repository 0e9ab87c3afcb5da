// Package zdt layers the command conventions of ZDT stepper controllers on
// top of the generic CAN driver. Commands travel in extended-identifier
// classic frames; a controller answers on a small block of identifiers
// derived from its motor id.
package zdt

import (
	"time"

	"github.com/lgabp1/zdt-gocan-driver/driver"
	"github.com/lgabp1/zdt-gocan-driver/transport"
)

// replySlots is the number of consecutive identifiers a controller answers
// on, starting at motorID<<8.
const replySlots = 5

// Interface drives ZDT controllers over a shared CAN connection.
type Interface struct {
	*driver.Driver
}

// New creates a ZDT interface for the given transport, channel and bitrate.
func New(transportName, channel string, bitrate int, opts ...driver.Option) *Interface {
	return &Interface{Driver: driver.New(transportName, channel, bitrate, opts...)}
}

// Wrap layers ZDT command handling over an existing driver.
func Wrap(d *driver.Driver) *Interface {
	return &Interface{Driver: d}
}

// SendCmd transmits a command payload to the given identifier. ZDT commands
// always use extended identifiers and classic (non-FD) frames.
func (i *Interface) SendCmd(id uint32, payload []byte, timeout time.Duration) (bool, error) {
	msg := transport.Message{ID: id, Data: payload, Extended: true}
	return i.Send(msg, timeout)
}

// ReceiveCmdFrom waits for a command reply on the given identifier and
// returns its identifier and payload. The zero values with ok=false indicate
// the timeout elapsed without a reply.
func (i *Interface) ReceiveCmdFrom(id uint32, timeout time.Duration, checkFrequency float64) (uint32, []byte, bool, error) {
	msg, ok, err := i.ReceiveFrom(id, timeout, checkFrequency)
	if err != nil || !ok {
		return 0, nil, false, err
	}
	return msg.ID, msg.Data, true, nil
}

// ReplyIDs lists the identifiers a controller with the given motor id
// answers on.
func ReplyIDs(motorID uint32) []uint32 {
	ids := make([]uint32, replySlots)
	for offset := uint32(0); offset < replySlots; offset++ {
		ids[offset] = motorID<<8 + offset
	}
	return ids
}

// ClearQueuesOf empties the reply queues belonging to the given motor id.
func (i *Interface) ClearQueuesOf(motorID uint32) {
	i.ClearFIFO(ReplyIDs(motorID)...)
}

// ClearQueuesAll empties every queue in the store.
func (i *Interface) ClearQueuesAll() {
	i.ClearFIFO()
}
