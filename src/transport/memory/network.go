// Package memory is the reference in-process transport used by tests and the
// simulation mode.
//
// Directed sends land in the destination's inbox and carry the sender out of
// band. Broadcasts land in the broker inbox (device id 0) prefixed with a sender
// shim: 0xFF followed by the sender id as 4 little-endian bytes. The shim is not
// checksummed and never reaches the protocol decoder.
package memory

import (
	"encoding/binary"
	"sync"

	"github.com/G1-H25/jenlib/src/inter"
)

type Option func(*Network)

// WithInboxCapacity overrides InboxCapacity. Values below 1 are ignored.
func WithInboxCapacity(n int) Option {
	return func(net *Network) {
		if n > 0 {
			net.box.capacity = n
		}
	}
}

// Network is a set of endpoints sharing inboxes and simulated link state.
type Network struct {
	box inboxes

	mu   sync.Mutex
	down map[inter.DeviceID]bool
}

func NewNetwork(opts ...Option) *Network {
	n := &Network{down: make(map[inter.DeviceID]bool)}
	n.box.capacity = InboxCapacity
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Endpoint returns a transport bound to id.
func (n *Network) Endpoint(id inter.DeviceID) *Endpoint {
	return &Endpoint{net: n, id: id}
}

// BrokerEndpoint returns an endpoint that receives broadcasts.
func (n *Network) BrokerEndpoint(id inter.DeviceID) *Endpoint {
	return &Endpoint{net: n, id: id, broadcasts: true}
}

// SetLink simulates link loss (up=false) or restoration for one device.
// Endpoints see the edge on their next Poll.
func (n *Network) SetLink(id inter.DeviceID, up bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if up {
		delete(n.down, id)
	} else {
		n.down[id] = true
	}
}

func (n *Network) LinkUp(id inter.DeviceID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return !n.down[id]
}

// Pending is the number of frames queued for dest.
func (n *Network) Pending(dest inter.DeviceID) int { return n.box.pending(dest) }

// Dropped counts frames lost to full inboxes.
func (n *Network) Dropped() uint64 { return n.box.dropped.Load() }

func (n *Network) send(dest inter.DeviceID, f frame) { n.box.push(dest, f) }

func (n *Network) broadcast(sender inter.DeviceID, data []byte) {
	n.box.push(inter.BrokerInbox, frame{from: sender, data: AppendShim(nil, sender, data)})
}

// AppendShim appends the sender shim and then data to dst.
func AppendShim(dst []byte, sender inter.DeviceID, data []byte) []byte {
	var id [4]byte
	binary.LittleEndian.PutUint32(id[:], uint32(sender))
	dst = append(dst, inter.ShimMarker)
	dst = append(dst, id[:]...)
	return append(dst, data...)
}

// ParseShim splits a broker inbox entry into sender and message bytes.
func ParseShim(b []byte) (inter.DeviceID, []byte, bool) {
	if len(b) < inter.ShimSize || b[0] != inter.ShimMarker {
		return 0, b, false
	}
	return inter.DeviceID(binary.LittleEndian.Uint32(b[1:inter.ShimSize])), b[inter.ShimSize:], true
}
