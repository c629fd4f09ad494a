package memory

import (
	"log"
	"sync"

	"github.com/G1-H25/jenlib/src/inter"
	"github.com/G1-H25/jenlib/src/transport"
)

// Endpoint is one device's view of a Network. It implements inter.Transport.
type Endpoint struct {
	transport.Callbacks

	net        *Network
	id         inter.DeviceID
	broadcasts bool

	mu       sync.Mutex
	begun    bool
	reported bool // last connection state handed to the callback
}

var _ inter.Transport = (*Endpoint)(nil)

func (e *Endpoint) Begin() bool {
	e.mu.Lock()
	e.begun = true
	e.mu.Unlock()
	return true
}

// End takes the endpoint off the network. A connected endpoint reports the
// disconnect edge immediately.
func (e *Endpoint) End() {
	e.mu.Lock()
	e.begun = false
	e.mu.Unlock()
	e.checkLink()
}

func (e *Endpoint) IsConnected() bool {
	e.mu.Lock()
	begun := e.begun
	e.mu.Unlock()
	return begun && e.net.LinkUp(e.id)
}

func (e *Endpoint) LocalDeviceID() inter.DeviceID { return e.id }

// Advertise queues the payload, shimmed with sender, on the broker inbox.
func (e *Endpoint) Advertise(sender inter.DeviceID, payload *inter.Payload) {
	p := payload.Move()
	if !e.IsConnected() {
		log.Printf("Memory[%s]: advertise while disconnected, dropped", e.id)
		return
	}
	e.net.broadcast(sender, p.Bytes())
}

func (e *Endpoint) SendTo(dest inter.DeviceID, payload *inter.Payload) {
	p := payload.Move()
	if !e.IsConnected() {
		log.Printf("Memory[%s]: send to %s while disconnected, dropped", e.id, dest)
		return
	}
	data := make([]byte, p.Len())
	copy(data, p.Bytes())
	e.net.send(dest, frame{from: e.id, data: data})
}

// Receive pops the raw next entry of selfID's inbox. Broker inbox entries keep
// their shim.
func (e *Endpoint) Receive(selfID inter.DeviceID, out *inter.Payload) bool {
	for {
		f, ok := e.net.box.pop(selfID)
		if !ok {
			return false
		}
		if err := out.SetBytes(f.data); err != nil {
			log.Printf("Memory[%s]: %d byte entry does not fit a payload, dropped", e.id, len(f.data))
			continue
		}
		return true
	}
}

// Poll reports a link edge if there is one, then delivers everything that was
// pending when it started.
func (e *Endpoint) Poll() {
	if !e.checkLink() {
		return
	}
	e.drain(e.id)
	if e.broadcasts && e.id != inter.BrokerInbox {
		e.drain(inter.BrokerInbox)
	}
}

// drain delivers inbox's pending entries. Broker inbox entries always carry the shim.
func (e *Endpoint) drain(inbox inter.DeviceID) {
	shimmed := inbox == inter.BrokerInbox
	for n := e.net.Pending(inbox); n > 0; n-- {
		f, ok := e.net.box.pop(inbox)
		if !ok {
			return
		}
		sender, body := f.from, f.data
		if shimmed {
			var ok bool
			if sender, body, ok = ParseShim(f.data); !ok {
				log.Printf("Memory[%s]: broadcast without sender shim, dropped", e.id)
				continue
			}
		}
		e.Deliver(sender, body)
	}
}

func (e *Endpoint) checkLink() bool {
	connected := e.IsConnected()
	e.mu.Lock()
	edge := connected != e.reported
	e.reported = connected
	e.mu.Unlock()
	if edge {
		log.Printf("Memory[%s]: link %s", e.id, linkWord(connected))
		e.NotifyConnection(connected)
	}
	return connected
}

func linkWord(up bool) string {
	if up {
		return "up"
	}
	return "down"
}
