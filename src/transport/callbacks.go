// Package transport holds what the concrete transports share: callback
// registration and routing of a received payload to the right callback.
package transport

import (
	"log"
	"sync"

	"github.com/G1-H25/jenlib/src/inter"
	"github.com/G1-H25/jenlib/src/protocol"
)

// Callbacks implements the callback half of inter.Transport. Embed it.
type Callbacks struct {
	mu         sync.Mutex
	onMessage  inter.MessageCallback
	onStart    inter.StartBroadcastCallback
	onReading  inter.ReadingCallback
	onReceipt  inter.ReceiptCallback
	onConnEdge inter.ConnectionCallback
}

func (c *Callbacks) SetMessageCallback(cb inter.MessageCallback) {
	c.mu.Lock()
	c.onMessage = cb
	c.mu.Unlock()
}

func (c *Callbacks) SetStartBroadcastCallback(cb inter.StartBroadcastCallback) {
	c.mu.Lock()
	c.onStart = cb
	c.mu.Unlock()
}

func (c *Callbacks) SetReadingCallback(cb inter.ReadingCallback) {
	c.mu.Lock()
	c.onReading = cb
	c.mu.Unlock()
}

func (c *Callbacks) SetReceiptCallback(cb inter.ReceiptCallback) {
	c.mu.Lock()
	c.onReceipt = cb
	c.mu.Unlock()
}

func (c *Callbacks) SetConnectionCallback(cb inter.ConnectionCallback) {
	c.mu.Lock()
	c.onConnEdge = cb
	c.mu.Unlock()
}

// NotifyConnection reports one link edge.
func (c *Callbacks) NotifyConnection(connected bool) {
	c.mu.Lock()
	cb := c.onConnEdge
	c.mu.Unlock()
	if cb != nil {
		guard("connection", func() { cb(connected) })
	}
}

// Deliver routes one received message. The tag is read first and exactly one
// decoder runs. A type-specific callback wins when the payload decodes as its
// type; everything else, undecodable payloads included, goes to the generic
// callback. It reports whether any callback ran.
func (c *Callbacks) Deliver(sender inter.DeviceID, data []byte) bool {
	c.mu.Lock()
	onMessage, onStart, onReading, onReceipt := c.onMessage, c.onStart, c.onReading, c.onReceipt
	c.mu.Unlock()

	if tag, err := protocol.PeekTag(data); err == nil {
		switch {
		case tag == inter.MsgStartBroadcast && onStart != nil:
			if msg, err := protocol.DecodeStartBroadcast(data); err == nil {
				guard("start broadcast", func() { onStart(sender, msg) })
				return true
			}
		case tag == inter.MsgReading && onReading != nil:
			if msg, err := protocol.DecodeReading(data); err == nil {
				guard("reading", func() { onReading(sender, msg) })
				return true
			}
		case tag == inter.MsgReceipt && onReceipt != nil:
			if msg, err := protocol.DecodeReceipt(data); err == nil {
				guard("receipt", func() { onReceipt(sender, msg) })
				return true
			}
		}
	}

	if onMessage == nil {
		return false
	}
	p, err := inter.NewPayload(data)
	if err != nil {
		log.Printf("Transport: dropping %d byte message from %s: %v", len(data), sender, err)
		return false
	}
	guard("message", func() { onMessage(sender, p) })
	return true
}

func guard(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Transport: %s callback panicked: %v", what, r)
		}
	}()
	fn()
}
