package inter

// MessageCallback receives payloads that were not claimed by a type-specific callback,
// including payloads that failed to decode.
type MessageCallback func(sender DeviceID, payload Payload)

type StartBroadcastCallback func(sender DeviceID, msg StartBroadcastMsg)

type ReadingCallback func(sender DeviceID, msg ReadingMsg)

type ReceiptCallback func(sender DeviceID, msg ReceiptMsg)

// ConnectionCallback fires on every connect/disconnect edge, never on every poll.
type ConnectionCallback func(connected bool)

// Transport is the capability the session engine needs from a radio link.
// All delivery is best effort. Callbacks run on the goroutine that calls Poll.
type Transport interface {
	Begin() bool
	End()
	IsConnected() bool
	LocalDeviceID() DeviceID

	// Advertise broadcasts the payload. The payload is consumed.
	Advertise(sender DeviceID, payload *Payload)
	// SendTo delivers the payload to one device. The payload is consumed.
	SendTo(dest DeviceID, payload *Payload)
	// Receive pops the next pending payload for selfID without blocking.
	Receive(selfID DeviceID, out *Payload) bool
	// Poll drives the transport once per control loop iteration.
	Poll()

	SetMessageCallback(cb MessageCallback)
	SetStartBroadcastCallback(cb StartBroadcastCallback)
	SetReadingCallback(cb ReadingCallback)
	SetReceiptCallback(cb ReceiptCallback)
	SetConnectionCallback(cb ConnectionCallback)
}

// SensorReader acquires one temperature/humidity sample.
type SensorReader interface {
	Read() (celsius float64, percent float64, err error)
}
