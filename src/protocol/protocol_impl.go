package protocol

import (
	"encoding/binary"

	"github.com/G1-H25/jenlib/src/inter"
	"github.com/sigurn/crc8"
)

// CRC-8 表 (poly 0x07, init 0x00, 无反射, 无输出异或)
var crc8Table = crc8.MakeTable(crc8.CRC8)

// Checksum computes the device id integrity byte.
func Checksum(data []byte) byte {
	return crc8.Checksum(data, crc8Table)
}

// Wire sizes of each message, tag included.
const (
	StartBroadcastSize = 1 + inter.DeviceIDWireSize + 4
	ReadingSize        = 1 + inter.DeviceIDWireSize + 4 + 4 + 2 + 2
	ReceiptSize        = 1 + 4 + 4
)

// Encode serialises m into a fresh payload.
func Encode(m inter.Message) (inter.Payload, error) {
	var p inter.Payload
	if err := EncodeInto(&p, m); err != nil {
		return inter.Payload{}, err
	}
	return p, nil
}

// EncodeInto appends m to p. On failure p is restored to its previous length.
func EncodeInto(p *inter.Payload, m inter.Message) error {
	mark := p.Len()
	if err := encode(p, m); err != nil {
		restore(p, mark)
		return err
	}
	return nil
}

func encode(p *inter.Payload, m inter.Message) error {
	switch msg := m.(type) {
	case inter.StartBroadcastMsg:
		return appendAll(
			func() error { return p.Append(byte(inter.MsgStartBroadcast)) },
			func() error { return AppendDeviceID(p, msg.TargetID) },
			func() error { return p.AppendUint32(uint32(msg.SessionID)) },
		)
	case inter.ReadingMsg:
		return appendAll(
			func() error { return p.Append(byte(inter.MsgReading)) },
			func() error { return AppendDeviceID(p, msg.SenderID) },
			func() error { return p.AppendUint32(uint32(msg.SessionID)) },
			func() error { return p.AppendUint32(msg.OffsetMs) },
			func() error { return p.AppendUint16(uint16(msg.Temperature)) },
			func() error { return p.AppendUint16(msg.Humidity) },
		)
	case inter.ReceiptMsg:
		return appendAll(
			func() error { return p.Append(byte(inter.MsgReceipt)) },
			func() error { return p.AppendUint32(uint32(msg.SessionID)) },
			func() error { return p.AppendUint32(msg.UpToOffsetMs) },
		)
	default:
		return inter.ErrUnknownTag
	}
}

func appendAll(steps ...func() error) error {
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func restore(p *inter.Payload, mark int) {
	b := p.Bytes()
	if mark >= len(b) {
		return
	}
	// SetBytes cannot fail here, mark is within capacity
	_ = p.SetBytes(append([]byte(nil), b[:mark]...))
}

// AppendDeviceID writes 4 raw LE bytes followed by their CRC-8.
func AppendDeviceID(p *inter.Payload, id inter.DeviceID) error {
	var b [inter.DeviceIDWireSize]byte
	PutDeviceID(b[:], id)
	return p.Append(b[:]...)
}

// PutDeviceID writes the 5-byte checksummed form into dst.
func PutDeviceID(dst []byte, id inter.DeviceID) {
	binary.LittleEndian.PutUint32(dst[:4], uint32(id))
	dst[4] = Checksum(dst[:4])
}

// ParseDeviceID validates the 5-byte checksummed form. The id is only built after the
// checksum matched.
func ParseDeviceID(b []byte) (inter.DeviceID, error) {
	if len(b) < inter.DeviceIDWireSize {
		return 0, inter.ErrTruncated
	}
	if Checksum(b[:4]) != b[4] {
		return 0, inter.ErrChecksumMismatch
	}
	return inter.DeviceID(binary.LittleEndian.Uint32(b[:4])), nil
}

// PeekTag returns the message tag without decoding the body.
func PeekTag(b []byte) (inter.MessageType, error) {
	if len(b) == 0 {
		return 0, inter.ErrEmptyPayload
	}
	t := inter.MessageType(b[0])
	switch t {
	case inter.MsgStartBroadcast, inter.MsgReading, inter.MsgReceipt:
		return t, nil
	}
	return t, inter.ErrUnknownTag
}

// Decode parses exactly one message from p. Decoding is all or nothing and does not
// modify p.
func Decode(p *inter.Payload) (inter.Message, error) {
	if p.Consumed() {
		return nil, inter.ErrPayloadConsumed
	}
	return DecodeBytes(p.Bytes())
}

// DecodeBytes reads the tag first and hands the body to the matching decoder.
func DecodeBytes(b []byte) (inter.Message, error) {
	tag, err := PeekTag(b)
	if err != nil {
		return nil, err
	}
	var (
		msg  inter.Message
		derr error
	)
	switch tag {
	case inter.MsgStartBroadcast:
		msg, derr = DecodeStartBroadcast(b)
	case inter.MsgReading:
		msg, derr = DecodeReading(b)
	default:
		msg, derr = DecodeReceipt(b)
	}
	if derr != nil {
		return nil, derr
	}
	return msg, nil
}

func DecodeStartBroadcast(b []byte) (inter.StartBroadcastMsg, error) {
	var out inter.StartBroadcastMsg
	r := reader{buf: b}
	if err := r.tag(inter.MsgStartBroadcast); err != nil {
		return out, err
	}
	target, err := r.deviceID()
	if err != nil {
		return out, err
	}
	session, err := r.u32()
	if err != nil {
		return out, err
	}
	if err := r.done(); err != nil {
		return out, err
	}
	out.TargetID = target
	out.SessionID = inter.SessionID(session)
	return out, nil
}

func DecodeReading(b []byte) (inter.ReadingMsg, error) {
	var out inter.ReadingMsg
	r := reader{buf: b}
	if err := r.tag(inter.MsgReading); err != nil {
		return out, err
	}
	sender, err := r.deviceID()
	if err != nil {
		return out, err
	}
	session, err := r.u32()
	if err != nil {
		return out, err
	}
	offset, err := r.u32()
	if err != nil {
		return out, err
	}
	temp, err := r.u16()
	if err != nil {
		return out, err
	}
	hum, err := r.u16()
	if err != nil {
		return out, err
	}
	if err := r.done(); err != nil {
		return out, err
	}
	return inter.ReadingMsg{
		SenderID:    sender,
		SessionID:   inter.SessionID(session),
		OffsetMs:    offset,
		Temperature: int16(temp),
		Humidity:    hum,
	}, nil
}

func DecodeReceipt(b []byte) (inter.ReceiptMsg, error) {
	var out inter.ReceiptMsg
	r := reader{buf: b}
	if err := r.tag(inter.MsgReceipt); err != nil {
		return out, err
	}
	session, err := r.u32()
	if err != nil {
		return out, err
	}
	upTo, err := r.u32()
	if err != nil {
		return out, err
	}
	if err := r.done(); err != nil {
		return out, err
	}
	out.SessionID = inter.SessionID(session)
	out.UpToOffsetMs = upTo
	return out, nil
}

// reader is a bounds-checked cursor over one payload.
type reader struct {
	buf []byte
	off int
}

func (r *reader) take(n int) ([]byte, error) {
	if len(r.buf)-r.off < n {
		return nil, inter.ErrTruncated
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) tag(want inter.MessageType) error {
	b, err := r.take(1)
	if err != nil {
		return inter.ErrEmptyPayload
	}
	if inter.MessageType(b[0]) != want {
		return inter.ErrUnknownTag
	}
	return nil
}

func (r *reader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) deviceID() (inter.DeviceID, error) {
	b, err := r.take(inter.DeviceIDWireSize)
	if err != nil {
		return 0, err
	}
	return ParseDeviceID(b)
}

func (r *reader) done() error {
	if r.off != len(r.buf) {
		return inter.ErrTrailingBytes
	}
	return nil
}
