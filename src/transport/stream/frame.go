package stream

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/G1-H25/jenlib/src/inter"
	"github.com/sigurn/crc16"
)

// Frame layout (little endian):
//
//	0xA5 0x5A | kind u8 | sender u32 | dest u32 | len u8 | payload | crc16 u16
//
// The CRC-16/MODBUS covers kind through payload.
const (
	Sync0 = 0xA5
	Sync1 = 0x5A

	HeaderSize  = 10 // kind..len
	TrailerSize = 2
	MaxFrame    = 2 + HeaderSize + inter.PayloadCapacity + TrailerSize
)

type Kind uint8

const (
	KindDirected  Kind = 1
	KindAdvertise Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindDirected:
		return "directed"
	case KindAdvertise:
		return "advertise"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

type Frame struct {
	Kind    Kind
	Sender  inter.DeviceID
	Dest    inter.DeviceID
	Payload []byte
}

// 初始化 Modbus CRC16 表
var modbusTable = crc16.MakeTable(crc16.CRC16_MODBUS)

func crc16Modbus(data []byte) uint16 {
	return crc16.Checksum(data, modbusTable)
}

// Pack serialises f.
func Pack(f Frame) ([]byte, error) {
	if len(f.Payload) > inter.PayloadCapacity {
		return nil, fmt.Errorf("stream: payload too large: %d: %w", len(f.Payload), inter.ErrPayloadFull)
	}
	if f.Kind != KindDirected && f.Kind != KindAdvertise {
		return nil, fmt.Errorf("stream: unknown frame kind %d: %w", f.Kind, inter.ErrFrameCorrupt)
	}
	buf := make([]byte, 2+HeaderSize, 2+HeaderSize+len(f.Payload)+TrailerSize)
	buf[0], buf[1] = Sync0, Sync1
	buf[2] = byte(f.Kind)
	binary.LittleEndian.PutUint32(buf[3:], uint32(f.Sender))
	binary.LittleEndian.PutUint32(buf[7:], uint32(f.Dest))
	buf[11] = byte(len(f.Payload))
	buf = append(buf, f.Payload...)
	buf = binary.LittleEndian.AppendUint16(buf, crc16Modbus(buf[2:]))
	return buf, nil
}

// Unpack reads the next frame, skipping any bytes before a sync pair.
// A bad length, kind or CRC returns ErrFrameCorrupt; the stream stays usable.
// Only the sync pair of a corrupt frame is consumed, so the next call hunts
// again from the byte after it and a damaged length cannot swallow the frame
// that follows. I/O errors are returned as is.
func Unpack(r *bufio.Reader) (Frame, error) {
	if err := hunt(r); err != nil {
		return Frame{}, err
	}

	header, err := peek(r, HeaderSize)
	if err != nil {
		return Frame{}, err
	}
	kind := Kind(header[0])
	length := int(header[9])
	if length > inter.PayloadCapacity {
		return Frame{}, fmt.Errorf("stream: length %d: %w", length, inter.ErrFrameCorrupt)
	}

	size := HeaderSize + length + TrailerSize
	raw, err := peek(r, size)
	if err != nil {
		return Frame{}, err
	}
	expected := binary.LittleEndian.Uint16(raw[HeaderSize+length:])
	actual := crc16Modbus(raw[:HeaderSize+length])
	if expected != actual {
		return Frame{}, fmt.Errorf("stream: crc expected 0x%04X, got 0x%04X: %w", expected, actual, inter.ErrFrameCorrupt)
	}
	if kind != KindDirected && kind != KindAdvertise {
		return Frame{}, fmt.Errorf("stream: kind %d: %w", kind, inter.ErrFrameCorrupt)
	}

	// Peek 的数据在 Discard 之后失效，先复制 payload
	payload := make([]byte, length)
	copy(payload, raw[HeaderSize:])
	f := Frame{
		Kind:    kind,
		Sender:  inter.DeviceID(binary.LittleEndian.Uint32(raw[1:])),
		Dest:    inter.DeviceID(binary.LittleEndian.Uint32(raw[5:])),
		Payload: payload,
	}
	if _, err := r.Discard(size); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// peek reports a frame cut short by the end of the stream as io.ErrUnexpectedEOF.
func peek(r *bufio.Reader, n int) ([]byte, error) {
	b, err := r.Peek(n)
	if err == io.EOF && len(b) > 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return b, err
}

func hunt(r *bufio.Reader) error {
	prev := byte(0)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if prev == Sync0 && b == Sync1 {
			return nil
		}
		prev = b
	}
}
