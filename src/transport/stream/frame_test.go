package stream

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/G1-H25/jenlib/src/inter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC16Modbus(t *testing.T) {
	assert.Equal(t, uint16(0x4B37), crc16Modbus([]byte("123456789")))
}

func TestPackLayout(t *testing.T) {
	buf, err := Pack(Frame{Kind: KindDirected, Sender: 1, Dest: 0x2A, Payload: []byte{0x03}})
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0xA5, 0x5A,
		0x01,
		0x01, 0x00, 0x00, 0x00,
		0x2A, 0x00, 0x00, 0x00,
		0x01,
		0x03,
		0x15, 0x86,
	}, buf)
}

func TestPackRejects(t *testing.T) {
	_, err := Pack(Frame{Kind: KindAdvertise, Payload: make([]byte, inter.PayloadCapacity+1)})
	assert.True(t, errors.Is(err, inter.ErrPayloadFull))
	_, err = Pack(Frame{Kind: 9})
	assert.True(t, errors.Is(err, inter.ErrFrameCorrupt))
}

func TestUnpackRoundTripWithNoise(t *testing.T) {
	a := Frame{Kind: KindAdvertise, Sender: 0x12345678, Dest: inter.BrokerInbox, Payload: []byte{1, 2, 3}}
	b := Frame{Kind: KindDirected, Sender: 1, Dest: 2, Payload: []byte{}}
	pa, _ := Pack(a)
	pb, _ := Pack(b)

	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0xA5, 0x11}) // 噪声，包括一个孤立的同步字节
	stream.Write(pa)
	stream.Write(pb)
	r := bufio.NewReader(&stream)

	got, err := Unpack(r)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	got, err = Unpack(r)
	require.NoError(t, err)
	assert.Equal(t, b.Kind, got.Kind)
	assert.Empty(t, got.Payload)

	_, err = Unpack(r)
	assert.Equal(t, io.EOF, err)
}

func TestUnpackCorruption(t *testing.T) {
	good, _ := Pack(Frame{Kind: KindDirected, Sender: 1, Dest: 2, Payload: []byte{9, 9}})

	t.Run("bad crc", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		bad[12] ^= 0x01
		_, err := Unpack(bufio.NewReader(bytes.NewReader(bad)))
		assert.True(t, errors.Is(err, inter.ErrFrameCorrupt))
	})

	t.Run("oversize length", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		bad[11] = inter.PayloadCapacity + 1
		_, err := Unpack(bufio.NewReader(bytes.NewReader(bad)))
		assert.True(t, errors.Is(err, inter.ErrFrameCorrupt))
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := Unpack(bufio.NewReader(bytes.NewReader(good[:len(good)-1])))
		assert.Equal(t, io.ErrUnexpectedEOF, err)
	})

	t.Run("stream recovers after a corrupt frame", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		bad[len(bad)-1] ^= 0xFF
		r := bufio.NewReader(bytes.NewReader(append(bad, good...)))
		_, err := Unpack(r)
		require.True(t, errors.Is(err, inter.ErrFrameCorrupt))
		f, err := Unpack(r)
		require.NoError(t, err)
		assert.Equal(t, []byte{9, 9}, f.Payload)
	})

	t.Run("damaged length does not swallow the next frame", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		bad[11] = 20 // 声称的长度覆盖了后面的完整帧
		r := bufio.NewReader(bytes.NewReader(append(append(bad, good...), good...)))
		_, err := Unpack(r)
		require.True(t, errors.Is(err, inter.ErrFrameCorrupt))
		for i := 0; i < 2; i++ {
			f, err := Unpack(r)
			require.NoError(t, err, "frame %d", i)
			assert.Equal(t, []byte{9, 9}, f.Payload)
		}
		_, err = Unpack(r)
		assert.Equal(t, io.EOF, err)
	})

	t.Run("oversize length keeps the next frame", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		bad[11] = inter.PayloadCapacity + 1
		r := bufio.NewReader(bytes.NewReader(append(bad, good...)))
		_, err := Unpack(r)
		require.True(t, errors.Is(err, inter.ErrFrameCorrupt))
		f, err := Unpack(r)
		require.NoError(t, err)
		assert.Equal(t, inter.DeviceID(2), f.Dest)
	})
}
