package stream

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/G1-H25/jenlib/src/inter"
	"github.com/G1-H25/jenlib/src/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	brokerID inter.DeviceID = 0x01
	sensorID inter.DeviceID = 0x2A
)

func linked(t *testing.T) (*Transport, *Transport) {
	t.Helper()
	a, b := net.Pipe()
	broker := New(brokerID, a, AcceptBroadcasts())
	sensor := New(sensorID, b)
	require.True(t, broker.Begin())
	require.True(t, sensor.Begin())
	t.Cleanup(func() {
		broker.End()
		sensor.End()
	})
	return broker, sensor
}

func payload(t *testing.T, m inter.Message) *inter.Payload {
	t.Helper()
	p, err := protocol.Encode(m)
	require.NoError(t, err)
	return &p
}

func TestReadingReachesBroker(t *testing.T) {
	broker, sensor := linked(t)

	var mu sync.Mutex
	var got []inter.ReadingMsg
	var from []inter.DeviceID
	broker.SetReadingCallback(func(s inter.DeviceID, m inter.ReadingMsg) {
		mu.Lock()
		defer mu.Unlock()
		from = append(from, s)
		got = append(got, m)
	})

	want := inter.ReadingMsg{SenderID: sensorID, SessionID: 5, OffsetMs: 1000, Temperature: 2000, Humidity: 5000}
	p := payload(t, want)
	sensor.Advertise(sensorID, p)
	assert.True(t, p.Consumed())

	require.Eventually(t, func() bool {
		broker.Poll()
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, got[0])
	assert.Equal(t, []inter.DeviceID{sensorID}, from)
}

func TestDirectedFrameFiltering(t *testing.T) {
	broker, sensor := linked(t)

	receipts := make(chan inter.ReceiptMsg, 4)
	sensor.SetReceiptCallback(func(_ inter.DeviceID, m inter.ReceiptMsg) { receipts <- m })

	broker.SendTo(0x99, payload(t, inter.ReceiptMsg{SessionID: 5, UpToOffsetMs: 1}))
	broker.SendTo(sensorID, payload(t, inter.ReceiptMsg{SessionID: 5, UpToOffsetMs: 2}))

	require.Eventually(t, func() bool {
		sensor.Poll()
		return len(receipts) > 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint32(2), (<-receipts).UpToOffsetMs)

	// 传感器不接收广播帧
	broker.Advertise(brokerID, payload(t, inter.ReceiptMsg{SessionID: 5, UpToOffsetMs: 3}))
	time.Sleep(20 * time.Millisecond)
	sensor.Poll()
	assert.Empty(t, receipts)
}

func TestReceivePopsRawPayload(t *testing.T) {
	broker, sensor := linked(t)
	sensor.Advertise(sensorID, payload(t, inter.ReceiptMsg{SessionID: 5, UpToOffsetMs: 7}))

	var out inter.Payload
	assert.False(t, sensor.Receive(brokerID, &out), "foreign inbox")
	require.Eventually(t, func() bool { return broker.Receive(inter.BrokerInbox, &out) }, time.Second, 5*time.Millisecond)

	msg, err := protocol.DecodeReceipt(out.Bytes())
	require.NoError(t, err)
	assert.Equal(t, uint32(7), msg.UpToOffsetMs)
}

func TestCorruptFramesAreCountedAndSkipped(t *testing.T) {
	a, b := net.Pipe()
	broker := New(brokerID, a, AcceptBroadcasts())
	require.True(t, broker.Begin())
	defer broker.End()

	good, _ := protocol.Encode(inter.ReceiptMsg{SessionID: 1, UpToOffsetMs: 1})
	frame, _ := Pack(Frame{Kind: KindAdvertise, Sender: sensorID, Payload: good.Bytes()})
	bad := append([]byte(nil), frame...)
	bad[len(bad)-1] ^= 0xFF

	go func() {
		_, _ = b.Write(bad)
		_, _ = b.Write(frame)
	}()

	var out inter.Payload
	require.Eventually(t, func() bool { return broker.Receive(inter.BrokerInbox, &out) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), broker.Corrupt())
	_ = b.Close()
}

func TestLinkEdges(t *testing.T) {
	a, b := net.Pipe()
	tr := New(sensorID, a)
	edges := make(chan bool, 4)
	tr.SetConnectionCallback(func(c bool) { edges <- c })

	require.True(t, tr.Begin())
	tr.Poll()
	tr.Poll()
	require.Len(t, edges, 1)
	assert.True(t, <-edges)

	// 对端关闭：读协程退出，下次 Poll 报告断开
	_ = b.Close()
	require.Eventually(t, func() bool {
		tr.Poll()
		return len(edges) == 1
	}, time.Second, 5*time.Millisecond)
	assert.False(t, <-edges)
	assert.False(t, tr.IsConnected())

	// 断开后发送只记录日志
	p := payload(t, inter.ReceiptMsg{SessionID: 1})
	tr.SendTo(brokerID, p)
	assert.True(t, p.Consumed())

	tr.End()
	assert.Empty(t, edges)
}

func TestBeginWithoutStream(t *testing.T) {
	tr := New(sensorID, nil)
	assert.False(t, tr.Begin())
	assert.NotPanics(t, tr.End)
}
