package protocol

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/G1-H25/jenlib/src/inter"
)

// =============================================================================
// 辅助函数与变量
// =============================================================================

var sampleMessages = []struct {
	name string
	msg  inter.Message
	size int
}{
	{"start broadcast", inter.StartBroadcastMsg{TargetID: 0x12345678, SessionID: 42}, StartBroadcastSize},
	{"start broadcast max ids", inter.StartBroadcastMsg{TargetID: math.MaxUint32, SessionID: math.MaxUint32}, StartBroadcastSize},
	{"reading", inter.ReadingMsg{SenderID: 0x2A, SessionID: 7, OffsetMs: 1000, Temperature: -250, Humidity: 5000}, ReadingSize},
	{"reading extremes", inter.ReadingMsg{SenderID: 0xDEADBEEF, SessionID: 1, OffsetMs: math.MaxUint32, Temperature: math.MinInt16, Humidity: 10000}, ReadingSize},
	{"receipt", inter.ReceiptMsg{SessionID: 7, UpToOffsetMs: 3000}, ReceiptSize},
	{"receipt zero", inter.ReceiptMsg{}, ReceiptSize},
}

func mustEncode(t *testing.T, m inter.Message) []byte {
	t.Helper()
	p, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return append([]byte(nil), p.Bytes()...)
}

// =============================================================================
// 单元测试 (Unit Tests)
// =============================================================================

func TestChecksumVectors(t *testing.T) {
	tests := []struct {
		in   []byte
		want byte
	}{
		{[]byte{}, 0x00},
		{[]byte{0x00}, 0x00},
		{[]byte{0x12, 0x34, 0x56, 0x78}, 0x1C},
		{[]byte{0xFF, 0xFF, 0xFF, 0xFF}, 0xDE},
		{[]byte{0xAA, 0x55, 0xAA, 0x55}, 0xB1},
	}
	for _, tt := range tests {
		if got := Checksum(tt.in); got != tt.want {
			t.Errorf("Checksum(% X) = 0x%02X, want 0x%02X", tt.in, got, tt.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, tt := range sampleMessages {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Encode(tt.msg)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if p.Len() != tt.size {
				t.Errorf("encoded length = %d, want %d", p.Len(), tt.size)
			}
			got, err := Decode(&p)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if got != tt.msg {
				t.Errorf("round trip mismatch: got %+v, want %+v", got, tt.msg)
			}
		})
	}
}

// 测试：字节级布局 (little-endian, device id + crc8)
func TestReadingWireLayout(t *testing.T) {
	msg := inter.ReadingMsg{SenderID: 0x12345678, SessionID: 7, OffsetMs: 1000, Temperature: -250, Humidity: 5000}
	want := []byte{
		0x02,
		0x78, 0x56, 0x34, 0x12, 0x08,
		0x07, 0x00, 0x00, 0x00,
		0xE8, 0x03, 0x00, 0x00,
		0x06, 0xFF,
		0x88, 0x13,
	}
	if got := mustEncode(t, msg); !bytes.Equal(got, want) {
		t.Errorf("encoded = % X, want % X", got, want)
	}
}

func TestStartBroadcastWireLayout(t *testing.T) {
	msg := inter.StartBroadcastMsg{TargetID: 0x55AA55AA, SessionID: 0x01020304}
	want := []byte{0x01, 0xAA, 0x55, 0xAA, 0x55, 0xB1, 0x04, 0x03, 0x02, 0x01}
	if got := mustEncode(t, msg); !bytes.Equal(got, want) {
		t.Errorf("encoded = % X, want % X", got, want)
	}
}

// 测试：单比特翻转必须被检测
func TestDeviceIDTamperDetection(t *testing.T) {
	base := mustEncode(t, inter.StartBroadcastMsg{TargetID: 0x78563412, SessionID: 1})
	// device id occupies bytes 1..5, checksum at 5
	for byteIdx := 1; byteIdx <= 5; byteIdx++ {
		for bit := 0; bit < 8; bit++ {
			data := append([]byte(nil), base...)
			data[byteIdx] ^= 1 << bit
			if _, err := DecodeBytes(data); !errors.Is(err, inter.ErrChecksumMismatch) {
				t.Errorf("flip byte %d bit %d: err = %v, want ErrChecksumMismatch", byteIdx, bit, err)
			}
		}
	}
}

func TestDeviceIDFlipBitZero(t *testing.T) {
	raw := []byte{0x12, 0x34, 0x56, 0x78, 0x1C}
	if _, err := ParseDeviceID(raw); err != nil {
		t.Fatalf("ParseDeviceID on valid bytes failed: %v", err)
	}
	raw[0] ^= 0x01
	if _, err := ParseDeviceID(raw); !errors.Is(err, inter.ErrChecksumMismatch) {
		t.Errorf("err = %v, want ErrChecksumMismatch", err)
	}
}

func TestDecodeStrictLength(t *testing.T) {
	for _, tt := range sampleMessages {
		t.Run(tt.name, func(t *testing.T) {
			full := mustEncode(t, tt.msg)

			if _, err := DecodeBytes(append(full, 0x00)); !errors.Is(err, inter.ErrTrailingBytes) {
				t.Errorf("trailing byte: err = %v, want ErrTrailingBytes", err)
			}
			for n := 1; n < len(full); n++ {
				if _, err := DecodeBytes(full[:n]); !errors.Is(err, inter.ErrTruncated) {
					t.Errorf("truncated to %d: err = %v, want ErrTruncated", n, err)
				}
			}
		})
	}
}

func TestDecodeInvalidPayloads(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"nil data", nil, inter.ErrEmptyPayload},
		{"unknown tag", []byte{0x09, 0x00}, inter.ErrUnknownTag},
		{"shim marker is not a tag", []byte{inter.ShimMarker, 1, 2, 3, 4}, inter.ErrUnknownTag},
		{"zero tag", []byte{0x00}, inter.ErrUnknownTag},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeBytes(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if msg != nil {
				t.Errorf("msg = %+v, want nil", msg)
			}
		})
	}
}

// 测试：针对特定类型的解码器拒绝其他标签
func TestTypedDecoderRejectsOtherTag(t *testing.T) {
	data := mustEncode(t, inter.ReceiptMsg{SessionID: 1, UpToOffsetMs: 2})
	if _, err := DecodeReading(data); !errors.Is(err, inter.ErrUnknownTag) {
		t.Errorf("DecodeReading(receipt) err = %v, want ErrUnknownTag", err)
	}
	if _, err := DecodeStartBroadcast(data); !errors.Is(err, inter.ErrUnknownTag) {
		t.Errorf("DecodeStartBroadcast(receipt) err = %v, want ErrUnknownTag", err)
	}
}

func TestDecodeFailureIsIdempotent(t *testing.T) {
	data := mustEncode(t, inter.ReadingMsg{SenderID: 1, SessionID: 1})
	data[3] ^= 0x80
	p, err := inter.NewPayload(data)
	if err != nil {
		t.Fatalf("NewPayload failed: %v", err)
	}
	_, err1 := Decode(&p)
	_, err2 := Decode(&p)
	if err1 == nil || !errors.Is(err2, err1) {
		t.Errorf("decode errors differ or nil: %v / %v", err1, err2)
	}
	if !bytes.Equal(p.Bytes(), data) {
		t.Error("Decode modified the payload")
	}
}

func TestDecodeConsumedPayload(t *testing.T) {
	p, err := Encode(inter.ReceiptMsg{SessionID: 3, UpToOffsetMs: 4})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	moved := p.Move()
	if _, err := Decode(&p); !errors.Is(err, inter.ErrPayloadConsumed) {
		t.Errorf("Decode(moved-from) err = %v, want ErrPayloadConsumed", err)
	}
	if _, err := Decode(&moved); err != nil {
		t.Errorf("Decode(moved-to) failed: %v", err)
	}
}

func TestEncodeIntoOverflowLeavesPayloadUnchanged(t *testing.T) {
	var p inter.Payload
	filler := bytes.Repeat([]byte{0xAB}, inter.PayloadCapacity-ReadingSize+1)
	if err := p.Append(filler...); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	err := EncodeInto(&p, inter.ReadingMsg{SenderID: 1, SessionID: 1})
	if !errors.Is(err, inter.ErrPayloadFull) {
		t.Fatalf("err = %v, want ErrPayloadFull", err)
	}
	if !bytes.Equal(p.Bytes(), filler) {
		t.Errorf("payload changed after failed encode: % X", p.Bytes())
	}
}

func TestEncodeNilMessage(t *testing.T) {
	if _, err := Encode(nil); !errors.Is(err, inter.ErrUnknownTag) {
		t.Errorf("Encode(nil) err = %v, want ErrUnknownTag", err)
	}
}

func TestConversionSaturates(t *testing.T) {
	if got := HumidityFromPercent(120); got != inter.MaxHumidity {
		t.Errorf("HumidityFromPercent(120) = %d", got)
	}
	if got := HumidityFromPercent(-3); got != 0 {
		t.Errorf("HumidityFromPercent(-3) = %d", got)
	}
	if got := HumidityFromPercent(45.678); got != 4568 {
		t.Errorf("HumidityFromPercent(45.678) = %d", got)
	}
	if got := TemperatureFromCelsius(-12.345); got != -1235 {
		t.Errorf("TemperatureFromCelsius(-12.345) = %d", got)
	}
	if got := TemperatureFromCelsius(1e6); got != math.MaxInt16 {
		t.Errorf("TemperatureFromCelsius(1e6) = %d", got)
	}
	if got := TemperatureFromCelsius(math.NaN()); got != 0 {
		t.Errorf("TemperatureFromCelsius(NaN) = %d", got)
	}
	r := NewReading(1, 2, 3, 21.5, 40.25)
	if r.Celsius() != 21.5 || r.Percent() != 40.25 {
		t.Errorf("NewReading round trip = %v / %v", r.Celsius(), r.Percent())
	}
}
