package inter

import "errors"

// 解码错误 (decode failures). The caller's only valid response is to discard the message.
var (
	ErrUnknownTag       = errors.New("protocol: unknown message tag")
	ErrTruncated        = errors.New("protocol: payload truncated")
	ErrTrailingBytes    = errors.New("protocol: trailing bytes after message")
	ErrChecksumMismatch = errors.New("protocol: device id checksum mismatch")
	ErrPayloadConsumed  = errors.New("protocol: payload already consumed")
	ErrEmptyPayload     = errors.New("protocol: empty payload")
)

// 状态机错误 (rejected transitions). State is left unchanged.
var (
	ErrInvalidTransition = errors.New("fsm: transition not allowed from current state")
	ErrSessionMismatch   = errors.New("fsm: session id does not match active session")
	ErrSenderMismatch    = errors.New("fsm: sender does not match session peer")
	ErrInvalidSession    = errors.New("fsm: session id must be non-zero")
)

// 容量与参数错误 (capacity exhaustion and bad arguments).
var (
	ErrPayloadFull     = errors.New("payload: capacity exceeded")
	ErrTimerTableFull  = errors.New("timer: table full")
	ErrInvalidInterval = errors.New("timer: interval must be greater than zero")
	ErrNilCallback     = errors.New("callback must not be nil")
	ErrTimerNotFound   = errors.New("timer: not found")
	ErrEventNotFound   = errors.New("event: registration not found")
)

// 外围错误 (outer layers).
var (
	ErrNotConnected  = errors.New("transport: link is down")
	ErrFrameCorrupt  = errors.New("transport: frame checksum mismatch")
	ErrInvalidConfig = errors.New("config: invalid configuration")
	ErrStoreNotFound = errors.New("store: session not found")
)
