package inter

import "encoding/binary"

// Payload is a fixed-capacity wire buffer. Appends are the only growth path.
//
// A payload has a single owner at a time. Move hands the contents to a new owner and
// leaves the source empty and marked consumed, so a buffer that was already handed to a
// transport or decoder cannot be read again as if it still held data.
type Payload struct {
	buf      [PayloadCapacity]byte
	n        int
	consumed bool
}

// NewPayload copies b into a new payload.
func NewPayload(b []byte) (Payload, error) {
	var p Payload
	if err := p.SetBytes(b); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// Append adds bytes. On overflow the payload is left unchanged.
func (p *Payload) Append(b ...byte) error {
	if p.n+len(b) > PayloadCapacity {
		return ErrPayloadFull
	}
	copy(p.buf[p.n:], b)
	p.n += len(b)
	p.consumed = false
	return nil
}

func (p *Payload) AppendUint16(v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return p.Append(b[:]...)
}

func (p *Payload) AppendUint32(v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return p.Append(b[:]...)
}

// SetBytes replaces the contents with b.
func (p *Payload) SetBytes(b []byte) error {
	if len(b) > PayloadCapacity {
		return ErrPayloadFull
	}
	p.n = copy(p.buf[:], b)
	p.consumed = false
	return nil
}

// Bytes returns a view of the current contents. It is only valid until the next mutation.
func (p *Payload) Bytes() []byte { return p.buf[:p.n] }

func (p *Payload) Len() int { return p.n }

func (p *Payload) Cap() int { return PayloadCapacity }

func (p *Payload) Empty() bool { return p.n == 0 }

// Consumed reports whether the contents were moved out and nothing was written since.
func (p *Payload) Consumed() bool { return p.consumed }

// Reset empties the payload without marking it consumed.
func (p *Payload) Reset() {
	p.n = 0
	p.consumed = false
}

// Move transfers the contents to the returned payload and empties p.
func (p *Payload) Move() Payload {
	out := Payload{buf: p.buf, n: p.n}
	p.n = 0
	p.consumed = true
	return out
}
