package overlay

import (
	"encoding/binary"
	"errors"
)

// Protocol identifies what owns a packet once it reaches its destination.
const (
	ProtoData   uint8 = 1 // delivered to the local source/sink
	ProtoRouter uint8 = 2 // delivered to the local Router's control plane
)

// DefaultTTL is the hop count assigned to packets originated locally.
const DefaultTTL = 100

// headerSize is the encoded size of everything but Payload: srcAdr(4) +
// destAdr(4) + protocol(1) + ttl(1) + payload length(2).
const headerSize = 4 + 4 + 1 + 1 + 2

// MaxPayload bounds the text payload carried by a Packet.
const MaxPayload = 4096

var (
	// ErrPacketTooShort is returned by ReadFrom when data is truncated.
	ErrPacketTooShort = errors.New("overlay: packet too short")
	// ErrPayloadTooLong is returned when encoding a payload over MaxPayload.
	ErrPayloadTooLong = errors.New("overlay: payload too long")
)

// Packet is the overlay's wire packet: a 32-bit source/destination
// pair, a protocol discriminator, a decrementing TTL, and a bounded text
// payload.
type Packet struct {
	SrcAdr  uint32
	DestAdr uint32
	Protocol uint8
	TTL      uint8
	Payload  []byte
}

// Clone returns a deep copy, so queued packets can be mutated (TTL
// decrement, path rewriting) without aliasing a sender's buffer.
func (p *Packet) Clone() *Packet {
	c := *p
	if len(p.Payload) > 0 {
		c.Payload = make([]byte, len(p.Payload))
		copy(c.Payload, p.Payload)
	}
	return &c
}

// WriteTo encodes the packet to its stable wire form.
func (p *Packet) WriteTo() ([]byte, error) {
	if len(p.Payload) > MaxPayload {
		return nil, ErrPayloadTooLong
	}
	buf := make([]byte, headerSize+len(p.Payload))
	binary.BigEndian.PutUint32(buf[0:4], p.SrcAdr)
	binary.BigEndian.PutUint32(buf[4:8], p.DestAdr)
	buf[8] = p.Protocol
	buf[9] = p.TTL
	binary.BigEndian.PutUint16(buf[10:12], uint16(len(p.Payload)))
	copy(buf[12:], p.Payload)
	return buf, nil
}

// ReadFrom decodes a packet previously produced by WriteTo.
func (p *Packet) ReadFrom(data []byte) error {
	if len(data) < headerSize {
		return ErrPacketTooShort
	}
	p.SrcAdr = binary.BigEndian.Uint32(data[0:4])
	p.DestAdr = binary.BigEndian.Uint32(data[4:8])
	p.Protocol = data[8]
	p.TTL = data[9]
	n := int(binary.BigEndian.Uint16(data[10:12]))
	if len(data) < headerSize+n {
		return ErrPacketTooShort
	}
	p.Payload = make([]byte, n)
	copy(p.Payload, data[12:12+n])
	return nil
}
