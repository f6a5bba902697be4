// Package rdt implements a go-back-N sliding-window reliable transport over
// an unreliable point-to-point packet substrate.
package rdt

import (
	"encoding/binary"
	"errors"

	"github.com/chengyuegong/Computer-Networks/core/codec"
)

// Packet types.
const (
	TypeData uint8 = 0
	TypeAck  uint8 = 1
)

// headerSize is srcType(1) + seqNum(2) + payload length(2) + checksum(2).
const headerSize = 1 + 2 + 2 + 2

// MaxPayload bounds a single DATA packet's payload.
const MaxPayload = 4096

// ErrPacketTooShort is returned by ReadFrom when data is truncated.
var ErrPacketTooShort = errors.New("rdt: packet too short")

// ErrChecksumMismatch is returned by ReadFrom when the Fletcher-16 checksum
// carried in the header doesn't match the decoded payload (the checksum
// covers the payload bytes only). The substrate is
// assumed not to corrupt packets, so in practice this only
// fires against a hand-crafted or fuzzed input.
var ErrChecksumMismatch = errors.New("rdt: checksum mismatch")

// ErrPayloadTooLong is returned when encoding a payload over MaxPayload.
var ErrPayloadTooLong = errors.New("rdt: payload too long")

// Packet is the wire unit exchanged between two Transports. SeqNum is
// carried as a 16-bit field even though the sequence space S = 2W is
// bounded by W ≤ 2¹⁴−1, so it never wraps the wire representation.
type Packet struct {
	Type    uint8
	SeqNum  int
	Payload []byte
}

// WriteTo encodes p to its stable wire form.
func (p *Packet) WriteTo() ([]byte, error) {
	if len(p.Payload) > MaxPayload {
		return nil, ErrPayloadTooLong
	}
	buf := make([]byte, headerSize+len(p.Payload))
	buf[0] = p.Type
	binary.BigEndian.PutUint16(buf[1:3], uint16(p.SeqNum))
	binary.BigEndian.PutUint16(buf[3:5], uint16(len(p.Payload)))
	copy(buf[7:], p.Payload)
	binary.BigEndian.PutUint16(buf[5:7], codec.Fletcher16(buf[7:]))
	return buf, nil
}

// ReadFrom decodes a packet previously produced by WriteTo.
func (p *Packet) ReadFrom(data []byte) error {
	if len(data) < headerSize {
		return ErrPacketTooShort
	}
	p.Type = data[0]
	p.SeqNum = int(binary.BigEndian.Uint16(data[1:3]))
	sum := binary.BigEndian.Uint16(data[5:7])
	n := int(binary.BigEndian.Uint16(data[3:5]))
	if len(data) < headerSize+n {
		return ErrPacketTooShort
	}
	if !codec.ValidateChecksum(data[headerSize:headerSize+n], sum) {
		return ErrChecksumMismatch
	}
	p.Payload = make([]byte, n)
	copy(p.Payload, data[headerSize:headerSize+n])
	return nil
}

// Clone returns a deep copy so a retransmitted packet doesn't alias the
// buffer the sender originally stored in sendBuf.
func (p *Packet) Clone() *Packet {
	c := *p
	if len(p.Payload) > 0 {
		c.Payload = make([]byte, len(p.Payload))
		copy(c.Payload, p.Payload)
	}
	return &c
}
