package rdt

// Substrate is the unreliable point-to-point channel a Transport rides on:
// unlike the overlay's link-indexed Substrate, an RDT connection has
// exactly one peer, so there is no link number to carry.
type Substrate interface {
	// Incoming reports whether a packet is ready to be dequeued by Receive.
	Incoming() bool
	// Receive dequeues the next inbound packet. Only valid when Incoming()
	// is true.
	Receive() *Packet
	// Ready reports whether Send can be called without blocking.
	Ready() bool
	// Send transmits a packet. May still be dropped transiently by the
	// substrate; the failure model guarantees no corruption.
	Send(pkt *Packet) error
}
