package overlay

// Substrate is the external collaborator owning the packet transport: it owns
// the per-link datagram sockets and admission control, and is the only
// component that actually touches a network or serial connection. The
// Forwarder and Router both sit on top of one Substrate implementation,
// indexing neighbors by a fixed link number.
//
// Implementations live under the substrate/ tree (udpsub, serialsub,
// mqttsub); this interface is intentionally narrow so tests can supply an
// in-memory fake without pulling in real I/O.
type Substrate interface {
	// Incoming reports whether a packet is ready to be dequeued by Receive.
	Incoming() bool
	// Receive dequeues the next inbound packet and the link it arrived on.
	// Only valid to call when Incoming() is true.
	Receive() (*Packet, int)
	// Ready reports whether Send(pkt, link) can be called without blocking.
	Ready(link int) bool
	// Send transmits a packet on the given link. Send is only called after
	// Ready(link) returned true; substrates may still drop transiently.
	Send(pkt *Packet, link int) error
	// LinkCount returns the number of fixed neighbor links.
	LinkCount() int
}
