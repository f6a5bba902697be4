package dht

// Substrate is the DHT server's single UDP socket abstraction: every
// packet is addressed, unlike the overlay's link-indexed Substrate or RDT's
// point-to-point one.
type Substrate interface {
	// Incoming reports whether a packet is ready to be dequeued by Receive.
	Incoming() bool
	// Receive dequeues the next inbound packet and the sender's address.
	Receive() (msg *Message, from string)
	// Ready reports whether Send(msg, to) can be called without blocking.
	Ready(to string) bool
	// Send transmits msg to the given "ip:port" address.
	Send(msg *Message, to string) error
}
