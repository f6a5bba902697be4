package forwarder

import "github.com/chengyuegong/Computer-Networks/overlay"

// queueCapacity is the fixed capacity of the inter-thread FIFOs linking the
// Forwarder and the Router: "two bounded FIFO queues per direction
// (capacity 1000) with blocking put and nonblocking poll... producers block
// instead" of ever dropping a packet.
const queueCapacity = 1000

// linkPacket pairs a packet with the link it arrived on or is destined for.
type linkPacket struct {
	pkt  *overlay.Packet
	link int
}

// pktQueue is a bounded FIFO with a blocking Put and a nonblocking Poll,
// backed by a buffered channel. It never drops: Put blocks the producer
// until there is room, giving back-pressure between the Forwarder and
// Router goroutines.
type pktQueue struct {
	ch chan linkPacket
}

func newPktQueue() *pktQueue {
	return &pktQueue{ch: make(chan linkPacket, queueCapacity)}
}

// Put blocks until the packet has been enqueued.
func (q *pktQueue) Put(pkt *overlay.Packet, link int) {
	q.ch <- linkPacket{pkt: pkt, link: link}
}

// Poll returns the oldest queued packet and true, or (nil, 0, false) if the
// queue is currently empty. Never blocks.
func (q *pktQueue) Poll() (*overlay.Packet, int, bool) {
	select {
	case lp := <-q.ch:
		return lp.pkt, lp.link, true
	default:
		return nil, 0, false
	}
}

// Len reports the number of packets currently queued.
func (q *pktQueue) Len() int {
	return len(q.ch)
}
