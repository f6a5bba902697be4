// Package forwarder implements the overlay router's data plane: a
// longest-prefix-match forwarding table and the single-threaded loop that
// shuttles packets between the substrate, the local source/sink, and the
// local Router.
package forwarder

import (
	"context"
	"log/slog"
	"time"

	"github.com/chengyuegong/Computer-Networks/overlay"
)

// Config configures a Forwarder.
type Config struct {
	// MyIP is this node's overlay address, dotted-quad.
	MyIP string

	// PollInterval is the idle-sleep duration used when nothing is ready
	// to process. Default: 1ms.
	PollInterval time.Duration

	// SinkQueueCapacity bounds the number of delivered payloads buffered
	// for the application's Receive() before the forwarder's main loop
	// blocks. Default: 1000.
	SinkQueueCapacity int

	// SourceQueueCapacity bounds the number of payloads the application
	// can have in flight via Send() before it blocks. Default: 1000.
	SourceQueueCapacity int

	// Logger for drop/forward events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Forwarder is the overlay router's data plane.
type Forwarder struct {
	cfg  Config
	log  *slog.Logger
	myIP uint32

	table *Table

	sourceOut *dataQueue[outItem]
	sinkIn    *dataQueue[inItem]

	routerToFwd *pktQueue // Router.SendPkt → Forwarder main loop
	fwdToRouter *pktQueue // Forwarder main loop → Router.ReceivePkt
}

// New creates a Forwarder. MyIP must be a valid dotted-quad address.
func New(cfg Config) (*Forwarder, error) {
	myIP, err := overlay.ParseIP(cfg.MyIP)
	if err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Millisecond
	}
	if cfg.SinkQueueCapacity <= 0 {
		cfg.SinkQueueCapacity = queueCapacity
	}
	if cfg.SourceQueueCapacity <= 0 {
		cfg.SourceQueueCapacity = queueCapacity
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		cfg:         cfg,
		log:         logger.WithGroup("forwarder"),
		myIP:        myIP,
		table:       NewTable(),
		sourceOut:   newDataQueue[outItem](cfg.SourceQueueCapacity),
		sinkIn:      newDataQueue[inItem](cfg.SinkQueueCapacity),
		routerToFwd: newPktQueue(),
		fwdToRouter: newPktQueue(),
	}, nil
}

// Table exposes the forwarding table so the Router (running in its own
// goroutine) can install routes via AddRoute while the forwarder's main
// loop concurrently calls Lookup; the table itself enforces mutual
// exclusion.
func (f *Forwarder) Table() *Table { return f.table }

// --- Source/sink-facing API ---

// Send enqueues a new DATA packet addressed to destAdrString. Blocks if the
// outgoing queue is full. Callable from any goroutine.
func (f *Forwarder) Send(payload []byte, destAdrString string) error {
	destAdr, err := overlay.ParseIP(destAdrString)
	if err != nil {
		return err
	}
	f.sourceOut.Put(outItem{payload: payload, destAdr: destAdr})
	return nil
}

// Ready reports whether Send can be called without blocking.
func (f *Forwarder) Ready() bool {
	return f.sourceOut.Len() < f.sourceOut.Cap()
}

// Receive dequeues the next delivered payload, blocking if none is
// available. Returns the payload and the sender's address as a dotted quad.
func (f *Forwarder) Receive() (payload []byte, srcAdrString string) {
	item := f.sinkIn.Get()
	return item.payload, overlay.FormatIP(item.srcAdr)
}

// Incoming reports whether a delivered payload is available to Receive.
func (f *Forwarder) Incoming() bool {
	return f.sinkIn.Len() > 0
}

// --- Router-facing API, symmetric to the source/sink API ---

// SendPkt enqueues a protocol=2 packet for transmission on link lnk.
// Blocks if the queue is full.
func (f *Forwarder) SendPkt(p *overlay.Packet, lnk int) {
	f.routerToFwd.Put(p, lnk)
}

// Ready4Pkt reports whether SendPkt can be called without blocking.
func (f *Forwarder) Ready4Pkt() bool {
	return f.routerToFwd.Len() < queueCapacity
}

// ReceivePkt dequeues the next router-control packet delivered from the
// substrate, blocking if none is available.
func (f *Forwarder) ReceivePkt() (*overlay.Packet, int) {
	lp := <-f.fwdToRouter.ch
	return lp.pkt, lp.link
}

// IncomingPkt reports whether a router-control packet is available to
// ReceivePkt.
func (f *Forwarder) IncomingPkt() bool {
	return f.fwdToRouter.Len() > 0
}

// Run drives the forwarder's main loop until ctx is cancelled. Each tick
// it runs step() repeatedly while work remains, then idles for
// PollInterval, the Go analogue of a cooperative 1ms-sleep loop.
func (f *Forwarder) Run(ctx context.Context, sub overlay.Substrate) error {
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for f.step(sub) {
			}
		}
	}
}

// step performs exactly one unit of work, in priority order, and reports
// whether it did anything. Returning true lets Run call it again
// immediately instead of waiting for the next tick.
func (f *Forwarder) step(sub overlay.Substrate) bool {
	if sub.Incoming() {
		f.handleInbound(sub)
		return true
	}
	if pkt, lnk, ok := f.routerToFwd.Poll(); ok {
		f.sendOut(sub, pkt, lnk, "router")
		return true
	}
	if item, ok := f.sourceOut.Poll(); ok {
		f.sendData(sub, item)
		return true
	}
	return false
}

func (f *Forwarder) handleInbound(sub overlay.Substrate) {
	pkt, lnk := sub.Receive()

	if pkt.DestAdr == f.myIP {
		switch pkt.Protocol {
		case overlay.ProtoData:
			f.sinkIn.Put(inItem{payload: pkt.Payload, srcAdr: pkt.SrcAdr})
		case overlay.ProtoRouter:
			f.fwdToRouter.Put(pkt, lnk)
		default:
			f.log.Warn("dropping packet with unknown protocol",
				"protocol", pkt.Protocol, "src", overlay.FormatIP(pkt.SrcAdr))
		}
		return
	}

	if pkt.TTL <= 1 {
		f.log.Debug("dropping packet with expired ttl",
			"src", overlay.FormatIP(pkt.SrcAdr), "dest", overlay.FormatIP(pkt.DestAdr))
		return
	}
	pkt.TTL--

	link := f.table.Lookup(pkt.DestAdr)
	if link < 0 {
		f.log.Debug("dropping packet with no matching route",
			"dest", overlay.FormatIP(pkt.DestAdr))
		return
	}
	if !sub.Ready(link) {
		f.log.Debug("dropping packet, substrate not ready", "link", link)
		return
	}
	if err := sub.Send(pkt, link); err != nil {
		f.log.Debug("substrate send failed", "link", link, "error", err)
	}
}

func (f *Forwarder) sendOut(sub overlay.Substrate, pkt *overlay.Packet, lnk int, origin string) {
	if !sub.Ready(lnk) {
		return
	}
	if err := sub.Send(pkt, lnk); err != nil {
		f.log.Debug("substrate send failed", "origin", origin, "link", lnk, "error", err)
	}
}

func (f *Forwarder) sendData(sub overlay.Substrate, item outItem) {
	link := f.table.Lookup(item.destAdr)
	if link < 0 {
		f.log.Debug("dropping source packet with no matching route",
			"dest", overlay.FormatIP(item.destAdr))
		return
	}
	if !sub.Ready(link) {
		f.log.Debug("dropping source packet, substrate not ready", "link", link)
		return
	}
	pkt := &overlay.Packet{
		SrcAdr:   f.myIP,
		DestAdr:  item.destAdr,
		Protocol: overlay.ProtoData,
		TTL:      overlay.DefaultTTL,
		Payload:  item.payload,
	}
	if err := sub.Send(pkt, link); err != nil {
		f.log.Debug("substrate send failed", "link", link, "error", err)
	}
}
