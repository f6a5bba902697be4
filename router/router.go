// Package router implements the overlay's path-vector routing daemon:
// hello/keepalive, EWMA cost tracking, route advertisement, and
// link-failure advertisement.
package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/chengyuegong/Computer-Networks/forwarder"
	"github.com/chengyuegong/Computer-Networks/overlay"
)

const (
	// HelloInterval is how often hellos are sent on every link.
	HelloInterval = 1 * time.Second
	// AdvertInterval is how often the router's own prefix is re-advertised.
	AdvertInterval = 10 * time.Second
)

// Config configures a Router.
type Config struct {
	// MyIP is this router's overlay address, dotted-quad.
	MyIP string

	// Prefix is the single /16-style prefix this router owns and
	// advertises ("pfxList[0]"), e.g. "10.1.0.0/16".
	Prefix string

	// Peers lists the peer IP (dotted-quad) for each fixed link, indexed
	// by link number.
	Peers []string

	// InitialLinkCost seeds each link's EWMA cost estimate before any
	// hello round-trip has completed.
	InitialLinkCost float64

	// FailureAdvertise enables sending fadvert messages when a hello
	// timeout takes a link down.
	FailureAdvertise bool

	// DebugLevel gates routing-table-changed log output: >=1 logs path
	// changes, >=2 also logs on hello-detected link failure.
	DebugLevel int

	// PollInterval is the idle-sleep duration. Default: 1ms.
	PollInterval time.Duration

	// Logger for routing events. Falls back to slog.Default() if nil.
	Logger *slog.Logger

	// nowFn overrides time.Now for deterministic tests.
	nowFn func() time.Time
}

// Router is the overlay's path-vector routing daemon.
type Router struct {
	cfg    Config
	log    *slog.Logger
	myIP   uint32
	prefix overlay.Prefix
	fwd    *forwarder.Forwarder
	links  []*LinkInfo
	rt     *RoutingTable

	start time.Time
	nowFn func() time.Time

	helloTime  float64
	pvSendTime float64
}

// New creates a Router bound to fwd, the Forwarder it drives via
// SendPkt/ReceivePkt. All links are initialized up with InitialLinkCost.
func New(cfg Config, fwd *forwarder.Forwarder) (*Router, error) {
	myIP, err := overlay.ParseIP(cfg.MyIP)
	if err != nil {
		return nil, err
	}
	prefix, err := overlay.ParsePrefix(cfg.Prefix)
	if err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Millisecond
	}
	if cfg.InitialLinkCost <= 0 {
		cfg.InitialLinkCost = 0.01
	}
	if cfg.nowFn == nil {
		cfg.nowFn = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	links := make([]*LinkInfo, len(cfg.Peers))
	for i, peer := range cfg.Peers {
		peerIP, err := overlay.ParseIP(peer)
		if err != nil {
			return nil, err
		}
		links[i] = newLinkInfo(peerIP, cfg.InitialLinkCost)
	}

	return &Router{
		cfg:    cfg,
		log:    logger.WithGroup("router"),
		myIP:   myIP,
		prefix: prefix,
		fwd:    fwd,
		links:  links,
		rt:     newRoutingTable(),
		start:  cfg.nowFn(),
		nowFn:  cfg.nowFn,
	}, nil
}

// Table exposes the routing table for introspection (debug endpoints,
// tests).
func (r *Router) Table() *RoutingTable { return r.rt }

// now returns elapsed seconds since the Router was constructed, matching
// "now = (monotonic_ns − t0)/10⁹".
func (r *Router) now() float64 {
	return r.nowFn().Sub(r.start).Seconds()
}

func (r *Router) isLinkDown(link int) bool {
	if link < 0 || link >= len(r.links) {
		return true
	}
	return r.links[link].Down()
}

// Run drives the router's main loop until ctx is cancelled.
func (r *Router) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for r.step() {
			}
		}
	}
}

// step performs exactly one unit of work in priority order and reports
// whether it did anything.
func (r *Router) step() bool {
	now := r.now()
	switch {
	case now >= r.helloTime+HelloInterval.Seconds():
		r.sendHellos(now)
		r.helloTime = now
		return true
	case now >= r.pvSendTime+AdvertInterval.Seconds():
		r.sendAdverts(now)
		r.pvSendTime = now
		return true
	case r.fwd.IncomingPkt():
		r.handleIncoming(now)
		return true
	default:
		return false
	}
}

// sendHellos runs the hello subprotocol for every link: decaying
// helloState for links that didn't reply since the last tick, detecting
// newly-DOWN links and invalidating/advertising their failure, then
// emitting a fresh hello.
func (r *Router) sendHellos(now float64) {
	for i, link := range r.links {
		wasDown := link.Down()
		link.decay()

		if !wasDown && link.Down() {
			r.onLinkDown(i, link, now)
		}
		link.GotReply = false

		pkt := &overlay.Packet{
			SrcAdr:   r.myIP,
			DestAdr:  link.PeerIP,
			Protocol: overlay.ProtoRouter,
			TTL:      1,
			Payload:  FormatHello(now),
		}
		r.fwd.SendPkt(pkt, i)
	}
}

func (r *Router) onLinkDown(i int, link *LinkInfo, now float64) {
	changed := r.rt.InvalidateByFirstHop(link.PeerIP, now)
	if r.cfg.DebugLevel >= 2 {
		r.logTable("link down", i, link.PeerIP, changed)
	}
	if r.cfg.FailureAdvertise {
		r.sendFailureAdvert(i, link, now)
	}
}

// sendFailureAdvert originates an fadvert for the link that just went down
//, sending it to every other currently-live
// link.
func (r *Router) sendFailureAdvert(downLink int, link *LinkInfo, now float64) {
	hops := []uint32{r.myIP}
	payload := FormatFailureAdvert(r.myIP, link.PeerIP, now, hops)
	r.broadcastExcept(payload, downLink)
}

// sendAdverts periodically re-announces this router's own prefix on every
// link.
func (r *Router) sendAdverts(now float64) {
	payload := FormatAdvert(r.prefix, now, 0, []uint32{r.myIP})
	for i, link := range r.links {
		pkt := &overlay.Packet{
			SrcAdr:   r.myIP,
			DestAdr:  link.PeerIP,
			Protocol: overlay.ProtoRouter,
			TTL:      1,
			Payload:  payload,
		}
		r.fwd.SendPkt(pkt, i)
	}
}

// broadcastExcept sends payload as a router-control packet to every live
// link other than exclude.
func (r *Router) broadcastExcept(payload []byte, exclude int) {
	for i, link := range r.links {
		if i == exclude || link.Down() {
			continue
		}
		pkt := &overlay.Packet{
			SrcAdr:   r.myIP,
			DestAdr:  link.PeerIP,
			Protocol: overlay.ProtoRouter,
			TTL:      1,
			Payload:  payload,
		}
		r.fwd.SendPkt(pkt, i)
	}
}

// handleIncoming dequeues and dispatches the next router-control packet
// delivered by the Forwarder.
func (r *Router) handleIncoming(now float64) {
	pkt, lnk := r.fwd.ReceivePkt()

	msg, err := Parse(pkt.Payload)
	if err != nil {
		r.log.Debug("dropping malformed control packet", "link", lnk, "error", err)
		return
	}

	switch msg.Type {
	case MsgHello:
		r.handleHello(msg, pkt, lnk)
	case MsgHelloEcho:
		r.handleHelloEcho(msg, lnk, now)
	case MsgAdvert:
		r.handleAdvert(msg.Advert, lnk, now)
	case MsgFailureAdvert:
		r.handleFailureAdvert(msg.Failure, lnk, now)
	}
}

func (r *Router) handleHello(msg *Message, pkt *overlay.Packet, lnk int) {
	echo := &overlay.Packet{
		SrcAdr:   r.myIP,
		DestAdr:  pkt.SrcAdr,
		Protocol: overlay.ProtoRouter,
		TTL:      1,
		Payload:  FormatHelloEcho(msg.Timestamp),
	}
	r.fwd.SendPkt(echo, lnk)
}

func (r *Router) handleHelloEcho(msg *Message, lnk int, now float64) {
	if lnk < 0 || lnk >= len(r.links) {
		return
	}
	rtt := now - msg.Timestamp
	if rtt < 0 {
		rtt = 0
	}
	r.links[lnk].recordReply(rtt)
}

// handleAdvert applies advert handling: loop-check, candidate
// construction, route-update policy, data-plane sync, and conditional
// re-advertisement.
func (r *Router) handleAdvert(pv *PathVec, lnk int, now float64) {
	if pv == nil {
		return
	}
	if containsIP(pv.Hops, r.myIP) {
		return // loop prevention
	}
	if lnk < 0 || lnk >= len(r.links) {
		return
	}
	link := r.links[lnk]

	candidate := Route{
		Prefix:    pv.Prefix,
		Timestamp: now,
		Cost:      pv.Cost + link.Cost,
		Path:      pv.Hops,
		OutLink:   lnk,
		Valid:     true,
	}

	pathChanged, _, syncForwarder, applied := r.rt.Update(candidate, r.isLinkDown)
	if !applied {
		return
	}
	if pathChanged && r.cfg.DebugLevel > 0 {
		r.logTable("route changed", lnk, link.PeerIP, []overlay.Prefix{pv.Prefix})
	}
	if syncForwarder {
		r.fwd.Table().AddRoute(pv.Prefix, candidate.OutLink)
	}
	if pathChanged {
		newPath := append([]uint32{r.myIP}, candidate.Path...)
		payload := FormatAdvert(pv.Prefix, now, candidate.Cost, newPath)
		r.broadcastExcept(payload, lnk)
	}
}

// handleFailureAdvert applies the failure-advertisement handler.
func (r *Router) handleFailureAdvert(lf *LinkFail, lnk int, now float64) {
	if lf == nil {
		return
	}
	if containsIP(lf.Hops, r.myIP) {
		return
	}
	changed := r.rt.InvalidateByAdjacentPair(lf.A, lf.B, now)
	if len(changed) == 0 {
		return
	}
	newHops := append([]uint32{r.myIP}, lf.Hops...)
	payload := FormatFailureAdvert(lf.A, lf.B, lf.Timestamp, newHops)
	r.broadcastExcept(payload, lnk)
}

func (r *Router) logTable(reason string, lnk int, peerIP uint32, prefixes []overlay.Prefix) {
	r.log.Debug(reason, "link", lnk, "peer", overlay.FormatIP(peerIP), "prefixes", prefixes,
		"table", r.rt.Snapshot())
}
