package dht

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/chengyuegong/Computer-Networks/core/clock"
)

// maxConcurrentTransfers bounds how many transfer sends handleJoin/Leave
// issue at once during a key migration, so a node splitting a large
// keyspace doesn't flood its own outbound queue.
const maxConcurrentTransfers = 8

// DefaultTTL bounds how many forwarding hops a get/put may take before
// being dropped.
const DefaultTTL = 32

// ErrMissingAddress rejects a Config with no MyAdr.
var ErrMissingAddress = errors.New("dht: MyAdr is required")

// ErrNotReady is returned when the substrate can't accept a send this
// iteration; the caller treats it as transient.
var ErrNotReady = errors.New("dht: substrate not ready")

// Config configures a Server.
type Config struct {
	// MyAdr is this node's "ip:port" address.
	MyAdr string

	// NumRoutes bounds the shortcut routing table. Default: 8.
	NumRoutes int

	// CacheCapacity enables the optional per-key value cache when > 0.
	CacheCapacity int

	// CfgFile, if set, receives this node's "<ip> <port>" line on startup
	//.
	CfgFile string

	// DebugLevel is stored with the configuration; the server emits no
	// route-table-changed log output at any level.
	DebugLevel int

	// PollInterval is the idle-sleep duration. Default: 1ms.
	PollInterval time.Duration

	// Logger falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Server is one node of the Chord ring.
type Server struct {
	cfg Config
	log *slog.Logger

	myAdr string

	mu        sync.RWMutex
	myInfo    NodeInfo
	predInfo  *NodeInfo
	succInfo  *NodeInfo
	hashRange HashRange

	kvMu sync.Mutex
	kv   map[string]string

	cache  *fifoCache
	routes *routeTable

	stopFlag atomic.Bool
	tagClock *clock.Clock
}

// New creates a Server that initially owns the entire ring; call Join to
// attach to an existing ring instead of starting one.
func New(cfg Config) (*Server, error) {
	if cfg.MyAdr == "" {
		return nil, ErrMissingAddress
	}
	if cfg.NumRoutes <= 0 {
		cfg.NumRoutes = 8
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		log:       logger.WithGroup("dht"),
		myAdr:     cfg.MyAdr,
		myInfo:    NodeInfo{Adr: cfg.MyAdr, FirstHash: 0},
		hashRange: HashRange{Left: 0, Right: ringSize - 1},
		kv:        make(map[string]string),
		routes:    newRouteTable(cfg.NumRoutes),
		tagClock:  clock.New(),
	}
	if cfg.CacheCapacity > 0 {
		s.cache = newFIFOCache(cfg.CacheCapacity)
	}
	if cfg.CfgFile != "" {
		if err := persistCfgFile(cfg.CfgFile, cfg.MyAdr); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func persistCfgFile(path, adr string) error {
	host, port, err := net.SplitHostPort(adr)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(host+" "+port+"\n"), 0o644)
}

// HashRange returns this node's current range.
func (s *Server) HashRange() HashRange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hashRange
}

// MyInfo returns this node's current ring identity.
func (s *Server) MyInfo() NodeInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.myInfo
}

// RouteTableLen exposes the shortcut routing table's size for debug/tests.
func (s *Server) RouteTableLen() int { return s.routes.len() }

// Snapshot reports this node's current ring state for introspection
// tooling (debugsrv).
type Snapshot struct {
	MyInfo    NodeInfo
	PredInfo  *NodeInfo
	SuccInfo  *NodeInfo
	HashRange HashRange
	Routes    []NodeInfo
	NumKeys   int
}

// Snapshot returns this node's current ring state.
func (s *Server) Snapshot() Snapshot {
	s.mu.RLock()
	snap := Snapshot{
		MyInfo:    s.myInfo,
		PredInfo:  s.predInfo,
		SuccInfo:  s.succInfo,
		HashRange: s.hashRange,
		Routes:    s.routes.snapshot(),
	}
	s.mu.RUnlock()

	s.kvMu.Lock()
	snap.NumKeys = len(s.kv)
	s.kvMu.Unlock()
	return snap
}

func (s *Server) nextTag() int {
	return int(s.tagClock.GetCurrentTimeUnique())
}

func (s *Server) send(sub Substrate, msg *Message, to string) error {
	if !sub.Ready(to) {
		return ErrNotReady
	}
	return sub.Send(msg, to)
}

// Join attaches this node to the ring through predAdr, blocking until the
// predecessor's success reply arrives.
func (s *Server) Join(sub Substrate, predAdr string) error {
	tag := s.nextTag()
	if err := s.send(sub, &Message{Type: TypeJoin, Tag: tag}, predAdr); err != nil {
		return err
	}
	for {
		if !sub.Incoming() {
			time.Sleep(time.Millisecond)
			continue
		}
		reply, from := sub.Receive()
		if reply.Tag != tag || reply.HashRange == nil {
			s.dispatch(sub, reply, from)
			continue
		}

		s.mu.Lock()
		s.hashRange = *reply.HashRange
		s.succInfo = reply.SuccInfo
		s.predInfo = reply.PredInfo
		s.myInfo = NodeInfo{Adr: s.myAdr, FirstHash: reply.HashRange.Left}
		myInfo := s.myInfo
		s.mu.Unlock()

		if reply.SuccInfo != nil {
			s.routes.addRoute(*reply.SuccInfo, myInfo, *reply.SuccInfo)
		}
		return nil
	}
}

// handleJoin splits this node's range at its midpoint and hands the upper
// half to the joiner.
func (s *Server) handleJoin(sub Substrate, msg *Message, fromAdr string) {
	s.mu.Lock()
	oldRight := s.hashRange.Right
	mid := s.hashRange.Left + (oldRight-s.hashRange.Left+1)/2
	oldSucc := s.succInfo
	myInfo := s.myInfo

	joinerInfo := NodeInfo{Adr: fromAdr, FirstHash: mid}
	reply := &Message{Type: TypeSuccess, Tag: msg.Tag, HashRange: &HashRange{Left: mid, Right: oldRight}}
	if oldSucc != nil {
		succCopy := *oldSucc
		reply.SuccInfo = &succCopy
	} else {
		me := myInfo
		reply.SuccInfo = &me // ring of one: joiner's successor is us
	}
	predCopy := myInfo
	reply.PredInfo = &predCopy

	s.hashRange.Right = mid - 1
	s.succInfo = &joinerInfo
	s.mu.Unlock()

	s.routes.addRoute(joinerInfo, myInfo, joinerInfo)
	if err := s.send(sub, reply, fromAdr); err != nil {
		s.log.Debug("handleJoin: failed to reply to joiner", "error", err)
	}

	if oldSucc != nil && !oldSucc.Equal(myInfo) {
		if err := s.send(sub, &Message{Type: TypeUpdate, Tag: s.nextTag(), PredInfo: &joinerInfo}, oldSucc.Adr); err != nil {
			s.log.Debug("handleJoin: failed to notify old successor", "error", err)
		}
	}

	s.kvMu.Lock()
	moved := make(map[string]string)
	for k, v := range s.kv {
		if hashit(k) >= mid {
			moved[k] = v
		}
	}
	for k := range moved {
		delete(s.kv, k)
	}
	s.kvMu.Unlock()

	s.transferKeys(sub, moved, fromAdr)
}

// transferKeys sends a TypeTransfer message per key in keys to, fanning out
// up to maxConcurrentTransfers sends at a time.
func (s *Server) transferKeys(sub Substrate, keys map[string]string, to string) {
	sem := semaphore.NewWeighted(maxConcurrentTransfers)
	ctx := context.Background()
	var wg sync.WaitGroup
	for k, v := range keys {
		if err := sem.Acquire(ctx, 1); err != nil {
			continue
		}
		wg.Add(1)
		go func(k, v string) {
			defer wg.Done()
			defer sem.Release(1)
			if err := s.send(sub, &Message{Type: TypeTransfer, Tag: s.nextTag(), Key: k, Value: v}, to); err != nil {
				s.log.Debug("transfer failed", "key", k, "to", to, "error", err)
			}
		}(k, v)
	}
	wg.Wait()
}

// Leave removes this node from the ring: it tells its
// successor, waits for handleLeave's stopFlag acknowledgement, merges its
// range and keys into the predecessor, and rewires predecessor/successor
// pointers around it.
func (s *Server) Leave(sub Substrate) error {
	s.mu.RLock()
	succ, pred := s.succInfo, s.predInfo
	myInfo := s.myInfo
	myRange := s.hashRange
	s.mu.RUnlock()

	if succ == nil {
		return nil // sole node: nothing to hand off
	}

	if err := s.send(sub, &Message{Type: TypeLeave, Tag: s.nextTag(), SenderInfo: &myInfo}, succ.Adr); err != nil {
		s.log.Warn("leave: failed to notify successor", "error", err)
	}
	for !s.stopFlag.Load() {
		if sub.Incoming() {
			msg, from := sub.Receive()
			s.dispatch(sub, msg, from)
			continue
		}
		time.Sleep(time.Millisecond)
	}

	if pred != nil {
		merged := HashRange{Left: pred.FirstHash, Right: myRange.Right}
		succCopy := *succ
		if err := s.send(sub, &Message{Type: TypeUpdate, Tag: s.nextTag(), SuccInfo: &succCopy, HashRange: &merged}, pred.Adr); err != nil {
			s.log.Debug("leave: failed to update predecessor", "error", err)
		}
	}
	predCopy := pred
	if err := s.send(sub, &Message{Type: TypeUpdate, Tag: s.nextTag(), PredInfo: predCopy}, succ.Adr); err != nil {
		s.log.Debug("leave: failed to update successor", "error", err)
	}

	s.kvMu.Lock()
	keys := s.kv
	s.kv = make(map[string]string)
	s.kvMu.Unlock()

	if pred != nil {
		s.transferKeys(sub, keys, pred.Adr)
	}

	if s.cache != nil {
		s.cache = newFIFOCache(s.cfg.CacheCapacity)
	}
	s.routes = newRouteTable(s.cfg.NumRoutes)
	return nil
}

// handleLeave stops the spin-wait if this is our own departure circling
// back, otherwise forwards toward the successor and only then drops the
// shortcut route, preserving call order.
func (s *Server) handleLeave(sub Substrate, msg *Message) {
	s.mu.RLock()
	myInfo := s.myInfo
	succ := s.succInfo
	s.mu.RUnlock()

	if msg.SenderInfo != nil && msg.SenderInfo.Equal(myInfo) {
		s.stopFlag.Store(true)
		return
	}
	if succ != nil {
		if err := s.send(sub, msg, succ.Adr); err != nil {
			s.log.Debug("handleLeave: forward failed", "error", err)
		}
	}
	if msg.SenderInfo != nil {
		s.routes.removeRoute(*msg.SenderInfo)
	}
}

// handleUpdate applies a predInfo/succInfo/hashRange correction sent by a
// neighbor during join/leave rewiring.
func (s *Server) handleUpdate(msg *Message) {
	s.mu.Lock()
	if msg.PredInfo != nil {
		s.predInfo = msg.PredInfo
	}
	if msg.SuccInfo != nil {
		s.succInfo = msg.SuccInfo
	}
	if msg.HashRange != nil {
		s.hashRange = *msg.HashRange
	}
	myInfo := s.myInfo
	s.mu.Unlock()

	if msg.SuccInfo != nil {
		s.routes.addRoute(*msg.SuccInfo, myInfo, *msg.SuccInfo)
	}
}

// handleGet handles a get request. The cache short-circuit replies
// straight to the sender even when the request arrived via a relay,
// which can bypass clientAdr; this is intentional, not a bug.
func (s *Server) handleGet(sub Substrate, msg *Message, fromAdr string) {
	if s.cache != nil {
		if v, ok := s.cache.get(msg.Key); ok {
			s.send(sub, &Message{Type: TypeSuccess, Tag: msg.Tag, Key: msg.Key, Value: v}, fromAdr)
			return
		}
	}

	h := hashit(msg.Key)
	s.mu.RLock()
	inRange := s.hashRange.Contains(h)
	myInfo := s.myInfo
	s.mu.RUnlock()

	if inRange {
		s.kvMu.Lock()
		v, found := s.kv[msg.Key]
		s.kvMu.Unlock()

		reply := &Message{Tag: msg.Tag, Key: msg.Key}
		if found {
			reply.Type = TypeSuccess
			reply.Value = v
		} else {
			reply.Type = TypeNoMatch
		}
		replyTo := fromAdr
		if msg.RelayAdr != "" {
			replyTo = msg.RelayAdr
			me := myInfo
			reply.SenderInfo = &me
			reply.ClientAdr = msg.ClientAdr
		}
		s.send(sub, reply, replyTo)
		return
	}

	if msg.RelayAdr == "" {
		msg.ClientAdr = fromAdr
		msg.RelayAdr = s.myAdr
	}
	s.forward(sub, msg, h)
}

// handlePut handles a put request.
func (s *Server) handlePut(sub Substrate, msg *Message, fromAdr string) {
	if s.cache != nil {
		s.cache.invalidate(msg.Key)
	}

	h := hashit(msg.Key)
	s.mu.RLock()
	inRange := s.hashRange.Contains(h)
	myInfo := s.myInfo
	s.mu.RUnlock()

	if inRange {
		s.kvMu.Lock()
		if msg.Value == "" {
			delete(s.kv, msg.Key)
		} else {
			s.kv[msg.Key] = msg.Value
		}
		s.kvMu.Unlock()

		reply := &Message{Type: TypeSuccess, Tag: msg.Tag, Key: msg.Key, Value: msg.Value}
		replyTo := fromAdr
		if msg.RelayAdr != "" {
			replyTo = msg.RelayAdr
			me := myInfo
			reply.SenderInfo = &me
			reply.ClientAdr = msg.ClientAdr
		}
		s.send(sub, reply, replyTo)
		return
	}

	if msg.RelayAdr == "" {
		msg.ClientAdr = fromAdr
		msg.RelayAdr = s.myAdr
	}
	s.forward(sub, msg, h)
}

// handleXfer installs a transferred key unconditionally, with no
// reply.
func (s *Server) handleXfer(msg *Message) {
	s.kvMu.Lock()
	s.kv[msg.Key] = msg.Value
	s.kvMu.Unlock()
}

// handleReply handles a reply for the non-join-success case:
// this node was acting as a relay, so it optionally caches the answer and
// forwards it on to the original client with the relay bookkeeping
// stripped.
func (s *Server) handleReply(sub Substrate, msg *Message) {
	if msg.HashRange != nil {
		return // join-success; handled synchronously inside Join
	}
	if msg.ClientAdr == "" {
		return
	}
	if s.cache != nil && msg.Type == TypeSuccess && msg.Value != "" {
		s.cache.put(msg.Key, msg.Value)
	}
	reply := &Message{Type: msg.Type, Tag: msg.Tag, Key: msg.Key, Value: msg.Value, Reason: msg.Reason}
	if err := s.send(sub, reply, msg.ClientAdr); err != nil {
		s.log.Debug("handleReply: relay to client failed", "error", err)
	}
}

// forward routes msg toward the closest predecessor of h on the ring
//.
func (s *Server) forward(sub Substrate, msg *Message, h uint32) {
	next, ok := s.routes.closestPredecessor(h)
	if !ok {
		s.log.Warn("forward: no routes available", "key", msg.Key)
		return
	}
	msg.TTL--
	if msg.TTL <= 0 {
		s.log.Debug("dropping packet with expired ttl", "key", msg.Key)
		return
	}
	if err := s.send(sub, msg, next.Adr); err != nil {
		s.log.Debug("forward: send failed", "to", next.Adr, "error", err)
	}
}

// dispatch applies the shortcut-learning rule (every incoming packet
// carrying senderInfo, except leave, triggers addRoute) and routes the
// packet to its type-specific handler.
func (s *Server) dispatch(sub Substrate, msg *Message, fromAdr string) {
	if msg.SenderInfo != nil && msg.Type != TypeLeave {
		s.mu.RLock()
		myInfo := s.myInfo
		succ := s.succInfo
		s.mu.RUnlock()
		succInfo := myInfo
		if succ != nil {
			succInfo = *succ
		}
		s.routes.addRoute(*msg.SenderInfo, myInfo, succInfo)
	}

	switch msg.Type {
	case TypeGet:
		s.handleGet(sub, msg, fromAdr)
	case TypePut:
		s.handlePut(sub, msg, fromAdr)
	case TypeTransfer:
		s.handleXfer(msg)
	case TypeJoin:
		s.handleJoin(sub, msg, fromAdr)
	case TypeLeave:
		s.handleLeave(sub, msg)
	case TypeUpdate:
		s.handleUpdate(msg)
	case TypeSuccess, TypeNoMatch, TypeFailure:
		s.handleReply(sub, msg)
	default:
		s.log.Debug("dropping packet with unknown type", "type", msg.Type)
	}
}

// Run drives the server's single-threaded polled loop until
// ctx is cancelled, at which point it invokes Leave before returning
//.
func (s *Server) Run(ctx context.Context, sub Substrate) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Leave(sub)
			return ctx.Err()
		case <-ticker.C:
			for s.step(sub) {
			}
		}
	}
}

func (s *Server) step(sub Substrate) bool {
	if sub.Incoming() {
		msg, from := sub.Receive()
		s.dispatch(sub, msg, from)
		return true
	}
	return false
}
