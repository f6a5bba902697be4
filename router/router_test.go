package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chengyuegong/Computer-Networks/forwarder"
	"github.com/chengyuegong/Computer-Networks/overlay"
)

// manualClock is a controllable time.Now substitute so router.step can be
// driven through hello/advert timing deterministically, without waiting on
// the real HelloInterval/AdvertInterval durations.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(0, 0)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// pairSubstrate bridges two Forwarders over a single link (index 0 on both
// sides), standing in for a real point-to-point substrate.
type pairSubstrate struct {
	mu    sync.Mutex
	inbox []overlay.Packet
	peer  *pairSubstrate
}

func (s *pairSubstrate) Incoming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inbox) > 0
}

func (s *pairSubstrate) Receive() (*overlay.Packet, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.inbox[0]
	s.inbox = s.inbox[1:]
	return &p, 0
}

func (s *pairSubstrate) Ready(int) bool { return true }

func (s *pairSubstrate) Send(pkt *overlay.Packet, link int) error {
	s.peer.mu.Lock()
	defer s.peer.mu.Unlock()
	s.peer.inbox = append(s.peer.inbox, *pkt)
	return nil
}

func (s *pairSubstrate) LinkCount() int { return 1 }

func newPair() (*pairSubstrate, *pairSubstrate) {
	a := &pairSubstrate{}
	b := &pairSubstrate{}
	a.peer, b.peer = b, a
	return a, b
}

// waitUntil polls cond every millisecond until it's true or the timeout
// elapses, failing the test in the latter case.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

// TestRouter_AdvertLearning reproduces end-to-end scenario 3: router A
// (10.1.0.1, prefix 10.1.0.0/16) and router B (10.2.0.1, prefix
// 10.2.0.0/16) are linked with costs 0.010s and 0.020s respectively. After
// one advert round, B's table holds 10.1.0.0/16 via the link to A with
// cost summed from A's advertised cost plus B's own link cost, path=[A].
func TestRouter_AdvertLearning(t *testing.T) {
	fwdA, err := forwarder.New(forwarder.Config{MyIP: "10.1.0.1", PollInterval: time.Millisecond})
	if err != nil {
		t.Fatalf("forwarder.New(A): %v", err)
	}
	fwdB, err := forwarder.New(forwarder.Config{MyIP: "10.2.0.1", PollInterval: time.Millisecond})
	if err != nil {
		t.Fatalf("forwarder.New(B): %v", err)
	}
	subA, subB := newPair()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fwdA.Run(ctx, subA)
	go fwdB.Run(ctx, subB)

	clockA := newManualClock()
	clockB := newManualClock()

	rA, err := New(Config{
		MyIP: "10.1.0.1", Prefix: "10.1.0.0/16", Peers: []string{"10.2.0.1"},
		InitialLinkCost: 0.010, nowFn: clockA.Now,
	}, fwdA)
	if err != nil {
		t.Fatalf("New(A): %v", err)
	}
	rB, err := New(Config{
		MyIP: "10.2.0.1", Prefix: "10.2.0.0/16", Peers: []string{"10.1.0.1"},
		InitialLinkCost: 0.020, nowFn: clockB.Now,
	}, fwdB)
	if err != nil {
		t.Fatalf("New(B): %v", err)
	}

	// Advance both clocks past AdvertInterval. step does one unit of work in
	// priority order, so each router's first step sends its (also due)
	// hellos and its second step emits its self-advert exactly once.
	clockA.advance(AdvertInterval)
	clockB.advance(AdvertInterval)
	rA.step()
	rA.step()
	rB.step()
	rB.step()

	pfxA, _ := overlay.ParsePrefix("10.1.0.0/16")
	pfxB, _ := overlay.ParsePrefix("10.2.0.0/16")

	// Let the bridged forwarders shuttle the packets across the wire while
	// each router consumes what has arrived, until both adverts are learned.
	waitUntil(t, time.Second, func() bool {
		for rA.step() {
		}
		for rB.step() {
		}
		_, okA := rA.Table().Lookup(pfxB)
		_, okB := rB.Table().Lookup(pfxA)
		return okA && okB
	})

	got, ok := rB.Table().Lookup(pfxA)
	if !ok {
		t.Fatal("B did not learn A's prefix")
	}
	if got.OutLink != 0 {
		t.Errorf("B's route to A's prefix uses link %d, want 0", got.OutLink)
	}
	wantCost := 0.0 + 0.020 // A advertised cost 0, plus B's link cost to A
	if diff := got.Cost - wantCost; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("B's learned cost = %v, want %v", got.Cost, wantCost)
	}
	if len(got.Path) != 1 || got.Path[0] != mustIP(t, "10.1.0.1") {
		t.Errorf("B's learned path = %v, want [10.1.0.1]", got.Path)
	}

	// Symmetric check on A's side.
	gotA, ok := rA.Table().Lookup(pfxB)
	if !ok {
		t.Fatal("A did not learn B's prefix")
	}
	if diff := gotA.Cost - 0.010; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("A's learned cost = %v, want 0.010", gotA.Cost)
	}

	if fwdB.Table().Lookup(mustIP(t, "10.1.5.5")) != 0 {
		t.Error("B's forwarder table should route the learned prefix via link 0")
	}
}

// TestRouter_AdvertContainingMyIPIsDropped reproduces end-to-end scenario
// 4: an advert B receives whose path already contains B's own address is a
// loop and must be dropped rather than installed.
func TestRouter_AdvertContainingMyIPIsDropped(t *testing.T) {
	fwdB, err := forwarder.New(forwarder.Config{MyIP: "10.2.0.1", PollInterval: time.Millisecond})
	if err != nil {
		t.Fatalf("forwarder.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := &pairSubstrate{}
	sub.peer = &pairSubstrate{} // unused sink, B never sends anything we check
	go fwdB.Run(ctx, sub)

	clockB := newManualClock()
	rB, err := New(Config{
		MyIP: "10.2.0.1", Prefix: "10.2.0.0/16", Peers: []string{"10.1.0.1"},
		InitialLinkCost: 0.020, nowFn: clockB.Now,
	}, fwdB)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pfx, _ := overlay.ParsePrefix("10.1.0.0/16")
	bIP := mustIP(t, "10.2.0.1")
	aIP := mustIP(t, "10.1.0.1")
	payload := FormatAdvert(pfx, 0, 0.01, []uint32{bIP, aIP})

	sub.mu.Lock()
	sub.inbox = append(sub.inbox, overlay.Packet{
		SrcAdr: aIP, DestAdr: bIP, Protocol: overlay.ProtoRouter, TTL: 1, Payload: payload,
	})
	sub.mu.Unlock()

	waitUntil(t, time.Second, fwdB.IncomingPkt)
	for rB.step() {
	}

	if _, ok := rB.Table().Lookup(pfx); ok {
		t.Fatal("advert containing this router's own address should have been dropped, not installed")
	}
}
