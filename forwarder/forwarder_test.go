package forwarder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chengyuegong/Computer-Networks/overlay"
)

// fakeSubstrate is an in-memory overlay.Substrate double. Inbound packets
// are queued via deliver(); sent packets are recorded per link for
// assertions instead of going anywhere real.
type fakeSubstrate struct {
	mu    sync.Mutex
	inbox []inboundEntry
	sent  map[int][]*overlay.Packet
	links int
}

type inboundEntry struct {
	pkt  *overlay.Packet
	link int
}

func newFakeSubstrate(links int) *fakeSubstrate {
	return &fakeSubstrate{sent: make(map[int][]*overlay.Packet), links: links}
}

func (f *fakeSubstrate) deliver(pkt *overlay.Packet, link int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox = append(f.inbox, inboundEntry{pkt: pkt, link: link})
}

func (f *fakeSubstrate) Incoming() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inbox) > 0
}

func (f *fakeSubstrate) Receive() (*overlay.Packet, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.inbox[0]
	f.inbox = f.inbox[1:]
	return e.pkt, e.link
}

func (f *fakeSubstrate) Ready(link int) bool { return true }

func (f *fakeSubstrate) Send(pkt *overlay.Packet, link int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[link] = append(f.sent[link], pkt)
	return nil
}

func (f *fakeSubstrate) LinkCount() int { return f.links }

func (f *fakeSubstrate) sentOn(link int) []*overlay.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*overlay.Packet(nil), f.sent[link]...)
}

// TestForwarder_LongestPrefixForwarding reproduces end-to-end scenario 1
// table [(0.0.0.0/0 → 0), (10.1.0.0/16 → 2)],
// myIp=10.9.0.1. Injecting destAdr=10.1.2.3, ttl=5 should arrive on link 2
// with ttl=4.
func TestForwarder_LongestPrefixForwarding(t *testing.T) {
	fwd, err := New(Config{MyIP: "10.9.0.1", PollInterval: time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pfx, _ := overlay.ParsePrefix("10.1.0.0/16")
	fwd.Table().AddRoute(pfx, 2)

	sub := newFakeSubstrate(3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fwd.Run(ctx, sub)

	destAdr, _ := overlay.ParseIP("10.1.2.3")
	sub.deliver(&overlay.Packet{
		SrcAdr:   mustIP(t, "10.9.0.1"),
		DestAdr:  destAdr,
		Protocol: overlay.ProtoData,
		TTL:      5,
		Payload:  []byte("hello"),
	}, 1)

	deadline := time.After(time.Second)
	for {
		if pkts := sub.sentOn(2); len(pkts) == 1 {
			if pkts[0].TTL != 4 {
				t.Errorf("forwarded TTL = %d, want 4", pkts[0].TTL)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for forwarded packet on link 2")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestForwarder_TTLExpiryDrops(t *testing.T) {
	fwd, err := New(Config{MyIP: "10.9.0.1", PollInterval: time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sub := newFakeSubstrate(2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fwd.Run(ctx, sub)

	sub.deliver(&overlay.Packet{
		SrcAdr:   mustIP(t, "10.9.0.1"),
		DestAdr:  mustIP(t, "10.1.2.3"),
		Protocol: overlay.ProtoData,
		TTL:      0,
		Payload:  []byte("dead"),
	}, 1)

	time.Sleep(20 * time.Millisecond)
	if pkts := sub.sentOn(0); len(pkts) != 0 {
		t.Errorf("expired-ttl packet should be dropped, got %d forwarded", len(pkts))
	}
}

func TestForwarder_LocalDataDeliveredToSink(t *testing.T) {
	fwd, err := New(Config{MyIP: "10.9.0.1", PollInterval: time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sub := newFakeSubstrate(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fwd.Run(ctx, sub)

	sub.deliver(&overlay.Packet{
		SrcAdr:   mustIP(t, "10.1.1.1"),
		DestAdr:  mustIP(t, "10.9.0.1"),
		Protocol: overlay.ProtoData,
		TTL:      10,
		Payload:  []byte("for me"),
	}, 0)

	payload, src := fwd.Receive()
	if string(payload) != "for me" || src != "10.1.1.1" {
		t.Errorf("Receive() = (%q, %q), want (\"for me\", \"10.1.1.1\")", payload, src)
	}
}
