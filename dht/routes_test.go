package dht

import "testing"

func TestRouteTable_IgnoresSelf(t *testing.T) {
	rt := newRouteTable(4)
	me := NodeInfo{Adr: "me:1", FirstHash: 1}
	if rt.addRoute(me, me, NodeInfo{}) {
		t.Fatalf("addRoute should reject myInfo")
	}
	if rt.len() != 0 {
		t.Fatalf("expected empty table, got %d", rt.len())
	}
}

func TestRouteTable_SuccInfoPinnedAtIndexZero(t *testing.T) {
	rt := newRouteTable(4)
	me := NodeInfo{Adr: "me:1"}
	other := NodeInfo{Adr: "other:1", FirstHash: 100}
	succ := NodeInfo{Adr: "succ:1", FirstHash: 50}

	rt.addRoute(other, me, succ)
	rt.addRoute(succ, me, succ)

	snap := rt.snapshot()
	if len(snap) != 2 || !snap[0].Equal(succ) {
		t.Fatalf("expected succInfo at index 0, got %+v", snap)
	}
}

func TestRouteTable_FullTableEvictsIndexOneNotZero(t *testing.T) {
	rt := newRouteTable(2)
	me := NodeInfo{Adr: "me:1"}
	succ := NodeInfo{Adr: "succ:1", FirstHash: 1}
	other := NodeInfo{Adr: "other:1", FirstHash: 2}
	third := NodeInfo{Adr: "third:1", FirstHash: 3}

	rt.addRoute(succ, me, succ)
	rt.addRoute(other, me, succ)
	if rt.len() != 2 {
		t.Fatalf("expected table full at 2, got %d", rt.len())
	}

	rt.addRoute(third, me, succ)
	snap := rt.snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected table to stay bounded at 2, got %d", len(snap))
	}
	if !snap[0].Equal(succ) {
		t.Fatalf("succInfo must remain at index 0, got %+v", snap[0])
	}
	if !snap[1].Equal(third) {
		t.Fatalf("expected newest route to replace index 1, got %+v", snap[1])
	}
}

func TestRouteTable_FullTableRefreshesSuccAtIndexZero(t *testing.T) {
	rt := newRouteTable(1)
	me := NodeInfo{Adr: "me:1"}
	succA := NodeInfo{Adr: "succA:1", FirstHash: 1}
	succB := NodeInfo{Adr: "succB:1", FirstHash: 2}

	rt.addRoute(succA, me, succA)
	if !rt.addRoute(succB, me, succB) {
		t.Fatalf("expected succ refresh to succeed even when numRoutes==1")
	}
	snap := rt.snapshot()
	if len(snap) != 1 || !snap[0].Equal(succB) {
		t.Fatalf("expected succB to replace succA, got %+v", snap)
	}
}

func TestRouteTable_FullSingleSlotRejectsNonSucc(t *testing.T) {
	rt := newRouteTable(1)
	me := NodeInfo{Adr: "me:1"}
	succ := NodeInfo{Adr: "succ:1", FirstHash: 1}
	other := NodeInfo{Adr: "other:1", FirstHash: 2}

	rt.addRoute(succ, me, succ)
	if rt.addRoute(other, me, succ) {
		t.Fatalf("expected single-slot table to reject a non-succ replacement")
	}
}

func TestRouteTable_RemoveRoute(t *testing.T) {
	rt := newRouteTable(4)
	me := NodeInfo{Adr: "me:1"}
	other := NodeInfo{Adr: "other:1", FirstHash: 5}
	rt.addRoute(other, me, NodeInfo{})
	if !rt.removeRoute(other) {
		t.Fatalf("expected removeRoute to find the entry")
	}
	if rt.len() != 0 {
		t.Fatalf("expected empty table after removal")
	}
	if rt.removeRoute(other) {
		t.Fatalf("expected second removeRoute to report not found")
	}
}

func TestRouteTable_ClosestPredecessorWrapsAround(t *testing.T) {
	rt := newRouteTable(4)
	me := NodeInfo{Adr: "me:1"}
	near := NodeInfo{Adr: "near:1", FirstHash: 1 << 30}
	far := NodeInfo{Adr: "far:1", FirstHash: 10}
	rt.addRoute(near, me, NodeInfo{})
	rt.addRoute(far, me, NodeInfo{})

	// h just past "far" wraps the long way around to "near" but the short
	// way to "far"; closestPredecessor must pick the minimal forward
	// distance, i.e. far.
	got, ok := rt.closestPredecessor(11)
	if !ok || !got.Equal(far) {
		t.Fatalf("expected far as closest predecessor, got %+v", got)
	}
}

func TestRouteTable_ClosestPredecessorEmpty(t *testing.T) {
	rt := newRouteTable(4)
	if _, ok := rt.closestPredecessor(5); ok {
		t.Fatalf("expected no route in an empty table")
	}
}
