package dht

import "sync"

// routeTable is the DHT server's bounded shortcut-route list. succInfo, when present, is always pinned at index 0.
type routeTable struct {
	mu        sync.Mutex
	entries   []NodeInfo
	numRoutes int
}

func newRouteTable(numRoutes int) *routeTable {
	return &routeTable{numRoutes: numRoutes}
}

// addRoute inserts r: ignore self; if full, either
// refresh the successor slot or evict index 1 (never index 0) to make
// room; if not full, prefer slot 0 for succInfo, otherwise append.
func (rt *routeTable) addRoute(r NodeInfo, myInfo, succInfo NodeInfo) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if r.Equal(myInfo) {
		return false
	}

	if len(rt.entries) >= rt.numRoutes {
		if r.Equal(succInfo) {
			if len(rt.entries) == 0 {
				rt.entries = append(rt.entries, r)
			} else {
				rt.entries[0] = r
			}
			return true
		}
		if rt.numRoutes == 1 {
			return false
		}
		rt.entries = append(rt.entries[:1], rt.entries[2:]...)
		rt.entries = append(rt.entries, r)
		return true
	}

	if r.Equal(succInfo) {
		rt.entries = append([]NodeInfo{r}, rt.entries...)
	} else {
		rt.entries = append(rt.entries, r)
	}
	return true
}

// removeRoute deletes r by value, if present.
func (rt *routeTable) removeRoute(r NodeInfo) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for i, e := range rt.entries {
		if e.Equal(r) {
			rt.entries = append(rt.entries[:i], rt.entries[i+1:]...)
			return true
		}
	}
	return false
}

// snapshot returns a copy of the current entries.
func (rt *routeTable) snapshot() []NodeInfo {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]NodeInfo, len(rt.entries))
	copy(out, rt.entries)
	return out
}

func (rt *routeTable) len() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.entries)
}

// closestPredecessor picks the route whose FirstHash minimizes
// (h - firstHash) mod 2^31 — the closest predecessor on the ring for key
// position h.
func (rt *routeTable) closestPredecessor(h uint32) (NodeInfo, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if len(rt.entries) == 0 {
		return NodeInfo{}, false
	}
	best := rt.entries[0]
	bestDist := ringDist(h, best.FirstHash)
	for _, e := range rt.entries[1:] {
		if d := ringDist(h, e.FirstHash); d < bestDist {
			best = e
			bestDist = d
		}
	}
	return best, true
}

func ringDist(h, firstHash uint32) uint32 {
	return (h - firstHash) & (ringSize - 1)
}
