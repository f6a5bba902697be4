// Package dht implements a Chord-style distributed hash table: ring
// membership via split-on-join and circle-back leave, shortcut-route
// learning from relayed replies, and optional per-key caching.
package dht

import "fmt"

// ringSize is the Chord ring's modulus").
const ringSize = 1 << 31

// NodeInfo identifies one ring member: its UDP address and the hash of the
// left edge of the range it owns").
type NodeInfo struct {
	Adr       string // "ip:port"
	FirstHash uint32
}

func (n NodeInfo) String() string {
	return fmt.Sprintf("%s:%d", n.Adr, n.FirstHash)
}

// Equal reports whether two NodeInfo values name the same ring member.
func (n NodeInfo) Equal(o NodeInfo) bool {
	return n.Adr == o.Adr && n.FirstHash == o.FirstHash
}

// HashRange is a closed interval [Left, Right] of the ring this node
// answers for; both ends are included.
type HashRange struct {
	Left, Right uint32
}

// Contains reports whether h falls within [r.Left, r.Right], inclusive.
func (r HashRange) Contains(h uint32) bool {
	return h >= r.Left && h <= r.Right
}
