package rdt

// incr advances a sequence number by one, wrapping at the sequence space S
// = (x+1) mod S").
func incr(x, s int) int {
	return (x + 1) % s
}

// diff measures the clockwise distance from y to x in a sequence space of
// size s = (x ≥ y) ? x−y : x+S−y").
func diff(x, y, s int) int {
	if x >= y {
		return x - y
	}
	return x + s - y
}
