package router

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/chengyuegong/Computer-Networks/overlay"
)

// Wire message types.
type MsgType string

const (
	MsgHello         MsgType = "hello"
	MsgHelloEcho     MsgType = "hello2u"
	MsgAdvert        MsgType = "advert"
	MsgFailureAdvert MsgType = "fadvert"
)

const magicLine = "RPv0"

// ErrMalformedHeader is returned when a control packet's first line isn't
// the RPv0 magic.
var ErrMalformedHeader = errors.New("router: missing RPv0 header")

// ErrUnknownType is returned for a well-formed header with an unrecognized
// or missing "type:" line.
var ErrUnknownType = errors.New("router: unknown or missing message type")

// ErrMalformedBody is returned when a recognized message's body can't be
// parsed (bad pathvec/linkfail grammar, non-numeric timestamp, etc.).
var ErrMalformedBody = errors.New("router: malformed message body")

// PathVec is the parsed body of an "advert" message.
type PathVec struct {
	Prefix    overlay.Prefix
	Timestamp float64
	Cost      float64
	Hops      []uint32 // hop1..hopN; last hop is the prefix's owner
}

// LinkFail is the parsed body of an "fadvert" message.
type LinkFail struct {
	A, B      uint32
	Timestamp float64
	Hops      []uint32
}

// Message is a decoded RPv0 control packet. Exactly one of the type-specific
// fields is populated, matching Type.
type Message struct {
	Type      MsgType
	Timestamp float64 // hello, hello2u
	Advert    *PathVec
	Failure   *LinkFail
}

// FormatHello encodes a hello message.
func FormatHello(ts float64) []byte {
	return formatSimple(MsgHello, ts)
}

// FormatHelloEcho encodes a hello2u message.
func FormatHelloEcho(ts float64) []byte {
	return formatSimple(MsgHelloEcho, ts)
}

func formatSimple(t MsgType, ts float64) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\ntype: %s\ntimestamp: %s\n", magicLine, t, formatTimestamp(ts))
	return []byte(b.String())
}

// FormatAdvert encodes an advert message with the given path vector.
func FormatAdvert(prefix overlay.Prefix, ts, cost float64, path []uint32) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\ntype: %s\npathvec: %s %s %.3f", magicLine, MsgAdvert, prefix, formatTimestamp(ts), cost)
	for _, h := range path {
		fmt.Fprintf(&b, " %s", overlay.FormatIP(h))
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

// FormatFailureAdvert encodes an fadvert message.
func FormatFailureAdvert(a, b uint32, ts float64, path []uint32) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\ntype: %s\nlinkfail: %s %s %s", magicLine, MsgFailureAdvert,
		overlay.FormatIP(a), overlay.FormatIP(b), formatTimestamp(ts))
	for _, h := range path {
		fmt.Fprintf(&sb, " %s", overlay.FormatIP(h))
	}
	sb.WriteByte('\n')
	return []byte(sb.String())
}

func formatTimestamp(ts float64) string {
	return strconv.FormatFloat(ts, 'f', 3, 64)
}

// Parse decodes an RPv0 control packet payload. Protocol violations
// (missing magic, unknown type, unparseable body) are returned as errors
// wrapping ErrMalformedHeader/ErrUnknownType/ErrMalformedBody; callers
// should log and drop rather than propagate these.
func Parse(payload []byte) (*Message, error) {
	sc := bufio.NewScanner(bytes.NewReader(payload))
	if !sc.Scan() {
		return nil, ErrMalformedHeader
	}
	if strings.TrimSpace(sc.Text()) != magicLine {
		return nil, ErrMalformedHeader
	}

	fields := map[string]string{}
	for sc.Scan() {
		line := sc.Text()
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		fields[key] = val
	}

	switch MsgType(fields["type"]) {
	case MsgHello, MsgHelloEcho:
		ts, err := strconv.ParseFloat(fields["timestamp"], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad timestamp", ErrMalformedBody)
		}
		return &Message{Type: MsgType(fields["type"]), Timestamp: ts}, nil

	case MsgAdvert:
		pv, err := parsePathvec(fields["pathvec"])
		if err != nil {
			return nil, err
		}
		return &Message{Type: MsgAdvert, Advert: pv}, nil

	case MsgFailureAdvert:
		lf, err := parseLinkfail(fields["linkfail"])
		if err != nil {
			return nil, err
		}
		return &Message{Type: MsgFailureAdvert, Failure: lf}, nil

	default:
		return nil, ErrUnknownType
	}
}

// parsePathvec parses "<prefix> <ts> <cost> <hop1> <hop2> ...".
func parsePathvec(s string) (*PathVec, error) {
	toks := strings.Fields(s)
	if len(toks) < 3 {
		return nil, fmt.Errorf("%w: short pathvec", ErrMalformedBody)
	}
	prefix, err := overlay.ParsePrefix(toks[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	ts, err := strconv.ParseFloat(toks[1], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp", ErrMalformedBody)
	}
	cost, err := strconv.ParseFloat(toks[2], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad cost", ErrMalformedBody)
	}
	hops := make([]uint32, 0, len(toks)-3)
	for _, h := range toks[3:] {
		ip, err := overlay.ParseIP(h)
		if err != nil {
			return nil, fmt.Errorf("%w: bad hop %q", ErrMalformedBody, h)
		}
		hops = append(hops, ip)
	}
	if len(hops) == 0 {
		return nil, fmt.Errorf("%w: pathvec has no hops", ErrMalformedBody)
	}
	return &PathVec{Prefix: prefix, Timestamp: ts, Cost: cost, Hops: hops}, nil
}

// parseLinkfail parses "<ipA> <ipB> <ts> <hop1> <hop2> ...".
func parseLinkfail(s string) (*LinkFail, error) {
	toks := strings.Fields(s)
	if len(toks) < 3 {
		return nil, fmt.Errorf("%w: short linkfail", ErrMalformedBody)
	}
	a, err := overlay.ParseIP(toks[0])
	if err != nil {
		return nil, fmt.Errorf("%w: bad ipA", ErrMalformedBody)
	}
	b, err := overlay.ParseIP(toks[1])
	if err != nil {
		return nil, fmt.Errorf("%w: bad ipB", ErrMalformedBody)
	}
	ts, err := strconv.ParseFloat(toks[2], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp", ErrMalformedBody)
	}
	hops := make([]uint32, 0, len(toks)-3)
	for _, h := range toks[3:] {
		ip, err := overlay.ParseIP(h)
		if err != nil {
			return nil, fmt.Errorf("%w: bad hop %q", ErrMalformedBody, h)
		}
		hops = append(hops, ip)
	}
	return &LinkFail{A: a, B: b, Timestamp: ts, Hops: hops}, nil
}

// containsIP reports whether ip appears anywhere in hops (loop detection,
// if myIp appears among the hops, drop).
func containsIP(hops []uint32, ip uint32) bool {
	for _, h := range hops {
		if h == ip {
			return true
		}
	}
	return false
}
