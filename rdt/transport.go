package rdt

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// queueCapacity is the default bound for the source/sink payload queues.
const queueCapacity = 1000

// defaultWindow matches the window size used throughout the worked
// examples.
const defaultWindow = 4

// dupAckThreshold is the number of cumulative ACKs of sendBase−1 that
// trigger a fast retransmit.
const dupAckThreshold = 3

// ErrWindowTooLarge rejects a configured window outside W ≤ 2¹⁴−1.
var ErrWindowTooLarge = errors.New("rdt: window exceeds 2^14-1")

// Config configures a Transport.
type Config struct {
	// Window is the sender's outstanding-packet bound W. Sequence space is
	// S = 2W. Default: 4.
	Window int

	// Timeout is the retransmission deadline. Default: 1s.
	Timeout time.Duration

	// PollInterval is the idle-sleep duration used when nothing is ready
	// to process. Default: 1ms.
	PollInterval time.Duration

	// SourceQueueCapacity bounds payloads buffered via Send() before it
	// blocks. Default: 1000.
	SourceQueueCapacity int

	// SinkQueueCapacity bounds delivered payloads buffered for Receive()
	// before the main loop blocks. Default: 1000.
	SinkQueueCapacity int

	// Logger for drop/retransmit events. Falls back to slog.Default().
	Logger *slog.Logger

	// nowFn overrides time.Now for deterministic tests.
	nowFn func() time.Time
}

// Transport is a go-back-N sliding-window sender/receiver pair bound to one
// Substrate connection.
type Transport struct {
	cfg Config
	log *slog.Logger

	w int // window size
	s int // sequence space, 2w

	sendBuf   []*Packet
	sendBase  int
	sendSeq   int
	dupAcks   int
	retransed bool
	sendAgain time.Time

	recvBuf  [][]byte
	recvBase int
	expSeq   int
	lastRcvd int

	source *dataQueue
	sink   *dataQueue

	quit  atomic.Bool
	nowFn func() time.Time
}

// New creates a Transport. Window must not exceed 2¹⁴−1.
func New(cfg Config) (*Transport, error) {
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.Window > 1<<14-1 {
		return nil, ErrWindowTooLarge
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Millisecond
	}
	if cfg.SourceQueueCapacity <= 0 {
		cfg.SourceQueueCapacity = queueCapacity
	}
	if cfg.SinkQueueCapacity <= 0 {
		cfg.SinkQueueCapacity = queueCapacity
	}
	if cfg.nowFn == nil {
		cfg.nowFn = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := 2 * cfg.Window
	return &Transport{
		cfg:      cfg,
		log:      logger.WithGroup("rdt"),
		w:        cfg.Window,
		s:        s,
		sendBuf:  make([]*Packet, s),
		recvBuf:  make([][]byte, s),
		source:   newDataQueue(cfg.SourceQueueCapacity),
		sink:     newDataQueue(cfg.SinkQueueCapacity),
		nowFn:    cfg.nowFn,
		lastRcvd: -1,
	}, nil
}

// Send enqueues a payload for transmission. Blocks if the outgoing queue is
// full. Callable from any goroutine.
func (t *Transport) Send(payload []byte) {
	t.source.Put(payload)
}

// Ready reports whether Send can be called without blocking.
func (t *Transport) Ready() bool {
	return t.source.Len() < t.source.Cap()
}

// Receive dequeues the next in-order payload, blocking if none is
// available yet.
func (t *Transport) Receive() []byte {
	return t.sink.Get()
}

// Incoming reports whether a payload is available to Receive.
func (t *Transport) Incoming() bool {
	return t.sink.Len() > 0
}

// Quit requests an orderly shutdown: Run exits once the send window has
// fully drained.
func (t *Transport) Quit() {
	t.quit.Store(true)
}

// Run drives the transport's single-threaded polled loop until either ctx
// is cancelled or Quit has been called and the send window has drained.
func (t *Transport) Run(ctx context.Context, sub Substrate) error {
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if t.quit.Load() && t.sendBase == t.sendSeq {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for t.step(sub) {
				if t.quit.Load() && t.sendBase == t.sendSeq {
					return nil
				}
			}
		}
	}
}

// step performs exactly one unit of work in priority order and reports
// whether it did anything.
func (t *Transport) step(sub Substrate) bool {
	if t.recvBase != t.expSeq {
		payload := t.recvBuf[t.recvBase]
		t.recvBuf[t.recvBase] = nil
		t.recvBase = incr(t.recvBase, t.s)
		t.sink.Put(payload)
		return true
	}
	if sub.Incoming() {
		t.handleInbound(sub, sub.Receive())
		return true
	}
	if !t.sendAgain.IsZero() && !t.nowFn().Before(t.sendAgain) {
		t.retransmitWindow(sub)
		t.sendAgain = t.nowFn().Add(t.cfg.Timeout)
		return true
	}
	if t.source.Len() > 0 && diff(t.sendSeq, t.sendBase, t.s) < t.w && sub.Ready() {
		payload, ok := t.source.Poll()
		if !ok {
			return false
		}
		pkt := &Packet{Type: TypeData, SeqNum: t.sendSeq, Payload: payload}
		t.sendBuf[t.sendSeq] = pkt
		t.sendSeq = incr(t.sendSeq, t.s)
		if err := sub.Send(pkt.Clone()); err != nil {
			t.log.Debug("substrate send failed", "seq", pkt.SeqNum, "error", err)
		}
		return true
	}
	return false
}

func (t *Transport) handleInbound(sub Substrate, pkt *Packet) {
	switch pkt.Type {
	case TypeData:
		t.handleData(sub, pkt)
	case TypeAck:
		t.handleAck(sub, pkt)
	default:
		t.log.Debug("dropping packet with unknown type", "type", pkt.Type)
		return
	}
	t.sendAgain = t.nowFn().Add(t.cfg.Timeout)
}

func (t *Transport) handleData(sub Substrate, pkt *Packet) {
	t.lastRcvd = pkt.SeqNum

	var ackNum int
	if pkt.SeqNum == t.expSeq {
		t.recvBuf[t.expSeq] = pkt.Payload
		t.expSeq = incr(t.expSeq, t.s)
		ackNum = pkt.SeqNum
	} else {
		ackNum = (t.expSeq - 1 + t.s) % t.s
	}

	ack := &Packet{Type: TypeAck, SeqNum: ackNum}
	if err := sub.Send(ack); err != nil {
		t.log.Debug("substrate send failed", "ack", ackNum, "error", err)
	}
}

func (t *Transport) handleAck(sub Substrate, pkt *Packet) {
	k := pkt.SeqNum
	switch {
	case diff(k, t.sendBase, t.s) < diff(t.sendSeq, t.sendBase, t.s):
		t.sendBase = incr(k, t.s)
		t.dupAcks = 0
		t.retransed = false
	case incr(k, t.s) == t.sendBase:
		t.dupAcks++
		if t.dupAcks >= dupAckThreshold && !t.retransed {
			t.retransmitWindow(sub)
			t.retransed = true
		}
	}
}

// retransmitWindow resends every outstanding packet from sendBase up to
// (but excluding) sendSeqNum.
func (t *Transport) retransmitWindow(sub Substrate) {
	for s := t.sendBase; s != t.sendSeq; s = incr(s, t.s) {
		pkt := t.sendBuf[s]
		if pkt == nil {
			continue
		}
		if err := sub.Send(pkt.Clone()); err != nil {
			t.log.Debug("retransmit failed", "seq", s, "error", err)
		}
	}
}
