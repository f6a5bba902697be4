// Package dhtudp is the production dht.Substrate: one UDP socket carrying
// CSE473 DHTPv0.1 text packets addressed by "ip:port", unlike the
// link-indexed overlay substrates.
package dhtudp

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/chengyuegong/Computer-Networks/dht"
)

// MaxDatagram bounds a single UDP read. DHT wire packets are short text
// lines, so this is generous.
const MaxDatagram = 4096

// Config configures a Substrate.
type Config struct {
	// LocalAddr is the "ip:port" this node binds.
	LocalAddr string
	Logger    *slog.Logger
}

// Substrate implements dht.Substrate over a single UDP socket, dispatching
// inbound datagrams by the sender's address rather than a link index.
type Substrate struct {
	log  *slog.Logger
	conn *net.UDPConn

	mu      sync.Mutex
	inbound []queuedMessage
}

type queuedMessage struct {
	msg  *dht.Message
	from string
}

var _ dht.Substrate = (*Substrate)(nil)

// New binds the local UDP socket and starts the background read loop.
func New(cfg Config) (*Substrate, error) {
	if cfg.LocalAddr == "" {
		return nil, errors.New("dhtudp: LocalAddr is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	addr, err := net.ResolveUDPAddr("udp", cfg.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("dhtudp: resolving local address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dhtudp: listening: %w", err)
	}

	s := &Substrate{log: logger.WithGroup("dhtudp"), conn: conn}
	go s.readLoop()
	return s, nil
}

func (s *Substrate) readLoop() {
	buf := make([]byte, MaxDatagram)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return // socket closed
		}
		msg, err := dht.Decode(buf[:n])
		if err != nil {
			s.log.Debug("dropping malformed packet", "from", from.String(), "error", err)
			continue
		}
		s.mu.Lock()
		s.inbound = append(s.inbound, queuedMessage{msg: msg, from: from.String()})
		s.mu.Unlock()
	}
}

func (s *Substrate) Incoming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inbound) > 0
}

func (s *Substrate) Receive() (*dht.Message, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.inbound[0]
	s.inbound = s.inbound[1:]
	return q.msg, q.from
}

// Ready always reports true: any "ip:port" can be resolved and sent to, the
// wire protocol has no per-peer handshake or connection state.
func (s *Substrate) Ready(_ string) bool { return true }

func (s *Substrate) Send(msg *dht.Message, to string) error {
	addr, err := net.ResolveUDPAddr("udp", to)
	if err != nil {
		return fmt.Errorf("dhtudp: resolving %q: %w", to, err)
	}
	_, err = s.conn.WriteToUDP(msg.Encode(), addr)
	return err
}

// Close releases the underlying socket.
func (s *Substrate) Close() error {
	return s.conn.Close()
}
