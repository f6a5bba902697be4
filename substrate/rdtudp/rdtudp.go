// Package rdtudp is the production rdt.Substrate: a single UDP socket
// connected to exactly one peer.
package rdtudp

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/chengyuegong/Computer-Networks/rdt"
)

// MaxDatagram bounds a single UDP read, generous enough for any rdt.Packet.
const MaxDatagram = 2048

// Config configures a Substrate.
type Config struct {
	// LocalAddr is the "ip:port" this node binds.
	LocalAddr string
	// PeerAddr is the "ip:port" of the sole remote endpoint.
	PeerAddr string
	Logger   *slog.Logger
}

// Substrate implements rdt.Substrate over a connected UDP socket.
type Substrate struct {
	log  *slog.Logger
	conn *net.UDPConn

	mu      sync.Mutex
	inbound []*rdt.Packet
}

var _ rdt.Substrate = (*Substrate)(nil)

// New binds the local socket, connects it to PeerAddr, and starts the
// background read loop.
func New(cfg Config) (*Substrate, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	localAddr, err := net.ResolveUDPAddr("udp", cfg.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("rdtudp: resolving local address: %w", err)
	}
	peerAddr, err := net.ResolveUDPAddr("udp", cfg.PeerAddr)
	if err != nil {
		return nil, fmt.Errorf("rdtudp: resolving peer address: %w", err)
	}
	conn, err := net.DialUDP("udp", localAddr, peerAddr)
	if err != nil {
		return nil, fmt.Errorf("rdtudp: dialing: %w", err)
	}

	s := &Substrate{log: logger.WithGroup("rdtudp"), conn: conn}
	go s.readLoop()
	return s, nil
}

func (s *Substrate) readLoop() {
	buf := make([]byte, MaxDatagram)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			return // socket closed
		}
		var pkt rdt.Packet
		if err := pkt.ReadFrom(buf[:n]); err != nil {
			s.log.Debug("dropping malformed packet", "error", err)
			continue
		}
		s.mu.Lock()
		s.inbound = append(s.inbound, &pkt)
		s.mu.Unlock()
	}
}

func (s *Substrate) Incoming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inbound) > 0
}

func (s *Substrate) Receive() *rdt.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	pkt := s.inbound[0]
	s.inbound = s.inbound[1:]
	return pkt
}

func (s *Substrate) Ready() bool { return true }

func (s *Substrate) Send(pkt *rdt.Packet) error {
	data, err := pkt.WriteTo()
	if err != nil {
		return err
	}
	_, err = s.conn.Write(data)
	return err
}

// Close releases the underlying socket.
func (s *Substrate) Close() error {
	return s.conn.Close()
}
