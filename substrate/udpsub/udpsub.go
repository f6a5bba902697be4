// Package udpsub is the production overlay.Substrate backend: one UDP
// socket shared by all neighbor links, addressed by a fixed "host:port" peer list
//.
package udpsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/chengyuegong/Computer-Networks/overlay"
)

// MaxDatagram bounds a single UDP read, generous enough for any encoded
// overlay.Packet (overlay.MaxPayload plus its small fixed header).
const MaxDatagram = 8192

// Config configures a Substrate. Peers[i] is the "host:port" of the
// neighbor reachable over link i; LocalAddr is the socket this node binds
// for every link.
type Config struct {
	LocalAddr string
	Peers     []string
	Logger    *slog.Logger
}

// Substrate implements overlay.Substrate over a single UDP socket shared
// by every link, demultiplexed by source address against Peers.
type Substrate struct {
	log   *slog.Logger
	conn  *net.UDPConn
	peers []*net.UDPAddr

	mu      sync.Mutex
	inbound []queuedPacket
}

type queuedPacket struct {
	pkt  *overlay.Packet
	link int
}

var _ overlay.Substrate = (*Substrate)(nil)

// New binds the local UDP socket, resolves every peer address, and starts
// the background read loop. ctx bounds the read loop's lifetime.
func New(ctx context.Context, cfg Config) (*Substrate, error) {
	if cfg.LocalAddr == "" {
		return nil, errors.New("udpsub: LocalAddr is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := listenUDP(ctx, cfg.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("udpsub: listening: %w", err)
	}

	s := &Substrate{
		log:  logger.WithGroup("udpsub"),
		conn: conn,
	}
	for _, p := range cfg.Peers {
		addr, err := net.ResolveUDPAddr("udp", p)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("udpsub: resolving peer %q: %w", p, err)
		}
		s.peers = append(s.peers, addr)
	}

	go s.readLoop(ctx)
	return s, nil
}

func (s *Substrate) readLoop(ctx context.Context) {
	buf := make([]byte, MaxDatagram)
	for {
		select {
		case <-ctx.Done():
			s.conn.Close()
			return
		default:
		}

		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Debug("udp read error", "error", err)
			continue
		}

		link := s.linkOf(from)
		if link < 0 {
			s.log.Debug("dropping datagram from unknown peer", "from", from.String())
			continue
		}
		var pkt overlay.Packet
		if err := pkt.ReadFrom(buf[:n]); err != nil {
			s.log.Debug("dropping malformed datagram", "link", link, "error", err)
			continue
		}
		s.mu.Lock()
		s.inbound = append(s.inbound, queuedPacket{pkt: &pkt, link: link})
		s.mu.Unlock()
	}
}

func (s *Substrate) linkOf(addr *net.UDPAddr) int {
	for i, p := range s.peers {
		if p.IP.Equal(addr.IP) && p.Port == addr.Port {
			return i
		}
	}
	return -1
}

func (s *Substrate) Incoming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inbound) > 0
}

func (s *Substrate) Receive() (*overlay.Packet, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.inbound[0]
	s.inbound = s.inbound[1:]
	return q.pkt, q.link
}

func (s *Substrate) Ready(link int) bool {
	return link >= 0 && link < len(s.peers)
}

func (s *Substrate) Send(pkt *overlay.Packet, link int) error {
	if link < 0 || link >= len(s.peers) {
		return errors.New("udpsub: no such link")
	}
	data, err := pkt.WriteTo()
	if err != nil {
		return err
	}
	_, err = s.conn.WriteToUDP(data, s.peers[link])
	return err
}

func (s *Substrate) LinkCount() int { return len(s.peers) }

// Close releases the underlying socket.
func (s *Substrate) Close() error {
	return s.conn.Close()
}
