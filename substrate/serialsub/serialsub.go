// Package serialsub adapts the serial transport to the overlay's polled
// Substrate interface, carrying overlay packets as raw-custom payloads
// inside the serial transport's RS232-framed wire packets.
package serialsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chengyuegong/Computer-Networks/core/codec"
	"github.com/chengyuegong/Computer-Networks/overlay"
	"github.com/chengyuegong/Computer-Networks/transport"
	"github.com/chengyuegong/Computer-Networks/transport/serial"
)

// rawCustomHeader marks a frame as carrying an opaque payload rather than
// a MeshCore application payload; overlay packets ride inside unmodified.
const rawCustomHeader = codec.RouteTypeFlood | codec.PayloadTypeRawCustom<<codec.PHTypeShift

// Config configures a Substrate backed by one serial port per link. The
// overlay model is point-to-multipoint over one fixed set of links, but a
// serial line is inherently one neighbor per port: Links names each port
// in link-index order.
type Config struct {
	Links    []serial.Config
	Logger   *slog.Logger
	QueueCap int // not read by New; the inbound queue has no capacity limit
}

// Substrate implements overlay.Substrate over one serial.Transport per
// link, decoding each inbound RS232 frame's payload as an overlay packet.
type Substrate struct {
	log   *slog.Logger
	links []*serial.Transport

	mu      sync.Mutex
	inbound []queuedPacket
}

type queuedPacket struct {
	pkt  *overlay.Packet
	link int
}

var _ overlay.Substrate = (*Substrate)(nil)

// New opens one serial.Transport per configured link and begins reading
// frames in the background.
func New(ctx context.Context, cfg Config) (*Substrate, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Substrate{log: logger.WithGroup("serialsub")}

	for i, linkCfg := range cfg.Links {
		link := i
		linkCfg.Logger = logger
		t := serial.New(linkCfg)
		t.SetPacketHandler(func(packet *codec.Packet, _ transport.PacketSource) {
			s.onFrame(link, packet)
		})
		if err := t.Start(ctx); err != nil {
			return nil, fmt.Errorf("serialsub: opening link %d: %w", link, err)
		}
		s.links = append(s.links, t)
	}
	return s, nil
}

func (s *Substrate) onFrame(link int, frame *codec.Packet) {
	var pkt overlay.Packet
	if err := pkt.ReadFrom(frame.Payload); err != nil {
		s.log.Debug("dropping frame with malformed overlay payload", "link", link, "error", err)
		return
	}
	s.mu.Lock()
	s.inbound = append(s.inbound, queuedPacket{pkt: &pkt, link: link})
	s.mu.Unlock()
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
	if link < 0 || link >= len(s.links) {
		return false
	}
	return s.links[link].IsConnected()
}

func (s *Substrate) Send(pkt *overlay.Packet, link int) error {
	if link < 0 || link >= len(s.links) {
		return errors.New("serialsub: no such link")
	}
	data, err := pkt.WriteTo()
	if err != nil {
		return err
	}
	frame := &codec.Packet{Header: rawCustomHeader, Payload: data}
	return s.links[link].SendPacket(frame)
}

func (s *Substrate) LinkCount() int { return len(s.links) }

// Close stops every underlying serial transport.
func (s *Substrate) Close() error {
	var firstErr error
	for _, t := range s.links {
		if err := t.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
