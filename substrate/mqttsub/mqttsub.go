// Package mqttsub adapts the MQTT transport to the overlay's polled
// Substrate interface. Each overlay link corresponds to one mesh topic
// (one broker connection per neighbor), since MQTT itself has no notion
// of a point-to-point link.
package mqttsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chengyuegong/Computer-Networks/core/codec"
	"github.com/chengyuegong/Computer-Networks/overlay"
	"github.com/chengyuegong/Computer-Networks/transport"
	"github.com/chengyuegong/Computer-Networks/transport/mqtt"
)

const rawCustomHeader = codec.RouteTypeFlood | codec.PayloadTypeRawCustom<<codec.PHTypeShift

// Config configures a Substrate with one MQTT transport per overlay link.
type Config struct {
	Links  []mqtt.Config
	Logger *slog.Logger
}

// Substrate implements overlay.Substrate over one mqtt.Transport per link.
type Substrate struct {
	log   *slog.Logger
	links []*mqtt.Transport

	mu      sync.Mutex
	inbound []queuedPacket
}

type queuedPacket struct {
	pkt  *overlay.Packet
	link int
}

var _ overlay.Substrate = (*Substrate)(nil)

// New connects one mqtt.Transport per configured link.
func New(ctx context.Context, cfg Config) (*Substrate, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Substrate{log: logger.WithGroup("mqttsub")}

	for i, linkCfg := range cfg.Links {
		link := i
		linkCfg.Logger = logger
		t := mqtt.New(linkCfg)
		t.SetPacketHandler(func(packet *codec.Packet, _ transport.PacketSource) {
			s.onPacket(link, packet)
		})
		if err := t.Start(ctx); err != nil {
			return nil, fmt.Errorf("mqttsub: connecting link %d: %w", link, err)
		}
		s.links = append(s.links, t)
	}
	return s, nil
}

func (s *Substrate) onPacket(link int, frame *codec.Packet) {
	var pkt overlay.Packet
	if err := pkt.ReadFrom(frame.Payload); err != nil {
		s.log.Debug("dropping message with malformed overlay payload", "link", link, "error", err)
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
		return errors.New("mqttsub: no such link")
	}
	data, err := pkt.WriteTo()
	if err != nil {
		return err
	}
	frame := &codec.Packet{Header: rawCustomHeader, Payload: data}
	return s.links[link].SendPacket(frame)
}

func (s *Substrate) LinkCount() int { return len(s.links) }

// Close disconnects every underlying MQTT transport.
func (s *Substrate) Close() error {
	var firstErr error
	for _, t := range s.links {
		if err := t.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
