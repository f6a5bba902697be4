// Package debugsrv is a read-only websocket introspection endpoint: a
// caller-supplied snapshot function is polled on an interval and the
// resulting JSON is broadcast to every connected client. It never
// participates in protocol correctness, and is not part of any wire
// protocol the overlay, RDT, or DHT components speak to each other.
package debugsrv

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// SnapshotFunc produces the current state to publish, e.g. a forwarding
// table, a routing table, or a DHT ring's hash range and route table.
type SnapshotFunc func() any

// Config configures a Server.
type Config struct {
	// Addr is the "host:port" the HTTP/websocket listener binds.
	Addr string

	// Path is the websocket upgrade path. Default: "/debug".
	Path string

	// Interval is how often Snapshot is polled and broadcast. Default: 1s.
	Interval time.Duration

	// Snapshot is called on each tick; its return value is marshaled to
	// JSON and sent to every connected client.
	Snapshot SnapshotFunc

	Logger *slog.Logger
}

// Server serves live JSON snapshots over a websocket connection.
type Server struct {
	cfg      Config
	log      *slog.Logger
	upgrader websocket.Upgrader
	http     *http.Server

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// New creates a Server. Call Run to start serving.
func New(cfg Config) *Server {
	if cfg.Path == "" {
		cfg.Path = "/debug"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		log:     logger.WithGroup("debugsrv"),
		clients: make(map[*websocket.Conn]struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, s.handleUpgrade)
	s.http = &http.Server{Addr: cfg.Addr, Handler: mux}
	return s
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	// Drain the connection so the kernel's read buffer doesn't fill; this
	// endpoint doesn't accept client messages.
	go func() {
		defer s.removeClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) broadcast() {
	if s.cfg.Snapshot == nil {
		return
	}
	data, err := json.Marshal(s.cfg.Snapshot())
	if err != nil {
		s.log.Debug("snapshot marshal failed", "error", err)
		return
	}

	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			s.log.Debug("broadcast write failed", "error", err)
			s.removeClient(c)
		}
	}
}

// Run starts the HTTP listener and the broadcast loop, both stopped when
// ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- s.http.ListenAndServe() }()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.http.Close()
			return ctx.Err()
		case err := <-errc:
			if err != nil && err != http.ErrServerClosed {
				return err
			}
		case <-ticker.C:
			s.broadcast()
		}
	}
}
