// Command routerd runs one overlay node: a Forwarder driving the data
// plane and a Router driving path-vector route exchange, both bound to a
// udpsub substrate.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/chengyuegong/Computer-Networks/debugsrv"
	"github.com/chengyuegong/Computer-Networks/forwarder"
	"github.com/chengyuegong/Computer-Networks/router"
	"github.com/chengyuegong/Computer-Networks/substrate/udpsub"
)

func main() {
	var (
		myIP         = flag.String("ip", "", "this router's overlay address, dotted-quad")
		prefix       = flag.String("prefix", "", "the prefix this router owns, e.g. 10.1.0.0/16")
		local        = flag.String("local", "", "local UDP address to bind, host:port")
		peersFlag    = flag.String("peers", "", "comma-separated peer UDP addresses, one per link")
		fadvert      = flag.Bool("failure-advertise", true, "send fadvert on detected link failure")
		debugLevel   = flag.Int("debug", 0, "routing-table debug verbosity")
		initLinkCost = flag.Float64("init-link-cost", 0.01, "seeded EWMA link cost before any hello completes")
		debugAddr    = flag.String("debug-addr", "", "if set, serve live forwarding/routing table snapshots over websocket at this host:port")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if *myIP == "" || *prefix == "" || *local == "" {
		logger.Error("missing required flag", "need", "-ip, -prefix, -local")
		os.Exit(1)
	}

	var peers []string
	if *peersFlag != "" {
		peers = strings.Split(*peersFlag, ",")
	}

	fwd, err := forwarder.New(forwarder.Config{MyIP: *myIP, Logger: logger})
	if err != nil {
		logger.Error("forwarder.New failed", "error", err)
		os.Exit(1)
	}

	r, err := router.New(router.Config{
		MyIP:             *myIP,
		Prefix:           *prefix,
		Peers:            peers,
		InitialLinkCost:  *initLinkCost,
		FailureAdvertise: *fadvert,
		DebugLevel:       *debugLevel,
		Logger:           logger,
	}, fwd)
	if err != nil {
		logger.Error("router.New failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sub, err := udpsub.New(ctx, udpsub.Config{LocalAddr: *local, Peers: peers, Logger: logger})
	if err != nil {
		logger.Error("udpsub.New failed", "error", err)
		os.Exit(1)
	}
	defer sub.Close()

	logger.Info("routerd starting", "ip", *myIP, "prefix", *prefix, "links", len(peers))

	// errgroup supervises the paired forwarder/router goroutines (plus the
	// optional debug server): the first one to fail cancels gctx, which in
	// turn unwinds the others.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return fwd.Run(gctx, sub) })
	g.Go(func() error { return r.Run(gctx) })

	if *debugAddr != "" {
		dbg := debugsrv.New(debugsrv.Config{
			Addr:     *debugAddr,
			Snapshot: func() any { return r.Table().Snapshot() },
			Logger:   logger,
		})
		g.Go(func() error { return dbg.Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("component exited", "error", err)
		os.Exit(1)
	}
}
