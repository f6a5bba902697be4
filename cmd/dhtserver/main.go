// Command dhtserver runs one node of the Chord ring, optionally joining an
// existing ring through a bootstrap predecessor.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chengyuegong/Computer-Networks/debugsrv"
	"github.com/chengyuegong/Computer-Networks/dht"
	"github.com/chengyuegong/Computer-Networks/substrate/dhtudp"
)

func main() {
	var (
		local         = flag.String("local", "", "local UDP address to bind and advertise, host:port")
		join          = flag.String("join", "", "predecessor address to join through; empty starts a new ring")
		cacheCapacity = flag.Int("cache", 0, "per-key value cache capacity; 0 disables caching")
		numRoutes     = flag.Int("routes", 8, "shortcut routing table capacity")
		cfgFile       = flag.String("cfg-file", "", "file to persist this node's host/port on startup")
		debugLevel    = flag.Int("debug", 0, "debug level stored in dht.Config; the server logs no route-table changes at any level")
		debugAddr     = flag.String("debug-addr", "", "if set, serve a live ring-state websocket at this host:port")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if *local == "" {
		logger.Error("missing required flag", "need", "-local")
		os.Exit(1)
	}

	srv, err := dht.New(dht.Config{
		MyAdr:         *local,
		NumRoutes:     *numRoutes,
		CacheCapacity: *cacheCapacity,
		CfgFile:       *cfgFile,
		DebugLevel:    *debugLevel,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("dht.New failed", "error", err)
		os.Exit(1)
	}

	sub, err := dhtudp.New(dhtudp.Config{LocalAddr: *local, Logger: logger})
	if err != nil {
		logger.Error("dhtudp.New failed", "error", err)
		os.Exit(1)
	}
	defer sub.Close()

	if *join != "" {
		if err := srv.Join(sub, *join); err != nil {
			logger.Error("join failed", "predecessor", *join, "error", err)
			os.Exit(1)
		}
		logger.Info("joined ring", "predecessor", *join, "range", srv.HashRange())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *debugAddr != "" {
		dbg := debugsrv.New(debugsrv.Config{
			Addr:     *debugAddr,
			Snapshot: func() any { return srv.Snapshot() },
			Logger:   logger,
		})
		go func() {
			if err := dbg.Run(ctx); err != nil && err != context.Canceled {
				logger.Error("debugsrv exited", "error", err)
			}
		}()
	}

	logger.Info("dhtserver starting", "address", *local)
	if err := srv.Run(ctx, sub); err != nil && err != context.Canceled {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}
