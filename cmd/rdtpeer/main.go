// Command rdtpeer is a go-back-N reliable-transport peer: lines typed on
// stdin are sent to the remote peer, and lines received from the peer are
// printed to stdout.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chengyuegong/Computer-Networks/rdt"
	"github.com/chengyuegong/Computer-Networks/substrate/rdtudp"
)

func main() {
	var (
		local  = flag.String("local", "", "local UDP address to bind, host:port")
		remote = flag.String("remote", "", "remote peer UDP address, host:port")
		window = flag.Int("window", 4, "sliding window size")
		timeout = flag.Duration("timeout", time.Second, "retransmission timeout")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if *local == "" || *remote == "" {
		logger.Error("missing required flag", "need", "-local, -remote")
		os.Exit(1)
	}

	sub, err := rdtudp.New(rdtudp.Config{LocalAddr: *local, PeerAddr: *remote, Logger: logger})
	if err != nil {
		logger.Error("rdtudp.New failed", "error", err)
		os.Exit(1)
	}
	defer sub.Close()

	tr, err := rdt.New(rdt.Config{Window: *window, Timeout: *timeout, Logger: logger})
	if err != nil {
		logger.Error("rdt.New failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := tr.Run(ctx, sub); err != nil && err != context.Canceled {
			logger.Error("transport exited", "error", err)
		}
	}()

	go func() {
		for {
			if !tr.Incoming() {
				select {
				case <-done:
					return
				case <-time.After(10 * time.Millisecond):
				}
				continue
			}
			fmt.Println(string(tr.Receive()))
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		tr.Send([]byte(scanner.Text()))
	}
	tr.Quit()
	<-done
}
