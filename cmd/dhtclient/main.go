// Command dhtclient issues a single get or put against a Chord ring node
// and prints the reply.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/chengyuegong/Computer-Networks/dht"
	"github.com/chengyuegong/Computer-Networks/substrate/dhtudp"
)

func main() {
	var (
		local   = flag.String("local", "127.0.0.1:0", "local UDP address to bind, host:port")
		server  = flag.String("server", "", "DHT node address to query, host:port")
		op      = flag.String("op", "get", "operation: get or put")
		key     = flag.String("key", "", "key")
		value   = flag.String("value", "", "value, for -op put")
		timeout = flag.Duration("timeout", 3*time.Second, "reply wait timeout")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if *server == "" || *key == "" {
		logger.Error("missing required flag", "need", "-server, -key")
		os.Exit(1)
	}

	msgType := dht.TypeGet
	if *op == "put" {
		msgType = dht.TypePut
	} else if *op != "get" {
		logger.Error("unknown op", "op", *op)
		os.Exit(1)
	}

	sub, err := dhtudp.New(dhtudp.Config{LocalAddr: *local, Logger: logger})
	if err != nil {
		logger.Error("dhtudp.New failed", "error", err)
		os.Exit(1)
	}
	defer sub.Close()

	tag := int(time.Now().UnixNano() & 0x7fffffff)
	req := &dht.Message{Type: msgType, Key: *key, Value: *value, Tag: tag, TTL: dht.DefaultTTL}
	if err := sub.Send(req, *server); err != nil {
		logger.Error("send failed", "error", err)
		os.Exit(1)
	}

	deadline := time.Now().Add(*timeout)
	for time.Now().Before(deadline) {
		if !sub.Incoming() {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		reply, from := sub.Receive()
		if reply.Tag != tag {
			continue
		}
		switch reply.Type {
		case dht.TypeSuccess:
			fmt.Printf("success: %s = %q (from %s)\n", reply.Key, reply.Value, from)
		case dht.TypeNoMatch:
			fmt.Printf("no match: %s (from %s)\n", reply.Key, from)
		default:
			fmt.Printf("%s: %s (from %s)\n", reply.Type, reply.Reason, from)
		}
		return
	}
	logger.Error("timed out waiting for reply")
	os.Exit(1)
}
