// Serves synthetic temperatures without a real instrument driver: an
// in-memory conversation answers the daemon's requests, so the TCP stream
// can be exercised with netcat.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os/signal"
	"syscall"

	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/adapters/bridge"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/adapters/driverlink"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/adapters/tcpserve"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/app/config"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/pkg/thermalscanner"
)

type simulatedConv struct {
	channels int
}

func (s *simulatedConv) ConnectTo(service, topic string) error { return nil }

func (s *simulatedConv) Request(item string) (string, error) {
	switch item {
	case driverlink.ItemTopics:
		return "GE01\tGE02\n", nil
	case driverlink.ItemScanInterval:
		return "1.0", nil
	case driverlink.ItemTemperatures:
		out := ""
		for i := 0; i < s.channels; i++ {
			out += fmt.Sprintf("%.1f\t", 20+rand.Float64()*2)
		}
		return out + "\n", nil
	default:
		return "", errors.New("no such item: " + item)
	}
}

func (s *simulatedConv) Close() error { return nil }

func main() {
	cfg := &thermalscanner.Config{
		Driver: config.DriverConfig{
			Config: driverlink.Config{Discover: true},
		},
		Bridge: bridge.Config{Addr: "simulated:0"},
		Server: tcpserve.Config{Host: "127.0.0.1", Port: 2222},
	}

	rt, err := thermalscanner.New(cfg,
		thermalscanner.WithDialer(thermalscanner.DialerFunc(
			func(context.Context) (thermalscanner.Conversation, error) {
				return &simulatedConv{channels: 8}, nil
			})),
	)
	if err != nil {
		log.Fatal(err)
	}

	log.Printf("simulated scanner on %s, try: nc 127.0.0.1 2222", rt.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Run(ctx); err != nil {
		log.Fatal(err)
	}
}
