package thermalscanner

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/adapters/bridge"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/adapters/driverlink"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/adapters/observability"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/adapters/tcpserve"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/app/config"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/ports"
)

type stubConv struct{}

func (stubConv) ConnectTo(service, topic string) error { return nil }

func (stubConv) Request(item string) (string, error) {
	switch item {
	case driverlink.ItemScanInterval:
		return "0.02", nil
	case driverlink.ItemTemperatures:
		return "21.5\t22.0\t\n", nil
	}
	return "", errors.New("no such item")
}

func (stubConv) Close() error { return nil }

func testConfig() *Config {
	return &Config{
		Driver: config.DriverConfig{
			Config:    driverlink.Config{Topic: "GE01"},
			Transport: config.TransportBridge,
		},
		Bridge: bridge.Config{Addr: "unused:1"},
		Server: tcpserve.Config{Host: "127.0.0.1", Port: 0},
	}
}

func TestRuntimeServesTelemetry(t *testing.T) {
	cfg := testConfig()

	rt, err := New(cfg,
		WithDialer(DialerFunc(func(context.Context) (ports.Conversation, error) {
			return stubConv{}, nil
		})),
		WithObservability(observability.Nop()),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	conn, err := net.Dial("tcp", rt.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "21.5,22.0\r\n", line)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runtime did not stop")
	}
}

func TestNewRejectsNilConfig(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestNewRejectsMissingTopic(t *testing.T) {
	cfg := testConfig()
	cfg.Driver.Topic = ""
	cfg.Driver.Discover = false

	_, err := New(cfg, WithObservability(observability.Nop()))
	require.Error(t, err)
}
