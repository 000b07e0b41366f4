package tcpserve

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/adapters/observability"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/domain"
)

func startServer(t *testing.T) (*Server, context.CancelFunc) {
	t.Helper()

	srv, err := Listen(Config{Host: "127.0.0.1", Port: 0}, observability.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.AcceptLoop(ctx) }()

	t.Cleanup(func() {
		cancel()
		srv.Close()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatalf("accept loop did not stop")
		}
	})
	return srv, cancel
}

func waitForClient(t *testing.T, srv *Server, want bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if srv.HasClient() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client slot never reached state %v", want)
}

func TestSendDeliversCRLFLines(t *testing.T) {
	srv, _ := startServer(t)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	waitForClient(t, srv, true)

	srv.Send(&domain.Sample{Readings: []string{"10.1", "20.2"}})
	srv.Send(&domain.Sample{Readings: []string{"10.3", "20.1"}})

	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "10.1,20.2\r\n", line)

	line, err = r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "10.3,20.1\r\n", line)
}

func TestSendWithoutClientIsANoop(t *testing.T) {
	srv, _ := startServer(t)

	require.False(t, srv.HasClient())
	srv.Send(&domain.Sample{Readings: []string{"10.1"}})
}

func TestDisconnectFreesSlotForNextClient(t *testing.T) {
	srv, _ := startServer(t)

	first, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	waitForClient(t, srv, true)
	require.NoError(t, first.Close())

	// The send that hits the closed peer clears the slot. Kernel buffering
	// may swallow the first write, so keep sending until the failure lands.
	deadline := time.Now().Add(2 * time.Second)
	for srv.HasClient() && time.Now().Before(deadline) {
		srv.Send(&domain.Sample{Readings: []string{"1.0"}})
		time.Sleep(10 * time.Millisecond)
	}
	require.False(t, srv.HasClient(), "slot should clear after a failed send")

	second, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer second.Close()

	waitForClient(t, srv, true)
	srv.Send(&domain.Sample{Readings: []string{"10.0", "20.0"}})

	line, err := bufio.NewReader(second).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "10.0,20.0\r\n", line)
}

func TestEphemeralPortIsReported(t *testing.T) {
	srv, _ := startServer(t)
	require.NotZero(t, srv.Port())
}
