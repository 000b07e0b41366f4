package daemon

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/adapters/driverlink"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/adapters/observability"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/adapters/sink"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/adapters/tcpserve"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/domain"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/ports"
)

// scriptedConv hands out temperature responses in order, then keeps
// repeating the last one (or fails, if failAfter is set).
type scriptedConv struct {
	mu           sync.Mutex
	interval     string
	temperatures []string
	polls        int
	failAfter    int
}

func (c *scriptedConv) ConnectTo(service, topic string) error { return nil }

func (c *scriptedConv) Request(item string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch item {
	case driverlink.ItemScanInterval:
		return c.interval, nil
	case driverlink.ItemTemperatures:
		if c.failAfter > 0 && c.polls >= c.failAfter {
			return "", errors.New("driver went away")
		}
		idx := c.polls
		if idx >= len(c.temperatures) {
			idx = len(c.temperatures) - 1
		}
		c.polls++
		return c.temperatures[idx], nil
	default:
		return "", errors.New("no such item: " + item)
	}
}

func (c *scriptedConv) Close() error { return nil }

// failNDialer fails the first n dials, then serves conv.
type failNDialer struct {
	mu    sync.Mutex
	n     int
	conv  ports.Conversation
	dials int
}

func (d *failNDialer) Dial(ctx context.Context) (ports.Conversation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dials <= d.n {
		return nil, errors.New("connection refused")
	}
	return d.conv, nil
}

type recordingLauncher struct {
	mu       sync.Mutex
	launches int
	err      error
}

func (l *recordingLauncher) Launch() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	return l.err
}

func newTestDaemon(t *testing.T, dialer ports.ConversationDialer, o Options) (*Daemon, *tcpserve.Server) {
	t.Helper()

	link, err := driverlink.New(driverlink.Config{Topic: "GE01"}, dialer, observability.Nop())
	require.NoError(t, err)

	srv, err := tcpserve.Listen(tcpserve.Config{Host: "127.0.0.1", Port: 0}, observability.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	o.Link = link
	o.Server = srv
	if o.LaunchGrace == 0 {
		o.LaunchGrace = 10 * time.Millisecond
	}

	d, err := New(o)
	require.NoError(t, err)
	return d, srv
}

func TestRunStreamsSamplesToClientAndFile(t *testing.T) {
	conv := &scriptedConv{
		interval: "0.02",
		temperatures: []string{
			"10.1\t20.2\t\n",
			"10.3\t20.1\t\n",
			"10.0\t20.0\t\n",
		},
	}
	savePath := filepath.Join(t.TempDir(), "telemetry.csv")
	fileSink, err := sink.NewFileSink(savePath)
	require.NoError(t, err)
	defer fileSink.Close()

	d, srv := newTestDaemon(t, &failNDialer{conv: conv}, Options{Sinks: []ports.Sink{fileSink}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	r := bufio.NewReader(conn)
	want := []string{"10.1,20.2\r\n", "10.3,20.1\r\n", "10.0,20.0\r\n"}
	var got []string
	for len(got) < len(want) {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		got = append(got, line)
	}
	// The client may join mid-stream; every line it sees must be one of the
	// polled samples, in order, ending with the repeated last sample.
	for _, line := range got {
		require.Contains(t, want, line)
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop on cancel")
	}

	data, err := os.ReadFile(savePath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	require.Equal(t, "10.1,20.2", lines[0])
	require.Equal(t, "10.3,20.1", lines[1])
	require.Equal(t, "10.0,20.0", lines[2])
}

func TestRunLaunchesDriverOnceAndRetries(t *testing.T) {
	conv := &scriptedConv{interval: "0.05", temperatures: []string{"1.0\t\n"}}
	dialer := &failNDialer{n: 1, conv: conv}
	launcher := &recordingLauncher{}

	d, _ := newTestDaemon(t, dialer, Options{Launcher: launcher})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return d.State() == StateRunning },
		2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	require.Equal(t, 1, launcher.launches)
	require.Equal(t, 2, dialer.dials)
}

func TestRunFatalWithoutLauncher(t *testing.T) {
	dialer := &failNDialer{n: 100, conv: &scriptedConv{interval: "1"}}
	d, _ := newTestDaemon(t, dialer, Options{})

	err := d.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "no executable was configured")
	require.Equal(t, StateStopped, d.State())
}

func TestRunFatalWhenRetryFailsToo(t *testing.T) {
	dialer := &failNDialer{n: 100, conv: &scriptedConv{interval: "1"}}
	launcher := &recordingLauncher{}
	d, _ := newTestDaemon(t, dialer, Options{Launcher: launcher})

	err := d.Run(context.Background())
	require.Error(t, err)

	var le *driverlink.LinkError
	require.ErrorAs(t, err, &le)
	require.Equal(t, 1, launcher.launches)
	require.Equal(t, 2, dialer.dials, "exactly one retry after the launch")
}

func TestRunFatalOnMidSessionDriverFailure(t *testing.T) {
	conv := &scriptedConv{
		interval:     "0.01",
		temperatures: []string{"1.0\t\n"},
		failAfter:    2,
	}
	d, _ := newTestDaemon(t, &failNDialer{conv: conv}, Options{})

	err := d.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "driver poll failed")
	require.Equal(t, StateStopped, d.State())
}

func TestSinkFailureDoesNotStopTheLoop(t *testing.T) {
	conv := &scriptedConv{interval: "0.01", temperatures: []string{"1.0\t\n"}}
	bad := &failingSink{}
	d, _ := newTestDaemon(t, &failNDialer{conv: conv}, Options{Sinks: []ports.Sink{bad}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return bad.writes() >= 3 },
		2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

type failingSink struct {
	mu sync.Mutex
	n  int
}

func (f *failingSink) Write(*domain.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return errors.New("disk full")
}

func (f *failingSink) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

func (f *failingSink) Name() string { return "failing" }
func (f *failingSink) Close() error { return nil }
