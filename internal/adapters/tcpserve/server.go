package tcpserve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/adapters/observability"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/domain"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/ports"
)

type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Client is the single active TCP consumer. The accept loop creates it and
// parks on released; the telemetry loop closes released when a send fails.
type Client struct {
	conn     net.Conn
	ID       string
	Addr     string
	released chan struct{}
	once     sync.Once
}

func (c *Client) closeAndRelease() {
	c.once.Do(func() {
		_ = c.conn.Close()
		close(c.released)
	})
}

// Server owns the listener and the one-slot client reference. The slot has
// exactly two writers with disjoint duties: AcceptLoop sets it, Send clears
// it.
type Server struct {
	ln  net.Listener
	obs ports.Observability

	mu      sync.Mutex
	current *Client

	closeOnce sync.Once
	closeErr  error
}

// Listen binds the server socket. Port 0 requests an ephemeral port; the
// effective address is available through Addr.
func Listen(cfg Config, obs ports.Observability) (*Server, error) {
	if obs == nil {
		obs = observability.Nop()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return &Server{ln: ln, obs: obs}, nil
}

func (s *Server) Addr() net.Addr { return s.ln.Addr() }

func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// AcceptLoop serves inbound connections for the daemon lifetime: accept,
// install the client, then wait until the telemetry loop releases the slot
// before accepting again. Returns nil once ctx is cancelled.
func (s *Server) AcceptLoop(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.closeListener() })
	defer stop()

	for {
		s.obs.LogInfo("accepting connection", ports.F("addr", s.Addr()))

		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		client := &Client{
			conn:     conn,
			ID:       uuid.NewString(),
			Addr:     conn.RemoteAddr().String(),
			released: make(chan struct{}),
		}
		s.install(client)
		s.obs.LogInfo("client connected",
			ports.F("peer", client.Addr), ports.F("conn_id", client.ID))

		select {
		case <-client.released:
		case <-ctx.Done():
			return nil
		}
	}
}

// Send writes the sample to the current client, if any. A write failure is
// a disconnect: the connection is closed, the slot cleared and the accept
// loop released. Absence of a client is not an error.
func (s *Server) Send(sample *domain.Sample) {
	s.mu.Lock()
	client := s.current
	s.mu.Unlock()

	if client == nil {
		return
	}

	if _, err := client.conn.Write(sample.Line()); err != nil {
		s.obs.LogInfo("client connection closed",
			ports.F("peer", client.Addr), ports.F("conn_id", client.ID), ports.F("cause", err))
		s.obs.IncCounter(observability.MetricClientDisconnects, 1)
		s.release(client)
	}
}

// HasClient reports whether a client currently occupies the slot.
func (s *Server) HasClient() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

func (s *Server) Close() error {
	s.closeListener()
	s.mu.Lock()
	client := s.current
	s.mu.Unlock()
	if client != nil {
		s.release(client)
	}
	return s.closeErr
}

func (s *Server) install(client *Client) {
	s.mu.Lock()
	stale := s.current
	s.current = client
	s.mu.Unlock()

	// A stale reference can only exist if the peer vanished without a
	// failed send; abandon it.
	if stale != nil {
		stale.closeAndRelease()
	}
	s.obs.SetGauge(observability.MetricConnectedClients, 1)
}

func (s *Server) release(client *Client) {
	s.mu.Lock()
	if s.current == client {
		s.current = nil
	}
	s.mu.Unlock()

	client.closeAndRelease()
	s.obs.SetGauge(observability.MetricConnectedClients, 0)
}

func (s *Server) closeListener() {
	s.closeOnce.Do(func() { s.closeErr = s.ln.Close() })
}
