// Package bridge speaks the line-oriented request/response protocol of the
// vendor's driver bridge endpoint. One command per line, one response line
// per command; responses beginning with "ERR " carry a failure message and
// everything else is payload verbatim, tabs and terminating newline
// included.
package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/ports"
)

type Config struct {
	Addr string `yaml:"addr"`
}

func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("bridge addr is required")
	}
	return nil
}

// Dialer opens bridge conversations over TCP.
type Dialer struct {
	cfg Config
}

func NewDialer(cfg Config) (*Dialer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Dialer{cfg: cfg}, nil
}

func (d *Dialer) Dial(ctx context.Context) (ports.Conversation, error) {
	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", d.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial bridge %s: %w", d.cfg.Addr, err)
	}
	return &Conversation{conn: conn, r: bufio.NewReader(conn)}, nil
}

// Conversation is a single bridge session. Calls are synchronous and carry
// no deadline; a hung bridge blocks the caller.
type Conversation struct {
	conn net.Conn
	r    *bufio.Reader
}

func (c *Conversation) ConnectTo(service, topic string) error {
	resp, err := c.roundTrip(fmt.Sprintf("CONNECT %s %s", service, topic))
	if err != nil {
		return err
	}
	if strings.TrimRight(resp, "\r\n") != "OK" {
		return fmt.Errorf("bridge refused connect to %s %s: %s", service, topic, strings.TrimSpace(resp))
	}
	return nil
}

func (c *Conversation) Request(item string) (string, error) {
	return c.roundTrip("REQUEST " + item)
}

func (c *Conversation) Close() error { return c.conn.Close() }

func (c *Conversation) roundTrip(cmd string) (string, error) {
	if _, err := c.conn.Write([]byte(cmd + "\r\n")); err != nil {
		return "", fmt.Errorf("bridge write: %w", err)
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("bridge read: %w", err)
	}
	if msg, ok := strings.CutPrefix(line, "ERR "); ok {
		return "", errors.New(strings.TrimSpace(msg))
	}
	return line, nil
}

var _ ports.Conversation = (*Conversation)(nil)
var _ ports.ConversationDialer = (*Dialer)(nil)
