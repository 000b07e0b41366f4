// Package opcuaconv maps the driver conversation onto OPC UA node reads for
// installations that front the instrument driver with an OPC gateway. Each
// conversation item is exposed as a string variable under
// "<service>/<topic>/<item>" in the gateway's namespace.
package opcuaconv

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/ports"
)

type Config struct {
	Endpoint        string `yaml:"endpoint"`
	Namespace       uint16 `yaml:"namespace"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	SecurityMode    string `yaml:"security_mode"`
	SecurityPolicy  string `yaml:"security_policy"`
	ApplicationName string `yaml:"application_name"`
}

func (c *Config) ApplyDefaults() {
	if c.Namespace == 0 {
		c.Namespace = 2
	}
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "Thermal Scanner Daemon"
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("opcua endpoint is required")
	}
	return nil
}

// Dialer opens OPC UA backed conversations.
type Dialer struct {
	cfg Config
}

func NewDialer(cfg Config) (*Dialer, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Dialer{cfg: cfg}, nil
}

func (d *Dialer) Dial(ctx context.Context) (ports.Conversation, error) {
	opts := []opcua.Option{
		opcua.SecurityModeString(d.cfg.SecurityMode),
		opcua.SecurityPolicy(d.cfg.SecurityPolicy),
		opcua.ApplicationName(d.cfg.ApplicationName),
	}
	if d.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(d.cfg.Username, d.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}

	client, err := opcua.NewClient(d.cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("opcua connect %s: %w", d.cfg.Endpoint, err)
	}

	return &Conversation{client: client, ns: d.cfg.Namespace}, nil
}

// Conversation is a bound OPC UA session. The conversation port has no
// per-call context, so reads run on the background context with no
// deadline.
type Conversation struct {
	client  *opcua.Client
	ns      uint16
	service string
	topic   string
}

func (c *Conversation) ConnectTo(service, topic string) error {
	id := ua.NewStringNodeID(c.ns, topicNodeID(service, topic))
	resp, err := c.client.Read(context.Background(), &ua.ReadRequest{
		NodesToRead: []*ua.ReadValueID{{NodeID: id, AttributeID: ua.AttributeIDNodeClass}},
	})
	if err != nil {
		return fmt.Errorf("opcua read %s: %w", id, err)
	}
	if len(resp.Results) == 0 || resp.Results[0].Status != ua.StatusOK {
		return fmt.Errorf("no such topic node %s", id)
	}

	c.service = service
	c.topic = topic
	return nil
}

func (c *Conversation) Request(item string) (string, error) {
	if c.topic == "" {
		return "", errors.New("conversation not bound to a topic")
	}

	id := ua.NewStringNodeID(c.ns, itemNodeID(c.service, c.topic, item))
	resp, err := c.client.Read(context.Background(), &ua.ReadRequest{
		NodesToRead: []*ua.ReadValueID{{NodeID: id, AttributeID: ua.AttributeIDValue}},
	})
	if err != nil {
		return "", fmt.Errorf("opcua read %s: %w", id, err)
	}
	if len(resp.Results) == 0 || resp.Results[0].Status != ua.StatusOK {
		return "", fmt.Errorf("read of %s failed", id)
	}

	v := resp.Results[0].Value
	if v == nil {
		return "", fmt.Errorf("node %s has no value", id)
	}
	s, ok := v.Value().(string)
	if !ok {
		return "", fmt.Errorf("node %s is not a string, got %T", id, v.Value())
	}
	return s, nil
}

func (c *Conversation) Close() error {
	return c.client.Close(context.Background())
}

func topicNodeID(service, topic string) string {
	return service + "/" + topic
}

func itemNodeID(service, topic, item string) string {
	return strings.Join([]string{service, topic, item}, "/")
}

var _ ports.Conversation = (*Conversation)(nil)
var _ ports.ConversationDialer = (*Dialer)(nil)
