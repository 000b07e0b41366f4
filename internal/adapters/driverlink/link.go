package driverlink

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/domain"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/ports"
)

// Driver conversation items. The topic "System" is the driver's well-known
// meta topic used for discovery.
const (
	SystemTopic      = "System"
	ItemTopics       = "Topics"
	ItemScanInterval = "Average Scan Interval"
	ItemTemperatures = "Temperatures"
)

// Config captures what is needed to negotiate a driver session.
type Config struct {
	Service  string `yaml:"service"`
	Topic    string `yaml:"topic"`
	Discover bool   `yaml:"discover"`
}

func (c *Config) ApplyDefaults() {
	if c.Service == "" {
		c.Service = "PPMonitor"
	}
}

func (c *Config) Validate() error {
	if !c.Discover && c.Topic == "" {
		return errors.New("either discover or an explicit topic is required")
	}
	return nil
}

// LinkError reports a failed driver connect or negotiation, carrying the
// topic that was attempted.
type LinkError struct {
	Topic string
	Err   error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("cannot connect to %s: %v", e.Topic, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

// Session is the live link to the instrument driver: a bound conversation,
// the negotiated topic and the driver-reported scan interval. Exactly one
// Session exists per daemon.
type Session struct {
	conv         ports.Conversation
	Topic        string
	ScanInterval time.Duration
}

// Request forwards a raw item request on the bound conversation.
func (s *Session) Request(item string) (string, error) {
	return s.conv.Request(item)
}

// Temperatures polls the driver once and returns the ordered readings.
func (s *Session) Temperatures() ([]string, error) {
	raw, err := s.conv.Request(ItemTemperatures)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", ItemTemperatures, err)
	}
	return domain.ParseReadings(raw), nil
}

func (s *Session) Close() error { return s.conv.Close() }

// Link establishes driver sessions: topic selection (explicit or
// discovered), the topic connect itself, and the scan-interval read.
type Link struct {
	cfg    Config
	dialer ports.ConversationDialer
	obs    ports.Observability
}

func New(cfg Config, dialer ports.ConversationDialer, obs ports.Observability) (*Link, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dialer == nil {
		return nil, errors.New("conversation dialer is required")
	}
	return &Link{cfg: cfg, dialer: dialer, obs: obs}, nil
}

// Connect negotiates a new Session. Failures surface as *LinkError so the
// daemon can distinguish them from configuration problems.
func (l *Link) Connect(ctx context.Context) (*Session, error) {
	conv, err := l.dialer.Dial(ctx)
	if err != nil {
		return nil, &LinkError{Topic: l.cfg.Topic, Err: err}
	}

	topic := l.cfg.Topic
	if topic == "" {
		topic, err = l.discoverTopic(conv)
		if err != nil {
			_ = conv.Close()
			return nil, err
		}
	}

	l.obs.LogDebug("connecting to topic", ports.F("service", l.cfg.Service), ports.F("topic", topic))
	if err := conv.ConnectTo(l.cfg.Service, topic); err != nil {
		_ = conv.Close()
		return nil, &LinkError{Topic: topic, Err: err}
	}

	interval, err := l.readScanInterval(conv)
	if err != nil {
		_ = conv.Close()
		return nil, &LinkError{Topic: topic, Err: err}
	}

	l.obs.LogInfo("connected to driver",
		ports.F("topic", topic), ports.F("scan_interval", interval))

	return &Session{conv: conv, Topic: topic, ScanInterval: interval}, nil
}

func (l *Link) discoverTopic(conv ports.Conversation) (string, error) {
	if err := conv.ConnectTo(l.cfg.Service, SystemTopic); err != nil {
		return "", &LinkError{Topic: SystemTopic, Err: err}
	}

	raw, err := conv.Request(ItemTopics)
	if err != nil {
		return "", &LinkError{Topic: SystemTopic, Err: fmt.Errorf("request %s: %w", ItemTopics, err)}
	}

	topics := strings.Split(strings.TrimRight(raw, "\r\n"), "\t")
	l.obs.LogDebug("driver topics", ports.F("topics", strings.Join(topics, ",")))
	if len(topics) == 0 || topics[0] == "" {
		return "", &LinkError{Topic: SystemTopic, Err: errors.New("driver reported no topics")}
	}
	return topics[0], nil
}

func (l *Link) readScanInterval(conv ports.Conversation) (time.Duration, error) {
	raw, err := conv.Request(ItemScanInterval)
	if err != nil {
		return 0, fmt.Errorf("request %s: %w", ItemScanInterval, err)
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("parse scan interval %q: %w", raw, err)
	}
	if secs <= 0 {
		return 0, fmt.Errorf("driver reported non-positive scan interval %v", secs)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
