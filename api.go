package thermalscanner

import (
	base "github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/pkg/thermalscanner"
)

// Type aliases so consumers can import the module root directly.
type (
	Config             = base.Config
	Conversation       = base.Conversation
	ConversationDialer = base.ConversationDialer
	DialerFunc         = base.DialerFunc
	Launcher           = base.Launcher
	Sink               = base.Sink
	Observability      = base.Observability
	LinkError          = base.LinkError
	Runtime            = base.Runtime
	Option             = base.Option
	State              = base.State
)

func LoadConfig(path string) (*Config, error) { return base.LoadConfig(path) }

func New(cfg *Config, opts ...Option) (*Runtime, error) { return base.New(cfg, opts...) }

func WithDialer(d ConversationDialer) Option { return base.WithDialer(d) }

func WithLauncher(l Launcher) Option { return base.WithLauncher(l) }

func WithSink(s Sink) Option { return base.WithSink(s) }

func WithObservability(obs Observability) Option { return base.WithObservability(obs) }
