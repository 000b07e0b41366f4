package ports

import "github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/domain"

// Sink receives every produced sample, regardless of client connection
// state. Sink failures are local: they are logged and never interrupt the
// telemetry loop.
type Sink interface {
	Write(s *domain.Sample) error
	Name() string
	Close() error
}
