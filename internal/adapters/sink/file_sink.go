package sink

import (
	"fmt"
	"os"

	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/domain"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/ports"
)

// FileSink appends one comma-separated line per sample. Writes go straight
// to the file descriptor, so every sample is durable before the next client
// send happens.
type FileSink struct {
	f    *os.File
	path string
}

func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open save file %s: %w", path, err)
	}
	return &FileSink{f: f, path: path}, nil
}

func (s *FileSink) Name() string { return "file:" + s.path }

func (s *FileSink) Write(sample *domain.Sample) error {
	if _, err := s.f.WriteString(sample.CSV() + "\n"); err != nil {
		return fmt.Errorf("append to %s: %w", s.path, err)
	}
	return nil
}

func (s *FileSink) Close() error { return s.f.Close() }

var _ ports.Sink = (*FileSink)(nil)
