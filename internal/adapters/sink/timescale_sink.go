package sink

import (
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/domain"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/ports"
)

// TimescaleSink stores one row per sample: timestamp, poll sequence number
// and the readings as a float8 array.
type TimescaleSink struct {
	db        *sql.DB
	tableName string
}

func NewTimescaleSink(db *sql.DB, table string) *TimescaleSink {
	return &TimescaleSink{db: db, tableName: table}
}

func (t *TimescaleSink) Name() string { return "timescaledb" }

func (t *TimescaleSink) Write(s *domain.Sample) error {
	readings, err := s.Floats()
	if err != nil {
		return fmt.Errorf("parse readings: %w", err)
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (ts, seq, readings) VALUES ($1,$2,$3) ON CONFLICT (ts, seq) DO NOTHING",
		t.tableName,
	)
	if _, err := t.db.Exec(query, s.Timestamp, s.Seq, pq.Array(readings)); err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

func (t *TimescaleSink) Close() error { return t.db.Close() }

var _ ports.Sink = (*TimescaleSink)(nil)
