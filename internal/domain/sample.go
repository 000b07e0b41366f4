package domain

import (
	"strconv"
	"strings"
	"time"
)

// Sample is one set of temperature readings captured at a single poll of the
// instrument driver. Readings keep the driver's field order and its textual
// representation; consumers that need numbers parse on demand.
type Sample struct {
	Readings  []string  `json:"readings"`
	Timestamp time.Time `json:"ts"`
	Seq       uint64    `json:"seq"`
}

// CSV returns the readings joined by commas, the on-disk and on-wire payload.
func (s *Sample) CSV() string {
	return strings.Join(s.Readings, ",")
}

// Line returns the CRLF-terminated client framing of the sample.
func (s *Sample) Line() []byte {
	return []byte(s.CSV() + "\r\n")
}

// Floats parses every reading as a float64, preserving order. The first
// malformed reading aborts the parse.
func (s *Sample) Floats() ([]float64, error) {
	out := make([]float64, len(s.Readings))
	for i, r := range s.Readings {
		v, err := strconv.ParseFloat(r, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ParseReadings splits a raw driver "Temperatures" response into its ordered
// readings. The driver terminates every field with a tab, so a well-formed
// response carries one trailing empty field; exactly that field is dropped.
func ParseReadings(raw string) []string {
	raw = strings.TrimRight(raw, "\r\n")
	fields := strings.Split(raw, "\t")
	if n := len(fields); n > 0 && fields[n-1] == "" {
		fields = fields[:n-1]
	}
	return fields
}
