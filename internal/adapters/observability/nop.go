package observability

import "github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/ports"

type nopObs struct{}

// Nop returns an Observability that discards everything. Used by tests and
// embedders that bring their own telemetry.
func Nop() ports.Observability { return nopObs{} }

func (nopObs) LogDebug(string, ...ports.Field)        {}
func (nopObs) LogInfo(string, ...ports.Field)         {}
func (nopObs) LogError(string, error, ...ports.Field) {}
func (nopObs) IncCounter(string, float64)             {}
func (nopObs) SetGauge(string, float64)               {}
func (nopObs) ObserveLatency(string, float64)         {}
