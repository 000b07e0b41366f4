package ports

// Observability is the injected logging and metrics capability. Components
// receive it at construction; its lifetime is the daemon's, not the
// process's.
type Observability interface {
	LogDebug(msg string, fields ...Field)
	LogInfo(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)

	IncCounter(name string, v float64)
	SetGauge(name string, v float64)
	ObserveLatency(name string, seconds float64)
}

type Field struct {
	Key   string
	Value any
}

// F is shorthand for constructing a log field.
func F(key string, value any) Field { return Field{Key: key, Value: value} }
