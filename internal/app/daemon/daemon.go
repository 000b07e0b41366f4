// Package daemon ties the driver link, the launcher, the sinks and the TCP
// server into the polling/serving loop that is the point of this program.
package daemon

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/adapters/driverlink"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/adapters/observability"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/adapters/tcpserve"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/domain"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/ports"
)

// State is the daemon's position in its lifecycle. There is no transition
// from StateRunning back to StateConnecting: a driver session lost after
// startup is not recovered.
type State int

const (
	StateStarting State = iota
	StateConnecting
	StateLaunching
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateConnecting:
		return "CONNECTING"
	case StateLaunching:
		return "LAUNCHING"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options carries the collaborators the daemon orchestrates. Launcher may
// be nil, in which case a failed driver connect is immediately fatal.
type Options struct {
	Link        *driverlink.Link
	Launcher    ports.Launcher
	Server      *tcpserve.Server
	Sinks       []ports.Sink
	Obs         ports.Observability
	LaunchGrace time.Duration
}

type Daemon struct {
	link     *driverlink.Link
	launcher ports.Launcher
	server   *tcpserve.Server
	sinks    []ports.Sink
	obs      ports.Observability
	grace    time.Duration

	session *driverlink.Session
	state   atomic.Int32
}

func New(o Options) (*Daemon, error) {
	if o.Link == nil {
		return nil, fmt.Errorf("driver link is required")
	}
	if o.Server == nil {
		return nil, fmt.Errorf("tcp server is required")
	}
	obs := o.Obs
	if obs == nil {
		obs = observability.Nop()
	}
	grace := o.LaunchGrace
	if grace == 0 {
		grace = 5 * time.Second
	}

	d := &Daemon{
		link:     o.Link,
		launcher: o.Launcher,
		server:   o.Server,
		sinks:    o.Sinks,
		obs:      obs,
		grace:    grace,
	}
	d.setState(StateStarting)
	return d, nil
}

// State returns the last state the daemon transitioned to.
func (d *Daemon) State() State { return State(d.state.Load()) }

// Run connects to the driver (launching it once if necessary) and then
// drives the telemetry and accept loops until ctx is cancelled or a fatal
// fault occurs. A mid-session driver failure is fatal here: recovery beyond
// the single startup launch is deliberately out of scope.
func (d *Daemon) Run(ctx context.Context) error {
	sess, err := d.ensureSession(ctx)
	if err != nil {
		d.setState(StateStopped)
		return err
	}
	d.session = sess
	defer sess.Close()

	d.setState(StateRunning)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.telemetryLoop(ctx) })
	g.Go(func() error { return d.server.AcceptLoop(ctx) })
	err = g.Wait()

	d.setState(StateStopped)
	return err
}

// ensureSession implements connect-with-fallback: one connect attempt, and
// on failure one driver launch followed by exactly one retry after the
// grace period. No further retries; the driver is an external service this
// daemon does not supervise.
func (d *Daemon) ensureSession(ctx context.Context) (*driverlink.Session, error) {
	d.setState(StateConnecting)
	sess, err := d.link.Connect(ctx)
	if err == nil {
		return sess, nil
	}

	if d.launcher == nil {
		return nil, fmt.Errorf("driver is not running and no executable was configured: %w", err)
	}

	d.obs.LogError("initial driver connect failed, launching driver", err)
	d.setState(StateLaunching)
	if lerr := d.launcher.Launch(); lerr != nil {
		return nil, lerr
	}

	select {
	case <-time.After(d.grace):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	d.setState(StateConnecting)
	return d.link.Connect(ctx)
}

// telemetryLoop polls the driver at the session scan interval and fans each
// sample out to the sinks and then to the connected client, in that order.
// Sink and client failures are local; a driver request failure propagates.
func (d *Daemon) telemetryLoop(ctx context.Context) error {
	var seq uint64

	for {
		start := time.Now()
		readings, err := d.session.Temperatures()
		if err != nil {
			return fmt.Errorf("driver poll failed: %w", err)
		}
		d.obs.ObserveLatency(observability.MetricPollDuration, time.Since(start).Seconds())
		d.obs.IncCounter(observability.MetricSamplesPolled, 1)

		seq++
		sample := &domain.Sample{Readings: readings, Timestamp: time.Now(), Seq: seq}
		d.obs.LogDebug("temperatures", ports.F("values", sample.CSV()))

		for _, s := range d.sinks {
			if err := s.Write(sample); err != nil {
				d.obs.LogError("sink write failed", err, ports.F("sink", s.Name()))
				d.obs.IncCounter(observability.MetricSinkWriteFailures, 1)
			}
		}

		d.server.Send(sample)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d.session.ScanInterval):
		}
	}
}

func (d *Daemon) setState(s State) {
	d.state.Store(int32(s))
	d.obs.LogInfo("daemon state", ports.F("state", s))
	d.obs.SetGauge(observability.MetricDaemonState, float64(s))
}
