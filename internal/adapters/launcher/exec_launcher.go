package launcher

import (
	"errors"
	"fmt"
	"os/exec"

	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/ports"
)

// ExecLauncher starts the instrument-driver executable as a detached OS
// process. The driver is a long-running service the daemon does not own, so
// the process handle is released immediately after the start.
type ExecLauncher struct {
	path string
	args []string
	obs  ports.Observability
}

func New(path string, args []string, obs ports.Observability) *ExecLauncher {
	return &ExecLauncher{path: path, args: args, obs: obs}
}

// Configured reports whether an executable path was provided at all; without
// one there is no fallback when the driver is down.
func (l *ExecLauncher) Configured() bool { return l.path != "" }

func (l *ExecLauncher) Launch() error {
	if l.path == "" {
		return errors.New("no driver executable configured")
	}

	l.obs.LogInfo("starting instrument driver", ports.F("exe", l.path))

	cmd := exec.Command(l.path, l.args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start driver %s: %w", l.path, err)
	}
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("release driver process: %w", err)
	}
	return nil
}

var _ ports.Launcher = (*ExecLauncher)(nil)
