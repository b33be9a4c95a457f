//go:build unix

package swarm

import (
	"os"

	"golang.org/x/sys/unix"
)

// ShutdownSignals are the signals a worker treats as a cooperative kill.
var ShutdownSignals = []os.Signal{unix.SIGUSR1}

func shutdownSignal(p *os.Process) error {
	return p.Signal(unix.SIGUSR1)
}

// closeOnExec keeps the control descriptor out of grandchildren.
func closeOnExec(fd int) {
	unix.CloseOnExec(fd)
}
