//go:build !unix

package swarm

import "os"

// ShutdownSignals is empty where no user signal exists; the control pipe is the only cooperative path.
var ShutdownSignals []os.Signal

func shutdownSignal(p *os.Process) error {
	return p.Kill()
}

func closeOnExec(int) {}
