package swarm

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// ControlFDEnv names the inherited descriptor a worker reads shutdown requests from.
const ControlFDEnv = "MORPH_CONTROL_FD"

const shutdownCommand = "shutdown"

// WatchControl runs onShutdown when the master requests shutdown over the
// inherited control pipe. It reports false when no pipe was inherited, in
// which case the caller relies on ShutdownSignals alone.
func WatchControl(onShutdown func()) bool {
	raw := os.Getenv(ControlFDEnv)
	if raw == "" {
		return false
	}
	os.Unsetenv(ControlFDEnv)

	fd, err := strconv.Atoi(raw)
	if err != nil || fd < 3 {
		return false
	}
	closeOnExec(fd)
	f := os.NewFile(uintptr(fd), "control")
	if f == nil {
		return false
	}

	go func() {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if strings.TrimSpace(scanner.Text()) == shutdownCommand {
				onShutdown()
				return
			}
		}
	}()
	return true
}
