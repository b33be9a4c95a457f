//go:build linux

package swarm

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// BlockedOnStdin reports whether any thread of pid sits in read(0, ...).
// Each /proc/<pid>/task/<tid>/syscall starts with the syscall number and
// its first argument in hex.
func BlockedOnStdin(pid int) bool {
	taskDir := filepath.Join("/proc", strconv.Itoa(pid), "task")
	tasks, err := os.ReadDir(taskDir)
	if err != nil {
		return false
	}
	read := strconv.Itoa(unix.SYS_READ)
	for _, task := range tasks {
		data, err := os.ReadFile(filepath.Join(taskDir, task.Name(), "syscall"))
		if err != nil {
			continue
		}
		fields := strings.Fields(string(data))
		if len(fields) >= 2 && fields[0] == read && fields[1] == "0x0" {
			return true
		}
	}
	return false
}
