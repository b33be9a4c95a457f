//go:build unix

package tools

import "golang.org/x/sys/unix"

var execSelf = unix.Exec
