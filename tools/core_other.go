//go:build !unix

package tools

import "errors"

func execSelf(argv0 string, argv []string, envv []string) error {
	return errors.New("restart is not supported on this platform")
}
