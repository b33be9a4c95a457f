//go:build !linux

package swarm

// BlockedOnStdin always reports false; only the waiting marker is available here.
func BlockedOnStdin(int) bool {
	return false
}
