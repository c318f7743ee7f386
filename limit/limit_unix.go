//go:build unix

package limit

import (
	"golang.org/x/sys/unix"
)

// Nofile returns the soft limit on open file descriptors.
func Nofile() (uint64, error) {
	var limit unix.Rlimit

	err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit)
	if err != nil {
		return 0, err
	}

	return uint64(limit.Cur), nil
}
