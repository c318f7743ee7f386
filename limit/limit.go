// Package limit checks process resource limits.
package limit

// MinNofile is the number of file descriptors needed by a player that
// records while serving status.  Each peer connection uses a handful of
// sockets, and recordings keep one file per transport.
const MinNofile = 256

// Low returns the current descriptor limit and whether it is below
// want.  It returns false if the limit cannot be determined.
func Low(want uint64) (uint64, bool) {
	n, err := Nofile()
	if err != nil {
		return 0, false
	}
	return n, n < want
}
