//go:build !unix

package limit

import "errors"

func Nofile() (uint64, error) {
	return 0, errors.ErrUnsupported
}
