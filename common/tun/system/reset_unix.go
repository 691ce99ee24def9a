//go:build unix

package system

import (
	"errors"

	"golang.org/x/sys/unix"
)

func isReset(err error) bool {
	return errors.Is(err, unix.ECONNRESET)
}
