//go:build !linux

package socket

import (
	"io"

	"github.com/pkg/errors"
)

// NewSocket is only supported on Linux.
func NewSocket(n int) (io.ReadWriteCloser, error) {
	return nil, errors.Errorf("hci%d: hci user channel requires linux", n)
}
