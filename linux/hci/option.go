package hci

import (
	"io"
	"time"
)

// An Option is a configuration function, which configures the device.
type Option func(*HCI) error

// OptDeviceID sets HCI device ID.
func OptDeviceID(id int) Option {
	return func(h *HCI) error {
		h.id = id
		return nil
	}
}

// OptSocket uses rwc as the HCI transport instead of opening a device.
func OptSocket(rwc io.ReadWriteCloser) Option {
	return func(h *HCI) error {
		h.skt = rwc
		return nil
	}
}

// OptCommandTimeout sets how long a command waits for its response.
func OptCommandTimeout(d time.Duration) Option {
	return func(h *HCI) error {
		h.cmdTmo = d
		return nil
	}
}
