// Package dev selects the radio of a session by name.
package dev

import (
	"github.com/pkg/errors"

	"github.com/currantlabs/jelling"
	"github.com/currantlabs/jelling/linux/hci"
	"github.com/currantlabs/jelling/loop"
)

// Radio names.
const (
	HCI  = "hci"
	Loop = "loop"
)

// air is shared by the loop radios of a process.
var air = loop.NewAir()

// NewRadio returns the radio named impl. For "hci" id selects the controller
// hciN, -1 picks the first available one. For "loop" id becomes the last
// octet of a locally administered address, -1 meaning 0.
func NewRadio(impl string, id int) (jelling.Radio, error) {
	switch impl {
	case HCI, "":
		return hci.NewHCI(hci.OptDeviceID(id))
	case Loop:
		if id == -1 {
			id = 0
		}
		if id < 0 || id > 0xFF {
			return nil, errors.Errorf("loop radio id %d out of range", id)
		}
		return air.NewRadio(LoopAddr(id)), nil
	}
	return nil, errors.Errorf("unknown radio %q", impl)
}

// LoopAddr returns the address of loop radio id.
func LoopAddr(id int) jelling.Addr {
	return jelling.Addr{0x02, 0x00, 0x00, 0x00, 0x00, byte(id)}
}
