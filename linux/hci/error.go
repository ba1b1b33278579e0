package hci

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/currantlabs/jelling"
)

// ErrCommand is a status code returned by the controller [Vol 2, Part D, 1.3].
type ErrCommand byte

// Controller status codes.
const (
	ErrUnknownCommand       ErrCommand = 0x01
	ErrHardwareFailure      ErrCommand = 0x03
	ErrMemoryExceeded       ErrCommand = 0x07
	ErrConnectionLimit      ErrCommand = 0x09
	ErrDisallowed           ErrCommand = 0x0C
	ErrRejectedResources    ErrCommand = 0x0D
	ErrUnsupportedParams    ErrCommand = 0x11
	ErrInvalidParams        ErrCommand = 0x12
	ErrUnspecified          ErrCommand = 0x1F
	ErrUnsupportedLLParam   ErrCommand = 0x20
	ErrControllerBusy       ErrCommand = 0x3A
	ErrAdvertisingTimeout   ErrCommand = 0x3C
	ErrUnknownAdvIdentifier ErrCommand = 0x42
	ErrLimitReached         ErrCommand = 0x43
	ErrOperationCancelled   ErrCommand = 0x44
	ErrPacketTooLong        ErrCommand = 0x45
)

var errCmd = map[ErrCommand]string{
	0x01: "Unknown HCI Command",
	0x02: "Unknown Connection Identifier",
	0x03: "Hardware Failure",
	0x04: "Page Timeout",
	0x05: "Authentication Failure",
	0x06: "PIN or Key Missing",
	0x07: "Memory Capacity Exceeded",
	0x08: "Connection Timeout",
	0x09: "Connection Limit Exceeded",
	0x0A: "Synchronous Connection Limit To A Device Exceeded",
	0x0B: "ACL Connection Already Exists",
	0x0C: "Command Disallowed",
	0x0D: "Connection Rejected due to Limited Resources",
	0x0E: "Connection Rejected Due To Security Reasons",
	0x0F: "Connection Rejected due to Unacceptable BD_ADDR",
	0x10: "Connection Accept Timeout Exceeded",
	0x11: "Unsupported Feature or Parameter Value",
	0x12: "Invalid HCI Command Parameters",
	0x13: "Remote User Terminated Connection",
	0x16: "Connection Terminated By Local Host",
	0x1A: "Unsupported Remote Feature",
	0x1F: "Unspecified Error",
	0x20: "Unsupported LMP Parameter Value",
	0x21: "Role Change Not Allowed",
	0x22: "LMP Response Timeout / LL Response Timeout",
	0x28: "Instant Passed",
	0x3A: "Controller Busy",
	0x3B: "Unacceptable Connection Parameters",
	0x3C: "Advertising Timeout",
	0x3E: "Connection Failed to be Established",
	0x42: "Unknown Advertising Identifier",
	0x43: "Limit Reached",
	0x44: "Operation Cancelled by Host",
	0x45: "Packet Too Long",
}

func (e ErrCommand) Error() string {
	if s, ok := errCmd[e]; ok {
		return fmt.Sprintf("hci: %s [0x%02X]", s, uint8(e))
	}
	return fmt.Sprintf("hci: Unknown Error [0x%02X]", uint8(e))
}

// status maps a non-zero status code to an error. A disallowed command means
// the advertising set is still in use, which the session treats as busy.
func status(s uint8) error {
	switch ErrCommand(s) {
	case 0x00:
		return nil
	case ErrDisallowed, ErrControllerBusy:
		return errors.Wrap(jelling.ErrRadioBusy, ErrCommand(s).Error())
	}
	return ErrCommand(s)
}
