package hci

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Command is an HCI command packet without its header.
type Command interface {
	OpCode() int
	Len() int
	Marshal([]byte) error
}

// CommandRP is the return parameter of a command.
type CommandRP interface {
	Unmarshal(b []byte) error
}

var errShortRP = errors.New("hci: short return parameter")

func opcode(ogf, ocf int) int { return ogf<<10 | ocf }

func putUint24(b []byte, v uint32) {
	b[0], b[1], b[2] = byte(v), byte(v>>8), byte(v>>16)
}

// StatusRP is the return parameter of commands that only return a status.
type StatusRP struct {
	Status uint8
}

// Unmarshal checks the status.
func (r *StatusRP) Unmarshal(b []byte) error {
	if len(b) < 1 {
		return errShortRP
	}
	r.Status = b[0]
	return status(b[0])
}

// Reset implements Reset (0x03|0x0003) [Vol 2, Part E, 7.3.2]
type Reset struct{}

func (c *Reset) String() string         { return "Reset (0x03|0x0003)" }
func (c *Reset) OpCode() int            { return opcode(0x03, 0x0003) }
func (c *Reset) Len() int               { return 0 }
func (c *Reset) Marshal(b []byte) error { return nil }

// SetEventMask implements Set Event Mask (0x03|0x0001) [Vol 2, Part E, 7.3.1]
type SetEventMask struct {
	EventMask uint64
}

func (c *SetEventMask) String() string { return "Set Event Mask (0x03|0x0001)" }
func (c *SetEventMask) OpCode() int    { return opcode(0x03, 0x0001) }
func (c *SetEventMask) Len() int       { return 8 }
func (c *SetEventMask) Marshal(b []byte) error {
	binary.LittleEndian.PutUint64(b, c.EventMask)
	return nil
}

// ReadBDADDR implements Read BD_ADDR (0x04|0x0009) [Vol 2, Part E, 7.4.6]
type ReadBDADDR struct{}

func (c *ReadBDADDR) String() string         { return "Read BD_ADDR (0x04|0x0009)" }
func (c *ReadBDADDR) OpCode() int            { return opcode(0x04, 0x0009) }
func (c *ReadBDADDR) Len() int               { return 0 }
func (c *ReadBDADDR) Marshal(b []byte) error { return nil }

// ReadBDADDRRP returns the return parameter of Read BD_ADDR
type ReadBDADDRRP struct {
	Status uint8
	BDADDR [6]byte
}

// Unmarshal de-serializes the return parameter.
func (r *ReadBDADDRRP) Unmarshal(b []byte) error {
	if len(b) < 1 {
		return errShortRP
	}
	if r.Status = b[0]; r.Status != 0 {
		return status(r.Status)
	}
	if len(b) < 7 {
		return errShortRP
	}
	copy(r.BDADDR[:], b[1:7])
	return nil
}

// LESetEventMask implements LE Set Event Mask (0x08|0x0001) [Vol 2, Part E, 7.8.1]
type LESetEventMask struct {
	LEEventMask uint64
}

func (c *LESetEventMask) String() string { return "LE Set Event Mask (0x08|0x0001)" }
func (c *LESetEventMask) OpCode() int    { return opcode(0x08, 0x0001) }
func (c *LESetEventMask) Len() int       { return 8 }
func (c *LESetEventMask) Marshal(b []byte) error {
	binary.LittleEndian.PutUint64(b, c.LEEventMask)
	return nil
}

// LEReadNumberOfSupportedAdvertisingSets implements LE Read Number of Supported
// Advertising Sets (0x08|0x003B) [Vol 2, Part E, 7.8.58]
type LEReadNumberOfSupportedAdvertisingSets struct{}

func (c *LEReadNumberOfSupportedAdvertisingSets) String() string {
	return "LE Read Number of Supported Advertising Sets (0x08|0x003B)"
}
func (c *LEReadNumberOfSupportedAdvertisingSets) OpCode() int            { return opcode(0x08, 0x003B) }
func (c *LEReadNumberOfSupportedAdvertisingSets) Len() int               { return 0 }
func (c *LEReadNumberOfSupportedAdvertisingSets) Marshal(b []byte) error { return nil }

// LEReadNumberOfSupportedAdvertisingSetsRP returns the return parameter of
// LE Read Number of Supported Advertising Sets
type LEReadNumberOfSupportedAdvertisingSetsRP struct {
	Status                      uint8
	NumSupportedAdvertisingSets uint8
}

// Unmarshal de-serializes the return parameter.
func (r *LEReadNumberOfSupportedAdvertisingSetsRP) Unmarshal(b []byte) error {
	if len(b) < 1 {
		return errShortRP
	}
	if r.Status = b[0]; r.Status != 0 {
		return status(r.Status)
	}
	if len(b) < 2 {
		return errShortRP
	}
	r.NumSupportedAdvertisingSets = b[1]
	return nil
}

const phy1M uint8 = 0x01

// LESetExtendedAdvertisingParameters implements LE Set Extended Advertising
// Parameters (0x08|0x0036) [Vol 2, Part E, 7.8.53]
type LESetExtendedAdvertisingParameters struct {
	AdvertisingHandle             uint8
	AdvertisingEventProperties    uint16
	PrimaryAdvertisingIntervalMin uint32 // 24 bits
	PrimaryAdvertisingIntervalMax uint32 // 24 bits
	PrimaryAdvertisingChannelMap  uint8
	OwnAddressType                uint8
	PeerAddressType               uint8
	PeerAddress                   [6]byte
	AdvertisingFilterPolicy       uint8
	AdvertisingTxPower            int8
	PrimaryAdvertisingPHY         uint8
	SecondaryAdvertisingMaxSkip   uint8
	SecondaryAdvertisingPHY       uint8
	AdvertisingSID                uint8
	ScanRequestNotificationEnable uint8
}

func (c *LESetExtendedAdvertisingParameters) String() string {
	return "LE Set Extended Advertising Parameters (0x08|0x0036)"
}
func (c *LESetExtendedAdvertisingParameters) OpCode() int { return opcode(0x08, 0x0036) }
func (c *LESetExtendedAdvertisingParameters) Len() int    { return 25 }
func (c *LESetExtendedAdvertisingParameters) Marshal(b []byte) error {
	b[0] = c.AdvertisingHandle
	binary.LittleEndian.PutUint16(b[1:], c.AdvertisingEventProperties)
	putUint24(b[3:], c.PrimaryAdvertisingIntervalMin)
	putUint24(b[6:], c.PrimaryAdvertisingIntervalMax)
	b[9] = c.PrimaryAdvertisingChannelMap
	b[10] = c.OwnAddressType
	b[11] = c.PeerAddressType
	copy(b[12:18], c.PeerAddress[:])
	b[18] = c.AdvertisingFilterPolicy
	b[19] = byte(c.AdvertisingTxPower)
	b[20] = c.PrimaryAdvertisingPHY
	b[21] = c.SecondaryAdvertisingMaxSkip
	b[22] = c.SecondaryAdvertisingPHY
	b[23] = c.AdvertisingSID
	b[24] = c.ScanRequestNotificationEnable
	return nil
}

// LESetExtendedAdvertisingParametersRP returns the return parameter of
// LE Set Extended Advertising Parameters
type LESetExtendedAdvertisingParametersRP struct {
	Status          uint8
	SelectedTxPower int8
}

// Unmarshal de-serializes the return parameter.
func (r *LESetExtendedAdvertisingParametersRP) Unmarshal(b []byte) error {
	if len(b) < 1 {
		return errShortRP
	}
	if r.Status = b[0]; r.Status != 0 {
		return status(r.Status)
	}
	if len(b) < 2 {
		return errShortRP
	}
	r.SelectedTxPower = int8(b[1])
	return nil
}

// Advertising data operations [Vol 2, Part E, 7.8.54]
const (
	opIntermediate uint8 = 0x00
	opFirst        uint8 = 0x01
	opLast         uint8 = 0x02
	opComplete     uint8 = 0x03
)

// MaxAdvertisingDataFragment is the most data one LE Set Extended Advertising
// Data command carries.
const MaxAdvertisingDataFragment = 251

// LESetExtendedAdvertisingData implements LE Set Extended Advertising Data
// (0x08|0x0037) [Vol 2, Part E, 7.8.54]
type LESetExtendedAdvertisingData struct {
	AdvertisingHandle  uint8
	Operation          uint8
	FragmentPreference uint8
	AdvertisingData    []byte
}

func (c *LESetExtendedAdvertisingData) String() string {
	return "LE Set Extended Advertising Data (0x08|0x0037)"
}
func (c *LESetExtendedAdvertisingData) OpCode() int { return opcode(0x08, 0x0037) }
func (c *LESetExtendedAdvertisingData) Len() int    { return 4 + len(c.AdvertisingData) }
func (c *LESetExtendedAdvertisingData) Marshal(b []byte) error {
	if len(c.AdvertisingData) > MaxAdvertisingDataFragment {
		return errors.Errorf("hci: advertising data fragment of %d bytes", len(c.AdvertisingData))
	}
	b[0] = c.AdvertisingHandle
	b[1] = c.Operation
	b[2] = c.FragmentPreference
	b[3] = uint8(len(c.AdvertisingData))
	copy(b[4:], c.AdvertisingData)
	return nil
}

// AdvertisingSet is the per set parameter of LE Set Extended Advertising Enable.
type AdvertisingSet struct {
	AdvertisingHandle            uint8
	Duration                     uint16 // N * 10 msec, 0: until disabled
	MaxExtendedAdvertisingEvents uint8  // 0: no limit
}

// LESetExtendedAdvertisingEnable implements LE Set Extended Advertising Enable
// (0x08|0x0039) [Vol 2, Part E, 7.8.56]
type LESetExtendedAdvertisingEnable struct {
	Enable uint8
	Sets   []AdvertisingSet
}

func (c *LESetExtendedAdvertisingEnable) String() string {
	return "LE Set Extended Advertising Enable (0x08|0x0039)"
}
func (c *LESetExtendedAdvertisingEnable) OpCode() int { return opcode(0x08, 0x0039) }
func (c *LESetExtendedAdvertisingEnable) Len() int    { return 2 + 4*len(c.Sets) }
func (c *LESetExtendedAdvertisingEnable) Marshal(b []byte) error {
	b[0] = c.Enable
	b[1] = uint8(len(c.Sets))
	for i, s := range c.Sets {
		p := b[2+4*i:]
		p[0] = s.AdvertisingHandle
		binary.LittleEndian.PutUint16(p[1:], s.Duration)
		p[3] = s.MaxExtendedAdvertisingEvents
	}
	return nil
}

// LESetExtendedScanParameters implements LE Set Extended Scan Parameters
// (0x08|0x0041) [Vol 2, Part E, 7.8.64]. Only the 1M PHY is scanned.
type LESetExtendedScanParameters struct {
	OwnAddressType       uint8
	ScanningFilterPolicy uint8
	ScanningPHYs         uint8
	ScanType             uint8 // 0x00: passive, 0x01: active
	ScanInterval         uint16
	ScanWindow           uint16
}

func (c *LESetExtendedScanParameters) String() string {
	return "LE Set Extended Scan Parameters (0x08|0x0041)"
}
func (c *LESetExtendedScanParameters) OpCode() int { return opcode(0x08, 0x0041) }
func (c *LESetExtendedScanParameters) Len() int    { return 8 }
func (c *LESetExtendedScanParameters) Marshal(b []byte) error {
	b[0] = c.OwnAddressType
	b[1] = c.ScanningFilterPolicy
	b[2] = c.ScanningPHYs
	b[3] = c.ScanType
	binary.LittleEndian.PutUint16(b[4:], c.ScanInterval)
	binary.LittleEndian.PutUint16(b[6:], c.ScanWindow)
	return nil
}

// LESetExtendedScanEnable implements LE Set Extended Scan Enable (0x08|0x0042)
// [Vol 2, Part E, 7.8.65]
type LESetExtendedScanEnable struct {
	Enable           uint8
	FilterDuplicates uint8
	Duration         uint16 // N * 10 msec, 0: until disabled
	Period           uint16 // N * 1.28 sec, 0: continuous
}

func (c *LESetExtendedScanEnable) String() string {
	return "LE Set Extended Scan Enable (0x08|0x0042)"
}
func (c *LESetExtendedScanEnable) OpCode() int { return opcode(0x08, 0x0042) }
func (c *LESetExtendedScanEnable) Len() int    { return 6 }
func (c *LESetExtendedScanEnable) Marshal(b []byte) error {
	b[0] = c.Enable
	b[1] = c.FilterDuplicates
	binary.LittleEndian.PutUint16(b[2:], c.Duration)
	binary.LittleEndian.PutUint16(b[4:], c.Period)
	return nil
}
