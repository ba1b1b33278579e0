package hci

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Event codes [Vol 2, Part E, 7.7]
const (
	evtCommandComplete = 0x0E
	evtCommandStatus   = 0x0F
	evtHardwareError   = 0x10
	evtLEMeta          = 0x3E
)

// LE Meta subevent codes [Vol 2, Part E, 7.7.65]
const (
	subLEExtendedAdvertisingReport = 0x0D
	subLEScanTimeout               = 0x11
	subLEAdvertisingSetTerminated  = 0x12
)

// LE event mask bits, subevent code - 1 [Vol 2, Part E, 7.8.1]
const (
	leMaskDefault                   = 0x1F
	leMaskExtendedAdvertisingReport = 1 << (subLEExtendedAdvertisingReport - 1)
	leMaskScanTimeout               = 1 << (subLEScanTimeout - 1)
	leMaskAdvertisingSetTerminated  = 1 << (subLEAdvertisingSetTerminated - 1)
)

var errShortEvent = errors.New("hci: short event")

type commandComplete []byte

func (e commandComplete) NumHCICommandPackets() uint8 { return e[0] }
func (e commandComplete) CommandOpcode() uint16       { return binary.LittleEndian.Uint16(e[1:]) }
func (e commandComplete) ReturnParameters() []byte    { return e[3:] }

type commandStatus []byte

func (e commandStatus) Status() uint8               { return e[0] }
func (e commandStatus) NumHCICommandPackets() uint8 { return e[1] }
func (e commandStatus) CommandOpcode() uint16       { return binary.LittleEndian.Uint16(e[2:]) }

// Event type bits of an extended advertising report [Vol 2, Part E, 7.7.65.13]
const (
	evtTypLegacy     = 1 << 4
	evtTypDataShift  = 5
	evtTypDataStatus = 0x03 << evtTypDataShift
)

const extReportHeaderLen = 24

// extReport is a single report of an LE Extended Advertising Report event.
type extReport []byte

func (r extReport) EventType() uint16  { return binary.LittleEndian.Uint16(r) }
func (r extReport) AddressType() uint8 { return r[2] }
func (r extReport) Address() [6]byte {
	var a [6]byte
	copy(a[:], r[3:9])
	return a
}
func (r extReport) PrimaryPHY() uint8   { return r[9] }
func (r extReport) SecondaryPHY() uint8 { return r[10] }
func (r extReport) SID() uint8          { return r[11] }
func (r extReport) TxPower() int8       { return int8(r[12]) }
func (r extReport) RSSI() int8          { return int8(r[13]) }
func (r extReport) DataLength() uint8   { return r[23] }
func (r extReport) Data() []byte        { return r[extReportHeaderLen : extReportHeaderLen+int(r.DataLength())] }

func (r extReport) Legacy() bool      { return r.EventType()&evtTypLegacy != 0 }
func (r extReport) DataStatus() uint8 { return uint8((r.EventType() & evtTypDataStatus) >> evtTypDataShift) }

// extReports splits an LE Extended Advertising Report event, starting with
// its subevent code.
func extReports(b []byte) ([]extReport, error) {
	if len(b) < 2 {
		return nil, errShortEvent
	}
	n := int(b[1])
	b = b[2:]
	rs := make([]extReport, 0, n)
	for i := 0; i < n; i++ {
		if len(b) < extReportHeaderLen {
			return nil, errors.Wrapf(errShortEvent, "report %d", i)
		}
		l := extReportHeaderLen + int(b[23])
		if len(b) < l {
			return nil, errors.Wrapf(errShortEvent, "data of report %d", i)
		}
		rs = append(rs, extReport(b[:l]))
		b = b[l:]
	}
	return rs, nil
}

// advertisingSetTerminated is an LE Advertising Set Terminated event,
// starting with its subevent code.
type advertisingSetTerminated []byte

func (e advertisingSetTerminated) Status() uint8            { return e[1] }
func (e advertisingSetTerminated) AdvertisingHandle() uint8 { return e[2] }
func (e advertisingSetTerminated) ConnectionHandle() uint16 {
	return binary.LittleEndian.Uint16(e[3:])
}
func (e advertisingSetTerminated) NumCompletedExtendedAdvertisingEvents() uint8 { return e[5] }
