package jelling

import "github.com/currantlabs/jelling/adv"

// Vendor identifier carried by every frame.
// Don't use any of the assigned company identifiers here.
const (
	VendorID1 = 0xFE
	VendorID2 = 0xED
)

const adTypeVendor = adv.ManufacturerData

// Frame layout [len][0xFF][VendorID1][VendorID2]...
const (
	markerEnd = 4 // length byte, AD type and vendor id.

	// FirstHeaderLen covers marker, next-hop address and sequence number.
	FirstHeaderLen = markerEnd + AddrLen + 1

	// NextHeaderLen covers marker and sequence number.
	NextHeaderLen = markerEnd + 1

	// MaxFrameSize is the largest frame an AD length byte can describe.
	MaxFrameSize = 1 + 0xFF
)

// Defaults of the radio and network layer.
const (
	DefaultFirstFrameSize = 228
	DefaultNextFrameSize  = 228
	DefaultMaxBuffer      = adv.MaxExtAdvDataLength // BLE_EXT_ADV_MAX_SIZE

	// MTU is the IPv6 MTU announced to the network layer.
	MTU = 1280

	// DefaultInstances is the number of multi advertising instances plus the legacy one.
	DefaultInstances = 4

	// FilterSize is the capacity of the scanner address allow-list.
	FilterSize = 3
)

// Advertising defaults. Intervals are N * 0.625 msec, durations N * 10 msec.
const (
	DefaultAdvItvlMin   = 0x0030 // 30 ms, fast interval 1 min.
	DefaultAdvItvlMax   = 400    // 250 ms
	DefaultAdvDuration  = 0      // no expiration
	DefaultAdvMaxEvents = 3
)

// Scanning defaults. Interval and window are N * 0.625 msec, duration N * 10 msec,
// period N * 1.28 sec.
const (
	DefaultScanItvl     = 0x0030 // 30 ms, fast interval min.
	DefaultScanWindow   = 0x0030 // 30 ms, fast window.
	DefaultScanDuration = 0
	DefaultScanPeriod   = 0
)
