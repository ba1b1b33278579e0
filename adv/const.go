package adv

// MaxEIRPacketLength is the maximum allowed legacy AdvertisingPacket
// and ScanResponsePacket length.
const MaxEIRPacketLength = 31

// MaxExtAdvDataLength is the maximum amount of advertising data an
// extended advertising set can carry [Vol 6, Part B, 2.3.4.9].
const MaxExtAdvDataLength = 1650

// MaxExtAdvFragmentLength is the maximum amount of advertising data a single
// LE Set Extended Advertising Data command carries [Vol 2, Part E, 7.8.54].
const MaxExtAdvFragmentLength = 251

// MaxFieldLength is the largest value an AD structure can hold. The length
// octet covers the type octet as well.
const MaxFieldLength = 0xFF - 1

// Advertising data field types
const (
	Flags            = 0x01 // Flags
	ShortName        = 0x08 // Shortened Local Name
	CompleteName     = 0x09 // Complete Local Name
	TxPower          = 0x0A // Tx Power Level
	ManufacturerData = 0xFF // Manufacturer Specific Data
)

// Advertising flags
const (
	FlagGeneralDiscoverable = 0x02 // LE General Discoverable Mode
	FlagLEOnly              = 0x04 // BR/EDR Not Supported. Bit 37 of LMP Feature Mask Definitions (Page 0)
)
