package jelling

// AdvParams configures an advertising instance.
// Intervals are N * 0.625 msec.
type AdvParams struct {
	IntervalMin uint32 // 0x000020 - 0xFFFFFF
	IntervalMax uint32 // 0x000020 - 0xFFFFFF
	TxPower     int8   // 127: no preference
}

// ScanParams configures the scanner.
type ScanParams struct {
	Interval         uint16 // 0x0004 - 0xFFFF; N * 0.625 msec
	Window           uint16 // 0x0004 - 0xFFFF; N * 0.625 msec
	Duration         uint16 // N * 10 msec, 0: until stopped
	Period           uint16 // N * 1.28 sec, 0: scan continuously
	Passive          bool
	Limited          bool
	FilterDuplicates bool
}

// Radio is a BLE controller capable of extended advertising with multiple
// advertising sets.
type Radio interface {
	// Addr returns the address of the local device.
	Addr() Addr

	// ConfigureInstance sets up instance as a non-connectable, non-scannable
	// extended advertising set.
	ConfigureInstance(instance int, p AdvParams) error

	// SetInstanceData sets the advertising data of instance.
	SetInstanceData(instance int, data []byte) error

	// StartAdvertising enables instance. An AdvComplete event is reported once
	// maxEvents advertising events were sent or duration (N * 10 msec) elapsed.
	StartAdvertising(instance int, duration uint16, maxEvents uint8) error

	// StopAdvertising disables instance. It returns ErrRadioBusy when the
	// controller refuses to cancel a transmission in flight.
	StopAdvertising(instance int) error

	// Scan starts scanning. Reports are delivered as Discovery events.
	Scan(p ScanParams) error

	// StopScanning stops scanning.
	StopScanning() error

	// IsScanning reports whether a scan is active.
	IsScanning() bool

	// SetEventHandler sets the handler of radio events.
	SetEventHandler(h EventHandler)

	// Close releases the radio.
	Close() error
}
