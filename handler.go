package jelling

// Event is an event reported by the radio. It is one of AdvComplete,
// Discovery or ScanComplete.
type Event interface {
	event()
}

// AdvComplete reports that an advertising instance finished its events.
type AdvComplete struct {
	Instance int
	Reason   int // controller status, 0x00 on success
}

// Discovery carries one extended advertising report.
type Discovery struct {
	Sender Addr
	SID    uint8 // advertising set of the sender
	Data   []byte
	Status DataStatus
	RSSI   int
}

// ScanComplete reports the end of a scan duration.
type ScanComplete struct {
	Reason int
}

func (AdvComplete) event()  {}
func (Discovery) event()    {}
func (ScanComplete) event() {}

// An EventHandler handles radio events.
type EventHandler interface {
	HandleEvent(e Event)
}

// The EventHandlerFunc type is an adapter to allow the use of ordinary
// functions as event handlers.
type EventHandlerFunc func(e Event)

// HandleEvent calls f(e).
func (f EventHandlerFunc) HandleEvent(e Event) {
	f(e)
}

// A Deliverer hands reassembled packets to the network layer.
type Deliverer interface {
	Deliver(src Addr, pkt []byte) error
}

// The DelivererFunc type is an adapter to allow the use of ordinary
// functions as Deliverers.
type DelivererFunc func(src Addr, pkt []byte) error

// Deliver calls f(src, pkt).
func (f DelivererFunc) Deliver(src Addr, pkt []byte) error {
	return f(src, pkt)
}
