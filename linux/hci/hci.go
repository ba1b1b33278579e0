// Package hci implements jelling.Radio over the HCI user channel of a Linux
// Bluetooth controller, using LE extended advertising and scanning.
package hci

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mgutz/logxi/v1"
	"github.com/pkg/errors"

	"github.com/currantlabs/jelling"
	"github.com/currantlabs/jelling/adv"
	"github.com/currantlabs/jelling/linux/hci/socket"
)

var logger = log.New("hci")

// HCI Packet types
const (
	pktTypeCommand uint8 = 0x01
	pktTypeACLData uint8 = 0x02
	pktTypeSCOData uint8 = 0x03
	pktTypeEvent   uint8 = 0x04
	pktTypeVendor  uint8 = 0xFF
)

// Header, opcode and parameter length followed by at most 255 bytes.
const cmdBufSize = 4 + 0xFF

type handlerFn func(b []byte) error

type pkt struct {
	cmd  Command
	done chan []byte
}

// HCI is an extended advertising radio.
type HCI struct {
	sync.Mutex

	skt io.ReadWriteCloser
	id  int

	// Host to Controller command flow control [Vol 2, Part E, 4.4]
	muCmd     sync.Mutex
	chCmdBufs chan []byte
	muSent    sync.Mutex
	sent      map[int]*pkt
	cmdTmo    time.Duration

	evth map[int]handlerFn
	subh map[int]handlerFn

	addr  jelling.Addr
	nsets int

	handler  jelling.EventHandler
	scanning bool

	chEvt chan []byte

	err  error
	done chan struct{}
}

// NewHCI opens the controller and initializes it for extended advertising.
func NewHCI(opts ...Option) (*HCI, error) {
	h := &HCI{
		id:     -1,
		cmdTmo: 2 * time.Second,

		chCmdBufs: make(chan []byte, 8),
		sent:      make(map[int]*pkt),

		evth: map[int]handlerFn{},
		subh: map[int]handlerFn{},

		chEvt: make(chan []byte, 64),
		done:  make(chan struct{}),
	}
	h.evth[evtCommandComplete] = h.handleCommandComplete
	h.evth[evtCommandStatus] = h.handleCommandStatus
	h.evth[evtHardwareError] = h.handleHardwareError
	h.evth[evtLEMeta] = h.handleLEMeta

	h.subh[subLEExtendedAdvertisingReport] = h.handleExtendedAdvertisingReport
	h.subh[subLEScanTimeout] = h.handleScanTimeout
	h.subh[subLEAdvertisingSetTerminated] = h.handleAdvertisingSetTerminated

	if err := h.Option(opts...); err != nil {
		return nil, err
	}
	if h.skt == nil {
		skt, err := socket.NewSocket(h.id)
		if err != nil {
			return nil, errors.Wrap(err, "can't open hci socket")
		}
		h.skt = skt
	}

	h.chCmdBufs <- make([]byte, cmdBufSize)

	go h.sktLoop()
	go h.evtLoop()
	if err := h.init(); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

// Option sets the options specified.
func (h *HCI) Option(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return err
		}
	}
	return nil
}

func (h *HCI) init() error {
	if err := h.Send(&Reset{}, nil); err != nil {
		return errors.Wrap(err, "reset")
	}

	ReadBDADDRRP := ReadBDADDRRP{}
	if err := h.Send(&ReadBDADDR{}, &ReadBDADDRRP); err != nil {
		return errors.Wrap(err, "read bd_addr")
	}
	a := ReadBDADDRRP.BDADDR
	h.addr = jelling.Addr{a[5], a[4], a[3], a[2], a[1], a[0]}

	if err := h.Send(&SetEventMask{EventMask: 0x3dbff807fffbffff}, nil); err != nil {
		return errors.Wrap(err, "set event mask")
	}
	mask := uint64(leMaskDefault | leMaskExtendedAdvertisingReport | leMaskScanTimeout | leMaskAdvertisingSetTerminated)
	if err := h.Send(&LESetEventMask{LEEventMask: mask}, nil); err != nil {
		return errors.Wrap(err, "set le event mask")
	}

	NumSetsRP := LEReadNumberOfSupportedAdvertisingSetsRP{}
	if err := h.Send(&LEReadNumberOfSupportedAdvertisingSets{}, &NumSetsRP); err != nil {
		return errors.Wrap(err, "controller doesn't support extended advertising")
	}
	h.nsets = int(NumSetsRP.NumSupportedAdvertisingSets)

	logger.Info("initialized", "addr", h.addr, "sets", h.nsets)
	return nil
}

// Err returns the error that stopped the device, if any.
func (h *HCI) Err() error {
	h.Lock()
	defer h.Unlock()
	return h.err
}

// Addr returns the public address of the controller.
func (h *HCI) Addr() jelling.Addr { return h.addr }

// ConfigureInstance sets the parameters of advertising set id: extended,
// non-connectable, non-scannable, undirected, advertised from the public
// address on the 1M PHY.
func (h *HCI) ConfigureInstance(id int, p jelling.AdvParams) error {
	if id < 0 || id >= h.nsets {
		return errors.Wrapf(jelling.ErrInvalidInstance, "%d of %d sets", id, h.nsets)
	}
	rp := LESetExtendedAdvertisingParametersRP{}
	if err := h.Send(&LESetExtendedAdvertisingParameters{
		AdvertisingHandle:             uint8(id),
		PrimaryAdvertisingIntervalMin: p.IntervalMin,
		PrimaryAdvertisingIntervalMax: p.IntervalMax,
		PrimaryAdvertisingChannelMap:  0x07,
		AdvertisingTxPower:            p.TxPower,
		PrimaryAdvertisingPHY:         phy1M,
		SecondaryAdvertisingPHY:       phy1M,
		AdvertisingSID:                uint8(id),
	}, &rp); err != nil {
		return errors.Wrapf(err, "set parameters of set %d", id)
	}
	logger.Debug("configured", "set", id, "tx power", rp.SelectedTxPower)
	return nil
}

// SetInstanceData sets the advertising data of set id, splitting it into
// fragments the controller accepts.
func (h *HCI) SetInstanceData(id int, data []byte) error {
	if len(data) > adv.MaxExtAdvDataLength {
		return errors.Errorf("hci: advertising data too long: %d", len(data))
	}
	if len(data) <= MaxAdvertisingDataFragment {
		return h.setData(id, opComplete, data)
	}
	for op := opFirst; len(data) > 0; op = opIntermediate {
		n := len(data)
		if n > MaxAdvertisingDataFragment {
			n = MaxAdvertisingDataFragment
		} else {
			op = opLast
		}
		if err := h.setData(id, op, data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func (h *HCI) setData(id int, op uint8, b []byte) error {
	err := h.Send(&LESetExtendedAdvertisingData{
		AdvertisingHandle:  uint8(id),
		Operation:          op,
		FragmentPreference: 0x01, // should not fragment
		AdvertisingData:    b,
	}, nil)
	return errors.Wrapf(err, "set data of set %d", id)
}

// StartAdvertising enables set id. The controller reports AdvComplete once
// maxEvents events are sent or duration elapses.
func (h *HCI) StartAdvertising(id int, duration uint16, maxEvents uint8) error {
	err := h.Send(&LESetExtendedAdvertisingEnable{
		Enable: 1,
		Sets: []AdvertisingSet{{
			AdvertisingHandle:            uint8(id),
			Duration:                     duration,
			MaxExtendedAdvertisingEvents: maxEvents,
		}},
	}, nil)
	return errors.Wrapf(err, "enable set %d", id)
}

// StopAdvertising disables set id.
func (h *HCI) StopAdvertising(id int) error {
	err := h.Send(&LESetExtendedAdvertisingEnable{
		Enable: 0,
		Sets:   []AdvertisingSet{{AdvertisingHandle: uint8(id)}},
	}, nil)
	return errors.Wrapf(err, "disable set %d", id)
}

// Scan starts passive or active extended scanning on the 1M PHY.
func (h *HCI) Scan(p jelling.ScanParams) error {
	if p.Limited {
		logger.Warn("limited discovery isn't supported by extended scanning, ignored")
	}
	typ := uint8(0x01)
	if p.Passive {
		typ = 0x00
	}
	if err := h.Send(&LESetExtendedScanParameters{
		ScanningPHYs: phy1M,
		ScanType:     typ,
		ScanInterval: p.Interval,
		ScanWindow:   p.Window,
	}, nil); err != nil {
		return errors.Wrap(err, "set scan parameters")
	}
	dup := uint8(0)
	if p.FilterDuplicates {
		dup = 1
	}
	if err := h.Send(&LESetExtendedScanEnable{
		Enable:           1,
		FilterDuplicates: dup,
		Duration:         p.Duration,
		Period:           p.Period,
	}, nil); err != nil {
		return errors.Wrap(err, "enable scanning")
	}
	h.Lock()
	h.scanning = true
	h.Unlock()
	return nil
}

// StopScanning stops scanning.
func (h *HCI) StopScanning() error {
	if err := h.Send(&LESetExtendedScanEnable{}, nil); err != nil {
		return errors.Wrap(err, "disable scanning")
	}
	h.Lock()
	h.scanning = false
	h.Unlock()
	return nil
}

// IsScanning reports whether scanning is enabled.
func (h *HCI) IsScanning() bool {
	h.Lock()
	defer h.Unlock()
	return h.scanning
}

// SetEventHandler sets the handler of radio events.
func (h *HCI) SetEventHandler(eh jelling.EventHandler) {
	h.Lock()
	h.handler = eh
	h.Unlock()
}

// Close closes the socket, which ends the event loops.
func (h *HCI) Close() error {
	return h.skt.Close()
}

// Send sends a command and waits for its return parameter. With a nil r only
// the status is checked.
func (h *HCI) Send(c Command, r CommandRP) error {
	b, err := h.send(c)
	if err != nil {
		return err
	}
	if r == nil {
		r = &StatusRP{}
	}
	return r.Unmarshal(b)
}

func (h *HCI) send(c Command) ([]byte, error) {
	h.muCmd.Lock()
	defer h.muCmd.Unlock()

	var b []byte
	select {
	case <-h.done:
		return nil, h.closedErr()
	default:
	}
	select {
	case <-h.done:
		return nil, h.closedErr()
	case b = <-h.chCmdBufs:
	}

	p := &pkt{c, make(chan []byte, 1)}
	b[0] = pktTypeCommand // HCI header
	b[1] = byte(c.OpCode())
	b[2] = byte(c.OpCode() >> 8)
	b[3] = byte(c.Len())
	if err := c.Marshal(b[4:]); err != nil {
		h.putCmdBuf()
		return nil, errors.Wrapf(err, "hci: can't marshal cmd 0x%04X", c.OpCode())
	}

	h.muSent.Lock()
	h.sent[c.OpCode()] = p
	h.muSent.Unlock()

	if n, err := h.skt.Write(b[:4+c.Len()]); err != nil {
		h.takeSent(c.OpCode())
		h.putCmdBuf()
		return nil, errors.Wrap(jelling.ErrRadioClosed, err.Error())
	} else if n != 4+c.Len() {
		return nil, errors.New("hci: failed to send whole cmd pkt to hci socket")
	}

	select {
	case <-h.done:
		return nil, h.closedErr()
	case rp := <-p.done:
		return rp, nil
	case <-time.After(h.cmdTmo):
		h.muSent.Lock()
		delete(h.sent, c.OpCode())
		h.muSent.Unlock()
		// The controller may never release the credit of a lost command.
		h.putCmdBuf()
		return nil, errors.Errorf("hci: cmd 0x%04X timed out", c.OpCode())
	}
}

func (h *HCI) putCmdBuf() {
	select {
	case h.chCmdBufs <- make([]byte, cmdBufSize):
	default:
	}
}

func (h *HCI) closedErr() error {
	if err := h.Err(); err != nil {
		return errors.Wrap(jelling.ErrRadioClosed, err.Error())
	}
	return jelling.ErrRadioClosed
}

func (h *HCI) sktLoop() {
	b := make([]byte, 4096)
	defer close(h.done)
	for {
		n, err := h.skt.Read(b)
		if n == 0 || err != nil {
			h.Lock()
			h.err = errors.Wrap(err, "skt")
			h.Unlock()
			logger.Info("socket closed", "err", err)
			return
		}
		p := make([]byte, n)
		copy(p, b)
		if err := h.handlePkt(p); err != nil {
			logger.Warn("can't handle packet", "err", err)
		}
	}
}

// evtLoop is the event context of the device. Handlers are called from here.
func (h *HCI) evtLoop() {
	for {
		select {
		case <-h.done:
			return
		case b := <-h.chEvt:
			if f := h.evth[int(b[0])]; f != nil {
				if err := f(b[2:]); err != nil {
					logger.Warn("can't handle event", "err", err)
				}
				continue
			}
			logger.Debug("unsupported event", "pkt", fmt.Sprintf("[ % X ]", b))
		}
	}
}

func (h *HCI) handlePkt(b []byte) error {
	// Strip the HCI header, and pass down the rest of the packet.
	t, b := b[0], b[1:]
	switch t {
	case pktTypeCommand:
		return errors.Errorf("hci: unmanaged cmd: [ % X ]", b)
	case pktTypeACLData:
		return errors.Errorf("hci: unsupported acl packet: [ % X ]", b)
	case pktTypeSCOData:
		return errors.Errorf("hci: unsupported sco packet: [ % X ]", b)
	case pktTypeEvent:
		return h.handleEvt(b)
	case pktTypeVendor:
		return errors.Errorf("hci: unsupported vendor packet: [ % X ]", b)
	default:
		return errors.Errorf("hci: invalid packet: 0x%02X [ % X ]", t, b)
	}
}

func (h *HCI) handleEvt(b []byte) error {
	if len(b) < 2 {
		return errors.Errorf("hci: short event packet: [ % X ]", b)
	}
	code, plen := int(b[0]), int(b[1])
	if plen != len(b[2:]) {
		return errors.Errorf("hci: corrupt event packet: [ % X ]", b)
	}
	// Command responses are handled here, so that handlers can send commands.
	if code == evtCommandComplete || code == evtCommandStatus {
		return h.evth[code](b[2:])
	}
	select {
	case h.chEvt <- b:
	case <-h.done:
	}
	return nil
}

func (h *HCI) handleLEMeta(b []byte) error {
	if len(b) < 1 {
		return errShortEvent
	}
	subcode := int(b[0])
	if f := h.subh[subcode]; f != nil {
		return f(b)
	}
	logger.Debug("unsupported LE event", "pkt", fmt.Sprintf("[ % X ]", b))
	return nil
}

func (h *HCI) handleCommandComplete(b []byte) error {
	if len(b) < 3 {
		return errShortEvent
	}
	e := commandComplete(b)
	for i := 0; i < int(e.NumHCICommandPackets()); i++ {
		h.putCmdBuf()
	}

	// NOP command, used for flow control purpose [Vol 2, Part E, 4.4]
	if e.CommandOpcode() == 0x0000 {
		return nil
	}
	p := h.takeSent(int(e.CommandOpcode()))
	if p == nil {
		return errors.Errorf("hci: can't find the cmd for CommandCompleteEP: % X", b)
	}
	p.done <- e.ReturnParameters()
	return nil
}

func (h *HCI) handleCommandStatus(b []byte) error {
	if len(b) < 4 {
		return errShortEvent
	}
	e := commandStatus(b)
	for i := 0; i < int(e.NumHCICommandPackets()); i++ {
		h.putCmdBuf()
	}
	if e.CommandOpcode() == 0x0000 {
		return nil
	}
	p := h.takeSent(int(e.CommandOpcode()))
	if p == nil {
		return errors.Errorf("hci: can't find the cmd for CommandStatusEP: % X", b)
	}
	p.done <- []byte{e.Status()}
	return nil
}

func (h *HCI) takeSent(op int) *pkt {
	h.muSent.Lock()
	defer h.muSent.Unlock()
	p := h.sent[op]
	delete(h.sent, op)
	return p
}

func (h *HCI) handleHardwareError(b []byte) error {
	code := -1
	if len(b) > 0 {
		code = int(b[0])
	}
	logger.Error("hardware error", "code", code)
	return nil
}

func (h *HCI) post(e jelling.Event) {
	h.Lock()
	eh := h.handler
	h.Unlock()
	if eh != nil {
		eh.HandleEvent(e)
	}
}

func (h *HCI) handleExtendedAdvertisingReport(b []byte) error {
	rs, err := extReports(b)
	if err != nil {
		return err
	}
	for _, r := range rs {
		// Legacy PDUs never carry frames.
		if r.Legacy() {
			continue
		}
		a := r.Address()
		h.post(jelling.Discovery{
			Sender: jelling.Addr{a[5], a[4], a[3], a[2], a[1], a[0]},
			SID:    r.SID(),
			Data:   append([]byte(nil), r.Data()...),
			Status: jelling.DataStatus(r.DataStatus()),
			RSSI:   int(r.RSSI()),
		})
	}
	return nil
}

func (h *HCI) handleAdvertisingSetTerminated(b []byte) error {
	if len(b) < 6 {
		return errShortEvent
	}
	e := advertisingSetTerminated(b)
	if logger.IsDebug() {
		logger.Debug("advertising set terminated", "set", e.AdvertisingHandle(),
			"status", e.Status(), "events", e.NumCompletedExtendedAdvertisingEvents())
	}
	h.post(jelling.AdvComplete{Instance: int(e.AdvertisingHandle()), Reason: int(e.Status())})
	return nil
}

func (h *HCI) handleScanTimeout(b []byte) error {
	h.Lock()
	h.scanning = false
	h.Unlock()
	h.post(jelling.ScanComplete{})
	return nil
}
