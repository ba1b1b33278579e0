package hci

import (
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/currantlabs/jelling"
)

// controller answers HCI commands on the far end of a pipe.
type controller struct {
	conn  net.Conn
	addr  [6]byte // little endian, as on air
	nsets uint8

	mu     sync.Mutex
	cmds   []sentCmd
	status map[int]uint8 // status returned per opcode
	mute   map[int]bool  // opcodes left unanswered
}

type sentCmd struct {
	op     int
	params []byte
}

func newController(t *testing.T) (*controller, *HCI) {
	host, ctrl := net.Pipe()
	c := &controller{
		conn:   ctrl,
		addr:   [6]byte{0x06, 0x05, 0x04, 0x03, 0x02, 0x01},
		nsets:  4,
		status: map[int]uint8{},
		mute:   map[int]bool{},
	}
	go c.run()

	h, err := NewHCI(OptSocket(host), OptCommandTimeout(200*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() {
		h.Close()
		ctrl.Close()
	})
	return c, h
}

func (c *controller) run() {
	b := make([]byte, 1024)
	for {
		n, err := c.conn.Read(b)
		if err != nil {
			return
		}
		if n < 4 || b[0] != pktTypeCommand {
			continue
		}
		op := int(binary.LittleEndian.Uint16(b[1:]))
		params := append([]byte(nil), b[4:n]...)

		c.mu.Lock()
		c.cmds = append(c.cmds, sentCmd{op, params})
		st, mute := c.status[op], c.mute[op]
		c.mu.Unlock()
		if mute {
			continue
		}

		rp := []byte{st}
		if st == 0 {
			switch op {
			case opcode(0x04, 0x0009):
				rp = append(rp, c.addr[:]...)
			case opcode(0x08, 0x003B):
				rp = append(rp, c.nsets)
			case opcode(0x08, 0x0036):
				rp = append(rp, 0x05)
			}
		}
		c.event(evtCommandComplete, append([]byte{1, byte(op), byte(op >> 8)}, rp...))
	}
}

func (c *controller) event(code byte, params []byte) {
	c.conn.Write(append([]byte{pktTypeEvent, code, byte(len(params))}, params...))
}

func (c *controller) commands(op int) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ps [][]byte
	for _, s := range c.cmds {
		if s.op == op {
			ps = append(ps, s.params)
		}
	}
	return ps
}

func (c *controller) setStatus(op int, st uint8) {
	c.mu.Lock()
	c.status[op] = st
	c.mu.Unlock()
}

type events chan jelling.Event

func (ch events) HandleEvent(e jelling.Event) { ch <- e }

func (ch events) next(t *testing.T) jelling.Event {
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
	return nil
}

func TestInit(t *testing.T) {
	c, h := newController(t)

	assert.Equal(t, jelling.Addr{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}, h.Addr())
	assert.Len(t, c.commands(opcode(0x03, 0x0003)), 1, "reset")

	masks := c.commands(opcode(0x08, 0x0001))
	require.Len(t, masks, 1)
	mask := binary.LittleEndian.Uint64(masks[0])
	assert.NotZero(t, mask&(1<<12), "extended advertising report")
	assert.NotZero(t, mask&(1<<16), "scan timeout")
	assert.NotZero(t, mask&(1<<17), "advertising set terminated")
}

func TestInitUnsupported(t *testing.T) {
	host, ctrl := net.Pipe()
	c := &controller{conn: ctrl, status: map[int]uint8{opcode(0x08, 0x003B): uint8(ErrUnknownCommand)}, mute: map[int]bool{}}
	go c.run()
	defer ctrl.Close()

	_, err := NewHCI(OptSocket(host))
	require.Error(t, err)
	assert.Equal(t, ErrUnknownCommand, errors.Cause(err))
}

func TestConfigureInstance(t *testing.T) {
	c, h := newController(t)

	require.NoError(t, h.ConfigureInstance(2, jelling.AdvParams{IntervalMin: 0x30, IntervalMax: 400, TxPower: 127}))
	ps := c.commands(opcode(0x08, 0x0036))
	require.Len(t, ps, 1)
	p := ps[0]
	require.Len(t, p, 25)
	assert.Equal(t, uint8(2), p[0], "handle")
	assert.Equal(t, []byte{0x00, 0x00}, p[1:3], "properties")
	assert.Equal(t, []byte{0x30, 0x00, 0x00}, p[3:6], "interval min")
	assert.Equal(t, []byte{0x90, 0x01, 0x00}, p[6:9], "interval max")
	assert.Equal(t, uint8(0x07), p[9], "channel map")
	assert.Equal(t, uint8(127), p[19], "tx power")
	assert.Equal(t, uint8(phy1M), p[20])
	assert.Equal(t, uint8(phy1M), p[22])
	assert.Equal(t, uint8(2), p[23], "sid")

	assert.Equal(t, jelling.ErrInvalidInstance, errors.Cause(h.ConfigureInstance(4, jelling.AdvParams{})))
}

func TestSetInstanceData(t *testing.T) {
	c, h := newController(t)
	op := opcode(0x08, 0x0037)

	data := make([]byte, 600)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, h.SetInstanceData(1, data))
	ps := c.commands(op)
	require.Len(t, ps, 3)

	var got []byte
	for i, want := range []struct {
		op uint8
		n  int
	}{{opFirst, 251}, {opIntermediate, 251}, {opLast, 98}} {
		assert.Equal(t, uint8(1), ps[i][0])
		assert.Equal(t, want.op, ps[i][1])
		assert.Equal(t, want.n, int(ps[i][3]))
		got = append(got, ps[i][4:]...)
	}
	assert.Equal(t, data, got)

	require.NoError(t, h.SetInstanceData(0, data[:100]))
	ps = c.commands(op)
	require.Len(t, ps, 4)
	assert.Equal(t, opComplete, ps[3][1])
	assert.Equal(t, 100, int(ps[3][3]))

	assert.Error(t, h.SetInstanceData(0, make([]byte, 1651)))
}

func TestAdvertising(t *testing.T) {
	c, h := newController(t)
	op := opcode(0x08, 0x0039)

	require.NoError(t, h.StartAdvertising(3, 0, 3))
	ps := c.commands(op)
	require.Len(t, ps, 1)
	assert.Equal(t, []byte{0x01, 0x01, 0x03, 0x00, 0x00, 0x03}, ps[0])

	c.setStatus(op, uint8(ErrDisallowed))
	err := h.StopAdvertising(3)
	assert.Equal(t, jelling.ErrRadioBusy, errors.Cause(err))
	ps = c.commands(op)
	assert.Equal(t, []byte{0x00, 0x01, 0x03, 0x00, 0x00, 0x00}, ps[1])

	c.setStatus(op, uint8(ErrUnknownAdvIdentifier))
	assert.Equal(t, ErrUnknownAdvIdentifier, errors.Cause(h.StartAdvertising(3, 0, 3)))
}

func TestScan(t *testing.T) {
	c, h := newController(t)
	ev := make(events, 8)
	h.SetEventHandler(ev)

	require.NoError(t, h.Scan(jelling.ScanParams{Interval: 0x30, Window: 0x20, Duration: 100, Passive: true, FilterDuplicates: true}))
	assert.True(t, h.IsScanning())
	assert.Equal(t, [][]byte{{0x00, 0x00, 0x01, 0x00, 0x30, 0x00, 0x20, 0x00}}, c.commands(opcode(0x08, 0x0041)))
	assert.Equal(t, [][]byte{{0x01, 0x01, 0x64, 0x00, 0x00, 0x00}}, c.commands(opcode(0x08, 0x0042)))

	c.event(evtLEMeta, []byte{subLEScanTimeout})
	assert.Equal(t, jelling.ScanComplete{}, ev.next(t))
	assert.False(t, h.IsScanning())

	require.NoError(t, h.Scan(jelling.ScanParams{Interval: 0x30, Window: 0x30}))
	require.NoError(t, h.StopScanning())
	assert.False(t, h.IsScanning())
}

func report(evtType uint16, addr [6]byte, rssi int8, data []byte) []byte {
	b := make([]byte, extReportHeaderLen)
	binary.LittleEndian.PutUint16(b, evtType)
	copy(b[3:9], addr[:])
	b[9], b[10] = phy1M, phy1M
	b[12] = 127
	b[13] = byte(rssi)
	b[23] = byte(len(data))
	return append(b, data...)
}

func TestExtendedAdvertisingReport(t *testing.T) {
	c, h := newController(t)
	ev := make(events, 8)
	h.SetEventHandler(ev)

	peer := [6]byte{0x66, 0x55, 0x44, 0x33, 0x22, 0x11}
	first := report(1<<5, peer, -50, []byte{0x03, 0xFF, 0xFE, 0xED})
	first[11] = 3 // advertising SID
	e := []byte{subLEExtendedAdvertisingReport, 3}
	e = append(e, first...)
	e = append(e, report(evtTypLegacy, peer, -50, []byte{0x02, 0x01, 0x06})...)
	e = append(e, report(2<<5, peer, -60, []byte{0xAA})...)
	c.event(evtLEMeta, e)

	d := ev.next(t).(jelling.Discovery)
	assert.Equal(t, jelling.Addr{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}, d.Sender)
	assert.Equal(t, jelling.DataIncomplete, d.Status)
	assert.Equal(t, uint8(3), d.SID)
	assert.Equal(t, -50, d.RSSI)
	assert.Equal(t, []byte{0x03, 0xFF, 0xFE, 0xED}, d.Data)

	d = ev.next(t).(jelling.Discovery)
	assert.Equal(t, jelling.DataTruncated, d.Status)
	assert.Equal(t, []byte{0xAA}, d.Data)

	// A corrupt report is dropped whole.
	c.event(evtLEMeta, []byte{subLEExtendedAdvertisingReport, 1, 0x00})
	select {
	case e := <-ev:
		t.Fatalf("unexpected event %#v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAdvertisingSetTerminated(t *testing.T) {
	c, h := newController(t)
	ev := make(events, 8)
	h.SetEventHandler(ev)

	c.event(evtLEMeta, []byte{subLEAdvertisingSetTerminated, 0x43, 0x02, 0x00, 0x00, 0x03})
	assert.Equal(t, jelling.AdvComplete{Instance: 2, Reason: 0x43}, ev.next(t))
}

func TestCommandTimeout(t *testing.T) {
	c, h := newController(t)
	c.mu.Lock()
	c.mute[opcode(0x08, 0x0042)] = true
	c.mu.Unlock()

	err := h.StopScanning()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")

	// The device recovers for the next command.
	require.NoError(t, h.StartAdvertising(0, 0, 1))
}

func TestClose(t *testing.T) {
	_, h := newController(t)
	require.NoError(t, h.Close())
	err := h.StartAdvertising(0, 0, 1)
	assert.Equal(t, jelling.ErrRadioClosed, errors.Cause(err))
}

func TestErrCommand(t *testing.T) {
	assert.Equal(t, "hci: Command Disallowed [0x0C]", ErrDisallowed.Error())
	assert.Equal(t, "hci: Unknown Error [0xFE]", ErrCommand(0xFE).Error())
	assert.NoError(t, status(0))
	assert.Equal(t, jelling.ErrRadioBusy, errors.Cause(status(0x0C)))
	assert.Equal(t, ErrInvalidParams, errors.Cause(status(0x12)))
}
