// Package loop implements an in-memory radio. Radios attached to the same Air
// receive each other's advertisements.
package loop

import (
	"sync"
	"time"

	"github.com/mgutz/logxi/v1"
	"github.com/pkg/errors"

	"github.com/currantlabs/jelling"
	"github.com/currantlabs/jelling/adv"
)

var logger = log.New("loop")

// MaxReportLength is the most advertising data one report carries
// [Vol 4, Part E, 7.7.65.13].
const MaxReportLength = 229

// An Option is a configuration function, which configures the air.
type Option func(*Air)

// OptReportSize sets the number of data bytes per advertising report.
func OptReportSize(n int) Option {
	return func(a *Air) { a.reportSize = n }
}

// OptTap registers fn to observe every advertisement put on air.
func OptTap(fn func(from jelling.Addr, instance int, data []byte)) Option {
	return func(a *Air) { a.tap = fn }
}

// Air is the shared medium of loop radios.
type Air struct {
	sync.Mutex

	radios     []*Radio
	reportSize int
	tap        func(from jelling.Addr, instance int, data []byte)
}

// NewAir returns an empty medium.
func NewAir(opts ...Option) *Air {
	a := &Air{reportSize: MaxReportLength}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewRadio attaches a radio with the given address.
func (a *Air) NewRadio(addr jelling.Addr) *Radio {
	r := &Radio{
		air:       a,
		addr:      addr,
		instances: make(map[int]*instance),
		failInst:  -1,
		chEvt:     make(chan jelling.Event, 1024),
		done:      make(chan struct{}),
	}
	a.Lock()
	a.radios = append(a.radios, r)
	a.Unlock()
	go r.loop()
	return r
}

func (a *Air) transmit(from *Radio, id int, data []byte, events int) {
	a.Lock()
	radios := append([]*Radio(nil), a.radios...)
	tap := a.tap
	a.Unlock()

	if tap != nil {
		tap(from.addr, id, data)
	}
	for _, r := range radios {
		if r == from {
			continue
		}
		r.receive(from.addr, uint8(id), data, events, a.reportSize)
	}
}

type instance struct {
	params jelling.AdvParams
	data   []byte
	active bool
}

// Radio is an in-memory jelling.Radio.
type Radio struct {
	air  *Air
	addr jelling.Addr

	mu        sync.Mutex
	handler   jelling.EventHandler
	instances map[int]*instance
	scanning  bool
	scan      jelling.ScanParams
	scanTimer *time.Timer
	hold      bool
	failInst  int
	closed    bool

	chEvt chan jelling.Event
	done  chan struct{}
}

// Hold keeps advertisements active until Complete is called. Stopping a held
// instance returns jelling.ErrRadioBusy.
func (r *Radio) Hold(hold bool) {
	r.mu.Lock()
	r.hold = hold
	r.mu.Unlock()
}

// FailConfigure makes configuring the given instance fail.
func (r *Radio) FailConfigure(id int) {
	r.mu.Lock()
	r.failInst = id
	r.mu.Unlock()
}

// Complete finishes the advertisement of a held instance.
func (r *Radio) Complete(id int) {
	r.mu.Lock()
	inst, ok := r.instances[id]
	if ok {
		inst.active = false
	}
	r.mu.Unlock()
	if ok {
		r.post(jelling.AdvComplete{Instance: id})
	}
}

// Addr returns the address of the radio.
func (r *Radio) Addr() jelling.Addr { return r.addr }

// ConfigureInstance sets up an advertising instance.
func (r *Radio) ConfigureInstance(id int, p jelling.AdvParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return jelling.ErrRadioClosed
	}
	if id == r.failInst {
		return errors.Wrapf(jelling.ErrInvalidInstance, "%d", id)
	}
	if inst, ok := r.instances[id]; ok && inst.active {
		return errors.Wrapf(jelling.ErrRadioBusy, "instance %d advertising", id)
	}
	r.instances[id] = &instance{params: p}
	return nil
}

// Params returns the parameters an instance was last configured with.
func (r *Radio) Params(id int) (jelling.AdvParams, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok {
		return jelling.AdvParams{}, false
	}
	return inst.params, true
}

// SetInstanceData sets the advertising data of an instance.
func (r *Radio) SetInstanceData(id int, data []byte) error {
	if len(data) > adv.MaxExtAdvDataLength {
		return errors.Errorf("advertising data too long: %d", len(data))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, err := r.instance(id)
	if err != nil {
		return err
	}
	inst.data = append(inst.data[:0], data...)
	return nil
}

// StartAdvertising puts the data of an instance on air. Every scanning radio
// receives it once, or maxEvents times if it doesn't filter duplicates.
func (r *Radio) StartAdvertising(id int, duration uint16, maxEvents uint8) error {
	r.mu.Lock()
	inst, err := r.instance(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if inst.active {
		r.mu.Unlock()
		return errors.Wrapf(jelling.ErrRadioBusy, "instance %d already advertising", id)
	}
	inst.active = true
	data := append([]byte(nil), inst.data...)
	hold := r.hold
	r.mu.Unlock()

	events := int(maxEvents)
	if events == 0 {
		events = 1
	}
	r.air.transmit(r, id, data, events)

	if !hold {
		r.mu.Lock()
		inst.active = false
		r.mu.Unlock()
		r.post(jelling.AdvComplete{Instance: id})
	}
	return nil
}

// StopAdvertising stops an instance.
func (r *Radio) StopAdvertising(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, err := r.instance(id)
	if err != nil {
		return err
	}
	if inst.active && r.hold {
		return jelling.ErrRadioBusy
	}
	inst.active = false
	return nil
}

func (r *Radio) instance(id int) (*instance, error) {
	if r.closed {
		return nil, jelling.ErrRadioClosed
	}
	inst, ok := r.instances[id]
	if !ok {
		return nil, errors.Wrapf(jelling.ErrInvalidInstance, "%d", id)
	}
	return inst, nil
}

// Scan starts scanning.
func (r *Radio) Scan(p jelling.ScanParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return jelling.ErrRadioClosed
	}
	r.scanning = true
	r.scan = p
	if r.scanTimer != nil {
		r.scanTimer.Stop()
		r.scanTimer = nil
	}
	if p.Duration != 0 {
		d := time.Duration(p.Duration) * 10 * time.Millisecond
		r.scanTimer = time.AfterFunc(d, r.scanTimeout)
	}
	return nil
}

func (r *Radio) scanTimeout() {
	r.mu.Lock()
	r.scanning = false
	r.scanTimer = nil
	r.mu.Unlock()
	r.post(jelling.ScanComplete{})
}

// StopScanning stops scanning.
func (r *Radio) StopScanning() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scanning = false
	if r.scanTimer != nil {
		r.scanTimer.Stop()
		r.scanTimer = nil
	}
	return nil
}

// IsScanning reports whether the radio is scanning.
func (r *Radio) IsScanning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scanning
}

// SetEventHandler sets the handler of radio events.
func (r *Radio) SetEventHandler(h jelling.EventHandler) {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
}

// Close detaches the radio from the air.
func (r *Radio) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.scanning = false
	r.mu.Unlock()

	r.air.Lock()
	for i, o := range r.air.radios {
		if o == r {
			r.air.radios = append(r.air.radios[:i], r.air.radios[i+1:]...)
			break
		}
	}
	r.air.Unlock()
	close(r.done)
	return nil
}

// receive splits the data into reports the way a controller does.
func (r *Radio) receive(from jelling.Addr, sid uint8, data []byte, events, size int) {
	r.mu.Lock()
	scanning, dup := r.scanning, r.scan.FilterDuplicates
	r.mu.Unlock()
	if !scanning {
		return
	}
	if dup {
		events = 1
	}
	for ; events > 0; events-- {
		rest := data
		for {
			n := len(rest)
			st := jelling.DataComplete
			if n > size {
				n = size
				st = jelling.DataIncomplete
			}
			r.post(jelling.Discovery{
				Sender: from,
				SID:    sid,
				Data:   append([]byte(nil), rest[:n]...),
				Status: st,
				RSSI:   -40,
			})
			rest = rest[n:]
			if st == jelling.DataComplete {
				break
			}
		}
	}
}

func (r *Radio) post(e jelling.Event) {
	select {
	case r.chEvt <- e:
	default:
		logger.Warn("event queue full, dropping event", "addr", r.addr)
	}
}

// loop is the event context of the radio.
func (r *Radio) loop() {
	for {
		select {
		case <-r.done:
			return
		case e := <-r.chEvt:
			r.mu.Lock()
			h := r.handler
			r.mu.Unlock()
			if h != nil {
				h.HandleEvent(e)
			}
		}
	}
}
