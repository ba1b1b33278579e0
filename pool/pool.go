// Package pool schedules the hardware advertising instances of a radio.
package pool

import (
	"sync"
	"time"

	"github.com/mgutz/logxi/v1"
	"github.com/pkg/errors"
)

var logger = log.New("pool")

// ErrInvalidSlot is returned for an id outside of the pool.
var ErrInvalidSlot = errors.New("invalid slot")

// State of an advertising instance.
type State int

// Slot states.
const (
	Stopped State = iota
	Idle
	Advertising
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "STOPPED"
	case Idle:
		return "IDLE"
	case Advertising:
		return "ADVERTISING"
	}
	return "UNKNOWN"
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// StopFunc cancels the advertisement of an instance. busy reports that the
// radio refused because a transmission is in flight; the instance stops on its
// own once its events complete.
type StopFunc func(id int) (busy bool, err error)

// Pool hands out idle instances to senders.
// The lock is held only while scanning or changing slot states.
type Pool struct {
	sync.Mutex

	slots    []State
	draining []bool
	ndrain   int
	drained  chan struct{}
}

// New returns a pool of n stopped instances.
func New(n int) *Pool {
	return &Pool{
		slots:    make([]State, n),
		draining: make([]bool, n),
	}
}

// Len returns the number of instances.
func (p *Pool) Len() int { return len(p.slots) }

// States returns a snapshot of the slot states.
func (p *Pool) States() []State {
	p.Lock()
	defer p.Unlock()
	s := make([]State, len(p.slots))
	copy(s, p.slots)
	return s
}

// State returns the state of one slot.
func (p *Pool) State(id int) State {
	p.Lock()
	defer p.Unlock()
	if id < 0 || id >= len(p.slots) {
		return Stopped
	}
	return p.slots[id]
}

// TryClaim marks the first idle slot as advertising and returns its id.
// It never blocks; ok is false when no slot is idle.
func (p *Pool) TryClaim() (id int, ok bool) {
	p.Lock()
	defer p.Unlock()
	for i, s := range p.slots {
		if s == Idle {
			p.slots[i] = Advertising
			return i, true
		}
	}
	return -1, false
}

// Release returns an advertising slot to idle. It's called when the radio
// reports the advertisement of the instance complete.
func (p *Pool) Release(id int) error {
	p.Lock()
	defer p.Unlock()
	if id < 0 || id >= len(p.slots) {
		return errors.Wrapf(ErrInvalidSlot, "%d", id)
	}
	if p.slots[id] == Advertising {
		p.slots[id] = Idle
	}
	p.undrain(id)
	return nil
}

// Cancel returns a claimed slot to idle when handing data to the radio failed.
func (p *Pool) Cancel(id int) error {
	p.Lock()
	defer p.Unlock()
	if id < 0 || id >= len(p.slots) {
		return errors.Wrapf(ErrInvalidSlot, "%d", id)
	}
	if p.slots[id] == Advertising {
		p.slots[id] = Idle
	}
	return nil
}

// StartAll marks every slot idle.
func (p *Pool) StartAll() {
	p.Lock()
	defer p.Unlock()
	for i := range p.slots {
		p.slots[i] = Idle
		p.undrain(i)
	}
}

// StopAll marks every slot stopped and cancels the advertising ones. Slots
// whose radio is busy are waited for until they complete or drain elapses.
// It returns the first error other than busy.
func (p *Pool) StopAll(stop StopFunc, drain time.Duration) error {
	p.Lock()
	var active []int
	for i, s := range p.slots {
		if s == Advertising {
			active = append(active, i)
		}
		p.slots[i] = Stopped
	}
	p.Unlock()

	var first error
	for _, id := range active {
		busy, err := stop(id)
		switch {
		case err != nil:
			logger.Warn("can't stop instance", "instance", id, "err", err)
			if first == nil {
				first = errors.Wrapf(err, "stop instance %d", id)
			}
		case busy:
			logger.Info("instance stops after it completes its events", "instance", id)
			p.Lock()
			if p.slots[id] == Stopped {
				p.drain(id)
			}
			p.Unlock()
		}
	}

	p.Lock()
	ch := p.drained
	p.Unlock()
	if ch == nil {
		return first
	}
	select {
	case <-ch:
	case <-time.After(drain):
		logger.Warn("instances still draining", "timeout", drain)
	}
	return first
}

// Draining reports whether slot id is stopped but still transmitting.
func (p *Pool) Draining(id int) bool {
	p.Lock()
	defer p.Unlock()
	return id >= 0 && id < len(p.draining) && p.draining[id]
}

func (p *Pool) drain(id int) {
	if p.draining[id] {
		return
	}
	p.draining[id] = true
	if p.ndrain == 0 {
		p.drained = make(chan struct{})
	}
	p.ndrain++
}

func (p *Pool) undrain(id int) {
	if !p.draining[id] {
		return
	}
	p.draining[id] = false
	p.ndrain--
	if p.ndrain == 0 {
		close(p.drained)
		p.drained = nil
	}
}
