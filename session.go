package jelling

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mgutz/logxi/v1"
	"github.com/pkg/errors"

	"github.com/currantlabs/jelling/dedup"
	"github.com/currantlabs/jelling/pool"
)

var logger = log.New("jelling")

// Status of a session.
type Status int32

// Session states. InitError is final.
const (
	InitError    Status = -2
	RuntimeError Status = -1
	Stopped      Status = 0
	Running      Status = 1
)

func (s Status) String() string {
	switch s {
	case InitError:
		return "INIT ERROR"
	case RuntimeError:
		return "RUNTIME ERROR"
	case Stopped:
		return "STOPPED"
	case Running:
		return "RUNNING"
	}
	return "UNKNOWN"
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// An Option is a configuration function, which configures the session.
type Option func(*Session) error

// OptInstances sets the number of advertising instances.
func OptInstances(n int) Option {
	return func(s *Session) error {
		if n < 1 {
			return errors.Errorf("invalid instance count %d", n)
		}
		s.ninst = n
		return nil
	}
}

// OptLimits sets the frame limits.
func OptLimits(l Limits) Option {
	return func(s *Session) error {
		if err := l.Validate(); err != nil {
			return err
		}
		s.limits = l
		return nil
	}
}

// OptConfig sets the initial configuration instead of the default one.
func OptConfig(c Config) Option {
	return func(s *Session) error {
		if err := c.Validate(); err != nil {
			return err
		}
		s.cfg = c.Clone()
		return nil
	}
}

// OptDrainTimeout bounds the wait for busy instances on Stop.
func OptDrainTimeout(d time.Duration) Option {
	return func(s *Session) error {
		s.drain = d
		return nil
	}
}

// Stats counts messages of a session.
type Stats struct {
	Sent       uint64 `json:"sent"`
	Dropped    uint64 `json:"dropped"`    // no idle instance
	Blocked    uint64 `json:"blocked"`    // ICMPv6 blocked
	Received   uint64 `json:"received"`   // delivered upwards
	Duplicates uint64 `json:"duplicates"` // suppressed by the duplicate filter
	Abandoned  uint64 `json:"abandoned"`  // truncated, overflown or malformed chains
}

// Session carries IPv6 packets over the extended advertising of a radio.
// Send may be called from any goroutine; events are expected from the
// radio's event context.
type Session struct {
	stats Stats // first for 64-bit alignment of the atomic counters

	radio Radio
	out   Deliverer

	ninst  int
	limits Limits
	drain  time.Duration

	muCfg sync.RWMutex
	cfg   Config

	// muState serialises Start and Stop. Send holds it shared from the
	// status check until the radio is advertising.
	muState  sync.RWMutex
	status   int32
	scanning int32 // the scanner was started by this session

	own  Addr
	pool *pool.Pool
	seq  uint32

	// Receive path.
	muRx  sync.Mutex
	chain *Chain
	dd    *dedup.Filter
}

// NewSession configures the advertising instances of r and returns a stopped
// session delivering received packets to d. If an instance can't be
// configured, the session is returned in InitError along with the error.
func NewSession(r Radio, d Deliverer, opts ...Option) (*Session, error) {
	s := &Session{
		radio:  r,
		out:    d,
		ninst:  DefaultInstances,
		limits: DefaultLimits(),
		drain:  2 * time.Second,
		cfg:    DefaultConfig(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, errors.Wrap(err, "invalid option")
		}
	}
	return s, s.init()
}

func (s *Session) init() error {
	s.setStatus(Stopped)
	s.dd = dedup.New()
	s.pool = pool.New(s.ninst)
	s.radio.SetEventHandler(s)

	if err := s.configure(); err != nil {
		s.setStatus(InitError)
		logger.Error("can't configure advertising instances", "err", err)
		return err
	}

	s.own = s.radio.Addr()
	s.chain = NewChain(s.own, s.limits.MaxBuffer)
	logger.Info("initialized", "addr", s.own, "instances", s.ninst)
	return nil
}

// Addr returns the address of the local device.
func (s *Session) Addr() Addr { return s.own }

// Status returns the status of the session.
func (s *Session) Status() Status { return Status(atomic.LoadInt32(&s.status)) }

func (s *Session) setStatus(st Status) { atomic.StoreInt32(&s.status, int32(st)) }

// configure applies the advertising parameters of the configuration to every
// instance.
func (s *Session) configure() error {
	p := s.Config().AdvParams()
	for i := 0; i < s.ninst; i++ {
		if err := s.radio.ConfigureInstance(i, p); err != nil {
			return errors.Wrapf(err, "configure instance %d", i)
		}
	}
	return nil
}

// Start applies the advertising parameters, starts the scanner, if enabled and
// not already scanning, and makes every instance available. Starting a running
// session does nothing.
func (s *Session) Start() error {
	s.muState.Lock()
	defer s.muState.Unlock()
	switch s.Status() {
	case InitError:
		return ErrInitFailed
	case Running:
		return nil
	}

	if err := s.configure(); err != nil {
		s.setStatus(RuntimeError)
		logger.Error("can't configure advertising instances", "err", err)
		return err
	}
	c := s.Config()
	if c.Scanner.Enable && !s.radio.IsScanning() {
		if err := s.radio.Scan(c.ScanParams()); err != nil {
			s.setStatus(RuntimeError)
			return errors.Wrap(err, "can't start scanning")
		}
		atomic.StoreInt32(&s.scanning, 1)
	}
	s.pool.StartAll()
	s.setStatus(Running)
	logger.Info("started", "scanning", s.radio.IsScanning())
	return nil
}

// Stop stops every instance and the scanner started by Start. Instances the
// radio can't cancel immediately are waited for up to the drain timeout.
func (s *Session) Stop() error {
	s.muState.Lock()
	defer s.muState.Unlock()
	if s.Status() == InitError {
		return ErrInitFailed
	}

	err := s.pool.StopAll(s.stopInstance, s.drain)
	if atomic.CompareAndSwapInt32(&s.scanning, 1, 0) {
		if serr := s.radio.StopScanning(); serr != nil && err == nil {
			err = errors.Wrap(serr, "can't stop scanning")
		}
	}

	s.muRx.Lock()
	s.chain.Reset()
	s.muRx.Unlock()

	s.setStatus(Stopped)
	logger.Info("stopped")
	return err
}

func (s *Session) stopInstance(id int) (bool, error) {
	err := s.radio.StopAdvertising(id)
	if errors.Cause(err) == ErrRadioBusy {
		return true, nil
	}
	return false, err
}

func (s *Session) nextSeq() uint8 {
	return uint8(atomic.AddUint32(&s.seq, 1) - 1)
}

// Send fragments p into the advertising data of an idle instance and starts
// advertising it. It returns ErrNoInstance, without blocking, if every
// instance is busy. Packets are silently discarded while the advertiser is
// disabled, and ICMPv6 packets while they are blocked.
func (s *Session) Send(p Packet) error {
	s.muState.RLock()
	defer s.muState.RUnlock()
	switch s.Status() {
	case Running:
	case InitError:
		return ErrInitFailed
	default:
		return ErrNotRunning
	}

	s.muCfg.RLock()
	c := s.cfg.Advertiser
	s.muCfg.RUnlock()

	if !c.Enable {
		return nil
	}
	if c.BlockICMP && p.IsICMPv6() {
		atomic.AddUint64(&s.stats.Blocked, 1)
		if c.Verbose {
			logger.Info("blocked ICMPv6 packet", "bytes", p.Len())
		}
		return nil
	}

	id, ok := s.pool.TryClaim()
	if !ok {
		atomic.AddUint64(&s.stats.Dropped, 1)
		if c.Verbose {
			logger.Info("no idle instance", "bytes", p.Len())
		}
		return ErrNoInstance
	}

	seq := s.nextSeq()
	fs, err := Fragment(p.Segments, p.NextHop(), seq, s.limits)
	if err != nil {
		s.pool.Cancel(id)
		return errors.Wrapf(err, "fragment %d bytes", p.Len())
	}
	if err := s.radio.SetInstanceData(id, fs.Bytes()); err != nil {
		s.pool.Cancel(id)
		return errors.Wrapf(err, "set data of instance %d", id)
	}
	if err := s.radio.StartAdvertising(id, c.Duration, c.MaxEvents); err != nil {
		s.pool.Cancel(id)
		return errors.Wrapf(err, "start instance %d", id)
	}

	atomic.AddUint64(&s.stats.Sent, 1)
	if c.Verbose {
		logger.Info("sent", "instance", id, "seq", seq, "next hop", p.NextHop(),
			"bytes", p.Len(), "frames", len(fs))
	}
	return nil
}

// HandleEvent handles an event of the radio.
func (s *Session) HandleEvent(e Event) {
	if s.Status() == InitError {
		return
	}
	switch e := e.(type) {
	case AdvComplete:
		if err := s.pool.Release(e.Instance); err != nil {
			logger.Warn("advertising complete", "err", err)
			return
		}
		if logger.IsDebug() {
			logger.Debug("advertising complete", "instance", e.Instance, "reason", e.Reason)
		}
	case Discovery:
		s.handleDiscovery(e)
	case ScanComplete:
		atomic.StoreInt32(&s.scanning, 0)
		logger.Info("scan complete", "reason", e.Reason)
	default:
		logger.Warn("unhandled event", "event", fmt.Sprintf("%T", e))
	}
}

func (s *Session) handleDiscovery(d Discovery) {
	if s.Status() != Running {
		return
	}

	s.muCfg.RLock()
	c := s.cfg.Scanner
	allowed := s.cfg.Allowed(d.Sender)
	detect := s.cfg.DuplicateDetection
	s.muCfg.RUnlock()

	if !c.Enable || !allowed {
		return
	}

	s.muRx.Lock()
	msg, err := s.chain.OnReport(d.Sender, d.SID, d.Data, d.Status)
	dup := false
	if msg != nil && detect {
		if dup = s.dd.IsDuplicate(msg.Src, msg.Seq); !dup {
			s.dd.Record(msg.Src, msg.Seq)
		}
	}
	s.muRx.Unlock()

	switch {
	case err != nil:
		atomic.AddUint64(&s.stats.Abandoned, 1)
		if c.Verbose {
			logger.Info("dropped", "from", d.Sender, "err", err)
		}
		return
	case msg == nil:
		return
	case dup:
		atomic.AddUint64(&s.stats.Duplicates, 1)
		if c.Verbose {
			logger.Info("duplicate", "from", msg.Src, "seq", msg.Seq)
		}
		return
	}

	atomic.AddUint64(&s.stats.Received, 1)
	if c.Verbose {
		logger.Info("received", "from", msg.Src, "seq", msg.Seq, "match", msg.Match,
			"bytes", len(msg.Data), "rssi", d.RSSI)
	}
	if err := s.out.Deliver(msg.Src, msg.Data); err != nil {
		logger.Warn("can't deliver packet", "from", msg.Src, "err", err)
	}
}

// Config returns a copy of the running configuration.
func (s *Session) Config() Config {
	s.muCfg.RLock()
	defer s.muCfg.RUnlock()
	return s.cfg.Clone()
}

// SetConfig replaces the running configuration.
func (s *Session) SetConfig(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.muCfg.Lock()
	s.cfg = c.Clone()
	s.muCfg.Unlock()
	return nil
}

// UpdateConfig applies fn to a copy of the running configuration and stores
// the result if it's valid.
func (s *Session) UpdateConfig(fn func(c *Config)) error {
	s.muCfg.Lock()
	defer s.muCfg.Unlock()
	c := s.cfg.Clone()
	fn(&c)
	if err := c.Validate(); err != nil {
		return err
	}
	s.cfg = c
	return nil
}

// LoadDefaultConfig restores the default configuration.
func (s *Session) LoadDefaultConfig() {
	s.muCfg.Lock()
	s.cfg = DefaultConfig()
	s.muCfg.Unlock()
}

// FilterAdd adds a sender to the scanner filter.
func (s *Session) FilterAdd(a Addr) error {
	s.muCfg.Lock()
	defer s.muCfg.Unlock()
	return s.cfg.AddFilter(a)
}

// FilterClear empties the scanner filter.
func (s *Session) FilterClear() {
	s.muCfg.Lock()
	s.cfg.Filter = nil
	s.muCfg.Unlock()
}

// Stats returns a snapshot of the counters.
func (s *Session) Stats() Stats {
	return Stats{
		Sent:       atomic.LoadUint64(&s.stats.Sent),
		Dropped:    atomic.LoadUint64(&s.stats.Dropped),
		Blocked:    atomic.LoadUint64(&s.stats.Blocked),
		Received:   atomic.LoadUint64(&s.stats.Received),
		Duplicates: atomic.LoadUint64(&s.stats.Duplicates),
		Abandoned:  atomic.LoadUint64(&s.stats.Abandoned),
	}
}

// Info describes a session.
type Info struct {
	Addr      Addr         `json:"addr"`
	LinkLocal string       `json:"link_local"`
	Instances []pool.State `json:"instances"`
	MTU       int          `json:"mtu"`
	Status    Status       `json:"status"`
	Stats     Stats        `json:"stats"`
	Dedup     bool         `json:"dedup"` // duplicate detection compiled in
}

// Info returns the state of the session.
func (s *Session) Info() Info {
	return Info{
		Addr:      s.own,
		LinkLocal: s.own.LinkLocal().String(),
		Instances: s.pool.States(),
		MTU:       MTU,
		Status:    s.Status(),
		Stats:     s.Stats(),
		Dedup:     dedup.Enabled,
	}
}

func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Own Address: %s\n", i.Addr)
	fmt.Fprintf(&b, "Link-local Address: %s\n", i.LinkLocal)
	fmt.Fprintf(&b, "Advertising instances: %d\n", len(i.Instances))
	fmt.Fprintf(&b, "MTU: %d bytes\n", i.MTU)
	fmt.Fprintf(&b, "Jelling status: %s\n", i.Status)
	for n, st := range i.Instances {
		fmt.Fprintf(&b, "Instance %d: %s\n", n, st)
	}
	fmt.Fprintf(&b, "Sent: %d, dropped: %d, blocked: %d\n", i.Stats.Sent, i.Stats.Dropped, i.Stats.Blocked)
	fmt.Fprintf(&b, "Received: %d, duplicates: %d, abandoned: %d\n",
		i.Stats.Received, i.Stats.Duplicates, i.Stats.Abandoned)
	return b.String()
}
