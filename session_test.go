package jelling_test

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/currantlabs/jelling"
	"github.com/currantlabs/jelling/adv"
	"github.com/currantlabs/jelling/dedup"
	"github.com/currantlabs/jelling/loop"
	"github.com/currantlabs/jelling/pool"
)

var (
	addrA = jelling.Addr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x01}
	addrB = jelling.Addr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x02}
	addrC = jelling.Addr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x03}
)

type rx struct {
	src  jelling.Addr
	data []byte
}

type inbox chan rx

func (in inbox) Deliver(src jelling.Addr, b []byte) error {
	in <- rx{src, b}
	return nil
}

func (in inbox) expect(t *testing.T) rx {
	select {
	case m := <-in:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no packet delivered")
	}
	return rx{}
}

func (in inbox) expectNone(t *testing.T) {
	select {
	case m := <-in:
		t.Fatalf("unexpected packet from %s", m.src)
	case <-time.After(100 * time.Millisecond):
	}
}

type node struct {
	radio *loop.Radio
	s     *jelling.Session
	in    inbox
}

func newNode(t *testing.T, air *loop.Air, a jelling.Addr, opts ...jelling.Option) *node {
	n := &node{radio: air.NewRadio(a), in: make(inbox, 64)}
	s, err := jelling.NewSession(n.radio, n.in, opts...)
	require.NoError(t, err)
	n.s = s
	require.NoError(t, s.Start())
	t.Cleanup(func() { n.radio.Close() })
	return n
}

func data(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

// send retries until an instance is available.
func send(t *testing.T, s *jelling.Session, p jelling.Packet) {
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := s.Send(p)
		if err == nil {
			return
		}
		require.Equal(t, jelling.ErrNoInstance, errors.Cause(err))
		require.True(t, time.Now().Before(deadline), "no instance became idle")
		time.Sleep(time.Millisecond)
	}
}

func TestSessionUnicast(t *testing.T) {
	air := loop.NewAir()
	a := newNode(t, air, addrA)
	b := newNode(t, air, addrB)
	c := newNode(t, air, addrC)

	require.NoError(t, a.s.Send(jelling.NewPacket(addrB, false, data(500))))

	m := b.in.expect(t)
	assert.Equal(t, addrA, m.src)
	assert.Equal(t, data(500), m.data)
	c.in.expectNone(t)

	assert.Equal(t, uint64(1), a.s.Stats().Sent)
	assert.Equal(t, uint64(1), b.s.Stats().Received)
}

func TestSessionMulticast(t *testing.T) {
	air := loop.NewAir()
	a := newNode(t, air, addrA)
	b := newNode(t, air, addrB)
	c := newNode(t, air, addrC)

	p := jelling.Packet{Multicast: true, Segments: [][]byte{data(100), data(1000)}}
	require.NoError(t, a.s.Send(p))

	want := append(data(100), data(1000)...)
	assert.Equal(t, want, b.in.expect(t).data)
	assert.Equal(t, want, c.in.expect(t).data)
	a.in.expectNone(t)
}

func TestSessionSequenceNumbers(t *testing.T) {
	var mu sync.Mutex
	var seqs []uint8
	air := loop.NewAir(loop.OptTap(func(from jelling.Addr, id int, b []byte) {
		s := adv.NewScanner(b)
		first := true
		var seq uint8
		for s.Next() {
			f := jelling.Frame(s.Structure())
			if first {
				seq = f.Seq(true)
			} else if f.Seq(false) != seq {
				t.Errorf("frame sequence %d in message %d", f.Seq(false), seq)
			}
			first = false
		}
		mu.Lock()
		seqs = append(seqs, seq)
		mu.Unlock()
	}))
	a := newNode(t, air, addrA)

	const n = 300
	for i := 0; i < n; i++ {
		send(t, a.s, jelling.NewPacket(addrB, false, data(300)))
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seqs, n)
	for i, seq := range seqs {
		require.Equal(t, uint8(i), seq, "message %d", i)
	}
}

func TestSessionBackpressure(t *testing.T) {
	air := loop.NewAir()
	a := newNode(t, air, addrA, jelling.OptInstances(2))
	a.radio.Hold(true)

	p := jelling.NewPacket(addrB, false, data(10))
	require.NoError(t, a.s.Send(p))
	require.NoError(t, a.s.Send(p))
	for i := 0; i < 3; i++ {
		assert.Equal(t, jelling.ErrNoInstance, a.s.Send(p))
	}
	assert.Equal(t, uint64(3), a.s.Stats().Dropped)
	assert.Equal(t, []pool.State{pool.Advertising, pool.Advertising}, a.s.Info().Instances)

	a.radio.Complete(1)
	send(t, a.s, p)
}

func TestSessionStopDrainsBusyInstances(t *testing.T) {
	air := loop.NewAir()
	a := newNode(t, air, addrA, jelling.OptDrainTimeout(10*time.Second))
	a.radio.Hold(true)
	require.NoError(t, a.s.Send(jelling.NewPacket(addrB, false, data(10))))

	go func() {
		time.Sleep(20 * time.Millisecond)
		a.radio.Complete(0)
	}()
	start := time.Now()
	require.NoError(t, a.s.Stop())
	assert.True(t, time.Since(start) < 5*time.Second)
	assert.Equal(t, jelling.Stopped, a.s.Status())
	assert.False(t, a.radio.IsScanning())
	assert.Equal(t, jelling.ErrNotRunning, a.s.Send(jelling.NewPacket(addrB, false, data(10))))

	// Restart.
	a.radio.Hold(false)
	require.NoError(t, a.s.Start())
	assert.True(t, a.radio.IsScanning())
	send(t, a.s, jelling.NewPacket(addrB, false, data(10)))
}

func TestSessionStopDrainIsBounded(t *testing.T) {
	air := loop.NewAir()
	a := newNode(t, air, addrA, jelling.OptDrainTimeout(50*time.Millisecond))
	a.radio.Hold(true)
	require.NoError(t, a.s.Send(jelling.NewPacket(addrB, false, data(10))))

	start := time.Now()
	require.NoError(t, a.s.Stop())
	assert.True(t, time.Since(start) >= 50*time.Millisecond)
	assert.Equal(t, jelling.Stopped, a.s.Status())
}

func TestSessionInitError(t *testing.T) {
	air := loop.NewAir()
	r := air.NewRadio(addrA)
	defer r.Close()
	r.FailConfigure(2)

	s, err := jelling.NewSession(r, make(inbox, 1))
	require.Error(t, err)
	require.NotNil(t, s)
	assert.Equal(t, jelling.InitError, s.Status())
	assert.Equal(t, jelling.ErrInitFailed, s.Start())
	assert.Equal(t, jelling.ErrInitFailed, s.Stop())
	assert.Equal(t, jelling.ErrInitFailed, s.Send(jelling.NewPacket(addrB, false, data(1))))
	assert.Equal(t, jelling.InitError, s.Status())
}

func TestSessionAdvertiserDisabled(t *testing.T) {
	sent := 0
	air := loop.NewAir(loop.OptTap(func(jelling.Addr, int, []byte) { sent++ }))
	a := newNode(t, air, addrA)
	b := newNode(t, air, addrB)

	require.NoError(t, a.s.UpdateConfig(func(c *jelling.Config) { c.Advertiser.Enable = false }))
	require.NoError(t, a.s.Send(jelling.NewPacket(addrB, false, data(10))))
	b.in.expectNone(t)
	assert.Equal(t, 0, sent)
}

func ipv6Packet(next byte, n int) []byte {
	b := make([]byte, 40+n)
	b[0] = 0x60
	b[4], b[5] = byte(n>>8), byte(n)
	b[6] = next
	b[7] = 64
	b[8], b[9] = 0xFE, 0x80
	b[24], b[25] = 0xFE, 0x80
	return b
}

func TestSessionBlockICMP(t *testing.T) {
	air := loop.NewAir()
	a := newNode(t, air, addrA)
	b := newNode(t, air, addrB)
	require.NoError(t, a.s.UpdateConfig(func(c *jelling.Config) { c.Advertiser.BlockICMP = true }))

	icmp := ipv6Packet(58, 8)
	// Header split across segments.
	require.NoError(t, a.s.Send(jelling.Packet{Dst: addrB, Segments: [][]byte{icmp[:3], icmp[3:20], icmp[20:]}}))
	b.in.expectNone(t)
	assert.Equal(t, uint64(1), a.s.Stats().Blocked)

	udp := ipv6Packet(17, 8)
	require.NoError(t, a.s.Send(jelling.NewPacket(addrB, false, udp)))
	assert.Equal(t, udp, b.in.expect(t).data)
}

func TestPacketIsICMPv6(t *testing.T) {
	assert.True(t, jelling.NewPacket(addrB, false, ipv6Packet(58, 0)).IsICMPv6())
	assert.False(t, jelling.NewPacket(addrB, false, ipv6Packet(6, 0)).IsICMPv6())
	assert.False(t, jelling.NewPacket(addrB, false, ipv6Packet(58, 0)[:39]).IsICMPv6())

	v4 := ipv6Packet(58, 0)
	v4[0] = 0x45
	assert.False(t, jelling.NewPacket(addrB, false, v4).IsICMPv6())
}

func TestSessionFilter(t *testing.T) {
	air := loop.NewAir()
	a := newNode(t, air, addrA)
	b := newNode(t, air, addrB)

	require.NoError(t, b.s.FilterAdd(addrC))
	require.NoError(t, a.s.Send(jelling.NewPacket(addrB, false, data(10))))
	b.in.expectNone(t)

	require.NoError(t, b.s.FilterAdd(addrA))
	send(t, a.s, jelling.NewPacket(addrB, false, data(10)))
	assert.Equal(t, addrA, b.in.expect(t).src)

	require.NoError(t, b.s.FilterAdd(addrA))
	require.NoError(t, b.s.FilterAdd(jelling.Addr{1}))
	assert.Equal(t, jelling.ErrFilterFull, errors.Cause(b.s.FilterAdd(jelling.Addr{2})))
	assert.Len(t, b.s.Config().Filter, 3)

	b.s.FilterClear()
	assert.Empty(t, b.s.Config().Filter)
}

func TestSessionDuplicateDetection(t *testing.T) {
	if !dedup.Enabled {
		t.Skip("duplicate detection compiled out")
	}
	air := loop.NewAir()
	a := newNode(t, air, addrA)
	b := newNode(t, air, addrB)

	// Without controller filtering every advertising event is reported.
	require.NoError(t, b.s.Stop())
	require.NoError(t, b.s.UpdateConfig(func(c *jelling.Config) { c.Scanner.FilterDuplicates = false }))
	require.NoError(t, b.s.Start())

	require.NoError(t, a.s.Send(jelling.NewPacket(addrB, false, data(300))))
	for i := 0; i < jelling.DefaultAdvMaxEvents; i++ {
		b.in.expect(t)
	}
	b.in.expectNone(t)

	require.NoError(t, b.s.UpdateConfig(func(c *jelling.Config) { c.DuplicateDetection = true }))
	send(t, a.s, jelling.NewPacket(addrB, false, data(300)))
	b.in.expect(t)
	b.in.expectNone(t)
	assert.Equal(t, uint64(jelling.DefaultAdvMaxEvents-1), b.s.Stats().Duplicates)
}

func TestSessionScannerDisabled(t *testing.T) {
	air := loop.NewAir()
	a := newNode(t, air, addrA)

	r := air.NewRadio(addrB)
	defer r.Close()
	c := jelling.DefaultConfig()
	c.Scanner.Enable = false
	in := make(inbox, 1)
	b, err := jelling.NewSession(r, in, jelling.OptConfig(c))
	require.NoError(t, err)
	require.NoError(t, b.Start())
	assert.False(t, r.IsScanning())

	require.NoError(t, a.s.Send(jelling.NewPacket(addrB, false, data(10))))
	in.expectNone(t)
}

func TestSessionIgnoresReportsWhenStopped(t *testing.T) {
	air := loop.NewAir()
	r := air.NewRadio(addrB)
	defer r.Close()
	in := make(inbox, 1)
	s, err := jelling.NewSession(r, in)
	require.NoError(t, err)

	fs, err := jelling.Fragment([][]byte{data(10)}, addrB, 0, jelling.DefaultLimits())
	require.NoError(t, err)
	d := jelling.Discovery{Sender: addrA, Data: fs.Bytes(), Status: jelling.DataComplete}

	s.HandleEvent(d)
	in.expectNone(t)

	require.NoError(t, s.Start())
	s.HandleEvent(d)
	assert.Equal(t, data(10), in.expect(t).data)
}

func TestSessionDeliveryFailure(t *testing.T) {
	air := loop.NewAir()
	a := newNode(t, air, addrA)
	r := air.NewRadio(addrB)
	defer r.Close()

	calls := make(chan struct{}, 1)
	s, err := jelling.NewSession(r, jelling.DelivererFunc(func(jelling.Addr, []byte) error {
		calls <- struct{}{}
		return errors.New("no buffer")
	}))
	require.NoError(t, err)
	require.NoError(t, s.Start())

	require.NoError(t, a.s.Send(jelling.NewPacket(addrB, false, data(10))))
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("deliverer not called")
	}
	assert.Equal(t, uint64(1), s.Stats().Received)
}

func TestSessionSendTooLarge(t *testing.T) {
	air := loop.NewAir()
	a := newNode(t, air, addrA, jelling.OptInstances(1))

	err := a.s.Send(jelling.NewPacket(addrB, false, data(2000)))
	assert.Equal(t, jelling.ErrBufferExhausted, errors.Cause(err))
	// The instance was returned.
	assert.Equal(t, []pool.State{pool.Idle}, a.s.Info().Instances)
	send(t, a.s, jelling.NewPacket(addrB, false, data(10)))
}

func TestSessionConfig(t *testing.T) {
	air := loop.NewAir()
	a := newNode(t, air, addrA)

	c := a.s.Config()
	c.Filter = append(c.Filter, addrB)
	assert.Empty(t, a.s.Config().Filter, "Config returns a copy")

	c.Advertiser.IntervalMin, c.Advertiser.IntervalMax = 0x100, 0x80
	assert.Equal(t, jelling.ErrInvalidConfig, errors.Cause(a.s.SetConfig(c)))

	err := a.s.UpdateConfig(func(c *jelling.Config) { c.Scanner.Window = 0x1000 })
	assert.Equal(t, jelling.ErrInvalidConfig, errors.Cause(err))
	assert.Equal(t, uint16(jelling.DefaultScanWindow), a.s.Config().Scanner.Window)

	require.NoError(t, a.s.UpdateConfig(func(c *jelling.Config) { c.Scanner.Verbose = true }))
	assert.True(t, a.s.Config().Scanner.Verbose)
	a.s.LoadDefaultConfig()
	assert.Equal(t, jelling.DefaultConfig(), a.s.Config())
}

func TestSessionInfo(t *testing.T) {
	air := loop.NewAir()
	a := newNode(t, air, addrA)

	i := a.s.Info()
	assert.Equal(t, addrA, i.Addr)
	assert.Equal(t, jelling.MTU, i.MTU)
	assert.Equal(t, jelling.Running, i.Status)
	assert.Len(t, i.Instances, jelling.DefaultInstances)
	assert.Equal(t, "fe80::a8bb:ccff:fedd:ee01", i.LinkLocal)
	assert.Contains(t, i.String(), "Own Address: AA:BB:CC:DD:EE:01")
	assert.Contains(t, i.String(), "Instance 3: IDLE")
}

func TestSessionStartWhileRunning(t *testing.T) {
	air := loop.NewAir()
	a := newNode(t, air, addrA, jelling.OptInstances(1))
	a.radio.Hold(true)

	p := jelling.NewPacket(addrB, false, data(10))
	require.NoError(t, a.s.Send(p))
	require.NoError(t, a.s.Start())
	assert.Equal(t, jelling.Running, a.s.Status())
	assert.Equal(t, []pool.State{pool.Advertising}, a.s.Info().Instances)
	assert.Equal(t, jelling.ErrNoInstance, a.s.Send(p))

	a.radio.Complete(0)
	send(t, a.s, p)
}

// gatedRadio blocks SetInstanceData until released.
type gatedRadio struct {
	*loop.Radio
	entered chan int
	release chan struct{}
}

func (r *gatedRadio) SetInstanceData(id int, data []byte) error {
	r.entered <- id
	<-r.release
	return r.Radio.SetInstanceData(id, data)
}

func TestSessionStopWaitsForSend(t *testing.T) {
	air := loop.NewAir()
	b := newNode(t, air, addrB)
	r := &gatedRadio{
		Radio:   air.NewRadio(addrA),
		entered: make(chan int, 1),
		release: make(chan struct{}),
	}
	t.Cleanup(func() { r.Close() })
	s, err := jelling.NewSession(r, make(inbox, 1))
	require.NoError(t, err)
	require.NoError(t, s.Start())

	sent := make(chan error, 1)
	go func() { sent <- s.Send(jelling.NewPacket(addrB, false, data(10))) }()
	<-r.entered

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop() }()
	select {
	case <-stopped:
		t.Fatal("stopped while a packet was handed to the radio")
	case <-time.After(50 * time.Millisecond):
	}

	close(r.release)
	require.NoError(t, <-sent)
	require.NoError(t, <-stopped)
	assert.Equal(t, jelling.Stopped, s.Status())
	assert.Equal(t, []pool.State{pool.Stopped, pool.Stopped, pool.Stopped, pool.Stopped}, s.Info().Instances)
	assert.Equal(t, data(10), b.in.expect(t).data)

	assert.Equal(t, jelling.ErrNotRunning, s.Send(jelling.NewPacket(addrB, false, data(10))))
	b.in.expectNone(t)
	assert.Equal(t, uint64(1), s.Stats().Sent)
}

func TestSessionStartAppliesAdvParams(t *testing.T) {
	air := loop.NewAir()
	a := newNode(t, air, addrA, jelling.OptDrainTimeout(10*time.Millisecond))

	require.NoError(t, a.s.UpdateConfig(func(c *jelling.Config) {
		c.Advertiser.IntervalMin = 0x100
		c.Advertiser.IntervalMax = 0x200
	}))
	p, ok := a.radio.Params(0)
	require.True(t, ok)
	assert.Equal(t, uint32(0x30), p.IntervalMin, "applied on the next start")

	require.NoError(t, a.s.Stop())
	require.NoError(t, a.s.Start())
	want := a.s.Config().AdvParams()
	assert.Equal(t, uint32(0x100), want.IntervalMin)
	for i := 0; i < jelling.DefaultInstances; i++ {
		p, ok := a.radio.Params(i)
		require.True(t, ok)
		assert.Equal(t, want, p, "instance %d", i)
	}

	// An instance still on air after the drain can't be reconfigured.
	a.radio.Hold(true)
	require.NoError(t, a.s.Send(jelling.NewPacket(addrB, false, data(10))))
	require.NoError(t, a.s.Stop())
	assert.Equal(t, jelling.ErrRadioBusy, errors.Cause(a.s.Start()))
	assert.Equal(t, jelling.RuntimeError, a.s.Status())
	assert.Equal(t, jelling.ErrNotRunning, a.s.Send(jelling.NewPacket(addrB, false, data(10))))

	a.radio.Complete(0)
	require.NoError(t, a.s.Start())
	assert.Equal(t, jelling.Running, a.s.Status())
}
