// Package netif attaches a jelling session to an IPv6 network layer.
//
// Nodes use link-local addresses whose interface identifier is derived from
// their device address, so the next hop of a unicast packet is recovered from
// its destination address. Multicast destinations are sent to every node.
package netif

import (
	"net"
	"sync"

	"github.com/mgutz/logxi/v1"
	"github.com/pkg/errors"
	"golang.org/x/net/ipv6"

	"github.com/currantlabs/jelling"
)

var logger = log.New("netif")

// Errors of the interface.
var (
	ErrNoRoute    = errors.New("netif: no route to destination")
	ErrNotIPv6    = errors.New("netif: not an IPv6 packet")
	ErrTooBig     = errors.New("netif: packet exceeds the MTU")
	ErrNoLink     = errors.New("netif: no link attached")
	ErrNoReceiver = errors.New("netif: no receiver")
)

// Link is the sending side of a session.
type Link interface {
	Addr() jelling.Addr
	Send(p jelling.Packet) error
}

// A Handler receives inbound IPv6 packets.
type Handler interface {
	HandlePacket(src jelling.Addr, pkt []byte)
}

// The HandlerFunc type is an adapter to allow the use of ordinary functions as
// packet handlers.
type HandlerFunc func(src jelling.Addr, pkt []byte)

// HandlePacket calls f(src, pkt).
func (f HandlerFunc) HandlePacket(src jelling.Addr, pkt []byte) { f(src, pkt) }

// Interface is an IPv6 interface over a jelling link. It is the Deliverer of
// the session it's attached to.
type Interface struct {
	sync.RWMutex

	link    Link
	handler Handler
}

// New returns an interface without a link. Attach it once the session exists.
func New() *Interface { return &Interface{} }

// Attach sets the link packets are sent on.
func (i *Interface) Attach(l Link) {
	i.Lock()
	i.link = l
	i.Unlock()
	logger.Info("attached", "addr", l.Addr(), "ipv6", l.Addr().LinkLocal())
}

// SetHandler sets the receiver of inbound packets.
func (i *Interface) SetHandler(h Handler) {
	i.Lock()
	i.handler = h
	i.Unlock()
}

// MTU returns the IPv6 MTU of the interface.
func (i *Interface) MTU() int { return jelling.MTU }

// LinkLocal returns the link-local address of the interface.
func (i *Interface) LinkLocal() (net.IP, error) {
	l, err := i.getLink()
	if err != nil {
		return nil, err
	}
	return l.Addr().LinkLocal(), nil
}

func (i *Interface) getLink() (Link, error) {
	i.RLock()
	defer i.RUnlock()
	if i.link == nil {
		return nil, ErrNoLink
	}
	return i.link, nil
}

// Resolve returns the next hop of dst.
func Resolve(dst net.IP) (next jelling.Addr, multicast bool, err error) {
	if dst.IsMulticast() {
		return jelling.BroadcastAddr, true, nil
	}
	a, ok := jelling.AddrFromLinkLocal(dst)
	if !ok {
		return a, false, errors.Wrap(ErrNoRoute, dst.String())
	}
	return a, false, nil
}

// Output sends an IPv6 packet to its next hop.
func (i *Interface) Output(pkt []byte) error {
	l, err := i.getLink()
	if err != nil {
		return err
	}
	h, err := parse(pkt)
	if err != nil {
		return err
	}
	if len(pkt) > jelling.MTU {
		return errors.Wrapf(ErrTooBig, "%d bytes", len(pkt))
	}
	next, multicast, err := Resolve(h.Dst)
	if err != nil {
		return err
	}
	return l.Send(jelling.NewPacket(next, multicast, pkt))
}

// Deliver hands a reassembled packet to the handler.
func (i *Interface) Deliver(src jelling.Addr, pkt []byte) error {
	h, err := parse(pkt)
	if err != nil {
		return errors.Wrapf(err, "from %s", src)
	}
	i.RLock()
	hd := i.handler
	i.RUnlock()
	if hd == nil {
		return ErrNoReceiver
	}
	if logger.IsDebug() {
		logger.Debug("inbound", "from", src, "src", h.Src, "dst", h.Dst, "bytes", len(pkt))
	}
	hd.HandlePacket(src, pkt)
	return nil
}

func parse(pkt []byte) (*ipv6.Header, error) {
	h, err := ipv6.ParseHeader(pkt)
	if err != nil {
		return nil, errors.Wrap(ErrNotIPv6, err.Error())
	}
	if h.Version != ipv6.Version {
		return nil, errors.Wrapf(ErrNotIPv6, "version %d", h.Version)
	}
	return h, nil
}
