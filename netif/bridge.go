package netif

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"github.com/currantlabs/jelling"
)

// SrcHeader carries the device address of the sender of an inbound packet.
const SrcHeader = "Jelling-Src"

// Conn is the part of *nats.Conn the bridge uses.
type Conn interface {
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
	PublishMsg(m *nats.Msg) error
}

// Bridge exchanges the packets of an interface over NATS. Outbound packets
// are read from <prefix>.tx, inbound ones published to <prefix>.rx.
type Bridge struct {
	nc     Conn
	iface  *Interface
	prefix string
}

// NewBridge returns a bridge of iface.
func NewBridge(nc Conn, iface *Interface, prefix string) *Bridge {
	return &Bridge{nc: nc, iface: iface, prefix: prefix}
}

// Start subscribes to outbound packets and publishes inbound ones until ctx
// is done.
func (b *Bridge) Start(ctx context.Context) error {
	sub, err := b.nc.Subscribe(b.prefix+".tx", b.handleTx)
	if err != nil {
		return errors.Wrap(err, "subscribe outbound packets")
	}
	b.iface.SetHandler(HandlerFunc(b.publish))
	logger.Info("bridge started", "tx", b.prefix+".tx", "rx", b.prefix+".rx")

	<-ctx.Done()

	b.iface.SetHandler(nil)
	if sub != nil {
		sub.Unsubscribe()
	}
	return ctx.Err()
}

func (b *Bridge) handleTx(m *nats.Msg) {
	err := b.iface.Output(m.Data)
	if err != nil {
		logger.Warn("can't send packet", "bytes", len(m.Data), "err", err)
	}
	if m.Reply == "" {
		return
	}
	resp := "ok"
	if err != nil {
		resp = err.Error()
	}
	if err := b.nc.PublishMsg(&nats.Msg{Subject: m.Reply, Data: []byte(resp)}); err != nil {
		logger.Warn("can't reply", "err", err)
	}
}

func (b *Bridge) publish(src jelling.Addr, pkt []byte) {
	m := nats.NewMsg(b.prefix + ".rx")
	m.Header.Set(SrcHeader, src.String())
	m.Data = pkt
	if err := b.nc.PublishMsg(m); err != nil {
		logger.Warn("can't publish packet", "from", src, "err", err)
	}
}
