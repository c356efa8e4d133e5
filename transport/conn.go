// Package transport owns the raw UDP socket the sender and receiver speak
// over, decoding the wire.PacketType tag on every datagram and dispatching
// it to the right handler.
package transport

import (
	"net"

	"github.com/apex/log"
	"github.com/hkust-spark/sparkrtc/wire"
)

// Conn wraps a net.PacketConn with wire-aware send/receive helpers. The
// protocol here is bespoke UDP with its own header layout, not WebRTC/ICE,
// so a raw socket is the right level - no NAT traversal or DTLS-SRTP
// negotiation is in scope.
type Conn struct {
	pc   net.PacketConn
	log  log.Interface
	peer net.Addr
}

// Listen opens a UDP socket on addr ("host:port" or ":port").
func Listen(addr string, logger log.Interface) (*Conn, error) {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	return &Conn{pc: pc, log: logger}, nil
}

// SetPeer fixes the remote address every Send call writes to.
func (c *Conn) SetPeer(addr net.Addr) { c.peer = addr }

// ResolvePeer resolves and fixes the remote address from a "host:port"
// string.
func (c *Conn) ResolvePeer(addr string) error {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	c.peer = raddr
	return nil
}

// Send marshals and writes one outgoing packet to the fixed peer.
func (c *Conn) Send(p interface{}) error {
	var raw []byte
	switch v := p.(type) {
	case *wire.DataPacket:
		raw = v.Marshal()
	case *wire.FECPacket:
		raw = v.Marshal()
	case *wire.AckPacket:
		raw = v.Marshal()
	case *wire.FrameAckPacket:
		raw = v.Marshal()
	case *wire.NetStatePacket:
		raw = v.Marshal()
	case *wire.PLIPacket:
		raw = v.Marshal()
	default:
		return nil
	}
	_, err := c.pc.WriteTo(raw, c.peer)
	return err
}

// Serve reads datagrams until the socket is closed, decoding each one and
// invoking handle with the decoded value and the sender's address.
func (c *Conn) Serve(handle func(p interface{}, from net.Addr)) error {
	buf := make([]byte, 64*1024)
	for {
		n, from, err := c.pc.ReadFrom(buf)
		if err != nil {
			return err
		}
		_, decoded, err := wire.Decode(buf[:n])
		if err != nil {
			c.log.WithError(err).Warn("dropping malformed packet")
			continue
		}
		handle(decoded, from)
	}
}

// Close releases the underlying socket.
func (c *Conn) Close() error { return c.pc.Close() }

// LocalAddr returns the socket's bound local address.
func (c *Conn) LocalAddr() net.Addr { return c.pc.LocalAddr() }
