// Package transport owns the UDP socket: port binding, multicast group
// membership, broadcast enablement, and deadline-bounded reads.
package transport

import (
	"errors"
	"log"
	"net"
	"net/netip"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"saltmesh/internal/endpoint"
)

// ErrNoPorts is returned when every candidate port is already taken.
// Callers treat it as fatal; the node cannot run without a bound port.
var ErrNoPorts = errors.New("no available ports to listen on")

// Socket is a bound UDP socket shared by the reader and all destination
// writes of a cycle.
type Socket struct {
	conn *net.UDPConn
	pc   *ipv4.PacketConn
	port int
}

// Bind iterates the candidate ports in order and commits to the first that
// binds. One-time, non-retried.
func Bind(ports []int) (*Socket, error) {
	for _, port := range ports {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
		if err != nil {
			continue
		}
		log.Printf("listening on %s", conn.LocalAddr())
		bound := conn.LocalAddr().(*net.UDPAddr).Port
		return &Socket{conn: conn, pc: ipv4.NewPacketConn(conn), port: bound}, nil
	}
	return nil, ErrNoPorts
}

// Port returns the bound port.
func (s *Socket) Port() int {
	return s.port
}

// Close releases the socket.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// EnableBroadcast sets SO_BROADCAST so writes to broadcast addresses are
// permitted.
func (s *Socket) EnableBroadcast() error {
	raw, err := s.conn.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	err = raw.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return serr
}

// JoinMulticast sets TTL 1 and multicast loopback off, then joins the group
// on every given interface. Per-interface join failures are logged and
// skipped; membership on the remaining interfaces still counts.
func (s *Socket) JoinMulticast(group netip.Addr, ifaces []net.Interface) error {
	if err := s.pc.SetMulticastTTL(1); err != nil {
		return err
	}
	if err := s.pc.SetMulticastLoopback(false); err != nil {
		return err
	}

	groupAddr := &net.UDPAddr{IP: group.AsSlice()}
	for i := range ifaces {
		if err := s.pc.JoinGroup(&ifaces[i], groupAddr); err != nil {
			log.Printf("join %s on %s failed: %v", group, ifaces[i].Name, err)
		}
	}
	return nil
}

// Recv waits up to timeout for a datagram. A deadline expiry is reported as
// ok=false with a nil error; any other read failure is returned as an error.
func (s *Socket) Recv(buf []byte, timeout time.Duration) (int, netip.AddrPort, bool, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, netip.AddrPort{}, false, err
	}

	n, sender, err := s.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return 0, netip.AddrPort{}, false, nil
		}
		return 0, netip.AddrPort{}, false, err
	}
	return n, netip.AddrPortFrom(sender.Addr().Unmap(), sender.Port()), true, nil
}

// Send writes one datagram to the destination.
func (s *Socket) Send(payload []byte, dst endpoint.Destination) error {
	_, err := s.conn.WriteToUDPAddrPort(payload, netip.AddrPortFrom(dst.Addr, uint16(dst.Port)))
	return err
}
