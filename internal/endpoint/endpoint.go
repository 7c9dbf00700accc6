// Package endpoint computes the destination list for one announce cycle.
package endpoint

import (
	"net"
	"net/netip"
	"slices"

	"saltmesh/internal/config"
)

// Destination is one address/port a gossip frame is sent to. Local marks
// loopback destinations, which the broadcaster skips on the wire because
// local dispatch already delivers to this node.
type Destination struct {
	Addr  netip.Addr
	Port  int
	Local bool
}

// Interface is the slice of network-interface state Discover needs.
// Broadcast is the zero Addr when the interface has no usable IPv4
// directed-broadcast address.
type Interface struct {
	Name      string
	Addr      netip.Addr
	Broadcast netip.Addr
	Loopback  bool
}

var (
	loopbackAddr = netip.AddrFrom4([4]byte{127, 0, 0, 1})
	broadcastAll = netip.AddrFrom4([4]byte{255, 255, 255, 255})
)

// Discover builds the destination list for the current cycle. Rebuilt every
// announce because interfaces come and go; order is insertion order and
// duplicates across interfaces are kept (a double send is harmless).
func Discover(cfg *config.NodeConfig, ifaces []Interface) []Destination {
	var dsts []Destination

	if cfg.LoopbackEnabled {
		for _, port := range cfg.Ports {
			dsts = append(dsts, Destination{Addr: loopbackAddr, Port: port, Local: true})
		}
	}

	if cfg.Multicast() {
		if group, err := netip.ParseAddr(cfg.MulticastAddr); err == nil {
			for _, port := range cfg.Ports {
				dsts = append(dsts, Destination{Addr: group, Port: port})
			}
		}
	}

	if cfg.Broadcast() {
		for _, port := range cfg.Ports {
			dsts = append(dsts, Destination{Addr: broadcastAll, Port: port})
		}
		for _, ifc := range ifaces {
			if ifc.Loopback {
				continue
			}
			if !ifc.Broadcast.IsValid() || ifc.Broadcast.IsUnspecified() {
				continue
			}
			for _, port := range cfg.Ports {
				dsts = append(dsts, Destination{Addr: ifc.Broadcast, Port: port})
			}
		}
	}

	return dsts
}

// SystemInterfaces enumerates IPv4-capable interfaces, skipping names on the
// ignored list. One Interface per IPv4 address.
func SystemInterfaces(ignored []string) ([]Interface, error) {
	sys, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []Interface
	for _, ifc := range sys {
		if slices.Contains(ignored, ifc.Name) {
			continue
		}
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil {
				continue
			}
			addr, ok := netip.AddrFromSlice(ip4)
			if !ok {
				continue
			}
			entry := Interface{
				Name:     ifc.Name,
				Addr:     addr,
				Loopback: ifc.Flags&net.FlagLoopback != 0,
			}
			if ifc.Flags&net.FlagBroadcast != 0 {
				entry.Broadcast = directedBroadcast(ip4, ipnet.Mask)
			}
			out = append(out, entry)
		}
	}
	return out, nil
}

// directedBroadcast computes addr|^mask. Returns the zero Addr when the mask
// is not a 4-byte IPv4 mask.
func directedBroadcast(ip4 net.IP, mask net.IPMask) netip.Addr {
	if len(mask) == 16 {
		mask = mask[12:]
	}
	if len(mask) != 4 {
		return netip.Addr{}
	}
	var b [4]byte
	for i := range b {
		b[i] = ip4[i] | ^mask[i]
	}
	return netip.AddrFrom4(b)
}
