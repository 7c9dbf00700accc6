package endpoint

import (
	"net"
	"net/netip"
	"testing"

	"saltmesh/internal/config"
)

func boolPtr(v bool) *bool { return &v }

func testConfig(ports []int) *config.NodeConfig {
	return &config.NodeConfig{
		Ports:            ports,
		MulticastAddr:    config.DefaultMulticastAddr,
		MulticastEnabled: boolPtr(false),
		BroadcastEnabled: boolPtr(false),
	}
}

func TestDiscover_LoopbackToggle(t *testing.T) {
	t.Parallel()

	cfg := testConfig([]int{31100})
	cfg.LoopbackEnabled = true

	dsts := Discover(cfg, nil)
	if len(dsts) != 1 {
		t.Fatalf("dsts=%v", dsts)
	}
	if dsts[0].Addr != netip.MustParseAddr("127.0.0.1") || dsts[0].Port != 31100 || !dsts[0].Local {
		t.Fatalf("dst=%+v", dsts[0])
	}

	cfg.LoopbackEnabled = false
	if dsts := Discover(cfg, nil); len(dsts) != 0 {
		t.Fatalf("dsts=%v", dsts)
	}
}

func TestDiscover_MulticastToggle(t *testing.T) {
	t.Parallel()

	cfg := testConfig([]int{31100, 31101})
	cfg.MulticastEnabled = boolPtr(true)

	dsts := Discover(cfg, nil)
	if len(dsts) != 2 {
		t.Fatalf("dsts=%v", dsts)
	}
	group := netip.MustParseAddr(config.DefaultMulticastAddr)
	for i, dst := range dsts {
		if dst.Addr != group || dst.Local {
			t.Fatalf("dst[%d]=%+v", i, dst)
		}
	}
	if dsts[0].Port != 31100 || dsts[1].Port != 31101 {
		t.Fatalf("ports=%d,%d", dsts[0].Port, dsts[1].Port)
	}
}

func TestDiscover_BroadcastPerInterface(t *testing.T) {
	t.Parallel()

	cfg := testConfig([]int{31100, 31101})
	cfg.BroadcastEnabled = boolPtr(true)

	ifaces := []Interface{
		{Name: "eth0", Addr: netip.MustParseAddr("192.168.1.10"), Broadcast: netip.MustParseAddr("192.168.1.255")},
		{Name: "eth1", Addr: netip.MustParseAddr("10.0.0.2"), Broadcast: netip.MustParseAddr("10.0.0.255")},
		{Name: "wlan0", Addr: netip.MustParseAddr("172.16.4.9"), Broadcast: netip.MustParseAddr("172.16.7.255")},
	}

	// 1 global + 3 interface broadcasts, times 2 ports.
	dsts := Discover(cfg, ifaces)
	if len(dsts) != 8 {
		t.Fatalf("len=%d dsts=%v", len(dsts), dsts)
	}
	if dsts[0].Addr != netip.MustParseAddr("255.255.255.255") {
		t.Fatalf("first=%+v", dsts[0])
	}
	if dsts[2].Addr != netip.MustParseAddr("192.168.1.255") || dsts[2].Port != 31100 {
		t.Fatalf("dst[2]=%+v", dsts[2])
	}
}

func TestDiscover_SkipsLoopbackAndUndefinedBroadcast(t *testing.T) {
	t.Parallel()

	cfg := testConfig([]int{31100})
	cfg.BroadcastEnabled = boolPtr(true)

	ifaces := []Interface{
		{Name: "lo", Addr: netip.MustParseAddr("127.0.0.1"), Broadcast: netip.MustParseAddr("127.255.255.255"), Loopback: true},
		{Name: "tun0", Addr: netip.MustParseAddr("10.8.0.2")}, // no broadcast address
		{Name: "any0", Addr: netip.MustParseAddr("10.9.0.2"), Broadcast: netip.MustParseAddr("0.0.0.0")},
	}

	dsts := Discover(cfg, ifaces)
	if len(dsts) != 1 {
		t.Fatalf("dsts=%v", dsts)
	}
	if dsts[0].Addr != netip.MustParseAddr("255.255.255.255") {
		t.Fatalf("dst=%+v", dsts[0])
	}
}

func TestDiscover_EmissionOrder(t *testing.T) {
	t.Parallel()

	cfg := testConfig([]int{31100})
	cfg.LoopbackEnabled = true
	cfg.MulticastEnabled = boolPtr(true)
	cfg.BroadcastEnabled = boolPtr(true)

	ifaces := []Interface{
		{Name: "eth0", Addr: netip.MustParseAddr("192.168.1.10"), Broadcast: netip.MustParseAddr("192.168.1.255")},
	}

	dsts := Discover(cfg, ifaces)
	want := []string{"127.0.0.1", config.DefaultMulticastAddr, "255.255.255.255", "192.168.1.255"}
	if len(dsts) != len(want) {
		t.Fatalf("len=%d", len(dsts))
	}
	for i, w := range want {
		if dsts[i].Addr != netip.MustParseAddr(w) {
			t.Fatalf("dst[%d]=%+v want %s", i, dsts[i], w)
		}
	}
}

func TestDirectedBroadcast(t *testing.T) {
	t.Parallel()

	got := directedBroadcast(net.IPv4(192, 168, 1, 10).To4(), net.CIDRMask(24, 32))
	if got != netip.MustParseAddr("192.168.1.255") {
		t.Fatalf("got=%v", got)
	}

	got = directedBroadcast(net.IPv4(172, 16, 4, 9).To4(), net.CIDRMask(22, 32))
	if got != netip.MustParseAddr("172.16.7.255") {
		t.Fatalf("got=%v", got)
	}

	if got := directedBroadcast(net.IPv4(10, 0, 0, 1).To4(), net.IPMask{0xff}); got.IsValid() {
		t.Fatalf("expected zero addr, got %v", got)
	}
}

func TestSystemInterfaces_IgnoresNamed(t *testing.T) {
	t.Parallel()

	all, err := SystemInterfaces(nil)
	if err != nil {
		t.Fatalf("SystemInterfaces: %v", err)
	}

	for _, ifc := range all {
		filtered, err := SystemInterfaces([]string{ifc.Name})
		if err != nil {
			t.Fatalf("SystemInterfaces: %v", err)
		}
		for _, f := range filtered {
			if f.Name == ifc.Name {
				t.Fatalf("interface %q not ignored", ifc.Name)
			}
		}
		break
	}
}
