package node

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"saltmesh/internal/config"
	"saltmesh/internal/endpoint"
	"saltmesh/internal/wire"
)

// fakeConn records sends and feeds queued datagrams to Recv.
type fakeConn struct {
	mu    sync.Mutex
	sends []fakeSend
	queue []fakeDatagram
}

type fakeSend struct {
	payload []byte
	dst     endpoint.Destination
}

type fakeDatagram struct {
	payload []byte
	sender  netip.AddrPort
}

func newFakeConn() *fakeConn { return &fakeConn{} }

func (c *fakeConn) Recv(buf []byte, timeout time.Duration) (int, netip.AddrPort, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return 0, netip.AddrPort{}, false, nil
	}
	d := c.queue[0]
	c.queue = c.queue[1:]
	n := copy(buf, d.payload)
	return n, d.sender, true, nil
}

func (c *fakeConn) Send(payload []byte, dst endpoint.Destination) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends = append(c.sends, fakeSend{payload: append([]byte(nil), payload...), dst: dst})
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) sent() []fakeSend {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]fakeSend(nil), c.sends...)
}

func (c *fakeConn) push(payload []byte, sender netip.AddrPort) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, fakeDatagram{payload: payload, sender: sender})
}

func convergenceNode(t *testing.T, policy string) (*Node, *fakeConn) {
	t.Helper()

	mcast := true
	bcast := false
	cfg := &config.Config{Node: &config.NodeConfig{
		Ports:            []int{31100},
		MulticastEnabled: &mcast,
		BroadcastEnabled: &bcast,
		Policy:           policy,
	}}
	config.ApplyDefaults(cfg)
	cfg.Node.SourceID = 1

	conn := newFakeConn()
	n, err := New(cfg.Node, conn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n.interfaces = func() ([]endpoint.Interface, error) { return nil, nil }
	return n, conn
}

func TestAnnounceCycle_NoPeer_StaysAtBaseline(t *testing.T) {
	t.Parallel()

	n, conn := convergenceNode(t, config.PolicyDrain)
	for i := 0; i < 5; i++ {
		n.announceCycle("periodic")
	}

	sends := conn.sent()
	if len(sends) != 5 {
		t.Fatalf("sends=%d", len(sends))
	}
	for i, s := range sends {
		var est wire.Estimate
		if err := est.Unmarshal(s.payload); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		if est.Value != config.DefaultMeasuredValue || est.Source != 1 {
			t.Fatalf("send %d: %+v", i, est)
		}
	}
}

func TestHandleDatagram_MergesAndReannounces(t *testing.T) {
	t.Parallel()

	n, conn := convergenceNode(t, config.PolicyDrain)
	n.announceCycle("periodic") // baseline 1

	sender := netip.MustParseAddrPort("192.168.1.20:31100")
	raw := (&wire.Estimate{Source: 2, Timestamp: 100, Value: 3}).Marshal()
	n.handleDatagram(raw, sender)

	sends := conn.sent()
	if len(sends) != 2 {
		t.Fatalf("sends=%d", len(sends))
	}

	var est wire.Estimate
	if err := est.Unmarshal(sends[1].payload); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if est.Value != 4 {
		t.Fatalf("value=%v", est.Value)
	}

	// Further periodic cycles keep the merged value; the peer contribution
	// was drained.
	n.announceCycle("periodic")
	sends = conn.sent()
	if err := est.Unmarshal(sends[2].payload); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if est.Value != 4 {
		t.Fatalf("value=%v", est.Value)
	}
}

func TestHandleDatagram_DuplicateMergedOnce(t *testing.T) {
	t.Parallel()

	n, conn := convergenceNode(t, config.PolicyDrain)
	n.announceCycle("periodic")

	sender := netip.MustParseAddrPort("192.168.1.20:31100")
	raw := (&wire.Estimate{Source: 2, Timestamp: 100, Value: 3}).Marshal()
	n.handleDatagram(raw, sender)
	n.handleDatagram(raw, sender) // identical redelivery

	if got := n.store.Local().Value; got != 4 {
		t.Fatalf("value=%v", got)
	}
	// Duplicate triggers no announce.
	if sends := conn.sent(); len(sends) != 2 {
		t.Fatalf("sends=%d", len(sends))
	}
}

func TestHandleDatagram_SelfEchoIgnored(t *testing.T) {
	t.Parallel()

	n, conn := convergenceNode(t, config.PolicyDrain)
	n.announceCycle("periodic")

	raw := (&wire.Estimate{Source: 1, Timestamp: 100, Value: 99}).Marshal()
	n.handleDatagram(raw, netip.MustParseAddrPort("192.168.1.20:31100"))

	if got := n.store.Local().Value; got != 1 {
		t.Fatalf("value=%v", got)
	}
	if sends := conn.sent(); len(sends) != 1 {
		t.Fatalf("sends=%d", len(sends))
	}
}

func TestHandleDatagram_DispatchesToConsumer(t *testing.T) {
	t.Parallel()

	n, _ := convergenceNode(t, config.PolicyDrain)
	events := make(chan wire.Estimate, 8)
	n.Consumer = events

	n.announceCycle("periodic")
	raw := (&wire.Estimate{Source: 2, Timestamp: 100, Value: 3}).Marshal()
	n.handleDatagram(raw, netip.MustParseAddrPort("192.168.1.20:31100"))

	// One copy for the startup announce, one for the accepted peer
	// estimate, one for the receipt-driven announce.
	if len(events) != 3 {
		t.Fatalf("events=%d", len(events))
	}
	first := <-events
	if first.Source != 1 || first.Value != 1 {
		t.Fatalf("first=%+v", first)
	}
	second := <-events
	if second.Source != 2 || second.Value != 3 {
		t.Fatalf("second=%+v", second)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	n, _ := convergenceNode(t, config.PolicyDrain)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("err=%v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestSnapshot_TracksCyclesAndPeers(t *testing.T) {
	t.Parallel()

	n, _ := convergenceNode(t, config.PolicyDrain)
	n.announceCycle("periodic")

	raw := (&wire.Estimate{Source: 2, Timestamp: 100, Value: 3}).Marshal()
	n.handleDatagram(raw, netip.MustParseAddrPort("192.168.1.20:31100"))

	s := n.Snapshot()
	if s.Value != 4 || s.Source != 1 {
		t.Fatalf("snapshot=%+v", s)
	}
	if s.PeriodicCycles != 1 || s.ReceiptCycles != 1 {
		t.Fatalf("cycles=%d/%d", s.PeriodicCycles, s.ReceiptCycles)
	}
	if len(s.Peers) != 1 || s.Peers[0].Source != 2 || s.Peers[0].Messages != 1 {
		t.Fatalf("peers=%+v", s.Peers)
	}
}

func TestIncrementPolicy_EndToEnd(t *testing.T) {
	t.Parallel()

	n, conn := convergenceNode(t, config.PolicyIncrement)
	n.announceCycle("periodic")

	raw := (&wire.Estimate{Source: 2, Timestamp: 100, Value: 3}).Marshal()
	n.handleDatagram(raw, netip.MustParseAddrPort("192.168.1.20:31100"))

	sends := conn.sent()
	var est wire.Estimate
	if err := est.Unmarshal(sends[len(sends)-1].payload); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if est.Value != 4 {
		t.Fatalf("value=%v", est.Value)
	}
}
