// Package node runs the convergence loop: wait for inbound estimates,
// fold them into the local estimate, and announce the result.
package node

import (
	"context"
	"log"
	"net/netip"
	"sort"
	"sync/atomic"
	"time"

	"saltmesh/internal/config"
	"saltmesh/internal/endpoint"
	"saltmesh/internal/estimate"
	"saltmesh/internal/metrics"
	"saltmesh/internal/model"
	"saltmesh/internal/wire"
)

// Conn is the datagram transport the loop drives.
type Conn interface {
	Recv(buf []byte, timeout time.Duration) (int, netip.AddrPort, bool, error)
	Send(payload []byte, dst endpoint.Destination) error
	Close() error
}

// Node is a single convergence participant. All mutable state is owned by
// the Run goroutine; observers read atomically published snapshots.
type Node struct {
	cfg    *config.NodeConfig
	conn   Conn
	store  *estimate.Store
	policy estimate.Policy

	// last-seen message timestamp per sender, for duplicate suppression.
	tstamps map[netip.Addr]float64
	peers   map[netip.Addr]*model.Peer

	// Consumer, when set before Run, receives one copy of every locally
	// dispatched estimate: accepted peer estimates and own announces.
	Consumer chan<- wire.Estimate

	interfaces func() ([]endpoint.Interface, error)

	snap         atomic.Pointer[Snapshot]
	startedAt    time.Time
	periodic     int
	receipt      int
	sendFailures int
	buf          [4096]byte
}

// Snapshot is a read-only view of the node for the status surface.
type Snapshot struct {
	Source         uint16
	Policy         string
	Bound          float64
	Value          float64
	Timestamp      float64
	StartedAt      time.Time
	PeriodicCycles int
	ReceiptCycles  int
	SendFailures   int
	Peers          []model.Peer
}

// New builds a node over an already bound transport.
func New(cfg *config.NodeConfig, conn Conn) (*Node, error) {
	policy, err := estimate.ForName(cfg.Policy)
	if err != nil {
		return nil, err
	}
	return &Node{
		cfg:     cfg,
		conn:    conn,
		store:   estimate.NewStore(cfg.SourceID),
		policy:  policy,
		tstamps: make(map[netip.Addr]float64),
		peers:   make(map[netip.Addr]*model.Peer),
		interfaces: func() ([]endpoint.Interface, error) {
			return endpoint.SystemInterfaces(cfg.IgnoredInterfaces)
		},
	}, nil
}

// Run enters the convergence loop and returns when ctx is cancelled.
// Shutdown latency is bounded by one announce interval.
func (n *Node) Run(ctx context.Context) error {
	n.startedAt = time.Now()
	wait := time.Duration(n.cfg.AnnounceIntervalSec) * time.Second

	// Announce once at startup so peers learn about us before the first
	// receipt; with nothing received yet this advertises the baseline.
	n.announceCycle(model.TriggerPeriodic)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		nr, sender, ok, err := n.conn.Recv(n.buf[:], wait)
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			log.Printf("read failed: %v", err)
			time.Sleep(wait)
			continue
		}
		if !ok {
			// Timeout: periodic re-announce.
			n.announceCycle(model.TriggerPeriodic)
			continue
		}
		n.handleDatagram(n.buf[:nr], sender)
	}
}

// handleDatagram runs the inbound filter and, on acceptance, merges the
// peer estimate and re-announces. Propagation is receipt-driven, not just
// periodic.
func (n *Node) handleDatagram(raw []byte, sender netip.AddrPort) {
	est, _, ok := n.accept(raw, sender.Addr())
	if !ok {
		return
	}

	n.store.SetReceived(est)
	n.recordPeer(sender.Addr(), est)
	if n.cfg.TraceInbound {
		log.Printf("trace: estimate from %s source=%d value=%g ts=%.6f",
			sender.Addr(), est.Source, est.Value, est.Timestamp)
	}
	n.dispatch(est)
	n.announceCycle(model.TriggerReceipt)
}

// announceCycle merges the last received estimate into the local one, then
// fans the result out. Merge-then-broadcast is atomic with respect to
// inbound processing because both run on the loop goroutine.
func (n *Node) announceCycle(trigger string) {
	n.policy.Merge(n.store, n.cfg.Delta, n.cfg.MeasuredValue)
	n.announce(trigger)
}

func (n *Node) announce(trigger string) {
	ifaces, err := n.interfaces()
	if err != nil {
		log.Printf("interface enumeration failed: %v", err)
	}
	dsts := endpoint.Discover(n.cfg, ifaces)

	est := n.store.StampLocal(unixSeconds(time.Now()))
	payload := est.Marshal()

	// Exactly one local copy per announce; loopback destinations are
	// skipped on the wire below.
	n.dispatch(est)

	failures := 0
	for _, dst := range dsts {
		if dst.Local {
			continue
		}
		if err := n.conn.Send(payload, dst); err != nil {
			failures++
		}
	}
	if failures > 0 {
		log.Printf("announce: %d of %d sends failed", failures, len(dsts))
	}

	if trigger == model.TriggerReceipt {
		n.receipt++
	} else {
		n.periodic++
	}
	n.sendFailures += failures

	if n.cfg.MetricsPath != "" {
		sample := model.Sample{
			Timestamp:    time.Now().UTC(),
			Source:       n.cfg.SourceID,
			Trigger:      trigger,
			Value:        est.Value,
			Destinations: len(dsts),
			SendFailures: failures,
			PeersKnown:   len(n.peers),
		}
		if err := metrics.AppendCSV(n.cfg.MetricsPath, []model.Sample{sample}); err != nil {
			log.Printf("append metrics failed: %v", err)
		}
	}

	n.publish()
}

func (n *Node) dispatch(est wire.Estimate) {
	if n.Consumer == nil {
		return
	}
	select {
	case n.Consumer <- est:
	default:
		// Drop when the consumer lags; the loop must not block on it.
	}
}

func (n *Node) recordPeer(addr netip.Addr, est wire.Estimate) {
	p, ok := n.peers[addr]
	if !ok {
		p = &model.Peer{Addr: addr.String()}
		n.peers[addr] = p
	}
	p.Source = est.Source
	p.LastTimestamp = est.Timestamp
	p.LastValue = est.Value
	p.Messages++
	p.LastSeenAt = time.Now().UTC()
}

// Peers returns the observed peers sorted by address. Safe only once Run
// has returned, or on snapshots; the live map belongs to the loop.
func (n *Node) Peers() []model.Peer {
	out := make([]model.Peer, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// Snapshot returns the last published view of the node.
func (n *Node) Snapshot() Snapshot {
	if s := n.snap.Load(); s != nil {
		return *s
	}
	return Snapshot{Source: n.cfg.SourceID, Policy: n.policy.Name(), Bound: n.cfg.Delta}
}

func (n *Node) publish() {
	local := n.store.Local()
	s := &Snapshot{
		Source:         n.cfg.SourceID,
		Policy:         n.policy.Name(),
		Bound:          n.cfg.Delta,
		Value:          local.Value,
		Timestamp:      local.Timestamp,
		StartedAt:      n.startedAt,
		PeriodicCycles: n.periodic,
		ReceiptCycles:  n.receipt,
		SendFailures:   n.sendFailures,
		Peers:          n.Peers(),
	}
	n.snap.Store(s)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
