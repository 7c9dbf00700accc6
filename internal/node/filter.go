package node

import (
	"log"
	"net/netip"

	"saltmesh/internal/wire"
)

// RejectReason classifies why an inbound datagram was discarded.
type RejectReason string

const (
	RejectMalformed RejectReason = "malformed"
	RejectWrongType RejectReason = "wrong-type"
	RejectDuplicate RejectReason = "duplicate"
	RejectSelfEcho  RejectReason = "self-echo"
)

// accept validates one inbound datagram: decode, type check, duplicate
// suppression by (sender, timestamp), and self-echo rejection. The dedup
// record is updated for any fresh timestamp before the self-echo check, so
// even echoed messages advance the per-sender record.
func (n *Node) accept(raw []byte, sender netip.Addr) (wire.Estimate, RejectReason, bool) {
	mt, err := wire.MessageType(raw)
	if err != nil {
		log.Printf("discarding spurious datagram from %s: %v", sender, err)
		return wire.Estimate{}, RejectMalformed, false
	}
	if mt != wire.TypeEstimate {
		log.Printf("discarding datagram of unexpected type %#x from %s", mt, sender)
		return wire.Estimate{}, RejectWrongType, false
	}

	var est wire.Estimate
	if err := est.Unmarshal(raw); err != nil {
		log.Printf("discarding spurious datagram from %s: %v", sender, err)
		return wire.Estimate{}, RejectMalformed, false
	}

	// Exact-equality duplicate suppression; a different timestamp, lower
	// included, counts as fresh and overwrites the record.
	if last, seen := n.tstamps[sender]; seen && last == est.Timestamp {
		return wire.Estimate{}, RejectDuplicate, false
	}
	n.tstamps[sender] = est.Timestamp

	if est.Source == n.cfg.SourceID {
		log.Printf("discarding own estimate echoed back by %s", sender)
		return wire.Estimate{}, RejectSelfEcho, false
	}

	return est, "", true
}
