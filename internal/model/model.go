package model

import "time"

// Announce-cycle triggers.
const (
	TriggerPeriodic = "periodic"
	TriggerReceipt  = "receipt"
)

// Sample records one announce cycle.
type Sample struct {
	Timestamp    time.Time
	Source       uint16
	Trigger      string // periodic|receipt
	Value        float64
	Destinations int
	SendFailures int
	PeersKnown   int
}

// Peer is what the node knows about one gossip sender.
type Peer struct {
	Addr          string
	Source        uint16
	LastTimestamp float64
	LastValue     float64
	Messages      int
	LastSeenAt    time.Time
}
