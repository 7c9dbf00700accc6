package api

import "time"

// StatusResponse mirrors the node's published snapshot.
type StatusResponse struct {
	Source         uint16    `json:"source"`
	Policy         string    `json:"policy"`
	Bound          float64   `json:"bound"`
	Value          float64   `json:"value"`
	Timestamp      float64   `json:"timestamp"`
	StartedAt      time.Time `json:"started_at"`
	PeriodicCycles int       `json:"periodic_cycles"`
	ReceiptCycles  int       `json:"receipt_cycles"`
	SendFailures   int       `json:"send_failures"`
	PeersKnown     int       `json:"peers_known"`
}

// PeersResponse lists observed gossip senders.
type PeersResponse struct {
	Peers []PeerInfo `json:"peers"`
}

// PeerInfo is one observed peer.
type PeerInfo struct {
	Addr          string    `json:"addr"`
	Source        uint16    `json:"source"`
	LastTimestamp float64   `json:"last_timestamp"`
	LastValue     float64   `json:"last_value"`
	Messages      int       `json:"messages"`
	LastSeenAt    time.Time `json:"last_seen_at"`
}
