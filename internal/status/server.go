// Package status exposes a read-only HTTP view of a running node.
package status

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"saltmesh/internal/api"
	"saltmesh/internal/node"
)

// Source provides node snapshots. Snapshots are published atomically by the
// convergence loop, so handlers never touch loop state.
type Source interface {
	Snapshot() node.Snapshot
}

// Server serves /status and /peers as JSON.
type Server struct {
	addr string
	src  Source
}

// NewServer constructs a status server.
func NewServer(addr string, src Source) *Server {
	return &Server{addr: addr, src: src}
}

// ListenAndServe runs the HTTP server.
func (s *Server) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/peers", s.handlePeers)

	server := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("status listening on %s", s.addr)
	return server.ListenAndServe()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	snap := s.src.Snapshot()
	writeJSON(w, http.StatusOK, api.StatusResponse{
		Source:         snap.Source,
		Policy:         snap.Policy,
		Bound:          snap.Bound,
		Value:          snap.Value,
		Timestamp:      snap.Timestamp,
		StartedAt:      snap.StartedAt,
		PeriodicCycles: snap.PeriodicCycles,
		ReceiptCycles:  snap.ReceiptCycles,
		SendFailures:   snap.SendFailures,
		PeersKnown:     len(snap.Peers),
	})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	snap := s.src.Snapshot()
	resp := api.PeersResponse{Peers: make([]api.PeerInfo, 0, len(snap.Peers))}
	for _, p := range snap.Peers {
		resp.Peers = append(resp.Peers, api.PeerInfo{
			Addr:          p.Addr,
			Source:        p.Source,
			LastTimestamp: p.LastTimestamp,
			LastValue:     p.LastValue,
			Messages:      p.Messages,
			LastSeenAt:    p.LastSeenAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response failed: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
