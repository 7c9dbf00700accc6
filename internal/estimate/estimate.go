// Package estimate holds the node's running local estimate, the last
// received peer estimate, and the policies that fold one into the other.
package estimate

import (
	"fmt"
	"math"

	"saltmesh/internal/config"
	"saltmesh/internal/wire"
)

// Store keeps the local estimate (always present) and the last accepted
// peer estimate (absent until a first receipt). Mutated only from the
// convergence loop goroutine.
type Store struct {
	local    wire.Estimate
	received *wire.Estimate
}

// NewStore returns a store whose local estimate carries the given source id
// and a zero value; the first merge initializes the value from the baseline.
func NewStore(source uint16) *Store {
	return &Store{local: wire.Estimate{Source: source}}
}

// Local returns a copy of the local estimate.
func (s *Store) Local() wire.Estimate {
	return s.local
}

// Received returns the last accepted peer estimate, if any.
func (s *Store) Received() (wire.Estimate, bool) {
	if s.received == nil {
		return wire.Estimate{}, false
	}
	return *s.received, true
}

// SetReceived replaces the last accepted peer estimate.
func (s *Store) SetReceived(e wire.Estimate) {
	if s.received == nil {
		s.received = new(wire.Estimate)
	}
	*s.received = e
}

// StampLocal sets the local estimate's timestamp and returns a copy, ready
// for broadcast.
func (s *Store) StampLocal(unixSeconds float64) wire.Estimate {
	s.local.Timestamp = unixSeconds
	return s.local
}

// Policy folds the last received peer estimate into the local estimate.
// Merge runs once per announce cycle, whether the cycle was triggered by a
// receipt or by the periodic timer, and returns the new local value.
type Policy interface {
	Name() string
	Merge(s *Store, bound, baseline float64) float64
}

// ForName maps a config policy name to its implementation.
func ForName(name string) (Policy, error) {
	switch name {
	case config.PolicyDrain:
		return Drain{}, nil
	case config.PolicyIncrement:
		return Increment{}, nil
	default:
		return nil, fmt.Errorf("unknown accumulation policy %q", name)
	}
}

// Drain is the default policy: each peer contribution is added to the local
// estimate exactly once, then zeroed so re-announces contribute nothing.
// The local magnitude saturates at the bound.
type Drain struct{}

func (Drain) Name() string { return config.PolicyDrain }

func (Drain) Merge(s *Store, bound, baseline float64) float64 {
	switch {
	case s.received == nil:
		s.local.Value = baseline
	case math.Abs(s.local.Value) < bound:
		s.local.Value = clamp(s.local.Value+s.received.Value, bound)
		s.received.Value = 0
	default:
		s.local.Value = bound
	}
	return s.local.Value
}

// Increment replaces the local estimate with the peer value plus one on each
// receipt, saturating at the bound. The broadcast copy is the new local.
type Increment struct{}

func (Increment) Name() string { return config.PolicyIncrement }

func (Increment) Merge(s *Store, bound, baseline float64) float64 {
	switch {
	case s.received == nil:
		s.local.Value = baseline
	case math.Abs(s.local.Value) < bound:
		s.local.Value = clamp(s.received.Value+1, bound)
	default:
		s.local.Value = bound
	}
	return s.local.Value
}

// clamp limits v to the symmetric magnitude bound.
func clamp(v, bound float64) float64 {
	if v > bound {
		return bound
	}
	if v < -bound {
		return -bound
	}
	return v
}
