package metrics

import (
	"math"
	"time"

	"saltmesh/internal/model"
)

// Summary is a basic statistics snapshot of the local estimate over time.
type Summary struct {
	Count          int
	From           time.Time
	To             time.Time
	AvgValue       float64
	MinValue       float64
	MaxValue       float64
	LastValue      float64
	PeriodicCycles int
	ReceiptCycles  int
	SendFailures   int
	PeersKnown     int
}

// Summarize computes summary statistics for samples in a time window.
func Summarize(items []model.Sample, since time.Time) Summary {
	filtered := make([]model.Sample, 0, len(items))
	for _, s := range items {
		if s.Timestamp.After(since) || s.Timestamp.Equal(since) {
			filtered = append(filtered, s)
		}
	}

	if len(filtered) == 0 {
		return Summary{Count: 0}
	}

	var sum float64
	minValue := math.MaxFloat64
	maxValue := -math.MaxFloat64
	from := filtered[0].Timestamp
	to := filtered[0].Timestamp
	out := Summary{Count: len(filtered)}

	for _, s := range filtered {
		sum += s.Value
		if s.Value < minValue {
			minValue = s.Value
		}
		if s.Value > maxValue {
			maxValue = s.Value
		}
		if s.Timestamp.Before(from) {
			from = s.Timestamp
		}
		if !s.Timestamp.Before(to) {
			to = s.Timestamp
			out.LastValue = s.Value
			out.PeersKnown = s.PeersKnown
		}
		switch s.Trigger {
		case model.TriggerReceipt:
			out.ReceiptCycles++
		case model.TriggerPeriodic:
			out.PeriodicCycles++
		}
		out.SendFailures += s.SendFailures
	}

	out.From = from
	out.To = to
	out.AvgValue = sum / float64(len(filtered))
	out.MinValue = minValue
	out.MaxValue = maxValue
	return out
}
