package metrics

import (
	"testing"
	"time"

	"saltmesh/internal/model"
)

func TestSummarize_Basic(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	items := []model.Sample{
		{Timestamp: now.Add(-10 * time.Second), Trigger: model.TriggerPeriodic, Value: 1, PeersKnown: 0},
		{Timestamp: now.Add(-5 * time.Second), Trigger: model.TriggerReceipt, Value: 4, SendFailures: 2, PeersKnown: 1},
		{Timestamp: now.Add(-1 * time.Second), Trigger: model.TriggerPeriodic, Value: 4, PeersKnown: 1},
	}

	s := Summarize(items, now.Add(-time.Minute))
	if s.Count != 3 {
		t.Fatalf("count=%d", s.Count)
	}
	if s.AvgValue != 3 {
		t.Fatalf("avg=%v", s.AvgValue)
	}
	if s.MinValue != 1 || s.MaxValue != 4 {
		t.Fatalf("min/max=%v/%v", s.MinValue, s.MaxValue)
	}
	if s.LastValue != 4 || s.PeersKnown != 1 {
		t.Fatalf("last=%v peers=%d", s.LastValue, s.PeersKnown)
	}
	if s.PeriodicCycles != 2 || s.ReceiptCycles != 1 {
		t.Fatalf("cycles=%d/%d", s.PeriodicCycles, s.ReceiptCycles)
	}
	if s.SendFailures != 2 {
		t.Fatalf("failures=%d", s.SendFailures)
	}
}

func TestSummarize_WindowFilters(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	items := []model.Sample{
		{Timestamp: now.Add(-time.Hour), Value: 100},
		{Timestamp: now, Value: 2},
	}

	s := Summarize(items, now.Add(-time.Minute))
	if s.Count != 1 || s.MaxValue != 2 {
		t.Fatalf("summary=%+v", s)
	}

	if s := Summarize(nil, now); s.Count != 0 {
		t.Fatalf("summary=%+v", s)
	}
}
