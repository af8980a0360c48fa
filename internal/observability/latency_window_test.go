package observability

import (
	"testing"
	"time"
)

func TestLatencyWindowSnapshot(t *testing.T) {
	w := newLatencyWindow(8)
	w.observe("agent_forward", 500*time.Millisecond)
	w.observe("agent_forward", 700*time.Millisecond)
	w.observe("agent_forward", 900*time.Millisecond)
	w.outcome("command:ok")
	w.outcome("command:ok")

	snap := w.snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != "agent_forward" {
		t.Fatalf("Stage = %q, want %q", s.Stage, "agent_forward")
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if len(snap.Outcomes) != 1 || snap.Outcomes[0].Name != "command:ok" || snap.Outcomes[0].Count != 2 {
		t.Fatalf("Outcomes = %+v, want [command:ok x2]", snap.Outcomes)
	}
}

func TestLatencyWindowWrapsRing(t *testing.T) {
	w := newLatencyWindow(2)
	for _, ms := range []int{10, 20, 30} {
		w.observe("command_total", time.Duration(ms)*time.Millisecond)
	}
	s := w.snapshot().Stages[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", s.Samples)
	}
	if s.AvgMS != 25 {
		t.Fatalf("AvgMS = %.2f, want 25", s.AvgMS)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveCommand("command", "ok")
	m.ObserveStage("command_total", time.Second)
	if snap := m.LatencySnapshot(); len(snap.Stages) != 0 {
		t.Fatalf("nil metrics snapshot has stages: %+v", snap.Stages)
	}
}

func TestParseLevel(t *testing.T) {
	if got := ParseLevel(" DEBUG "); got.String() != "DEBUG" {
		t.Fatalf("ParseLevel(DEBUG) = %v", got)
	}
	if got := ParseLevel("verbose"); got.String() != "INFO" {
		t.Fatalf("ParseLevel(verbose) = %v, want INFO", got)
	}
}
