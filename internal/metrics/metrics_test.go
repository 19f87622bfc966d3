package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetGauge().GetValue()
}

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.PatchesApplied.WithLabelValues("add").Inc()
	m.WSConnectionsTotal.Inc()
	m.WSConnectionsActive.Set(3)

	if got := counterValue(t, m.WSConnectionsTotal); got != 1 {
		t.Fatalf("got %v", got)
	}
	if got := gaugeValue(t, m.WSConnectionsActive); got != 3 {
		t.Fatalf("got %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(families) == 0 {
		t.Fatal("expected registered families")
	}
}

func TestObserveJournalAppendRecordsDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveJournalAppend(time.Now().Add(-5 * time.Millisecond))

	var hist dto.Metric
	if err := m.JournalAppendDur.Write(&hist); err != nil {
		t.Fatal(err)
	}
	if hist.GetHistogram().GetSampleCount() != 1 {
		t.Fatalf("got sample count %d", hist.GetHistogram().GetSampleCount())
	}
}

func TestObserveCompactionIncrementsRunsAndDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveCompaction(time.Now().Add(-10 * time.Millisecond))

	if got := counterValue(t, m.CompactionRuns); got != 1 {
		t.Fatalf("got %v", got)
	}
}

func TestSecondNewUsesIndependentRegistry(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	New(reg1)
	New(reg2) // must not panic from duplicate registration
}
