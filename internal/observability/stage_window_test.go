package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRecentLatenciesSnapshot(t *testing.T) {
	w := newRecentLatencies(8)
	w.add(StageRetrieve, 50)
	w.add(StageRetrieve, 70)
	w.add(StageRetrieve, 90)
	w.count("empty_answer")
	w.count("empty_answer")

	snap := w.snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageRetrieve {
		t.Fatalf("Stage = %q, want %q", s.Stage, StageRetrieve)
	}
	if s.Samples != 3 || s.LastMS != 90 || s.P50MS != 70 {
		t.Fatalf("stats = %+v, want 3 samples, last 90, p50 70", s)
	}
	if s.TargetP95MS != 150 {
		t.Fatalf("TargetP95MS = %.2f, want 150", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v, want empty_answer x2", snap.Indicators)
	}
}

func TestRecentLatenciesDropsOldest(t *testing.T) {
	w := newRecentLatencies(2)
	w.add(StageGenerate, 10)
	w.add(StageGenerate, 20)
	w.add(StageGenerate, 30)

	s := w.snapshot().Stages[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", s.Samples)
	}
	if s.AvgMS != 25 {
		t.Fatalf("AvgMS = %.2f, want 25 (oldest sample evicted)", s.AvgMS)
	}
}

func TestNearestRank(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	for p, want := range map[int]float64{50: 5, 95: 10, 99: 10, 10: 1} {
		if got := nearestRank(sorted, p); got != want {
			t.Fatalf("nearestRank(p%d) = %v, want %v", p, got, want)
		}
	}
	if got := nearestRank([]float64{42}, 99); got != 42 {
		t.Fatalf("nearestRank(single) = %v, want 42", got)
	}
}

func TestSummarizeKeepsArrivalOrderForLast(t *testing.T) {
	samples := []float64{30, 10, 20}
	s := summarize(StageGenerate, samples)
	if s.LastMS != 20 || s.P50MS != 20 || s.TargetP95MS != 8000 {
		t.Fatalf("summarize() = %+v", s)
	}
	if samples[0] != 30 {
		t.Fatalf("summarize() reordered its input: %v", samples)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveGeneration("mock", "chat", "ok", time.Second)
	m.ObserveStage(StageGenerate, time.Second)
	m.ObserveQueueDrop()
	if got := m.SnapshotStages(); len(got.Stages) != 0 {
		t.Fatalf("SnapshotStages() on nil = %+v, want empty", got)
	}
}

func TestMetricsObserveStage(t *testing.T) {
	m := NewMetrics("test_stage", prometheus.NewRegistry())
	m.ObserveStage(StagePersist, 3*time.Millisecond)
	snap := m.SnapshotStages()
	if len(snap.Stages) != 1 || snap.Stages[0].LastMS != 3 {
		t.Fatalf("SnapshotStages() = %+v, want persist at 3ms", snap)
	}
}
