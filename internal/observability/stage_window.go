package observability

import (
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// Dialogue stages recorded per turn.
const (
	StagePersona    = "persona"
	StageRetrieve   = "retrieve"
	StageGenerate   = "generate"
	StageFirstToken = "first_token"
	StagePersist    = "persist"
	StageTurnTotal  = "turn_total"
)

// p95 budgets reported next to each stage; stages without one omit it.
var stageBudgetsMS = map[string]float64{
	StageRetrieve:   150,
	StagePersist:    150,
	StageFirstToken: 1500,
	StageGenerate:   8000,
	StageTurnTotal:  8000,
}

type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type StageSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Indicators  []Indicator  `json:"indicators,omitempty"`
}

// recentLatencies keeps the last size samples of every stage, oldest first,
// plus running counts of named indicators.
type recentLatencies struct {
	size int

	mu       sync.Mutex
	samples  map[string][]float64
	counters map[string]int
}

func newRecentLatencies(size int) *recentLatencies {
	if size <= 0 {
		size = 256
	}
	return &recentLatencies{
		size:     size,
		samples:  make(map[string][]float64),
		counters: make(map[string]int),
	}
}

func (r *recentLatencies) add(stage string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := append(r.samples[stage], ms)
	if len(s) > r.size {
		s = slices.Delete(s, 0, len(s)-r.size)
	}
	r.samples[stage] = s
}

func (r *recentLatencies) count(name string) {
	if name = strings.TrimSpace(name); name == "" {
		return
	}
	r.mu.Lock()
	r.counters[name]++
	r.mu.Unlock()
}

func (r *recentLatencies) snapshot() StageSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  r.size,
		Stages:      make([]StageStats, 0, len(r.samples)),
	}
	for _, stage := range slices.Sorted(maps.Keys(r.samples)) {
		if s := r.samples[stage]; len(s) > 0 {
			snap.Stages = append(snap.Stages, summarize(stage, s))
		}
	}
	for _, name := range slices.Sorted(maps.Keys(r.counters)) {
		snap.Indicators = append(snap.Indicators, Indicator{Name: name, Count: r.counters[name]})
	}
	return snap
}

// summarize computes stats over samples (oldest first) without mutating it.
func summarize(stage string, samples []float64) StageStats {
	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return StageStats{
		Stage:       stage,
		Samples:     len(sorted),
		LastMS:      ms2(samples[len(samples)-1]),
		AvgMS:       ms2(sum / float64(len(sorted))),
		P50MS:       ms2(nearestRank(sorted, 50)),
		P95MS:       ms2(nearestRank(sorted, 95)),
		P99MS:       ms2(nearestRank(sorted, 99)),
		TargetP95MS: stageBudgetsMS[stage],
	}
}

// nearestRank returns the p-th percentile of a non-empty sorted slice.
func nearestRank(sorted []float64, p int) float64 {
	rank := int(math.Ceil(float64(p) / 100 * float64(len(sorted))))
	return sorted[max(rank, 1)-1]
}

func ms2(v float64) float64 { return math.Round(v*100) / 100 }

// ObserveStage records one latency sample for a dialogue stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil || m.stages == nil {
		return
	}
	m.stages.add(stage, float64(d.Microseconds())/1000)
}

// ObserveIndicator counts a notable turn outcome such as an empty answer.
func (m *Metrics) ObserveIndicator(name string) {
	if m == nil || m.stages == nil {
		return
	}
	m.stages.count(name)
}

// SnapshotStages returns latency percentiles of recent turns.
func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil || m.stages == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC(), Stages: []StageStats{}}
	}
	return m.stages.snapshot()
}
