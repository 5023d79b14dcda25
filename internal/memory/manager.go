package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/aili/internal/observability"
	"github.com/ent0n29/aili/internal/policy"
)

// Options configures a Manager. Zero values disable every optional pass.
type Options struct {
	// Window is the short-term history size per owner.
	Window int

	Summary    bool
	SummaryLLM string

	Reflection    bool
	ReflectionLLM string
	ReflectEvery  int

	// Index enables long memory when set.
	Index *Index
	TopK  int
	// HydrateLimit caps how many logged turns are indexed on an owner's
	// first search.
	HydrateLimit int

	Inline      bool
	PassTimeout time.Duration
	QueueSize   int

	RedactPII bool

	Generator Generator
	Metrics   *observability.Metrics
	Logger    *zap.Logger
}

// Manager implements Store over a Log, running the optional consolidation
// passes after each persist.
type Manager struct {
	log  Log
	opts Options
	lg   *zap.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan job
	done   chan struct{}

	// consolidateMu keeps read-modify-write of long-term records ordered.
	consolidateMu sync.Mutex
}

type job struct {
	turn    Turn
	evicted *Turn
	total   int
}

func NewManager(log Log, opts Options) (*Manager, error) {
	if log == nil {
		return nil, errors.New("memory log is required")
	}
	if opts.Window <= 0 {
		opts.Window = 5
	}
	if opts.ReflectEvery <= 0 {
		opts.ReflectEvery = 5
	}
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	if opts.HydrateLimit <= 0 {
		opts.HydrateLimit = 500
	}
	if opts.PassTimeout <= 0 {
		opts.PassTimeout = 30 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if (opts.Summary || opts.Reflection) && opts.Generator == nil {
		return nil, errors.New("summary and reflection passes need a generator")
	}

	m := &Manager{
		log:  log,
		opts: opts,
		lg:   opts.Logger.Named("memory"),
	}
	if m.hasPasses() && !opts.Inline {
		m.jobs = make(chan job, opts.QueueSize)
		m.done = make(chan struct{})
		go m.worker()
	}
	return m, nil
}

func (m *Manager) hasPasses() bool {
	return m.opts.Summary || m.opts.Reflection || m.opts.Index != nil
}

// Retrieve returns the owner's short window and long-term text. An owner
// with no history gets empty containers.
func (m *Manager) Retrieve(ctx context.Context, query string, owner Owner) (History, error) {
	recent, err := m.log.Recent(ctx, owner, m.opts.Window)
	if err != nil {
		return History{}, fmt.Errorf("retrieve short history: %w", err)
	}
	if recent == nil {
		recent = []Turn{}
	}

	rec, err := m.log.LongTerm(ctx, owner)
	if err != nil {
		return History{}, fmt.Errorf("retrieve long history: %w", err)
	}

	var relevant []Turn
	if m.opts.Index != nil && strings.TrimSpace(query) != "" {
		skip := make(map[string]bool, len(recent))
		for _, t := range recent {
			skip[t.ID] = true
		}
		relevant, err = m.searchIndex(ctx, owner, query, skip)
		if err != nil {
			// Long memory is best effort.
			m.lg.Warn("long memory search failed", zap.String("owner", owner.String()), zap.Error(err))
			relevant = nil
		}
	}

	return History{Short: recent, Long: composeLong(rec, relevant)}, nil
}

// searchIndex makes sure the owner's persisted turns are indexed before
// searching them.
func (m *Manager) searchIndex(ctx context.Context, owner Owner, query string, skip map[string]bool) ([]Turn, error) {
	err := m.opts.Index.Hydrate(ctx, owner, func(ctx context.Context) ([]Turn, error) {
		return m.log.Recent(ctx, owner, m.opts.HydrateLimit)
	})
	if err != nil {
		return nil, fmt.Errorf("hydrate index: %w", err)
	}
	return m.opts.Index.Search(ctx, owner, query, m.opts.TopK, skip)
}

// Persist appends turn to its owner's log. It returns once the append is
// durable; consolidation passes run afterwards and never fail the call.
func (m *Manager) Persist(ctx context.Context, turn Turn) error {
	if strings.TrimSpace(turn.Answer) == "" {
		return ErrEmptyAnswer
	}
	if turn.RoleName == "" || turn.YouName == "" {
		return ErrNoOwner
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}

	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	if m.opts.RedactPII {
		var qChanged, aChanged bool
		turn.Query, qChanged = policy.RedactPII(turn.Query)
		turn.Answer, aChanged = policy.RedactPII(turn.Answer)
		turn.PIIRedacted = qChanged || aChanged
	}

	evicted, total, err := m.log.Append(ctx, turn, m.opts.Window)
	if err != nil {
		return fmt.Errorf("persist turn: %w", err)
	}
	if !m.hasPasses() {
		return nil
	}

	j := job{turn: turn, evicted: evicted, total: total}
	if m.opts.Inline {
		passCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.PassTimeout)
		defer cancel()
		m.consolidate(passCtx, j)
		return nil
	}

	select {
	case m.jobs <- j:
	default:
		m.opts.Metrics.ObserveQueueDrop()
		m.lg.Warn("consolidation queue full; dropping job",
			zap.String("owner", turn.Owner().String()),
			zap.String("turn_id", turn.ID),
		)
	}
	return nil
}

// Close drains queued consolidation jobs and closes the log.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.jobs != nil {
		close(m.jobs)
	}
	m.mu.Unlock()

	if m.done != nil {
		<-m.done
	}
	return m.log.Close()
}

func (m *Manager) worker() {
	defer close(m.done)
	for j := range m.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.PassTimeout)
		m.consolidate(ctx, j)
		cancel()
	}
}

// consolidate runs the enabled passes for one persisted turn. Summary and
// reflection are generated concurrently and written back in one update.
func (m *Manager) consolidate(ctx context.Context, j job) {
	m.consolidateMu.Lock()
	defer m.consolidateMu.Unlock()

	owner := j.turn.Owner()
	runSummary := m.opts.Summary && j.evicted != nil
	runReflection := m.opts.Reflection && j.total%m.opts.ReflectEvery == 0

	var rec LongTerm
	if runSummary || runReflection {
		var err error
		rec, err = m.log.LongTerm(ctx, owner)
		if err != nil {
			m.passFailed("long_term_read", owner, err)
			runSummary, runReflection = false, false
		}
	}

	var (
		g          errgroup.Group
		summary    string
		reflection string
		summaryOK  bool
		reflectOK  bool
	)
	if runSummary {
		g.Go(func() error {
			out, err := m.opts.Generator.Generate(ctx, m.opts.SummaryLLM, summaryPrompt, summaryQuery(rec.Summary, *j.evicted))
			if err != nil {
				m.passFailed("summary", owner, err)
				return nil
			}
			summary, summaryOK = strings.TrimSpace(out), true
			return nil
		})
	}
	if runReflection {
		g.Go(func() error {
			recent, err := m.log.Recent(ctx, owner, m.opts.Window)
			if err != nil {
				m.passFailed("reflection", owner, err)
				return nil
			}
			out, err := m.opts.Generator.Generate(ctx, m.opts.ReflectionLLM, reflectionPrompt, reflectionQuery(recent))
			if err != nil {
				m.passFailed("reflection", owner, err)
				return nil
			}
			reflection, reflectOK = strings.TrimSpace(out), true
			return nil
		})
	}
	if m.opts.Index != nil {
		g.Go(func() error {
			if err := m.opts.Index.Add(ctx, j.turn); err != nil {
				m.passFailed("long_memory", owner, err)
				return nil
			}
			m.opts.Metrics.ObserveMemoryPass("long_memory", "ok")
			return nil
		})
	}
	_ = g.Wait()

	if !summaryOK && !reflectOK {
		return
	}
	if summaryOK {
		rec.Summary = summary
		m.opts.Metrics.ObserveMemoryPass("summary", "ok")
	}
	if reflectOK {
		rec.Reflection = reflection
		m.opts.Metrics.ObserveMemoryPass("reflection", "ok")
	}
	rec.UpdatedAt = time.Now().UTC()
	if err := m.log.SaveLongTerm(ctx, owner, rec); err != nil {
		m.passFailed("long_term_write", owner, err)
	}
}

func (m *Manager) passFailed(pass string, owner Owner, err error) {
	m.opts.Metrics.ObserveMemoryPass(pass, "error")
	m.lg.Error("memory pass failed",
		zap.String("pass", pass),
		zap.String("owner", owner.String()),
		zap.Error(err),
	)
}
