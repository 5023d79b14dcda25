package memory

import (
	"context"
	"sync"
)

// InMemoryLog keeps turns in process memory for local/dev use.
type InMemoryLog struct {
	mu       sync.RWMutex
	turns    map[string][]Turn
	longTerm map[string]LongTerm
}

func NewInMemoryLog() *InMemoryLog {
	return &InMemoryLog{
		turns:    make(map[string][]Turn),
		longTerm: make(map[string]LongTerm),
	}
}

func (l *InMemoryLog) Append(_ context.Context, turn Turn, window int) (*Turn, int, error) {
	key := turn.Owner().Key()

	l.mu.Lock()
	defer l.mu.Unlock()
	arr := append(l.turns[key], turn)
	l.turns[key] = arr

	total := len(arr)
	if window > 0 && total > window {
		evicted := arr[total-window-1]
		return &evicted, total, nil
	}
	return nil, total, nil
}

func (l *InMemoryLog) Recent(_ context.Context, owner Owner, limit int) ([]Turn, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	arr := l.turns[owner.Key()]
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Turn, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (l *InMemoryLog) LongTerm(_ context.Context, owner Owner) (LongTerm, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.longTerm[owner.Key()], nil
}

func (l *InMemoryLog) SaveLongTerm(_ context.Context, owner Owner, record LongTerm) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.longTerm[owner.Key()] = record
	return nil
}

func (l *InMemoryLog) Close() error { return nil }
