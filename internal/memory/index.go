package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"golang.org/x/sync/singleflight"
)

// Index is the long-memory semantic index: one chromem collection per owner
// holding every persisted turn. The index lives in process memory; an owner's
// collection is rebuilt from the Log the first time it is searched.
type Index struct {
	db    *chromem.DB
	embed Embedder

	mu          sync.Mutex
	collections map[string]*chromem.Collection
	hydrated    map[string]bool
	hydrating   singleflight.Group
}

func NewIndex(embed Embedder) *Index {
	return &Index{
		db:          chromem.NewDB(),
		embed:       embed,
		collections: make(map[string]*chromem.Collection),
		hydrated:    make(map[string]bool),
	}
}

// Hydrate adds the turns returned by load to owner's collection once per
// Index. Concurrent callers for the same owner share one load. A failed load
// is retried on the next call.
func (x *Index) Hydrate(ctx context.Context, owner Owner, load func(context.Context) ([]Turn, error)) error {
	key := owner.Key()
	if x.isHydrated(key) {
		return nil
	}
	_, err, _ := x.hydrating.Do(key, func() (any, error) {
		if x.isHydrated(key) {
			return nil, nil
		}
		turns, err := load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load turns: %w", err)
		}
		// Document IDs are turn IDs, so turns already indexed are overwritten.
		for _, t := range turns {
			if err := x.Add(ctx, t); err != nil {
				return nil, err
			}
		}
		x.mu.Lock()
		x.hydrated[key] = true
		x.mu.Unlock()
		return nil, nil
	})
	return err
}

func (x *Index) isHydrated(key string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.hydrated[key]
}

func (x *Index) collection(owner Owner) (*chromem.Collection, error) {
	key := owner.Key()
	x.mu.Lock()
	defer x.mu.Unlock()
	if col, ok := x.collections[key]; ok {
		return col, nil
	}
	col, err := x.db.GetOrCreateCollection("turns:"+key, nil, x.embed.Embed)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	x.collections[key] = col
	return col, nil
}

// Add embeds turn into its owner's collection.
func (x *Index) Add(ctx context.Context, turn Turn) error {
	col, err := x.collection(turn.Owner())
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID:      turn.ID,
		Content: turn.Line(),
		Metadata: map[string]string{
			"role_name":    turn.RoleName,
			"you_name":     turn.YouName,
			"query":        turn.Query,
			"answer":       turn.Answer,
			"pii_redacted": strconv.FormatBool(turn.PIIRedacted),
			"created_at":   turn.CreatedAt.Format(time.RFC3339Nano),
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Search returns up to k turns of owner most similar to query, best match
// first. Turns whose IDs are in skip are left out.
func (x *Index) Search(ctx context.Context, owner Owner, query string, k int, skip map[string]bool) ([]Turn, error) {
	if k <= 0 {
		return nil, nil
	}
	col, err := x.collection(owner)
	if err != nil {
		return nil, err
	}
	// chromem requires nResults <= document count.
	n := min(k+len(skip), col.Count())
	if n == 0 {
		return nil, nil
	}
	vec, err := x.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := col.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	out := make([]Turn, 0, k)
	for _, r := range results {
		if skip[r.ID] {
			continue
		}
		t := Turn{
			ID:       r.ID,
			RoleName: r.Metadata["role_name"],
			YouName:  r.Metadata["you_name"],
			Query:    r.Metadata["query"],
			Answer:   r.Metadata["answer"],
		}
		t.PIIRedacted, _ = strconv.ParseBool(r.Metadata["pii_redacted"])
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, r.Metadata["created_at"])
		out = append(out, t)
		if len(out) == k {
			break
		}
	}
	return out, nil
}
