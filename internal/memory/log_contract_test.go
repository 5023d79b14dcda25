package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// runLogContract exercises the behaviour every Log backend must share.
func runLogContract(t *testing.T, newLog func(t *testing.T) Log) {
	t.Run("append evicts beyond window", func(t *testing.T) {
		l := newLog(t)
		ctx := context.Background()
		owner := Owner{RoleName: "Aili", YouName: "u-" + uuid.NewString()}

		var evictedIDs []string
		for i := 1; i <= 4; i++ {
			evicted, total, err := l.Append(ctx, testTurn(owner, i), 3)
			require.NoError(t, err)
			require.Equal(t, i, total)
			if evicted != nil {
				evictedIDs = append(evictedIDs, evicted.Query)
			}
		}
		require.Equal(t, []string{"q1"}, evictedIDs)

		recent, err := l.Recent(ctx, owner, 3)
		require.NoError(t, err)
		require.Equal(t, []string{"q2", "q3", "q4"}, queries(recent))
	})

	t.Run("concurrent appends for one owner", func(t *testing.T) {
		l := newLog(t)
		ctx := context.Background()
		owner := Owner{RoleName: "Aili", YouName: "c-" + uuid.NewString()}
		const n, window = 24, 5

		type result struct {
			total   int
			evicted bool
			err     error
		}
		results := make(chan result, n)
		var wg sync.WaitGroup
		for i := 1; i <= n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				evicted, total, err := l.Append(ctx, testTurn(owner, i), window)
				results <- result{total: total, evicted: evicted != nil, err: err}
			}(i)
		}
		wg.Wait()
		close(results)

		totals := make([]int, 0, n)
		evictions := 0
		for r := range results {
			require.NoError(t, r.err)
			totals = append(totals, r.total)
			if r.evicted {
				evictions++
			}
		}
		sort.Ints(totals)
		want := make([]int, 0, n)
		for i := 1; i <= n; i++ {
			want = append(want, i)
		}
		require.Equal(t, want, totals)
		require.Equal(t, n-window, evictions)

		recent, err := l.Recent(ctx, owner, window)
		require.NoError(t, err)
		require.Len(t, recent, window)
	})

	t.Run("owners are isolated", func(t *testing.T) {
		l := newLog(t)
		ctx := context.Background()
		a := Owner{RoleName: "Aili", YouName: "a-" + uuid.NewString()}
		b := Owner{RoleName: "Aili", YouName: "b-" + uuid.NewString()}

		_, _, err := l.Append(ctx, testTurn(a, 1), 5)
		require.NoError(t, err)

		recent, err := l.Recent(ctx, b, 5)
		require.NoError(t, err)
		require.Empty(t, recent)
	})

	t.Run("long term round trip", func(t *testing.T) {
		l := newLog(t)
		ctx := context.Background()
		owner := Owner{RoleName: "Aili", YouName: "lt-" + uuid.NewString()}

		rec, err := l.LongTerm(ctx, owner)
		require.NoError(t, err)
		require.True(t, rec.Empty())

		require.NoError(t, l.SaveLongTerm(ctx, owner, LongTerm{Summary: "喜欢猫"}))
		require.NoError(t, l.SaveLongTerm(ctx, owner, LongTerm{Summary: "喜欢猫和狗", Reflection: "最近很累"}))

		rec, err = l.LongTerm(ctx, owner)
		require.NoError(t, err)
		require.Equal(t, "喜欢猫和狗", rec.Summary)
		require.Equal(t, "最近很累", rec.Reflection)
	})
}

func TestInMemoryLogContract(t *testing.T) {
	runLogContract(t, func(t *testing.T) Log { return NewInMemoryLog() })
}

func TestSQLiteLogContract(t *testing.T) {
	runLogContract(t, func(t *testing.T) Log {
		l, err := NewSQLiteLog(context.Background(), filepath.Join(t.TempDir(), "memory.db"))
		require.NoError(t, err)
		t.Cleanup(func() { l.Close() })
		return l
	})
}

func TestPostgresLogContract(t *testing.T) {
	url := os.Getenv("AILI_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("AILI_TEST_DATABASE_URL not set")
	}
	runLogContract(t, func(t *testing.T) Log {
		l, err := NewPostgresLog(context.Background(), url)
		require.NoError(t, err)
		t.Cleanup(func() { l.Close() })
		return l
	})
}

func TestRedisLogContract(t *testing.T) {
	url := os.Getenv("AILI_TEST_REDIS_URL")
	if url == "" {
		t.Skip("AILI_TEST_REDIS_URL not set")
	}
	runLogContract(t, func(t *testing.T) Log {
		l, err := NewRedisLog(context.Background(), url)
		require.NoError(t, err)
		l.prefix = "aili:test:" + uuid.NewString() + ":"
		t.Cleanup(func() { l.Close() })
		return l
	})
}

func testTurn(owner Owner, i int) Turn {
	return Turn{
		ID:        uuid.NewString(),
		RoleName:  owner.RoleName,
		YouName:   owner.YouName,
		Query:     fmt.Sprintf("q%d", i),
		Answer:    fmt.Sprintf("a%d", i),
		CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
	}
}

func queries(turns []Turn) []string {
	out := make([]string, 0, len(turns))
	for _, t := range turns {
		out = append(out, t.Query)
	}
	return out
}
