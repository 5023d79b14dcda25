package memory

import (
	"context"
	"math"
	"sync/atomic"
	"testing"
)

func TestHashEmbedderIsDeterministicAndNormalized(t *testing.T) {
	e := NewHashEmbedder(64)
	a, err := e.Embed(context.Background(), "我喜欢猫")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	b, _ := e.Embed(context.Background(), "我喜欢猫")
	var norm float64
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Embed() not deterministic at %d", i)
		}
		norm += float64(a[i]) * float64(a[i])
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Fatalf("norm = %f, want 1", norm)
	}

	empty, _ := e.Embed(context.Background(), "   ")
	if empty[0] != 1 {
		t.Fatalf("empty text embedding = %v, want unit vector", empty[:4])
	}
}

type countingEmbedder struct {
	calls atomic.Int32
}

func (c *countingEmbedder) Name() string { return "counting" }

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return NewHashEmbedder(8).Embed(ctx, text)
}

func TestCachedEmbedderReusesVectors(t *testing.T) {
	inner := &countingEmbedder{}
	e, err := NewCachedEmbedder(inner, 16)
	if err != nil {
		t.Fatalf("NewCachedEmbedder() error = %v", err)
	}
	defer e.Close()

	if _, err := e.Embed(context.Background(), "你好"); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	e.Wait()
	if _, err := e.Embed(context.Background(), "你好"); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if got := inner.calls.Load(); got != 1 {
		t.Fatalf("inner calls = %d, want 1", got)
	}
	if e.Name() != "counting+cache" {
		t.Fatalf("Name() = %q", e.Name())
	}
}
