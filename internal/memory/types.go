// Package memory keeps per-(role, user) conversational memory: a bounded
// window of recent turns plus a consolidated long-term record.
package memory

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Owner identifies whose memory a turn belongs to.
type Owner struct {
	RoleName string `json:"role_name"`
	YouName  string `json:"you_name"`
}

// Key is a stable storage key for the owner pair.
func (o Owner) Key() string {
	return url.PathEscape(o.RoleName) + "/" + url.PathEscape(o.YouName)
}

func (o Owner) String() string { return o.RoleName + "↔" + o.YouName }

// Turn is one query/answer exchange. It is immutable once persisted.
type Turn struct {
	ID          string    `json:"id"`
	RoleName    string    `json:"role_name"`
	YouName     string    `json:"you_name"`
	Query       string    `json:"query"`
	Answer      string    `json:"answer"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

func (t Turn) Owner() Owner { return Owner{RoleName: t.RoleName, YouName: t.YouName} }

// Line renders the turn as prompt text.
func (t Turn) Line() string {
	return fmt.Sprintf("%s说%s\n%s说%s", t.YouName, t.Query, t.RoleName, t.Answer)
}

// History is what Retrieve hands to the prompt composer. Short is ordered
// oldest first and never nil.
type History struct {
	Short []Turn
	Long  string
}

// ShortLines renders the short window one turn per element.
func (h History) ShortLines() []string {
	out := make([]string, 0, len(h.Short))
	for _, t := range h.Short {
		out = append(out, t.Line())
	}
	return out
}

// LongTerm is the consolidated record kept per owner.
type LongTerm struct {
	Summary    string    `json:"summary"`
	Reflection string    `json:"reflection"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (l LongTerm) Empty() bool {
	return strings.TrimSpace(l.Summary) == "" && strings.TrimSpace(l.Reflection) == ""
}

// Store is the memory contract the dialogue layer depends on.
type Store interface {
	Retrieve(ctx context.Context, query string, owner Owner) (History, error)
	Persist(ctx context.Context, turn Turn) error
	Close() error
}

// Log is the persisted representation: an append-only turn log per owner and
// one long-term record per owner.
type Log interface {
	// Append stores turn atomically for its owner. When the owner's log grows
	// past window it returns the turn that just left the window. total is the
	// owner's turn count after the append.
	Append(ctx context.Context, turn Turn, window int) (evicted *Turn, total int, err error)
	// Recent returns up to limit most recent turns, oldest first.
	Recent(ctx context.Context, owner Owner, limit int) ([]Turn, error)
	LongTerm(ctx context.Context, owner Owner) (LongTerm, error)
	SaveLongTerm(ctx context.Context, owner Owner, record LongTerm) error
	Close() error
}

// Generator runs a one-off completion on a named backend. The consolidation
// passes use it to summarize and reflect.
type Generator interface {
	Generate(ctx context.Context, backend, prompt, query string) (string, error)
}

var (
	ErrClosed      = errors.New("memory store closed")
	ErrEmptyAnswer = errors.New("turn has empty answer")
	ErrNoOwner     = errors.New("turn has no owner")
)
