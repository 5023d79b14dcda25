// Package persona supplies the system prompt template for each character.
// Templates keep four runtime placeholders that the dialogue layer fills
// per turn: {input}, {you_name}, {short_history} and {long_history}.
package persona

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Placeholders understood by the dialogue layer.
const (
	PlaceholderInput        = "{input}"
	PlaceholderYouName      = "{you_name}"
	PlaceholderShortHistory = "{short_history}"
	PlaceholderLongHistory  = "{long_history}"
)

// Source resolves a role name to its prompt template.
type Source interface {
	Prompt(ctx context.Context, roleName string) (string, error)
}

// NotFoundError reports an unknown role.
type NotFoundError struct {
	RoleName string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("persona %q not found", e.RoleName)
}

// Role describes one character. Template, when set, is used verbatim;
// otherwise the prompt is rendered from the descriptive fields.
type Role struct {
	Name        string   `yaml:"name"`
	Persona     string   `yaml:"persona"`
	Personality string   `yaml:"personality"`
	Scenario    string   `yaml:"scenario"`
	Examples    []string `yaml:"examples"`
	Template    string   `yaml:"template"`
}

// Catalog is an in-memory Source.
type Catalog struct {
	mu      sync.RWMutex
	prompts map[string]string
}

func NewCatalog(roles ...Role) (*Catalog, error) {
	c := &Catalog{prompts: make(map[string]string)}
	for _, r := range roles {
		if err := c.Register(r); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register adds or replaces a role.
func (c *Catalog) Register(r Role) error {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return fmt.Errorf("persona without name")
	}
	prompt := strings.TrimSpace(r.Template)
	if prompt == "" {
		prompt = render(r)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts[name] = prompt
	return nil
}

func (c *Catalog) Prompt(ctx context.Context, roleName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prompts[strings.TrimSpace(roleName)]
	if !ok {
		return "", &NotFoundError{RoleName: roleName}
	}
	return p, nil
}

// Names lists registered roles in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.prompts))
	for name := range c.prompts {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func render(r Role) string {
	var b strings.Builder
	fmt.Fprintf(&b, "你现在是%s，正在和%s聊天。\n", r.Name, PlaceholderYouName)
	if s := strings.TrimSpace(r.Persona); s != "" {
		fmt.Fprintf(&b, "\n人物设定：\n%s\n", s)
	}
	if s := strings.TrimSpace(r.Personality); s != "" {
		fmt.Fprintf(&b, "\n性格特点：\n%s\n", s)
	}
	if s := strings.TrimSpace(r.Scenario); s != "" {
		fmt.Fprintf(&b, "\n场景：\n%s\n", s)
	}
	if len(r.Examples) > 0 {
		b.WriteString("\n对话示例：\n")
		for _, ex := range r.Examples {
			b.WriteString(strings.TrimSpace(ex))
			b.WriteString("\n")
		}
	}
	fmt.Fprintf(&b, "\n长期记忆：\n%s\n", PlaceholderLongHistory)
	fmt.Fprintf(&b, "\n最近的对话：\n%s\n", PlaceholderShortHistory)
	fmt.Fprintf(&b, "\n请以%s的身份，用简短自然的口语回复%s说的话：%s", r.Name, PlaceholderYouName, PlaceholderInput)
	return b.String()
}
