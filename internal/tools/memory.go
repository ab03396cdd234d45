package tools

import (
	"context"
	"errors"
	"strings"

	"github.com/fentz26/cadence/internal/memory"
)

// Memory is the long-term memory used by the memory tools.
type Memory interface {
	Remember(ctx context.Context, content string, tags ...string) (string, error)
	Recall(ctx context.Context, query string, limit int, threshold float64) ([]memory.Memory, error)
}

// MemoryStore saves a note to long-term memory.
type MemoryStore struct {
	mem Memory
}

func NewMemoryStore(mem Memory) *MemoryStore { return &MemoryStore{mem: mem} }

func (t *MemoryStore) Name() string { return "memory_store" }

func (t *MemoryStore) Description() string {
	return "Save a fact or summary to long-term memory so it can be recalled later."
}

func (t *MemoryStore) Args() string { return `{"content": "text to remember", "tags": "optional,comma,list"}` }

func (t *MemoryStore) Execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	content := StringArg(args, "content")
	if content == "" {
		return nil, errors.New("content is required")
	}
	id, err := t.mem.Remember(ctx, content, tagsArg(args["tags"])...)
	if err != nil {
		return nil, err
	}
	return map[string]any{"stored": true, "id": id}, nil
}

func tagsArg(v any) []string {
	var tags []string
	switch x := v.(type) {
	case string:
		for _, t := range strings.Split(x, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	case []any:
		for _, t := range x {
			if s, ok := t.(string); ok && strings.TrimSpace(s) != "" {
				tags = append(tags, strings.TrimSpace(s))
			}
		}
	}
	return tags
}

// MemoryRecall searches long-term memory.
type MemoryRecall struct {
	mem Memory
}

func NewMemoryRecall(mem Memory) *MemoryRecall { return &MemoryRecall{mem: mem} }

func (t *MemoryRecall) Name() string { return "memory_recall" }

func (t *MemoryRecall) Description() string {
	return "Search long-term memory for notes related to a query."
}

func (t *MemoryRecall) Args() string { return `{"query": "what to look for", "limit": 5}` }

func (t *MemoryRecall) Execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	query := StringArg(args, "query")
	if query == "" {
		return nil, errors.New("query is required")
	}
	found, err := t.mem.Recall(ctx, query, IntArg(args, "limit", 5), 0.2)
	if err != nil {
		return nil, err
	}
	items := make([]string, len(found))
	for i, m := range found {
		items[i] = m.Content
	}
	return map[string]any{"memories": items, "count": len(items)}, nil
}
