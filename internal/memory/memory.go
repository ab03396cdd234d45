// Package memory provides long-term memory with similarity recall, backed
// by an embedded chromem-go vector collection.
package memory

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
)

// Dimensions of the local hashed embedding.
const Dimensions = 512

const collectionName = "memories"

// Memory is one recalled item.
type Memory struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Similarity float64   `json:"similarity"`
}

// Store remembers text and recalls it by similarity.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// Open opens a persistent store under dir, or an in-memory one when dir
// is empty.
func Open(dir string) (*Store, error) {
	var db *chromem.DB
	if dir != "" {
		var err error
		db, err = chromem.NewPersistentDB(filepath.Join(dir, "vectors"), false)
		if err != nil {
			return nil, fmt.Errorf("open memory db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	c, err := db.GetOrCreateCollection(collectionName, nil, Embed)
	if err != nil {
		return nil, fmt.Errorf("open memory collection: %w", err)
	}
	return &Store{db: db, collection: c}, nil
}

// Remember stores content and returns its id.
func (s *Store) Remember(ctx context.Context, content string, tags ...string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", errors.New("memory content is empty")
	}
	id := uuid.New().String()
	err := s.collection.AddDocument(ctx, chromem.Document{
		ID:      id,
		Content: content,
		Metadata: map[string]string{
			"tags":       strings.Join(tags, ","),
			"created_at": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return "", fmt.Errorf("add memory: %w", err)
	}
	return id, nil
}

// Recall returns up to limit memories with similarity of at least
// threshold, best first.
func (s *Store) Recall(ctx context.Context, query string, limit int, threshold float64) ([]Memory, error) {
	n := s.collection.Count()
	if n == 0 || limit <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit > n {
		limit = n
	}

	results, err := s.collection.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query memory: %w", err)
	}

	out := make([]Memory, 0, len(results))
	for _, r := range results {
		if float64(r.Similarity) < threshold {
			continue
		}
		m := Memory{ID: r.ID, Content: r.Content, Similarity: float64(r.Similarity)}
		if tags := r.Metadata["tags"]; tags != "" {
			m.Tags = strings.Split(tags, ",")
		}
		if ts, err := time.Parse(time.RFC3339, r.Metadata["created_at"]); err == nil {
			m.CreatedAt = ts
		}
		out = append(out, m)
	}
	return out, nil
}

// Count returns the number of stored memories.
func (s *Store) Count() int {
	return s.collection.Count()
}

// Embed is a local feature-hashing embedding: each lowercase word and
// adjacent word pair is hashed into a bucket, and the vector is
// L2-normalized. It needs no network and is deterministic.
func Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, Dimensions)
	words := tokenize(text)
	for i, w := range words {
		vec[bucket(w)]++
		if i > 0 {
			vec[bucket(words[i-1]+" "+w)] += 0.5
		}
	}
	if len(words) == 0 {
		vec[bucket(text)] = 1
	}

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func bucket(s string) int {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int(h.Sum32() % Dimensions)
}
