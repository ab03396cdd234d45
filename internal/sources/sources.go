// Package sources defines the task sources polled by the scheduler and the
// registry that picks one task per tick.
package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fentz26/cadence/internal/models"
)

// Env is what a source sees when it is polled.
type Env struct {
	Now        time.Time
	Tick       int
	IdleCycles int
	States     map[string]models.TaskState
}

// Source offers at most one task per poll. Peek must not mutate external
// state; transitions belong in the task's OnStart and OnComplete hooks.
type Source interface {
	Name() string
	Peek(ctx context.Context, env Env) (*models.Task, error)
}

// Registry polls sources in registration order.
type Registry struct {
	sources []Source
}

// NewRegistry creates a registry; the first source has the highest priority.
func NewRegistry(sources ...Source) *Registry {
	return &Registry{sources: sources}
}

// Add appends a source with the lowest priority so far.
func (r *Registry) Add(s Source) {
	r.sources = append(r.sources, s)
}

// Names lists the registered sources in priority order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.sources))
	for i, s := range r.sources {
		names[i] = s.Name()
	}
	return names
}

// Poll returns the first task offered. A failing source is skipped so the
// sources below it still get a chance; its error is returned alongside
// whatever task was found.
func (r *Registry) Poll(ctx context.Context, env Env) (*models.Task, error) {
	var errs []error
	for _, s := range r.sources {
		task, err := s.Peek(ctx, env)
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", s.Name(), err))
			continue
		}
		if task != nil {
			if task.Source == "" {
				task.Source = s.Name()
			}
			return task, errors.Join(errs...)
		}
	}
	return nil, errors.Join(errs...)
}
