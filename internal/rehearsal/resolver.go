package rehearsal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/conorfennell/studyfrog/internal/domain"
)

// Resolver flattens stack trees into the content keys they contain.
type Resolver struct {
	store Store
	log   *slog.Logger
}

func NewResolver(store Store, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{store: store, log: log}
}

// Resolve walks each root and its descendants breadth-first and returns every
// item key once, in first-discovered order. Stacks that cannot be found are
// skipped with a warning. A visited set keeps malformed cycles from looping.
func (r *Resolver) Resolve(ctx context.Context, roots []string) ([]string, error) {
	visited := make(map[string]bool)
	seen := make(map[string]bool)
	var keys []string

	queue := append([]string(nil), roots...)
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		if visited[key] {
			continue
		}
		visited[key] = true

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stack, err := r.store.Stack(ctx, key)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				r.log.Warn("Stack not found, skipping", "stack", key)
				continue
			}
			return nil, fmt.Errorf("failed to resolve stack %s: %w", key, err)
		}

		for _, item := range stack.Items {
			if seen[item] {
				continue
			}
			seen[item] = true
			keys = append(keys, item)
		}
		for _, child := range stack.Children {
			if !visited[child] {
				queue = append(queue, child)
			}
		}
	}
	return keys, nil
}
