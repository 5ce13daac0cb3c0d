package rehearsal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/conorfennell/studyfrog/internal/domain"
	"github.com/conorfennell/studyfrog/internal/scheduler"
)

// Planner turns a learner's request into a persisted, ready-to-run session.
type Planner struct {
	store    Store
	params   *scheduler.Params
	log      *slog.Logger
	resolver *Resolver
	builder  *Builder
	now      func() time.Time
}

func NewPlanner(store Store, params *scheduler.Params, log *slog.Logger) *Planner {
	if log == nil {
		log = slog.Default()
	}
	return &Planner{
		store:    store,
		params:   params,
		log:      log,
		resolver: NewResolver(store, log),
		builder:  NewBuilder(store),
		now:      time.Now,
	}
}

// Select returns the contents a request would rehearse, before ordering.
// Explicitly listed items must exist and bypass the due filter; items found
// through stacks are filtered by due date unless IncludeNotDue is set.
func (p *Planner) Select(ctx context.Context, req Request) ([]domain.Content, error) {
	cfg := req.Configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	explicit := len(req.Items) > 0
	keys := req.Items
	if !explicit {
		resolved, err := p.resolver.Resolve(ctx, req.Stacks)
		if err != nil {
			return nil, err
		}
		keys = resolved
	}
	if len(keys) == 0 {
		return nil, nil
	}

	loaded, err := p.store.Contents(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to load contents: %w", err)
	}
	contents := make([]domain.Content, 0, len(keys))
	for _, key := range keys {
		c, ok := loaded[key]
		if !ok {
			if explicit {
				return nil, fmt.Errorf("item %s: %w", key, domain.ErrNotFound)
			}
			p.log.Warn("Stack item not found, skipping", "item", key)
			continue
		}
		contents = append(contents, c)
	}

	if !explicit && !cfg.IncludeNotDue {
		contents = FilterDue(contents, p.now(), DueOptions{SkipNotYetViewed: cfg.SkipNotYetViewed})
	}
	contents = FilterByDifficulty(contents, cfg.FilterByDifficulty)
	contents = FilterByPriority(contents, cfg.FilterByPriority)
	return contents, nil
}

// Plan selects, builds and persists a run and returns its session. Nothing
// is persisted when selection or building fails.
func (p *Planner) Plan(ctx context.Context, req Request) (*Session, error) {
	contents, err := p.Select(ctx, req)
	if err != nil {
		return nil, err
	}
	run, items, err := p.builder.BuildFrom(ctx, req, contents)
	if err != nil {
		return nil, err
	}

	run, items, err = p.store.CreateRun(ctx, run, items)
	if err != nil {
		return nil, fmt.Errorf("failed to save run: %w", err)
	}
	byKey := make(map[string]domain.Content, len(contents))
	for _, c := range contents {
		byKey[c.Key] = c
	}
	p.log.Info("Run planned", "run", run.Key, "stacks", run.Stacks, "items", len(items))
	return NewSession(p.store, p.params, p.log, run, items, byKey)
}
