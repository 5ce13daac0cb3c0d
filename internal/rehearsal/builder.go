package rehearsal

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/conorfennell/studyfrog/internal/domain"
)

// Request describes the run a learner asked for. When Items is empty the
// items come from resolving Stacks.
type Request struct {
	Stacks        []string
	Items         []string
	Configuration Configuration
	Author        string
	ScheduledAt   *time.Time
}

// Builder assembles transient runs. It never persists anything.
type Builder struct {
	store Store
	now   func() time.Time
	rng   *rand.Rand
}

func NewBuilder(store Store) *Builder {
	return &Builder{
		store: store,
		now:   time.Now,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Build loads req.Items in one batch and builds a run from them.
func (b *Builder) Build(ctx context.Context, req Request) (domain.RehearsalRun, []domain.RehearsalRunItem, error) {
	if len(req.Items) == 0 {
		return domain.RehearsalRun{}, nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, ErrNoItems)
	}
	loaded, err := b.store.Contents(ctx, req.Items)
	if err != nil {
		return domain.RehearsalRun{}, nil, fmt.Errorf("failed to load run items: %w", err)
	}
	contents := make([]domain.Content, 0, len(req.Items))
	for _, key := range req.Items {
		c, ok := loaded[key]
		if !ok {
			return domain.RehearsalRun{}, nil, fmt.Errorf("item %s: %w", key, domain.ErrNotFound)
		}
		contents = append(contents, c)
	}
	return b.BuildFrom(ctx, req, contents)
}

// BuildFrom builds a run from already-loaded contents, in the given order
// before the configured ordering is applied.
func (b *Builder) BuildFrom(ctx context.Context, req Request, contents []domain.Content) (domain.RehearsalRun, []domain.RehearsalRunItem, error) {
	cfg := req.Configuration
	if err := cfg.Validate(); err != nil {
		return domain.RehearsalRun{}, nil, err
	}
	if len(contents) == 0 {
		return domain.RehearsalRun{}, nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, ErrNoItems)
	}

	ordered, err := b.order(ctx, cfg, dedupe(contents))
	if err != nil {
		return domain.RehearsalRun{}, nil, err
	}
	if cfg.Limit > 0 && len(ordered) > cfg.Limit {
		ordered = ordered[:cfg.Limit]
	}

	now := b.now()
	run := domain.NewRehearsalRun(req.Stacks, cfg.Map(), now)
	run.Author = req.Author
	if req.ScheduledAt != nil {
		at := *req.ScheduledAt
		run.ScheduledAt = &at
	}

	items := make([]domain.RehearsalRunItem, len(ordered))
	for i, c := range ordered {
		run.Items[c.Key] = i
		items[i] = domain.NewRehearsalRunItem(c.Key, i, now)
	}
	return run, items, nil
}

func (b *Builder) order(ctx context.Context, cfg Configuration, contents []domain.Content) ([]domain.Content, error) {
	out := append([]domain.Content(nil), contents...)
	switch cfg.ordering() {
	case Sequential:
		return out, nil
	case Shuffled:
		rng := b.rng
		if cfg.Seed != 0 {
			rng = rand.New(rand.NewSource(cfg.Seed))
		}
		rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		return out, nil
	case WeightedByPriority:
		weights := make(map[string]float64)
		for _, c := range out {
			if c.Priority == "" {
				continue
			}
			if _, ok := weights[c.Priority]; ok {
				continue
			}
			p, err := b.store.Priority(ctx, c.Priority)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return nil, fmt.Errorf("priority %s of %s: %w", c.Priority, c.Key, err)
				}
				return nil, fmt.Errorf("failed to load priority %s: %w", c.Priority, err)
			}
			weights[c.Priority] = p.Value
		}
		sort.SliceStable(out, func(i, j int) bool {
			return weights[out[i].Priority] > weights[out[j].Priority]
		})
		return out, nil
	}
	return nil, fmt.Errorf("%w: unknown ordering %q", ErrInvalidConfiguration, cfg.Ordering)
}

func dedupe(contents []domain.Content) []domain.Content {
	seen := make(map[string]bool, len(contents))
	out := make([]domain.Content, 0, len(contents))
	for _, c := range contents {
		if seen[c.Key] {
			continue
		}
		seen[c.Key] = true
		out = append(out, c)
	}
	return out
}
