package rehearsal

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/conorfennell/studyfrog/internal/domain"
)

func newTestBuilder(store *memStore) *Builder {
	b := NewBuilder(store)
	b.now = func() time.Time { return t0 }
	return b
}

func TestBuildOrdering(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	keys := []string{"FC_1", "FC_2", "FC_3", "FC_4", "FC_5", "FC_6"}
	priorities := []string{"PRIORITY_1", "PRIORITY_5", "", "PRIORITY_3", "PRIORITY_5", "PRIORITY_1"}
	for i, k := range keys {
		c := card(k, nil)
		c.Priority = priorities[i]
		store.addCard(c)
	}

	t.Run("sequential keeps input order", func(t *testing.T) {
		run, items, err := newTestBuilder(store).Build(ctx, Request{Stacks: []string{"S"}, Items: keys})
		if err != nil {
			t.Fatalf("Build() returned an unexpected error: %v", err)
		}
		if !slices.Equal(run.Ordered(), keys) {
			t.Errorf("Expected %v, but got %v", keys, run.Ordered())
		}
		if len(items) != len(keys) {
			t.Fatalf("Expected %d items, but got %d", len(keys), len(items))
		}
		for i, item := range items {
			if item.Item != keys[i] || item.Order != i {
				t.Errorf("Expected item %d to be %s, but got %s at %d", i, keys[i], item.Item, item.Order)
			}
			if item.State() != domain.ItemPending || item.Result != "" || len(item.Actions) != 0 {
				t.Errorf("Expected a fresh pending item, but got %+v", item)
			}
		}
		if run.IsFinished || run.Persisted() {
			t.Error("Expected an unfinished, transient run")
		}
		if got := run.Configuration["ordering"]; got != "sequential" {
			t.Errorf("Expected stored ordering 'sequential', but got %v", got)
		}
	})

	t.Run("weighted by priority is stable", func(t *testing.T) {
		req := Request{Items: keys, Configuration: Configuration{Ordering: WeightedByPriority}}
		run, _, err := newTestBuilder(store).Build(ctx, req)
		if err != nil {
			t.Fatalf("Build() returned an unexpected error: %v", err)
		}
		want := []string{"FC_2", "FC_5", "FC_4", "FC_1", "FC_3", "FC_6"}
		if !slices.Equal(run.Ordered(), want) {
			t.Errorf("Expected %v, but got %v", want, run.Ordered())
		}
	})

	t.Run("shuffle is a seeded permutation", func(t *testing.T) {
		req := Request{Items: keys, Configuration: Configuration{Ordering: Shuffled, Seed: 42}}
		first, _, err := newTestBuilder(store).Build(ctx, req)
		if err != nil {
			t.Fatalf("Build() returned an unexpected error: %v", err)
		}
		second, _, _ := newTestBuilder(store).Build(ctx, req)
		if !slices.Equal(first.Ordered(), second.Ordered()) {
			t.Errorf("Expected the same seed to give the same order, but got %v and %v", first.Ordered(), second.Ordered())
		}
		sorted := slices.Sorted(slices.Values(first.Ordered()))
		if !slices.Equal(sorted, keys) {
			t.Errorf("Expected a permutation of %v, but got %v", keys, first.Ordered())
		}
	})

	t.Run("limit truncates after ordering", func(t *testing.T) {
		req := Request{Items: keys, Configuration: Configuration{Ordering: WeightedByPriority, Limit: 2}}
		run, items, err := newTestBuilder(store).Build(ctx, req)
		if err != nil {
			t.Fatalf("Build() returned an unexpected error: %v", err)
		}
		if !slices.Equal(run.Ordered(), []string{"FC_2", "FC_5"}) || len(items) != 2 {
			t.Errorf("Expected [FC_2 FC_5], but got %v", run.Ordered())
		}
	})
}

func TestBuildOrderIndicesAreUnique(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	keys := []string{"FC_1", "FC_2", "FC_1", "FC_3", "FC_2"}
	for _, k := range keys {
		store.addCard(card(k, nil))
	}
	for _, ordering := range []Ordering{Sequential, Shuffled, WeightedByPriority} {
		run, items, err := newTestBuilder(store).Build(ctx, Request{Items: keys, Configuration: Configuration{Ordering: ordering}})
		if err != nil {
			t.Fatalf("%s: Build() returned an unexpected error: %v", ordering, err)
		}
		seen := map[int]bool{}
		for _, idx := range run.Items {
			seen[idx] = true
		}
		if len(seen) != len(run.Items) || len(run.Items) != 3 || len(items) != 3 {
			t.Errorf("%s: Expected 3 unique order indices, but got %v", ordering, run.Items)
		}
	}
}

func TestBuildErrors(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.addCard(card("FC_1", nil))
	orphan := card("FC_2", nil)
	orphan.Priority = "PRIORITY_99"
	store.addCard(orphan)

	testCases := []struct {
		name string
		req  Request
		want error
	}{
		{name: "unknown ordering", req: Request{Items: []string{"FC_1"}, Configuration: Configuration{Ordering: "alphabetical"}}, want: ErrInvalidConfiguration},
		{name: "negative limit", req: Request{Items: []string{"FC_1"}, Configuration: Configuration{Limit: -1}}, want: ErrInvalidConfiguration},
		{name: "empty selection", req: Request{}, want: ErrInvalidConfiguration},
		{name: "missing item", req: Request{Items: []string{"FC_1", "FC_404"}}, want: domain.ErrNotFound},
		{name: "missing priority", req: Request{Items: []string{"FC_2"}, Configuration: Configuration{Ordering: WeightedByPriority}}, want: domain.ErrNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := newTestBuilder(store).Build(ctx, tc.req)
			if !errors.Is(err, tc.want) {
				t.Errorf("Expected %v, but got %v", tc.want, err)
			}
		})
	}

	if store.writes != 0 {
		t.Errorf("Expected the builder never to write, but saw %d writes", store.writes)
	}
}

func TestConfigurationMapRoundTrip(t *testing.T) {
	cfg := Configuration{Ordering: Shuffled, Limit: 10, Seed: 7, FilterByDifficulty: "DIFFICULTY_2", IncludeNotDue: true}
	m := cfg.Map()
	if m["item_order_randomization_enabled"] != true || m["filter_by_difficulty_enabled"] != true || m["filter_by_priority_enabled"] != false {
		t.Errorf("Expected the stored flags to mirror the configuration, but got %v", m)
	}

	// JSON decoding turns numbers into float64.
	m["limit"] = float64(10)
	m["seed"] = float64(7)
	got, err := ConfigurationFromMap(m)
	if err != nil {
		t.Fatalf("ConfigurationFromMap() returned an unexpected error: %v", err)
	}
	if got != cfg {
		t.Errorf("Expected %+v, but got %+v", cfg, got)
	}

	if _, err := ConfigurationFromMap(map[string]any{"ordering": "random"}); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("Expected ErrInvalidConfiguration, but got %v", err)
	}
}
