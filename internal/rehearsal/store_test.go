package rehearsal

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/conorfennell/studyfrog/internal/domain"
)

// memStore is an in-memory Store for tests. failNext makes the next write
// fail once.
type memStore struct {
	stacks       map[string]domain.Stack
	contents     map[string]domain.Content
	difficulties map[string]domain.Difficulty
	priorities   map[string]domain.Priority

	runs    map[string]domain.RehearsalRun
	items   map[string]domain.RehearsalRunItem
	actions map[string]domain.RehearsalAction
	counter int64

	failNext      error
	contentsCalls int
	writes        int
}

func newMemStore() *memStore {
	s := &memStore{
		stacks:       map[string]domain.Stack{},
		contents:     map[string]domain.Content{},
		difficulties: map[string]domain.Difficulty{},
		priorities:   map[string]domain.Priority{},
		runs:         map[string]domain.RehearsalRun{},
		items:        map[string]domain.RehearsalRunItem{},
		actions:      map[string]domain.RehearsalAction{},
	}
	for i, d := range domain.DefaultDifficulties() {
		d.Key = domain.FormatKey(domain.KindDifficulty, int64(i+1))
		s.difficulties[d.Key] = d
	}
	for i, p := range domain.DefaultPriorities() {
		p.Key = domain.FormatKey(domain.KindPriority, int64(i+1))
		s.priorities[p.Key] = p
	}
	return s
}

func (s *memStore) addStack(key string, children []string, items ...string) {
	s.stacks[key] = domain.Stack{Identity: domain.Identity{Key: key}, Name: key, Children: children, Items: items}
}

func (s *memStore) addCard(c domain.Content) {
	s.contents[c.Key] = c
}

func (s *memStore) Stack(_ context.Context, key string) (domain.Stack, error) {
	st, ok := s.stacks[key]
	if !ok {
		return domain.Stack{}, fmt.Errorf("stack %s: %w", key, domain.ErrNotFound)
	}
	return st.Clone(), nil
}

func (s *memStore) Contents(_ context.Context, keys []string) (map[string]domain.Content, error) {
	s.contentsCalls++
	out := make(map[string]domain.Content, len(keys))
	for _, k := range keys {
		if c, ok := s.contents[k]; ok {
			out[k] = c.Clone()
		}
	}
	return out, nil
}

func (s *memStore) Difficulty(_ context.Context, key string) (domain.Difficulty, error) {
	d, ok := s.difficulties[key]
	if !ok {
		return domain.Difficulty{}, fmt.Errorf("difficulty %s: %w", key, domain.ErrNotFound)
	}
	return d, nil
}

func (s *memStore) Priority(_ context.Context, key string) (domain.Priority, error) {
	p, ok := s.priorities[key]
	if !ok {
		return domain.Priority{}, fmt.Errorf("priority %s: %w", key, domain.ErrNotFound)
	}
	return p, nil
}

func (s *memStore) fail() error {
	s.writes++
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	return nil
}

func (s *memStore) CreateRun(_ context.Context, run domain.RehearsalRun, items []domain.RehearsalRunItem) (domain.RehearsalRun, []domain.RehearsalRunItem, error) {
	if err := s.fail(); err != nil {
		return run, items, err
	}
	s.counter++
	run.ID = s.counter
	run.Key = domain.FormatKey(domain.KindRehearsalRun, s.counter)
	s.runs[run.Key] = run.Clone()
	out := make([]domain.RehearsalRunItem, len(items))
	for i, item := range items {
		s.counter++
		item.ID = s.counter
		item.Key = domain.FormatKey(domain.KindRehearsalItem, s.counter)
		item.Run = run.Key
		s.items[item.Key] = item.Clone()
		out[i] = item
	}
	return run, out, nil
}

func (s *memStore) SaveProgress(_ context.Context, run domain.RehearsalRun, item domain.RehearsalRunItem) error {
	if err := s.fail(); err != nil {
		return err
	}
	s.runs[run.Key] = run.Clone()
	s.items[item.Key] = item.Clone()
	return nil
}

func (s *memStore) RecordAction(_ context.Context, item domain.RehearsalRunItem, action domain.RehearsalAction) (domain.RehearsalRunItem, domain.RehearsalAction, error) {
	if err := s.fail(); err != nil {
		return item, action, err
	}
	s.counter++
	action.ID = s.counter
	action.Key = domain.FormatKey(domain.KindRehearsalAction, s.counter)
	s.actions[action.Key] = action
	item = item.Clone()
	item.Actions = append(item.Actions, action.Key)
	s.items[item.Key] = item.Clone()
	return item, action, nil
}

func (s *memStore) CloseRun(_ context.Context, run domain.RehearsalRun, contents []domain.Content) error {
	if err := s.fail(); err != nil {
		return err
	}
	s.runs[run.Key] = run.Clone()
	for _, c := range contents {
		s.contents[c.Key] = c.Clone()
	}
	return nil
}

func (s *memStore) Run(_ context.Context, key string) (domain.RehearsalRun, error) {
	r, ok := s.runs[key]
	if !ok {
		return domain.RehearsalRun{}, fmt.Errorf("run %s: %w", key, domain.ErrNotFound)
	}
	return r.Clone(), nil
}

func (s *memStore) RunItems(_ context.Context, runKey string) ([]domain.RehearsalRunItem, error) {
	var out []domain.RehearsalRunItem
	for _, item := range s.items {
		if item.Run == runKey {
			out = append(out, item.Clone())
		}
	}
	slices.SortFunc(out, func(a, b domain.RehearsalRunItem) int { return a.Order - b.Order })
	return out, nil
}

func (s *memStore) Actions(_ context.Context, runItemKey string) ([]domain.RehearsalAction, error) {
	item, ok := s.items[runItemKey]
	if !ok {
		return nil, fmt.Errorf("run item %s: %w", runItemKey, domain.ErrNotFound)
	}
	var out []domain.RehearsalAction
	for _, k := range item.Actions {
		out = append(out, s.actions[k])
	}
	return out, nil
}

var errDiskFull = errors.New("disk full")
