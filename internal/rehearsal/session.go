package rehearsal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/conorfennell/studyfrog/internal/domain"
	"github.com/conorfennell/studyfrog/internal/scheduler"
)

// RunState is the lifecycle stage of a run.
type RunState int

const (
	NotStarted RunState = iota
	InProgress
	Finished
	Abandoned
)

func (s RunState) String() string {
	switch s {
	case NotStarted:
		return "NOT_STARTED"
	case InProgress:
		return "IN_PROGRESS"
	case Finished:
		return "FINISHED"
	case Abandoned:
		return "ABANDONED"
	}
	return "UNKNOWN"
}

// defaultWeight is used for content without a difficulty or priority.
const defaultWeight = 0.5

// Session drives a persisted run through its lifecycle. Every mutation is
// applied to copies first and only becomes visible once the store accepted
// it. Methods are safe for concurrent use; mutations are serialized.
type Session struct {
	mu     sync.Mutex
	store  Store
	params *scheduler.Params
	log    *slog.Logger
	now    func() time.Time

	run      domain.RehearsalRun
	items    []domain.RehearsalRunItem
	index    map[string]int
	contents map[string]domain.Content
	// ratings holds difficulty keys chosen during the run, applied on finish.
	ratings map[string]string
	cursor  int
}

// NewSession wraps a persisted run. contents must hold every item's content.
func NewSession(store Store, params *scheduler.Params, log *slog.Logger, run domain.RehearsalRun, items []domain.RehearsalRunItem, contents map[string]domain.Content) (*Session, error) {
	if !run.Persisted() {
		return nil, fmt.Errorf("%w: run has not been persisted", ErrInvalidTransition)
	}
	if params == nil {
		params = scheduler.DefaultParams()
	}
	if log == nil {
		log = slog.Default()
	}

	ordered := make([]domain.RehearsalRunItem, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		if item.Order < 0 || item.Order >= len(items) {
			return nil, fmt.Errorf("item %s has order %d outside the run", item.Item, item.Order)
		}
		if _, dup := index[item.Item]; dup {
			return nil, fmt.Errorf("item %s appears twice in run %s", item.Item, run.Key)
		}
		if _, ok := contents[item.Item]; !ok {
			return nil, fmt.Errorf("item %s: %w", item.Item, domain.ErrNotFound)
		}
		ordered[item.Order] = item.Clone()
		index[item.Item] = item.Order
	}

	return &Session{
		store:    store,
		params:   params,
		log:      log.With("run", run.Key),
		now:      time.Now,
		run:      run.Clone(),
		items:    ordered,
		index:    index,
		contents: contents,
		ratings:  make(map[string]string),
	}, nil
}

// Resume reloads an unfinished run, including difficulty ratings recorded
// before the interruption. A run whose items are all completed, left open
// by a failed finish, is finished before it is returned.
func Resume(ctx context.Context, store Store, loader RunLoader, params *scheduler.Params, log *slog.Logger, key string) (*Session, error) {
	run, err := loader.Run(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", key, err)
	}
	if run.IsFinished || run.AbandonedAt != nil {
		return nil, fmt.Errorf("%w: run %s is closed", ErrInvalidTransition, key)
	}
	items, err := loader.RunItems(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load items of run %s: %w", key, err)
	}
	keys := make([]string, len(items))
	for i, item := range items {
		keys[i] = item.Item
	}
	contents, err := store.Contents(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to load contents of run %s: %w", key, err)
	}

	s, err := NewSession(store, params, log, run, items, contents)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if len(item.Actions) == 0 {
			continue
		}
		actions, err := loader.Actions(ctx, item.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to load actions of %s: %w", item.Key, err)
		}
		for _, a := range actions {
			if d, ok := a.ActionData["difficulty"].(string); ok {
				s.ratings[item.Item] = d
			}
		}
	}
	for i, item := range s.items {
		if item.State() != domain.ItemCompleted {
			s.cursor = i
			break
		}
	}
	if len(s.items) > 0 && s.completedLocked() == len(s.items) {
		s.mu.Lock()
		err := s.finishLocked(ctx, false)
		s.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("failed to finish completed run %s: %w", key, err)
		}
	}
	return s, nil
}

// Run returns a copy of the run.
func (s *Session) Run() domain.RehearsalRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run.Clone()
}

// Items returns copies of the run items in presentation order.
func (s *Session) Items() []domain.RehearsalRunItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RehearsalRunItem, len(s.items))
	for i, item := range s.items {
		out[i] = item.Clone()
	}
	return out
}

// Content returns the snapshot of a run item's content.
func (s *Session) Content(key string) (domain.Content, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contents[key]
	return c.Clone(), ok
}

func (s *Session) State() RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() RunState {
	switch {
	case s.run.IsFinished:
		return Finished
	case s.run.AbandonedAt != nil:
		return Abandoned
	case s.run.StartedAt != nil:
		return InProgress
	}
	return NotStarted
}

// Position returns the cursor index and the number of items.
func (s *Session) Position() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, len(s.items)
}

// Current returns the item under the cursor and its content.
func (s *Session) Current() (domain.RehearsalRunItem, domain.Content) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.items[s.cursor]
	return item.Clone(), s.contents[item.Item].Clone()
}

// Next moves the cursor forward. It returns ErrEndOfRun on the last item.
func (s *Session) Next() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor >= len(s.items)-1 {
		return ErrEndOfRun
	}
	s.cursor++
	return nil
}

// Previous moves the cursor back. It returns ErrStartOfRun on the first item.
func (s *Session) Previous() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor == 0 {
		return ErrStartOfRun
	}
	s.cursor--
	return nil
}

// Start marks an item as visited. Only the first visit is recorded; starting
// an item again is a no-op. The run itself starts with its first item.
func (s *Session) Start(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.lookupLocked(key)
	if err != nil {
		return err
	}
	s.cursor = idx
	item := s.items[idx]
	if item.StartedAt != nil {
		s.log.Warn("Item already started, keeping first visit", "item", key)
		return nil
	}

	now := s.now()
	stagedItem := item.Clone()
	stagedItem.StartedAt = &now
	stagedItem.UpdatedAt = now
	stagedRun := s.run.Clone()
	if stagedRun.StartedAt == nil {
		stagedRun.StartedAt = &now
		stagedRun.UpdatedAt = now
	}

	if err := s.store.SaveProgress(ctx, stagedRun, stagedItem); err != nil {
		return fmt.Errorf("failed to start item %s: %w", key, err)
	}
	s.run = stagedRun
	s.items[idx] = stagedItem
	s.log.Debug("Item started", "item", key, "order", idx)
	return nil
}

// Record appends an action, such as flipping a card, to a started item.
func (s *Session) Record(ctx context.Context, key, message string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.lookupLocked(key)
	if err != nil {
		return err
	}
	if state := s.items[idx].State(); state != domain.ItemStarted {
		return fmt.Errorf("%w: cannot record on %s item %s", ErrInvalidTransition, state, key)
	}
	return s.recordLocked(ctx, idx, s.items[idx].Clone(), message, data)
}

// Rate sets the difficulty the learner felt for an item. The content's
// difficulty only changes when the run finishes.
func (s *Session) Rate(ctx context.Context, key, difficultyKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.lookupLocked(key)
	if err != nil {
		return err
	}
	if s.items[idx].State() == domain.ItemPending {
		return fmt.Errorf("%w: cannot rate pending item %s", ErrInvalidTransition, key)
	}
	d, err := s.store.Difficulty(ctx, difficultyKey)
	if err != nil {
		return fmt.Errorf("failed to rate item %s: %w", key, err)
	}

	data := map[string]any{"difficulty": d.Key, "name": d.Name}
	if err := s.recordLocked(ctx, idx, s.items[idx].Clone(), "Rated as "+d.DisplayName, data); err != nil {
		return err
	}
	s.ratings[key] = d.Key
	return nil
}

// Complete grades a started item. Completing the last open item finishes
// the run.
func (s *Session) Complete(ctx context.Context, key, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.lookupLocked(key)
	if err != nil {
		return err
	}
	item := s.items[idx]
	switch item.State() {
	case domain.ItemPending:
		return fmt.Errorf("%w: item %s was never started", ErrInvalidTransition, key)
	case domain.ItemCompleted:
		return fmt.Errorf("%w: item %s is already completed", ErrInvalidTransition, key)
	}
	grade, err := scheduler.ParseResult(result)
	if err != nil {
		return fmt.Errorf("failed to complete item %s: %w", key, err)
	}

	now := s.now()
	staged := item.Clone()
	staged.CompletedAt = &now
	staged.Result = result
	data := map[string]any{
		"result":          result,
		"grade":           grade.String(),
		"elapsed_seconds": now.Sub(*item.StartedAt).Seconds(),
	}
	if err := s.recordLocked(ctx, idx, staged, "Completed with result "+result, data); err != nil {
		return err
	}

	for _, it := range s.items {
		if it.State() != domain.ItemCompleted {
			return nil
		}
	}
	if err := s.finishLocked(ctx, false); err != nil {
		return fmt.Errorf("item %s completed but the run did not finish: %w", key, err)
	}
	return nil
}

// Finish closes the run and reschedules every completed item. Unless force
// is set, all items must be completed. Finishing a finished run is a no-op.
func (s *Session) Finish(ctx context.Context, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.stateLocked() {
	case Finished:
		s.log.Debug("Run already finished")
		return nil
	case Abandoned:
		return fmt.Errorf("%w: run %s was abandoned", ErrInvalidTransition, s.run.Key)
	}
	return s.finishLocked(ctx, force)
}

// Abandon closes the run without touching any content's schedule. It can be
// called in any state except Finished and is idempotent.
func (s *Session) Abandon(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.stateLocked() {
	case Abandoned:
		return nil
	case Finished:
		return fmt.Errorf("%w: run %s is already finished", ErrInvalidTransition, s.run.Key)
	}

	now := s.now()
	staged := s.run.Clone()
	staged.AbandonedAt = &now
	staged.UpdatedAt = now
	staged.Duration = duration(staged.StartedAt, now)
	if err := s.store.CloseRun(ctx, staged, nil); err != nil {
		return fmt.Errorf("failed to abandon run %s: %w", s.run.Key, err)
	}
	s.run = staged
	s.log.Info("Run abandoned", "completed", s.completedLocked(), "items", len(s.items))
	return nil
}

func (s *Session) finishLocked(ctx context.Context, force bool) error {
	if open := len(s.items) - s.completedLocked(); open > 0 && !force {
		return fmt.Errorf("%w: %d items are not completed", ErrInvalidTransition, open)
	}

	now := s.now()
	staged := s.run.Clone()
	staged.CompletedAt = &now
	staged.IsFinished = true
	staged.UpdatedAt = now
	staged.Duration = duration(staged.StartedAt, now)

	difficulties := make(map[string]float64)
	priorities := make(map[string]float64)
	var updated []domain.Content
	for _, item := range s.items {
		if item.State() != domain.ItemCompleted {
			continue
		}
		c := s.contents[item.Item]
		if rating, ok := s.ratings[item.Item]; ok && rating != c.Difficulty {
			c = c.WithDifficulty(rating, now)
		}
		grade, err := scheduler.ParseResult(item.Result)
		if err != nil {
			return fmt.Errorf("failed to reschedule %s: %w", item.Item, err)
		}
		d, err := s.weight(ctx, c.Difficulty, difficulties, s.difficultyValue)
		if err != nil {
			return err
		}
		p, err := s.weight(ctx, c.Priority, priorities, s.priorityValue)
		if err != nil {
			return err
		}

		next := s.params.NextViewOn(c, grade, d, p, *item.CompletedAt)
		if !next.After(domain.DateOf(now)) {
			next = domain.DateOf(now).AddDate(0, 0, 1)
		}
		updated = append(updated, c.WithViewed(*item.CompletedAt, next))
	}

	if err := s.store.CloseRun(ctx, staged, updated); err != nil {
		return fmt.Errorf("failed to finish run %s: %w", s.run.Key, err)
	}
	s.run = staged
	for _, c := range updated {
		s.contents[c.Key] = c
	}
	s.log.Info("Run finished", "rescheduled", len(updated), "items", len(s.items), "seconds", staged.Duration["seconds"])
	return nil
}

// weight resolves a difficulty or priority value, caching per key. Unknown
// keys fall back to defaultWeight so a deleted catalog entry cannot block
// finishing a run.
func (s *Session) weight(ctx context.Context, key string, cache map[string]float64, lookup func(context.Context, string) (float64, error)) (float64, error) {
	if key == "" {
		return defaultWeight, nil
	}
	if v, ok := cache[key]; ok {
		return v, nil
	}
	v, err := lookup(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return 0, err
		}
		s.log.Warn("Unknown weight key, using default", "key", key)
		v = defaultWeight
	}
	cache[key] = v
	return v, nil
}

func (s *Session) difficultyValue(ctx context.Context, key string) (float64, error) {
	d, err := s.store.Difficulty(ctx, key)
	if err != nil {
		return 0, err
	}
	return d.Value, nil
}

func (s *Session) priorityValue(ctx context.Context, key string) (float64, error) {
	p, err := s.store.Priority(ctx, key)
	if err != nil {
		return 0, err
	}
	return p.Value, nil
}

func (s *Session) recordLocked(ctx context.Context, idx int, staged domain.RehearsalRunItem, message string, data map[string]any) error {
	now := s.now()
	action := domain.NewRehearsalAction(message, data, now)
	action.Run = s.run.Key
	action.RunItem = staged.Key
	staged.UpdatedAt = now

	saved, _, err := s.store.RecordAction(ctx, staged, action)
	if err != nil {
		return fmt.Errorf("failed to record action on %s: %w", staged.Item, err)
	}
	s.items[idx] = saved
	return nil
}

func (s *Session) lookupLocked(key string) (int, error) {
	if state := s.stateLocked(); state == Finished || state == Abandoned {
		return 0, fmt.Errorf("%w: run %s is %s", ErrInvalidTransition, s.run.Key, state)
	}
	idx, ok := s.index[key]
	if !ok {
		return 0, fmt.Errorf("item %s is not part of run %s: %w", key, s.run.Key, domain.ErrNotFound)
	}
	return idx, nil
}

func (s *Session) completedLocked() int {
	n := 0
	for _, item := range s.items {
		if item.State() == domain.ItemCompleted {
			n++
		}
	}
	return n
}

func duration(start *time.Time, end time.Time) map[string]float64 {
	if start == nil {
		return map[string]float64{"minutes": 0, "seconds": 0}
	}
	seconds := end.Sub(*start).Seconds()
	return map[string]float64{
		"minutes": math.Floor(seconds / 60),
		"seconds": seconds,
	}
}
