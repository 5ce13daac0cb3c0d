package rehearsal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/conorfennell/studyfrog/internal/domain"
	"github.com/conorfennell/studyfrog/internal/scheduler"
)

// clock returns increasing timestamps one minute apart, starting at start.
func clock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
}

func newTestSession(t *testing.T, store *memStore, keys ...string) *Session {
	t.Helper()
	ctx := context.Background()
	run, items, err := newTestBuilder(store).Build(ctx, Request{Stacks: []string{"S"}, Items: keys})
	if err != nil {
		t.Fatalf("Build() returned an unexpected error: %v", err)
	}
	run, items, err = store.CreateRun(ctx, run, items)
	if err != nil {
		t.Fatalf("CreateRun() returned an unexpected error: %v", err)
	}
	contents, _ := store.Contents(ctx, keys)
	s, err := NewSession(store, scheduler.DefaultParams(), nil, run, items, contents)
	if err != nil {
		t.Fatalf("NewSession() returned an unexpected error: %v", err)
	}
	s.now = clock(t0)
	return s
}

func seedCards(store *memStore, keys ...string) {
	for _, k := range keys {
		store.addCard(card(k, nil))
	}
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	seedCards(store, "FC_1", "FC_2")
	s := newTestSession(t, store, "FC_1", "FC_2")

	if s.State() != NotStarted {
		t.Fatalf("Expected NOT_STARTED, but got %s", s.State())
	}
	if err := s.Start(ctx, "FC_1"); err != nil {
		t.Fatalf("Start() returned an unexpected error: %v", err)
	}
	if s.State() != InProgress {
		t.Errorf("Expected IN_PROGRESS, but got %s", s.State())
	}
	firstVisit := *s.Items()[0].StartedAt
	runStarted := *s.Run().StartedAt

	if err := s.Record(ctx, "FC_1", "Flipped", map[string]any{"side": "back"}); err != nil {
		t.Fatalf("Record() returned an unexpected error: %v", err)
	}
	if err := s.Start(ctx, "FC_1"); err != nil {
		t.Fatalf("Expected a repeated Start() to be a no-op, but got %v", err)
	}
	if got := *s.Items()[0].StartedAt; !got.Equal(firstVisit) {
		t.Errorf("Expected the first visit %v to be kept, but got %v", firstVisit, got)
	}

	if err := s.Complete(ctx, "FC_1", "correct"); err != nil {
		t.Fatalf("Complete() returned an unexpected error: %v", err)
	}
	item := s.Items()[0]
	if item.State() != domain.ItemCompleted || item.Result != "correct" {
		t.Errorf("Expected FC_1 to be completed as correct, but got %s/%s", item.State(), item.Result)
	}
	if len(item.Actions) != 2 {
		t.Errorf("Expected 2 actions (flip and completion), but got %d", len(item.Actions))
	}
	if !item.CompletedAt.After(*item.StartedAt) {
		t.Error("Expected completion after start")
	}

	if err := s.Start(ctx, "FC_2"); err != nil {
		t.Fatalf("Start() returned an unexpected error: %v", err)
	}
	if got := *s.Run().StartedAt; !got.Equal(runStarted) {
		t.Errorf("Expected the run start to stay %v, but got %v", runStarted, got)
	}
	if err := s.Complete(ctx, "FC_2", "wrong"); err != nil {
		t.Fatalf("Complete() returned an unexpected error: %v", err)
	}

	run := s.Run()
	if s.State() != Finished || !run.IsFinished || run.CompletedAt == nil {
		t.Fatalf("Expected the run to finish after its last item, but got %s", s.State())
	}
	if run.Duration["seconds"] <= 0 {
		t.Errorf("Expected a positive duration, but got %v", run.Duration)
	}
	if err := s.Finish(ctx, false); err != nil {
		t.Errorf("Expected Finish() on a finished run to be a no-op, but got %v", err)
	}
	if err := s.Start(ctx, "FC_1"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition after finishing, but got %v", err)
	}

	completedOn := domain.DateOf(*run.CompletedAt)
	for _, key := range []string{"FC_1", "FC_2"} {
		c := store.contents[key]
		if c.LastViewedAt == nil || c.NextViewOn == nil {
			t.Fatalf("Expected %s to be rescheduled", key)
		}
		if !c.NextViewOn.After(completedOn) {
			t.Errorf("Expected %s next view after %v, but got %v", key, completedOn, c.NextViewOn)
		}
	}
}

func TestSessionInvalidTransitions(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	seedCards(store, "FC_1", "FC_2")
	s := newTestSession(t, store, "FC_1", "FC_2")

	if err := s.Complete(ctx, "FC_1", "correct"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected completing a pending item to fail, but got %v", err)
	}
	if err := s.Record(ctx, "FC_1", "Flipped", nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected recording on a pending item to fail, but got %v", err)
	}
	if err := s.Start(ctx, "FC_404"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for a foreign item, but got %v", err)
	}

	_ = s.Start(ctx, "FC_1")
	if err := s.Complete(ctx, "FC_1", "maybe"); !errors.Is(err, scheduler.ErrUnknownResult) {
		t.Errorf("Expected ErrUnknownResult, but got %v", err)
	}
	if err := s.Complete(ctx, "FC_1", "easy"); err != nil {
		t.Fatalf("Complete() returned an unexpected error: %v", err)
	}
	if err := s.Complete(ctx, "FC_1", "wrong"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected re-grading to fail, but got %v", err)
	}
	if err := s.Finish(ctx, false); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected finishing with open items to fail, but got %v", err)
	}
}

func TestSessionForceFinish(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	seedCards(store, "FC_1", "FC_2", "FC_3")
	s := newTestSession(t, store, "FC_1", "FC_2", "FC_3")

	_ = s.Start(ctx, "FC_1")
	_ = s.Complete(ctx, "FC_1", "correct")
	_ = s.Start(ctx, "FC_2")

	if err := s.Finish(ctx, true); err != nil {
		t.Fatalf("Finish(force) returned an unexpected error: %v", err)
	}
	if store.contents["FC_1"].NextViewOn == nil {
		t.Error("Expected the completed item to be rescheduled")
	}
	for _, key := range []string{"FC_2", "FC_3"} {
		if c := store.contents[key]; c.NextViewOn != nil || c.LastViewedAt != nil {
			t.Errorf("Expected %s to keep its schedule, but got %v", key, c.NextViewOn)
		}
	}
	if err := s.Abandon(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected abandoning a finished run to fail, but got %v", err)
	}
}

func TestAbandonedRunLeavesContentUntouched(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	seen := card("FC_2", datePtr(t0.AddDate(0, 0, -3)))
	last := t0.AddDate(0, 0, -9)
	seen.LastViewedAt = &last
	store.addCard(card("FC_1", nil))
	store.addCard(seen)
	before := map[string]domain.Content{"FC_1": store.contents["FC_1"], "FC_2": store.contents["FC_2"]}

	s := newTestSession(t, store, "FC_1", "FC_2")
	_ = s.Start(ctx, "FC_1")
	_ = s.Complete(ctx, "FC_1", "correct")
	_ = s.Start(ctx, "FC_2")
	_ = s.Rate(ctx, "FC_2", "DIFFICULTY_3")

	if err := s.Abandon(ctx); err != nil {
		t.Fatalf("Abandon() returned an unexpected error: %v", err)
	}
	if err := s.Abandon(ctx); err != nil {
		t.Errorf("Expected a second Abandon() to be a no-op, but got %v", err)
	}
	if s.State() != Abandoned || s.Run().IsFinished {
		t.Errorf("Expected an abandoned, unfinished run, but got %s", s.State())
	}

	for key, want := range before {
		got := store.contents[key]
		if !sameTime(got.LastViewedAt, want.LastViewedAt) || !sameTime(got.NextViewOn, want.NextViewOn) || got.Difficulty != want.Difficulty {
			t.Errorf("Expected %s to be unchanged, but it was modified", key)
		}
	}
	if err := s.Finish(ctx, true); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected finishing an abandoned run to fail, but got %v", err)
	}
}

func TestRatingAppliesOnFinish(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := card("FC_1", nil)
	c.Difficulty = "DIFFICULTY_2"
	store.addCard(c)
	s := newTestSession(t, store, "FC_1")

	_ = s.Start(ctx, "FC_1")
	if err := s.Rate(ctx, "FC_1", "DIFFICULTY_404"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for an unknown difficulty, but got %v", err)
	}
	if err := s.Rate(ctx, "FC_1", "DIFFICULTY_1"); err != nil {
		t.Fatalf("Rate() returned an unexpected error: %v", err)
	}
	if store.contents["FC_1"].Difficulty != "DIFFICULTY_2" {
		t.Error("Expected the difficulty to change only on finish")
	}
	if err := s.Complete(ctx, "FC_1", "correct"); err != nil {
		t.Fatalf("Complete() returned an unexpected error: %v", err)
	}
	if got := store.contents["FC_1"].Difficulty; got != "DIFFICULTY_1" {
		t.Errorf("Expected DIFFICULTY_1 after finishing, but got %s", got)
	}
}

func TestPersistenceFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	seedCards(store, "FC_1")
	s := newTestSession(t, store, "FC_1")

	store.failNext = errDiskFull
	if err := s.Start(ctx, "FC_1"); !errors.Is(err, errDiskFull) {
		t.Fatalf("Expected the store error, but got %v", err)
	}
	if s.State() != NotStarted || s.Items()[0].StartedAt != nil {
		t.Error("Expected the failed start to leave the session untouched")
	}

	_ = s.Start(ctx, "FC_1")
	store.failNext = errDiskFull
	if err := s.Complete(ctx, "FC_1", "correct"); !errors.Is(err, errDiskFull) {
		t.Fatalf("Expected the store error, but got %v", err)
	}
	if s.Items()[0].State() != domain.ItemStarted {
		t.Errorf("Expected the item to stay STARTED, but got %s", s.Items()[0].State())
	}

	if err := s.Complete(ctx, "FC_1", "correct"); err != nil {
		t.Fatalf("Complete() returned an unexpected error: %v", err)
	}
	if s.State() != Finished {
		t.Errorf("Expected FINISHED, but got %s", s.State())
	}
}

func TestFinishFailureKeepsRunOpen(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	seedCards(store, "FC_1", "FC_2")
	s := newTestSession(t, store, "FC_1", "FC_2")
	_ = s.Start(ctx, "FC_1")
	_ = s.Complete(ctx, "FC_1", "correct")

	store.failNext = errDiskFull
	if err := s.Finish(ctx, true); !errors.Is(err, errDiskFull) {
		t.Fatalf("Expected the store error, but got %v", err)
	}
	if s.State() != InProgress || store.contents["FC_1"].NextViewOn != nil {
		t.Error("Expected a failed finish to leave run and content unchanged")
	}
}

func TestResumeFinishesCompletedRun(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	seedCards(store, "FC_1", "FC_2")
	s := newTestSession(t, store, "FC_1", "FC_2")
	_ = s.Start(ctx, "FC_1")
	_ = s.Complete(ctx, "FC_1", "correct")
	_ = s.Start(ctx, "FC_2")

	s.store = failingClose{store}
	if err := s.Complete(ctx, "FC_2", "hard"); !errors.Is(err, errDiskFull) {
		t.Fatalf("Expected the finish to fail with the store error, but got %v", err)
	}
	if s.State() != InProgress {
		t.Fatalf("Expected the run to stay open, but got %s", s.State())
	}
	if err := s.Complete(ctx, "FC_2", "hard"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected regrading to be rejected, but got %v", err)
	}

	resumed, err := Resume(ctx, store, store, nil, nil, s.Run().Key)
	if err != nil {
		t.Fatalf("Resume() returned an unexpected error: %v", err)
	}
	if resumed.State() != Finished || !store.runs[s.Run().Key].IsFinished {
		t.Errorf("Expected the resumed run to be finished, but got %s", resumed.State())
	}
	for _, key := range []string{"FC_1", "FC_2"} {
		if store.contents[key].NextViewOn == nil {
			t.Errorf("Expected %s to be rescheduled", key)
		}
	}
}

// failingClose is a Store whose CloseRun always fails.
type failingClose struct {
	*memStore
}

func (f failingClose) CloseRun(context.Context, domain.RehearsalRun, []domain.Content) error {
	return errDiskFull
}

func TestNavigation(t *testing.T) {
	store := newMemStore()
	seedCards(store, "FC_1", "FC_2")
	s := newTestSession(t, store, "FC_1", "FC_2")

	if err := s.Previous(); !errors.Is(err, ErrStartOfRun) {
		t.Errorf("Expected ErrStartOfRun, but got %v", err)
	}
	if err := s.Next(); err != nil {
		t.Fatalf("Next() returned an unexpected error: %v", err)
	}
	item, content := s.Current()
	if item.Item != "FC_2" || content.Front != "front of FC_2" {
		t.Errorf("Expected FC_2 under the cursor, but got %s", item.Item)
	}
	if err := s.Next(); !errors.Is(err, ErrEndOfRun) {
		t.Errorf("Expected ErrEndOfRun, but got %v", err)
	}
	if idx, total := s.Position(); idx != 1 || total != 2 {
		t.Errorf("Expected position 1 of 2, but got %d of %d", idx, total)
	}
}

func TestResume(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	seedCards(store, "FC_1", "FC_2")
	s := newTestSession(t, store, "FC_1", "FC_2")
	_ = s.Start(ctx, "FC_1")
	_ = s.Rate(ctx, "FC_1", "DIFFICULTY_3")
	_ = s.Complete(ctx, "FC_1", "hard")

	resumed, err := Resume(ctx, store, store, nil, nil, s.Run().Key)
	if err != nil {
		t.Fatalf("Resume() returned an unexpected error: %v", err)
	}
	resumed.now = clock(t0.Add(time.Hour))
	if item, _ := resumed.Current(); item.Item != "FC_2" {
		t.Errorf("Expected to resume at FC_2, but got %s", item.Item)
	}
	_ = resumed.Start(ctx, "FC_2")
	if err := resumed.Complete(ctx, "FC_2", "correct"); err != nil {
		t.Fatalf("Complete() returned an unexpected error: %v", err)
	}
	if got := store.contents["FC_1"].Difficulty; got != "DIFFICULTY_3" {
		t.Errorf("Expected the rating from before the interruption, but got %q", got)
	}

	if _, err := Resume(ctx, store, store, nil, nil, resumed.Run().Key); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected resuming a finished run to fail, but got %v", err)
	}
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
