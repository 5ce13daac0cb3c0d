package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/conorfennell/studyfrog/internal/domain"
	"github.com/conorfennell/studyfrog/internal/rehearsal"
)

func seedTree(t *testing.T, db *DB) (domain.Stack, []domain.Content) {
	t.Helper()
	ctx := context.Background()
	var cards []domain.Content
	for _, front := range []string{"x + 1 = 2", "2x = 4"} {
		c, err := db.CreateContent(ctx, domain.NewFlashcard(front, "x = ?", t0))
		if err != nil {
			t.Fatalf("CreateContent() returned an unexpected error: %v", err)
		}
		cards = append(cards, c)
	}
	math, err := db.CreateStack(ctx, domain.NewStack("math", t0))
	if err != nil {
		t.Fatalf("CreateStack() returned an unexpected error: %v", err)
	}
	algebra := domain.NewStack("math/algebra", t0)
	algebra.Parent = math.Key
	algebra.Items = []string{cards[0].Key, cards[1].Key}
	if algebra, err = db.CreateStack(ctx, algebra); err != nil {
		t.Fatalf("CreateStack() returned an unexpected error: %v", err)
	}
	math = math.WithChild(algebra.Key)
	if err := db.UpdateStack(ctx, math); err != nil {
		t.Fatalf("UpdateStack() returned an unexpected error: %v", err)
	}
	return math, cards
}

func TestRunLifecycleIsPersisted(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	math, cards := seedTree(t, db)

	planner := rehearsal.NewPlanner(db, nil, nil)
	session, err := planner.Plan(ctx, rehearsal.Request{
		Stacks:        []string{math.Key},
		Configuration: rehearsal.Configuration{Seed: 1 << 60},
	})
	if err != nil {
		t.Fatalf("Plan() returned an unexpected error: %v", err)
	}
	runKey := session.Run().Key

	stored, err := db.Run(ctx, runKey)
	if err != nil {
		t.Fatalf("Run() returned an unexpected error: %v", err)
	}
	if stored.Items[cards[0].Key] != 0 || stored.Items[cards[1].Key] != 1 {
		t.Errorf("Expected sequential order, but got %v", stored.Items)
	}
	cfg, err := rehearsal.ConfigurationFromMap(stored.Configuration)
	if err != nil {
		t.Fatalf("ConfigurationFromMap() returned an unexpected error: %v", err)
	}
	if cfg.Seed != 1<<60 {
		t.Errorf("Expected the seed to survive storage, but got %d", cfg.Seed)
	}

	open, err := db.OpenRuns(ctx)
	if err != nil || len(open) != 1 {
		t.Fatalf("Expected one open run, but got %d (%v)", len(open), err)
	}

	first := cards[0].Key
	if err := session.Start(ctx, first); err != nil {
		t.Fatalf("Start() returned an unexpected error: %v", err)
	}
	if err := session.Rate(ctx, first, "DIFFICULTY_3"); err != nil {
		t.Fatalf("Rate() returned an unexpected error: %v", err)
	}
	if err := session.Complete(ctx, first, "correct"); err != nil {
		t.Fatalf("Complete() returned an unexpected error: %v", err)
	}

	items, err := db.RunItems(ctx, runKey)
	if err != nil {
		t.Fatalf("RunItems() returned an unexpected error: %v", err)
	}
	if len(items) != 2 || items[0].State() != domain.ItemCompleted || len(items[0].Actions) != 2 {
		t.Fatalf("Expected the first item completed with 2 actions, but got %+v", items)
	}
	actions, err := db.Actions(ctx, items[0].Key)
	if err != nil {
		t.Fatalf("Actions() returned an unexpected error: %v", err)
	}
	if got := actions[0].ActionData["difficulty"]; got != "DIFFICULTY_3" {
		t.Errorf("Expected the rating in the first action, but got %v", got)
	}
	if actions[1].Run != runKey || actions[1].RunItem != items[0].Key {
		t.Errorf("Expected the action to reference its run and item, but got %s/%s", actions[1].Run, actions[1].RunItem)
	}

	resumed, err := rehearsal.Resume(ctx, db, db, nil, nil, runKey)
	if err != nil {
		t.Fatalf("Resume() returned an unexpected error: %v", err)
	}
	second := cards[1].Key
	if item, _ := resumed.Current(); item.Item != second {
		t.Errorf("Expected to resume at %s, but got %s", second, item.Item)
	}
	if err := resumed.Start(ctx, second); err != nil {
		t.Fatalf("Start() returned an unexpected error: %v", err)
	}
	if err := resumed.Complete(ctx, second, "wrong"); err != nil {
		t.Fatalf("Complete() returned an unexpected error: %v", err)
	}

	stored, err = db.Run(ctx, runKey)
	if err != nil {
		t.Fatalf("Run() returned an unexpected error: %v", err)
	}
	if !stored.IsFinished || stored.CompletedAt == nil {
		t.Fatal("Expected the stored run to be finished")
	}
	contents, err := db.Contents(ctx, []string{first, second})
	if err != nil {
		t.Fatalf("Contents() returned an unexpected error: %v", err)
	}
	if contents[first].Difficulty != "DIFFICULTY_3" {
		t.Errorf("Expected the rating to be applied, but got %q", contents[first].Difficulty)
	}
	for key, c := range contents {
		if c.NextViewOn == nil || !c.NextViewOn.After(domain.DateOf(*stored.CompletedAt)) {
			t.Errorf("Expected %s to be due after the run, but got %v", key, c.NextViewOn)
		}
	}
	if open, _ := db.OpenRuns(ctx); len(open) != 0 {
		t.Errorf("Expected no open runs, but got %d", len(open))
	}
}

func TestAbandonedRunIsPersistedWithoutContentChanges(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	math, cards := seedTree(t, db)

	session, err := rehearsal.NewPlanner(db, nil, nil).Plan(ctx, rehearsal.Request{Stacks: []string{math.Key}})
	if err != nil {
		t.Fatalf("Plan() returned an unexpected error: %v", err)
	}
	_ = session.Start(ctx, cards[0].Key)
	_ = session.Complete(ctx, cards[0].Key, "easy")
	if err := session.Abandon(ctx); err != nil {
		t.Fatalf("Abandon() returned an unexpected error: %v", err)
	}

	stored, err := db.Run(ctx, session.Run().Key)
	if err != nil {
		t.Fatalf("Run() returned an unexpected error: %v", err)
	}
	if !stored.IsAbandoned() {
		t.Error("Expected the stored run to be abandoned")
	}
	c, err := db.Content(ctx, cards[0].Key)
	if err != nil {
		t.Fatalf("Content() returned an unexpected error: %v", err)
	}
	if c.LastViewedAt != nil || c.NextViewOn != nil {
		t.Errorf("Expected no schedule change, but got %v/%v", c.LastViewedAt, c.NextViewOn)
	}
	if _, err := rehearsal.Resume(ctx, db, db, nil, nil, stored.Key); !errors.Is(err, rehearsal.ErrInvalidTransition) {
		t.Errorf("Expected resuming an abandoned run to fail, but got %v", err)
	}
}

func TestCloseRunIsAtomic(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	_, cards := seedTree(t, db)

	run := domain.NewRehearsalRun(nil, nil, t0)
	run, _, err := db.CreateRun(ctx, run, nil)
	if err != nil {
		t.Fatalf("CreateRun() returned an unexpected error: %v", err)
	}
	done := t0.Add(time.Hour)
	run.CompletedAt, run.IsFinished = &done, true

	ghost := cards[0].WithViewed(done, done.AddDate(0, 0, 2))
	ghost.Key = "FLASHCARD_404"
	err = db.CloseRun(ctx, run, []domain.Content{cards[1].WithViewed(done, done.AddDate(0, 0, 2)), ghost})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, but got %v", err)
	}

	stored, _ := db.Run(ctx, run.Key)
	if stored.IsFinished {
		t.Error("Expected the run update to be rolled back")
	}
	c, _ := db.Content(ctx, cards[1].Key)
	if c.NextViewOn != nil {
		t.Error("Expected the content update to be rolled back")
	}
}
