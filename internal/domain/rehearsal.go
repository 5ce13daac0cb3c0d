package domain

import (
	"maps"
	"slices"
	"sort"
	"time"
)

// RehearsalRun is one study session over an ordered set of items.
type RehearsalRun struct {
	Identity
	Metadata

	Author        string
	Stacks        []string
	Configuration map[string]any
	// Items maps content keys to their zero-based order index.
	Items       map[string]int
	ScheduledAt *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	AbandonedAt *time.Time
	IsFinished  bool
	// Duration holds elapsed "minutes" and "seconds" once the run is closed.
	Duration map[string]float64
}

// NewRehearsalRun returns a transient run.
func NewRehearsalRun(stacks []string, configuration map[string]any, now time.Time) RehearsalRun {
	return RehearsalRun{
		Identity:      NewIdentity(),
		Metadata:      NewMetadata(KindRehearsalRun, now),
		Stacks:        slices.Clone(stacks),
		Configuration: configuration,
		Items:         map[string]int{},
		Duration:      map[string]float64{},
	}
}

func (r RehearsalRun) ScheduledOn() *time.Time { return dateOfPtr(r.ScheduledAt) }
func (r RehearsalRun) StartedOn() *time.Time   { return dateOfPtr(r.StartedAt) }
func (r RehearsalRun) CompletedOn() *time.Time { return dateOfPtr(r.CompletedAt) }

// IsAbandoned reports whether the run was closed without finishing.
func (r RehearsalRun) IsAbandoned() bool {
	return r.AbandonedAt != nil && !r.IsFinished
}

// Ordered returns the item keys in presentation order.
func (r RehearsalRun) Ordered() []string {
	keys := slices.Collect(maps.Keys(r.Items))
	sort.Slice(keys, func(i, j int) bool { return r.Items[keys[i]] < r.Items[keys[j]] })
	return keys
}

// Clone returns a deep copy of the run. Configuration values are shared.
func (r RehearsalRun) Clone() RehearsalRun {
	out := r
	out.Stacks = slices.Clone(r.Stacks)
	out.Configuration = maps.Clone(r.Configuration)
	out.Items = maps.Clone(r.Items)
	out.Duration = maps.Clone(r.Duration)
	out.ScheduledAt = clonePtr(r.ScheduledAt)
	out.StartedAt = clonePtr(r.StartedAt)
	out.CompletedAt = clonePtr(r.CompletedAt)
	out.AbandonedAt = clonePtr(r.AbandonedAt)
	return out
}

// ItemState is the progress of a single run item.
type ItemState int

const (
	ItemPending ItemState = iota
	ItemStarted
	ItemCompleted
)

func (s ItemState) String() string {
	switch s {
	case ItemPending:
		return "PENDING"
	case ItemStarted:
		return "STARTED"
	case ItemCompleted:
		return "COMPLETED"
	}
	return "UNKNOWN"
}

// RehearsalRunItem tracks one content item within a run.
type RehearsalRunItem struct {
	Identity
	Metadata

	Run         string
	Item        string
	Order       int
	StartedAt   *time.Time
	CompletedAt *time.Time
	Result      string
	Actions     []string
}

// NewRehearsalRunItem returns a pending item for the given content key.
func NewRehearsalRunItem(item string, order int, now time.Time) RehearsalRunItem {
	return RehearsalRunItem{
		Identity: NewIdentity(),
		Metadata: NewMetadata(KindRehearsalItem, now),
		Item:     item,
		Order:    order,
		Actions:  []string{},
	}
}

func (i RehearsalRunItem) State() ItemState {
	switch {
	case i.CompletedAt != nil:
		return ItemCompleted
	case i.StartedAt != nil:
		return ItemStarted
	}
	return ItemPending
}

func (i RehearsalRunItem) Clone() RehearsalRunItem {
	out := i
	out.Actions = slices.Clone(i.Actions)
	out.StartedAt = clonePtr(i.StartedAt)
	out.CompletedAt = clonePtr(i.CompletedAt)
	return out
}

// RehearsalAction is something the learner did while on a run item.
type RehearsalAction struct {
	Identity
	Metadata

	Run        string
	RunItem    string
	ActionData map[string]any
	Message    string
	Timestamp  time.Time
}

// NewRehearsalAction returns a transient action stamped at now.
func NewRehearsalAction(message string, data map[string]any, now time.Time) RehearsalAction {
	return RehearsalAction{
		Identity:   NewIdentity(),
		Metadata:   NewMetadata(KindRehearsalAction, now),
		ActionData: data,
		Message:    message,
		Timestamp:  now,
	}
}

// Legacy names from the learning-session era of the application.
type (
	LearningSession       = RehearsalRun
	LearningSessionItem   = RehearsalRunItem
	LearningSessionAction = RehearsalAction
)

func clonePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func dateOfPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := DateOf(*t)
	return &d
}
