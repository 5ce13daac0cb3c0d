package rehearsal

import (
	"time"

	"github.com/conorfennell/studyfrog/internal/domain"
)

// DueOptions tunes FilterDue. The zero value includes never-scheduled items.
type DueOptions struct {
	SkipNotYetViewed bool
}

// FilterDue keeps the contents due on the given date, preserving order.
// Content is due when NextViewOn is unset or not after on.
func FilterDue(contents []domain.Content, on time.Time, opts DueOptions) []domain.Content {
	var out []domain.Content
	for _, c := range contents {
		if c.NextViewOn == nil && opts.SkipNotYetViewed {
			continue
		}
		if c.IsDue(on) {
			out = append(out, c)
		}
	}
	return out
}

// FilterByDifficulty keeps contents referencing the given difficulty key.
// An empty key keeps everything.
func FilterByDifficulty(contents []domain.Content, key string) []domain.Content {
	if key == "" {
		return contents
	}
	var out []domain.Content
	for _, c := range contents {
		if c.Difficulty == key {
			out = append(out, c)
		}
	}
	return out
}

// FilterByPriority keeps contents referencing the given priority key.
// An empty key keeps everything.
func FilterByPriority(contents []domain.Content, key string) []domain.Content {
	if key == "" {
		return contents
	}
	var out []domain.Content
	for _, c := range contents {
		if c.Priority == key {
			out = append(out, c)
		}
	}
	return out
}
