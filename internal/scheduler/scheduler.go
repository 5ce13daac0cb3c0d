package scheduler

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/conorfennell/studyfrog/internal/domain"
)

// ErrUnknownResult is returned when a result string does not map to a grade.
var ErrUnknownResult = errors.New("scheduler: unknown result")

// Grade is the outcome of rehearsing an item.
type Grade int

const (
	Again Grade = iota + 1 // wrong or forgotten
	Hard
	Good
	Easy
)

func (g Grade) String() string {
	switch g {
	case Again:
		return "again"
	case Hard:
		return "hard"
	case Good:
		return "good"
	case Easy:
		return "easy"
	}
	return fmt.Sprintf("Grade(%d)", int(g))
}

// ParseResult maps a stored result string to a grade.
func ParseResult(result string) (Grade, error) {
	switch strings.ToLower(strings.TrimSpace(result)) {
	case "wrong", "incorrect", "again":
		return Again, nil
	case "hard":
		return Hard, nil
	case "correct", "good", "medium":
		return Good, nil
	case "easy":
		return Easy, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownResult, result)
}

// Params holds the interval growth factors.
//
// The next interval for a successful grade is
//
//	round(prev * factor(grade) * (1.5 - difficulty) * (1.5 - priority))
//
// where prev is the previous interval in days (at least 1) and difficulty and
// priority are weights in [0, 1]. Hard is kept within [2, MaximumInterval-2],
// Good at least one day above Hard and Easy at least one day above Good, all
// within MaximumInterval. A failed item (Again) always comes back after
// exactly one day.
type Params struct {
	HardFactor      float64 `koanf:"hard_factor" validate:"gt=0"`
	GoodFactor      float64 `koanf:"good_factor" validate:"gt=0"`
	EasyFactor      float64 `koanf:"easy_factor" validate:"gt=0"`
	MaximumInterval int     `koanf:"maximum_interval" validate:"gte=4"`
}

// DefaultParams provides the factors used when nothing is configured.
func DefaultParams() *Params {
	return &Params{
		HardFactor:      1.2,
		GoodFactor:      2.5,
		EasyFactor:      3.5,
		MaximumInterval: 365,
	}
}

// Validate checks the invariants the interval formula relies on.
func (p *Params) Validate() error {
	if p.HardFactor <= 0 || p.GoodFactor <= 0 || p.EasyFactor <= 0 {
		return fmt.Errorf("scheduler: growth factors must be positive")
	}
	if p.MaximumInterval < 4 {
		return fmt.Errorf("scheduler: maximum interval %d must be at least 4", p.MaximumInterval)
	}
	return nil
}

// NextInterval returns the number of days until the next view. Grades
// are strictly ordered for the same inputs: Again < Hard < Good < Easy.
func (p *Params) NextInterval(prev int, grade Grade, difficulty, priority float64) int {
	if grade == Again {
		return 1
	}
	if prev < 1 {
		prev = 1
	}

	weight := (1.5 - clamp01(difficulty)) * (1.5 - clamp01(priority))
	raw := func(factor float64) int {
		return int(math.Round(float64(prev) * factor * weight))
	}

	// Each grade stays at least one day above the one below it, cap included.
	hard := min(max(raw(p.HardFactor), 2), p.MaximumInterval-2)
	if grade == Hard {
		return hard
	}
	good := min(max(raw(p.GoodFactor), hard+1), p.MaximumInterval-1)
	if grade == Good {
		return good
	}
	return min(max(raw(p.EasyFactor), good+1), p.MaximumInterval)
}

// PreviousInterval derives the interval that led to the content's current
// schedule. It is 1 when the content was never viewed.
func PreviousInterval(c domain.Content) int {
	if c.LastViewedAt == nil || c.NextViewOn == nil {
		return 1
	}
	days := domain.DaysBetween(*c.LastViewedAt, *c.NextViewOn)
	if days < 1 {
		return 1
	}
	return days
}

// NextViewOn computes the next due date for content completed at completedAt.
// The result is always strictly after the completion date.
func (p *Params) NextViewOn(c domain.Content, grade Grade, difficulty, priority float64, completedAt time.Time) time.Time {
	days := p.NextInterval(PreviousInterval(c), grade, difficulty, priority)
	return domain.DateOf(completedAt).AddDate(0, 0, days)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
