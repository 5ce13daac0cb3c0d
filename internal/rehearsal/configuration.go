package rehearsal

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Ordering selects how a run's items are presented.
type Ordering string

const (
	Sequential         Ordering = "sequential"
	Shuffled           Ordering = "shuffled"
	WeightedByPriority Ordering = "weighted_by_priority"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Configuration is the run setup chosen by the learner. It is stored on the
// run as a free-form map (see Map).
type Configuration struct {
	// Ordering defaults to Sequential when empty.
	Ordering Ordering `koanf:"ordering" validate:"omitempty,oneof=sequential shuffled weighted_by_priority"`
	// Limit caps the number of items; 0 means no cap.
	Limit int `koanf:"limit" validate:"gte=0"`
	// Seed makes shuffling reproducible when non-zero.
	Seed               int64  `koanf:"seed"`
	FilterByDifficulty string `koanf:"filter_by_difficulty"`
	FilterByPriority   string `koanf:"filter_by_priority"`
	// IncludeNotDue also rehearses items whose next view lies in the future.
	IncludeNotDue    bool `koanf:"include_not_due"`
	SkipNotYetViewed bool `koanf:"skip_not_yet_viewed"`
}

// Validate reports configuration problems wrapped in ErrInvalidConfiguration.
func (c Configuration) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	return nil
}

func (c Configuration) ordering() Ordering {
	if c.Ordering == "" {
		return Sequential
	}
	return c.Ordering
}

// Map renders the configuration in the run's stored form.
func (c Configuration) Map() map[string]any {
	return map[string]any{
		"ordering":                         string(c.ordering()),
		"limit":                            c.Limit,
		"seed":                             c.Seed,
		"filter_by_difficulty_enabled":     c.FilterByDifficulty != "",
		"filter_by_difficulty":             c.FilterByDifficulty,
		"filter_by_priority_enabled":       c.FilterByPriority != "",
		"filter_by_priority":               c.FilterByPriority,
		"item_order_randomization_enabled": c.ordering() == Shuffled,
		"include_not_due":                  c.IncludeNotDue,
		"skip_not_yet_viewed":              c.SkipNotYetViewed,
	}
}

// ConfigurationFromMap reads a stored configuration back. Unknown keys are
// ignored; the result is validated.
func ConfigurationFromMap(m map[string]any) (Configuration, error) {
	var c Configuration
	if s, ok := m["ordering"].(string); ok {
		c.Ordering = Ordering(s)
	} else if b, ok := m["item_order_randomization_enabled"].(bool); ok && b {
		c.Ordering = Shuffled
	}
	c.Limit = int(toInt64(m["limit"]))
	c.Seed = toInt64(m["seed"])
	c.FilterByDifficulty, _ = m["filter_by_difficulty"].(string)
	c.FilterByPriority, _ = m["filter_by_priority"].(string)
	c.IncludeNotDue, _ = m["include_not_due"].(bool)
	c.SkipNotYetViewed, _ = m["skip_not_yet_viewed"].(bool)
	if err := c.Validate(); err != nil {
		return Configuration{}, err
	}
	return c, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}
