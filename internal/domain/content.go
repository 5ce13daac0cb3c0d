package domain

import (
	"slices"
	"time"
)

// Content is a reviewable item: a flashcard, a question or a note. The
// kind-specific fields are only meaningful for their kind.
type Content struct {
	Identity
	Metadata

	// Flashcard
	Front string
	Back  string

	// Question and Note
	Text         string
	Answers      []string
	QuestionType string
	Title        string

	Author       string
	Difficulty   string
	Priority     string
	Subject      string
	Teacher      string
	Tags         []string
	Customfields []Customfield

	LastViewedAt      *time.Time
	NextViewOn        *time.Time
	IsAssignedToStack bool

	// Fingerprint identifies imported content across re-imports.
	Fingerprint string
}

// NewFlashcard returns a transient flashcard.
func NewFlashcard(front, back string, now time.Time) Content {
	return Content{
		Identity: NewIdentity(),
		Metadata: NewMetadata(KindFlashcard, now),
		Front:    front,
		Back:     back,
	}
}

// NewQuestion returns a transient question.
func NewQuestion(text string, answers []string, now time.Time) Content {
	return Content{
		Identity: NewIdentity(),
		Metadata: NewMetadata(KindQuestion, now),
		Text:     text,
		Answers:  answers,
	}
}

// NewNote returns a transient note.
func NewNote(title, text string, now time.Time) Content {
	return Content{
		Identity: NewIdentity(),
		Metadata: NewMetadata(KindNote, now),
		Title:    title,
		Text:     text,
	}
}

// Prompt returns the side shown first during a rehearsal.
func (c Content) Prompt() string {
	switch c.Type {
	case KindFlashcard:
		return c.Front
	case KindNote:
		if c.Title != "" {
			return c.Title
		}
	}
	return c.Text
}

// Reveal returns the side shown after flipping.
func (c Content) Reveal() string {
	switch c.Type {
	case KindFlashcard:
		return c.Back
	case KindNote:
		return c.Text
	}
	return ""
}

// LastViewedOn returns the date of the last view, if any.
func (c Content) LastViewedOn() *time.Time {
	if c.LastViewedAt == nil {
		return nil
	}
	d := DateOf(*c.LastViewedAt)
	return &d
}

// IsDue reports whether the content should be rehearsed on the given date.
// Never-scheduled content is always due.
func (c Content) IsDue(on time.Time) bool {
	if c.NextViewOn == nil {
		return true
	}
	return !DateOf(*c.NextViewOn).After(DateOf(on))
}

// Clone returns a deep copy. Slices and pointer fields are copied by value.
func (c Content) Clone() Content {
	out := c
	out.Answers = slices.Clone(c.Answers)
	out.Tags = slices.Clone(c.Tags)
	out.Customfields = slices.Clone(c.Customfields)
	if c.LastViewedAt != nil {
		v := *c.LastViewedAt
		out.LastViewedAt = &v
	}
	if c.NextViewOn != nil {
		v := *c.NextViewOn
		out.NextViewOn = &v
	}
	return out
}

// WithViewed returns a copy carrying a new view history.
func (c Content) WithViewed(at, nextOn time.Time) Content {
	out := c.Clone()
	next := DateOf(nextOn)
	out.LastViewedAt = &at
	out.NextViewOn = &next
	out.UpdatedAt = at
	return out
}

// WithDifficulty returns a copy referencing another difficulty.
func (c Content) WithDifficulty(key string, now time.Time) Content {
	out := c.Clone()
	out.Difficulty = key
	out.UpdatedAt = now
	return out
}
