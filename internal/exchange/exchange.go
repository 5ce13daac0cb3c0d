// Package exchange reads and writes the JSON flashcard document:
//
//	{"flashcards": [{"front_text": "...", "back_text": "...", "difficulty": "hard", "priority": "high"}]}
//
// front_text and back_text are required. difficulty and priority are
// catalog names. subject, teacher and tags are label names. All of them may
// be omitted.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/studyfrog/internal/domain"
	"github.com/conorfennell/studyfrog/internal/parser"
	"github.com/conorfennell/studyfrog/internal/rehearsal"
	"github.com/conorfennell/studyfrog/internal/storage"
)

// ErrInvalidFormat is returned for documents that are not valid flashcard
// exports.
var ErrInvalidFormat = errors.New("exchange: invalid flashcard document")

var validate = validator.New(validator.WithRequiredStructEnabled())

type Card struct {
	FrontText  string   `json:"front_text" validate:"required"`
	BackText   string   `json:"back_text" validate:"required"`
	Difficulty string   `json:"difficulty,omitempty"`
	Priority   string   `json:"priority,omitempty"`
	Subject    string   `json:"subject,omitempty"`
	Teacher    string   `json:"teacher,omitempty"`
	Tags       []string `json:"tags,omitempty" validate:"dive,required"`
}

type Document struct {
	Flashcards []Card `json:"flashcards" validate:"min=1,dive"`
}

// Entry converts the card to a parsed entry so it can be upserted like a
// Markdown card.
func (c Card) Entry(line int) parser.Entry {
	return parser.Entry{
		Kind:       domain.KindFlashcard,
		Front:      c.FrontText,
		Back:       c.BackText,
		Difficulty: c.Difficulty,
		Priority:   c.Priority,
		Line:       line,
	}
}

// Decode reads a document and rejects unknown fields, an empty card list and
// cards without both sides.
func Decode(r io.Reader) (Document, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if err := validate.Struct(doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return doc, nil
}

// Export writes every flashcard reachable from the given stacks, children
// included, in rehearsal order. It returns the number of cards written.
func Export(ctx context.Context, db *storage.DB, log *slog.Logger, w io.Writer, stacks []string) (int, error) {
	keys, err := rehearsal.NewResolver(db, log).Resolve(ctx, stacks)
	if err != nil {
		return 0, err
	}
	contents, err := db.Contents(ctx, keys)
	if err != nil {
		return 0, fmt.Errorf("failed to load contents: %w", err)
	}

	names := newNameCache(db)
	doc := Document{Flashcards: []Card{}}
	for _, key := range keys {
		c, ok := contents[key]
		if !ok || c.Type != domain.KindFlashcard {
			continue
		}
		card, err := names.card(ctx, c)
		if err != nil {
			return 0, fmt.Errorf("failed to export %s: %w", key, err)
		}
		doc.Flashcards = append(doc.Flashcards, card)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return 0, fmt.Errorf("failed to write export: %w", err)
	}
	return len(doc.Flashcards), nil
}

// nameCache maps catalog and label keys back to their names.
type nameCache struct {
	db    *storage.DB
	names map[string]string
}

func newNameCache(db *storage.DB) *nameCache {
	return &nameCache{db: db, names: make(map[string]string)}
}

func (n *nameCache) card(ctx context.Context, c domain.Content) (Card, error) {
	card := Card{FrontText: c.Front, BackText: c.Back}
	var err error
	if card.Difficulty, err = n.name(ctx, c.Difficulty); err != nil {
		return Card{}, err
	}
	if card.Priority, err = n.name(ctx, c.Priority); err != nil {
		return Card{}, err
	}
	if card.Subject, err = n.name(ctx, c.Subject); err != nil {
		return Card{}, err
	}
	if card.Teacher, err = n.name(ctx, c.Teacher); err != nil {
		return Card{}, err
	}
	for _, key := range c.Tags {
		tag, err := n.name(ctx, key)
		if err != nil {
			return Card{}, err
		}
		card.Tags = append(card.Tags, tag)
	}
	return card, nil
}

func (n *nameCache) name(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	if name, ok := n.names[key]; ok {
		return name, nil
	}
	kind, _ := domain.KindOf(key)
	var name string
	switch kind {
	case domain.KindDifficulty:
		d, err := n.db.Difficulty(ctx, key)
		if err != nil {
			return "", err
		}
		name = d.Name
	case domain.KindPriority:
		p, err := n.db.Priority(ctx, key)
		if err != nil {
			return "", err
		}
		name = p.Name
	case domain.KindSubject:
		s, err := n.db.Subject(ctx, key)
		if err != nil {
			return "", err
		}
		name = s.Name
	case domain.KindTeacher:
		t, err := n.db.Teacher(ctx, key)
		if err != nil {
			return "", err
		}
		name = t.Name
	case domain.KindTag:
		t, err := n.db.Tag(ctx, key)
		if err != nil {
			return "", err
		}
		name = t.Value
	default:
		return "", fmt.Errorf("unexpected key %s: %w", key, domain.ErrNotFound)
	}
	n.names[key] = name
	return name, nil
}
