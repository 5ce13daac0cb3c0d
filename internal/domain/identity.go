package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by lookups whose key does not resolve.
var ErrNotFound = errors.New("studyfrog: not found")

// Kind is the uppercase entity-kind tag carried by every entity and used as
// the prefix of its key.
type Kind string

const (
	KindFlashcard       Kind = "FLASHCARD"
	KindQuestion        Kind = "QUESTION"
	KindNote            Kind = "NOTE"
	KindStack           Kind = "STACK"
	KindDifficulty      Kind = "DIFFICULTY"
	KindPriority        Kind = "PRIORITY"
	KindSubject         Kind = "SUBJECT"
	KindTeacher         Kind = "TEACHER"
	KindTag             Kind = "TAG"
	KindUser            Kind = "USER"
	KindRehearsalRun    Kind = "REHEARSAL_RUN"
	KindRehearsalItem   Kind = "REHEARSAL_RUN_ITEM"
	KindRehearsalAction Kind = "REHEARSAL_ACTION"
)

// IsReviewable reports whether entities of this kind can be rehearsed.
func (k Kind) IsReviewable() bool {
	return k == KindFlashcard || k == KindQuestion || k == KindNote
}

// Identity attaches the persistence id, the human-readable key and a UUID to
// an entity. ID and Key stay zero until the entity is persisted.
type Identity struct {
	ID   int64
	Key  string
	UUID uuid.UUID
}

// NewIdentity returns a transient identity with a fresh v4 UUID.
func NewIdentity() Identity {
	return Identity{UUID: uuid.New()}
}

// Persisted reports whether a store has assigned this identity a key.
func (i Identity) Persisted() bool {
	return i.Key != ""
}

// Metadata holds the kind tag and lifecycle timestamps. UpdatedAt stays zero
// until the entity is updated for the first time.
type Metadata struct {
	Type      Kind
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewMetadata stamps CreatedAt with now.
func NewMetadata(kind Kind, now time.Time) Metadata {
	return Metadata{Type: kind, CreatedAt: now}
}

func (m Metadata) CreatedOn() time.Time { return DateOf(m.CreatedAt) }

// UpdatedOn returns the zero time if the entity was never updated.
func (m Metadata) UpdatedOn() time.Time {
	if m.UpdatedAt.IsZero() {
		return time.Time{}
	}
	return DateOf(m.UpdatedAt)
}

// FormatKey builds a key such as FLASHCARD_17.
func FormatKey(kind Kind, n int64) string {
	return fmt.Sprintf("%s_%d", kind, n)
}

// KindOf recovers the kind prefix from a key. It returns false when the key
// does not end in _<digits>.
func KindOf(key string) (Kind, bool) {
	i := strings.LastIndex(key, "_")
	if i <= 0 || i == len(key)-1 {
		return "", false
	}
	if _, err := strconv.ParseInt(key[i+1:], 10, 64); err != nil {
		return "", false
	}
	return Kind(strings.ToUpper(key[:i])), true
}

// NumberOf returns the trailing running number of a key.
func NumberOf(key string) (int64, bool) {
	i := strings.LastIndex(key, "_")
	if i < 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(key[i+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// DateOf truncates t to midnight of its UTC calendar day, whatever its
// location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}
