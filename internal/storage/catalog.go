package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/conorfennell/studyfrog/internal/domain"
)

const stackColumns = identitySelect + `, name, description, author, parent, children, items`

func scanStack(row scanner) (domain.Stack, error) {
	var (
		ids             identityColumns
		s               domain.Stack
		children, items string
	)
	dest := append(ids.dest(), &s.Name, &s.Description, &s.Author, &s.Parent, &children, &items)
	if err := row.Scan(dest...); err != nil {
		return domain.Stack{}, err
	}
	var err error
	if s.Identity, s.Metadata, err = ids.decode(domain.KindStack); err != nil {
		return domain.Stack{}, err
	}
	if err := fromJSON(children, &s.Children); err != nil {
		return domain.Stack{}, err
	}
	if err := fromJSON(items, &s.Items); err != nil {
		return domain.Stack{}, err
	}
	return s, nil
}

// CreateStack inserts a new stack and returns it with its key assigned.
func (db *DB) CreateStack(ctx context.Context, s domain.Stack) (domain.Stack, error) {
	children, err := toJSON(nonNil(s.Children))
	if err != nil {
		return s, err
	}
	items, err := toJSON(nonNil(s.Items))
	if err != nil {
		return s, err
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = db.now()
	}
	s.Type = domain.KindStack
	uid := ensureUUID(s.Identity)

	err = db.withTx(ctx, func(tx *sql.Tx) error {
		id, key, err := insertKeyed(ctx, tx, "stacks", domain.KindStack, `
			INSERT INTO stacks (uuid, created_at, updated_at, name, description, author, parent, children, items)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, uid, timeValue(s.CreatedAt), timeValue(s.UpdatedAt), s.Name, s.Description, s.Author, s.Parent, children, items)
		if err != nil {
			return fmt.Errorf("failed to create stack %s: %w", s.Name, err)
		}
		s.ID, s.Key = id, key
		return nil
	})
	if err != nil {
		return s, err
	}
	s.UUID, err = parseUUID(uid)
	return s, err
}

// UpdateStack overwrites a stored stack, matched by key.
func (db *DB) UpdateStack(ctx context.Context, s domain.Stack) error {
	children, err := toJSON(nonNil(s.Children))
	if err != nil {
		return err
	}
	items, err := toJSON(nonNil(s.Items))
	if err != nil {
		return err
	}
	res, err := db.conn.ExecContext(ctx, `
		UPDATE stacks
		SET updated_at = ?, name = ?, description = ?, author = ?, parent = ?, children = ?, items = ?
		WHERE key = ?
	`, timeValue(s.UpdatedAt), s.Name, s.Description, s.Author, s.Parent, children, items, s.Key)
	if err != nil {
		return fmt.Errorf("failed to update stack %s: %w", s.Key, err)
	}
	return mustAffect(res, "stack", s.Key)
}

// Stack retrieves a stack by key.
func (db *DB) Stack(ctx context.Context, key string) (domain.Stack, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+stackColumns+` FROM stacks WHERE key = ?`, key)
	s, err := scanStack(row)
	if err != nil {
		return domain.Stack{}, notFound(err, "stack", key)
	}
	return s, nil
}

// FindStackByName retrieves a stack by its unique name.
func (db *DB) FindStackByName(ctx context.Context, name string) (domain.Stack, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+stackColumns+` FROM stacks WHERE name = ?`, name)
	s, err := scanStack(row)
	if err != nil {
		return domain.Stack{}, notFound(err, "stack named", name)
	}
	return s, nil
}

// AllStacks retrieves every stack ordered by name.
func (db *DB) AllStacks(ctx context.Context) ([]domain.Stack, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+stackColumns+` FROM stacks ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all stacks: %w", err)
	}
	defer rows.Close()

	var stacks []domain.Stack
	for rows.Next() {
		s, err := scanStack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stack row: %w", err)
		}
		stacks = append(stacks, s)
	}
	return stacks, rows.Err()
}

const contentColumns = identitySelect + `, type, front, back, text, answers, question_type, title,
	author, difficulty, priority, subject, teacher, tags, customfields,
	last_viewed_at, next_view_on, is_assigned_to_stack, fingerprint`

func scanContent(row scanner) (domain.Content, error) {
	var (
		ids                          identityColumns
		c                            domain.Content
		kind                         string
		answers, tags, customfields  string
		lastViewed, nextView, finger sql.NullString
	)
	dest := append(ids.dest(), &kind, &c.Front, &c.Back, &c.Text, &answers, &c.QuestionType, &c.Title,
		&c.Author, &c.Difficulty, &c.Priority, &c.Subject, &c.Teacher, &tags, &customfields,
		&lastViewed, &nextView, &c.IsAssignedToStack, &finger)
	if err := row.Scan(dest...); err != nil {
		return domain.Content{}, err
	}

	var err error
	if c.Identity, c.Metadata, err = ids.decode(domain.Kind(kind)); err != nil {
		return domain.Content{}, err
	}
	for _, col := range []struct {
		raw string
		v   any
	}{{answers, &c.Answers}, {tags, &c.Tags}, {customfields, &c.Customfields}} {
		if err := fromJSON(col.raw, col.v); err != nil {
			return domain.Content{}, err
		}
	}
	if c.LastViewedAt, err = parseTimePtr(lastViewed); err != nil {
		return domain.Content{}, err
	}
	if c.NextViewOn, err = parseDatePtr(nextView); err != nil {
		return domain.Content{}, err
	}
	c.Fingerprint = finger.String
	return c, nil
}

// contentArgs returns the mutable columns of c in UPDATE column order.
func contentArgs(c domain.Content) ([]any, error) {
	answers, err := toJSON(nonNil(c.Answers))
	if err != nil {
		return nil, err
	}
	tags, err := toJSON(nonNil(c.Tags))
	if err != nil {
		return nil, err
	}
	customfields, err := toJSON(nonNil(c.Customfields))
	if err != nil {
		return nil, err
	}
	return []any{
		timeValue(c.UpdatedAt), c.Front, c.Back, c.Text, answers, c.QuestionType, c.Title,
		c.Author, c.Difficulty, c.Priority, c.Subject, c.Teacher, tags, customfields,
		timePtrValue(c.LastViewedAt), dateValue(c.NextViewOn), c.IsAssignedToStack, nullString(c.Fingerprint),
	}, nil
}

// CreateContent inserts a flashcard, question or note and returns it with its
// key assigned.
func (db *DB) CreateContent(ctx context.Context, c domain.Content) (domain.Content, error) {
	if !c.Type.IsReviewable() {
		return c, fmt.Errorf("failed to create content: %q is not a content kind", c.Type)
	}
	args, err := contentArgs(c)
	if err != nil {
		return c, err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = db.now()
	}
	uid := ensureUUID(c.Identity)
	args = append([]any{uid, string(c.Type), timeValue(c.CreatedAt)}, args...)

	err = db.withTx(ctx, func(tx *sql.Tx) error {
		id, key, err := insertKeyed(ctx, tx, "contents", c.Type, `
			INSERT INTO contents (uuid, type, created_at, updated_at, front, back, text, answers, question_type, title,
				author, difficulty, priority, subject, teacher, tags, customfields,
				last_viewed_at, next_view_on, is_assigned_to_stack, fingerprint)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, args...)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", strings.ToLower(string(c.Type)), err)
		}
		c.ID, c.Key = id, key
		return nil
	})
	if err != nil {
		return c, err
	}
	c.UUID, err = parseUUID(uid)
	return c, err
}

// UpdateContent overwrites a stored content item, matched by key.
func (db *DB) UpdateContent(ctx context.Context, c domain.Content) error {
	return updateContent(ctx, db.conn, c)
}

func updateContent(ctx context.Context, q querier, c domain.Content) error {
	args, err := contentArgs(c)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		UPDATE contents
		SET updated_at = ?, front = ?, back = ?, text = ?, answers = ?, question_type = ?, title = ?,
			author = ?, difficulty = ?, priority = ?, subject = ?, teacher = ?, tags = ?, customfields = ?,
			last_viewed_at = ?, next_view_on = ?, is_assigned_to_stack = ?, fingerprint = ?
		WHERE key = ?
	`, append(args, c.Key)...)
	if err != nil {
		return fmt.Errorf("failed to update content %s: %w", c.Key, err)
	}
	return mustAffect(res, "content", c.Key)
}

// Content retrieves a single content item by key.
func (db *DB) Content(ctx context.Context, key string) (domain.Content, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+contentColumns+` FROM contents WHERE key = ?`, key)
	c, err := scanContent(row)
	if err != nil {
		return domain.Content{}, notFound(err, "content", key)
	}
	return c, nil
}

// maxParams keeps IN lists well below SQLite's variable limit.
const maxParams = 500

// Contents loads many items by key. Unknown keys are absent from the map.
func (db *DB) Contents(ctx context.Context, keys []string) (map[string]domain.Content, error) {
	out := make(map[string]domain.Content, len(keys))
	for start := 0; start < len(keys); start += maxParams {
		chunk := keys[start:min(start+maxParams, len(keys))]
		args := make([]any, len(chunk))
		for i, k := range chunk {
			args[i] = k
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")

		rows, err := db.conn.QueryContext(ctx, `SELECT `+contentColumns+` FROM contents WHERE key IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to get contents: %w", err)
		}
		for rows.Next() {
			c, err := scanContent(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan content row: %w", err)
			}
			out[c.Key] = c
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read contents: %w", err)
		}
	}
	return out, nil
}

// ContentsInStack returns the direct items of a stack in stack order.
func (db *DB) ContentsInStack(ctx context.Context, stackKey string) ([]domain.Content, error) {
	s, err := db.Stack(ctx, stackKey)
	if err != nil {
		return nil, err
	}
	byKey, err := db.Contents(ctx, s.Items)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Content, 0, len(s.Items))
	for _, k := range s.Items {
		if c, ok := byKey[k]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// FindContentByFingerprint retrieves imported content by its fingerprint.
func (db *DB) FindContentByFingerprint(ctx context.Context, fingerprint string) (domain.Content, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+contentColumns+` FROM contents WHERE fingerprint = ?`, fingerprint)
	c, err := scanContent(row)
	if err != nil {
		return domain.Content{}, notFound(err, "content with fingerprint", fingerprint)
	}
	return c, nil
}

const (
	difficultiesTable = "difficulties"
	prioritiesTable   = "priorities"
)

// weightRow is the shared shape of difficulties and priorities.
type weightRow struct {
	domain.Identity
	domain.Metadata

	DisplayName string
	Name        string
	Value       float64
}

func insertWeight(ctx context.Context, q querier, table string, kind domain.Kind, w weightRow, now time.Time) (weightRow, error) {
	uid := ensureUUID(w.Identity)
	id, key, err := insertKeyed(ctx, q, table, kind, `
		INSERT INTO `+table+` (uuid, created_at, display_name, name, value)
		VALUES (?, ?, ?, ?, ?)
	`, uid, timeValue(now), w.DisplayName, w.Name, w.Value)
	if err != nil {
		return w, err
	}
	w.ID, w.Key, w.CreatedAt, w.Type = id, key, now, kind
	w.UUID, err = parseUUID(uid)
	return w, err
}

func (db *DB) weights(ctx context.Context, table string, kind domain.Kind, where string, args ...any) ([]weightRow, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+identitySelect+`, display_name, name, value
		FROM `+table+` `+where+` ORDER BY value, id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", table, err)
	}
	defer rows.Close()

	var out []weightRow
	for rows.Next() {
		var (
			ids identityColumns
			w   weightRow
		)
		if err := rows.Scan(append(ids.dest(), &w.DisplayName, &w.Name, &w.Value)...); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		if w.Identity, w.Metadata, err = ids.decode(kind); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (db *DB) weight(ctx context.Context, table string, kind domain.Kind, column, value string) (weightRow, error) {
	rows, err := db.weights(ctx, table, kind, `WHERE `+column+` = ?`, value)
	if err != nil {
		return weightRow{}, err
	}
	if len(rows) == 0 {
		return weightRow{}, fmt.Errorf("%s %s: %w", strings.ToLower(string(kind)), value, domain.ErrNotFound)
	}
	return rows[0], nil
}

func (w weightRow) difficulty() domain.Difficulty {
	return domain.Difficulty{Identity: w.Identity, Metadata: w.Metadata, DisplayName: w.DisplayName, Name: w.Name, Value: w.Value}
}

func (w weightRow) priority() domain.Priority {
	return domain.Priority{Identity: w.Identity, Metadata: w.Metadata, DisplayName: w.DisplayName, Name: w.Name, Value: w.Value}
}

// Difficulties returns the difficulty catalog, easiest first.
func (db *DB) Difficulties(ctx context.Context) ([]domain.Difficulty, error) {
	rows, err := db.weights(ctx, difficultiesTable, domain.KindDifficulty, "")
	if err != nil {
		return nil, err
	}
	out := make([]domain.Difficulty, len(rows))
	for i, w := range rows {
		out[i] = w.difficulty()
	}
	return out, nil
}

// Difficulty retrieves a difficulty by key.
func (db *DB) Difficulty(ctx context.Context, key string) (domain.Difficulty, error) {
	w, err := db.weight(ctx, difficultiesTable, domain.KindDifficulty, "key", key)
	return w.difficulty(), err
}

// DifficultyByName retrieves a difficulty by its name, such as "hard".
func (db *DB) DifficultyByName(ctx context.Context, name string) (domain.Difficulty, error) {
	w, err := db.weight(ctx, difficultiesTable, domain.KindDifficulty, "name", strings.ToLower(name))
	return w.difficulty(), err
}

// Priorities returns the priority catalog, lowest first.
func (db *DB) Priorities(ctx context.Context) ([]domain.Priority, error) {
	rows, err := db.weights(ctx, prioritiesTable, domain.KindPriority, "")
	if err != nil {
		return nil, err
	}
	out := make([]domain.Priority, len(rows))
	for i, w := range rows {
		out[i] = w.priority()
	}
	return out, nil
}

// Priority retrieves a priority by key.
func (db *DB) Priority(ctx context.Context, key string) (domain.Priority, error) {
	w, err := db.weight(ctx, prioritiesTable, domain.KindPriority, "key", key)
	return w.priority(), err
}

// PriorityByName retrieves a priority by its name, such as "high".
func (db *DB) PriorityByName(ctx context.Context, name string) (domain.Priority, error) {
	w, err := db.weight(ctx, prioritiesTable, domain.KindPriority, "name", strings.ToLower(name))
	return w.priority(), err
}

// nonNil keeps empty lists encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
