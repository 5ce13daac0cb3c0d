package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/conorfennell/studyfrog/internal/domain"
)

// labelRow is the shared shape of users, subjects, teachers and tags.
type labelRow struct {
	domain.Identity
	domain.Metadata

	Name string
}

// ensureLabel returns the row with the given name, creating it if needed.
func (db *DB) ensureLabel(ctx context.Context, table string, kind domain.Kind, name string) (labelRow, error) {
	var l labelRow
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var ids identityColumns
		err := tx.QueryRowContext(ctx, `SELECT `+identitySelect+`, name FROM `+table+` WHERE name = ?`, name).
			Scan(append(ids.dest(), &l.Name)...)
		switch {
		case err == nil:
			l.Identity, l.Metadata, err = ids.decode(kind)
			return err
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to find %s %s: %w", strings.ToLower(string(kind)), name, err)
		}

		now := db.now()
		uid := ensureUUID(domain.Identity{})
		id, key, err := insertKeyed(ctx, tx, table, kind, `
			INSERT INTO `+table+` (uuid, created_at, name) VALUES (?, ?, ?)
		`, uid, timeValue(now), name)
		if err != nil {
			return fmt.Errorf("failed to create %s %s: %w", strings.ToLower(string(kind)), name, err)
		}
		l = labelRow{Identity: domain.Identity{ID: id, Key: key}, Metadata: domain.NewMetadata(kind, now), Name: name}
		l.UUID, err = parseUUID(uid)
		return err
	})
	return l, err
}

func (db *DB) label(ctx context.Context, table string, kind domain.Kind, key string) (labelRow, error) {
	var (
		l   labelRow
		ids identityColumns
	)
	err := db.conn.QueryRowContext(ctx, `SELECT `+identitySelect+`, name FROM `+table+` WHERE key = ?`, key).
		Scan(append(ids.dest(), &l.Name)...)
	if err != nil {
		return labelRow{}, notFound(err, strings.ToLower(string(kind)), key)
	}
	l.Identity, l.Metadata, err = ids.decode(kind)
	return l, err
}

// EnsureUser returns the user with the given name, creating it if needed.
func (db *DB) EnsureUser(ctx context.Context, name string) (domain.User, error) {
	l, err := db.ensureLabel(ctx, "users", domain.KindUser, name)
	return domain.User{Identity: l.Identity, Metadata: l.Metadata, Name: l.Name}, err
}

func (db *DB) EnsureSubject(ctx context.Context, name string) (domain.Subject, error) {
	l, err := db.ensureLabel(ctx, "subjects", domain.KindSubject, name)
	return domain.Subject{Identity: l.Identity, Metadata: l.Metadata, Name: l.Name}, err
}

func (db *DB) Subject(ctx context.Context, key string) (domain.Subject, error) {
	l, err := db.label(ctx, "subjects", domain.KindSubject, key)
	return domain.Subject{Identity: l.Identity, Metadata: l.Metadata, Name: l.Name}, err
}

func (db *DB) EnsureTeacher(ctx context.Context, name string) (domain.Teacher, error) {
	l, err := db.ensureLabel(ctx, "teachers", domain.KindTeacher, name)
	return domain.Teacher{Identity: l.Identity, Metadata: l.Metadata, Name: l.Name}, err
}

func (db *DB) Teacher(ctx context.Context, key string) (domain.Teacher, error) {
	l, err := db.label(ctx, "teachers", domain.KindTeacher, key)
	return domain.Teacher{Identity: l.Identity, Metadata: l.Metadata, Name: l.Name}, err
}

// EnsureTag returns the tag with the given value, creating it if needed.
func (db *DB) EnsureTag(ctx context.Context, value string) (domain.Tag, error) {
	l, err := db.ensureLabel(ctx, "tags", domain.KindTag, value)
	return domain.Tag{Identity: l.Identity, Metadata: l.Metadata, Value: l.Name}, err
}

func (db *DB) Tag(ctx context.Context, key string) (domain.Tag, error) {
	l, err := db.label(ctx, "tags", domain.KindTag, key)
	return domain.Tag{Identity: l.Identity, Metadata: l.Metadata, Value: l.Name}, err
}
