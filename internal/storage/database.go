package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/conorfennell/studyfrog/internal/domain"
	"github.com/conorfennell/studyfrog/internal/rehearsal"
	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Registers the sqlite driver
)

var (
	_ rehearsal.Store     = (*DB)(nil)
	_ rehearsal.RunLoader = (*DB)(nil)
)

// Timestamps are stored as RFC 3339 text, calendar dates as YYYY-MM-DD.
const (
	timeLayout = time.RFC3339Nano
	dateLayout = time.DateOnly
)

// DB represents a wrapper around the SQL database connection.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Open creates a new database connection, ensures the schema is up to date
// and seeds the default difficulty and priority catalog.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite has a single writer.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Execute the schema to create tables if they don't exist.
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	db := &DB{conn: conn, now: time.Now}
	if err := db.seed(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) seed(ctx context.Context) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM difficulties`).Scan(&n); err != nil {
			return fmt.Errorf("failed to count difficulties: %w", err)
		}
		if n == 0 {
			for _, d := range domain.DefaultDifficulties() {
				if _, err := insertWeight(ctx, tx, difficultiesTable, domain.KindDifficulty, weightRow{Identity: domain.NewIdentity(), DisplayName: d.DisplayName, Name: d.Name, Value: d.Value}, db.now()); err != nil {
					return err
				}
			}
		}
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM priorities`).Scan(&n); err != nil {
			return fmt.Errorf("failed to count priorities: %w", err)
		}
		if n == 0 {
			for _, p := range domain.DefaultPriorities() {
				if _, err := insertWeight(ctx, tx, prioritiesTable, domain.KindPriority, weightRow{Identity: domain.NewIdentity(), DisplayName: p.DisplayName, Name: p.Name, Value: p.Value}, db.now()); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// withTx runs fn in a transaction, committing only if fn succeeds.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// insertKeyed runs an INSERT and stamps the new row with its KIND_<id> key.
func insertKeyed(ctx context.Context, q querier, table string, kind domain.Kind, query string, args ...any) (int64, string, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, "", fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, "", fmt.Errorf("failed to get last insert ID for %s: %w", table, err)
	}
	key := domain.FormatKey(kind, id)
	if _, err := q.ExecContext(ctx, `UPDATE `+table+` SET key = ? WHERE id = ?`, key, id); err != nil {
		return 0, "", fmt.Errorf("failed to assign key %s: %w", key, err)
	}
	return id, key, nil
}

// mustAffect turns an UPDATE that matched no row into domain.ErrNotFound.
func mustAffect(res sql.Result, what, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for %s %s: %w", what, key, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, key, domain.ErrNotFound)
	}
	return nil
}

func notFound(err error, what, key string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, key, domain.ErrNotFound)
	}
	return fmt.Errorf("failed to find %s %s: %w", what, key, err)
}

func ensureUUID(id domain.Identity) string {
	if id.UUID == uuid.Nil {
		return uuid.NewString()
	}
	return id.UUID.String()
}

func parseUUID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to parse uuid %q: %w", s, err)
	}
	return id, nil
}

func timeValue(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func timePtrValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timeValue(*t)
}

func dateValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return domain.DateOf(*t).Format(dateLayout)
}

func parseTime(s sql.NullString) (time.Time, error) {
	if !s.Valid {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s.String, err)
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseDatePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s.String)
	if err != nil {
		return nil, fmt.Errorf("failed to parse date %q: %w", s.String, err)
	}
	return &t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode %T: %w", v, err)
	}
	return string(b), nil
}

func fromJSON(s string, v any) error {
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("failed to decode %T: %w", v, err)
	}
	return nil
}

// identityColumns scans the shared id, key, uuid and timestamp columns.
type identityColumns struct {
	id        int64
	key       string
	uuid      string
	createdAt sql.NullString
	updatedAt sql.NullString
}

func (c *identityColumns) dest() []any {
	return []any{&c.id, &c.key, &c.uuid, &c.createdAt, &c.updatedAt}
}

func (c *identityColumns) decode(kind domain.Kind) (domain.Identity, domain.Metadata, error) {
	id, err := parseUUID(c.uuid)
	if err != nil {
		return domain.Identity{}, domain.Metadata{}, err
	}
	created, err := parseTime(c.createdAt)
	if err != nil {
		return domain.Identity{}, domain.Metadata{}, err
	}
	updated, err := parseTime(c.updatedAt)
	if err != nil {
		return domain.Identity{}, domain.Metadata{}, err
	}
	return domain.Identity{ID: c.id, Key: c.key, UUID: id},
		domain.Metadata{Type: kind, CreatedAt: created, UpdatedAt: updated},
		nil
}

const identitySelect = `id, key, uuid, created_at, updated_at`
