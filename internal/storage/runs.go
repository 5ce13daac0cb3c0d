package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/conorfennell/studyfrog/internal/domain"
)

const runColumns = identitySelect + `, author, stacks, configuration, items,
	scheduled_at, started_at, completed_at, abandoned_at, is_finished, duration`

func scanRun(row scanner) (domain.RehearsalRun, error) {
	var (
		ids                                    identityColumns
		r                                      domain.RehearsalRun
		stacks, configuration, items, duration string
		scheduled, started, completed, aband   sql.NullString
	)
	dest := append(ids.dest(), &r.Author, &stacks, &configuration, &items,
		&scheduled, &started, &completed, &aband, &r.IsFinished, &duration)
	if err := row.Scan(dest...); err != nil {
		return domain.RehearsalRun{}, err
	}

	var err error
	if r.Identity, r.Metadata, err = ids.decode(domain.KindRehearsalRun); err != nil {
		return domain.RehearsalRun{}, err
	}
	if err := fromJSON(stacks, &r.Stacks); err != nil {
		return domain.RehearsalRun{}, err
	}
	if r.Configuration, err = anyMap(configuration); err != nil {
		return domain.RehearsalRun{}, err
	}
	r.Items = map[string]int{}
	if err := fromJSON(items, &r.Items); err != nil {
		return domain.RehearsalRun{}, err
	}
	r.Duration = map[string]float64{}
	if err := fromJSON(duration, &r.Duration); err != nil {
		return domain.RehearsalRun{}, err
	}
	for _, p := range []struct {
		dst **time.Time
		src sql.NullString
	}{{&r.ScheduledAt, scheduled}, {&r.StartedAt, started}, {&r.CompletedAt, completed}, {&r.AbandonedAt, aband}} {
		if *p.dst, err = parseTimePtr(p.src); err != nil {
			return domain.RehearsalRun{}, err
		}
	}
	return r, nil
}

// anyMap decodes a JSON object keeping integers as int64.
func anyMap(s string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	m := map[string]any{}
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", s, err)
	}
	for k, v := range m {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := n.Int64(); err == nil {
			m[k] = i
		} else if f, err := n.Float64(); err == nil {
			m[k] = f
		}
	}
	return m, nil
}

func runArgs(r domain.RehearsalRun) ([]any, error) {
	stacks, err := toJSON(nonNil(r.Stacks))
	if err != nil {
		return nil, err
	}
	configuration, err := toJSON(nonNilMap(r.Configuration))
	if err != nil {
		return nil, err
	}
	items, err := toJSON(nonNilMap(r.Items))
	if err != nil {
		return nil, err
	}
	duration, err := toJSON(nonNilMap(r.Duration))
	if err != nil {
		return nil, err
	}
	return []any{
		timeValue(r.UpdatedAt), r.Author, stacks, configuration, items,
		timePtrValue(r.ScheduledAt), timePtrValue(r.StartedAt), timePtrValue(r.CompletedAt), timePtrValue(r.AbandonedAt),
		r.IsFinished, duration,
	}, nil
}

func updateRun(ctx context.Context, q querier, r domain.RehearsalRun) error {
	args, err := runArgs(r)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		UPDATE rehearsal_runs
		SET updated_at = ?, author = ?, stacks = ?, configuration = ?, items = ?,
			scheduled_at = ?, started_at = ?, completed_at = ?, abandoned_at = ?, is_finished = ?, duration = ?
		WHERE key = ?
	`, append(args, r.Key)...)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", r.Key, err)
	}
	return mustAffect(res, "run", r.Key)
}

const itemColumns = identitySelect + `, run, item, item_order, started_at, completed_at, result, actions`

func scanItem(row scanner) (domain.RehearsalRunItem, error) {
	var (
		ids                identityColumns
		i                  domain.RehearsalRunItem
		started, completed sql.NullString
		actions            string
	)
	dest := append(ids.dest(), &i.Run, &i.Item, &i.Order, &started, &completed, &i.Result, &actions)
	if err := row.Scan(dest...); err != nil {
		return domain.RehearsalRunItem{}, err
	}

	var err error
	if i.Identity, i.Metadata, err = ids.decode(domain.KindRehearsalItem); err != nil {
		return domain.RehearsalRunItem{}, err
	}
	if i.StartedAt, err = parseTimePtr(started); err != nil {
		return domain.RehearsalRunItem{}, err
	}
	if i.CompletedAt, err = parseTimePtr(completed); err != nil {
		return domain.RehearsalRunItem{}, err
	}
	i.Actions = []string{}
	if err := fromJSON(actions, &i.Actions); err != nil {
		return domain.RehearsalRunItem{}, err
	}
	return i, nil
}

func updateItem(ctx context.Context, q querier, i domain.RehearsalRunItem) error {
	actions, err := toJSON(nonNil(i.Actions))
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		UPDATE rehearsal_run_items
		SET updated_at = ?, started_at = ?, completed_at = ?, result = ?, actions = ?
		WHERE key = ?
	`, timeValue(i.UpdatedAt), timePtrValue(i.StartedAt), timePtrValue(i.CompletedAt), i.Result, actions, i.Key)
	if err != nil {
		return fmt.Errorf("failed to update run item %s: %w", i.Key, err)
	}
	return mustAffect(res, "run item", i.Key)
}

// CreateRun persists a new run and its items in one transaction.
func (db *DB) CreateRun(ctx context.Context, run domain.RehearsalRun, items []domain.RehearsalRunItem) (domain.RehearsalRun, []domain.RehearsalRunItem, error) {
	args, err := runArgs(run)
	if err != nil {
		return run, items, err
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = db.now()
	}
	runUUID := ensureUUID(run.Identity)

	stored := make([]domain.RehearsalRunItem, len(items))
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		id, key, err := insertKeyed(ctx, tx, "rehearsal_runs", domain.KindRehearsalRun, `
			INSERT INTO rehearsal_runs (uuid, created_at, updated_at, author, stacks, configuration, items,
				scheduled_at, started_at, completed_at, abandoned_at, is_finished, duration)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, append([]any{runUUID, timeValue(run.CreatedAt)}, args...)...)
		if err != nil {
			return fmt.Errorf("failed to create run: %w", err)
		}
		run.ID, run.Key = id, key

		for n, item := range items {
			item = item.Clone()
			item.Run = run.Key
			if item.CreatedAt.IsZero() {
				item.CreatedAt = run.CreatedAt
			}
			actions, err := toJSON(nonNil(item.Actions))
			if err != nil {
				return err
			}
			itemUUID := ensureUUID(item.Identity)
			id, key, err := insertKeyed(ctx, tx, "rehearsal_run_items", domain.KindRehearsalItem, `
				INSERT INTO rehearsal_run_items (uuid, created_at, updated_at, run, item, item_order, started_at, completed_at, result, actions)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, itemUUID, timeValue(item.CreatedAt), timeValue(item.UpdatedAt), item.Run, item.Item, item.Order,
				timePtrValue(item.StartedAt), timePtrValue(item.CompletedAt), item.Result, actions)
			if err != nil {
				return fmt.Errorf("failed to create item %s of run %s: %w", item.Item, run.Key, err)
			}
			item.ID, item.Key = id, key
			if item.UUID, err = parseUUID(itemUUID); err != nil {
				return err
			}
			stored[n] = item
		}
		return nil
	})
	if err != nil {
		return run, items, err
	}
	run.UUID, err = parseUUID(runUUID)
	return run, stored, err
}

// SaveProgress updates a run and one of its items together.
func (db *DB) SaveProgress(ctx context.Context, run domain.RehearsalRun, item domain.RehearsalRunItem) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := updateRun(ctx, tx, run); err != nil {
			return err
		}
		return updateItem(ctx, tx, item)
	})
}

// RecordAction stores an action and appends its key to the item.
func (db *DB) RecordAction(ctx context.Context, item domain.RehearsalRunItem, action domain.RehearsalAction) (domain.RehearsalRunItem, domain.RehearsalAction, error) {
	data, err := toJSON(nonNilMap(action.ActionData))
	if err != nil {
		return item, action, err
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = db.now()
	}
	if action.Timestamp.IsZero() {
		action.Timestamp = action.CreatedAt
	}
	if action.RunItem == "" {
		action.RunItem = item.Key
	}
	if action.Run == "" {
		action.Run = item.Run
	}
	uid := ensureUUID(action.Identity)

	updated := item.Clone()
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		id, key, err := insertKeyed(ctx, tx, "rehearsal_actions", domain.KindRehearsalAction, `
			INSERT INTO rehearsal_actions (uuid, created_at, run, run_item, action_data, message, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, uid, timeValue(action.CreatedAt), action.Run, action.RunItem, data, action.Message, timeValue(action.Timestamp))
		if err != nil {
			return fmt.Errorf("failed to record action on %s: %w", item.Key, err)
		}
		action.ID, action.Key = id, key
		updated.Actions = append(updated.Actions, key)
		return updateItem(ctx, tx, updated)
	})
	if err != nil {
		return item, action, err
	}
	action.UUID, err = parseUUID(uid)
	return updated, action, err
}

// CloseRun stores a finished or abandoned run together with the contents
// whose view history changed.
func (db *DB) CloseRun(ctx context.Context, run domain.RehearsalRun, contents []domain.Content) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := updateRun(ctx, tx, run); err != nil {
			return err
		}
		for _, c := range contents {
			if err := updateContent(ctx, tx, c); err != nil {
				return err
			}
		}
		return nil
	})
}

// Run retrieves a run by key.
func (db *DB) Run(ctx context.Context, key string) (domain.RehearsalRun, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+runColumns+` FROM rehearsal_runs WHERE key = ?`, key)
	r, err := scanRun(row)
	if err != nil {
		return domain.RehearsalRun{}, notFound(err, "run", key)
	}
	return r, nil
}

// OpenRuns returns runs that were neither finished nor abandoned, newest first.
func (db *DB) OpenRuns(ctx context.Context) ([]domain.RehearsalRun, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+runColumns+` FROM rehearsal_runs
		WHERE is_finished = 0 AND abandoned_at IS NULL
		ORDER BY id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get open runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.RehearsalRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunItems returns the items of a run in presentation order.
func (db *DB) RunItems(ctx context.Context, runKey string) ([]domain.RehearsalRunItem, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+itemColumns+` FROM rehearsal_run_items WHERE run = ? ORDER BY item_order`, runKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get items of run %s: %w", runKey, err)
	}
	defer rows.Close()

	var items []domain.RehearsalRunItem
	for rows.Next() {
		i, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run item row: %w", err)
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

// Actions returns the actions recorded on a run item, oldest first.
func (db *DB) Actions(ctx context.Context, runItemKey string) ([]domain.RehearsalAction, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+identitySelect+`, run, run_item, action_data, message, timestamp
		FROM rehearsal_actions WHERE run_item = ? ORDER BY id
	`, runItemKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get actions of %s: %w", runItemKey, err)
	}
	defer rows.Close()

	var actions []domain.RehearsalAction
	for rows.Next() {
		var (
			ids       identityColumns
			a         domain.RehearsalAction
			data      string
			timestamp sql.NullString
		)
		if err := rows.Scan(append(ids.dest(), &a.Run, &a.RunItem, &data, &a.Message, &timestamp)...); err != nil {
			return nil, fmt.Errorf("failed to scan action row: %w", err)
		}
		if a.Identity, a.Metadata, err = ids.decode(domain.KindRehearsalAction); err != nil {
			return nil, err
		}
		if a.ActionData, err = anyMap(data); err != nil {
			return nil, err
		}
		if a.Timestamp, err = parseTime(timestamp); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func nonNilMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return map[K]V{}
	}
	return m
}
