package importer

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/conorfennell/studyfrog/internal/domain"
	"github.com/conorfennell/studyfrog/internal/storage"
)

// stackTree caches the stacks touched by one reconcile and writes back the
// ones that changed.
type stackTree struct {
	db     *storage.DB
	now    time.Time
	stacks map[string]domain.Stack
	dirty  map[string]bool
}

func newStackTree(db *storage.DB, now time.Time) *stackTree {
	return &stackTree{
		db:     db,
		now:    now,
		stacks: make(map[string]domain.Stack),
		dirty:  make(map[string]bool),
	}
}

// ensure returns the stack for a slash-separated name, creating it and any
// missing ancestors.
func (t *stackTree) ensure(ctx context.Context, name string) (domain.Stack, error) {
	if s, ok := t.stacks[name]; ok {
		return s, nil
	}
	s, err := t.db.FindStackByName(ctx, name)
	if err == nil {
		t.stacks[name] = s
		return s, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Stack{}, err
	}

	s = domain.NewStack(name, t.now)
	var parent domain.Stack
	parentName := path.Dir(name)
	hasParent := parentName != "." && parentName != "/"
	if hasParent {
		if parent, err = t.ensure(ctx, parentName); err != nil {
			return domain.Stack{}, err
		}
		s.Parent = parent.Key
	}
	if s, err = t.db.CreateStack(ctx, s); err != nil {
		return domain.Stack{}, err
	}
	t.stacks[name] = s
	if hasParent {
		t.update(parentName, t.stacks[parentName].WithChild(s.Key))
	}
	return s, nil
}

// assign replaces the item lists of every stack under root with the scanned
// ones and records the keys each list loses in dropped.
func (t *stackTree) assign(ctx context.Context, root string, items map[string][]string, dropped map[string]bool) error {
	all, err := t.db.AllStacks(ctx)
	if err != nil {
		return err
	}
	for _, s := range all {
		if s.Name != root && !strings.HasPrefix(s.Name, root+"/") {
			continue
		}
		if _, ok := t.stacks[s.Name]; !ok {
			t.stacks[s.Name] = s
		}
		want := dedupe(items[s.Name])
		for _, k := range t.stacks[s.Name].Items {
			if !slices.Contains(want, k) {
				dropped[k] = true
			}
		}
		if !slices.Equal(t.stacks[s.Name].Items, want) {
			updated := t.stacks[s.Name].Clone()
			updated.Items = want
			t.update(s.Name, updated)
		}
	}
	return nil
}

func (t *stackTree) update(name string, s domain.Stack) {
	s.UpdatedAt = t.now
	t.stacks[name] = s
	t.dirty[name] = true
}

func (t *stackTree) flush(ctx context.Context) error {
	for name := range t.dirty {
		if err := t.db.UpdateStack(ctx, t.stacks[name]); err != nil {
			return err
		}
	}
	clear(t.dirty)
	return nil
}

func dedupe(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// keyCache resolves difficulty and priority names to keys and creates labels
// on first use. Unknown weight names are logged once and left empty.
type keyCache struct {
	db   *storage.DB
	log  *slog.Logger
	keys map[string]string
}

func newKeyCache(db *storage.DB, log *slog.Logger) *keyCache {
	return &keyCache{db: db, log: log, keys: make(map[string]string)}
}

func (k *keyCache) difficulty(ctx context.Context, name string) (string, error) {
	return k.lookup(ctx, "difficulty", name, func(ctx context.Context, name string) (string, error) {
		d, err := k.db.DifficultyByName(ctx, name)
		return d.Key, err
	})
}

func (k *keyCache) priority(ctx context.Context, name string) (string, error) {
	return k.lookup(ctx, "priority", name, func(ctx context.Context, name string) (string, error) {
		p, err := k.db.PriorityByName(ctx, name)
		return p.Key, err
	})
}

func (k *keyCache) lookup(ctx context.Context, kind, name string, find func(context.Context, string) (string, error)) (string, error) {
	if name == "" {
		return "", nil
	}
	cacheKey := kind + ":" + name
	if key, ok := k.keys[cacheKey]; ok {
		return key, nil
	}
	key, err := find(ctx, name)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return "", err
		}
		k.log.Warn("Unknown "+kind+" name, ignoring", "name", name)
		key = ""
	}
	k.keys[cacheKey] = key
	return key, nil
}

func (k *keyCache) subject(ctx context.Context, name string) (string, error) {
	return k.lookup(ctx, "subject", name, func(ctx context.Context, name string) (string, error) {
		s, err := k.db.EnsureSubject(ctx, name)
		return s.Key, err
	})
}

func (k *keyCache) teacher(ctx context.Context, name string) (string, error) {
	return k.lookup(ctx, "teacher", name, func(ctx context.Context, name string) (string, error) {
		t, err := k.db.EnsureTeacher(ctx, name)
		return t.Key, err
	})
}

func (k *keyCache) tags(ctx context.Context, values []string) ([]string, error) {
	var keys []string
	for _, v := range values {
		key, err := k.lookup(ctx, "tag", v, func(ctx context.Context, v string) (string, error) {
			t, err := k.db.EnsureTag(ctx, v)
			return t.Key, err
		})
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return dedupe(keys), nil
}
