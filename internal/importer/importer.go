package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conorfennell/studyfrog/internal/domain"
	"github.com/conorfennell/studyfrog/internal/exchange"
	"github.com/conorfennell/studyfrog/internal/fingerprint"
	"github.com/conorfennell/studyfrog/internal/gitsource"
	"github.com/conorfennell/studyfrog/internal/parser"
	"github.com/conorfennell/studyfrog/internal/storage"
)

// Options controls where git sources are checked out and how many are
// fetched at once.
type Options struct {
	ReposDir    string
	Concurrency int
}

// Importer turns Markdown sources into stacks and content. Each directory
// becomes a stack named after its path, nested under its parent directory.
type Importer struct {
	db   *storage.DB
	git  *gitsource.Syncer
	log  *slog.Logger
	opts Options
	now  func() time.Time
}

// Report summarizes one sync.
type Report struct {
	Sources    int
	Files      int
	Created    int
	Updated    int
	Unassigned int
	Errors     int
}

func New(db *storage.DB, log *slog.Logger, opts Options) *Importer {
	if log == nil {
		log = slog.Default()
	}
	if opts.ReposDir == "" {
		opts.ReposDir = "repos"
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Importer{
		db:   db,
		git:  gitsource.New(log),
		log:  log,
		opts: opts,
		now:  time.Now,
	}
}

// AddSources registers local directories or git URLs. Local paths are stored
// as absolute paths.
func (im *Importer) AddSources(ctx context.Context, paths ...string) ([]storage.Source, error) {
	var out []storage.Source
	for _, p := range paths {
		if !gitsource.IsGitURL(p) {
			abs, err := filepath.Abs(p)
			if err != nil {
				return out, fmt.Errorf("failed to resolve source %s: %w", p, err)
			}
			p = abs
		}
		src, err := im.db.InsertSource(ctx, p)
		if err != nil {
			return out, err
		}
		im.log.Info("Source registered", "id", src.ID, "path", src.Path)
		out = append(out, src)
	}
	return out, nil
}

type parsedFile struct {
	path    string
	stack   string
	entries []parser.Entry
}

type scanResult struct {
	source storage.Source
	root   string
	files  []parsedFile
	errors int
	failed bool
}

// Sync fetches and parses every source concurrently, then reconciles the
// results with the database one source at a time. Content dropped from a
// synced stack and held by no other stack is unassigned, not deleted, so its
// rehearsal history survives.
func (im *Importer) Sync(ctx context.Context) (Report, error) {
	im.log.Info("Starting sync process for all sources")
	sources, err := im.db.Sources(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to get sources: %w", err)
	}
	if len(sources) == 0 {
		im.log.Info("No sources configured")
		return Report{}, nil
	}

	scans := make([]scanResult, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.opts.Concurrency)
	for i, src := range sources {
		g.Go(func() error {
			scans[i] = im.scan(gctx, src)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	r := Report{Sources: len(sources)}
	dropped := make(map[string]bool)
	complete := true
	for _, s := range scans {
		r.Errors += s.errors
		if s.failed {
			complete = false
			continue
		}
		if err := im.reconcile(ctx, s, dropped, &r); err != nil {
			return r, err
		}
	}

	if !complete {
		im.log.Warn("Some sources failed, keeping stack assignments of unseen content")
	} else if err := im.unassignOrphans(ctx, dropped, &r); err != nil {
		return r, err
	}

	im.log.Info("Sync process complete",
		"sources", r.Sources,
		"files", r.Files,
		"created", r.Created,
		"updated", r.Updated,
		"unassigned", r.Unassigned,
		"errors", r.Errors,
	)
	return r, nil
}

// scan checks out a git source if needed and parses its Markdown files.
func (im *Importer) scan(ctx context.Context, src storage.Source) scanResult {
	s := scanResult{source: src}
	log := im.log.With("source", src.Path)

	dir := src.Path
	if gitsource.IsGitURL(src.Path) {
		local, err := gitsource.LocalPath(im.opts.ReposDir, src.Path)
		if err != nil {
			log.Error("Error determining local path for git repo", "error", err)
			s.failed, s.errors = true, 1
			return s
		}
		if err := im.git.Sync(ctx, src.Path, local); err != nil {
			log.Error("Error syncing git repo", "error", err)
			s.failed, s.errors = true, 1
			return s
		}
		dir = local
	}
	s.root = filepath.Base(dir)

	walkErr := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(d.Name()), ".md") {
			return nil
		}

		entries, err := parser.ParseFile(p)
		if err != nil {
			log.Warn("Failed to parse file", "file", p, "error", err)
			s.errors++
			return nil
		}
		rel, err := filepath.Rel(dir, filepath.Dir(p))
		if err != nil {
			return err
		}
		s.files = append(s.files, parsedFile{
			path:    p,
			stack:   path.Join(s.root, filepath.ToSlash(rel)),
			entries: entries,
		})
		return nil
	})
	if walkErr != nil {
		log.Error("Error walking directory", "path", dir, "error", walkErr)
		s.failed = true
		s.errors++
	}
	return s
}

// reconcile upserts the content of one scanned source and rebuilds the item
// lists of its stacks. Keys removed from those lists are added to dropped.
func (im *Importer) reconcile(ctx context.Context, s scanResult, dropped map[string]bool, r *Report) error {
	now := im.now()
	tree := newStackTree(im.db, now)
	keys := newKeyCache(im.db, im.log)
	items := make(map[string][]string)

	for _, f := range s.files {
		r.Files++
		if _, err := tree.ensure(ctx, f.stack); err != nil {
			return err
		}
		for _, e := range f.entries {
			key, created, updated, err := im.upsert(ctx, e, labels{}, keys, now)
			if err != nil {
				return fmt.Errorf("failed to import entry at %s:%d: %w", f.path, e.Line, err)
			}
			if created {
				r.Created++
			} else if updated {
				r.Updated++
			}
			items[f.stack] = append(items[f.stack], key)
		}
	}

	if err := tree.assign(ctx, s.root, items, dropped); err != nil {
		return err
	}
	if err := tree.flush(ctx); err != nil {
		return err
	}
	if err := im.db.UpdateSourceLastScanned(ctx, s.source.ID, now); err != nil {
		im.log.Warn("Failed to update last scanned for source", "source_id", s.source.ID, "error", err)
	}
	im.log.Info("Reconciliation complete", "path", s.source.Path, "files", len(s.files))
	return nil
}

// labels holds subject, teacher and tag keys to set on imported content.
// Empty fields leave stored values alone.
type labels struct {
	subject string
	teacher string
	tags    []string
}

func (im *Importer) upsert(ctx context.Context, e parser.Entry, l labels, keys *keyCache, now time.Time) (key string, created, updated bool, err error) {
	c := e.Content(now)
	c.Fingerprint = fingerprint.Of(c)
	difficulty, err := keys.difficulty(ctx, e.Difficulty)
	if err != nil {
		return "", false, false, err
	}
	priority, err := keys.priority(ctx, e.Priority)
	if err != nil {
		return "", false, false, err
	}

	existing, err := im.db.FindContentByFingerprint(ctx, c.Fingerprint)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.Difficulty, c.Priority = difficulty, priority
		c.Subject, c.Teacher, c.Tags = l.subject, l.teacher, l.tags
		c.IsAssignedToStack = true
		c, err = im.db.CreateContent(ctx, c)
		if err != nil {
			return "", false, false, err
		}
		im.log.Debug("New content found, inserting", "key", c.Key, "fingerprint", c.Fingerprint)
		return c.Key, true, false, nil
	case err != nil:
		return "", false, false, err
	}

	changed := false
	if difficulty != "" && difficulty != existing.Difficulty {
		existing.Difficulty, changed = difficulty, true
	}
	if priority != "" && priority != existing.Priority {
		existing.Priority, changed = priority, true
	}
	if l.subject != "" && l.subject != existing.Subject {
		existing.Subject, changed = l.subject, true
	}
	if l.teacher != "" && l.teacher != existing.Teacher {
		existing.Teacher, changed = l.teacher, true
	}
	if len(l.tags) > 0 && !slices.Equal(l.tags, existing.Tags) {
		existing.Tags, changed = l.tags, true
	}
	if !existing.IsAssignedToStack {
		existing.IsAssignedToStack, changed = true, true
	}
	if !changed {
		return existing.Key, false, false, nil
	}
	existing.UpdatedAt = now
	if err := im.db.UpdateContent(ctx, existing); err != nil {
		return "", false, false, err
	}
	return existing.Key, false, true, nil
}

// unassignOrphans clears IsAssignedToStack on dropped content that no stack
// holds any more.
func (im *Importer) unassignOrphans(ctx context.Context, dropped map[string]bool, r *Report) error {
	if len(dropped) == 0 {
		return nil
	}
	stacks, err := im.db.AllStacks(ctx)
	if err != nil {
		return err
	}
	held := make(map[string]bool)
	for _, s := range stacks {
		for _, k := range s.Items {
			held[k] = true
		}
	}
	var keys []string
	for k := range dropped {
		if !held[k] {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	contents, err := im.db.Contents(ctx, keys)
	if err != nil {
		return err
	}
	now := im.now()
	for _, k := range keys {
		c, ok := contents[k]
		if !ok || !c.IsAssignedToStack {
			continue
		}
		im.log.Info("Orphaned content, unassigning", "key", c.Key)
		c.IsAssignedToStack = false
		c.UpdatedAt = now
		if err := im.db.UpdateContent(ctx, c); err != nil {
			return err
		}
		r.Unassigned++
	}
	return nil
}

// ImportJSON adds the cards of a flashcard document to the named stack,
// creating the stack and its ancestors if needed. Cards without a difficulty
// or priority take the given defaults. Subjects, teachers and tags are
// created on first use. Cards already present, by content, are reused.
func (im *Importer) ImportJSON(ctx context.Context, r io.Reader, stack, difficulty, priority string) (Report, error) {
	doc, err := exchange.Decode(r)
	if err != nil {
		return Report{}, err
	}
	now := im.now()
	tree := newStackTree(im.db, now)
	keys := newKeyCache(im.db, im.log)
	target, err := tree.ensure(ctx, stack)
	if err != nil {
		return Report{}, err
	}

	var rep Report
	for i, card := range doc.Flashcards {
		if card.Difficulty == "" {
			card.Difficulty = difficulty
		}
		if card.Priority == "" {
			card.Priority = priority
		}
		l, err := cardLabels(ctx, card, keys)
		if err != nil {
			return rep, fmt.Errorf("failed to import card %d: %w", i+1, err)
		}
		key, created, updated, err := im.upsert(ctx, card.Entry(i+1), l, keys, now)
		if err != nil {
			return rep, fmt.Errorf("failed to import card %d: %w", i+1, err)
		}
		if created {
			rep.Created++
		} else if updated {
			rep.Updated++
		}
		target = target.WithItem(key)
	}
	if !slices.Equal(target.Items, tree.stacks[stack].Items) {
		tree.update(stack, target)
	}
	if err := tree.flush(ctx); err != nil {
		return rep, err
	}
	im.log.Info("JSON import complete", "stack", stack, "cards", len(doc.Flashcards), "created", rep.Created, "updated", rep.Updated)
	return rep, nil
}

func cardLabels(ctx context.Context, card exchange.Card, keys *keyCache) (labels, error) {
	var (
		l   labels
		err error
	)
	if l.subject, err = keys.subject(ctx, card.Subject); err != nil {
		return labels{}, err
	}
	if l.teacher, err = keys.teacher(ctx, card.Teacher); err != nil {
		return labels{}, err
	}
	if l.tags, err = keys.tags(ctx, card.Tags); err != nil {
		return labels{}, err
	}
	return l, nil
}
