package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/conorfennell/studyfrog/internal/config"
	"github.com/conorfennell/studyfrog/internal/domain"
	"github.com/conorfennell/studyfrog/internal/exchange"
	"github.com/conorfennell/studyfrog/internal/importer"
	"github.com/conorfennell/studyfrog/internal/rehearsal"
	"github.com/conorfennell/studyfrog/internal/storage"
)

var errUsage = errors.New("invalid usage")

type app struct {
	db  *storage.DB
	cfg *config.Config
	log *slog.Logger
	in  *bufio.Scanner
	out io.Writer
}

func newApp(db *storage.DB, cfg *config.Config, log *slog.Logger, in io.Reader, out io.Writer) *app {
	return &app{db: db, cfg: cfg, log: log, in: bufio.NewScanner(in), out: out}
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "import":
		if len(args) == 0 {
			return fmt.Errorf("%w: import needs at least one path or git URL", errUsage)
		}
		return a.importSources(ctx, args)
	case "import-json":
		if len(args) < 2 || len(args) > 4 {
			return fmt.Errorf("%w: import-json needs a file, a stack and optionally a difficulty and priority", errUsage)
		}
		return a.importJSON(ctx, args[0], args[1], args[2:])
	case "export":
		return a.export(ctx, args)
	case "sync":
		return a.importSources(ctx, nil)
	case "stacks":
		return a.stacks(ctx)
	case "due":
		return a.due(ctx, args)
	case "rehearse":
		if len(args) == 0 {
			return fmt.Errorf("%w: rehearse needs at least one stack", errUsage)
		}
		return a.rehearse(ctx, args)
	case "runs":
		return a.runs(ctx)
	case "resume":
		if len(args) != 1 {
			return fmt.Errorf("%w: resume needs exactly one run key", errUsage)
		}
		return a.resume(ctx, args[0])
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, command)
}

func (a *app) importSources(ctx context.Context, paths []string) error {
	im := a.importer()
	if _, err := im.AddSources(ctx, paths...); err != nil {
		return err
	}
	report, err := im.Sync(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Synced %d sources: %d files, %d created, %d updated, %d unassigned, %d errors.\n",
		report.Sources, report.Files, report.Created, report.Updated, report.Unassigned, report.Errors)
	return nil
}

func (a *app) importer() *importer.Importer {
	return importer.New(a.db, a.log, importer.Options{
		ReposDir:    a.cfg.Import.ReposDir,
		Concurrency: a.cfg.Import.Concurrency,
	})
}

// importJSON adds a flashcard document to a stack. weights holds optional
// difficulty and priority names for cards that carry none.
func (a *app) importJSON(ctx context.Context, file, stack string, weights []string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	weights = append(weights, "", "")
	report, err := a.importer().ImportJSON(ctx, f, stack, weights[0], weights[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Imported into %s: %d created, %d updated.\n", stack, report.Created, report.Updated)
	return nil
}

func (a *app) export(ctx context.Context, args []string) error {
	keys, err := a.stackKeys(ctx, args)
	if err != nil {
		return err
	}
	n, err := exchange.Export(ctx, a.db, a.log, a.out, keys)
	if err != nil {
		return err
	}
	a.log.Info("Export complete", "stacks", len(keys), "flashcards", n)
	return nil
}

func (a *app) stacks(ctx context.Context) error {
	all, err := a.db.AllStacks(ctx)
	if err != nil {
		return err
	}
	if len(all) == 0 {
		fmt.Fprintln(a.out, "No stacks yet. Run 'studyfrog import <path>' first.")
		return nil
	}
	byKey := make(map[string]domain.Stack, len(all))
	for _, s := range all {
		byKey[s.Key] = s
	}
	var walk func(s domain.Stack, depth int)
	walk = func(s domain.Stack, depth int) {
		fmt.Fprintf(a.out, "%s%s (%s, %d items)\n", strings.Repeat("  ", depth), path.Base(s.Name), s.Key, len(s.Items))
		for _, child := range s.Children {
			if c, ok := byKey[child]; ok {
				walk(c, depth+1)
			}
		}
	}
	for _, s := range all {
		if s.Parent == "" {
			walk(s, 0)
		}
	}
	return nil
}

// stackKeys maps stack names or keys to keys. With no arguments it returns
// every root stack.
func (a *app) stackKeys(ctx context.Context, args []string) ([]string, error) {
	if len(args) == 0 {
		all, err := a.db.AllStacks(ctx)
		if err != nil {
			return nil, err
		}
		var roots []string
		for _, s := range all {
			if s.Parent == "" {
				roots = append(roots, s.Key)
			}
		}
		return roots, nil
	}
	keys := make([]string, 0, len(args))
	for _, arg := range args {
		if strings.HasPrefix(arg, string(domain.KindStack)+"_") {
			keys = append(keys, arg)
			continue
		}
		s, err := a.db.FindStackByName(ctx, arg)
		if err != nil {
			return nil, fmt.Errorf("stack %q: %w", arg, err)
		}
		keys = append(keys, s.Key)
	}
	return keys, nil
}

func (a *app) planner() *rehearsal.Planner {
	return rehearsal.NewPlanner(a.db, &a.cfg.Scheduler, a.log)
}

func (a *app) due(ctx context.Context, args []string) error {
	keys, err := a.stackKeys(ctx, args)
	if err != nil {
		return err
	}
	contents, err := a.planner().Select(ctx, rehearsal.Request{Stacks: keys, Configuration: a.cfg.Rehearsal})
	if err != nil {
		return err
	}
	if len(contents) == 0 {
		fmt.Fprintln(a.out, "Nothing is due.")
		return nil
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tNEXT VIEW\tPROMPT")
	for _, c := range contents {
		next := "new"
		if c.NextViewOn != nil {
			next = c.NextViewOn.Format(time.DateOnly)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.Key, next, firstLine(c.Prompt()))
	}
	return w.Flush()
}

func (a *app) rehearse(ctx context.Context, args []string) error {
	keys, err := a.stackKeys(ctx, args)
	if err != nil {
		return err
	}
	req := rehearsal.Request{Stacks: keys, Configuration: a.cfg.Rehearsal}
	if name := os.Getenv("USER"); name != "" {
		user, err := a.db.EnsureUser(ctx, name)
		if err != nil {
			return err
		}
		req.Author = user.Key
	}
	session, err := a.planner().Plan(ctx, req)
	if errors.Is(err, rehearsal.ErrNoItems) {
		fmt.Fprintln(a.out, "Nothing is due.")
		return nil
	}
	if err != nil {
		return err
	}
	return a.drive(ctx, session)
}

func (a *app) runs(ctx context.Context) error {
	open, err := a.db.OpenRuns(ctx)
	if err != nil {
		return err
	}
	if len(open) == 0 {
		fmt.Fprintln(a.out, "No open runs.")
		return nil
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tCREATED\tPROGRESS\tSTACKS")
	for _, run := range open {
		items, err := a.db.RunItems(ctx, run.Key)
		if err != nil {
			return err
		}
		done := 0
		for _, it := range items {
			if it.State() == domain.ItemCompleted {
				done++
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\n", run.Key, run.CreatedAt.Format("2006-01-02 15:04"), done, len(items), strings.Join(run.Stacks, ","))
	}
	return w.Flush()
}

func (a *app) resume(ctx context.Context, key string) error {
	session, err := rehearsal.Resume(ctx, a.db, a.db, &a.cfg.Scheduler, a.log, key)
	if err != nil {
		return err
	}
	return a.drive(ctx, session)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
