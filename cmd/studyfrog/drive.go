package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/conorfennell/studyfrog/internal/domain"
	"github.com/conorfennell/studyfrog/internal/rehearsal"
)

const keysHelp = "[Enter] flip  [c]orrect [w]rong [e]asy [h]ard  [d <difficulty>] rate  [n]ext [p]revious  [f]inish [q]uit"

var grades = map[string]string{
	"c": "correct",
	"w": "wrong",
	"e": "easy",
	"h": "hard",
}

// drive runs an interactive session until the run finishes, the learner
// quits or input ends. Ending input leaves the run open for resume.
func (a *app) drive(ctx context.Context, s *rehearsal.Session) error {
	run := s.Run()
	if s.State() == rehearsal.Finished {
		return a.summary(s)
	}
	fmt.Fprintf(a.out, "Rehearsing %s. %s\n", run.Key, keysHelp)
	a.moveToOpen(s)
	a.show(ctx, s)

	for a.in.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		item, content := s.Current()
		cmd, arg, _ := strings.Cut(strings.TrimSpace(a.in.Text()), " ")
		switch cmd {
		case "":
			if item.State() == domain.ItemStarted {
				if err := s.Record(ctx, item.Item, "Flipped", map[string]any{"side": "back"}); err != nil {
					return err
				}
			}
			fmt.Fprintf(a.out, "%s\n", content.Reveal())
			continue
		case "c", "w", "e", "h":
			if err := s.Complete(ctx, item.Item, grades[cmd]); err != nil {
				if errors.Is(err, rehearsal.ErrInvalidTransition) {
					fmt.Fprintf(a.out, "%v\n", err)
					continue
				}
				return err
			}
			if s.State() == rehearsal.Finished {
				return a.summary(s)
			}
			a.moveToOpen(s)
		case "d":
			difficulty, err := a.db.DifficultyByName(ctx, arg)
			if err != nil {
				fmt.Fprintf(a.out, "Unknown difficulty %q.\n", arg)
				continue
			}
			if err := s.Rate(ctx, item.Item, difficulty.Key); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Rated %s.\n", difficulty.Name)
			continue
		case "n":
			if err := s.Next(); errors.Is(err, rehearsal.ErrEndOfRun) {
				fmt.Fprintln(a.out, "This is the last item.")
				continue
			}
		case "p":
			if err := s.Previous(); errors.Is(err, rehearsal.ErrStartOfRun) {
				fmt.Fprintln(a.out, "This is the first item.")
				continue
			}
		case "f":
			if err := s.Finish(ctx, false); err != nil {
				if errors.Is(err, rehearsal.ErrInvalidTransition) {
					fmt.Fprintf(a.out, "%v\n", err)
					continue
				}
				return err
			}
			return a.summary(s)
		case "q":
			if err := s.Abandon(ctx); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Run %s abandoned.\n", run.Key)
			return nil
		default:
			fmt.Fprintln(a.out, keysHelp)
			continue
		}
		a.show(ctx, s)
	}
	if err := a.in.Err(); err != nil {
		return err
	}
	if s.State() != rehearsal.Finished {
		fmt.Fprintf(a.out, "Run %s left open. Continue with 'studyfrog resume %s'.\n", run.Key, run.Key)
	}
	return nil
}

// show prints the current item and starts it if it was never visited.
func (a *app) show(ctx context.Context, s *rehearsal.Session) {
	item, content := s.Current()
	if item.State() == domain.ItemPending {
		if err := s.Start(ctx, item.Item); err != nil {
			a.log.Warn("Failed to start item", "item", item.Item, "error", err)
		}
	}
	idx, total := s.Position()
	state := ""
	if item.State() == domain.ItemCompleted {
		state = " (" + item.Result + ")"
	}
	fmt.Fprintf(a.out, "\n[%d/%d] %s%s\n%s\n", idx+1, total, content.Key, state, content.Prompt())
}

// moveToOpen advances the cursor to the next item that is not completed,
// wrapping around to the start of the run.
func (a *app) moveToOpen(s *rehearsal.Session) {
	items := s.Items()
	idx, total := s.Position()
	for step := 0; step < total; step++ {
		target := (idx + step) % total
		if items[target].State() == domain.ItemCompleted {
			continue
		}
		for target > idx {
			s.Next()
			idx++
		}
		for target < idx {
			s.Previous()
			idx--
		}
		return
	}
}

func (a *app) summary(s *rehearsal.Session) error {
	counts := map[string]int{}
	for _, it := range s.Items() {
		counts[it.Result]++
	}
	fmt.Fprintf(a.out, "\nRun %s finished:", s.Run().Key)
	for _, result := range []string{"correct", "easy", "hard", "wrong"} {
		if n := counts[result]; n > 0 {
			fmt.Fprintf(a.out, " %d %s", n, result)
		}
	}
	fmt.Fprintln(a.out, ".")
	return nil
}
