package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/pflag"

	"github.com/conorfennell/studyfrog/internal/config"
	"github.com/conorfennell/studyfrog/internal/logging"
	"github.com/conorfennell/studyfrog/internal/storage"
)

const usage = `Usage: studyfrog [flags] <command> [args]

Commands:
  import <path|git-url>...  register card sources and sync all of them
  sync                      sync every registered source
  import-json <file> <stack> [difficulty [priority]]
                            add a JSON flashcard document to a stack
  export [stack...]         write flashcards as JSON (all stacks when none given)
  stacks                    print the stack tree
  due [stack...]            list due items (all stacks when none given)
  rehearse <stack...>       rehearse the due items of the given stacks
  runs                      list runs that are still open
  resume <run>              continue an open run

Flags:
`

func main() {
	fs := pflag.NewFlagSet("studyfrog", pflag.ExitOnError)
	config.RegisterFlags(fs)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(2)
	}
	log := logging.New(cfg.Log)

	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	db, err := storage.Open(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to open database", "path", cfg.Database.Path, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Debug("Database opened successfully", "path", cfg.Database.Path)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := newApp(db, cfg, log, os.Stdin, os.Stdout)
	if err := a.run(ctx, fs.Arg(0), fs.Args()[1:]); err != nil {
		log.Error("Command failed", "command", fs.Arg(0), "error", err)
		db.Close()
		os.Exit(1)
	}
}
