// Command tasks is the interactive task manager. Tasks are kept in a JSON
// file between runs; "tasks board" shows a live view driven by the bus.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/vinayprograms/taskkit/app"
	"github.com/vinayprograms/taskkit/cli"
	"github.com/vinayprograms/taskkit/config"
	"github.com/vinayprograms/taskkit/logging"
	"github.com/vinayprograms/taskkit/persist"
	"github.com/vinayprograms/taskkit/tasks"
	"github.com/vinayprograms/taskkit/ui"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

var errNoBus = errors.New("board needs bus.backend set to memory or nats")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	board := len(args) > 0 && args[0] == "board"
	name := "tasks"
	if board {
		args = args[1:]
		name = "tasks board"
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to taskkit.toml")
	filePath := fs.String("file", "", "override file.path")
	format := fs.String("format", "", "override file.format (native|legacy)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, _, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", name, err)
		return exitUsage
	}
	if *filePath != "" {
		cfg.File.Path = *filePath
	}
	if *format != "" {
		cfg.File.Format = *format
	}
	ff, err := persist.ParseFormat(cfg.File.Format)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", name, err)
		return exitUsage
	}
	file := &persist.File{Path: cfg.File.Path, Format: ff}

	logger := logging.New()
	logger.SetOutput(stderr)
	logger.SetLevel(logging.ParseLevel(cfg.Log.Level))
	logger.SetFormat(logging.Format(cfg.Log.Format))

	if board {
		err = runBoard(ctx, cfg, file, logger)
	} else {
		err = runMenu(ctx, cfg, file, stdin, stdout, stderr, logger)
	}
	if errors.Is(err, errNoBus) {
		fmt.Fprintf(stderr, "%s: %v\n", name, err)
		return exitUsage
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(stderr, "%s: %v\n", name, err)
		return exitError
	}
	return exitOK
}

// runMenu keeps the collection in memory and mirrors it to the file after
// every command. Events still reach the configured bus.
func runMenu(ctx context.Context, cfg *config.Config, file *persist.File,
	stdin io.Reader, stdout, stderr io.Writer, logger *logging.Logger) error {
	cfg.Store.Backend = "memory"
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := cli.Restore(ctx, a.Store, file)
	if err != nil {
		return fmt.Errorf("load %s: %w", file.Path, err)
	}
	logger.Debug("tasks restored", map[string]any{"path": file.Path, "count": n})

	menu := cli.NewMenu(a.Store, file, stdin, stdout,
		cli.WithErrorOutput(stderr),
		cli.WithLogger(logger.WithComponent("cli")),
	)
	return menu.Run(ctx)
}

// runBoard follows the bus. With a memory state backend the collection is
// read from the file the menu writes; otherwise from the shared store.
func runBoard(ctx context.Context, cfg *config.Config, file *persist.File, logger *logging.Logger) error {
	if cfg.Bus.Backend == "" || cfg.Bus.Backend == "none" {
		return errNoBus
	}
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	load := a.Store.Tasks
	if cfg.Store.Backend == "memory" {
		load = fileLoader(file)
	}
	return ui.RunBoard(ctx, load, a.Bus, a.Prefix)
}

func fileLoader(file *persist.File) ui.Loader {
	return func(ctx context.Context) ([]tasks.Task, error) {
		all, err := file.Load(ctx)
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return all, err
	}
}
