package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/example/robin/internal/config"
	"github.com/example/robin/internal/logging"
)

const usage = `robin reaps aging chat rooms by vote.

Usage:
  robin <command> [flags]

Commands:
  prompt    ask rooms past the prompt age to vote, once
  reap      tally votes and abandon, continue or merge ripe rooms, once
  worker    run prompt and reap on their cron cadence (requires Redis)
  gateway   serve room notifications over websockets (requires Redis)
  migrate   apply database migrations

Run "robin <command> --help" for command flags.
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "robin:", err)
		os.Exit(1)
	}
}

// command runs one subcommand after configuration has been loaded.
type command struct {
	flags func(flagSet *pflag.FlagSet, opts *options)
	run   func(ctx context.Context, env *environment, opts *options) error
}

var commands = map[string]command{
	"prompt":  {flags: passFlags, run: runPrompt},
	"reap":    {flags: passFlags, run: runReap},
	"worker":  {flags: workerFlags, run: runWorker},
	"gateway": {flags: gatewayFlags, run: runGateway},
	"migrate": {flags: migrateFlags, run: runMigrate},
}

// options holds command line overrides. Zero values keep the configured value.
type options struct {
	envFile    string
	roomAge    int
	pageSize   int
	httpPort   int
	statusOnly bool
}

// environment bundles what every command needs.
type environment struct {
	cfg    config.Config
	logger *slog.Logger
	stdout io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		fmt.Fprint(stderr, usage)
		if len(args) == 0 {
			return errors.New("no command given")
		}
		return pflag.ErrHelp
	}

	name := args[0]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("unknown command %q", name)
	}

	var opts options
	flagSet := pflag.NewFlagSet("robin "+name, pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading ROBIN_* variables")
	if cmd.flags != nil {
		cmd.flags(flagSet, &opts)
	}
	if err := flagSet.Parse(args[1:]); err != nil {
		return err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	if err := loadEnvFile(opts.envFile); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyOverrides(&cfg, name, opts)
	if err := cfg.ValidateAges(); err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, stdout).With("command", name)
	return cmd.run(ctx, &environment{cfg: cfg, logger: logger, stdout: stdout}, &opts)
}

// loadEnvFile loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func applyOverrides(cfg *config.Config, name string, opts options) {
	if opts.roomAge > 0 {
		switch name {
		case "prompt":
			cfg.PromptAgeMinutes = opts.roomAge
		case "reap":
			cfg.ReapAgeMinutes = opts.roomAge
		}
	}
	if opts.pageSize > 0 {
		cfg.PageSize = opts.pageSize
	}
	if opts.httpPort > 0 {
		cfg.HTTPPort = opts.httpPort
	}
}

func passFlags(flagSet *pflag.FlagSet, opts *options) {
	flagSet.IntVar(&opts.roomAge, "room-age", 0, "room age in minutes (defaults to ROBIN_PROMPT_AGE_MINUTES or ROBIN_REAP_AGE_MINUTES)")
	flagSet.IntVar(&opts.pageSize, "page-size", 0, "rooms fetched per page (defaults to ROBIN_PAGE_SIZE)")
}

func workerFlags(flagSet *pflag.FlagSet, opts *options) {
	flagSet.IntVar(&opts.pageSize, "page-size", 0, "rooms fetched per page (defaults to ROBIN_PAGE_SIZE)")
}

func gatewayFlags(flagSet *pflag.FlagSet, opts *options) {
	flagSet.IntVarP(&opts.httpPort, "port", "p", 0, "listen port (defaults to ROBIN_HTTP_PORT)")
}

func migrateFlags(flagSet *pflag.FlagSet, opts *options) {
	flagSet.BoolVar(&opts.statusOnly, "status", false, "report applied and pending migrations without applying them")
}
