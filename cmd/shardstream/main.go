package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/samcharles93/shardstream/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:   "shardstream",
		Usage:  "Layer-streaming BLOOM inference over sharded checkpoints",
		Flags:  append(loggingFlags(), configFlag()),
		Before: setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			runCmd(),
			serveCmd(),
			inspectCmd(),
			convertCmd(),
			verifyCmd(),
			toyCmd(),
			versionCmd(),
		},
	}
}

// setup loads the config file and installs the process logger on ctx.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return ctx, err
	}
	fileConfig = cfg
	applyLoggingConfig(cmd, cfg)

	log, err := logger.Setup(os.Stderr, logger.Options{
		Format: logFormat,
		Level:  logLevel,
		Debug:  debug,
		Color:  term.IsTerminal(int(os.Stderr.Fd())),
	})
	if err != nil {
		return ctx, err
	}
	return logger.WithContext(ctx, log), nil
}
