package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/flowork/flowcore/pkg/cmd"
	"github.com/flowork/flowcore/pkg/log"
	cli "github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const defaultPort = 9091

func main() {
	flags := append([]cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
	}, cmd.EngineFlags(0)...)

	command := &cli.Command{
		Name:                  "flowcore-api",
		Usage:                 "Dispatch workflows and control executions over HTTP",
		EnableShellCompletion: true,
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("flowcore-api")

			cfg, err := cmd.LoadConfig(command)
			if err != nil {
				return err
			}

			logger.InfoContext(ctx, "Initializing flowcore API", "embedded_workers", cfg.Workers)

			eng, release, err := cmd.NewEngine(ctx, command, cfg, "flowcore-api", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := release(); err != nil {
					logger.ErrorContext(ctx, "Failed to release engine", "error", err)
				}
			}()

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			api := NewAPI(logger, eng)
			group, ctx := errgroup.WithContext(ctx)

			group.Go(func() error {
				return eng.Run(ctx)
			})

			group.Go(func() error {
				return api.Start(ctx, command.Int("port"))
			})

			if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				logger.ErrorContext(ctx, "flowcore API stopped with error", "error", err)

				return err
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
