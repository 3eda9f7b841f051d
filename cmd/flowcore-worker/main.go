package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/flowork/flowcore/pkg/cmd"
	"github.com/flowork/flowcore/pkg/log"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "flowcore-worker",
		EnableShellCompletion: true,
		Usage:                 "Claim and execute pending jobs",
		Flags:                 cmd.EngineFlags(2),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("flowcore-worker").With("process_id", "process-"+uuid.NewString()[:8])

			cfg, err := cmd.LoadConfig(command)
			if err != nil {
				return err
			}

			logger.InfoContext(ctx, "Initializing flowcore worker", "workers", cfg.Workers)

			eng, release, err := cmd.NewEngine(ctx, command, cfg, "flowcore-worker", logger)
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

			if err := eng.Run(ctx); err != nil {
				logger.ErrorContext(ctx, "Engine stopped with error", "error", err)

				return err
			}

			logger.InfoContext(ctx, "flowcore worker stopped")

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
