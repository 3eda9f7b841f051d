package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/flowork/flowcore/pkg/config"
	"github.com/flowork/flowcore/pkg/engine"
	"github.com/flowork/flowcore/pkg/watchdog"
	cli "github.com/urfave/cli/v3"
)

// EngineFlags are shared by every process that runs the scheduler.
func EngineFlags(defaultWorkers int) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a YAML file with engine tunables",
			Sources: cli.EnvVars("CONFIG_FILE"),
		},
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence (postgres:// or a SQLite path)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "Kafka brokers used by the kafka event bus",
			Value:   []string{"localhost:9092"},
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "wake-signal",
			Usage:   "Wake signal type (local, redis)",
			Value:   "local",
			Sources: cli.EnvVars("WAKE_SIGNAL"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL used by the redis wake signal",
			Value:   "redis://localhost:6379/0",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.IntFlag{
			Name:    "workers",
			Aliases: []string{"w"},
			Usage:   "Number of claim-and-execute loops in this process",
			Value:   defaultWorkers,
			Sources: cli.EnvVars("WORKERS"),
		},
		&cli.IntFlag{
			Name:    "job-deadline",
			Usage: "Seconds a job may run before it is reported as overdue (default from " +
				watchdog.DeadlineEnv + ")",
		},
		&cli.StringFlag{
			Name:    "plugins-path",
			Usage:   "Path to the directory containing node plugins",
			Value:   "./plugins",
			Sources: cli.EnvVars("PLUGINS_PATH"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export job spans over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_TRACING_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}

// LoadConfig reads the --config file and applies the flags that were set over it.
func LoadConfig(command *cli.Command) (config.Config, error) {
	cfg, err := config.Load(command.String("config"))
	if err != nil {
		return cfg, err
	}

	if command.IsSet("workers") || command.String("config") == "" {
		cfg.Workers = command.Int("workers")
	}

	switch {
	case command.IsSet("job-deadline"):
		cfg.Watchdog.Deadline = watchdog.DeadlineFromSeconds(command.Int("job-deadline"))
	case os.Getenv(watchdog.DeadlineEnv) != "":
		cfg.Watchdog.Deadline = watchdog.DeadlineFromEnv()
	}

	return cfg, nil
}

// NewEngine builds the engine and every backend it depends on from the command flags.
// The returned function releases them.
func NewEngine(
	ctx context.Context,
	command *cli.Command,
	cfg config.Config,
	serviceName string,
	logger *slog.Logger,
) (*engine.Engine, func() error, error) {
	reg, err := NewRegistry(logger, command.String("plugins-path"))
	if err != nil {
		return nil, nil, err
	}

	store, err := NewPersistence(ctx, command.String("database-url"), cfg.Retry, logger)
	if err != nil {
		return nil, nil, err
	}

	signal, closeSignal, err := NewWakeSignal(ctx, command.String("wake-signal"), command.String("redis-url"), logger)
	if err != nil {
		return nil, nil, errors.Join(err, store.Close())
	}

	bus, err := NewEventBus(command.String("event-bus"), brokers(command.StringSlice("kafka-brokers")), serviceName, logger)
	if err != nil {
		return nil, nil, errors.Join(err, closeSignal(), store.Close())
	}

	tracer, err := NewTracer(ctx, command.Bool("tracing"), serviceName)
	if err != nil {
		return nil, nil, errors.Join(fmt.Errorf("failed to initialize tracer: %w", err), bus.Close(), closeSignal(), store.Close())
	}

	eng := engine.New(cfg, store, reg, signal, bus, logger, engine.WithTracer(tracer))

	return eng, func() error {
		return errors.Join(eng.Close(), closeSignal())
	}, nil
}

func brokers(values []string) []string {
	out := make([]string, 0, len(values))

	for _, value := range values {
		for _, broker := range strings.Split(value, ",") {
			if broker = strings.TrimSpace(broker); broker != "" {
				out = append(out, broker)
			}
		}
	}

	return out
}
