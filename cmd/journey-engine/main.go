package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/eduprism/journey/pkg/cmd"
	"github.com/eduprism/journey/pkg/log"
	"github.com/eduprism/journey/pkg/scheduler"
)

func main() {
	command := &cli.Command{
		Name:                  "journey-engine",
		EnableShellCompletion: true,
		Usage:                 "Run the journey engine: trigger matching, enrollment and step execution",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "engine-id",
				Aliases: []string{"id"},
				Usage:   "Custom engine instance ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("ENGINE_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the distributed lease store (in-memory if unset)",
				Value:   "",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "dispatcher",
				Usage:   "Outbound dispatcher (webhook, log)",
				Value:   "webhook",
				Sources: cli.EnvVars("DISPATCHER"),
			},
			&cli.DurationFlag{
				Name:    "scan-interval",
				Usage:   "How often the scheduler scans for due enrollments",
				Value:   scheduler.DefaultScanInterval,
				Sources: cli.EnvVars("SCAN_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "Maximum due enrollments claimed per scan",
				Value:   scheduler.DefaultBatchSize,
				Sources: cli.EnvVars("BATCH_SIZE"),
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Maximum enrollments executed concurrently",
				Value:   scheduler.DefaultWorkers,
				Sources: cli.EnvVars("WORKERS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			engineID := command.String("engine-id")
			if engineID == "" {
				engineID = "engine-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("journey-engine").With("engine_id", engineID)

			logger.InfoContext(ctx, "Initializing journey engine")

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			leases := cmd.NewLeaseStore(command.String("redis-url"))
			dispatcher := cmd.NewDispatcher(command.String("dispatcher"), logger)

			engine := NewEngine(
				engineID,
				persistence,
				eventBus,
				leases,
				dispatcher,
				logger,
				scheduler.Config{
					ScanInterval: command.Duration("scan-interval"),
					BatchSize:    command.Int("batch-size"),
					Workers:      command.Int("workers"),
				},
			)

			err := engine.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start journey engine", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
