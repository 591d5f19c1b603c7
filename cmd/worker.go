package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
	"github.com/wizdom13/ytdlnis/internal/config"
	"github.com/wizdom13/ytdlnis/internal/worker"
)

func workerCmd() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Run the worker tier (claims queued jobs and executes downloads)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis connection string",
				Sources: cli.EnvVars("YTDLNIS_REDIS_URL"),
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Usage: "Number of concurrent workers (overrides config)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if v := cmd.String("redis-url"); v != "" {
				cfg.Redis.URL = v
			}
			if v := cmd.String("log-level"); v != "" {
				cfg.Logging.Level = v
			}
			if v := cmd.Int("concurrency"); v > 0 {
				cfg.Worker.Concurrency = int(v)
			}
			return worker.Run(ctx, cfg)
		},
	}
}
