package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
	"github.com/wizdom13/ytdlnis/internal/api"
	"github.com/wizdom13/ytdlnis/internal/config"
)

func apiCmd() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Run the HTTP API tier (job submission, polling, events, downloads)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis connection string",
				Sources: cli.EnvVars("YTDLNIS_REDIS_URL"),
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
			if cfg.Auth.APIKey == "" {
				return fmt.Errorf("API key is required (set YTDLNIS_AUTH_API_KEY or auth.api_key in config)")
			}
			if cfg.Token.Secret == "" {
				return fmt.Errorf("token secret is required (set YTDLNIS_TOKEN_SECRET or token.secret in config)")
			}
			return api.Run(ctx, cfg)
		},
	}
}
