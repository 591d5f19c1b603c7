package cmd

import (
	"github.com/urfave/cli/v3"
)

var version = "dev"

func App() *cli.Command {
	return &cli.Command{
		Name:    "ytdlnis",
		Version: version,
		Usage:   "Media-fetch backend: queue downloads, track progress, serve signed results",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to TOML config file",
				Sources: cli.EnvVars("YTDLNIS_CONFIG_PATH"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (trace, debug, info, warn, error)",
				Sources: cli.EnvVars("YTDLNIS_LOGGING_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			apiCmd(),
			workerCmd(),
		},
	}
}
