package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"forumsync/internal/config"
	"forumsync/internal/logging"
)

const version = "0.1.0"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "forumsync",
		Usage:   "Real-time forum and event sync client, with a local dev server",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				EnvVars: []string{"FORUMSYNC_CONFIG_FILE"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override logging.level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Override logging.format (console, json)",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			watchCommand(),
			replayCommand(),
			configCommand(),
		},
	}
}

// loadConfig reads the configuration named by --config and applies the
// logging overrides. It also initialises the global logger.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if level := c.String("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if format := c.String("log-format"); format != "" {
		cfg.Logging.Format = format
	}

	if _, err := logging.SetupWriter(c.App.ErrWriter, cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return nil, err
	}
	return cfg, nil
}
