package main

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"forumsync/internal/journal"
	"forumsync/internal/state"
)

func replayCommand() *cli.Command {
	return &cli.Command{
		Name:  "replay",
		Usage: "Rebuild state from a journal recording and print it as JSON",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "journal",
				Usage: "Override journal.path",
			},
			&cli.StringFlag{
				Name:  "recording",
				Usage: "Recording id (default: most recent)",
			},
			&cli.BoolFlag{
				Name:  "list",
				Usage: "List recordings instead of replaying",
			},
		},
		Action: runReplay,
	}
}

func runReplay(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if path := c.String("journal"); path != "" {
		cfg.Journal.Path = path
	}

	j, err := journal.Open(cfg.Journal)
	if err != nil {
		return err
	}
	defer j.Close()

	ctx := c.Context
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")

	if c.Bool("list") {
		recordings, err := j.Recordings(ctx)
		if err != nil {
			return err
		}
		for _, r := range recordings {
			fmt.Fprintf(c.App.Writer, "%s  %s/%d  %s  %d entries\n",
				r.ID, r.Kind, r.ResourceID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Entries)
		}
		return nil
	}

	id := c.String("recording")
	if id == "" {
		latest, err := j.Latest(ctx)
		if err != nil {
			return err
		}
		id = latest.ID
	}

	entries, err := j.Entries(ctx, id)
	if err != nil {
		return err
	}

	result := journal.Replay(entries, state.Options{
		ReactionCap:    cfg.Ephemeral.ReactionCap,
		ReactionWindow: cfg.Ephemeral.ReactionWindow,
	})
	return enc.Encode(result)
}
