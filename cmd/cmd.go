// submodule cmd contains command definitions
package main

import (
	"github.com/desertthunder/spx/internal/formatter"
	"github.com/urfave/cli/v3"
)

// reportFlags are shared by commands that print a summary.
func reportFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output raw JSON",
		},
		&cli.BoolFlag{
			Name:  "pretty",
			Usage: "Pretty-print JSON output",
		},
		&cli.StringFlag{
			Name:    "format",
			Aliases: []string{"f"},
			Usage:   "Summary format: text, csv or md",
			Value:   formatter.FormatText,
		},
	}
}

// setupCommand handles setup operations for configuration and the database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write a config.toml template",
				Action: r.SetupConfig,
			},
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Action: r.SetupDatabase,
			},
		},
	}
}

// importCommand reconciles streaming history exports into the catalog.
func importCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Import Spotify streaming history files or directories",
		ArgsUsage: "<path> [path...]",
		Flags: append(reportFlags(),
			&cli.IntFlag{
				Name:    "batch-size",
				Aliases: []string{"b"},
				Usage:   "Track IDs per catalog lookup (1-50, defaults to import.batch_size)",
			},
			&cli.BoolFlag{
				Name:  "tui",
				Usage: "Show an interactive progress view",
			},
		),
		Action: r.Import,
	}
}

// collectCommand stores the user's recently played tracks.
func collectCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "collect",
		Usage:  "Store recently played tracks not yet in the catalog",
		Flags:  reportFlags(),
		Action: r.Collect,
	}
}

// playlistCommand handles playlist operations.
func playlistCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "playlist",
		Usage: "Playlist operations",
		Commands: []*cli.Command{
			{
				Name:  "top",
				Usage: "Add the most played track of the window to a playlist",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "playlist",
						Aliases: []string{"p"},
						Usage:   "Playlist ID (defaults to playlist.id)",
					},
					&cli.IntFlag{
						Name:  "days",
						Usage: "Look-back window in days (defaults to playlist.window_days)",
					},
				},
				Action: r.PlaylistTop,
			},
		},
	}
}

// statsCommand reports catalog size and the most played tracks.
func statsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show catalog counts and top tracks",
		Flags: append(reportFlags(),
			&cli.IntFlag{
				Name:  "top",
				Usage: "Number of top tracks to list",
				Value: 10,
			},
			&cli.IntFlag{
				Name:  "days",
				Usage: "Look-back window for top tracks in days (defaults to playlist.window_days)",
			},
		),
		Action: r.Stats,
	}
}

// spotifyCommand handles Spotify account operations
func spotifyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "spotify",
		Aliases: []string{"spot"},
		Usage:   "Spotify account operations",
		Commands: []*cli.Command{
			{
				Name:   "auth",
				Usage:  "Authenticate with Spotify using OAuth2",
				Action: r.SpotifyAuth,
			},
		},
	}
}
