package main

import "github.com/urfave/cli/v3"

func loginCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Exchange the access password for a token",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "password",
				Aliases:  []string{"p"},
				Usage:    "Access password",
				Required: true,
				Sources:  cli.EnvVars("PLAYGROUND_PASSWORD"),
			},
		},
		Action: r.Login,
	}
}

func submitCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "submit",
		Usage: "Submit a song or image job",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "kind",
				Aliases:  []string{"k"},
				Usage:    "Job kind (song_generate, image_generate, ...)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "params",
				Usage: "Job parameters as JSON",
				Value: "{}",
			},
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "Follow the job until it finishes",
			},
		},
		Action: r.Submit,
	}
}

func songsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "songs",
		Usage: "List the song library",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print output",
			},
		},
		Action: r.Songs,
	}
}

func imagesCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "images",
		Usage: "List the image gallery",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print output",
			},
		},
		Action: r.Images,
	}
}

func creditsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "credits",
		Usage:  "Show remaining provider credits",
		Action: r.Credits,
	}
}
