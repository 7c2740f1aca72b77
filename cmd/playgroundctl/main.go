package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	app := newApp(NewRunner(RunnerOpts{}))

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "playgroundctl",
		Usage: "Submit and follow playground jobs from a terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Usage:   "Playground API base URL",
				Value:   "http://localhost:3000",
				Sources: cli.EnvVars("PLAYGROUND_URL"),
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Bearer token printed by login",
				Sources: cli.EnvVars("PLAYGROUND_TOKEN"),
			},
		},
		Commands: r.register(),
	}
}
