package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/makeasinger/playground/internal/jobclient"
	"github.com/makeasinger/playground/internal/logger"
	"github.com/makeasinger/playground/internal/model"
)

// Runner holds the dependencies of the CLI commands
type Runner struct {
	logger *logger.Logger
	output io.Writer
	// newController is swapped in tests
	newController func(baseURL, token string) *jobclient.Controller
}

type RunnerOpts struct {
	Logger *logger.Logger
	Output io.Writer
}

func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	r := &Runner{logger: opts.Logger, output: opts.Output}
	r.newController = func(baseURL, token string) *jobclient.Controller {
		return jobclient.New(baseURL, token, jobclient.WithLogger(r.logger))
	}
	return r
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		loginCommand, submitCommand, songsCommand, imagesCommand, creditsCommand,
	} {
		commands = append(commands, fn(r))
	}
	return commands
}

func (r *Runner) controller(cmd *cli.Command) *jobclient.Controller {
	return r.newController(cmd.String("url"), cmd.String("token"))
}

// Login prints a token for PLAYGROUND_TOKEN
func (r *Runner) Login(ctx context.Context, cmd *cli.Command) error {
	c := r.controller(cmd)
	defer c.Close()

	resp, err := c.Login(ctx, cmd.String("password"))
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	return r.writePlain("%s\n", resp.Token)
}

// Submit sends a job and, with --wait, follows it to the end
func (r *Runner) Submit(ctx context.Context, cmd *cli.Command) error {
	kind, err := model.ParseJobKind(cmd.String("kind"))
	if err != nil {
		return err
	}
	params := json.RawMessage(cmd.String("params"))
	if !json.Valid(params) {
		return fmt.Errorf("--params is not valid JSON")
	}

	c := r.controller(cmd)
	defer c.Close()

	jobID, err := c.Start(ctx, kind, params)
	if err != nil {
		return explain(err)
	}
	if err := r.writePlain("submitted %s (%s)\n", jobID, kind); err != nil {
		return err
	}
	if !cmd.Bool("wait") {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.Events():
			switch ev.Type {
			case jobclient.EventPending:
				if ev.JobID == jobID {
					_ = r.writePlain(".")
				}
			case jobclient.EventAuthExpired, jobclient.EventConnectionLost:
				return explain(ev.Err)
			case jobclient.EventFailed:
				if ev.JobID == jobID {
					return fmt.Errorf("job %s failed: %s", jobID, ev.Message)
				}
			case jobclient.EventSucceeded:
				if ev.JobID != jobID {
					continue
				}
				_ = r.writePlain("\n")
				if ev.Err != nil {
					return fmt.Errorf("job %s succeeded but the library refresh failed: %w", jobID, ev.Err)
				}
				if kind.IsImage() {
					return r.writeJSON(c.Images(), true)
				}
				return r.writeJSON(c.Songs(), true)
			}
		}
	}
}

// Songs prints the song library
func (r *Runner) Songs(ctx context.Context, cmd *cli.Command) error {
	return r.list(ctx, cmd, model.ArtifactKindSong)
}

// Images prints the image gallery
func (r *Runner) Images(ctx context.Context, cmd *cli.Command) error {
	return r.list(ctx, cmd, model.ArtifactKindImage)
}

func (r *Runner) list(ctx context.Context, cmd *cli.Command, kind model.ArtifactKind) error {
	c := r.controller(cmd)
	defer c.Close()

	if err := c.Refresh(ctx, kind); err != nil {
		return explain(err)
	}
	if kind == model.ArtifactKindImage {
		return r.writeJSON(c.Images(), cmd.Bool("pretty"))
	}
	return r.writeJSON(c.Songs(), cmd.Bool("pretty"))
}

// Credits prints the provider balance
func (r *Runner) Credits(ctx context.Context, cmd *cli.Command) error {
	c := r.controller(cmd)
	defer c.Close()

	credits, err := c.Credits(ctx)
	if err != nil {
		return explain(err)
	}
	return r.writePlain("%s\n", credits)
}

func explain(err error) error {
	if errors.Is(err, jobclient.ErrAuthExpired) {
		return fmt.Errorf("%w: run `playgroundctl login` and set PLAYGROUND_TOKEN", err)
	}
	return err
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(append(output, '\n')); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	if _, err := fmt.Fprintf(r.output, format, args...); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
