package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/makeasinger/playground/internal/logger"
	"github.com/makeasinger/playground/internal/model"
	"github.com/makeasinger/playground/internal/status"
)

var (
	ErrCancelled  = errors.New("tracking cancelled")
	ErrSinkClosed = errors.New("event sink closed")
)

// Poller fetches the current raw status of a job.
type Poller interface {
	PollJob(ctx context.Context, jobID string, kind model.JobKind) ([]byte, error)
}

// Sink receives events for one subscription, in order.
type Sink interface {
	Send(payload []byte) error
}

// Committer persists the results of a successful job.
type Committer interface {
	Commit(ctx context.Context, sub *Subscription, st status.Status) ([]model.Artifact, error)
}

type Options struct {
	PollInterval time.Duration
	// MaxDuration bounds how long a job may stay pending. Zero means no bound.
	MaxDuration time.Duration
	// OnCommitted runs after a successful commit has been delivered.
	OnCommitted func(ctx context.Context, artifacts []model.Artifact)
}

// Tracker polls the provider for a subscribed job, forwards every payload to
// the subscriber and commits artifacts when the job succeeds.
type Tracker struct {
	poller    Poller
	committer Committer
	opts      Options
	log       *logger.Logger
}

func New(poller Poller, committer Committer, opts Options, log *logger.Logger) *Tracker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	return &Tracker{
		poller:    poller,
		committer: committer,
		opts:      opts,
		log:       log.With("component", "tracker"),
	}
}

// Track runs the polling loop for sub until the job is terminal, the
// subscription is cancelled or the sink goes away. It returns the terminal
// class; the error is non-nil when tracking ended for any other reason.
func (t *Tracker) Track(sub *Subscription, sink Sink) (model.StatusClass, error) {
	defer close(sub.done)
	defer sub.cancel()

	log := t.log.With("job_id", sub.JobID, "kind", sub.Kind)
	log.Debug("tracking started")

	var deadline <-chan time.Time
	if t.opts.MaxDuration > 0 {
		timer := time.NewTimer(t.opts.MaxDuration)
		defer timer.Stop()
		deadline = timer.C
	}

	for attempt := 1; ; attempt++ {
		raw, err := t.poller.PollJob(sub.ctx, sub.JobID, sub.Kind)
		if sub.ctx.Err() != nil {
			return "", ErrCancelled
		}
		if err != nil {
			log.Warn("status poll failed", "attempt", attempt, "error", err)
			return model.StatusFailed, t.fail(sub, sink, fmt.Sprintf("status check failed: %v", err), err)
		}

		st, err := status.Classify(sub.Kind, raw)
		if err != nil {
			log.Warn("unreadable status payload", "attempt", attempt, "error", err)
			return model.StatusFailed, t.fail(sub, sink, err.Error(), err)
		}

		class := st.Class()
		log.Debug("status polled", "attempt", attempt, "class", class)

		switch class {
		case model.StatusSuccess:
			return t.succeed(sub, sink, st, raw)
		case model.StatusFailed:
			// The raw payload is followed by an error event carrying the
			// resolved failure message.
			if err := t.emitAll(sub, sink, raw, errorEvent(sub.JobID, st.Message())); err != nil {
				return "", err
			}
			log.Info("job failed", "message", st.Message())
			return model.StatusFailed, nil
		}

		if err := t.emit(sub, sink, raw); err != nil {
			return "", err
		}

		select {
		case <-sub.ctx.Done():
			return "", ErrCancelled
		case <-deadline:
			msg := fmt.Sprintf("job did not finish within %s", t.opts.MaxDuration)
			log.Info("job timed out")
			if err := t.fail(sub, sink, msg, nil); err != nil {
				return "", err
			}
			return model.StatusTimeout, nil
		case <-time.After(t.opts.PollInterval):
		}
	}
}

// succeed commits artifacts and then forwards the payload, so a client
// reacting to SUCCESS already finds the rows.
func (t *Tracker) succeed(sub *Subscription, sink Sink, st status.Status, raw []byte) (model.StatusClass, error) {
	var (
		committed []model.Artifact
		result    error
	)
	delivered := sub.deliver(func() {
		arts, err := t.committer.Commit(sub.ctx, sub, st)
		if err != nil {
			t.log.Error("failed to commit artifacts", "job_id", sub.JobID, "error", err)
			result = err
			if sendErr := sink.Send(errorEvent(sub.JobID, "failed to save results: "+err.Error())); sendErr != nil {
				result = errors.Join(err, ErrSinkClosed)
			}
			return
		}
		committed = arts
		if err := sink.Send(raw); err != nil {
			result = ErrSinkClosed
		}
	})
	if !delivered {
		return "", ErrCancelled
	}
	if committed != nil && t.opts.OnCommitted != nil {
		t.opts.OnCommitted(context.WithoutCancel(sub.ctx), committed)
	}
	if committed == nil {
		return model.StatusFailed, result
	}
	t.log.Info("job succeeded", "job_id", sub.JobID, "artifacts", len(committed))
	return model.StatusSuccess, result
}

func (t *Tracker) emit(sub *Subscription, sink Sink, payload []byte) error {
	return t.emitAll(sub, sink, payload)
}

// emitAll sends payloads in one delivery, so a cancel cannot split them.
func (t *Tracker) emitAll(sub *Subscription, sink Sink, payloads ...[]byte) error {
	var sendErr error
	delivered := sub.deliver(func() {
		for _, p := range payloads {
			if sendErr = sink.Send(p); sendErr != nil {
				return
			}
		}
	})
	if !delivered {
		return ErrCancelled
	}
	if sendErr != nil {
		return ErrSinkClosed
	}
	return nil
}

// fail emits a single error event. cause is returned so the caller can
// report why tracking stopped.
func (t *Tracker) fail(sub *Subscription, sink Sink, message string, cause error) error {
	if err := t.emit(sub, sink, errorEvent(sub.JobID, message)); err != nil {
		return err
	}
	return cause
}

func errorEvent(jobID, message string) []byte {
	b, _ := json.Marshal(model.WSErrorEvent{Error: true, Message: message, JobID: jobID})
	return b
}
