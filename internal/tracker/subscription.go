package tracker

import (
	"context"
	"sync"

	"github.com/makeasinger/playground/internal/model"
)

// Subscription is one request to follow a job until it reaches a terminal
// state. Once Cancel returns, the subscription emits nothing further and
// writes nothing to the registry.
type Subscription struct {
	JobID   string
	Kind    model.JobKind
	OwnerID string

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	cancelled bool
	done      chan struct{}
}

func NewSubscription(parent context.Context, ownerID, jobID string, kind model.JobKind) *Subscription {
	ctx, cancel := context.WithCancel(parent)
	return &Subscription{
		JobID:   jobID,
		Kind:    kind,
		OwnerID: ownerID,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Cancel stops the subscription. It waits for an in-flight delivery to
// finish, so callers never observe a delivery after Cancel returns.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	s.cancel()
}

// Cancelled reports whether Cancel has been called.
func (s *Subscription) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Done is closed when the tracking loop for this subscription has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// deliver runs fn unless the subscription was cancelled, holding the lock
// for the whole call. It reports whether fn ran.
func (s *Subscription) deliver(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return false
	}
	fn()
	return true
}
