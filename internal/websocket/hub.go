package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"github.com/makeasinger/playground/internal/logger"
	"github.com/makeasinger/playground/internal/model"
	"github.com/makeasinger/playground/internal/tracker"
)

// Conn is the part of a websocket connection the hub uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
}

// Tracker runs a polling loop for one subscription.
type Tracker interface {
	Track(sub *tracker.Subscription, sink tracker.Sink) (model.StatusClass, error)
}

// JobLookup resolves who owns a job. A nil record means unknown.
// Remember must keep the first record stored for a job id.
type JobLookup interface {
	Lookup(ctx context.Context, jobID string) (*model.JobRecord, error)
	Remember(ctx context.Context, rec *model.JobRecord) error
}

// Hub maintains active WebSocket sessions
type Hub struct {
	tracker      Tracker
	jobs         JobLookup
	log          *logger.Logger
	pingInterval time.Duration

	// Sessions grouped by owner
	sessions map[string]map[*Session]bool

	register   chan *Session
	unregister chan *Session
	stopped    chan struct{}

	mu sync.RWMutex
}

type Option func(*Hub)

// WithPingInterval sets the keep-alive ping interval.
func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) { h.pingInterval = d }
}

// WithJobLookup enables the ownership check on trackTask.
func WithJobLookup(jobs JobLookup) Option {
	return func(h *Hub) { h.jobs = jobs }
}

// NewHub creates a new Hub
func NewHub(tr Tracker, log *logger.Logger, opts ...Option) *Hub {
	h := &Hub{
		tracker:      tr,
		log:          log.With("component", "ws_hub"),
		pingInterval: 30 * time.Second,
		sessions:     make(map[string]map[*Session]bool),
		register:     make(chan *Session),
		unregister:   make(chan *Session),
		stopped:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run starts the hub's main loop. It returns when ctx is done, closing
// every remaining session.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case s := <-h.register:
			h.mu.Lock()
			if h.sessions[s.OwnerID] == nil {
				h.sessions[s.OwnerID] = make(map[*Session]bool)
			}
			h.sessions[s.OwnerID][s] = true
			h.mu.Unlock()
			h.log.Debug("session registered", "session", s.ID, "owner", s.OwnerID)

		case s := <-h.unregister:
			h.mu.Lock()
			if owned, ok := h.sessions[s.OwnerID]; ok {
				delete(owned, s)
				if len(owned) == 0 {
					delete(h.sessions, s.OwnerID)
				}
			}
			h.mu.Unlock()
			h.log.Debug("session unregistered", "session", s.ID, "owner", s.OwnerID)

		case <-ctx.Done():
			h.mu.Lock()
			for _, owned := range h.sessions {
				for s := range owned {
					s.Close()
				}
			}
			h.sessions = make(map[string]map[*Session]bool)
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) Register(s *Session) {
	select {
	case h.register <- s:
	case <-h.stopped:
	}
}

func (h *Hub) Unregister(s *Session) {
	select {
	case h.unregister <- s:
	case <-h.stopped:
	}
}

// ActiveSessions returns the number of open sessions.
func (h *Hub) ActiveSessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, owned := range h.sessions {
		n += len(owned)
	}
	return n
}

// HandleConnection serves one WebSocket connection until it closes.
func (h *Hub) HandleConnection(c Conn, ownerID string) {
	s := newSession(h, ownerID)
	h.Register(s)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(c, h.pingInterval)
	}()

	h.readLoop(c, s)

	s.Close()
	<-writerDone
	h.Unregister(s)
}

func (h *Hub) readLoop(c Conn, s *Session) {
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				h.log.Warn("websocket read error", "session", s.ID, "error", err)
			}
			return
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case model.WSMessageTypePing:
			data, _ := json.Marshal(model.WSPong{Type: model.WSMessageTypePong})
			_ = s.Send(data)
		case model.WSMessageTypeTrackTask:
			h.startTracking(s, msg)
		case model.WSMessageTypeCancel:
			s.CancelCurrent()
		default:
			h.log.Debug("ignoring websocket message", "type", msg.Type)
		}
	}
}

func (h *Hub) startTracking(s *Session, msg model.WSMessage) {
	jobID, rawKind := msg.Target()
	if jobID == "" {
		_ = s.Send(errorEvent("", "jobId is required"))
		return
	}

	var kind model.JobKind
	if rawKind != "" {
		k, err := model.ParseJobKind(rawKind)
		if err != nil {
			_ = s.Send(errorEvent(jobID, "unknown job kind "+rawKind))
			return
		}
		kind = k
	}

	if h.jobs != nil {
		owned, msg := h.claim(s, jobID, kind)
		if msg != "" {
			_ = s.Send(errorEvent(jobID, msg))
			return
		}
		kind = owned
	}
	if kind == "" {
		_ = s.Send(errorEvent(jobID, "jobKind is required"))
		return
	}

	s.Track(jobID, kind)
}

// claim checks that the session owns jobID and returns the kind to track.
// Jobs that were never submitted here go to the first owner that tracks them.
func (h *Hub) claim(s *Session, jobID string, kind model.JobKind) (model.JobKind, string) {
	rec, err := h.jobs.Lookup(s.ctx, jobID)
	if err != nil {
		h.log.Warn("job lookup failed", "job_id", jobID, "error", err)
		return "", "job lookup failed"
	}
	if rec == nil {
		if kind == "" {
			return "", ""
		}
		claim := &model.JobRecord{JobID: jobID, Kind: kind, OwnerID: s.OwnerID, SubmittedAt: time.Now().UTC()}
		if err := h.jobs.Remember(s.ctx, claim); err != nil {
			h.log.Warn("failed to record job owner", "job_id", jobID, "error", err)
			return "", "job lookup failed"
		}
		// Another session may have claimed it first
		if rec, err = h.jobs.Lookup(s.ctx, jobID); err != nil || rec == nil {
			return "", "job lookup failed"
		}
	}
	if rec.OwnerID != s.OwnerID {
		return "", "job not found"
	}
	if kind == "" {
		kind = rec.Kind
	}
	return kind, ""
}

var ErrSessionClosed = errors.New("session closed")

// Session is one client connection. It tracks at most one job at a time;
// starting a new one cancels the previous.
type Session struct {
	ID      string
	OwnerID string

	hub    *Hub
	ctx    context.Context
	cancel context.CancelFunc

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	current *tracker.Subscription
}

func newSession(h *Hub, ownerID string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:      uuid.New().String(),
		OwnerID: ownerID,
		hub:     h,
		ctx:     ctx,
		cancel:  cancel,
		send:    make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

// Send queues a payload for the writer. Payloads are written in the order
// they were queued.
func (s *Session) Send(payload []byte) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	select {
	case s.send <- payload:
		return nil
	case <-s.closed:
		return ErrSessionClosed
	}
}

// Track cancels the current subscription, if any, and starts following jobID.
func (s *Session) Track(jobID string, kind model.JobKind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.closed:
		return
	default:
	}

	if s.current != nil {
		s.current.Cancel()
	}
	sub := tracker.NewSubscription(s.ctx, s.OwnerID, jobID, kind)
	s.current = sub

	go func() {
		class, err := s.hub.tracker.Track(sub, s)
		if err != nil && !errors.Is(err, tracker.ErrCancelled) {
			s.hub.log.Debug("tracking ended", "session", s.ID, "job_id", jobID, "class", class, "error", err)
		}
	}()
}

// CancelCurrent stops the current subscription without starting another.
func (s *Session) CancelCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.Cancel()
		s.current = nil
	}
}

// Current returns the active subscription, or nil.
func (s *Session) Current() *tracker.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Close stops tracking and the writer. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.CancelCurrent()
		s.cancel()
	})
}

func (s *Session) writeLoop(c Conn, pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case message := <-s.send:
			if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
				s.Close()
				return
			}
		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.closed:
			_ = c.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func errorEvent(jobID, message string) []byte {
	b, _ := json.Marshal(model.WSErrorEvent{Error: true, Message: message, JobID: jobID})
	return b
}
