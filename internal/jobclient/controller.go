// Package jobclient drives the playground API the way the web client does:
// submit a job, show a placeholder, follow it over the realtime channel and
// refresh the library once the job succeeds.
package jobclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fasthttp/websocket"

	"github.com/makeasinger/playground/internal/logger"
	"github.com/makeasinger/playground/internal/model"
	"github.com/makeasinger/playground/internal/status"
	"github.com/makeasinger/playground/pkg/response"
)

var (
	// ErrAuthExpired means the server rejected the bearer token. The token
	// has been cleared; log in again before retrying.
	ErrAuthExpired = errors.New("authentication expired")
	// ErrConnectionLost means the realtime channel dropped. Pending
	// placeholders are discarded with it.
	ErrConnectionLost = errors.New("realtime connection lost")
	ErrClosed         = errors.New("controller closed")
)

// APIError is a non-2xx answer from the playground API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (status %d): %s", e.Code, e.StatusCode, e.Message)
}

type EventType string

const (
	EventPending        EventType = "pending"
	EventSucceeded      EventType = "succeeded"
	EventFailed         EventType = "failed"
	EventAuthExpired    EventType = "auth_expired"
	EventConnectionLost EventType = "connection_lost"
)

// Event is what the controller reports after reacting to the server.
type Event struct {
	Type    EventType
	JobID   string
	Kind    model.JobKind
	Message string
	Err     error
}

// Terminal reports whether no further events follow for the job.
func (e Event) Terminal() bool {
	return e.Type == EventSucceeded || e.Type == EventFailed
}

// Placeholder stands in for a job's results until it finishes.
type Placeholder struct {
	JobID     string
	Kind      model.JobKind
	StartedAt time.Time
}

type Option func(*Controller)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Controller) { c.http = hc }
}

func WithLogger(log *logger.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// Controller keeps one realtime connection and the client-side view of
// in-flight jobs, songs and images. Events must be drained by the caller.
type Controller struct {
	baseURL string
	http    *http.Client
	dialer  *websocket.Dialer
	log     *logger.Logger

	events chan Event
	closed chan struct{}
	once   sync.Once

	mu           sync.Mutex
	token        string
	conn         *websocket.Conn
	tracking     string
	placeholders map[string]Placeholder
	songs        []model.Artifact
	images       []model.Artifact

	writeMu sync.Mutex
}

// New creates a controller for the API at baseURL (http or https).
func New(baseURL, token string, opts ...Option) *Controller {
	c := &Controller{
		baseURL:      strings.TrimRight(baseURL, "/"),
		http:         &http.Client{Timeout: 30 * time.Second},
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:          logger.Nop(),
		events:       make(chan Event, 64),
		closed:       make(chan struct{}),
		token:        token,
		placeholders: make(map[string]Placeholder),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events delivers reactions to server messages in arrival order.
func (c *Controller) Events() <-chan Event {
	return c.events
}

func (c *Controller) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Login exchanges the access password for a token and keeps it.
func (c *Controller) Login(ctx context.Context, password string) (*model.LoginResponse, error) {
	var out model.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/login", model.LoginRequest{Password: password}, &out, false); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.token = out.Token
	c.mu.Unlock()
	return &out, nil
}

// Start submits a job, adds its placeholder and asks the server to track it.
// Tracking a new job replaces the previous one on the shared connection;
// placeholders left behind are tracked again once the current job ends.
func (c *Controller) Start(ctx context.Context, kind model.JobKind, params json.RawMessage) (string, error) {
	select {
	case <-c.closed:
		return "", ErrClosed
	default:
	}

	var resp model.SubmitJobResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs", model.SubmitJobRequest{JobKind: string(kind), Params: params}, &resp, true); err != nil {
		return "", err
	}
	if resp.JobKind == "" {
		resp.JobKind = kind
	}

	c.mu.Lock()
	c.placeholders[resp.JobID] = Placeholder{JobID: resp.JobID, Kind: resp.JobKind, StartedAt: time.Now()}
	c.mu.Unlock()

	if err := c.ensureConn(ctx); err != nil {
		c.dropPlaceholder(resp.JobID)
		return "", err
	}
	if err := c.track(resp.JobID, resp.JobKind); err != nil {
		c.dropPlaceholder(resp.JobID)
		return "", err
	}
	return resp.JobID, nil
}

func (c *Controller) dropPlaceholder(jobID string) {
	c.mu.Lock()
	delete(c.placeholders, jobID)
	if c.tracking == jobID {
		c.tracking = ""
	}
	c.mu.Unlock()
}

// Placeholders returns in-flight jobs, oldest first.
func (c *Controller) Placeholders() []Placeholder {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedPlaceholders(c.placeholders)
}

// Songs returns the song library as of the last refresh.
func (c *Controller) Songs() []model.Artifact {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Artifact(nil), c.songs...)
}

// Images returns the image gallery as of the last refresh.
func (c *Controller) Images() []model.Artifact {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Artifact(nil), c.images...)
}

// Refresh reloads the library list that jobs of kind produce.
func (c *Controller) Refresh(ctx context.Context, kind model.ArtifactKind) error {
	var items []model.Artifact
	path := "/api/songs"
	if kind == model.ArtifactKindImage {
		path = "/api/images"
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &items, true); err != nil {
		return err
	}
	c.mu.Lock()
	if kind == model.ArtifactKindImage {
		c.images = items
	} else {
		c.songs = items
	}
	c.mu.Unlock()
	return nil
}

// Credits returns the provider account balance.
func (c *Controller) Credits(ctx context.Context) (json.RawMessage, error) {
	var out struct {
		Data json.RawMessage `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/credits", nil, &out, true); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Wait blocks until jobID reaches a terminal event, the connection drops
// or ctx is done. Events for other jobs are consumed.
func (c *Controller) Wait(ctx context.Context, jobID string) (Event, error) {
	for {
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-c.closed:
			return Event{}, ErrClosed
		case ev := <-c.events:
			switch {
			case ev.Type == EventConnectionLost || ev.Type == EventAuthExpired:
				return ev, ev.Err
			case ev.JobID == jobID && ev.Terminal():
				return ev, nil
			}
		}
	}
}

// Close drops the realtime connection. Pending placeholders are kept.
func (c *Controller) Close() error {
	c.once.Do(func() { close(c.closed) })

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return conn.Close()
}

func (c *Controller) ensureConn(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	u, err := url.Parse(c.baseURL + "/ws")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			c.token = ""
			c.emitAsync(Event{Type: EventAuthExpired, Err: ErrAuthExpired})
			return ErrAuthExpired
		}
		return fmt.Errorf("failed to open realtime connection: %w", err)
	}
	c.conn = conn
	go c.readLoop(conn)
	return nil
}

func (c *Controller) track(jobID string, kind model.JobKind) error {
	c.mu.Lock()
	conn := c.conn
	c.tracking = jobID
	c.mu.Unlock()
	if conn == nil {
		return ErrConnectionLost
	}

	msg, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypeTrackTask, JobID: jobID, JobKind: string(kind)})
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return nil
}

func (c *Controller) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.connectionLost(conn, err)
			return
		}
		c.handle(data)
	}
}

// connectionLost clears state tied to the dropped connection, unless the
// drop was requested through Close.
func (c *Controller) connectionLost(conn *websocket.Conn, err error) {
	select {
	case <-c.closed:
		return
	default:
	}

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.tracking = ""
	c.placeholders = make(map[string]Placeholder)
	c.mu.Unlock()

	c.log.Warn("realtime connection lost", "error", err)
	c.emit(Event{Type: EventConnectionLost, Message: err.Error(), Err: ErrConnectionLost})
}

// serverMessage covers both provider payloads and tracker error events.
type serverMessage struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
	JobID   string `json:"jobId"`
	Data    struct {
		TaskID string `json:"taskId"`
	} `json:"data"`
}

func (c *Controller) handle(data []byte) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Debug("ignoring unreadable message", "error", err)
		return
	}

	c.mu.Lock()
	jobID := msg.Data.TaskID
	if jobID == "" {
		jobID = msg.JobID
	}
	if jobID == "" {
		jobID = c.tracking
	}
	ph, known := c.placeholders[jobID]
	c.mu.Unlock()

	if !known {
		// Pong, or a late message for a job already resolved
		return
	}

	if msg.Error {
		c.resolve(ph, Event{Type: EventFailed, JobID: jobID, Kind: ph.Kind, Message: msg.Message})
		return
	}

	st, err := status.Classify(ph.Kind, data)
	if err != nil {
		c.log.Debug("unreadable status payload", "job_id", jobID, "error", err)
		return
	}

	switch st.Class() {
	case model.StatusSuccess:
		ev := Event{Type: EventSucceeded, JobID: jobID, Kind: ph.Kind}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := c.Refresh(ctx, ph.Kind.ArtifactKind())
		cancel()
		if err != nil {
			ev.Err = err
			ev.Message = "refresh failed: " + err.Error()
		}
		c.resolve(ph, ev)
	case model.StatusFailed:
		c.resolve(ph, Event{Type: EventFailed, JobID: jobID, Kind: ph.Kind, Message: st.Message()})
	default:
		c.emit(Event{Type: EventPending, JobID: jobID, Kind: ph.Kind})
	}
}

// resolve drops the job's placeholder, reports the outcome and resumes
// tracking the oldest job that lost its registration to a newer one.
func (c *Controller) resolve(ph Placeholder, ev Event) {
	c.mu.Lock()
	delete(c.placeholders, ph.JobID)
	var next *Placeholder
	if c.tracking == ph.JobID {
		c.tracking = ""
		if rest := sortedPlaceholders(c.placeholders); len(rest) > 0 {
			next = &rest[0]
		}
	}
	c.mu.Unlock()

	c.emit(ev)

	if next != nil {
		if err := c.track(next.JobID, next.Kind); err != nil {
			c.log.Warn("failed to resume tracking", "job_id", next.JobID, "error", err)
		}
	}
}

func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.closed:
	}
}

// emitAsync is for callers holding c.mu.
func (c *Controller) emitAsync(ev Event) {
	go c.emit(ev)
}

// do performs an API request. A 401 on an authenticated call clears the
// token, reports EventAuthExpired and returns ErrAuthExpired.
func (c *Controller) do(ctx context.Context, method, path string, body, out interface{}, authed bool) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+c.Token())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if authed && resp.StatusCode == http.StatusUnauthorized {
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
		c.emit(Event{Type: EventAuthExpired, Err: ErrAuthExpired})
		return ErrAuthExpired
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e response.ErrorResponse
		_ = json.Unmarshal(data, &e)
		if e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Code: e.Code, Message: e.Message}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func sortedPlaceholders(m map[string]Placeholder) []Placeholder {
	out := make([]Placeholder, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].JobID < out[j].JobID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
