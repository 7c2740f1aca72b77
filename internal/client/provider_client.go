package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/makeasinger/playground/internal/config"
	"github.com/makeasinger/playground/internal/logger"
	"github.com/makeasinger/playground/internal/model"
)

var (
	// ErrProviderUnavailable covers network failures and provider 5xx.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrProviderRejected covers provider 4xx: bad params, no credits, unknown task.
	ErrProviderRejected = errors.New("provider rejected request")
	// ErrLyricsNotAvailable means the provider has no timestamped lyrics for the track.
	ErrLyricsNotAvailable = errors.New("lyrics not available")
	// ErrInvalidParams means the job params could not be sent at all.
	ErrInvalidParams = errors.New("invalid job params")
)

// ProviderError keeps the status and message the provider returned.
// It unwraps to ErrProviderUnavailable or ErrProviderRejected.
type ProviderError struct {
	Kind       error
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%v (status %d): %s", e.Kind, e.StatusCode, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Kind }

// Provider is the gateway to the upstream generation API. It performs no
// retries; callers decide what a failure means.
type Provider interface {
	SubmitJob(ctx context.Context, kind model.JobKind, params json.RawMessage) (string, error)
	PollJob(ctx context.Context, jobID string, kind model.JobKind) ([]byte, error)
	FetchLyrics(ctx context.Context, jobID, artifactID string) (json.RawMessage, error)
	Credits(ctx context.Context) (json.RawMessage, error)
	BoostStyle(ctx context.Context, content string) (json.RawMessage, error)
}

// ProviderClient implements Provider for the kie.ai API
type ProviderClient struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	callbackURL string
	limiter     *rate.Limiter
	log         *logger.Logger
}

var submitPaths = map[model.JobKind]string{
	model.JobKindSongGenerate:  "/api/v1/generate",
	model.JobKindSongCover:     "/api/v1/generate/upload-cover",
	model.JobKindSongExtend:    "/api/v1/generate/upload-extend",
	model.JobKindImageGenerate: "/api/v1/mj/generate",
	model.JobKindImageUpscale:  "/api/v1/mj/generateUpscale",
	model.JobKindImageVary:     "/api/v1/mj/generateVary",
}

const (
	songRecordPath  = "/api/v1/generate/record-info"
	imageRecordPath = "/api/v1/mj/record-info"
	lyricsPath      = "/api/v1/generate/get-timestamped-lyrics"
	creditsPath     = "/api/v1/chat/credit"
	boostStylePath  = "/api/v1/style/generate"
)

// NewProviderClient creates a new provider API client
func NewProviderClient(cfg *config.ProviderConfig, log *logger.Logger) *ProviderClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &ProviderClient{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		callbackURL: cfg.CallbackURL,
		limiter:     rate.NewLimiter(limit, 1),
		log:         log.With("client", "provider"),
	}
}

// IsConfigured returns true if the client has an API key
func (c *ProviderClient) IsConfigured() bool {
	return c.apiKey != ""
}

// SubmitJob sends a new job and returns the provider's task id
func (c *ProviderClient) SubmitJob(ctx context.Context, kind model.JobKind, params json.RawMessage) (string, error) {
	path, ok := submitPaths[kind]
	if !ok {
		return "", fmt.Errorf("%w: %s", model.ErrUnknownJobKind, kind)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(params, &body); err != nil || body == nil {
		return "", fmt.Errorf("%w: params must be a JSON object", ErrInvalidParams)
	}
	if c.callbackURL != "" {
		body["callBackUrl"] = c.callbackURL
	}

	raw, err := c.post(ctx, path, body)
	if err != nil {
		return "", err
	}

	var env struct {
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("%w: failed to unmarshal response: %v", ErrProviderUnavailable, err)
	}
	if env.Data.TaskID == "" {
		return "", &ProviderError{Kind: ErrProviderUnavailable, StatusCode: http.StatusOK, Message: "response carries no taskId"}
	}
	return env.Data.TaskID, nil
}

// PollJob returns the provider's status payload for a job, unmodified
func (c *ProviderClient) PollJob(ctx context.Context, jobID string, kind model.JobKind) ([]byte, error) {
	path := songRecordPath
	if kind.IsImage() {
		path = imageRecordPath
	}
	return c.get(ctx, path+"?taskId="+url.QueryEscape(jobID))
}

// FetchLyrics retrieves timestamped lyrics for one track of a song job
func (c *ProviderClient) FetchLyrics(ctx context.Context, jobID, artifactID string) (json.RawMessage, error) {
	raw, err := c.post(ctx, lyricsPath, map[string]string{"taskId": jobID, "audioId": artifactID})
	if err != nil {
		var perr *ProviderError
		if errors.As(err, &perr) && perr.StatusCode == http.StatusNotFound {
			return nil, ErrLyricsNotAvailable
		}
		return nil, err
	}

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal response: %v", ErrProviderUnavailable, err)
	}
	var words struct {
		AlignedWords []json.RawMessage `json:"alignedWords"`
	}
	if len(env.Data) == 0 || json.Unmarshal(env.Data, &words) != nil || len(words.AlignedWords) == 0 {
		return nil, ErrLyricsNotAvailable
	}
	return env.Data, nil
}

// Credits returns the remaining account credits
func (c *ProviderClient) Credits(ctx context.Context) (json.RawMessage, error) {
	raw, err := c.get(ctx, creditsPath)
	if err != nil {
		return nil, err
	}
	return envelopeData(raw)
}

// BoostStyle asks the provider to expand a short style description
func (c *ProviderClient) BoostStyle(ctx context.Context, content string) (json.RawMessage, error) {
	raw, err := c.post(ctx, boostStylePath, map[string]string{"content": content})
	if err != nil {
		return nil, err
	}
	return envelopeData(raw)
}

func envelopeData(raw []byte) (json.RawMessage, error) {
	var env model.ProviderEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal response: %v", ErrProviderUnavailable, err)
	}
	return env.Data, nil
}

// post sends a POST request with JSON body
func (c *ProviderClient) post(ctx context.Context, endpoint string, body interface{}) ([]byte, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.doRequest(req)
}

// get sends a GET request
func (c *ProviderClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.doRequest(req)
}

// doRequest executes an HTTP request and returns the body of a successful
// response. Both the HTTP status and the envelope code are checked.
func (c *ProviderClient) doRequest(req *http.Request) ([]byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.log.Debug("provider request", "method", req.Method, "path", req.URL.Path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.log.Warn("provider request failed", "method", req.Method, "path", req.URL.Path, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrProviderUnavailable, err)
	}

	c.log.Debug("provider response", "method", req.Method, "path", req.URL.Path, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyFailure(resp.StatusCode, providerMessage(respBody))
	}

	var env model.ProviderEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal response: %v", ErrProviderUnavailable, err)
	}
	if env.Code >= 400 {
		return nil, classifyFailure(env.Code, env.Msg)
	}
	return respBody, nil
}

func classifyFailure(status int, message string) error {
	kind := ErrProviderRejected
	if status >= 500 {
		kind = ErrProviderUnavailable
	}
	return &ProviderError{Kind: kind, StatusCode: status, Message: message}
}

func providerMessage(body []byte) string {
	var env model.ProviderEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Msg != "" {
		return env.Msg
	}
	if len(body) > 256 {
		body = body[:256]
	}
	return string(body)
}
