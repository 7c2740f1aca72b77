package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/makeasinger/playground/internal/auth"
	"github.com/makeasinger/playground/internal/client"
	"github.com/makeasinger/playground/internal/config"
	"github.com/makeasinger/playground/internal/handler"
	"github.com/makeasinger/playground/internal/logger"
	"github.com/makeasinger/playground/internal/middleware"
	"github.com/makeasinger/playground/internal/repository"
	"github.com/makeasinger/playground/internal/server"
	"github.com/makeasinger/playground/internal/service"
	"github.com/makeasinger/playground/internal/tracker"
	ws "github.com/makeasinger/playground/internal/websocket"
)

const (
	testJWTSecret = "test-secret-for-e2e"
	testPassword  = "letmein"
	testUser      = "test-user-123"
)

// testApp holds all components needed for testing
type testApp struct {
	app      *fiber.App
	registry *repository.Registry
	hub      *ws.Hub
	provider *fakeProvider
	tokens   *auth.SessionTokens
}

// fakeProvider imitates the kie.ai API. Song jobs report text_success on
// the first poll and SUCCESS with two tracks afterwards. Image jobs whose
// id starts with "nsfw" are pending once and then rejected.
type fakeProvider struct {
	mu              sync.Mutex
	next            int
	polls           map[string]int
	submitted       []map[string]interface{}
	submitStatus    int
	lyricsAvailable bool
}

func (p *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	write := func(data string) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":200,"msg":"success","data":` + data + `}`))
	}

	switch {
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/v1/") && !strings.Contains(r.URL.Path, "lyrics") && !strings.Contains(r.URL.Path, "style"):
		if p.submitStatus != 0 {
			w.WriteHeader(p.submitStatus)
			_, _ = fmt.Fprintf(w, `{"code":%d,"msg":"provider says no"}`, p.submitStatus)
			return
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		p.submitted = append(p.submitted, body)
		p.next++
		write(fmt.Sprintf(`{"taskId":"task-%d"}`, p.next))

	case r.URL.Path == "/api/v1/generate/record-info":
		id := r.URL.Query().Get("taskId")
		p.polls[id]++
		if p.polls[id] == 1 {
			write(fmt.Sprintf(`{"taskId":%q,"status":"TEXT_SUCCESS"}`, id))
			return
		}
		write(fmt.Sprintf(`{"taskId":%q,"status":"SUCCESS","response":{"sunoData":[`+
			`{"id":"%s-a","title":"First","audioUrl":"https://cdn.test/%s-a.mp3","duration":61.5},`+
			`{"id":"%s-b","title":"Second","audioUrl":"https://cdn.test/%s-b.mp3"}]}}`, id, id, id, id, id))

	case r.URL.Path == "/api/v1/mj/record-info":
		id := r.URL.Query().Get("taskId")
		p.polls[id]++
		if strings.HasPrefix(id, "nsfw") {
			if p.polls[id] == 1 {
				write(fmt.Sprintf(`{"taskId":%q,"successFlag":0}`, id))
				return
			}
			write(fmt.Sprintf(`{"taskId":%q,"successFlag":2,"errorMessage":"NSFW content detected"}`, id))
			return
		}
		write(fmt.Sprintf(`{"taskId":%q,"successFlag":1,"paramJson":"{\"prompt\":\"a cat\"}",`+
			`"resultInfoJson":{"resultUrls":[{"resultUrl":"https://cdn.test/%s/0.png"},{"resultUrl":"https://cdn.test/%s/1.png"}]}}`, id, id, id))

	case r.URL.Path == "/api/v1/generate/get-timestamped-lyrics":
		if p.lyricsAvailable {
			write(`{"alignedWords":[{"word":"hello","startS":0.5,"endS":0.9}]}`)
			return
		}
		write(`{"alignedWords":[]}`)

	case r.URL.Path == "/api/v1/chat/credit":
		write(`99`)

	case r.URL.Path == "/api/v1/style/generate":
		write(`{"result":"boosted style"}`)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *fakeProvider) setSubmitStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitStatus = status
}

func (p *fakeProvider) setLyricsAvailable(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lyricsAvailable = ok
}

func (p *fakeProvider) lastSubmit() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.submitted) == 0 {
		return nil
	}
	return p.submitted[len(p.submitted)-1]
}

// setupApp builds the same router as main.go against a fake provider,
// in-memory SQLite and no Redis.
func setupApp(t *testing.T) *testApp {
	t.Helper()
	log := logger.Nop()

	fp := &fakeProvider{polls: map[string]int{}}
	providerSrv := httptest.NewServer(fp)
	t.Cleanup(providerSrv.Close)

	cfg := &config.Config{
		Server:    config.ServerConfig{Port: "0", Env: "test", LogLevel: "error"},
		JWT:       config.JWTConfig{Secret: testJWTSecret, Expiration: 1},
		Auth:      config.AuthConfig{Password: testPassword, Users: map[string]string{testUser: "user-pass"}},
		RateLimit: config.RateLimitConfig{JobsPerHour: 10000, LyricsPerMin: 10000},
		Provider: config.ProviderConfig{
			APIKey:      "test-key",
			BaseURL:     providerSrv.URL,
			CallbackURL: "https://api.example.com/callback",
			Timeout:     5 * time.Second,
		},
		Tracker: config.TrackerConfig{PollInterval: 10 * time.Millisecond, MaxDuration: 5 * time.Second},
	}

	db, err := repository.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    "file:" + uuid.New().String() + "?mode=memory&cache=shared",
	})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	registry := repository.NewRegistry(db)

	provider := client.NewProviderClient(&cfg.Provider, log)
	tokens := auth.NewSessionTokens(cfg.JWT.Secret, time.Hour)

	taskTracker := tracker.New(provider, tracker.NewStoreCommitter(registry), tracker.Options{
		PollInterval: cfg.Tracker.PollInterval,
		MaxDuration:  cfg.Tracker.MaxDuration,
	}, log)
	jobIndex := service.NewJobIndex(registry, nil, time.Hour, log)
	hub := ws.NewHub(taskTracker, log, ws.WithPingInterval(time.Second), ws.WithJobLookup(jobIndex))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	validate := validator.New()
	app := server.NewRouter(server.RouterConfig{
		Config:          cfg,
		HealthHandler:   handler.NewHealthHandler(map[string]bool{"provider": true, "redis": false}, hub.ActiveSessions),
		AuthHandler:     handler.NewAuthHandler(auth.NewPasswordBook(cfg.Auth.Password, cfg.Auth.Users), tokens, validate),
		JobHandler:      handler.NewJobHandler(service.NewJobService(provider, jobIndex, log), validate),
		LibraryHandler:  handler.NewLibraryHandler(service.NewLibraryService(registry, nil, log), validate),
		LyricsHandler:   handler.NewLyricsHandler(service.NewLyricsService(registry, provider, nil, log), validate),
		AccountHandler:  handler.NewAccountHandler(service.NewAccountService(provider), validate),
		RealtimeHandler: handler.NewRealtimeHandler(hub),
		AuthMiddleware:  middleware.NewAuthMiddleware(auth.Chain{tokens}),
		RateLimiter:     middleware.NewRateLimiter(nil, log),
	})

	return &testApp{app: app, registry: registry, hub: hub, provider: fp, tokens: tokens}
}

// listen serves the app on a loopback port and returns its base URL.
func (ta *testApp) listen(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = ta.app.Listener(ln) }()
	t.Cleanup(func() { _ = ta.app.ShutdownWithTimeout(time.Second) })
	return "http://" + ln.Addr().String()
}

// generateToken issues a session token for userID.
func generateToken(t *testing.T, ta *testApp, userID string) string {
	t.Helper()
	signed, _, err := ta.tokens.Issue(userID)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs a request as testUser.
func doAuthRequest(t *testing.T, ta *testApp, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doAuthRequestAs(t, ta, testUser, method, path, body)
}

func doAuthRequestAs(t *testing.T, ta *testApp, userID, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doRequest(ta.app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t, ta, userID),
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// parseJSONArray parses response body into a slice of objects.
func parseJSONArray(t *testing.T, resp *http.Response) []map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result []map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON array: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
