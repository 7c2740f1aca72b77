package e2e

import (
	"net/http"
	"testing"
)

func TestBaseURL(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	body := parseJSON(t, resp)
	if _, ok := body["timestamp"]; !ok {
		t.Error("expected 'timestamp' field in response")
	}
}

func TestHealth(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/health", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	body := parseJSON(t, resp)
	if body["status"] != "ok" {
		t.Errorf("expected status 'ok', got %v", body["status"])
	}
	if _, ok := body["services"]; !ok {
		t.Error("expected 'services' field in response")
	}
	if body["activeSessions"] != float64(0) {
		t.Errorf("expected no active sessions, got %v", body["activeSessions"])
	}
}

func TestLogin(t *testing.T) {
	ta := setupApp(t)

	tests := []struct {
		name   string
		body   string
		status int
		user   string
	}{
		{"shared password", `{"password":"letmein"}`, http.StatusOK, "default"},
		{"user password", `{"password":"user-pass"}`, http.StatusOK, testUser},
		{"wrong password", `{"password":"nope"}`, http.StatusUnauthorized, ""},
		{"missing password", `{}`, http.StatusBadRequest, ""},
		{"invalid body", `not json`, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := doRequest(ta.app, http.MethodPost, "/api/login", tt.body, nil)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			assertStatus(t, resp, tt.status)

			body := parseJSON(t, resp)
			if tt.status != http.StatusOK {
				if body["code"] == nil {
					t.Error("expected error code")
				}
				return
			}
			if body["userId"] != tt.user {
				t.Errorf("userId = %v, want %s", body["userId"], tt.user)
			}
			token, _ := body["token"].(string)
			if token == "" {
				t.Fatal("expected token")
			}

			// The issued token opens the API
			me, err := doRequest(ta.app, http.MethodGet, "/api/songs", "", map[string]string{"Authorization": "Bearer " + token})
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			assertStatus(t, me, http.StatusOK)
		})
	}
}

func TestProtectedRoutes_NoToken(t *testing.T) {
	ta := setupApp(t)

	paths := []struct{ method, path string }{
		{http.MethodPost, "/api/jobs"},
		{http.MethodGet, "/api/songs"},
		{http.MethodGet, "/api/images"},
		{http.MethodGet, "/api/projects"},
		{http.MethodPost, "/api/lyrics"},
		{http.MethodGet, "/api/credits"},
	}
	for _, p := range paths {
		resp, err := doRequest(ta.app, p.method, p.path, "", nil)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", p.method, p.path, resp.StatusCode)
			continue
		}
		body := parseJSON(t, resp)
		if body["code"] != "UNAUTHORIZED" {
			t.Errorf("%s %s: code = %v", p.method, p.path, body["code"])
		}
	}
}
