package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/fasthttp/websocket"

	"github.com/makeasinger/playground/internal/jobclient"
	"github.com/makeasinger/playground/internal/model"
)

func wsURL(base, token string) string {
	return "ws" + strings.TrimPrefix(base, "http") + "/ws?token=" + token
}

func TestRealtime_RequiresUpgrade(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/ws?token="+generateToken(t, ta, testUser), "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusUpgradeRequired)
}

func TestRealtime_RejectsBadToken(t *testing.T) {
	ta := setupApp(t)
	base := ta.listen(t)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(base, "not-a-token"), nil)
	if err == nil {
		conn.Close()
		t.Fatal("expected handshake to fail")
	}
	if !errors.Is(err, websocket.ErrBadHandshake) || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("err = %v, resp = %v", err, resp)
	}
}

func TestRealtime_TrackTaskStreamsUntilSuccess(t *testing.T) {
	ta := setupApp(t)
	base := ta.listen(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(base, generateToken(t, ta, testUser)), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(model.WSMessage{Type: model.WSMessageTypeTrackTask, JobID: "task-5", JobKind: "song"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var statuses []string
	for len(statuses) < 2 {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var env struct {
			Data struct {
				TaskID string `json:"taskId"`
				Status string `json:"status"`
			} `json:"data"`
		}
		if err := json.Unmarshal(msg, &env); err != nil {
			t.Fatalf("unmarshal %s: %v", msg, err)
		}
		if env.Data.TaskID != "task-5" {
			t.Fatalf("event for %q: %s", env.Data.TaskID, msg)
		}
		statuses = append(statuses, env.Data.Status)
	}
	if statuses[0] != "TEXT_SUCCESS" || statuses[1] != "SUCCESS" {
		t.Errorf("statuses = %v", statuses)
	}

	// Artifacts are committed before SUCCESS is pushed
	ids := listSongIDs(t, ta, "")
	if len(ids) != 2 || !ids["task-5-a"] || !ids["task-5-b"] {
		t.Errorf("songs = %v", ids)
	}
}

func TestRealtime_ImageJobCommitsGrid(t *testing.T) {
	ta := setupApp(t)
	base := ta.listen(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(base, generateToken(t, ta, testUser)), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(model.WSMessage{Type: model.WSMessageTypeTrackTask, TaskID: "mj-9", TaskType: "mj"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(msg), `"successFlag":1`) {
		t.Fatalf("unexpected event %s", msg)
	}

	resp, err := doAuthRequest(t, ta, http.MethodGet, "/api/images", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	images := parseJSONArray(t, resp)
	if len(images) != 2 {
		t.Fatalf("images = %d, want 2", len(images))
	}
	payload, _ := images[0]["payload"].(map[string]interface{})
	if payload["imageType"] != "grid" || payload["prompt"] != "a cat" {
		t.Errorf("payload = %v", payload)
	}
}

func TestRealtime_ImageFailureReportsMessage(t *testing.T) {
	ta := setupApp(t)
	base := ta.listen(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(base, generateToken(t, ta, testUser)), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(model.WSMessage{Type: model.WSMessageTypeTrackTask, TaskID: "nsfw-1", TaskType: "mj"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var frames []string
	for len(frames) < 3 {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read after %v: %v", frames, err)
		}
		frames = append(frames, string(msg))
	}
	if !strings.Contains(frames[0], `"successFlag":0`) || !strings.Contains(frames[1], `"successFlag":2`) {
		t.Fatalf("frames = %v", frames)
	}
	var ev model.WSErrorEvent
	if err := json.Unmarshal([]byte(frames[2]), &ev); err != nil {
		t.Fatalf("unmarshal %s: %v", frames[2], err)
	}
	if !ev.Error || ev.Message != "NSFW content detected" || ev.JobID != "nsfw-1" {
		t.Errorf("error event = %+v", ev)
	}

	resp, err := doAuthRequest(t, ta, http.MethodGet, "/api/images", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if images := parseJSONArray(t, resp); len(images) != 0 {
		t.Errorf("rejected job left %d images", len(images))
	}
}

func TestRealtime_JobOwnershipSurvivesWithoutRedis(t *testing.T) {
	ta := setupApp(t)
	base := ta.listen(t)

	resp, err := doAuthRequest(t, ta, http.MethodPost, "/api/jobs", `{"jobKind":"song","params":{"prompt":"mine"}}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	jobID, _ := parseJSON(t, resp)["jobId"].(string)
	if jobID == "" {
		t.Fatal("no jobId")
	}

	// Another user cannot track or poll it, even naming the kind
	intruder, _, err := websocket.DefaultDialer.Dial(wsURL(base, generateToken(t, ta, "someone-else")), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer intruder.Close()
	if err := intruder.WriteJSON(model.WSMessage{Type: model.WSMessageTypeTrackTask, JobID: jobID, JobKind: "song"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = intruder.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := intruder.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev model.WSErrorEvent
	if err := json.Unmarshal(msg, &ev); err != nil || !ev.Error || ev.Message != "job not found" {
		t.Fatalf("intruder got %s", msg)
	}

	resp, err = doAuthRequestAs(t, ta, "someone-else", http.MethodGet, "/api/jobs/"+jobID+"/status?kind=song", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)

	// The owner can track it without naming the kind
	owner, _, err := websocket.DefaultDialer.Dial(wsURL(base, generateToken(t, ta, testUser)), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer owner.Close()
	if err := owner.WriteJSON(model.WSMessage{Type: model.WSMessageTypeTrackTask, JobID: jobID}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = owner.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err = owner.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(msg), `"taskId":"`+jobID+`"`) {
		t.Errorf("owner got %s", msg)
	}
}

func TestRealtime_ControllerEndToEnd(t *testing.T) {
	ta := setupApp(t)
	base := ta.listen(t)

	ctrl := jobclient.New(base, "")
	defer ctrl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := ctrl.Login(ctx, "user-pass"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	jobID, err := ctrl.Start(ctx, model.JobKindSongGenerate, json.RawMessage(`{"prompt":"end to end"}`))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if jobID != "task-1" {
		t.Errorf("jobID = %q", jobID)
	}

	ev, err := ctrl.Wait(ctx, jobID)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if ev.Type != jobclient.EventSucceeded {
		t.Fatalf("event = %+v", ev)
	}

	songs := ctrl.Songs()
	if len(songs) != 2 {
		t.Fatalf("songs = %d, want 2", len(songs))
	}
	for _, s := range songs {
		if s.JobID != jobID || s.OwnerID != testUser {
			t.Errorf("song %s: job %s owner %s", s.ID, s.JobID, s.OwnerID)
		}
	}
	if len(ctrl.Placeholders()) != 0 {
		t.Error("placeholder left after success")
	}

	credits, err := ctrl.Credits(ctx)
	if err != nil {
		t.Fatalf("Credits: %v", err)
	}
	if string(credits) != "99" {
		t.Errorf("credits = %s", credits)
	}
}

func TestRealtime_ControllerExpiredToken(t *testing.T) {
	ta := setupApp(t)
	base := ta.listen(t)

	ctrl := jobclient.New(base, "stale")
	defer ctrl.Close()

	_, err := ctrl.Start(context.Background(), model.JobKindSongGenerate, json.RawMessage(`{"prompt":"x"}`))
	if !errors.Is(err, jobclient.ErrAuthExpired) {
		t.Fatalf("err = %v, want ErrAuthExpired", err)
	}
	if ctrl.Token() != "" {
		t.Error("expired token kept")
	}
}
