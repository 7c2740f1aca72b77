package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/makeasinger/playground/internal/logger"
	"github.com/makeasinger/playground/internal/model"
	"github.com/makeasinger/playground/internal/status"
)

const (
	songPending = `{"code":200,"msg":"success","data":{"taskId":"j1","status":"PENDING"}}`
	songText    = `{"code":200,"msg":"success","data":{"taskId":"j1","status":"TEXT_SUCCESS"}}`
	songSuccess = `{"code":200,"msg":"success","data":{"taskId":"j1","status":"SUCCESS","response":{"sunoData":[{"id":"a1","audioUrl":"https://cdn/a1.mp3"},{"id":"a2","audioUrl":"https://cdn/a2.mp3"}]}}}`
	songFailed  = `{"code":200,"msg":"success","data":{"taskId":"j1","status":"GENERATE_AUDIO_FAILED","errorMessage":"content rejected"}}`
)

type pollResult struct {
	raw string
	err error
}

// scriptedPoller returns results in order and repeats the last one.
type scriptedPoller struct {
	mu      sync.Mutex
	results []pollResult
	calls   int
	block   bool
}

func (p *scriptedPoller) PollJob(ctx context.Context, jobID string, kind model.JobKind) ([]byte, error) {
	p.mu.Lock()
	idx := p.calls
	p.calls++
	block := p.block && idx > 0
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if idx >= len(p.results) {
		idx = len(p.results) - 1
	}
	r := p.results[idx]
	if r.err != nil {
		return nil, r.err
	}
	return []byte(r.raw), nil
}

func (p *scriptedPoller) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type recordingSink struct {
	mu       sync.Mutex
	payloads []string
	onSend   func(payload string)
	closed   bool
}

func (s *recordingSink) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("closed")
	}
	if s.onSend != nil {
		s.onSend(string(payload))
	}
	s.payloads = append(s.payloads, string(payload))
	return nil
}

func (s *recordingSink) Payloads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.payloads...)
}

type memStore struct {
	mu   sync.Mutex
	rows map[string]model.Artifact
	err  error
}

func newMemStore() *memStore { return &memStore{rows: map[string]model.Artifact{}} }

func (m *memStore) UpsertArtifacts(ctx context.Context, artifacts []model.Artifact) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	var n int64
	for _, a := range artifacts {
		if _, ok := m.rows[a.ID]; ok {
			continue
		}
		m.rows[a.ID] = a
		n++
	}
	return n, nil
}

func (m *memStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func newTestTracker(p Poller, store ArtifactStore, opts Options) *Tracker {
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Millisecond
	}
	return New(p, NewStoreCommitter(store), opts, logger.Nop())
}

func newSongSub() *Subscription {
	return NewSubscription(context.Background(), "u1", "j1", model.JobKindSongGenerate)
}

func TestTrack_ForwardsPayloadsInOrderAndCommitsBeforeSuccess(t *testing.T) {
	poller := &scriptedPoller{results: []pollResult{{raw: songPending}, {raw: songText}, {raw: songSuccess}}}
	store := newMemStore()
	sink := &recordingSink{}
	sink.onSend = func(p string) {
		if p == songSuccess && store.Len() != 2 {
			t.Errorf("SUCCESS emitted before commit: %d rows", store.Len())
		}
	}

	class, err := newTestTracker(poller, store, Options{}).Track(newSongSub(), sink)
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if class != model.StatusSuccess {
		t.Errorf("class = %s, want SUCCESS", class)
	}

	got := sink.Payloads()
	want := []string{songPending, songText, songSuccess}
	if len(got) != len(want) {
		t.Fatalf("got %d payloads, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("payload %d = %s, want %s", i, got[i], want[i])
		}
	}
	if poller.Calls() != 3 {
		t.Errorf("polled %d times after terminal, want 3", poller.Calls())
	}
}

func TestTrack_FailedForwardsPayloadWithoutCommit(t *testing.T) {
	poller := &scriptedPoller{results: []pollResult{{raw: songPending}, {raw: songFailed}}}
	store := newMemStore()
	sink := &recordingSink{}

	class, err := newTestTracker(poller, store, Options{}).Track(newSongSub(), sink)
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if class != model.StatusFailed {
		t.Errorf("class = %s, want FAILED", class)
	}
	if store.Len() != 0 {
		t.Errorf("failed job committed %d rows", store.Len())
	}

	got := sink.Payloads()
	if len(got) != 3 || got[1] != songFailed {
		t.Fatalf("payloads = %v", got)
	}
	st, err := status.Classify(model.JobKindSongGenerate, []byte(got[1]))
	if err != nil || st.Message() != "content rejected" {
		t.Errorf("client sees message %q, err %v", st.Message(), err)
	}
	assertErrorEvent(t, got[2], "j1", "content rejected")
}

func TestTrack_FailedWithoutMessageSendsFallback(t *testing.T) {
	poller := &scriptedPoller{results: []pollResult{{raw: `{"code":200,"data":{"taskId":"j1","status":"CREATE_TASK_FAILED"}}`}}}
	sink := &recordingSink{}

	class, err := newTestTracker(poller, newMemStore(), Options{}).Track(newSongSub(), sink)
	if err != nil || class != model.StatusFailed {
		t.Fatalf("Track = %s, %v", class, err)
	}
	got := sink.Payloads()
	if len(got) != 2 {
		t.Fatalf("payloads = %v", got)
	}
	assertErrorEvent(t, got[1], "j1", "job failed with status CREATE_TASK_FAILED")
}

func TestTrack_ImageFailureCommitsNothing(t *testing.T) {
	pending := `{"code":200,"msg":"success","data":{"taskId":"m1","successFlag":0}}`
	failed := `{"code":200,"msg":"success","data":{"taskId":"m1","successFlag":2,"errorMessage":"NSFW content detected"}}`
	poller := &scriptedPoller{results: []pollResult{{raw: pending}, {raw: failed}}}
	store := newMemStore()
	sink := &recordingSink{}
	sub := NewSubscription(context.Background(), "u1", "m1", model.JobKindImageGenerate)

	class, err := newTestTracker(poller, store, Options{}).Track(sub, sink)
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if class != model.StatusFailed {
		t.Errorf("class = %s, want FAILED", class)
	}
	if store.Len() != 0 {
		t.Errorf("failed image job committed %d rows", store.Len())
	}

	got := sink.Payloads()
	if len(got) != 3 || got[0] != pending || got[1] != failed {
		t.Fatalf("payloads = %v", got)
	}
	assertErrorEvent(t, got[2], "m1", "NSFW content detected")
}

func assertErrorEvent(t *testing.T, payload, jobID, message string) {
	t.Helper()
	var ev model.WSErrorEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		t.Fatalf("unmarshal error event: %v", err)
	}
	if !ev.Error || ev.JobID != jobID || ev.Message != message {
		t.Errorf("error event = %+v, want message %q", ev, message)
	}
}

func TestTrack_PollErrorEmitsSingleErrorEvent(t *testing.T) {
	poller := &scriptedPoller{results: []pollResult{{raw: songPending}, {err: errors.New("connection reset")}}}
	sink := &recordingSink{}

	class, err := newTestTracker(poller, newMemStore(), Options{}).Track(newSongSub(), sink)
	if err == nil {
		t.Fatal("expected poll error to be returned")
	}
	if class != model.StatusFailed {
		t.Errorf("class = %s, want FAILED", class)
	}

	got := sink.Payloads()
	if len(got) != 2 {
		t.Fatalf("payloads = %v", got)
	}
	var ev model.WSErrorEvent
	if err := json.Unmarshal([]byte(got[1]), &ev); err != nil {
		t.Fatalf("unmarshal error event: %v", err)
	}
	if !ev.Error || !strings.Contains(ev.Message, "connection reset") || ev.JobID != "j1" {
		t.Errorf("error event = %+v", ev)
	}
	if poller.Calls() != 2 {
		t.Errorf("retried after error: %d polls", poller.Calls())
	}
}

func TestTrack_MalformedPayloadEmitsErrorEvent(t *testing.T) {
	poller := &scriptedPoller{results: []pollResult{{raw: `{"code":404,"msg":"task not found","data":null}`}}}
	sink := &recordingSink{}

	class, err := newTestTracker(poller, newMemStore(), Options{}).Track(newSongSub(), sink)
	if !errors.Is(err, status.ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
	if class != model.StatusFailed {
		t.Errorf("class = %s", class)
	}
	got := sink.Payloads()
	if len(got) != 1 || !strings.Contains(got[0], "task not found") {
		t.Errorf("payloads = %v", got)
	}
}

func TestTrack_TimesOut(t *testing.T) {
	poller := &scriptedPoller{results: []pollResult{{raw: songPending}}}
	sink := &recordingSink{}

	tr := newTestTracker(poller, newMemStore(), Options{PollInterval: 5 * time.Millisecond, MaxDuration: 30 * time.Millisecond})
	class, err := tr.Track(newSongSub(), sink)
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if class != model.StatusTimeout {
		t.Errorf("class = %s, want TIMEOUT", class)
	}

	got := sink.Payloads()
	last := got[len(got)-1]
	if !strings.Contains(last, `"error":true`) || !strings.Contains(last, "did not finish") {
		t.Errorf("last payload = %s", last)
	}
	for _, p := range got[:len(got)-1] {
		if p != songPending {
			t.Errorf("unexpected payload before timeout: %s", p)
		}
	}
}

func TestTrack_CancelStopsEmission(t *testing.T) {
	poller := &scriptedPoller{results: []pollResult{{raw: songPending}, {raw: songSuccess}}, block: true}
	store := newMemStore()
	sink := &recordingSink{}
	sub := newSongSub()

	result := make(chan error, 1)
	go func() {
		_, err := newTestTracker(poller, store, Options{}).Track(sub, sink)
		result <- err
	}()

	deadline := time.After(time.Second)
	for poller.Calls() < 2 {
		select {
		case <-deadline:
			t.Fatal("tracker never reached second poll")
		case <-time.After(time.Millisecond):
		}
	}
	sub.Cancel()

	select {
	case err := <-result:
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("err = %v, want ErrCancelled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Track did not return after Cancel")
	}
	<-sub.Done()

	if got := sink.Payloads(); len(got) != 1 || got[0] != songPending {
		t.Errorf("payloads after cancel = %v", got)
	}
	if store.Len() != 0 {
		t.Errorf("cancelled subscription committed %d rows", store.Len())
	}
}

func TestTrack_CancelledBeforeSuccessCommitsNothing(t *testing.T) {
	poller := &scriptedPoller{results: []pollResult{{raw: songSuccess}}}
	store := newMemStore()
	sink := &recordingSink{}
	sub := newSongSub()
	sub.Cancel()

	_, err := newTestTracker(poller, store, Options{}).Track(sub, sink)
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("err = %v, want ErrCancelled", err)
	}
	if store.Len() != 0 || len(sink.Payloads()) != 0 {
		t.Errorf("cancelled subscription produced effects: rows=%d events=%v", store.Len(), sink.Payloads())
	}
}

func TestTrack_StorageErrorReported(t *testing.T) {
	poller := &scriptedPoller{results: []pollResult{{raw: songSuccess}}}
	store := newMemStore()
	store.err = errors.New("disk full")
	sink := &recordingSink{}

	class, err := newTestTracker(poller, store, Options{}).Track(newSongSub(), sink)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("err = %v", err)
	}
	if class != model.StatusFailed {
		t.Errorf("class = %s", class)
	}
	got := sink.Payloads()
	if len(got) != 1 || !strings.Contains(got[0], "failed to save results") {
		t.Errorf("payloads = %v", got)
	}
}

func TestTrack_SinkClosedStops(t *testing.T) {
	poller := &scriptedPoller{results: []pollResult{{raw: songPending}}}
	sink := &recordingSink{closed: true}

	_, err := newTestTracker(poller, newMemStore(), Options{}).Track(newSongSub(), sink)
	if !errors.Is(err, ErrSinkClosed) {
		t.Errorf("err = %v, want ErrSinkClosed", err)
	}
	if poller.Calls() != 1 {
		t.Errorf("kept polling after sink closed: %d", poller.Calls())
	}
}

func TestTrack_OnCommittedHook(t *testing.T) {
	poller := &scriptedPoller{results: []pollResult{{raw: songSuccess}}}
	var got []model.Artifact
	tr := newTestTracker(poller, newMemStore(), Options{OnCommitted: func(ctx context.Context, a []model.Artifact) {
		got = a
	}})
	if _, err := tr.Track(newSongSub(), &recordingSink{}); err != nil {
		t.Fatalf("Track: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a1" || got[1].OwnerID != "u1" {
		t.Errorf("hook artifacts = %+v", got)
	}
}

func TestCommit_TwiceKeepsOneRowPerItem(t *testing.T) {
	store := newMemStore()
	c := NewStoreCommitter(store)
	st, err := status.Classify(model.JobKindSongGenerate, []byte(songSuccess))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := c.Commit(context.Background(), newSongSub(), st); err != nil {
			t.Fatalf("Commit #%d: %v", i+1, err)
		}
	}
	if store.Len() != 2 {
		t.Errorf("rows = %d, want 2", store.Len())
	}
}

func TestBuildArtifacts_Images(t *testing.T) {
	st := status.ImageStatus{Flag: 1, URLs: []string{"https://cdn/0.png", "https://cdn/1.png"}}

	arts, err := BuildArtifacts("u1", "m1", model.JobKindImageGenerate, st)
	if err != nil {
		t.Fatalf("BuildArtifacts: %v", err)
	}
	if len(arts) != 2 || arts[1].ID != "m1_1" || arts[1].ImageIndex != 1 || arts[1].JobID != "m1" {
		t.Fatalf("artifacts = %+v", arts)
	}
	var p model.ImagePayload
	_ = json.Unmarshal(arts[0].Payload, &p)
	if p.ImageType != model.ImageTypeGrid {
		t.Errorf("imageType = %q, want grid", p.ImageType)
	}

	arts, _ = BuildArtifacts("u1", "m2", model.JobKindImageUpscale, status.ImageStatus{Flag: 1, URLs: []string{"https://cdn/u.png"}})
	_ = json.Unmarshal(arts[0].Payload, &p)
	if p.ImageType != model.ImageTypeSingle {
		t.Errorf("imageType = %q, want single", p.ImageType)
	}
}

func TestBuildArtifacts_NoResults(t *testing.T) {
	_, err := BuildArtifacts("u1", "j1", model.JobKindSongGenerate, status.SongStatus{Raw: "SUCCESS"})
	if !errors.Is(err, ErrNoResults) {
		t.Errorf("err = %v, want ErrNoResults", err)
	}
}

func TestNew_DefaultPollInterval(t *testing.T) {
	tr := New(&scriptedPoller{}, NewStoreCommitter(newMemStore()), Options{}, logger.Nop())
	if tr.opts.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %s, want 5s", tr.opts.PollInterval)
	}
}
