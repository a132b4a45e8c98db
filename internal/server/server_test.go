package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"automontage/internal/pipeline"
	"automontage/internal/storage"
	"automontage/internal/tasks"
)

type fakeRunner struct {
	mu       sync.Mutex
	jobs     []pipeline.Job
	results  chan pipeline.Result
	progress chan tasks.GroupProgress
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		results:  make(chan pipeline.Result, 8),
		progress: make(chan tasks.GroupProgress, 8),
	}
}

func (f *fakeRunner) Submit(job pipeline.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeRunner) Subscribe() (<-chan pipeline.Result, func()) { return f.results, func() {} }

func (f *fakeRunner) SubscribeProgress() (<-chan tasks.GroupProgress, func()) {
	return f.progress, func() {}
}

func (f *fakeRunner) submitted() []pipeline.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pipeline.Job(nil), f.jobs...)
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeRunner, *storage.Store) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	runner := newFakeRunner()
	s, err := NewServer(":0", store, runner, nil, nil)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	ts := httptest.NewServer(s.Handler(ctx))
	t.Cleanup(func() {
		ts.Close()
		cancel()
		store.Close()
	})
	return ts, runner, store
}

func TestHealth(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
}

func TestSubmitRun(t *testing.T) {
	ts, runner, _ := newTestServer(t)

	body := `{"type":"montage","input":"/data/s1/montage.yaml","options":{"prefetch":4,"writeTiles":true}}`
	resp, err := http.Post(ts.URL+"/api/runs", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}

	jobs := runner.submitted()
	if len(jobs) != 1 || jobs[0].ID != out["id"] || jobs[0].Type != pipeline.JobMontage {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
	if jobs[0].Options["prefetch"] != 4 {
		t.Fatalf("prefetch should decode as int, got %#v", jobs[0].Options["prefetch"])
	}
}

func TestSubmitRunValidation(t *testing.T) {
	ts, runner, _ := newTestServer(t)
	cases := []string{`{"input":""}`, `{"type":"stack","input":"x"}`, `not json`}
	for _, body := range cases {
		resp, err := http.Post(ts.URL+"/api/runs", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, resp.StatusCode)
		}
	}
	if len(runner.submitted()) != 0 {
		t.Fatal("invalid requests should not submit jobs")
	}
}

func TestRunLookup(t *testing.T) {
	ts, _, store := newTestServer(t)
	if err := store.RecordJobQueued(storage.JobRecord{ID: "run-1", JobType: "montage", Status: "queued"}); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordComponents([]storage.ComponentRecord{{JobID: "run-1", ComponentID: 0, RootTile: 0, TileCount: 3}}); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(ts.URL + "/api/runs/run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var detail struct {
		ID         string                    `json:"id"`
		Components []storage.ComponentRecord `json:"components"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if detail.ID != "run-1" || len(detail.Components) != 1 {
		t.Fatalf("unexpected detail %+v", detail)
	}

	missing, err := http.Get(ts.URL + "/api/runs/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.StatusCode)
	}

	list, err := http.Get(ts.URL + "/api/runs")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer list.Body.Close()
	var recs []storage.JobRecord
	if err := json.NewDecoder(list.Body).Decode(&recs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected one run, got %d", len(recs))
	}
}

func TestProgressWebSocket(t *testing.T) {
	ts, runner, _ := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/progress"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Keep publishing until the client has been registered and sees one.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				select {
				case runner.progress <- tasks.GroupProgress{RunID: "r1", Matched: 3, Total: 9}:
				default:
				}
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Kind != "progress" || ev.Progress == nil || ev.Progress.Matched != 3 || ev.Run != "r1" {
		t.Fatalf("unexpected event %s", msg)
	}
}

func TestHandlerStartsHubOnce(t *testing.T) {
	runner := newFakeRunner()
	s, err := NewServer(":0", nil, runner, nil, nil)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Handler(ctx)
	ts := httptest.NewServer(s.Handler(ctx))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/progress"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				select {
				case runner.progress <- tasks.GroupProgress{RunID: "r2", Matched: 1, Total: 1}:
				default:
				}
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read after second Handler call: %v", err)
	}
}
