package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"automontage/internal/pipeline"
	"automontage/internal/storage"
	"automontage/internal/tasks"
)

// Runner is the part of the pipeline the server drives.
type Runner interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
	SubscribeProgress() (<-chan tasks.GroupProgress, func())
}

// Server exposes run submission, run history and live progress over HTTP,
// and optionally starts montage runs for manifests dropped into watched
// directories.
type Server struct {
	addr     string
	store    *storage.Store
	pipeline Runner
	watcher  *tasks.ManifestWatcher
	hub      *Hub
	hubOnce  sync.Once
	upgrader websocket.Upgrader
	log      *slog.Logger
	server   *http.Server
}

// NewServer creates a server; watchPaths may be empty.
func NewServer(addr string, store *storage.Store, pipe Runner, watchPaths []string, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		addr:     addr,
		store:    store,
		pipeline: pipe,
		hub:      newHub(log),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}

	if len(watchPaths) > 0 {
		w, err := tasks.NewManifestWatcher(watchPaths, 2*time.Second, log)
		if err != nil {
			return nil, err
		}
		s.watcher = w
	}
	return s, nil
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.watcher != nil {
		if err := s.watcher.Start(); err != nil {
			return err
		}
		go s.submitManifests(ctx)
	}

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(ctx),
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")
		if s.watcher != nil {
			s.watcher.Stop()
		}
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Handler returns the routed handler. The first call starts the progress
// hub, which stops with that call's ctx.
func (s *Server) Handler(ctx context.Context) http.Handler {
	s.hubOnce.Do(func() {
		go s.hub.run(ctx)
		go s.pumpEvents(ctx)
	})

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/api/runs", s.handleRuns).Methods("GET")
	r.HandleFunc("/api/runs", s.handleSubmit).Methods("POST")
	r.HandleFunc("/api/runs/{id}", s.handleRun).Methods("GET")
	r.HandleFunc("/stream", s.handleJobStream).Methods("GET")
	r.HandleFunc("/ws/progress", s.handleWebSocket).Methods("GET")
	return r
}

// Serve runs a server without directory watching.
func Serve(ctx context.Context, addr string, store *storage.Store, pipe Runner, log *slog.Logger) error {
	server, err := NewServer(addr, store, pipe, nil, log)
	if err != nil {
		return err
	}
	return server.Start(ctx)
}

// event is the websocket message envelope.
type event struct {
	Kind     string               `json:"kind"` // "progress", "result"
	Progress *tasks.GroupProgress `json:"progress,omitempty"`
	Run      string               `json:"run,omitempty"`
	Status   string               `json:"status,omitempty"`
	Error    string               `json:"error,omitempty"`
	Meta     map[string]any       `json:"meta,omitempty"`
}

func (s *Server) pumpEvents(ctx context.Context) {
	progress, unsubProg := s.pipeline.SubscribeProgress()
	defer unsubProg()
	results, unsub := s.pipeline.Subscribe()
	defer unsub()

	for {
		var ev event
		select {
		case <-ctx.Done():
			return
		case gp, ok := <-progress:
			if !ok {
				return
			}
			ev = event{Kind: "progress", Progress: &gp, Run: gp.RunID}
		case res, ok := <-results:
			if !ok {
				return
			}
			ev = resultEvent(res)
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			s.log.Warn("failed to encode event", "error", err)
			continue
		}
		s.hub.publish(payload)
	}
}

func resultEvent(res pipeline.Result) event {
	ev := event{Kind: "result", Run: res.Job.ID, Status: "completed", Meta: res.Meta}
	if res.Error != nil {
		ev.Status = "failed"
		ev.Error = res.Error.Error()
	}
	return ev
}

func (s *Server) submitManifests(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			job := pipeline.Job{
				ID:        "watch-" + uuid.NewString(),
				Type:      pipeline.JobMontage,
				InputPath: ev.Path,
				Options:   map[string]any{"source": "watch"},
			}
			if err := s.pipeline.Submit(job); err != nil {
				s.log.Error("failed to submit watched manifest", "path", ev.Path, "error", err)
				continue
			}
			s.log.Info("manifest queued", "path", ev.Path, "operation", ev.Operation, "id", job.ID)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentJobs(100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// runDetail is a stored run with its montage components.
type runDetail struct {
	storage.JobRecord
	Meta       map[string]any            `json:"meta,omitempty"`
	Components []storage.ComponentRecord `json:"components"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.store.Job(id)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	detail := runDetail{JobRecord: rec}
	if detail.Meta, err = s.store.JobMeta(id); err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.log.Warn("failed to read run metadata", "run", id, "error", err)
	}
	if detail.Components, err = s.store.Components(id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// submitRequest is the POST /api/runs body.
type submitRequest struct {
	Type    string         `json:"type"` // "montage" (default), "batch"
	Input   string         `json:"input"`
	Output  string         `json:"output"`
	Options map[string]any `json:"options"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Input == "" {
		http.Error(w, "input is required", http.StatusBadRequest)
		return
	}
	jobType := pipeline.JobMontage
	switch req.Type {
	case "", string(pipeline.JobMontage):
	case string(pipeline.JobBatch):
		jobType = pipeline.JobBatch
	default:
		http.Error(w, "unknown run type: "+req.Type, http.StatusBadRequest)
		return
	}
	job := pipeline.Job{
		ID:        string(jobType) + "-" + uuid.NewString(),
		Type:      jobType,
		InputPath: req.Input,
		Output:    req.Output,
		Options:   normalizeOptions(req.Options),
	}
	if err := s.pipeline.Submit(job); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": job.ID})
}

// normalizeOptions turns JSON numbers into the ints the router expects.
func normalizeOptions(opts map[string]any) map[string]any {
	out := make(map[string]any, len(opts)+1)
	for k, v := range opts {
		if f, ok := v.(float64); ok && f == float64(int(f)) {
			v = int(f)
		}
		out[k] = v
	}
	out["source"] = "api"
	return out
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, _ := json.Marshal(resultEvent(res))
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.hub.add(conn)

	go func() {
		defer s.hub.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
