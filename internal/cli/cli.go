package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"automontage/internal/config"
	"automontage/internal/pipeline"
	"automontage/internal/server"
	"automontage/internal/storage"
	"automontage/internal/tasks"
)

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

type serverFunc func(ctx context.Context, addr string, store *storage.Store, pipe pipelineClient, watch []string, log *slog.Logger) error

func defaultServe(ctx context.Context, addr string, store *storage.Store, pipe pipelineClient, watch []string, log *slog.Logger) error {
	runner, ok := pipe.(server.Runner)
	if !ok {
		return fmt.Errorf("pipeline does not support server operation")
	}
	srv, err := server.NewServer(addr, store, runner, watch, log)
	if err != nil {
		return err
	}
	return srv.Start(ctx)
}

// Root wires CLI commands to the pipeline.
type Root struct {
	pipeline pipelineClient
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.Store
	serveFn  serverFunc
	settle   time.Duration
}

// NewRoot constructs the CLI root.
func NewRoot(pl pipelineClient, cfg *config.Config, logger *slog.Logger, store *storage.Store) *Root {
	return &Root{
		pipeline: pl,
		cfg:      cfg,
		log:      logger,
		store:    store,
		serveFn:  defaultServe,
		settle:   2 * time.Second,
	}
}

func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	if err := r.enqueue(ctx, job); err != nil {
		return pipeline.Result{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return pipeline.Result{}, ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return pipeline.Result{}, fmt.Errorf("pipeline stopped before completion")
			}
			if res.Job.ID == job.ID {
				return res, res.Error
			}
		}
	}
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.pipeline.Submit(job); err != nil {
		return err
	}

	r.log.Info("job queued", "type", job.Type, "id", job.ID, "input", job.InputPath)
	return nil
}

// watch submits a montage job for every manifest that settles in dirs until
// ctx ends.
func (r *Root) watch(ctx context.Context, dirs []string) error {
	w, err := tasks.NewManifestWatcher(dirs, r.settle, r.log)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		w.Stop()
		return err
	}
	defer w.Stop()

	results, unsub := r.pipeline.Subscribe()
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			job := pipeline.Job{
				ID:        newID("watch"),
				Type:      pipeline.JobMontage,
				InputPath: ev.Path,
				Options:   map[string]any{"source": "watch"},
			}
			if err := r.enqueue(ctx, job); err != nil {
				r.log.Error("failed to queue manifest", "path", ev.Path, "error", err)
			}
		case res, ok := <-results:
			if !ok {
				return nil
			}
			if res.Error != nil {
				r.log.Error("watched run failed", "id", res.Job.ID, "input", res.Job.InputPath, "error", res.Error)
			}
		}
	}
}

func newID(prefix string) string {
	ts := time.Now().UTC().Format("20060102T150405")
	return fmt.Sprintf("%s-%s-%s", prefix, ts, uuid.NewString()[:8])
}
