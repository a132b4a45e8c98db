package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"automontage/internal/config"
	"automontage/internal/session"
	"automontage/internal/tasks"
)

// Assembler runs montage work for the router.
type Assembler interface {
	AssembleMontage(ctx context.Context, req tasks.MontageRequest) (tasks.MontageResult, error)
	AssembleBatch(ctx context.Context, req tasks.BatchRequest) (tasks.BatchResult, error)
}

type manifestLoader func(path string) (*session.Manifest, error)

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log          *slog.Logger
	cfg          *config.Config
	asm          Assembler
	loadManifest manifestLoader
	progress     func(tasks.GroupProgress)
}

func newRouter(logger *slog.Logger, cfg *config.Config, asm Assembler) *router {
	if cfg == nil {
		cfg = config.Default()
	}
	return &router{
		log:          logger,
		cfg:          cfg,
		asm:          asm,
		loadManifest: session.LoadManifest,
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	if r.asm == nil {
		return Result{Job: job, Error: fmt.Errorf("no montage assembler configured")}
	}
	switch job.Type {
	case JobMontage:
		return r.handleMontage(ctx, job)
	case JobBatch:
		return r.handleBatch(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

func (r *router) handleMontage(ctx context.Context, job Job) Result {
	man, err := r.loadManifest(job.InputPath)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	if job.Output != "" {
		man.Output = job.Output
	}

	writeTiles := r.cfg.Mosaic.WriteTiles
	if man.WriteTiles != nil {
		writeTiles = *man.WriteTiles
	}
	if v, ok := job.Options["writeTiles"].(bool); ok {
		writeTiles = v
	}

	res, err := r.asm.AssembleMontage(ctx, tasks.MontageRequest{
		RunID:           job.ID,
		Manifest:        man,
		Params:          man.Registration.Apply(r.cfg.Params()),
		PrefetchWorkers: r.prefetchWorkers(job),
		WriteTiles:      writeTiles,
		WriteCanvas:     r.writeCanvas(job),
		Progress:        r.progress,
	})
	meta := map[string]any{
		"name":       res.Name,
		"output":     res.Output,
		"placements": res.PlacementsPath,
		"groups":     len(res.Groups),
		"components": res.ComponentCount(),
		"duration":   res.Duration.String(),
	}
	return Result{Job: job, Error: err, Meta: meta}
}

func (r *router) handleBatch(ctx context.Context, job Job) Result {
	writeTiles := r.cfg.Mosaic.WriteTiles
	if v, ok := job.Options["writeTiles"].(bool); ok {
		writeTiles = v
	}
	res, err := r.asm.AssembleBatch(ctx, tasks.BatchRequest{
		RunID:           job.ID,
		Root:            job.InputPath,
		OutputRoot:      job.Output,
		Params:          r.cfg.Params(),
		PrefetchWorkers: r.prefetchWorkers(job),
		WriteTiles:      writeTiles,
		WriteCanvas:     r.writeCanvas(job),
		Progress:        r.progress,
	})
	subjects := make([]string, 0, len(res.Subjects))
	components := 0
	for _, s := range res.Subjects {
		subjects = append(subjects, s.Name)
		components += s.ComponentCount()
	}
	meta := map[string]any{
		"subjects":   subjects,
		"failed":     res.Failed,
		"components": components,
	}
	if err == nil && len(res.Subjects) == 0 && len(res.Failed) > 0 {
		err = fmt.Errorf("all %d subjects failed", len(res.Failed))
	}
	return Result{Job: job, Error: err, Meta: meta}
}

func (r *router) prefetchWorkers(job Job) int {
	if v, ok := job.Options["prefetch"].(int); ok {
		return v
	}
	return r.cfg.Processing.PrefetchWorkers
}

func (r *router) writeCanvas(job Job) bool {
	if v, ok := job.Options["writeCanvas"].(bool); ok {
		return v
	}
	return r.cfg.Mosaic.WriteCanvas
}
