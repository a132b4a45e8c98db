package tasks

import (
	"context"
	"log/slog"

	"automontage/internal/registration"
	"automontage/internal/session"
)

// BatchRequest runs every subject folder under Root.
type BatchRequest struct {
	RunID           string
	Root            string
	OutputRoot      string
	Params          registration.Params
	PrefetchWorkers int
	WriteTiles      bool
	WriteCanvas     bool
	Progress        func(GroupProgress)
}

// BatchResult collects per-subject outcomes. A failed subject does not stop
// the batch.
type BatchResult struct {
	RunID    string            `json:"run_id"`
	Subjects []MontageResult   `json:"subjects"`
	Failed   map[string]string `json:"failed,omitempty"`
}

// AssembleBatch discovers subjects and montages them one after another.
func (m *Montager) AssembleBatch(ctx context.Context, req BatchRequest) (BatchResult, error) {
	log := m.Logger
	if log == nil {
		log = slog.Default()
	}
	manifests, err := session.DiscoverSubjects(req.Root, req.OutputRoot)
	if err != nil {
		return BatchResult{}, err
	}
	res := BatchResult{RunID: req.RunID, Failed: map[string]string{}}
	for _, man := range manifests {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		sub, err := m.AssembleMontage(ctx, MontageRequest{
			RunID:           req.RunID + "/" + man.Name,
			Manifest:        man,
			Params:          req.Params,
			PrefetchWorkers: req.PrefetchWorkers,
			WriteTiles:      req.WriteTiles,
			WriteCanvas:     req.WriteCanvas,
			Progress:        req.Progress,
		})
		if err != nil {
			log.Error("subject failed", "run", req.RunID, "subject", man.Name, "error", err)
			res.Failed[man.Name] = err.Error()
			continue
		}
		res.Subjects = append(res.Subjects, sub)
	}
	log.Info("batch finished", "run", req.RunID, "subjects", len(manifests), "failed", len(res.Failed))
	return res, nil
}
