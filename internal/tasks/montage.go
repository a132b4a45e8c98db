package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"automontage/internal/logging"
	"automontage/internal/mosaic"
	"automontage/internal/registration"
	"automontage/internal/session"
	"automontage/internal/storage"
)

// PlacementsFile is written to the run output directory.
const PlacementsFile = "placements.json"

// MontageRequest defines one montage run over a session manifest.
type MontageRequest struct {
	RunID           string
	Manifest        *session.Manifest
	Params          registration.Params
	PrefetchWorkers int
	WriteTiles      bool
	WriteCanvas     bool
	// Progress receives matched-tile counts per group.
	Progress func(GroupProgress)
}

// GroupProgress is a progress update for one FOV group of a run.
type GroupProgress struct {
	RunID   string  `json:"run_id"`
	Group   int     `json:"group"`
	FOV     float64 `json:"fov"`
	Matched int     `json:"matched"`
	Total   int     `json:"total"`
}

// TilePlacement is one tile's resolved position, in the record layout the
// downstream script generator expects.
type TilePlacement struct {
	Tile      int     `json:"tile"`
	Movie     string  `json:"movie"`
	Reference int     `json:"reference"`
	Confocal  string  `json:"confocal"`
	Split     string  `json:"split"`
	Avg       string  `json:"avg"`
	TransY    float64 `json:"transy"`
	TransX    float64 `json:"transx"`
	Height    int     `json:"h"`
	Width     int     `json:"w"`
}

// ComponentPlacement is one disjoint montage.
type ComponentPlacement struct {
	ID    int             `json:"id"`
	Root  int             `json:"root"`
	Tiles []TilePlacement `json:"tiles"`
}

// GroupResult is the registration output for one FOV group.
type GroupResult struct {
	Index      int                     `json:"index"`
	FOV        float64                 `json:"fov"`
	TileCount  int                     `json:"tile_count"`
	Components []ComponentPlacement    `json:"components"`
	Stats      registration.BuildStats `json:"stats"`
}

// MontageResult captures output metadata for a run.
type MontageResult struct {
	RunID          string        `json:"run_id"`
	Name           string        `json:"name"`
	Output         string        `json:"output"`
	PlacementsPath string        `json:"placements_path"`
	Groups         []GroupResult `json:"groups"`
	Duration       time.Duration `json:"duration"`
}

// ComponentCount sums components over every group.
func (r MontageResult) ComponentCount() int {
	n := 0
	for _, g := range r.Groups {
		n += len(g.Components)
	}
	return n
}

// SessionLoader produces loaded sessions from manifests.
type SessionLoader interface {
	Load(ctx context.Context, m *session.Manifest) (*session.Session, error)
}

// RegisterFunc runs the registration engine.
type RegisterFunc func(ctx context.Context, tiles []registration.Tile, opts registration.Options) (*registration.Result, error)

// Montager runs montage requests end to end: load, register, persist and
// optionally composite.
type Montager struct {
	Loader   SessionLoader
	Store    *storage.Store
	Logger   *slog.Logger
	Register RegisterFunc
}

// NewMontager wires a Montager with the stock registration engine.
func NewMontager(loader SessionLoader, store *storage.Store, logger *slog.Logger) *Montager {
	return &Montager{Loader: loader, Store: store, Logger: logger, Register: registration.Register}
}

// AssembleMontage registers every FOV group of the request's session and
// writes placements and, when asked, warped tiles and canvases.
func (m *Montager) AssembleMontage(ctx context.Context, req MontageRequest) (MontageResult, error) {
	log := m.Logger
	if log == nil {
		log = slog.Default()
	}
	register := m.Register
	if register == nil {
		register = registration.Register
	}
	if req.Manifest == nil {
		return MontageResult{}, fmt.Errorf("montage request has no manifest")
	}
	if err := req.Params.Validate(); err != nil {
		return MontageResult{}, err
	}
	start := time.Now()
	output := req.Manifest.Output
	if output == "" {
		output = filepath.Join(req.Manifest.Directory, "montage")
	}
	if err := os.MkdirAll(output, 0o755); err != nil {
		return MontageResult{}, fmt.Errorf("failed to create output directory: %v", err)
	}

	logging.LogProcessingStep(log, req.RunID, "load", "started", map[string]any{"directory": req.Manifest.Directory})
	sess, err := m.Loader.Load(ctx, req.Manifest)
	if err != nil {
		return MontageResult{}, fmt.Errorf("load session: %w", err)
	}
	logging.LogProcessingStep(log, req.RunID, "load", "completed", map[string]any{"tiles": sess.TileCount(), "groups": len(sess.Groups)})

	res := MontageResult{RunID: req.RunID, Name: req.Manifest.Name, Output: output}
	for gi, group := range sess.Groups {
		gr, err := m.runGroup(ctx, log, register, req, output, gi, group)
		if err != nil {
			return res, fmt.Errorf("group %d (fov %g): %w", gi, group.FOV, err)
		}
		res.Groups = append(res.Groups, gr)
	}

	res.PlacementsPath = filepath.Join(output, PlacementsFile)
	if err := writePlacements(res.PlacementsPath, res); err != nil {
		return res, err
	}
	res.Duration = time.Since(start)
	return res, nil
}

func (m *Montager) runGroup(ctx context.Context, log *slog.Logger, register RegisterFunc, req MontageRequest, output string, gi int, group session.Group) (GroupResult, error) {
	progress := func(p registration.Progress) {
		logging.LogProgress(log, req.RunID, gi, p.Matched, p.Total)
		if req.Progress != nil {
			req.Progress(GroupProgress{RunID: req.RunID, Group: gi, FOV: group.FOV, Matched: p.Matched, Total: p.Total})
		}
	}
	reg, err := register(ctx, group.Tiles, registration.Options{
		Params:          req.Params,
		Logger:          log.With("run", req.RunID, "group", gi),
		Progress:        progress,
		PrefetchWorkers: req.PrefetchWorkers,
	})
	if err != nil {
		return GroupResult{}, err
	}

	gr := GroupResult{Index: gi, FOV: group.FOV, TileCount: len(group.Tiles), Stats: reg.Stats}
	for _, c := range reg.Components {
		gr.Components = append(gr.Components, placeComponent(group.Tiles, reg, c))
	}
	if err := m.persist(req.RunID, gi, group.FOV, gr, reg); err != nil {
		log.Warn("failed to persist registration", "run", req.RunID, "group", gi, "error", err)
	}

	if req.WriteTiles || req.WriteCanvas {
		if err := composite(ctx, log, req, output, gi, group, reg); err != nil {
			return gr, err
		}
	}
	return gr, nil
}

func placeComponent(tiles []registration.Tile, reg *registration.Result, c registration.Component) ComponentPlacement {
	cp := ComponentPlacement{ID: c.ID, Root: c.Root}
	for _, m := range c.Members {
		t := &tiles[m]
		w, h := t.Size()
		g := reg.Global[m]
		cp.Tiles = append(cp.Tiles, TilePlacement{
			Tile:      m,
			Movie:     t.Name,
			Reference: reg.Assignment[m],
			Confocal:  t.Paths[registration.ChannelConfocal],
			Split:     t.Paths[registration.ChannelSplit],
			Avg:       t.Paths[registration.ChannelAvg],
			TransX:    g.X,
			TransY:    g.Y,
			Width:     w,
			Height:    h,
		})
	}
	return cp
}

func (m *Montager) persist(runID string, gi int, fov float64, gr GroupResult, reg *registration.Result) error {
	if m.Store == nil {
		return nil
	}
	var comps []storage.ComponentRecord
	var placements []storage.PlacementRecord
	for _, c := range gr.Components {
		comps = append(comps, storage.ComponentRecord{
			JobID: runID, GroupIndex: gi, FOV: fov, ComponentID: c.ID, RootTile: c.Root, TileCount: len(c.Tiles),
		})
		for _, t := range c.Tiles {
			placements = append(placements, storage.PlacementRecord{
				JobID: runID, GroupIndex: gi, ComponentID: c.ID, TileIndex: t.Tile, Movie: t.Movie,
				ReferenceTile: t.Reference, ConfocalPath: t.Confocal, SplitPath: t.Split, AvgPath: t.Avg,
				TransX: t.TransX, TransY: t.TransY, Width: t.Width, Height: t.Height,
			})
		}
	}
	pairs := make([]storage.PairMatchRecord, 0, len(reg.Matches))
	for _, pm := range reg.Matches {
		pairs = append(pairs, storage.PairMatchRecord{
			Src: pm.Src, Dst: pm.Dst, TransX: pm.Translation.X, TransY: pm.Translation.Y, Inliers: pm.Inliers,
		})
	}
	if err := m.Store.RecordComponents(comps); err != nil {
		return err
	}
	if err := m.Store.RecordPlacements(placements); err != nil {
		return err
	}
	return m.Store.RecordPairMatches(runID, gi, pairs)
}

// GroupDir names the output folder of one FOV group.
func GroupDir(output string, gi int, fov float64) string {
	return filepath.Join(output, "fov_"+strconv.FormatFloat(fov, 'f', -1, 64)+"_"+strconv.Itoa(gi))
}

func composite(ctx context.Context, log *slog.Logger, req MontageRequest, output string, gi int, group session.Group, reg *registration.Result) error {
	writer := mosaic.NewWriter(GroupDir(output, gi, group.FOV), group.Tiles)
	var sink mosaic.Sink
	if req.WriteTiles {
		sink = writer
	}
	comp := mosaic.NewCompositor(log, sink)
	for _, c := range reg.Components {
		canvas, err := comp.Compose(ctx, group.Tiles, c, reg.Global)
		if err != nil {
			return err
		}
		if req.WriteCanvas {
			if err := writer.WriteCanvas(canvas); err != nil {
				return err
			}
		}
	}
	logging.LogProcessingStep(log, req.RunID, "composite", "completed", map[string]any{"group": gi, "components": len(reg.Components)})
	return nil
}

func writePlacements(path string, res MontageResult) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode placements: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write placements: %w", err)
	}
	return nil
}
