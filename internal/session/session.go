package session

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"automontage/internal/features"
	"automontage/internal/registration"
)

// Group is the tile set for one field-of-view setting. Groups are montaged
// independently.
type Group struct {
	FOV    float64
	Movies []int
	Tiles  []registration.Tile
}

// Session is a fully loaded acquisition.
type Session struct {
	Manifest *Manifest
	Groups   []Group
}

// TileCount sums tiles over every group.
func (s *Session) TileCount() int {
	n := 0
	for _, g := range s.Groups {
		n += len(g.Tiles)
	}
	return n
}

// Loader assembles sessions from disk.
type Loader struct {
	Extractor features.Extractor
	Logger    *slog.Logger
	// Workers bounds concurrent tile decoding and extraction.
	Workers int
	// Decode defaults to LoadGray.
	Decode func(path string) (*image.Gray, error)
}

// Plan groups the manifest's files into tiles with nominal positions
// without reading pixels.
func (l *Loader) Plan(m *Manifest) (*Session, error) {
	log := l.logger()
	paths, err := ListTIFs(m.Directory)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no .tif files in %s", ErrMalformed, m.Directory)
	}
	triplets, err := GroupTriplets(paths, m.Naming)
	if err != nil {
		return nil, err
	}
	positions, err := ReadPositions(m.Positions, m.Eye, log)
	if err != nil {
		return nil, err
	}

	byFOV := map[float64]*Group{}
	for _, t := range triplets {
		pos, ok := positions[t.Movie]
		if !ok {
			log.Warn("movie has no position row, assuming centre", "movie", t.Movie)
		}
		g := byFOV[pos.FOV]
		if g == nil {
			g = &Group{FOV: pos.FOV}
			byFOV[pos.FOV] = g
		}
		g.Movies = append(g.Movies, t.Movie)
		g.Tiles = append(g.Tiles, registration.Tile{
			Index:   len(g.Tiles),
			Name:    fmt.Sprintf("%04d", t.Movie),
			Nominal: pos.Nominal,
			Paths:   t.Paths,
		})
	}

	s := &Session{Manifest: m}
	for _, g := range byFOV {
		s.Groups = append(s.Groups, *g)
	}
	sort.Slice(s.Groups, func(i, j int) bool { return s.Groups[i].FOV < s.Groups[j].FOV })
	log.Info("session planned", "name", m.Name, "tiles", len(triplets), "groups", len(s.Groups))
	return s, nil
}

// Load plans the session, then decodes every channel and extracts features.
func (l *Loader) Load(ctx context.Context, m *Manifest) (*Session, error) {
	s, err := l.Plan(m)
	if err != nil {
		return nil, err
	}
	if l.Extractor == nil {
		return nil, fmt.Errorf("session loader has no feature extractor")
	}
	decode := l.Decode
	if decode == nil {
		decode = LoadGray
	}
	workers := l.Workers
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for gi := range s.Groups {
		for ti := range s.Groups[gi].Tiles {
			tile := &s.Groups[gi].Tiles[ti]
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				return loadTile(tile, decode, l.Extractor)
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	l.logger().Info("session loaded", "name", m.Name, "tiles", s.TileCount())
	return s, nil
}

func loadTile(t *registration.Tile, decode func(string) (*image.Gray, error), ex features.Extractor) error {
	for _, ch := range registration.Channels() {
		img, err := decode(t.Paths[ch])
		if err != nil {
			return fmt.Errorf("%w: movie %s %s: %v", ErrMalformed, t.Name, ch, err)
		}
		set, err := ex.Extract(img)
		if err != nil {
			return fmt.Errorf("movie %s %s features: %w", t.Name, ch, err)
		}
		t.Pixels[ch] = img
		t.Features[ch] = set
	}
	return nil
}

func (l *Loader) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}
