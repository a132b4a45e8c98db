package session

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"golang.org/x/image/tiff"

	"automontage/internal/features"
	"automontage/internal/registration"
)

func writeSession(t *testing.T, dir string, movies map[string]string) {
	t.Helper()
	for movie := range movies {
		for _, tok := range []string{"confocal", "split_det", "avg"} {
			p := filepath.Join(dir, "s_"+tok+"_"+movie+".tif")
			if err := os.WriteFile(p, nil, 0o644); err != nil {
				t.Fatal(err)
			}
		}
	}
	csv := "movie,location,fov\n"
	for movie, row := range movies {
		csv += movie + "," + row + "\n"
	}
	if err := os.WriteFile(filepath.Join(dir, "positions.csv"), []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifestDefaultsAndPaths(t *testing.T) {
	dir := t.TempDir()
	yml := "positions: positions.csv\noutput: out\nregistration:\n  min_inliers: 4\n  auto_accept: 20\n"
	path := filepath.Join(dir, ManifestName)
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Directory != dir || m.Positions != filepath.Join(dir, "positions.csv") || m.Output != filepath.Join(dir, "out") {
		t.Fatalf("paths not resolved: %+v", m)
	}
	if m.Eye != EyeOS || m.Naming != DefaultNaming() {
		t.Fatalf("defaults not applied: %+v", m)
	}
	p := m.Registration.Apply(registration.DefaultParams())
	if p.MinInliers != 4 || p.AutoAccept != 20 || p.NomThresh != 7.0 {
		t.Fatalf("unexpected overrides %+v", p)
	}
}

func TestLoadManifestRejectsBadEye(t *testing.T) {
	path := filepath.Join(t.TempDir(), ManifestName)
	if err := os.WriteFile(path, []byte("positions: p.csv\neye: left\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadManifest(path); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected malformed error, got %v", err)
	}
}

func TestLoaderGroupsByFOV(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, map[string]string{
		"0001": "c,1.5",
		"0002": "1S,1.5",
		"0003": "trc,2",
	})
	m := &Manifest{Name: "s", Directory: dir, Positions: filepath.Join(dir, "positions.csv"), Eye: EyeOS, Naming: DefaultNaming()}

	var extracted atomic.Int64
	loader := &Loader{
		Workers: 3,
		Decode: func(string) (*image.Gray, error) {
			return image.NewGray(image.Rect(0, 0, 8, 8)), nil
		},
		Extractor: features.ExtractorFunc(func(*image.Gray) (features.Set, error) {
			extracted.Add(1)
			return features.Set{}, nil
		}),
	}
	s, err := loader.Load(context.Background(), m)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(s.Groups) != 2 || s.Groups[0].FOV != 1.5 || s.Groups[1].FOV != 2 {
		t.Fatalf("unexpected groups %+v", s.Groups)
	}
	g := s.Groups[0]
	if len(g.Tiles) != 2 || g.Tiles[1].Index != 1 || g.Tiles[1].Nominal != (registration.Vec{X: 1}) {
		t.Fatalf("unexpected tiles %+v", g.Tiles)
	}
	if extracted.Load() != 9 {
		t.Fatalf("expected 9 extractions, got %d", extracted.Load())
	}
	if w, h := g.Tiles[0].Size(); w != 8 || h != 8 {
		t.Fatalf("pixels not attached: %dx%d", w, h)
	}
}

func TestLoaderDecodeFailureIsMalformed(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, map[string]string{"0001": "c,1"})
	m := &Manifest{Name: "s", Directory: dir, Positions: filepath.Join(dir, "positions.csv"), Eye: EyeOS, Naming: DefaultNaming()}
	loader := &Loader{
		Decode:    func(string) (*image.Gray, error) { return nil, errors.New("truncated") },
		Extractor: features.ExtractorFunc(func(*image.Gray) (features.Set, error) { return features.Set{}, nil }),
	}
	if _, err := loader.Load(context.Background(), m); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected malformed error, got %v", err)
	}
}

func TestLoadGrayReadsTIFF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tile.tif")
	src := image.NewGray(image.Rect(0, 0, 5, 4))
	src.Pix[7] = 123
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := tiff.Encode(f, src, nil); err != nil {
		t.Fatal(err)
	}
	f.Close()

	img, err := LoadGray(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if img.Bounds() != src.Bounds() || img.Pix[7] != 123 {
		t.Fatalf("decoded image differs: %v", img.Bounds())
	}
}

func TestDiscoverSubjects(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"beta", "alpha"} {
		if err := os.MkdirAll(filepath.Join(root, name, ProcessedDir), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(root, name, "notes.xlsx"), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(root, "empty"), 0o755); err != nil {
		t.Fatal(err)
	}
	ms, err := DiscoverSubjects(root, "")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(ms) != 2 || ms[0].Name != "alpha" {
		t.Fatalf("unexpected subjects %+v", ms)
	}
	if ms[0].Eye != EyeOS || ms[0].Output != filepath.Join(root, "alpha", "montage") {
		t.Fatalf("unexpected manifest %+v", ms[0])
	}
	if err := ms[0].Validate(); err != nil {
		t.Fatalf("discovered manifest invalid: %v", err)
	}
}
