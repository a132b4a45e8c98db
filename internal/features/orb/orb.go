// Package orb extracts ORB keypoints and binary descriptors through OpenCV.
package orb

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"automontage/internal/features"
)

// Defaults mirror the detector settings used for AO-SLO tiles.
const (
	DefaultMaxFeatures   = 5000
	DefaultScaleFactor   = 1.2
	DefaultLevels        = 8
	DefaultEdgeThreshold = 31
	DefaultPatchSize     = 31
	DefaultFastThreshold = 20
)

// Options configure the ORB detector.
type Options struct {
	MaxFeatures   int
	ScaleFactor   float32
	Levels        int
	EdgeThreshold int
	PatchSize     int
	FastThreshold int
}

// DefaultOptions returns the stock detector configuration.
func DefaultOptions() Options {
	return Options{
		MaxFeatures:   DefaultMaxFeatures,
		ScaleFactor:   DefaultScaleFactor,
		Levels:        DefaultLevels,
		EdgeThreshold: DefaultEdgeThreshold,
		PatchSize:     DefaultPatchSize,
		FastThreshold: DefaultFastThreshold,
	}
}

// Extractor implements features.Extractor. A gocv ORB handle is not safe
// for concurrent use, so each Extract call builds its own detector.
type Extractor struct {
	opts Options
}

// New returns an Extractor; zero-valued options fall back to defaults.
func New(opts Options) *Extractor {
	def := DefaultOptions()
	if opts.MaxFeatures <= 0 {
		opts.MaxFeatures = def.MaxFeatures
	}
	if opts.ScaleFactor <= 1 {
		opts.ScaleFactor = def.ScaleFactor
	}
	if opts.Levels <= 0 {
		opts.Levels = def.Levels
	}
	if opts.EdgeThreshold <= 0 {
		opts.EdgeThreshold = def.EdgeThreshold
	}
	if opts.PatchSize <= 0 {
		opts.PatchSize = def.PatchSize
	}
	if opts.FastThreshold <= 0 {
		opts.FastThreshold = def.FastThreshold
	}
	return &Extractor{opts: opts}
}

// Extract runs ORB detection and description on img.
func (e *Extractor) Extract(img *image.Gray) (features.Set, error) {
	if img == nil {
		return features.Set{}, fmt.Errorf("orb: nil image")
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return features.Set{}, nil
	}
	pix := make([]byte, 0, w*h)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.PixOffset(b.Min.X, y)
		pix = append(pix, img.Pix[off:off+w]...)
	}
	mat, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC1, pix)
	if err != nil {
		return features.Set{}, fmt.Errorf("orb: wrap image: %w", err)
	}
	defer mat.Close()

	detector := gocv.NewORBWithParams(
		e.opts.MaxFeatures,
		e.opts.ScaleFactor,
		e.opts.Levels,
		e.opts.EdgeThreshold,
		0,
		2,
		gocv.ORBScoreTypeHarris,
		e.opts.PatchSize,
		e.opts.FastThreshold,
	)
	defer detector.Close()

	mask := gocv.NewMat()
	defer mask.Close()

	kps, desc := detector.DetectAndCompute(mat, mask)
	defer desc.Close()
	return toSet(kps, desc), nil
}

func toSet(kps []gocv.KeyPoint, desc gocv.Mat) features.Set {
	rows, cols := desc.Rows(), desc.Cols()
	if desc.Empty() || rows == 0 || cols == 0 {
		return features.Set{}
	}
	raw := desc.ToBytes()
	n := min(rows, len(kps))
	set := features.Set{
		Keypoints:   make([]features.Point, n),
		Descriptors: make([]features.Descriptor, n),
	}
	for i := 0; i < n; i++ {
		set.Keypoints[i] = features.Point{X: kps[i].X, Y: kps[i].Y}
		d := make(features.Descriptor, cols)
		copy(d, raw[i*cols:(i+1)*cols])
		set.Descriptors[i] = d
	}
	return set
}
