package mosaic

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"

	"automontage/internal/registration"
)

// CanvasName is the file name of a composited channel canvas.
const CanvasName = "full.tif"

// Writer persists layers and canvases under
// <root>/<component>/<channel>/ as deflate-compressed TIFF.
type Writer struct {
	root  string
	tiles []registration.Tile
}

// NewWriter returns a Writer rooted at dir. tiles supplies file names for layers.
func NewWriter(dir string, tiles []registration.Tile) *Writer {
	return &Writer{root: dir, tiles: tiles}
}

// Dir returns the output directory for one component channel.
func (w *Writer) Dir(comp int, ch registration.Channel) string {
	return filepath.Join(w.root, strconv.Itoa(comp), ch.String())
}

// WriteLayer stores a warped tile with its mask as the alpha channel.
func (w *Writer) WriteLayer(comp registration.Component, layer Layer) error {
	name := layerName(w.tiles, layer)
	return w.encode(filepath.Join(w.Dir(comp.ID, layer.Channel), name), withAlpha(layer.Image, layer.Mask))
}

// WriteCanvas stores every channel canvas of c.
func (w *Writer) WriteCanvas(c *Canvas) error {
	for _, ch := range registration.Channels() {
		img := c.Channels[ch]
		if img == nil {
			continue
		}
		if err := w.encode(filepath.Join(w.Dir(c.Component.ID, ch), CanvasName), img); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) encode(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true}); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

func layerName(tiles []registration.Tile, layer Layer) string {
	if layer.Tile < len(tiles) {
		if p := tiles[layer.Tile].Paths[layer.Channel]; p != "" {
			base := filepath.Base(p)
			return strings.TrimSuffix(base, filepath.Ext(base)) + ".tif"
		}
	}
	return fmt.Sprintf("tile_%04d.tif", layer.Tile)
}

// withAlpha packs a gray image and its mask into non-premultiplied RGBA.
func withAlpha(img, mask *image.Gray) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := img.GrayAt(x, y).Y
			out.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: mask.GrayAt(x, y).Y})
		}
	}
	return out
}
