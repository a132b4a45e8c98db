// Package mosaic warps registered tiles onto a shared canvas per component
// and channel, and writes the results as TIFF.
package mosaic

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"automontage/internal/registration"
)

// Layer is one tile warped into canvas coordinates for one channel.
type Layer struct {
	Tile    int
	Channel registration.Channel
	Image   *image.Gray
	// Mask is non-zero where the tile contributes.
	Mask *image.Gray
}

// Sink receives warped layers as they are produced, for example to write
// per-tile images.
type Sink interface {
	WriteLayer(comp registration.Component, layer Layer) error
}

// Canvas is the composited image set for one component.
type Canvas struct {
	Component registration.Component
	// Bounds are in the component root's pixel frame and may have a negative origin.
	Bounds   image.Rectangle
	Channels [registration.NumChannels]*image.Gray
}

// Bounds returns the integer canvas covering the centres of every member
// tile's corner pixels after translation: floor of the minimum and ceil of
// the maximum plus one on each axis.
func Bounds(tiles []registration.Tile, members []int, global []registration.Vec) (image.Rectangle, error) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, m := range members {
		w, h := tiles[m].Size()
		if w == 0 || h == 0 {
			return image.Rectangle{}, fmt.Errorf("tile %d has no pixels", m)
		}
		g := global[m]
		right, bottom := float64(w-1), float64(h-1)
		for _, c := range [4][2]float64{{0, 0}, {right, 0}, {0, bottom}, {right, bottom}} {
			x, y := c[0]+g.X, c[1]+g.Y
			minX, maxX = math.Min(minX, x), math.Max(maxX, x)
			minY, maxY = math.Min(minY, y), math.Max(maxY, y)
		}
	}
	if math.IsInf(minX, 1) {
		return image.Rectangle{}, fmt.Errorf("component has no members")
	}
	return image.Rect(
		int(math.Floor(minX)), int(math.Floor(minY)),
		int(math.Ceil(maxX))+1, int(math.Ceil(maxY))+1,
	), nil
}

// Warp translates src by offset onto a canvas covering bounds. The image is
// resampled with Catmull-Rom. The mask is a bilinearly warped opaque plane
// padded with a one-pixel zero border, so it falls off at the tile edges.
func Warp(src *image.Gray, offset registration.Vec, bounds image.Rectangle) (img, mask *image.Gray) {
	sb := src.Bounds()
	s2d := f64.Aff3{
		1, 0, offset.X - float64(sb.Min.X),
		0, 1, offset.Y - float64(sb.Min.Y),
	}
	img = image.NewGray(bounds)
	draw.CatmullRom.Transform(img, s2d, src, sb, draw.Src, nil)

	w, h := sb.Dx(), sb.Dy()
	plane := image.NewGray(image.Rect(-1, -1, w+1, h+1))
	for y := 0; y < h; y++ {
		off := plane.PixOffset(0, y)
		for x := 0; x < w; x++ {
			plane.Pix[off+x] = 0xff
		}
	}
	maskXform := f64.Aff3{1, 0, offset.X, 0, 1, offset.Y}
	mask = image.NewGray(bounds)
	draw.BiLinear.Transform(mask, maskXform, plane, plane.Bounds(), draw.Src, nil)
	return img, mask
}

// paint copies layer pixels wherever the mask is non-zero.
func paint(dst, layer, mask *image.Gray) {
	b := dst.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := dst.PixOffset(b.Min.X, y)
		for x := 0; x < b.Dx(); x++ {
			if mask.Pix[row+x] > 0 {
				dst.Pix[row+x] = layer.Pix[row+x]
			}
		}
	}
}

// Compositor builds canvases for registered components.
type Compositor struct {
	log  *slog.Logger
	sink Sink
}

// NewCompositor returns a compositor; sink may be nil.
func NewCompositor(logger *slog.Logger, sink Sink) *Compositor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compositor{log: logger, sink: sink}
}

// Compose warps every member of comp for every channel and paints them in
// ascending tile order, later tiles overwriting earlier ones.
func (c *Compositor) Compose(ctx context.Context, tiles []registration.Tile, comp registration.Component, global []registration.Vec) (*Canvas, error) {
	bounds, err := Bounds(tiles, comp.Members, global)
	if err != nil {
		return nil, fmt.Errorf("component %d: %w", comp.ID, err)
	}
	canvas := &Canvas{Component: comp, Bounds: bounds}
	for _, ch := range registration.Channels() {
		out := image.NewGray(bounds)
		for _, m := range comp.Members {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			src := tiles[m].Pixels[ch]
			if src == nil {
				continue
			}
			img, mask := Warp(src, global[m], bounds)
			paint(out, img, mask)
			if c.sink != nil {
				if err := c.sink.WriteLayer(comp, Layer{Tile: m, Channel: ch, Image: img, Mask: mask}); err != nil {
					return nil, fmt.Errorf("component %d tile %d %s: %w", comp.ID, m, ch, err)
				}
			}
		}
		canvas.Channels[ch] = out
	}
	c.log.Debug("component composited", "component", comp.ID, "tiles", len(comp.Members), "width", bounds.Dx(), "height", bounds.Dy())
	return canvas, nil
}
